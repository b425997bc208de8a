// Package server exposes chat sessions and the question ranking over HTTP.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/repository"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/patrickmn/go-cache"
)

const (
	sessionTTL      = time.Hour
	cleanupInterval = 10 * time.Minute
)

type Server struct {
	app *fiber.App

	gemini   adapter.Gemini
	storage  adapter.Storage
	repo     repository.Repository
	bankOpts []questionbank.Option

	// live holds *liveSession by session id
	live   *cache.Cache
	liveMu sync.Mutex
}

// liveSession serializes requests for one conversation
type liveSession struct {
	mu      sync.Mutex
	session *chat.Session
}

type Option func(*Server)

func WithGemini(gemini adapter.Gemini) Option {
	return func(s *Server) { s.gemini = gemini }
}

func WithStorage(storage adapter.Storage) Option {
	return func(s *Server) { s.storage = storage }
}

func WithRepository(repo repository.Repository) Option {
	return func(s *Server) { s.repo = repo }
}

func WithBankOptions(opts ...questionbank.Option) Option {
	return func(s *Server) { s.bankOpts = opts }
}

func New(opts ...Option) *Server {
	s := &Server{
		live: cache.New(sessionTTL, cleanupInterval),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.repo == nil {
		s.repo = repository.NewMemory()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(requestLogger)

	api := app.Group("/api")
	api.Post("/chat", s.handleChat)
	api.Post("/sessions", s.handleCreateSession)

	sessions := api.Group("/sessions")
	sessions.Get("/:id", s.handleGetSession)
	sessions.Get("/:id/questions", s.handleGetQuestions)
	sessions.Put("/:id/questions", s.handleRestoreQuestions)
	sessions.Post("/:id/questions/:qid", s.handleSelectQuestion)
	sessions.Post("/:id/messages", s.handleSendMessage)

	s.app = app
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until ctx is cancelled
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()

	logging.From(ctx).Info("HTTP server started", "addr", addr)

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "HTTP server stopped", goerr.V("addr", addr))
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown HTTP server")
		}
		logging.From(ctx).Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) newSession(ctx context.Context, scan model.ScanContext) (*liveSession, error) {
	session, err := chat.New(ctx, chat.NewInput{
		Gemini:      s.gemini,
		Storage:     s.storage,
		Repo:        s.repo,
		Scan:        scan,
		BankOptions: s.bankOpts,
	})
	if err != nil {
		return nil, err
	}

	if err := session.Save(ctx); err != nil {
		return nil, err
	}

	ls := &liveSession{session: session}
	s.live.Set(string(session.ID()), ls, cache.DefaultExpiration)
	return ls, nil
}

// lookup returns the live session for id, reloading it from the repository
// when it has expired from memory
func (s *Server) lookup(ctx context.Context, id model.SessionID) (*liveSession, error) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if v, ok := s.live.Get(string(id)); ok {
		ls := v.(*liveSession)
		s.live.Set(string(id), ls, cache.DefaultExpiration)
		return ls, nil
	}

	if _, err := s.repo.GetSession(ctx, id); err != nil {
		return nil, err
	}

	session, err := chat.New(ctx, chat.NewInput{
		Gemini:      s.gemini,
		Storage:     s.storage,
		Repo:        s.repo,
		SessionID:   id,
		BankOptions: s.bankOpts,
	})
	if err != nil {
		return nil, err
	}

	ls := &liveSession{session: session}
	s.live.Set(string(id), ls, cache.DefaultExpiration)
	return ls, nil
}

// persist saves the session after an interaction; failures are only logged
func persist(ctx context.Context, session *chat.Session) {
	if err := session.Save(ctx); err != nil {
		logging.From(ctx).Warn("failed to save session", "session_id", session.ID(), "error", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, questionbank.ErrQuestionNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage):
		code = fiber.StatusBadRequest
	}

	if code >= fiber.StatusInternalServerError {
		logging.From(c.UserContext()).Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err)
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	logger := logging.From(c.UserContext()).With("request_id", uuid.NewString())
	c.SetUserContext(logging.With(c.UserContext(), logger))

	err := c.Next()

	logger.Debug("request handled",
		"method", c.Method(),
		"path", c.Path(),
		"failed", err != nil,
		"duration", time.Since(start))
	return err
}
