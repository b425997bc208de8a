package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/repository"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Session is one farmer conversation about one scanned plot. It owns the
// question bank of the conversation. A Session is not safe for concurrent use.
type Session struct {
	gemini  adapter.Gemini
	storage adapter.Storage
	repo    repository.Repository

	id        model.SessionID
	scan      model.ScanContext
	createdAt time.Time
	bank      *questionbank.Bank
	turns     []model.Turn
}

// NewInput contains parameters for creating a chat session. Gemini, Storage
// and Repo are optional: without Gemini every answer is a fallback, without
// Storage and Repo nothing is persisted.
type NewInput struct {
	Gemini  adapter.Gemini
	Storage adapter.Storage
	Repo    repository.Repository

	// SessionID continues a stored conversation. Empty starts a new one.
	SessionID model.SessionID
	// Scan is the plot under discussion. Zero value with a SessionID means the
	// scan is taken from the stored session record.
	Scan model.ScanContext

	BankOptions []questionbank.Option
}

// Reply is the assistant's answer to one interaction
type Reply struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
	// Match is the closest catalog question. nil only for an empty catalog.
	Match *questionbank.Match `json:"match,omitempty"`
	// Matched reports whether the interaction reinforced a question
	Matched bool `json:"matched"`
}

func New(ctx context.Context, input NewInput) (*Session, error) {
	s := &Session{
		gemini:    input.Gemini,
		storage:   input.Storage,
		repo:      input.Repo,
		id:        input.SessionID,
		scan:      input.Scan,
		createdAt: time.Now(),
	}
	if s.id == "" {
		s.id = model.NewSessionID()
	}
	ctx = logging.WithSession(ctx, s.id)

	if input.SessionID != "" && s.repo != nil {
		record, err := s.repo.GetSession(ctx, s.id)
		switch {
		case err == nil:
			s.createdAt = record.CreatedAt
			if s.scan == (model.ScanContext{}) {
				s.scan = record.Scan
			}
		case errors.Is(err, repository.ErrSessionNotFound):
			logging.From(ctx).Debug("no session record, starting a new one")
		default:
			return nil, goerr.Wrap(err, "failed to get session record")
		}
	}

	bank, err := LoadCatalog(ctx, s.storage, s.id, input.BankOptions...)
	if err != nil {
		return nil, err
	}
	s.bank = bank

	if input.SessionID != "" && s.storage != nil {
		turns, err := loadTranscript(ctx, s.storage, s.id)
		if err != nil {
			logging.From(ctx).Warn("failed to load transcript, starting over", "error", err)
		}
		s.turns = turns
	}

	if len(s.turns) == 0 {
		welcome, err := welcomeMessage(s.scan)
		if err != nil {
			return nil, err
		}
		s.append(model.RoleAssistant, welcome)
	}

	return s, nil
}

func (s *Session) ID() model.SessionID     { return s.id }
func (s *Session) Scan() model.ScanContext { return s.scan }

// Turns returns a copy of the conversation so far, oldest first
func (s *Session) Turns() []model.Turn {
	return slices.Clone(s.turns)
}

func (s *Session) Ranking() []model.Question {
	return s.bank.CurrentRanking()
}

func (s *Session) Groups() []questionbank.Group {
	return s.bank.Groups()
}

// Restore installs a catalog snapshot. On malformed input the default catalog
// is installed and the parse error is returned.
func (s *Session) Restore(data []byte) error {
	return s.bank.Restore(data)
}

// Reset reinstalls the default catalog
func (s *Session) Reset() {
	s.bank.Initialize(nil)
}

// Send answers a free-text message. The message is matched against the
// catalog before the generator is called, so the ranking learns even when
// generation fails.
func (s *Session) Send(ctx context.Context, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, goerr.Wrap(ErrEmptyMessage, "cannot send message")
	}
	ctx = logging.WithSession(ctx, s.id)

	match, matched := s.bank.RecordFreeText(message)
	if match != nil {
		logging.From(ctx).Debug("matched free text",
			"question_id", match.Question.ID,
			"score", match.Score,
			"updated", matched)
	}

	reply, err := s.answer(ctx, message)
	if err != nil {
		return nil, err
	}
	reply.Match = match
	reply.Matched = matched

	return reply, nil
}

// Select answers a clicked question. An unknown id is returned as
// questionbank.ErrQuestionNotFound and nothing else happens.
func (s *Session) Select(ctx context.Context, id model.QuestionID) (*Reply, error) {
	ctx = logging.WithSession(ctx, s.id)

	q, err := s.bank.RecordExplicitSelection(id)
	if err != nil {
		return nil, err
	}

	reply, err := s.answer(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	reply.Match = &questionbank.Match{Question: q, Score: 1}
	reply.Matched = true

	return reply, nil
}

func (s *Session) answer(ctx context.Context, message string) (*Reply, error) {
	prompt, err := buildPrompt(s.scan, s.turns, message)
	if err != nil {
		return nil, err
	}

	reply := &Reply{}
	if s.gemini == nil {
		logging.From(ctx).Debug("no generator configured, using fallback answer")
		reply.Fallback = true
	} else if reply.Text, err = Complete(ctx, s.gemini, prompt); err != nil {
		logging.From(ctx).Warn("generator failed, using fallback answer", "error", err)
		reply.Fallback = true
	}

	if reply.Fallback {
		if reply.Text, err = fallbackReply(s.scan, message); err != nil {
			return nil, err
		}
	}

	s.append(model.RoleUser, message)
	s.append(model.RoleAssistant, reply.Text)

	if s.storage != nil {
		if err := SaveCatalog(ctx, s.storage, s.id, s.bank); err != nil {
			logging.From(ctx).Warn("failed to persist question catalog", "error", err)
		}
	}

	return reply, nil
}

func (s *Session) append(role model.Role, content string) {
	s.turns = append(s.turns, model.Turn{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

// Save persists the catalog, the transcript and the session record. Missing
// backends are skipped.
func (s *Session) Save(ctx context.Context) error {
	if s.storage != nil {
		if err := SaveCatalog(ctx, s.storage, s.id, s.bank); err != nil {
			return err
		}
		if err := saveTranscript(ctx, s.storage, s.id, s.turns); err != nil {
			return err
		}
	}

	if s.repo != nil {
		record := &model.Session{
			ID:        s.id,
			Scan:      s.scan,
			CreatedAt: s.createdAt,
			UpdatedAt: time.Now(),
		}
		if err := s.repo.PutSession(ctx, record); err != nil {
			return goerr.Wrap(err, "failed to put session record", goerr.V("session_id", s.id))
		}
	}

	return nil
}
