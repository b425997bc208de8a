package server

import (
	"errors"
	"strings"
	"time"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const emptyAnswerText = "I apologize, but I encountered an error while generating a response."

type chatRequest struct {
	Prompt   string       `json:"prompt"`
	Messages []model.Turn `json:"messages"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

type createSessionRequest struct {
	Scan model.ScanContext `json:"scan"`
}

type sessionView struct {
	ID     model.SessionID      `json:"id"`
	Scan   model.ScanContext    `json:"scan"`
	Turns  []model.Turn         `json:"turns"`
	Groups []questionbank.Group `json:"groups"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type replyView struct {
	*chat.Reply
	Groups []questionbank.Group `json:"groups"`
}

type restoreView struct {
	Restored bool                 `json:"restored"`
	Error    string               `json:"error,omitempty"`
	Groups   []questionbank.Group `json:"groups"`
}

func newSessionView(session *chat.Session) sessionView {
	return sessionView{
		ID:     session.ID(),
		Scan:   session.Scan(),
		Turns:  session.Turns(),
		Groups: session.Groups(),
	}
}

// sessionID copies the route id, which aliases the request buffer, so it can
// be kept in the live session table
func sessionID(c *fiber.Ctx) model.SessionID {
	return model.SessionID(utils.CopyString(c.Params("id")))
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

// handleChat forwards an assembled prompt to the generator. The recent
// messages are accepted for compatibility but the prompt already quotes them.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Prompt is required"})
	}

	ctx := c.UserContext()
	logging.From(ctx).Debug("generating answer", "recent_messages", len(req.Messages))

	text, err := chat.Complete(ctx, s.gemini, req.Prompt)
	if err != nil {
		if !errors.Is(err, chat.ErrEmptyAnswer) {
			logging.From(ctx).Error("failed to generate response", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to generate response: " + err.Error(),
			})
		}
		text = emptyAnswerText
	}

	return c.JSON(chatResponse{
		Response:  text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
	}
	if req.Scan.Status != "" {
		if err := req.Scan.Status.Validate(); err != nil {
			return badRequest(err.Error())
		}
	}

	ls, err := s.newSession(c.UserContext(), req.Scan)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(newSessionView(ls.session))
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	ls, err := s.lookup(c.UserContext(), sessionID(c))
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return c.JSON(newSessionView(ls.session))
}

func (s *Server) handleGetQuestions(c *fiber.Ctx) error {
	ls, err := s.lookup(c.UserContext(), sessionID(c))
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return c.JSON(fiber.Map{"groups": ls.session.Groups()})
}

// handleRestoreQuestions installs a catalog snapshot from the raw body. A
// malformed snapshot is not an HTTP error: the default catalog is installed
// and reported with restored=false.
func (s *Server) handleRestoreQuestions(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ls, err := s.lookup(ctx, sessionID(c))
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	view := restoreView{Restored: true}
	if err := ls.session.Restore(c.Body()); err != nil {
		logging.From(ctx).Warn("malformed catalog, default installed", "error", err)
		view.Restored = false
		view.Error = err.Error()
	}
	persist(ctx, ls.session)

	view.Groups = ls.session.Groups()
	return c.JSON(view)
}

func (s *Server) handleSelectQuestion(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ls, err := s.lookup(ctx, sessionID(c))
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	reply, err := ls.session.Select(ctx, model.QuestionID(utils.CopyString(c.Params("qid"))))
	if err != nil {
		return err
	}
	persist(ctx, ls.session)

	return c.JSON(replyView{Reply: reply, Groups: ls.session.Groups()})
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return badRequest("message is required")
	}

	ctx := c.UserContext()
	ls, err := s.lookup(ctx, sessionID(c))
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	reply, err := ls.session.Send(ctx, req.Message)
	if err != nil {
		return err
	}
	persist(ctx, ls.session)

	return c.JSON(replyView{Reply: reply, Groups: ls.session.Groups()})
}
