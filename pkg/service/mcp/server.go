package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "agrotwin"
	serverVersion = "0.1.0"
)

// Server exposes the question ranking of stored sessions as MCP tools.
// Every call loads the session catalog from storage and writes it back after
// an update.
type Server struct {
	storage  adapter.Storage
	bankOpts []questionbank.Option

	// mu serializes load-update-save cycles on storage
	mu     sync.Mutex
	server *mcp.Server
}

type sessionParams struct {
	SessionID string `json:"session_id" jsonschema:"ID of the chat session"`
}

type selectParams struct {
	SessionID  string `json:"session_id" jsonschema:"ID of the chat session"`
	QuestionID string `json:"question_id" jsonschema:"ID of the question the farmer picked"`
}

type matchParams struct {
	SessionID string `json:"session_id" jsonschema:"ID of the chat session"`
	Text      string `json:"text" jsonschema:"Free text typed by the farmer"`
}

type listResult struct {
	Groups []questionbank.Group `json:"groups"`
}

type selectResult struct {
	Question model.Question `json:"question"`
}

type matchResult struct {
	Match   *questionbank.Match `json:"match"`
	Updated bool                `json:"updated"`
}

func New(storage adapter.Storage, opts ...questionbank.Option) (*Server, error) {
	if storage == nil {
		return nil, goerr.New("storage is required for MCP server")
	}

	s := &Server{
		storage:  storage,
		bankOpts: opts,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_questions",
		Description: "List the suggested questions of a chat session, grouped by category, most relevant first",
	}, s.listQuestions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "select_question",
		Description: "Record that the farmer picked a suggested question; raises its rank",
	}, s.selectQuestion)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "match_question",
		Description: "Match free text against the suggested questions; a close match raises that question's rank",
	}, s.matchQuestion)

	return s, nil
}

// RunStdio serves a single client on stdin/stdout until ctx is cancelled
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP stdio server failed")
	}
	return nil
}

// Handler serves the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func (s *Server) withBank(ctx context.Context, id string, save bool, fn func(bank *questionbank.Bank) error) error {
	if id == "" {
		return goerr.New("session_id is required")
	}
	sessionID := model.SessionID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	bank, err := chat.LoadCatalog(ctx, s.storage, sessionID, s.bankOpts...)
	if err != nil {
		return err
	}

	if err := fn(bank); err != nil {
		return err
	}

	if save {
		return chat.SaveCatalog(ctx, s.storage, sessionID, bank)
	}
	return nil
}

func textResult(ctx context.Context, v any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		logging.From(ctx).Warn("MCP tool call failed", "error", err)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

func (s *Server) listQuestions(ctx context.Context, req *mcp.CallToolRequest, params *sessionParams) (*mcp.CallToolResult, any, error) {
	var out listResult
	err := s.withBank(ctx, params.SessionID, false, func(bank *questionbank.Bank) error {
		out.Groups = bank.Groups()
		return nil
	})
	return textResult(ctx, out, err)
}

func (s *Server) selectQuestion(ctx context.Context, req *mcp.CallToolRequest, params *selectParams) (*mcp.CallToolResult, any, error) {
	var out selectResult
	err := s.withBank(ctx, params.SessionID, true, func(bank *questionbank.Bank) error {
		q, err := bank.RecordExplicitSelection(model.QuestionID(params.QuestionID))
		if err != nil {
			return err
		}
		out.Question = q
		return nil
	})
	return textResult(ctx, out, err)
}

func (s *Server) matchQuestion(ctx context.Context, req *mcp.CallToolRequest, params *matchParams) (*mcp.CallToolResult, any, error) {
	var out matchResult
	err := s.withBank(ctx, params.SessionID, true, func(bank *questionbank.Bank) error {
		out.Match, out.Updated = bank.RecordFreeText(params.Text)
		return nil
	})
	return textResult(ctx, out, err)
}
