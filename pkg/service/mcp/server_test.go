package mcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/mcp"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func connect(t *testing.T, storage adapter.Storage) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv, err := mcp.New(storage)
	gt.NoError(t, err)

	testServer := httptest.NewServer(srv.Handler())
	t.Cleanup(testServer.Close)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: testServer.URL}, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func call(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) (*mcpsdk.CallToolResult, string) {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return result, text.Text
}

func TestListTools(t *testing.T) {
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	session := connect(t, storage)

	tools, err := session.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	gt.True(t, names["list_questions"])
	gt.True(t, names["select_question"])
	gt.True(t, names["match_question"])
}

func TestToolRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	session := connect(t, storage)
	id := string(model.NewSessionID())

	t.Run("list default catalog", func(t *testing.T) {
		result, text := call(t, session, "list_questions", map[string]any{"session_id": id})
		gt.False(t, result.IsError)

		var out struct {
			Groups []struct {
				Category string `json:"category"`
			} `json:"groups"`
		}
		gt.NoError(t, json.Unmarshal([]byte(text), &out))
		gt.A(t, out.Groups).Length(4)
		gt.Equal(t, out.Groups[0].Category, "Core Questions")
	})

	t.Run("select raises weight", func(t *testing.T) {
		result, text := call(t, session, "select_question", map[string]any{"session_id": id, "question_id": "6"})
		gt.False(t, result.IsError)

		var out struct {
			Question model.Question `json:"question"`
		}
		gt.NoError(t, json.Unmarshal([]byte(text), &out))
		gt.Equal(t, out.Question.ID, model.QuestionID("6"))
		gt.Equal(t, out.Question.Weight, 0.55)
	})

	t.Run("match above threshold", func(t *testing.T) {
		result, text := call(t, session, "match_question", map[string]any{"session_id": id, "text": "will using more damage the crop"})
		gt.False(t, result.IsError)
		gt.S(t, text).Contains(`"updated":true`)
	})

	t.Run("unknown question is a tool error", func(t *testing.T) {
		result, text := call(t, session, "select_question", map[string]any{"session_id": id, "question_id": "9"})
		gt.True(t, result.IsError)
		gt.S(t, text).Contains("question not found")
	})

	// updates were written back to storage
	bank, err := chat.LoadCatalog(ctx, storage, model.SessionID(id))
	gt.NoError(t, err)
	for _, q := range bank.CurrentRanking() {
		if q.ID == "6" {
			gt.Number(t, q.Weight).Greater(0.55)
		}
	}
}

func TestMissingSessionID(t *testing.T) {
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	session := connect(t, storage)

	result, _ := call(t, session, "list_questions", map[string]any{"session_id": ""})
	gt.True(t, result.IsError)
}

func TestNewRequiresStorage(t *testing.T) {
	_, err := mcp.New(nil)
	gt.Error(t, err)
}
