package chat_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/repository"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// mockGemini is a mock implementation of adapter.Gemini for testing
type mockGemini struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	prompts      []string
	configs      []*genai.GenerateContentConfig
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		m.prompts = append(m.prompts, contents[0].Parts[0].Text)
	}
	m.configs = append(m.configs, config)

	if m.generateFunc != nil {
		return m.generateFunc(ctx, contents, config)
	}
	return nil, errors.New("not implemented")
}

func answerWith(text string) func(context.Context, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: genai.NewContentFromText(text, genai.RoleModel)},
			},
		}, nil
	}
}

// Mock Storage
type mockStorage struct {
	data map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		data: make(map[string][]byte),
	}
}

func (m *mockStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &mockWriteCloser{
		Buffer:  &bytes.Buffer{},
		storage: m,
		key:     key,
	}, nil
}

type mockWriteCloser struct {
	*bytes.Buffer
	storage *mockStorage
	key     string
}

func (m *mockWriteCloser) Close() error {
	m.storage.data[m.key] = m.Buffer.Bytes()
	return nil
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, goerr.Wrap(adapter.ErrObjectNotFound, "data not found", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var blightScan = model.ScanContext{
	CropType: "Tomato",
	Disease:  "Early Blight",
	Status:   model.HealthStatusDefective,
	Position: model.Position{Row: 4, Col: 2},
}

func weightOf(s *chat.Session, id model.QuestionID) float64 {
	for _, q := range s.Ranking() {
		if q.ID == id {
			return q.Weight
		}
	}
	return -1
}

func TestWelcomeTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("with scan", func(t *testing.T) {
		s, err := chat.New(ctx, chat.NewInput{Scan: blightScan})
		gt.NoError(t, err)

		turns := s.Turns()
		gt.A(t, turns).Length(1)
		gt.Equal(t, turns[0].Role, model.RoleAssistant)
		gt.Equal(t, turns[0].Content, "Hello! I'm AGRO-TWIN, your AI agricultural expert. I'm here to help you with your Tomato that has been diagnosed with Early Blight. How can I assist you today?")
	})

	t.Run("without scan", func(t *testing.T) {
		s, err := chat.New(ctx, chat.NewInput{})
		gt.NoError(t, err)
		gt.S(t, s.Turns()[0].Content).Contains("help you with your crop that has been diagnosed with a condition.")
		gt.True(t, s.ID() != "")
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{generateFunc: answerWith("Use a copper-based fungicide.")}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Scan: blightScan})
	gt.NoError(t, err)

	reply, err := s.Send(ctx, "what pesticide should i use")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "Use a copper-based fungicide.")
	gt.False(t, reply.Fallback)
	gt.True(t, reply.Matched)
	gt.Equal(t, reply.Match.Question.ID, model.QuestionID("3"))
	gt.Number(t, weightOf(s, "3")).Greater(0.7)

	gt.A(t, gemini.prompts).Length(1)
	prompt := gemini.prompts[0]
	gt.S(t, prompt).Contains("Crop: Tomato")
	gt.S(t, prompt).Contains("Condition: Early Blight")
	gt.S(t, prompt).Contains("Status: DEFECTIVE")
	gt.S(t, prompt).Contains("AGRO-TWIN: Hello! I'm AGRO-TWIN")
	gt.True(t, strings.HasSuffix(prompt, "Farmer: what pesticide should i use\nAGRO-TWIN:"))

	config := gemini.configs[0]
	gt.Equal(t, *config.Temperature, float32(0.7))
	gt.Equal(t, config.MaxOutputTokens, int32(1024))
	gt.S(t, config.SystemInstruction.Parts[0].Text).Contains("You are AGRO-TWIN")

	turns := s.Turns()
	gt.A(t, turns).Length(3)
	gt.Equal(t, turns[1], model.Turn{Role: model.RoleUser, Content: "what pesticide should i use", CreatedAt: turns[1].CreatedAt})
	gt.Equal(t, turns[2].Content, "Use a copper-based fungicide.")
}

func TestSendUnknownScanFields(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{generateFunc: answerWith("ok")}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini})
	gt.NoError(t, err)
	_, err = s.Send(ctx, "hello")
	gt.NoError(t, err)

	gt.S(t, gemini.prompts[0]).Contains("Crop: Unknown\nCondition: Unknown\nStatus: Unknown")
}

func TestSendEmptyMessage(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{generateFunc: answerWith("never")}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini})
	gt.NoError(t, err)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := s.Send(ctx, msg)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, chat.ErrEmptyMessage))
	}
	gt.A(t, gemini.prompts).Length(0)
	gt.A(t, s.Turns()).Length(1)
}

func TestPromptQuotesLastThreeTurns(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{}
	answers := []string{"answer one", "answer two", "answer three"}
	gemini.generateFunc = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return answerWith(answers[len(gemini.prompts)-1])(ctx, contents, config)
	}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Scan: blightScan})
	gt.NoError(t, err)

	for _, msg := range []string{"first question", "second question", "third question"} {
		_, err := s.Send(ctx, msg)
		gt.NoError(t, err)
	}

	last := gemini.prompts[2]
	gt.S(t, last).NotContains("Hello! I'm AGRO-TWIN")
	gt.S(t, last).NotContains("first question")
	gt.S(t, last).Contains("AGRO-TWIN: answer one\nFarmer: second question\nAGRO-TWIN: answer two\n\nFarmer: third question\nAGRO-TWIN:")
}

func TestFallback(t *testing.T) {
	failing := func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return nil, goerr.New("quota exceeded")
	}

	testCases := []struct {
		name    string
		message string
		expect  string
	}{
		{"treat", "How do I TREAT this?", "**Immediate Action**"},
		{"cure", "is there a cure", "**Immediate Action**"},
		{"medicine", "which medicine works", "**Immediate Action**"},
		{"pesticide", "pesticide brand", "**Immediate Action**"},
		{"prevent", "how to prevent it next season", "**Preventive Measures:**"},
		{"avoid", "can I avoid this", "**Preventive Measures:**"},
		{"stop", "stop the spread", "**Preventive Measures:**"},
		{"treatment wins over prevention", "treat and prevent", "**Immediate Action**"},
		{"general", "tell me about the weather", "technical difficulties"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, err := chat.New(ctx, chat.NewInput{
				Gemini: &mockGemini{generateFunc: failing},
				Scan:   blightScan,
			})
			gt.NoError(t, err)

			reply, err := s.Send(ctx, tc.message)
			gt.NoError(t, err)
			gt.True(t, reply.Fallback)
			gt.S(t, reply.Text).Contains(tc.expect)

			turns := s.Turns()
			gt.A(t, turns).Length(3)
			gt.Equal(t, turns[2].Content, reply.Text)
		})
	}
}

func TestFallbackTextUsesScan(t *testing.T) {
	ctx := context.Background()

	s, err := chat.New(ctx, chat.NewInput{Scan: blightScan})
	gt.NoError(t, err)
	reply, err := s.Send(ctx, "how do i treat it")
	gt.NoError(t, err)
	gt.True(t, strings.HasPrefix(reply.Text, "Based on the Early Blight affecting your Tomato, I recommend:"))

	bare, err := chat.New(ctx, chat.NewInput{})
	gt.NoError(t, err)
	reply, err = bare.Send(ctx, "how to prevent it")
	gt.NoError(t, err)
	gt.True(t, strings.HasPrefix(reply.Text, "To prevent disease issues in your crops:"))
}

func TestNoGeneratorFallsBackQuietly(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("debug", &buf, logging.WithFormat(logging.FormatJSON))
	ctx := logging.With(context.Background(), logger)

	s, err := chat.New(ctx, chat.NewInput{Scan: blightScan})
	gt.NoError(t, err)

	for _, msg := range []string{"how do I treat it", "how do I prevent it"} {
		reply, err := s.Send(ctx, msg)
		gt.NoError(t, err)
		gt.True(t, reply.Fallback)
	}

	gt.S(t, buf.String()).Contains("no generator configured")
	gt.S(t, buf.String()).NotContains(`"level":"WARN"`)
}

func TestThoughtPartsAreNotAnswered(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: genai.NewContentFromParts([]*genai.Part{
					{Text: "The farmer wants a spray schedule.", Thought: true},
					genai.NewPartFromText("Spray in the early morning."),
				}, genai.RoleModel)},
			},
		}, nil
	}}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Scan: blightScan})
	gt.NoError(t, err)

	reply, err := s.Send(ctx, "when should I spray")
	gt.NoError(t, err)
	gt.False(t, reply.Fallback)
	gt.Equal(t, reply.Text, "Spray in the early morning.")
}

func TestFallbackOnEmptyAnswer(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{generateFunc: answerWith("   ")}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Scan: blightScan})
	gt.NoError(t, err)

	reply, err := s.Send(ctx, "anything")
	gt.NoError(t, err)
	gt.True(t, reply.Fallback)
}

func TestBankUpdatedWhenGeneratorFails(t *testing.T) {
	ctx := context.Background()
	s, err := chat.New(ctx, chat.NewInput{
		Gemini: &mockGemini{generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("network down")
		}},
	})
	gt.NoError(t, err)

	reply, err := s.Send(ctx, "Should I spray leaves or soil?")
	gt.NoError(t, err)
	gt.True(t, reply.Fallback)
	gt.True(t, reply.Matched)
	gt.Equal(t, weightOf(s, "8"), 0.55)
}

func TestSendBelowThreshold(t *testing.T) {
	ctx := context.Background()
	s, err := chat.New(ctx, chat.NewInput{Gemini: &mockGemini{generateFunc: answerWith("ok")}})
	gt.NoError(t, err)

	before := s.Ranking()
	reply, err := s.Send(ctx, "xyzabc nonsense query")
	gt.NoError(t, err)
	gt.False(t, reply.Matched)
	gt.V(t, reply.Match).NotNil()
	gt.Equal(t, s.Ranking(), before)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("known question", func(t *testing.T) {
		gemini := &mockGemini{generateFunc: answerWith("About 2 litres per acre.")}
		s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Scan: blightScan})
		gt.NoError(t, err)

		reply, err := s.Select(ctx, "5")
		gt.NoError(t, err)
		gt.Equal(t, reply.Text, "About 2 litres per acre.")
		gt.True(t, reply.Matched)
		gt.Equal(t, reply.Match.Question.ID, model.QuestionID("5"))

		// the question text is not matched again as free text
		gt.Equal(t, weightOf(s, "5"), 0.55)
		gt.True(t, strings.HasSuffix(gemini.prompts[0], "Farmer: What is the correct dosage per acre?\nAGRO-TWIN:"))
		gt.Equal(t, s.Turns()[1].Content, "What is the correct dosage per acre?")
	})

	t.Run("unknown question", func(t *testing.T) {
		gemini := &mockGemini{generateFunc: answerWith("never")}
		storage := newMockStorage()
		s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Storage: storage})
		gt.NoError(t, err)
		before := s.Ranking()

		_, err = s.Select(ctx, "9")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, questionbank.ErrQuestionNotFound))

		gt.Equal(t, s.Ranking(), before)
		gt.A(t, s.Turns()).Length(1)
		gt.A(t, gemini.prompts).Length(0)
		gt.Equal(t, len(storage.data), 0)
	})
}

func TestCatalogPersistence(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	gemini := &mockGemini{generateFunc: answerWith("ok")}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Storage: storage})
	gt.NoError(t, err)

	_, err = s.Select(ctx, "7")
	gt.NoError(t, err)
	gt.V(t, storage.data[s.ID().CatalogKey()]).NotNil()

	resumed, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Storage: storage, SessionID: s.ID()})
	gt.NoError(t, err)
	gt.Equal(t, resumed.Ranking(), s.Ranking())
	gt.Equal(t, weightOf(resumed, "7"), 0.55)
}

func TestMalformedCatalogFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	id := model.NewSessionID()
	storage.data[id.CatalogKey()] = []byte(`{"broken": true`)

	s, err := chat.New(ctx, chat.NewInput{Storage: storage, SessionID: id})
	gt.NoError(t, err)
	gt.Equal(t, s.Ranking(), model.DefaultQuestions())
}

func TestRestoreAndReset(t *testing.T) {
	ctx := context.Background()
	s, err := chat.New(ctx, chat.NewInput{})
	gt.NoError(t, err)

	gt.NoError(t, s.Restore([]byte(`[{"id":"a","text":"Custom","weight":0.3,"category":"Mine"}]`)))
	gt.A(t, s.Ranking()).Length(1)
	gt.Equal(t, s.Groups()[0].Category, "Mine")

	gt.Error(t, s.Restore([]byte(`[]`)))
	gt.Equal(t, s.Ranking(), model.DefaultQuestions())

	_, err = s.Select(ctx, "1")
	gt.NoError(t, err)
	s.Reset()
	gt.Equal(t, s.Ranking(), model.DefaultQuestions())
}

func TestSaveAndResume(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	repo := repository.NewMemory()
	gemini := &mockGemini{generateFunc: answerWith("Water at the base of the plant.")}

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Storage: storage, Repo: repo, Scan: blightScan})
	gt.NoError(t, err)
	_, err = s.Send(ctx, "should i spray leaves or soil")
	gt.NoError(t, err)
	gt.NoError(t, s.Save(ctx))

	record, err := repo.GetSession(ctx, s.ID())
	gt.NoError(t, err)
	gt.Equal(t, record.Scan, blightScan)

	// scan comes from the stored record and the transcript is continued
	resumed, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Storage: storage, Repo: repo, SessionID: s.ID()})
	gt.NoError(t, err)
	gt.Equal(t, resumed.Scan(), blightScan)
	gt.A(t, resumed.Turns()).Length(3)
	gt.Equal(t, resumed.Turns()[2].Content, "Water at the base of the plant.")
	gt.Equal(t, resumed.Ranking(), s.Ranking())

	gt.NoError(t, resumed.Save(ctx))
	again, err := repo.GetSession(ctx, s.ID())
	gt.NoError(t, err)
	gt.True(t, again.CreatedAt.Equal(record.CreatedAt))
}

func TestResumeKeepsScanInStorage(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	openRepo := func() repository.Repository {
		repo, err := repository.NewObject(storage)
		gt.NoError(t, err)
		return repo
	}

	maize := model.ScanContext{CropType: "Maize", Disease: "Rust", Status: model.HealthStatusDefective}
	s, err := chat.New(ctx, chat.NewInput{Storage: storage, Repo: openRepo(), Scan: maize})
	gt.NoError(t, err)
	_, err = s.Send(ctx, "what pesticide should i use")
	gt.NoError(t, err)
	gt.NoError(t, s.Save(ctx))

	// nothing is shared but the storage, as between two CLI runs
	resumed, err := chat.New(ctx, chat.NewInput{Storage: storage, Repo: openRepo(), SessionID: s.ID()})
	gt.NoError(t, err)
	gt.Equal(t, resumed.Scan(), maize)
	gt.A(t, resumed.Turns()).Length(3)

	reply, err := resumed.Send(ctx, "how do I treat it")
	gt.NoError(t, err)
	gt.True(t, reply.Fallback)
	gt.S(t, reply.Text).Contains("Maize")
	gt.S(t, reply.Text).Contains("Rust")
}

func TestChatSession_RealGemini(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT not set, skipping integration test")
	}

	ctx := context.Background()
	gemini, err := adapter.NewGemini(ctx, projectID, os.Getenv("TEST_GEMINI_LOCATION"))
	gt.NoError(t, err)

	s, err := chat.New(ctx, chat.NewInput{Gemini: gemini, Scan: blightScan})
	gt.NoError(t, err)

	reply, err := s.Send(ctx, "What pesticide should I use?")
	gt.NoError(t, err)
	gt.False(t, reply.Fallback)
	gt.True(t, reply.Text != "")
	t.Log(reply.Text)
}
