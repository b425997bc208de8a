package chat

import (
	"bytes"
	"context"
	"embed"
	"strings"
	"text/template"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// ContextTurns is how many previous turns are quoted in a prompt
const ContextTurns = 3

const (
	temperature     = 0.7
	maxOutputTokens = 1024
)

var (
	ErrEmptyMessage = goerr.New("message is empty")
	ErrEmptyAnswer  = goerr.New("generator returned no text")
	ErrNoGenerator  = goerr.New("text generator is not configured")
)

//go:embed prompt/*.md
var promptFS embed.FS

var promptTmpl = template.Must(template.ParseFS(promptFS, "prompt/*.md"))

type recentTurn struct {
	Speaker string
	Content string
}

func speaker(role model.Role) string {
	if role == model.RoleUser {
		return "Farmer"
	}
	return "AGRO-TWIN"
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute prompt template", goerr.V("template", name))
	}
	return strings.TrimSpace(buf.String()), nil
}

// buildPrompt assembles the CAG prompt. history holds the turns before message.
func buildPrompt(scan model.ScanContext, history []model.Turn, message string) (string, error) {
	recent := history[max(len(history)-ContextTurns, 0):]

	turns := make([]recentTurn, len(recent))
	for i, t := range recent {
		turns[i] = recentTurn{Speaker: speaker(t.Role), Content: t.Content}
	}

	return render("cag.md", map[string]any{
		"Scan":    scan,
		"Recent":  turns,
		"Message": message,
	})
}

func welcomeMessage(scan model.ScanContext) (string, error) {
	return render("welcome.md", scan)
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// fallbackReply picks a canned answer by keyword. Keywords match as
// substrings, so "untreated" hits "treat".
func fallbackReply(scan model.ScanContext, message string) (string, error) {
	input := strings.ToLower(message)

	name := "fallback_general.md"
	switch {
	case containsAny(input, "treat", "cure", "medicine", "pesticide"):
		name = "fallback_treatment.md"
	case containsAny(input, "prevent", "avoid", "stop"):
		name = "fallback_prevention.md"
	}

	return render(name, scan)
}

// Complete sends an assembled prompt to the generator under the AGRO-TWIN
// persona and returns the answer text. An empty answer is an error.
func Complete(ctx context.Context, gemini adapter.Gemini, prompt string) (string, error) {
	if gemini == nil {
		return "", goerr.Wrap(ErrNoGenerator, "cannot complete prompt")
	}

	system, err := render("system.md", nil)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, ""),
		Temperature:       genai.Ptr[float32](temperature),
		MaxOutputTokens:   maxOutputTokens,
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate answer")
	}

	var text string
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return "", goerr.Wrap(ErrEmptyAnswer, "no answer text in response")
	}

	return text, nil
}
