package questionbank

import (
	"encoding/json"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Snapshot serializes the current ranking as a JSON list of
// {id, text, weight, category} records
func (b *Bank) Snapshot() ([]byte, error) {
	data, err := json.Marshal(b.questions)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal question catalog")
	}
	return data, nil
}

// Restore replaces the catalog with a previously saved snapshot. Malformed
// input never fails the session: the default catalog is installed instead and
// the parse error is returned for logging.
func (b *Bank) Restore(data []byte) error {
	seed, err := ParseCatalog(data)
	if err != nil {
		b.Initialize(nil)
		return err
	}

	b.Initialize(seed)
	return nil
}

// ParseCatalog decodes and validates a catalog snapshot
func ParseCatalog(data []byte) ([]model.Question, error) {
	var questions []model.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal question catalog")
	}

	if len(questions) == 0 {
		return nil, goerr.New("question catalog is empty")
	}

	seen := make(map[model.QuestionID]bool, len(questions))
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid question in catalog", goerr.V("index", i))
		}
		if seen[questions[i].ID] {
			return nil, goerr.New("duplicated question id in catalog", goerr.V("id", questions[i].ID))
		}
		seen[questions[i].ID] = true
	}

	return questions, nil
}
