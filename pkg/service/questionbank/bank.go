// Package questionbank keeps a session's ranked list of suggested questions
// and reinforces the ones the farmer asks.
package questionbank

import (
	"slices"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/similarity"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultLearningRate   = 0.1
	DefaultMatchThreshold = 0.8
)

var ErrQuestionNotFound = goerr.New("question not found")

// Bank owns the question catalog of one chat session. It is not safe for
// concurrent use; the owner serializes access.
type Bank struct {
	questions      []model.Question
	learningRate   float64
	matchThreshold float64
}

// Option is a functional option for Bank
type Option func(*Bank)

// WithLearningRate sets the step size of the weight update. Values outside
// (0, 1] are ignored.
func WithLearningRate(rate float64) Option {
	return func(b *Bank) {
		if rate > 0 && rate <= 1 {
			b.learningRate = rate
		}
	}
}

// WithMatchThreshold sets the minimum similarity score for free text to count
// as a selection
func WithMatchThreshold(threshold float64) Option {
	return func(b *Bank) {
		b.matchThreshold = threshold
	}
}

// New creates a Bank seeded with the default catalog
func New(opts ...Option) *Bank {
	b := &Bank{
		learningRate:   DefaultLearningRate,
		matchThreshold: DefaultMatchThreshold,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.Initialize(nil)
	return b
}

// Initialize replaces the catalog. An empty seed selects the default catalog;
// otherwise the seed is adopted as given.
func (b *Bank) Initialize(seed []model.Question) {
	if len(seed) == 0 {
		seed = model.DefaultQuestions()
	}

	b.questions = slices.Clone(seed)
	b.sort()
}

// LearningRate returns the configured step size
func (b *Bank) LearningRate() float64 {
	return b.learningRate
}

// MatchThreshold returns the configured similarity threshold
func (b *Bank) MatchThreshold() float64 {
	return b.matchThreshold
}

// RecordExplicitSelection reinforces the question with the given id and
// re-ranks the catalog. The catalog is left untouched if the id is unknown.
func (b *Bank) RecordExplicitSelection(id model.QuestionID) (model.Question, error) {
	idx := slices.IndexFunc(b.questions, func(q model.Question) bool {
		return q.ID == id
	})
	if idx < 0 {
		return model.Question{}, goerr.Wrap(ErrQuestionNotFound, "cannot record selection", goerr.V("question_id", id))
	}

	q := &b.questions[idx]
	q.Weight = reinforce(q.Weight, b.learningRate)
	updated := *q

	b.sort()
	return updated, nil
}

// Match is the best catalog entry for a piece of free text
type Match struct {
	Question model.Question `json:"question"`
	Score    float64        `json:"score"`
}

// RecordFreeText matches input against the catalog and, when the best score
// reaches the threshold, records it as a selection. The returned bool reports
// whether the catalog was updated. The match is returned even when it is
// below the threshold; it is nil only for an empty catalog.
func (b *Bank) RecordFreeText(input string) (*Match, bool) {
	q, score := similarity.BestMatch(input, b.questions)
	if q == nil {
		return nil, false
	}

	match := &Match{Question: *q, Score: score}
	if score < b.matchThreshold {
		return match, false
	}

	updated, err := b.RecordExplicitSelection(q.ID)
	if err != nil {
		// q was taken from the catalog a moment ago
		return match, false
	}
	match.Question = updated

	return match, true
}

// CurrentRanking returns a copy of the catalog ordered by weight, highest
// first. Equal weights keep their previous relative order.
func (b *Bank) CurrentRanking() []model.Question {
	return slices.Clone(b.questions)
}

// Group is a category heading with its questions in ranking order
type Group struct {
	Category  string           `json:"category"`
	Questions []model.Question `json:"questions"`
}

// Groups returns the ranking grouped by category. Categories appear in the
// order they are first seen in the ranking.
func (b *Bank) Groups() []Group {
	var groups []Group
	index := make(map[string]int)

	for _, q := range b.questions {
		i, ok := index[q.Category]
		if !ok {
			i = len(groups)
			index[q.Category] = i
			groups = append(groups, Group{Category: q.Category})
		}
		groups[i].Questions = append(groups[i].Questions, q)
	}

	return groups
}

func (b *Bank) sort() {
	slices.SortStableFunc(b.questions, func(x, y model.Question) int {
		switch {
		case x.Weight > y.Weight:
			return -1
		case x.Weight < y.Weight:
			return 1
		default:
			return 0
		}
	})
}

// reinforce closes a fixed fraction of the gap between weight and 1.0
func reinforce(weight, rate float64) float64 {
	return weight + rate*(1.0-weight)
}
