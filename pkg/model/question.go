package model

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

type QuestionID string

// Question is a candidate prompt shown to the farmer. Weight is the learned
// relevance in [0, 1] and is the only field that changes after creation.
type Question struct {
	ID       QuestionID `json:"id" firestore:"id"`
	Text     string     `json:"text" firestore:"text"`
	Weight   float64    `json:"weight" firestore:"weight"`
	Category string     `json:"category" firestore:"category"`
}

// Validate checks a question loaded from an external source
func (q *Question) Validate() error {
	if q.ID == "" {
		return goerr.New("question id is empty")
	}
	if q.Text == "" {
		return goerr.New("question text is empty", goerr.V("id", q.ID))
	}
	if math.IsNaN(q.Weight) || q.Weight < 0 || q.Weight > 1 {
		return goerr.New("question weight out of range", goerr.V("id", q.ID), goerr.V("weight", q.Weight))
	}
	return nil
}

// DefaultQuestions returns a fresh copy of the seed catalog
func DefaultQuestions() []Question {
	return []Question{
		{ID: "1", Text: "What is the problem with this crop?", Weight: 0.9, Category: "Core Questions"},
		{ID: "2", Text: "Is this a serious problem?", Weight: 0.8, Category: "Core Questions"},
		{ID: "3", Text: "What pesticide should I use?", Weight: 0.7, Category: "Pesticide Selection"},
		{ID: "4", Text: "Is there an organic alternative?", Weight: 0.6, Category: "Pesticide Selection"},
		{ID: "5", Text: "What is the correct dosage per acre?", Weight: 0.5, Category: "Dosage (Regression Model)"},
		{ID: "6", Text: "Will using more damage the crop?", Weight: 0.5, Category: "Dosage (Regression Model)"},
		{ID: "7", Text: "When is the best time to spray?", Weight: 0.5, Category: "Application Method"},
		{ID: "8", Text: "Should I spray leaves or soil?", Weight: 0.5, Category: "Application Method"},
	}
}
