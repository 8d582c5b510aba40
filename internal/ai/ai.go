package ai

import (
	"context"
	"errors"

	"github.com/smartward/backend/internal/models"
)

var ErrDisabled = errors.New("ai service not configured")

type Prediction struct {
	Category   string
	Priority   string
	Confidence float64
}

type Candidate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type SimilarityScore struct {
	CandidateID string  `json:"issue_id"`
	Score       float64 `json:"similarity_score"`
}

// Classifier predicts category/priority from free text and scores text similarity
// against a pool of candidate issues.
type Classifier interface {
	Classify(ctx context.Context, text string) (Prediction, error)
	Similarity(ctx context.Context, text string, candidates []Candidate) ([]SimilarityScore, error)
}

type Suggestion struct {
	Solution      string             `json:"solution"`
	SimilarIssues []models.PastIssue `json:"similar_issues"`
}

type KnowledgeBase interface {
	Suggest(ctx context.Context, text string, category models.Category, priority models.Priority) (Suggestion, error)
	Add(ctx context.Context, entry models.KnowledgeEntry) error
}

// Disabled stands in for an unconfigured ML or RAG service. Every call fails with
// ErrDisabled so callers take their fallback path.
type Disabled struct{}

func (Disabled) Classify(context.Context, string) (Prediction, error) {
	return Prediction{}, ErrDisabled
}

func (Disabled) Similarity(context.Context, string, []Candidate) ([]SimilarityScore, error) {
	return nil, ErrDisabled
}

func (Disabled) Suggest(context.Context, string, models.Category, models.Priority) (Suggestion, error) {
	return Suggestion{}, ErrDisabled
}

func (Disabled) Add(context.Context, models.KnowledgeEntry) error {
	return ErrDisabled
}
