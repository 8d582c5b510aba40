package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClassifier talks to the ML service (/predict/combined, /find_similar).
type HTTPClassifier struct {
	client *resty.Client
}

type predictRequest struct {
	Description string `json:"description"`
}

type predictPayload struct {
	Category           string  `json:"category"`
	Priority           string  `json:"priority"`
	CategoryConfidence float64 `json:"category_confidence"`
}

type predictResponse struct {
	Success bool `json:"success"`
	predictPayload
	Data *predictPayload `json:"data"`
}

type similarRequest struct {
	Description    string      `json:"description"`
	ExistingIssues []Candidate `json:"existing_issues"`
}

type similarResponse struct {
	Success       bool              `json:"success"`
	SimilarIssues []SimilarityScore `json:"similar_issues"`
	Data          *struct {
		SimilarIssues []SimilarityScore `json:"similar_issues"`
	} `json:"data"`
}

func NewHTTPClassifier(baseURL string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPClassifier{client: client}
}

func (h *HTTPClassifier) Classify(ctx context.Context, text string) (Prediction, error) {
	var r predictResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(predictRequest{Description: text}).
		SetResult(&r).
		Post("/predict/combined")
	if err != nil {
		return Prediction{}, err
	}
	if resp.IsError() {
		return Prediction{}, fmt.Errorf("ml service error: %s", resp.Status())
	}
	if !r.Success {
		return Prediction{}, fmt.Errorf("ml service returned success=false")
	}

	p := r.predictPayload
	if r.Data != nil {
		p = *r.Data
	}
	return Prediction{
		Category:   p.Category,
		Priority:   p.Priority,
		Confidence: p.CategoryConfidence,
	}, nil
}

func (h *HTTPClassifier) Similarity(ctx context.Context, text string, candidates []Candidate) ([]SimilarityScore, error) {
	var r similarResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(similarRequest{Description: text, ExistingIssues: candidates}).
		SetResult(&r).
		Post("/find_similar")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ml service error: %s", resp.Status())
	}
	if !r.Success {
		return nil, fmt.Errorf("ml service returned success=false")
	}
	if r.Data != nil {
		return r.Data.SimilarIssues, nil
	}
	return r.SimilarIssues, nil
}
