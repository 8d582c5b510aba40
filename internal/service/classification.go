package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartward/backend/internal/ai"
	"github.com/smartward/backend/internal/models"
)

const (
	fallbackConfidence = 0.7
	fallbackReasoning  = "Rule-based analysis (ML service unavailable)"
)

// ClassificationAdapter guesses category and priority for a report. It never
// fails: when the classifier is unreachable it falls back to keyword rules.
type ClassificationAdapter struct {
	AI             ai.Classifier
	KB             ai.KnowledgeBase
	Timeout        time.Duration
	SuggestTimeout time.Duration
	Logger         zerolog.Logger
}

func issueText(title, description string) string {
	return strings.TrimSpace(title + " " + description)
}

// Classify resolves the report's category and priority. userCategory and
// userPriority are empty when the reporter left them unset.
func (c *ClassificationAdapter) Classify(ctx context.Context, title, description string, userCategory models.Category, userPriority models.Priority) models.ClassificationResult {
	text := issueText(title, description)

	result, err := c.classifyRemote(ctx, text, userCategory, userPriority)
	if err != nil {
		c.Logger.Warn().Err(&DegradedError{Op: "classify", Err: err}).Msg("classifier unavailable; using keyword rules")
		result = fallbackClassification(text, userCategory, userPriority)
	}

	c.enrich(ctx, text, &result)
	return result
}

func (c *ClassificationAdapter) classifyRemote(ctx context.Context, text string, userCategory models.Category, userPriority models.Priority) (models.ClassificationResult, error) {
	if c.AI == nil {
		return models.ClassificationResult{}, ai.ErrDisabled
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pred, err := runWithTimeout(ctx, timeout, func(ctx context.Context) (ai.Prediction, error) {
		return c.AI.Classify(ctx, text)
	})
	if err != nil {
		return models.ClassificationResult{}, err
	}

	category, ok := models.ParseCategory(pred.Category)
	if !ok {
		return models.ClassificationResult{}, fmt.Errorf("classifier returned unknown category %q", pred.Category)
	}
	priority, ok := models.ParsePriority(pred.Priority)
	if !ok {
		priority = keywordPriority(newKeywordText(text))
	}
	confidence := math.Max(0, math.Min(1, pred.Confidence))

	res := models.ClassificationResult{
		Category:          category,
		Priority:          priority,
		SuggestedCategory: category,
		SuggestedPriority: priority,
		Confidence:        confidence,
		Reasoning:         fmt.Sprintf("AI suggested %s (%.1f%% confidence)", category, confidence*100),
	}
	if userCategory != "" {
		res.Category = userCategory
	}
	if userPriority != "" {
		res.Priority = userPriority
	}
	return res, nil
}

func fallbackClassification(text string, userCategory models.Category, userPriority models.Priority) models.ClassificationResult {
	kt := newKeywordText(text)

	suggested, matched := keywordCategory(kt)
	if !matched {
		suggested = userCategory
		if suggested == "" {
			suggested = models.CategoryOther
		}
	}
	priority := keywordPriority(kt)

	res := models.ClassificationResult{
		Category:          suggested,
		Priority:          priority,
		SuggestedCategory: suggested,
		SuggestedPriority: priority,
		Confidence:        fallbackConfidence,
		Reasoning:         fallbackReasoning,
		Fallback:          true,
	}
	if userCategory != "" {
		res.Category = userCategory
	}
	if userPriority != "" {
		res.Priority = userPriority
	}
	return res
}

func (c *ClassificationAdapter) enrich(ctx context.Context, text string, res *models.ClassificationResult) {
	if c.KB == nil {
		return
	}
	timeout := c.SuggestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s, err := runWithTimeout(ctx, timeout, func(ctx context.Context) (ai.Suggestion, error) {
		return c.KB.Suggest(ctx, text, res.Category, res.Priority)
	})
	if err != nil {
		c.Logger.Debug().Err(&DegradedError{Op: "suggest_solution", Err: err}).Msg("no knowledge-base suggestion")
		return
	}

	if sol := strings.TrimSpace(s.Solution); sol != "" {
		res.SuggestedSolution = &sol
	}
	res.SimilarPastIssues = s.SimilarIssues
	res.EstimatedResolutionHours = estimateResolutionHours(s.SimilarIssues)
	res.RecommendedStaff = mostFrequentStaff(s.SimilarIssues)
}

// estimateResolutionHours averages the positive resolution times, rounded to 0.1h.
func estimateResolutionHours(past []models.PastIssue) *float64 {
	var (
		sum float64
		n   int
	)
	for _, p := range past {
		if p.ResolutionTime > 0 {
			sum += p.ResolutionTime
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(sum/float64(n)*10) / 10
	return &avg
}

func mostFrequentStaff(past []models.PastIssue) *string {
	counts := map[string]int{}
	var (
		best  string
		bestN int
	)
	for _, p := range past {
		if p.Staff == "" {
			continue
		}
		counts[p.Staff]++
		if counts[p.Staff] > bestN {
			best, bestN = p.Staff, counts[p.Staff]
		}
	}
	if bestN == 0 {
		return nil
	}
	return &best
}
