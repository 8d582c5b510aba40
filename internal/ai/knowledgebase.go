package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smartward/backend/internal/models"
	"github.com/smartward/backend/internal/utils"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// HTTPKnowledgeBase is the client for the RAG service. Suggestions are cached
// when a Cache is configured; cache errors only cost a round trip.
type HTTPKnowledgeBase struct {
	client   *resty.Client
	cache    Cache
	cacheTTL time.Duration
}

type suggestRequest struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}

type suggestResponse struct {
	Success bool       `json:"success"`
	Data    Suggestion `json:"data"`
}

func NewHTTPKnowledgeBase(baseURL string, timeout time.Duration, cache Cache, cacheTTL time.Duration) *HTTPKnowledgeBase {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPKnowledgeBase{client: client, cache: cache, cacheTTL: cacheTTL}
}

func (k *HTTPKnowledgeBase) Suggest(ctx context.Context, text string, category models.Category, priority models.Priority) (Suggestion, error) {
	key := suggestionKey(text, category, priority)
	if k.cache != nil {
		var cached Suggestion
		if ok, err := k.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	var r suggestResponse
	resp, err := k.client.R().
		SetContext(ctx).
		SetBody(suggestRequest{Description: text, Category: string(category), Priority: string(priority)}).
		SetResult(&r).
		Post("/suggest_solution")
	if err != nil {
		return Suggestion{}, err
	}
	if resp.IsError() {
		return Suggestion{}, fmt.Errorf("rag service error: %s", resp.Status())
	}
	if !r.Success {
		return Suggestion{}, fmt.Errorf("rag service returned success=false")
	}

	if k.cache != nil {
		_ = k.cache.SetJSON(ctx, key, r.Data, k.cacheTTL)
	}
	return r.Data, nil
}

func (k *HTTPKnowledgeBase) Add(ctx context.Context, entry models.KnowledgeEntry) error {
	resp, err := k.client.R().
		SetContext(ctx).
		SetBody(entry).
		Post("/add_solution")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("rag service error: %s", resp.Status())
	}
	return nil
}

func suggestionKey(text string, category models.Category, priority models.Priority) string {
	return utils.CacheKey("kb:suggest", text, string(category), string(priority))
}
