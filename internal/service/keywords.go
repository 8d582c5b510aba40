package service

import (
	"strings"
	"unicode"

	"github.com/smartward/backend/internal/models"
)

type categoryKeywords struct {
	category models.Category
	words    []string
}

// Declaration order breaks ties between categories with the same hit count.
var keywordRules = []categoryKeywords{
	{models.CategoryPlumbing, []string{"water", "tap", "toilet", "leak", "drain", "flush", "shower", "pipe"}},
	{models.CategoryElectrical, []string{"light", "fan", "power", "socket", "electricity", "switch", "wire", "ac", "bulb"}},
	{models.CategoryCleanliness, []string{"clean", "garbage", "dirt", "smell", "pest", "cockroach", "rat", "dustbin"}},
	{models.CategoryInternet, []string{"wifi", "internet", "network", "router", "lan", "connection"}},
	{models.CategoryFurniture, []string{"bed", "chair", "table", "cupboard", "desk", "shelf", "door", "window"}},
	{models.CategoryMaintenance, []string{"paint", "crack", "repair", "fix", "broken", "damage"}},
	{models.CategoryMessFood, []string{"food", "mess", "meal", "dinner", "lunch", "breakfast", "kitchen"}},
	{models.CategorySecurity, []string{"security", "lock", "gate", "cctv", "guard", "safety", "fire"}},
}

var (
	emergencyKeywords = []string{"emergency", "fire"}
	highKeywords      = []string{"broken", "severe"}
)

type keywordText struct {
	lower  string
	tokens []string
}

func newKeywordText(s string) keywordText {
	lower := strings.ToLower(s)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return keywordText{lower: lower, tokens: tokens}
}

// has reports whether kw occurs in the text. Keywords of three letters or
// fewer must be a whole token, so "lan" does not hit "plan"; longer ones match
// anywhere, so "tubelight" hits "light".
func (t keywordText) has(kw string) bool {
	if len(kw) > 3 {
		return strings.Contains(t.lower, kw)
	}
	for _, tok := range t.tokens {
		if tok == kw {
			return true
		}
	}
	return false
}

func (t keywordText) hasAny(kws []string) bool {
	for _, kw := range kws {
		if t.has(kw) {
			return true
		}
	}
	return false
}

// keywordCategory returns the category with the most keyword hits, or false
// when nothing matched.
func keywordCategory(text keywordText) (models.Category, bool) {
	var (
		best     models.Category
		bestHits int
	)
	for _, rule := range keywordRules {
		hits := 0
		for _, kw := range rule.words {
			if text.has(kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = rule.category, hits
		}
	}
	return best, bestHits > 0
}

func keywordPriority(text keywordText) models.Priority {
	switch {
	case text.hasAny(emergencyKeywords):
		return models.PriorityEmergency
	case text.hasAny(highKeywords):
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}
