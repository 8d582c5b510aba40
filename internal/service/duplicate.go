package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartward/backend/internal/ai"
	"github.com/smartward/backend/internal/models"
)

const maxSimilarIssues = 3

type DuplicateQuery struct {
	Title       string
	Description string
	Category    models.Category
	HostelID    string
	BlockID     *string
}

type DuplicateCheck struct {
	IsDuplicate    bool                  `json:"is_duplicate"`
	Master         *models.Issue         `json:"master_issue,omitempty"`
	Score          float64               `json:"similarity_score"`
	SimilarIssues  []models.SimilarIssue `json:"similar_issues,omitempty"`
	Recommendation string                `json:"recommendation,omitempty"`
	TitleMatch     bool                  `json:"title_match,omitempty"`
}

// DuplicateDetector compares a new report against recent open issues in the
// same hostel and category. Failures degrade to "not a duplicate".
type DuplicateDetector struct {
	Issues    IssueStore
	AI        ai.Classifier
	Window    time.Duration
	Threshold float64
	Timeout   time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

func (d *DuplicateDetector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *DuplicateDetector) threshold() float64 {
	if d.Threshold > 0 {
		return d.Threshold
	}
	return 0.90
}

func (d *DuplicateDetector) CheckForDuplicate(ctx context.Context, q DuplicateQuery) DuplicateCheck {
	if d.AI == nil {
		return DuplicateCheck{}
	}
	window := d.Window
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	pool, err := d.Issues.ListDuplicateCandidates(ctx, models.CandidateFilter{
		HostelID:   q.HostelID,
		BlockID:    q.BlockID,
		Category:   q.Category,
		ReportedAt: d.now().Add(-window),
	})
	if err != nil {
		d.Logger.Warn().Err(&DegradedError{Op: "duplicate_pool", Err: err}).Msg("duplicate check skipped")
		return DuplicateCheck{}
	}
	if len(pool) == 0 {
		return DuplicateCheck{}
	}

	byID := make(map[string]models.Issue, len(pool))
	candidates := make([]ai.Candidate, 0, len(pool))
	for _, i := range pool {
		byID[i.ID] = i
		candidates = append(candidates, ai.Candidate{ID: i.ID, Title: i.Title, Description: i.Description})
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	scores, err := runWithTimeout(ctx, timeout, func(ctx context.Context) ([]ai.SimilarityScore, error) {
		return d.AI.Similarity(ctx, issueText(q.Title, q.Description), candidates)
	})
	if err != nil {
		d.Logger.Warn().Err(&DegradedError{Op: "similarity", Err: err}).Msg("duplicate check degraded")
		return DuplicateCheck{}
	}

	similar := make([]models.SimilarIssue, 0, len(scores))
	for _, s := range scores {
		issue, ok := byID[s.CandidateID]
		if !ok || s.Score <= 0 {
			continue
		}
		similar = append(similar, models.SimilarIssue{Issue: issue, Score: s.Score})
	}
	if len(similar) == 0 {
		return DuplicateCheck{}
	}
	sort.SliceStable(similar, func(i, j int) bool {
		return similar[i].Score > similar[j].Score
	})

	best := similar[0]
	if best.Score >= d.threshold() {
		master := best.Issue
		return DuplicateCheck{
			IsDuplicate:    true,
			Master:         &master,
			Score:          best.Score,
			Recommendation: DuplicateRecommendation(best.Score, master),
		}
	}

	if len(similar) > maxSimilarIssues {
		similar = similar[:maxSimilarIssues]
	}
	return DuplicateCheck{Score: best.Score, SimilarIssues: similar}
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}

func DuplicateRecommendation(score float64, master models.Issue) string {
	ref := shortID(master.ID)
	switch {
	case score >= 0.95:
		return fmt.Sprintf("This appears to be an exact duplicate of Issue #%s. We recommend linking to that issue instead of creating a new one.", ref)
	case score >= 0.90:
		return fmt.Sprintf("This is very similar to Issue #%s (%s). Consider linking to that issue to avoid duplicates.", ref, master.Status)
	case score >= 0.80:
		return fmt.Sprintf("Similar issue found: #%s. You may want to check if it's the same problem.", ref)
	}
	return "Multiple similar issues detected."
}

// LinkDuplicate closes issueID as a duplicate of masterID and records the
// reporter on the master. The counter is incremented by the store.
func (d *DuplicateDetector) LinkDuplicate(ctx context.Context, issueID, masterID, reporterID, actorID, remarks string) (models.Issue, error) {
	if issueID == masterID {
		return models.Issue{}, &ValidationError{Field: "target_id", Message: "an issue cannot be linked to itself"}
	}
	if remarks == "" {
		remarks = "Duplicate of " + masterID
	}
	master, err := d.Issues.LinkDuplicate(ctx, models.DuplicateLink{
		IssueID:    issueID,
		MasterID:   masterID,
		ReporterID: reporterID,
		ActorID:    actorID,
		Remarks:    remarks,
		At:         d.now(),
	})
	return master, storeError(err)
}
