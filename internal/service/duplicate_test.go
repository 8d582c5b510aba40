package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartward/backend/internal/ai"
	"github.com/smartward/backend/internal/db"
	"github.com/smartward/backend/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seedIssue(t *testing.T, store *db.MemoryStore, i models.Issue) models.Issue {
	t.Helper()
	if i.Status == "" {
		i.Status = models.StatusReported
	}
	if i.HostelID == "" {
		i.HostelID = "h1"
	}
	if i.Category == "" {
		i.Category = models.CategoryPlumbing
	}
	if i.Priority == "" {
		i.Priority = models.PriorityMedium
	}
	if i.ReporterID == "" {
		i.ReporterID = "r0"
	}
	if i.ReportedAt.IsZero() {
		i.ReportedAt = testNow.Add(-time.Hour)
	}
	i.UpdatedAt = i.ReportedAt
	require.NoError(t, store.CreateIssue(context.Background(), i, i.ReporterID))
	return i
}

func newDetector(store *db.MemoryStore, c ai.Classifier) *DuplicateDetector {
	return &DuplicateDetector{
		Issues:    store,
		AI:        c,
		Threshold: 0.90,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	}
}

func plumbingQuery() DuplicateQuery {
	return DuplicateQuery{Title: "Tap leaking", Description: "tap leaking in washroom", Category: models.CategoryPlumbing, HostelID: "h1"}
}

func TestCheckForDuplicateAboveThreshold(t *testing.T) {
	store := db.NewMemoryStore()
	seedIssue(t, store, models.Issue{ID: "issue-000123", Title: "Leaking tap"})
	seedIssue(t, store, models.Issue{ID: "issue-000456", Title: "Shower blocked"})
	fc := &fakeClassifier{scores: []ai.SimilarityScore{
		{CandidateID: "issue-000456", Score: 0.41},
		{CandidateID: "issue-000123", Score: 0.93},
	}}

	res := newDetector(store, fc).CheckForDuplicate(context.Background(), plumbingQuery())
	require.True(t, res.IsDuplicate)
	require.NotNil(t, res.Master)
	assert.Equal(t, "issue-000123", res.Master.ID)
	assert.Equal(t, 0.93, res.Score)
	assert.Equal(t, "This is very similar to Issue #000123 (REPORTED). Consider linking to that issue to avoid duplicates.", res.Recommendation)
	assert.Empty(t, res.SimilarIssues)
}

func TestCheckForDuplicateExact(t *testing.T) {
	store := db.NewMemoryStore()
	seedIssue(t, store, models.Issue{ID: "issue-000123", Title: "Leaking tap"})
	fc := &fakeClassifier{scores: []ai.SimilarityScore{{CandidateID: "issue-000123", Score: 0.96}}}

	res := newDetector(store, fc).CheckForDuplicate(context.Background(), plumbingQuery())
	require.True(t, res.IsDuplicate)
	assert.Contains(t, res.Recommendation, "exact duplicate of Issue #000123")
}

func TestCheckForDuplicateBelowThresholdKeepsTopThree(t *testing.T) {
	store := db.NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedIssue(t, store, models.Issue{ID: id, Title: "issue " + id})
	}
	fc := &fakeClassifier{scores: []ai.SimilarityScore{
		{CandidateID: "a", Score: 0.30},
		{CandidateID: "b", Score: 0.85},
		{CandidateID: "c", Score: 0.0},
		{CandidateID: "d", Score: 0.60},
		{CandidateID: "e", Score: 0.75},
		{CandidateID: "unknown", Score: 0.99},
	}}

	res := newDetector(store, fc).CheckForDuplicate(context.Background(), plumbingQuery())
	assert.False(t, res.IsDuplicate)
	assert.Nil(t, res.Master)
	assert.Equal(t, 0.85, res.Score)
	require.Len(t, res.SimilarIssues, 3)
	assert.Equal(t, "b", res.SimilarIssues[0].Issue.ID)
	assert.Equal(t, "e", res.SimilarIssues[1].Issue.ID)
	assert.Equal(t, "d", res.SimilarIssues[2].Issue.ID)
}

func TestCheckForDuplicateDegradesOnError(t *testing.T) {
	store := db.NewMemoryStore()
	seedIssue(t, store, models.Issue{ID: "a", Title: "Leaking tap"})
	fc := &fakeClassifier{simErr: errors.New("connection refused")}

	res := newDetector(store, fc).CheckForDuplicate(context.Background(), plumbingQuery())
	assert.Equal(t, DuplicateCheck{}, res)

	res = newDetector(store, ai.Disabled{}).CheckForDuplicate(context.Background(), plumbingQuery())
	assert.Equal(t, DuplicateCheck{}, res)

	res = newDetector(store, nil).CheckForDuplicate(context.Background(), plumbingQuery())
	assert.Equal(t, DuplicateCheck{}, res)
}

func TestCheckForDuplicateEmptyPoolSkipsService(t *testing.T) {
	store := db.NewMemoryStore()
	fc := &fakeClassifier{}

	res := newDetector(store, fc).CheckForDuplicate(context.Background(), plumbingQuery())
	assert.False(t, res.IsDuplicate)
	assert.Zero(t, fc.simCalls)
}

func TestCheckForDuplicateCandidatePool(t *testing.T) {
	store := db.NewMemoryStore()
	seedIssue(t, store, models.Issue{ID: "keep-a", Title: "tap", BlockID: ptr("A")})
	seedIssue(t, store, models.Issue{ID: "keep-b", Title: "tap", BlockID: ptr("B")})
	seedIssue(t, store, models.Issue{ID: "other-hostel", Title: "tap", HostelID: "h2"})
	seedIssue(t, store, models.Issue{ID: "other-category", Title: "fan", Category: models.CategoryElectrical})
	seedIssue(t, store, models.Issue{ID: "too-old", Title: "tap", ReportedAt: testNow.Add(-8 * 24 * time.Hour)})
	seedIssue(t, store, models.Issue{ID: "resolved", Title: "tap", Status: models.StatusResolved})
	fc := &fakeClassifier{}

	newDetector(store, fc).CheckForDuplicate(context.Background(), plumbingQuery())
	ids := func() []string {
		var out []string
		for _, c := range fc.candidates {
			out = append(out, c.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"keep-a", "keep-b"}, ids())

	q := plumbingQuery()
	q.BlockID = ptr("A")
	newDetector(store, fc).CheckForDuplicate(context.Background(), q)
	assert.Equal(t, []string{"keep-a"}, ids())
}

func TestDuplicateRecommendation(t *testing.T) {
	master := models.Issue{ID: "abcdef123456", Status: models.StatusInProgress}
	assert.Contains(t, DuplicateRecommendation(0.97, master), "exact duplicate of Issue #123456")
	assert.Contains(t, DuplicateRecommendation(0.91, master), "(IN_PROGRESS)")
	assert.Equal(t, "Similar issue found: #123456. You may want to check if it's the same problem.", DuplicateRecommendation(0.82, master))
	assert.Equal(t, "Multiple similar issues detected.", DuplicateRecommendation(0.5, master))
}

func TestLinkDuplicate(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seedIssue(t, store, models.Issue{ID: "m", Title: "Leaking tap", ReporterID: "r0"})
	seedIssue(t, store, models.Issue{ID: "d1", Title: "tap leak", ReporterID: "r1"})
	seedIssue(t, store, models.Issue{ID: "d2", Title: "tap leaks again", ReporterID: "r1"})
	d := newDetector(store, nil)

	_, err := d.LinkDuplicate(ctx, "d1", "m", "r1", "u1", "")
	require.NoError(t, err)
	master, err := d.LinkDuplicate(ctx, "d2", "m", "r1", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, master.DuplicateCount)
	assert.Equal(t, []string{"r1"}, master.DuplicateReporters)
	assert.True(t, master.IsDuplicateMaster)

	dup, err := store.GetIssue(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, dup.Status)
	require.NotNil(t, dup.DuplicateOf)
	assert.Equal(t, "m", *dup.DuplicateOf)

	history, err := store.ListStatusHistory(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Duplicate of m", history[1].Remarks)

	_, err = d.LinkDuplicate(ctx, "d1", "m", "r1", "u1", "")
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestLinkDuplicateToItself(t *testing.T) {
	store := db.NewMemoryStore()
	seedIssue(t, store, models.Issue{ID: "m", Title: "Leaking tap"})

	_, err := newDetector(store, nil).LinkDuplicate(context.Background(), "m", "m", "r0", "u1", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "target_id", verr.Field)
}
