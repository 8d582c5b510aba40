package db

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartward/backend/internal/models"
)

type issueStore interface {
	CreateIssue(ctx context.Context, issue models.Issue, actorID string) error
	GetIssue(ctx context.Context, id string) (models.Issue, error)
	ListIssues(ctx context.Context, f models.IssueFilter) ([]models.Issue, error)
	ListDuplicateCandidates(ctx context.Context, f models.CandidateFilter) ([]models.Issue, error)
	FindOpenIssueByTitle(ctx context.Context, hostelID, title string) (*models.Issue, error)
	AssignIssue(ctx context.Context, a models.Assignment) (models.Issue, error)
	TransitionIssue(ctx context.Context, ch models.StatusChange) (models.Issue, error)
	LinkDuplicate(ctx context.Context, link models.DuplicateLink) (models.Issue, error)
	CreateDuplicateIssue(ctx context.Context, issue models.Issue, link models.DuplicateLink) (models.Issue, error)
	ListStatusHistory(ctx context.Context, issueID string) ([]models.StatusHistory, error)
	ListDuplicates(ctx context.Context, masterID string) ([]models.Issue, error)
	SoftDeleteIssue(ctx context.Context, id string) error
	InsertStaff(ctx context.Context, staff []models.Staff) (int64, error)
	GetStaff(ctx context.Context, id string) (models.Staff, error)
	ListStaff(ctx context.Context, f models.StaffFilter) ([]models.Staff, error)
	UpsertUser(ctx context.Context, u models.User) error
	ListManagementUserIDs(ctx context.Context, hostelID string) ([]string, error)
	InsertNotification(ctx context.Context, n models.Notification) error
}

// fixture gives every test its own hostel and id prefix so the Postgres run
// can share one database.
type fixture struct {
	store  issueStore
	hostel string
	prefix string
	now    time.Time
}

func (f fixture) id(s string) string { return f.prefix + s }

func (f fixture) issue(t *testing.T, id, title string, mutate ...func(*models.Issue)) models.Issue {
	t.Helper()
	i := models.Issue{
		ID:          f.id(id),
		Title:       title,
		Description: title + " description",
		Category:    models.CategoryPlumbing,
		Priority:    models.PriorityMedium,
		Status:      models.StatusReported,
		HostelID:    f.hostel,
		ReporterID:  "r0",
		IsPublic:    true,
		ReportedAt:  f.now.Add(-time.Hour),
		UpdatedAt:   f.now.Add(-time.Hour),
	}
	for _, m := range mutate {
		m(&i)
	}
	require.NoError(t, f.store.CreateIssue(context.Background(), i, i.ReporterID))
	return i
}

func (f fixture) staff(t *testing.T, staff ...models.Staff) {
	t.Helper()
	for i := range staff {
		staff[i].ID = f.id(staff[i].ID)
	}
	_, err := f.store.InsertStaff(context.Background(), staff)
	require.NoError(t, err)
}

func (f fixture) workload(t *testing.T, id string) int {
	t.Helper()
	s, err := f.store.GetStaff(context.Background(), f.id(id))
	require.NoError(t, err)
	return s.CurrentWorkload
}

func storeFactories(t *testing.T) map[string]func(t *testing.T) fixture {
	now := time.Now().UTC().Truncate(time.Second)
	newFixture := func(s issueStore) fixture {
		p := uuid.NewString()[:8] + "-"
		return fixture{store: s, hostel: p + "hostel", prefix: p, now: now}
	}

	factories := map[string]func(t *testing.T) fixture{
		"memory": func(*testing.T) fixture { return newFixture(NewMemoryStore()) },
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		factories["postgres"] = func(t *testing.T) fixture {
			ctx := context.Background()
			s, err := New(ctx, url)
			require.NoError(t, err)
			t.Cleanup(s.Close)
			require.NoError(t, s.Migrate(ctx))
			return newFixture(s)
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, f fixture)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		created := f.issue(t, "i1", "Tap leaking", func(i *models.Issue) {
			i.BlockID = ptr("A")
			i.AICategory = models.CategoryPlumbing
			i.AIConfidence = 0.8
			i.SimilarIssueIDs = []string{"x"}
		})

		got, err := f.store.GetIssue(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Title, got.Title)
		assert.Equal(t, "A", *got.BlockID)
		assert.Equal(t, models.StatusReported, got.Status)
		assert.Equal(t, 0.8, got.AIConfidence)
		assert.Equal(t, []string{"x"}, got.SimilarIssueIDs)
		assert.True(t, got.ReportedAt.Equal(created.ReportedAt))

		history, err := f.store.ListStatusHistory(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "Issue reported", history[0].Remarks)

		_, err = f.store.GetIssue(ctx, f.id("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreListIssues(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c"} {
			f.issue(t, id, "issue "+id, func(is *models.Issue) {
				is.ReportedAt = f.now.Add(time.Duration(i) * time.Minute)
			})
		}
		f.issue(t, "e", "electric", func(is *models.Issue) { is.Category = models.CategoryElectrical })

		all, err := f.store.ListIssues(ctx, models.IssueFilter{HostelID: f.hostel, Category: models.CategoryPlumbing})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, f.id("c"), all[0].ID)

		page, err := f.store.ListIssues(ctx, models.IssueFilter{HostelID: f.hostel, Category: models.CategoryPlumbing, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, f.id("b"), page[0].ID)
	})
}

func TestStoreDuplicateCandidates(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.issue(t, "a", "tap", func(i *models.Issue) { i.BlockID = ptr("A") })
		f.issue(t, "b", "tap", func(i *models.Issue) { i.BlockID = ptr("B") })
		f.issue(t, "old", "tap", func(i *models.Issue) { i.ReportedAt = f.now.Add(-10 * 24 * time.Hour) })
		f.issue(t, "closed", "tap", func(i *models.Issue) { i.Status = models.StatusResolved })
		f.issue(t, "fan", "fan", func(i *models.Issue) { i.Category = models.CategoryElectrical })

		filter := models.CandidateFilter{HostelID: f.hostel, Category: models.CategoryPlumbing, ReportedAt: f.now.Add(-7 * 24 * time.Hour)}
		pool, err := f.store.ListDuplicateCandidates(ctx, filter)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{f.id("a"), f.id("b")}, ids(pool))

		filter.BlockID = ptr("A")
		pool, err = f.store.ListDuplicateCandidates(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, []string{f.id("a")}, ids(pool))
	})
}

func TestStoreFindOpenIssueByTitle(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.issue(t, "new", "Tap Leaking", func(i *models.Issue) { i.ReportedAt = f.now })
		f.issue(t, "old", "tap leaking", func(i *models.Issue) { i.ReportedAt = f.now.Add(-2 * time.Hour) })
		f.issue(t, "done", "tap leaking", func(i *models.Issue) {
			i.Status = models.StatusClosed
			i.ReportedAt = f.now.Add(-3 * time.Hour)
		})

		got, err := f.store.FindOpenIssueByTitle(ctx, f.hostel, "  TAP leaking ")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, f.id("old"), got.ID)

		got, err = f.store.FindOpenIssueByTitle(ctx, f.hostel, "fan")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStoreAssignAndTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.staff(t,
			models.Staff{ID: "s1", FullName: "Ravi", Role: models.RolePlumber, IsActive: true},
			models.Staff{ID: "s2", FullName: "Anu", Role: models.RolePlumber, IsActive: true, CurrentWorkload: 2},
			models.Staff{ID: "s3", FullName: "Gone", Role: models.RolePlumber, IsActive: false},
		)
		i := f.issue(t, "i1", "Tap")

		_, err := f.store.AssignIssue(ctx, models.Assignment{IssueID: i.ID, StaffID: f.id("s3"), ActorID: "m", At: f.now})
		assert.ErrorIs(t, err, ErrStaffInactive)

		assigned, err := f.store.AssignIssue(ctx, models.Assignment{IssueID: i.ID, StaffID: f.id("s1"), ActorID: "m", Remarks: "Assigned to Ravi", At: f.now})
		require.NoError(t, err)
		assert.Equal(t, models.StatusAssigned, assigned.Status)
		assert.Equal(t, 1, f.workload(t, "s1"))

		_, err = f.store.AssignIssue(ctx, models.Assignment{IssueID: i.ID, StaffID: f.id("s2"), ActorID: "m", At: f.now})
		require.NoError(t, err)
		assert.Zero(t, f.workload(t, "s1"))
		assert.Equal(t, 3, f.workload(t, "s2"))

		_, err = f.store.TransitionIssue(ctx, models.StatusChange{IssueID: i.ID, From: models.StatusReported, To: models.StatusClosed, At: f.now})
		assert.ErrorIs(t, err, ErrStatusChanged)

		_, err = f.store.TransitionIssue(ctx, models.StatusChange{IssueID: i.ID, From: models.StatusAssigned, To: models.StatusInProgress, ActorID: "s2", At: f.now.Add(time.Hour)})
		require.NoError(t, err)
		resolved, err := f.store.TransitionIssue(ctx, models.StatusChange{
			IssueID: i.ID, From: models.StatusInProgress, To: models.StatusResolved, ActorID: "s2",
			At: f.now.Add(4 * time.Hour), WorkloadDelta: -1, Recompute: true,
		})
		require.NoError(t, err)
		require.NotNil(t, resolved.ResolvedAt)
		assert.Equal(t, 2, f.workload(t, "s2"))

		s2, err := f.store.GetStaff(ctx, f.id("s2"))
		require.NoError(t, err)
		assert.Equal(t, 1, s2.TotalIssuesHandled)
		require.NotNil(t, s2.AvgResolutionTime)
		assert.InDelta(t, 4.0, *s2.AvgResolutionTime, 0.01)

		_, err = f.store.AssignIssue(ctx, models.Assignment{IssueID: i.ID, StaffID: f.id("s1"), ActorID: "m", At: f.now})
		assert.ErrorIs(t, err, ErrStatusChanged)

		history, err := f.store.ListStatusHistory(ctx, i.ID)
		require.NoError(t, err)
		assert.Len(t, history, 5)
	})
}

func TestStoreWorkloadNeverNegative(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.staff(t, models.Staff{ID: "s1", FullName: "Ravi", Role: models.RolePlumber, IsActive: true})
		i := f.issue(t, "i1", "Tap", func(i *models.Issue) {
			i.Status = models.StatusInProgress
			i.AssigneeID = ptr(f.id("s1"))
			i.AssignedAt = ptr(f.now)
		})

		_, err := f.store.TransitionIssue(ctx, models.StatusChange{
			IssueID: i.ID, From: models.StatusInProgress, To: models.StatusResolved, At: f.now, WorkloadDelta: -1,
		})
		require.NoError(t, err)
		assert.Zero(t, f.workload(t, "s1"))
	})
}

func TestStoreLinkDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		master := f.issue(t, "m", "Tap")
		d1 := f.issue(t, "d1", "Tap again", func(i *models.Issue) { i.ReporterID = "r1" })
		d2 := f.issue(t, "d2", "Tap once more", func(i *models.Issue) { i.ReporterID = "r1" })

		link := func(id string) (models.Issue, error) {
			return f.store.LinkDuplicate(ctx, models.DuplicateLink{
				IssueID: id, MasterID: master.ID, ReporterID: "r1", ActorID: "system",
				Remarks: "Duplicate of " + master.ID, At: f.now,
			})
		}
		_, err := link(d1.ID)
		require.NoError(t, err)
		m, err := link(d2.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, m.DuplicateCount)
		assert.Equal(t, []string{"r1"}, m.DuplicateReporters)
		assert.True(t, m.IsDuplicateMaster)

		_, err = link(d1.ID)
		assert.ErrorIs(t, err, ErrAlreadyLinked)

		dups, err := f.store.ListDuplicates(ctx, master.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{d1.ID, d2.ID}, ids(dups))
		for _, d := range dups {
			assert.Equal(t, models.StatusClosed, d.Status)
		}
	})
}

func TestStoreCreateDuplicateIssue(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		master := f.issue(t, "m", "Tap")
		gone := f.issue(t, "gone", "Tap old")
		require.NoError(t, f.store.SoftDeleteIssue(ctx, gone.ID))

		draft := func(id string) models.Issue {
			return models.Issue{
				ID: f.id(id), Title: "Tap leaking", Description: "tap in washroom", Category: models.CategoryPlumbing,
				Priority: models.PriorityMedium, Status: models.StatusReported, HostelID: f.hostel, ReporterID: "r2",
				IsPublic: true, ReportedAt: f.now.Add(-time.Minute), UpdatedAt: f.now.Add(-time.Minute),
			}
		}
		link := func(id, masterID string) models.DuplicateLink {
			return models.DuplicateLink{
				IssueID: f.id(id), MasterID: masterID, ReporterID: "r2", ActorID: "system",
				Remarks: "Duplicate of " + masterID, At: f.now,
			}
		}

		m, err := f.store.CreateDuplicateIssue(ctx, draft("n1"), link("n1", master.ID))
		require.NoError(t, err)
		assert.Equal(t, 1, m.DuplicateCount)
		assert.Equal(t, []string{"r2"}, m.DuplicateReporters)

		got, err := f.store.GetIssue(ctx, f.id("n1"))
		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, got.Status)
		require.NotNil(t, got.DuplicateOf)
		assert.Equal(t, master.ID, *got.DuplicateOf)
		require.NotNil(t, got.ClosedAt)

		history, err := f.store.ListStatusHistory(ctx, got.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, models.StatusReported, history[0].Status)
		assert.Equal(t, "r2", history[0].UpdatedBy)
		assert.Equal(t, "Duplicate of "+master.ID, history[1].Remarks)

		_, err = f.store.CreateDuplicateIssue(ctx, draft("n2"), link("n2", gone.ID))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.store.CreateDuplicateIssue(ctx, draft("n3"), link("n3", f.id("n1")))
		assert.ErrorIs(t, err, ErrAlreadyLinked)

		for _, id := range []string{"n2", "n3"} {
			_, err = f.store.GetIssue(ctx, f.id(id))
			assert.ErrorIs(t, err, ErrNotFound)
			history, err := f.store.ListStatusHistory(ctx, f.id(id))
			require.NoError(t, err)
			assert.Empty(t, history)
		}
	})
}

func TestStoreOpposingLinksDoNotDeadlock(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		for round := 0; round < 5; round++ {
			a := f.issue(t, fmt.Sprintf("a%d", round), "Tap")
			b := f.issue(t, fmt.Sprintf("b%d", round), "Tap too")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for n, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
				wg.Add(1)
				go func(n int, pair [2]string) {
					defer wg.Done()
					_, errs[n] = f.store.LinkDuplicate(ctx, models.DuplicateLink{
						IssueID: pair[0], MasterID: pair[1], ReporterID: "r0", ActorID: "m", At: f.now,
					})
				}(n, pair)
			}
			wg.Wait()

			failed := 0
			for _, err := range errs {
				if err != nil {
					assert.ErrorIs(t, err, ErrAlreadyLinked)
					failed++
				}
			}
			assert.Equal(t, 1, failed)
		}
	})
}

func TestStoreSoftDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.staff(t, models.Staff{ID: "s1", FullName: "Ravi", Role: models.RolePlumber, IsActive: true})
		i := f.issue(t, "i1", "Tap")
		_, err := f.store.AssignIssue(ctx, models.Assignment{IssueID: i.ID, StaffID: f.id("s1"), ActorID: "m", At: f.now})
		require.NoError(t, err)

		require.NoError(t, f.store.SoftDeleteIssue(ctx, i.ID))
		assert.Zero(t, f.workload(t, "s1"))
		_, err = f.store.GetIssue(ctx, i.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, f.store.SoftDeleteIssue(ctx, i.ID), ErrNotFound)
	})
}

func TestStoreStaffAndUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.staff(t,
			models.Staff{ID: "p", FullName: "Pipe", Role: models.RolePlumber, IsActive: true},
			models.Staff{ID: "x", FullName: "Expert", Role: models.RoleOther, IsActive: true, ExpertiseTags: []models.Category{models.CategoryPlumbing}},
			models.Staff{ID: "e", FullName: "Sparks", Role: models.RoleElectrician, IsActive: true},
			models.Staff{ID: "off", FullName: "Off", Role: models.RolePlumber, IsActive: false},
		)
		staff, err := f.store.ListStaff(ctx, models.StaffFilter{
			Category: models.CategoryPlumbing, Roles: []models.StaffRole{models.RolePlumber}, ActiveOnly: true,
		})
		require.NoError(t, err)
		var mine []string
		for _, s := range staff {
			if len(s.ID) > len(f.prefix) && s.ID[:len(f.prefix)] == f.prefix {
				mine = append(mine, s.ID)
			}
		}
		assert.ElementsMatch(t, []string{f.id("p"), f.id("x")}, mine)

		for _, u := range []models.User{
			{ID: f.id("w"), Role: models.UserRoleManagement, HostelID: ptr(f.hostel), IsActive: true},
			{ID: f.id("a"), Role: models.UserRoleAdmin, HostelID: ptr(f.hostel), IsActive: true},
			{ID: f.id("s"), Role: models.UserRoleStudent, HostelID: ptr(f.hostel), IsActive: true},
		} {
			require.NoError(t, f.store.UpsertUser(ctx, u))
		}
		managers, err := f.store.ListManagementUserIDs(ctx, f.hostel)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{f.id("w"), f.id("a")}, managers)

		require.NoError(t, f.store.InsertNotification(ctx, models.Notification{
			ID: uuid.NewString(), UserID: f.id("w"), Type: "ISSUE_CREATED", Title: "New", CreatedAt: f.now,
		}))
	})
}

func ids(issues []models.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.ID)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
