package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartward/backend/internal/models"
)

// MemoryStore keeps everything in process. It backs dev mode when no
// DATABASE_URL is configured, and the service and handler tests.
type MemoryStore struct {
	mu            sync.Mutex
	issues        map[string]*models.Issue
	staff         map[string]*models.Staff
	users         map[string]models.User
	history       []models.StatusHistory
	notifications []models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		issues: make(map[string]*models.Issue),
		staff:  make(map[string]*models.Staff),
		users:  make(map[string]models.User),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func cloneIssue(i *models.Issue) models.Issue {
	out := *i
	out.SimilarIssueIDs = append([]string(nil), i.SimilarIssueIDs...)
	out.DuplicateReporters = append([]string(nil), i.DuplicateReporters...)
	return out
}

func cloneStaff(s *models.Staff) models.Staff {
	out := *s
	out.ExpertiseTags = append([]models.Category(nil), s.ExpertiseTags...)
	out.HostelIDs = append([]string(nil), s.HostelIDs...)
	out.BlockIDs = append([]string(nil), s.BlockIDs...)
	return out
}

func (m *MemoryStore) appendHistory(issueID string, status models.Status, actorID, remarks string, at time.Time) {
	m.history = append(m.history, models.StatusHistory{
		ID:        uuid.NewString(),
		IssueID:   issueID,
		Status:    status,
		UpdatedBy: actorID,
		Remarks:   remarks,
		CreatedAt: at,
	})
}

func (m *MemoryStore) addWorkload(staffID string, delta int) {
	s, ok := m.staff[staffID]
	if !ok {
		return
	}
	s.CurrentWorkload += delta
	if s.CurrentWorkload < 0 {
		s.CurrentWorkload = 0
	}
	s.UpdatedAt = time.Now().UTC()
}

func (m *MemoryStore) liveIssue(id string) (*models.Issue, error) {
	i, ok := m.issues[id]
	if !ok || i.IsDeleted {
		return nil, ErrNotFound
	}
	return i, nil
}

func (m *MemoryStore) CreateIssue(_ context.Context, issue models.Issue, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneIssue(&issue)
	m.issues[issue.ID] = &c
	m.appendHistory(issue.ID, issue.Status, actorID, "Issue reported", issue.ReportedAt)
	return nil
}

func (m *MemoryStore) GetIssue(_ context.Context, id string) (models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.liveIssue(id)
	if err != nil {
		return models.Issue{}, err
	}
	return cloneIssue(i), nil
}

func (m *MemoryStore) sortedIssues(keep func(*models.Issue) bool) []models.Issue {
	var out []models.Issue
	for _, i := range m.issues {
		if i.IsDeleted || !keep(i) {
			continue
		}
		out = append(out, cloneIssue(i))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ReportedAt.Equal(out[b].ReportedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].ReportedAt.After(out[b].ReportedAt)
	})
	return out
}

func (m *MemoryStore) ListIssues(_ context.Context, f models.IssueFilter) ([]models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit, offset := f.Limit, f.Offset
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	out := m.sortedIssues(func(i *models.Issue) bool {
		return (f.HostelID == "" || i.HostelID == f.HostelID) &&
			(f.Category == "" || i.Category == f.Category) &&
			(f.Status == "" || i.Status == f.Status) &&
			(f.Priority == "" || i.Priority == f.Priority)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListDuplicateCandidates(_ context.Context, f models.CandidateFilter) ([]models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIssues(func(i *models.Issue) bool {
		if i.HostelID != f.HostelID || i.Category != f.Category || i.ReportedAt.Before(f.ReportedAt) {
			return false
		}
		if !i.Status.IsOpen() || i.DuplicateOf != nil {
			return false
		}
		if f.BlockID != nil && (i.BlockID == nil || *i.BlockID != *f.BlockID) {
			return false
		}
		return true
	}), nil
}

func (m *MemoryStore) FindOpenIssueByTitle(_ context.Context, hostelID, title string) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := strings.ToLower(strings.TrimSpace(title))
	matches := m.sortedIssues(func(i *models.Issue) bool {
		return i.HostelID == hostelID && i.Status.IsOpen() && i.DuplicateOf == nil &&
			strings.ToLower(strings.TrimSpace(i.Title)) == want
	})
	if len(matches) == 0 {
		return nil, nil
	}
	oldest := matches[len(matches)-1]
	return &oldest, nil
}

func (m *MemoryStore) AssignIssue(_ context.Context, a models.Assignment) (models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, err := m.liveIssue(a.IssueID)
	if err != nil {
		return models.Issue{}, err
	}
	if !assignable(issue.Status) {
		return models.Issue{}, ErrStatusChanged
	}
	staff, ok := m.staff[a.StaffID]
	if !ok {
		return models.Issue{}, ErrNotFound
	}
	if !staff.IsActive {
		return models.Issue{}, ErrStaffInactive
	}

	prev := issue.AssigneeID
	if prev == nil || *prev != a.StaffID {
		m.addWorkload(a.StaffID, 1)
		if prev != nil {
			m.addWorkload(*prev, -1)
		}
	}

	at := a.At
	staffID := a.StaffID
	issue.Status = models.StatusAssigned
	issue.AssigneeID = &staffID
	issue.AssignedAt = &at
	issue.UpdatedAt = at
	m.appendHistory(a.IssueID, models.StatusAssigned, a.ActorID, a.Remarks, at)
	return cloneIssue(issue), nil
}

func (m *MemoryStore) TransitionIssue(_ context.Context, ch models.StatusChange) (models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, err := m.liveIssue(ch.IssueID)
	if err != nil {
		return models.Issue{}, err
	}
	if issue.Status != ch.From {
		return models.Issue{}, ErrStatusChanged
	}

	assignee := issue.AssigneeID
	applyStatusChange(issue, ch)
	if assignee != nil {
		if ch.WorkloadDelta != 0 {
			m.addWorkload(*assignee, ch.WorkloadDelta)
		}
		if ch.Recompute {
			m.recomputePerformance(*assignee)
		}
	}
	m.appendHistory(ch.IssueID, ch.To, ch.ActorID, ch.Remarks, ch.At)
	return cloneIssue(issue), nil
}

func (m *MemoryStore) recomputePerformance(staffID string) {
	s, ok := m.staff[staffID]
	if !ok {
		return
	}
	var (
		n     int
		total float64
	)
	for _, i := range m.issues {
		if i.AssigneeID == nil || *i.AssigneeID != staffID {
			continue
		}
		if i.Status != models.StatusResolved && i.Status != models.StatusClosed {
			continue
		}
		if i.ResolvedAt == nil || i.AssignedAt == nil {
			continue
		}
		n++
		total += i.ResolvedAt.Sub(*i.AssignedAt).Hours()
	}
	if n == 0 {
		return
	}
	avg := total / float64(n)
	s.TotalIssuesHandled = n
	s.AvgResolutionTime = &avg
}

func (m *MemoryStore) LinkDuplicate(_ context.Context, link models.DuplicateLink) (models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup, err := m.liveIssue(link.IssueID)
	if err != nil {
		return models.Issue{}, err
	}
	if dup.DuplicateOf != nil {
		return models.Issue{}, ErrAlreadyLinked
	}
	master, err := m.liveIssue(link.MasterID)
	if err != nil {
		return models.Issue{}, err
	}
	if master.DuplicateOf != nil {
		return models.Issue{}, ErrAlreadyLinked
	}

	if dup.AssigneeID != nil && dup.Status.IsOpen() {
		m.addWorkload(*dup.AssigneeID, -1)
	}
	at := link.At
	masterID := link.MasterID
	dup.DuplicateOf = &masterID
	dup.Status = models.StatusClosed
	dup.ClosedAt = &at
	dup.UpdatedAt = at

	bumpMemoryMaster(master, link)
	m.appendHistory(link.IssueID, models.StatusClosed, link.ActorID, link.Remarks, at)
	return cloneIssue(master), nil
}

func (m *MemoryStore) CreateDuplicateIssue(_ context.Context, issue models.Issue, link models.DuplicateLink) (models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	master, err := m.liveIssue(link.MasterID)
	if err != nil {
		return models.Issue{}, err
	}
	if master.DuplicateOf != nil {
		return models.Issue{}, ErrAlreadyLinked
	}

	c := cloneIssue(&issue)
	at := link.At
	masterID := link.MasterID
	c.Status = models.StatusClosed
	c.DuplicateOf = &masterID
	c.ClosedAt = &at
	c.AssigneeID, c.AssignedAt = nil, nil
	m.issues[c.ID] = &c

	m.appendHistory(c.ID, models.StatusReported, c.ReporterID, "Issue reported", c.ReportedAt)
	m.appendHistory(c.ID, models.StatusClosed, link.ActorID, link.Remarks, at)
	bumpMemoryMaster(master, link)
	return cloneIssue(master), nil
}

func bumpMemoryMaster(master *models.Issue, link models.DuplicateLink) {
	master.DuplicateCount++
	if !containsString(master.DuplicateReporters, link.ReporterID) {
		master.DuplicateReporters = append(master.DuplicateReporters, link.ReporterID)
	}
	master.IsDuplicateMaster = true
	master.UpdatedAt = link.At
}

func (m *MemoryStore) ListStatusHistory(_ context.Context, issueID string) ([]models.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StatusHistory
	for _, h := range m.history {
		if h.IssueID == issueID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDuplicates(_ context.Context, masterID string) ([]models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedIssues(func(i *models.Issue) bool {
		return i.DuplicateOf != nil && *i.DuplicateOf == masterID
	})
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out, nil
}

func (m *MemoryStore) SoftDeleteIssue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, err := m.liveIssue(id)
	if err != nil {
		return err
	}
	if issue.AssigneeID != nil && issue.Status.IsOpen() {
		m.addWorkload(*issue.AssigneeID, -1)
	}
	issue.IsDeleted = true
	issue.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) InsertStaff(_ context.Context, staff []models.Staff) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range staff {
		c := cloneStaff(&staff[i])
		m.staff[c.ID] = &c
	}
	return int64(len(staff)), nil
}

func (m *MemoryStore) GetStaff(_ context.Context, id string) (models.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[id]
	if !ok {
		return models.Staff{}, ErrNotFound
	}
	return cloneStaff(s), nil
}

func (m *MemoryStore) ListStaff(_ context.Context, f models.StaffFilter) ([]models.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Staff
	for _, s := range m.staff {
		if f.ActiveOnly && !s.IsActive {
			continue
		}
		if (f.Category != "" || len(f.Roles) > 0) && !staffMatches(s, f) {
			continue
		}
		out = append(out, cloneStaff(s))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CurrentWorkload == out[b].CurrentWorkload {
			return out[a].ID < out[b].ID
		}
		return out[a].CurrentWorkload < out[b].CurrentWorkload
	})
	return out, nil
}

func staffMatches(s *models.Staff, f models.StaffFilter) bool {
	if f.Category != "" {
		for _, c := range s.ExpertiseTags {
			if c == f.Category {
				return true
			}
		}
	}
	for _, r := range f.Roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

func (m *MemoryStore) UpsertUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) ListManagementUserIDs(_ context.Context, hostelID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, u := range m.users {
		if !u.IsActive || (u.Role != models.UserRoleManagement && u.Role != models.UserRoleAdmin) {
			continue
		}
		if hostelID != "" && (u.HostelID == nil || *u.HostelID != hostelID) {
			continue
		}
		out = append(out, u.ID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MemoryStore) Notifications(userID string) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
