package service

import (
	"context"

	"github.com/smartward/backend/internal/models"
)

// IssueStore is the persistence the pipeline needs. Workload changes and
// duplicate counters are applied atomically by the implementation.
type IssueStore interface {
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
}

type StaffDirectory interface {
	GetStaff(ctx context.Context, id string) (models.Staff, error)
	ListStaff(ctx context.Context, f models.StaffFilter) ([]models.Staff, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, n models.Notification) (models.Notification, error)
	NotifyManagement(ctx context.Context, hostelID string, n models.Notification) (int, error)
}
