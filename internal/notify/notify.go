package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartward/backend/internal/models"
	"github.com/smartward/backend/internal/realtime"
)

const (
	TypeIssueCreated       = "ISSUE_CREATED"
	TypeIssueStatusUpdated = "ISSUE_STATUS_UPDATED"
	TypeIssueDuplicate     = "ISSUE_DUPLICATE_LINKED"

	EntityIssue = "issue"
)

type Store interface {
	InsertNotification(ctx context.Context, n models.Notification) error
	ListManagementUserIDs(ctx context.Context, hostelID string) ([]string, error)
}

// Service persists notifications and pushes them to the recipient's user room.
// Delivery is at most once; a failed push is logged and not retried.
type Service struct {
	Store       Store
	Broadcaster realtime.Broadcaster
	Logger      zerolog.Logger
}

func New(store Store, broadcaster realtime.Broadcaster, logger zerolog.Logger) *Service {
	return &Service{Store: store, Broadcaster: broadcaster, Logger: logger}
}

func (s *Service) NotifyUser(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.UserID == "" {
		return models.Notification{}, errors.New("notification has no recipient")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := s.Store.InsertNotification(ctx, n); err != nil {
		return models.Notification{}, err
	}

	if s.Broadcaster != nil {
		if err := s.Broadcaster.Publish(ctx, realtime.UserRoom(n.UserID), realtime.EventNotification, n); err != nil {
			s.Logger.Warn().Err(err).Str("user_id", n.UserID).Str("type", n.Type).Msg("notification push failed")
		}
	}
	return n, nil
}

// NotifyManagement sends n to every active MANAGEMENT or ADMIN user of the
// hostel, or of all hostels when hostelID is empty.
func (s *Service) NotifyManagement(ctx context.Context, hostelID string, n models.Notification) (int, error) {
	ids, err := s.Store.ListManagementUserIDs(ctx, hostelID)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, id := range ids {
		msg := n
		msg.ID = ""
		msg.UserID = id
		if _, err := s.NotifyUser(ctx, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
