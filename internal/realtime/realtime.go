package realtime

import (
	"context"
	"errors"
	"time"
)

const (
	ManagementRoom = "management-room"
	StudentRoom    = "student-room"
)

const (
	EventNewIssue           = "new_issue"
	EventNewIssueManagement = "new_issue_management"
	EventDuplicateDetected  = "duplicate_issue_detected"
	EventIssueUpdated       = "issue_updated"
	EventStatusChanged      = "status_changed"
	EventNotification       = "notification"
)

// Broadcaster publishes an event to every subscriber of a room. Delivery and
// ordering are the transport's concern.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

type Envelope struct {
	Room    string    `json:"room"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

func UserRoom(id string) string   { return "user:" + id }
func HostelRoom(id string) string { return "hostel:" + id }
func BlockRoom(id string) string  { return "block:" + id }
func IssueRoom(id string) string  { return "issue:" + id }

// Fanout publishes to every broadcaster and joins their errors.
type Fanout []Broadcaster

func (f Fanout) Publish(ctx context.Context, room, event string, payload any) error {
	var errs []error
	for _, b := range f {
		if err := b.Publish(ctx, room, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
