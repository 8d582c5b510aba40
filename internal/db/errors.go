package db

import (
	"errors"

	"github.com/smartward/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStatusChanged = errors.New("issue status changed concurrently")
	ErrStaffInactive = errors.New("staff member is inactive")
	ErrAlreadyLinked = errors.New("issue is already linked as a duplicate")
)

func applyStatusChange(issue *models.Issue, ch models.StatusChange) {
	at := ch.At
	issue.Status = ch.To
	issue.UpdatedAt = at
	switch ch.To {
	case models.StatusResolved:
		issue.ResolvedAt = &at
	case models.StatusClosed:
		issue.ClosedAt = &at
	case models.StatusInProgress:
		if ch.From == models.StatusResolved {
			issue.ResolvedAt = nil
		}
	}
	if ch.ClearAssignee {
		issue.AssigneeID = nil
		issue.AssignedAt = nil
	}
}

func assignable(s models.Status) bool {
	return s == models.StatusReported || s == models.StatusAssigned
}
