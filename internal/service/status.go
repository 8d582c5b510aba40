package service

import (
	"time"

	"github.com/smartward/backend/internal/models"
)

var transitions = map[models.Status][]models.Status{
	models.StatusReported:   {models.StatusAssigned, models.StatusRejected, models.StatusClosed},
	models.StatusAssigned:   {models.StatusInProgress, models.StatusReported, models.StatusClosed},
	models.StatusInProgress: {models.StatusResolved, models.StatusAssigned, models.StatusClosed},
	models.StatusResolved:   {models.StatusClosed, models.StatusInProgress},
	models.StatusClosed:     {},
	models.StatusRejected:   {},
}

func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to models.Status) error {
	return conflictf("invalid status transition from %s to %s", from, to)
}

// planStatusChange validates from→to and works out the workload bookkeeping.
// The assignee is released once, when the issue leaves the open states, and
// picked up again on reopen.
func planStatusChange(issue models.Issue, to models.Status, actorID, remarks string, at time.Time) (models.StatusChange, error) {
	from := issue.Status
	if !CanTransition(from, to) {
		return models.StatusChange{}, invalidTransition(from, to)
	}
	if to == models.StatusAssigned && issue.AssigneeID == nil {
		return models.StatusChange{}, conflictf("issue has no assignee; assign a staff member to move it to %s", to)
	}
	if remarks == "" {
		remarks = "Status updated to " + string(to)
	}

	ch := models.StatusChange{
		IssueID: issue.ID,
		From:    from,
		To:      to,
		ActorID: actorID,
		Remarks: remarks,
		At:      at,
	}
	if issue.AssigneeID == nil {
		return ch, nil
	}

	switch {
	case (to == models.StatusResolved || to == models.StatusClosed) && from.IsOpen():
		ch.WorkloadDelta = -1
		ch.Recompute = true
	case to == models.StatusClosed && from == models.StatusResolved:
		ch.Recompute = true
	case from == models.StatusAssigned && to == models.StatusReported:
		ch.WorkloadDelta = -1
		ch.ClearAssignee = true
	case from == models.StatusResolved && to == models.StatusInProgress:
		ch.WorkloadDelta = 1
	}
	return ch, nil
}
