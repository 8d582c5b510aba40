package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smartward/backend/internal/ai"
	"github.com/smartward/backend/internal/db"
	"github.com/smartward/backend/internal/models"
	"github.com/smartward/backend/internal/notify"
	"github.com/smartward/backend/internal/realtime"
)

const systemActor = "system"

type Outcome string

const (
	OutcomeCreated              Outcome = "created"
	OutcomeDuplicateLinked      Outcome = "duplicate_linked"
	OutcomeConfirmationRequired Outcome = "confirmation_required"
)

type IssueDraft struct {
	Title       string
	Description string
	Category    models.Category
	Priority    models.Priority
	HostelID    string
	BlockID     *string
	RoomNumber  string
	ReporterID  string
	IsPublic    *bool
	Force       bool
}

type NewIssueResult struct {
	Outcome         Outcome                     `json:"outcome"`
	Issue           *models.Issue               `json:"issue,omitempty"`
	Classification  models.ClassificationResult `json:"classification"`
	Duplicate       DuplicateCheck              `json:"duplicate"`
	Recommendations []models.Recommendation     `json:"recommendations"`
	AutoAssigned    bool                        `json:"auto_assigned"`
}

type StatusUpdate struct {
	IssueID string
	Status  models.Status
	ActorID string
	Remarks string
	StaffID string
}

// Orchestrator runs the new-issue pipeline and the issue lifecycle. Only
// persistence failures are returned; classifier, knowledge-base, notification
// and broadcast failures are logged.
type Orchestrator struct {
	Issues      IssueStore
	Staff       StaffDirectory
	Classifier  *ClassificationAdapter
	Duplicates  *DuplicateDetector
	KB          ai.KnowledgeBase
	Notifier    Notifier
	Broadcaster realtime.Broadcaster
	Logger      zerolog.Logger

	ConfirmThreshold   float64
	TitleFailsafeScore float64
	KBAddTimeout       time.Duration
	SideEffectTimeout  time.Duration
	Now                func() time.Time

	wg sync.WaitGroup
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Wait blocks until background side effects have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) background(ctx context.Context, op, issueID string, fn func(ctx context.Context) error) {
	timeout := o.SideEffectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			o.Logger.Warn().Err(&DegradedError{Op: op, Err: err}).Str("op", op).Str("issue_id", issueID).Msg("best-effort call failed")
		}
	}()
}

func (o *Orchestrator) publish(ctx context.Context, room, event string, payload any) error {
	if o.Broadcaster == nil {
		return nil
	}
	return o.Broadcaster.Publish(ctx, room, event, payload)
}

func (o *Orchestrator) notifyUser(ctx context.Context, n models.Notification) error {
	if o.Notifier == nil {
		return nil
	}
	_, err := o.Notifier.NotifyUser(ctx, n)
	return err
}

func validateDraft(d IssueDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(d.Description) == "" {
		return &ValidationError{Field: "description", Message: "description is required"}
	}
	if strings.TrimSpace(d.HostelID) == "" {
		return &ValidationError{Field: "hostel_id", Message: "a hostel is required"}
	}
	if d.BlockID != nil && strings.TrimSpace(*d.BlockID) == "" {
		return &ValidationError{Field: "block_id", Message: "block must not be blank"}
	}
	if d.ReporterID == "" {
		return &ValidationError{Field: "reporter_id", Message: "reporter is required"}
	}
	if d.Category != "" {
		if _, ok := models.ParseCategory(string(d.Category)); !ok {
			return &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", d.Category)}
		}
	}
	if d.Priority != "" {
		if _, ok := models.ParsePriority(string(d.Priority)); !ok {
			return &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", d.Priority)}
		}
	}
	return nil
}

// HandleNewIssue classifies the report, checks it for duplicates, persists
// it and ranks staff, auto-assigning when the top recommendation qualifies.
func (o *Orchestrator) HandleNewIssue(ctx context.Context, d IssueDraft) (NewIssueResult, error) {
	if err := validateDraft(d); err != nil {
		return NewIssueResult{}, err
	}
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)

	class := o.Classifier.Classify(ctx, d.Title, d.Description, d.Category, d.Priority)
	dup := o.checkDuplicates(ctx, d, class.Category)
	res := NewIssueResult{Classification: class, Duplicate: dup}

	if dup.IsDuplicate && dup.Master != nil && !d.Force {
		linked, err := o.linkNewDuplicate(ctx, d, res)
		if !errors.Is(err, errMasterGone) {
			return linked, err
		}
		o.Logger.Warn().Str("master_id", dup.Master.ID).Msg("duplicate master no longer linkable; creating issue normally")
		dup = DuplicateCheck{}
		res.Duplicate = dup
	}
	if !d.Force && dup.Score >= o.confirmThreshold() && dup.Score < o.Duplicates.threshold() {
		res.Outcome = OutcomeConfirmationRequired
		return res, nil
	}

	issue := o.newIssue(d, class, dup)
	if err := o.Issues.CreateIssue(ctx, issue, d.ReporterID); err != nil {
		o.Logger.Error().Err(err).Str("reporter_id", d.ReporterID).Msg("create issue failed")
		return NewIssueResult{}, fmt.Errorf("create issue: %w", err)
	}

	res.Outcome = OutcomeCreated
	res.Recommendations = o.rank(ctx, issue, class.Confidence)
	if len(res.Recommendations) > 0 && res.Recommendations[0].AutoAssign {
		top := res.Recommendations[0].Staff
		assigned, err := o.Issues.AssignIssue(ctx, models.Assignment{
			IssueID: issue.ID,
			StaffID: top.ID,
			ActorID: systemActor,
			Remarks: "Auto-assigned to " + top.FullName,
			At:      o.now(),
		})
		if err != nil {
			o.Logger.Warn().Err(&DegradedError{Op: "auto_assign", Err: err}).Str("issue_id", issue.ID).Str("staff_id", top.ID).Msg("auto-assign skipped")
		} else {
			issue = assigned
			res.AutoAssigned = true
		}
	}
	res.Issue = &issue

	o.announceNewIssue(ctx, issue, class, res.AutoAssigned)
	return res, nil
}

func (o *Orchestrator) confirmThreshold() float64 {
	if o.ConfirmThreshold > 0 {
		return o.ConfirmThreshold
	}
	return 0.75
}

func (o *Orchestrator) titleFailsafeScore() float64 {
	if o.TitleFailsafeScore > 0 {
		return o.TitleFailsafeScore
	}
	return 0.98
}

// checkDuplicates runs the similarity check and the exact-title lookup
// concurrently. The title match only counts when similarity found nothing.
func (o *Orchestrator) checkDuplicates(ctx context.Context, d IssueDraft, category models.Category) DuplicateCheck {
	var (
		check      DuplicateCheck
		titleMatch *models.Issue
		g          errgroup.Group
	)
	g.Go(func() error {
		check = o.Duplicates.CheckForDuplicate(ctx, DuplicateQuery{
			Title:       d.Title,
			Description: d.Description,
			Category:    category,
			HostelID:    d.HostelID,
			BlockID:     d.BlockID,
		})
		return nil
	})
	g.Go(func() error {
		m, err := o.Issues.FindOpenIssueByTitle(ctx, d.HostelID, d.Title)
		if err != nil {
			return &DegradedError{Op: "title_lookup", Err: err}
		}
		titleMatch = m
		return nil
	})
	if err := g.Wait(); err != nil {
		o.Logger.Warn().Err(err).Msg("exact-title check skipped")
	}

	if check.Score == 0 && titleMatch != nil {
		score := o.titleFailsafeScore()
		check = DuplicateCheck{
			IsDuplicate:    score >= o.Duplicates.threshold(),
			Master:         titleMatch,
			Score:          score,
			Recommendation: DuplicateRecommendation(score, *titleMatch),
			TitleMatch:     true,
		}
	}
	return check
}

func (o *Orchestrator) newIssue(d IssueDraft, class models.ClassificationResult, dup DuplicateCheck) models.Issue {
	now := o.now()
	isPublic := true
	if d.IsPublic != nil {
		isPublic = *d.IsPublic
	}
	similar := make([]string, 0, len(dup.SimilarIssues))
	for _, s := range dup.SimilarIssues {
		similar = append(similar, s.Issue.ID)
	}
	return models.Issue{
		ID:              uuid.NewString(),
		Title:           d.Title,
		Description:     d.Description,
		Category:        class.Category,
		Priority:        class.Priority,
		Status:          models.StatusReported,
		HostelID:        d.HostelID,
		BlockID:         d.BlockID,
		RoomNumber:      d.RoomNumber,
		ReporterID:      d.ReporterID,
		IsPublic:        isPublic,
		AICategory:      class.SuggestedCategory,
		AIPriority:      class.SuggestedPriority,
		AIConfidence:    class.Confidence,
		SimilarIssueIDs: similar,
		ReportedAt:      now,
		UpdatedAt:       now,
	}
}

var errMasterGone = errors.New("duplicate master was deleted or merged")

// linkNewDuplicate stores the report already closed against the master. When
// the master disappeared after the check it returns errMasterGone and nothing
// has been written.
func (o *Orchestrator) linkNewDuplicate(ctx context.Context, d IssueDraft, res NewIssueResult) (NewIssueResult, error) {
	issue := o.newIssue(d, res.Classification, DuplicateCheck{})
	masterID := res.Duplicate.Master.ID
	master, err := o.Issues.CreateDuplicateIssue(ctx, issue, models.DuplicateLink{
		IssueID:    issue.ID,
		MasterID:   masterID,
		ReporterID: d.ReporterID,
		ActorID:    systemActor,
		Remarks:    "Duplicate of " + masterID,
		At:         o.now(),
	})
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrAlreadyLinked):
		return NewIssueResult{}, errMasterGone
	case err != nil:
		o.Logger.Error().Err(err).Str("reporter_id", d.ReporterID).Str("master_id", masterID).Msg("create duplicate issue failed")
		return NewIssueResult{}, fmt.Errorf("create duplicate issue: %w", err)
	}
	linked, err := o.Issues.GetIssue(ctx, issue.ID)
	if err != nil {
		return NewIssueResult{}, fmt.Errorf("reload duplicate: %w", err)
	}

	res.Outcome = OutcomeDuplicateLinked
	res.Issue = &linked
	res.Duplicate.Master = &master

	score := res.Duplicate.Score
	o.background(ctx, "broadcast_duplicate", issue.ID, func(ctx context.Context) error {
		return o.publish(ctx, realtime.ManagementRoom, realtime.EventDuplicateDetected, map[string]any{
			"master_issue_id":  masterID,
			"issue_id":         linked.ID,
			"similarity_score": score,
		})
	})
	return res, nil
}

func (o *Orchestrator) rank(ctx context.Context, issue models.Issue, confidence float64) []models.Recommendation {
	staff, err := o.Staff.ListStaff(ctx, models.StaffFilter{
		Category:   issue.Category,
		Roles:      RolesFor(issue.Category),
		ActiveOnly: true,
	})
	if err != nil {
		o.Logger.Warn().Err(&DegradedError{Op: "list_staff", Err: err}).Str("issue_id", issue.ID).Msg("no recommendations")
		return nil
	}
	return ScoreStaff(Eligible(staff, issue.Category), ScoreInput{
		Category:   issue.Category,
		Priority:   issue.Priority,
		Confidence: confidence,
		HostelID:   issue.HostelID,
		BlockID:    issue.BlockID,
	})
}

func (o *Orchestrator) announceNewIssue(ctx context.Context, issue models.Issue, class models.ClassificationResult, autoAssigned bool) {
	if o.Notifier != nil {
		o.background(ctx, "notify_management", issue.ID, func(ctx context.Context) error {
			_, err := o.Notifier.NotifyManagement(ctx, issue.HostelID, models.Notification{
				Type:       notify.TypeIssueCreated,
				Title:      "New Issue Reported",
				Message:    fmt.Sprintf("%s priority %s issue: %s", issue.Priority, issue.Category, issue.Title),
				EntityType: notify.EntityIssue,
				EntityID:   issue.ID,
			})
			return err
		})
	}

	o.background(ctx, "broadcast_new_issue", issue.ID, func(ctx context.Context) error {
		payload := map[string]any{"issue": issue, "ai_analysis": class, "auto_assigned": autoAssigned}
		errs := []error{
			o.publish(ctx, realtime.HostelRoom(issue.HostelID), realtime.EventNewIssue, payload),
			o.publish(ctx, realtime.ManagementRoom, realtime.EventNewIssueManagement, map[string]any{
				"issue":       issue,
				"priority":    issue.Priority,
				"reporter_id": issue.ReporterID,
			}),
		}
		if issue.BlockID != nil {
			errs = append(errs, o.publish(ctx, realtime.BlockRoom(*issue.BlockID), realtime.EventNewIssue, payload))
		}
		return errors.Join(errs...)
	})
}

// AssignIssue assigns or reassigns an issue that is still awaiting work.
func (o *Orchestrator) AssignIssue(ctx context.Context, issueID, staffID, actorID, remarks string) (models.Issue, error) {
	if staffID == "" {
		return models.Issue{}, &ValidationError{Field: "staff_id", Message: "staff member is required"}
	}
	issue, err := o.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return models.Issue{}, err
	}
	if issue.Status != models.StatusReported && issue.Status != models.StatusAssigned {
		return models.Issue{}, conflictf("cannot assign an issue in status %s", issue.Status)
	}
	staff, err := o.Staff.GetStaff(ctx, staffID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Issue{}, &ValidationError{Field: "staff_id", Message: "staff member not found"}
		}
		return models.Issue{}, err
	}
	if !staff.IsActive {
		return models.Issue{}, conflictf("cannot assign an inactive staff member")
	}
	if remarks == "" {
		remarks = "Assigned to " + staff.FullName
	}

	updated, err := o.Issues.AssignIssue(ctx, models.Assignment{
		IssueID: issueID,
		StaffID: staffID,
		ActorID: actorID,
		Remarks: remarks,
		At:      o.now(),
	})
	if err != nil {
		return models.Issue{}, storeError(err)
	}

	o.background(ctx, "notify_assignment", issueID, func(ctx context.Context) error {
		return errors.Join(
			o.notifyUser(ctx, models.Notification{
				UserID:     updated.ReporterID,
				Type:       notify.TypeIssueStatusUpdated,
				Title:      "Issue Assigned",
				Message:    "Your issue has been assigned to " + staff.FullName,
				EntityType: notify.EntityIssue,
				EntityID:   updated.ID,
			}),
			o.publish(ctx, realtime.UserRoom(updated.ReporterID), realtime.EventIssueUpdated, updated),
		)
	})
	return updated, nil
}

// UpdateStatus moves an issue through the lifecycle. REPORTED→ASSIGNED needs
// a staff member and goes through AssignIssue.
func (o *Orchestrator) UpdateStatus(ctx context.Context, u StatusUpdate) (models.Issue, error) {
	issue, err := o.Issues.GetIssue(ctx, u.IssueID)
	if err != nil {
		return models.Issue{}, err
	}
	if !CanTransition(issue.Status, u.Status) {
		return models.Issue{}, invalidTransition(issue.Status, u.Status)
	}
	if u.Status == models.StatusAssigned && issue.Status == models.StatusReported {
		if u.StaffID == "" {
			return models.Issue{}, conflictf("issue has no assignee; assign a staff member to move it to %s", u.Status)
		}
		return o.AssignIssue(ctx, u.IssueID, u.StaffID, u.ActorID, u.Remarks)
	}

	ch, err := planStatusChange(issue, u.Status, u.ActorID, u.Remarks, o.now())
	if err != nil {
		return models.Issue{}, err
	}
	updated, err := o.Issues.TransitionIssue(ctx, ch)
	if err != nil {
		return models.Issue{}, storeError(err)
	}

	if issue.AssigneeID != nil && ch.WorkloadDelta < 0 && (ch.To == models.StatusResolved || ch.To == models.StatusClosed) {
		o.addToKnowledgeBase(ctx, updated, *issue.AssigneeID, u.Remarks)
	}
	o.announceStatus(ctx, updated, u.ActorID)
	return updated, nil
}

func (o *Orchestrator) addToKnowledgeBase(ctx context.Context, issue models.Issue, staffID, remarks string) {
	if o.KB == nil {
		return
	}
	o.background(ctx, "knowledge_base_add", issue.ID, func(ctx context.Context) error {
		staffName := "Unknown"
		if s, err := o.Staff.GetStaff(ctx, staffID); err == nil {
			staffName = s.FullName
		}
		solution := strings.TrimSpace(remarks)
		if solution == "" {
			solution = "Issue resolved successfully"
		}
		timeout := o.KBAddTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		_, err := runWithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.KB.Add(ctx, models.KnowledgeEntry{
				IssueID:         issue.ID,
				Title:           issue.Title,
				Description:     issue.Description,
				Category:        string(issue.Category),
				Priority:        string(issue.Priority),
				Solution:        solution,
				StaffName:       staffName,
				ResolutionHours: resolutionHours(issue),
				HostelID:        issue.HostelID,
			})
		})
		return err
	})
}

func resolutionHours(issue models.Issue) float64 {
	if issue.AssignedAt == nil {
		return 0
	}
	end := issue.ResolvedAt
	if end == nil {
		end = issue.ClosedAt
	}
	if end == nil {
		return 0
	}
	h := end.Sub(*issue.AssignedAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func (o *Orchestrator) announceStatus(ctx context.Context, issue models.Issue, actorID string) {
	o.background(ctx, "announce_status", issue.ID, func(ctx context.Context) error {
		return errors.Join(
			o.notifyUser(ctx, models.Notification{
				UserID:     issue.ReporterID,
				Type:       notify.TypeIssueStatusUpdated,
				Title:      "Issue " + string(issue.Status),
				Message:    fmt.Sprintf("Your issue %q is now %s", issue.Title, strings.ToLower(string(issue.Status))),
				EntityType: notify.EntityIssue,
				EntityID:   issue.ID,
			}),
			o.publish(ctx, realtime.UserRoom(issue.ReporterID), realtime.EventIssueUpdated, map[string]any{
				"issue_id": issue.ID,
				"status":   issue.Status,
				"message":  "Your issue status changed to " + string(issue.Status),
			}),
			o.publish(ctx, realtime.IssueRoom(issue.ID), realtime.EventStatusChanged, map[string]any{
				"issue_id":   issue.ID,
				"status":     issue.Status,
				"updated_by": actorID,
			}),
		)
	})
}

// MergeIssue links issueID as a duplicate of targetID and closes it.
func (o *Orchestrator) MergeIssue(ctx context.Context, issueID, targetID, actorID string) (models.Issue, error) {
	if issueID == targetID {
		return models.Issue{}, &ValidationError{Field: "target_id", Message: "an issue cannot be merged into itself"}
	}
	issue, err := o.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return models.Issue{}, err
	}
	target, err := o.Issues.GetIssue(ctx, targetID)
	if err != nil {
		return models.Issue{}, err
	}
	if issue.DuplicateOf != nil {
		return models.Issue{}, conflictf("issue is already linked to %s", *issue.DuplicateOf)
	}
	if target.DuplicateOf != nil {
		return models.Issue{}, conflictf("target issue is itself a duplicate of %s", *target.DuplicateOf)
	}

	master, err := o.Duplicates.LinkDuplicate(ctx, issueID, targetID, issue.ReporterID, actorID, "Merged as duplicate of "+targetID)
	if err != nil {
		return models.Issue{}, err
	}

	o.background(ctx, "notify_merge", issueID, func(ctx context.Context) error {
		return errors.Join(
			o.notifyUser(ctx, models.Notification{
				UserID:     issue.ReporterID,
				Type:       notify.TypeIssueDuplicate,
				Title:      "Issue Merged",
				Message:    fmt.Sprintf("Your issue %q was merged into Issue #%s", issue.Title, shortID(targetID)),
				EntityType: notify.EntityIssue,
				EntityID:   targetID,
			}),
			o.publish(ctx, realtime.UserRoom(issue.ReporterID), realtime.EventIssueUpdated, map[string]any{
				"issue_id":        issueID,
				"status":          models.StatusClosed,
				"master_issue_id": targetID,
			}),
		)
	})
	return master, nil
}

// Recommendations recomputes the top staff for a stored issue using its
// recorded AI confidence.
func (o *Orchestrator) Recommendations(ctx context.Context, issueID string) ([]models.Recommendation, error) {
	issue, err := o.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	staff, err := o.Staff.ListStaff(ctx, models.StaffFilter{
		Category:   issue.Category,
		Roles:      RolesFor(issue.Category),
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return ScoreStaff(Eligible(staff, issue.Category), ScoreInput{
		Category:   issue.Category,
		Priority:   issue.Priority,
		Confidence: issue.AIConfidence,
		HostelID:   issue.HostelID,
		BlockID:    issue.BlockID,
	}), nil
}

func (o *Orchestrator) ListDuplicates(ctx context.Context, masterID string) ([]models.Issue, error) {
	if _, err := o.Issues.GetIssue(ctx, masterID); err != nil {
		return nil, err
	}
	return o.Issues.ListDuplicates(ctx, masterID)
}

func (o *Orchestrator) GetIssue(ctx context.Context, id string) (models.Issue, error) {
	return o.Issues.GetIssue(ctx, id)
}

func (o *Orchestrator) ListIssues(ctx context.Context, f models.IssueFilter) ([]models.Issue, error) {
	return o.Issues.ListIssues(ctx, f)
}

func (o *Orchestrator) History(ctx context.Context, issueID string) ([]models.StatusHistory, error) {
	if _, err := o.Issues.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	return o.Issues.ListStatusHistory(ctx, issueID)
}

func (o *Orchestrator) DeleteIssue(ctx context.Context, id string) error {
	return o.Issues.SoftDeleteIssue(ctx, id)
}

func (o *Orchestrator) ListStaff(ctx context.Context, f models.StaffFilter) ([]models.Staff, error) {
	return o.Staff.ListStaff(ctx, f)
}
