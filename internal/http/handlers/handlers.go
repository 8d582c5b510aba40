package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/smartward/backend/internal/http/middleware"
	"github.com/smartward/backend/internal/models"
	"github.com/smartward/backend/internal/realtime"
	"github.com/smartward/backend/internal/service"
)

type Issues interface {
	HandleNewIssue(ctx context.Context, d service.IssueDraft) (service.NewIssueResult, error)
	GetIssue(ctx context.Context, id string) (models.Issue, error)
	ListIssues(ctx context.Context, f models.IssueFilter) ([]models.Issue, error)
	History(ctx context.Context, issueID string) ([]models.StatusHistory, error)
	ListDuplicates(ctx context.Context, masterID string) ([]models.Issue, error)
	UpdateStatus(ctx context.Context, u service.StatusUpdate) (models.Issue, error)
	AssignIssue(ctx context.Context, issueID, staffID, actorID, remarks string) (models.Issue, error)
	MergeIssue(ctx context.Context, issueID, targetID, actorID string) (models.Issue, error)
	Recommendations(ctx context.Context, issueID string) ([]models.Recommendation, error)
	DeleteIssue(ctx context.Context, id string) error
	ListStaff(ctx context.Context, f models.StaffFilter) ([]models.Staff, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type EventStream interface {
	ServeSSE(w http.ResponseWriter, r *http.Request, rooms []string)
}

type Handler struct {
	Issues    Issues
	Store     Pinger
	Events    EventStream
	Validator *validator.Validate
	Logger    zerolog.Logger
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CreateIssueRequest struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"required,max=5000"`
	Category    string  `json:"category" validate:"omitempty,max=32"`
	Priority    string  `json:"priority" validate:"omitempty,max=16"`
	HostelID    string  `json:"hostel_id" validate:"omitempty,max=64"`
	BlockID     *string `json:"block_id" validate:"omitempty,max=64"`
	RoomNumber  string  `json:"room_number" validate:"omitempty,max=32"`
	IsPublic    *bool   `json:"is_public"`
	Force       bool    `json:"force_create"`
}

// @Summary Report an issue
// @Description Classifies the report, checks it for duplicates and auto-assigns when confident.
// @Tags issues
// @Accept json
// @Produce json
// @Param body body CreateIssueRequest true "issue"
// @Success 201 {object} map[string]any "created"
// @Success 200 {object} map[string]any "linked to an existing issue"
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any "possible duplicate, resend with force_create"
// @Router /api/issues [post]
func (h *Handler) CreateIssue(c *gin.Context) {
	p, _ := middleware.CurrentPrincipal(c)
	var req CreateIssueRequest
	if !h.bind(c, &req) {
		return
	}
	hostelID := req.HostelID
	if hostelID == "" {
		hostelID = p.HostelID
	}
	blockID := req.BlockID
	if blockID == nil && p.BlockID != "" {
		b := p.BlockID
		blockID = &b
	}

	res, err := h.Issues.HandleNewIssue(c.Request.Context(), service.IssueDraft{
		Title:       req.Title,
		Description: req.Description,
		Category:    models.Category(strings.ToUpper(strings.TrimSpace(req.Category))),
		Priority:    models.Priority(strings.ToUpper(strings.TrimSpace(req.Priority))),
		HostelID:    hostelID,
		BlockID:     blockID,
		RoomNumber:  req.RoomNumber,
		ReporterID:  p.UserID,
		IsPublic:    req.IsPublic,
		Force:       req.Force,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	switch res.Outcome {
	case service.OutcomeDuplicateLinked:
		c.JSON(http.StatusOK, gin.H{
			"is_duplicate":     true,
			"message":          "This issue has already been reported. Your report was linked to it.",
			"issue":            res.Issue,
			"master_issue":     res.Duplicate.Master,
			"similarity_score": res.Duplicate.Score,
			"recommendation":   res.Duplicate.Recommendation,
		})
	case service.OutcomeConfirmationRequired:
		var similar *models.Issue
		recommendation := res.Duplicate.Recommendation
		if res.Duplicate.Master != nil {
			similar = res.Duplicate.Master
		} else if len(res.Duplicate.SimilarIssues) > 0 {
			similar = &res.Duplicate.SimilarIssues[0].Issue
		}
		if recommendation == "" && similar != nil {
			recommendation = service.DuplicateRecommendation(res.Duplicate.Score, *similar)
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":    "POSSIBLE_DUPLICATE",
				"message": "A similar issue was reported recently",
			},
			"requires_confirmation": true,
			"similar_issue":         similar,
			"similar_issues":        res.Duplicate.SimilarIssues,
			"similarity_score":      res.Duplicate.Score,
			"recommendation":        recommendation,
		})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"issue":           res.Issue,
			"ai_analysis":     res.Classification,
			"recommendations": res.Recommendations,
			"auto_assigned":   res.AutoAssigned,
			"similar_issues":  res.Duplicate.SimilarIssues,
		})
	}
}

// @Summary List issues
// @Tags issues
// @Produce json
// @Param hostel_id query string false "hostel"
// @Param category query string false "category"
// @Param status query string false "status"
// @Param priority query string false "priority"
// @Param limit query int false "page size (max 200)"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/issues [get]
func (h *Handler) ListIssues(c *gin.Context) {
	p, _ := middleware.CurrentPrincipal(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	f := models.IssueFilter{
		HostelID: strings.TrimSpace(c.Query("hostel_id")),
		Category: models.Category(strings.ToUpper(strings.TrimSpace(c.Query("category")))),
		Status:   models.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Priority: models.Priority(strings.ToUpper(strings.TrimSpace(c.Query("priority")))),
		Limit:    limit,
		Offset:   offset,
	}
	if p.Role == models.UserRoleStudent && p.HostelID != "" {
		f.HostelID = p.HostelID
	}

	items, err := h.Issues.ListIssues(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []models.Issue{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// @Summary Get an issue
// @Tags issues
// @Produce json
// @Param id path string true "issue id"
// @Success 200 {object} models.Issue
// @Failure 404 {object} map[string]any
// @Router /api/issues/{id} [get]
func (h *Handler) GetIssue(c *gin.Context) {
	issue, err := h.Issues.GetIssue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// @Summary Status history of an issue
// @Tags issues
// @Produce json
// @Param id path string true "issue id"
// @Success 200 {object} map[string]any
// @Router /api/issues/{id}/history [get]
func (h *Handler) IssueHistory(c *gin.Context) {
	items, err := h.Issues.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Duplicates linked to an issue
// @Tags issues
// @Produce json
// @Param id path string true "master issue id"
// @Success 200 {object} map[string]any
// @Router /api/issues/{id}/duplicates [get]
func (h *Handler) IssueDuplicates(c *gin.Context) {
	items, err := h.Issues.ListDuplicates(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

type UpdateStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	Remarks string `json:"remarks" validate:"max=2000"`
	StaffID string `json:"staff_id"`
}

// @Summary Change issue status
// @Tags issues
// @Accept json
// @Produce json
// @Param id path string true "issue id"
// @Param body body UpdateStatusRequest true "new status"
// @Success 200 {object} models.Issue
// @Failure 409 {object} map[string]any
// @Router /api/issues/{id}/status [patch]
func (h *Handler) UpdateStatus(c *gin.Context) {
	p, _ := middleware.CurrentPrincipal(c)
	var req UpdateStatusRequest
	if !h.bind(c, &req) {
		return
	}
	status, ok := models.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", req.Status)
		return
	}

	issue, err := h.Issues.UpdateStatus(c.Request.Context(), service.StatusUpdate{
		IssueID: c.Param("id"),
		Status:  status,
		ActorID: p.UserID,
		Remarks: req.Remarks,
		StaffID: req.StaffID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

type AssignRequest struct {
	StaffID string `json:"staff_id" validate:"required"`
	Remarks string `json:"remarks" validate:"max=2000"`
}

// @Summary Assign an issue to a staff member
// @Tags issues
// @Accept json
// @Produce json
// @Param id path string true "issue id"
// @Param body body AssignRequest true "assignment"
// @Success 200 {object} models.Issue
// @Router /api/issues/{id}/assign [post]
func (h *Handler) AssignIssue(c *gin.Context) {
	p, _ := middleware.CurrentPrincipal(c)
	var req AssignRequest
	if !h.bind(c, &req) {
		return
	}
	issue, err := h.Issues.AssignIssue(c.Request.Context(), c.Param("id"), req.StaffID, p.UserID, req.Remarks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

type MergeRequest struct {
	TargetID string `json:"target_id" validate:"required"`
}

// @Summary Merge an issue into another as a duplicate
// @Tags issues
// @Accept json
// @Produce json
// @Param id path string true "issue to close"
// @Param body body MergeRequest true "master issue"
// @Success 200 {object} models.Issue "the master issue"
// @Router /api/issues/{id}/merge [post]
func (h *Handler) MergeIssue(c *gin.Context) {
	p, _ := middleware.CurrentPrincipal(c)
	var req MergeRequest
	if !h.bind(c, &req) {
		return
	}
	master, err := h.Issues.MergeIssue(c.Request.Context(), c.Param("id"), req.TargetID, p.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, master)
}

// @Summary Staff recommendations for an issue
// @Tags issues
// @Produce json
// @Param id path string true "issue id"
// @Success 200 {object} map[string]any
// @Router /api/issues/{id}/recommendations [get]
func (h *Handler) Recommendations(c *gin.Context) {
	recs, err := h.Issues.Recommendations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recs})
}

// @Summary Delete an issue
// @Tags issues
// @Param id path string true "issue id"
// @Success 204
// @Router /api/issues/{id} [delete]
func (h *Handler) DeleteIssue(c *gin.Context) {
	if err := h.Issues.DeleteIssue(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List staff
// @Tags staff
// @Produce json
// @Param category query string false "only staff who handle this category"
// @Param active query bool false "only active staff (default true)"
// @Success 200 {object} map[string]any
// @Router /api/staff [get]
func (h *Handler) ListStaff(c *gin.Context) {
	f := models.StaffFilter{ActiveOnly: c.DefaultQuery("active", "true") != "false"}
	if raw := c.Query("category"); raw != "" {
		category, ok := models.ParseCategory(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown category", raw)
			return
		}
		f.Category = category
		f.Roles = service.RolesFor(category)
	}
	items, err := h.Issues.ListStaff(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []models.Staff{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Realtime event stream
// @Description Server-sent events for the caller's rooms. Pass ?issue=<id> to follow one issue.
// @Tags events
// @Produce text/event-stream
// @Router /api/events [get]
func (h *Handler) StreamEvents(c *gin.Context) {
	p, _ := middleware.CurrentPrincipal(c)
	h.Events.ServeSSE(c.Writer, c.Request, roomsFor(p, c.QueryArray("issue")))
}

func roomsFor(p middleware.Principal, issueIDs []string) []string {
	rooms := []string{realtime.UserRoom(p.UserID)}
	switch p.Role {
	case models.UserRoleManagement, models.UserRoleAdmin:
		rooms = append(rooms, realtime.ManagementRoom)
	case models.UserRoleStudent:
		rooms = append(rooms, realtime.StudentRoom)
	}
	if p.HostelID != "" {
		rooms = append(rooms, realtime.HostelRoom(p.HostelID))
	}
	if p.BlockID != "" {
		rooms = append(rooms, realtime.BlockRoom(p.BlockID))
	}
	for _, id := range issueIDs {
		if id = strings.TrimSpace(id); id != "" {
			rooms = append(rooms, realtime.IssueRoom(id))
		}
	}
	return rooms
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(dst); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

// fail maps service errors onto the error envelope. Unknown errors are
// logged and hidden behind a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		verr     *service.ValidationError
		conflict *service.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), gin.H{"field": verr.Field})
	case errors.As(err, &conflict):
		writeError(c, http.StatusConflict, "CONFLICT", conflict.Reason, nil)
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	default:
		_ = c.Error(err)
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
