package models

import "time"

type Issue struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Category           Category   `json:"category"`
	Priority           Priority   `json:"priority"`
	Status             Status     `json:"status"`
	HostelID           string     `json:"hostel_id"`
	BlockID            *string    `json:"block_id,omitempty"`
	RoomNumber         string     `json:"room_number,omitempty"`
	ReporterID         string     `json:"reporter_id"`
	AssigneeID         *string    `json:"assignee_id,omitempty"`
	IsPublic           bool       `json:"is_public"`
	AICategory         Category   `json:"ai_category,omitempty"`
	AIPriority         Priority   `json:"ai_priority,omitempty"`
	AIConfidence       float64    `json:"ai_confidence"`
	SimilarIssueIDs    []string   `json:"similar_issue_ids,omitempty"`
	DuplicateOf        *string    `json:"duplicate_of,omitempty"`
	DuplicateCount     int        `json:"duplicate_count"`
	DuplicateReporters []string   `json:"duplicate_reporters,omitempty"`
	IsDuplicateMaster  bool       `json:"is_duplicate_master"`
	IsDeleted          bool       `json:"-"`
	ReportedAt         time.Time  `json:"reported_at"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Staff struct {
	ID                 string     `json:"id"`
	FullName           string     `json:"full_name"`
	Role               StaffRole  `json:"role"`
	Phone              string     `json:"phone,omitempty"`
	Email              string     `json:"email,omitempty"`
	ExpertiseTags      []Category `json:"expertise_categories"`
	HostelIDs          []string   `json:"assigned_hostels"`
	BlockIDs           []string   `json:"assigned_blocks"`
	CurrentWorkload    int        `json:"current_workload"`
	TotalIssuesHandled int        `json:"total_issues_handled"`
	AvgResolutionTime  *float64   `json:"avg_resolution_time"`
	SatisfactionScore  *float64   `json:"satisfaction_score"`
	IsActive           bool       `json:"is_active"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type StatusHistory struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Status    Status    `json:"status"`
	UpdatedBy string    `json:"updated_by"`
	Remarks   string    `json:"remarks"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

type PastIssue struct {
	Title          string  `json:"title"`
	Category       string  `json:"category"`
	Solution       string  `json:"solution"`
	Staff          string  `json:"staff,omitempty"`
	ResolutionTime float64 `json:"resolution_time"`
}

type ClassificationResult struct {
	Category                 Category    `json:"category"`
	Priority                 Priority    `json:"priority"`
	SuggestedCategory        Category    `json:"suggested_category"`
	SuggestedPriority        Priority    `json:"suggested_priority"`
	Confidence               float64     `json:"confidence"`
	Reasoning                string      `json:"reasoning"`
	Fallback                 bool        `json:"fallback"`
	SuggestedSolution        *string     `json:"suggested_solution,omitempty"`
	SimilarPastIssues        []PastIssue `json:"similar_past_issues,omitempty"`
	EstimatedResolutionHours *float64    `json:"estimated_resolution_hours,omitempty"`
	RecommendedStaff         *string     `json:"recommended_staff,omitempty"`
}

type Recommendation struct {
	Rank       int    `json:"rank"`
	Staff      Staff  `json:"staff"`
	Score      int    `json:"score"`
	Reason     string `json:"reason"`
	AutoAssign bool   `json:"should_auto_assign"`
}

type SimilarIssue struct {
	Issue Issue   `json:"issue"`
	Score float64 `json:"similarity_score"`
}

type CandidateFilter struct {
	HostelID   string
	BlockID    *string
	Category   Category
	ReportedAt time.Time
}

type IssueFilter struct {
	HostelID string
	Category Category
	Status   Status
	Priority Priority
	Limit    int
	Offset   int
}

type StaffFilter struct {
	Category   Category
	Roles      []StaffRole
	ActiveOnly bool
}

// StatusChange is applied only while the issue is still in From.
// WorkloadDelta is added to the assignee's workload in the same transaction.
type StatusChange struct {
	IssueID       string
	From          Status
	To            Status
	ActorID       string
	Remarks       string
	At            time.Time
	WorkloadDelta int
	ClearAssignee bool
	Recompute     bool
}

type Assignment struct {
	IssueID string
	StaffID string
	ActorID string
	Remarks string
	At      time.Time
}

type KnowledgeEntry struct {
	IssueID         string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Category        string  `json:"category"`
	Priority        string  `json:"priority"`
	Solution        string  `json:"solution"`
	StaffName       string  `json:"staff"`
	ResolutionHours float64 `json:"resolution_time"`
	HostelID        string  `json:"hostel"`
}

type DuplicateLink struct {
	IssueID    string
	MasterID   string
	ReporterID string
	ActorID    string
	Remarks    string
	At         time.Time
}

type User struct {
	ID       string  `json:"id"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
	HostelID *string `json:"hostel_id,omitempty"`
	IsActive bool    `json:"is_active"`
}
