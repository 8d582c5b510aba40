package models

import "strings"

type Category string

const (
	CategoryPlumbing    Category = "PLUMBING"
	CategoryElectrical  Category = "ELECTRICAL"
	CategoryCleanliness Category = "CLEANLINESS"
	CategoryInternet    Category = "INTERNET"
	CategoryFurniture   Category = "FURNITURE"
	CategoryMaintenance Category = "MAINTENANCE"
	CategoryMessFood    Category = "MESS_FOOD"
	CategoryMedical     Category = "MEDICAL"
	CategorySecurity    Category = "SECURITY"
	CategoryOther       Category = "OTHER"
)

var Categories = []Category{
	CategoryPlumbing,
	CategoryElectrical,
	CategoryCleanliness,
	CategoryInternet,
	CategoryFurniture,
	CategoryMaintenance,
	CategoryMessFood,
	CategoryMedical,
	CategorySecurity,
	CategoryOther,
}

type Priority string

const (
	PriorityLow       Priority = "LOW"
	PriorityMedium    Priority = "MEDIUM"
	PriorityHigh      Priority = "HIGH"
	PriorityEmergency Priority = "EMERGENCY"
)

type Status string

const (
	StatusReported   Status = "REPORTED"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
	StatusRejected   Status = "REJECTED"
)

// OpenStatuses are the states an issue can be in while work is still pending.
var OpenStatuses = []Status{StatusReported, StatusAssigned, StatusInProgress}

type StaffRole string

const (
	RolePlumber            StaffRole = "PLUMBER"
	RoleElectrician        StaffRole = "ELECTRICIAN"
	RoleCleaner            StaffRole = "CLEANER"
	RoleITSupport          StaffRole = "IT_SUPPORT"
	RoleCarpenter          StaffRole = "CARPENTER"
	RoleGeneralMaintenance StaffRole = "GENERAL_MAINTENANCE"
	RoleMessManager        StaffRole = "MESS_MANAGER"
	RoleSecurity           StaffRole = "SECURITY"
	RoleMedical            StaffRole = "MEDICAL"
	RoleOther              StaffRole = "OTHER"
)

const (
	UserRoleStudent    = "STUDENT"
	UserRoleStaff      = "STAFF"
	UserRoleManagement = "MANAGEMENT"
	UserRoleAdmin      = "ADMIN"
)

func ParseCategory(v string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

func ParsePriority(v string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(v)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityEmergency:
		return p, true
	}
	return "", false
}

func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StatusReported, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed, StatusRejected:
		return s, true
	}
	return "", false
}

func (s Status) IsOpen() bool {
	return s == StatusReported || s == StatusAssigned || s == StatusInProgress
}
