package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/smartward/backend/internal/models"
)

const (
	maxRecommendations     = 3
	autoAssignMinConf      = 0.85
	autoAssignMinScore     = 70
	aiBonusMinSubtotal     = 50.0
	fastResolverHours      = 48.0
	highSatisfaction       = 4.0
	workloadBasePoints     = 25
	workloadPointsPerIssue = 5
)

var categoryRoles = map[models.Category][]models.StaffRole{
	models.CategoryPlumbing:    {models.RolePlumber, models.RoleGeneralMaintenance},
	models.CategoryElectrical:  {models.RoleElectrician, models.RoleGeneralMaintenance},
	models.CategoryCleanliness: {models.RoleCleaner},
	models.CategoryInternet:    {models.RoleITSupport},
	models.CategoryFurniture:   {models.RoleCarpenter, models.RoleGeneralMaintenance},
	models.CategoryMaintenance: {models.RoleGeneralMaintenance, models.RoleCarpenter},
	models.CategoryMessFood:    {models.RoleMessManager},
	models.CategorySecurity:    {models.RoleSecurity},
	models.CategoryMedical:     {models.RoleMedical},
	models.CategoryOther:       {models.RoleGeneralMaintenance},
}

var priorityWeights = map[models.Priority]float64{
	models.PriorityEmergency: 5.0,
	models.PriorityHigh:      3.0,
	models.PriorityMedium:    1.5,
	models.PriorityLow:       1.0,
}

// RolesFor returns the staff roles that handle a category.
func RolesFor(c models.Category) []models.StaffRole {
	if roles, ok := categoryRoles[c]; ok {
		return roles
	}
	return []models.StaffRole{models.RoleGeneralMaintenance}
}

func PriorityWeight(p models.Priority) float64 {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return 1.0
}

func hasExpertise(s models.Staff, c models.Category) bool {
	for _, tag := range s.ExpertiseTags {
		if tag == c {
			return true
		}
	}
	return false
}

func roleMatches(s models.Staff, c models.Category) bool {
	for _, r := range RolesFor(c) {
		if s.Role == r {
			return true
		}
	}
	return false
}

// IsEligible: active, and either tagged with the category or in a role that handles it.
func IsEligible(s models.Staff, c models.Category) bool {
	return s.IsActive && (hasExpertise(s, c) || roleMatches(s, c))
}

func Eligible(staff []models.Staff, c models.Category) []models.Staff {
	out := make([]models.Staff, 0, len(staff))
	for _, s := range staff {
		if IsEligible(s, c) {
			out = append(out, s)
		}
	}
	return out
}

type ScoreInput struct {
	Category   models.Category
	Priority   models.Priority
	Confidence float64
	HostelID   string
	BlockID    *string
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func workloadPoints(workload int) float64 {
	return math.Max(0, float64(workloadBasePoints-workload*workloadPointsPerIssue))
}

// scoreOne returns the unweighted subtotal and the triggered reasons in evaluation order.
func scoreOne(s models.Staff, in ScoreInput) (float64, []string) {
	var (
		subtotal float64
		reasons  []string
	)

	switch {
	case hasExpertise(s, in.Category):
		subtotal += 30
		reasons = append(reasons, "Expert in this category")
	case roleMatches(s, in.Category):
		subtotal += 20
		reasons = append(reasons, "Role matches category")
	}

	subtotal += workloadPoints(s.CurrentWorkload)
	switch {
	case s.CurrentWorkload == 0:
		reasons = append(reasons, "Currently available")
	case s.CurrentWorkload < 3:
		reasons = append(reasons, "Light workload")
	}

	if in.HostelID != "" && contains(s.HostelIDs, in.HostelID) {
		subtotal += 15
		reasons = append(reasons, "Assigned to this hostel")
	}
	if in.BlockID != nil && contains(s.BlockIDs, *in.BlockID) {
		subtotal += 5
		reasons = append(reasons, "Assigned to this block")
	}

	if s.AvgResolutionTime != nil && *s.AvgResolutionTime < fastResolverHours {
		subtotal += 10
		reasons = append(reasons, fmt.Sprintf("Fast resolver (%.1fh avg)", *s.AvgResolutionTime))
	}
	if s.SatisfactionScore != nil && *s.SatisfactionScore > highSatisfaction {
		subtotal += 5
		reasons = append(reasons, fmt.Sprintf("High satisfaction (%.1f/5)", *s.SatisfactionScore))
	}

	if in.Priority == models.PriorityEmergency && s.CurrentWorkload == 0 {
		subtotal += 10
		reasons = append(reasons, "Available for emergency")
	}

	if in.Confidence > autoAssignMinConf && subtotal > aiBonusMinSubtotal {
		subtotal += math.Round(in.Confidence * 10)
		reasons = append(reasons, fmt.Sprintf("AI confidence: %d%%", int(math.Round(in.Confidence*100))))
	}
	return subtotal, reasons
}

// ScoreStaff ranks already-eligible staff and keeps the top three. Equal
// scores keep their input order.
func ScoreStaff(staff []models.Staff, in ScoreInput) []models.Recommendation {
	weight := PriorityWeight(in.Priority)

	recs := make([]models.Recommendation, 0, len(staff))
	for _, s := range staff {
		subtotal, reasons := scoreOne(s, in)
		recs = append(recs, models.Recommendation{
			Staff:  s,
			Score:  int(math.Round(subtotal * weight)),
			Reason: strings.Join(reasons, ", "),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	for i := range recs {
		recs[i].Rank = i + 1
	}
	if len(recs) > 0 {
		recs[0].AutoAssign = ShouldAutoAssign(in.Confidence, recs[0].Score)
	}
	return recs
}

func ShouldAutoAssign(confidence float64, score int) bool {
	return confidence > autoAssignMinConf && score > autoAssignMinScore
}
