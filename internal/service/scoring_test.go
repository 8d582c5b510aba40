package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartward/backend/internal/models"
)

func TestScoreStaffEmergencyExpert(t *testing.T) {
	staff := []models.Staff{{
		ID:                "a",
		Role:              models.RolePlumber,
		ExpertiseTags:     []models.Category{models.CategoryPlumbing},
		HostelIDs:         []string{"h1"},
		AvgResolutionTime: ptr(20.0),
		SatisfactionScore: ptr(4.5),
		IsActive:          true,
	}}

	recs := ScoreStaff(staff, ScoreInput{
		Category:   models.CategoryPlumbing,
		Priority:   models.PriorityEmergency,
		Confidence: 0.9,
		HostelID:   "h1",
	})
	require.Len(t, recs, 1)
	assert.Equal(t, 520, recs[0].Score)
	assert.Equal(t, 1, recs[0].Rank)
	assert.True(t, recs[0].AutoAssign)
	assert.Equal(t, "Expert in this category, Currently available, Assigned to this hostel, "+
		"Fast resolver (20.0h avg), High satisfaction (4.5/5), Available for emergency, AI confidence: 90%", recs[0].Reason)
}

func TestScoreStaffSortedAndCapped(t *testing.T) {
	var staff []models.Staff
	for i := 0; i < 6; i++ {
		staff = append(staff, models.Staff{
			ID:              fmt.Sprintf("s%d", i),
			Role:            models.RoleGeneralMaintenance,
			CurrentWorkload: 5 - i,
			IsActive:        true,
		})
	}

	recs := ScoreStaff(staff, ScoreInput{Category: models.CategoryPlumbing, Priority: models.PriorityMedium})
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
		assert.Equal(t, i+1, recs[i].Rank)
	}
	assert.Equal(t, "s5", recs[0].Staff.ID)
}

func TestScoreStaffTiesKeepInputOrder(t *testing.T) {
	staff := []models.Staff{
		{ID: "first", Role: models.RolePlumber, IsActive: true},
		{ID: "second", Role: models.RolePlumber, IsActive: true},
	}
	recs := ScoreStaff(staff, ScoreInput{Category: models.CategoryPlumbing, Priority: models.PriorityLow})
	require.Len(t, recs, 2)
	assert.Equal(t, recs[0].Score, recs[1].Score)
	assert.Equal(t, "first", recs[0].Staff.ID)
	assert.Equal(t, "second", recs[1].Staff.ID)
}

func TestPriorityWeightMultipliesSubtotal(t *testing.T) {
	// role 20 + workload 2 -> 15 + hostel 15 = 50
	staff := []models.Staff{{ID: "b", Role: models.RolePlumber, CurrentWorkload: 2, HostelIDs: []string{"h1"}, IsActive: true}}
	in := ScoreInput{Category: models.CategoryPlumbing, Confidence: 0.5, HostelID: "h1"}

	in.Priority = models.PriorityMedium
	medium := ScoreStaff(staff, in)[0].Score
	in.Priority = models.PriorityHigh
	high := ScoreStaff(staff, in)[0].Score

	assert.Equal(t, 75, medium)
	assert.Equal(t, 2*medium, high)
}

func TestWorkloadPointsNeverNegative(t *testing.T) {
	assert.Equal(t, 25.0, workloadPoints(0))
	assert.Equal(t, 5.0, workloadPoints(4))
	assert.Equal(t, 0.0, workloadPoints(5))
	assert.Equal(t, 0.0, workloadPoints(12))

	staff := []models.Staff{{ID: "busy", Role: models.RolePlumber, CurrentWorkload: 9, IsActive: true}}
	recs := ScoreStaff(staff, ScoreInput{Category: models.CategoryPlumbing, Priority: models.PriorityLow})
	assert.Equal(t, 20, recs[0].Score)
}

func TestAutoAssignBoundaries(t *testing.T) {
	assert.False(t, ShouldAutoAssign(0.85, 500))
	assert.False(t, ShouldAutoAssign(0.86, 70))
	assert.True(t, ShouldAutoAssign(0.86, 71))

	// expertise 30 + workload 3 -> 10 + hostel 15 + block 5 = 60, +10 AI bonus = 70
	staff := []models.Staff{{
		ID:              "edge",
		Role:            models.RoleCleaner,
		ExpertiseTags:   []models.Category{models.CategoryCleanliness},
		CurrentWorkload: 3,
		HostelIDs:       []string{"h1"},
		BlockIDs:        []string{"b1"},
		IsActive:        true,
	}}
	recs := ScoreStaff(staff, ScoreInput{
		Category:   models.CategoryCleanliness,
		Priority:   models.PriorityLow,
		Confidence: 1.0,
		HostelID:   "h1",
		BlockID:    ptr("b1"),
	})
	require.Len(t, recs, 1)
	assert.Equal(t, 70, recs[0].Score)
	assert.False(t, recs[0].AutoAssign)
}

func TestAIBonusNeedsConfidenceAboveThreshold(t *testing.T) {
	staff := []models.Staff{{
		ID:                "a",
		ExpertiseTags:     []models.Category{models.CategoryPlumbing},
		HostelIDs:         []string{"h1"},
		AvgResolutionTime: ptr(20.0),
		SatisfactionScore: ptr(4.5),
		IsActive:          true,
	}}
	recs := ScoreStaff(staff, ScoreInput{
		Category:   models.CategoryPlumbing,
		Priority:   models.PriorityEmergency,
		Confidence: 0.85,
		HostelID:   "h1",
	})
	assert.Equal(t, 475, recs[0].Score)
	assert.False(t, recs[0].AutoAssign)
}

func TestEligibility(t *testing.T) {
	cases := []struct {
		name  string
		staff models.Staff
		cat   models.Category
		want  bool
	}{
		{"expertise", models.Staff{Role: models.RoleCleaner, ExpertiseTags: []models.Category{models.CategoryInternet}, IsActive: true}, models.CategoryInternet, true},
		{"role map", models.Staff{Role: models.RoleCarpenter, IsActive: true}, models.CategoryFurniture, true},
		{"general maintenance covers plumbing", models.Staff{Role: models.RoleGeneralMaintenance, IsActive: true}, models.CategoryPlumbing, true},
		{"wrong role", models.Staff{Role: models.RoleCleaner, IsActive: true}, models.CategoryElectrical, false},
		{"inactive", models.Staff{Role: models.RolePlumber, IsActive: false}, models.CategoryPlumbing, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsEligible(tc.staff, tc.cat))
		})
	}
}

func TestRolesForUnmappedCategory(t *testing.T) {
	assert.Equal(t, []models.StaffRole{models.RoleGeneralMaintenance}, RolesFor(models.Category("GARDEN")))
	assert.Equal(t, []models.StaffRole{models.RoleMedical}, RolesFor(models.CategoryMedical))
}
