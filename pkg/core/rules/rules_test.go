package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/shiftbook/pkg/db"
)

func TestEvaluate_NoRuleConfigured(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 5}

	decision := Evaluate(snapshot, shift, nil)

	assert.False(t, decision.Eligible)
	assert.Equal(t, "no rule configured", decision.Reason)
}

func TestEvaluate_DisabledRulesDoNotCount(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 5}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "kitchen", Enabled: false, PredicateKind: db.PredicateGradeAtLeast, IntValue: 1},
	}

	decision := Evaluate(snapshot, shift, activeRules)

	assert.False(t, decision.Eligible)
	assert.Equal(t, "no rule configured", decision.Reason)
}

func TestEvaluate_OtherShiftTypeIgnored(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 5}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "frontdesk", Enabled: true, PredicateKind: db.PredicateGradeAtLeast, IntValue: 1},
	}

	decision := Evaluate(snapshot, shift, activeRules)

	assert.False(t, decision.Eligible)
	assert.Equal(t, "no rule configured", decision.Reason)
}

func TestEvaluate_AnySatisfiedRuleAdmits(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 2, CompletedShifts: 12}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateGradeAtLeast, IntValue: 4},
		{ID: "rule-2", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateCompletedShiftsAtLeast, IntValue: 10},
	}

	decision := Evaluate(snapshot, shift, activeRules)

	assert.True(t, decision.Eligible)
	assert.Equal(t, "completed shifts >= 10", decision.Reason)
}

func TestEvaluate_NoRuleSatisfied(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 1, CompletedShifts: 0}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateGradeAtLeast, IntValue: 4},
	}

	decision := Evaluate(snapshot, shift, activeRules)

	assert.False(t, decision.Eligible)
	assert.Equal(t, "no rule satisfied", decision.Reason)
}

func TestEvaluate_LocationRule(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen", Location: "Ilford"}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateLocationIs, StringValue: "Ilford"},
	}

	local := Evaluate(db.VolunteerSnapshot{UserID: "vol-1", Location: "Ilford"}, shift, activeRules)
	remote := Evaluate(db.VolunteerSnapshot{UserID: "vol-2", Location: "Barking"}, shift, activeRules)

	assert.True(t, local.Eligible)
	assert.False(t, remote.Eligible)
}

func TestEvaluate_UnknownPredicateKindSkipped(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 5}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "kitchen", Enabled: true, PredicateKind: "FUTURE_KIND"},
		{ID: "rule-2", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateGradeAtLeast, IntValue: 3},
	}

	decision := Evaluate(snapshot, shift, activeRules)

	assert.True(t, decision.Eligible)
	assert.Equal(t, "grade >= 3", decision.Reason)
}

func TestEvaluate_Deterministic(t *testing.T) {
	shift := db.Shift{ID: "shift-1", ShiftType: "kitchen"}
	snapshot := db.VolunteerSnapshot{UserID: "vol-1", Grade: 4, CompletedShifts: 7}
	activeRules := []db.AutoAcceptRule{
		{ID: "rule-1", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateGradeAtLeast, IntValue: 4},
		{ID: "rule-2", ShiftType: "kitchen", Enabled: true, PredicateKind: db.PredicateCompletedShiftsAtLeast, IntValue: 5},
	}

	first := Evaluate(snapshot, shift, activeRules)
	second := Evaluate(snapshot, shift, activeRules)

	assert.Equal(t, first, second)
}

func TestFromRule_UnknownKind(t *testing.T) {
	_, err := FromRule(db.AutoAcceptRule{PredicateKind: "NOPE"})
	require.Error(t, err)
}
