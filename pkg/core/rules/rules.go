package rules

import (
	"fmt"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// Decision is the outcome of an eligibility check
type Decision struct {
	Eligible bool
	Reason   string
}

// Predicate is one eligibility condition a volunteer can satisfy
type Predicate interface {
	Name() string
	Satisfied(snapshot db.VolunteerSnapshot, shift db.Shift) bool
}

// GradeAtLeast passes volunteers at or above a minimum grade
type GradeAtLeast struct {
	Min int
}

func (p GradeAtLeast) Name() string {
	return fmt.Sprintf("grade >= %d", p.Min)
}

func (p GradeAtLeast) Satisfied(snapshot db.VolunteerSnapshot, _ db.Shift) bool {
	return snapshot.Grade >= p.Min
}

// CompletedShiftsAtLeast passes volunteers with a minimum shift history
type CompletedShiftsAtLeast struct {
	Min int
}

func (p CompletedShiftsAtLeast) Name() string {
	return fmt.Sprintf("completed shifts >= %d", p.Min)
}

func (p CompletedShiftsAtLeast) Satisfied(snapshot db.VolunteerSnapshot, _ db.Shift) bool {
	return snapshot.CompletedShifts >= p.Min
}

// LocationIs passes volunteers whose home location matches the rule's location
type LocationIs struct {
	Location string
}

func (p LocationIs) Name() string {
	return fmt.Sprintf("location is %s", p.Location)
}

func (p LocationIs) Satisfied(snapshot db.VolunteerSnapshot, _ db.Shift) bool {
	return snapshot.Location == p.Location
}

// FromRule builds the predicate a rule record describes
func FromRule(rule db.AutoAcceptRule) (Predicate, error) {
	switch rule.PredicateKind {
	case db.PredicateGradeAtLeast:
		return GradeAtLeast{Min: rule.IntValue}, nil
	case db.PredicateCompletedShiftsAtLeast:
		return CompletedShiftsAtLeast{Min: rule.IntValue}, nil
	case db.PredicateLocationIs:
		return LocationIs{Location: rule.StringValue}, nil
	default:
		return nil, fmt.Errorf("unknown predicate kind %q", rule.PredicateKind)
	}
}

// Evaluate decides whether a volunteer is auto-eligible for a shift.
// Rules are combined with OR: the first enabled rule whose predicate is
// satisfied wins. No enabled rule for the shift type means ineligible.
// Evaluate reads only its arguments and is safe to re-run.
func Evaluate(snapshot db.VolunteerSnapshot, shift db.Shift, activeRules []db.AutoAcceptRule) Decision {
	matched := false
	for _, rule := range activeRules {
		if !rule.Enabled || rule.ShiftType != shift.ShiftType {
			continue
		}
		matched = true
		predicate, err := FromRule(rule)
		if err != nil {
			// An unknown kind cannot admit anyone; skip it rather than fail the check
			continue
		}
		if predicate.Satisfied(snapshot, shift) {
			return Decision{Eligible: true, Reason: predicate.Name()}
		}
	}
	if !matched {
		return Decision{Eligible: false, Reason: "no rule configured"}
	}
	return Decision{Eligible: false, Reason: "no rule satisfied"}
}
