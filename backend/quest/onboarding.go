package quest

import (
	"fmt"
	"strings"

	"github.com/jghoshh/fitquest/backend/models"
)

var (
	knownGoals      = []string{"muscle", "fat_loss", "endurance", "mobility", "general_health"}
	knownEquipment  = []string{"none", "limited", "full_gym"}
	knownExperience = []string{"beginner", "intermediate", "advanced", "1", "2", "3", "4", "5"}
)

// ValidateOnboarding checks a full set of onboarding answers. It returns an
// error wrapping ErrOnboardingInvalid that names the first bad field.
func ValidateOnboarding(o models.Onboarding) error {
	invalid := func(field, reason string) error {
		return fmt.Errorf("%w: %s %s", ErrOnboardingInvalid, field, reason)
	}

	switch {
	case o.Age == nil:
		return invalid("age", "is required")
	case *o.Age < 13 || *o.Age > 100:
		return invalid("age", "must be between 13 and 100")
	case o.HeightIn == nil || *o.HeightIn <= 0:
		return invalid("height_in", "must be positive")
	case o.WeightLb == nil || *o.WeightLb <= 0:
		return invalid("weight_lb", "must be positive")
	case o.PreferredDaysPerWeek == nil:
		return invalid("preferred_days_per_week", "is required")
	case *o.PreferredDaysPerWeek < 1 || *o.PreferredDaysPerWeek > 7:
		return invalid("preferred_days_per_week", "must be between 1 and 7")
	case !oneOf(o.PrimaryGoal, knownGoals):
		return invalid("primary_goal", "must be one of "+strings.Join(knownGoals, ", "))
	case !oneOf(o.Equipment, knownEquipment):
		return invalid("equipment", "must be one of "+strings.Join(knownEquipment, ", "))
	case !oneOf(strings.ToLower(o.Experience), knownExperience):
		return invalid("experience", "must be beginner, intermediate, advanced or 1-5")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
