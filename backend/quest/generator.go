// Package quest issues, replenishes and completes quests for a user.
package quest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jghoshh/fitquest/backend/models"
)

var (
	// ErrGenerationFormat is returned when a model response is not a JSON array.
	ErrGenerationFormat = errors.New("quest response is not a JSON array")
	// ErrGenerationSchema is returned when a model response has the wrong shape or values.
	ErrGenerationSchema = errors.New("quest response has an invalid shape")
	// ErrGenerationFailed is returned once every generation attempt has failed.
	ErrGenerationFailed = errors.New("failed to generate a valid quest")
	// ErrQuestNotActive is returned when completing a quest that is not in the active list.
	ErrQuestNotActive = errors.New("quest not active")
	// ErrCompletionConflict is returned when concurrent writes kept beating a completion.
	ErrCompletionConflict = errors.New("quest completion conflicted with concurrent updates")
	// ErrCheckinConflict is returned when concurrent check-ins kept beating each other.
	ErrCheckinConflict = errors.New("check-in conflicted with concurrent updates")
	// ErrOnboardingInvalid is returned when onboarding answers fail validation.
	ErrOnboardingInvalid = errors.New("invalid onboarding")
)

// QuestGenerator produces one new quest tailored to a user's onboarding answers.
// Generators are called from background workers and must be safe for
// concurrent use.
type QuestGenerator interface {
	Generate(ctx context.Context, onboarding models.Onboarding) (models.Quest, error)
}

// Candidate is the content half of a quest, before it gets an id and timestamps.
type Candidate struct {
	Title   string
	Target  int64
	Rewards models.Rewards
}

// issue turns a validated candidate into a fresh active quest.
func issue(c Candidate, now time.Time) models.Quest {
	now = now.UTC()
	return models.Quest{
		QuestID:   uuid.NewString(),
		Title:     c.Title,
		Type:      models.QuestTypeCounter,
		Target:    c.Target,
		Progress:  0,
		Rewards:   c.Rewards,
		CreatedAt: now,
		StartedAt: now,
	}
}

// Tier is a coarse experience bucket.
type Tier int

const (
	TierBeginner Tier = iota
	TierIntermediate
	TierAdvanced
)

func (t Tier) String() string {
	switch t {
	case TierIntermediate:
		return "intermediate"
	case TierAdvanced:
		return "advanced"
	default:
		return "beginner"
	}
}

// ExperienceTier maps an onboarding experience answer to a Tier.
// Numeric answers 1-2 are beginner, 3 intermediate and 4-5 advanced.
// Anything unrecognized falls back to beginner.
func ExperienceTier(experience string) Tier {
	e := strings.ToLower(strings.TrimSpace(experience))
	switch e {
	case "intermediate":
		return TierIntermediate
	case "advanced":
		return TierAdvanced
	}
	if n, err := strconv.Atoi(e); err == nil {
		switch {
		case n >= 4:
			return TierAdvanced
		case n == 3:
			return TierIntermediate
		}
	}
	return TierBeginner
}
