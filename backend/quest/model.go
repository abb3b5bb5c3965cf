package quest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	logging "github.com/jghoshh/fitquest/backend/logger"
	"github.com/jghoshh/fitquest/backend/models"
)

// DefaultGenerationAttempts is how many model calls a single Generate makes before giving up.
const DefaultGenerationAttempts = 3

const systemInstructions = `You are a game designer for a fitness RPG.
Generate simple daily quests for users.
Return ONLY valid JSON with no extra commentary.
Return a JSON array with exactly ONE object, using this schema:

[
  {
    "title": "string, concise user-facing quest name",
    "type": "counter",
    "target": number (positive integer),
    "rewards": { "xp": number (int), "coins": number (int) }
  }
]
Consider equipment and experience. If equipment is "none", use bodyweight or walking tasks.
Consider preferred_days_per_week for realistic volume.
Align with primary_goal.
Use "type": "counter".
Target must be a positive integer.
rewards.xp and rewards.coins must be non-negative integers.
Return ONLY the JSON array.`

// TextProvider is a text-completion backend. It takes fixed instructions and
// a user message and returns the raw reply text.
type TextProvider interface {
	Complete(ctx context.Context, instructions, input string) (string, error)
}

// ModelBackedGenerator asks a TextProvider for a quest and validates the reply
// strictly. Invalid replies are retried up to attempts times.
type ModelBackedGenerator struct {
	provider TextProvider
	attempts int
	now      func() time.Time
	log      *log.Logger
}

// NewModelBackedGenerator creates a ModelBackedGenerator.
//
// It accepts four arguments:
// - provider: the completion backend.
// - attempts: model calls per Generate; values below 1 use DefaultGenerationAttempts.
// - now: clock used to stamp quests; nil uses time.Now.
// - logger: receives one warning per rejected reply.
func NewModelBackedGenerator(provider TextProvider, attempts int, now func() time.Time, logger *log.Logger) *ModelBackedGenerator {
	if attempts < 1 {
		attempts = DefaultGenerationAttempts
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ModelBackedGenerator{provider: provider, attempts: attempts, now: now, log: logger}
}

func (g *ModelBackedGenerator) Generate(ctx context.Context, onboarding models.Onboarding) (models.Quest, error) {
	profile, err := json.Marshal(onboarding)
	if err != nil {
		return models.Quest{}, fmt.Errorf("encoding onboarding: %w", err)
	}
	input := "\nUser data:\n" + string(profile)

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.Quest{}, err
		}

		reply, err := g.provider.Complete(ctx, systemInstructions, input)
		if err != nil {
			lastErr = fmt.Errorf("provider call: %w", err)
		} else if c, perr := ParseCandidate(reply); perr != nil {
			lastErr = perr
		} else {
			return issue(c, g.now()), nil
		}
		g.log.Warn("rejected quest generation attempt", "attempt", attempt, "of", g.attempts, "err", lastErr)
	}

	return models.Quest{}, fmt.Errorf("%w after %d attempts: %w", ErrGenerationFailed, g.attempts, lastErr)
}

type rawRewards struct {
	XP    *int64 `json:"xp"`
	Coins *int64 `json:"coins"`
}

type rawQuest struct {
	Title   *string     `json:"title"`
	Type    *string     `json:"type"`
	Target  *int64      `json:"target"`
	Rewards *rawRewards `json:"rewards"`
}

// ParseCandidate validates a model reply. The reply must be a JSON array;
// only its first element is used. Title must be non-empty, type must be
// "counter", target must be a positive integer and both rewards must be
// non-negative integers. Failures wrap ErrGenerationFormat or ErrGenerationSchema.
func ParseCandidate(reply string) (Candidate, error) {
	body := bytes.TrimSpace([]byte(reply))
	if !json.Valid(body) {
		return Candidate{}, fmt.Errorf("%w: reply is not valid JSON", ErrGenerationFormat)
	}
	if len(body) == 0 || body[0] != '[' {
		return Candidate{}, fmt.Errorf("%w: top-level value is not an array", ErrGenerationFormat)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrGenerationFormat, err)
	}
	if len(items) == 0 {
		return Candidate{}, fmt.Errorf("%w: empty quest list", ErrGenerationSchema)
	}

	var q rawQuest
	if err := json.Unmarshal(items[0], &q); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrGenerationSchema, err)
	}

	switch {
	case q.Title == nil || strings.TrimSpace(*q.Title) == "":
		return Candidate{}, fmt.Errorf("%w: missing title", ErrGenerationSchema)
	case q.Type == nil || *q.Type != models.QuestTypeCounter:
		return Candidate{}, fmt.Errorf("%w: type must be %q", ErrGenerationSchema, models.QuestTypeCounter)
	case q.Target == nil || *q.Target <= 0:
		return Candidate{}, fmt.Errorf("%w: target must be a positive integer", ErrGenerationSchema)
	case q.Rewards == nil || q.Rewards.XP == nil || q.Rewards.Coins == nil:
		return Candidate{}, fmt.Errorf("%w: missing rewards", ErrGenerationSchema)
	case *q.Rewards.XP < 0 || *q.Rewards.Coins < 0:
		return Candidate{}, fmt.Errorf("%w: rewards must be non-negative", ErrGenerationSchema)
	}

	return Candidate{
		Title:   strings.TrimSpace(*q.Title),
		Target:  *q.Target,
		Rewards: models.Rewards{XP: *q.Rewards.XP, Coins: *q.Rewards.Coins},
	}, nil
}
