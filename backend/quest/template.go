package quest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jghoshh/fitquest/backend/models"
)

type template struct {
	title  string
	target int64
	// needsGear marks quests that assume access to gym equipment.
	needsGear bool
}

var templates = map[Tier][]template{
	TierBeginner: {
		{title: "Walk 5,000 steps", target: 5000},
		{title: "Do 20 bodyweight squats", target: 20},
		{title: "Hold a plank for 60 seconds", target: 60},
		{title: "Stretch for 10 minutes", target: 10},
		{title: "Do 10 push-ups", target: 10},
		{title: "Row for 10 minutes", target: 10, needsGear: true},
	},
	TierIntermediate: {
		{title: "Walk 8,000 steps", target: 8000},
		{title: "Do 50 push-ups", target: 50},
		{title: "Do 100 bodyweight squats", target: 100},
		{title: "Jog for 20 minutes", target: 20},
		{title: "Do 60 kettlebell swings", target: 60, needsGear: true},
		{title: "Complete 30 dumbbell rows", target: 30, needsGear: true},
	},
	TierAdvanced: {
		{title: "Walk 12,000 steps", target: 12000},
		{title: "Do 100 push-ups", target: 100},
		{title: "Do 200 walking lunges", target: 200},
		{title: "Run for 45 minutes", target: 45},
		{title: "Do 50 pull-ups", target: 50, needsGear: true},
		{title: "Row 5,000 meters", target: 5000, needsGear: true},
	},
}

// TemplateGenerator picks quests from a fixed table keyed on experience tier.
// It never fails and needs no network, which makes it the default for local
// runs and the fallback when no model credentials are configured.
type TemplateGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewTemplateGenerator creates a TemplateGenerator. A nil rng gets a
// time-seeded source and a nil now uses time.Now.
func NewTemplateGenerator(rng *rand.Rand, now func() time.Time) *TemplateGenerator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &TemplateGenerator{rng: rng, now: now}
}

func (g *TemplateGenerator) Generate(ctx context.Context, onboarding models.Onboarding) (models.Quest, error) {
	if err := ctx.Err(); err != nil {
		return models.Quest{}, err
	}

	pool := templates[ExperienceTier(onboarding.Experience)]
	if onboarding.Equipment != "full_gym" {
		pool = withoutGear(pool)
	}

	g.mu.Lock()
	t := pool[g.rng.Intn(len(pool))]
	g.mu.Unlock()

	return issue(Candidate{
		Title:   t.title,
		Target:  t.target,
		Rewards: TemplateRewards(t.target),
	}, g.now()), nil
}

// TemplateRewards scales rewards with the target: xp is 100 plus half the
// target capped at 400, coins are 10 plus target/2500 capped at 40.
func TemplateRewards(target int64) models.Rewards {
	return models.Rewards{
		XP:    100 + min64(400, target/2),
		Coins: 10 + min64(40, target/2500),
	}
}

func withoutGear(pool []template) []template {
	out := make([]template, 0, len(pool))
	for _, t := range pool {
		if !t.needsGear {
			out = append(out, t)
		}
	}
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
