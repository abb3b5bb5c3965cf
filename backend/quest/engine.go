package quest

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	logging "github.com/jghoshh/fitquest/backend/logger"
	"github.com/jghoshh/fitquest/backend/models"
	"github.com/jghoshh/fitquest/backend/progression"
	persistent "github.com/jghoshh/fitquest/backend/storage/persistent"
)

// maxWriteAttempts is the retry floor of a conditional user update. Engines
// add their active target on top: a guard only misses when another
// completion landed, and at most that many quests can be completing at once.
const maxWriteAttempts = 5

// QuestSummary is the client-facing view of an active quest.
type QuestSummary struct {
	QuestID  string         `json:"quest_id"`
	Title    string         `json:"title"`
	Type     string         `json:"type"`
	Target   int64          `json:"target"`
	Progress int64          `json:"progress"`
	Rewards  models.Rewards `json:"rewards"`
}

// ActiveQuests is the result of loading a user's active quests.
type ActiveQuests struct {
	Active            []QuestSummary `json:"active"`
	Needed            int            `json:"needed"`
	GenerationStarted bool           `json:"generation_started"`
}

// CompletionResult reports what a completion paid out and the new totals.
type CompletionResult struct {
	XPAwarded     int64 `json:"xp_awarded"`
	CoinsAwarded  int64 `json:"coins_awarded"`
	Level         int   `json:"level"`
	XPTotal       int64 `json:"xp_total"`
	XPToNextLevel int64 `json:"xp_to_next_level"`
}

// ProgressView is the leveling state returned by GetProgress.
type ProgressView struct {
	Level                int   `json:"level"`
	XPTotal              int64 `json:"xp_total"`
	XPToNextLevel        int64 `json:"xp_to_next_level"`
	QuestsCompletedCount int64 `json:"quests_completed_count"`
}

// WalletView is the balance returned by GetWallet.
type WalletView struct {
	CoinsBalance int64 `json:"coins_balance"`
}

// StreakView is the result of a check-in.
type StreakView struct {
	StreakCurrent int `json:"streak_current"`
	StreakBest    int `json:"streak_best"`
}

// Profile is the account view returned by GetProfile.
type Profile struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	Verified   bool               `json:"verified"`
	Onboarded  bool               `json:"onboarded"`
	Onboarding *models.Onboarding `json:"onboarding,omitempty"`
}

// Engine implements every per-user quest and progression operation.
type Engine struct {
	store         persistent.StorageInterface
	scheduler     Scheduler
	targetActive  int
	writeAttempts int
	now           func() time.Time
	log           *log.Logger
}

// EngineConfig carries the optional knobs of an Engine.
type EngineConfig struct {
	TargetActive int
	Now          func() time.Time
	Logger       *log.Logger
}

// NewEngine creates an Engine that schedules replenishment through scheduler.
func NewEngine(store persistent.StorageInterface, scheduler Scheduler, cfg EngineConfig) *Engine {
	if cfg.TargetActive <= 0 {
		cfg.TargetActive = DefaultTargetActive
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Engine{
		store:         store,
		scheduler:     scheduler,
		targetActive:  cfg.TargetActive,
		writeAttempts: maxWriteAttempts + cfg.TargetActive,
		now:           cfg.Now,
		log:           cfg.Logger,
	}
}

// LoadActiveQuests returns the user's active quests right away. When the user
// holds fewer than the target it schedules background replenishment for the
// shortfall without waiting for it.
func (e *Engine) LoadActiveQuests(ctx context.Context, userID string) (*ActiveQuests, error) {
	user, err := e.store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &ActiveQuests{Active: make([]QuestSummary, 0, len(user.Quests.Active))}
	for _, q := range user.Quests.Active {
		out.Active = append(out.Active, summarize(q))
	}

	out.Needed = e.targetActive - len(user.Quests.Active)
	if out.Needed < 0 {
		out.Needed = 0
	}
	if out.Needed > 0 {
		started, err := e.scheduler.ScheduleReplenish(ctx, ReplenishJob{UserID: userID, Count: out.Needed, Exclusive: true})
		if err != nil {
			e.log.Warn("could not schedule replenishment", "user_id", userID, "needed", out.Needed, "err", err)
		}
		out.GenerationStarted = started
	}
	return out, nil
}

// CompleteQuest moves an active quest to completed and credits its rewards.
// The write is conditional on the quest still being active and xp_total being
// unchanged since it was read, so the same quest can never pay out twice.
// A successful completion schedules exactly one replacement quest.
func (e *Engine) CompleteQuest(ctx context.Context, userID, questID string) (*CompletionResult, error) {
	for attempt := 0; attempt < e.writeAttempts; attempt++ {
		user, err := e.store.FindUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		q, ok := user.ActiveQuest(questID)
		if !ok {
			return nil, ErrQuestNotActive
		}

		now := e.now().UTC()
		q.CompletedAt = &now
		before := user.Progress.XPTotal
		after := progression.ForTotal(before+q.Rewards.XP, user.Progress.QuestsCompletedCount+1)

		applied, err := e.store.CompleteActiveQuest(ctx, persistent.CompletionUpdate{
			UserID:          userID,
			Quest:           q,
			ExpectedXPTotal: before,
			Progress:        after,
			Now:             now,
		})
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}

		if _, err := e.scheduler.ScheduleReplenish(ctx, ReplenishJob{UserID: userID, Count: 1}); err != nil {
			e.log.Warn("could not schedule replacement quest", "user_id", userID, "err", err)
		}
		e.log.Info("quest completed", "user_id", userID, "quest_id", questID, "xp", q.Rewards.XP, "level", after.Level)

		return &CompletionResult{
			XPAwarded:     q.Rewards.XP,
			CoinsAwarded:  q.Rewards.Coins,
			Level:         after.Level,
			XPTotal:       after.XPTotal,
			XPToNextLevel: after.XPToNextLevel,
		}, nil
	}
	return nil, ErrCompletionConflict
}

// GetProgress returns the user's leveling state.
func (e *Engine) GetProgress(ctx context.Context, userID string) (*ProgressView, error) {
	user, err := e.store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Level and xp_to_next_level are derived again so documents created
	// without a progress section still read as level 1.
	p := progression.ForTotal(user.Progress.XPTotal, user.Progress.QuestsCompletedCount)
	return &ProgressView{
		Level:                p.Level,
		XPTotal:              p.XPTotal,
		XPToNextLevel:        p.XPToNextLevel,
		QuestsCompletedCount: p.QuestsCompletedCount,
	}, nil
}

// GetWallet returns the user's coin balance.
func (e *Engine) GetWallet(ctx context.Context, userID string) (*WalletView, error) {
	user, err := e.store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &WalletView{CoinsBalance: user.Wallet.CoinsBalance}, nil
}

// Checkin records today's check-in. A second check-in on the same UTC day
// changes nothing and returns the current streak.
func (e *Engine) Checkin(ctx context.Context, userID string) (*StreakView, error) {
	for attempt := 0; attempt < e.writeAttempts; attempt++ {
		user, err := e.store.FindUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		now := e.now().UTC()
		next, changed := progression.Checkin(user.Streak, progression.Today(now))
		if !changed {
			return &StreakView{StreakCurrent: next.Current, StreakBest: next.Best}, nil
		}

		applied, err := e.store.UpdateStreak(ctx, persistent.StreakUpdate{
			UserID:              userID,
			ExpectedLastCheckin: user.Streak.LastCheckinDate,
			Streak:              next,
			Now:                 now,
		})
		if err != nil {
			return nil, err
		}
		if applied {
			return &StreakView{StreakCurrent: next.Current, StreakBest: next.Best}, nil
		}
	}
	return nil, ErrCheckinConflict
}

// UpdateOnboarding validates and stores the user's onboarding answers.
func (e *Engine) UpdateOnboarding(ctx context.Context, userID string, onboarding models.Onboarding) (*Profile, error) {
	if err := ValidateOnboarding(onboarding); err != nil {
		return nil, err
	}
	if err := e.store.SetOnboarding(ctx, userID, onboarding, e.now().UTC()); err != nil {
		return nil, err
	}
	return e.GetProfile(ctx, userID)
}

// GetProfile returns the account view of the user.
func (e *Engine) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := e.store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		ID:         user.ID.Hex(),
		Name:       user.Name,
		Email:      user.Email,
		Verified:   user.Verified,
		Onboarded:  user.Onboarding.Complete(),
		Onboarding: user.Onboarding,
	}, nil
}

func summarize(q models.Quest) QuestSummary {
	return QuestSummary{
		QuestID:  q.QuestID,
		Title:    q.Title,
		Type:     q.Type,
		Target:   q.Target,
		Progress: q.Progress,
		Rewards:  q.Rewards,
	}
}
