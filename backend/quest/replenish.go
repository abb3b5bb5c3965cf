package quest

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	logging "github.com/jghoshh/fitquest/backend/logger"
	"github.com/jghoshh/fitquest/backend/models"
	cache "github.com/jghoshh/fitquest/backend/storage/cache"
	persistent "github.com/jghoshh/fitquest/backend/storage/persistent"
)

// DefaultTargetActive is how many active quests a user should hold.
const DefaultTargetActive = 3

// DefaultLockTTL bounds how long one replenish job may hold the per-user lock.
const DefaultLockTTL = 2 * time.Minute

const maxPushAttempts = 3

// ReplenishJob asks for Count new active quests for a user.
// Exclusive jobs hold the per-user replenish lock while they run and are
// dropped when another exclusive job for the same user is in flight.
type ReplenishJob struct {
	UserID    string `json:"user_id"`
	Count     int    `json:"count"`
	Exclusive bool   `json:"exclusive"`
}

// Scheduler runs replenish jobs off the request path.
type Scheduler interface {
	// ScheduleReplenish hands the job to a background runner. It reports false
	// without error when an exclusive job was skipped because one is already in flight.
	ScheduleReplenish(ctx context.Context, job ReplenishJob) (bool, error)
}

// Replenisher tops up a user's active quests with freshly generated ones.
type Replenisher struct {
	store     persistent.StorageInterface
	generator QuestGenerator
	locks     cache.CacheInterface
	lockTTL   time.Duration
	maxActive int
	now       func() time.Time
	log       *log.Logger
}

// ReplenisherConfig carries the optional knobs of a Replenisher.
type ReplenisherConfig struct {
	// Locks backs the per-user replenish lock. Nil disables de-duplication.
	Locks     cache.CacheInterface
	LockTTL   time.Duration
	MaxActive int
	Now       func() time.Time
	Logger    *log.Logger
}

// NewReplenisher creates a Replenisher.
//
// It accepts three arguments:
// - store: where user documents live.
// - generator: produces each new quest.
// - cfg: lock backend, active cap, clock and logger. Zero values get defaults.
func NewReplenisher(store persistent.StorageInterface, generator QuestGenerator, cfg ReplenisherConfig) *Replenisher {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultTargetActive
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Replenisher{
		store:     store,
		generator: generator,
		locks:     cfg.Locks,
		lockTTL:   cfg.LockTTL,
		maxActive: cfg.MaxActive,
		now:       cfg.Now,
		log:       cfg.Logger,
	}
}

// JobTimeout is the longest a single job is allowed to run.
func (r *Replenisher) JobTimeout() time.Duration { return r.lockTTL }

func lockKey(userID string) string { return "replenish:" + userID }

// TryLock takes the per-user replenish lock. It reports true when the caller
// now owns it, or when no lock backend is configured.
func (r *Replenisher) TryLock(ctx context.Context, userID string) (bool, error) {
	if r.locks == nil {
		return true, nil
	}
	return r.locks.SetNX(ctx, lockKey(userID), r.now().UTC().Format(time.RFC3339), r.lockTTL)
}

// Unlock releases the per-user replenish lock.
func (r *Replenisher) Unlock(ctx context.Context, userID string) {
	if r.locks == nil {
		return
	}
	if err := r.locks.Delete(ctx, lockKey(userID)); err != nil {
		r.log.Warn("failed to release replenish lock", "user_id", userID, "err", err)
	}
}

// Run executes a job to completion and releases the lock of exclusive jobs.
// Failures are only logged.
func (r *Replenisher) Run(ctx context.Context, job ReplenishJob) {
	if job.Exclusive {
		defer r.Unlock(context.Background(), job.UserID)
	}
	added, err := r.Replenish(ctx, job.UserID, job.Count)
	if err != nil {
		r.log.Error("replenish failed", "user_id", job.UserID, "count", job.Count, "err", err)
		return
	}
	r.log.Debug("replenished quests", "user_id", job.UserID, "requested", job.Count, "added", added)
}

// Replenish generates up to deficit quests one after another and appends them
// to the active list in a single push. A generator failure only skips its
// slot, so fewer than deficit quests may be added. The push never grows the
// active list past the configured cap; quests that no longer fit are dropped.
func (r *Replenisher) Replenish(ctx context.Context, userID string, deficit int) (int, error) {
	if deficit <= 0 {
		return 0, nil
	}

	user, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var onboarding models.Onboarding
	if user.Onboarding != nil {
		onboarding = *user.Onboarding
	}

	quests := make([]models.Quest, 0, deficit)
	for slot := 1; slot <= deficit; slot++ {
		q, err := r.generator.Generate(ctx, onboarding)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			r.log.Warn("quest slot left empty", "user_id", userID, "slot", slot, "err", err)
			continue
		}
		quests = append(quests, q)
	}

	for attempt := 0; attempt < maxPushAttempts && len(quests) > 0; attempt++ {
		ok, err := r.store.PushActiveQuests(ctx, userID, quests, r.maxActive, r.now().UTC())
		if err != nil {
			return 0, err
		}
		if ok {
			return len(quests), nil
		}

		// The list filled up while generating. Shrink the batch to what fits now.
		user, err = r.store.FindUser(ctx, userID)
		if err != nil {
			return 0, err
		}
		room := r.maxActive - len(user.Quests.Active)
		if room <= 0 {
			break
		}
		if room < len(quests) {
			quests = quests[:room]
		}
	}
	return 0, nil
}

// AsyncScheduler runs each job on its own goroutine with a detached context.
type AsyncScheduler struct {
	replenisher *Replenisher
	wg          sync.WaitGroup
}

// NewAsyncScheduler creates an AsyncScheduler around a Replenisher.
func NewAsyncScheduler(r *Replenisher) *AsyncScheduler {
	return &AsyncScheduler{replenisher: r}
}

func (s *AsyncScheduler) ScheduleReplenish(ctx context.Context, job ReplenishJob) (bool, error) {
	if job.Count <= 0 {
		return false, nil
	}
	if job.Exclusive {
		ok, err := s.replenisher.TryLock(ctx, job.UserID)
		if err != nil || !ok {
			return false, err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), s.replenisher.JobTimeout())
		defer cancel()
		s.replenisher.Run(runCtx, job)
	}()
	return true, nil
}

// Wait blocks until every scheduled job has finished.
func (s *AsyncScheduler) Wait() {
	s.wg.Wait()
}
