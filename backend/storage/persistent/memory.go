package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jghoshh/fitquest/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is an in-process StorageInterface. Each method holds the lock
// for its whole read-modify-write, which gives it the same single-document
// atomicity the MongoDB backend relies on. Used for local runs and tests.
type MemoryStorage struct {
	mu            sync.Mutex
	users         map[string]*models.User
	confirmations []*models.Confirmation
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{users: make(map[string]*models.User)}
}

// Connect is a no-op for the in-memory backend.
func (s *MemoryStorage) Connect(dbName, uri string) error { return nil }

// Disconnect is a no-op for the in-memory backend.
func (s *MemoryStorage) Disconnect() error { return nil }

func (s *MemoryStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return nil, ErrDuplicateEmail
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	withEmptyQuestLists(user)
	s.users[user.ID.Hex()] = cloneUser(user)
	return user, nil
}

func (s *MemoryStorage) FindUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStorage) PushActiveQuests(ctx context.Context, userID string, quests []models.Quest, maxActive int, now time.Time) (bool, error) {
	if len(quests) == 0 {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	if maxActive > 0 && len(u.Quests.Active)+len(quests) > maxActive {
		return false, nil
	}
	u.Quests.Active = append(u.Quests.Active, quests...)
	u.UpdatedAt = now
	return true, nil
}

func (s *MemoryStorage) CompleteActiveQuest(ctx context.Context, c CompletionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[c.UserID]
	if !ok {
		return false, ErrUserNotFound
	}
	idx := -1
	for i, q := range u.Quests.Active {
		if q.QuestID == c.Quest.QuestID {
			idx = i
			break
		}
	}
	if idx < 0 || u.Progress.XPTotal != c.ExpectedXPTotal {
		return false, nil
	}

	u.Quests.Active = append(u.Quests.Active[:idx], u.Quests.Active[idx+1:]...)
	u.Quests.Completed = append(u.Quests.Completed, c.Quest)
	u.Progress.XPTotal += c.Quest.Rewards.XP
	u.Progress.QuestsCompletedCount++
	u.Wallet.CoinsBalance += c.Quest.Rewards.Coins
	u.Progress.Level = c.Progress.Level
	u.Progress.XPToNextLevel = c.Progress.XPToNextLevel
	u.UpdatedAt = c.Now
	return true, nil
}

func (s *MemoryStorage) UpdateStreak(ctx context.Context, c StreakUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[c.UserID]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.Streak.LastCheckinDate != c.ExpectedLastCheckin {
		return false, nil
	}
	u.Streak = c.Streak
	u.UpdatedAt = c.Now
	return true, nil
}

func (s *MemoryStorage) SetOnboarding(ctx context.Context, userID string, onboarding models.Onboarding, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	ob := onboarding
	u.Onboarding = &ob
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStorage) MarkVerified(ctx context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Verified = true
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStorage) AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if confirmation.ID.IsZero() {
		confirmation.ID = primitive.NewObjectID()
	}
	c := *confirmation
	s.confirmations = append(s.confirmations, &c)
	return confirmation, nil
}

func (s *MemoryStorage) FindLatestConfirmation(ctx context.Context, email string) (*models.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Confirmation
	for _, c := range s.confirmations {
		if c.Email != email {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrConfirmationNotFound
	}
	c := *latest
	return &c, nil
}

func (s *MemoryStorage) IncrementConfirmationAttempts(ctx context.Context, id primitive.ObjectID, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.confirmations {
		if c.ID == id {
			if c.Attempts >= maxAttempts {
				return false, nil
			}
			c.Attempts++
			return true, nil
		}
	}
	return false, ErrConfirmationNotFound
}

func (s *MemoryStorage) DeleteConfirmations(ctx context.Context, userID string) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.confirmations[:0]
	var deleted int64
	for _, c := range s.confirmations {
		if c.UserID.Hex() == userID {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.confirmations = kept
	return &DeleteResult{DeletedCount: deleted}, nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.Onboarding != nil {
		ob := *u.Onboarding
		c.Onboarding = &ob
	}
	c.Quests.Active = append([]models.Quest{}, u.Quests.Active...)
	c.Quests.Backlog = append([]models.Quest{}, u.Quests.Backlog...)
	c.Quests.Completed = append([]models.Quest{}, u.Quests.Completed...)
	return &c
}
