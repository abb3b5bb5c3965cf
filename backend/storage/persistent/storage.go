package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/fitquest/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrUserNotFound is returned when no user document matches the given id or email.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when inserting a user whose email is taken.
	ErrDuplicateEmail = errors.New("an account with this email already exists")
	// ErrConfirmationNotFound is returned when no verification code exists for an email.
	ErrConfirmationNotFound = errors.New("confirmation not found")
)

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// CompletionUpdate describes one quest completion applied as a single
// conditional write. The write only happens while the quest is still active
// and the stored xp_total still equals ExpectedXPTotal.
type CompletionUpdate struct {
	UserID          string
	Quest           models.Quest    // the quest as it will appear in completed, CompletedAt set
	ExpectedXPTotal int64           // xp_total observed before the completion
	Progress        models.Progress // level and xp_to_next_level derived from the new total
	Now             time.Time
}

// StreakUpdate replaces the streak while last_checkin_date still equals ExpectedLastCheckin.
type StreakUpdate struct {
	UserID              string
	ExpectedLastCheckin string
	Streak              models.Streak
	Now                 time.Time
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement. Every mutation is a single atomic document
// operation; callers never read-check-write.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error
	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user by its id.
	FindUser(ctx context.Context, userID string) (*models.User, error)
	// Finds a user by its normalized email.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	// Appends quests to the active list in one push, only while the list
	// has room for all of them under maxActive (0 means no cap).
	// Returns false when the guard did not match.
	PushActiveQuests(ctx context.Context, userID string, quests []models.Quest, maxActive int, now time.Time) (bool, error)
	// Applies a quest completion. Returns false when the guard did not match.
	CompleteActiveQuest(ctx context.Context, update CompletionUpdate) (bool, error)
	// Replaces the streak. Returns false when the guard did not match.
	UpdateStreak(ctx context.Context, update StreakUpdate) (bool, error)
	// Replaces the onboarding answers.
	SetOnboarding(ctx context.Context, userID string, onboarding models.Onboarding, now time.Time) error
	// Marks the user's email as verified.
	MarkVerified(ctx context.Context, userID string, now time.Time) error
	// Adds a new verification code record.
	AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error)
	// Finds the most recently created confirmation for an email.
	FindLatestConfirmation(ctx context.Context, email string) (*models.Confirmation, error)
	// Increments the wrong-code counter of a confirmation while it is below
	// maxAttempts. Returns false when the limit was already reached.
	IncrementConfirmationAttempts(ctx context.Context, id primitive.ObjectID, maxAttempts int) (bool, error)
	// Deletes every confirmation of a user.
	DeleteConfirmations(ctx context.Context, userID string) (*DeleteResult, error)
}

// withEmptyQuestLists replaces nil quest lists with empty ones so they are
// stored as arrays that $push and $pull can apply to.
func withEmptyQuestLists(user *models.User) {
	if user.Quests.Active == nil {
		user.Quests.Active = []models.Quest{}
	}
	if user.Quests.Backlog == nil {
		user.Quests.Backlog = []models.Quest{}
	}
	if user.Quests.Completed == nil {
		user.Quests.Completed = []models.Quest{}
	}
}

// NewStorage creates a new StorageInterface for the named backend
// ("mongo" or "memory") and connects it.
func NewStorage(backend, dbName, uri string) (StorageInterface, error) {
	var storage StorageInterface
	switch backend {
	case "mongo":
		storage = NewMongoStorage()
	case "memory":
		storage = NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
