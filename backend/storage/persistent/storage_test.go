package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jghoshh/fitquest/backend/models"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func testQuest(id string, xp, coins int64) models.Quest {
	return models.Quest{
		QuestID:   id,
		Title:     "Walk 5000 steps",
		Type:      models.QuestTypeCounter,
		Target:    5000,
		Rewards:   models.Rewards{XP: xp, Coins: coins},
		CreatedAt: testNow,
		StartedAt: testNow,
	}
}

// backends returns every StorageInterface the suite should run against.
// MongoDB joins when MONGODB_URI is set.
func backends(t *testing.T) map[string]StorageInterface {
	out := map[string]StorageInterface{"memory": NewMemoryStorage()}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		dbName := os.Getenv("TEST_DB_NAME")
		if dbName == "" {
			dbName = "fitquest_test"
		}
		s, err := NewStorage("mongo", dbName, uri)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Disconnect() })
		out["mongo"] = s
	}
	return out
}

func addTestUser(t *testing.T, s StorageInterface) *models.User {
	u := models.NewUser("Test User", "test+"+time.Now().Format("150405.000000000")+"@example.com", testNow)
	_, err := s.AddUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func TestNewStorageRejectsUnknownBackend(t *testing.T) {
	_, err := NewStorage("postgres", "db", "uri")
	assert.Error(t, err)
}

func TestAddUserDuplicateEmail(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := addTestUser(t, s)
			_, err := s.AddUser(context.Background(), models.NewUser("Other", u.Email, testNow))
			assert.ErrorIs(t, err, ErrDuplicateEmail)
		})
	}
}

func TestFindUserMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.FindUser(context.Background(), "000000000000000000000000")
			assert.ErrorIs(t, err, ErrUserNotFound)
			_, err = s.FindUser(context.Background(), "not-an-id")
			assert.ErrorIs(t, err, ErrUserNotFound)
		})
	}
}

func TestPushAndCompleteQuest(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := addTestUser(t, s)
			id := u.ID.Hex()

			ok, err := s.PushActiveQuests(ctx, id, []models.Quest{testQuest("q1", 150, 15), testQuest("q2", 300, 20)}, 3, testNow)
			require.NoError(t, err)
			require.True(t, ok)

			done := testQuest("q1", 150, 15)
			completedAt := testNow.Add(time.Hour)
			done.CompletedAt = &completedAt
			ok, err = s.CompleteActiveQuest(ctx, CompletionUpdate{
				UserID:          id,
				Quest:           done,
				ExpectedXPTotal: 0,
				Progress:        models.Progress{Level: 1, XPToNextLevel: 850},
				Now:             completedAt,
			})
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.FindUser(ctx, id)
			require.NoError(t, err)
			assert.Len(t, got.Quests.Active, 1)
			assert.Equal(t, "q2", got.Quests.Active[0].QuestID)
			require.Len(t, got.Quests.Completed, 1)
			assert.NotNil(t, got.Quests.Completed[0].CompletedAt)
			assert.Equal(t, int64(150), got.Progress.XPTotal)
			assert.Equal(t, int64(850), got.Progress.XPToNextLevel)
			assert.Equal(t, int64(1), got.Progress.QuestsCompletedCount)
			assert.Equal(t, int64(15), got.Wallet.CoinsBalance)

			// Same quest again: no longer active, no match.
			ok, err = s.CompleteActiveQuest(ctx, CompletionUpdate{UserID: id, Quest: done, ExpectedXPTotal: 150, Now: completedAt})
			require.NoError(t, err)
			assert.False(t, ok)

			// Stale total: no match.
			ok, err = s.CompleteActiveQuest(ctx, CompletionUpdate{UserID: id, Quest: testQuest("q2", 300, 20), ExpectedXPTotal: 0, Now: completedAt})
			require.NoError(t, err)
			assert.False(t, ok)

			got, err = s.FindUser(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(150), got.Progress.XPTotal)
			assert.Equal(t, int64(15), got.Wallet.CoinsBalance)
		})
	}
}

func TestPushActiveQuestsRespectsCap(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := addTestUser(t, s)
			id := u.ID.Hex()

			ok, err := s.PushActiveQuests(ctx, id, []models.Quest{testQuest("a", 1, 1), testQuest("b", 1, 1)}, 3, testNow)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.PushActiveQuests(ctx, id, []models.Quest{testQuest("c", 1, 1), testQuest("d", 1, 1)}, 3, testNow)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.PushActiveQuests(ctx, id, []models.Quest{testQuest("c", 1, 1)}, 3, testNow)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.FindUser(ctx, id)
			require.NoError(t, err)
			assert.Len(t, got.Quests.Active, 3)

			ok, err = s.PushActiveQuests(ctx, "000000000000000000000000", []models.Quest{testQuest("e", 1, 1)}, 3, testNow)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestUpdateStreakGuard(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := addTestUser(t, s)
			id := u.ID.Hex()

			next := models.Streak{Current: 1, Best: 1, LastCheckinDate: "2026-10-14"}
			ok, err := s.UpdateStreak(ctx, StreakUpdate{UserID: id, ExpectedLastCheckin: "", Streak: next, Now: testNow})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UpdateStreak(ctx, StreakUpdate{UserID: id, ExpectedLastCheckin: "", Streak: next, Now: testNow})
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestConfirmations(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := addTestUser(t, s)

			_, err := s.FindLatestConfirmation(ctx, u.Email)
			assert.ErrorIs(t, err, ErrConfirmationNotFound)

			first := &models.Confirmation{UserID: u.ID, Email: u.Email, CodeHash: "a", CreatedAt: testNow, ExpiresAt: testNow.Add(time.Minute)}
			second := &models.Confirmation{UserID: u.ID, Email: u.Email, CodeHash: "b", CreatedAt: testNow.Add(time.Second), ExpiresAt: testNow.Add(time.Minute)}
			_, err = s.AddConfirmation(ctx, first)
			require.NoError(t, err)
			_, err = s.AddConfirmation(ctx, second)
			require.NoError(t, err)

			latest, err := s.FindLatestConfirmation(ctx, u.Email)
			require.NoError(t, err)
			assert.Equal(t, "b", latest.CodeHash)

			counted, err := s.IncrementConfirmationAttempts(ctx, latest.ID, 2)
			require.NoError(t, err)
			assert.True(t, counted)
			counted, err = s.IncrementConfirmationAttempts(ctx, latest.ID, 2)
			require.NoError(t, err)
			assert.True(t, counted)

			// The limit is part of the increment.
			counted, err = s.IncrementConfirmationAttempts(ctx, latest.ID, 2)
			require.NoError(t, err)
			assert.False(t, counted)

			latest, err = s.FindLatestConfirmation(ctx, u.Email)
			require.NoError(t, err)
			assert.Equal(t, 2, latest.Attempts)

			res, err := s.DeleteConfirmations(ctx, u.ID.Hex())
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.DeletedCount)

			_, err = s.IncrementConfirmationAttempts(ctx, latest.ID, 2)
			assert.ErrorIs(t, err, ErrConfirmationNotFound)
		})
	}
}

func TestSetOnboardingAndVerify(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := addTestUser(t, s)
			age := 30
			require.NoError(t, s.SetOnboarding(ctx, u.ID.Hex(), models.Onboarding{Age: &age, Equipment: "none"}, testNow))
			require.NoError(t, s.MarkVerified(ctx, u.ID.Hex(), testNow))

			got, err := s.FindUser(ctx, u.ID.Hex())
			require.NoError(t, err)
			require.NotNil(t, got.Onboarding)
			assert.Equal(t, 30, *got.Onboarding.Age)
			assert.Equal(t, "none", got.Onboarding.Equipment)
			assert.True(t, got.Verified)
		})
	}
}

// addSignupUser stores a user the way the signup flow creates it: name and
// email only, with no quests, progress, wallet or streak sections.
func addSignupUser(t *testing.T, s StorageInterface) string {
	email := "signup+" + time.Now().Format("150405.000000000") + "@example.com"
	if m, ok := s.(*MongoStorage); ok {
		oid := primitive.NewObjectID()
		_, err := m.users().InsertOne(context.Background(), bson.M{"_id": oid, "name": "Sam", "email": email})
		require.NoError(t, err)
		return oid.Hex()
	}
	u := &models.User{Name: "Sam", Email: email}
	_, err := s.AddUser(context.Background(), u)
	require.NoError(t, err)
	return u.ID.Hex()
}

func TestSignupShapedUser(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := addSignupUser(t, s)

			got, err := s.FindUser(ctx, id)
			require.NoError(t, err)
			assert.Zero(t, got.Progress.XPTotal)
			assert.Empty(t, got.Quests.Active)

			ok, err := s.PushActiveQuests(ctx, id, []models.Quest{testQuest("q1", 150, 15)}, 3, testNow)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.CompleteActiveQuest(ctx, CompletionUpdate{
				UserID:          id,
				Quest:           testQuest("q1", 150, 15),
				ExpectedXPTotal: 0,
				Progress:        models.Progress{Level: 1, XPToNextLevel: 850},
				Now:             testNow,
			})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UpdateStreak(ctx, StreakUpdate{
				UserID:              id,
				ExpectedLastCheckin: "",
				Streak:              models.Streak{Current: 1, Best: 1, LastCheckinDate: "2026-10-14"},
				Now:                 testNow,
			})
			require.NoError(t, err)
			assert.True(t, ok)

			got, err = s.FindUser(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(150), got.Progress.XPTotal)
			assert.Equal(t, int64(1), got.Progress.QuestsCompletedCount)
			assert.Equal(t, int64(15), got.Wallet.CoinsBalance)
			assert.Equal(t, 1, got.Streak.Current)
			assert.Len(t, got.Quests.Completed, 1)
		})
	}
}

func TestAddUserStoresEmptyQuestLists(t *testing.T) {
	s := NewMemoryStorage()
	u := &models.User{Name: "Sam", Email: "lists@example.com"}
	_, err := s.AddUser(context.Background(), u)
	require.NoError(t, err)
	assert.NotNil(t, u.Quests.Active)
	assert.NotNil(t, u.Quests.Backlog)
	assert.NotNil(t, u.Quests.Completed)
}
