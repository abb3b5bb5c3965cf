package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/fitquest/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// Users are stored one document each, with quests, progress, wallet
// and streak embedded.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

func (m *MongoStorage) users() *mongo.Collection {
	return m.client.Database(m.dbName).Collection("users")
}

func (m *MongoStorage) confirmations() *mongo.Collection {
	return m.client.Database(m.dbName).Collection("confirmations")
}

// Connect establishes a connection to the MongoDB server at the given URI and a database name.
// Sets up the unique email constraint and the confirmation lookup indexes.
func (m *MongoStorage) Connect(dbName, uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Every user has a unique email.
	_, err = m.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"email": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("error creating email index: %v", err)
	}

	// Latest-code lookups go by email, newest first.
	_, err = m.confirmations().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "email", Value: 1},
			{Key: "created_at", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("error creating confirmation email index: %v", err)
	}

	_, err = m.confirmations().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"user_id": 1},
	})
	if err != nil {
		return fmt.Errorf("error creating confirmation user_id index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// AddUser inserts a new user document. An empty ID is filled in.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	withEmptyQuestLists(user)
	_, err := m.users().InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// FindUser finds a user document by its hex id.
func (m *MongoStorage) FindUser(ctx context.Context, userID string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return m.findOne(ctx, bson.M{"_id": oid})
}

// FindUserByEmail finds a user document by email.
func (m *MongoStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findOne(ctx, bson.M{"email": email})
}

func (m *MongoStorage) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	user := &models.User{}
	err := m.users().FindOne(ctx, filter).Decode(user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// PushActiveQuests appends all quests to quests.active with a single $push $each.
// With maxActive set, the filter requires quests.active to have no element at
// index maxActive-len(quests), so the push can never grow the list past maxActive.
func (m *MongoStorage) PushActiveQuests(ctx context.Context, userID string, quests []models.Quest, maxActive int, now time.Time) (bool, error) {
	if len(quests) == 0 {
		return true, nil
	}
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, ErrUserNotFound
	}

	filter := bson.M{"_id": oid}
	if maxActive > 0 {
		room := maxActive - len(quests)
		if room < 0 {
			return false, nil
		}
		filter[fmt.Sprintf("quests.active.%d", room)] = bson.M{"$exists": false}
	}

	result, err := m.users().UpdateOne(ctx, filter, bson.M{
		"$push": bson.M{"quests.active": bson.M{"$each": quests}},
		"$set":  bson.M{"updated_at": now},
	})
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// CompleteActiveQuest moves the quest from active to completed and credits its
// rewards in one UpdateOne. The filter matches only while the quest is still
// active and xp_total is unchanged, so a duplicate or racing completion is a no-match.
func (m *MongoStorage) CompleteActiveQuest(ctx context.Context, u CompletionUpdate) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(u.UserID)
	if err != nil {
		return false, ErrUserNotFound
	}

	filter := bson.M{
		"_id":                    oid,
		"quests.active.quest_id": u.Quest.QuestID,
		"progress.xp_total":      orMissing(u.ExpectedXPTotal, int64(0)),
	}
	update := bson.M{
		"$pull": bson.M{"quests.active": bson.M{"quest_id": u.Quest.QuestID}},
		"$push": bson.M{"quests.completed": u.Quest},
		"$inc": bson.M{
			"progress.xp_total":               u.Quest.Rewards.XP,
			"progress.quests_completed_count": 1,
			"wallet.coins_balance":            u.Quest.Rewards.Coins,
		},
		"$set": bson.M{
			"progress.level":            u.Progress.Level,
			"progress.xp_to_next_level": u.Progress.XPToNextLevel,
			"updated_at":                u.Now,
		},
	}

	result, err := m.users().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// orMissing matches expected, and also a missing or null field when expected
// is the zero value. Users created outside this service may lack the progress
// and streak sections entirely.
func orMissing(expected, zero interface{}) interface{} {
	if expected == zero {
		return bson.M{"$in": bson.A{zero, nil}}
	}
	return expected
}

// UpdateStreak sets the streak if last_checkin_date still holds the expected value.
func (m *MongoStorage) UpdateStreak(ctx context.Context, u StreakUpdate) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(u.UserID)
	if err != nil {
		return false, ErrUserNotFound
	}

	result, err := m.users().UpdateOne(ctx,
		bson.M{"_id": oid, "streak.last_checkin_date": orMissing(u.ExpectedLastCheckin, "")},
		bson.M{"$set": bson.M{"streak": u.Streak, "updated_at": u.Now}},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// SetOnboarding replaces the onboarding sub-document.
func (m *MongoStorage) SetOnboarding(ctx context.Context, userID string, onboarding models.Onboarding, now time.Time) error {
	return m.setFields(ctx, userID, bson.M{"onboarding": onboarding, "updated_at": now})
}

// MarkVerified flags the user's email as verified.
func (m *MongoStorage) MarkVerified(ctx context.Context, userID string, now time.Time) error {
	return m.setFields(ctx, userID, bson.M{"verified": true, "updated_at": now})
}

func (m *MongoStorage) setFields(ctx context.Context, userID string, fields bson.M) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}
	result, err := m.users().UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddConfirmation adds a new confirmation document to the 'confirmations' collection.
func (m *MongoStorage) AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error) {
	result, err := m.confirmations().InsertOne(ctx, confirmation)
	if err != nil {
		return nil, err
	}

	confirmation.ID = result.InsertedID.(primitive.ObjectID)
	return confirmation, nil
}

// FindLatestConfirmation returns the newest confirmation for the email.
func (m *MongoStorage) FindLatestConfirmation(ctx context.Context, email string) (*models.Confirmation, error) {
	confirmation := &models.Confirmation{}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := m.confirmations().FindOne(ctx, bson.M{"email": email}, opts).Decode(confirmation)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrConfirmationNotFound
	}
	if err != nil {
		return nil, err
	}
	return confirmation, nil
}

// IncrementConfirmationAttempts bumps the attempts counter with $inc, but only
// while it is below maxAttempts.
func (m *MongoStorage) IncrementConfirmationAttempts(ctx context.Context, id primitive.ObjectID, maxAttempts int) (bool, error) {
	result, err := m.confirmations().UpdateOne(ctx,
		bson.M{"_id": id, "attempts": bson.M{"$lt": maxAttempts}},
		bson.M{"$inc": bson.M{"attempts": 1}},
	)
	if err != nil {
		return false, err
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	n, err := m.confirmations().CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrConfirmationNotFound
	}
	return false, nil
}

// DeleteConfirmations removes every confirmation belonging to the user.
func (m *MongoStorage) DeleteConfirmations(ctx context.Context, userID string) (*DeleteResult, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	result, err := m.confirmations().DeleteMany(ctx, bson.M{"user_id": oid})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}
