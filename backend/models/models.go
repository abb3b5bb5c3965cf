package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// QuestTypeCounter is the only quest type issued today: progress counts up to target.
const QuestTypeCounter = "counter"

// DateLayout is the calendar-date format used for streak bookkeeping.
const DateLayout = "2006-01-02"

// Confirmation is a pending email verification code for a user.
// Only the hash of the code is stored.
type Confirmation struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	Email      string             `bson:"email" json:"email"`
	CodeHash   string             `bson:"code_hash" json:"-"`
	Attempts   int                `bson:"attempts" json:"attempts"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	LastSentAt time.Time          `bson:"last_sent_at" json:"last_sent_at"`
	ExpiresAt  time.Time          `bson:"expires_at" json:"expires_at"`
}

// Onboarding holds the profile answers used to tailor quest content.
// Optional pointers distinguish "never answered" from a zero value.
type Onboarding struct {
	Age                  *int     `bson:"age,omitempty" json:"age,omitempty"`
	HeightIn             *float64 `bson:"height_in,omitempty" json:"height_in,omitempty"`
	WeightLb             *float64 `bson:"weight_lb,omitempty" json:"weight_lb,omitempty"`
	PrimaryGoal          string   `bson:"primary_goal,omitempty" json:"primary_goal,omitempty"`
	Experience           string   `bson:"experience,omitempty" json:"experience,omitempty"`
	Equipment            string   `bson:"equipment,omitempty" json:"equipment,omitempty"`
	PreferredDaysPerWeek *int     `bson:"preferred_days_per_week,omitempty" json:"preferred_days_per_week,omitempty"`
}

// Complete reports whether every required onboarding answer is present.
func (o *Onboarding) Complete() bool {
	if o == nil {
		return false
	}
	return o.Age != nil &&
		o.HeightIn != nil &&
		o.WeightLb != nil &&
		o.PrimaryGoal != "" &&
		o.Experience != "" &&
		o.Equipment != "" &&
		o.PreferredDaysPerWeek != nil
}

// Rewards is what a quest pays out on completion.
type Rewards struct {
	XP    int64 `bson:"xp" json:"xp"`
	Coins int64 `bson:"coins" json:"coins"`
}

// Quest is a single trackable task owned by one user.
type Quest struct {
	QuestID     string     `bson:"quest_id" json:"quest_id"`
	Title       string     `bson:"title" json:"title"`
	Type        string     `bson:"type" json:"type"`
	Target      int64      `bson:"target" json:"target"`
	Progress    int64      `bson:"progress" json:"progress"`
	Rewards     Rewards    `bson:"rewards" json:"rewards"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	StartedAt   time.Time  `bson:"started_at" json:"started_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Quests groups a user's quests by lifecycle bucket. A quest lives in exactly one.
type Quests struct {
	Active    []Quest `bson:"active" json:"active"`
	Backlog   []Quest `bson:"backlog" json:"backlog"`
	Completed []Quest `bson:"completed" json:"completed"`
}

// Progress is the derived leveling state. Level and XPToNextLevel always
// follow XPTotal and are written together with it.
type Progress struct {
	Level                int   `bson:"level" json:"level"`
	XPTotal              int64 `bson:"xp_total" json:"xp_total"`
	XPToNextLevel        int64 `bson:"xp_to_next_level" json:"xp_to_next_level"`
	QuestsCompletedCount int64 `bson:"quests_completed_count" json:"quests_completed_count"`
}

type Wallet struct {
	CoinsBalance int64 `bson:"coins_balance" json:"coins_balance"`
}

// Streak tracks consecutive check-in days. LastCheckinDate is a DateLayout
// calendar date, empty when the user never checked in.
type Streak struct {
	Current         int    `bson:"current" json:"current"`
	Best            int    `bson:"best" json:"best"`
	LastCheckinDate string `bson:"last_checkin_date" json:"last_checkin_date"`
}

// User is the per-user document. It exclusively owns all quest and progression state.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Email      string             `bson:"email" json:"email"`
	Verified   bool               `bson:"verified" json:"verified"`
	Onboarding *Onboarding        `bson:"onboarding,omitempty" json:"onboarding,omitempty"`
	Quests     Quests             `bson:"quests" json:"quests"`
	Progress   Progress           `bson:"progress" json:"progress"`
	Wallet     Wallet             `bson:"wallet" json:"wallet"`
	Streak     Streak             `bson:"streak" json:"streak"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}

// NewUser returns a user document with the initial progression state.
func NewUser(name, email string, now time.Time) *User {
	return &User{
		ID:    primitive.NewObjectID(),
		Name:  name,
		Email: email,
		Quests: Quests{
			Active:    []Quest{},
			Backlog:   []Quest{},
			Completed: []Quest{},
		},
		Progress:  Progress{Level: 1, XPToNextLevel: 1000},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActiveQuest returns the active quest with the given id.
func (u *User) ActiveQuest(questID string) (Quest, bool) {
	for _, q := range u.Quests.Active {
		if q.QuestID == questID {
			return q, true
		}
	}
	return Quest{}, false
}
