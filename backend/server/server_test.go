package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jghoshh/fitquest/backend/models"
	"github.com/jghoshh/fitquest/backend/quest"
	"github.com/jghoshh/fitquest/backend/server/auth"
	persistent "github.com/jghoshh/fitquest/backend/storage/persistent"
	"github.com/jghoshh/fitquest/backend/verification"
)

var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type noopScheduler struct{ jobs []quest.ReplenishJob }

func (s *noopScheduler) ScheduleReplenish(ctx context.Context, job quest.ReplenishJob) (bool, error) {
	s.jobs = append(s.jobs, job)
	return true, nil
}

type stubVerifier struct {
	requestErr error
	verifyErr  error
	requested  []string
}

func (v *stubVerifier) RequestCode(ctx context.Context, email string) error {
	v.requested = append(v.requested, email)
	return v.requestErr
}

func (v *stubVerifier) Verify(ctx context.Context, email, code string) error {
	return v.verifyErr
}

type harness struct {
	t        *testing.T
	handler  http.Handler
	store    *persistent.MemoryStorage
	tokens   *auth.Tokens
	verifier *stubVerifier
}

func newHarness(t *testing.T, requireVerified bool) *harness {
	store := persistent.NewMemoryStorage()
	engine := quest.NewEngine(store, &noopScheduler{}, quest.EngineConfig{Now: func() time.Time { return testNow }})
	tokens := auth.NewTokens("test-key", time.Hour)
	verifier := &stubVerifier{}
	srv := New(engine, verifier, tokens, Options{RequireVerified: requireVerified, AccessLog: io.Discard})
	return &harness{t: t, handler: srv.Router(), store: store, tokens: tokens, verifier: verifier}
}

func onboarding() *models.Onboarding {
	age, days := 35, 3
	height, weight := 70.0, 180.0
	return &models.Onboarding{
		Age:                  &age,
		HeightIn:             &height,
		WeightLb:             &weight,
		PrimaryGoal:          "fat_loss",
		Experience:           "beginner",
		Equipment:            "none",
		PreferredDaysPerWeek: &days,
	}
}

// addUser stores a user and returns a bearer token for it.
func (h *harness) addUser(onboarded, verified bool, active ...models.Quest) (string, string) {
	u := models.NewUser("Sam", "sam"+time.Now().Format("150405.000000000")+"@example.com", testNow)
	u.Verified = verified
	if onboarded {
		u.Onboarding = onboarding()
	}
	u.Quests.Active = append(u.Quests.Active, active...)
	_, err := h.store.AddUser(context.Background(), u)
	require.NoError(h.t, err)

	token, err := h.tokens.CreateAuthToken(u.ID.Hex())
	require.NoError(h.t, err)
	return u.ID.Hex(), token
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func testQuest(id string, xp, coins int64) models.Quest {
	return models.Quest{QuestID: id, Title: "Walk 5,000 steps", Type: models.QuestTypeCounter, Target: 5000,
		Rewards: models.Rewards{XP: xp, Coins: coins}, CreatedAt: testNow, StartedAt: testNow}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/quests", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/me", "not-a-token", nil).Code)
}

func TestUnknownUserIsNotFound(t *testing.T) {
	h := newHarness(t, false)
	token, err := h.tokens.CreateAuthToken("000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/me", token, nil).Code)
}

func TestOnboardingGate(t *testing.T) {
	h := newHarness(t, false)
	_, token := h.addUser(false, true)

	rec := h.do(http.MethodGet, "/quests", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "onboarding required")

	rec = h.do(http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p quest.Profile
	decode(t, rec, &p)
	assert.False(t, p.Onboarded)

	bad := onboarding()
	bad.Equipment = "garage"
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/onboarding", token, bad).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/onboarding", token, map[string]int{"shoe_size": 9}).Code)

	rec = h.do(http.MethodPut, "/onboarding", token, onboarding())
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	assert.True(t, p.Onboarded)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/quests", token, nil).Code)
}

func TestVerifiedGate(t *testing.T) {
	h := newHarness(t, true)
	_, token := h.addUser(true, false)

	rec := h.do(http.MethodGet, "/wallet", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "email not verified")

	_, verified := h.addUser(true, true)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/wallet", verified, nil).Code)
}

func TestQuestFlow(t *testing.T) {
	h := newHarness(t, false)
	_, token := h.addUser(true, true, testQuest("q1", 150, 15))

	rec := h.do(http.MethodGet, "/quests", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active quest.ActiveQuests
	decode(t, rec, &active)
	assert.Len(t, active.Active, 1)
	assert.Equal(t, 2, active.Needed)
	assert.True(t, active.GenerationStarted)

	rec = h.do(http.MethodPost, "/quests/q1/complete", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"xp_awarded":150,"coins_awarded":15,"level":1,"xp_total":150,"xp_to_next_level":850}`, rec.Body.String())

	rec = h.do(http.MethodPost, "/quests/q1/complete", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/progress", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"level":1,"xp_total":150,"xp_to_next_level":850,"quests_completed_count":1}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/wallet", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"coins_balance":15}`, rec.Body.String())

	rec = h.do(http.MethodPost, "/streak/checkin", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"streak_current":1,"streak_best":1}`, rec.Body.String())

	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodPost, "/quests", token, nil).Code)
}

func TestVerificationRoutes(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodPost, "/auth/resend-verification", "", map[string]string{"email": "sam@example.com"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"sam@example.com"}, h.verifier.requested)

	h.verifier.requestErr = verification.ErrResendTooSoon
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/auth/resend-verification", "", map[string]string{"email": "sam@example.com"}).Code)

	rec = h.do(http.MethodPost, "/auth/verify-email", "", map[string]string{"email": "sam@example.com", "code": "123456"})
	assert.Equal(t, http.StatusOK, rec.Code)

	h.verifier.verifyErr = verification.ErrCodeInvalid
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/auth/verify-email", "", map[string]string{"email": "sam@example.com", "code": "1"}).Code)

	h.verifier.verifyErr = verification.ErrTooManyAttempts
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/auth/verify-email", "", map[string]string{"email": "sam@example.com", "code": "1"}).Code)
}

func TestWriteErrorMapping(t *testing.T) {
	s := New(nil, nil, nil, Options{AccessLog: io.Discard})
	cases := map[error]int{
		persistent.ErrUserNotFound:    http.StatusNotFound,
		quest.ErrQuestNotActive:       http.StatusNotFound,
		quest.ErrOnboardingInvalid:    http.StatusBadRequest,
		verification.ErrCodeExpired:   http.StatusBadRequest,
		verification.ErrResendTooSoon: http.StatusTooManyRequests,
		quest.ErrCompletionConflict:   http.StatusConflict,
		quest.ErrCheckinConflict:      http.StatusConflict,
		io.ErrUnexpectedEOF:           http.StatusInternalServerError,
	}
	for err, want := range cases {
		rec := httptest.NewRecorder()
		s.writeError(rec, err)
		assert.Equal(t, want, rec.Code, "error %v", err)
	}

	rec := httptest.NewRecorder()
	s.writeError(rec, io.ErrUnexpectedEOF)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	s := New(nil, nil, nil, Options{AccessLog: io.Discard})
	h := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
