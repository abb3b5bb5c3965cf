package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func signed(t *testing.T, exp time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1", "exp": exp.Unix()})
	s, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func fakeServer(t *testing.T, token string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","name":"Sam","email":"sam@example.com","verified":true,"onboarded":true}`))
	})
	mux.HandleFunc("/quests/q1/complete", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"xp_awarded":150,"coins_awarded":15,"level":1,"xp_total":150,"xp_to_next_level":850}`))
	})
	mux.HandleFunc("/quests/gone/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"quest is not active"}`))
	})
	mux.HandleFunc("/auth/verify-email", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sam@example.com", body["email"])
		assert.Equal(t, "123456", body["code"])
		_, _ = w.Write([]byte(`{"status":"verified"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginStoresTokenAndAuthenticates(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	token := signed(t, time.Now().Add(time.Hour))
	c := New(fakeServer(t, token).URL, "")

	_, err := c.Me(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.False(t, c.LoggedIn())

	profile, err := c.Login(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Sam", profile.Name)
	assert.True(t, c.LoggedIn())

	res, err := c.Complete(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.XPAwarded)
	assert.Equal(t, int64(850), res.XPToNextLevel)

	_, err = c.Complete(ctx, "gone")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "quest is not active", apiErr.Error())

	require.NoError(t, c.Logout())
	require.NoError(t, c.Logout())
	assert.False(t, c.LoggedIn())
}

func TestLoginRejectsBadTokens(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	good := signed(t, time.Now().Add(time.Hour))
	c := New(fakeServer(t, good).URL, "")

	_, err := c.Login(ctx, signed(t, time.Now().Add(-time.Hour)))
	assert.Error(t, err)

	var apiErr *APIError
	_, err = c.Login(ctx, signed(t, time.Now().Add(2*time.Hour)))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.False(t, c.LoggedIn())
}

func TestVerifyEmail(t *testing.T) {
	c := New(fakeServer(t, "").URL, "")
	assert.NoError(t, c.VerifyEmail(context.Background(), "sam@example.com", "123456"))
}

func TestTokenExpired(t *testing.T) {
	assert.True(t, TokenExpired("garbage"))
	assert.True(t, TokenExpired(signed(t, time.Now().Add(-time.Minute))))
	assert.False(t, TokenExpired(signed(t, time.Now().Add(time.Minute))))
}
