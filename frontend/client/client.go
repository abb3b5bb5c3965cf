package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/zalando/go-keyring"

	"github.com/jghoshh/fitquest/backend/models"
	"github.com/jghoshh/fitquest/backend/quest"
)

// KeyringService is the name of the service in the system keyring where the bearer token is stored.
const KeyringService = "FitQuest"

// DefaultKeyringKey is the keyring entry holding the token when no other key is configured.
const DefaultKeyringKey = "auth_token"

// ErrNotLoggedIn is returned by authenticated calls when no token is stored.
var ErrNotLoggedIn = errors.New("not logged in, use 'login' first")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

// Client talks to the FitQuest REST API and keeps the bearer token in the system keyring.
type Client struct {
	serverURL  string
	keyringKey string
	http       *http.Client
}

// New creates a Client for serverURL. An empty keyringKey uses DefaultKeyringKey.
func New(serverURL, keyringKey string) *Client {
	if keyringKey == "" {
		keyringKey = DefaultKeyringKey
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		keyringKey: keyringKey,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns the stored bearer token.
func (c *Client) Token() (string, error) {
	token, err := keyring.Get(KeyringService, c.keyringKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("failed to access keyring: %w", err)
	}
	return token, nil
}

// Login checks the token against /me and stores it when the server accepts it.
func (c *Client) Login(ctx context.Context, token string) (*quest.Profile, error) {
	token = strings.TrimSpace(token)
	if TokenExpired(token) {
		return nil, errors.New("token is malformed or expired")
	}
	profile := &quest.Profile{}
	if err := c.send(ctx, http.MethodGet, "/me", token, nil, profile); err != nil {
		return nil, err
	}
	if err := keyring.Set(KeyringService, c.keyringKey, token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return profile, nil
}

// Logout removes the stored token. Logging out twice is not an error.
func (c *Client) Logout() error {
	err := keyring.Delete(KeyringService, c.keyringKey)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// LoggedIn reports whether a token that has not expired is stored.
func (c *Client) LoggedIn() bool {
	token, err := c.Token()
	return err == nil && !TokenExpired(token)
}

// TokenExpired decodes the token without verifying its signature and reports
// whether it is unparseable or past its exp claim. The server does the real check.
func TokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return true
	}
	return !claims.VerifyExpiresAt(time.Now().Unix(), false)
}

func (c *Client) Me(ctx context.Context) (*quest.Profile, error) {
	out := &quest.Profile{}
	return out, c.authed(ctx, http.MethodGet, "/me", nil, out)
}

func (c *Client) UpdateOnboarding(ctx context.Context, onboarding models.Onboarding) (*quest.Profile, error) {
	out := &quest.Profile{}
	return out, c.authed(ctx, http.MethodPut, "/onboarding", onboarding, out)
}

func (c *Client) Quests(ctx context.Context) (*quest.ActiveQuests, error) {
	out := &quest.ActiveQuests{}
	return out, c.authed(ctx, http.MethodGet, "/quests", nil, out)
}

func (c *Client) Complete(ctx context.Context, questID string) (*quest.CompletionResult, error) {
	out := &quest.CompletionResult{}
	return out, c.authed(ctx, http.MethodPost, "/quests/"+questID+"/complete", nil, out)
}

func (c *Client) Progress(ctx context.Context) (*quest.ProgressView, error) {
	out := &quest.ProgressView{}
	return out, c.authed(ctx, http.MethodGet, "/progress", nil, out)
}

func (c *Client) Wallet(ctx context.Context) (*quest.WalletView, error) {
	out := &quest.WalletView{}
	return out, c.authed(ctx, http.MethodGet, "/wallet", nil, out)
}

func (c *Client) Checkin(ctx context.Context) (*quest.StreakView, error) {
	out := &quest.StreakView{}
	return out, c.authed(ctx, http.MethodPost, "/streak/checkin", nil, out)
}

// ResendVerification asks the server to mail a fresh code to email.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.send(ctx, http.MethodPost, "/auth/resend-verification", "", map[string]string{"email": email}, nil)
}

// VerifyEmail submits a code received by mail.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) error {
	return c.send(ctx, http.MethodPost, "/auth/verify-email", "", map[string]string{"email": email, "code": code}, nil)
}

func (c *Client) authed(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.Token()
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, token, body, out)
}

// send performs one request. A non-2xx status becomes an *APIError carrying
// the server's error message.
func (c *Client) send(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	return json.Unmarshal(bodyBytes, out)
}
