// Package verification issues and checks the one-time codes that verify a
// user's email address.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	logging "github.com/jghoshh/fitquest/backend/logger"
	"github.com/jghoshh/fitquest/backend/models"
	persistent "github.com/jghoshh/fitquest/backend/storage/persistent"
	"github.com/jghoshh/fitquest/lib/utils"
)

var (
	// ErrCodeExpired is returned when no unexpired code exists for the email.
	ErrCodeExpired = errors.New("verification code expired, request a new one")
	// ErrCodeInvalid is returned when the submitted code does not match.
	ErrCodeInvalid = errors.New("invalid verification code")
	// ErrTooManyAttempts is returned once the latest code has been guessed wrong too often.
	ErrTooManyAttempts = errors.New("too many attempts, request a new code")
	// ErrResendTooSoon is returned when a new code is requested inside the cooldown.
	ErrResendTooSoon = errors.New("please wait before requesting another code")
	// ErrInvalidEmail is returned for addresses that are not well formed.
	ErrInvalidEmail = errors.New("invalid email address")
)

const codeDigits = 6

// Mailer delivers a verification code to an address.
type Mailer interface {
	SendVerification(ctx context.Context, to, code string) error
}

// Config carries the knobs of a Service. Zero values get defaults.
type Config struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	// HashCost is the bcrypt cost for stored codes.
	HashCost int
	Now      func() time.Time
	Logger   *log.Logger
}

// Service issues and checks verification codes.
type Service struct {
	store    persistent.StorageInterface
	mailer   Mailer
	ttl      time.Duration
	max      int
	cooldown time.Duration
	cost     int
	now      func() time.Time
	log      *log.Logger
	newCode  func() (string, error)
}

// NewService creates a Service.
//
// It accepts three arguments:
// - store: holds users and their pending confirmations.
// - mailer: delivers new codes, usually through the email queue.
// - cfg: expiry, attempt limit, resend cooldown, hash cost, clock and logger.
func NewService(store persistent.StorageInterface, mailer Mailer, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ResendCooldown < 0 {
		cfg.ResendCooldown = 0
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Service{
		store:    store,
		mailer:   mailer,
		ttl:      cfg.TTL,
		max:      cfg.MaxAttempts,
		cooldown: cfg.ResendCooldown,
		cost:     cfg.HashCost,
		now:      cfg.Now,
		log:      cfg.Logger,
		newCode:  randomCode,
	}
}

// RequestCode issues a fresh code for the address and hands it to the mailer.
// Unknown and already verified addresses succeed without sending anything,
// so the endpoint does not reveal which emails have accounts.
func (s *Service) RequestCode(ctx context.Context, rawEmail string) error {
	addr := utils.NormalizeEmail(rawEmail)
	if !utils.ValidateEmail(addr) {
		return ErrInvalidEmail
	}

	user, err := s.store.FindUserByEmail(ctx, addr)
	if errors.Is(err, persistent.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Verified {
		return nil
	}

	now := s.now().UTC()
	latest, err := s.store.FindLatestConfirmation(ctx, addr)
	switch {
	case err == nil:
		if now.Sub(latest.LastSentAt) < s.cooldown {
			return ErrResendTooSoon
		}
	case !errors.Is(err, persistent.ErrConfirmationNotFound):
		return err
	}

	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hashing code: %w", err)
	}

	_, err = s.store.AddConfirmation(ctx, &models.Confirmation{
		UserID:     user.ID,
		Email:      addr,
		CodeHash:   string(hash),
		CreatedAt:  now,
		LastSentAt: now,
		ExpiresAt:  now.Add(s.ttl),
	})
	if err != nil {
		return err
	}

	if err := s.mailer.SendVerification(ctx, addr, code); err != nil {
		return fmt.Errorf("queueing verification email: %w", err)
	}
	s.log.Info("verification code issued", "user_id", user.ID.Hex())
	return nil
}

// Verify checks code against the newest confirmation for the address and,
// on a match, marks the user verified and deletes their pending codes.
func (s *Service) Verify(ctx context.Context, rawEmail, code string) error {
	addr := utils.NormalizeEmail(rawEmail)
	if !utils.ValidateEmail(addr) {
		return ErrInvalidEmail
	}

	user, err := s.store.FindUserByEmail(ctx, addr)
	if errors.Is(err, persistent.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Verified {
		return nil
	}

	now := s.now().UTC()
	latest, err := s.store.FindLatestConfirmation(ctx, addr)
	if errors.Is(err, persistent.ErrConfirmationNotFound) {
		return ErrCodeExpired
	}
	if err != nil {
		return err
	}
	if !now.Before(latest.ExpiresAt) {
		return ErrCodeExpired
	}
	if latest.Attempts >= s.max {
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(latest.CodeHash), []byte(code)) != nil {
		counted, err := s.store.IncrementConfirmationAttempts(ctx, latest.ID, s.max)
		if err != nil {
			return err
		}
		if !counted {
			// Concurrent wrong guesses used up the budget first.
			return ErrTooManyAttempts
		}
		return ErrCodeInvalid
	}

	if err := s.store.MarkVerified(ctx, user.ID.Hex(), now); err != nil {
		return err
	}
	if _, err := s.store.DeleteConfirmations(ctx, user.ID.Hex()); err != nil {
		s.log.Warn("failed to delete confirmations", "user_id", user.ID.Hex(), "err", err)
	}
	return nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
