// Package server exposes the quest engine over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	logging "github.com/jghoshh/fitquest/backend/logger"
	"github.com/jghoshh/fitquest/backend/quest"
	"github.com/jghoshh/fitquest/backend/server/auth"
)

type contextKey string

// userIDKey holds the authenticated user id in a request context.
const userIDKey contextKey = "user_id"

// Verifier issues and checks email verification codes.
type Verifier interface {
	RequestCode(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
}

// Options carries the optional settings of a Server.
type Options struct {
	// RequireVerified closes the quest routes to users with unverified email.
	RequireVerified bool
	Logger          *log.Logger
	// AccessLog receives one line per request. Nil means stdout.
	AccessLog io.Writer
}

// Server routes HTTP requests to the quest engine and the verifier.
type Server struct {
	engine          *quest.Engine
	verifier        Verifier
	tokens          *auth.Tokens
	requireVerified bool
	log             *log.Logger
	accessLog       io.Writer
}

// New creates a Server.
func New(engine *quest.Engine, verifier Verifier, tokens *auth.Tokens, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.AccessLog == nil {
		opts.AccessLog = os.Stdout
	}
	return &Server{
		engine:          engine,
		verifier:        verifier,
		tokens:          tokens,
		requireVerified: opts.RequireVerified,
		log:             opts.Logger,
		accessLog:       opts.AccessLog,
	}
}

// jwtMiddleware is a middleware function that performs JWT validation.
//
// It reads the bearer token from the Authorization header, verifies its
// signature and expiry, and injects the user id from its claims into the
// request context. Requests without a valid token are rejected with 401.
func (s *Server) jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenStr == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}

		userID, err := s.tokens.ParseUserID(tokenStr)
		if err != nil {
			s.log.Debug("rejected token", "err", err)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: auth.ErrInvalidToken.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// gateMiddleware lets a request through only once the user has finished
// onboarding, and has verified their email when that is required.
func (s *Server) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile, err := s.engine.GetProfile(r.Context(), userID(r))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if s.requireVerified && !profile.Verified {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "email not verified"})
			return
		}
		if !profile.Onboarded {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "onboarding required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware is a middleware function that recovers from panics and provides a generic error message to the client.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered", "path", r.URL.Path, "err", err)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Router builds the complete handler: routes, auth, gates, CORS and access logging.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoveryMiddleware)

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/auth/resend-verification", s.handleResendVerification).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email", s.handleVerifyEmail).Methods(http.MethodPost)

	account := r.NewRoute().Subrouter()
	account.Use(s.jwtMiddleware)
	account.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	account.HandleFunc("/onboarding", s.handleOnboarding).Methods(http.MethodPut)

	game := r.NewRoute().Subrouter()
	game.Use(s.jwtMiddleware, s.gateMiddleware)
	game.HandleFunc("/quests", s.handleQuests).Methods(http.MethodGet)
	game.HandleFunc("/quests/{quest_id}/complete", s.handleComplete).Methods(http.MethodPost)
	game.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	game.HandleFunc("/wallet", s.handleWallet).Methods(http.MethodGet)
	game.HandleFunc("/streak/checkin", s.handleCheckin).Methods(http.MethodPost)

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(r)

	return handlers.LoggingHandler(s.accessLog, corsRouter)
}

// Start serves on the host of serverURL until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context, serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:      s.Router(),
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
