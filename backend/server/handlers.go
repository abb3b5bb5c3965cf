package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jghoshh/fitquest/backend/models"
	"github.com/jghoshh/fitquest/backend/quest"
	persistent "github.com/jghoshh/fitquest/backend/storage/persistent"
	"github.com/jghoshh/fitquest/backend/verification"
)

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Status string `json:"status"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

var errBadBody = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, persistent.ErrUserNotFound),
		errors.Is(err, quest.ErrQuestNotActive):
		status = http.StatusNotFound
	case errors.Is(err, errBadBody),
		errors.Is(err, quest.ErrOnboardingInvalid),
		errors.Is(err, verification.ErrInvalidEmail),
		errors.Is(err, verification.ErrCodeInvalid),
		errors.Is(err, verification.ErrCodeExpired):
		status = http.StatusBadRequest
	case errors.Is(err, verification.ErrTooManyAttempts),
		errors.Is(err, verification.ErrResendTooSoon):
		status = http.StatusTooManyRequests
	case errors.Is(err, quest.ErrCompletionConflict),
		errors.Is(err, quest.ErrCheckinConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
		writeJSON(w, status, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.LoadActiveQuests(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.CompleteQuest(r.Context(), userID(r), mux.Vars(r)["quest_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetProgress(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetWallet(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Checkin(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetProfile(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	var ob models.Onboarding
	if err := readJSON(w, r, &ob); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.UpdateOnboarding(r.Context(), userID(r), ob)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.verifier.RequestCode(r.Context(), req.Email); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusBody{Status: "sent"})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.verifier.Verify(r.Context(), req.Email, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "verified"})
}
