package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quillworks/quill/internal/app/daykey"
	"github.com/quillworks/quill/internal/domain"
)

// ─── Sessions ───────────────────────────────────────────────────────────────

type logSessionRequest struct {
	StartedAt       time.Time `json:"started_at" validate:"required"`
	DurationSeconds int64     `json:"duration_seconds" validate:"required,gt=0"`
}

// handleLogSession appends one work session to the activity log.
func (s *Server) handleLogSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req logSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	sess := domain.Session{
		ID:              uuid.New().String(),
		UserID:          userID,
		StartedAt:       req.StartedAt,
		DurationSeconds: req.DurationSeconds,
	}
	if err := s.store.InsertSession(sess); err != nil {
		s.log.WithField("user_id", userID).Errorf("insert session: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to record session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ─── Profile ────────────────────────────────────────────────────────────────

type putProfileRequest struct {
	Timezone         string `json:"timezone" validate:"required"`
	MinStreakMinutes int    `json:"min_streak_minutes" validate:"gte=0"`
	MaxFreezes       int    `json:"max_freezes" validate:"gte=0"`
	FreezeCostXP     int64  `json:"freeze_cost_xp" validate:"gte=0"`
}

// handlePutProfile creates or replaces the user's streak profile.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req putProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if _, err := daykey.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_timezone", fmt.Sprintf("unknown timezone %q", req.Timezone))
		return
	}

	p := domain.Profile{
		UserID:           userID,
		Timezone:         req.Timezone,
		MinStreakMinutes: req.MinStreakMinutes,
		MaxFreezes:       req.MaxFreezes,
		FreezeCostXP:     req.FreezeCostXP,
	}
	if err := s.store.UpsertProfile(p); err != nil {
		s.log.WithField("user_id", userID).Errorf("upsert profile: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ─── Streak ─────────────────────────────────────────────────────────────────

// handleStreakSummary returns the current streak view: state, freeze bank,
// today's progress, and a pending gap if one is open.
func (s *Server) handleStreakSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	sum, err := s.streaks.Summarize(userID)
	if err != nil {
		s.log.WithField("user_id", userID).Errorf("summarize streak: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load streak")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type recomputeRequest struct {
	ClientSessionID string `json:"client_session_id"`
}

type recomputeResponse struct {
	State   domain.StreakState `json:"state"`
	Updated bool               `json:"updated"`
}

// handleRecompute triggers the upward-only streak recomputation. The client
// session ID makes repeated triggers from one app launch a no-op; an empty
// body always rescans.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req recomputeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	state, updated, err := s.streaks.Recompute(userID, req.ClientSessionID)
	if err != nil {
		s.log.WithField("user_id", userID).Errorf("recompute streak: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "recomputation failed")
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{State: state, Updated: updated})
}

// ─── Recovery ───────────────────────────────────────────────────────────────

// handleGetRecovery returns the pending gap presentation, or 404 when the
// streak has no gap to recover.
func (s *Server) handleGetRecovery(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	gap, err := s.streaks.DetectGap(userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoGap) {
			writeError(w, http.StatusNotFound, "no_gap", "no streak gap to recover")
			return
		}
		s.log.WithField("user_id", userID).Errorf("detect gap: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to inspect streak")
		return
	}
	writeJSON(w, http.StatusOK, gap)
}

type resolveRecoveryRequest struct {
	Choice         string `json:"choice" validate:"required,oneof=use_freeze purchase_and_use reset dismiss"`
	IdempotencyKey string `json:"idempotency_key"`
}

// handleResolveRecovery executes one terminal branch of the recovery flow.
// Guard violations come back as 409 with a machine-readable code so the
// client can re-present the choices.
func (s *Server) handleResolveRecovery(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req resolveRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	outcome, err := s.streaks.Resolve(userID, domain.RecoveryChoice(req.Choice), req.IdempotencyKey)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoGap):
			writeError(w, http.StatusNotFound, "no_gap", "no streak gap to recover")
		case errors.Is(err, domain.ErrInsufficientFreezes):
			writeError(w, http.StatusConflict, "insufficient_freezes", "not enough freezes to cover the gap")
		case errors.Is(err, domain.ErrInsufficientXP):
			writeError(w, http.StatusConflict, "insufficient_xp", "insufficient XP to purchase freezes")
		case errors.Is(err, domain.ErrFreezeLimitExceeded):
			writeError(w, http.StatusConflict, "freeze_limit_exceeded", "purchase would exceed the freeze cap")
		case errors.Is(err, domain.ErrGuardViolation):
			writeError(w, http.StatusConflict, "guard_violation", "choice not available for this gap")
		case errors.Is(err, domain.ErrUnknownChoice):
			writeError(w, http.StatusBadRequest, "unknown_choice", "unknown recovery choice")
		default:
			s.log.WithField("user_id", userID).Errorf("resolve recovery: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "recovery failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ─── Celebrations (SSE) ─────────────────────────────────────────────────────

// handleCelebrations streams celebration events for one user as
// Server-Sent Events until the client disconnects.
func (s *Server) handleCelebrations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	ch, cancel := s.hub.Subscribe(userID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case c, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(c)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Kind, payload)
			flusher.Flush()
		}
	}
}

// ─── Sweep Trigger ──────────────────────────────────────────────────────────

// handleSweep runs the nightly reconciliation. The external scheduler
// authenticates with the X-Sweep-Secret header.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Sweep-Secret")

	result, err := s.sweeper.Run(r.Context(), secret)
	if err != nil {
		if errors.Is(err, domain.ErrSweepUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid sweep secret")
			return
		}
		s.log.Errorf("sweep run: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
