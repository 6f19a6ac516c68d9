package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/floreser/floreser/internal/entitlement"
	"github.com/floreser/floreser/internal/middleware"
)

// AccessServiceInterface is what AccessHandler needs. *entitlement.Engine
// satisfies it.
type AccessServiceInterface interface {
	Info(ctx context.Context, userID string) (*entitlement.Info, error)
	HasPermission(ctx context.Context, userID string, perm entitlement.Permission) (entitlement.Decision, error)
	StartFreeTrial(ctx context.Context, userID string, days int) (time.Time, error)
}

// AccessHandler serves the entitlement endpoints.
type AccessHandler struct {
	service   AccessServiceInterface
	trialDays int
}

// NewAccessHandler creates an AccessHandler. trialDays is the trial length
// used when the request does not name one.
func NewAccessHandler(service AccessServiceInterface, trialDays int) *AccessHandler {
	if trialDays <= 0 {
		trialDays = 7
	}
	return &AccessHandler{service: service, trialDays: trialDays}
}

type startTrialRequest struct {
	Days *int `json:"days"`
}

type startTrialResponse struct {
	TrialEndDate time.Time         `json:"trial_end_date"`
	Access       *entitlement.Info `json:"access"`
}

// Info returns the caller's entitlement snapshot.
// GET /api/access/info
func (h *AccessHandler) Info(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	info, err := h.service.Info(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Check returns the decision for a single permission. A denial is a normal
// 200 response with allowed=false.
// GET /api/access/check/{permission}
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	perm := entitlement.Permission(chi.URLParam(r, "permission"))
	decision, err := h.service.HasPermission(r.Context(), userID, perm)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// StartTrial begins the caller's one free trial. The body is optional.
// POST /api/access/start-trial
func (h *AccessHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req startTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeInvalidBody(w)
		return
	}
	days := h.trialDays
	if req.Days != nil {
		days = *req.Days
	}

	end, err := h.service.StartFreeTrial(r.Context(), userID, days)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	info, err := h.service.Info(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startTrialResponse{TrialEndDate: end, Access: info})
}
