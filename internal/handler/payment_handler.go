package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/floreser/floreser/internal/middleware"
	"github.com/floreser/floreser/internal/payment"
)

// PaymentServiceInterface is what PaymentHandler needs. *payment.Service
// satisfies it.
type PaymentServiceInterface interface {
	CreateIntent(ctx context.Context, clientID, reservationID string) (*payment.Intent, error)
}

// PaymentHandler serves the payment endpoints.
type PaymentHandler struct {
	service PaymentServiceInterface
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(service PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

type createIntentRequest struct {
	ReservationID string `json:"reservation_id"`
}

// CreateIntent creates a payment intent for one of the caller's reservations.
// POST /api/payments/intent
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	intent, err := h.service.CreateIntent(r.Context(), userID, req.ReservationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, intent)
}
