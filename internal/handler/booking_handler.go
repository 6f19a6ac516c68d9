package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/floreser/floreser/internal/booking"
	"github.com/floreser/floreser/internal/middleware"
	"github.com/floreser/floreser/internal/model"
)

// wallClockLayout is the zone-less timestamp format of scheduled starts.
const wallClockLayout = "2006-01-02T15:04:05"

// BookingServiceInterface is what BookingHandler needs. *booking.Service
// satisfies it.
type BookingServiceInterface interface {
	GetAvailableSlots(ctx context.Context, practitionerID string, date time.Time, durationMinutes int) ([]model.TimeSlot, error)
	CreateReservation(ctx context.Context, clientID string, in booking.CreateReservationInput) (*model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID string, newStatus model.ReservationStatus, actorID string) (*model.Reservation, error)
	GetReservation(ctx context.Context, reservationID, actorID string) (*model.Reservation, error)
	ListReservations(ctx context.Context, actorID string) ([]model.Reservation, error)
}

// BookingHandler serves availability and reservation endpoints.
type BookingHandler struct {
	service BookingServiceInterface
}

// NewBookingHandler creates a BookingHandler.
func NewBookingHandler(service BookingServiceInterface) *BookingHandler {
	return &BookingHandler{service: service}
}

type reservationResponse struct {
	ID              string                  `json:"id"`
	PractitionerID  string                  `json:"practitioner_id"`
	ClientID        string                  `json:"client_id"`
	ScheduledStart  string                  `json:"scheduled_start"`
	DurationMinutes int                     `json:"duration_minutes"`
	IsVirtual       bool                    `json:"is_virtual"`
	AmountCents     int64                   `json:"amount_cents"`
	Currency        string                  `json:"currency"`
	Status          model.ReservationStatus `json:"status"`
	Notes           string                  `json:"notes,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:              r.ID,
		PractitionerID:  r.PractitionerID,
		ClientID:        r.ClientID,
		ScheduledStart:  r.ScheduledStart.Format(wallClockLayout),
		DurationMinutes: r.DurationMinutes,
		IsVirtual:       r.IsVirtual,
		AmountCents:     r.AmountCents,
		Currency:        r.Currency,
		Status:          r.Status,
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toReservationResponses(list []model.Reservation) []reservationResponse {
	out := make([]reservationResponse, len(list))
	for i := range list {
		out[i] = toReservationResponse(&list[i])
	}
	return out
}

type availabilityResponse struct {
	PractitionerID  string           `json:"practitioner_id"`
	Date            string           `json:"date"`
	DurationMinutes int              `json:"duration_minutes"`
	Slots           []model.TimeSlot `json:"slots"`
}

// createReservationRequest is the body of POST /api/bookings.
type createReservationRequest struct {
	PractitionerID  string `json:"practitioner_id"`
	ScheduledStart  string `json:"scheduled_start"`
	DurationMinutes int    `json:"duration_minutes"`
	IsVirtual       bool   `json:"is_virtual"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	Notes           string `json:"notes"`
}

type updateStatusRequest struct {
	Status model.ReservationStatus `json:"status"`
}

// parseScheduledStart accepts a zone-less wall-clock timestamp or RFC 3339.
// An offset, when given, is dropped and the wall clock kept.
func parseScheduledStart(s string) (time.Time, bool) {
	if t, err := time.Parse(wallClockLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), true
	}
	return time.Time{}, false
}

// GetAvailability returns the slots of a practitioner on a day.
// GET /api/practitioners/{id}/availability?date=YYYY-MM-DD&duration=60
func (h *BookingHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	practitionerID := chi.URLParam(r, "id")

	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError("date is required"))
		return
	}
	date, err := time.Parse("2006-01-02", dateParam)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError("expected YYYY-MM-DD"))
		return
	}

	duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidDuration,
			Message:  "duration is required and must be a number of minutes.",
			Category: "validation",
			Action:   "Sessions last 30, 60 or 90 minutes.",
		})
		return
	}

	slots, err := h.service.GetAvailableSlots(r.Context(), practitionerID, date, duration)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		PractitionerID:  practitionerID,
		Date:            dateParam,
		DurationMinutes: duration,
		Slots:           slots,
	})
}

// CreateReservation books a session for the authenticated client.
// POST /api/bookings
func (h *BookingHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.ScheduledStart == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError("scheduled_start is required"))
		return
	}
	start, ok := parseScheduledStart(req.ScheduledStart)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError("expected YYYY-MM-DDTHH:MM:SS"))
		return
	}

	res, err := h.service.CreateReservation(r.Context(), userID, booking.CreateReservationInput{
		PractitionerID:  req.PractitionerID,
		ScheduledStart:  start,
		DurationMinutes: req.DurationMinutes,
		IsVirtual:       req.IsVirtual,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		Notes:           req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

// ListReservations returns the caller's reservations as client or practitioner.
// GET /api/bookings
func (h *BookingHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	list, err := h.service.ListReservations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationResponses(list))
}

// GetReservation returns one reservation to a participant.
// GET /api/bookings/{id}
func (h *BookingHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	res, err := h.service.GetReservation(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// UpdateStatus moves a reservation through its lifecycle.
// PUT /api/bookings/{id}/status
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	res, err := h.service.UpdateReservationStatus(r.Context(), chi.URLParam(r, "id"), req.Status, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationResponse(res))
}
