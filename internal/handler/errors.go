package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/middleware"
	"github.com/floreser/floreser/internal/model"
)

// apiErrorResponse is the uniform error body.
type apiErrorResponse = middleware.ErrorResponseBody

// conflictResponse is the 409 body of a booking collision.
type conflictResponse struct {
	apiErrorResponse
	Conflicts    []reservationResponse `json:"conflicts"`
	Availability []model.TimeSlot      `json:"availability"`
}

// entitlementDeniedResponse is the 403 body of a failed permission check.
type entitlementDeniedResponse struct {
	apiErrorResponse
	Permission    string            `json:"permission"`
	AccessLevel   model.AccessLevel `json:"access_level"`
	RequiredLevel model.AccessLevel `json:"required_level,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Used          int               `json:"used,omitempty"`
}

// apiErrorer is implemented by typed errors that carry a client-facing part.
type apiErrorer interface {
	APIError() *model.APIError
}

func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	middleware.WriteJSON(w, statusCode, body)
}

func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Sign in and try again.",
	})
}

func writeInvalidBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	})
}

// handleServiceError converts an error returned by a service into a response.
func handleServiceError(w http.ResponseWriter, err error) {
	var conflict *model.BookingConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, conflictResponse{
			apiErrorResponse: middleware.NewErrorResponseBody(conflict.APIError()),
			Conflicts:        toReservationResponses(conflict.Conflicts),
			Availability:     conflict.Availability,
		})
		return
	}

	var denied *model.EntitlementDeniedError
	if errors.As(err, &denied) {
		writeJSON(w, http.StatusForbidden, entitlementDeniedResponse{
			apiErrorResponse: middleware.NewErrorResponseBody(denied.APIError()),
			Permission:       denied.Permission,
			AccessLevel:      denied.AccessLevel,
			RequiredLevel:    denied.RequiredLevel,
			Limit:            denied.Limit,
			Used:             denied.Used,
		})
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var typed apiErrorer
	if errors.As(err, &typed) {
		zap.L().Warn("upstream failure", zap.Error(err))
		apiErr := typed.APIError()
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	zap.L().Error("internal server error", zap.Error(err))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus maps an APIError code to its HTTP status.
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidDate, model.ErrCodeInvalidDuration,
		model.ErrCodeInvalidStatus, model.ErrCodeTrialAlreadyUsed:
		return http.StatusBadRequest
	case model.ErrCodeEntitlementDenied, model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeReservationNotFound, model.ErrCodePractitionerNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeBookingConflict, model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodePaymentProviderFailed:
		return http.StatusBadGateway
	case model.ErrCodePaymentsUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
