package model

import "fmt"

// APIError is the uniform error format returned to clients.
// It carries the category shown in the UI and a suggested action.
type APIError struct {
	Code     string // machine-readable code
	Message  string // human-readable message
	Category string // auth, validation, booking, access, payment, system
	Action   string // what the user can do about it
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Error codes.
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeInvalidDate           = "INVALID_DATE"
	ErrCodeInvalidDuration       = "INVALID_DURATION"
	ErrCodeInvalidStatus         = "INVALID_STATUS"
	ErrCodeBookingConflict       = "BOOKING_CONFLICT"
	ErrCodeEntitlementDenied     = "ENTITLEMENT_DENIED"
	ErrCodeReservationNotFound   = "RESERVATION_NOT_FOUND"
	ErrCodePractitionerNotFound  = "PRACTITIONER_NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeInvalidTransition     = "INVALID_STATUS_TRANSITION"
	ErrCodeTrialAlreadyUsed      = "TRIAL_ALREADY_USED"
	ErrCodePaymentsUnavailable   = "PAYMENTS_UNAVAILABLE"
	ErrCodePaymentProviderFailed = "PAYMENT_PROVIDER_FAILED"
)

// NewValidationError returns a generic validation error.
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request and try again.",
	}
}

// NewInvalidDateError is returned for a missing, malformed or past date.
func NewInvalidDateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("Invalid date: %s", reason),
		Category: "validation",
		Action:   "Provide a date in YYYY-MM-DD format that is today or later.",
	}
}

// NewInvalidDurationError is returned for a session length outside the allowed set.
func NewInvalidDurationError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDuration,
		Message:  fmt.Sprintf("Invalid session duration: %d minutes", minutes),
		Category: "validation",
		Action:   "Sessions last 30, 60 or 90 minutes.",
	}
}

// NewInvalidStatusError is returned for an unknown reservation status.
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("Unknown reservation status: %q", status),
		Category: "validation",
		Action:   "Use one of scheduled, confirmed, completed or cancelled.",
	}
}

// NewReservationNotFoundError is returned when a reservation does not exist.
func NewReservationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeReservationNotFound,
		Message:  fmt.Sprintf("Reservation not found: %s", id),
		Category: "booking",
		Action:   "Check the reservation ID.",
	}
}

// NewPractitionerNotFoundError is returned when a practitioner does not exist
// or no longer accepts bookings.
func NewPractitionerNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodePractitionerNotFound,
		Message:  fmt.Sprintf("Practitioner not found: %s", id),
		Category: "booking",
		Action:   "Choose another practitioner.",
	}
}

// NewUserNotFoundError is returned when the account does not exist.
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewForbiddenError is returned when the actor has no rights over the resource.
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "Only the client or the practitioner of a reservation can do this.",
	}
}

// NewInvalidTransitionError is returned for a status change the lifecycle forbids.
func NewInvalidTransitionError(from, to ReservationStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("Cannot change reservation status from %s to %s.", from, to),
		Category: "booking",
		Action:   "Completed and cancelled reservations cannot be changed.",
	}
}

// NewTrialAlreadyUsedError is returned when the account already started a trial.
func NewTrialAlreadyUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeTrialAlreadyUsed,
		Message:  "The free trial has already been used on this account.",
		Category: "access",
		Action:   "Upgrade to a subscription to keep your access.",
	}
}

// NewPaymentsUnavailableError is returned when no payment provider is configured.
func NewPaymentsUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentsUnavailable,
		Message:  "Payments are not available right now.",
		Category: "payment",
		Action:   "Try again later.",
	}
}

// NewPaymentProviderError is returned when the payment provider rejects a request.
func NewPaymentProviderError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentProviderFailed,
		Message:  fmt.Sprintf("The payment provider rejected the request: %s", reason),
		Category: "payment",
		Action:   "Check the amount and try again.",
	}
}

// BookingConflictError reports that the requested interval collides with
// active reservations. It carries fresh availability for the requested day so
// the client can offer other slots without another round trip.
type BookingConflictError struct {
	Conflicts    []Reservation
	Availability []TimeSlot
}

// Error implements the error interface.
func (e *BookingConflictError) Error() string {
	return fmt.Sprintf("[%s] requested time overlaps %d existing reservation(s)", ErrCodeBookingConflict, len(e.Conflicts))
}

// APIError returns the client-facing part of the conflict.
func (e *BookingConflictError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodeBookingConflict,
		Message:  "The requested time is no longer available.",
		Category: "booking",
		Action:   "Pick one of the available slots and try again.",
	}
}

// EntitlementDeniedError reports a failed permission check, either because
// the tier lacks the permission or because its usage ceiling is reached.
type EntitlementDeniedError struct {
	Permission    string
	AccessLevel   AccessLevel
	RequiredLevel AccessLevel // next tier that grants more; empty when none does
	Limit         int         // zero unless a usage ceiling was hit
	Used          int
	Message       string
}

// Error implements the error interface.
func (e *EntitlementDeniedError) Error() string {
	return fmt.Sprintf("[%s] %s", ErrCodeEntitlementDenied, e.Message)
}

// APIError returns the client-facing part of the denial.
func (e *EntitlementDeniedError) APIError() *APIError {
	action := "This feature is not available on your plan."
	if e.RequiredLevel != "" {
		action = fmt.Sprintf("Upgrade to %s to unlock this.", e.RequiredLevel)
	}
	return &APIError{
		Code:     ErrCodeEntitlementDenied,
		Message:  e.Message,
		Category: "access",
		Action:   action,
	}
}
