// Package payment creates Stripe payment intents for reservations.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"github.com/floreser/floreser/internal/model"
	"github.com/floreser/floreser/internal/repository"
)

// MinAmountCents is the smallest charge Stripe accepts for USD.
const MinAmountCents = 50

// IntentAPI creates payment intents. *paymentintent.Client satisfies it.
type IntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// NewStripeAPI returns a payment intent client bound to the secret key.
func NewStripeAPI(secretKey string) *paymentintent.Client {
	return &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

// Intent is what the client needs to confirm a payment.
type Intent struct {
	ID            string `json:"id"`
	ClientSecret  string `json:"client_secret"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	ReservationID string `json:"reservation_id"`
}

// ProviderError wraps a failure talking to Stripe that carries no Stripe
// error payload, such as a network error.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider unreachable: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// APIError returns the client-facing part of the failure.
func (e *ProviderError) APIError() *model.APIError {
	return model.NewPaymentProviderError("provider unreachable")
}

// Service charges clients for their reservations.
type Service struct {
	api             IntentAPI
	reservations    repository.ReservationRepository
	defaultCurrency string
}

// NewService creates a Service. A nil api disables payments: every call
// returns PAYMENTS_UNAVAILABLE.
func NewService(api IntentAPI, reservations repository.ReservationRepository, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "usd"
	}
	return &Service{api: api, reservations: reservations, defaultCurrency: strings.ToLower(defaultCurrency)}
}

// CreateIntent creates a payment intent for the reservation's amount. Only
// the reservation's client may pay for it.
func (s *Service) CreateIntent(ctx context.Context, clientID, reservationID string) (*Intent, error) {
	if s.api == nil {
		return nil, model.NewPaymentsUnavailableError()
	}
	if reservationID == "" {
		return nil, model.NewValidationError("reservation_id is required.")
	}

	r, err := s.reservations.FindByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if r == nil {
		return nil, model.NewReservationNotFoundError(reservationID)
	}
	if r.ClientID != clientID {
		return nil, model.NewForbiddenError("Only the client of a reservation can pay for it.")
	}
	if !r.IsActive() {
		return nil, model.NewValidationError(fmt.Sprintf("Reservation is %s and cannot be paid.", r.Status))
	}
	if r.AmountCents < MinAmountCents {
		return nil, model.NewValidationError(fmt.Sprintf("Amount must be at least %d cents.", MinAmountCents))
	}

	currency := strings.ToLower(r.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(r.AmountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("reservation_id", r.ID)
	params.AddMetadata("client_id", r.ClientID)
	params.AddMetadata("practitioner_id", r.PractitionerID)
	// one intent per reservation even if the client retries
	params.SetIdempotencyKey("reservation-" + r.ID)

	pi, err := s.api.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, model.NewPaymentProviderError(stripeErr.Msg)
		}
		return nil, &ProviderError{Err: err}
	}

	return &Intent{
		ID:            pi.ID,
		ClientSecret:  pi.ClientSecret,
		AmountCents:   pi.Amount,
		Currency:      string(pi.Currency),
		Status:        string(pi.Status),
		ReservationID: r.ID,
	}, nil
}
