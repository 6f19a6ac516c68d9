package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/middleware"
)

// RouterDeps holds everything NewRouter wires together.
type RouterDeps struct {
	// Middleware
	Logger            *zap.Logger
	RequestRecorder   middleware.RequestRecorder
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// Operations
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// Services
	BookingService BookingServiceInterface
	AccessService  AccessServiceInterface
	PaymentService PaymentServiceInterface
	TrialDays      int
}

// NewRouter builds the chi router with every API route and the middleware
// chain.
//
// Middleware order:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// /health, /metrics and /api/csrf-token sit outside the session group.
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.L()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.RequestRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	bookingHandler := NewBookingHandler(deps.BookingService)
	accessHandler := NewAccessHandler(deps.AccessService, deps.TrialDays)
	paymentHandler := NewPaymentHandler(deps.PaymentService)

	// --- Public routes ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig, logger).ServeHTTP)

	// --- Authenticated routes ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig, logger))

		r.Get("/api/practitioners/{id}/availability", bookingHandler.GetAvailability)

		r.Route("/api/bookings", func(r chi.Router) {
			r.Get("/", bookingHandler.ListReservations)
			r.With(deps.RateLimiter.BookingMiddleware()).Post("/", bookingHandler.CreateReservation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", bookingHandler.GetReservation)
				r.Put("/status", bookingHandler.UpdateStatus)
			})
		})

		r.Route("/api/access", func(r chi.Router) {
			r.Get("/info", accessHandler.Info)
			r.Get("/check/{permission}", accessHandler.Check)
			r.Post("/start-trial", accessHandler.StartTrial)
		})

		r.Post("/api/payments/intent", paymentHandler.CreateIntent)
	})

	return r
}
