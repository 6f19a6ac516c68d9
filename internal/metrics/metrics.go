// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is what services and middleware record into.
type MetricsCollector interface {
	RecordBookingCreated()
	RecordBookingConflict()
	RecordStatusTransition(from, to string)
	RecordEntitlementDenied(permission string)
	RecordNotificationFailure(eventType string)
	RecordSessionsCleaned(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector is the Prometheus implementation of MetricsCollector.
type Collector struct {
	bookingsCreated      prometheus.Counter
	bookingConflicts     prometheus.Counter
	statusTransitions    *prometheus.CounterVec
	entitlementDenied    *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	sessionsCleaned      prometheus.Counter
	httpStatus           *prometheus.CounterVec
	requestLatency       prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floreser_bookings_created_total",
			Help: "Reservations created.",
		}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floreser_booking_conflicts_total",
			Help: "Reservation attempts rejected because the interval was taken.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floreser_reservation_transitions_total",
			Help: "Reservation status changes by source and target status.",
		}, []string{"from", "to"}),
		entitlementDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floreser_entitlement_denied_total",
			Help: "Denied permission checks by permission.",
		}, []string{"permission"}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floreser_notification_failures_total",
			Help: "Notifications that could not be dispatched, by event type.",
		}, []string{"event"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floreser_sessions_cleaned_total",
			Help: "Expired sessions deleted by the worker.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floreser_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "floreser_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.bookingsCreated,
		c.bookingConflicts,
		c.statusTransitions,
		c.entitlementDenied,
		c.notificationFailures,
		c.sessionsCleaned,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordBookingCreated counts a created reservation.
func (c *Collector) RecordBookingCreated() {
	c.bookingsCreated.Inc()
}

// RecordBookingConflict counts a rejected overlapping reservation.
func (c *Collector) RecordBookingConflict() {
	c.bookingConflicts.Inc()
}

// RecordStatusTransition counts a reservation status change.
func (c *Collector) RecordStatusTransition(from, to string) {
	c.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordEntitlementDenied counts a denied permission check.
func (c *Collector) RecordEntitlementDenied(permission string) {
	c.entitlementDenied.WithLabelValues(permission).Inc()
}

// RecordNotificationFailure counts a failed notification dispatch.
func (c *Collector) RecordNotificationFailure(eventType string) {
	c.notificationFailures.WithLabelValues(eventType).Inc()
}

// RecordSessionsCleaned adds deleted sessions.
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordHTTPStatus counts a response status code.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency observes one request's duration.
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop discards everything. It is the default when no collector is wired.
type Nop struct{}

func (Nop) RecordBookingCreated()                 {}
func (Nop) RecordBookingConflict()                {}
func (Nop) RecordStatusTransition(string, string) {}
func (Nop) RecordEntitlementDenied(string)        {}
func (Nop) RecordNotificationFailure(string)      {}
func (Nop) RecordSessionsCleaned(int64)           {}
func (Nop) RecordHTTPStatus(int)                  {}
func (Nop) RecordRequestLatency(time.Duration)    {}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
