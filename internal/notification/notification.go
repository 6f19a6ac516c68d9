// Package notification delivers reservation events to participants.
//
// Dispatch happens after the reservation change is committed. A failed
// dispatch never undoes the change.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/model"
)

// Event types.
const (
	EventReservationCreated       = "reservation.created"
	EventReservationStatusChanged = "reservation.status_changed"
)

// DefaultQueue is the Redis list RedisDispatcher pushes to.
const DefaultQueue = "floreser:notifications"

// Event is one reservation change both participants should hear about.
type Event struct {
	Type            string                  `json:"type"`
	ReservationID   string                  `json:"reservation_id"`
	PractitionerID  string                  `json:"practitioner_id"`
	ClientID        string                  `json:"client_id"`
	ScheduledStart  string                  `json:"scheduled_start"`
	DurationMinutes int                     `json:"duration_minutes"`
	Status          model.ReservationStatus `json:"status"`
	PreviousStatus  model.ReservationStatus `json:"previous_status,omitempty"`
	OccurredAt      time.Time               `json:"occurred_at"`
}

// NewEvent builds an event from a reservation. previous is empty for
// creations.
func NewEvent(eventType string, r *model.Reservation, previous model.ReservationStatus, at time.Time) Event {
	return Event{
		Type:            eventType,
		ReservationID:   r.ID,
		PractitionerID:  r.PractitionerID,
		ClientID:        r.ClientID,
		ScheduledStart:  r.ScheduledStart.Format("2006-01-02T15:04:05"),
		DurationMinutes: r.DurationMinutes,
		Status:          r.Status,
		PreviousStatus:  previous,
		OccurredAt:      at,
	}
}

// Dispatcher sends events.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// LogDispatcher writes events to the log only. It is used when no queue is
// configured.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a LogDispatcher. A nil logger means zap.L().
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, event Event) error {
	d.logger.Info("notification",
		zap.String("type", event.Type),
		zap.String("reservation_id", event.ReservationID),
		zap.String("practitioner_id", event.PractitionerID),
		zap.String("client_id", event.ClientID),
		zap.String("status", string(event.Status)),
	)
	return nil
}

// ListPusher is the part of the Redis client RedisDispatcher needs.
// *redis.Client satisfies it.
type ListPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisDispatcher appends events as JSON to a Redis list consumed by the
// delivery workers (email, push).
type RedisDispatcher struct {
	rdb   ListPusher
	queue string
}

// NewRedisDispatcher creates a RedisDispatcher. An empty queue means
// DefaultQueue.
func NewRedisDispatcher(rdb ListPusher, queue string) *RedisDispatcher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisDispatcher{rdb: rdb, queue: queue}
}

// Dispatch implements Dispatcher.
func (d *RedisDispatcher) Dispatch(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := d.rdb.RPush(ctx, d.queue, b).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// NewRedisClient parses a redis:// URL and returns a client.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("redis URL is empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Multi fans an event out to several dispatchers and joins their errors.
type Multi []Dispatcher

// Dispatch implements Dispatcher.
func (m Multi) Dispatch(ctx context.Context, event Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Dispatcher = (*LogDispatcher)(nil)
	_ Dispatcher = (*RedisDispatcher)(nil)
	_ Dispatcher = Multi(nil)
)
