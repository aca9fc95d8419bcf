// Package dispatch fans booking lifecycle notifications out to the
// delivery channels: driver WebSocket sessions, an HTTP push provider and
// the AMQP event bus. Every sink is best-effort; delivery failures are
// logged and never affect booking state.
package dispatch

import (
	"log/slog"

	"github.com/example/driver-hail/internal/models"
)

const (
	EventCreated   = "booking_created"
	EventOffered   = "booking_offered"
	EventAccepted  = "booking_accepted"
	EventArrived   = "booking_arrived"
	EventStarted   = "booking_started"
	EventCompleted = "booking_completed"
	EventCancelled = "booking_cancelled"
)

// Sink receives one notification per lifecycle event.
type Sink interface {
	BookingEvent(event string, b *models.Booking) error
}

type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) BookingEvent(event string, b *models.Booking) {
	for _, s := range f.sinks {
		if err := s.BookingEvent(event, b); err != nil {
			f.logger.Warn("notification dropped", "event", event, "booking_id", b.ID, "error", err)
		}
	}
}
