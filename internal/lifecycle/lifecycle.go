// Package lifecycle owns booking status transitions. Every transition is
// validated against a single table, applied under a per-booking lock, and
// carries its paired driver side effect (BUSY on offer, AVAILABLE plus
// completion counters on terminal states) in the same critical section.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-hail/internal/dispatch"
	"github.com/example/driver-hail/internal/models"
	"github.com/example/driver-hail/internal/observability"
	"github.com/example/driver-hail/internal/payments"
	"github.com/example/driver-hail/internal/registry"
	"github.com/example/driver-hail/internal/storage"
)

type Event string

const (
	EventAccept   Event = "ACCEPT"
	EventArrive   Event = "ARRIVED"
	EventStart    Event = "START"
	EventComplete Event = "COMPLETE"
	EventCancel   Event = "CANCEL"
)

// transitions is the authoritative edge set. Any (status, event) pair not
// present here is rejected with ErrIllegalTransition; terminal states have
// no entries at all.
var transitions = map[models.BookingStatus]map[Event]models.BookingStatus{
	models.StatusRequested: {
		EventAccept: models.StatusAccepted,
		EventCancel: models.StatusCancelled,
	},
	models.StatusAccepted: {
		EventArrive: models.StatusArrived,
		EventCancel: models.StatusCancelled,
	},
	models.StatusArrived: {
		EventStart:  models.StatusInProgress,
		EventCancel: models.StatusCancelled,
	},
	models.StatusInProgress: {
		EventComplete: models.StatusCompleted,
		EventCancel:   models.StatusCancelled,
	},
}

// Notifier receives fire-and-forget lifecycle notifications.
type Notifier interface {
	BookingEvent(event string, b *models.Booking)
}

type Lifecycle struct {
	Store    storage.BookingStore
	Drivers  registry.Registry
	Notifier Notifier         // optional
	Payments payments.Gateway // optional
	Currency string
	Logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lockFor serializes all transitions for one booking. Operations on
// different bookings proceed in parallel.
func (l *Lifecycle) lockFor(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (l *Lifecycle) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Lifecycle) notify(event string, b *models.Booking) {
	if l.Notifier == nil {
		return
	}
	l.Notifier.BookingEvent(event, b)
}

func (l *Lifecycle) Get(ctx context.Context, bookingID string) (*models.Booking, error) {
	return l.Store.GetBooking(ctx, bookingID)
}

// Create persists a new booking in REQUESTED state. The driver snapshot
// is filled in by the first MoveOffer.
func (l *Lifecycle) Create(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now()
	b.Status = models.StatusRequested
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := l.Store.SaveBooking(ctx, b); err != nil {
		return err
	}
	observability.BookingsCreated.Inc()
	l.notify(dispatch.EventCreated, b)
	return nil
}

// MoveOffer points a REQUESTED booking at a new candidate: the candidate
// is marked BUSY, the previous head (if any) is released, and the driver
// snapshot on the booking is refreshed. Only the current head is ever
// BUSY for a booking.
func (l *Lifecycle) MoveOffer(ctx context.Context, bookingID string, next *models.DriverRecord) (*models.Booking, error) {
	unlock := l.lockFor(bookingID)
	defer unlock()

	b, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusRequested {
		return nil, fmt.Errorf("offer on %s booking: %w", b.Status, models.ErrIllegalTransition)
	}

	prev := b.DriverID
	if err := l.Drivers.SetStatus(ctx, next.ID, models.DriverBusy); err != nil {
		return nil, err
	}
	if prev != "" && prev != next.ID {
		if err := l.releaseIfBusy(ctx, prev); err != nil {
			_ = l.Drivers.SetStatus(ctx, next.ID, models.DriverAvailable)
			return nil, err
		}
	}

	b.DriverID = next.ID
	b.DriverName = next.Name
	b.DriverPhoto = next.Photo
	b.DriverPhone = next.Phone
	b.UpdatedAt = time.Now()
	if err := l.Store.UpdateBooking(ctx, b); err != nil {
		_ = l.Drivers.SetStatus(ctx, next.ID, models.DriverAvailable)
		return nil, err
	}

	observability.OffersExtended.Inc()
	l.notify(dispatch.EventOffered, b)
	return b, nil
}

// Accept commits the current head as the booking's driver. The driver is
// already BUSY from the offer; no further driver side effect is needed.
func (l *Lifecycle) Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	unlock := l.lockFor(bookingID)
	defer unlock()

	b, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	next, ok := transitions[b.Status][EventAccept]
	if !ok {
		return nil, fmt.Errorf("accept on %s booking: %w", b.Status, models.ErrIllegalTransition)
	}
	if b.DriverID != driverID {
		return nil, fmt.Errorf("driver %s: %w", driverID, models.ErrForbidden)
	}

	b.Status = next
	b.UpdatedAt = time.Now()
	if err := l.Store.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}

	observability.BookingsAccepted.Inc()
	l.holdPayment(ctx, b, driverID)
	l.notify(dispatch.EventAccepted, b)
	return b, nil
}

// Progress applies a driver-side advance: ARRIVED, START or COMPLETE.
func (l *Lifecycle) Progress(ctx context.Context, bookingID, driverID string, ev Event) (*models.Booking, error) {
	if ev != EventArrive && ev != EventStart && ev != EventComplete {
		return nil, fmt.Errorf("event %s: %w", ev, models.ErrIllegalTransition)
	}

	unlock := l.lockFor(bookingID)
	defer unlock()

	b, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.DriverID != driverID {
		return nil, fmt.Errorf("driver %s: %w", driverID, models.ErrForbidden)
	}
	next, ok := transitions[b.Status][ev]
	if !ok {
		return nil, fmt.Errorf("%s on %s booking: %w", ev, b.Status, models.ErrIllegalTransition)
	}

	if ev == EventComplete {
		if err := l.Drivers.SetStatus(ctx, driverID, models.DriverAvailable); err != nil {
			return nil, err
		}
		if err := l.Drivers.RecordCompletion(ctx, driverID); err != nil {
			_ = l.Drivers.SetStatus(ctx, driverID, models.DriverBusy)
			return nil, err
		}
	}

	b.Status = next
	b.UpdatedAt = time.Now()
	if err := l.Store.UpdateBooking(ctx, b); err != nil {
		if ev == EventComplete {
			_ = l.Drivers.SetStatus(ctx, driverID, models.DriverBusy)
			l.log().Warn("completion counter not reverted after failed persist", "booking_id", bookingID, "driver_id", driverID)
		}
		return nil, err
	}

	switch ev {
	case EventArrive:
		l.notify(dispatch.EventArrived, b)
	case EventStart:
		l.notify(dispatch.EventStarted, b)
	case EventComplete:
		observability.BookingsCompleted.Inc()
		l.capturePayment(ctx, b)
		l.notify(dispatch.EventCompleted, b)
	}
	return b, nil
}

// Cancel applies a customer- or driver-initiated cancellation. The actor
// must be a party to the booking; admins may cancel anything.
func (l *Lifecycle) Cancel(ctx context.Context, bookingID, actorID string, by models.Role, reason models.CancelReason) (*models.Booking, error) {
	unlock := l.lockFor(bookingID)
	defer unlock()

	b, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch by {
	case models.RoleCustomer:
		if actorID != b.CustomerID {
			return nil, fmt.Errorf("customer %s: %w", actorID, models.ErrForbidden)
		}
	case models.RoleDriver:
		if actorID != b.DriverID {
			return nil, fmt.Errorf("driver %s: %w", actorID, models.ErrForbidden)
		}
	case models.RoleAdmin:
	default:
		return nil, fmt.Errorf("role %s: %w", by, models.ErrForbidden)
	}
	return l.cancelLocked(ctx, b, reason)
}

// CancelExhausted is the coordinator's no-drivers-available outcome.
func (l *Lifecycle) CancelExhausted(ctx context.Context, bookingID string) (*models.Booking, error) {
	unlock := l.lockFor(bookingID)
	defer unlock()

	b, err := l.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return l.cancelLocked(ctx, b, models.CancelNoDrivers)
}

func (l *Lifecycle) cancelLocked(ctx context.Context, b *models.Booking, reason models.CancelReason) (*models.Booking, error) {
	next, ok := transitions[b.Status][EventCancel]
	if !ok {
		return nil, fmt.Errorf("cancel on %s booking: %w", b.Status, models.ErrIllegalTransition)
	}

	released := false
	if b.DriverID != "" {
		d, err := l.Drivers.Get(ctx, b.DriverID)
		if err != nil {
			return nil, err
		}
		if d.Status == models.DriverBusy {
			if err := l.Drivers.SetStatus(ctx, b.DriverID, models.DriverAvailable); err != nil {
				return nil, err
			}
			released = true
		}
	}

	b.Status = next
	b.CancelReason = reason
	b.UpdatedAt = time.Now()
	if err := l.Store.UpdateBooking(ctx, b); err != nil {
		if released {
			_ = l.Drivers.SetStatus(ctx, b.DriverID, models.DriverBusy)
		}
		return nil, err
	}

	observability.BookingsCancelled.WithLabelValues(string(reason)).Inc()
	l.releasePayment(ctx, b)
	l.notify(dispatch.EventCancelled, b)
	return b, nil
}

func (l *Lifecycle) releaseIfBusy(ctx context.Context, driverID string) error {
	d, err := l.Drivers.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if d.Status != models.DriverBusy {
		return nil
	}
	return l.Drivers.SetStatus(ctx, driverID, models.DriverAvailable)
}

// Payment calls run strictly after the transition is committed and are
// never allowed to fail it.

func (l *Lifecycle) holdPayment(ctx context.Context, b *models.Booking, driverID string) {
	if l.Payments == nil {
		return
	}
	d, err := l.Drivers.Get(ctx, driverID)
	if err != nil || d.HourlyRate <= 0 {
		return
	}
	currency := l.Currency
	if currency == "" {
		currency = "inr"
	}
	holdID, err := l.Payments.Hold(ctx, int64(d.HourlyRate)*100, currency, b.CustomerID)
	if err != nil {
		l.log().Warn("payment hold failed", "booking_id", b.ID, "error", err)
		return
	}
	b.PaymentHoldID = holdID
	if err := l.Store.UpdateBooking(ctx, b); err != nil {
		l.log().Warn("payment hold id not persisted", "booking_id", b.ID, "error", err)
	}
}

func (l *Lifecycle) capturePayment(ctx context.Context, b *models.Booking) {
	if l.Payments == nil || b.PaymentHoldID == "" {
		return
	}
	if err := l.Payments.Capture(ctx, b.PaymentHoldID); err != nil {
		l.log().Warn("payment capture failed", "booking_id", b.ID, "hold_id", b.PaymentHoldID, "error", err)
	}
}

func (l *Lifecycle) releasePayment(ctx context.Context, b *models.Booking) {
	if l.Payments == nil || b.PaymentHoldID == "" {
		return
	}
	if err := l.Payments.Release(ctx, b.PaymentHoldID); err != nil {
		l.log().Warn("payment release failed", "booking_id", b.ID, "hold_id", b.PaymentHoldID, "error", err)
	}
}
