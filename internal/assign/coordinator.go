// Package assign drives a booking through the REQUESTED phase: it owns
// the ephemeral candidate queue and one cancellable timer per in-flight
// offer. Nothing here is durable — a process restart loses in-flight
// escalation and the caller observes a stalled REQUESTED booking it can
// cancel or accept directly.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-hail/internal/lifecycle"
	"github.com/example/driver-hail/internal/models"
	"github.com/example/driver-hail/internal/observability"
	"github.com/example/driver-hail/internal/registry"
)

const DefaultOfferTimeout = 60 * time.Second

type Coordinator struct {
	lc      *lifecycle.Lifecycle
	drivers registry.Registry
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	offers map[string]*offer
	closed bool
}

// offer is one booking's in-flight escalation state. gen invalidates
// timers that fire after the offer has already moved on.
type offer struct {
	queue []string // head = current assignee
	gen   uint64
	timer *time.Timer
}

func New(lc *lifecycle.Lifecycle, drivers registry.Registry, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultOfferTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		lc:      lc,
		drivers: drivers,
		timeout: timeout,
		logger:  logger,
		offers:  make(map[string]*offer),
	}
}

// Dispatch creates the booking and starts the escalation over the given
// candidate queue. If the queue exhausts immediately the returned booking
// is already CANCELLED with reason no_drivers_available; that outcome is
// not an error.
func (c *Coordinator) Dispatch(ctx context.Context, b *models.Booking, queue []string) (*models.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("coordinator is shut down")
	}

	if err := c.lc.Create(ctx, b); err != nil {
		return nil, err
	}
	c.offers[b.ID] = &offer{queue: queue}
	if err := c.offerHead(ctx, b.ID); err != nil && !errors.Is(err, models.ErrNoCandidates) {
		return nil, err
	}
	return c.lc.Get(ctx, b.ID)
}

// offerHead extends the offer to the first still-eligible candidate in
// the queue, skipping drivers whose availability went stale since the
// queue was built. Caller must hold c.mu.
func (c *Coordinator) offerHead(ctx context.Context, bookingID string) error {
	of := c.offers[bookingID]
	for {
		if len(of.queue) == 0 {
			delete(c.offers, bookingID)
			if _, err := c.lc.CancelExhausted(ctx, bookingID); err != nil {
				return err
			}
			return models.ErrNoCandidates
		}

		head := of.queue[0]
		d, err := c.drivers.Get(ctx, head)
		if err != nil || d.Status != models.DriverAvailable || d.Approval != models.ApprovalApproved {
			// candidacy re-check failed; skip without side effects
			of.queue = of.queue[1:]
			continue
		}

		if _, err := c.lc.MoveOffer(ctx, bookingID, &d); err != nil {
			delete(c.offers, bookingID)
			return err
		}
		of.gen++
		gen := of.gen
		of.timer = time.AfterFunc(c.timeout, func() { c.expire(bookingID, gen) })
		return nil
	}
}

func (c *Coordinator) expire(bookingID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	of := c.offers[bookingID]
	if of == nil || of.gen != gen {
		// offer already resolved before the timer fired
		return
	}
	observability.OfferTimeouts.Inc()
	of.queue = of.queue[1:]
	if err := c.offerHead(context.Background(), bookingID); err != nil && !errors.Is(err, models.ErrNoCandidates) {
		c.logger.Error("escalation after timeout failed", "booking_id", bookingID, "error", err)
	}
}

// Respond routes a driver's ACCEPT or DECLINE for the booking it was
// offered. Only the current head may respond.
func (c *Coordinator) Respond(ctx context.Context, bookingID, driverID string, accept bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	of := c.offers[bookingID]
	if of == nil {
		return c.respondStalled(ctx, bookingID, driverID, accept)
	}
	if len(of.queue) == 0 || of.queue[0] != driverID {
		return fmt.Errorf("driver %s does not hold the offer: %w", driverID, models.ErrForbidden)
	}

	if of.timer != nil {
		of.timer.Stop()
	}
	of.gen++

	if accept {
		delete(c.offers, bookingID)
		_, err := c.lc.Accept(ctx, bookingID, driverID)
		return err
	}

	observability.OfferDeclines.Inc()
	of.queue = of.queue[1:]
	if err := c.offerHead(ctx, bookingID); err != nil && !errors.Is(err, models.ErrNoCandidates) {
		return err
	}
	return nil
}

// respondStalled handles a response for a booking with no in-flight
// escalation, which happens after a restart. The assigned head may still
// accept; a decline ends the request since the queue is gone.
func (c *Coordinator) respondStalled(ctx context.Context, bookingID, driverID string, accept bool) error {
	if accept {
		_, err := c.lc.Accept(ctx, bookingID, driverID)
		return err
	}
	b, err := c.lc.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.StatusRequested {
		return fmt.Errorf("decline on %s booking: %w", b.Status, models.ErrIllegalTransition)
	}
	if b.DriverID != driverID {
		return fmt.Errorf("driver %s does not hold the offer: %w", driverID, models.ErrForbidden)
	}
	observability.OfferDeclines.Inc()
	_, err = c.lc.CancelExhausted(ctx, bookingID)
	return err
}

// Cancel applies an out-of-band cancellation and aborts any in-flight
// offer timer. The offer is only discarded once the lifecycle transition
// has actually gone through, so a rejected cancel leaves escalation
// running.
func (c *Coordinator) Cancel(ctx context.Context, bookingID, actorID string, by models.Role, reason models.CancelReason) (*models.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.lc.Cancel(ctx, bookingID, actorID, by, reason)
	if err != nil {
		return nil, err
	}
	if of := c.offers[bookingID]; of != nil {
		if of.timer != nil {
			of.timer.Stop()
		}
		of.gen++
		delete(c.offers, bookingID)
	}
	return b, nil
}

// QueueLen reports the remaining candidates (head included) for a
// booking, or zero once escalation has resolved.
func (c *Coordinator) QueueLen(bookingID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if of := c.offers[bookingID]; of != nil {
		return len(of.queue)
	}
	return 0
}

// Shutdown stops every in-flight timer. In-flight bookings stay
// REQUESTED and can be cancelled or accepted after restart.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, of := range c.offers {
		if of.timer != nil {
			of.timer.Stop()
		}
		delete(c.offers, id)
	}
}
