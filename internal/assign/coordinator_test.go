package assign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/driver-hail/internal/lifecycle"
	"github.com/example/driver-hail/internal/models"
	"github.com/example/driver-hail/internal/registry"
	"github.com/example/driver-hail/internal/storage"
)

const testTimeout = 30 * time.Millisecond

func newTestCoordinator(t *testing.T) (*Coordinator, *lifecycle.Lifecycle, *storage.MemoryStore, *registry.Memory) {
	t.Helper()
	store := storage.NewMemoryStore()
	reg := registry.NewMemory()
	lc := &lifecycle.Lifecycle{Store: store, Drivers: reg}
	c := New(lc, reg, testTimeout, nil)
	t.Cleanup(c.Shutdown)
	return c, lc, store, reg
}

func addDriver(t *testing.T, reg *registry.Memory, id string, st models.DriverStatus, approval models.ApprovalStatus) {
	t.Helper()
	err := reg.Register(context.Background(), &models.DriverRecord{
		ID:       id,
		Name:     "Driver " + id,
		Status:   st,
		Approval: approval,
	})
	if err != nil {
		t.Fatalf("add driver %s: %v", id, err)
	}
}

func newBooking() *models.Booking {
	return &models.Booking{CustomerID: "cust-1", PickupLocation: "MG Road"}
}

func driverStatus(t *testing.T, reg *registry.Memory, id string) models.DriverStatus {
	t.Helper()
	d, err := reg.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get driver %s: %v", id, err)
	}
	return d.Status
}

func TestDispatchOffersFirstCandidate(t *testing.T) {
	ctx := context.Background()
	c, _, _, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if b.Status != models.StatusRequested || b.DriverID != "d1" {
		t.Fatalf("got status=%s driver=%s", b.Status, b.DriverID)
	}
	if got := driverStatus(t, reg, "d1"); got != models.DriverBusy {
		t.Fatalf("head status = %s, want BUSY", got)
	}
	if got := driverStatus(t, reg, "d2"); got != models.DriverAvailable {
		t.Fatalf("queued candidate flipped to %s", got)
	}
	if n := c.QueueLen(b.ID); n != 2 {
		t.Fatalf("queue len = %d, want 2", n)
	}
}

func TestDeclineAdvancesAndSecondAccepts(t *testing.T) {
	ctx := context.Background()
	c, _, store, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if err := c.Respond(ctx, b.ID, "d1", false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := driverStatus(t, reg, "d1"); got != models.DriverAvailable {
		t.Fatalf("declining driver not released: %s", got)
	}
	if got := driverStatus(t, reg, "d2"); got != models.DriverBusy {
		t.Fatalf("next head not busy: %s", got)
	}
	if n := c.QueueLen(b.ID); n != 1 {
		t.Fatalf("queue len after decline = %d, want 1", n)
	}

	if err := c.Respond(ctx, b.ID, "d2", true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, _ := store.GetBooking(ctx, b.ID)
	if got.Status != models.StatusAccepted || got.DriverID != "d2" {
		t.Fatalf("got status=%s driver=%s", got.Status, got.DriverID)
	}
	if st := driverStatus(t, reg, "d1"); st != models.DriverAvailable {
		t.Fatalf("first candidate affected by later accept: %s", st)
	}
}

func TestNonHeadRespondForbidden(t *testing.T) {
	ctx := context.Background()
	c, _, _, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := c.Respond(ctx, b.ID, "d2", true); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-head respond, got %v", err)
	}
	if got := driverStatus(t, reg, "d1"); got != models.DriverBusy {
		t.Fatalf("head disturbed by forbidden respond: %s", got)
	}
}

func TestTimeoutEscalates(t *testing.T) {
	ctx := context.Background()
	c, _, store, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, func() bool {
		got, _ := store.GetBooking(ctx, b.ID)
		return got.DriverID == "d2"
	})
	if got := driverStatus(t, reg, "d1"); got != models.DriverAvailable {
		t.Fatalf("timed-out head not released: %s", got)
	}
	if got := driverStatus(t, reg, "d2"); got != models.DriverBusy {
		t.Fatalf("escalated head not busy: %s", got)
	}
}

func TestSingleCandidateTimeoutCancelsExhausted(t *testing.T) {
	ctx := context.Background()
	c, _, store, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, func() bool {
		got, _ := store.GetBooking(ctx, b.ID)
		return got.Status == models.StatusCancelled
	})
	got, _ := store.GetBooking(ctx, b.ID)
	if got.CancelReason != models.CancelNoDrivers {
		t.Fatalf("cancel reason = %s, want %s", got.CancelReason, models.CancelNoDrivers)
	}
	if st := driverStatus(t, reg, "d1"); st != models.DriverAvailable {
		t.Fatalf("driver not released on exhaustion: %s", st)
	}
	if n := c.QueueLen(b.ID); n != 0 {
		t.Fatalf("offer state leaked after exhaustion: len=%d", n)
	}
}

func TestAllDeclinesExhaustQueue(t *testing.T) {
	ctx := context.Background()
	c, _, store, reg := newTestCoordinator(t)
	ids := []string{"d1", "d2", "d3"}
	for _, id := range ids {
		addDriver(t, reg, id, models.DriverAvailable, models.ApprovalApproved)
	}

	b, err := c.Dispatch(ctx, newBooking(), ids)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	for i, id := range ids {
		if err := c.Respond(ctx, b.ID, id, false); err != nil {
			t.Fatalf("decline %s: %v", id, err)
		}
		want := len(ids) - i - 1
		if n := c.QueueLen(b.ID); n != want {
			t.Fatalf("after %d declines queue len = %d, want %d", i+1, n, want)
		}
	}

	got, _ := store.GetBooking(ctx, b.ID)
	if got.Status != models.StatusCancelled || got.CancelReason != models.CancelNoDrivers {
		t.Fatalf("got status=%s reason=%s", got.Status, got.CancelReason)
	}
	for _, id := range ids {
		if st := driverStatus(t, reg, id); st != models.DriverAvailable {
			t.Fatalf("driver %s not released: %s", id, st)
		}
	}
}

func TestEmptyQueueCancelsImmediately(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestCoordinator(t)

	b, err := c.Dispatch(ctx, newBooking(), nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if b.Status != models.StatusCancelled || b.CancelReason != models.CancelNoDrivers {
		t.Fatalf("got status=%s reason=%s", b.Status, b.CancelReason)
	}
}

func TestStaleCandidateSkipped(t *testing.T) {
	ctx := context.Background()
	c, _, _, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverOffline, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalPending)
	addDriver(t, reg, "d3", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2", "d3"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if b.DriverID != "d3" {
		t.Fatalf("offer went to %s, want d3", b.DriverID)
	}
	if got := driverStatus(t, reg, "d1"); got != models.DriverOffline {
		t.Fatalf("skipped offline driver flipped to %s", got)
	}
	if got := driverStatus(t, reg, "d2"); got != models.DriverAvailable {
		t.Fatalf("skipped pending driver flipped to %s", got)
	}
}

func TestCustomerCancelAbortsEscalation(t *testing.T) {
	ctx := context.Background()
	c, _, store, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := c.Cancel(ctx, b.ID, "cust-1", models.RoleCustomer, models.CancelByCustomer)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.StatusCancelled || got.CancelReason != models.CancelByCustomer {
		t.Fatalf("got status=%s reason=%s", got.Status, got.CancelReason)
	}
	if st := driverStatus(t, reg, "d1"); st != models.DriverAvailable {
		t.Fatalf("head not released on cancel: %s", st)
	}

	// the timer must be dead: nothing may re-offer after cancel
	time.Sleep(3 * testTimeout)
	final, _ := store.GetBooking(ctx, b.ID)
	if final.CancelReason != models.CancelByCustomer || final.DriverID != "d1" {
		t.Fatalf("escalation ran after cancel: reason=%s driver=%s", final.CancelReason, final.DriverID)
	}
	if st := driverStatus(t, reg, "d2"); st != models.DriverAvailable {
		t.Fatalf("second candidate touched after cancel: %s", st)
	}
}

func TestForbiddenCancelKeepsEscalationRunning(t *testing.T) {
	ctx := context.Background()
	c, _, store, reg := newTestCoordinator(t)
	addDriver(t, reg, "d1", models.DriverAvailable, models.ApprovalApproved)
	addDriver(t, reg, "d2", models.DriverAvailable, models.ApprovalApproved)

	b, err := c.Dispatch(ctx, newBooking(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := c.Cancel(ctx, b.ID, "stranger", models.RoleCustomer, models.CancelByCustomer); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// escalation survives the rejected cancel and still times out to d2
	waitFor(t, func() bool {
		got, _ := store.GetBooking(ctx, b.ID)
		return got.DriverID == "d2"
	})
	if st := driverStatus(t, reg, "d2"); st != models.DriverBusy {
		t.Fatalf("escalation dead after rejected cancel: d2 is %s", st)
	}
}

func TestStalledAcceptAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := registry.NewMemory()
	lc := &lifecycle.Lifecycle{Store: store, Drivers: reg}
	addDriver(t, reg, "d1", models.DriverBusy, models.ApprovalApproved)

	// booking persisted with an offered head but no in-memory offer state
	_ = store.SaveBooking(ctx, &models.Booking{
		ID: "b1", CustomerID: "cust-1", DriverID: "d1",
		Status: models.StatusRequested, PickupLocation: "MG Road",
	})

	c := New(lc, reg, testTimeout, nil)
	defer c.Shutdown()

	if err := c.Respond(ctx, "b1", "d1", true); err != nil {
		t.Fatalf("stalled accept: %v", err)
	}
	got, _ := store.GetBooking(ctx, "b1")
	if got.Status != models.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", got.Status)
	}
}

func TestStalledDeclineCancelsExhausted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := registry.NewMemory()
	lc := &lifecycle.Lifecycle{Store: store, Drivers: reg}
	addDriver(t, reg, "d1", models.DriverBusy, models.ApprovalApproved)

	_ = store.SaveBooking(ctx, &models.Booking{
		ID: "b1", CustomerID: "cust-1", DriverID: "d1",
		Status: models.StatusRequested, PickupLocation: "MG Road",
	})

	c := New(lc, reg, testTimeout, nil)
	defer c.Shutdown()

	if err := c.Respond(ctx, "b1", "d1", false); err != nil {
		t.Fatalf("stalled decline: %v", err)
	}
	got, _ := store.GetBooking(ctx, "b1")
	if got.Status != models.StatusCancelled || got.CancelReason != models.CancelNoDrivers {
		t.Fatalf("got status=%s reason=%s", got.Status, got.CancelReason)
	}
	if st := driverStatus(t, reg, "d1"); st != models.DriverAvailable {
		t.Fatalf("driver not released: %s", st)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(20 * testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
