package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/driver-hail/internal/models"
	"github.com/example/driver-hail/internal/storage"
)

func newTestService(t *testing.T, status models.BookingStatus) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	err := store.SaveBooking(context.Background(), &models.Booking{
		ID:         "b1",
		CustomerID: "cust-1",
		DriverID:   "d1",
		Status:     status,
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return &Service{Store: store, Bookings: store}, store
}

func TestAppendAndListOrdered(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, models.StatusAccepted)

	if _, err := svc.Append(ctx, "b1", models.RoleCustomer, "cust-1", "where are you?"); err != nil {
		t.Fatalf("append customer: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := svc.Append(ctx, "b1", models.RoleDriver, "d1", "two minutes out"); err != nil {
		t.Fatalf("append driver: %v", err)
	}

	msgs, err := svc.List(ctx, "b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Sender != models.RoleCustomer || msgs[1].Sender != models.RoleDriver {
		t.Fatalf("messages out of order: %s then %s", msgs[0].Sender, msgs[1].Sender)
	}
	if msgs[0].Text != "where are you?" {
		t.Fatalf("text = %q", msgs[0].Text)
	}
}

func TestAppendActiveStates(t *testing.T) {
	ctx := context.Background()
	for _, st := range []models.BookingStatus{models.StatusAccepted, models.StatusArrived, models.StatusInProgress} {
		svc, _ := newTestService(t, st)
		if _, err := svc.Append(ctx, "b1", models.RoleDriver, "d1", "hi"); err != nil {
			t.Fatalf("append on %s: %v", st, err)
		}
	}
}

func TestAppendRejectedOutsideActiveStates(t *testing.T) {
	ctx := context.Background()
	for _, st := range []models.BookingStatus{models.StatusRequested, models.StatusCompleted, models.StatusCancelled} {
		svc, _ := newTestService(t, st)
		if _, err := svc.Append(ctx, "b1", models.RoleDriver, "d1", "hi"); !errors.Is(err, models.ErrInvalidState) {
			t.Fatalf("append on %s: expected ErrInvalidState, got %v", st, err)
		}
	}
}

func TestAppendWhileRequestedFlag(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, models.StatusRequested)
	svc.AllowWhileRequested = true
	if _, err := svc.Append(ctx, "b1", models.RoleCustomer, "cust-1", "hello"); err != nil {
		t.Fatalf("append with flag: %v", err)
	}
}

func TestAppendPartyChecks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, models.StatusAccepted)

	if _, err := svc.Append(ctx, "b1", models.RoleCustomer, "someone-else", "hi"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("stranger customer: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Append(ctx, "b1", models.RoleDriver, "d9", "hi"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("stranger driver: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Append(ctx, "b1", models.RoleAdmin, "ops", "hi"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("admin sender: expected ErrForbidden, got %v", err)
	}
}

func TestAppendEmptyText(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, models.StatusAccepted)
	if _, err := svc.Append(ctx, "b1", models.RoleCustomer, "cust-1", "   "); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for blank text, got %v", err)
	}
}

func TestListUnknownBooking(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, models.StatusAccepted)
	if _, err := svc.List(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
