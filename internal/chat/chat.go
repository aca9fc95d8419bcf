// Package chat is the append-only message log scoped to one booking.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-hail/internal/models"
	"github.com/example/driver-hail/internal/storage"
)

type Service struct {
	Store    storage.ChatStore
	Bookings storage.BookingStore

	// AllowWhileRequested widens the active-state gate to REQUESTED,
	// matching the variant where customers could message the offered
	// driver before acceptance.
	AllowWhileRequested bool
}

// Append adds a message to the booking's thread. The booking must be in
// an active post-acceptance state and the sender must be a party to it.
func (s *Service) Append(ctx context.Context, bookingID string, sender models.Role, actorID, text string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message: %w", models.ErrInvalidState)
	}

	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !s.active(b.Status) {
		return nil, fmt.Errorf("chat on %s booking: %w", b.Status, models.ErrInvalidState)
	}
	switch sender {
	case models.RoleCustomer:
		if actorID != b.CustomerID {
			return nil, fmt.Errorf("customer %s: %w", actorID, models.ErrForbidden)
		}
	case models.RoleDriver:
		if actorID != b.DriverID {
			return nil, fmt.Errorf("driver %s: %w", actorID, models.ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("sender role %s: %w", sender, models.ErrForbidden)
	}

	m := &models.ChatMessage{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Sender:    sender,
		Text:      text,
		SentAt:    time.Now(),
	}
	if err := s.Store.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the full thread to date, oldest first.
func (s *Service) List(ctx context.Context, bookingID string) ([]models.ChatMessage, error) {
	if _, err := s.Bookings.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	return s.Store.ListMessages(ctx, bookingID)
}

func (s *Service) active(st models.BookingStatus) bool {
	switch st {
	case models.StatusAccepted, models.StatusArrived, models.StatusInProgress:
		return true
	case models.StatusRequested:
		return s.AllowWhileRequested
	}
	return false
}
