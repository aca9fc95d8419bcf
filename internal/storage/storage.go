package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/driver-hail/internal/models"
)

// BookingStore defines persistence operations for bookings. Writes are
// already serialized per booking by the lifecycle's keyed lock, so
// implementations only need per-entity atomicity.
type BookingStore interface {
	SaveBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

// ChatStore is the append-only message log scoped per booking.
type ChatStore interface {
	AppendMessage(ctx context.Context, m *models.ChatMessage) error
	ListMessages(ctx context.Context, bookingID string) ([]models.ChatMessage, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
	messages map[string][]models.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]models.Booking),
		messages: make(map[string][]models.ChatMessage),
	}
}

func (m *MemoryStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return fmt.Errorf("booking %s: %w", b.ID, models.ErrNotFound)
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	return &b, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.BookingID] = append(m.messages[msg.BookingID], *msg)
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, bookingID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[bookingID]
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}
