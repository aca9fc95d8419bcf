package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-hail/internal/models"
)

var ErrNoSession = errors.New("no websocket session for driver")

// WSSession is one connected driver app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver sessions keyed by driver id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, driverID)
}

func (r *WSRegistry) Send(driverID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}

// WSNotifier pushes lifecycle events to the assigned driver's session.
// Offers carry their expiry so the driver app can show a countdown.
type WSNotifier struct {
	Reg      *WSRegistry
	OfferTTL time.Duration
}

func (n *WSNotifier) BookingEvent(event string, b *models.Booking) error {
	if b.DriverID == "" {
		return nil
	}
	if event == EventOffered {
		return n.Reg.Send(b.DriverID, models.JobOffer{
			BookingID:      b.ID,
			DriverID:       b.DriverID,
			CustomerID:     b.CustomerID,
			PickupLocation: b.PickupLocation,
			ExpiresAt:      time.Now().Add(n.OfferTTL),
		})
	}
	return n.Reg.Send(b.DriverID, map[string]any{"event": event, "booking": b})
}
