// Package registry holds the driver records. Reads feed the candidate
// ranker; the write path (status flips, completion counters) is driven
// exclusively by the booking lifecycle so that concurrent bookings can
// never race each other to flip the same driver.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-hail/internal/models"
)

// Filter narrows ListEligible. Zero values match everything.
type Filter struct {
	VehicleType models.VehicleType
	CitySector  string
}

type Registry interface {
	Get(ctx context.Context, driverID string) (models.DriverRecord, error)
	// ListEligible returns APPROVED drivers currently AVAILABLE. Ordering
	// is not guaranteed; callers sort.
	ListEligible(ctx context.Context, f Filter) ([]models.DriverRecord, error)

	// Write path, invoked only through lifecycle side effects.
	SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error
	RecordCompletion(ctx context.Context, driverID string) error

	// Registration / admin surface.
	Register(ctx context.Context, d *models.DriverRecord) error
	SetApproval(ctx context.Context, driverID string, approval models.ApprovalStatus) error
	UpdateLocation(ctx context.Context, driverID string, loc models.Coordinates) error
}

type Memory struct {
	mu      sync.RWMutex
	drivers map[string]*models.DriverRecord
}

func NewMemory() *Memory {
	return &Memory{drivers: make(map[string]*models.DriverRecord)}
}

func (m *Memory) Get(ctx context.Context, driverID string) (models.DriverRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return models.DriverRecord{}, fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	return *d, nil
}

func (m *Memory) ListEligible(ctx context.Context, f Filter) ([]models.DriverRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DriverRecord, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Approval != models.ApprovalApproved || d.Status != models.DriverAvailable {
			continue
		}
		if !d.HasSpecialty(f.VehicleType) {
			continue
		}
		if f.CitySector != "" && d.CitySector != f.CitySector {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *Memory) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	d.Status = status
	d.Updated = time.Now()
	return nil
}

func (m *Memory) RecordCompletion(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	d.JobsCompleted++
	if d.JobsLeft > 0 {
		d.JobsLeft--
	}
	d.Updated = time.Now()
	return nil
}

func (m *Memory) Register(ctx context.Context, d *models.DriverRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Approval == "" || d.Approval == models.ApprovalUnregistered {
		d.Approval = models.ApprovalPending
	}
	if d.Status == "" {
		d.Status = models.DriverOffline
	}
	d.Updated = time.Now()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *Memory) SetApproval(ctx context.Context, driverID string, approval models.ApprovalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	d.Approval = approval
	d.Updated = time.Now()
	return nil
}

func (m *Memory) UpdateLocation(ctx context.Context, driverID string, loc models.Coordinates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	d.Location = loc
	d.Updated = time.Now()
	return nil
}
