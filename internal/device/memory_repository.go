package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local development. Production should use the
// PostgreSQL implementation.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Device // keyed by device ID
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		devices: make(map[string]*Device),
		now:     time.Now,
	}
}

// Get retrieves a device by ID.
func (r *InMemoryRepository) Get(_ context.Context, deviceID string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	return copyDevice(device), nil
}

// ListByOwner retrieves all devices owned by a user.
func (r *InMemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*Device, error) {
	return r.filter(func(d *Device) bool { return d.IsOwner(ownerID) }), nil
}

// ListByMember retrieves all devices whose access list contains a user.
func (r *InMemoryRepository) ListByMember(_ context.Context, userID string) ([]*Device, error) {
	return r.filter(func(d *Device) bool { return d.HasAccess(userID) }), nil
}

func (r *InMemoryRepository) filter(keep func(*Device) bool) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Device
	for _, device := range r.devices {
		if keep(device) {
			items = append(items, copyDevice(device))
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// ConditionalUpdate applies a mutation under the write lock if the condition holds.
func (r *InMemoryRepository) ConditionalUpdate(_ context.Context, deviceID string, cond Condition, mut Mutation) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	if !cond.Holds(existing) {
		return nil, ErrConditionFailed
	}

	updated := copyDevice(existing)
	mut.Apply(updated, r.now())
	r.devices[deviceID] = updated

	return copyDevice(updated), nil
}

// Create stores a pre-registered device.
func (r *InMemoryRepository) Create(_ context.Context, device *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[device.ID]; ok {
		return ErrDeviceExists
	}

	stored := copyDevice(device)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	r.devices[device.ID] = stored
	return nil
}

// copyDevice creates a deep copy of a device.
func copyDevice(d *Device) *Device {
	if d == nil {
		return nil
	}

	deviceCopy := &Device{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Name:        d.Name,
		LastCommand: d.LastCommand,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}

	if d.UserAccess != nil {
		deviceCopy.UserAccess = append([]string{}, d.UserAccess...)
	}
	if d.LastCommandTime != nil {
		val := *d.LastCommandTime
		deviceCopy.LastCommandTime = &val
	}

	return deviceCopy
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
