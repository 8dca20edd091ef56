package device

import (
	"context"
	"errors"
	"fmt"
)

// Repository defines the device record store.
//
// All owner and access-list changes go through ConditionalUpdate so that
// concurrent writers observe at-most-one-winner semantics.
type Repository interface {
	// Get retrieves a device by ID.
	Get(ctx context.Context, deviceID string) (*Device, error)

	// ListByOwner retrieves all devices owned by a user.
	ListByOwner(ctx context.Context, ownerID string) ([]*Device, error)

	// ListByMember retrieves all devices whose access list contains a user.
	ListByMember(ctx context.Context, userID string) ([]*Device, error)

	// ConditionalUpdate applies mut to the device only if cond holds at write time
	// and returns the updated record. Returns ErrDeviceNotFound if no record exists
	// and ErrConditionFailed if the precondition does not hold.
	ConditionalUpdate(ctx context.Context, deviceID string, cond Condition, mut Mutation) (*Device, error)

	// Create stores a pre-registered, unclaimed device.
	Create(ctx context.Context, device *Device) error
}

// Seed pre-registers each ID as an unclaimed device and returns how many were
// created. IDs that already have a record are skipped.
func Seed(ctx context.Context, repo Repository, ids []string) (int, error) {
	created := 0
	for _, id := range ids {
		err := repo.Create(ctx, &Device{ID: id, UserAccess: []string{}})
		if errors.Is(err, ErrDeviceExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed device %s: %w", id, err)
		}
		created++
	}
	return created, nil
}
