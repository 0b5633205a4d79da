package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu            sync.RWMutex
	users         map[string]*User   // keyed by user ID
	devices       map[string]*Device // keyed by device ID
	subscriptions SubscriptionPurger
}

// SubscriptionPurger removes every topic subscription of a user. The in-memory
// topic repository satisfies it.
type SubscriptionPurger interface {
	DeleteUserSubscriptions(ctx context.Context, userID string) error
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:   make(map[string]*User),
		devices: make(map[string]*Device),
	}
}

// CascadeSubscriptions makes orphaned user removal also drop the user's
// subscriptions held by p, as the foreign keys of the PostgreSQL schema require.
func (r *InMemoryRepository) CascadeSubscriptions(p SubscriptionPurger) *InMemoryRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions = p
	return r
}

// FindOrCreateUser returns the user with the given external ID, creating it if absent.
func (r *InMemoryRepository) FindOrCreateUser(_ context.Context, appID, externalID string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.AppID == appID && u.ExternalID == externalID {
			return copyUser(u), nil
		}
	}

	u := &User{
		ID:         "usr_" + uuid.New().String(),
		AppID:      appID,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
	}
	r.users[u.ID] = u
	return copyUser(u), nil
}

// GetUser retrieves a user by application and user ID.
func (r *InMemoryRepository) GetUser(_ context.Context, appID, userID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok || u.AppID != appID {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

// Upsert creates or updates a device keyed by (AppID, PushToken).
func (r *InMemoryRepository) Upsert(_ context.Context, device *Device) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.devices {
		if existing.AppID != device.AppID || existing.PushToken != device.PushToken {
			continue
		}
		previous := existing.UserID
		existing.UserID = device.UserID
		existing.Platform = device.Platform
		existing.Provider = device.Provider
		existing.IsActive = true
		existing.LastSeenAt = device.LastSeenAt
		existing.UpdatedAt = device.UpdatedAt

		device.ID = existing.ID
		device.CreatedAt = existing.CreatedAt
		device.IsActive = true
		return false, previous, nil
	}

	device.IsActive = true
	device.CreatedAt = device.UpdatedAt
	r.devices[device.ID] = copyDevice(device)
	return true, "", nil
}

// Get retrieves a device by application and device ID.
func (r *InMemoryRepository) Get(_ context.Context, appID, deviceID string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[deviceID]
	if !ok || device.AppID != appID {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(device), nil
}

// List retrieves devices of an application, newest first.
func (r *InMemoryRepository) List(_ context.Context, appID string, opts ListOptions) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Device
	for _, device := range r.devices {
		if device.AppID != appID {
			continue
		}
		if opts.Platform != "" && device.Platform != opts.Platform {
			continue
		}
		if opts.ExternalUserID != "" {
			u, ok := r.users[device.UserID]
			if !ok || u.ExternalID != opts.ExternalUserID {
				continue
			}
		}
		items = append(items, copyDevice(device))
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Delete removes a device and returns it.
func (r *InMemoryRepository) Delete(_ context.Context, appID, deviceID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok || device.AppID != appID {
		return nil, ErrDeviceNotFound
	}
	delete(r.devices, deviceID)
	return device, nil
}

// DeleteUserIfOrphaned removes a user and its subscriptions only if no device
// references it.
func (r *InMemoryRepository) DeleteUserIfOrphaned(ctx context.Context, appID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.AppID != appID {
		return false, nil
	}
	for _, d := range r.devices {
		if d.UserID == userID {
			return false, nil
		}
	}
	if r.subscriptions != nil {
		if err := r.subscriptions.DeleteUserSubscriptions(ctx, userID); err != nil {
			return false, err
		}
	}
	delete(r.users, userID)
	return true, nil
}

// Deactivate marks devices inactive.
func (r *InMemoryRepository) Deactivate(_ context.Context, appID string, deviceIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range deviceIDs {
		if d, ok := r.devices[id]; ok && d.AppID == appID && d.IsActive {
			d.IsActive = false
			d.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// ListActiveByUsers retrieves active devices owned by any of the given users.
func (r *InMemoryRepository) ListActiveByUsers(_ context.Context, appID string, userIDs []string) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}

	var items []*Device
	for _, d := range r.devices {
		if d.AppID == appID && d.IsActive && wanted[d.UserID] {
			items = append(items, copyDevice(d))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

// UserCount returns the number of stored users. Tests use it to observe cascades.
func (r *InMemoryRepository) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func copyDevice(d *Device) *Device {
	c := *d
	return &c
}

func copyUser(u *User) *User {
	c := *u
	return &c
}

var _ Repository = (*InMemoryRepository)(nil)
