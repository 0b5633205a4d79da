package device

import "context"

// Repository defines the interface for device and user persistence.
type Repository interface {
	// FindOrCreateUser returns the user with the given external ID, creating it atomically if absent.
	FindOrCreateUser(ctx context.Context, appID, externalID string) (*User, error)

	// GetUser retrieves a user by application and user ID.
	GetUser(ctx context.Context, appID, userID string) (*User, error)

	// Upsert creates a device or, when (AppID, PushToken) already exists, re-links it to
	// device.UserID, reactivates it and bumps its last-seen time. The stored ID and
	// CreatedAt are written back into device. Returns true if a new device was created,
	// otherwise the user that owned the token before the call.
	Upsert(ctx context.Context, device *Device) (created bool, previousUserID string, err error)

	// Get retrieves a device by application and device ID.
	Get(ctx context.Context, appID, deviceID string) (*Device, error)

	// List retrieves devices of an application, newest first.
	List(ctx context.Context, appID string, opts ListOptions) ([]*Device, error)

	// Delete removes a device and returns it.
	Delete(ctx context.Context, appID, deviceID string) (*Device, error)

	// DeleteUserIfOrphaned removes a user and its topic subscriptions only if no
	// device references it.
	DeleteUserIfOrphaned(ctx context.Context, appID, userID string) (bool, error)

	// Deactivate marks devices inactive. Returns the number of devices changed.
	Deactivate(ctx context.Context, appID string, deviceIDs []string) (int64, error)

	// ListActiveByUsers retrieves active devices of an application owned by any of the given users.
	ListActiveByUsers(ctx context.Context, appID string, userIDs []string) ([]*Device, error)
}
