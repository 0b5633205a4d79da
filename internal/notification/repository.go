package notification

import (
	"context"
	"time"
)

// Repository defines persistence for notifications and their deliveries.
type Repository interface {
	// Create stores a new notification.
	Create(ctx context.Context, n *Notification) error

	// Get retrieves a notification of an application, without deliveries.
	Get(ctx context.Context, appID, id string) (*Notification, error)

	// List retrieves the newest notifications of an application.
	List(ctx context.Context, appID string, limit int) ([]*Notification, error)

	// TransitionStatus moves a notification from one status to another only if it
	// is currently in from. Returns false when the status did not match.
	TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error)

	// ListDue retrieves pending notifications whose schedule time has passed,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	// CreateDeliveries stores delivery records.
	CreateDeliveries(ctx context.Context, deliveries []*Delivery) error

	// ListDeliveries retrieves the deliveries of a notification.
	ListDeliveries(ctx context.Context, notificationID string) ([]*Delivery, error)

	// DeleteByTopic removes the notifications addressed to a topic and their
	// deliveries. Returns the number of notifications removed.
	DeleteByTopic(ctx context.Context, appID, topicID string) (int64, error)
}
