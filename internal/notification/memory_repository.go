package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
	deliveries    map[string][]*Delivery // keyed by notification ID
}

// NewInMemoryRepository creates a new in-memory notification repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		notifications: make(map[string]*Notification),
		deliveries:    make(map[string][]*Delivery),
	}
}

// Create stores a new notification.
func (r *InMemoryRepository) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[n.ID] = copyNotification(n)
	return nil
}

// Get retrieves a notification of an application.
func (r *InMemoryRepository) Get(_ context.Context, appID, id string) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok || n.AppID != appID {
		return nil, ErrNotificationNotFound
	}
	return copyNotification(n), nil
}

// List retrieves the newest notifications of an application.
func (r *InMemoryRepository) List(_ context.Context, appID string, limit int) ([]*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Notification
	for _, n := range r.notifications {
		if n.AppID == appID {
			result = append(result, copyNotification(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TransitionStatus performs a status compare-and-swap.
func (r *InMemoryRepository) TransitionStatus(_ context.Context, id string, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok || n.Status != from {
		return false, nil
	}
	n.Status = to
	n.UpdatedAt = time.Now()
	return true, nil
}

// ListDue retrieves pending notifications due at or before now. A pending
// notification without a schedule time was released after a failed dispatch
// and is due from its creation time.
func (r *InMemoryRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Notification
	for _, n := range r.notifications {
		if n.Status == StatusPending && !n.dueAt().After(now) {
			result = append(result, copyNotification(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].dueAt().Before(result[j].dueAt())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateDeliveries stores delivery records.
func (r *InMemoryRepository) CreateDeliveries(_ context.Context, deliveries []*Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range deliveries {
		c := *d
		r.deliveries[d.NotificationID] = append(r.deliveries[d.NotificationID], &c)
	}
	return nil
}

// ListDeliveries retrieves the deliveries of a notification.
func (r *InMemoryRepository) ListDeliveries(_ context.Context, notificationID string) ([]*Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.deliveries[notificationID]
	result := make([]*Delivery, 0, len(stored))
	for _, d := range stored {
		c := *d
		result = append(result, &c)
	}
	return result, nil
}

// DeleteByTopic removes the notifications of a topic and their deliveries.
func (r *InMemoryRepository) DeleteByTopic(_ context.Context, appID, topicID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, n := range r.notifications {
		if n.AppID == appID && n.TopicID != nil && *n.TopicID == topicID {
			delete(r.notifications, id)
			delete(r.deliveries, id)
			removed++
		}
	}
	return removed, nil
}

// DeliveryCount returns the total number of stored deliveries.
func (r *InMemoryRepository) DeliveryCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, ds := range r.deliveries {
		total += len(ds)
	}
	return total
}

func copyNotification(n *Notification) *Notification {
	c := *n
	if n.Data != nil {
		c.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	if n.UserIDs != nil {
		c.UserIDs = append([]string(nil), n.UserIDs...)
	}
	c.Deliveries = nil
	return &c
}

var _ Repository = (*InMemoryRepository)(nil)

func (n *Notification) dueAt() time.Time {
	if n.ScheduleAt != nil {
		return *n.ScheduleAt
	}
	return n.CreatedAt
}
