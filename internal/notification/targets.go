package notification

import (
	"context"
	"errors"

	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/topic"
)

// Selector picks the audience of a notification. Exactly one field is set.
type Selector struct {
	TopicID *string
	UserIDs []string
}

// Valid reports whether exactly one of the topic or the user list is given.
func (s Selector) Valid() bool {
	hasTopic := s.TopicID != nil && *s.TopicID != ""
	return hasTopic != (len(s.UserIDs) > 0)
}

// SubscriberSource lists the users subscribed to a topic. The topic service satisfies it.
type SubscriberSource interface {
	SubscriberIDs(ctx context.Context, appID, topicID string) ([]string, error)
}

// DeviceSource lists active devices of users. The device service satisfies it.
type DeviceSource interface {
	ActiveByUsers(ctx context.Context, appID string, userIDs []string) ([]*device.Device, error)
}

// TargetResolver turns a selector into the set of active devices to notify.
type TargetResolver struct {
	subscribers SubscriberSource
	devices     DeviceSource
}

// NewTargetResolver creates a resolver over the given sources.
func NewTargetResolver(subscribers SubscriberSource, devices DeviceSource) *TargetResolver {
	return &TargetResolver{subscribers: subscribers, devices: devices}
}

// Resolve returns the active devices selected by sel, deduplicated.
// An empty result is not an error. A topic deleted since the notification was
// created resolves to nothing.
func (r *TargetResolver) Resolve(ctx context.Context, appID string, sel Selector) ([]*device.Device, error) {
	if !sel.Valid() {
		return nil, ErrInvalidSelector
	}

	var userIDs []string
	if sel.TopicID != nil && *sel.TopicID != "" {
		ids, err := r.subscribers.SubscriberIDs(ctx, appID, *sel.TopicID)
		if err != nil {
			if errors.Is(err, topic.ErrTopicNotFound) {
				return nil, nil
			}
			return nil, err
		}
		userIDs = ids
	} else {
		userIDs = uniqueStrings(sel.UserIDs)
	}

	if len(userIDs) == 0 {
		return nil, nil
	}

	devices, err := r.devices.ActiveByUsers(ctx, appID, userIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(devices))
	targets := make([]*device.Device, 0, len(devices))
	for _, d := range devices {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		targets = append(targets, d)
	}
	return targets, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
