package topic

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu            sync.RWMutex
	topics        map[string]*Topic
	subscriptions map[string][]*Subscription // keyed by topic ID
}

// NewInMemoryRepository creates a new in-memory topic repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		topics:        make(map[string]*Topic),
		subscriptions: make(map[string][]*Subscription),
	}
}

// Create stores a new topic.
func (r *InMemoryRepository) Create(_ context.Context, topic *Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.topics {
		if t.AppID == topic.AppID && t.Key == topic.Key {
			return ErrTopicExists
		}
	}

	c := *topic
	r.topics[topic.ID] = &c
	return nil
}

// Get retrieves a topic by application and topic ID.
func (r *InMemoryRepository) Get(_ context.Context, appID, topicID string) (*Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topics[topicID]
	if !ok || t.AppID != appID {
		return nil, ErrTopicNotFound
	}
	c := *t
	return &c, nil
}

// List retrieves the topics of an application ordered by name.
func (r *InMemoryRepository) List(_ context.Context, appID string) ([]*Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var topics []*Topic
	for _, t := range r.topics {
		if t.AppID == appID {
			c := *t
			topics = append(topics, &c)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics, nil
}

// Delete removes a topic together with its subscriptions.
func (r *InMemoryRepository) Delete(_ context.Context, appID, topicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[topicID]
	if !ok || t.AppID != appID {
		return ErrTopicNotFound
	}
	delete(r.topics, topicID)
	delete(r.subscriptions, topicID)
	return nil
}

// Subscribe stores a subscription.
func (r *InMemoryRepository) Subscribe(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.subscriptions[sub.TopicID] {
		if s.UserID == sub.UserID {
			return ErrAlreadySubscribed
		}
	}

	c := *sub
	r.subscriptions[sub.TopicID] = append(r.subscriptions[sub.TopicID], &c)
	return nil
}

// Unsubscribe removes a subscription.
func (r *InMemoryRepository) Unsubscribe(_ context.Context, topicID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscriptions[topicID]
	for i, s := range subs {
		if s.UserID == userID {
			r.subscriptions[topicID] = append(subs[:i:i], subs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// DeleteUserSubscriptions removes every subscription of a user.
func (r *InMemoryRepository) DeleteUserSubscriptions(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topicID, subs := range r.subscriptions {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.UserID != userID {
				kept = append(kept, s)
			}
		}
		r.subscriptions[topicID] = kept
	}
	return nil
}

// SubscriberIDs returns the IDs of users subscribed to a topic.
func (r *InMemoryRepository) SubscriberIDs(_ context.Context, topicID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subscriptions[topicID]
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.UserID)
	}
	return ids, nil
}

var _ Repository = (*InMemoryRepository)(nil)
