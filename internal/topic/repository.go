package topic

import "context"

// Repository defines the interface for topic and subscription persistence.
type Repository interface {
	// Create stores a new topic. Returns ErrTopicExists if the key is taken in the application.
	Create(ctx context.Context, topic *Topic) error

	// Get retrieves a topic by application and topic ID.
	Get(ctx context.Context, appID, topicID string) (*Topic, error)

	// List retrieves the topics of an application ordered by name.
	List(ctx context.Context, appID string) ([]*Topic, error)

	// Delete removes a topic together with its subscriptions.
	Delete(ctx context.Context, appID, topicID string) error

	// Subscribe stores a subscription. Returns ErrAlreadySubscribed on a duplicate.
	Subscribe(ctx context.Context, sub *Subscription) error

	// Unsubscribe removes a subscription. Returns false if none existed.
	Unsubscribe(ctx context.Context, topicID, userID string) (bool, error)

	// SubscriberIDs returns the IDs of users subscribed to a topic.
	SubscriberIDs(ctx context.Context, topicID string) ([]string, error)
}
