package models

// TopicCreateRequest is the body of POST /v1/topics.
type TopicCreateRequest struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Topic is a fan-out group.
type Topic struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt Timestamp `json:"createdAt"`
}

// TopicList is every topic of an application, ordered by name.
type TopicList struct {
	Items []Topic `json:"items"`
}

// SubscriptionRequest is the body of the subscribe and unsubscribe endpoints.
type SubscriptionRequest struct {
	UserID string `json:"userId"`
}

// Subscription links a user to a topic.
type Subscription struct {
	ID        string    `json:"id"`
	TopicID   string    `json:"topicId"`
	UserID    string    `json:"userId"`
	CreatedAt Timestamp `json:"createdAt"`
}
