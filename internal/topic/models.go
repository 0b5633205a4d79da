// Package topic manages named fan-out groups and the users subscribed to them.
package topic

import (
	"errors"
	"time"

	"github.com/pushgate/pushgate/internal/api/models"
)

// Topic and subscription errors.
var (
	ErrTopicNotFound        = errors.New("topic not found")
	ErrTopicExists          = errors.New("topic key already exists")
	ErrAlreadySubscribed    = errors.New("user already subscribed to topic")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Topic is a fan-out group within an application. Key is unique per application.
type Topic struct {
	ID        string
	AppID     string
	Key       string
	Name      string
	CreatedAt time.Time
}

// Subscription links a user to a topic.
type Subscription struct {
	ID        string
	TopicID   string
	UserID    string
	CreatedAt time.Time
}

// ValidationError reports invalid topic input.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}
