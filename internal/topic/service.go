package topic

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/device"
)

// Validation constants.
const (
	MaxKeyLength  = 128
	MaxNameLength = 200
)

var topicKeyRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// UserLookup finds application users. The device service satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, appID, userID string) (*device.User, error)
}

// NotificationCleaner removes notifications addressed to a topic.
type NotificationCleaner interface {
	DeleteByTopic(ctx context.Context, appID, topicID string) (int64, error)
}

// ServiceConfig holds configuration for the topic service.
type ServiceConfig struct {
	Repository    Repository
	Users         UserLookup
	Notifications NotificationCleaner
	Logger        zerolog.Logger
}

// Service manages topics and subscriptions of an application.
type Service struct {
	repo          Repository
	users         UserLookup
	notifications NotificationCleaner
	logger        zerolog.Logger
}

// NewService creates a new topic service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:          cfg.Repository,
		users:         cfg.Users,
		notifications: cfg.Notifications,
		logger:        cfg.Logger,
	}
}

// Create creates a topic in the application.
func (s *Service) Create(ctx context.Context, appID, key, name string) (*Topic, error) {
	if fieldErrors := validateTopic(key, name); len(fieldErrors) > 0 {
		return nil, &ValidationError{Errors: fieldErrors}
	}

	t := &Topic{
		ID:        "top_" + uuid.New().String(),
		AppID:     appID,
		Key:       key,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get retrieves a topic of the application.
func (s *Service) Get(ctx context.Context, appID, topicID string) (*Topic, error) {
	return s.repo.Get(ctx, appID, topicID)
}

// List retrieves the topics of the application ordered by name.
func (s *Service) List(ctx context.Context, appID string) ([]*Topic, error) {
	return s.repo.List(ctx, appID)
}

// Delete removes a topic, its subscriptions and the notifications addressed to it.
func (s *Service) Delete(ctx context.Context, appID, topicID string) error {
	if _, err := s.repo.Get(ctx, appID, topicID); err != nil {
		return err
	}

	removed := int64(0)
	if s.notifications != nil {
		n, err := s.notifications.DeleteByTopic(ctx, appID, topicID)
		if err != nil {
			return fmt.Errorf("deleting topic notifications: %w", err)
		}
		removed = n
	}

	if err := s.repo.Delete(ctx, appID, topicID); err != nil {
		return err
	}

	s.logger.Info().
		Str("app_id", appID).
		Str("topic_id", topicID).
		Int64("notifications_removed", removed).
		Msg("topic deleted")
	return nil
}

// Subscribe adds a user of the application to a topic.
func (s *Service) Subscribe(ctx context.Context, appID, topicID, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, &ValidationError{Errors: []models.FieldError{{Field: "userId", Message: "is required"}}}
	}
	if _, err := s.repo.Get(ctx, appID, topicID); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, appID, userID); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:        "sub_" + uuid.New().String(),
		TopicID:   topicID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a user from a topic. Removing a missing subscription is not an error.
func (s *Service) Unsubscribe(ctx context.Context, appID, topicID, userID string) error {
	if userID == "" {
		return &ValidationError{Errors: []models.FieldError{{Field: "userId", Message: "is required"}}}
	}
	if _, err := s.repo.Get(ctx, appID, topicID); err != nil {
		return err
	}
	_, err := s.repo.Unsubscribe(ctx, topicID, userID)
	return err
}

// SubscriberIDs returns the users subscribed to a topic of the application.
func (s *Service) SubscriberIDs(ctx context.Context, appID, topicID string) ([]string, error) {
	if _, err := s.repo.Get(ctx, appID, topicID); err != nil {
		return nil, err
	}
	return s.repo.SubscriberIDs(ctx, topicID)
}

func validateTopic(key, name string) []models.FieldError {
	var errs []models.FieldError

	switch {
	case key == "":
		errs = append(errs, models.FieldError{Field: "key", Message: "is required"})
	case len(key) > MaxKeyLength:
		errs = append(errs, models.FieldError{Field: "key", Message: "must be at most 128 characters"})
	case !topicKeyRegex.MatchString(key):
		errs = append(errs, models.FieldError{Field: "key", Message: "may contain letters, digits, '.', '_', ':' and '-'"})
	}

	if name == "" {
		errs = append(errs, models.FieldError{Field: "name", Message: "is required"})
	} else if len(name) > MaxNameLength {
		errs = append(errs, models.FieldError{Field: "name", Message: "must be at most 200 characters"})
	}

	return errs
}
