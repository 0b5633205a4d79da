package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/models"
)

// Validation constants.
const (
	MaxPushTokenLength  = 4096
	MaxExternalIDLength = 256
)

// ServiceConfig holds configuration for the device service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Clock overrides time.Now. Tests only.
	Clock func() time.Time
}

// Service registers and removes devices for an application.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new device service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		now:    cfg.Clock,
	}
}

// Register resolves the owning user and upserts the device by push token.
// A token already known to the application is re-linked to the resolved user and
// reactivated, and its previous owner is removed if that left it without devices.
// Returns the device and whether it was newly created.
func (s *Service) Register(ctx context.Context, appID string, input RegisterInput) (*Device, bool, error) {
	if fieldErrors := validateRegisterInput(input); len(fieldErrors) > 0 {
		return nil, false, &ValidationError{Errors: fieldErrors}
	}

	user, err := s.repo.FindOrCreateUser(ctx, appID, input.ExternalUserID)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	device := &Device{
		ID:         "dev_" + uuid.New().String(),
		AppID:      appID,
		UserID:     user.ID,
		Platform:   input.Platform,
		Provider:   input.Provider,
		PushToken:  input.PushToken,
		LastSeenAt: now,
		UpdatedAt:  now,
	}

	created, previousUserID, err := s.repo.Upsert(ctx, device)
	if err != nil {
		return nil, false, err
	}

	if previousUserID != "" && previousUserID != user.ID {
		removed, err := s.repo.DeleteUserIfOrphaned(ctx, appID, previousUserID)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("app_id", appID).
				Str("user_id", previousUserID).
				Msg("failed to remove user left without devices")
		} else if removed {
			s.logger.Debug().Str("app_id", appID).Str("user_id", previousUserID).Msg("removed user after token moved")
		}
	}

	s.logger.Debug().
		Str("app_id", appID).
		Str("device_id", device.ID).
		Str("provider", string(device.Provider)).
		Bool("created", created).
		Msg("device registered")

	return device, created, nil
}

// Get retrieves a device of the application.
func (s *Service) Get(ctx context.Context, appID, deviceID string) (*Device, error) {
	return s.repo.Get(ctx, appID, deviceID)
}

// List retrieves devices of the application.
func (s *Service) List(ctx context.Context, appID string, opts ListOptions) ([]*Device, error) {
	return s.repo.List(ctx, appID, opts)
}

// Delete removes a device, then removes its user if that was the user's last device.
func (s *Service) Delete(ctx context.Context, appID, deviceID string) error {
	device, err := s.repo.Delete(ctx, appID, deviceID)
	if err != nil {
		return err
	}

	removed, err := s.repo.DeleteUserIfOrphaned(ctx, appID, device.UserID)
	if err != nil {
		return fmt.Errorf("removing orphaned user: %w", err)
	}

	s.logger.Debug().
		Str("app_id", appID).
		Str("device_id", deviceID).
		Bool("user_removed", removed).
		Msg("device deleted")

	return nil
}

// GetUser retrieves a user of the application.
func (s *Service) GetUser(ctx context.Context, appID, userID string) (*User, error) {
	return s.repo.GetUser(ctx, appID, userID)
}

// Deactivate marks devices inactive after a provider reported their tokens invalid.
func (s *Service) Deactivate(ctx context.Context, appID string, deviceIDs []string) error {
	n, err := s.repo.Deactivate(ctx, appID, deviceIDs)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info().Str("app_id", appID).Int64("count", n).Msg("deactivated devices with rejected tokens")
	}
	return nil
}

// ActiveByUsers retrieves active devices owned by any of the given users.
func (s *Service) ActiveByUsers(ctx context.Context, appID string, userIDs []string) ([]*Device, error) {
	return s.repo.ListActiveByUsers(ctx, appID, userIDs)
}

func validateRegisterInput(input RegisterInput) []models.FieldError {
	var errs []models.FieldError

	if input.ExternalUserID == "" {
		errs = append(errs, models.FieldError{Field: "externalUserId", Message: "is required"})
	} else if len(input.ExternalUserID) > MaxExternalIDLength {
		errs = append(errs, models.FieldError{Field: "externalUserId", Message: "must be at most 256 characters"})
	}

	if input.Platform == "" {
		errs = append(errs, models.FieldError{Field: "platform", Message: "is required"})
	}

	if input.Provider == "" {
		errs = append(errs, models.FieldError{Field: "provider", Message: "is required"})
	}

	if input.PushToken == "" {
		errs = append(errs, models.FieldError{Field: "pushToken", Message: "is required"})
	} else if len(input.PushToken) > MaxPushTokenLength {
		errs = append(errs, models.FieldError{Field: "pushToken", Message: "must be at most 4096 characters"})
	}

	return errs
}
