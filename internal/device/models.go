// Package device registers push-capable devices and the application users that own them.
package device

import (
	"errors"
	"time"

	"github.com/pushgate/pushgate/internal/api/models"
)

// Repository errors.
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrUserNotFound   = errors.New("user not found")
)

// Provider identifies the push service a device token belongs to.
type Provider string

const (
	ProviderFCM     Provider = "fcm"
	ProviderAPNS    Provider = "apns"
	ProviderWebPush Provider = "webpush"
)

// User is an end user of an application, keyed by the application's own identifier.
// Users are created on first device registration and removed with their last device.
type User struct {
	ID         string
	AppID      string
	ExternalID string
	CreatedAt  time.Time
}

// Device is a push token registered by a user of an application.
type Device struct {
	ID         string
	AppID      string
	UserID     string
	Platform   string
	Provider   Provider
	PushToken  string
	IsActive   bool
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenLast4 returns the last 4 characters of the token for display purposes.
func (d *Device) TokenLast4() string {
	if len(d.PushToken) < 4 {
		return d.PushToken
	}
	return d.PushToken[len(d.PushToken)-4:]
}

// ListOptions filters a device listing.
type ListOptions struct {
	Platform       string
	ExternalUserID string
	Limit          int
}

// RegisterInput is what a client supplies to register a device.
type RegisterInput struct {
	ExternalUserID string
	Platform       string
	Provider       Provider
	PushToken      string
}

// ValidationError reports invalid registration input.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}
