// Package notification creates notifications, resolves their targets and fans them
// out to the push providers, recording one delivery per device.
package notification

import (
	"errors"
	"time"

	"github.com/pushgate/pushgate/internal/api/models"
)

// Notification errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidTransition    = errors.New("invalid notification status transition")
	ErrNotAdmitted          = errors.New("notification already claimed for dispatch")
	ErrInvalidSelector      = errors.New("exactly one of topicId or userIds is required")
)

// Status is the lifecycle state of a notification.
type Status string

// Notification statuses. sent, no_targets and cancelled are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusNoTargets  Status = "no_targets"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusNoTargets || s == StatusCancelled
}

// DeliveryStatus is the per-device outcome of a dispatch.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Result statuses returned from Create.
const (
	ResultScheduled = "scheduled"
	ResultSent      = "sent"
	ResultNoTargets = "no_targets"
)

// Notification is a message addressed to a topic or to an explicit list of users.
type Notification struct {
	ID         string
	AppID      string
	Title      string
	Body       string
	Data       map[string]string
	TopicID    *string
	UserIDs    []string
	ScheduleAt *time.Time
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Deliveries is populated by Engine.Get only.
	Deliveries []*Delivery
}

// Selector returns the target selector of the notification.
func (n *Notification) Selector() Selector {
	return Selector{TopicID: n.TopicID, UserIDs: n.UserIDs}
}

// Delivery records the outcome of one notification for one device.
type Delivery struct {
	ID                string
	NotificationID    string
	DeviceID          string
	Provider          string
	Status            DeliveryStatus
	Error             *string
	ProviderMessageID *string
	CreatedAt         time.Time
}

// CreateInput is the request to create a notification.
type CreateInput struct {
	Title      string
	Body       string
	Data       map[string]string
	TopicID    *string
	UserIDs    []string
	ScheduleAt *time.Time
}

// Result is the outcome of Create.
type Result struct {
	ID     string
	Status string
}

// ValidationError reports invalid notification input.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}
