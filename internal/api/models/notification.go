package models

// NotificationCreateRequest is the body of POST /v1/notifications.
// Exactly one of TopicID or UserIDs addresses the notification.
type NotificationCreateRequest struct {
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	TopicID    *string           `json:"topicId,omitempty"`
	UserIDs    []string          `json:"userIds,omitempty"`
	ScheduleAt *Timestamp        `json:"scheduleAt,omitempty"`
}

// NotificationResult is returned when a notification is created or cancelled.
type NotificationResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Notification is a stored notification.
type Notification struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	TopicID    *string           `json:"topicId,omitempty"`
	UserIDs    []string          `json:"userIds,omitempty"`
	ScheduleAt *Timestamp        `json:"scheduleAt,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  Timestamp         `json:"createdAt"`
	UpdatedAt  Timestamp         `json:"updatedAt"`
	Deliveries []Delivery        `json:"deliveries,omitempty"`
}

// Delivery is the outcome of one send to one device.
type Delivery struct {
	ID                string    `json:"id"`
	DeviceID          string    `json:"deviceId"`
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	Error             *string   `json:"error,omitempty"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	CreatedAt         Timestamp `json:"createdAt"`
}

// PagedNotifications is a page of notifications, newest first.
type PagedNotifications struct {
	Items []Notification    `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}
