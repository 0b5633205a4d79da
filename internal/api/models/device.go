package models

// DeviceRegisterRequest is the body of POST /v1/devices.
type DeviceRegisterRequest struct {
	ExternalUserID string `json:"externalUserId"`
	Platform       string `json:"platform"`
	Provider       string `json:"provider"`
	PushToken      string `json:"pushToken"`
}

// Device is a registered device. The push token is never echoed in full.
type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Platform   string    `json:"platform"`
	Provider   string    `json:"provider"`
	TokenLast4 string    `json:"tokenLast4"`
	IsActive   bool      `json:"isActive"`
	LastSeenAt Timestamp `json:"lastSeenAt"`
	CreatedAt  Timestamp `json:"createdAt"`
	UpdatedAt  Timestamp `json:"updatedAt"`
}

// PagedDevices is a page of devices.
type PagedDevices struct {
	Items []Device          `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}
