// Package handler provides HTTP handlers for the gateway API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/middleware"
	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/notification"
	"github.com/pushgate/pushgate/internal/topic"
)

// maxBodyBytes bounds request bodies. Notification data is the largest payload.
const maxBodyBytes = 1 << 20

// List paging bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// decodeJSON reads a JSON request body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

// applicationID returns the application the authenticated caller is scoped to.
func applicationID(r *http.Request) string {
	return middleware.GetApplicationID(r.Context())
}

// parseLimit reads the limit query parameter.
func parseLimit(r *http.Request) (int, *models.FieldError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > MaxListLimit {
		return 0, &models.FieldError{Field: "limit", Message: "must be between 1 and 200", Code: "out_of_range"}
	}
	return limit, nil
}

// writeError maps service errors to problem responses. Anything not recognised
// is logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var (
		deviceValidation       *device.ValidationError
		topicValidation        *topic.ValidationError
		notificationValidation *notification.ValidationError
	)

	switch {
	case errors.As(err, &deviceValidation):
		response.BadRequest(w, r, "validation failed", deviceValidation.Errors)
	case errors.As(err, &topicValidation):
		response.BadRequest(w, r, "validation failed", topicValidation.Errors)
	case errors.As(err, &notificationValidation):
		response.BadRequest(w, r, "validation failed", notificationValidation.Errors)
	case errors.Is(err, notification.ErrInvalidSelector):
		response.BadRequest(w, r, err.Error(), nil)

	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrUserNotFound),
		errors.Is(err, topic.ErrTopicNotFound),
		errors.Is(err, topic.ErrSubscriptionNotFound),
		errors.Is(err, notification.ErrNotificationNotFound):
		response.NotFound(w, r, err.Error())

	case errors.Is(err, topic.ErrTopicExists),
		errors.Is(err, topic.ErrAlreadySubscribed):
		response.Conflict(w, r, err.Error())
	case errors.Is(err, notification.ErrInvalidTransition):
		response.Conflict(w, r, "only pending notifications can be cancelled")

	default:
		log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		response.InternalError(w, r, "internal server error")
	}
}
