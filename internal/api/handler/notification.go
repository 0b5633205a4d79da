package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/notification"
)

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	engine *notification.Engine
	logger zerolog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(engine *notification.Engine, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{engine: engine, logger: logger}
}

// CreateNotification handles POST /v1/notifications.
//
// The notification is dispatched before the response is written unless it is
// scheduled for later. Responds 201 with status "sent" or "scheduled", and 200
// with status "no_targets" when nobody could be reached.
func (h *NotificationHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var input models.NotificationCreateRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	var scheduleAt *time.Time
	if input.ScheduleAt != nil {
		t := input.ScheduleAt.Time()
		scheduleAt = &t
	}

	result, err := h.engine.Create(r.Context(), applicationID(r), notification.CreateInput{
		Title:      input.Title,
		Body:       input.Body,
		Data:       input.Data,
		TopicID:    input.TopicID,
		UserIDs:    input.UserIDs,
		ScheduleAt: scheduleAt,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	body := models.NotificationResult{ID: result.ID, Status: result.Status}
	if result.Status == notification.ResultNoTargets {
		response.JSON(w, r, http.StatusOK, body)
		return
	}
	response.Created(w, r, "/v1/notifications/"+result.ID, body)
}

// ListNotifications handles GET /v1/notifications, newest first.
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, fieldErr := parseLimit(r)
	if fieldErr != nil {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{*fieldErr})
		return
	}

	items, err := h.engine.List(r.Context(), applicationID(r), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page := models.PagedNotifications{
		Items: make([]models.Notification, 0, len(items)),
		Meta:  models.PagedResponseMeta{Limit: limit, Count: len(items)},
	}
	for _, n := range items {
		page.Items = append(page.Items, toNotificationModel(n))
	}
	response.JSON(w, r, http.StatusOK, page)
}

// GetNotification handles GET /v1/notifications/{id}, including deliveries.
func (h *NotificationHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Get(r.Context(), applicationID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toNotificationModel(n))
}

// CancelNotification handles POST /v1/notifications/{id}/cancel. Only pending
// notifications can be cancelled; anything else yields 409.
func (h *NotificationHandler) CancelNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Cancel(r.Context(), applicationID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NotificationResult{ID: n.ID, Status: string(n.Status)})
}

func toNotificationModel(n *notification.Notification) models.Notification {
	m := models.Notification{
		ID:         n.ID,
		Title:      n.Title,
		Body:       n.Body,
		Data:       n.Data,
		TopicID:    n.TopicID,
		UserIDs:    n.UserIDs,
		ScheduleAt: models.TimestampPtr(n.ScheduleAt),
		Status:     string(n.Status),
		CreatedAt:  models.NewTimestamp(n.CreatedAt),
		UpdatedAt:  models.NewTimestamp(n.UpdatedAt),
	}
	for _, d := range n.Deliveries {
		m.Deliveries = append(m.Deliveries, models.Delivery{
			ID:                d.ID,
			DeviceID:          d.DeviceID,
			Provider:          d.Provider,
			Status:            string(d.Status),
			Error:             d.Error,
			ProviderMessageID: d.ProviderMessageID,
			CreatedAt:         models.NewTimestamp(d.CreatedAt),
		})
	}
	return m
}
