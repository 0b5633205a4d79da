package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/topic"
)

// TopicHandler handles topic and subscription endpoints.
type TopicHandler struct {
	topics *topic.Service
	logger zerolog.Logger
}

// NewTopicHandler creates a new TopicHandler.
func NewTopicHandler(topics *topic.Service, logger zerolog.Logger) *TopicHandler {
	return &TopicHandler{topics: topics, logger: logger}
}

// CreateTopic handles POST /v1/topics. A key already used in the application yields 409.
func (h *TopicHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var input models.TopicCreateRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	t, err := h.topics.Create(r.Context(), applicationID(r), input.Key, input.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, r, "/v1/topics/"+t.ID, toTopicModel(t))
}

// ListTopics handles GET /v1/topics.
func (h *TopicHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.topics.List(r.Context(), applicationID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	list := models.TopicList{Items: make([]models.Topic, 0, len(topics))}
	for _, t := range topics {
		list.Items = append(list.Items, toTopicModel(t))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// DeleteTopic handles DELETE /v1/topics/{id}. Subscriptions and notifications
// addressed to the topic are removed with it.
func (h *TopicHandler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := h.topics.Delete(r.Context(), applicationID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.NoContent(w, r)
}

// Subscribe handles POST /v1/subscriptions/{topicId}/subscribe.
func (h *TopicHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var input models.SubscriptionRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	sub, err := h.topics.Subscribe(r.Context(), applicationID(r), chi.URLParam(r, "topicId"), input.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, r, "", models.Subscription{
		ID:        sub.ID,
		TopicID:   sub.TopicID,
		UserID:    sub.UserID,
		CreatedAt: models.NewTimestamp(sub.CreatedAt),
	})
}

// Unsubscribe handles DELETE /v1/subscriptions/{topicId}/unsubscribe.
// Unsubscribing a user that is not subscribed succeeds.
func (h *TopicHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var input models.SubscriptionRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := h.topics.Unsubscribe(r.Context(), applicationID(r), chi.URLParam(r, "topicId"), input.UserID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.NoContent(w, r)
}

func toTopicModel(t *topic.Topic) models.Topic {
	return models.Topic{
		ID:        t.ID,
		Key:       t.Key,
		Name:      t.Name,
		CreatedAt: models.NewTimestamp(t.CreatedAt),
	}
}
