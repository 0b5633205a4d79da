package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/device"
)

// DeviceHandler handles device endpoints.
type DeviceHandler struct {
	devices *device.Service
	logger  zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(devices *device.Service, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, logger: logger}
}

// RegisterDevice handles POST /v1/devices. Returns 201 for a new device and 200
// when an existing push token was refreshed.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var input models.DeviceRegisterRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	d, created, err := h.devices.Register(r.Context(), applicationID(r), device.RegisterInput{
		ExternalUserID: input.ExternalUserID,
		Platform:       input.Platform,
		Provider:       device.Provider(input.Provider),
		PushToken:      input.PushToken,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if created {
		response.Created(w, r, "/v1/devices/"+d.ID, toDeviceModel(d))
		return
	}
	response.JSON(w, r, http.StatusOK, toDeviceModel(d))
}

// ListDevices handles GET /v1/devices. Supports platform, externalUserId and limit filters.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	limit, fieldErr := parseLimit(r)
	if fieldErr != nil {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{*fieldErr})
		return
	}

	query := r.URL.Query()
	devices, err := h.devices.List(r.Context(), applicationID(r), device.ListOptions{
		Platform:       query.Get("platform"),
		ExternalUserID: query.Get("externalUserId"),
		Limit:          limit,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page := models.PagedDevices{
		Items: make([]models.Device, 0, len(devices)),
		Meta:  models.PagedResponseMeta{Limit: limit, Count: len(devices)},
	}
	for _, d := range devices {
		page.Items = append(page.Items, toDeviceModel(d))
	}
	response.JSON(w, r, http.StatusOK, page)
}

// DeleteDevice handles DELETE /v1/devices/{id}. The owning user is removed with
// their last device.
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.Delete(r.Context(), applicationID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.NoContent(w, r)
}

func toDeviceModel(d *device.Device) models.Device {
	return models.Device{
		ID:         d.ID,
		UserID:     d.UserID,
		Platform:   d.Platform,
		Provider:   string(d.Provider),
		TokenLast4: d.TokenLast4(),
		IsActive:   d.IsActive,
		LastSeenAt: models.NewTimestamp(d.LastSeenAt),
		CreatedAt:  models.NewTimestamp(d.CreatedAt),
		UpdatedAt:  models.NewTimestamp(d.UpdatedAt),
	}
}
