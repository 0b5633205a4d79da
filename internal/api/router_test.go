package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/internal/api"
	"github.com/pushgate/pushgate/internal/api/handler"
	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/auth"
	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/notification"
	"github.com/pushgate/pushgate/internal/provider/resilience"
	"github.com/pushgate/pushgate/internal/push"
	"github.com/pushgate/pushgate/internal/tenant"
	"github.com/pushgate/pushgate/internal/topic"
)

const (
	testIssuer = "https://auth.acme.test"
	testSecret = "acme-shared-secret"
)

// fakeSender accepts every token.
type fakeSender struct {
	mu     sync.Mutex
	tokens []string
}

func (s *fakeSender) SendBatch(_ context.Context, tokens []string, _ push.Message) ([]push.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, tokens...)
	outcomes := make([]push.Outcome, len(tokens))
	for i, tok := range tokens {
		outcomes[i] = push.Outcome{Success: true, MessageID: "msg-" + tok}
	}
	return outcomes, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type stubBreaker struct{ state gobreaker.State }

func (b stubBreaker) State() gobreaker.State   { return b.state }
func (b stubBreaker) Counts() gobreaker.Counts { return gobreaker.Counts{} }

type testServer struct {
	router http.Handler
	fcm    *fakeSender
}

type serverOption func(*api.RouterConfig)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	secret := testSecret
	dir := tenant.NewInMemoryDirectory()
	dir.AddTenant(&tenant.Tenant{
		ID:           "tnt_acme",
		Issuer:       testIssuer,
		Audience:     "pushgate",
		Algorithm:    tenant.AlgorithmHS256,
		SharedSecret: &secret,
	})
	dir.AddApplication(&tenant.Application{ID: "app_music", TenantID: "tnt_acme"})
	dir.AddApplication(&tenant.Application{ID: "app_news", TenantID: "tnt_acme"})

	notifications := notification.NewInMemoryRepository()
	devices := device.NewService(device.ServiceConfig{
		Repository: device.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	topics := topic.NewService(topic.ServiceConfig{
		Repository:    topic.NewInMemoryRepository(),
		Users:         devices,
		Notifications: notifications,
		Logger:        zerolog.Nop(),
	})

	fcm := &fakeSender{}
	senders := push.NewRegistry()
	senders.Register(string(device.ProviderFCM), fcm)

	engine, err := notification.NewEngine(notification.EngineConfig{
		Repository: notifications,
		Targets:    notification.NewTargetResolver(topics, devices),
		Topics:     topics,
		Devices:    devices,
		Senders:    senders,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	cfg := api.RouterConfig{
		Version:       "test",
		BuildTime:     "now",
		Logger:        zerolog.New(io.Discard),
		Authenticator: auth.NewAuthenticator(auth.AuthenticatorConfig{Directory: dir}),
		Devices:       devices,
		Topics:        topics,
		Notifications: engine,
		Providers:     resilience.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{router: api.NewRouter(cfg), fcm: fcm}
}

func tokenFor(t *testing.T, appID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    testIssuer,
		"aud":    "pushgate",
		"sub":    "backend",
		"app_id": appID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, appID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if appID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, appID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) registerDevice(t *testing.T, appID, externalUserID, provider, token string) models.Device {
	t.Helper()
	w := s.do(t, appID, http.MethodPost, "/v1/devices", models.DeviceRegisterRequest{
		ExternalUserID: externalUserID,
		Platform:       "android",
		Provider:       provider,
		PushToken:      token,
	})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, w.Code, w.Body.String())
	return decode[models.Device](t, w)
}

func (s *testServer) createTopic(t *testing.T, appID, key string) models.Topic {
	t.Helper()
	w := s.do(t, appID, http.MethodPost, "/v1/topics", models.TopicCreateRequest{Key: key, Name: key})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Topic](t, w)
}

func TestRouter_HealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodGet, "/v1/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		w := newTestServer(t).do(t, "", http.MethodGet, "/v1/ready", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.HealthStatusOK, decode[models.Readiness](t, w).Status)
	})

	t.Run("database down", func(t *testing.T) {
		s := newTestServer(t, func(cfg *api.RouterConfig) { cfg.Database = failingPinger{} })

		w := s.do(t, "", http.MethodGet, "/v1/ready", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		ready := decode[models.Readiness](t, w)
		assert.Equal(t, models.HealthStatusFail, ready.Status)
		require.Len(t, ready.Subsystems, 1)
		assert.Equal(t, "postgres", ready.Subsystems[0].Name)
	})

	t.Run("open provider circuit degrades", func(t *testing.T) {
		registry := resilience.NewRegistry()
		registry.Register("apns", stubBreaker{state: gobreaker.StateOpen})
		registry.Register("fcm", stubBreaker{state: gobreaker.StateClosed})
		s := newTestServer(t, func(cfg *api.RouterConfig) { cfg.Providers = registry })

		w := s.do(t, "", http.MethodGet, "/v1/ready", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		ready := decode[models.Readiness](t, w)
		assert.Equal(t, models.HealthStatusDegraded, ready.Status)
		require.Len(t, ready.Providers, 2)
		assert.Equal(t, "apns", ready.Providers[0].Provider)
		assert.Equal(t, models.HealthStatusFail, ready.Providers[0].Status)
	})
}

func TestRouter_RequiresCredentials(t *testing.T) {
	s := newTestServer(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/devices"},
		{http.MethodPost, "/v1/notifications"},
		{http.MethodGet, "/v1/topics"},
		{http.MethodPost, "/v1/subscriptions/top_1/subscribe"},
	}
	for _, p := range paths {
		w := s.do(t, "", p.method, p.path, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code, p.path)
		problem := decode[models.Problem](t, w)
		assert.Equal(t, "invalid or missing credentials", problem.Detail)
	}
}

func TestRouter_UnknownApplicationRejected(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "app_missing", http.MethodGet, "/v1/devices", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RegisterDevice_Idempotent(t *testing.T) {
	s := newTestServer(t)
	req := models.DeviceRegisterRequest{ExternalUserID: "u1", Platform: "android", Provider: "fcm", PushToken: "token-abcd"}

	first := s.do(t, "app_music", http.MethodPost, "/v1/devices", req)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	created := decode[models.Device](t, first)
	assert.Equal(t, "/v1/devices/"+created.ID, first.Header().Get("Location"))
	assert.Equal(t, "abcd", created.TokenLast4)
	assert.True(t, created.IsActive)
	assert.NotContains(t, first.Body.String(), "token-abcd")

	second := s.do(t, "app_music", http.MethodPost, "/v1/devices", req)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, created.ID, decode[models.Device](t, second).ID)

	list := decode[models.PagedDevices](t, s.do(t, "app_music", http.MethodGet, "/v1/devices", nil))
	assert.Len(t, list.Items, 1)
	assert.Equal(t, handler.DefaultListLimit, list.Meta.Limit)
}

func TestRouter_RegisterDevice_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "app_music", http.MethodPost, "/v1/devices", models.DeviceRegisterRequest{Platform: "ios"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, decode[models.Problem](t, w).Errors)
}

func TestRouter_RegisterDevice_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/devices", bytes.NewBufferString(`{"pushToken":`))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "app_music"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ListDevices_Filters(t *testing.T) {
	s := newTestServer(t)
	s.registerDevice(t, "app_music", "u1", "fcm", "tok-1")
	s.registerDevice(t, "app_music", "u2", "fcm", "tok-2")

	w := s.do(t, "app_music", http.MethodGet, "/v1/devices?externalUserId=u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.PagedDevices](t, w).Items, 1)

	w = s.do(t, "app_music", http.MethodGet, "/v1/devices?limit=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_DeleteDevice(t *testing.T) {
	s := newTestServer(t)
	d := s.registerDevice(t, "app_music", "u1", "fcm", "tok-1")

	w := s.do(t, "app_music", http.MethodDelete, "/v1/devices/"+d.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, "app_music", http.MethodDelete, "/v1/devices/"+d.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ApplicationIsolation(t *testing.T) {
	s := newTestServer(t)
	d := s.registerDevice(t, "app_music", "u1", "fcm", "tok-1")
	tp := s.createTopic(t, "app_music", "artist-drake")

	list := decode[models.PagedDevices](t, s.do(t, "app_news", http.MethodGet, "/v1/devices", nil))
	assert.Empty(t, list.Items)

	assert.Equal(t, http.StatusNotFound, s.do(t, "app_news", http.MethodDelete, "/v1/devices/"+d.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "app_news", http.MethodDelete, "/v1/topics/"+tp.ID, nil).Code)

	// The same key is free in another application.
	s.createTopic(t, "app_news", "artist-drake")
}

func TestRouter_Topics(t *testing.T) {
	s := newTestServer(t)
	s.createTopic(t, "app_music", "zeta")
	alpha := s.createTopic(t, "app_music", "alpha")

	w := s.do(t, "app_music", http.MethodPost, "/v1/topics", models.TopicCreateRequest{Key: "alpha", Name: "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "app_music", http.MethodPost, "/v1/topics", models.TopicCreateRequest{Key: "no-name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list := decode[models.TopicList](t, s.do(t, "app_music", http.MethodGet, "/v1/topics", nil))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "alpha", list.Items[0].Name)

	assert.Equal(t, http.StatusNoContent, s.do(t, "app_music", http.MethodDelete, "/v1/topics/"+alpha.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "app_music", http.MethodDelete, "/v1/topics/"+alpha.ID, nil).Code)
}

func TestRouter_Subscriptions(t *testing.T) {
	s := newTestServer(t)
	d := s.registerDevice(t, "app_music", "u1", "fcm", "tok-1")
	tp := s.createTopic(t, "app_music", "artist-drake")
	path := "/v1/subscriptions/" + tp.ID

	w := s.do(t, "app_music", http.MethodPost, path+"/subscribe", models.SubscriptionRequest{UserID: d.UserID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode[models.Subscription](t, w)
	assert.Equal(t, tp.ID, sub.TopicID)
	assert.Equal(t, d.UserID, sub.UserID)

	w = s.do(t, "app_music", http.MethodPost, path+"/subscribe", models.SubscriptionRequest{UserID: d.UserID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "app_music", http.MethodPost, path+"/subscribe", models.SubscriptionRequest{UserID: "usr_missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "app_music", http.MethodPost, "/v1/subscriptions/top_missing/subscribe", models.SubscriptionRequest{UserID: d.UserID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "app_music", http.MethodDelete, path+"/unsubscribe", models.SubscriptionRequest{UserID: d.UserID})
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Unsubscribing again is not an error.
	w = s.do(t, "app_music", http.MethodDelete, path+"/unsubscribe", models.SubscriptionRequest{UserID: d.UserID})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouter_TopicNotificationDelivered(t *testing.T) {
	s := newTestServer(t)
	d := s.registerDevice(t, "app_music", "u1", "fcm", "tok-drake")
	tp := s.createTopic(t, "app_music", "artist-drake")
	w := s.do(t, "app_music", http.MethodPost, "/v1/subscriptions/"+tp.ID+"/subscribe", models.SubscriptionRequest{UserID: d.UserID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, "app_music", http.MethodPost, "/v1/notifications", models.NotificationCreateRequest{
		Title:   "New Album",
		Body:    "Listen now",
		TopicID: &tp.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[models.NotificationResult](t, w)
	assert.Equal(t, "sent", result.Status)
	assert.Equal(t, []string{"tok-drake"}, s.fcm.tokens)

	w = s.do(t, "app_music", http.MethodGet, "/v1/notifications/"+result.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	n := decode[models.Notification](t, w)
	assert.Equal(t, "sent", n.Status)
	require.Len(t, n.Deliveries, 1)
	assert.Equal(t, d.ID, n.Deliveries[0].DeviceID)
	assert.Equal(t, "fcm", n.Deliveries[0].Provider)
	require.NotNil(t, n.Deliveries[0].ProviderMessageID)
	assert.Equal(t, "msg-tok-drake", *n.Deliveries[0].ProviderMessageID)
}

func TestRouter_NotificationWithoutTargets(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "app_music", http.MethodPost, "/v1/notifications", models.NotificationCreateRequest{
		Title:   "Promo",
		Body:    "-20%",
		UserIDs: []string{"u1", "u2"},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[models.NotificationResult](t, w)
	assert.Equal(t, "no_targets", result.Status)

	n := decode[models.Notification](t, s.do(t, "app_music", http.MethodGet, "/v1/notifications/"+result.ID, nil))
	assert.Empty(t, n.Deliveries)
}

func TestRouter_NotificationValidation(t *testing.T) {
	s := newTestServer(t)
	missing := "top_missing"

	tests := []struct {
		name string
		body models.NotificationCreateRequest
		want int
	}{
		{"missing title", models.NotificationCreateRequest{Body: "b", UserIDs: []string{"u1"}}, http.StatusBadRequest},
		{"no selector", models.NotificationCreateRequest{Title: "t", Body: "b"}, http.StatusBadRequest},
		{"both selectors", models.NotificationCreateRequest{Title: "t", Body: "b", TopicID: &missing, UserIDs: []string{"u1"}}, http.StatusBadRequest},
		{"unknown topic", models.NotificationCreateRequest{Title: "t", Body: "b", TopicID: &missing}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, "app_music", http.MethodPost, "/v1/notifications", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRouter_ScheduleAndCancel(t *testing.T) {
	s := newTestServer(t)
	s.registerDevice(t, "app_music", "u1", "fcm", "tok-1")
	at := models.NewTimestamp(time.Now().Add(5 * time.Minute))

	w := s.do(t, "app_music", http.MethodPost, "/v1/notifications", models.NotificationCreateRequest{
		Title:      "Later",
		Body:       "Soon",
		UserIDs:    []string{"u1"},
		ScheduleAt: &at,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[models.NotificationResult](t, w)
	assert.Equal(t, "scheduled", result.Status)

	n := decode[models.Notification](t, s.do(t, "app_music", http.MethodGet, "/v1/notifications/"+result.ID, nil))
	assert.Equal(t, "pending", n.Status)
	require.NotNil(t, n.ScheduleAt)

	w = s.do(t, "app_music", http.MethodPost, "/v1/notifications/"+result.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode[models.NotificationResult](t, w).Status)

	w = s.do(t, "app_music", http.MethodPost, "/v1/notifications/"+result.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "app_music", http.MethodPost, "/v1/notifications/ntf_missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, s.fcm.tokens)
}

func TestRouter_ListNotifications(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		w := s.do(t, "app_music", http.MethodPost, "/v1/notifications", models.NotificationCreateRequest{
			Title: "t", Body: "b", UserIDs: []string{"u1"},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	s.do(t, "app_news", http.MethodPost, "/v1/notifications", models.NotificationCreateRequest{
		Title: "t", Body: "b", UserIDs: []string{"u1"},
	})

	page := decode[models.PagedNotifications](t, s.do(t, "app_music", http.MethodGet, "/v1/notifications?limit=2", nil))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Meta.Limit)

	page = decode[models.PagedNotifications](t, s.do(t, "app_music", http.MethodGet, "/v1/notifications", nil))
	assert.Len(t, page.Items, 3)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/topics", bytes.NewBufferString("key=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "app_music"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", http.NoBody)
	req.Header.Set("X-Request-Id", "req_client_123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "req_client_123", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodGet, "/v1/nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}
