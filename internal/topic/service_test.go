package topic_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/topic"
)

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) DeleteByTopic(ctx context.Context, appID, topicID string) (int64, error) {
	args := m.Called(ctx, appID, topicID)
	return args.Get(0).(int64), args.Error(1)
}

type fixture struct {
	svc     *topic.Service
	devices *device.Service
	cleaner *mockCleaner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	devices := device.NewService(device.ServiceConfig{
		Repository: device.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	cleaner := &mockCleaner{}
	svc := topic.NewService(topic.ServiceConfig{
		Repository:    topic.NewInMemoryRepository(),
		Users:         devices,
		Notifications: cleaner,
		Logger:        zerolog.Nop(),
	})
	return &fixture{svc: svc, devices: devices, cleaner: cleaner}
}

func (f *fixture) user(t *testing.T, appID, external string) string {
	t.Helper()
	d, _, err := f.devices.Register(context.Background(), appID, device.RegisterInput{
		ExternalUserID: external,
		Platform:       "android",
		Provider:       device.ProviderFCM,
		PushToken:      "token-" + external,
	})
	require.NoError(t, err)
	return d.UserID
}

func TestService_CreateAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "app_1", "artist-drake", "Drake")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "app_1", "artist-adele", "Adele")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "app_1", "artist-drake", "Drake again")
	assert.ErrorIs(t, err, topic.ErrTopicExists)

	// Same key in another application is fine.
	_, err = f.svc.Create(ctx, "app_2", "artist-drake", "Drake")
	require.NoError(t, err)

	topics, err := f.svc.List(ctx, "app_1")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Adele", topics[0].Name)
	assert.Equal(t, "Drake", topics[1].Name)
}

func TestService_Create_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), "app_1", "has spaces", "")
	var verr *topic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
}

func TestService_Subscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tp, err := f.svc.Create(ctx, "app_1", "news", "News")
	require.NoError(t, err)
	userID := f.user(t, "app_1", "alice")

	_, err = f.svc.Subscribe(ctx, "app_1", tp.ID, userID)
	require.NoError(t, err)

	_, err = f.svc.Subscribe(ctx, "app_1", tp.ID, userID)
	assert.ErrorIs(t, err, topic.ErrAlreadySubscribed)

	ids, err := f.svc.SubscriberIDs(ctx, "app_1", tp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{userID}, ids)

	require.NoError(t, f.svc.Unsubscribe(ctx, "app_1", tp.ID, userID))
	require.NoError(t, f.svc.Unsubscribe(ctx, "app_1", tp.ID, userID), "unsubscribing twice is a no-op")

	ids, err = f.svc.SubscriberIDs(ctx, "app_1", tp.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestService_Subscribe_ScopedToApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tp, err := f.svc.Create(ctx, "app_1", "news", "News")
	require.NoError(t, err)
	foreignUser := f.user(t, "app_2", "mallory")

	_, err = f.svc.Subscribe(ctx, "app_1", tp.ID, foreignUser)
	assert.ErrorIs(t, err, device.ErrUserNotFound)

	_, err = f.svc.Subscribe(ctx, "app_2", tp.ID, foreignUser)
	assert.ErrorIs(t, err, topic.ErrTopicNotFound)
}

func TestService_Delete_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tp, err := f.svc.Create(ctx, "app_1", "news", "News")
	require.NoError(t, err)
	_, err = f.svc.Subscribe(ctx, "app_1", tp.ID, f.user(t, "app_1", "alice"))
	require.NoError(t, err)

	f.cleaner.On("DeleteByTopic", mock.Anything, "app_1", tp.ID).Return(int64(3), nil).Once()

	require.NoError(t, f.svc.Delete(ctx, "app_1", tp.ID))
	f.cleaner.AssertExpectations(t)

	_, err = f.svc.Get(ctx, "app_1", tp.ID)
	assert.ErrorIs(t, err, topic.ErrTopicNotFound)

	err = f.svc.Delete(ctx, "app_1", tp.ID)
	assert.ErrorIs(t, err, topic.ErrTopicNotFound)
}

func TestService_OrphanedUserLosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	topics := topic.NewInMemoryRepository()
	devices := device.NewService(device.ServiceConfig{
		Repository: device.NewInMemoryRepository().CascadeSubscriptions(topics),
		Logger:     zerolog.Nop(),
	})
	svc := topic.NewService(topic.ServiceConfig{
		Repository:    topics,
		Users:         devices,
		Notifications: &mockCleaner{},
		Logger:        zerolog.Nop(),
	})

	tp, err := svc.Create(ctx, "app_1", "artist-drake", "Drake")
	require.NoError(t, err)

	d, _, err := devices.Register(ctx, "app_1", device.RegisterInput{
		ExternalUserID: "dana", Platform: "android", Provider: device.ProviderFCM, PushToken: "dana-phone",
	})
	require.NoError(t, err)
	keep, _, err := devices.Register(ctx, "app_1", device.RegisterInput{
		ExternalUserID: "eli", Platform: "android", Provider: device.ProviderFCM, PushToken: "eli-phone",
	})
	require.NoError(t, err)

	for _, userID := range []string{d.UserID, keep.UserID} {
		_, err = svc.Subscribe(ctx, "app_1", tp.ID, userID)
		require.NoError(t, err)
	}

	require.NoError(t, devices.Delete(ctx, "app_1", d.ID))

	ids, err := svc.SubscriberIDs(ctx, "app_1", tp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.UserID}, ids)
}
