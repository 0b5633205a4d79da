package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/internal/device"
)

func newService(t *testing.T) (*device.Service, *device.InMemoryRepository) {
	t.Helper()
	repo := device.NewInMemoryRepository()
	return device.NewService(device.ServiceConfig{Repository: repo, Logger: zerolog.Nop()}), repo
}

func register(t *testing.T, svc *device.Service, appID, user, token string) *device.Device {
	t.Helper()
	d, _, err := svc.Register(context.Background(), appID, device.RegisterInput{
		ExternalUserID: user,
		Platform:       "android",
		Provider:       device.ProviderFCM,
		PushToken:      token,
	})
	require.NoError(t, err)
	return d
}

func TestService_Register(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	d, created, err := svc.Register(ctx, "app_1", device.RegisterInput{
		ExternalUserID: "ext-1",
		Platform:       "ios",
		Provider:       device.ProviderAPNS,
		PushToken:      "token-aaaa",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, d.IsActive)
	assert.Equal(t, "app_1", d.AppID)
	assert.Equal(t, "aaaa", d.TokenLast4())
	assert.Equal(t, 1, repo.UserCount())

	// Same token again updates rather than duplicates.
	again, created, err := svc.Register(ctx, "app_1", device.RegisterInput{
		ExternalUserID: "ext-1",
		Platform:       "ios",
		Provider:       device.ProviderAPNS,
		PushToken:      "token-aaaa",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, d.ID, again.ID)

	list, err := svc.List(ctx, "app_1", device.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_Register_RelinksAndReactivates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first := register(t, svc, "app_1", "alice", "shared-token")
	require.NoError(t, svc.Deactivate(ctx, "app_1", []string{first.ID}))

	got, err := svc.Get(ctx, "app_1", first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// The install is handed to another logical user.
	second := register(t, svc, "app_1", "bob", "shared-token")
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.UserID, second.UserID)

	got, err = svc.Get(ctx, "app_1", first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, second.UserID, got.UserID)
}

func TestService_Register_MovedTokenRemovesPreviousOwner(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	alice := register(t, svc, "app_1", "alice", "shared-token")
	carol := register(t, svc, "app_1", "carol", "carol-phone")
	register(t, svc, "app_1", "carol", "carol-tablet")
	require.Equal(t, 2, repo.UserCount())

	register(t, svc, "app_1", "bob", "shared-token")
	assert.Equal(t, 2, repo.UserCount())
	_, err := svc.GetUser(ctx, "app_1", alice.UserID)
	assert.ErrorIs(t, err, device.ErrUserNotFound)

	// A previous owner that still has another device is kept.
	register(t, svc, "app_1", "bob", "carol-phone")
	_, err = svc.GetUser(ctx, "app_1", carol.UserID)
	assert.NoError(t, err)
	assert.Equal(t, 2, repo.UserCount())
}

func TestService_Register_SameTokenDifferentApps(t *testing.T) {
	svc, _ := newService(t)

	a := register(t, svc, "app_1", "alice", "token-1234")
	b := register(t, svc, "app_2", "alice", "token-1234")

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.UserID, b.UserID)
}

func TestService_Register_Validation(t *testing.T) {
	svc, _ := newService(t)

	_, _, err := svc.Register(context.Background(), "app_1", device.RegisterInput{})
	require.Error(t, err)

	var verr *device.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 4)
}

func TestService_Delete_CascadesLastDevice(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	d := register(t, svc, "app_1", "alice", "token-only")
	require.Equal(t, 1, repo.UserCount())

	require.NoError(t, svc.Delete(ctx, "app_1", d.ID))

	assert.Equal(t, 0, repo.UserCount())
	_, err := svc.GetUser(ctx, "app_1", d.UserID)
	assert.ErrorIs(t, err, device.ErrUserNotFound)
}

func TestService_Delete_KeepsUserWithOtherDevices(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	phone := register(t, svc, "app_1", "alice", "token-phone")
	tablet := register(t, svc, "app_1", "alice", "token-tablet")
	require.Equal(t, phone.UserID, tablet.UserID)

	require.NoError(t, svc.Delete(ctx, "app_1", phone.ID))

	assert.Equal(t, 1, repo.UserCount())
	_, err := svc.Get(ctx, "app_1", tablet.ID)
	assert.NoError(t, err)
}

func TestService_Delete_OtherApplication(t *testing.T) {
	svc, _ := newService(t)

	d := register(t, svc, "app_1", "alice", "token-x")

	err := svc.Delete(context.Background(), "app_2", d.ID)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestService_ListFilters(t *testing.T) {
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := device.NewInMemoryRepository()
	svc := device.NewService(device.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "app_1", device.RegisterInput{ExternalUserID: "alice", Platform: "ios", Provider: device.ProviderAPNS, PushToken: "t1"})
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, "app_1", device.RegisterInput{ExternalUserID: "bob", Platform: "android", Provider: device.ProviderFCM, PushToken: "t2"})
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, "app_1", device.RegisterInput{ExternalUserID: "alice", Platform: "web", Provider: device.ProviderWebPush, PushToken: "t3"})
	require.NoError(t, err)

	all, err := svc.List(ctx, "app_1", device.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].PushToken, "newest first")

	ios, err := svc.List(ctx, "app_1", device.ListOptions{Platform: "ios"})
	require.NoError(t, err)
	assert.Len(t, ios, 1)

	alice, err := svc.List(ctx, "app_1", device.ListOptions{ExternalUserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	limited, err := svc.List(ctx, "app_1", device.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestService_ActiveByUsers(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a := register(t, svc, "app_1", "alice", "ta")
	b := register(t, svc, "app_1", "bob", "tb")
	register(t, svc, "app_1", "carol", "tc")
	require.NoError(t, svc.Deactivate(ctx, "app_1", []string{b.ID}))

	got, err := svc.ActiveByUsers(ctx, "app_1", []string{a.UserID, b.UserID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	none, err := svc.ActiveByUsers(ctx, "app_1", []string{"usr_unknown"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
