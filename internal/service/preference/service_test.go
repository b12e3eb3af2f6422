package preference

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/messaging"
)

type MockPreferenceRepository struct {
	mock.Mock
}

func (m *MockPreferenceRepository) Get(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind) (*model.Preference, error) {
	args := m.Called(ctx, userID, userType, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Preference), args.Error(1)
}

func (m *MockPreferenceRepository) CreateIfAbsent(ctx context.Context, p *model.Preference) (*model.Preference, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Preference), args.Error(1)
}

func (m *MockPreferenceRepository) Upsert(ctx context.Context, p *model.Preference) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPreferenceRepository) List(ctx context.Context, userID string, userType model.UserType) ([]*model.Preference, error) {
	args := m.Called(ctx, userID, userType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Preference), args.Error(1)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var noon = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func TestResolve_CreatesDefaultOnFirstAccess(t *testing.T) {
	repo := new(MockPreferenceRepository)
	svc := newService(repo, Config{}, logger.Nop(), fixedClock(noon))
	ctx := context.Background()

	repo.On("Get", ctx, "u-1", model.UserTypeDriver, model.KindSystemAlert).
		Return(nil, repository.ErrNotFound).Once()
	repo.On("CreateIfAbsent", ctx, mock.MatchedBy(func(p *model.Preference) bool {
		return p.Enabled &&
			p.Frequency == model.Frequency{Type: model.FrequencyImmediate, MaxPerDay: 100} &&
			assert.ObjectsAreEqual(model.ChannelList{model.ChannelPush, model.ChannelEmail, model.ChannelInApp}, p.Channels)
	})).Return(model.DefaultPreference("u-1", model.UserTypeDriver, model.KindSystemAlert, noon), nil).Once()

	pref, err := svc.Resolve(ctx, "u-1", model.UserTypeDriver, model.KindSystemAlert)
	require.NoError(t, err)
	assert.True(t, pref.Enabled)

	// second resolve is served from cache
	again, err := svc.Resolve(ctx, "u-1", model.UserTypeDriver, model.KindSystemAlert)
	require.NoError(t, err)
	assert.Same(t, pref, again)

	repo.AssertExpectations(t)
}

func TestResolve_RejectsUnknownKindBeforeWrite(t *testing.T) {
	repo := new(MockPreferenceRepository)
	svc := newService(repo, Config{}, logger.Nop(), fixedClock(noon))

	_, err := svc.Resolve(context.Background(), "u-1", model.UserTypeDriver, "not_a_kind")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
	repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
}

func TestResolve_StoreError(t *testing.T) {
	repo := new(MockPreferenceRepository)
	svc := newService(repo, Config{}, logger.Nop(), fixedClock(noon))
	ctx := context.Background()

	repo.On("Get", ctx, "u-1", model.UserTypeDriver, model.KindSystemAlert).Return(nil, errors.New("db down"))

	_, err := svc.Resolve(ctx, "u-1", model.UserTypeDriver, model.KindSystemAlert)
	assert.ErrorContains(t, err, "db down")
}

func TestIsWithinQuietHours(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		window *model.TimeWindow
		want   bool
	}{
		{"no window", noon, nil, true},
		{"inside day window", noon, &model.TimeWindow{Start: "08:00", End: "18:00"}, true},
		{"before day window", time.Date(2024, 6, 3, 7, 59, 0, 0, time.UTC), &model.TimeWindow{Start: "08:00", End: "18:00"}, false},
		{"end is inclusive", time.Date(2024, 6, 3, 18, 0, 0, 0, time.UTC), &model.TimeWindow{Start: "08:00", End: "18:00"}, true},
		{"wraps past midnight, late", time.Date(2024, 6, 3, 23, 30, 0, 0, time.UTC), &model.TimeWindow{Start: "22:00", End: "06:00"}, true},
		{"wraps past midnight, early", time.Date(2024, 6, 3, 5, 0, 0, 0, time.UTC), &model.TimeWindow{Start: "22:00", End: "06:00"}, true},
		{"wraps past midnight, outside", noon, &model.TimeWindow{Start: "22:00", End: "06:00"}, false},
		// 12:00 UTC is 07:00 in Chicago during daylight time
		{"honours timezone", noon, &model.TimeWindow{Start: "08:00", End: "18:00", Timezone: "America/Chicago"}, false},
		{"malformed window allows", noon, &model.TimeWindow{Start: "8am", End: "6pm"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(new(MockPreferenceRepository), Config{}, logger.Nop(), fixedClock(tt.now))
			pref := &model.Preference{TimeWindow: tt.window}
			assert.Equal(t, tt.want, svc.IsWithinQuietHours(pref))
		})
	}
}

func TestShouldDeliver(t *testing.T) {
	svc := newService(new(MockPreferenceRepository), Config{}, logger.Nop(), fixedClock(noon))
	pref := &model.Preference{Enabled: true, Channels: model.ChannelList{model.ChannelEmail, model.ChannelInApp}}

	assert.True(t, svc.ShouldDeliver(pref, model.ChannelEmail))
	assert.False(t, svc.ShouldDeliver(pref, model.ChannelSMS))

	pref.TimeWindow = &model.TimeWindow{Start: "20:00", End: "21:00"}
	assert.False(t, svc.ShouldDeliver(pref, model.ChannelEmail))

	pref.TimeWindow = nil
	pref.Enabled = false
	assert.False(t, svc.ShouldDeliver(pref, model.ChannelEmail))
	assert.False(t, svc.ShouldDeliver(nil, model.ChannelEmail))
}

func TestUpdate_InvalidatesCache(t *testing.T) {
	repo := new(MockPreferenceRepository)
	svc := newService(repo, Config{}, logger.Nop(), fixedClock(noon))
	ctx := context.Background()

	stored := model.DefaultPreference("u-1", model.UserTypeCarrier, model.KindLoadOpportunity, noon)
	repo.On("Get", ctx, "u-1", model.UserTypeCarrier, model.KindLoadOpportunity).Return(stored, nil)
	repo.On("Upsert", ctx, mock.AnythingOfType("*model.Preference")).Return(nil).Once()

	_, err := svc.Resolve(ctx, "u-1", model.UserTypeCarrier, model.KindLoadOpportunity)
	require.NoError(t, err)

	disabled := false
	updated, err := svc.Update(ctx, &UpdateRequest{
		UserID:           "u-1",
		UserType:         model.UserTypeCarrier,
		NotificationKind: model.KindLoadOpportunity,
		Channels:         []string{"sms", "sms", "in_app"},
		Enabled:          &disabled,
		TimeWindow:       &TimeWindowRequest{Start: "06:00", End: "22:00", Timezone: "UTC"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelList{model.ChannelSMS, model.ChannelInApp}, updated.Channels)
	assert.False(t, updated.Enabled)
	require.NotNil(t, updated.TimeWindow)
	assert.Equal(t, "06:00", updated.TimeWindow.Start)

	// the cached copy was left untouched and then evicted
	assert.True(t, stored.Enabled)
	_, cached := svc.cache.Get(cacheKey("u-1", model.UserTypeCarrier, model.KindLoadOpportunity))
	assert.False(t, cached)

	repo.AssertExpectations(t)
}

func TestUpdate_ValidationErrors(t *testing.T) {
	repo := new(MockPreferenceRepository)
	svc := newService(repo, Config{}, logger.Nop(), fixedClock(noon))

	_, err := svc.Update(context.Background(), &UpdateRequest{
		UserID:           "u-1",
		UserType:         model.UserTypeCarrier,
		NotificationKind: model.KindLoadOpportunity,
		Channels:         []string{"fax"},
		TimeWindow:       &TimeWindowRequest{Start: "25:00", End: "06:00", Timezone: "Mars/Olympus"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
	assert.Contains(t, err.Error(), "channels[0]")
	assert.Contains(t, err.Error(), "start")
	assert.Contains(t, err.Error(), "timezone")
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestUpdate_InvalidatesOtherProcesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stored := model.DefaultPreference("u-2", model.UserTypeDriver, model.KindLoadAssigned, noon)
	repo := new(MockPreferenceRepository)
	repo.On("Get", mock.Anything, "u-2", model.UserTypeDriver, model.KindLoadAssigned).Return(stored, nil)
	repo.On("Upsert", mock.Anything, mock.AnythingOfType("*model.Preference")).Return(nil).Once()

	bus := messaging.NewMemoryBroker()
	defer bus.Close()
	api := newService(repo, Config{Bus: bus}, logger.Nop(), fixedClock(noon))
	worker := newService(repo, Config{Bus: bus}, logger.Nop(), fixedClock(noon))
	require.NoError(t, messaging.Consume(ctx, bus, messaging.ChannelPreferences, logger.Nop(), worker.HandleInvalidation))

	_, err := worker.Resolve(ctx, "u-2", model.UserTypeDriver, model.KindLoadAssigned)
	require.NoError(t, err)
	key := cacheKey("u-2", model.UserTypeDriver, model.KindLoadAssigned)
	_, cached := worker.cache.Get(key)
	require.True(t, cached)

	_, err = api.Update(ctx, &UpdateRequest{
		UserID:           "u-2",
		UserType:         model.UserTypeDriver,
		NotificationKind: model.KindLoadAssigned,
		Channels:         []string{"sms"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, cached := worker.cache.Get(key)
		return !cached
	}, time.Second, 10*time.Millisecond)
}

func TestHandleInvalidation_RejectsGarbage(t *testing.T) {
	svc := newService(new(MockPreferenceRepository), Config{}, logger.Nop(), fixedClock(noon))
	assert.Error(t, svc.HandleInvalidation(context.Background(), []byte("not json")))
}
