package service

import (
	"context"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/audit/config"
	"example.com/backstage/services/audit/internal/audit"
	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/messaging"
	"example.com/backstage/services/audit/internal/models"
)

// Mock Service Bus client for testing
type MockServiceBusClient struct {
	mock.Mock
}

func (m *MockServiceBusClient) SendMessage(ctx context.Context, body interface{}) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

func (m *MockServiceBusClient) ProcessMessages(ctx context.Context, handler messaging.MessageHandler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockServiceBusClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Mock time-series store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) WriteBatch(ctx context.Context, dest influx.Destination, points []*write.Point) error {
	args := m.Called(ctx, dest, points)
	return args.Error(0)
}

func (m *MockStore) QueryRows(ctx context.Context, dest influx.Destination, query string) ([]audit.Row, error) {
	args := m.Called(ctx, dest, query)
	return args.Get(0).([]audit.Row), args.Error(1)
}

// Mock user repository for testing
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.UserAccount) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uint) (*models.UserAccount, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*models.UserAccount, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *MockUserRepository) FindByAccessKey(ctx context.Context, accessKey string) (*models.UserAccount, error) {
	args := m.Called(ctx, accessKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *MockUserRepository) FindAdmin(ctx context.Context) (*models.UserAccount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *MockUserRepository) Activate(ctx context.Context, id uint) (*models.UserAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id uint, hashedPassword string) error {
	args := m.Called(ctx, id, hashedPassword)
	return args.Error(0)
}

func (m *MockUserRepository) RotateAccessKey(ctx context.Context, id uint, accessKey string) (*models.UserAccount, error) {
	args := m.Called(ctx, id, accessKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func adminAccount() *models.UserAccount {
	return &models.UserAccount{
		Username:    "admin",
		APIToken:    "influx-token",
		IsActive:    true,
		IsSuperuser: true,
	}
}

func callerAccount() *models.UserAccount {
	return &models.UserAccount{
		Username: "alice",
		IsActive: true,
	}
}

func influxConfig() config.InfluxConfig {
	return config.InfluxConfig{
		URL:          "http://localhost:8086",
		Organization: "audit",
	}
}

func testEvent() models.Event {
	return models.Event{
		Category: "http-events",
		SourceInformation: models.Tag{
			Application: "billing",
			Environment: "production",
		},
		Method: "GET",
		Status: "succeeded",
		Level:  "info",
		Event: models.EventDetail{
			Name: "list-invoices",
			Type: "read",
		},
		Actor:     models.Actor{Origin: "10.0.0.1"},
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogEventsEnqueuesTypedMessage(t *testing.T) {
	mockBus := new(MockServiceBusClient)
	mockRepo := new(MockUserRepository)

	mockRepo.On("FindAdmin", mock.Anything).Return(adminAccount(), nil)
	mockBus.On("SendMessage", mock.Anything, mock.AnythingOfType("messaging.AuditMessage")).Return(nil)

	service := NewAuditService(mockBus, nil, mockRepo, influxConfig())
	err := service.LogEvents(context.Background(), callerAccount(), []models.Event{testEvent()})
	require.NoError(t, err)

	// The enqueued message binds the caller's bucket and the admin token
	sent := mockBus.Calls[0].Arguments.Get(1).(messaging.AuditMessage)
	require.Equal(t, "alice", sent.Destination.Bucket)
	require.Equal(t, "influx-token", sent.Destination.Token)
	require.Len(t, sent.Events, 1)
	require.NotEmpty(t, sent.Events[0].Event.ID)
	require.Equal(t, 1, sent.Events[0].Event.Stage)

	mockBus.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestLogEventsRejectsInvalidBatch(t *testing.T) {
	mockBus := new(MockServiceBusClient)
	mockRepo := new(MockUserRepository)

	service := NewAuditService(mockBus, nil, mockRepo, influxConfig())

	event := testEvent()
	event.Category = ""
	err := service.LogEvents(context.Background(), callerAccount(), []models.Event{event})

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "category", validationErr.Field)

	// Nothing reaches the queue on validation failure
	mockBus.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestLogEventsRejectsReservedMetricName(t *testing.T) {
	mockBus := new(MockServiceBusClient)

	service := NewAuditService(mockBus, nil, new(MockUserRepository), influxConfig())

	event := testEvent()
	event.Metadata = []models.MetadataEntry{{IsMetric: true, Name: "method", Value: 1.0}}
	err := service.LogEvents(context.Background(), callerAccount(), []models.Event{event})

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "metadata.method", validationErr.Field)
	mockBus.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestLogEventsRejectsEmptyBatch(t *testing.T) {
	service := NewAuditService(new(MockServiceBusClient), nil, new(MockUserRepository), influxConfig())

	err := service.LogEvents(context.Background(), callerAccount(), nil)

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestLogInternalTargetsAdminBucket(t *testing.T) {
	mockBus := new(MockServiceBusClient)
	mockRepo := new(MockUserRepository)

	mockRepo.On("FindAdmin", mock.Anything).Return(adminAccount(), nil)
	mockBus.On("SendMessage", mock.Anything, mock.AnythingOfType("messaging.AuditMessage")).Return(nil)

	service := NewAuditService(mockBus, nil, mockRepo, influxConfig())
	err := service.LogInternal(context.Background(), []models.Event{testEvent()})
	require.NoError(t, err)

	sent := mockBus.Calls[0].Arguments.Get(1).(messaging.AuditMessage)
	require.Equal(t, "admin", sent.Destination.Bucket)
}

func TestListEventsReducesRows(t *testing.T) {
	mockStore := new(MockStore)
	mockRepo := new(MockUserRepository)

	mockRepo.On("FindAdmin", mock.Anything).Return(adminAccount(), nil)
	mockStore.On("QueryRows", mock.Anything, mock.Anything, mock.AnythingOfType("string")).Return([]audit.Row{
		{
			"_measurement": "http-events",
			"application":  "billing",
			"environment":  "production",
			"method":       "GET",
			"status":       "succeeded",
			"level":        "info",
			"event_id":     "9f2c4e1a",
			"_time":        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
	}, nil)

	service := NewAuditService(new(MockServiceBusClient), mockStore, mockRepo, influxConfig())
	records, err := service.ListEvents(context.Background(), callerAccount(),
		models.RetrievalParameters{App: "billing", Start: "1d", Stop: "now"}, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "http-events", records[0].Category)
	require.Equal(t, "9f2c4e1a", records[0].Event.ID)

	// The query runs against the caller's bucket
	dest := mockStore.Calls[0].Arguments.Get(1).(influx.Destination)
	require.Equal(t, "alice", dest.Bucket)
}

func TestMetricSeriesAggregates(t *testing.T) {
	mockStore := new(MockStore)
	mockRepo := new(MockUserRepository)

	w1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mockRepo.On("FindAdmin", mock.Anything).Return(adminAccount(), nil)
	mockStore.On("QueryRows", mock.Anything, mock.Anything, mock.AnythingOfType("string")).Return([]audit.Row{
		{"_start": w1, "_stop": w1.Add(time.Minute), "latency": 0.1},
	}, nil)

	service := NewAuditService(new(MockServiceBusClient), mockStore, mockRepo, influxConfig())
	points, err := service.MetricSeries(context.Background(), callerAccount(),
		models.RetrievalParameters{App: "billing", Start: "1d", Stop: "now"},
		"latency", "1m", "mean")
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 0.1, points[0].Value)
}

func TestMetricSeriesRejectsBadInterval(t *testing.T) {
	service := NewAuditService(new(MockServiceBusClient), new(MockStore), new(MockUserRepository), influxConfig())

	_, err := service.MetricSeries(context.Background(), callerAccount(),
		models.RetrievalParameters{App: "billing"}, "latency", "not-a-duration", "mean")

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "interval", validationErr.Field)
}

func TestListEventsRejectsMalformedTimeBound(t *testing.T) {
	mockStore := new(MockStore)
	service := NewAuditService(new(MockServiceBusClient), mockStore, new(MockUserRepository), influxConfig())

	_, err := service.ListEvents(context.Background(), callerAccount(),
		models.RetrievalParameters{App: "billing", Start: `0, stop: now()) |> yield()`, Stop: "now"}, 1)

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "start", validationErr.Field)
	mockStore.AssertNotCalled(t, "QueryRows", mock.Anything, mock.Anything, mock.Anything)
}

func TestMetricSeriesRejectsMalformedTimeBound(t *testing.T) {
	service := NewAuditService(new(MockServiceBusClient), new(MockStore), new(MockUserRepository), influxConfig())

	_, err := service.MetricSeries(context.Background(), callerAccount(),
		models.RetrievalParameters{App: "billing", Start: "1d", Stop: "not-a-time"},
		"latency", "1m", "mean")

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "stop", validationErr.Field)
}

func TestMetricSeriesRejectsUnknownAggregation(t *testing.T) {
	service := NewAuditService(new(MockServiceBusClient), new(MockStore), new(MockUserRepository), influxConfig())

	_, err := service.MetricSeries(context.Background(), callerAccount(),
		models.RetrievalParameters{App: "billing"}, "latency", "1m", "exfiltrate")

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "agg", validationErr.Field)
}
