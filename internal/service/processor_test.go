package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/messaging"
	"example.com/backstage/services/audit/internal/models"
)

func receivedMessage(t *testing.T, msg messaging.AuditMessage) *azservicebus.ReceivedMessage {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return &azservicebus.ReceivedMessage{Body: body}
}

func TestProcessMessagePersistsBatch(t *testing.T) {
	mockStore := new(MockStore)
	mockStore.On("WriteBatch", mock.Anything, mock.AnythingOfType("influx.Destination"), mock.Anything).Return(nil)

	msg := messaging.AuditMessage{
		Destination: influx.Destination{
			URL:          "http://localhost:8086",
			Token:        "influx-token",
			Organization: "audit",
			Bucket:       "alice",
		},
		Events: []models.Event{testEvent()},
	}

	processor := NewProcessor(mockStore)
	err := processor.ProcessMessage(context.Background(), receivedMessage(t, msg))
	require.NoError(t, err)

	// The write goes to the destination carried inside the message
	dest := mockStore.Calls[0].Arguments.Get(1).(influx.Destination)
	require.Equal(t, "alice", dest.Bucket)
	require.Equal(t, "influx-token", dest.Token)

	points := mockStore.Calls[0].Arguments.Get(2).([]*write.Point)
	require.Len(t, points, 1)
	require.Equal(t, "http-events", points[0].Name())

	mockStore.AssertExpectations(t)
}

func TestProcessMessageDiscardsEmptyBatch(t *testing.T) {
	mockStore := new(MockStore)

	msg := messaging.AuditMessage{
		Destination: influx.Destination{Bucket: "alice"},
	}

	processor := NewProcessor(mockStore)
	err := processor.ProcessMessage(context.Background(), receivedMessage(t, msg))

	// Empty batches complete without a store write so they are not redelivered
	require.NoError(t, err)
	mockStore.AssertNotCalled(t, "WriteBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessageFailsOnMalformedBody(t *testing.T) {
	processor := NewProcessor(new(MockStore))

	err := processor.ProcessMessage(context.Background(),
		&azservicebus.ReceivedMessage{Body: []byte("not-json")})
	require.Error(t, err)
}

func TestProcessMessageFailsWhenStoreRejectsWrite(t *testing.T) {
	mockStore := new(MockStore)
	mockStore.On("WriteBatch", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("bucket not found"))

	msg := messaging.AuditMessage{
		Destination: influx.Destination{Bucket: "alice"},
		Events:      []models.Event{testEvent()},
	}

	processor := NewProcessor(mockStore)
	err := processor.ProcessMessage(context.Background(), receivedMessage(t, msg))

	// The error propagates so the broker abandons and redelivers
	require.Error(t, err)
	require.Contains(t, err.Error(), "bucket not found")
}
