package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateReturnsFreshCopies(t *testing.T) {
	first, err := Template(TemplateHTTP)
	require.NoError(t, err)
	second, err := Template(TemplateHTTP)
	require.NoError(t, err)

	require.Equal(t, "http-events", first.Category)
	require.NotEmpty(t, first.Event.ID)
	require.NotEqual(t, first.Event.ID, second.Event.ID)
	require.False(t, first.Timestamp.IsZero())
}

func TestTemplateUnknownName(t *testing.T) {
	_, err := Template("no-such-template")
	require.Error(t, err)
}

func TestTemplatesValidateAfterParsing(t *testing.T) {
	for _, name := range []string{TemplateHTTP, TemplateCache, TemplateRDBMS} {
		event, err := Template(name)
		require.NoError(t, err, name)
		require.NoError(t, event.Validate(), name)
		require.Equal(t, name, event.Category)
	}
}

func TestHTTPEventStatusByCode(t *testing.T) {
	factory := NewFactory("production", "localhost:6379", "audit")

	ok, err := factory.HTTPEvent(HTTPRequest{
		Method:            "GET",
		URL:               "/audit/log?page=1",
		Path:              "/audit/log",
		ClientAddr:        "10.0.0.1",
		UserAgent:         "curl/8.0",
		StatusCode:        204,
		AffectedResources: 1,
		DurationMs:        9.0,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "success", ok.Status)
	require.Equal(t, "info", ok.Level)
	require.Equal(t, "production", ok.SourceInformation.Environment)
	require.Equal(t, "audit-log", ok.Resource.ID)
	require.NotNil(t, ok.Event.TotalDuration)
	require.Equal(t, 9.0, *ok.Event.TotalDuration)
	require.NotNil(t, ok.Event.Latency)
	require.Equal(t, 6.0, *ok.Event.Latency)

	failed, err := factory.HTTPEvent(HTTPRequest{StatusCode: 502, Method: "POST"}, nil)
	require.NoError(t, err)
	require.Equal(t, "error", failed.Status)
	require.Equal(t, "error", failed.Level)

	// Zero durations stay absent instead of tripping validation
	require.Nil(t, failed.Event.TotalDuration)
	require.NoError(t, failed.Validate())
}

func TestCacheEventShape(t *testing.T) {
	factory := NewFactory("staging", "localhost:6379", "audit")

	event, err := factory.CacheEvent(3.0, "set", "cache-insert", "write", "Set new data in cache",
		map[string]interface{}{"key": "value"})
	require.NoError(t, err)
	require.Equal(t, "cache-events", event.Category)
	require.Equal(t, "set", event.Method)
	require.Equal(t, "staging", event.SourceInformation.Environment)
	require.Equal(t, "redis", event.Actor.Detail["agent"])
	require.Equal(t, "localhost:6379", event.Resource.Detail["store"])
	require.NoError(t, event.Validate())
}

func TestRDBMSEventShape(t *testing.T) {
	factory := NewFactory("production", "localhost:6379", "audit")

	event, err := factory.RDBMSEvent(5.0, 1, "insert", "account-create", "write",
		"Create new user account", map[string]interface{}{"username": "alice"})
	require.NoError(t, err)
	require.Equal(t, "rdbms-events", event.Category)
	require.Equal(t, "gorm", event.Actor.Detail["agent"])
	require.Equal(t, "audit", event.Resource.Detail["database"])
	require.NoError(t, event.Validate())
}

func TestHeartbeatEvent(t *testing.T) {
	factory := NewFactory("production", "localhost:6379", "audit")

	event, err := factory.HeartbeatEvent("audit-events")
	require.NoError(t, err)
	require.Equal(t, "audit", event.Category)
	require.Equal(t, "heartbeat", event.Method)
	require.Equal(t, "audit-events", event.Resource.Name)
	require.Equal(t, "queue", event.Resource.Type)
	require.NoError(t, event.Validate())
}
