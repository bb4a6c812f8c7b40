package events

import (
	"strings"

	"example.com/backstage/services/audit/internal/models"
)

// Factory produces self-audit events describing the service's own
// operations. The environment and backing-store coordinates are fixed at
// startup and stamped onto every event.
type Factory struct {
	environment string
	redisAddr   string
	database    string
}

// NewFactory creates an event factory for one deployment environment
func NewFactory(environment, redisAddr, database string) *Factory {
	return &Factory{
		environment: environment,
		redisAddr:   redisAddr,
		database:    database,
	}
}

func (f *Factory) fromTemplate(name string) (models.Event, error) {
	event, err := Template(name)
	if err != nil {
		return models.Event{}, err
	}
	event.SourceInformation.Environment = f.environment
	return event, nil
}

// HTTPRequest describes one completed request-response cycle
type HTTPRequest struct {
	Method            string
	URL               string
	Path              string
	ClientAddr        string
	UserAgent         string
	StatusCode        int
	AffectedResources int
	DurationMs        float64
}

// HTTPEvent builds an audit event for one HTTP request-response cycle
func (f *Factory) HTTPEvent(req HTTPRequest, metadata []models.MetadataEntry) (models.Event, error) {
	event, err := f.fromTemplate(TemplateHTTP)
	if err != nil {
		return models.Event{}, err
	}

	event.Method = req.Method
	if req.StatusCode < 400 {
		event.Status = "success"
		event.Level = "info"
	} else {
		event.Status = "error"
		event.Level = "error"
	}
	event.Event.Name = req.URL
	event.Event.Type = "http"
	event.Event.TotalDuration = positiveOrNil(req.DurationMs)
	event.Event.AffectedResources = req.AffectedResources
	event.Event.Latency = positiveOrNil(req.DurationMs / 3 * 2)
	event.Event.Description = "Information about HTTP request-response cycle"
	event.Actor.Origin = req.ClientAddr
	event.Actor.Detail = map[string]interface{}{"user_agent": req.UserAgent}
	event.Resource.ID = pathResourceID(req.Path)
	event.Resource.Name = req.Path
	event.Resource.Type = "http"
	event.Metadata = metadata

	return event, nil
}

// CacheEvent builds an audit event for one cache operation
func (f *Factory) CacheEvent(durationMs float64, method, name, eventType, description string, cachedData map[string]interface{}) (models.Event, error) {
	event, err := f.fromTemplate(TemplateCache)
	if err != nil {
		return models.Event{}, err
	}

	event.Method = method
	event.Event.Name = name
	event.Event.Type = eventType
	event.Event.TotalDuration = positiveOrNil(durationMs)
	event.Event.AffectedResources = 1
	event.Event.Latency = positiveOrNil(durationMs / 3 * 2)
	event.Event.Description = description
	event.Actor.Detail = map[string]interface{}{"agent": "redis", "data": cachedData}
	event.Resource.Detail = map[string]interface{}{"name": "cache", "store": f.redisAddr}

	return event, nil
}

// RDBMSEvent builds an audit event for one relational database operation
func (f *Factory) RDBMSEvent(durationMs float64, affectedResources int, method, name, eventType, description string, parameters map[string]interface{}) (models.Event, error) {
	event, err := f.fromTemplate(TemplateRDBMS)
	if err != nil {
		return models.Event{}, err
	}

	event.Method = method
	event.Event.Name = name
	event.Event.Type = eventType
	event.Event.TotalDuration = positiveOrNil(durationMs)
	event.Event.AffectedResources = affectedResources
	event.Event.Latency = positiveOrNil(durationMs / 3 * 2)
	event.Event.Description = description
	event.Actor.Detail = map[string]interface{}{"agent": "gorm", "parameters": parameters}
	event.Resource.Detail = map[string]interface{}{"database": f.database, "table": "accounts"}

	return event, nil
}

// StartupEvent builds an audit event for one startup task
func (f *Factory) StartupEvent(durationMs float64, name, description string, detail map[string]interface{}) (models.Event, error) {
	event, err := f.fromTemplate(TemplateRDBMS)
	if err != nil {
		return models.Event{}, err
	}

	event.Method = "startup"
	event.Event.Name = name
	event.Event.Type = "initial configuration"
	event.Event.TotalDuration = positiveOrNil(durationMs)
	event.Event.AffectedResources = 1
	event.Event.Latency = positiveOrNil(durationMs / 3 * 2)
	event.Event.Description = description
	event.Event.Detail = detail
	event.Resource.Detail = map[string]interface{}{"database": f.database}

	return event, nil
}

// HeartbeatEvent builds the periodic worker liveness event
func (f *Factory) HeartbeatEvent(queueName string) (models.Event, error) {
	event, err := f.fromTemplate(TemplateCache)
	if err != nil {
		return models.Event{}, err
	}

	event.Category = "audit"
	event.Method = "heartbeat"
	event.Event.Name = "worker-heartbeat"
	event.Event.Type = "health"
	event.Event.Description = "Queue consumer liveness check"
	event.Actor.Detail = map[string]interface{}{"agent": "worker"}
	event.Resource.Name = queueName
	event.Resource.Type = "queue"
	event.Resource.Detail = nil

	return event, nil
}

func positiveOrNil(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func pathResourceID(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", "-")
}
