package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ValidationError describes a rejected audit event field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Message)
}

// Tag identifies the system that emitted an event. Both values become
// indexed tags on the stored point.
type Tag struct {
	Application string `json:"application"`
	Environment string `json:"environment"`
}

// EventDetail describes the action itself
type EventDetail struct {
	ID                string                 `json:"id,omitempty"`
	Name              string                 `json:"name"`
	Type              string                 `json:"type"`
	Stage             int                    `json:"stage,omitempty"`
	TotalDuration     *float64               `json:"total_duration,omitempty"`
	AffectedResources int                    `json:"affected_resources,omitempty"`
	Latency           *float64               `json:"latency,omitempty"`
	CPUUsage          *float64               `json:"cpu_usage,omitempty"`
	MemoryUsage       *float64               `json:"memory_usage,omitempty"`
	Detail            map[string]interface{} `json:"detail,omitempty"`
	Description       string                 `json:"description,omitempty"`
}

// Actor identifies who or what triggered an event
type Actor struct {
	Origin string                 `json:"origin"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Resource is the zero-or-one resource affected by an event
type Resource struct {
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Type   string                 `json:"type,omitempty"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// MetadataEntry is one named value attached to an event. Metric entries
// are written as their own point field; the rest are packed into a single
// JSON metadata field.
type MetadataEntry struct {
	IsMetric bool        `json:"is_metric"`
	Name     string      `json:"name"`
	Value    interface{} `json:"value"`
}

// Event is the canonical structured representation of one audit occurrence.
// It is immutable once handed to the dispatch queue.
type Event struct {
	Category          string          `json:"category"`
	SourceInformation Tag             `json:"source_information"`
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	Level             string          `json:"level"`
	Event             EventDetail     `json:"event"`
	Actor             Actor           `json:"actor"`
	Resource          Resource        `json:"resource"`
	Metadata          []MetadataEntry `json:"metadata,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// DecodeEvents parses a request body holding either a single event or an
// array of events. Unknown top-level or nested keys are rejected so silent
// typos never reach the queue.
func DecodeEvents(data []byte) ([]Event, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &ValidationError{Field: "body", Message: "empty request body"}
	}

	if trimmed[0] == '[' {
		var events []Event
		if err := strictDecode(data, &events); err != nil {
			return nil, &ValidationError{Field: "body", Message: err.Error()}
		}
		return events, nil
	}

	var event Event
	if err := strictDecode(data, &event); err != nil {
		return nil, &ValidationError{Field: "body", Message: err.Error()}
	}
	return []Event{event}, nil
}

func strictDecode(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Normalize applies ingestion defaults. The timestamp axis defaults to the
// moment of construction and stages start at 1.
func (e *Event) Normalize() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Event.Stage == 0 {
		e.Event.Stage = 1
	}
}

// Validate checks the event against its data contract. It returns a
// *ValidationError describing the first violation found.
func (e *Event) Validate() error {
	if e.Category == "" {
		return &ValidationError{Field: "category", Message: "must not be empty"}
	}
	if e.SourceInformation.Application == "" {
		return &ValidationError{Field: "source_information.application", Message: "must not be empty"}
	}
	if e.SourceInformation.Environment == "" {
		return &ValidationError{Field: "source_information.environment", Message: "must not be empty"}
	}
	if e.Event.Stage < 1 {
		return &ValidationError{Field: "event.stage", Message: "must be >= 1"}
	}
	if e.Event.AffectedResources < 0 {
		return &ValidationError{Field: "event.affected_resources", Message: "must be >= 0"}
	}
	if err := positive("event.total_duration", e.Event.TotalDuration); err != nil {
		return err
	}
	if err := positive("event.latency", e.Event.Latency); err != nil {
		return err
	}
	if err := percentage("event.cpu_usage", e.Event.CPUUsage); err != nil {
		return err
	}
	if err := percentage("event.memory_usage", e.Event.MemoryUsage); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(e.Metadata))
	for _, entry := range e.Metadata {
		if entry.Name == "" {
			return &ValidationError{Field: "metadata.name", Message: "must not be empty"}
		}
		if _, dup := seen[entry.Name]; dup {
			return &ValidationError{
				Field:   "metadata." + entry.Name,
				Message: "duplicate metadata name",
			}
		}
		seen[entry.Name] = struct{}{}

		if entry.IsMetric && !isScalar(entry.Value) {
			return &ValidationError{
				Field:   "metadata." + entry.Name,
				Message: "metric value must be a scalar",
			}
		}
	}

	return nil
}

func positive(field string, v *float64) error {
	if v != nil && *v <= 0 {
		return &ValidationError{Field: field, Message: "must be > 0"}
	}
	return nil
}

func percentage(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 100) {
		return &ValidationError{Field: field, Message: "must be between 0 and 100"}
	}
	return nil
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case bool, string, float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	case json.Number:
		return true
	default:
		return false
	}
}

// RetrievalParameters govern query-time filtering and range selection.
// Start and Stop accept either a relative duration token ("1d", "6h") or
// an absolute RFC 3339 instant.
type RetrievalParameters struct {
	App      string `form:"app" binding:"required"`
	Env      string `form:"env"`
	Category string `form:"category"`
	Method   string `form:"method"`
	Status   string `form:"status"`
	Origin   string `form:"origin"`
	Start    string `form:"start,default=1d"`
	Stop     string `form:"stop,default=now"`
}
