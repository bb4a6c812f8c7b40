// Package audit implements the event pipeline core: the codec between
// structured events and flattened time-series points, the Flux query
// builder, and the reducers that reassemble query results.
package audit

import (
	_ "embed"
	"encoding/json"
	"sync"

	"example.com/backstage/services/audit/internal/models"
)

// Tag keys on every stored point
const (
	TagApplication = "application"
	TagEnvironment = "environment"
)

// Fixed field names of the flattened point representation
const (
	FieldMethod            = "method"
	FieldStatus            = "status"
	FieldLevel             = "level"
	FieldEventID           = "event_id"
	FieldEventName         = "event_name"
	FieldEventType         = "event_type"
	FieldEventStage        = "event_stage"
	FieldEventDuration     = "event_duration"
	FieldAffectedResources = "affected_resources"
	FieldLatency           = "latency"
	FieldCPUUsage          = "cpu_usage"
	FieldMemoryUsage       = "memory_usage"
	FieldEventDescription  = "event_description"
	FieldActorOrigin       = "actor_origin"
	FieldActorDetail       = "actor_detail"
	FieldEventDetail       = "event_detail"
	FieldResourceID        = "resource_id"
	FieldResourceName      = "resource_name"
	FieldResourceType      = "resource_type"
	FieldResourceDetail    = "resource_detail"
	FieldMetadata          = "metadata"
)

// DerivedMetrics are always reported as queryable even when no event has
// ever set them.
var DerivedMetrics = []string{
	FieldLatency,
	FieldCPUUsage,
	FieldMemoryUsage,
	FieldAffectedResources,
}

//go:embed invariant-fields.json
var invariantFieldsRaw []byte

var (
	invariantOnce sync.Once
	invariantSet  map[string]struct{}
)

// InvariantFields returns the canonical column names present on every
// point. The set separates known structural columns from dynamically named
// metric and metadata columns on read. Loaded once per process.
func InvariantFields() map[string]struct{} {
	invariantOnce.Do(func() {
		var doc struct {
			InvariantFields []string `json:"invariant_fields"`
		}
		if err := json.Unmarshal(invariantFieldsRaw, &doc); err != nil {
			// The asset is compiled in; a parse failure is a build defect.
			panic(err)
		}
		invariantSet = make(map[string]struct{}, len(doc.InvariantFields))
		for _, name := range doc.InvariantFields {
			invariantSet[name] = struct{}{}
		}
	})
	return invariantSet
}

// IsInvariantField reports whether name is a canonical structural column
func IsInvariantField(name string) bool {
	_, ok := InvariantFields()[name]
	return ok
}

// ValidateMetadataNames rejects metric entries named like a canonical
// column. Such an entry would write a second value under the fixed field
// name on encode.
func ValidateMetadataNames(entries []models.MetadataEntry) error {
	for _, entry := range entries {
		if entry.IsMetric && IsInvariantField(entry.Name) {
			return &models.ValidationError{
				Field:   "metadata." + entry.Name,
				Message: "metric name collides with a canonical column",
			}
		}
	}
	return nil
}
