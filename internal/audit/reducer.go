package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Row is one flat record returned by the store, keyed by column name
type Row map[string]interface{}

// EventRecord is the structured read-path shape reassembled from one
// flattened row.
type EventRecord struct {
	Category string                 `json:"category"`
	Tags     EventTags              `json:"tags"`
	Method   string                 `json:"method"`
	Status   string                 `json:"status"`
	Level    string                 `json:"level"`
	Event    EventRecordDetail      `json:"event"`
	Actor    EventRecordActor       `json:"actor"`
	Resource *EventRecordResource   `json:"resource,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
	Time     time.Time              `json:"time"`
}

// EventTags mirrors the point's indexed tag set
type EventTags struct {
	Application string `json:"application"`
	Environment string `json:"environment"`
}

// EventRecordDetail is the reconstructed event sub-object. Detail holds the
// re-parsed map, or the raw string when the stored JSON is malformed.
type EventRecordDetail struct {
	ID                string      `json:"id,omitempty"`
	Name              string      `json:"name,omitempty"`
	Type              string      `json:"type,omitempty"`
	Stage             *int64      `json:"stage,omitempty"`
	TotalDuration     *float64    `json:"total_duration,omitempty"`
	AffectedResources *int64      `json:"affected_resources,omitempty"`
	Latency           *float64    `json:"latency,omitempty"`
	CPUUsage          *float64    `json:"cpu_usage,omitempty"`
	MemoryUsage       *float64    `json:"memory_usage,omitempty"`
	Detail            interface{} `json:"detail,omitempty"`
	Description       string      `json:"description,omitempty"`
}

// EventRecordActor is the reconstructed actor sub-object
type EventRecordActor struct {
	Origin string      `json:"origin,omitempty"`
	Detail interface{} `json:"detail,omitempty"`
}

// EventRecordResource is the reconstructed resource sub-object
type EventRecordResource struct {
	ID     string      `json:"id,omitempty"`
	Name   string      `json:"name,omitempty"`
	Type   string      `json:"type,omitempty"`
	Detail interface{} `json:"detail,omitempty"`
}

// MetricPoint is one windowed aggregation value
type MetricPoint struct {
	Range string      `json:"range"`
	Value interface{} `json:"value"`
}

// MetricSeries buckets metric points under one group key
type MetricSeries struct {
	GroupKey string        `json:"group_key"`
	Data     []MetricPoint `json:"data"`
}

// MetricCount tallies value occurrences within one window
type MetricCount struct {
	Range string         `json:"range"`
	Data  map[string]int `json:"data"`
}

// ReduceEvents reassembles structured event records from flattened rows.
// Columns outside the invariant field set are folded into the metadata map
// so ad-hoc metric columns written by other categories still surface.
func ReduceEvents(rows []Row) []EventRecord {
	records := make([]EventRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, reduceEvent(row))
	}
	return records
}

func reduceEvent(row Row) EventRecord {
	record := EventRecord{
		Category: rowString(row, "_measurement"),
		Tags: EventTags{
			Application: rowString(row, TagApplication),
			Environment: rowString(row, TagEnvironment),
		},
		Method: rowString(row, FieldMethod),
		Status: rowString(row, FieldStatus),
		Level:  rowString(row, FieldLevel),
		Event: EventRecordDetail{
			ID:                rowString(row, FieldEventID),
			Name:              rowString(row, FieldEventName),
			Type:              rowString(row, FieldEventType),
			Stage:             rowInt(row, FieldEventStage),
			TotalDuration:     rowFloat(row, FieldEventDuration),
			AffectedResources: rowInt(row, FieldAffectedResources),
			Latency:           rowFloat(row, FieldLatency),
			CPUUsage:          rowFloat(row, FieldCPUUsage),
			MemoryUsage:       rowFloat(row, FieldMemoryUsage),
			Description:       rowString(row, FieldEventDescription),
		},
		Actor: EventRecordActor{
			Origin: rowString(row, FieldActorOrigin),
		},
		Time: rowTime(row, "_time"),
	}

	if packed := rowString(row, FieldEventDetail); packed != "" {
		record.Event.Detail = unpackJSON(packed)
	}
	if packed := rowString(row, FieldActorDetail); packed != "" {
		record.Actor.Detail = unpackJSON(packed)
	}

	resource := EventRecordResource{
		ID:   rowString(row, FieldResourceID),
		Name: rowString(row, FieldResourceName),
		Type: rowString(row, FieldResourceType),
	}
	if packed := rowString(row, FieldResourceDetail); packed != "" {
		resource.Detail = unpackJSON(packed)
	}
	if resource.ID != "" || resource.Name != "" || resource.Type != "" || resource.Detail != nil {
		record.Resource = &resource
	}

	metadata := make(map[string]interface{})
	if packed := rowString(row, FieldMetadata); packed != "" {
		if unpacked, ok := unpackJSON(packed).(map[string]interface{}); ok {
			for key, value := range unpacked {
				// Stored values may themselves be serialized JSON
				if nested, isString := value.(string); isString {
					metadata[key] = unpackJSON(nested)
				} else {
					metadata[key] = value
				}
			}
		} else {
			metadata[FieldMetadata] = packed
		}
	}
	for key, value := range row {
		if IsInvariantField(key) {
			continue
		}
		if value == nil {
			continue
		}
		metadata[key] = value
	}
	record.Metadata = metadata

	return record
}

// ReduceMetricPoints turns windowed aggregation rows into one metric series
func ReduceMetricPoints(rows []Row, metric string) []MetricPoint {
	points := make([]MetricPoint, 0, len(rows))
	for _, row := range rows {
		value, ok := row[metric]
		if !ok || value == nil {
			continue
		}
		points = append(points, MetricPoint{
			Range: windowRange(row),
			Value: value,
		})
	}
	return points
}

// ReduceGroupedMetricPoints buckets metric points by their group-by column
// value, preserving first-seen group order.
func ReduceGroupedMetricPoints(rows []Row, metric, groupBy string) []MetricSeries {
	var order []string
	grouped := make(map[string][]MetricPoint)
	for _, row := range rows {
		value, ok := row[metric]
		if !ok || value == nil {
			continue
		}
		key := rowString(row, groupBy)
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], MetricPoint{
			Range: windowRange(row),
			Value: value,
		})
	}

	series := make([]MetricSeries, 0, len(order))
	for _, key := range order {
		series = append(series, MetricSeries{GroupKey: key, Data: grouped[key]})
	}
	return series
}

// ReduceMetricCounts tallies value occurrences keyed by window range,
// preserving first-seen window order.
func ReduceMetricCounts(rows []Row, metric string) []MetricCount {
	var order []string
	tallies := make(map[string]map[string]int)
	for _, row := range rows {
		value, ok := row[metric]
		if !ok || value == nil {
			continue
		}
		window := windowRange(row)
		if _, seen := tallies[window]; !seen {
			order = append(order, window)
			tallies[window] = make(map[string]int)
		}
		tallies[window][fmt.Sprintf("%v", value)]++
	}

	counts := make([]MetricCount, 0, len(order))
	for _, window := range order {
		counts = append(counts, MetricCount{Range: window, Data: tallies[window]})
	}
	return counts
}

// ReduceFieldKeys extracts the distinct queryable metric names from a
// field-key listing: every field outside the invariant set, plus the fixed
// derived metric names.
func ReduceFieldKeys(rows []Row) []string {
	seen := make(map[string]struct{})
	var metrics []string
	for _, row := range rows {
		name := rowString(row, "_value")
		if name == "" {
			name = rowString(row, "_field")
		}
		if name == "" || IsInvariantField(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)

	for _, derived := range DerivedMetrics {
		if _, dup := seen[derived]; !dup {
			metrics = append(metrics, derived)
		}
	}
	return metrics
}

// unpackJSON re-parses a JSON-packed field. A malformed payload is kept as
// the raw string instead of failing the batch.
func unpackJSON(packed string) interface{} {
	var value interface{}
	if err := json.Unmarshal([]byte(packed), &value); err != nil {
		return packed
	}
	return value
}

func windowRange(row Row) string {
	start := rowTime(row, "_start")
	stop := rowTime(row, "_stop")
	return fmt.Sprintf("%s - %s", start.Format(time.RFC3339), stop.Format(time.RFC3339))
}

func rowString(row Row, key string) string {
	if value, ok := row[key].(string); ok {
		return value
	}
	return ""
}

func rowFloat(row Row, key string) *float64 {
	switch value := row[key].(type) {
	case float64:
		return &value
	case float32:
		f := float64(value)
		return &f
	case int64:
		f := float64(value)
		return &f
	case int:
		f := float64(value)
		return &f
	default:
		return nil
	}
}

func rowInt(row Row, key string) *int64 {
	switch value := row[key].(type) {
	case int64:
		return &value
	case int:
		i := int64(value)
		return &i
	case float64:
		i := int64(value)
		return &i
	default:
		return nil
	}
}

func rowTime(row Row, key string) time.Time {
	switch value := row[key].(type) {
	case time.Time:
		return value
	case string:
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
