package audit

import (
	"encoding/json"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"example.com/backstage/services/audit/internal/models"
)

// Encode flattens a batch of events into time-series points, one point per
// event, preserving batch order. Encoding the same batch twice yields
// identical points; the codec never generates ids or timestamps itself.
func Encode(events []models.Event) ([]*write.Point, error) {
	points := make([]*write.Point, 0, len(events))
	for i := range events {
		point, err := encodeOne(&events[i])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode event %d", i)
		}
		points = append(points, point)
	}
	return points, nil
}

func encodeOne(ev *models.Event) (*write.Point, error) {
	point := write.NewPointWithMeasurement(ev.Category).
		AddTag(TagApplication, ev.SourceInformation.Application).
		AddTag(TagEnvironment, ev.SourceInformation.Environment).
		AddField(FieldMethod, ev.Method).
		AddField(FieldStatus, ev.Status).
		AddField(FieldLevel, ev.Level).
		AddField(FieldEventID, ev.Event.ID).
		AddField(FieldEventName, ev.Event.Name).
		AddField(FieldEventType, ev.Event.Type).
		AddField(FieldEventStage, int64(ev.Event.Stage)).
		AddField(FieldAffectedResources, int64(ev.Event.AffectedResources)).
		AddField(FieldEventDescription, ev.Event.Description).
		AddField(FieldActorOrigin, ev.Actor.Origin)

	addOptional(point, FieldEventDuration, ev.Event.TotalDuration)
	addOptional(point, FieldLatency, ev.Event.Latency)
	addOptional(point, FieldCPUUsage, ev.Event.CPUUsage)
	addOptional(point, FieldMemoryUsage, ev.Event.MemoryUsage)

	if err := addDetail(point, FieldEventDetail, ev.Event.Detail); err != nil {
		return nil, err
	}
	if err := addDetail(point, FieldActorDetail, ev.Actor.Detail); err != nil {
		return nil, err
	}

	if ev.Resource.ID != "" {
		point.AddField(FieldResourceID, ev.Resource.ID)
	}
	if ev.Resource.Name != "" {
		point.AddField(FieldResourceName, ev.Resource.Name)
	}
	if ev.Resource.Type != "" {
		point.AddField(FieldResourceType, ev.Resource.Type)
	}
	if err := addDetail(point, FieldResourceDetail, ev.Resource.Detail); err != nil {
		return nil, err
	}

	// Metric entries become individually queryable columns; the rest are
	// packed into one JSON metadata field.
	metadata := make(map[string]interface{})
	for _, entry := range ev.Metadata {
		if entry.IsMetric {
			point.AddField(entry.Name, entry.Value)
		} else {
			metadata[entry.Name] = entry.Value
		}
	}
	if len(metadata) > 0 {
		packed, err := json.Marshal(metadata)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal metadata")
		}
		point.AddField(FieldMetadata, string(packed))
	}

	point.SetTime(ev.Timestamp)
	return point, nil
}

func addOptional(point *write.Point, field string, value *float64) {
	if value != nil {
		point.AddField(field, *value)
	}
}

func addDetail(point *write.Point, field string, detail map[string]interface{}) error {
	if len(detail) == 0 {
		return nil
	}
	packed, err := json.Marshal(detail)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", field)
	}
	point.AddField(field, string(packed))
	return nil
}
