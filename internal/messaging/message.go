package messaging

import (
	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/models"
)

// AuditMessage is the typed unit of work crossing the queue: a destination
// descriptor plus the structured event batch. The payload carries events,
// not points, so the consumer re-derives points through the codec.
type AuditMessage struct {
	Destination influx.Destination `json:"destination"`
	Events      []models.Event     `json:"events"`
}
