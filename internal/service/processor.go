package service

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/internal/audit"
	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/messaging"
)

// Processor is the queue consumer side of the dispatch pipeline. It turns
// one received message into one batched store write. Writes are retry-safe:
// a redelivered batch re-encodes to identical points, so duplicates
// overwrite rather than corrupt.
type Processor struct {
	store influx.Store
}

// NewProcessor creates a new message processor
func NewProcessor(store influx.Store) *Processor {
	return &Processor{store: store}
}

// ProcessMessage decodes one audit message and persists its events. A
// returned error abandons the message so the broker redelivers it.
func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg messaging.AuditMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return errors.Wrap(err, "failed to unmarshal audit message")
	}

	if len(msg.Events) == 0 {
		log.Warn().Str("message_id", message.MessageID).Msg("Discarding empty audit message")
		return nil
	}

	for i := range msg.Events {
		msg.Events[i].Normalize()
	}

	points, err := audit.Encode(msg.Events)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit events")
	}

	if err := p.store.WriteBatch(ctx, msg.Destination, points); err != nil {
		return errors.Wrap(err, "failed to persist audit events")
	}

	log.Info().
		Int("events", len(msg.Events)).
		Str("bucket", msg.Destination.Bucket).
		Msg("Audit events persisted")
	return nil
}
