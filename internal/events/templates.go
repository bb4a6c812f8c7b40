// Package events builds the audit events the service emits about its own
// internal operations. Each builder starts from a stored template and
// fills in the fields the call site knows about.
package events

import (
	"embed"
	"fmt"

	"github.com/google/uuid"

	"example.com/backstage/services/audit/internal/models"
)

// Template names
const (
	TemplateHTTP  = "http-events"
	TemplateCache = "cache-events"
	TemplateRDBMS = "rdbms-events"
)

//go:embed templates/*.json
var templateFS embed.FS

// Template parses a stored event template into a fresh Event value. Every
// call returns an independent copy, so call sites can mutate freely before
// dispatch.
func Template(name string) (models.Event, error) {
	raw, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.json", name))
	if err != nil {
		return models.Event{}, fmt.Errorf("unknown event template %q: %w", name, err)
	}

	parsed, err := models.DecodeEvents(raw)
	if err != nil {
		return models.Event{}, fmt.Errorf("malformed event template %q: %w", name, err)
	}

	event := parsed[0]
	event.Event.ID = uuid.New().String()
	event.Normalize()
	return event, nil
}
