package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/config"
	"example.com/backstage/services/audit/internal/audit"
	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/messaging"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/repository"
)

// aggregationFns is the set of aggregation functions the metric endpoints
// accept. Anything else never reaches the query builder.
var aggregationFns = map[string]struct{}{
	"mean":   {},
	"median": {},
	"sum":    {},
	"count":  {},
	"min":    {},
	"max":    {},
	"first":  {},
	"last":   {},
}

// InternalLogger dispatches self-audit events describing the service's own
// operations.
type InternalLogger interface {
	LogInternal(ctx context.Context, events []models.Event) error
}

// AuditService owns the audit event pipeline: validation, dispatch to the
// queue, and the query/aggregation read path.
type AuditService struct {
	bus       messaging.ServiceBusClient
	store     influx.Store
	userRepo  repository.UserRepository
	influxCfg config.InfluxConfig
}

// NewAuditService creates a new audit service
func NewAuditService(
	bus messaging.ServiceBusClient,
	store influx.Store,
	userRepo repository.UserRepository,
	influxCfg config.InfluxConfig,
) *AuditService {
	return &AuditService{
		bus:       bus,
		store:     store,
		userRepo:  userRepo,
		influxCfg: influxCfg,
	}
}

// LogEvents validates a batch and hands it to the dispatch queue as one
// ordered unit of work. It returns once the broker accepts the message;
// durable persistence happens asynchronously in the worker.
func (s *AuditService) LogEvents(ctx context.Context, account *models.UserAccount, eventBatch []models.Event) error {
	if len(eventBatch) == 0 {
		return &models.ValidationError{Field: "body", Message: "no events supplied"}
	}

	for i := range eventBatch {
		eventBatch[i].Normalize()
		if eventBatch[i].Event.ID == "" {
			eventBatch[i].Event.ID = uuid.New().String()
		}
		if err := eventBatch[i].Validate(); err != nil {
			return err
		}
		if err := audit.ValidateMetadataNames(eventBatch[i].Metadata); err != nil {
			return err
		}
	}

	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return err
	}

	msg := messaging.AuditMessage{Destination: dest, Events: eventBatch}
	if err := s.bus.SendMessage(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to enqueue audit events")
	}

	log.Debug().Int("events", len(eventBatch)).Str("bucket", dest.Bucket).Msg("Audit events enqueued")
	return nil
}

// LogInternal dispatches self-audit events to the admin account's bucket
func (s *AuditService) LogInternal(ctx context.Context, eventBatch []models.Event) error {
	admin, err := s.userRepo.FindAdmin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to resolve admin account")
	}
	return s.LogEvents(ctx, admin, eventBatch)
}

// ListEvents returns one page of reduced event records, newest first
func (s *AuditService) ListEvents(ctx context.Context, account *models.UserAccount, params models.RetrievalParameters, page int) ([]audit.EventRecord, error) {
	if err := validateRange(params); err != nil {
		return nil, err
	}

	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRows(ctx, dest, audit.ListEventsQuery(dest.Bucket, params, page))
	if err != nil {
		return nil, err
	}
	return audit.ReduceEvents(rows), nil
}

// EventTrail returns the full time-ordered trail of records sharing one
// event id.
func (s *AuditService) EventTrail(ctx context.Context, account *models.UserAccount, eventID string) ([]audit.EventRecord, error) {
	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRows(ctx, dest, audit.EventTrailQuery(dest.Bucket, eventID))
	if err != nil {
		return nil, err
	}
	return audit.ReduceEvents(rows), nil
}

// ListMetrics returns the queryable metric names for the account's bucket
func (s *AuditService) ListMetrics(ctx context.Context, account *models.UserAccount) ([]string, error) {
	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRows(ctx, dest, audit.FieldKeysQuery(dest.Bucket))
	if err != nil {
		return nil, err
	}
	return audit.ReduceFieldKeys(rows), nil
}

// MetricSeries returns one windowed aggregation series for a metric
func (s *AuditService) MetricSeries(ctx context.Context, account *models.UserAccount, params models.RetrievalParameters, metric, interval, aggFn string) ([]audit.MetricPoint, error) {
	if err := validateAggregation(interval, aggFn); err != nil {
		return nil, err
	}
	if err := validateRange(params); err != nil {
		return nil, err
	}

	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRows(ctx, dest, audit.AggregateQuery(dest.Bucket, params, metric, interval, aggFn, ""))
	if err != nil {
		return nil, err
	}
	return audit.ReduceMetricPoints(rows, metric), nil
}

// GroupedMetricSeries returns windowed aggregation series bucketed by a
// group-by column.
func (s *AuditService) GroupedMetricSeries(ctx context.Context, account *models.UserAccount, params models.RetrievalParameters, metric, interval, aggFn, groupBy string) ([]audit.MetricSeries, error) {
	if err := validateAggregation(interval, aggFn); err != nil {
		return nil, err
	}
	if err := validateRange(params); err != nil {
		return nil, err
	}

	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRows(ctx, dest, audit.AggregateQuery(dest.Bucket, params, metric, interval, aggFn, groupBy))
	if err != nil {
		return nil, err
	}
	return audit.ReduceGroupedMetricPoints(rows, metric, groupBy), nil
}

// MetricCounts returns per-interval value-occurrence tallies for a metric
func (s *AuditService) MetricCounts(ctx context.Context, account *models.UserAccount, params models.RetrievalParameters, metric, interval string) ([]audit.MetricCount, error) {
	if err := validateAggregation(interval, "count"); err != nil {
		return nil, err
	}
	if err := validateRange(params); err != nil {
		return nil, err
	}

	dest, err := s.resolveDestination(ctx, account.Username)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRows(ctx, dest, audit.CountQuery(dest.Bucket, params, metric, interval))
	if err != nil {
		return nil, err
	}
	return audit.ReduceMetricCounts(rows, metric), nil
}

// resolveDestination binds a bucket to the store coordinates and the admin
// account's write token. The admin credential is looked up per call and not
// cached across requests.
func (s *AuditService) resolveDestination(ctx context.Context, bucket string) (influx.Destination, error) {
	admin, err := s.userRepo.FindAdmin(ctx)
	if err != nil {
		return influx.Destination{}, errors.Wrap(err, "failed to resolve admin account")
	}

	return influx.Destination{
		URL:          s.influxCfg.URL,
		Token:        admin.APIToken,
		Organization: s.influxCfg.Organization,
		Bucket:       bucket,
	}, nil
}

func validateAggregation(interval, aggFn string) error {
	if !audit.ValidInterval(interval) {
		return &models.ValidationError{Field: "interval", Message: "must be a duration token such as 1m or 30s"}
	}
	if _, ok := aggregationFns[aggFn]; !ok {
		return &models.ValidationError{Field: "agg", Message: "unsupported aggregation function"}
	}
	return nil
}

func validateRange(params models.RetrievalParameters) error {
	if !audit.ValidTimeBound(params.Start) {
		return &models.ValidationError{Field: "start", Message: "must be a duration token or an RFC 3339 timestamp"}
	}
	if !audit.ValidTimeBound(params.Stop) {
		return &models.ValidationError{Field: "stop", Message: "must be a duration token or an RFC 3339 timestamp"}
	}
	return nil
}
