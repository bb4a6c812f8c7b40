package audit

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"example.com/backstage/services/audit/internal/models"
)

// PageSize is the fixed page size of paginated event listings
const PageSize = 50

var durationToken = regexp.MustCompile(`^\d+(ms|s|m|h|d|w|mo|y)$`)

// ValidInterval reports whether a window interval is a bare duration token
func ValidInterval(interval string) bool {
	return durationToken.MatchString(interval)
}

// ValidTimeBound reports whether a range bound is empty, "now", a duration
// token, or an absolute RFC 3339 instant. Bounds take any other shape only
// through a caller bypassing validation, and rangeBound never renders them.
func ValidTimeBound(value string) bool {
	if value == "" || value == "now" || durationToken.MatchString(value) {
		return true
	}
	_, err := time.Parse(time.RFC3339, value)
	return err == nil
}

// QueryBuilder assembles a Flux query as an ordered list of pipeline
// clauses. The same inputs always render to the same query string.
type QueryBuilder struct {
	clauses []string
}

// NewQueryBuilder starts a query against a single bucket
func NewQueryBuilder(bucket string) *QueryBuilder {
	b := &QueryBuilder{}
	return b.add(fmt.Sprintf(`from(bucket: %s)`, fluxString(bucket)))
}

func (b *QueryBuilder) add(clause string) *QueryBuilder {
	b.clauses = append(b.clauses, clause)
	return b
}

// Range restricts the query to [start, stop). Either bound may be a
// relative duration token, an absolute RFC 3339 instant, or "now".
func (b *QueryBuilder) Range(start, stop string) *QueryBuilder {
	return b.add(fmt.Sprintf(`range(start: %s, stop: %s)`, rangeBound(start, true), rangeBound(stop, false)))
}

// FullRange spans the whole bucket history
func (b *QueryBuilder) FullRange() *QueryBuilder {
	return b.add(`range(start: 0)`)
}

// Measurement narrows the query to one event category
func (b *QueryBuilder) Measurement(category string) *QueryBuilder {
	return b.add(fmt.Sprintf(`filter(fn: (r) => r._measurement == %s)`, fluxString(category)))
}

// Tag filters on an indexed tag value
func (b *QueryBuilder) Tag(name, value string) *QueryBuilder {
	return b.add(fmt.Sprintf(`filter(fn: (r) => r.%s == %s)`, name, fluxString(value)))
}

// Pivot reshapes rows from one-row-per-field to one-row-per-timestamp with
// fields as columns. Required before any filter can reference field values.
func (b *QueryBuilder) Pivot() *QueryBuilder {
	return b.add(`pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`)
}

// Field filters on a post-pivot field column value
func (b *QueryBuilder) Field(name, value string) *QueryBuilder {
	return b.add(fmt.Sprintf(`filter(fn: (r) => r.%s == %s)`, name, fluxString(value)))
}

// SortByTimeDesc orders records newest first
func (b *QueryBuilder) SortByTimeDesc() *QueryBuilder {
	return b.add(`sort(columns: ["_time"], desc: true)`)
}

// Page windows the result to one fixed-size page (1-based)
func (b *QueryBuilder) Page(page int) *QueryBuilder {
	if page < 1 {
		page = 1
	}
	return b.add(fmt.Sprintf(`limit(n: %d, offset: %d)`, PageSize, (page-1)*PageSize))
}

// Group regroups records by one column
func (b *QueryBuilder) Group(column string) *QueryBuilder {
	return b.add(fmt.Sprintf(`group(columns: [%s])`, fluxString(column)))
}

// Window splits records into fixed intervals
func (b *QueryBuilder) Window(interval string) *QueryBuilder {
	return b.add(fmt.Sprintf(`window(every: %s)`, interval))
}

// Aggregate applies one aggregation function to one column
func (b *QueryBuilder) Aggregate(fn, column string) *QueryBuilder {
	return b.add(fmt.Sprintf(`%s(column: %s)`, fn, fluxString(column)))
}

// FieldKeys projects the distinct field names present in the stream
func (b *QueryBuilder) FieldKeys() *QueryBuilder {
	b.add(`keys()`)
	b.add(`keep(columns: ["_field"])`)
	return b.add(`distinct(column: "_field")`)
}

// Build renders the ordered clauses into the final query string
func (b *QueryBuilder) Build() string {
	return strings.Join(b.clauses, "\n  |> ")
}

// rangeBound serializes one range bound: a relative token becomes a
// negative offset from now, an absolute instant is re-serialized through
// time.Parse so only a well-formed timestamp ever reaches the query text.
// A bound that is neither falls back to the default window.
func rangeBound(value string, isStart bool) string {
	switch {
	case value == "" && isStart:
		return "-1d"
	case value == "" || value == "now":
		return "now()"
	case durationToken.MatchString(value):
		return "-" + value
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Format(time.RFC3339Nano)
	}
	if isStart {
		return "-1d"
	}
	return "now()"
}

func fluxString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// baseQuery applies the shared filtering discipline: time range, optional
// category, mandatory app tag, optional env tag, pivot, then the post-pivot
// field predicates.
func baseQuery(bucket string, params models.RetrievalParameters) *QueryBuilder {
	b := NewQueryBuilder(bucket).Range(params.Start, params.Stop)
	if params.Category != "" {
		b.Measurement(params.Category)
	}
	b.Tag(TagApplication, params.App)
	if params.Env != "" {
		b.Tag(TagEnvironment, params.Env)
	}
	b.Pivot()
	if params.Method != "" {
		b.Field(FieldMethod, params.Method)
	}
	if params.Status != "" {
		b.Field(FieldStatus, params.Status)
	}
	if params.Origin != "" {
		b.Field(FieldActorOrigin, params.Origin)
	}
	return b
}

// ListEventsQuery builds the paginated event listing query
func ListEventsQuery(bucket string, params models.RetrievalParameters, page int) string {
	return baseQuery(bucket, params).
		SortByTimeDesc().
		Page(page).
		Build()
}

// EventTrailQuery builds the full time-ordered trail of records sharing
// one event id, across the whole bucket history.
func EventTrailQuery(bucket, eventID string) string {
	return NewQueryBuilder(bucket).
		FullRange().
		Pivot().
		Field(FieldEventID, eventID).
		SortByTimeDesc().
		Build()
}

// FieldKeysQuery builds the metric-name listing query
func FieldKeysQuery(bucket string) string {
	return NewQueryBuilder(bucket).
		FullRange().
		FieldKeys().
		Build()
}

// AggregateQuery builds a windowed aggregation of one metric column,
// optionally grouped by another column first.
func AggregateQuery(bucket string, params models.RetrievalParameters, metric, interval, fn, groupBy string) string {
	b := baseQuery(bucket, params)
	if groupBy != "" {
		b.Group(groupBy)
	}
	return b.
		Window(interval).
		Aggregate(fn, metric).
		Build()
}

// CountQuery builds a per-interval value-occurrence query for one column.
// Grouping by the column itself gives one table per distinct value; the
// reducer tallies the records.
func CountQuery(bucket string, params models.RetrievalParameters, metric, interval string) string {
	return baseQuery(bucket, params).
		Group(metric).
		Window(interval).
		Build()
}
