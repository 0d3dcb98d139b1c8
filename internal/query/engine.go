// Package query answers interactive table queries (group, filter, search,
// sort and paginate) against an assembled relation.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/datalab/internal/domain"
)

// Input is what a query runs against.
type Input struct {
	Relation domain.Relation
	Catalog  []domain.Column
	// GroupBy names the relation column used for group restriction, if any.
	GroupBy string
}

// Engine evaluates QuerySpecs. It holds no per-query state.
type Engine struct {
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs a filter/sort/paginate engine.
func NewEngine(opts ...Option) *Engine {
	engine := &Engine{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Query runs spec against in. Stages run in a fixed order: group, column
// filters, search, sort, pagination.
func (e *Engine) Query(ctx context.Context, in Input, spec domain.QuerySpec) (domain.QueryResult, error) {
	started := time.Now()
	if err := spec.Validate(); err != nil {
		return domain.QueryResult{}, err
	}

	result := domain.QueryResult{
		DataNum: in.Relation.Len(),
		Filters: GetFilters(in.Relation, in.Catalog),
	}
	group, grouped := groupColumn(in)
	if grouped {
		result.Groups = ColumnFilter(in.Relation, group)
	}

	records := make([]domain.Record, len(in.Relation.Records))
	copy(records, in.Relation.Records)
	if spec.IsZero() {
		result.FilteredData = records
		result.PaginationTotal = len(records)
		return result, nil
	}

	if spec.Group != nil && grouped {
		records = keep(records, groupPredicate(group, *spec.Group))
	}
	if err := stageErr(ctx, "group"); err != nil {
		return domain.QueryResult{}, err
	}

	for _, column := range in.Catalog {
		if filter := columnPredicate(column, spec); filter != nil {
			records = keep(records, filter)
		}
	}
	if err := stageErr(ctx, "filter"); err != nil {
		return domain.QueryResult{}, err
	}

	if spec.Search != "" {
		records = keep(records, searchPredicate(in.Relation.Columns, spec.Search))
	}
	if err := stageErr(ctx, "search"); err != nil {
		return domain.QueryResult{}, err
	}

	if spec.Sorter.Active() {
		sortRecords(records, in, *spec.Sorter.Field, spec.Sorter.Order)
	}
	if err := stageErr(ctx, "sort"); err != nil {
		return domain.QueryResult{}, err
	}

	result.PaginationTotal = len(records)
	result.FilteredData = paginate(records, spec.Pagination)

	e.logger.DebugContext(ctx, "query evaluated",
		"rows", result.DataNum,
		"matched", result.PaginationTotal,
		"returned", len(result.FilteredData),
		"duration", time.Since(started),
	)
	return result, nil
}

func stageErr(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("query %s stage: %w", stage, err)
	}
	return nil
}

// groupColumn finds the catalog entry of the configured group column. A group
// column outside the catalog is treated as text.
func groupColumn(in Input) (domain.Column, bool) {
	if in.GroupBy == "" {
		return domain.Column{}, false
	}
	if column, ok := domain.FindColumn(in.Catalog, in.GroupBy); ok {
		return column, true
	}
	return domain.Column{Field: in.GroupBy, Label: in.GroupBy, Type: domain.FieldTypeText}, true
}

func keep(records []domain.Record, match predicate) []domain.Record {
	kept := records[:0:0]
	for _, record := range records {
		if match(record) {
			kept = append(kept, record)
		}
	}
	return kept
}

func searchPredicate(columns []string, search string) predicate {
	needle := strings.ToLower(search)
	return func(record domain.Record) bool {
		parts := make([]string, 0, len(columns))
		for _, column := range columns {
			parts = append(parts, record.Get(column).Text())
		}
		return strings.Contains(strings.ToLower(strings.Join(parts, " ")), needle)
	}
}

// sortKey is a comparable key. Numbers sort before text so that mixed keys
// never compare inconsistently.
type sortKey struct {
	numeric bool
	num     float64
	text    string
}

func (k sortKey) less(other sortKey) bool {
	if k.numeric != other.numeric {
		return k.numeric
	}
	if k.numeric {
		return k.num < other.num
	}
	return k.text < other.text
}

func keyFor(column domain.Column, relation domain.Relation, record domain.Record) sortKey {
	value := record.Get(column.Label)
	switch column.Type {
	case domain.FieldTypeCheckboxGroup:
		count := 0
		for _, sub := range subColumns(relation, column) {
			if record.Get(sub).Truthy() {
				count++
			}
		}
		return sortKey{numeric: true, num: float64(count)}
	case domain.FieldTypeDate:
		key, _ := value.DateKey()
		return sortKey{text: key}
	case domain.FieldTypeNumber:
		if f, ok := value.Float(); ok {
			return sortKey{numeric: true, num: f}
		}
		return sortKey{numeric: true, num: math.Inf(-1)}
	default:
		return sortKey{text: value.Text()}
	}
}

// sortRecords sorts in place and stably. Any order other than descend ascends.
func sortRecords(records []domain.Record, in Input, field string, order domain.SortOrder) {
	column, ok := domain.FindColumn(in.Catalog, field)
	if !ok {
		column = domain.Column{Field: field, Label: field, Type: domain.FieldTypeText}
	}
	keys := make([]sortKey, len(records))
	indexed := make([]int, len(records))
	for i, record := range records {
		indexed[i] = i
		keys[i] = keyFor(column, in.Relation, record)
	}
	descending := order == domain.SortDescend
	sort.SliceStable(indexed, func(a, b int) bool {
		left, right := keys[indexed[a]], keys[indexed[b]]
		if descending {
			return right.less(left)
		}
		return left.less(right)
	})
	sorted := make([]domain.Record, len(records))
	for i, index := range indexed {
		sorted[i] = records[index]
	}
	copy(records, sorted)
}

// paginate returns the clamped page. Page numbers are 1-based.
func paginate(records []domain.Record, pagination domain.Pagination) []domain.Record {
	size := pagination.PageSize
	pages := (len(records) + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	page := pagination.Current
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * size
	end := start + size
	if start > len(records) {
		start = len(records)
	}
	if end > len(records) {
		end = len(records)
	}
	slice := make([]domain.Record, end-start)
	copy(slice, records[start:end])
	return slice
}
