package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/datalab/internal/domain"

	"golang.org/x/sync/errgroup"
)

// projection maps a source column onto the relation column it becomes.
type projection struct {
	source   string
	target   string
	checkbox bool
}

func (a *Assembler) applyDatasource(ctx context.Context, b *build, step domain.DatasourceStep) error {
	data, catalog, err := a.resolveSource(ctx, step.ID, b.path)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(step.Fields))
	for _, field := range step.Fields {
		labels = append(labels, step.Label(field))
	}
	b.lineage = append(b.lineage, labels)

	projections := includedFields(b.relation, step, catalog)

	keyColumn := step.Matching
	if b.stepIndex == 0 || keyColumn == "" {
		keyColumn = step.Label(step.Primary)
	}

	index := indexByKey(data.Records, step.Primary)
	if b.stepIndex == 0 && b.relation.Len() == 0 {
		seedRows(b, data.Records, step.Primary, keyColumn)
	}

	for _, p := range projections {
		if p.checkbox {
			b.addCheckboxColumn(p.target)
			continue
		}
		b.relation.AddColumn(p.target)
	}

	unmatched := 0
	for _, record := range b.relation.Records {
		var match domain.Record
		if key, ok := record.Get(keyColumn).Key(); ok {
			match = index[key]
		}
		if match == nil {
			unmatched++
		}
		for _, p := range projections {
			record[p.target] = match.Get(p.source)
		}
	}

	a.logger.DebugContext(ctx, "datasource step joined",
		"step", b.stepIndex,
		"source", step.ID,
		"key", keyColumn,
		"columns", len(projections),
		"unmatched_rows", unmatched,
	)
	return nil
}

// includedFields drops fields whose label already exists in the relation and
// expands checkbox-group fields into their sub-columns using the source's own catalog.
func includedFields(relation domain.Relation, step domain.DatasourceStep, catalog domain.SourceCatalog) []projection {
	var projections []projection
	for _, field := range step.Fields {
		label := step.Label(field)
		if relation.HasColumn(label) {
			continue
		}
		if step.Type(field) != domain.FieldTypeCheckboxGroup {
			projections = append(projections, projection{source: field, target: label})
			continue
		}
		for _, option := range catalog.CheckboxGroups[field] {
			target := domain.CheckboxColumn(label, option)
			if relation.HasColumn(target) {
				continue
			}
			projections = append(projections, projection{
				source:   domain.CheckboxColumn(field, option),
				target:   target,
				checkbox: true,
			})
		}
	}
	return projections
}

// indexByKey indexes records by the stringified key column. Null keys are
// skipped and the first record wins when keys repeat.
func indexByKey(records []domain.Record, column string) map[string]domain.Record {
	index := make(map[string]domain.Record, len(records))
	for _, record := range records {
		key, ok := record.Get(column).Key()
		if !ok {
			continue
		}
		if _, exists := index[key]; exists {
			continue
		}
		index[key] = record
	}
	return index
}

// seedRows gives an empty relation one row per distinct source key.
func seedRows(b *build, records []domain.Record, primary, keyColumn string) {
	b.relation.AddColumn(keyColumn)
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		value := record.Get(primary)
		key, ok := value.Key()
		if !ok {
			continue
		}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		b.relation.Records = append(b.relation.Records, domain.Record{keyColumn: value})
	}
}

func (a *Assembler) applyForm(ctx context.Context, b *build, id string) error {
	form, err := a.provider.ResolveForm(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.UnresolvedReferenceError{Kind: domain.ReferenceForm, ID: id}
		}
		return fmt.Errorf("resolve form %s: %w", id, err)
	}
	b.lineage = append(b.lineage, form.FieldNames())

	var projections []projection
	for _, field := range form.Fields {
		if field.Type == domain.FieldTypeCheckboxGroup {
			for _, option := range field.Columns {
				column := domain.CheckboxColumn(field.Name, option)
				if b.relation.HasColumn(column) {
					continue
				}
				projections = append(projections, projection{source: column, target: column, checkbox: true})
			}
			continue
		}
		if field.Name == form.Primary || b.relation.HasColumn(field.Name) {
			continue
		}
		projections = append(projections, projection{source: field.Name, target: field.Name})
	}

	// Checkbox-group sub-columns exist even before any data is entered.
	for _, p := range projections {
		if p.checkbox {
			b.addCheckboxColumn(p.target)
		}
	}

	index := indexByKey(form.Data, form.Primary)
	if len(index) == 0 {
		a.logger.DebugContext(ctx, "form step has no data", "step", b.stepIndex, "form", id)
		return nil
	}

	for _, p := range projections {
		if !p.checkbox {
			b.relation.AddColumn(p.target)
		}
	}
	for _, record := range b.relation.Records {
		var match domain.Record
		if key, ok := record.Get(form.Primary).Key(); ok {
			match = index[key]
		}
		for _, p := range projections {
			record[p.target] = match.Get(p.source)
		}
	}
	return nil
}

func (a *Assembler) applyComputed(ctx context.Context, b *build, step domain.ComputedStep) error {
	names := make([]string, 0, len(step.Fields))
	for _, field := range step.Fields {
		names = append(names, field.Name)
	}
	b.lineage = append(b.lineage, names)
	lineage := b.lineage.Clone()

	rows := b.relation.Records
	computed := make(map[string][]domain.Value, len(step.Fields))
	for _, field := range step.Fields {
		if b.relation.HasColumn(field.Name) {
			a.logger.WarnContext(ctx, "computed field shadows an existing column, skipping",
				"step", b.stepIndex, "field", field.Name)
			continue
		}
		values, err := a.evaluateField(ctx, b, field, rows, lineage)
		if err != nil {
			return err
		}
		computed[field.Name] = values
	}

	// Every field of the step sees the relation as it was before the step.
	for _, field := range step.Fields {
		values, ok := computed[field.Name]
		if !ok {
			continue
		}
		b.relation.AddColumn(field.Name)
		for i, record := range rows {
			record[field.Name] = values[i]
		}
	}
	return nil
}

// evaluateField evaluates field once per row. Results and failures are
// stored by row index so the outcome does not depend on scheduling.
func (a *Assembler) evaluateField(ctx context.Context, b *build, field domain.ComputedField, rows []domain.Record, lineage domain.Lineage) ([]domain.Value, error) {
	values := make([]domain.Value, len(rows))
	failures := make([]error, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			value, err := a.evaluator.Evaluate(gctx, field.Formula, row, lineage, map[string]any{})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			values[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", field.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", field.Name, err)
	}

	for i, err := range failures {
		if err == nil {
			continue
		}
		failure := domain.FormulaEvaluationError{Field: field.Name, Row: i, Err: err}
		if a.policy == FailureAbort {
			return nil, &failure
		}
		a.logger.WarnContext(ctx, "formula evaluation failed",
			"step", b.stepIndex, "field", field.Name, "row", i, "error", err)
		b.failures = append(b.failures, failure)
		values[i] = domain.Null()
	}
	return values, nil
}
