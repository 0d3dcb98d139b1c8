// Package assembler walks a datalab's pipeline steps and joins their
// sources, forms and computed fields into one relation.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/datalab/internal/domain"
)

// SourceProvider resolves the sources and forms that steps reference.
// Implementations report unknown ids by wrapping domain.ErrNotFound.
type SourceProvider interface {
	ResolveSource(ctx context.Context, id string) (domain.Source, error)
	ResolveForm(ctx context.Context, id string) (domain.Form, error)
}

// Evaluator computes one computed field for one row.
type Evaluator interface {
	Evaluate(ctx context.Context, formula domain.Formula, row domain.Record, lineage domain.Lineage, aux map[string]any) (domain.Value, error)
}

// CatalogBuilder derives the source catalog of a datalab embedded as a source.
type CatalogBuilder interface {
	SourceCatalog(ctx context.Context, lab domain.Datalab) (domain.SourceCatalog, error)
}

// FailurePolicy decides what a failed formula evaluation does to the build.
type FailurePolicy string

const (
	// FailureNull records null for the cell and reports the failure in Result.FormulaFailures.
	FailureNull FailurePolicy = "null"
	// FailureAbort aborts the whole build with the lowest-row failure.
	FailureAbort FailurePolicy = "abort"
)

// Assembler builds relations from pipeline steps.
type Assembler struct {
	provider  SourceProvider
	evaluator Evaluator
	catalogs  CatalogBuilder
	logger    *slog.Logger
	policy    FailurePolicy
	workers   int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the assembler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithFormulaFailurePolicy selects what a failed formula does. Unknown policies are ignored.
func WithFormulaFailurePolicy(policy FailurePolicy) Option {
	return func(a *Assembler) {
		switch policy {
		case FailureNull, FailureAbort:
			a.policy = policy
		}
	}
}

// WithWorkers sets how many rows of a computed field are evaluated concurrently.
func WithWorkers(workers int) Option {
	return func(a *Assembler) {
		if workers > 0 {
			a.workers = workers
		}
	}
}

// New constructs a pipeline assembler.
func New(provider SourceProvider, evaluator Evaluator, catalogs CatalogBuilder, opts ...Option) *Assembler {
	assembler := &Assembler{
		provider:  provider,
		evaluator: evaluator,
		catalogs:  catalogs,
		logger:    slog.New(slog.DiscardHandler),
		policy:    FailureNull,
		workers:   1,
	}
	for _, opt := range opts {
		opt(assembler)
	}
	return assembler
}

// Result is an assembled relation together with the lineage computed steps saw.
type Result struct {
	Relation        domain.Relation
	Lineage         domain.Lineage
	CheckboxColumns []string
	FormulaFailures []domain.FormulaEvaluationError
}

// build is the mutable state of one assembly call. It is never shared.
type build struct {
	relation  domain.Relation
	lineage   domain.Lineage
	checkbox  []string
	checkSet  map[string]struct{}
	failures  []domain.FormulaEvaluationError
	path      []string
	stepIndex int
}

func (b *build) addCheckboxColumn(column string) {
	b.relation.AddColumn(column)
	if _, ok := b.checkSet[column]; ok {
		return
	}
	b.checkSet[column] = struct{}{}
	b.checkbox = append(b.checkbox, column)
}

// Assemble runs steps over seed. No partial relation is returned on error.
func (a *Assembler) Assemble(ctx context.Context, steps []domain.Step, seed domain.Relation) (Result, error) {
	return a.assemble(ctx, steps, seed, nil)
}

// AssembleDatalab runs a datalab's pipeline over its stored relations.
func (a *Assembler) AssembleDatalab(ctx context.Context, lab domain.Datalab) (Result, error) {
	return a.assemble(ctx, lab.Steps, lab.Seed(), []string{lab.ID})
}

func (a *Assembler) assemble(ctx context.Context, steps []domain.Step, seed domain.Relation, path []string) (Result, error) {
	started := time.Now()
	b := &build{
		relation: seed.Clone(),
		lineage:  make(domain.Lineage, 0, len(steps)),
		checkSet: make(map[string]struct{}),
		path:     path,
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("assemble step %d: %w", i, err)
		}
		if err := step.Validate(); err != nil {
			return Result{}, fmt.Errorf("step %d: %w", i, err)
		}
		b.stepIndex = i

		var err error
		switch step.Type {
		case domain.StepDatasource:
			err = a.applyDatasource(ctx, b, *step.Datasource)
		case domain.StepForm:
			err = a.applyForm(ctx, b, step.Form)
		case domain.StepComputed:
			err = a.applyComputed(ctx, b, *step.Computed)
		}
		if err != nil {
			return Result{}, fmt.Errorf("step %d (%s): %w", i, step.Type, err)
		}
	}

	a.logger.DebugContext(ctx, "pipeline assembled",
		"steps", len(steps),
		"rows", b.relation.Len(),
		"columns", len(b.relation.Columns),
		"formula_failures", len(b.failures),
		"duration", time.Since(started),
	)

	return Result{
		Relation:        b.relation.Normalize(b.checkbox),
		Lineage:         b.lineage,
		CheckboxColumns: b.checkbox,
		FormulaFailures: b.failures,
	}, nil
}

// resolveSource returns a source's relation and catalog. Datalab sources are
// assembled recursively with the resolution path extended by their id.
func (a *Assembler) resolveSource(ctx context.Context, id string, path []string) (domain.Relation, domain.SourceCatalog, error) {
	for _, visited := range path {
		if visited == id {
			cycle := append(append([]string(nil), path...), id)
			return domain.Relation{}, domain.SourceCatalog{}, &domain.CyclicPipelineError{Path: cycle}
		}
	}

	source, err := a.provider.ResolveSource(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Relation{}, domain.SourceCatalog{}, &domain.UnresolvedReferenceError{Kind: domain.ReferenceSource, ID: id}
		}
		return domain.Relation{}, domain.SourceCatalog{}, fmt.Errorf("resolve source %s: %w", id, err)
	}

	if source.Kind != domain.SourceKindDatalab {
		return source.Data, source.Catalog, nil
	}
	if source.Datalab == nil {
		return domain.Relation{}, domain.SourceCatalog{}, fmt.Errorf("source %s is a datalab without a definition", id)
	}

	lab := *source.Datalab
	nestedPath := append(append([]string(nil), path...), id)
	nested, err := a.assemble(ctx, lab.Steps, lab.Seed(), nestedPath)
	if err != nil {
		return domain.Relation{}, domain.SourceCatalog{}, fmt.Errorf("datalab source %s: %w", id, err)
	}
	if a.catalogs == nil {
		return nested.Relation, source.Catalog, nil
	}
	catalog, err := a.catalogs.SourceCatalog(ctx, lab)
	if err != nil {
		return domain.Relation{}, domain.SourceCatalog{}, err
	}
	return nested.Relation, catalog, nil
}
