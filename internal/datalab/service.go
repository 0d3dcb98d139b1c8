// Package datalab serves one datalab: its assembled data, its column
// catalog and interactive queries over both.
package datalab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rpattn/datalab/internal/assembler"
	"github.com/rpattn/datalab/internal/catalog"
	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/export"
	"github.com/rpattn/datalab/internal/query"
	"github.com/rpattn/datalab/internal/sourceloader"
)

// Resolver loads datalabs and everything their steps reference.
type Resolver interface {
	assembler.SourceProvider
	ResolveDatalab(ctx context.Context, id string) (domain.Datalab, error)
}

// Service orchestrates load, assemble, catalog and query for a datalab id.
type Service struct {
	resolver      Resolver
	evaluator     assembler.Evaluator
	engine        *query.Engine
	logger        *slog.Logger
	assemblerOpts []assembler.Option
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAssemblerOptions configures every assembler the service builds.
func WithAssemblerOptions(opts ...assembler.Option) Option {
	return func(s *Service) {
		s.assemblerOpts = append(s.assemblerOpts, opts...)
	}
}

// NewService constructs a datalab service over resolver.
func NewService(resolver Resolver, evaluator assembler.Evaluator, engine *query.Engine, opts ...Option) *Service {
	service := &Service{
		resolver:  resolver,
		evaluator: evaluator,
		engine:    engine,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// resolverFor prefers the request-scoped loader when one is attached.
func (s *Service) resolverFor(ctx context.Context) Resolver {
	if loader := sourceloader.FromContext(ctx); loader != nil {
		return loader
	}
	return s.resolver
}

func (s *Service) load(ctx context.Context, resolver Resolver, id string) (domain.Datalab, error) {
	lab, err := resolver.ResolveDatalab(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Datalab{}, &domain.UnresolvedReferenceError{Kind: domain.ReferenceDatalab, ID: id}
		}
		return domain.Datalab{}, fmt.Errorf("load datalab %s: %w", id, err)
	}
	return lab, nil
}

func (s *Service) assemble(ctx context.Context, resolver Resolver, lab domain.Datalab) (assembler.Result, error) {
	opts := append([]assembler.Option{assembler.WithLogger(s.logger)}, s.assemblerOpts...)
	asm := assembler.New(resolver, s.evaluator, catalog.NewBuilder(resolver), opts...)
	return asm.AssembleDatalab(ctx, lab)
}

// Data assembles the datalab's relation.
func (s *Service) Data(ctx context.Context, id string) (assembler.Result, error) {
	started := time.Now()
	resolver := s.resolverFor(ctx)
	lab, err := s.load(ctx, resolver, id)
	if err != nil {
		return assembler.Result{}, err
	}
	result, err := s.assemble(ctx, resolver, lab)
	if err != nil {
		s.logger.WarnContext(ctx, "datalab assembly failed", "datalab", id, "error", err)
		return assembler.Result{}, err
	}
	s.logger.InfoContext(ctx, "datalab assembled",
		"datalab", id,
		"rows", result.Relation.Len(),
		"formula_failures", len(result.FormulaFailures),
		"duration", time.Since(started),
	)
	return result, nil
}

// Columns resolves the datalab's display order into its column catalog.
func (s *Service) Columns(ctx context.Context, id string) ([]domain.Column, error) {
	resolver := s.resolverFor(ctx)
	lab, err := s.load(ctx, resolver, id)
	if err != nil {
		return nil, err
	}
	return catalog.NewBuilder(resolver).Build(ctx, lab.Order, lab.Steps)
}

// Query assembles the datalab and answers spec against it.
func (s *Service) Query(ctx context.Context, id string, spec domain.QuerySpec) (domain.QueryResult, error) {
	started := time.Now()
	if err := spec.Validate(); err != nil {
		return domain.QueryResult{}, err
	}

	view, err := s.prepare(ctx, id)
	if err != nil {
		return domain.QueryResult{}, err
	}
	result, err := s.engine.Query(ctx, view.input(), spec)
	if err != nil {
		return domain.QueryResult{}, err
	}

	s.logger.InfoContext(ctx, "datalab queried",
		"datalab", id,
		"rows", result.DataNum,
		"matched", result.PaginationTotal,
		"duration", time.Since(started),
	)
	return result, nil
}

// Export writes every row matching spec as CSV. Pagination in spec is ignored.
func (s *Service) Export(ctx context.Context, id string, spec domain.QuerySpec, w io.Writer) (export.Summary, error) {
	started := time.Now()
	view, err := s.prepare(ctx, id)
	if err != nil {
		return export.Summary{}, err
	}

	records := view.assembled.Relation.Records
	if !spec.IsZero() {
		spec.Pagination = domain.Pagination{Current: 1, PageSize: max(view.assembled.Relation.Len(), 1)}
		result, err := s.engine.Query(ctx, view.input(), spec)
		if err != nil {
			return export.Summary{}, err
		}
		records = result.FilteredData
	}

	summary, err := export.WriteCSV(w, export.Headers(view.columns, view.assembled.Relation), records)
	if err != nil {
		return export.Summary{}, fmt.Errorf("export datalab %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "datalab exported",
		"datalab", id,
		"rows", summary.Rows,
		"bytes", summary.Bytes,
		"duration", time.Since(started),
	)
	return summary, nil
}

// view is an assembled datalab together with its column catalog.
type view struct {
	lab       domain.Datalab
	assembled assembler.Result
	columns   []domain.Column
}

func (v view) input() query.Input {
	return query.Input{
		Relation: v.assembled.Relation,
		Catalog:  v.columns,
		GroupBy:  v.lab.GroupBy,
	}
}

func (s *Service) prepare(ctx context.Context, id string) (view, error) {
	resolver := s.resolverFor(ctx)
	lab, err := s.load(ctx, resolver, id)
	if err != nil {
		return view{}, err
	}
	assembled, err := s.assemble(ctx, resolver, lab)
	if err != nil {
		return view{}, err
	}
	columns, err := catalog.NewBuilder(resolver).Build(ctx, lab.Order, lab.Steps)
	if err != nil {
		return view{}, err
	}
	return view{lab: lab, assembled: assembled, columns: columns}, nil
}

// Name returns the datalab's display name, falling back to its id.
func (s *Service) Name(ctx context.Context, id string) (string, error) {
	lab, err := s.load(ctx, s.resolverFor(ctx), id)
	if err != nil {
		return "", err
	}
	if lab.Name == "" {
		return lab.ID, nil
	}
	return lab.Name, nil
}
