// Package sourceloader batches and caches definition lookups for the
// lifetime of one request.
package sourceloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/repository"

	"github.com/graph-gophers/dataloader"
)

const batchWait = 5 * time.Millisecond

// Loader resolves sources, forms and datalabs through batched loaders.
// It caches every key it loads and must not outlive the request.
type Loader struct {
	datasources *dataloader.Loader
	datalabs    *dataloader.Loader
	forms       *dataloader.Loader
}

// New constructs a loader batching lookups against repos. Create one per request.
func New(repos repository.Repositories) *Loader {
	return &Loader{
		datasources: dataloader.NewBatchedLoader(
			batchFn("datasource", repos.Datasources.GetByIDs, func(d domain.Datasource) string { return d.ID }),
			dataloader.WithWait(batchWait),
		),
		datalabs: dataloader.NewBatchedLoader(
			batchFn("datalab", repos.Datalabs.GetByIDs, func(d domain.Datalab) string { return d.ID }),
			dataloader.WithWait(batchWait),
		),
		forms: dataloader.NewBatchedLoader(
			batchFn("form", repos.Forms.GetByIDs, func(f domain.Form) string { return f.ID }),
			dataloader.WithWait(batchWait),
		),
	}
}

func batchFn[T any](kind string, fetch func(context.Context, []string) ([]T, error), idOf func(T) string) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()
		results := make([]*dataloader.Result, len(keys))

		items, err := fetch(ctx, ids)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[string]T, len(items))
		for _, item := range items {
			byID[idOf(item)] = item
		}

		// Build results in the same order as keys
		for i, id := range ids {
			if item, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: item}
			} else {
				results[i] = &dataloader.Result{Error: fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)}
			}
		}
		return results
	}
}

func load[T any](ctx context.Context, loader *dataloader.Loader, id string) (T, error) {
	var zero T
	data, err := loader.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return zero, err
	}
	item, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected loader result %T for %s", data, id)
	}
	return item, nil
}

// ResolveSource mirrors repository.Provider: datasource first, then datalab.
func (l *Loader) ResolveSource(ctx context.Context, id string) (domain.Source, error) {
	source, err := load[domain.Datasource](ctx, l.datasources, id)
	if err == nil {
		return repository.DatasourceSource(source), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Source{}, fmt.Errorf("resolve datasource %s: %w", id, err)
	}
	lab, err := l.ResolveDatalab(ctx, id)
	if err != nil {
		return domain.Source{}, err
	}
	return repository.DatalabSource(lab), nil
}

func (l *Loader) ResolveForm(ctx context.Context, id string) (domain.Form, error) {
	return load[domain.Form](ctx, l.forms, id)
}

func (l *Loader) ResolveDatalab(ctx context.Context, id string) (domain.Datalab, error) {
	return load[domain.Datalab](ctx, l.datalabs, id)
}

type ctxKey string

const loaderKey ctxKey = "sourceLoader"

// WithLoader stores loader in ctx.
func WithLoader(ctx context.Context, loader *Loader) context.Context {
	return context.WithValue(ctx, loaderKey, loader)
}

// FromContext retrieves the request loader, or nil.
func FromContext(ctx context.Context) *Loader {
	if l, ok := ctx.Value(loaderKey).(*Loader); ok {
		return l
	}
	return nil
}
