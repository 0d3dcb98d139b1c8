package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/datalab/internal/domain"

	"github.com/google/uuid"
)

// memoryStore keeps definitions in a mutex-guarded map. Every read and write
// goes through clone so callers never share records with the store.
type memoryStore[T document] struct {
	mu      sync.RWMutex
	items   map[string]T
	kind    string
	id      func(*T) *string
	created func(T) time.Time
	stamp   func(*T, time.Time, time.Time)
	clone   func(T) T
	now     func() time.Time
}

func newMemoryStore[T document](kind string, id func(*T) *string, created func(T) time.Time, stamp func(*T, time.Time, time.Time), clone func(T) T) *memoryStore[T] {
	return &memoryStore[T]{
		items:   make(map[string]T),
		kind:    kind,
		id:      id,
		created: created,
		stamp:   stamp,
		clone:   clone,
		now:     time.Now,
	}
}

// create inserts or replaces item. Replacing keeps the original creation time.
func (s *memoryStore[T]) create(ctx context.Context, item T) (T, error) {
	item = s.clone(item)
	id := s.id(&item)
	if *id == "" {
		*id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	createdAt := now
	if existing, ok := s.items[*id]; ok {
		createdAt = s.created(existing)
	}
	s.stamp(&item, createdAt, now)
	s.items[*id] = item
	return s.clone(item), nil
}

func (s *memoryStore[T]) getByID(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", s.kind, id, domain.ErrNotFound)
	}
	return s.clone(item), nil
}

func (s *memoryStore[T]) getByIDs(ctx context.Context, ids []string) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			items = append(items, s.clone(item))
		}
	}
	return items, nil
}

func (s *memoryStore[T]) list(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		items = append(items, s.clone(s.items[id]))
	}
	return items, nil
}

func cloneRecords(records []domain.Record) []domain.Record {
	if records == nil {
		return nil
	}
	cloned := make([]domain.Record, len(records))
	for i, record := range records {
		cloned[i] = record.Clone()
	}
	return cloned
}

func cloneDatalab(lab domain.Datalab) domain.Datalab {
	lab.Steps = append([]domain.Step(nil), lab.Steps...)
	lab.Order = append([]domain.OrderItem(nil), lab.Order...)
	lab.Relations = cloneRecords(lab.Relations)
	return lab
}

func cloneDatasource(source domain.Datasource) domain.Datasource {
	source.Data = cloneRecords(source.Data)
	source.Catalog.Order = append([]string(nil), source.Catalog.Order...)
	return source
}

func cloneForm(form domain.Form) domain.Form {
	form.Fields = append([]domain.FormField(nil), form.Fields...)
	form.Data = cloneRecords(form.Data)
	return form
}

type memoryDatalabRepository struct {
	store *memoryStore[domain.Datalab]
}

// NewMemoryDatalabRepository returns an in-process datalab store.
func NewMemoryDatalabRepository() DatalabRepository {
	return &memoryDatalabRepository{store: newMemoryStore("datalab",
		func(d *domain.Datalab) *string { return &d.ID },
		func(d domain.Datalab) time.Time { return d.CreatedAt },
		func(d *domain.Datalab, created, updated time.Time) { d.CreatedAt, d.UpdatedAt = created, updated },
		cloneDatalab,
	)}
}

func (r *memoryDatalabRepository) Create(ctx context.Context, lab domain.Datalab) (domain.Datalab, error) {
	return r.store.create(ctx, lab)
}

func (r *memoryDatalabRepository) GetByID(ctx context.Context, id string) (domain.Datalab, error) {
	return r.store.getByID(ctx, id)
}

func (r *memoryDatalabRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Datalab, error) {
	return r.store.getByIDs(ctx, ids)
}

func (r *memoryDatalabRepository) List(ctx context.Context) ([]domain.Datalab, error) {
	return r.store.list(ctx)
}

type memoryDatasourceRepository struct {
	store *memoryStore[domain.Datasource]
}

// NewMemoryDatasourceRepository returns an in-process datasource store.
func NewMemoryDatasourceRepository() DatasourceRepository {
	return &memoryDatasourceRepository{store: newMemoryStore("datasource",
		func(d *domain.Datasource) *string { return &d.ID },
		func(d domain.Datasource) time.Time { return d.CreatedAt },
		func(d *domain.Datasource, created, updated time.Time) { d.CreatedAt, d.UpdatedAt = created, updated },
		cloneDatasource,
	)}
}

func (r *memoryDatasourceRepository) Create(ctx context.Context, source domain.Datasource) (domain.Datasource, error) {
	return r.store.create(ctx, source)
}

func (r *memoryDatasourceRepository) GetByID(ctx context.Context, id string) (domain.Datasource, error) {
	return r.store.getByID(ctx, id)
}

func (r *memoryDatasourceRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Datasource, error) {
	return r.store.getByIDs(ctx, ids)
}

func (r *memoryDatasourceRepository) List(ctx context.Context) ([]domain.Datasource, error) {
	return r.store.list(ctx)
}

type memoryFormRepository struct {
	store *memoryStore[domain.Form]
}

// NewMemoryFormRepository returns an in-process form store.
func NewMemoryFormRepository() FormRepository {
	return &memoryFormRepository{store: newMemoryStore("form",
		func(f *domain.Form) *string { return &f.ID },
		func(f domain.Form) time.Time { return f.CreatedAt },
		func(f *domain.Form, created, updated time.Time) { f.CreatedAt, f.UpdatedAt = created, updated },
		cloneForm,
	)}
}

func (r *memoryFormRepository) Create(ctx context.Context, form domain.Form) (domain.Form, error) {
	return r.store.create(ctx, form)
}

func (r *memoryFormRepository) GetByID(ctx context.Context, id string) (domain.Form, error) {
	return r.store.getByID(ctx, id)
}

func (r *memoryFormRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Form, error) {
	return r.store.getByIDs(ctx, ids)
}

func (r *memoryFormRepository) List(ctx context.Context) ([]domain.Form, error) {
	return r.store.list(ctx)
}

// NewMemoryRepositories returns empty in-process stores.
func NewMemoryRepositories() Repositories {
	return Repositories{
		Datalabs:    NewMemoryDatalabRepository(),
		Datasources: NewMemoryDatasourceRepository(),
		Forms:       NewMemoryFormRepository(),
	}
}
