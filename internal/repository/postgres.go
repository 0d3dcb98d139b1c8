package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/datalab/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// document is what the postgres stores need to persist a definition as JSONB.
type document interface {
	domain.Datalab | domain.Datasource | domain.Form
}

// documentStore keeps one definition per row: id, name and the full
// definition as a JSONB document.
type documentStore[T document] struct {
	pool  *pgxpool.Pool
	table string
	kind  string
	id    func(*T) *string
	name  func(*T) string
	stamp func(*T, time.Time, time.Time)
}

func (s *documentStore[T]) create(ctx context.Context, item T) (T, error) {
	var zero T
	if s.pool == nil {
		return zero, fmt.Errorf("%s repository not initialized", s.kind)
	}
	id := s.id(&item)
	if *id == "" {
		*id = uuid.NewString()
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s %s: %w", s.kind, *id, err)
	}

	var createdAt, updatedAt pgtype.Timestamptz
	err = s.pool.QueryRow(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (id, name, document)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		   SET name = EXCLUDED.name, document = EXCLUDED.document, updated_at = now()
		 RETURNING created_at, updated_at`, s.table),
		*id,
		s.name(&item),
		payload,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return zero, fmt.Errorf("failed to create %s: %w", s.kind, err)
	}
	s.stamp(&item, createdAt.Time, updatedAt.Time)
	return item, nil
}

func (s *documentStore[T]) getByID(ctx context.Context, id string) (T, error) {
	var zero T
	if s.pool == nil {
		return zero, fmt.Errorf("%s repository not initialized", s.kind)
	}
	row := s.pool.QueryRow(
		ctx,
		fmt.Sprintf(`SELECT document, created_at, updated_at FROM %s WHERE id = $1`, s.table),
		id,
	)
	item, err := s.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, fmt.Errorf("%s %s: %w", s.kind, id, domain.ErrNotFound)
		}
		return zero, fmt.Errorf("failed to get %s %s: %w", s.kind, id, err)
	}
	return item, nil
}

func (s *documentStore[T]) getByIDs(ctx context.Context, ids []string) ([]T, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("%s repository not initialized", s.kind)
	}
	if len(ids) == 0 {
		return []T{}, nil
	}
	rows, err := s.pool.Query(
		ctx,
		fmt.Sprintf(`SELECT document, created_at, updated_at FROM %s WHERE id = ANY($1) ORDER BY id`, s.table),
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s batch: %w", s.kind, err)
	}
	return s.collect(rows)
}

func (s *documentStore[T]) list(ctx context.Context) ([]T, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("%s repository not initialized", s.kind)
	}
	rows, err := s.pool.Query(
		ctx,
		fmt.Sprintf(`SELECT document, created_at, updated_at FROM %s ORDER BY created_at, id`, s.table),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.kind, err)
	}
	return s.collect(rows)
}

func (s *documentStore[T]) collect(rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	items := []T{}
	for rows.Next() {
		item, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", s.kind, err)
	}
	return items, nil
}

func (s *documentStore[T]) scan(row pgx.Row) (T, error) {
	var (
		item      T
		payload   []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&payload, &createdAt, &updatedAt); err != nil {
		return item, err
	}
	if err := json.Unmarshal(payload, &item); err != nil {
		return item, fmt.Errorf("decode %s document: %w", s.kind, err)
	}
	s.stamp(&item, createdAt.Time, updatedAt.Time)
	return item, nil
}

type datalabRepository struct {
	store *documentStore[domain.Datalab]
}

// NewDatalabRepository wires a datalab repository backed by pgxpool.
func NewDatalabRepository(pool *pgxpool.Pool) DatalabRepository {
	return &datalabRepository{store: &documentStore[domain.Datalab]{
		pool:  pool,
		table: "datalabs",
		kind:  "datalab",
		id:    func(d *domain.Datalab) *string { return &d.ID },
		name:  func(d *domain.Datalab) string { return d.Name },
		stamp: func(d *domain.Datalab, created, updated time.Time) { d.CreatedAt, d.UpdatedAt = created, updated },
	}}
}

func (r *datalabRepository) Create(ctx context.Context, lab domain.Datalab) (domain.Datalab, error) {
	if lab.Steps == nil {
		lab.Steps = []domain.Step{}
	}
	return r.store.create(ctx, lab)
}

func (r *datalabRepository) GetByID(ctx context.Context, id string) (domain.Datalab, error) {
	return r.store.getByID(ctx, id)
}

func (r *datalabRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Datalab, error) {
	return r.store.getByIDs(ctx, ids)
}

func (r *datalabRepository) List(ctx context.Context) ([]domain.Datalab, error) {
	return r.store.list(ctx)
}

type datasourceRepository struct {
	store *documentStore[domain.Datasource]
}

// NewDatasourceRepository wires a datasource repository backed by pgxpool.
func NewDatasourceRepository(pool *pgxpool.Pool) DatasourceRepository {
	return &datasourceRepository{store: &documentStore[domain.Datasource]{
		pool:  pool,
		table: "datasources",
		kind:  "datasource",
		id:    func(d *domain.Datasource) *string { return &d.ID },
		name:  func(d *domain.Datasource) string { return d.Name },
		stamp: func(d *domain.Datasource, created, updated time.Time) { d.CreatedAt, d.UpdatedAt = created, updated },
	}}
}

func (r *datasourceRepository) Create(ctx context.Context, source domain.Datasource) (domain.Datasource, error) {
	return r.store.create(ctx, source)
}

func (r *datasourceRepository) GetByID(ctx context.Context, id string) (domain.Datasource, error) {
	return r.store.getByID(ctx, id)
}

func (r *datasourceRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Datasource, error) {
	return r.store.getByIDs(ctx, ids)
}

func (r *datasourceRepository) List(ctx context.Context) ([]domain.Datasource, error) {
	return r.store.list(ctx)
}

type formRepository struct {
	store *documentStore[domain.Form]
}

// NewFormRepository wires a form repository backed by pgxpool.
func NewFormRepository(pool *pgxpool.Pool) FormRepository {
	return &formRepository{store: &documentStore[domain.Form]{
		pool:  pool,
		table: "forms",
		kind:  "form",
		id:    func(f *domain.Form) *string { return &f.ID },
		name:  func(f *domain.Form) string { return f.Name },
		stamp: func(f *domain.Form, created, updated time.Time) { f.CreatedAt, f.UpdatedAt = created, updated },
	}}
}

func (r *formRepository) Create(ctx context.Context, form domain.Form) (domain.Form, error) {
	return r.store.create(ctx, form)
}

func (r *formRepository) GetByID(ctx context.Context, id string) (domain.Form, error) {
	return r.store.getByID(ctx, id)
}

func (r *formRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Form, error) {
	return r.store.getByIDs(ctx, ids)
}

func (r *formRepository) List(ctx context.Context) ([]domain.Form, error) {
	return r.store.list(ctx)
}

// NewPostgresRepositories wires all three stores onto one pool.
func NewPostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Datalabs:    NewDatalabRepository(pool),
		Datasources: NewDatasourceRepository(pool),
		Forms:       NewFormRepository(pool),
	}
}
