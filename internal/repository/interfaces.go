package repository

import (
	"context"

	"github.com/rpattn/datalab/internal/domain"
)

// DatalabRepository defines the interface for datalab definitions.
// Unknown ids are reported with an error wrapping domain.ErrNotFound.
type DatalabRepository interface {
	Create(ctx context.Context, lab domain.Datalab) (domain.Datalab, error)
	GetByID(ctx context.Context, id string) (domain.Datalab, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Datalab, error)
	List(ctx context.Context) ([]domain.Datalab, error)
}

// DatasourceRepository defines the interface for datasources and their cached rows.
type DatasourceRepository interface {
	Create(ctx context.Context, source domain.Datasource) (domain.Datasource, error)
	GetByID(ctx context.Context, id string) (domain.Datasource, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Datasource, error)
	List(ctx context.Context) ([]domain.Datasource, error)
}

// FormRepository defines the interface for forms and their entered data.
type FormRepository interface {
	Create(ctx context.Context, form domain.Form) (domain.Form, error)
	GetByID(ctx context.Context, id string) (domain.Form, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Form, error)
	List(ctx context.Context) ([]domain.Form, error)
}

// Repositories bundles the three stores a workspace is made of.
type Repositories struct {
	Datalabs    DatalabRepository
	Datasources DatasourceRepository
	Forms       FormRepository
}
