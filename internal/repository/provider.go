package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/datalab/internal/domain"
)

// Provider resolves step references against the repositories. A source id is
// looked up as a datasource first and as a datalab second.
type Provider struct {
	datasources DatasourceRepository
	datalabs    DatalabRepository
	forms       FormRepository
}

// NewProvider constructs a source provider over repos.
func NewProvider(repos Repositories) *Provider {
	return &Provider{
		datasources: repos.Datasources,
		datalabs:    repos.Datalabs,
		forms:       repos.Forms,
	}
}

// ResolveSource returns the datasource or datalab named by id.
func (p *Provider) ResolveSource(ctx context.Context, id string) (domain.Source, error) {
	source, err := p.datasources.GetByID(ctx, id)
	if err == nil {
		return DatasourceSource(source), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Source{}, fmt.Errorf("resolve datasource %s: %w", id, err)
	}

	lab, err := p.datalabs.GetByID(ctx, id)
	if err != nil {
		return domain.Source{}, err
	}
	return DatalabSource(lab), nil
}

func (p *Provider) ResolveForm(ctx context.Context, id string) (domain.Form, error) {
	return p.forms.GetByID(ctx, id)
}

// DatasourceSource wraps a datasource's cached rows as a source relation.
func DatasourceSource(source domain.Datasource) domain.Source {
	return domain.Source{
		ID:      source.ID,
		Kind:    domain.SourceKindDatasource,
		Data:    domain.NewRelation(source.Catalog.Order, source.Data),
		Catalog: source.Catalog,
	}
}

// DatalabSource wraps a datalab definition for recursive assembly.
func DatalabSource(lab domain.Datalab) domain.Source {
	return domain.Source{
		ID:      lab.ID,
		Kind:    domain.SourceKindDatalab,
		Datalab: &lab,
	}
}

// ResolveDatalab returns the datalab definition named by id.
func (p *Provider) ResolveDatalab(ctx context.Context, id string) (domain.Datalab, error) {
	return p.datalabs.GetByID(ctx, id)
}
