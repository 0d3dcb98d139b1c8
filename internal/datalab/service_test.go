package datalab

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/formula"
	"github.com/rpattn/datalab/internal/query"
	"github.com/rpattn/datalab/internal/repository"
	"github.com/rpattn/datalab/internal/sourceloader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRepositories(t *testing.T) repository.Repositories {
	t.Helper()
	ctx := context.Background()
	repos := repository.NewMemoryRepositories()

	_, err := repos.Datasources.Create(ctx, domain.Datasource{
		ID: "A",
		Data: []domain.Record{
			{"id": domain.Number(1), "name": domain.String("Ann"), "age": domain.Number(17)},
			{"id": domain.Number(2), "name": domain.String("Bo"), "age": domain.Number(20)},
		},
	})
	require.NoError(t, err)

	_, err = repos.Datalabs.Create(ctx, domain.Datalab{
		ID: "people",
		Steps: []domain.Step{
			{Type: domain.StepDatasource, Datasource: &domain.DatasourceStep{
				ID: "A", Primary: "id", Fields: []string{"name", "age"},
				Types: map[string]domain.FieldType{"age": domain.FieldTypeNumber},
			}},
			{Type: domain.StepComputed, Computed: &domain.ComputedStep{Fields: []domain.ComputedField{{
				Name: "isAdult",
				Formula: domain.Formula{
					Kind: domain.FormulaCondition, Field: "age",
					Operator: domain.OpGreaterEqual, Comparator: domain.Number(18),
				},
			}}}},
		},
		Order: []domain.OrderItem{
			{StepIndex: 0, Field: "name", Visible: true},
			{StepIndex: 0, Field: "age", Visible: true},
			{StepIndex: 1, Field: "isAdult", Visible: true},
		},
	})
	require.NoError(t, err)
	return repos
}

func newService(repos repository.Repositories) *Service {
	return NewService(repository.NewProvider(repos), formula.NewEvaluator(), query.NewEngine())
}

func TestService_QueryExampleScenario(t *testing.T) {
	service := newService(seedRepositories(t))
	age := "age"

	result, err := service.Query(context.Background(), "people", domain.QuerySpec{
		Sorter:     domain.Sorter{Field: &age, Order: domain.SortDescend},
		Pagination: domain.Pagination{Current: 1, PageSize: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DataNum)
	assert.Equal(t, 2, result.PaginationTotal)
	assert.Equal(t, []domain.Record{
		{"id": domain.Number(2), "name": domain.String("Bo"), "age": domain.Number(20), "isAdult": domain.Bool(true)},
		{"id": domain.Number(1), "name": domain.String("Ann"), "age": domain.Number(17), "isAdult": domain.Bool(false)},
	}, result.FilteredData)
	assert.Equal(t, []domain.FilterOption{
		{Text: "False", Value: domain.Bool(false)},
		{Text: "True", Value: domain.Bool(true)},
	}, result.Filters["isAdult"])
}

func TestService_DataAndColumns(t *testing.T) {
	service := newService(seedRepositories(t))

	data, err := service.Data(context.Background(), "people")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age", "isAdult"}, data.Relation.Columns)

	columns, err := service.Columns(context.Background(), "people")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	assert.Equal(t, domain.FieldTypeCheckbox, columns[2].Type)
}

func TestService_UsesRequestLoader(t *testing.T) {
	repos := seedRepositories(t)
	service := NewService(repository.NewProvider(repository.NewMemoryRepositories()), formula.NewEvaluator(), query.NewEngine())

	ctx := sourceloader.WithLoader(context.Background(), sourceloader.New(repos))
	data, err := service.Data(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, 2, data.Relation.Len())
}

func TestService_Errors(t *testing.T) {
	service := newService(seedRepositories(t))

	_, err := service.Data(context.Background(), "missing")
	var unresolved *domain.UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, domain.ReferenceDatalab, unresolved.Kind)

	_, err = service.Query(context.Background(), "people", domain.QuerySpec{Search: "bo"})
	var malformed *domain.MalformedQuerySpecError
	assert.True(t, errors.As(err, &malformed))
}
