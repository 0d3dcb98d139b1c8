package query

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/datalab/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func fixture() Input {
	records := []domain.Record{
		{
			"Name": domain.String("Ann"), "Age": domain.Number(30), "Joined": domain.String("2024-01-05"),
			"Active": domain.Bool(true), "Team": domain.List(domain.String("red")),
			"Skills__go": domain.Bool(true), "Skills__sql": domain.Bool(true), "Dept": domain.String("eng"),
		},
		{
			"Name": domain.String("Bo"), "Age": domain.Number(12), "Joined": domain.String("2024-02-10T08:00:00Z"),
			"Active": domain.Bool(false), "Team": domain.List(domain.String("blue"), domain.String("red")),
			"Skills__go": domain.Bool(false), "Skills__sql": domain.Bool(true), "Dept": domain.String("ops"),
		},
		{
			"Name": domain.String("Cy"), "Age": domain.Null(), "Joined": domain.String("not a date"),
			"Active": domain.Bool(true), "Team": domain.Null(),
			"Skills__go": domain.Bool(false), "Skills__sql": domain.Bool(false), "Dept": domain.String("eng"),
		},
		{
			"Name": domain.String("Di"), "Age": domain.Number(30), "Joined": domain.String("2024-01-05"),
			"Active": domain.Bool(false), "Team": domain.List(domain.String("blue")),
			"Skills__go": domain.Bool(true), "Skills__sql": domain.Bool(false), "Dept": domain.String("eng"),
		},
	}
	relation := domain.NewRelation([]string{"Name", "Age", "Joined", "Active", "Team", "Skills__go", "Skills__sql", "Dept"}, records)
	catalog := []domain.Column{
		{Field: "name", Label: "Name", Type: domain.FieldTypeText},
		{Field: "age", Label: "Age", Type: domain.FieldTypeNumber},
		{Field: "joined", Label: "Joined", Type: domain.FieldTypeDate},
		{Field: "active", Label: "Active", Type: domain.FieldTypeCheckbox},
		{Field: "team", Label: "Team", Type: domain.FieldTypeList, Options: []domain.ListOption{
			{Label: "Red", Value: domain.String("red")},
			{Label: "Blue", Value: domain.String("blue")},
		}},
		{Field: "skills", Label: "Skills", Type: domain.FieldTypeCheckboxGroup, SubFields: []string{"sql", "go", "rust"}},
		{Field: "dept", Label: "Dept", Type: domain.FieldTypeText},
	}
	return Input{Relation: relation, Catalog: catalog, GroupBy: "Dept"}
}

func page(size int) domain.Pagination { return domain.Pagination{Current: 1, PageSize: size} }

func names(records []domain.Record) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.Get("Name").Text())
	}
	return out
}

func TestQuery_EmptySpecReturnsEverything(t *testing.T) {
	in := fixture()
	result, err := NewEngine().Query(context.Background(), in, domain.QuerySpec{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.DataNum)
	assert.Equal(t, 4, result.PaginationTotal)
	assert.Equal(t, in.Relation.Records, result.FilteredData)
	assert.Len(t, result.Filters, len(in.Catalog))
}

func TestQuery_ColumnFilters(t *testing.T) {
	cases := []struct {
		name string
		spec domain.QuerySpec
		want []string
	}{
		{
			name: "number equality drops nulls",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{"Age": {domain.String("30")}}},
			want: []string{"Ann", "Di"},
		},
		{
			name: "date compares calendar day and drops unparseable",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{"Joined": {domain.String("2024-02-10")}}},
			want: []string{"Bo"},
		},
		{
			name: "checkbox",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{"Active": {domain.Bool(false)}}},
			want: []string{"Bo", "Di"},
		},
		{
			name: "list membership drops null",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{"Team": {domain.String("red")}}},
			want: []string{"Ann", "Bo"},
		},
		{
			name: "text equality",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{"Name": {domain.String("Cy"), domain.String("Di")}}},
			want: []string{"Cy", "Di"},
		},
		{
			name: "checkbox group or",
			spec: domain.QuerySpec{CheckboxFilters: map[string][]string{"Skills": {"go", "sql"}}},
			want: []string{"Ann", "Bo", "Di"},
		},
		{
			name: "checkbox group and",
			spec: domain.QuerySpec{
				CheckboxFilters:     map[string][]string{"Skills": {"go", "sql"}},
				CheckboxFilterModes: map[string]bool{"Skills": true},
			},
			want: []string{"Ann"},
		},
		{
			name: "empty filter set is a no-op",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{"Name": {}}},
			want: []string{"Ann", "Bo", "Cy", "Di"},
		},
		{
			name: "filters conjoin",
			spec: domain.QuerySpec{Filters: map[string][]domain.Value{
				"Age":  {domain.Number(30)},
				"Team": {domain.String("blue")},
			}},
			want: []string{"Di"},
		},
	}

	engine := NewEngine()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.spec.Pagination = page(10)
			result, err := engine.Query(context.Background(), fixture(), tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, names(result.FilteredData))
			assert.Equal(t, len(tc.want), result.PaginationTotal)
			assert.Equal(t, 4, result.DataNum)
		})
	}
}

func TestQuery_GroupAndSearch(t *testing.T) {
	engine := NewEngine()

	result, err := engine.Query(context.Background(), fixture(), domain.QuerySpec{Group: strPtr("eng"), Pagination: page(10)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Cy", "Di"}, names(result.FilteredData))
	assert.Equal(t, []domain.FilterOption{
		{Text: "eng", Value: domain.String("eng")},
		{Text: "ops", Value: domain.String("ops")},
	}, result.Groups)

	result, err = engine.Query(context.Background(), fixture(), domain.QuerySpec{Search: "OPS", Pagination: page(10)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bo"}, names(result.FilteredData))
}

func TestQuery_SortIsStableWithNullsFirst(t *testing.T) {
	engine := NewEngine()

	ascending, err := engine.Query(context.Background(), fixture(), domain.QuerySpec{
		Sorter:     domain.Sorter{Field: strPtr("Age"), Order: domain.SortAscend},
		Pagination: page(10),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cy", "Bo", "Ann", "Di"}, names(ascending.FilteredData))

	descending, err := engine.Query(context.Background(), fixture(), domain.QuerySpec{
		Sorter:     domain.Sorter{Field: strPtr("Age"), Order: domain.SortDescend},
		Pagination: page(10),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Di", "Bo", "Cy"}, names(descending.FilteredData))

	bySkills, err := engine.Query(context.Background(), fixture(), domain.QuerySpec{
		Sorter:     domain.Sorter{Field: strPtr("Skills"), Order: "sideways"},
		Pagination: page(10),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cy", "Bo", "Di", "Ann"}, names(bySkills.FilteredData))
}

func TestQuery_PaginationClamps(t *testing.T) {
	engine := NewEngine()
	sorter := domain.Sorter{Field: strPtr("Name"), Order: domain.SortAscend}

	result, err := engine.Query(context.Background(), fixture(), domain.QuerySpec{Sorter: sorter, Pagination: domain.Pagination{Current: 2, PageSize: 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Di"}, names(result.FilteredData))
	assert.Equal(t, 4, result.PaginationTotal)

	result, err = engine.Query(context.Background(), fixture(), domain.QuerySpec{Sorter: sorter, Pagination: domain.Pagination{Current: 9, PageSize: 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Di"}, names(result.FilteredData), "page past the end clamps to the last page")

	result, err = engine.Query(context.Background(), fixture(), domain.QuerySpec{Sorter: sorter, Pagination: domain.Pagination{Current: 0, PageSize: 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bo", "Cy"}, names(result.FilteredData))

	result, err = engine.Query(context.Background(), fixture(), domain.QuerySpec{
		Filters:    map[string][]domain.Value{"Name": {domain.String("nobody")}},
		Pagination: page(3),
	})
	require.NoError(t, err)
	assert.NotNil(t, result.FilteredData)
	assert.Empty(t, result.FilteredData)
}

func TestQuery_RejectsMissingPageSize(t *testing.T) {
	_, err := NewEngine().Query(context.Background(), fixture(), domain.QuerySpec{Search: "ann"})
	var malformed *domain.MalformedQuerySpecError
	assert.True(t, errors.As(err, &malformed))
}

func TestQuery_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine().Query(ctx, fixture(), domain.QuerySpec{Search: "a", Pagination: page(2)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetFilters_OptionDomains(t *testing.T) {
	in := fixture()
	filters := GetFilters(in.Relation, in.Catalog)

	assert.Equal(t, []domain.FilterOption{
		{Text: "12", Value: domain.Number(12)},
		{Text: "30", Value: domain.Number(30)},
	}, filters["Age"])
	assert.Equal(t, []domain.FilterOption{
		{Text: "2024-01-05", Value: domain.String("2024-01-05")},
		{Text: "2024-02-10", Value: domain.String("2024-02-10")},
	}, filters["Joined"])
	assert.Equal(t, []domain.FilterOption{
		{Text: "False", Value: domain.Bool(false)},
		{Text: "True", Value: domain.Bool(true)},
	}, filters["Active"])
	assert.Equal(t, []domain.FilterOption{
		{Text: "Blue", Value: domain.String("blue")},
		{Text: "Red", Value: domain.String("red")},
	}, filters["Team"])
	assert.Equal(t, []domain.FilterOption{
		{Text: "go", Value: domain.String("go")},
		{Text: "sql", Value: domain.String("sql")},
	}, filters["Skills"], "only options present as relation columns")

	missing := ColumnFilter(in.Relation, domain.Column{Label: "Ghost", Type: domain.FieldTypeNumber})
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestQuery_CheckboxFilterDropsNullCells(t *testing.T) {
	in := fixture()
	in.Relation.Records = append(in.Relation.Records, domain.Record{
		"Name": domain.String("Ed"), "Age": domain.Number(40), "Joined": domain.String("2024-03-01"),
		"Active": domain.Null(), "Team": domain.Null(),
		"Skills__go": domain.Bool(false), "Skills__sql": domain.Bool(false), "Dept": domain.String("eng"),
	})

	for _, wanted := range []bool{false, true} {
		spec := domain.QuerySpec{
			Filters:    map[string][]domain.Value{"Active": {domain.Bool(wanted)}},
			Pagination: page(10),
		}
		result, err := NewEngine().Query(context.Background(), in, spec)
		require.NoError(t, err)
		assert.NotContains(t, names(result.FilteredData), "Ed", "filter Active=%v", wanted)
		assert.Equal(t, 5, result.DataNum)
	}
}
