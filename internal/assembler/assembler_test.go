package assembler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rpattn/datalab/internal/catalog"
	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/formula"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	sources map[string]domain.Source
	forms   map[string]domain.Form
	calls   map[string]int
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		sources: make(map[string]domain.Source),
		forms:   make(map[string]domain.Form),
		calls:   make(map[string]int),
	}
}

func (m *mockProvider) ResolveSource(ctx context.Context, id string) (domain.Source, error) {
	m.calls[id]++
	source, ok := m.sources[id]
	if !ok {
		return domain.Source{}, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return source, nil
}

func (m *mockProvider) ResolveForm(ctx context.Context, id string) (domain.Form, error) {
	form, ok := m.forms[id]
	if !ok {
		return domain.Form{}, fmt.Errorf("form %s: %w", id, domain.ErrNotFound)
	}
	return form, nil
}

func (m *mockProvider) addDatasource(id string, rows ...domain.Record) {
	m.sources[id] = domain.Source{
		ID:   id,
		Kind: domain.SourceKindDatasource,
		Data: domain.NewRelation(nil, rows),
	}
}

func (m *mockProvider) addDatalab(lab domain.Datalab) {
	m.sources[lab.ID] = domain.Source{ID: lab.ID, Kind: domain.SourceKindDatalab, Datalab: &lab}
}

func newAssembler(provider *mockProvider, opts ...Option) *Assembler {
	return New(provider, formula.NewEvaluator(), catalog.NewBuilder(provider), opts...)
}

func row(pairs ...any) domain.Record {
	record := make(domain.Record, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		record[pairs[i].(string)] = domain.FromAny(pairs[i+1])
	}
	return record
}

func peopleStep() domain.Step {
	return domain.Step{
		Type: domain.StepDatasource,
		Datasource: &domain.DatasourceStep{
			ID:      "people",
			Primary: "id",
			Fields:  []string{"id", "name", "age"},
			Labels:  map[string]string{"id": "ID", "name": "Name", "age": "Age"},
			Types:   map[string]domain.FieldType{"age": domain.FieldTypeNumber},
		},
	}
}

func TestAssemble_SeedsFromFirstStepAndComputesFields(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people",
		row("id", 1, "name", "Ann", "age", 30),
		row("id", 2, "name", "Bo", "age", 12),
	)
	isAdult := domain.Step{
		Type: domain.StepComputed,
		Computed: &domain.ComputedStep{Fields: []domain.ComputedField{{
			Name: "isAdult",
			Formula: domain.Formula{
				Kind:       domain.FormulaCondition,
				Field:      "Age",
				Operator:   domain.OpGreaterEqual,
				Comparator: domain.Number(18),
			},
		}}},
	}

	result, err := newAssembler(provider).Assemble(context.Background(), []domain.Step{peopleStep(), isAdult}, domain.Relation{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ID", "Name", "Age", "isAdult"}, result.Relation.Columns)
	require.Len(t, result.Relation.Records, 2)
	assert.Equal(t, "Ann", result.Relation.Records[0].Get("Name").Text())
	assert.True(t, result.Relation.Records[0].Get("isAdult").Truthy())
	assert.False(t, result.Relation.Records[1].Get("isAdult").Truthy())
	assert.Equal(t, domain.Lineage{{"ID", "Name", "Age"}, {"isAdult"}}, result.Lineage)
	assert.Empty(t, result.FormulaFailures)
}

func TestAssemble_LeftJoinKeepsUnmatchedRows(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people",
		row("id", 1, "name", "Ann", "age", 30),
		row("id", 2, "name", "Bo", "age", 12),
		row("id", 3, "name", "Cy", "age", 50),
	)
	provider.addDatasource("salaries",
		row("person", 1, "salary", 100),
		row("person", 1, "salary", 999),
		row("person", 3, "salary", 300),
		row("person", nil, "salary", 5),
	)
	salaries := domain.Step{
		Type: domain.StepDatasource,
		Datasource: &domain.DatasourceStep{
			ID:       "salaries",
			Primary:  "person",
			Matching: "ID",
			Fields:   []string{"salary"},
			Labels:   map[string]string{"salary": "Salary"},
		},
	}

	result, err := newAssembler(provider).Assemble(context.Background(), []domain.Step{peopleStep(), salaries}, domain.Relation{})
	require.NoError(t, err)

	records := result.Relation.Records
	require.Len(t, records, 3)
	assert.Equal(t, "100", records[0].Get("Salary").Text(), "first right-hand row wins")
	assert.True(t, records[1].Get("Salary").IsNull())
	assert.Equal(t, "300", records[2].Get("Salary").Text())
	for _, record := range records {
		_, present := record["Salary"]
		assert.True(t, present, "every row carries every column")
	}
}

func TestAssemble_ExistingLabelIsNotOverwritten(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1, "name", "Ann", "age", 30))
	provider.addDatasource("nicknames", row("id", 1, "name", "Annie"))
	nicknames := domain.Step{
		Type: domain.StepDatasource,
		Datasource: &domain.DatasourceStep{
			ID:       "nicknames",
			Primary:  "id",
			Matching: "ID",
			Fields:   []string{"name"},
			Labels:   map[string]string{"name": "Name"},
		},
	}

	result, err := newAssembler(provider).Assemble(context.Background(), []domain.Step{peopleStep(), nicknames}, domain.Relation{})
	require.NoError(t, err)
	assert.Equal(t, "Ann", result.Relation.Records[0].Get("Name").Text())
	assert.Equal(t, []string{"ID", "Name", "Age"}, result.Relation.Columns)
}

func TestAssemble_CheckboxGroupsAreFlattened(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1, "name", "Ann", "age", 30), row("id", 2, "name", "Bo", "age", 12))
	provider.sources["skills"] = domain.Source{
		ID:   "skills",
		Kind: domain.SourceKindDatasource,
		Data: domain.NewRelation(nil, []domain.Record{
			row("id", 1, "tags__go", true, "tags__sql", "true"),
		}),
		Catalog: domain.SourceCatalog{CheckboxGroups: map[string][]string{"tags": {"go", "sql"}}},
	}
	provider.forms["review"] = domain.Form{
		ID:      "review",
		Primary: "ID",
		Fields: []domain.FormField{
			{Name: "ID", Type: domain.FieldTypeText},
			{Name: "flags", Type: domain.FieldTypeCheckboxGroup, Columns: []string{"late", "remote"}},
		},
	}
	steps := []domain.Step{
		peopleStep(),
		{
			Type: domain.StepDatasource,
			Datasource: &domain.DatasourceStep{
				ID:       "skills",
				Primary:  "id",
				Matching: "ID",
				Fields:   []string{"tags"},
				Labels:   map[string]string{"tags": "Skills"},
				Types:    map[string]domain.FieldType{"tags": domain.FieldTypeCheckboxGroup},
			},
		},
		{Type: domain.StepForm, Form: "review"},
	}

	result, err := newAssembler(provider).Assemble(context.Background(), steps, domain.Relation{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Skills__go", "Skills__sql", "flags__late", "flags__remote"}, result.CheckboxColumns)
	records := result.Relation.Records
	assert.Equal(t, domain.Bool(true), records[0].Get("Skills__go"))
	assert.Equal(t, domain.Bool(true), records[0].Get("Skills__sql"))
	assert.Equal(t, domain.Bool(false), records[1].Get("Skills__go"))
	assert.Equal(t, domain.Bool(false), records[1].Get("flags__remote"))
}

func TestAssemble_FormJoinsOnPrimary(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1, "name", "Ann", "age", 30), row("id", 2, "name", "Bo", "age", 12))
	provider.forms["notes"] = domain.Form{
		ID:      "notes",
		Primary: "ID",
		Fields:  []domain.FormField{{Name: "ID"}, {Name: "note", Type: domain.FieldTypeText}},
		Data:    []domain.Record{row("ID", 2, "note", "call back")},
	}
	provider.forms["empty"] = domain.Form{
		ID:      "empty",
		Primary: "ID",
		Fields:  []domain.FormField{{Name: "ID"}, {Name: "rating", Type: domain.FieldTypeNumber}},
	}
	steps := []domain.Step{peopleStep(), {Type: domain.StepForm, Form: "notes"}, {Type: domain.StepForm, Form: "empty"}}

	result, err := newAssembler(provider).Assemble(context.Background(), steps, domain.Relation{})
	require.NoError(t, err)
	assert.True(t, result.Relation.Records[0].Get("note").IsNull())
	assert.Equal(t, "call back", result.Relation.Records[1].Get("note").Text())
	assert.False(t, result.Relation.HasColumn("rating"), "form without data attaches nothing")
	assert.Equal(t, []string{"ID", "rating"}, result.Lineage.Step(2))
}

func TestAssemble_NestedDatalabSource(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1, "name", "Ann", "age", 30), row("id", 2, "name", "Bo", "age", 12))
	provider.addDatalab(domain.Datalab{
		ID:    "adults",
		Steps: []domain.Step{peopleStep()},
		Order: []domain.OrderItem{{StepIndex: 0, Field: "id"}, {StepIndex: 0, Field: "age"}},
	})
	steps := []domain.Step{{
		Type: domain.StepDatasource,
		Datasource: &domain.DatasourceStep{
			ID:         "adults",
			Primary:    "ID",
			Fields:     []string{"ID", "Age"},
			Labels:     map[string]string{"ID": "Person", "Age": "Years"},
			SourceType: domain.SourceTypeDatalab,
		},
	}}

	result, err := newAssembler(provider).Assemble(context.Background(), steps, domain.Relation{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Person", "Years"}, result.Relation.Columns)
	require.Len(t, result.Relation.Records, 2)
	assert.Equal(t, "12", result.Relation.Records[1].Get("Years").Text())
}

func TestAssemble_CycleIsReported(t *testing.T) {
	provider := newMockProvider()
	selfRef := func(id, target string) domain.Datalab {
		return domain.Datalab{ID: id, Steps: []domain.Step{{
			Type:       domain.StepDatasource,
			Datasource: &domain.DatasourceStep{ID: target, Primary: "id", Fields: []string{"id"}, SourceType: domain.SourceTypeDatalab},
		}}}
	}
	provider.addDatalab(selfRef("a", "b"))
	provider.addDatalab(selfRef("b", "a"))

	lab := selfRef("a", "b")
	_, err := newAssembler(provider).AssembleDatalab(context.Background(), lab)
	require.Error(t, err)

	var cyclic *domain.CyclicPipelineError
	require.True(t, errors.As(err, &cyclic))
	assert.Equal(t, []string{"a", "b", "a"}, cyclic.Path)
}

func TestAssemble_UnresolvedReferences(t *testing.T) {
	provider := newMockProvider()
	assembler := newAssembler(provider)

	_, err := assembler.Assemble(context.Background(), []domain.Step{peopleStep()}, domain.Relation{})
	var unresolved *domain.UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, domain.ReferenceSource, unresolved.Kind)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = assembler.Assemble(context.Background(), []domain.Step{{Type: domain.StepForm, Form: "missing"}}, domain.Relation{})
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, domain.ReferenceForm, unresolved.Kind)
}

func TestAssemble_FormulaFailurePolicy(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1, "name", "Ann", "age", 30), row("id", 2, "name", "Bo", "age", 0))
	ratio := domain.Step{
		Type: domain.StepComputed,
		Computed: &domain.ComputedStep{Fields: []domain.ComputedField{{
			Name:    "ratio",
			Formula: domain.Formula{Kind: domain.FormulaExpression, Expression: "60 // Age"},
		}}},
	}
	steps := []domain.Step{peopleStep(), ratio}

	result, err := newAssembler(provider, WithWorkers(4)).Assemble(context.Background(), steps, domain.Relation{})
	require.NoError(t, err)
	assert.Equal(t, "2", result.Relation.Records[0].Get("ratio").Text())
	assert.True(t, result.Relation.Records[1].Get("ratio").IsNull())
	require.Len(t, result.FormulaFailures, 1)
	assert.Equal(t, 1, result.FormulaFailures[0].Row)

	_, err = newAssembler(provider, WithFormulaFailurePolicy(FailureAbort)).Assemble(context.Background(), steps, domain.Relation{})
	var failure *domain.FormulaEvaluationError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "ratio", failure.Field)
}

func TestAssemble_ComputedFieldsSeePreStepRow(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1, "name", "Ann", "age", 30))
	step := domain.Step{
		Type: domain.StepComputed,
		Computed: &domain.ComputedStep{Fields: []domain.ComputedField{
			{Name: "double", Formula: domain.Formula{Kind: domain.FormulaExpression, Expression: "Age * 2"}},
			{Name: "copy", Formula: domain.Formula{Kind: domain.FormulaField, Field: "double"}},
		}},
	}

	result, err := newAssembler(provider).Assemble(context.Background(), []domain.Step{peopleStep(), step}, domain.Relation{})
	require.NoError(t, err)
	assert.Equal(t, "60", result.Relation.Records[0].Get("double").Text())
	assert.True(t, result.Relation.Records[0].Get("copy").IsNull())
}

func TestAssemble_CanceledContext(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people", row("id", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAssembler(provider).Assemble(ctx, []domain.Step{peopleStep()}, domain.Relation{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssemble_IsDeterministic(t *testing.T) {
	provider := newMockProvider()
	provider.addDatasource("people",
		row("id", 1, "name", "Ann", "age", 30),
		row("id", 2, "name", "Bo", "age", 12),
	)
	assembler := newAssembler(provider, WithWorkers(8))

	first, err := assembler.Assemble(context.Background(), []domain.Step{peopleStep()}, domain.Relation{})
	require.NoError(t, err)
	second, err := assembler.Assemble(context.Background(), []domain.Step{peopleStep()}, domain.Relation{})
	require.NoError(t, err)
	assert.Equal(t, first.Relation, second.Relation)
}
