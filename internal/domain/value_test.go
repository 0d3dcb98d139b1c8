package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromAny(t *testing.T) {
	assert.Equal(t, KindNull, FromAny(nil).Kind())
	assert.Equal(t, KindNumber, FromAny(int32(4)).Kind())
	assert.Equal(t, KindNumber, FromAny(json.Number("4.5")).Kind())
	assert.Equal(t, KindNull, FromAny(math.NaN()).Kind())
	assert.Equal(t, KindBool, FromAny(true).Kind())
	assert.Equal(t, KindDate, FromAny(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)).Kind())

	list := FromAny([]any{"a", 1.0, nil})
	require.Equal(t, KindList, list.Kind())
	assert.Len(t, list.Members(), 3)
	assert.Equal(t, "a, 1, ", list.Text())
}

func TestValue_TextAndCoercion(t *testing.T) {
	assert.Equal(t, "2.5", Number(2.5).Text())
	assert.Equal(t, "2024-01-02", Date(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)).Text())

	f, ok := String(" 12 ").Float()
	assert.True(t, ok)
	assert.Equal(t, 12.0, f)

	_, ok = String("  ").Float()
	assert.False(t, ok)

	assert.True(t, String("true").Truthy())
	assert.False(t, String("yes please").Truthy())
	assert.False(t, Null().Truthy())

	key, ok := String("2024-03-04T10:00:00Z").DateKey()
	assert.True(t, ok)
	assert.Equal(t, "2024-03-04", key)

	_, ok = Null().Key()
	assert.False(t, ok)
	key, ok = Number(1).Key()
	assert.True(t, ok)
	assert.Equal(t, "1", key)
}

func TestValue_JSONRoundTrip(t *testing.T) {
	var record Record
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":"x","c":null,"d":[true,"y"]}`), &record))

	assert.Equal(t, Number(1), record["a"])
	assert.Equal(t, String("x"), record["b"])
	assert.True(t, record["c"].IsNull())
	assert.Equal(t, List(Bool(true), String("y")), record["d"])

	encoded, err := json.Marshal(Number(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, "null", string(encoded))
}

func TestRelation_Normalize(t *testing.T) {
	relation := NewRelation([]string{"id", "flag"}, []Record{
		{"id": Number(1), "flag": String("true")},
		{"id": Number(2)},
	})
	relation.AddColumn("extra")

	normalized := relation.Normalize([]string{"flag"})
	require.Len(t, normalized.Records, 2)
	assert.Equal(t, Bool(true), normalized.Records[0]["flag"])
	assert.Equal(t, Bool(false), normalized.Records[1]["flag"])
	_, present := normalized.Records[1]["extra"]
	assert.True(t, present)
	assert.Equal(t, []string{"id", "flag", "extra"}, normalized.Columns)
}

func TestNewRelation_DerivesColumns(t *testing.T) {
	relation := NewRelation(nil, []Record{
		{"b": Number(1), "a": Number(2)},
		{"c": Number(3), "a": Number(4)},
	})
	assert.Equal(t, []string{"a", "b", "c"}, relation.Columns)
}

func TestQuerySpec_Validate(t *testing.T) {
	assert.NoError(t, QuerySpec{}.Validate())
	assert.Error(t, QuerySpec{Search: "x"}.Validate())
	assert.NoError(t, QuerySpec{Search: "x", Pagination: Pagination{Current: 1, PageSize: 10}}.Validate())
}

func TestStepsJSON(t *testing.T) {
	steps := []Step{
		{Type: StepDatasource, Datasource: &DatasourceStep{ID: "ds", Primary: "id", Fields: []string{"id"}, Discrepancies: &Discrepancies{Primary: true}}},
		{Type: StepForm, Form: "f1"},
	}
	raw, err := StepsToJSON(steps)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"discrepencies"`)

	decoded, err := StepsFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, steps, decoded)

	empty, err := StepsFromJSON(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestValue_SlashDatesAreMonthFirst(t *testing.T) {
	key, ok := String("05/03/2024").DateKey()
	require.True(t, ok)
	assert.Equal(t, "2024-05-03", key)

	_, ok = String("13/03/2024").DateKey()
	assert.False(t, ok)
}

func TestDatasourceStep_DiscrepanciesYAMLMatchesJSON(t *testing.T) {
	var step DatasourceStep
	require.NoError(t, yaml.Unmarshal([]byte("id: ds\nprimary: id\ndiscrepencies: {primary: true}\n"), &step))
	require.NotNil(t, step.Discrepancies)
	assert.True(t, step.Discrepancies.Primary)
}
