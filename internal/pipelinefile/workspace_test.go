package pipelinefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peopleWorkspace = `
datasources:
  - id: A
    primary: id
    order: [id, name, age]
    types:
      age: number
    rows:
      - {id: 1, name: Ann, age: 17}
      - {id: 2, name: Bo, age: 20}
forms:
  - id: review
    name: Review
    primary: id
    fields:
      - {name: id, type: number}
      - {name: note, type: text}
    data:
      - {id: 2, note: ok}
datalabs:
  - id: people
    name: People
    steps:
      - type: datasource
        datasource:
          id: A
          primary: id
          fields: [name, age]
          types: {age: number}
      - type: computed
        computed:
          fields:
            - name: isAdult
              formula:
                kind: condition
                field: age
                operator: ">="
                comparator: 18
    order:
      - {stepIndex: 0, field: name, visible: true}
      - {stepIndex: 0, field: age, visible: true}
      - {stepIndex: 1, field: isAdult, visible: true}
`

func TestParseAndApply(t *testing.T) {
	ws, err := Parse([]byte(peopleWorkspace))
	require.NoError(t, err)
	require.Len(t, ws.Datasources, 1)
	require.Len(t, ws.Datalabs, 1)

	lab := ws.Datalabs[0]
	require.Len(t, lab.Steps, 2)
	assert.Equal(t, domain.StepComputed, lab.Steps[1].Type)
	assert.Equal(t, domain.Number(18), lab.Steps[1].Computed.Fields[0].Formula.Comparator)

	repos := repository.NewMemoryRepositories()
	require.NoError(t, ws.Apply(context.Background(), repos))

	source, err := repos.Datasources.GetByID(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A", source.Name)
	assert.Equal(t, []string{"id", "name", "age"}, source.Catalog.Order)
	assert.Equal(t, domain.FieldTypeNumber, source.Catalog.FieldTypes["age"])
	require.Len(t, source.Data, 2)
	assert.Equal(t, domain.String("Bo"), source.Data[1]["name"])

	form, err := repos.Forms.GetByID(context.Background(), "review")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "note"}, form.FieldNames())
}

func TestLoadFileResolvesDatasourceFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "a.csv"), []byte("id,name,age\n1,Ann,17\n2,Bo,20\n"), 0o600))
	workspace := `
datasources:
  - id: A
    file: data/a.csv
    primary: id
    types: {id: text}
datalabs:
  - id: people
    steps:
      - type: datasource
        datasource: {id: A, primary: id, fields: [name]}
`
	path := filepath.Join(dir, "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(workspace), 0o600))

	repos, err := Open(context.Background(), path)
	require.NoError(t, err)

	source, err := repos.Datasources.GetByID(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "id", source.Catalog.Primary)
	assert.Equal(t, domain.FieldTypeText, source.Catalog.FieldTypes["id"])
	assert.Equal(t, domain.FieldTypeNumber, source.Catalog.FieldTypes["age"])
	require.Len(t, source.Data, 2)
	assert.Equal(t, domain.Number(17), source.Data[0]["age"])

	_, err = repos.Datalabs.GetByID(context.Background(), "people")
	require.NoError(t, err)
}

func TestParseRejectsInvalidWorkspaces(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "datasources:\n  - id: A\n    colour: red\n",
		"missing id":    "forms:\n  - name: Review\n",
		"duplicate id":  "datalabs:\n  - id: x\n  - id: x\n",
		"file and rows": "datasources:\n  - id: A\n    file: a.csv\n    rows:\n      - {id: 1}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestOpenReportsMissingFiles(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources:\n  - id: A\n    file: nope.csv\n"), 0o600))
	_, err = Open(context.Background(), path)
	assert.Error(t, err)
}

func TestApplyRejectsInvalidFormData(t *testing.T) {
	ws, err := Parse([]byte(`
forms:
  - id: review
    primary: id
    fields:
      - {name: id, type: number}
      - {name: score, type: number}
    data:
      - {id: 1, score: high}
`))
	require.NoError(t, err)

	err = ws.Apply(context.Background(), repository.NewMemoryRepositories())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "form review")
}
