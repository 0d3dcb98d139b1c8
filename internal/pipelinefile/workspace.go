package pipelinefile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/repository"
	"github.com/rpattn/datalab/internal/sources"
	"github.com/rpattn/datalab/pkg/validator"

	"gopkg.in/yaml.v3"
)

// Workspace is a YAML description of the datasources, forms and datalabs a
// pipeline run works against.
type Workspace struct {
	Datasources []DatasourceSpec `yaml:"datasources"`
	Forms       []domain.Form    `yaml:"forms"`
	Datalabs    []domain.Datalab `yaml:"datalabs"`

	// dir resolves relative datasource files.
	dir string
}

// DatasourceSpec declares a datasource either inline through Rows or backed
// by a csv/xlsx File. Types override the types inferred from a file.
type DatasourceSpec struct {
	ID             string                      `yaml:"id"`
	Name           string                      `yaml:"name"`
	File           string                      `yaml:"file"`
	Primary        string                      `yaml:"primary"`
	Order          []string                    `yaml:"order"`
	Types          map[string]domain.FieldType `yaml:"types"`
	Labels         map[string]string           `yaml:"labels"`
	CheckboxGroups map[string][]string         `yaml:"checkboxGroups"`
	Rows           []domain.Record             `yaml:"rows"`
}

// Parse decodes a workspace document. Unknown keys are rejected.
func Parse(data []byte) (*Workspace, error) {
	var ws Workspace
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&ws); err != nil {
		return nil, fmt.Errorf("parse workspace: %w", err)
	}
	if err := ws.validate(); err != nil {
		return nil, err
	}
	return &ws, nil
}

// LoadFile reads and parses the workspace at path. Datasource files are
// resolved relative to the workspace's directory.
func LoadFile(path string) (*Workspace, error) {
	data, err := os.ReadFile(path) //nolint:gosec // workspace path is user supplied
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ws, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ws.dir = filepath.Dir(path)
	return ws, nil
}

func (w *Workspace) validate() error {
	seen := make(map[string]bool)
	check := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("%s without id", kind)
		}
		if seen[kind+":"+id] {
			return fmt.Errorf("duplicate %s id %q", kind, id)
		}
		seen[kind+":"+id] = true
		return nil
	}
	for _, ds := range w.Datasources {
		if err := check("datasource", ds.ID); err != nil {
			return err
		}
		if ds.File != "" && len(ds.Rows) > 0 {
			return fmt.Errorf("datasource %q declares both file and rows", ds.ID)
		}
	}
	for _, form := range w.Forms {
		if err := check("form", form.ID); err != nil {
			return err
		}
	}
	for _, lab := range w.Datalabs {
		if err := check("datalab", lab.ID); err != nil {
			return err
		}
	}
	return nil
}

// Datasource materializes spec, reading its file when one is declared.
func (w *Workspace) Datasource(spec DatasourceSpec) (domain.Datasource, error) {
	var source domain.Datasource
	if spec.File != "" {
		path := spec.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(w.dir, path)
		}
		loaded, err := sources.LoadDatasource(spec.ID, path, spec.Primary)
		if err != nil {
			return domain.Datasource{}, fmt.Errorf("datasource %s: %w", spec.ID, err)
		}
		source = loaded
	} else {
		order := spec.Order
		if len(order) == 0 {
			order = domain.NewRelation(nil, spec.Rows).Columns
		}
		source = domain.Datasource{
			ID:   spec.ID,
			Data: spec.Rows,
			Catalog: domain.SourceCatalog{
				Primary:    spec.Primary,
				FieldTypes: map[string]domain.FieldType{},
				Order:      order,
			},
		}
	}

	if spec.Name != "" {
		source.Name = spec.Name
	} else if source.Name == "" {
		source.Name = spec.ID
	}
	if source.Catalog.FieldTypes == nil {
		source.Catalog.FieldTypes = map[string]domain.FieldType{}
	}
	for column, fieldType := range spec.Types {
		source.Catalog.FieldTypes[column] = fieldType
	}
	if len(spec.Labels) > 0 {
		source.Catalog.Labels = spec.Labels
	}
	if len(spec.CheckboxGroups) > 0 {
		source.Catalog.CheckboxGroups = spec.CheckboxGroups
	}
	return source, nil
}

// Apply stores every definition of the workspace in repos. Form data is
// validated against the form's fields first.
func (w *Workspace) Apply(ctx context.Context, repos repository.Repositories) error {
	for _, spec := range w.Datasources {
		source, err := w.Datasource(spec)
		if err != nil {
			return err
		}
		if _, err := repos.Datasources.Create(ctx, source); err != nil {
			return fmt.Errorf("store datasource %s: %w", spec.ID, err)
		}
	}
	forms := validator.NewFormValidator()
	for _, form := range w.Forms {
		if err := forms.ValidateForm(form).Err(); err != nil {
			return fmt.Errorf("form %s: %w", form.ID, err)
		}
		if _, err := repos.Forms.Create(ctx, form); err != nil {
			return fmt.Errorf("store form %s: %w", form.ID, err)
		}
	}
	for _, lab := range w.Datalabs {
		if _, err := repos.Datalabs.Create(ctx, lab); err != nil {
			return fmt.Errorf("store datalab %s: %w", lab.ID, err)
		}
	}
	return nil
}

// Open loads the workspace at path into fresh in-memory repositories.
func Open(ctx context.Context, path string) (repository.Repositories, error) {
	ws, err := LoadFile(path)
	if err != nil {
		return repository.Repositories{}, err
	}
	repos := repository.NewMemoryRepositories()
	if err := ws.Apply(ctx, repos); err != nil {
		return repository.Repositories{}, err
	}
	return repos, nil
}
