package domain

import "time"

// FormField describes one input of a form.
type FormField struct {
	Name    string       `json:"name" yaml:"name"`
	Type    FieldType    `json:"type" yaml:"type"`
	Options []ListOption `json:"options,omitempty" yaml:"options,omitempty"`
	// Columns are the option names of a checkbox-group field.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Form holds user-entered records keyed by Primary.
type Form struct {
	ID        string      `json:"id" yaml:"id"`
	Name      string      `json:"name" yaml:"name"`
	Primary   string      `json:"primary" yaml:"primary"`
	Fields    []FormField `json:"fields" yaml:"fields"`
	Data      []Record    `json:"data" yaml:"data"`
	GroupBy   string      `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	CreatedAt time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt time.Time   `json:"updated_at" yaml:"-"`
}

func (f Form) Field(name string) (FormField, bool) {
	for _, field := range f.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FormField{}, false
}

// FieldNames lists the form's field names in declaration order.
func (f Form) FieldNames() []string {
	names := make([]string, 0, len(f.Fields))
	for _, field := range f.Fields {
		names = append(names, field.Name)
	}
	return names
}

// SourceKind distinguishes what a resolved source carries.
type SourceKind string

const (
	SourceKindDatasource SourceKind = "datasource"
	SourceKindDatalab    SourceKind = "datalab"
)

// SourceCatalog is the column metadata a source exposes to steps that join it.
type SourceCatalog struct {
	Primary    string               `json:"primary" yaml:"primary"`
	Labels     map[string]string    `json:"labels,omitempty" yaml:"labels,omitempty"`
	FieldTypes map[string]FieldType `json:"types,omitempty" yaml:"types,omitempty"`
	Order      []string             `json:"order,omitempty" yaml:"order,omitempty"`
	// CheckboxGroups maps a checkbox-group field to its option names.
	CheckboxGroups map[string][]string `json:"checkboxGroups,omitempty" yaml:"checkboxGroups,omitempty"`
}

// Datasource is an external tabular source with its cached rows.
type Datasource struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Catalog   SourceCatalog `json:"catalog" yaml:"catalog"`
	Data      []Record      `json:"data" yaml:"data"`
	CreatedAt time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"-"`
}

// Source is what the provider returns for a source id: either a datasource's
// own relation or a datalab definition that the assembler resolves recursively.
type Source struct {
	ID      string
	Kind    SourceKind
	Data    Relation
	Catalog SourceCatalog
	Datalab *Datalab
}

// Datalab is a pipeline definition together with its seed relation.
type Datalab struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step      `json:"steps" yaml:"steps"`
	Order       []OrderItem `json:"order" yaml:"order"`
	Relations   []Record    `json:"relations" yaml:"relations"`
	GroupBy     string      `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// Seed returns the stored relations as the relation the pipeline starts from.
func (d Datalab) Seed() Relation {
	return NewRelation(nil, d.Relations)
}
