package domain

import (
	"encoding/json"
	"fmt"
)

// StepType tags the variant carried by a pipeline Step.
type StepType string

const (
	StepDatasource StepType = "datasource"
	StepForm       StepType = "form"
	StepComputed   StepType = "computed"
)

// SourceType distinguishes plain datasources from datalabs embedded as sources.
type SourceType string

const (
	SourceTypeDatasource SourceType = "datasource"
	SourceTypeDatalab    SourceType = "datalab"
)

// Step is one stage of a datalab pipeline. Exactly one payload matches Type.
type Step struct {
	Type       StepType        `json:"type" yaml:"type"`
	Datasource *DatasourceStep `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	Form       string          `json:"form,omitempty" yaml:"form,omitempty"`
	Computed   *ComputedStep   `json:"computed,omitempty" yaml:"computed,omitempty"`
}

// Discrepancies records how primary/matching key mismatches were resolved when the step was designed.
// Assembly does not read it; it is stored so saved steps round-trip.
type Discrepancies struct {
	Primary  bool `json:"primary" yaml:"primary"`
	Matching bool `json:"matching" yaml:"matching"`
}

// DatasourceStep joins a source's fields onto the growing relation.
type DatasourceStep struct {
	ID            string               `json:"id" yaml:"id"`
	Primary       string               `json:"primary" yaml:"primary"`
	Matching      string               `json:"matching,omitempty" yaml:"matching,omitempty"`
	Fields        []string             `json:"fields" yaml:"fields"`
	Labels        map[string]string    `json:"labels,omitempty" yaml:"labels,omitempty"`
	Types         map[string]FieldType `json:"types,omitempty" yaml:"types,omitempty"`
	Discrepancies *Discrepancies       `json:"discrepencies,omitempty" yaml:"discrepencies,omitempty"`
	SourceType    SourceType           `json:"source_type,omitempty" yaml:"source_type,omitempty"`
}

// Label returns the display name of field, falling back to the field itself.
func (s DatasourceStep) Label(field string) string {
	if label, ok := s.Labels[field]; ok && label != "" {
		return label
	}
	return field
}

// Type returns the declared field type, defaulting to text.
func (s DatasourceStep) Type(field string) FieldType {
	if t, ok := s.Types[field]; ok && t != "" {
		return t
	}
	return FieldTypeText
}

func (s DatasourceStep) HasField(field string) bool {
	for _, candidate := range s.Fields {
		if candidate == field {
			return true
		}
	}
	return false
}

// ComputedStep adds derived columns evaluated row by row.
type ComputedStep struct {
	Fields []ComputedField `json:"fields" yaml:"fields"`
}

// ComputedField is one derived column.
type ComputedField struct {
	Name    string    `json:"name" yaml:"name"`
	Type    FieldType `json:"type,omitempty" yaml:"type,omitempty"`
	Formula Formula   `json:"formula" yaml:"formula"`
}

func (s ComputedStep) Field(name string) (ComputedField, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return ComputedField{}, false
}

// Validate checks that the payload matching Type is present.
func (s Step) Validate() error {
	switch s.Type {
	case StepDatasource:
		if s.Datasource == nil {
			return fmt.Errorf("datasource step missing configuration")
		}
		if s.Datasource.ID == "" {
			return fmt.Errorf("datasource step requires a source id")
		}
		if s.Datasource.Primary == "" {
			return fmt.Errorf("datasource step %s requires a primary key", s.Datasource.ID)
		}
	case StepForm:
		if s.Form == "" {
			return fmt.Errorf("form step requires a form id")
		}
	case StepComputed:
		if s.Computed == nil {
			return fmt.Errorf("computed step missing configuration")
		}
		for _, field := range s.Computed.Fields {
			if field.Name == "" {
				return fmt.Errorf("computed field requires a name")
			}
		}
	default:
		return fmt.Errorf("unsupported step type %q", s.Type)
	}
	return nil
}

// Lineage is the ordered list, one entry per step, of the labels that step contributed.
type Lineage [][]string

// Contains reports whether any step in the lineage contributed field.
func (l Lineage) Contains(field string) bool {
	for _, step := range l {
		for _, candidate := range step {
			if candidate == field {
				return true
			}
		}
	}
	return false
}

// Step returns the labels contributed by the step at index, or nil.
func (l Lineage) Step(index int) []string {
	if index < 0 || index >= len(l) {
		return nil
	}
	return l[index]
}

// Clone copies the lineage so callers can append without aliasing.
func (l Lineage) Clone() Lineage {
	cloned := make(Lineage, 0, len(l))
	for _, step := range l {
		cloned = append(cloned, append([]string(nil), step...))
	}
	return cloned
}

func StepsToJSON(steps []Step) (json.RawMessage, error) {
	if steps == nil {
		steps = []Step{}
	}
	return json.Marshal(steps)
}

func StepsFromJSON(data json.RawMessage) ([]Step, error) {
	if len(data) == 0 {
		return []Step{}, nil
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	if steps == nil {
		steps = []Step{}
	}
	return steps, nil
}
