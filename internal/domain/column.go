package domain

// FieldType drives per-type filtering, sorting, searching and option discovery.
type FieldType string

const (
	FieldTypeText          FieldType = "text"
	FieldTypeNumber        FieldType = "number"
	FieldTypeDate          FieldType = "date"
	FieldTypeCheckbox      FieldType = "checkbox"
	FieldTypeList          FieldType = "list"
	FieldTypeCheckboxGroup FieldType = "checkbox-group"
)

// Normalize maps unknown and empty types to text.
func (t FieldType) Normalize() FieldType {
	switch t {
	case FieldTypeNumber, FieldTypeDate, FieldTypeCheckbox, FieldTypeList, FieldTypeCheckboxGroup:
		return t
	default:
		return FieldTypeText
	}
}

// ListOption is one enumerated choice of a list field.
type ListOption struct {
	Label string `json:"label" yaml:"label"`
	Value Value  `json:"value" yaml:"value"`
}

// OrderItem is a persisted display-order entry of a datalab.
type OrderItem struct {
	StepIndex int    `json:"stepIndex" yaml:"stepIndex"`
	Field     string `json:"field" yaml:"field"`
	Visible   bool   `json:"visible" yaml:"visible"`
	Pinned    bool   `json:"pinned" yaml:"pinned"`
}

// Column is a resolved catalog entry.
type Column struct {
	Field     string       `json:"field"`
	Label     string       `json:"label"`
	Type      FieldType    `json:"field_type"`
	StepIndex int          `json:"stepIndex"`
	Visible   bool         `json:"visible"`
	Pinned    bool         `json:"pinned"`
	Options   []ListOption `json:"options"`
	SubFields []string     `json:"fields"`
}

// SubColumns returns the flattened boolean column names of a checkbox-group column.
func (c Column) SubColumns() []string {
	names := make([]string, 0, len(c.SubFields))
	for _, option := range c.SubFields {
		names = append(names, CheckboxColumn(c.Label, option))
	}
	return names
}

// FindColumn looks a column up by its relation label.
func FindColumn(columns []Column, label string) (Column, bool) {
	for _, column := range columns {
		if column.Label == label {
			return column, true
		}
	}
	return Column{}, false
}
