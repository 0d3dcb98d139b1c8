package domain

// FormulaKind tags a node of the computed-field expression tree.
type FormulaKind string

const (
	FormulaCondition  FormulaKind = "condition"
	FormulaAnd        FormulaKind = "and"
	FormulaOr         FormulaKind = "or"
	FormulaNot        FormulaKind = "not"
	FormulaAggregate  FormulaKind = "aggregate"
	FormulaField      FormulaKind = "field"
	FormulaExpression FormulaKind = "expression"
)

// Operator is the comparison applied by a condition node.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpBetween      Operator = "between"
	OpContains     Operator = "contains"
	OpIsNull       Operator = "IS_NULL"
	OpIsNotNull    Operator = "IS_NOT_NULL"
)

// AggregateFunc reduces several numeric fields of a row to one number.
type AggregateFunc string

const (
	AggregateSum     AggregateFunc = "sum"
	AggregateAverage AggregateFunc = "average"
	AggregateMin     AggregateFunc = "min"
	AggregateMax     AggregateFunc = "max"
	AggregateCount   AggregateFunc = "count"
)

// Formula is a typed expression tree evaluated against one assembled row.
//
//   - condition: Field Operator Comparator (Range holds the bounds of between)
//   - and / or / not: Children
//   - aggregate: Aggregate over Fields, or over the lineage entry at StepIndex
//   - field: the value of Field
//   - expression: a Starlark expression over the visible fields
type Formula struct {
	Kind       FormulaKind   `json:"kind" yaml:"kind"`
	Field      string        `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Comparator Value         `json:"comparator,omitempty" yaml:"comparator,omitempty"`
	Range      []Value       `json:"range,omitempty" yaml:"range,omitempty"`
	Children   []Formula     `json:"children,omitempty" yaml:"children,omitempty"`
	Aggregate  AggregateFunc `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	StepIndex  *int          `json:"stepIndex,omitempty" yaml:"stepIndex,omitempty"`
	Fields     []string      `json:"fields,omitempty" yaml:"fields,omitempty"`
	Expression string        `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// BooleanValued reports whether the formula always yields a boolean.
func (f Formula) BooleanValued() bool {
	switch f.Kind {
	case FormulaCondition, FormulaAnd, FormulaOr, FormulaNot:
		return true
	default:
		return false
	}
}

// ResultType is the field type a computed column takes when none is declared.
func (f Formula) ResultType() FieldType {
	switch {
	case f.BooleanValued():
		return FieldTypeCheckbox
	case f.Kind == FormulaAggregate:
		return FieldTypeNumber
	default:
		return FieldTypeText
	}
}
