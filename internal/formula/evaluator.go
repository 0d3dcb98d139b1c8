// Package formula evaluates computed-field expression trees against assembled rows.
package formula

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rpattn/datalab/internal/domain"
)

const (
	defaultMaxSteps = uint64(50_000)
	defaultTimeout  = 2 * time.Second
)

// ErrUnsupportedFormula is returned for unknown node kinds, operators or aggregates.
var ErrUnsupportedFormula = errors.New("unsupported formula")

// Evaluator is the default formula evaluator. It is stateless apart from its
// limits and safe for concurrent use.
type Evaluator struct {
	maxSteps uint64
	timeout  time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxSteps bounds the Starlark execution steps of one expression.
func WithMaxSteps(steps uint64) Option {
	return func(e *Evaluator) {
		if steps > 0 {
			e.maxSteps = steps
		}
	}
}

// WithTimeout bounds the wall time of one Starlark expression.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Evaluator) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// NewEvaluator constructs a formula evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	evaluator := &Evaluator{maxSteps: defaultMaxSteps, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator
}

// Evaluate computes formula for row. Fields are only visible when the lineage
// contains them; a condition over an invisible or absent field is false.
func (e *Evaluator) Evaluate(ctx context.Context, formula domain.Formula, row domain.Record, lineage domain.Lineage, aux map[string]any) (domain.Value, error) {
	switch formula.Kind {
	case domain.FormulaCondition:
		passed, err := evaluateCondition(formula, row, lineage)
		if err != nil {
			return domain.Null(), err
		}
		return domain.Bool(passed), nil
	case domain.FormulaAnd, domain.FormulaOr:
		if len(formula.Children) == 0 {
			return domain.Null(), fmt.Errorf("%w: %s node without children", ErrUnsupportedFormula, formula.Kind)
		}
		for _, child := range formula.Children {
			value, err := e.Evaluate(ctx, child, row, lineage, aux)
			if err != nil {
				return domain.Null(), err
			}
			passed := value.Truthy()
			if formula.Kind == domain.FormulaAnd && !passed {
				return domain.Bool(false), nil
			}
			if formula.Kind == domain.FormulaOr && passed {
				return domain.Bool(true), nil
			}
		}
		return domain.Bool(formula.Kind == domain.FormulaAnd), nil
	case domain.FormulaNot:
		if len(formula.Children) != 1 {
			return domain.Null(), fmt.Errorf("%w: not node requires exactly one child", ErrUnsupportedFormula)
		}
		value, err := e.Evaluate(ctx, formula.Children[0], row, lineage, aux)
		if err != nil {
			return domain.Null(), err
		}
		return domain.Bool(!value.Truthy()), nil
	case domain.FormulaAggregate:
		return evaluateAggregate(formula, row, lineage)
	case domain.FormulaField:
		value, ok := lookup(row, lineage, formula.Field)
		if !ok {
			return domain.Null(), nil
		}
		return value, nil
	case domain.FormulaExpression:
		return e.evaluateExpression(ctx, formula.Expression, row, lineage)
	default:
		return domain.Null(), fmt.Errorf("%w: kind %q", ErrUnsupportedFormula, formula.Kind)
	}
}

func lookup(row domain.Record, lineage domain.Lineage, field string) (domain.Value, bool) {
	if !lineage.Contains(field) {
		return domain.Null(), false
	}
	value, ok := row[field]
	return value, ok
}

func evaluateCondition(formula domain.Formula, row domain.Record, lineage domain.Lineage) (bool, error) {
	value, ok := lookup(row, lineage, formula.Field)
	if !ok {
		return false, nil
	}

	switch formula.Operator {
	case domain.OpIsNull:
		return value.IsBlank(), nil
	case domain.OpIsNotNull:
		return !value.IsBlank(), nil
	case domain.OpEqual:
		return equalValues(value, formula.Comparator), nil
	case domain.OpNotEqual:
		return !equalValues(value, formula.Comparator), nil
	case domain.OpLess, domain.OpLessEqual, domain.OpGreater, domain.OpGreaterEqual:
		cmp, ok := compareValues(value, formula.Comparator)
		if !ok {
			return false, nil
		}
		switch formula.Operator {
		case domain.OpLess:
			return cmp < 0, nil
		case domain.OpLessEqual:
			return cmp <= 0, nil
		case domain.OpGreater:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case domain.OpBetween:
		if len(formula.Range) != 2 {
			return false, fmt.Errorf("%w: between requires two bounds", ErrUnsupportedFormula)
		}
		lower, ok := compareValues(value, formula.Range[0])
		if !ok {
			return false, nil
		}
		upper, ok := compareValues(value, formula.Range[1])
		if !ok {
			return false, nil
		}
		return lower >= 0 && upper <= 0, nil
	case domain.OpContains:
		needle := strings.ToLower(formula.Comparator.Text())
		if value.Kind() == domain.KindList {
			for _, member := range value.Members() {
				if strings.ToLower(member.Text()) == needle {
					return true, nil
				}
			}
			return false, nil
		}
		if value.IsNull() {
			return false, nil
		}
		return strings.Contains(strings.ToLower(value.Text()), needle), nil
	default:
		return false, fmt.Errorf("%w: operator %q", ErrUnsupportedFormula, formula.Operator)
	}
}

func equalValues(left, right domain.Value) bool {
	if left.IsNull() || right.IsNull() {
		return left.IsNull() && right.IsNull()
	}
	if cmp, ok := compareValues(left, right); ok {
		return cmp == 0
	}
	return left.Text() == right.Text()
}

// compareValues orders numbers numerically, dates chronologically and
// everything else by text. Null never compares.
func compareValues(left, right domain.Value) (int, bool) {
	if left.IsNull() || right.IsNull() {
		return 0, false
	}
	if l, ok := left.Float(); ok {
		if r, ok := right.Float(); ok {
			switch {
			case l < r:
				return -1, true
			case l > r:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if l, ok := left.Time(); ok {
		if r, ok := right.Time(); ok {
			return l.Compare(r), true
		}
	}
	if left.Kind() == domain.KindBool || right.Kind() == domain.KindBool {
		lb, lok := left.Bool()
		rb, rok := right.Bool()
		if !lok || !rok {
			return 0, false
		}
		if lb == rb {
			return 0, true
		}
		if !lb {
			return -1, true
		}
		return 1, true
	}
	return strings.Compare(left.Text(), right.Text()), true
}

func evaluateAggregate(formula domain.Formula, row domain.Record, lineage domain.Lineage) (domain.Value, error) {
	fields := formula.Fields
	if len(fields) == 0 && formula.StepIndex != nil {
		fields = lineage.Step(*formula.StepIndex)
	}

	var numbers []float64
	for _, field := range fields {
		value, ok := lookup(row, lineage, field)
		if !ok {
			continue
		}
		if f, ok := value.Float(); ok && value.Kind() != domain.KindBool {
			numbers = append(numbers, f)
		}
	}

	if formula.Aggregate == domain.AggregateCount {
		return domain.Number(float64(len(numbers))), nil
	}
	if len(numbers) == 0 {
		switch formula.Aggregate {
		case domain.AggregateSum, domain.AggregateAverage, domain.AggregateMin, domain.AggregateMax:
			return domain.Null(), nil
		}
	}

	switch formula.Aggregate {
	case domain.AggregateSum, domain.AggregateAverage:
		total := 0.0
		for _, n := range numbers {
			total += n
		}
		if formula.Aggregate == domain.AggregateAverage {
			return domain.Number(total / float64(len(numbers))), nil
		}
		return domain.Number(total), nil
	case domain.AggregateMin:
		result := math.Inf(1)
		for _, n := range numbers {
			result = math.Min(result, n)
		}
		return domain.Number(result), nil
	case domain.AggregateMax:
		result := math.Inf(-1)
		for _, n := range numbers {
			result = math.Max(result, n)
		}
		return domain.Number(result), nil
	default:
		return domain.Null(), fmt.Errorf("%w: aggregate %q", ErrUnsupportedFormula, formula.Aggregate)
	}
}
