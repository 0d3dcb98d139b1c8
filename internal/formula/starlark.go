package formula

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rpattn/datalab/internal/domain"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// evaluateExpression runs a Starlark expression with every lineage-visible
// field of the row bound twice: as a global when the name is a valid
// identifier, and under row["<name>"] for any name.
func (e *Evaluator) evaluateExpression(ctx context.Context, expression string, row domain.Record, lineage domain.Lineage) (domain.Value, error) {
	if expression == "" {
		return domain.Null(), fmt.Errorf("%w: empty expression", ErrUnsupportedFormula)
	}

	names := make([]string, 0, len(row))
	for name := range row {
		if lineage.Contains(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rowDict := starlark.NewDict(len(names))
	env := starlark.StringDict{}
	for _, name := range names {
		value := toStarlark(row[name])
		if err := rowDict.SetKey(starlark.String(name), value); err != nil {
			return domain.Null(), fmt.Errorf("bind %q: %w", name, err)
		}
		if isIdentifier(name) {
			env[name] = value
		}
	}
	rowDict.Freeze()
	env["row"] = rowDict

	thread := &starlark.Thread{Name: "computed-field"}
	thread.SetMaxExecutionSteps(e.maxSteps)

	var result starlark.Value
	err := runWithDeadline(ctx, thread, e.timeout, func() error {
		value, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "formula", expression, env)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return domain.Null(), err
	}
	return fromStarlark(result), nil
}

func runWithDeadline(ctx context.Context, thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("expression timed out")
		<-done
		return fmt.Errorf("expression timed out after %s", timeout)
	case <-ctx.Done():
		thread.Cancel("context canceled")
		<-done
		return ctx.Err()
	}
}

func toStarlark(value domain.Value) starlark.Value {
	switch value.Kind() {
	case domain.KindString, domain.KindDate:
		return starlark.String(value.Text())
	case domain.KindNumber:
		f, _ := value.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return starlark.MakeInt64(int64(f))
		}
		return starlark.Float(f)
	case domain.KindBool:
		b, _ := value.Bool()
		return starlark.Bool(b)
	case domain.KindList:
		members := value.Members()
		items := make([]starlark.Value, 0, len(members))
		for _, member := range members {
			items = append(items, toStarlark(member))
		}
		return starlark.NewList(items)
	default:
		return starlark.None
	}
}

func fromStarlark(value starlark.Value) domain.Value {
	switch v := value.(type) {
	case nil, starlark.NoneType:
		return domain.Null()
	case starlark.Bool:
		return domain.Bool(bool(v))
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return domain.Number(float64(i))
		}
		return domain.Number(float64(v.Float()))
	case starlark.Float:
		return domain.Number(float64(v))
	case starlark.String:
		return domain.String(string(v))
	case starlark.Indexable:
		items := make([]domain.Value, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			items = append(items, fromStarlark(v.Index(i)))
		}
		return domain.List(items...)
	default:
		return domain.String(value.String())
	}
}

var starlarkKeywords = map[string]struct{}{
	"and": {}, "break": {}, "continue": {}, "def": {}, "elif": {}, "else": {}, "for": {},
	"if": {}, "in": {}, "lambda": {}, "load": {}, "not": {}, "or": {}, "pass": {},
	"return": {}, "while": {}, "as": {}, "assert": {}, "class": {}, "del": {}, "except": {},
	"finally": {}, "from": {}, "global": {}, "import": {}, "is": {}, "nonlocal": {},
	"raise": {}, "try": {}, "with": {}, "yield": {}, "True": {}, "False": {}, "None": {},
}

func isIdentifier(name string) bool {
	if name == "" || name == "row" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	_, reserved := starlarkKeywords[name]
	return !reserved
}
