package query

import (
	"sort"
	"strings"

	"github.com/rpattn/datalab/internal/domain"
)

type predicate func(domain.Record) bool

// columnPredicate builds the filter for one catalog column, or nil when the
// spec selects nothing for it. Filters are keyed by relation column label.
func columnPredicate(column domain.Column, spec domain.QuerySpec) predicate {
	if column.Type == domain.FieldTypeCheckboxGroup {
		selected := append([]string(nil), spec.CheckboxFilters[column.Label]...)
		for _, value := range spec.Filters[column.Label] {
			selected = append(selected, value.Text())
		}
		if len(selected) == 0 {
			return nil
		}
		return checkboxGroupPredicate(column.Label, selected, spec.CheckboxFilterModes[column.Label])
	}

	values := spec.Filters[column.Label]
	if len(values) == 0 {
		return nil
	}
	return valuePredicate(column, values)
}

// groupPredicate applies the filter rule of the group column's type with the
// group value as the only permitted value.
func groupPredicate(column domain.Column, group string) predicate {
	if column.Type == domain.FieldTypeCheckboxGroup {
		return checkboxGroupPredicate(column.Label, []string{group}, false)
	}
	return valuePredicate(column, []domain.Value{domain.String(group)})
}

func checkboxGroupPredicate(label string, options []string, all bool) predicate {
	subColumns := make([]string, 0, len(options))
	for _, option := range options {
		subColumns = append(subColumns, domain.CheckboxColumn(label, option))
	}
	return func(record domain.Record) bool {
		for _, sub := range subColumns {
			checked := record.Get(sub).Truthy()
			if all && !checked {
				return false
			}
			if !all && checked {
				return true
			}
		}
		return all
	}
}

func valuePredicate(column domain.Column, values []domain.Value) predicate {
	label := column.Label
	switch column.Type {
	case domain.FieldTypeList:
		wanted := textSet(values)
		return func(record domain.Record) bool {
			value := record.Get(label)
			if value.IsNull() {
				return false
			}
			matched := false
			for _, member := range value.Members() {
				if member.IsNull() {
					return false
				}
				if _, ok := wanted[member.Text()]; ok {
					matched = true
				}
			}
			return matched
		}
	case domain.FieldTypeCheckbox:
		var wanted []bool
		for _, value := range values {
			if b, ok := value.Bool(); ok {
				wanted = append(wanted, b)
			}
		}
		return func(record domain.Record) bool {
			checked, ok := record.Get(label).Bool()
			if !ok {
				return false
			}
			for _, b := range wanted {
				if b == checked {
					return true
				}
			}
			return false
		}
	case domain.FieldTypeDate:
		wanted := make(map[string]struct{}, len(values))
		for _, value := range values {
			if key, ok := value.DateKey(); ok {
				wanted[key] = struct{}{}
			}
		}
		return func(record domain.Record) bool {
			key, ok := record.Get(label).DateKey()
			if !ok {
				return false
			}
			_, matched := wanted[key]
			return matched
		}
	case domain.FieldTypeNumber:
		var wanted []float64
		for _, value := range values {
			if f, ok := value.Float(); ok {
				wanted = append(wanted, f)
			}
		}
		return func(record domain.Record) bool {
			value := record.Get(label)
			if value.IsBlank() {
				return false
			}
			f, ok := value.Float()
			if !ok {
				return false
			}
			for _, w := range wanted {
				if w == f {
					return true
				}
			}
			return false
		}
	default:
		wanted := textSet(values)
		return func(record domain.Record) bool {
			_, matched := wanted[record.Get(label).Text()]
			return matched
		}
	}
}

func textSet(values []domain.Value) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value.Text()] = struct{}{}
	}
	return set
}

// subColumns lists the checkbox-group sub-columns of column present in the
// relation, in option order. Without declared options they are discovered by prefix.
func subColumns(relation domain.Relation, column domain.Column) []string {
	if len(column.SubFields) == 0 {
		return relation.ColumnsWithPrefix(column.Label + domain.CheckboxSeparator)
	}
	var present []string
	for _, sub := range column.SubColumns() {
		if relation.HasColumn(sub) {
			present = append(present, sub)
		}
	}
	return present
}

// GetFilters returns the option domain of every catalog column, keyed by label.
func GetFilters(relation domain.Relation, catalog []domain.Column) map[string][]domain.FilterOption {
	filters := make(map[string][]domain.FilterOption, len(catalog))
	for _, column := range catalog {
		filters[column.Label] = ColumnFilter(relation, column)
	}
	return filters
}

// ColumnFilter returns the selectable options of one column. The result is
// never nil; a column absent from the relation has no options.
func ColumnFilter(relation domain.Relation, column domain.Column) []domain.FilterOption {
	options := []domain.FilterOption{}
	switch column.Type {
	case domain.FieldTypeList:
		listed := append([]domain.ListOption(nil), column.Options...)
		sort.SliceStable(listed, func(i, j int) bool { return listed[i].Label < listed[j].Label })
		for _, option := range listed {
			options = append(options, domain.FilterOption{Text: option.Label, Value: option.Value})
		}
		return options
	case domain.FieldTypeCheckbox:
		return append(options,
			domain.FilterOption{Text: "False", Value: domain.Bool(false)},
			domain.FilterOption{Text: "True", Value: domain.Bool(true)},
		)
	case domain.FieldTypeCheckboxGroup:
		prefix := column.Label + domain.CheckboxSeparator
		var names []string
		for _, sub := range subColumns(relation, column) {
			names = append(names, strings.TrimPrefix(sub, prefix))
		}
		sort.Strings(names)
		for _, name := range names {
			options = append(options, domain.FilterOption{Text: name, Value: domain.String(name)})
		}
		return options
	}

	if !relation.HasColumn(column.Label) {
		return options
	}

	switch column.Type {
	case domain.FieldTypeDate:
		seen := make(map[string]struct{})
		var keys []string
		for _, record := range relation.Records {
			key, ok := record.Get(column.Label).DateKey()
			if !ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			options = append(options, domain.FilterOption{Text: key, Value: domain.String(key)})
		}
	case domain.FieldTypeNumber:
		seen := make(map[float64]struct{})
		var numbers []float64
		for _, record := range relation.Records {
			value := record.Get(column.Label)
			if value.IsBlank() {
				continue
			}
			f, ok := value.Float()
			if !ok {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			numbers = append(numbers, f)
		}
		sort.Float64s(numbers)
		for _, f := range numbers {
			value := domain.Number(f)
			options = append(options, domain.FilterOption{Text: value.Text(), Value: value})
		}
	default:
		seen := make(map[string]struct{})
		var texts []string
		for _, record := range relation.Records {
			value := record.Get(column.Label)
			if value.IsBlank() {
				continue
			}
			text := value.Text()
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			texts = append(texts, text)
		}
		sort.Strings(texts)
		for _, text := range texts {
			options = append(options, domain.FilterOption{Text: text, Value: domain.String(text)})
		}
	}
	return options
}
