package domain

import (
	"sort"
	"strings"
)

// CheckboxSeparator joins a checkbox-group label and one of its options.
const CheckboxSeparator = "__"

// CheckboxColumn names the boolean sub-column of a checkbox-group option.
func CheckboxColumn(label, option string) string {
	return label + CheckboxSeparator + option
}

// Record maps column names to values. Missing keys read as null.
type Record map[string]Value

// Get returns the value stored under column, or null when the column is missing.
func (r Record) Get(column string) Value {
	if r == nil {
		return Null()
	}
	return r[column]
}

// Clone returns a shallow copy; values are immutable so this is a full copy.
func (r Record) Clone() Record {
	cloned := make(Record, len(r))
	for k, v := range r {
		cloned[k] = v
	}
	return cloned
}

// RecordsFromMaps converts decoded JSON/YAML rows into records.
func RecordsFromMaps(rows []map[string]any) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record := make(Record, len(row))
		for k, v := range row {
			record[k] = FromAny(v)
		}
		records = append(records, record)
	}
	return records
}

// Relation is an ordered table of records with an ordered, unique column list.
type Relation struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// NewRelation builds a relation from records, deriving columns in first-seen
// order when none are given. Keys inside a record are visited sorted so the
// derived order is deterministic.
func NewRelation(columns []string, records []Record) Relation {
	rel := Relation{Records: records}
	for _, column := range columns {
		rel.AddColumn(column)
	}
	if len(columns) == 0 {
		for _, record := range records {
			for _, key := range sortedKeys(record) {
				rel.AddColumn(key)
			}
		}
	}
	if rel.Records == nil {
		rel.Records = []Record{}
	}
	return rel
}

func (r Relation) Len() int { return len(r.Records) }

func (r Relation) HasColumn(name string) bool {
	for _, column := range r.Columns {
		if column == name {
			return true
		}
	}
	return false
}

// AddColumn appends name to the column list and reports whether it was new.
func (r *Relation) AddColumn(name string) bool {
	if r.HasColumn(name) {
		return false
	}
	r.Columns = append(r.Columns, name)
	return true
}

// ColumnsWithPrefix returns the columns starting with prefix, in column order.
func (r Relation) ColumnsWithPrefix(prefix string) []string {
	var matched []string
	for _, column := range r.Columns {
		if strings.HasPrefix(column, prefix) {
			matched = append(matched, column)
		}
	}
	return matched
}

func (r Relation) Clone() Relation {
	cloned := Relation{
		Columns: append([]string(nil), r.Columns...),
		Records: make([]Record, 0, len(r.Records)),
	}
	for _, record := range r.Records {
		cloned.Records = append(cloned.Records, record.Clone())
	}
	return cloned
}

// Normalize gives every record every column, collapses missing values to
// the single null sentinel and coerces the listed boolean columns to false
// when they hold no true value.
func (r Relation) Normalize(booleanColumns []string) Relation {
	booleans := make(map[string]struct{}, len(booleanColumns))
	for _, column := range booleanColumns {
		booleans[column] = struct{}{}
	}
	normalized := Relation{
		Columns: append([]string(nil), r.Columns...),
		Records: make([]Record, 0, len(r.Records)),
	}
	for _, record := range r.Records {
		row := make(Record, len(r.Columns))
		for _, column := range r.Columns {
			value := record.Get(column)
			if value.Kind() == KindNumber {
				value = Number(value.num)
			}
			if _, ok := booleans[column]; ok {
				value = Bool(value.Truthy())
			}
			row[column] = value
		}
		normalized.Records = append(normalized.Records, row)
	}
	return normalized
}

func sortedKeys(record Record) []string {
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
