package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ValueKind enumerates the variants a cell value can take.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindDate   ValueKind = "date"
	KindList   ValueKind = "list"
)

// DateLayout is the canonical rendering used for date filtering, sorting and options.
const DateLayout = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006/01/02",
	"01/02/2006",
}

// Value is a single relation cell. The zero value is null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	t    time.Time
	list []Value
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value; NaN collapses to null.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Null()
	}
	return Value{kind: KindNumber, num: f}
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Date(t time.Time) Value {
	if t.IsZero() {
		return Null()
	}
	return Value{kind: KindDate, t: t}
}

func List(values ...Value) Value {
	cloned := make([]Value, len(values))
	copy(cloned, values)
	return Value{kind: KindList, list: cloned}
}

// FromAny converts decoded JSON/YAML values and Go scalars into a Value.
func FromAny(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case Value:
		return val
	case *Value:
		if val == nil {
			return Null()
		}
		return *val
	case string:
		return String(val)
	case *string:
		if val == nil {
			return Null()
		}
		return String(*val)
	case bool:
		return Bool(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Number(float64(val))
	case int8:
		return Number(float64(val))
	case int16:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case uint:
		return Number(float64(val))
	case uint8:
		return Number(float64(val))
	case uint16:
		return Number(float64(val))
	case uint32:
		return Number(float64(val))
	case uint64:
		return Number(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return String(val.String())
		}
		return Number(f)
	case time.Time:
		return Date(val)
	case []Value:
		return List(val...)
	case []any:
		items := make([]Value, 0, len(val))
		for _, item := range val {
			items = append(items, FromAny(item))
		}
		return Value{kind: KindList, list: items}
	case []string:
		items := make([]Value, 0, len(val))
		for _, item := range val {
			items = append(items, String(item))
		}
		return Value{kind: KindList, list: items}
	case fmt.Stringer:
		return String(val.String())
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, FromAny(rv.Index(i).Interface()))
		}
		return Value{kind: KindList, list: items}
	}
	return String(fmt.Sprintf("%v", v))
}

func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

func (v Value) IsNull() bool { return v.Kind() == KindNull }

// IsBlank reports null values and strings that are empty after trimming.
func (v Value) IsBlank() bool {
	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	default:
		return false
	}
}

// Text returns the canonical stringified form used for equality, search and default sorting.
func (v Value) Text() string {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		utc := v.t.UTC()
		if utc.Hour() == 0 && utc.Minute() == 0 && utc.Second() == 0 && utc.Nanosecond() == 0 {
			return utc.Format(DateLayout)
		}
		return v.t.Format(time.RFC3339)
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.Text())
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func (v Value) String() string { return v.Text() }

// Float parses the value as a number. Blank strings and non-numeric values report false.
func (v Value) Float() (float64, bool) {
	switch v.Kind() {
	case KindNumber:
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		trimmed := strings.TrimSpace(v.str)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Bool interprets the value as a boolean. Null reports false, false.
func (v Value) Bool() (bool, bool) {
	switch v.Kind() {
	case KindBool:
		return v.b, true
	case KindNumber:
		return v.num != 0, true
	case KindString:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v.str))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// Truthy is the boolean used by checkbox-group sub-columns: anything that is not a true boolean is false.
func (v Value) Truthy() bool {
	b, ok := v.Bool()
	return ok && b
}

// Time parses the value as a date using the known layouts.
func (v Value) Time() (time.Time, bool) {
	switch v.Kind() {
	case KindDate:
		return v.t, true
	case KindString:
		trimmed := strings.TrimSpace(v.str)
		if trimmed == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, trimmed); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// DateKey renders the value as YYYY-MM-DD when it can be parsed as a date.
func (v Value) DateKey() (string, bool) {
	t, ok := v.Time()
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// Members returns list elements, or the value itself for scalars.
func (v Value) Members() []Value {
	if v.Kind() == KindList {
		return v.list
	}
	return []Value{v}
}

// Interface returns the natural Go representation of the value.
func (v Value) Interface() any {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	case KindList:
		items := make([]any, 0, len(v.list))
		for _, item := range v.list {
			items = append(items, item.Interface())
		}
		return items
	default:
		return nil
	}
}

// Equal compares kind and content.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindDate:
		return v.t.Equal(other.t)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	default:
		return v.Text() == other.Text()
	}
}

// Key is a join key: values that print the same join together, null has no key.
func (v Value) Key() (string, bool) {
	if v.IsNull() {
		return "", false
	}
	return v.Text(), true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindNumber:
		if math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindDate:
		return json.Marshal(v.Text())
	default:
		return json.Marshal(v.Interface())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// UnmarshalYAML decodes a YAML scalar or sequence through FromAny.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
