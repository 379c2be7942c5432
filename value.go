package redispoco

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Record is a JSON-like object stored under its identifier attribute.
type Record map[string]any

// ScalarKind tags the variant held by a Scalar.
type ScalarKind int

const (
	StringScalar ScalarKind = iota
	NumberScalar
	BoolScalar
)

// Scalar is a single indexable attribute element.
//
// Numbers feed both the exact-match set and the range structure of their
// attribute; strings and booleans only the exact-match set.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  float64
	Bool bool
}

// String wraps s as a Scalar.
func String(s string) Scalar { return Scalar{Kind: StringScalar, Str: s} }

// Number wraps f as a Scalar.
func Number(f float64) Scalar { return Scalar{Kind: NumberScalar, Num: f} }

// Bool wraps b as a Scalar.
func Bool(b bool) Scalar { return Scalar{Kind: BoolScalar, Bool: b} }

// Numeric reports whether the scalar belongs in a range structure.
func (s Scalar) Numeric() bool { return s.Kind == NumberScalar }

// String renders the scalar as it appears in exact-match set keys.
func (s Scalar) String() string {
	switch s.Kind {
	case NumberScalar:
		return formatNumber(s.Num)
	case BoolScalar:
		return strconv.FormatBool(s.Bool)
	default:
		return s.Str
	}
}

// Value returns the scalar as a plain Go value.
func (s Scalar) Value() any {
	switch s.Kind {
	case NumberScalar:
		return s.Num
	case BoolScalar:
		return s.Bool
	default:
		return s.Str
	}
}

// formatNumber renders integral values without a fraction or exponent
// ("26", "-3") and others in shortest form ("26.5"). Scores read back from
// a sorted set go through the same function, so aliases line up with the
// sets the indexer wrote.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ScalarOf classifies a plain Go value. ok is false for nil, objects,
// arrays and non-finite numbers.
func ScalarOf(v any) (s Scalar, ok bool) {
	switch x := v.(type) {
	case string:
		return String(x), true
	case bool:
		return Bool(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String()), true
		}
		return finite(f)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return Number(float64(x)), true
	case int8:
		return Number(float64(x)), true
	case int16:
		return Number(float64(x)), true
	case int32:
		return Number(float64(x)), true
	case int64:
		return Number(float64(x)), true
	case uint:
		return Number(float64(x)), true
	case uint8:
		return Number(float64(x)), true
	case uint16:
		return Number(float64(x)), true
	case uint32:
		return Number(float64(x)), true
	case uint64:
		return Number(float64(x)), true
	case Scalar:
		return x, true
	}
	return Scalar{}, false
}

func finite(f float64) (Scalar, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Scalar{}, false
	}
	return Number(f), true
}

// attributeScalars normalizes an attribute value to its elements.
// A scalar becomes a single element, nil elements are dropped and an
// absent value yields no elements. ok is false when the value (or any
// element) is an object or a nested array.
func attributeScalars(v any) (elems []Scalar, ok bool) {
	if v == nil {
		return nil, true
	}
	if s, ok := ScalarOf(v); ok {
		return []Scalar{s}, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	elems = make([]Scalar, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if elem == nil {
			continue
		}
		s, ok := ScalarOf(elem)
		if !ok {
			return nil, false
		}
		elems = append(elems, s)
	}
	return elems, true
}

// identifierOf renders a record identifier: a non-empty string, or a
// number in key format.
func identifierOf(v any) (string, bool) {
	s, ok := ScalarOf(v)
	if !ok {
		return "", false
	}
	switch s.Kind {
	case StringScalar:
		return s.Str, s.Str != ""
	case NumberScalar:
		return s.String(), true
	}
	return "", false
}
