package redispoco

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Filter maps indexed attribute names to the condition their values must
// meet. Conditions on attributes the Store does not index are ignored.
// A record matches when it meets every condition.
type Filter map[string]Condition

// ConditionKind tells how a Condition is evaluated.
type ConditionKind int

const (
	// MatchAll requires every listed value to be indexed for the record.
	MatchAll ConditionKind = iota
	// MatchAny requires at least one listed value.
	MatchAny
	// MatchRange requires a numeric value inside a Range.
	MatchRange
)

// Condition is the constraint a Filter places on one attribute.
type Condition struct {
	kind   ConditionKind
	values []Scalar
	rng    Range
	err    error
}

// Eq matches records whose attribute holds every one of values. A single
// value is a plain equality test; several values require an array
// attribute containing all of them.
func Eq(values ...any) Condition {
	return scalarCondition(MatchAll, values)
}

// In matches records whose attribute holds at least one of values.
func In(values ...any) Condition {
	return scalarCondition(MatchAny, values)
}

// Between matches numeric values in [min, max].
func Between(min, max int64) Condition {
	return Condition{kind: MatchRange, rng: Range{Min: &min, Max: &max}}
}

// AtLeast matches numeric values >= min.
func AtLeast(min int64) Condition {
	return Condition{kind: MatchRange, rng: Range{Min: &min}}
}

// AtMost matches numeric values <= max.
func AtMost(max int64) Condition {
	return Condition{kind: MatchRange, rng: Range{Max: &max}}
}

// InRange matches numeric values inside r.
func InRange(r Range) Condition {
	return Condition{kind: MatchRange, rng: r}
}

func scalarCondition(kind ConditionKind, values []any) Condition {
	c := Condition{kind: kind, values: make([]Scalar, 0, len(values))}
	for _, v := range values {
		s, ok := ScalarOf(v)
		if !ok {
			c.err = fmt.Errorf("value %v is not a string, number or bool", v)
			return c
		}
		c.values = append(c.values, s)
	}
	return c
}

// Kind returns how the condition is evaluated.
func (c Condition) Kind() ConditionKind { return c.kind }

// Values returns the exact values of a MatchAll or MatchAny condition.
func (c Condition) Values() []Scalar { return append([]Scalar(nil), c.values...) }

// Range returns the bounds of a MatchRange condition.
func (c Condition) Range() Range { return c.rng }

// Matches evaluates the condition against a raw attribute value without
// touching any index. Numeric ranges only match numeric elements. The
// range index holds the last number of an array, so Store.Filter can miss
// an array whose earlier numbers are the only ones in range.
func (c Condition) Matches(v any) bool {
	elems, ok := attributeScalars(v)
	if !ok || c.err != nil {
		return false
	}
	has := func(want Scalar) bool {
		for _, e := range elems {
			if e.String() == want.String() {
				return true
			}
		}
		return false
	}

	switch c.kind {
	case MatchRange:
		for _, e := range elems {
			if e.Numeric() && c.rng.Contains(e.Num) {
				return true
			}
		}
		return false
	case MatchAny:
		for _, want := range c.values {
			if has(want) {
				return true
			}
		}
		return false
	default:
		for _, want := range c.values {
			if !has(want) {
				return false
			}
		}
		return true
	}
}

func (c Condition) String() string {
	switch c.kind {
	case MatchRange:
		return c.rng.String()
	case MatchAny:
		return "in" + scalarList(c.values)
	default:
		return "eq" + scalarList(c.values)
	}
}

func scalarList(values []Scalar) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Range bounds a numeric attribute. A nil bound is unbounded on that side.
// Both bounds are inclusive.
type Range struct {
	Min *int64
	Max *int64
}

// Contains reports whether f lies within the range.
func (r Range) Contains(f float64) bool {
	if r.Min != nil && f < float64(*r.Min) {
		return false
	}
	if r.Max != nil && f > float64(*r.Max) {
		return false
	}
	return true
}

func (r Range) String() string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = fmt.Sprint(*r.Min)
	}
	if r.Max != nil {
		hi = fmt.Sprint(*r.Max)
	}
	return "[" + lo + "," + hi + "]"
}

// Attributes returns the filter's attribute names, sorted.
func (f Filter) Attributes() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Matches evaluates the filter against a record without touching any
// index, considering only the given attributes.
func (f Filter) Matches(attributes []string, rec Record) bool {
	for _, attr := range attributes {
		cond, ok := f[attr]
		if !ok {
			continue
		}
		if !cond.Matches(rec[attr]) {
			return false
		}
	}
	return true
}

// ParseFilterJSON decodes a JSON filter expression. See ParseFilter.
func ParseFilterJSON(data []byte) (Filter, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, WithContext(ErrInvalidFilter, map[string]interface{}{"reason": err.Error()})
	}
	return ParseFilter(v)
}

// ParseFilter converts a JSON-like filter expression into a Filter.
//
// The expression must be an object. Each attribute maps to:
//   - a scalar: exact match
//   - an array of scalars: the attribute must hold all of them
//   - an object {"min": n, "max": m}: numeric range, either bound optional
//
// Null attribute values are ignored. Range bounds are coerced to integers,
// min rounding up and max rounding down.
func ParseFilter(expr any) (Filter, error) {
	var obj map[string]any
	switch e := expr.(type) {
	case Filter:
		return e, nil
	case map[string]any:
		obj = e
	case Record:
		obj = e
	default:
		return nil, WithContext(ErrInvalidFilter, map[string]interface{}{
			"reason": fmt.Sprintf("expected object, got %s", jsonKind(expr)),
		})
	}

	f := make(Filter, len(obj))
	for attr, raw := range obj {
		if raw == nil {
			continue
		}
		cond, err := parseCondition(raw)
		if err != nil {
			return nil, WithContext(ErrInvalidFilter, map[string]interface{}{
				"attribute": attr,
				"reason":    err.Error(),
			})
		}
		f[attr] = cond
	}
	return f, nil
}

func parseCondition(raw any) (Condition, error) {
	if bounds, ok := raw.(map[string]any); ok {
		return parseRange(bounds)
	}
	if _, ok := ScalarOf(raw); ok {
		return Eq(raw), nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return Condition{}, fmt.Errorf("unsupported value %v", raw)
	}
	values := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if elem := rv.Index(i).Interface(); elem != nil {
			values = append(values, elem)
		}
	}
	cond := Eq(values...)
	return cond, cond.err
}

func parseRange(bounds map[string]any) (Condition, error) {
	var r Range
	for name, raw := range bounds {
		if raw == nil {
			continue
		}
		s, ok := ScalarOf(raw)
		if !ok || !s.Numeric() {
			return Condition{}, fmt.Errorf("bound %s must be a number, got %v", name, raw)
		}
		switch name {
		case "min":
			v := clampInt64(math.Ceil(s.Num))
			r.Min = &v
		case "max":
			v := clampInt64(math.Floor(s.Num))
			r.Max = &v
		default:
			return Condition{}, fmt.Errorf("unknown range bound %q", name)
		}
	}
	return InRange(r), nil
}

func clampInt64(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}
