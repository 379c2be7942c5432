package redispoco

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// ParseWhere builds a Filter from a SQL WHERE clause, for callers that
// would rather type
//
//	color = 'red' AND size BETWEEN 10 AND 20 AND tag IN ('a', 'b')
//
// than assemble a Filter. Supported predicates, joined with AND:
//   - col = value            exact match (strings quoted, numbers, TRUE/FALSE)
//   - col IN (v1, v2, ...)   any of the values
//   - col BETWEEN lo AND hi  inclusive numeric range
//   - col >, >=, <, <= n     numeric range; strict bounds step by one
//
// Several '=' on one column require all values; several range predicates
// on one column narrow the range. OR, negations and anything else fail with
// ErrInvalidFilter.
func ParseWhere(where string) (Filter, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, WithContext(ErrInvalidFilter, map[string]interface{}{"reason": "empty WHERE clause"})
	}

	stmt, err := sqlparser.Parse("select * from t where " + where)
	if err != nil {
		return nil, WithContext(ErrInvalidFilter, map[string]interface{}{
			"where":  where,
			"reason": err.Error(),
		})
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return nil, WithContext(ErrInvalidFilter, map[string]interface{}{
			"where":  where,
			"reason": "not a WHERE clause",
		})
	}

	b := &whereBuilder{filter: make(Filter)}
	if err := b.add(sel.Where.Expr); err != nil {
		return nil, WithContext(ErrInvalidFilter, map[string]interface{}{
			"where":  where,
			"reason": err.Error(),
		})
	}
	return b.filter, nil
}

type whereBuilder struct {
	filter Filter
}

func (b *whereBuilder) add(expr sqlparser.Expr) error {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		if err := b.add(e.Left); err != nil {
			return err
		}
		return b.add(e.Right)
	case *sqlparser.ParenExpr:
		return b.add(e.Expr)
	case *sqlparser.ComparisonExpr:
		return b.addComparison(e)
	case *sqlparser.RangeCond:
		if e.Operator != sqlparser.BetweenStr {
			return fmt.Errorf("unsupported operator %q", e.Operator)
		}
		col, err := columnName(e.Left)
		if err != nil {
			return err
		}
		lo, err := numericLiteral(e.From)
		if err != nil {
			return err
		}
		hi, err := numericLiteral(e.To)
		if err != nil {
			return err
		}
		min, max := clampInt64(math.Ceil(lo)), clampInt64(math.Floor(hi))
		return b.narrow(col, Range{Min: &min, Max: &max})
	case *sqlparser.OrExpr:
		return fmt.Errorf("OR is not supported, use IN")
	}
	return fmt.Errorf("unsupported expression %s", sqlparser.String(expr))
}

func (b *whereBuilder) addComparison(e *sqlparser.ComparisonExpr) error {
	col, err := columnName(e.Left)
	if err != nil {
		return err
	}

	switch e.Operator {
	case sqlparser.EqualStr:
		v, err := literal(e.Right)
		if err != nil {
			return err
		}
		return b.equal(col, v)

	case sqlparser.InStr:
		tuple, ok := e.Right.(sqlparser.ValTuple)
		if !ok {
			return fmt.Errorf("IN needs a value list")
		}
		values := make([]any, 0, len(tuple))
		for _, item := range tuple {
			v, err := literal(item)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		if _, exists := b.filter[col]; exists {
			return fmt.Errorf("column %s has more than one condition", col)
		}
		b.filter[col] = In(values...)
		return nil

	case sqlparser.GreaterThanStr, sqlparser.GreaterEqualStr, sqlparser.LessThanStr, sqlparser.LessEqualStr:
		n, err := numericLiteral(e.Right)
		if err != nil {
			return err
		}
		var r Range
		switch e.Operator {
		case sqlparser.GreaterThanStr:
			v := clampInt64(math.Floor(n) + 1)
			r.Min = &v
		case sqlparser.GreaterEqualStr:
			v := clampInt64(math.Ceil(n))
			r.Min = &v
		case sqlparser.LessThanStr:
			v := clampInt64(math.Ceil(n) - 1)
			r.Max = &v
		case sqlparser.LessEqualStr:
			v := clampInt64(math.Floor(n))
			r.Max = &v
		}
		return b.narrow(col, r)
	}
	return fmt.Errorf("unsupported operator %q", e.Operator)
}

func (b *whereBuilder) equal(col string, v any) error {
	existing, ok := b.filter[col]
	if !ok {
		b.filter[col] = Eq(v)
		return nil
	}
	if existing.kind != MatchAll {
		return fmt.Errorf("column %s mixes equality with another condition", col)
	}
	s, _ := ScalarOf(v)
	existing.values = append(existing.Values(), s)
	b.filter[col] = existing
	return nil
}

// narrow intersects r with any range already set on col.
func (b *whereBuilder) narrow(col string, r Range) error {
	existing, ok := b.filter[col]
	if !ok {
		b.filter[col] = InRange(r)
		return nil
	}
	if existing.kind != MatchRange {
		return fmt.Errorf("column %s mixes a range with another condition", col)
	}
	merged := existing.rng
	if r.Min != nil && (merged.Min == nil || *r.Min > *merged.Min) {
		merged.Min = r.Min
	}
	if r.Max != nil && (merged.Max == nil || *r.Max < *merged.Max) {
		merged.Max = r.Max
	}
	b.filter[col] = InRange(merged)
	return nil
}

func columnName(expr sqlparser.Expr) (string, error) {
	col, ok := expr.(*sqlparser.ColName)
	if !ok {
		return "", fmt.Errorf("expected a column, got %s", sqlparser.String(expr))
	}
	return col.Name.String(), nil
}

// literal converts a SQL literal to a value ScalarOf accepts.
func literal(expr sqlparser.Expr) (any, error) {
	switch e := expr.(type) {
	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.StrVal:
			return string(e.Val), nil
		case sqlparser.IntVal, sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %s: %w", e.Val, err)
			}
			return f, nil
		}
	case sqlparser.BoolVal:
		return bool(e), nil
	case *sqlparser.UnaryExpr:
		if e.Operator == sqlparser.UMinusStr {
			v, err := literal(e.Expr)
			if err != nil {
				return nil, err
			}
			if f, ok := v.(float64); ok {
				return -f, nil
			}
		}
	case *sqlparser.ColName:
		return nil, fmt.Errorf("unquoted value %s, strings need quotes", sqlparser.String(expr))
	}
	return nil, fmt.Errorf("unsupported value %s", sqlparser.String(expr))
}

func numericLiteral(expr sqlparser.Expr) (float64, error) {
	v, err := literal(expr)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected a number, got %s", sqlparser.String(expr))
	}
	return f, nil
}
