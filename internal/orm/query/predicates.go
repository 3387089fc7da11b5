package query

import (
	"fmt"
	"reflect"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/shopspring/decimal"
)

// Operator represents a comparison operator in predicates
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpNotLike
	OpILike
	OpNotILike
	OpIs
	OpIsNot
	OpBetween
	OpStartsWith
	OpEndsWith
	OpContains
	OpAny
	OpHas
)

// String returns the canonical name of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "eq"
	case OpNotEqual:
		return "ne"
	case OpGreaterThan:
		return "gt"
	case OpGreaterThanOrEqual:
		return "ge"
	case OpLessThan:
		return "lt"
	case OpLessThanOrEqual:
		return "le"
	case OpIn:
		return "in"
	case OpNotIn:
		return "notin"
	case OpLike:
		return "like"
	case OpNotLike:
		return "notlike"
	case OpILike:
		return "ilike"
	case OpNotILike:
		return "notilike"
	case OpIs:
		return "is"
	case OpIsNot:
		return "isnot"
	case OpBetween:
		return "between"
	case OpStartsWith:
		return "startswith"
	case OpEndsWith:
		return "endswith"
	case OpContains:
		return "contains"
	case OpAny:
		return "any"
	case OpHas:
		return "has"
	default:
		return "unknown"
	}
}

// IsRelational reports whether the operator applies to relationships rather than columns
func (o Operator) IsRelational() bool {
	return o == OpAny || o == OpHas
}

// isPattern reports whether the operator matches string patterns
func (o Operator) isPattern() bool {
	switch o {
	case OpLike, OpNotLike, OpILike, OpNotILike, OpStartsWith, OpEndsWith, OpContains:
		return true
	}
	return false
}

func (o Operator) symbol() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpLike:
		return "LIKE"
	case OpNotLike:
		return "NOT LIKE"
	default:
		return ""
	}
}

// ValidateOperator validates that an operator is compatible with a column type
func ValidateOperator(op Operator, columnType schema.ColumnType) error {
	switch {
	case op.IsRelational():
		return fmt.Errorf("%w: %s only applies to relationships", ErrUnsupportedOperator, op)
	case op.isPattern():
		if !columnType.IsText() {
			return fmt.Errorf("%w: %s only works with text columns, not %s", ErrUnsupportedOperator, op, columnType)
		}
	case op == OpBetween:
		if !columnType.IsNumeric() && !columnType.IsTemporal() {
			return fmt.Errorf("%w: %s only works with numeric or date columns, not %s", ErrUnsupportedOperator, op, columnType)
		}
	case op == OpGreaterThan, op == OpGreaterThanOrEqual, op == OpLessThan, op == OpLessThanOrEqual:
		if !columnType.IsOrdered() {
			return fmt.Errorf("%w: %s does not work with %s columns", ErrUnsupportedOperator, op, columnType)
		}
	}
	return nil
}

// Compare builds a predicate comparing a column expression with a literal value
func (d Dialect) Compare(column string, op Operator, value interface{}) (sq.Sqlizer, error) {
	switch op {
	case OpEqual:
		return sq.Eq{column: value}, nil
	case OpNotEqual:
		return sq.NotEq{column: value}, nil
	case OpGreaterThan:
		return sq.Gt{column: value}, nil
	case OpGreaterThanOrEqual:
		return sq.GtOrEq{column: value}, nil
	case OpLessThan:
		return sq.Lt{column: value}, nil
	case OpLessThanOrEqual:
		return sq.LtOrEq{column: value}, nil
	case OpIn, OpNotIn:
		list, err := toList(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if op == OpIn {
			return sq.Eq{column: list}, nil
		}
		return sq.NotEq{column: list}, nil
	case OpLike:
		return sq.Like{column: pattern(value)}, nil
	case OpNotLike:
		return sq.NotLike{column: pattern(value)}, nil
	case OpILike, OpNotILike:
		return d.caseInsensitive(column, op == OpNotILike, pattern(value)), nil
	case OpIs:
		if value == nil {
			return sq.Eq{column: nil}, nil
		}
		return sq.Expr(column+" IS ?", value), nil
	case OpIsNot:
		if value == nil {
			return sq.NotEq{column: nil}, nil
		}
		return sq.Expr(column+" IS NOT ?", value), nil
	case OpBetween:
		list, err := toList(value)
		if err != nil || len(list) != 2 {
			return nil, fmt.Errorf("%w: between expects two values", ErrInvalidValue)
		}
		return sq.Expr(column+" BETWEEN ? AND ?", list[0], list[1]), nil
	case OpStartsWith:
		return sq.Like{column: pattern(value) + "%"}, nil
	case OpEndsWith:
		return sq.Like{column: "%" + pattern(value)}, nil
	case OpContains:
		return sq.Like{column: "%" + pattern(value) + "%"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

// CompareColumns builds a predicate comparing two column expressions of the same row
func (d Dialect) CompareColumns(left string, op Operator, right string) (sq.Sqlizer, error) {
	switch op {
	case OpILike:
		if d.NativeILike {
			return sq.Expr(fmt.Sprintf("%s ILIKE %s", left, right)), nil
		}
		return sq.Expr(fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", left, right)), nil
	case OpNotILike:
		if d.NativeILike {
			return sq.Expr(fmt.Sprintf("%s NOT ILIKE %s", left, right)), nil
		}
		return sq.Expr(fmt.Sprintf("LOWER(%s) NOT LIKE LOWER(%s)", left, right)), nil
	}

	symbol := op.symbol()
	if symbol == "" {
		return nil, fmt.Errorf("%w: %s cannot compare two columns", ErrUnsupportedOperator, op)
	}
	return sq.Expr(fmt.Sprintf("%s %s %s", left, symbol, right)), nil
}

// Exists wraps a subquery in an EXISTS predicate
func Exists(sub sq.SelectBuilder) sq.Sqlizer {
	return sq.Expr("EXISTS (?)", sub)
}

// Not negates a predicate
func Not(pred sq.Sqlizer) sq.Sqlizer {
	return sq.Expr("NOT (?)", pred)
}

func (d Dialect) caseInsensitive(column string, negate bool, value string) sq.Sqlizer {
	if d.NativeILike {
		if negate {
			return sq.NotILike{column: value}
		}
		return sq.ILike{column: value}
	}
	if negate {
		return sq.Expr("LOWER("+column+") NOT LIKE LOWER(?)", value)
	}
	return sq.Expr("LOWER("+column+") LIKE LOWER(?)", value)
}

// pattern renders a value for use in a LIKE pattern
func pattern(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case decimal.Decimal:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toList(value interface{}) ([]interface{}, error) {
	if list, ok := value.([]interface{}); ok {
		return list, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidValue, value)
	}
	list := make([]interface{}, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, nil
}
