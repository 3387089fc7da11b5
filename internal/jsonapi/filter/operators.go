package filter

import (
	"strings"

	"github.com/conduit-lang/jsonapi/internal/orm/query"
)

var operators = map[string]query.Operator{
	"eq":         query.OpEqual,
	"ne":         query.OpNotEqual,
	"gt":         query.OpGreaterThan,
	"ge":         query.OpGreaterThanOrEqual,
	"gte":        query.OpGreaterThanOrEqual,
	"lt":         query.OpLessThan,
	"le":         query.OpLessThanOrEqual,
	"lte":        query.OpLessThanOrEqual,
	"like":       query.OpLike,
	"notlike":    query.OpNotLike,
	"ilike":      query.OpILike,
	"notilike":   query.OpNotILike,
	"in":         query.OpIn,
	"notin":      query.OpNotIn,
	"is":         query.OpIs,
	"isnot":      query.OpIsNot,
	"between":    query.OpBetween,
	"startswith": query.OpStartsWith,
	"endswith":   query.OpEndsWith,
	"contains":   query.OpContains,
	"any":        query.OpAny,
	"has":        query.OpHas,
}

// ParseOperator maps an operator name to its operator. Decorated spellings such as
// "in_", "is_not" or "__eq__" are accepted.
func ParseOperator(name string) (query.Operator, bool) {
	op, ok := operators[normalizeOperator(name)]
	return op, ok
}

func normalizeOperator(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(n, "__") && strings.HasSuffix(n, "__") && len(n) > 4 {
		n = n[2 : len(n)-2]
	}
	n = strings.TrimRight(n, "_")
	return strings.ReplaceAll(n, "_", "")
}
