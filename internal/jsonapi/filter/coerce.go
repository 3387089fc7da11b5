package filter

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// isoLayouts are tried in order when a string looks like a date or a timestamp
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts untyped strings into native values. A string becomes an int64
// when it parses as one, else a time.Time when it is an ISO-8601 date or
// timestamp, else a decimal, else it stays a string. Lists and objects are
// coerced element by element.
func Coerce(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return coerceString(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Coerce(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = coerceString(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = Coerce(item)
		}
		return out
	default:
		return v
	}
}

func coerceString(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	return s
}
