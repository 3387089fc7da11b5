package query

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/shopspring/decimal"
)

// ScanRecords reads every row into a record of the model. Columns are expected in
// the model's declaration order.
func ScanRecords(rows *sql.Rows, model *schema.Model) ([]*schema.Record, error) {
	defer rows.Close()

	var records []*schema.Record
	for rows.Next() {
		raw := make([]interface{}, len(model.Columns))
		ptrs := make([]interface{}, len(model.Columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", model.Name, err)
		}

		values := make(map[string]interface{}, len(model.Columns))
		for i, col := range model.Columns {
			v, err := DecodeValue(col, raw[i])
			if err != nil {
				return nil, err
			}
			values[col.Name] = v
		}
		rec := schema.NewRecord(model)
		rec.Restore(values)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", model.Name, err)
	}
	return records, nil
}

// DecodeValue converts a driver value into the native form for the column type
func DecodeValue(col *schema.Column, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch col.Type {
	case schema.TypeJSON:
		s, ok := raw.(string)
		if !ok {
			return raw, nil
		}
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("failed to decode json column %s: %w", col.Name, err)
		}
		return v, nil
	case schema.TypeDecimal:
		switch v := raw.(type) {
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("failed to decode decimal column %s: %w", col.Name, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
	case schema.TypeBool:
		switch v := raw.(type) {
		case int64:
			return v != 0, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err == nil {
				return b, nil
			}
		}
	case schema.TypeInt:
		if s, ok := raw.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
	}
	return raw, nil
}

// temporalLayouts are the ISO-8601 forms accepted for date and timestamp values
var temporalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const (
	dateLayout = "2006-01-02"

	// sqliteTimestampLayout is fixed width and always UTC so stored timestamps
	// compare correctly as text
	sqliteTimestampLayout = "2006-01-02 15:04:05.000000000-07:00"
)

// EncodeValue converts a native value into a driver value for the column type.
// Dates are written as YYYY-MM-DD; SQLite timestamps as UTC text in a fixed
// layout. Lists are encoded element by element so filter arguments are bound the
// same way the column was written.
func (d Dialect) EncodeValue(col *schema.Column, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case schema.TypeJSON:
		switch v.(type) {
		case string, []byte:
			return v, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json column %s: %w", col.Name, err)
		}
		return string(b), nil
	case schema.TypeDate, schema.TypeTimestamp:
		if list, ok := v.([]interface{}); ok {
			out := make([]interface{}, len(list))
			for i, item := range list {
				encoded, err := d.EncodeValue(col, item)
				if err != nil {
					return nil, err
				}
				out[i] = encoded
			}
			return out, nil
		}
		return d.encodeTemporal(col, v), nil
	}
	return v, nil
}

func (d Dialect) encodeTemporal(col *schema.Column, v interface{}) interface{} {
	var t time.Time
	switch tv := v.(type) {
	case time.Time:
		t = tv
	case string:
		parsed, ok := parseTemporal(tv)
		if !ok {
			return v
		}
		t = parsed
	default:
		return v
	}

	if col.Type == schema.TypeDate {
		return t.Format(dateLayout)
	}
	if d.Name == SQLite.Name {
		return t.UTC().Format(sqliteTimestampLayout)
	}
	return t
}

func parseTemporal(s string) (time.Time, bool) {
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
