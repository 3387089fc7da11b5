// Package tracking provides change tracking for records held by a session.
// It diffs column values against a snapshot to build minimal UPDATE statements,
// and diffs relationship link sets to find the rows to link and unlink.
package tracking

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// FieldChange represents a change to a single column
type FieldChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// Snapshot is a deep copy of a record's column values at a point in time
type Snapshot map[string]interface{}

// Take captures the current column values of a record
func Take(rec *schema.Record) Snapshot {
	return Snapshot(deepCopyMap(rec.Values()))
}

// ChangeTracker holds the column changes between a snapshot and the current values
type ChangeTracker struct {
	original Snapshot
	changes  map[string]*FieldChange
}

// NewChangeTracker creates a tracker comparing original with the record's current values
func NewChangeTracker(original Snapshot, rec *schema.Record) *ChangeTracker {
	ct := &ChangeTracker{
		original: original,
		changes:  make(map[string]*FieldChange),
	}
	ct.computeChanges(rec.Values())
	return ct
}

// computeChanges calculates which fields have changed
func (ct *ChangeTracker) computeChanges(current map[string]interface{}) {
	for field, newValue := range current {
		oldValue, hadOldValue := ct.original[field]
		if !hadOldValue || !deepEqual(oldValue, newValue) {
			ct.changes[field] = &FieldChange{
				Field:    field,
				OldValue: oldValue,
				NewValue: newValue,
			}
		}
	}

	for field, oldValue := range ct.original {
		if _, exists := current[field]; !exists {
			ct.changes[field] = &FieldChange{
				Field:    field,
				OldValue: oldValue,
				NewValue: nil,
			}
		}
	}
}

// Changed returns true if the specified field has changed
func (ct *ChangeTracker) Changed(field string) bool {
	_, ok := ct.changes[field]
	return ok
}

// ChangedFields returns the changed fields, sorted
func (ct *ChangeTracker) ChangedFields() []string {
	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// PreviousValue returns the snapshot value of a field
func (ct *ChangeTracker) PreviousValue(field string) interface{} {
	return ct.original[field]
}

// HasChanges returns true if any fields have changed
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.changes) > 0
}

// GetChangedData returns a map of only the changed fields with their new values
// This is useful for generating efficient UPDATE queries
func (ct *ChangeTracker) GetChangedData() map[string]interface{} {
	result := make(map[string]interface{}, len(ct.changes))
	for field, change := range ct.changes {
		result[field] = change.NewValue
	}
	return result
}

// LinkDiff lists the records to link and unlink for one relationship
type LinkDiff struct {
	Added   []*schema.Record
	Removed []*schema.Record
}

// Empty reports whether the diff has nothing to apply
func (d LinkDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffLinks compares the originally linked records with the current ones. Persisted
// records are matched by identity key, unsaved ones by instance.
func DiffLinks(original, current []*schema.Record) LinkDiff {
	before := make(map[string]bool, len(original))
	for _, r := range original {
		before[linkKey(r)] = true
	}
	after := make(map[string]bool, len(current))
	for _, r := range current {
		after[linkKey(r)] = true
	}

	var diff LinkDiff
	for _, r := range current {
		if !before[linkKey(r)] {
			diff.Added = append(diff.Added, r)
		}
	}
	for _, r := range original {
		if !after[linkKey(r)] {
			diff.Removed = append(diff.Removed, r)
		}
	}
	return diff
}

func linkKey(r *schema.Record) string {
	if r.ID() == nil {
		return fmt.Sprintf("new:%p", r)
	}
	return r.Key()
}

// deepEqual compares two values for equality, handling nil and different types
func deepEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// deepCopyMap creates a deep copy of a map
func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

// deepCopyValue copies the JSON-shaped containers a column may hold. Other values
// are returned as-is.
func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
