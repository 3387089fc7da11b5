package schema

import (
	"fmt"
	"sort"
)

// Record is one row of a model plus any relationships loaded alongside it.
// A record is owned by a single session and is not safe for concurrent use.
type Record struct {
	Model *Model

	values  map[string]interface{}
	related map[string]interface{}
}

// NewRecord creates an empty record for the model
func NewRecord(m *Model) *Record {
	return &Record{
		Model:   m,
		values:  make(map[string]interface{}),
		related: make(map[string]interface{}),
	}
}

// Get returns the value of a column, or nil when unset
func (r *Record) Get(column string) interface{} {
	return r.values[column]
}

// Has reports whether a value was set for the column
func (r *Record) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Set assigns a column value
func (r *Record) Set(column string, value interface{}) error {
	if !r.Model.HasColumn(column) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, r.Model.Name, column)
	}
	r.values[column] = value
	return nil
}

// Values returns a shallow copy of the column values
func (r *Record) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// ID returns the primary key value
func (r *Record) ID() interface{} {
	pk := r.Model.PrimaryKey()
	if pk == nil {
		return nil
	}
	return r.values[pk.Name]
}

// SetID assigns the primary key value
func (r *Record) SetID(id interface{}) {
	if pk := r.Model.PrimaryKey(); pk != nil {
		r.values[pk.Name] = id
	}
}

// IDString returns the primary key rendered as a string, the form used for identifier comparison
func (r *Record) IDString() string {
	return FormatID(r.ID())
}

// Key returns a string unique to the record's model and primary key
func (r *Record) Key() string {
	return r.Model.Name + ":" + r.IDString()
}

// Related returns a loaded relationship value: *Record, []*Record or nil
func (r *Record) Related(name string) (interface{}, bool) {
	v, ok := r.related[name]
	return v, ok
}

// SetRelated stores a loaded relationship value
func (r *Record) SetRelated(name string, value interface{}) {
	r.related[name] = value
}

// RelatedOne returns a loaded to-one relationship, or nil
func (r *Record) RelatedOne(name string) *Record {
	v, _ := r.related[name].(*Record)
	return v
}

// RelatedMany returns a loaded to-many relationship, or nil
func (r *Record) RelatedMany(name string) []*Record {
	v, _ := r.related[name].([]*Record)
	return v
}

// LoadedRelationships returns the names of loaded relationships, sorted
func (r *Record) LoadedRelationships() []string {
	names := make([]string, 0, len(r.related))
	for name := range r.related {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatID renders an identifier value as a string
func FormatID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Restore replaces all column values, discarding unsaved changes
func (r *Record) Restore(values map[string]interface{}) {
	r.values = make(map[string]interface{}, len(values))
	for k, v := range values {
		r.values[k] = v
	}
}

// Expire forgets a loaded relationship so the next access reloads it
func (r *Record) Expire(name string) {
	delete(r.related, name)
}
