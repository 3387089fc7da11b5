// Package datalayer compiles parsed JSON:API queries into persistence queries and
// applies JSON:API writes to a unit of work.
//
// A DataLayer serves one resource type for one request. It is built over the
// request's session and, like the session, must not be shared between goroutines.
package datalayer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	"go.uber.org/zap"
)

// ErrNoModel is returned when a data layer is built for a schema with no model binding
var ErrNoModel = errors.New("schema has no model")

// View argument keys
const (
	// DefaultURLField is the view argument holding the identifier of the addressed object
	DefaultURLField = "id"
	// ParentType and ParentID scope a collection to the related objects of a parent.
	// ParentField names the parent's relationship the collection is reached through.
	ParentType  = "parent_type"
	ParentID    = "parent_id"
	ParentField = "parent_field"
)

// ViewArgs are the path parameters of a request
type ViewArgs map[string]string

// Data is a validated request body keyed by schema field name. Attribute values
// are plain values; relationship values are identifiers (a string, an Identifier
// or nil for to-one relationships and a list of them for to-many ones); nested
// values are objects or lists of objects keyed by the nested schema's field names.
type Data map[string]interface{}

// Identifier is a resource identifier object
type Identifier struct {
	Type string
	ID   string
}

// Linkage is the resource linkage of a relationship. A to-one linkage holds zero
// or one identifier.
type Linkage struct {
	Many bool
	Data []Identifier
}

// ToOne returns a to-one linkage, empty when ident is nil
func ToOne(ident *Identifier) Linkage {
	if ident == nil {
		return Linkage{}
	}
	return Linkage{Data: []Identifier{*ident}}
}

// ToMany returns a to-many linkage
func ToMany(idents ...Identifier) Linkage {
	return Linkage{Many: true, Data: append([]Identifier{}, idents...)}
}

// One returns the identifier of a to-one linkage, or nil
func (l Linkage) One() *Identifier {
	if l.Many || len(l.Data) == 0 {
		return nil
	}
	return &l.Data[0]
}

// Option configures a DataLayer
type Option func(*DataLayer)

// WithHooks sets the operation hooks
func WithHooks(h Hooks) Option {
	return func(d *DataLayer) {
		if h != nil {
			d.hooks = h
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *DataLayer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithURLField sets the view argument holding the object identifier
func WithURLField(name string) Option {
	return func(d *DataLayer) {
		d.urlField = name
	}
}

// WithIDField sets the model column objects are looked up by, the primary key by default
func WithIDField(column string) Option {
	return func(d *DataLayer) {
		d.idField = column
	}
}

// DataLayer serves one resource type over a session
type DataLayer struct {
	session *session.Session
	schema  *schema.Schema
	schemas *schema.Registry
	model   *ormschema.Model
	hooks   Hooks
	logger  *zap.Logger

	urlField string
	idField  string
}

// New creates a data layer for resources of schema s
func New(sess *session.Session, s *schema.Schema, schemas *schema.Registry, opts ...Option) (*DataLayer, error) {
	if s.Model == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, s.Name)
	}
	d := &DataLayer{
		session:  sess,
		schema:   s,
		schemas:  schemas,
		model:    s.Model,
		hooks:    NoopHooks{},
		logger:   zap.NewNop(),
		urlField: DefaultURLField,
		idField:  s.Model.PrimaryKey().Name,
	}
	for _, opt := range opts {
		opt(d)
	}
	if !d.model.HasColumn(d.idField) {
		return nil, fmt.Errorf("%w: %s has no attribute %s", ormschema.ErrUnknownColumn, d.model.Name, d.idField)
	}
	return d, nil
}

// Schema returns the schema served
func (d *DataLayer) Schema() *schema.Schema { return d.schema }

// Rollback discards every pending change of the unit of work
func (d *DataLayer) Rollback() {
	d.session.Rollback()
}

// identifierValue converts an identifier received as text into the column's type.
// ok is false when the text cannot be a value of the column, in which case no row
// can match it.
func identifierValue(col *ormschema.Column, raw interface{}) (value interface{}, ok bool) {
	s, isString := raw.(string)
	if !isString {
		return raw, raw != nil
	}
	if col.Type == ormschema.TypeInt {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return s, true
}
