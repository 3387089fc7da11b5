// Package schema describes JSON:API resources on top of persistence models.
//
// A Schema declares the wire fields of one resource type. Every field carries an
// explicit descriptor saying whether it is a plain attribute, a relationship to
// another resource or a nested object, and which storage attribute it maps to.
// Related schemas are referenced by type name and resolved through a Registry.
package schema

import (
	"fmt"

	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/ettle/strcase"
)

// Kind classifies a schema field
type Kind int

const (
	// Attribute is a plain value stored in a column
	Attribute Kind = iota
	// Relationship references other resources by identifier
	Relationship
	// Nested embeds owned sub-objects, stored either as related rows or in a JSON column
	Nested
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case Attribute:
		return "attribute"
	case Relationship:
		return "relationship"
	case Nested:
		return "nested"
	default:
		return "unknown"
	}
}

// Field is the descriptor of one schema field
type Field struct {
	Name string
	Kind Kind

	// Attribute is the storage attribute: a column for attributes, a model relationship
	// for relationships and a relationship or JSON column for nested fields.
	// Empty means the same as Name.
	Attribute string

	// Type is the related or nested schema type
	Type string
	Many bool

	// IDField is the related model column identifiers are looked up by.
	// Empty means the related model's primary key.
	IDField string
}

// StorageName returns the storage attribute the field maps to
func (f *Field) StorageName() string {
	if f.Attribute != "" {
		return f.Attribute
	}
	return f.Name
}

// Schema declares one resource type
type Schema struct {
	// Type is the wire type name
	Type string
	// Name identifies the schema in error messages
	Name string
	// Model is the persistence binding. Nested schemas stored in JSON columns have none.
	Model *ormschema.Model

	fields map[string]*Field
	order  []string
}

// New creates a resource schema with an "id" attribute mapped to the model's primary key
func New(typ string, model *ormschema.Model) *Schema {
	s := newSchema(typ, model)
	id := "id"
	if model != nil && model.PrimaryKey() != nil {
		id = model.PrimaryKey().Name
	}
	return s.Attribute("id", id)
}

// NewNested creates a schema for embedded objects, which carry no identifier
func NewNested(typ string, model *ormschema.Model) *Schema {
	return newSchema(typ, model)
}

func newSchema(typ string, model *ormschema.Model) *Schema {
	return &Schema{
		Type:   typ,
		Name:   strcase.ToPascal(typ) + "Schema",
		Model:  model,
		fields: make(map[string]*Field),
	}
}

// Named overrides the schema name used in error messages
func (s *Schema) Named(name string) *Schema {
	s.Name = name
	return s
}

// Add declares a field, replacing any field of the same name
func (s *Schema) Add(f Field) *Schema {
	if _, exists := s.fields[f.Name]; !exists {
		s.order = append(s.order, f.Name)
	}
	s.fields[f.Name] = &f
	return s
}

// Attribute declares a plain attribute; an empty storage name means the field name
func (s *Schema) Attribute(name, storage string) *Schema {
	return s.Add(Field{Name: name, Kind: Attribute, Attribute: storage})
}

// Relationship declares a relationship to resources of relatedType
func (s *Schema) Relationship(name, relatedType string, many bool) *Schema {
	return s.Add(Field{Name: name, Kind: Relationship, Type: relatedType, Many: many})
}

// Nested declares an embedded object field governed by the nested schema type
func (s *Schema) Nested(name, nestedType string, many bool) *Schema {
	return s.Add(Field{Name: name, Kind: Nested, Type: nestedType, Many: many})
}

// Field returns the descriptor of a declared field
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether the field is declared
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Fields returns the declared fields in declaration order
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.order))
	for i, name := range s.order {
		out[i] = s.fields[name]
	}
	return out
}

// FieldNames returns the declared field names in declaration order
func (s *Schema) FieldNames() []string {
	return append([]string(nil), s.order...)
}

// StorageField returns the storage attribute of a declared field
func (s *Schema) StorageField(name string) (string, error) {
	f, ok := s.fields[name]
	if !ok {
		return "", fmt.Errorf("%w: %s has no attribute %s", ErrUnknownField, s.Name, name)
	}
	return f.StorageName(), nil
}

// SchemaField returns the schema field mapped to a storage attribute
func (s *Schema) SchemaField(storage string) (string, error) {
	for _, name := range s.order {
		if s.fields[name].StorageName() == storage {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no field stored in %s", ErrUnknownField, s.Name, storage)
}

// IsRelationship reports whether the field is a relationship
func (s *Schema) IsRelationship(name string) bool {
	f, ok := s.fields[name]
	return ok && f.Kind == Relationship
}

// IsNested reports whether the field is a nested object
func (s *Schema) IsNested(name string) bool {
	f, ok := s.fields[name]
	return ok && f.Kind == Nested
}

// Relationships returns the relationship field names in declaration order
func (s *Schema) Relationships() []string {
	return s.namesOf(Relationship)
}

// NestedFields returns the nested field names in declaration order
func (s *Schema) NestedFields() []string {
	return s.namesOf(Nested)
}

func (s *Schema) namesOf(kind Kind) []string {
	var out []string
	for _, name := range s.order {
		if s.fields[name].Kind == kind {
			out = append(out, name)
		}
	}
	return out
}

// Only returns the fields a response should carry for a sparse fieldset request.
// A nil requested set means every field and yields nil. Unknown names are dropped,
// the identifier is always kept, and included relationships are added back.
func (s *Schema) Only(requested []string, include []string) []string {
	if requested == nil {
		return nil
	}
	keep := make(map[string]bool, len(requested)+1)
	for _, name := range requested {
		if s.Has(name) {
			keep[name] = true
		}
	}
	if s.Has("id") {
		keep["id"] = true
	}
	for _, path := range include {
		keep[firstSegment(path)] = true
	}

	out := make([]string, 0, len(keep))
	for _, name := range s.order {
		if keep[name] {
			out = append(out, name)
		}
	}
	return out
}
