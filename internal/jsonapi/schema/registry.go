package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
)

var (
	// ErrUnknownField is returned when a field is not declared on a schema
	ErrUnknownField = errors.New("unknown field")

	// ErrSchemaNotFound is returned when no schema declares a type
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrDuplicateSchema is returned when a type is registered twice
	ErrDuplicateSchema = errors.New("schema already registered")

	// ErrNotRelated is returned when a field has no related schema
	ErrNotRelated = errors.New("field is not a relationship or nested field")
)

// Registry resolves schemas by wire type name. It is built once at startup and
// passed to every component that follows relationships.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema under its type name
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSchema, s.Type)
	}
	r.schemas[s.Type] = s
	return nil
}

// MustRegister registers schemas and panics on error
func (r *Registry) MustRegister(schemas ...*Schema) *Registry {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// SchemaForType returns the schema declaring a wire type
func (r *Registry) SchemaForType(typ string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[typ]
	if !ok {
		return nil, fmt.Errorf("%w: couldn't find schema for type: %s", ErrSchemaNotFound, typ)
	}
	return s, nil
}

// Types returns the registered type names, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RelatedSchema returns the schema governing a relationship or nested field
func (r *Registry) RelatedSchema(s *Schema, field string) (*Schema, error) {
	f, ok := s.Field(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no attribute %s", ErrUnknownField, s.Name, field)
	}
	if f.Kind == Attribute {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotRelated, s.Name, field)
	}
	return r.SchemaForType(f.Type)
}

// Validate checks that every relationship and nested field names a registered type
func (r *Registry) Validate() error {
	for _, typ := range r.Types() {
		s, _ := r.SchemaForType(typ)
		for _, f := range s.Fields() {
			if f.Kind == Attribute {
				continue
			}
			if _, err := r.SchemaForType(f.Type); err != nil {
				return fmt.Errorf("%s.%s: %w", s.Name, f.Name, err)
			}
		}
	}
	return nil
}

// ValidateInclude checks every include path against the schemas it crosses: each
// segment must be a relationship of the schema reached by the segments before it.
func (r *Registry) ValidateInclude(s *Schema, paths []string) error {
	for _, path := range paths {
		current := s
		for _, segment := range strings.Split(path, ".") {
			f, ok := current.Field(segment)
			if !ok {
				return apierr.InvalidInclude(fmt.Sprintf("%s has no attribute %s", current.Name, segment))
			}
			if f.Kind != Relationship {
				return apierr.InvalidInclude(fmt.Sprintf("%s is not a relationship attribute of %s", segment, current.Name))
			}
			next, err := r.SchemaForType(f.Type)
			if err != nil {
				return err
			}
			current = next
		}
	}
	return nil
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
