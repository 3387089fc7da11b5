package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrModelNotFound is returned when a model name is not registered
	ErrModelNotFound = errors.New("model not found")

	// ErrDuplicateModel is returned when a model name is registered twice
	ErrDuplicateModel = errors.New("model already registered")

	// ErrNoPrimaryKey is returned for models without a primary key column
	ErrNoPrimaryKey = errors.New("model has no primary key")

	// ErrInvalidModel is returned for structurally invalid models
	ErrInvalidModel = errors.New("invalid model")

	// ErrUnknownColumn is returned when a record is given a value for an undeclared column
	ErrUnknownColumn = errors.New("unknown column")
)

// Registry manages all models known to the persistence layer
type Registry struct {
	models map[string]*Model
	mu     sync.RWMutex
}

// NewRegistry creates a new model registry
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*Model),
	}
}

// Register validates and registers a model
func (r *Registry) Register(m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, m.Name)
	}
	r.models[m.Name] = m
	return nil
}

// MustRegister registers a model and panics on error. Intended for static setup code.
func (r *Registry) MustRegister(models ...*Model) *Registry {
	for _, m := range models {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves a model by name
func (r *Registry) Get(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return m, nil
}

// Exists checks if a model is registered
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[name]
	return ok
}

// Target resolves the target model of a relationship
func (r *Registry) Target(rel *Relationship) (*Model, error) {
	return r.Get(rel.Target)
}

// Names returns all registered model names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateRelationships checks every relationship target is registered.
// Registration allows forward references, so this runs once all models are in.
func (r *Registry) ValidateRelationships() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.models {
		for _, rel := range m.Relationships {
			target, ok := r.models[rel.Target]
			if !ok {
				return fmt.Errorf("%w: %s.%s targets %s", ErrModelNotFound, m.Name, rel.Name, rel.Target)
			}
			if (rel.Type == HasOne || rel.Type == HasMany) && !target.HasColumn(rel.ForeignKey) {
				return fmt.Errorf("%w: %s.%s foreign key %q is not a column of %s",
					ErrInvalidModel, m.Name, rel.Name, rel.ForeignKey, target.Name)
			}
		}
	}
	return nil
}
