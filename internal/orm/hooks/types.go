package hooks

import (
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Kind identifies the point in a unit of work at which a hook runs
type Kind int

const (
	// BeforeCommit runs inside the transaction for every new or dirty record.
	// An error aborts the commit and rolls the transaction back.
	BeforeCommit Kind = iota
	// AfterCommit runs once the transaction is committed. Errors are reported
	// to the caller but the data is already persisted.
	AfterCommit
)

// String returns the hook kind name
func (k Kind) String() string {
	switch k {
	case BeforeCommit:
		return "before_commit"
	case AfterCommit:
		return "after_commit"
	default:
		return "unknown"
	}
}

// Func is a hook function. It receives the hook context and the record being committed.
type Func func(ctx *Context, rec *schema.Record) error

// Hook represents a registered lifecycle hook
type Hook struct {
	Kind  Kind
	Model string // empty applies to every model
	Fn    Func
}

// Registry manages registered hooks per model
type Registry struct {
	hooks map[Kind][]*Hook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[Kind][]*Hook),
	}
}

// Register adds a hook for a model. An empty model name registers the hook for all models.
func (r *Registry) Register(kind Kind, model string, fn Func) *Registry {
	r.hooks[kind] = append(r.hooks[kind], &Hook{Kind: kind, Model: model, Fn: fn})
	return r
}

// GetHooks returns the hooks of a kind applying to a model, in registration order
func (r *Registry) GetHooks(kind Kind, model string) []*Hook {
	if r == nil {
		return nil
	}
	var out []*Hook
	for _, h := range r.hooks[kind] {
		if h.Model == "" || h.Model == model {
			out = append(out, h)
		}
	}
	return out
}

// HasHooks returns true if any hook of the kind is registered
func (r *Registry) HasHooks(kind Kind) bool {
	if r == nil {
		return false
	}
	return len(r.hooks[kind]) > 0
}
