// Package hooks runs per-model lifecycle hooks around the commit of a unit of work
package hooks

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Executor executes lifecycle hooks for records
type Executor struct {
	registry *Registry
}

// NewExecutor creates a new hook executor
func NewExecutor(registry *Registry) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Executor{registry: registry}
}

// Register registers a hook
func (e *Executor) Register(kind Kind, model string, fn Func) {
	e.registry.Register(kind, model, fn)
}

// Execute runs the hooks of a kind for every record in order. The first failing
// hook stops execution.
func (e *Executor) Execute(ctx context.Context, tx *sql.Tx, kind Kind, records []*schema.Record) error {
	if !e.registry.HasHooks(kind) {
		return nil
	}

	for _, rec := range records {
		hooks := e.registry.GetHooks(kind, rec.Model.Name)
		if len(hooks) == 0 {
			continue
		}

		hookCtx := NewContext(ctx, rec.Model)
		if tx != nil {
			hookCtx = hookCtx.WithTransaction(tx)
		}

		for _, hook := range hooks {
			if err := hook.Fn(hookCtx, rec); err != nil {
				return fmt.Errorf("hook %s failed for %s: %w", kind, rec.Model.Name, err)
			}
		}
	}
	return nil
}

// HasHooks returns true if there are any hooks registered for the given kind
func (e *Executor) HasHooks(kind Kind) bool {
	return e.registry.HasHooks(kind)
}

// GetRegistry returns the hook registry
func (e *Executor) GetRegistry() *Registry {
	return e.registry
}
