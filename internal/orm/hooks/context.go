package hooks

import (
	"context"
	"database/sql"

	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Context wraps the standard context with ORM-specific information
// for hook execution
type Context struct {
	context.Context
	tx    *sql.Tx
	model *schema.Model
}

// NewContext creates a new hook context
func NewContext(ctx context.Context, model *schema.Model) *Context {
	return &Context{
		Context: ctx,
		model:   model,
	}
}

// WithTransaction creates a new context with a transaction
func (c *Context) WithTransaction(tx *sql.Tx) *Context {
	return &Context{
		Context: c.Context,
		tx:      tx,
		model:   c.model,
	}
}

// Tx returns the transaction; nil for after-commit hooks
func (c *Context) Tx() *sql.Tx {
	return c.tx
}

// Model returns the model of the record being committed
func (c *Context) Model() *schema.Model {
	return c.model
}

// HasTransaction returns true if a transaction is active
func (c *Context) HasTransaction() bool {
	return c.tx != nil
}
