// Package crud renders and executes the INSERT, UPDATE and DELETE statements a
// unit of work flushes, including the link rows of many-to-many relationships.
package crud

import (
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Operation represents a CRUD operation type
type Operation int

const (
	// OperationCreate represents a create operation
	OperationCreate Operation = iota
	// OperationUpdate represents an update operation
	OperationUpdate
	// OperationDelete represents a delete operation
	OperationDelete
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operations provides write statements for one model
type Operations struct {
	model   *schema.Model
	dialect query.Dialect
}

// NewOperations creates a new Operations instance
func NewOperations(model *schema.Model, dialect query.Dialect) *Operations {
	return &Operations{
		model:   model,
		dialect: dialect,
	}
}

// Model returns the model the statements target
func (o *Operations) Model() *schema.Model {
	return o.model
}

// encode converts record values to driver values, in column declaration order
func (o *Operations) encode(values map[string]interface{}) ([]string, []interface{}, error) {
	var columns []string
	var args []interface{}
	for _, col := range o.model.Columns {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		encoded, err := o.dialect.EncodeValue(col, v)
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, o.dialect.Quote(col.Name))
		args = append(args, encoded)
	}
	return columns, args, nil
}

func (o *Operations) pkEq(id interface{}) map[string]interface{} {
	return map[string]interface{}{o.dialect.Quote(o.model.PrimaryKey().Name): id}
}
