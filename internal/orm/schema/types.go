// Package schema describes the relational models the persistence layer maps records onto.
// A Model carries its table, typed columns and named relationships; the Registry resolves
// models by name for query building, eager loading and relationship flushing.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ettle/strcase"
)

// ColumnType represents the storage type of a column
type ColumnType int

const (
	// Text types
	TypeString ColumnType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// Embedded documents
	TypeJSON
)

// String returns the string representation of the column type
func (c ColumnType) String() string {
	switch c {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// IsText reports whether pattern operators apply to the type
func (c ColumnType) IsText() bool {
	return c == TypeString || c == TypeText || c == TypeUUID
}

// IsNumeric reports whether the type holds numbers
func (c ColumnType) IsNumeric() bool {
	return c == TypeInt || c == TypeFloat || c == TypeDecimal
}

// IsTemporal reports whether the type holds dates or timestamps
func (c ColumnType) IsTemporal() bool {
	return c == TypeTimestamp || c == TypeDate
}

// IsOrdered reports whether range comparisons are meaningful for the type
func (c ColumnType) IsOrdered() bool {
	return c.IsNumeric() || c.IsTemporal() || c.IsText()
}

// Column is a single stored attribute of a model
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Primary  bool
}

// RelationType represents the type of relationship between models
type RelationType int

const (
	// BelongsTo stores the foreign key on the owning model
	BelongsTo RelationType = iota
	// HasOne stores the foreign key on the target model, at most one row
	HasOne
	// HasMany stores the foreign key on the target model
	HasMany
	// ManyToMany links both sides through a join table
	ManyToMany
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// Relationship describes a named association from one model to another
type Relationship struct {
	Name   string
	Type   RelationType
	Target string // Target model name

	// ForeignKey is the owner's column for BelongsTo and the target's column for
	// HasOne and HasMany.
	ForeignKey string

	// Join table metadata for ManyToMany
	JoinTable      string
	JoinForeignKey string // column referencing the owner
	AssociationKey string // column referencing the target

	OrderBy string
}

// IsToMany reports whether the relationship links a collection
func (r *Relationship) IsToMany() bool {
	return r.Type == HasMany || r.Type == ManyToMany
}

// Model represents a table-backed entity
type Model struct {
	Name          string
	Table         string
	Columns       []*Column
	Relationships map[string]*Relationship

	columns map[string]*Column
}

// NewModel creates a model. An empty table name defaults to the snake_cased plural of name.
func NewModel(name, table string) *Model {
	if table == "" {
		table = toTableName(name)
	}
	return &Model{
		Name:          name,
		Table:         table,
		Columns:       make([]*Column, 0),
		Relationships: make(map[string]*Relationship),
		columns:       make(map[string]*Column),
	}
}

// AddColumn appends a column and returns the model for chaining
func (m *Model) AddColumn(c *Column) *Model {
	m.Columns = append(m.Columns, c)
	m.columns[c.Name] = c
	return m
}

// AddRelationship registers a relationship and returns the model for chaining
func (m *Model) AddRelationship(r *Relationship) *Model {
	m.Relationships[r.Name] = r
	return m
}

// Column looks up a column by name
func (m *Model) Column(name string) (*Column, bool) {
	c, ok := m.columns[name]
	return c, ok
}

// HasColumn checks if the model declares the column
func (m *Model) HasColumn(name string) bool {
	_, ok := m.columns[name]
	return ok
}

// Relationship looks up a relationship by name
func (m *Model) Relationship(name string) (*Relationship, bool) {
	r, ok := m.Relationships[name]
	return r, ok
}

// HasRelationship checks if the model declares the relationship
func (m *Model) HasRelationship(name string) bool {
	_, ok := m.Relationships[name]
	return ok
}

// PrimaryKey returns the primary key column, or nil if none is declared
func (m *Model) PrimaryKey() *Column {
	for _, c := range m.Columns {
		if c.Primary {
			return c
		}
	}
	return nil
}

// Inverse returns the relationship of m that mirrors rel, a relationship of owner
// targeting m: the same foreign key seen from the other side, or the same join
// table with its keys swapped.
func (m *Model) Inverse(owner *Model, rel *Relationship) (*Relationship, bool) {
	if rel.Target != m.Name {
		return nil, false
	}
	names := make([]string, 0, len(m.Relationships))
	for name := range m.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cand := m.Relationships[name]
		if cand == rel || cand.Target != owner.Name {
			continue
		}
		switch rel.Type {
		case BelongsTo:
			if (cand.Type == HasMany || cand.Type == HasOne) && cand.ForeignKey == rel.ForeignKey {
				return cand, true
			}
		case HasOne, HasMany:
			if cand.Type == BelongsTo && cand.ForeignKey == rel.ForeignKey {
				return cand, true
			}
		case ManyToMany:
			if cand.Type == ManyToMany && cand.JoinTable == rel.JoinTable &&
				cand.JoinForeignKey == rel.AssociationKey && cand.AssociationKey == rel.JoinForeignKey {
				return cand, true
			}
		}
	}
	return nil, false
}

// ColumnNames returns the column names in declaration order
func (m *Model) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the model is usable by the persistence layer
func (m *Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidModel)
	}
	if m.PrimaryKey() == nil {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, m.Name)
	}
	for _, rel := range m.Relationships {
		switch rel.Type {
		case BelongsTo:
			if !m.HasColumn(rel.ForeignKey) {
				return fmt.Errorf("%w: %s.%s foreign key %q is not a column", ErrInvalidModel, m.Name, rel.Name, rel.ForeignKey)
			}
		case HasOne, HasMany:
			if rel.ForeignKey == "" {
				return fmt.Errorf("%w: %s.%s requires a foreign key", ErrInvalidModel, m.Name, rel.Name)
			}
		case ManyToMany:
			if rel.JoinTable == "" || rel.JoinForeignKey == "" || rel.AssociationKey == "" {
				return fmt.Errorf("%w: %s.%s requires join table metadata", ErrInvalidModel, m.Name, rel.Name)
			}
		}
	}
	return nil
}

// toTableName converts a model name to a table name (e.g., "BlogPost" -> "blog_posts")
func toTableName(name string) string {
	return pluralize(strcase.ToSnake(name))
}

func pluralize(word string) string {
	switch {
	case word == "":
		return word
	case strings.HasSuffix(word, "y") && !strings.HasSuffix(word, "ay") && !strings.HasSuffix(word, "ey") && !strings.HasSuffix(word, "oy"):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"), strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}
