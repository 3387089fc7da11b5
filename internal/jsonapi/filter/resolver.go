package filter

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// subFieldSeparator separates a relationship or nested field from a field of the
// object it points to, as in "computers__serial"
const subFieldSeparator = "__"

// Resolver turns filter trees into predicates on a query
type Resolver struct {
	schemas *schema.Registry
	q       *query.Query
}

// scope is the schema and table a node is resolved against
type scope struct {
	schema *schema.Schema
	model  *ormschema.Model
	alias  string
}

// NewResolver creates a resolver for nodes on q's model, described by schemas
func NewResolver(schemas *schema.Registry, q *query.Query) *Resolver {
	return &Resolver{schemas: schemas, q: q}
}

// Apply resolves every node against s and adds the resulting predicates to the query
func (r *Resolver) Apply(s *schema.Schema, nodes []Node) error {
	preds, err := r.Resolve(s, nodes)
	if err != nil {
		return err
	}
	for _, pred := range preds {
		r.q.Where(pred)
	}
	return nil
}

// Resolve returns one predicate per node. Empty and/or nodes yield no predicate.
func (r *Resolver) Resolve(s *schema.Schema, nodes []Node) ([]sq.Sqlizer, error) {
	root := scope{schema: s, model: r.q.Model(), alias: r.q.Alias()}
	var out []sq.Sqlizer
	for _, node := range nodes {
		pred, err := r.resolve(root, node)
		if err != nil {
			return nil, err
		}
		if pred != nil {
			out = append(out, pred)
		}
	}
	return out, nil
}

func (r *Resolver) resolve(sc scope, node Node) (sq.Sqlizer, error) {
	switch n := node.(type) {
	case *Leaf:
		return r.leaf(sc, n)
	case *And:
		preds, err := r.children(sc, n.Nodes)
		if err != nil || len(preds) == 0 {
			return nil, err
		}
		return sq.And(preds), nil
	case *Or:
		preds, err := r.children(sc, n.Nodes)
		if err != nil || len(preds) == 0 {
			return nil, err
		}
		return sq.Or(preds), nil
	case *Not:
		if n.Node == nil {
			return nil, apierr.InvalidFilters("not requires exactly one filter")
		}
		pred, err := r.resolve(sc, n.Node)
		if err != nil || pred == nil {
			return nil, err
		}
		return query.Not(pred), nil
	default:
		return nil, apierr.InvalidFilters(fmt.Sprintf("unsupported filter node %T", node))
	}
}

func (r *Resolver) children(sc scope, nodes []Node) ([]sq.Sqlizer, error) {
	var preds []sq.Sqlizer
	for _, child := range nodes {
		pred, err := r.resolve(sc, child)
		if err != nil {
			return nil, err
		}
		if pred != nil {
			preds = append(preds, pred)
		}
	}
	return preds, nil
}

func (r *Resolver) leaf(sc scope, leaf *Leaf) (sq.Sqlizer, error) {
	if leaf.Name == "" {
		return nil, apierr.InvalidFilters("Can't find name of a filter")
	}
	name, rest, nested := strings.Cut(leaf.Name, subFieldSeparator)

	field, ok := sc.schema.Field(name)
	if !ok {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no attribute %s", sc.schema.Name, name))
	}
	if leaf.Op == "" {
		return nil, apierr.InvalidFilters("Can't find op of a filter")
	}
	op, ok := ParseOperator(leaf.Op)
	if !ok {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no operator %s", field.StorageName(), leaf.Op))
	}

	if nested || leaf.Sub != nil {
		if field.Kind == schema.Attribute {
			return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no relationship or nested attribute %s", sc.schema.Name, name))
		}
		if nested {
			return r.subField(sc, field, rest, op, leaf)
		}
		return r.subFilter(sc, field, op, leaf)
	}

	if field.Kind == schema.Relationship || sc.model.HasRelationship(field.StorageName()) {
		return r.relationshipValue(sc, field, op, leaf)
	}
	return r.column(sc, field, op, leaf)
}

// column compares a stored column with a literal or another column
func (r *Resolver) column(sc scope, field *schema.Field, op query.Operator, leaf *Leaf) (sq.Sqlizer, error) {
	storage := field.StorageName()
	col, ok := sc.model.Column(storage)
	if !ok {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no attribute %s", sc.model.Name, storage))
	}
	if err := query.ValidateOperator(op, col.Type); err != nil {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no operator %s", storage, leaf.Op))
	}
	return r.compare(sc, r.q.Dialect().Column(sc.alias, storage), col, op, leaf)
}

// compare builds the predicate of a leaf against an already resolved column expression.
// When col is known the literal is bound in the column's stored form.
func (r *Resolver) compare(sc scope, expr string, col *ormschema.Column, op query.Operator, leaf *Leaf) (sq.Sqlizer, error) {
	d := r.q.Dialect()

	if leaf.Field != "" {
		other, err := r.sameRowColumn(sc, leaf.Field)
		if err != nil {
			return nil, err
		}
		pred, err := d.CompareColumns(expr, op, d.Column(sc.alias, other))
		if err != nil {
			return nil, apierr.InvalidFilters(err.Error())
		}
		return pred, nil
	}
	if !leaf.HasValue {
		return nil, apierr.InvalidFilters("Can't find value or field in a filter")
	}

	value := leaf.Value
	if op != query.OpBetween {
		value = Coerce(value)
	}
	if op == query.OpIn || op == query.OpNotIn {
		if _, isList := value.([]interface{}); !isList {
			value = []interface{}{value}
		}
	}
	if col != nil {
		encoded, err := d.EncodeValue(col, value)
		if err != nil {
			return nil, apierr.InvalidFilters(err.Error())
		}
		value = encoded
	}

	pred, err := d.Compare(expr, op, value)
	if err != nil {
		return nil, apierr.InvalidFilters(err.Error())
	}
	return pred, nil
}

// sameRowColumn resolves the "field" of a column-to-column comparison. Schema
// field names are tried first, then model columns.
func (r *Resolver) sameRowColumn(sc scope, name string) (string, error) {
	if f, ok := sc.schema.Field(name); ok && f.Kind == schema.Attribute && sc.model.HasColumn(f.StorageName()) {
		return f.StorageName(), nil
	}
	if sc.model.HasColumn(name) {
		return name, nil
	}
	return "", apierr.InvalidFilters(fmt.Sprintf("%s has no attribute %s", sc.model.Name, name))
}

// subField resolves "field__rest": a condition on the related rows of a relationship,
// or on a member of a JSON column
func (r *Resolver) subField(sc scope, field *schema.Field, rest string, op query.Operator, leaf *Leaf) (sq.Sqlizer, error) {
	related, err := r.schemas.RelatedSchema(sc.schema, field.Name)
	if err != nil {
		return nil, apierr.InvalidFilters(err.Error())
	}

	if col, ok := sc.model.Column(field.StorageName()); ok && col.Type == ormschema.TypeJSON {
		return r.jsonMember(sc, col, related, rest, op, leaf)
	}

	inner := &Leaf{Name: rest, Op: leaf.Op, Value: leaf.Value, HasValue: leaf.HasValue, Field: leaf.Field, Sub: leaf.Sub}
	if op.IsRelational() {
		inner.Op = query.OpEqual.String()
	}
	return r.exists(sc, field, related, func(target scope) (sq.Sqlizer, error) {
		return r.leaf(target, inner)
	})
}

// subFilter resolves a leaf whose value is a nested filter tree on the related rows
func (r *Resolver) subFilter(sc scope, field *schema.Field, op query.Operator, leaf *Leaf) (sq.Sqlizer, error) {
	if !op.IsRelational() {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no operator %s", field.StorageName(), leaf.Op))
	}
	related, err := r.schemas.RelatedSchema(sc.schema, field.Name)
	if err != nil {
		return nil, apierr.InvalidFilters(err.Error())
	}
	return r.exists(sc, field, related, func(target scope) (sq.Sqlizer, error) {
		return r.resolve(target, leaf.Sub)
	})
}

// relationshipValue compares a relationship with related identifiers. A to-one
// relationship stored on this row compares its foreign key; every other kind
// checks for a related row whose key matches.
func (r *Resolver) relationshipValue(sc scope, field *schema.Field, op query.Operator, leaf *Leaf) (sq.Sqlizer, error) {
	rel, target, err := r.relationship(sc, field)
	if err != nil {
		return nil, err
	}
	d := r.q.Dialect()

	if rel.Type == ormschema.BelongsTo && !op.IsRelational() {
		fk, _ := sc.model.Column(rel.ForeignKey)
		return r.compare(sc, d.Column(sc.alias, rel.ForeignKey), fk, op, leaf)
	}

	related, err := r.schemas.RelatedSchema(sc.schema, field.Name)
	if err != nil {
		return nil, apierr.InvalidFilters(err.Error())
	}
	if (op == query.OpIs || op == query.OpIsNot) && leaf.HasValue && leaf.Value == nil {
		pred, err := r.exists(sc, field, related, func(scope) (sq.Sqlizer, error) { return nil, nil })
		if err != nil || op == query.OpIsNot {
			return pred, err
		}
		return query.Not(pred), nil
	}
	if op.IsRelational() {
		op = query.OpEqual
	}
	pk := target.PrimaryKey()
	return r.exists(sc, field, related, func(inner scope) (sq.Sqlizer, error) {
		return r.compare(inner, d.Column(inner.alias, pk.Name), pk, op, leaf)
	})
}

// jsonMember compares one member of a JSON column
func (r *Resolver) jsonMember(sc scope, col *ormschema.Column, nested *schema.Schema, member string, op query.Operator, leaf *Leaf) (sq.Sqlizer, error) {
	if strings.Contains(member, subFieldSeparator) {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no relationship or nested attribute %s", nested.Name, member))
	}
	storage, err := nested.StorageField(member)
	if err != nil {
		return nil, apierr.InvalidFilters(fmt.Sprintf("%s has no attribute %s", nested.Name, member))
	}
	expr, err := r.q.Dialect().JSONText(r.q.Dialect().Column(sc.alias, col.Name), storage)
	if err != nil {
		return nil, apierr.InvalidFilters(err.Error())
	}
	if op.IsRelational() {
		op = query.OpEqual
	}
	return r.compare(sc, expr, nil, op, leaf)
}

func (r *Resolver) relationship(sc scope, field *schema.Field) (*ormschema.Relationship, *ormschema.Model, error) {
	rel, ok := sc.model.Relationship(field.StorageName())
	if !ok {
		return nil, nil, apierr.InvalidFilters(fmt.Sprintf("%s has no attribute %s", sc.model.Name, field.StorageName()))
	}
	target, err := r.q.Models().Target(rel)
	if err != nil {
		return nil, nil, err
	}
	return rel, target, nil
}

// exists builds EXISTS (SELECT 1 FROM related rows of sc WHERE cond), where cond is
// resolved against the related table under a fresh alias
func (r *Resolver) exists(sc scope, field *schema.Field, related *schema.Schema, cond func(scope) (sq.Sqlizer, error)) (sq.Sqlizer, error) {
	rel, target, err := r.relationship(sc, field)
	if err != nil {
		return nil, err
	}
	d := r.q.Dialect()
	alias := r.q.NextAlias("f")
	inner := scope{schema: related, model: target, alias: alias}

	targetPK := d.Column(alias, target.PrimaryKey().Name)
	ownerPK := d.Column(sc.alias, sc.model.PrimaryKey().Name)

	sub := d.Builder().Select("1").From(d.Table(target.Table, alias))
	switch rel.Type {
	case ormschema.BelongsTo:
		sub = sub.Where(fmt.Sprintf("%s = %s", targetPK, d.Column(sc.alias, rel.ForeignKey)))
	case ormschema.HasOne, ormschema.HasMany:
		sub = sub.Where(fmt.Sprintf("%s = %s", d.Column(alias, rel.ForeignKey), ownerPK))
	case ormschema.ManyToMany:
		link := alias + "_link"
		sub = sub.Join(fmt.Sprintf("%s ON %s = %s",
			d.Table(rel.JoinTable, link), d.Column(link, rel.AssociationKey), targetPK)).
			Where(fmt.Sprintf("%s = %s", d.Column(link, rel.JoinForeignKey), ownerPK))
	default:
		return nil, apierr.InvalidFilters(fmt.Sprintf("unsupported relationship %s", rel.Type))
	}

	pred, err := cond(inner)
	if err != nil {
		return nil, err
	}
	if pred != nil {
		sub = sub.Where(pred)
	}
	return query.Exists(sub), nil
}
