package datalayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// relationshipOp mutates a loaded relationship and reports whether it changed
type relationshipOp func(ctx context.Context, rec *ormschema.Record, rel *relationshipTarget, linkage Linkage) (bool, error)

// relationshipTarget is a relationship field resolved against the models
type relationshipTarget struct {
	field   *schema.Field
	rel     *ormschema.Relationship
	target  *ormschema.Model
	idField string
}

// GetRelationship returns the object addressed by view and the linkage of its
// relationship field
func (d *DataLayer) GetRelationship(ctx context.Context, field string, view ViewArgs) (*ormschema.Record, Linkage, error) {
	if err := d.hooks.BeforeGetRelationship(ctx, field, view); err != nil {
		return nil, Linkage{}, err
	}

	rec, rt, err := d.relationshipOwner(ctx, field, view)
	if err != nil {
		return nil, Linkage{}, err
	}
	current, err := d.session.Related(ctx, rec, rt.rel.Name)
	if err != nil {
		return nil, Linkage{}, err
	}

	linkage := Linkage{Many: rt.rel.IsToMany()}
	for _, r := range asRecords(current) {
		linkage.Data = append(linkage.Data, Identifier{Type: rt.field.Type, ID: ormschema.FormatID(r.Get(rt.idField))})
	}

	if err := d.hooks.AfterGetRelationship(ctx, rec, linkage, field, view); err != nil {
		return nil, Linkage{}, err
	}
	return rec, linkage, nil
}

// CreateRelationship adds the identified objects to a relationship. For to-many
// relationships only objects not already linked are added; a to-one relationship
// is replaced when the identifier differs.
func (d *DataLayer) CreateRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs) (*ormschema.Record, bool, error) {
	if err := d.hooks.BeforeCreateRelationship(ctx, linkage, field, view); err != nil {
		return nil, false, err
	}
	rec, updated, err := d.mutateRelationship(ctx, linkage, field, view, d.appendLinks)
	if err != nil {
		return nil, false, err
	}
	if err := d.hooks.AfterCreateRelationship(ctx, rec, updated, linkage, field, view); err != nil {
		return nil, false, err
	}
	return rec, updated, nil
}

// UpdateRelationship replaces a relationship when the identified set differs from
// the linked one
func (d *DataLayer) UpdateRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs) (*ormschema.Record, bool, error) {
	if err := d.hooks.BeforeUpdateRelationship(ctx, linkage, field, view); err != nil {
		return nil, false, err
	}
	rec, updated, err := d.mutateRelationship(ctx, linkage, field, view, d.replaceLinks)
	if err != nil {
		return nil, false, err
	}
	if err := d.hooks.AfterUpdateRelationship(ctx, rec, updated, linkage, field, view); err != nil {
		return nil, false, err
	}
	return rec, updated, nil
}

// DeleteRelationship removes the identified objects from a to-many relationship,
// ignoring identifiers that are not linked, or clears a to-one relationship
func (d *DataLayer) DeleteRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs) (*ormschema.Record, bool, error) {
	if err := d.hooks.BeforeDeleteRelationship(ctx, linkage, field, view); err != nil {
		return nil, false, err
	}
	rec, updated, err := d.mutateRelationship(ctx, linkage, field, view, d.removeLinks)
	if err != nil {
		if _, ok := apierr.As(err); ok {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("delete relationship error: %w", err)
	}
	if err := d.hooks.AfterDeleteRelationship(ctx, rec, updated, linkage, field, view); err != nil {
		return nil, false, err
	}
	return rec, updated, nil
}

// mutateRelationship resolves the owner and relationship, applies op and commits
func (d *DataLayer) mutateRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs, op relationshipOp) (*ormschema.Record, bool, error) {
	rec, rt, err := d.relationshipOwner(ctx, field, view)
	if err != nil {
		return nil, false, err
	}
	if err := checkLinkage(rt, linkage); err != nil {
		return nil, false, err
	}

	updated, err := op(ctx, rec, rt, linkage)
	if err != nil {
		d.session.Rollback()
		return nil, false, err
	}
	if err := d.session.Commit(ctx); err != nil {
		return nil, false, err
	}
	return rec, updated, nil
}

func (d *DataLayer) appendLinks(ctx context.Context, rec *ormschema.Record, rt *relationshipTarget, linkage Linkage) (bool, error) {
	if !rt.rel.IsToMany() {
		return d.replaceOne(ctx, rec, rt, linkage)
	}

	current, err := d.linked(ctx, rec, rt)
	if err != nil {
		return false, err
	}
	linkedIDs := idSet(current, rt.idField)

	next := append([]*ormschema.Record{}, current...)
	for _, ident := range linkage.Data {
		if linkedIDs[ident.ID] {
			continue
		}
		r, err := d.relatedObject(ctx, rt.target, rt.idField, ident.ID)
		if err != nil {
			return false, err
		}
		next = append(next, r)
		linkedIDs[ident.ID] = true
	}
	if len(next) == len(current) {
		return false, nil
	}
	return true, d.session.SetRelated(ctx, rec, rt.rel.Name, next)
}

func (d *DataLayer) replaceLinks(ctx context.Context, rec *ormschema.Record, rt *relationshipTarget, linkage Linkage) (bool, error) {
	if !rt.rel.IsToMany() {
		return d.replaceOne(ctx, rec, rt, linkage)
	}

	next := make([]*ormschema.Record, 0, len(linkage.Data))
	for _, ident := range linkage.Data {
		r, err := d.relatedObject(ctx, rt.target, rt.idField, ident.ID)
		if err != nil {
			return false, err
		}
		next = append(next, r)
	}

	current, err := d.linked(ctx, rec, rt)
	if err != nil {
		return false, err
	}
	if sameIDs(idSet(current, rt.idField), idSet(next, rt.idField)) {
		return false, nil
	}
	return true, d.session.SetRelated(ctx, rec, rt.rel.Name, next)
}

func (d *DataLayer) removeLinks(ctx context.Context, rec *ormschema.Record, rt *relationshipTarget, linkage Linkage) (bool, error) {
	if !rt.rel.IsToMany() {
		return true, d.session.SetRelated(ctx, rec, rt.rel.Name, nil)
	}

	current, err := d.linked(ctx, rec, rt)
	if err != nil {
		return false, err
	}
	named := make(map[string]bool, len(linkage.Data))
	for _, ident := range linkage.Data {
		named[ident.ID] = true
	}

	next := make([]*ormschema.Record, 0, len(current))
	for _, r := range current {
		if !named[ormschema.FormatID(r.Get(rt.idField))] {
			next = append(next, r)
		}
	}
	if len(next) == len(current) {
		return false, nil
	}
	return true, d.session.SetRelated(ctx, rec, rt.rel.Name, next)
}

// replaceOne sets a to-one relationship when the identifier differs from the linked one
func (d *DataLayer) replaceOne(ctx context.Context, rec *ormschema.Record, rt *relationshipTarget, linkage Linkage) (bool, error) {
	var next *ormschema.Record
	if ident := linkage.One(); ident != nil {
		r, err := d.relatedObject(ctx, rt.target, rt.idField, ident.ID)
		if err != nil {
			return false, err
		}
		next = r
	}

	current, err := d.session.Related(ctx, rec, rt.rel.Name)
	if err != nil {
		return false, err
	}
	if idOf(asOne(current), rt.idField) == idOf(next, rt.idField) {
		return false, nil
	}
	if next == nil {
		return true, d.session.SetRelated(ctx, rec, rt.rel.Name, nil)
	}
	return true, d.session.SetRelated(ctx, rec, rt.rel.Name, next)
}

// relationshipOwner returns the object addressed by view and its relationship field
func (d *DataLayer) relationshipOwner(ctx context.Context, field string, view ViewArgs) (*ormschema.Record, *relationshipTarget, error) {
	rec, err := d.lookup(ctx, view)
	if err != nil {
		return nil, nil, err
	}

	f, ok := d.schema.Field(field)
	if !ok || f.Kind != schema.Relationship {
		return nil, nil, apierr.RelationNotFound(fmt.Sprintf("%s has no attribute %s", d.model.Name, field))
	}
	rel, target, err := d.modelRelationship(rec.Model, f)
	if err != nil {
		return nil, nil, err
	}
	return rec, &relationshipTarget{field: f, rel: rel, target: target, idField: d.relatedIDField(f, target)}, nil
}

func (d *DataLayer) linked(ctx context.Context, rec *ormschema.Record, rt *relationshipTarget) ([]*ormschema.Record, error) {
	current, err := d.session.Related(ctx, rec, rt.rel.Name)
	if err != nil {
		return nil, err
	}
	return asRecords(current), nil
}

// modelRelationship resolves the model relationship a schema field is stored in
func (d *DataLayer) modelRelationship(m *ormschema.Model, f *schema.Field) (*ormschema.Relationship, *ormschema.Model, error) {
	rel, ok := m.Relationship(f.StorageName())
	if !ok {
		return nil, nil, apierr.RelationNotFound(fmt.Sprintf("%s has no attribute %s", m.Name, f.StorageName()))
	}
	target, err := d.session.Models().Target(rel)
	if err != nil {
		return nil, nil, err
	}
	return rel, target, nil
}

func (d *DataLayer) relatedIDField(f *schema.Field, target *ormschema.Model) string {
	if f.IDField != "" {
		return f.IDField
	}
	return target.PrimaryKey().Name
}

// relatedObject returns the row of target whose idField equals id
func (d *DataLayer) relatedObject(ctx context.Context, target *ormschema.Model, idField string, id string) (*ormschema.Record, error) {
	notFound := apierr.RelatedObjectNotFound(fmt.Sprintf("%s.%s: %s not found", target.Name, idField, id))

	col, ok := target.Column(idField)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ormschema.ErrUnknownColumn, target.Name, idField)
	}
	value, ok := identifierValue(col, id)
	if !ok {
		return nil, notFound
	}

	q, err := d.session.Query(target.Name)
	if err != nil {
		return nil, err
	}
	if _, err := q.WhereEq(map[string]interface{}{idField: value}); err != nil {
		return nil, err
	}
	rec, err := q.One(ctx)
	if errors.Is(err, query.ErrNoResult) {
		return nil, notFound
	}
	return rec, err
}

// checkLinkage verifies the linkage shape and types against the relationship
func checkLinkage(rt *relationshipTarget, linkage Linkage) error {
	if rt.rel.IsToMany() && !linkage.Many {
		return apierr.BadDocument(fmt.Sprintf("%s is a to-many relationship, data must be an array", rt.field.Name), "/data")
	}
	if !rt.rel.IsToMany() && linkage.Many {
		return apierr.BadDocument(fmt.Sprintf("%s is a to-one relationship, data must be an object or null", rt.field.Name), "/data")
	}
	for _, ident := range linkage.Data {
		if ident.Type != "" && ident.Type != rt.field.Type {
			return apierr.InvalidType("The type field does not match the resource type", "/data/type")
		}
	}
	return nil
}

// identifierOf reads a to-one relationship value from a request body
func identifierOf(value interface{}) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case json.Number:
		s := v.String()
		return &s, nil
	case float64, int, int64:
		s := ormschema.FormatID(v)
		return &s, nil
	case Identifier:
		return &v.ID, nil
	case *Identifier:
		if v == nil {
			return nil, nil
		}
		return &v.ID, nil
	case map[string]interface{}:
		id, ok := v["id"]
		if !ok {
			return nil, fmt.Errorf("resource identifier has no id")
		}
		return identifierOf(id)
	default:
		return nil, fmt.Errorf("unsupported relationship value %T", value)
	}
}

// identifierList reads a to-many relationship value from a request body
func identifierList(value interface{}) ([]string, error) {
	var items []interface{}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	case []string:
		return append([]string{}, v...), nil
	case []Identifier:
		out := make([]string, len(v))
		for i, ident := range v {
			out[i] = ident.ID
		}
		return out, nil
	default:
		return nil, fmt.Errorf("relationship value must be a list, got %T", value)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		id, err := identifierOf(item)
		if err != nil {
			return nil, err
		}
		if id == nil {
			return nil, fmt.Errorf("relationship list contains null")
		}
		out = append(out, *id)
	}
	return out, nil
}

func asRecords(v interface{}) []*ormschema.Record {
	switch r := v.(type) {
	case []*ormschema.Record:
		return r
	case *ormschema.Record:
		if r != nil {
			return []*ormschema.Record{r}
		}
	}
	return nil
}

func asOne(v interface{}) *ormschema.Record {
	r, _ := v.(*ormschema.Record)
	return r
}

func idOf(rec *ormschema.Record, idField string) string {
	if rec == nil {
		return ""
	}
	return ormschema.FormatID(rec.Get(idField))
}

func idSet(records []*ormschema.Record, idField string) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[idOf(r, idField)] = true
	}
	return out
}

func sameIDs(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
