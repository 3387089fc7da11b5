package datalayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateObject creates a record from data and commits it
func (d *DataLayer) CreateObject(ctx context.Context, data Data, view ViewArgs) (*ormschema.Record, error) {
	if err := d.hooks.BeforeCreateObject(ctx, data, view); err != nil {
		return nil, err
	}

	rec := ormschema.NewRecord(d.model)
	if err := d.apply(ctx, rec, data, true); err != nil {
		d.session.Rollback()
		return nil, err
	}

	d.session.Add(rec)
	if err := d.session.Commit(ctx); err != nil {
		return nil, err
	}
	d.logger.Debug("object created", zap.String("type", d.schema.Type), zap.String("id", rec.IDString()))

	if err := d.hooks.AfterCreateObject(ctx, rec, data, view); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetObject returns the object addressed by view, with include paths preloaded.
// It fails with query.ErrNoResult when no row matches.
func (d *DataLayer) GetObject(ctx context.Context, view ViewArgs, include []string) (*ormschema.Record, error) {
	if err := d.hooks.BeforeGetObject(ctx, view); err != nil {
		return nil, err
	}

	q, err := d.objectQuery(view)
	if err != nil {
		return nil, err
	}
	if err := d.preload(q, include); err != nil {
		return nil, err
	}
	rec, err := q.One(ctx)
	if err != nil {
		return nil, err
	}

	if err := d.hooks.AfterGetObject(ctx, rec, view); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetCollection returns the number of objects matching params and the requested
// page of them. filterBy holds exact-match column values applied before the filters.
func (d *DataLayer) GetCollection(ctx context.Context, params *querystring.Params, view ViewArgs, filterBy map[string]interface{}) (int, []*ormschema.Record, error) {
	if params == nil {
		params = &querystring.Params{}
	}
	if err := d.hooks.BeforeGetCollection(ctx, params, view); err != nil {
		return 0, nil, err
	}

	q, err := d.Compile(params, view, filterBy)
	if err != nil {
		return 0, nil, err
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, nil, err
	}
	records, err := Paginate(q, params.Page).All(ctx)
	if err != nil {
		return 0, nil, err
	}

	records, err = d.hooks.AfterGetCollection(ctx, records, params, view)
	if err != nil {
		return 0, nil, err
	}
	return count, records, nil
}

// UpdateObject applies data to the object addressed by view and commits it
func (d *DataLayer) UpdateObject(ctx context.Context, data Data, view ViewArgs) (*ormschema.Record, error) {
	rec, err := d.lookup(ctx, view)
	if err != nil {
		return nil, err
	}
	if err := d.hooks.BeforeUpdateObject(ctx, rec, data, view); err != nil {
		return nil, err
	}

	if err := d.apply(ctx, rec, data, false); err != nil {
		d.session.Rollback()
		return nil, err
	}
	if err := d.session.Commit(ctx); err != nil {
		return nil, err
	}

	if err := d.hooks.AfterUpdateObject(ctx, rec, data, view); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteObject deletes the object addressed by view and commits
func (d *DataLayer) DeleteObject(ctx context.Context, view ViewArgs) error {
	rec, err := d.lookup(ctx, view)
	if err != nil {
		return err
	}
	if err := d.hooks.BeforeDeleteObject(ctx, rec, view); err != nil {
		return err
	}

	d.session.Delete(rec)
	if err := d.session.Commit(ctx); err != nil {
		return err
	}
	d.logger.Debug("object deleted", zap.String("type", d.schema.Type), zap.String("id", rec.IDString()))

	return d.hooks.AfterDeleteObject(ctx, rec, view)
}

// objectQuery selects the object whose id field equals the url field of view
func (d *DataLayer) objectQuery(view ViewArgs) (*query.Query, error) {
	q, err := d.session.Query(d.model.Name)
	if err != nil {
		return nil, err
	}
	col, _ := d.model.Column(d.idField)
	value, ok := identifierValue(col, view[d.urlField])
	if !ok {
		// no row can hold this identifier
		return q.Where(sq.Expr("1 = 0")), nil
	}
	if _, err := q.WhereEq(map[string]interface{}{d.idField: value}); err != nil {
		return nil, err
	}
	return q, nil
}

// lookup returns the object addressed by view or an ObjectNotFound error
func (d *DataLayer) lookup(ctx context.Context, view ViewArgs) (*ormschema.Record, error) {
	q, err := d.objectQuery(view)
	if err != nil {
		return nil, err
	}
	rec, err := q.One(ctx)
	if errors.Is(err, query.ErrNoResult) {
		return nil, apierr.ObjectNotFound(fmt.Sprintf("%s: %s not found", d.model.Name, view[d.urlField]), d.urlField)
	}
	return rec, err
}

// apply assigns data to rec. Attributes are set first, then relationships are
// linked to existing rows, then nested fields are set. The primary key is only
// assigned when creating.
func (d *DataLayer) apply(ctx context.Context, rec *ormschema.Record, data Data, creating bool) error {
	for name := range data {
		if !d.schema.Has(name) {
			return fmt.Errorf("%w: %s has no attribute %s", schema.ErrUnknownField, d.schema.Name, name)
		}
	}

	var relationships, nested []*schema.Field
	for _, name := range d.schema.FieldNames() {
		value, present := data[name]
		if !present {
			continue
		}
		f, _ := d.schema.Field(name)
		switch f.Kind {
		case schema.Relationship:
			relationships = append(relationships, f)
		case schema.Nested:
			nested = append(nested, f)
		default:
			if err := d.setAttribute(rec, f, value, creating); err != nil {
				return err
			}
		}
	}
	for _, f := range relationships {
		if err := d.applyRelationship(ctx, rec, f, data[f.Name]); err != nil {
			return err
		}
	}
	for _, f := range nested {
		if err := d.applyNested(ctx, rec, f, data[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DataLayer) setAttribute(rec *ormschema.Record, f *schema.Field, value interface{}, creating bool) error {
	col, ok := rec.Model.Column(f.StorageName())
	if !ok {
		return fmt.Errorf("%w: %s.%s", ormschema.ErrUnknownColumn, rec.Model.Name, f.StorageName())
	}
	if col.Primary && !creating {
		return nil
	}
	if col.Primary {
		if value == nil || value == "" {
			return nil
		}
		id, ok := identifierValue(col, value)
		if !ok {
			return apierr.BadDocument(fmt.Sprintf("Invalid identifier %v", value), "/data/id")
		}
		return rec.Set(col.Name, id)
	}
	v, err := attributeValue(col, value)
	if err != nil {
		return apierr.BadDocument(fmt.Sprintf("Invalid value for attribute %s: %v", f.Name, err), "/data/attributes/"+f.Name)
	}
	return rec.Set(col.Name, v)
}

// applyRelationship links rec to the rows named by value
func (d *DataLayer) applyRelationship(ctx context.Context, rec *ormschema.Record, f *schema.Field, value interface{}) error {
	rel, target, err := d.modelRelationship(rec.Model, f)
	if err != nil {
		return err
	}
	idField := d.relatedIDField(f, target)

	if rel.IsToMany() {
		ids, err := identifierList(value)
		if err != nil {
			return apierr.BadDocument(err.Error(), "/data/relationships/"+f.Name)
		}
		related := make([]*ormschema.Record, 0, len(ids))
		for _, id := range ids {
			r, err := d.relatedObject(ctx, target, idField, id)
			if err != nil {
				return err
			}
			related = append(related, r)
		}
		return d.session.SetRelated(ctx, rec, rel.Name, related)
	}

	id, err := identifierOf(value)
	if err != nil {
		return apierr.BadDocument(err.Error(), "/data/relationships/"+f.Name)
	}
	if id == nil {
		return d.session.SetRelated(ctx, rec, rel.Name, nil)
	}
	r, err := d.relatedObject(ctx, target, idField, *id)
	if err != nil {
		return err
	}
	return d.session.SetRelated(ctx, rec, rel.Name, r)
}

// applyNested sets a nested field: owned records are created when the field maps
// to a relationship, the value is stored as is when it maps to a column
func (d *DataLayer) applyNested(ctx context.Context, rec *ormschema.Record, f *schema.Field, value interface{}) error {
	storage := f.StorageName()
	pointer := "/data/attributes/" + f.Name

	if col, ok := rec.Model.Column(storage); ok {
		return rec.Set(col.Name, value)
	}

	rel, ok := rec.Model.Relationship(storage)
	if !ok {
		return apierr.InvalidType("Unrecognized nested field type: not a relationship or column.", pointer)
	}
	target, err := d.session.Models().Target(rel)
	if err != nil {
		return err
	}
	nestedSchema, err := d.schemas.RelatedSchema(d.schema, f.Name)
	if err != nil {
		return err
	}

	build := func(item interface{}) (*ormschema.Record, error) {
		values, ok := item.(map[string]interface{})
		if !ok {
			return nil, apierr.InvalidType(fmt.Sprintf("Nested field %s expects an object", f.Name), pointer)
		}
		owned := ormschema.NewRecord(target)
		for name, v := range values {
			column, err := nestedSchema.StorageField(name)
			if err != nil {
				return nil, apierr.BadDocument(err.Error(), pointer+"/"+name)
			}
			col, ok := target.Column(column)
			if !ok {
				return nil, apierr.BadDocument(fmt.Sprintf("%s has no attribute %s", target.Name, column), pointer+"/"+name)
			}
			converted, err := attributeValue(col, v)
			if err != nil {
				return nil, apierr.BadDocument(err.Error(), pointer+"/"+name)
			}
			if err := owned.Set(col.Name, converted); err != nil {
				return nil, err
			}
		}
		return owned, nil
	}

	if !rel.IsToMany() {
		if value == nil {
			return d.session.SetRelated(ctx, rec, rel.Name, nil)
		}
		owned, err := build(value)
		if err != nil {
			return err
		}
		return d.session.SetRelated(ctx, rec, rel.Name, owned)
	}

	items, ok := value.([]interface{})
	if !ok && value != nil {
		return apierr.InvalidType(fmt.Sprintf("Nested field %s expects a list of objects", f.Name), pointer)
	}
	owned := make([]*ormschema.Record, 0, len(items))
	for _, item := range items {
		r, err := build(item)
		if err != nil {
			return err
		}
		owned = append(owned, r)
	}
	return d.session.SetRelated(ctx, rec, rel.Name, owned)
}

// attributeValue converts a decoded JSON value into the native form of the column
func attributeValue(col *ormschema.Column, v interface{}) (interface{}, error) {
	if n, ok := v.(json.Number); ok {
		switch col.Type {
		case ormschema.TypeInt:
			return n.Int64()
		case ormschema.TypeDecimal:
			return decimal.NewFromString(n.String())
		case ormschema.TypeFloat:
			return n.Float64()
		default:
			return n.String(), nil
		}
	}

	switch col.Type {
	case ormschema.TypeInt:
		if f, ok := v.(float64); ok {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			return int64(f), nil
		}
	case ormschema.TypeDecimal:
		switch t := v.(type) {
		case string:
			return decimal.NewFromString(t)
		case float64:
			return decimal.NewFromFloat(t), nil
		}
	}
	return v, nil
}
