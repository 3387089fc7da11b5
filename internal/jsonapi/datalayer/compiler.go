package datalayer

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/filter"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"go.uber.org/zap"
)

// Compile builds the collection query for params without pagination: the parent
// scope of view, the exact-match filterBy columns, the filter tree, the include
// preloads and the sort keys, in that order. The primary key is always the last
// sort key so pages are stable.
func (d *DataLayer) Compile(params *querystring.Params, view ViewArgs, filterBy map[string]interface{}) (*query.Query, error) {
	if params == nil {
		params = &querystring.Params{}
	}

	q, err := d.session.Query(d.model.Name)
	if err != nil {
		return nil, err
	}
	resolver := filter.NewResolver(d.schemas, q)

	if err := d.scopeToParent(resolver, view); err != nil {
		return nil, err
	}
	if len(filterBy) > 0 {
		if _, err := q.WhereEq(filterBy); err != nil {
			return nil, err
		}
	}
	if err := resolver.Apply(d.schema, params.Filters); err != nil {
		return nil, err
	}
	if err := d.preload(q, params.Include); err != nil {
		return nil, err
	}
	if err := d.sort(q, params.Sort); err != nil {
		return nil, err
	}
	return q, nil
}

// Paginate returns a copy of q limited to the requested page. A disabled page
// returns q unchanged.
func Paginate(q *query.Query, page querystring.Page) *query.Query {
	if page.Disabled() {
		return q
	}
	paged := q.Clone().Limit(uint64(page.Size))
	if offset := page.Offset(); offset > 0 {
		paged.Offset(uint64(offset))
	}
	return paged
}

// scopeToParent restricts the collection to the objects related to the parent
// named by view. With a parent field the inverse of that relationship is compared
// with the parent identifier; otherwise the single field of the schema whose
// related type is the parent type is.
func (d *DataLayer) scopeToParent(resolver *filter.Resolver, view ViewArgs) error {
	parentType, parentID := view[ParentType], view[ParentID]
	if parentType == "" {
		return nil
	}

	var f *schema.Field
	var err error
	if parentField := view[ParentField]; parentField != "" {
		f, err = d.inverseField(parentType, parentField)
	} else {
		f, err = d.fieldToType(parentType)
	}
	if err != nil {
		return err
	}
	leaf := &filter.Leaf{Name: f.Name, Op: query.OpEqual.String(), Value: parentID, HasValue: true}
	return resolver.Apply(d.schema, []filter.Node{leaf})
}

// inverseField returns the relationship field of the schema mirroring the
// relationship field of the parent type
func (d *DataLayer) inverseField(parentType, parentField string) (*schema.Field, error) {
	parent, err := d.schemas.SchemaForType(parentType)
	if err != nil {
		return nil, err
	}
	pf, ok := parent.Field(parentField)
	if !ok || pf.Kind != schema.Relationship || parent.Model == nil {
		return nil, apierr.RelationNotFound(fmt.Sprintf("%s has no relationship %s", parent.Name, parentField))
	}
	rel, ok := parent.Model.Relationship(pf.StorageName())
	if !ok {
		return nil, apierr.RelationNotFound(fmt.Sprintf("%s has no attribute %s", parent.Model.Name, pf.StorageName()))
	}
	if inverse, ok := d.model.Inverse(parent.Model, rel); ok {
		for _, f := range d.schema.Fields() {
			if f.Kind == schema.Relationship && f.StorageName() == inverse.Name {
				return f, nil
			}
		}
	}
	return nil, apierr.RelationNotFound(fmt.Sprintf("%s has no relationship mirroring %s.%s", d.schema.Name, parent.Name, parentField))
}

// fieldToType returns the only relationship field of the schema to a type
func (d *DataLayer) fieldToType(typ string) (*schema.Field, error) {
	var found *schema.Field
	for _, f := range d.schema.Fields() {
		if f.Kind != schema.Relationship || f.Type != typ {
			continue
		}
		if found != nil {
			return nil, apierr.RelationNotFound(fmt.Sprintf("%s has several relationships to %s", d.schema.Name, typ))
		}
		found = f
	}
	if found == nil {
		return nil, apierr.RelationNotFound(fmt.Sprintf("%s has no relationship to %s", d.schema.Name, typ))
	}
	return found, nil
}

// preload plans eager loading for the include paths. Paths sharing a prefix share
// the same preload nodes. A hop into a schema without a model binding cannot be
// planned; it is skipped with a warning and left to lazy loading.
func (d *DataLayer) preload(q *query.Query, include []string) error {
	if len(include) == 0 {
		return nil
	}
	if err := d.schemas.ValidateInclude(d.schema, include); err != nil {
		return err
	}

	root := q.PreloadTree()
	if root == nil {
		root = query.NewPreload()
	}
	for _, path := range include {
		node := root
		current := d.schema
		for _, name := range strings.Split(path, ".") {
			if current.Model == nil {
				d.logger.Warn("eager loading skipped, related objects will be loaded one query at a time",
					zap.String("schema", current.Name),
					zap.String("relationship", name),
					zap.String("path", path))
				break
			}
			f, _ := current.Field(name)
			if !current.Model.HasRelationship(f.StorageName()) {
				return apierr.InvalidInclude(fmt.Sprintf("%s has no attribute %s", current.Model.Name, f.StorageName()))
			}
			node = node.Child(f.StorageName())

			next, err := d.schemas.RelatedSchema(current, name)
			if err != nil {
				return apierr.InvalidInclude(err.Error())
			}
			current = next
		}
	}
	if !root.Empty() {
		q.Preload(root)
	}
	return nil
}

// sort adds the sort keys in the order given, joining every relationship hop
func (d *DataLayer) sort(q *query.Query, keys []querystring.SortField) error {
	for _, key := range keys {
		joined, err := q.JoinPath(key.Relationships)
		if err != nil {
			return apierr.InvalidSort(err.Error())
		}
		if !joined.Model.HasColumn(key.Column) {
			return apierr.InvalidSort(fmt.Sprintf("Attribute %s does not exist on %s", key.Column, joined.Model.Name))
		}
		q.OrderBy(joined.Alias, key.Column, key.Desc)
	}
	q.OrderBy(q.Alias(), d.model.PrimaryKey().Name, false)
	return nil
}
