package response

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DataDog/jsonapi"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Loader loads the relationships of a record on demand. *session.Session implements it.
type Loader interface {
	Related(ctx context.Context, rec *ormschema.Record, name string) (interface{}, error)
}

// Builder renders records as JSON:API resource objects
type Builder struct {
	schemas *schema.Registry
	loader  Loader
	baseURL string
}

// NewBuilder creates a builder whose links are rooted at baseURL
func NewBuilder(schemas *schema.Registry, loader Loader, baseURL string) *Builder {
	return &Builder{
		schemas: schemas,
		loader:  loader,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Schemas returns the registry relationships are resolved with
func (b *Builder) Schemas() *schema.Registry { return b.schemas }

// Object renders one record of schema s with the includes and sparse fieldsets of params
func (b *Builder) Object(ctx context.Context, s *schema.Schema, rec *ormschema.Record, params *querystring.Params) (*Document, error) {
	if rec == nil {
		return NewDocument(nil), nil
	}
	resources, included, err := b.compound(ctx, s, []*ormschema.Record{rec}, params)
	if err != nil {
		return nil, err
	}
	doc := NewDocument(resources[0])
	doc.Included = included
	doc.Links = &jsonapi.Link{Self: resources[0].Links.Self}
	return doc, nil
}

// Collection renders records of schema s with the includes and sparse fieldsets of params
func (b *Builder) Collection(ctx context.Context, s *schema.Schema, records []*ormschema.Record, params *querystring.Params) (*Document, error) {
	resources, included, err := b.compound(ctx, s, records, params)
	if err != nil {
		return nil, err
	}
	doc := NewDocument(resources)
	doc.Included = included
	return doc, nil
}

// RelationshipLinks returns the links of a relationship object
func (b *Builder) RelationshipLinks(typ, id, field string) *jsonapi.Link {
	self := b.ResourceURL(typ, id)
	return &jsonapi.Link{
		Self:    self + "/relationships/" + field,
		Related: self + "/" + field,
	}
}

// ResourceURL returns the URL of an object
func (b *Builder) ResourceURL(typ, id string) string {
	return b.baseURL + "/" + typ + "/" + id
}

// compound builds the primary resources and the deduplicated included resources.
// Every include path is loaded before any resource is built so relationship
// linkage covers the included objects.
func (b *Builder) compound(ctx context.Context, s *schema.Schema, records []*ormschema.Record, params *querystring.Params) ([]*Resource, []*Resource, error) {
	if params == nil {
		params = &querystring.Params{}
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[s.Type+":"+ResourceID(s, rec)] = true
	}
	var queue []includedRecord
	for _, path := range params.Include {
		if err := b.load(ctx, s, records, strings.Split(path, "."), seen, &queue); err != nil {
			return nil, nil, err
		}
	}

	resources := make([]*Resource, 0, len(records))
	primaryFields := fieldset(s, params.Fields, params.Include)
	for _, rec := range records {
		res, err := b.resource(ctx, s, rec, primaryFields)
		if err != nil {
			return nil, nil, err
		}
		resources = append(resources, res)
	}

	var included []*Resource
	for _, item := range queue {
		res, err := b.resource(ctx, item.schema, item.record, fieldset(item.schema, params.Fields, nil))
		if err != nil {
			return nil, nil, err
		}
		included = append(included, res)
	}
	return resources, included, nil
}

type includedRecord struct {
	schema *schema.Schema
	record *ormschema.Record
}

// load follows one include path from records, queueing every related object not seen yet
func (b *Builder) load(ctx context.Context, s *schema.Schema, records []*ormschema.Record, segments []string, seen map[string]bool, queue *[]includedRecord) error {
	if len(segments) == 0 || len(records) == 0 {
		return nil
	}
	f, ok := s.Field(segments[0])
	if !ok || f.Kind != schema.Relationship {
		return fmt.Errorf("%w: %s has no relationship %s", schema.ErrUnknownField, s.Name, segments[0])
	}
	related, err := b.schemas.RelatedSchema(s, f.Name)
	if err != nil {
		return err
	}

	var next []*ormschema.Record
	for _, rec := range records {
		v, err := b.loader.Related(ctx, rec, f.StorageName())
		if err != nil {
			return err
		}
		for _, r := range asRecords(v) {
			next = append(next, r)
			key := related.Type + ":" + ResourceID(related, r)
			if !seen[key] {
				seen[key] = true
				*queue = append(*queue, includedRecord{schema: related, record: r})
			}
		}
	}
	return b.load(ctx, related, next, segments[1:], seen, queue)
}

// resource renders one record; keep selects the fields rendered
func (b *Builder) resource(ctx context.Context, s *schema.Schema, rec *ormschema.Record, keep func(string) bool) (*Resource, error) {
	id := ResourceID(s, rec)
	res := &Resource{
		Type:  s.Type,
		ID:    id,
		Links: &jsonapi.Link{Self: b.ResourceURL(s.Type, id)},
	}

	for _, f := range s.Fields() {
		if f.Name == "id" || !keep(f.Name) {
			continue
		}
		switch f.Kind {
		case schema.Attribute:
			if res.Attributes == nil {
				res.Attributes = make(map[string]interface{})
			}
			res.Attributes[f.Name] = attributeValue(rec, f.StorageName())
		case schema.Nested:
			v, err := b.nestedValue(ctx, s, f, rec)
			if err != nil {
				return nil, err
			}
			if res.Attributes == nil {
				res.Attributes = make(map[string]interface{})
			}
			res.Attributes[f.Name] = v
		case schema.Relationship:
			rel := &Relationship{Links: b.RelationshipLinks(s.Type, id, f.Name)}
			if v, loaded := rec.Related(f.StorageName()); loaded {
				related, err := b.schemas.RelatedSchema(s, f.Name)
				if err != nil {
					return nil, err
				}
				rel.Data = &Linkage{Many: f.Many}
				if rel.Data.Many {
					rel.Data.Data = []ResourceIdentifier{}
				}
				for _, r := range asRecords(v) {
					rel.Data.Data = append(rel.Data.Data, ResourceIdentifier{Type: related.Type, ID: ResourceID(related, r)})
				}
			}
			if res.Relationships == nil {
				res.Relationships = make(map[string]*Relationship)
			}
			res.Relationships[f.Name] = rel
		}
	}
	return res, nil
}

// nestedValue renders a nested field: the stored document for a JSON column, the
// attributes of the owned objects for a relationship
func (b *Builder) nestedValue(ctx context.Context, s *schema.Schema, f *schema.Field, rec *ormschema.Record) (interface{}, error) {
	if rec.Model.HasColumn(f.StorageName()) {
		return rec.Get(f.StorageName()), nil
	}
	nested, err := b.schemas.RelatedSchema(s, f.Name)
	if err != nil {
		return nil, err
	}
	v, err := b.loader.Related(ctx, rec, f.StorageName())
	if err != nil {
		return nil, err
	}

	render := func(owned *ormschema.Record) map[string]interface{} {
		out := make(map[string]interface{})
		for _, nf := range nested.Fields() {
			if nf.Kind == schema.Attribute && owned.Model.HasColumn(nf.StorageName()) {
				out[nf.Name] = attributeValue(owned, nf.StorageName())
			}
		}
		return out
	}

	if !f.Many {
		one, _ := v.(*ormschema.Record)
		if one == nil {
			return nil, nil
		}
		return render(one), nil
	}
	items := []map[string]interface{}{}
	for _, owned := range asRecords(v) {
		items = append(items, render(owned))
	}
	return items, nil
}

// ResourceID returns the identifier of rec as a resource of schema s
func ResourceID(s *schema.Schema, rec *ormschema.Record) string {
	if f, ok := s.Field("id"); ok && rec.Model.HasColumn(f.StorageName()) {
		return ormschema.FormatID(rec.Get(f.StorageName()))
	}
	return rec.IDString()
}

// attributeValue returns a column value in its wire form. Dates drop their time part.
func attributeValue(rec *ormschema.Record, column string) interface{} {
	v := rec.Get(column)
	col, ok := rec.Model.Column(column)
	if !ok {
		return v
	}
	if t, isTime := v.(time.Time); isTime && col.Type == ormschema.TypeDate {
		return t.Format("2006-01-02")
	}
	return v
}

func asRecords(v interface{}) []*ormschema.Record {
	switch t := v.(type) {
	case *ormschema.Record:
		if t == nil {
			return nil
		}
		return []*ormschema.Record{t}
	case []*ormschema.Record:
		return t
	default:
		return nil
	}
}
