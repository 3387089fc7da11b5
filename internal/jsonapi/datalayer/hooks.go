package datalayer

import (
	"context"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Hooks is called around every data layer operation. A before hook returning an
// error aborts the operation before anything is written. After hooks run once the
// unit of work is committed.
type Hooks interface {
	BeforeCreateObject(ctx context.Context, data Data, view ViewArgs) error
	AfterCreateObject(ctx context.Context, rec *ormschema.Record, data Data, view ViewArgs) error

	BeforeGetObject(ctx context.Context, view ViewArgs) error
	AfterGetObject(ctx context.Context, rec *ormschema.Record, view ViewArgs) error

	BeforeGetCollection(ctx context.Context, params *querystring.Params, view ViewArgs) error
	// AfterGetCollection may replace the returned page of records
	AfterGetCollection(ctx context.Context, records []*ormschema.Record, params *querystring.Params, view ViewArgs) ([]*ormschema.Record, error)

	BeforeUpdateObject(ctx context.Context, rec *ormschema.Record, data Data, view ViewArgs) error
	AfterUpdateObject(ctx context.Context, rec *ormschema.Record, data Data, view ViewArgs) error

	BeforeDeleteObject(ctx context.Context, rec *ormschema.Record, view ViewArgs) error
	AfterDeleteObject(ctx context.Context, rec *ormschema.Record, view ViewArgs) error

	BeforeCreateRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs) error
	AfterCreateRelationship(ctx context.Context, rec *ormschema.Record, updated bool, linkage Linkage, field string, view ViewArgs) error

	BeforeGetRelationship(ctx context.Context, field string, view ViewArgs) error
	AfterGetRelationship(ctx context.Context, rec *ormschema.Record, linkage Linkage, field string, view ViewArgs) error

	BeforeUpdateRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs) error
	AfterUpdateRelationship(ctx context.Context, rec *ormschema.Record, updated bool, linkage Linkage, field string, view ViewArgs) error

	BeforeDeleteRelationship(ctx context.Context, linkage Linkage, field string, view ViewArgs) error
	AfterDeleteRelationship(ctx context.Context, rec *ormschema.Record, updated bool, linkage Linkage, field string, view ViewArgs) error
}

// NoopHooks implements every hook as a no-op. Embed it to override only some of them.
type NoopHooks struct{}

var _ Hooks = NoopHooks{}

func (NoopHooks) BeforeCreateObject(context.Context, Data, ViewArgs) error { return nil }
func (NoopHooks) AfterCreateObject(context.Context, *ormschema.Record, Data, ViewArgs) error {
	return nil
}

func (NoopHooks) BeforeGetObject(context.Context, ViewArgs) error                   { return nil }
func (NoopHooks) AfterGetObject(context.Context, *ormschema.Record, ViewArgs) error { return nil }

func (NoopHooks) BeforeGetCollection(context.Context, *querystring.Params, ViewArgs) error {
	return nil
}
func (NoopHooks) AfterGetCollection(_ context.Context, records []*ormschema.Record, _ *querystring.Params, _ ViewArgs) ([]*ormschema.Record, error) {
	return records, nil
}

func (NoopHooks) BeforeUpdateObject(context.Context, *ormschema.Record, Data, ViewArgs) error {
	return nil
}
func (NoopHooks) AfterUpdateObject(context.Context, *ormschema.Record, Data, ViewArgs) error {
	return nil
}

func (NoopHooks) BeforeDeleteObject(context.Context, *ormschema.Record, ViewArgs) error { return nil }
func (NoopHooks) AfterDeleteObject(context.Context, *ormschema.Record, ViewArgs) error  { return nil }

func (NoopHooks) BeforeCreateRelationship(context.Context, Linkage, string, ViewArgs) error {
	return nil
}
func (NoopHooks) AfterCreateRelationship(context.Context, *ormschema.Record, bool, Linkage, string, ViewArgs) error {
	return nil
}

func (NoopHooks) BeforeGetRelationship(context.Context, string, ViewArgs) error { return nil }
func (NoopHooks) AfterGetRelationship(context.Context, *ormschema.Record, Linkage, string, ViewArgs) error {
	return nil
}

func (NoopHooks) BeforeUpdateRelationship(context.Context, Linkage, string, ViewArgs) error {
	return nil
}
func (NoopHooks) AfterUpdateRelationship(context.Context, *ormschema.Record, bool, Linkage, string, ViewArgs) error {
	return nil
}

func (NoopHooks) BeforeDeleteRelationship(context.Context, Linkage, string, ViewArgs) error {
	return nil
}
func (NoopHooks) AfterDeleteRelationship(context.Context, *ormschema.Record, bool, Linkage, string, ViewArgs) error {
	return nil
}
