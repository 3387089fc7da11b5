// Package relationships provides batched relationship loading for the persistence layer
package relationships

import (
	"context"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Loader eagerly loads relationships with one query per relationship hop, no matter
// how many parent records are involved.
type Loader struct {
	db      query.Querier
	dialect query.Dialect
	models  *schema.Registry
	track   func(*schema.Record) *schema.Record
}

// NewLoader creates a new relationship loader
func NewLoader(db query.Querier, dialect query.Dialect, models *schema.Registry) *Loader {
	return &Loader{
		db:      db,
		dialect: dialect,
		models:  models,
	}
}

// WithTracker passes every loaded record through fn, see query.Query.OnLoad
func (l *Loader) WithTracker(fn func(*schema.Record) *schema.Record) *Loader {
	l.track = fn
	return l
}

// Load walks the preload tree, attaching related records to every record of the batch
func (l *Loader) Load(ctx context.Context, records []*schema.Record, node *query.Preload) error {
	if len(records) == 0 || node.Empty() {
		return nil
	}

	model := records[0].Model
	for _, rec := range records[1:] {
		if rec.Model != model {
			return fmt.Errorf("%w: %s and %s", ErrMixedModels, model.Name, rec.Model.Name)
		}
	}

	for _, child := range node.Children() {
		rel, ok := model.Relationship(child.Relationship)
		if !ok {
			return fmt.Errorf("%w: %s has no relationship %s", ErrUnknownRelationship, model.Name, child.Relationship)
		}

		related, err := l.LoadRelationship(ctx, records, rel)
		if err != nil {
			return err
		}

		if err := l.Load(ctx, related, child); err != nil {
			return err
		}
	}
	return nil
}

// LoadRelationship loads one relationship for every record and returns the distinct
// related records that were attached.
func (l *Loader) LoadRelationship(ctx context.Context, records []*schema.Record, rel *schema.Relationship) ([]*schema.Record, error) {
	target, err := l.models.Target(rel)
	if err != nil {
		return nil, err
	}

	switch rel.Type {
	case schema.BelongsTo:
		return l.loadBelongsTo(ctx, records, rel, target)
	case schema.HasOne, schema.HasMany:
		return l.loadHasMany(ctx, records, rel, target)
	case schema.ManyToMany:
		return l.loadManyToMany(ctx, records, rel, target)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelationship, rel.Type)
	}
}

func (l *Loader) newQuery(target *schema.Model) *query.Query {
	q := query.New(l.db, l.dialect, l.models, target)
	if l.track != nil {
		q.OnLoad(l.track)
	}
	return q
}
