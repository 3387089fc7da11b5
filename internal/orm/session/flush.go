package session

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/conduit-lang/jsonapi/internal/orm/crud"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/tracking"
)

// flusher writes one unit of work inside a transaction. Statements run in this order:
// inserts (owners before the rows referencing them), link changes, column updates
// and finally deletes.
type flusher struct {
	s        *Session
	tx       *sql.Tx
	fresh    map[*schema.Record]bool
	inserted map[*schema.Record]bool
	owners   map[*schema.Record][]*linkChange
}

func (s *Session) flush(ctx context.Context, tx *sql.Tx, fresh []*schema.Record) error {
	f := &flusher{
		s:        s,
		tx:       tx,
		fresh:    make(map[*schema.Record]bool, len(fresh)),
		inserted: make(map[*schema.Record]bool, len(fresh)),
		owners:   make(map[*schema.Record][]*linkChange),
	}
	for _, rec := range fresh {
		f.fresh[rec] = true
	}

	changes := f.linkChanges(fresh)
	for _, change := range changes {
		if change.rel.Type != schema.HasOne && change.rel.Type != schema.HasMany {
			continue
		}
		v, _ := change.rec.Related(change.rel.Name)
		for _, child := range asList(v) {
			if f.fresh[child] {
				f.owners[child] = append(f.owners[child], change)
			}
		}
	}

	for _, rec := range fresh {
		if err := f.insert(ctx, rec); err != nil {
			return err
		}
	}

	for _, change := range changes {
		if err := f.applyLinks(ctx, change); err != nil {
			return err
		}
	}

	for _, rec := range s.tracked {
		if s.isDeleted(rec) {
			continue
		}
		ct := tracking.NewChangeTracker(s.snapshots[rec], rec)
		if !ct.HasChanges() {
			continue
		}
		if err := crud.NewOperations(rec.Model, s.dialect).Update(ctx, tx, rec, ct.GetChangedData()); err != nil {
			return err
		}
	}

	for _, rec := range s.deleted {
		if err := f.delete(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// linkChanges returns the explicit link changes plus every loaded relationship of
// new records, which has no original links
func (f *flusher) linkChanges(fresh []*schema.Record) []*linkChange {
	changes := append([]*linkChange{}, f.s.links...)
	for _, rec := range fresh {
		for _, name := range rec.LoadedRelationships() {
			if _, ok := f.s.linkIdx[rec][name]; ok {
				continue
			}
			rel, ok := rec.Model.Relationship(name)
			if !ok {
				continue
			}
			changes = append(changes, &linkChange{rec: rec, rel: rel})
		}
	}
	return changes
}

// insert writes a new record once its belongs-to targets and has-many owners
// have keys
func (f *flusher) insert(ctx context.Context, rec *schema.Record) error {
	if !f.fresh[rec] || f.inserted[rec] {
		return nil
	}
	f.inserted[rec] = true

	for _, rel := range sortedRelationships(rec.Model, schema.BelongsTo) {
		target := rec.RelatedOne(rel.Name)
		if target == nil {
			continue
		}
		if err := f.insert(ctx, target); err != nil {
			return err
		}
		if err := rec.Set(rel.ForeignKey, target.ID()); err != nil {
			return err
		}
	}

	for _, change := range f.owners[rec] {
		if err := f.insert(ctx, change.rec); err != nil {
			return err
		}
		if err := rec.Set(change.rel.ForeignKey, change.rec.ID()); err != nil {
			return err
		}
	}

	return crud.NewOperations(rec.Model, f.s.dialect).Insert(ctx, f.tx, rec)
}

func (f *flusher) applyLinks(ctx context.Context, change *linkChange) error {
	rec, rel := change.rec, change.rel
	v, _ := rec.Related(rel.Name)
	current := asList(v)

	switch rel.Type {
	case schema.BelongsTo:
		if f.fresh[rec] {
			return nil
		}
		if len(current) == 0 {
			return rec.Set(rel.ForeignKey, nil)
		}
		if err := f.insert(ctx, current[0]); err != nil {
			return err
		}
		return rec.Set(rel.ForeignKey, current[0].ID())

	case schema.HasOne, schema.HasMany:
		diff := tracking.DiffLinks(change.original, current)
		for _, child := range diff.Removed {
			if f.fresh[child] || f.s.isDeleted(child) {
				continue
			}
			if err := child.Set(rel.ForeignKey, nil); err != nil {
				return err
			}
		}
		for _, child := range diff.Added {
			if f.fresh[child] {
				continue
			}
			if err := child.Set(rel.ForeignKey, rec.ID()); err != nil {
				return err
			}
		}
		return nil

	case schema.ManyToMany:
		diff := tracking.DiffLinks(change.original, current)
		links := crud.NewLinks(rel, f.s.dialect)
		for _, target := range diff.Removed {
			if err := links.Unlink(ctx, f.tx, rec.ID(), target.ID()); err != nil {
				return err
			}
		}
		for _, target := range diff.Added {
			if err := f.insert(ctx, target); err != nil {
				return err
			}
			if err := links.Link(ctx, f.tx, rec.ID(), target.ID()); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownRelationship, rel.Type)
	}
}

// delete clears the rows referencing rec, then removes it
func (f *flusher) delete(ctx context.Context, rec *schema.Record) error {
	s := f.s
	for _, rel := range sortedRelationships(rec.Model, schema.HasOne, schema.HasMany, schema.ManyToMany) {
		switch rel.Type {
		case schema.ManyToMany:
			if err := crud.NewLinks(rel, s.dialect).UnlinkAll(ctx, f.tx, rec.ID()); err != nil {
				return err
			}
		default:
			target, err := s.models.Target(rel)
			if err != nil {
				return err
			}
			if err := crud.NewOperations(target, s.dialect).NullifyForeignKey(ctx, f.tx, rel.ForeignKey, rec.ID()); err != nil {
				return err
			}
		}
	}

	// many-to-many relationships declared on other models that point at rec
	for _, name := range s.models.Names() {
		m, err := s.models.Get(name)
		if err != nil {
			return err
		}
		for _, rel := range sortedRelationships(m, schema.ManyToMany) {
			if rel.Target != rec.Model.Name {
				continue
			}
			if err := crud.NewLinks(rel, s.dialect).UnlinkTarget(ctx, f.tx, rec.ID()); err != nil {
				return err
			}
		}
	}

	return crud.NewOperations(rec.Model, s.dialect).Delete(ctx, f.tx, rec)
}

func sortedRelationships(m *schema.Model, types ...schema.RelationType) []*schema.Relationship {
	var out []*schema.Relationship
	for _, rel := range m.Relationships {
		for _, t := range types {
			if rel.Type == t {
				out = append(out, rel)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
