package crud

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Links writes the join-table rows of one many-to-many relationship
type Links struct {
	rel     *schema.Relationship
	dialect query.Dialect
}

// NewLinks creates link statements for a many-to-many relationship
func NewLinks(rel *schema.Relationship, dialect query.Dialect) *Links {
	return &Links{rel: rel, dialect: dialect}
}

// Link inserts the row joining owner to target
func (l *Links) Link(ctx context.Context, db query.Querier, ownerID, targetID interface{}) error {
	d := l.dialect
	sqlStr, args, err := d.Builder().
		Insert(d.Quote(l.rel.JoinTable)).
		Columns(d.Quote(l.rel.JoinForeignKey), d.Quote(l.rel.AssociationKey)).
		Values(ownerID, targetID).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build link insert: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to link %s: %w", l.rel.Name, ConvertDBError(err))
	}
	return nil
}

// Unlink deletes the row joining owner to target
func (l *Links) Unlink(ctx context.Context, db query.Querier, ownerID, targetID interface{}) error {
	return l.delete(ctx, db, sq.Eq{
		l.dialect.Quote(l.rel.JoinForeignKey): ownerID,
		l.dialect.Quote(l.rel.AssociationKey): targetID,
	})
}

// UnlinkAll deletes every row of the owner
func (l *Links) UnlinkAll(ctx context.Context, db query.Querier, ownerID interface{}) error {
	return l.delete(ctx, db, sq.Eq{l.dialect.Quote(l.rel.JoinForeignKey): ownerID})
}

// UnlinkTarget deletes every row pointing at a target, used when the target row is deleted
func (l *Links) UnlinkTarget(ctx context.Context, db query.Querier, targetID interface{}) error {
	return l.delete(ctx, db, sq.Eq{l.dialect.Quote(l.rel.AssociationKey): targetID})
}

func (l *Links) delete(ctx context.Context, db query.Querier, where sq.Eq) error {
	sqlStr, args, err := l.dialect.Builder().
		Delete(l.dialect.Quote(l.rel.JoinTable)).
		Where(where).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build link delete: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", l.rel.Name, ConvertDBError(err))
	}
	return nil
}
