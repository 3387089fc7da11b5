package crud

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Delete removes the row of a persisted record
func (o *Operations) Delete(ctx context.Context, db query.Querier, rec *schema.Record) error {
	id := rec.ID()
	if id == nil {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, o.model.Name)
	}

	sqlStr, args, err := o.dialect.Builder().
		Delete(o.dialect.Quote(o.model.Table)).
		Where(sq.Eq(o.pkEq(id))).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", o.model.Name, ConvertDBError(err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, o.model.Name, schema.FormatID(id))
	}
	return nil
}
