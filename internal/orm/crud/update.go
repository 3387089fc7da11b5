package crud

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Update writes the changed columns of a persisted record. Columns of changes that
// the model does not declare are ignored.
func (o *Operations) Update(ctx context.Context, db query.Querier, rec *schema.Record, changes map[string]interface{}) error {
	id := rec.ID()
	if id == nil {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, o.model.Name)
	}

	columns, args, err := o.encode(changes)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", o.model.Name, err)
	}
	if len(columns) == 0 {
		return nil
	}

	ub := o.dialect.Builder().Update(o.dialect.Quote(o.model.Table))
	for i, col := range columns {
		ub = ub.Set(col, args[i])
	}
	sqlStr, args, err := ub.Where(sq.Eq(o.pkEq(id))).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", o.model.Name, ConvertDBError(err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, o.model.Name, schema.FormatID(id))
	}
	return nil
}

// NullifyForeignKey clears the foreign key of every row of the model that points at ownerID
func (o *Operations) NullifyForeignKey(ctx context.Context, db query.Querier, foreignKey string, ownerID interface{}) error {
	sqlStr, args, err := o.dialect.Builder().
		Update(o.dialect.Quote(o.model.Table)).
		Set(o.dialect.Quote(foreignKey), nil).
		Where(sq.Eq{o.dialect.Quote(foreignKey): ownerID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to clear %s.%s: %w", o.model.Name, foreignKey, ConvertDBError(err))
	}
	return nil
}
