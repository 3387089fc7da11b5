package crud

import (
	"context"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/google/uuid"
)

// Insert writes a new row for the record. A UUID primary key without a value is
// generated here; any other missing primary key is read back from the database.
func (o *Operations) Insert(ctx context.Context, db query.Querier, rec *schema.Record) error {
	pk := o.model.PrimaryKey()
	if pk.Type == schema.TypeUUID && rec.ID() == nil {
		rec.SetID(uuid.New().String())
	}

	columns, args, err := o.encode(rec.Values())
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", o.model.Name, err)
	}

	returning := rec.ID() == nil
	var sqlStr string
	if len(columns) == 0 {
		sqlStr = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", o.dialect.Quote(o.model.Table))
	} else {
		ib := o.dialect.Builder().
			Insert(o.dialect.Quote(o.model.Table)).
			Columns(columns...).
			Values(args...)
		sqlStr, args, err = ib.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
	}

	if !returning {
		if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("failed to insert %s: %w", o.model.Name, ConvertDBError(err))
		}
		return nil
	}

	sqlStr += " RETURNING " + o.dialect.Quote(pk.Name)
	var raw interface{}
	if err := db.QueryRowContext(ctx, sqlStr, args...).Scan(&raw); err != nil {
		return fmt.Errorf("failed to insert %s: %w", o.model.Name, ConvertDBError(err))
	}
	id, err := query.DecodeValue(pk, raw)
	if err != nil {
		return err
	}
	rec.SetID(id)
	return nil
}
