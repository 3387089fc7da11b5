package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RelationshipLoader is an interface for loading relationships
// This avoids circular dependencies between query and relationships packages
type RelationshipLoader interface {
	Load(ctx context.Context, records []*schema.Record, node *Preload) error
}

// Joined describes a model reached through an outer join
type Joined struct {
	Alias string
	Model *schema.Model
}

type join struct {
	path   string
	clause string
}

// Query is a composable SELECT over one model. Builder methods mutate the query
// and return it for chaining; use Clone to branch.
type Query struct {
	db      Querier
	dialect Dialect
	models  *schema.Registry
	model   *schema.Model
	alias   string

	where   []sq.Sqlizer
	joins   []join
	joined  map[string]Joined
	orders  []string
	limit   *uint64
	offset  *uint64
	preload *Preload

	loader RelationshipLoader
	track  func(*schema.Record) *schema.Record
	seq    *int
}

// New creates a query selecting rows of model
func New(db Querier, dialect Dialect, models *schema.Registry, model *schema.Model) *Query {
	seq := 0
	return &Query{
		db:      db,
		dialect: dialect,
		models:  models,
		model:   model,
		alias:   model.Table,
		joined:  make(map[string]Joined),
		seq:     &seq,
	}
}

// Model returns the queried model
func (q *Query) Model() *schema.Model { return q.model }

// Alias returns the alias of the queried table
func (q *Query) Alias() string { return q.alias }

// Dialect returns the SQL dialect
func (q *Query) Dialect() Dialect { return q.dialect }

// Models returns the model registry used to resolve relationships
func (q *Query) Models() *schema.Registry { return q.models }

// NextAlias returns a fresh alias, unique within this query and its clones
func (q *Query) NextAlias(prefix string) string {
	*q.seq++
	return fmt.Sprintf("%s_%d", prefix, *q.seq)
}

// Where adds a predicate; predicates are ANDed together
func (q *Query) Where(pred sq.Sqlizer) *Query {
	if pred != nil {
		q.where = append(q.where, pred)
	}
	return q
}

// WhereEq adds exact-match predicates on columns of the queried table
func (q *Query) WhereEq(values map[string]interface{}) (*Query, error) {
	eq := sq.Eq{}
	for col, v := range values {
		if !q.model.HasColumn(col) {
			return q, fmt.Errorf("%w: %s.%s", schema.ErrUnknownColumn, q.model.Name, col)
		}
		eq[q.dialect.Column(q.alias, col)] = v
	}
	if len(eq) > 0 {
		q.where = append(q.where, eq)
	}
	return q, nil
}

// JoinPath adds LEFT OUTER JOINs for every hop of a relationship path and returns the
// alias and model of the last hop. Hops already joined by an earlier call are reused.
func (q *Query) JoinPath(path []string) (Joined, error) {
	current := Joined{Alias: q.alias, Model: q.model}
	for i, name := range path {
		key := strings.Join(path[:i+1], ".")
		if j, ok := q.joined[key]; ok {
			current = j
			continue
		}

		rel, ok := current.Model.Relationship(name)
		if !ok {
			return Joined{}, fmt.Errorf("%w: %s has no relationship %s", ErrUnknownRelationship, current.Model.Name, name)
		}
		target, err := q.models.Target(rel)
		if err != nil {
			return Joined{}, err
		}

		alias := "j_" + strings.ReplaceAll(key, ".", "__")
		for _, clause := range q.joinClauses(current, rel, target, alias) {
			q.joins = append(q.joins, join{path: key, clause: clause})
		}
		current = Joined{Alias: alias, Model: target}
		q.joined[key] = current
	}
	return current, nil
}

// joinClauses renders the LEFT JOIN clauses linking from to target under alias
func (q *Query) joinClauses(from Joined, rel *schema.Relationship, target *schema.Model, alias string) []string {
	d := q.dialect
	targetPK := target.PrimaryKey().Name
	fromPK := from.Model.PrimaryKey().Name

	switch rel.Type {
	case schema.BelongsTo:
		return []string{fmt.Sprintf("%s ON %s = %s",
			d.Table(target.Table, alias), d.Column(alias, targetPK), d.Column(from.Alias, rel.ForeignKey))}
	case schema.HasOne, schema.HasMany:
		return []string{fmt.Sprintf("%s ON %s = %s",
			d.Table(target.Table, alias), d.Column(alias, rel.ForeignKey), d.Column(from.Alias, fromPK))}
	default:
		link := alias + "__link"
		return []string{
			fmt.Sprintf("%s ON %s = %s",
				d.Table(rel.JoinTable, link), d.Column(link, rel.JoinForeignKey), d.Column(from.Alias, fromPK)),
			fmt.Sprintf("%s ON %s = %s",
				d.Table(target.Table, alias), d.Column(alias, targetPK), d.Column(link, rel.AssociationKey)),
		}
	}
}

// OrderBy appends a sort key; keys apply in the order they are added
func (q *Query) OrderBy(alias, column string, desc bool) *Query {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	q.orders = append(q.orders, q.dialect.Column(alias, column)+" "+dir)
	return q
}

// Limit sets the maximum number of rows
func (q *Query) Limit(n uint64) *Query {
	q.limit = &n
	return q
}

// Offset sets the number of rows to skip
func (q *Query) Offset(n uint64) *Query {
	q.offset = &n
	return q
}

// Preload sets the eager-loading tree executed after rows are read
func (q *Query) Preload(root *Preload) *Query {
	q.preload = root
	return q
}

// PreloadTree returns the eager-loading tree, or nil
func (q *Query) PreloadTree() *Preload { return q.preload }

// WithLoader sets the relationship loader used for preloading
func (q *Query) WithLoader(loader RelationshipLoader) *Query {
	q.loader = loader
	return q
}

// OnLoad registers a function every loaded record is passed through. The returned
// record replaces the loaded one, which lets a session keep one instance per row.
func (q *Query) OnLoad(fn func(*schema.Record) *schema.Record) *Query {
	q.track = fn
	return q
}

// Clone returns an independent copy of the query
func (q *Query) Clone() *Query {
	c := *q
	c.where = append([]sq.Sqlizer(nil), q.where...)
	c.joins = append([]join(nil), q.joins...)
	c.orders = append([]string(nil), q.orders...)
	c.joined = make(map[string]Joined, len(q.joined))
	for k, v := range q.joined {
		c.joined[k] = v
	}
	return &c
}

func (q *Query) base(columns ...string) sq.SelectBuilder {
	sb := q.dialect.Builder().Select(columns...).From(q.dialect.Table(q.model.Table, q.alias))
	for _, j := range q.joins {
		sb = sb.LeftJoin(j.clause)
	}
	if len(q.where) > 0 {
		sb = sb.Where(sq.And(q.where))
	}
	return sb
}

func (q *Query) selectColumns() []string {
	cols := make([]string, len(q.model.Columns))
	for i, c := range q.model.Columns {
		cols[i] = q.dialect.Column(q.alias, c.Name)
	}
	return cols
}

// ToSQL renders the row query
func (q *Query) ToSQL() (string, []interface{}, error) {
	sb := q.base(q.selectColumns()...)
	if len(q.orders) > 0 {
		sb = sb.OrderBy(q.orders...)
	}
	if q.limit != nil {
		sb = sb.Limit(*q.limit)
	}
	if q.offset != nil {
		sb = sb.Offset(*q.offset)
	}
	return sb.ToSql()
}

// CountSQL renders the count query, which ignores ordering and pagination
func (q *Query) CountSQL() (string, []interface{}, error) {
	expr := "COUNT(*)"
	if len(q.joins) > 0 {
		expr = "COUNT(DISTINCT " + q.dialect.Column(q.alias, q.model.PrimaryKey().Name) + ")"
	}
	return q.base(expr).ToSql()
}

// Count returns the number of matching rows, ignoring limit and offset
func (q *Query) Count(ctx context.Context) (int, error) {
	sqlStr, args, err := q.CountSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := q.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return count, nil
}

// All executes the query and returns the matching records with preloads applied.
// Rows repeated by to-many joins are returned once, at their first position.
func (q *Query) All(ctx context.Context) ([]*schema.Record, error) {
	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	records, err := ScanRecords(rows, q.model)
	if err != nil {
		return nil, err
	}

	if len(q.joins) > 0 {
		records = unique(records)
	}
	if q.track != nil {
		for i, rec := range records {
			records[i] = q.track(rec)
		}
	}

	if !q.preload.Empty() && len(records) > 0 {
		if q.loader == nil {
			return nil, ErrNoLoader
		}
		if err := q.loader.Load(ctx, records, q.preload); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// One returns the single matching record. It fails with ErrNoResult when nothing
// matches and ErrMultipleResults when more than one row does.
func (q *Query) One(ctx context.Context) (*schema.Record, error) {
	records, err := q.Clone().Limit(2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, ErrNoResult
	case 1:
		return records[0], nil
	default:
		return nil, ErrMultipleResults
	}
}

func unique(records []*schema.Record) []*schema.Record {
	seen := make(map[string]bool, len(records))
	out := records[:0]
	for _, rec := range records {
		key := rec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}
