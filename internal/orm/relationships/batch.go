package relationships

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/lib/pq"
)

// loadBelongsTo loads belongs-to relationships using a batched IN query
// Example: Computer belongs_to Person
//   - Collect all unique person_ids from computers
//   - Single query: SELECT ... FROM people WHERE id IN (...)
//   - Map people back to computers
func (l *Loader) loadBelongsTo(
	ctx context.Context,
	records []*schema.Record,
	rel *schema.Relationship,
	target *schema.Model,
) ([]*schema.Record, error) {
	ids := distinct(records, func(r *schema.Record) interface{} { return r.Get(rel.ForeignKey) })
	if len(ids) == 0 {
		for _, rec := range records {
			rec.SetRelated(rel.Name, nil)
		}
		return nil, nil
	}

	q := l.newQuery(target)
	q.Where(l.in(q.Dialect().Column(q.Alias(), target.PrimaryKey().Name), ids))
	results, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query belongs_to relationship %s: %w", rel.Name, err)
	}

	byID := make(map[string]*schema.Record, len(results))
	for _, r := range results {
		byID[r.IDString()] = r
	}

	for _, rec := range records {
		fk := rec.Get(rel.ForeignKey)
		if related, ok := byID[schema.FormatID(fk)]; ok && fk != nil {
			rec.SetRelated(rel.Name, related)
		} else {
			rec.SetRelated(rel.Name, nil)
		}
	}
	return results, nil
}

// loadHasMany loads has-many and has-one relationships using a batched IN query
// Example: Person has_many Computer
//   - Collect all person IDs
//   - Single query: SELECT ... FROM computers WHERE person_id IN (...)
//   - Group computers by person_id
//   - Attach to people
func (l *Loader) loadHasMany(
	ctx context.Context,
	records []*schema.Record,
	rel *schema.Relationship,
	target *schema.Model,
) ([]*schema.Record, error) {
	ids := distinct(records, func(r *schema.Record) interface{} { return r.ID() })

	var results []*schema.Record
	if len(ids) > 0 {
		q := l.newQuery(target)
		q.Where(l.in(q.Dialect().Column(q.Alias(), rel.ForeignKey), ids))
		l.order(q, rel, target)

		var err error
		results, err = q.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s relationship %s: %w", rel.Type, rel.Name, err)
		}
	}

	grouped := make(map[string][]*schema.Record)
	for _, r := range results {
		key := schema.FormatID(r.Get(rel.ForeignKey))
		grouped[key] = append(grouped[key], r)
	}

	for _, rec := range records {
		children := grouped[rec.IDString()]
		if rel.Type == schema.HasOne {
			if len(children) > 0 {
				rec.SetRelated(rel.Name, children[0])
			} else {
				rec.SetRelated(rel.Name, nil)
			}
			continue
		}
		if children == nil {
			children = []*schema.Record{}
		}
		rec.SetRelated(rel.Name, children)
	}
	return results, nil
}

// loadManyToMany loads relationships stored in a join table
//   - Query link rows: SELECT owner_key, target_key FROM link WHERE owner_key IN (...)
//   - Query targets: SELECT ... FROM targets WHERE id IN (...)
//   - Attach targets to owners in link order
func (l *Loader) loadManyToMany(
	ctx context.Context,
	records []*schema.Record,
	rel *schema.Relationship,
	target *schema.Model,
) ([]*schema.Record, error) {
	ids := distinct(records, func(r *schema.Record) interface{} { return r.ID() })
	links := make(map[string][]string)
	var targetIDs []interface{}

	if len(ids) > 0 {
		d := l.dialect
		sqlStr, args, err := d.Builder().
			Select(d.Quote(rel.JoinForeignKey), d.Quote(rel.AssociationKey)).
			From(d.Quote(rel.JoinTable)).
			Where(l.in(d.Quote(rel.JoinForeignKey), ids)).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build link query for %s: %w", rel.Name, err)
		}

		rows, err := l.db.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query link table %s: %w", rel.JoinTable, err)
		}
		seen := make(map[string]bool)
		for rows.Next() {
			var owner, assoc interface{}
			if err := rows.Scan(&owner, &assoc); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan link row: %w", err)
			}
			ownerKey, assocKey := schema.FormatID(owner), schema.FormatID(assoc)
			links[ownerKey] = append(links[ownerKey], assocKey)
			if !seen[assocKey] {
				seen[assocKey] = true
				targetIDs = append(targetIDs, assoc)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating link rows: %w", err)
		}
		rows.Close()
	}

	var results []*schema.Record
	if len(targetIDs) > 0 {
		q := l.newQuery(target)
		q.Where(l.in(q.Dialect().Column(q.Alias(), target.PrimaryKey().Name), targetIDs))
		l.order(q, rel, target)

		var err error
		results, err = q.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query many_to_many relationship %s: %w", rel.Name, err)
		}
	}

	byID := make(map[string]*schema.Record, len(results))
	position := make(map[string]int, len(results))
	for i, r := range results {
		byID[r.IDString()] = r
		position[r.IDString()] = i
	}

	for _, rec := range records {
		keys := links[rec.IDString()]
		related := make([]*schema.Record, 0, len(keys))
		for _, key := range keys {
			if r, ok := byID[key]; ok {
				related = append(related, r)
			}
		}
		if rel.OrderBy != "" {
			sortByPosition(related, position)
		}
		rec.SetRelated(rel.Name, related)
	}
	return results, nil
}

// in builds an IN predicate. On Postgres the ids are bound as a single array parameter.
func (l *Loader) in(column string, ids []interface{}) sq.Sqlizer {
	if l.dialect.Name == query.Postgres.Name {
		return sq.Expr(column+" = ANY(?)", pq.Array(ids))
	}
	return sq.Eq{column: ids}
}

// order applies the relationship's declared ordering. A leading "-" sorts descending.
func (l *Loader) order(q *query.Query, rel *schema.Relationship, target *schema.Model) {
	column, desc := rel.OrderBy, false
	if strings.HasPrefix(column, "-") {
		column, desc = column[1:], true
	}
	if column == "" || !target.HasColumn(column) {
		column, desc = target.PrimaryKey().Name, false
	}
	q.OrderBy(q.Alias(), column, desc)
}

func distinct(records []*schema.Record, value func(*schema.Record) interface{}) []interface{} {
	seen := make(map[string]bool, len(records))
	var out []interface{}
	for _, rec := range records {
		v := value(rec)
		if v == nil {
			continue
		}
		key := schema.FormatID(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func sortByPosition(records []*schema.Record, position map[string]int) {
	sort.SliceStable(records, func(i, j int) bool {
		return position[records[i].IDString()] < position[records[j].IDString()]
	})
}
