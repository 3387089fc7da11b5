package session

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/conduit-lang/jsonapi/internal/orm/crud"
	"github.com/conduit-lang/jsonapi/internal/orm/hooks"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModels() *schema.Registry {
	return schema.NewRegistry().MustRegister(
		schema.NewModel("Person", "people").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "name", Type: schema.TypeString}).
			AddRelationship(&schema.Relationship{Name: "computers", Type: schema.HasMany, Target: "Computer", ForeignKey: "person_id"}),
		schema.NewModel("Computer", "computers").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "serial", Type: schema.TypeString}).
			AddColumn(&schema.Column{Name: "person_id", Type: schema.TypeInt, Nullable: true}).
			AddRelationship(&schema.Relationship{Name: "owner", Type: schema.BelongsTo, Target: "Person", ForeignKey: "person_id"}).
			AddRelationship(&schema.Relationship{Name: "tags", Type: schema.ManyToMany, Target: "Tag",
				JoinTable: "computer_tags", JoinForeignKey: "computer_id", AssociationKey: "tag_id"}),
		schema.NewModel("Tag", "tags").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "label", Type: schema.TypeString}),
	)
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE);
		CREATE TABLE computers (id INTEGER PRIMARY KEY, serial TEXT NOT NULL, person_id INTEGER);
		CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT);
		CREATE TABLE computer_tags (computer_id INTEGER, tag_id INTEGER);

		INSERT INTO people VALUES (1, 'Jane'), (2, 'Bob');
		INSERT INTO computers VALUES (1, 'A1', 1), (2, 'B2', 1), (3, 'C3', NULL);
		INSERT INTO tags VALUES (1, 'server'), (2, 'laptop');
		INSERT INTO computer_tags VALUES (1, 1);
	`)
	require.NoError(t, err)
	return db
}

func newRecord(t *testing.T, s *Session, model string, values map[string]interface{}) *schema.Record {
	t.Helper()
	m, err := s.Models().Get(model)
	require.NoError(t, err)
	rec := schema.NewRecord(m)
	for k, v := range values {
		require.NoError(t, rec.Set(k, v))
	}
	return rec
}

func scalar(t *testing.T, db *sql.DB, q string, args ...interface{}) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, db.QueryRow(q, args...).Scan(&v))
	return v
}

func TestSessionIdentityMap(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestDB(t), query.SQLite, testModels())

	jane, err := s.Get(ctx, "Person", 1)
	require.NoError(t, err)
	again, err := s.Get(ctx, "Person", "1")
	require.NoError(t, err)
	assert.Same(t, jane, again)

	q, err := s.Query("Person")
	require.NoError(t, err)
	all, err := q.OrderBy(q.Alias(), "id", false).All(ctx)
	require.NoError(t, err)
	assert.Same(t, jane, all[0])

	_, err = s.Get(ctx, "Person", 99)
	assert.ErrorIs(t, err, query.ErrNoResult)

	_, err = s.Query("Pet")
	assert.ErrorIs(t, err, schema.ErrModelNotFound)
}

func TestSessionCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts, updates and deletes", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		ann := newRecord(t, s, "Person", map[string]interface{}{"name": "Ann"})
		s.Add(ann)
		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)
		require.NoError(t, jane.Set("name", "Janet"))
		bob, err := s.Get(ctx, "Person", 2)
		require.NoError(t, err)
		s.Delete(bob)

		require.NoError(t, s.Commit(ctx))
		assert.Equal(t, int64(3), ann.ID())
		assert.Equal(t, "Janet", scalar(t, db, `SELECT name FROM people WHERE id = 1`))
		assert.Equal(t, int64(0), scalar(t, db, `SELECT COUNT(*) FROM people WHERE id = 2`))

		same, err := s.Get(ctx, "Person", 3)
		require.NoError(t, err)
		assert.Same(t, ann, same)
	})

	t.Run("failed commit leaves state unchanged", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)
		require.NoError(t, jane.Set("name", "Janet"))
		dup := newRecord(t, s, "Person", map[string]interface{}{"name": "Bob"})
		s.Add(dup)

		err = s.Commit(ctx)
		assert.ErrorIs(t, err, crud.ErrUniqueViolation)
		assert.Equal(t, "Jane", jane.Get("name"))
		assert.Nil(t, dup.ID())
		assert.Equal(t, "Jane", scalar(t, db, `SELECT name FROM people WHERE id = 1`))
		assert.Equal(t, int64(2), scalar(t, db, `SELECT COUNT(*) FROM people`))

		// the session is usable again
		require.NoError(t, s.Commit(ctx))
	})

	t.Run("rollback restores values and links", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)
		computers, err := s.Related(ctx, jane, "computers")
		require.NoError(t, err)
		require.Len(t, computers, 2)

		require.NoError(t, jane.Set("name", "Janet"))
		require.NoError(t, s.SetRelated(ctx, jane, "computers", []*schema.Record{}))
		s.Rollback()

		assert.Equal(t, "Jane", jane.Get("name"))
		assert.Len(t, jane.RelatedMany("computers"), 2)
		require.NoError(t, s.Commit(ctx))
		assert.Equal(t, int64(2), scalar(t, db, `SELECT COUNT(*) FROM computers WHERE person_id = 1`))
	})
}

func TestSessionRelationships(t *testing.T) {
	ctx := context.Background()

	t.Run("has_many replace", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)
		c3, err := s.Get(ctx, "Computer", 3)
		require.NoError(t, err)
		c1, err := s.Get(ctx, "Computer", 1)
		require.NoError(t, err)
		fresh := newRecord(t, s, "Computer", map[string]interface{}{"serial": "N1"})

		require.NoError(t, s.SetRelated(ctx, jane, "computers", []*schema.Record{c1, c3, fresh}))
		require.NoError(t, s.Commit(ctx))

		assert.Equal(t, int64(1), scalar(t, db, `SELECT person_id FROM computers WHERE id = 3`))
		assert.Nil(t, scalar(t, db, `SELECT person_id FROM computers WHERE id = 2`))
		assert.Equal(t, int64(1), scalar(t, db, `SELECT person_id FROM computers WHERE serial = 'N1'`))
		assert.NotNil(t, fresh.ID())
	})

	t.Run("belongs_to", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		c3, err := s.Get(ctx, "Computer", 3)
		require.NoError(t, err)
		owner, err := s.Related(ctx, c3, "owner")
		require.NoError(t, err)
		assert.Nil(t, owner)

		bob, err := s.Get(ctx, "Person", 2)
		require.NoError(t, err)
		require.NoError(t, s.SetRelated(ctx, c3, "owner", bob))
		require.NoError(t, s.Commit(ctx))
		assert.Equal(t, int64(2), scalar(t, db, `SELECT person_id FROM computers WHERE id = 3`))

		require.NoError(t, s.SetRelated(ctx, c3, "owner", nil))
		require.NoError(t, s.Commit(ctx))
		assert.Nil(t, scalar(t, db, `SELECT person_id FROM computers WHERE id = 3`))
	})

	t.Run("many_to_many", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		c1, err := s.Get(ctx, "Computer", 1)
		require.NoError(t, err)
		laptop, err := s.Get(ctx, "Tag", 2)
		require.NoError(t, err)
		require.NoError(t, s.SetRelated(ctx, c1, "tags", []*schema.Record{laptop}))
		require.NoError(t, s.Commit(ctx))

		assert.Equal(t, int64(1), scalar(t, db, `SELECT COUNT(*) FROM computer_tags WHERE computer_id = 1`))
		assert.Equal(t, int64(2), scalar(t, db, `SELECT tag_id FROM computer_tags WHERE computer_id = 1`))
	})

	t.Run("new graph is inserted owners first", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		ann := newRecord(t, s, "Person", map[string]interface{}{"name": "Ann"})
		laptop := newRecord(t, s, "Computer", map[string]interface{}{"serial": "L1"})
		tag := newRecord(t, s, "Tag", map[string]interface{}{"label": "new"})
		require.NoError(t, s.SetRelated(ctx, laptop, "tags", []*schema.Record{tag}))
		require.NoError(t, s.SetRelated(ctx, ann, "computers", []*schema.Record{laptop}))
		s.Add(ann)
		require.NoError(t, s.Commit(ctx))

		assert.Equal(t, ann.ID(), scalar(t, db, `SELECT person_id FROM computers WHERE serial = 'L1'`))
		assert.Equal(t, tag.ID(), scalar(t, db, `SELECT tag_id FROM computer_tags WHERE computer_id = ?`, laptop.ID()))
	})

	t.Run("delete clears references", func(t *testing.T) {
		db := setupTestDB(t)
		s := New(db, query.SQLite, testModels())

		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)
		server, err := s.Get(ctx, "Tag", 1)
		require.NoError(t, err)
		s.Delete(jane)
		s.Delete(server)
		require.NoError(t, s.Commit(ctx))

		assert.Equal(t, int64(0), scalar(t, db, `SELECT COUNT(*) FROM computers WHERE person_id = 1`))
		assert.Equal(t, int64(0), scalar(t, db, `SELECT COUNT(*) FROM computer_tags`))
		_, err = s.Get(ctx, "Person", 1)
		assert.ErrorIs(t, err, query.ErrNoResult)
	})

	t.Run("invalid values", func(t *testing.T) {
		s := New(setupTestDB(t), query.SQLite, testModels())
		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)

		assert.ErrorIs(t, s.SetRelated(ctx, jane, "computers", jane), ErrInvalidRelated)
		assert.ErrorIs(t, s.SetRelated(ctx, jane, "pets", nil), ErrUnknownRelationship)
		_, err = s.Related(ctx, jane, "pets")
		assert.ErrorIs(t, err, ErrUnknownRelationship)

		s.Delete(jane)
		assert.ErrorIs(t, s.SetRelated(ctx, jane, "computers", nil), ErrDeleted)
	})
}

func TestSessionHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("before commit failure aborts", func(t *testing.T) {
		db := setupTestDB(t)
		invalid := errors.New("name is required")
		reg := hooks.NewRegistry().Register(hooks.BeforeCommit, "Person", func(ctx *hooks.Context, rec *schema.Record) error {
			assert.True(t, ctx.HasTransaction())
			if rec.Get("name") == "" {
				return invalid
			}
			return nil
		})
		s := New(db, query.SQLite, testModels(), WithHooks(reg))

		jane, err := s.Get(ctx, "Person", 1)
		require.NoError(t, err)
		require.NoError(t, jane.Set("name", ""))
		assert.ErrorIs(t, s.Commit(ctx), invalid)
		assert.Equal(t, "Jane", jane.Get("name"))
	})

	t.Run("after commit sees keys", func(t *testing.T) {
		db := setupTestDB(t)
		var seen []interface{}
		reg := hooks.NewRegistry().Register(hooks.AfterCommit, "", func(ctx *hooks.Context, rec *schema.Record) error {
			seen = append(seen, rec.ID())
			return nil
		})
		s := New(db, query.SQLite, testModels(), WithHooks(reg))

		s.Add(newRecord(t, s, "Tag", map[string]interface{}{"label": "x"}))
		require.NoError(t, s.Commit(ctx))
		assert.Equal(t, []interface{}{int64(3)}, seen)

		// untouched records do not run hooks
		_, err := s.Get(ctx, "Tag", 1)
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx))
		assert.Len(t, seen, 1)
	})
}
