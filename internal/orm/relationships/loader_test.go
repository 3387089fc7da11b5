package relationships

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/schema"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModels() *schema.Registry {
	reg := schema.NewRegistry()
	reg.MustRegister(
		schema.NewModel("Person", "people").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "name", Type: schema.TypeString}).
			AddRelationship(&schema.Relationship{Name: "computers", Type: schema.HasMany, Target: "Computer", ForeignKey: "person_id", OrderBy: "-serial"}).
			AddRelationship(&schema.Relationship{Name: "badge", Type: schema.HasOne, Target: "Badge", ForeignKey: "person_id"}),
		schema.NewModel("Computer", "computers").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "serial", Type: schema.TypeString}).
			AddColumn(&schema.Column{Name: "person_id", Type: schema.TypeInt, Nullable: true}).
			AddRelationship(&schema.Relationship{Name: "owner", Type: schema.BelongsTo, Target: "Person", ForeignKey: "person_id"}).
			AddRelationship(&schema.Relationship{Name: "tags", Type: schema.ManyToMany, Target: "Tag",
				JoinTable: "computer_tags", JoinForeignKey: "computer_id", AssociationKey: "tag_id", OrderBy: "label"}),
		schema.NewModel("Badge", "badges").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "code", Type: schema.TypeString}).
			AddColumn(&schema.Column{Name: "person_id", Type: schema.TypeInt}),
		schema.NewModel("Tag", "tags").
			AddColumn(&schema.Column{Name: "id", Type: schema.TypeInt, Primary: true}).
			AddColumn(&schema.Column{Name: "label", Type: schema.TypeString}),
	)
	return reg
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT);
		CREATE TABLE computers (id INTEGER PRIMARY KEY, serial TEXT, person_id INTEGER);
		CREATE TABLE badges (id INTEGER PRIMARY KEY, code TEXT, person_id INTEGER);
		CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT);
		CREATE TABLE computer_tags (computer_id INTEGER, tag_id INTEGER);

		INSERT INTO people VALUES (1, 'Jane'), (2, 'Bob'), (3, 'Ann');
		INSERT INTO computers VALUES (1, 'A1', 1), (2, 'B2', 1), (3, 'C3', 2), (4, 'D4', NULL);
		INSERT INTO badges VALUES (1, 'X', 2);
		INSERT INTO tags VALUES (1, 'server'), (2, 'laptop');
		INSERT INTO computer_tags VALUES (1, 1), (1, 2), (3, 1);
	`)
	require.NoError(t, err)
	return db
}

func loadAll(t *testing.T, db query.Querier, reg *schema.Registry, model string) []*schema.Record {
	t.Helper()
	m, err := reg.Get(model)
	require.NoError(t, err)
	q := query.New(db, query.SQLite, reg, m)
	q.OrderBy(q.Alias(), "id", false)
	records, err := q.All(context.Background())
	require.NoError(t, err)
	return records
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	reg := testModels()
	loader := NewLoader(db, query.SQLite, reg)

	t.Run("has_many with ordering", func(t *testing.T) {
		people := loadAll(t, db, reg, "Person")
		root := query.NewPreload()
		root.Child("computers")
		require.NoError(t, loader.Load(ctx, people, root))

		jane := people[0].RelatedMany("computers")
		require.Len(t, jane, 2)
		assert.Equal(t, "B2", jane[0].Get("serial"))
		assert.Equal(t, "A1", jane[1].Get("serial"))

		assert.Len(t, people[1].RelatedMany("computers"), 1)

		ann, ok := people[2].Related("computers")
		require.True(t, ok)
		assert.Equal(t, []*schema.Record{}, ann)
	})

	t.Run("has_one", func(t *testing.T) {
		people := loadAll(t, db, reg, "Person")
		root := query.NewPreload()
		root.Child("badge")
		require.NoError(t, loader.Load(ctx, people, root))

		assert.Nil(t, people[0].RelatedOne("badge"))
		require.NotNil(t, people[1].RelatedOne("badge"))
		assert.Equal(t, "X", people[1].RelatedOne("badge").Get("code"))
	})

	t.Run("belongs_to with null foreign key", func(t *testing.T) {
		computers := loadAll(t, db, reg, "Computer")
		root := query.NewPreload()
		root.Child("owner")
		require.NoError(t, loader.Load(ctx, computers, root))

		assert.Equal(t, "Jane", computers[0].RelatedOne("owner").Get("name"))
		assert.Same(t, computers[0].RelatedOne("owner"), computers[1].RelatedOne("owner"))
		_, ok := computers[3].Related("owner")
		assert.True(t, ok)
		assert.Nil(t, computers[3].RelatedOne("owner"))
	})

	t.Run("many_to_many", func(t *testing.T) {
		computers := loadAll(t, db, reg, "Computer")
		root := query.NewPreload()
		root.Child("tags")
		require.NoError(t, loader.Load(ctx, computers, root))

		tags := computers[0].RelatedMany("tags")
		require.Len(t, tags, 2)
		assert.Equal(t, "laptop", tags[0].Get("label"))
		assert.Equal(t, "server", tags[1].Get("label"))
		assert.Empty(t, computers[1].RelatedMany("tags"))
	})

	t.Run("nested paths", func(t *testing.T) {
		people := loadAll(t, db, reg, "Person")
		root := query.NewPreload()
		computers := root.Child("computers")
		computers.Child("tags")
		computers.Child("owner")
		require.NoError(t, loader.Load(ctx, people, root))

		first := people[0].RelatedMany("computers")[1]
		assert.Equal(t, "A1", first.Get("serial"))
		assert.Len(t, first.RelatedMany("tags"), 2)
		assert.Equal(t, "Jane", first.RelatedOne("owner").Get("name"))
	})

	t.Run("unknown relationship", func(t *testing.T) {
		people := loadAll(t, db, reg, "Person")
		root := query.NewPreload()
		root.Child("pets")
		assert.ErrorIs(t, loader.Load(ctx, people, root), ErrUnknownRelationship)
	})

	t.Run("tracker sees every loaded record", func(t *testing.T) {
		people := loadAll(t, db, reg, "Person")
		seen := 0
		tracked := NewLoader(db, query.SQLite, reg).WithTracker(func(r *schema.Record) *schema.Record {
			seen++
			return r
		})
		root := query.NewPreload()
		root.Child("computers")
		require.NoError(t, tracked.Load(ctx, people, root))
		assert.Equal(t, 3, seen)
	})

	t.Run("query integration", func(t *testing.T) {
		m, _ := reg.Get("Person")
		root := query.NewPreload()
		root.Child("computers")
		q := query.New(db, query.SQLite, reg, m).WithLoader(loader).Preload(root)
		_, err := q.WhereEq(map[string]interface{}{"name": "Bob"})
		require.NoError(t, err)

		bob, err := q.One(ctx)
		require.NoError(t, err)
		assert.Len(t, bob.RelatedMany("computers"), 1)
	})
}

func TestLoaderPostgresUsesArrayParameter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := testModels()
	m, _ := reg.Get("Computer")
	rec := schema.NewRecord(m)
	rec.Restore(map[string]interface{}{"id": int64(1), "serial": "A1", "person_id": int64(7)})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "people"."id", "people"."name" FROM "people" WHERE ("people"."id" = ANY($1))`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(7), "Jane"))

	rel, _ := m.Relationship("owner")
	related, err := NewLoader(db, query.Postgres, reg).LoadRelationship(context.Background(), []*schema.Record{rec}, rel)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "Jane", rec.RelatedOne("owner").Get("name"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
