package demo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	models := Models()
	require.NoError(t, models.ValidateRelationships())
	require.NoError(t, Schemas(models).Validate())
	require.NoError(t, CreateTables(ctx, db, query.SQLite))
	require.NoError(t, Seed(ctx, session.New(db, query.SQLite, models)))

	// every model maps onto a table created by CreateTables
	counts := map[string]int{"Person": 3, "Computer": 4, "Tag": 2}
	for name, want := range counts {
		m, err := models.Get(name)
		require.NoError(t, err)

		var got int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "`+m.Table+`"`).Scan(&got))
		assert.Equal(t, want, got, m.Table)
	}

	var links int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM computer_tags").Scan(&links))
	assert.Equal(t, 3, links)

	var birth string
	require.NoError(t, db.QueryRow("SELECT CAST(birth_date AS TEXT) FROM people WHERE name = 'Jane'").Scan(&birth))
	assert.Equal(t, "2004-03-01", birth)
}
