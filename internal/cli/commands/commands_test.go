package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conduit-lang/jsonapi/internal/cli/config"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-color", "--config-dir", configDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "jsonapi version: dev")
	assert.Contains(t, out, "Go version: go")
}

func TestExplainCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "explain", "computer", "filter[serial]=A1&sort=-owner.name&page[size]=10&page[number]=2")
	require.NoError(t, err)

	assert.Contains(t, out, "computer (sqlite3)")
	assert.Contains(t, out, "page:    number 2, size 10")
	assert.Contains(t, out, `LEFT JOIN "people" AS "j_person"`)
	assert.Contains(t, out, "LIMIT 10 OFFSET 10")
	assert.Contains(t, out, `$1 = "A1"`)
	assert.Contains(t, out, "Count query")
	assert.Contains(t, out, "COUNT(DISTINCT")
}

func TestExplainPostgres(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jsonapi.yml"), []byte("database:\n  driver: pgx\n"), 0644))

	out, err := run(t, dir, "explain", "person", "?filter[age]=20&page[size]=0")
	require.NoError(t, err)
	assert.Contains(t, out, "person (postgres)")
	assert.Contains(t, out, "page:    disabled")
	assert.Contains(t, out, "$1")
	assert.NotContains(t, out, "LIMIT")
}

func TestExplainErrors(t *testing.T) {
	out, err := run(t, t.TempDir(), "explain", "persn")
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "UNKNOWN TYPE: persn")
	assert.Contains(t, out, "Did you mean: person?")

	out, err = run(t, t.TempDir(), "explain", "person", "sort=shoe_size")
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "INVALID QUERY")

	_, err = run(t, t.TempDir(), "explain")
	assert.Error(t, err)
}

func TestRoutesCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jsonapi.yml"), []byte("server:\n  api_prefix: /api\n"), 0644))

	out, err := run(t, dir, "routes")
	require.NoError(t, err)
	assert.Contains(t, out, "person    Person")
	assert.Contains(t, out, "address   (nested)")
	assert.Contains(t, out, "/api/{type}/{id}/relationships/{field}")
}

func TestServeSeedsAndStops(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "demo.db")
	content := "database:\n  url: file:" + dbPath + "\nserver:\n  host: 127.0.0.1\n  port: 0\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jsonapi.yml"), []byte(content), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runServe(ctx, &globalFlags{configDir: dir}, true))
	// a second seeded start leaves the existing rows alone
	require.NoError(t, runServe(ctx, &globalFlags{configDir: dir}, true))

	db, _, err := openDatabase(config.DatabaseConfig{Driver: "sqlite3", URL: "file:" + dbPath})
	require.NoError(t, err)
	defer db.Close()

	var people int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM people").Scan(&people))
	assert.Equal(t, 3, people)
}

func TestOpenDatabase(t *testing.T) {
	_, _, err := openDatabase(config.DatabaseConfig{Driver: "mysql", URL: "root@/db"})
	assert.ErrorContains(t, err, "unsupported database driver")

	for _, driver := range []string{"pgx", "postgres"} {
		db, dialect, err := openDatabase(config.DatabaseConfig{Driver: driver, URL: "postgres://localhost/none"})
		require.NoError(t, err)
		assert.Equal(t, query.Postgres.Name, dialect.Name)
		db.Close()
	}
}
