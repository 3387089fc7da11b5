package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	"github.com/conduit-lang/jsonapi/internal/web/response"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type document map[string]interface{}

func (d document) data() map[string]interface{} {
	v, _ := d["data"].(map[string]interface{})
	return v
}

func (d document) list() []interface{} {
	v, _ := d["data"].([]interface{})
	return v
}

func (d document) errorTitle() string {
	errs, _ := d["errors"].([]interface{})
	if len(errs) == 0 {
		return ""
	}
	title, _ := errs[0].(map[string]interface{})["title"].(string)
	return title
}

func setupRouter(t *testing.T, opts ...Option) (*Router, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	models := demo.Models()
	require.NoError(t, demo.CreateTables(ctx, db, query.SQLite))
	require.NoError(t, demo.Seed(ctx, session.New(db, query.SQLite, models)))
	return New(db, query.SQLite, models, demo.Schemas(models), opts...), db
}

func serve(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, document) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", response.JSONAPIMediaType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var doc document
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	}
	return rec, doc
}

func ids(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.(map[string]interface{})["id"].(string))
	}
	return out
}

func TestGetCollection(t *testing.T) {
	r, _ := setupRouter(t)

	t.Run("paginated", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodGet, "/person?sort=name&page[size]=2", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, response.JSONAPIMediaType, rec.Header().Get("Content-Type"))
		assert.Equal(t, []string{"3", "2"}, ids(doc.list()))
		assert.Equal(t, float64(3), doc["meta"].(map[string]interface{})["count"])

		links := doc["links"].(map[string]interface{})
		assert.Contains(t, links["next"], "page%5Bnumber%5D=2")
		assert.NotContains(t, links, "prev")
	})

	t.Run("filtered with sparse fieldsets", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodGet, "/computer?filter[serial]=A1&fields[computer]=serial", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, doc.list(), 1)

		obj := doc.list()[0].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"serial": "A1"}, obj["attributes"])
		assert.NotContains(t, obj, "relationships")
	})

	t.Run("invalid query", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodGet, "/person?sort=shoe_size", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, doc.errorTitle())
	})

	t.Run("unknown type", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodGet, "/robot", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Resource type not found", doc.errorTitle())
	})
}

func TestGetObject(t *testing.T) {
	r, _ := setupRouter(t)

	rec, doc := serve(t, r, http.MethodGet, "/person/1?include=computers", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := doc.data()
	assert.Equal(t, "person", data["type"])
	assert.Equal(t, "1", data["id"])
	attrs := data["attributes"].(map[string]interface{})
	assert.Equal(t, "Jane", attrs["name"])
	assert.Equal(t, "2004-03-01", attrs["birth_date"])
	assert.Equal(t, map[string]interface{}{"street": "1 Rue A", "city": "Paris"}, attrs["address"])

	computers := data["relationships"].(map[string]interface{})["computers"].(map[string]interface{})
	assert.Len(t, computers["data"], 2)
	assert.Equal(t, "/person/1/relationships/computers", computers["links"].(map[string]interface{})["self"])

	included, _ := doc["included"].([]interface{})
	assert.Equal(t, []string{"1", "2"}, ids(included))

	rec, doc = serve(t, r, http.MethodGet, "/person/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Object not found", doc.errorTitle())
}

func TestCreateObject(t *testing.T) {
	r, db := setupRouter(t)

	body := `{"data":{"type":"computer","attributes":{"serial":"E5"},
		"relationships":{"owner":{"data":{"type":"person","id":"3"}}}}}`
	rec, doc := serve(t, r, http.MethodPost, "/computer", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/computer/5", rec.Header().Get("Location"))
	assert.Equal(t, "5", doc.data()["id"])

	var owner int64
	require.NoError(t, db.QueryRow("SELECT person_id FROM computers WHERE serial = 'E5'").Scan(&owner))
	assert.Equal(t, int64(3), owner)

	t.Run("type mismatch", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodPost, "/computer", `{"data":{"type":"person","attributes":{"name":"X"}}}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Invalid type", doc.errorTitle())
	})

	t.Run("duplicate", func(t *testing.T) {
		rec, _ := serve(t, r, http.MethodPost, "/computer", `{"data":{"type":"computer","attributes":{"serial":"A1"}}}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unsupported media type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/computer", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})
}

func TestUpdateAndDeleteObject(t *testing.T) {
	r, db := setupRouter(t)

	rec, doc := serve(t, r, http.MethodPatch, "/person/2", `{"data":{"type":"person","id":"2","attributes":{"age":17}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(17), doc.data()["attributes"].(map[string]interface{})["age"])

	rec, _ = serve(t, r, http.MethodPatch, "/person/2", `{"data":{"type":"person","id":"3","attributes":{"age":17}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, doc = serve(t, r, http.MethodDelete, "/tag/2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Object successfully deleted", doc["meta"].(map[string]interface{})["message"])

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM tags").Scan(&n))
	assert.Equal(t, 1, n)

	rec, _ = serve(t, r, http.MethodDelete, "/tag/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRelated(t *testing.T) {
	r, _ := setupRouter(t)

	rec, doc := serve(t, r, http.MethodGet, "/person/1/computers", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"1", "2"}, ids(doc.list()))
	assert.Equal(t, float64(2), doc["meta"].(map[string]interface{})["count"])

	rec, doc = serve(t, r, http.MethodGet, "/computer/3/owner", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3", doc.data()["id"])

	rec, doc = serve(t, r, http.MethodGet, "/computer/4/owner", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, doc, "data")
	assert.Nil(t, doc["data"])

	rec, _ = serve(t, r, http.MethodGet, "/computer/4/brand", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, r, http.MethodGet, "/person/99/computers", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelationshipEndpoints(t *testing.T) {
	r, _ := setupRouter(t)

	rec, doc := serve(t, r, http.MethodGet, "/computer/1/relationships/tags", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{
		map[string]interface{}{"type": "tag", "id": "2"},
		map[string]interface{}{"type": "tag", "id": "1"},
	}, doc["data"])
	assert.Equal(t, "/computer/1/relationships/tags", doc["links"].(map[string]interface{})["self"])

	t.Run("add", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodPost, "/computer/2/relationships/tags", `{"data":[{"type":"tag","id":"1"}]}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, doc["data"], 1)

		rec, _ = serve(t, r, http.MethodPost, "/computer/2/relationships/tags", `{"data":[{"type":"tag","id":"1"}]}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Zero(t, rec.Body.Len())
	})

	t.Run("replace to-one", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodPatch, "/computer/4/relationships/owner", `{"data":{"type":"person","id":"2"}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]interface{}{"type": "person", "id": "2"}, doc["data"])
	})

	t.Run("remove", func(t *testing.T) {
		rec, doc := serve(t, r, http.MethodDelete, "/person/1/relationships/computers", `{"data":[{"type":"computer","id":"1"}]}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []interface{}{map[string]interface{}{"type": "computer", "id": "2"}}, doc["data"])
	})

	t.Run("related object not found", func(t *testing.T) {
		rec, _ := serve(t, r, http.MethodPost, "/computer/2/relationships/tags", `{"data":[{"type":"tag","id":"99"}]}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

type upperNames struct {
	datalayer.NoopHooks
	calls int
}

func (h *upperNames) AfterGetObject(_ context.Context, rec *ormschema.Record, _ datalayer.ViewArgs) error {
	h.calls++
	return rec.Set("name", strings.ToUpper(rec.Get("name").(string)))
}

func TestResourceHooks(t *testing.T) {
	hooks := &upperNames{}
	r, _ := setupRouter(t, WithResourceHooks("person", hooks))

	rec, doc := serve(t, r, http.MethodGet, "/person/3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BOB", doc.data()["attributes"].(map[string]interface{})["name"])
	assert.Equal(t, 1, hooks.calls)
}

func TestPrefixAndRoutes(t *testing.T) {
	r, _ := setupRouter(t, WithPrefix("/api/"))

	rec, doc := serve(t, r, http.MethodGet, "/api/tag/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/tag/1", doc.data()["links"].(map[string]interface{})["self"])

	rec, doc = serve(t, r, http.MethodGet, "/tag/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", doc.errorTitle())

	rec, _ = serve(t, r, http.MethodPut, "/api/tag/1", `{"data":{"type":"tag","id":"1"}}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var patterns []string
	for _, route := range r.Routes() {
		patterns = append(patterns, route.Method+" "+route.Pattern)
	}
	assert.Contains(t, patterns, "GET /api/{type}/{id}/relationships/{field}")
	assert.Contains(t, patterns, "POST /api/{type}")
}
