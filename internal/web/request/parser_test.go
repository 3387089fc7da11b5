package request

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaFor(t *testing.T, typ string) *schema.Schema {
	t.Helper()
	s, err := demo.Schemas(demo.Models()).SchemaForType(typ)
	require.NoError(t, err)
	return s
}

func newRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", JSONAPIMediaType)
	return r
}

func requirePointer(t *testing.T, err error, kind error, pointer string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, kind), "unexpected error %v", err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, pointer, apiErr.Source.Pointer)
}

func TestParseResource(t *testing.T) {
	p := NewParser()
	computer := schemaFor(t, "computer")

	body := `{"data": {
		"type": "computer",
		"attributes": {"serial": "E5"},
		"relationships": {
			"owner": {"data": {"type": "person", "id": "1"}},
			"tags": {"data": [{"type": "tag", "id": "1"}, {"type": "tag", "id": 2}]}
		}
	}}`
	data, err := p.ParseResource(httptest.NewRecorder(), newRequest(body), computer, "")
	require.NoError(t, err)

	assert.Equal(t, "E5", data["serial"])
	assert.Equal(t, &datalayer.Identifier{Type: "person", ID: "1"}, data["owner"])
	assert.Equal(t, []datalayer.Identifier{{Type: "tag", ID: "1"}, {Type: "tag", ID: "2"}}, data["tags"])
	assert.NotContains(t, data, "id")
}

func TestParseResourceValues(t *testing.T) {
	p := NewParser()
	person := schemaFor(t, "person")

	body := `{"data": {"type": "person", "id": "3",
		"attributes": {"age": 31, "address": {"street": "3 Rue C", "city": "Nice"}},
		"relationships": {"computers": {"data": []}}}}`
	data, err := p.ParseResource(httptest.NewRecorder(), newRequest(body), person, "3")
	require.NoError(t, err)

	assert.Equal(t, "3", data["id"])
	assert.Equal(t, json.Number("31"), data["age"], "numbers are kept exact")
	assert.Equal(t, map[string]interface{}{"street": "3 Rue C", "city": "Nice"}, data["address"])
	assert.Equal(t, []datalayer.Identifier{}, data["computers"])
}

func TestParseResourceNullToOne(t *testing.T) {
	body := `{"data": {"type": "computer", "id": "1", "relationships": {"owner": {"data": null}}}}`
	data, err := NewParser().ParseResource(httptest.NewRecorder(), newRequest(body), schemaFor(t, "computer"), "1")
	require.NoError(t, err)

	require.Contains(t, data, "owner")
	assert.Nil(t, data["owner"])
}

func TestParseResourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		urlID   string
		kind    error
		pointer string
	}{
		{"no data", `{}`, "", apierr.ErrBadRequest, "/data"},
		{"no type", `{"data": {"attributes": {}}}`, "", apierr.ErrBadRequest, "/data/type"},
		{"wrong type", `{"data": {"type": "person"}}`, "", apierr.ErrInvalidType, "/data/type"},
		{"id mismatch", `{"data": {"type": "computer", "id": "2"}}`, "1", apierr.ErrBadRequest, "/data/id"},
		{"missing id on update", `{"data": {"type": "computer"}}`, "1", apierr.ErrBadRequest, "/data/id"},
		{"unknown attribute", `{"data": {"type": "computer", "attributes": {"color": "red"}}}`, "", apierr.ErrBadRequest, "/data/attributes/color"},
		{"relationship as attribute", `{"data": {"type": "computer", "attributes": {"owner": 1}}}`, "", apierr.ErrBadRequest, "/data/attributes/owner"},
		{"unknown relationship", `{"data": {"type": "computer", "relationships": {"serial": {"data": null}}}}`, "", apierr.ErrBadRequest, "/data/relationships/serial"},
		{"to-many given an object", `{"data": {"type": "computer", "relationships": {"tags": {"data": {"type": "tag", "id": "1"}}}}}`, "", apierr.ErrBadRequest, "/data/relationships/tags/data"},
		{"to-one given an array", `{"data": {"type": "computer", "relationships": {"owner": {"data": []}}}}`, "", apierr.ErrBadRequest, "/data/relationships/owner/data"},
		{"linkage type", `{"data": {"type": "computer", "relationships": {"tags": {"data": [{"type": "person", "id": "1"}]}}}}`, "", apierr.ErrInvalidType, "/data/relationships/tags/data/0/type"},
		{"linkage without id", `{"data": {"type": "computer", "relationships": {"owner": {"data": {"type": "person"}}}}}`, "", apierr.ErrBadRequest, "/data/relationships/owner/data/id"},
		{"malformed", `{"data": `, "", apierr.ErrBadRequest, ""},
		{"trailing document", `{"data": null} {}`, "", apierr.ErrBadRequest, ""},
		{"empty body", ``, "", apierr.ErrBadRequest, ""},
	}

	computer := schemaFor(t, "computer")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().ParseResource(httptest.NewRecorder(), newRequest(tt.body), computer, tt.urlID)
			requirePointer(t, err, tt.kind, tt.pointer)
		})
	}
}

func TestParseRelationship(t *testing.T) {
	computer := schemaFor(t, "computer")

	t.Run("to-many", func(t *testing.T) {
		linkage, err := NewParser().ParseRelationship(httptest.NewRecorder(),
			newRequest(`{"data": [{"type": "tag", "id": "2"}]}`), computer, "tags")
		require.NoError(t, err)
		assert.Equal(t, datalayer.ToMany(datalayer.Identifier{Type: "tag", ID: "2"}), linkage)
	})

	t.Run("to-one", func(t *testing.T) {
		linkage, err := NewParser().ParseRelationship(httptest.NewRecorder(),
			newRequest(`{"data": {"type": "person", "id": 3}}`), computer, "owner")
		require.NoError(t, err)
		assert.Equal(t, &datalayer.Identifier{Type: "person", ID: "3"}, linkage.One())
	})

	t.Run("clear to-one", func(t *testing.T) {
		linkage, err := NewParser().ParseRelationship(httptest.NewRecorder(),
			newRequest(`{"data": null}`), computer, "owner")
		require.NoError(t, err)
		assert.False(t, linkage.Many)
		assert.Nil(t, linkage.One())
	})

	t.Run("missing data", func(t *testing.T) {
		_, err := NewParser().ParseRelationship(httptest.NewRecorder(), newRequest(`{}`), computer, "owner")
		requirePointer(t, err, apierr.ErrBadRequest, "/data")
	})

	t.Run("unknown relationship", func(t *testing.T) {
		_, err := NewParser().ParseRelationship(httptest.NewRecorder(), newRequest(`{"data": null}`), computer, "serial")
		assert.ErrorIs(t, err, apierr.ErrRelationNotFound)
	})
}

func TestContentType(t *testing.T) {
	tests := []struct {
		contentType string
		valid       bool
	}{
		{JSONAPIMediaType, true},
		{"application/json", false},
		{JSONAPIMediaType + "; charset=utf-8", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"data": null}`))
			r.Header.Set("Content-Type", tt.contentType)
			err := ValidateContentType(r)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrUnsupportedMediaType)
			apiErr, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusUnsupportedMediaType, apiErr.Status)
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	p := NewParserWithMaxSize(16)
	body := `{"data": {"type": "computer", "attributes": {"serial": "` + strings.Repeat("x", 64) + `"}}}`
	_, err := p.ParseResource(httptest.NewRecorder(), newRequest(body), schemaFor(t, "computer"), "")
	assert.ErrorIs(t, err, apierr.ErrBadRequest)
}
