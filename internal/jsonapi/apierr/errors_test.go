package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		kind      error
		status    int
		parameter string
	}{
		{"filters", InvalidFilters("Can't find name of a filter"), ErrInvalidFilters, http.StatusBadRequest, "filters"},
		{"sort", InvalidSort("x"), ErrInvalidSort, http.StatusBadRequest, "sort"},
		{"include", InvalidInclude("x"), ErrInvalidInclude, http.StatusBadRequest, "include"},
		{"fields", InvalidField("x"), ErrInvalidField, http.StatusBadRequest, "fields"},
		{"bad request", BadRequest("Parse error", "page[size]"), ErrBadRequest, http.StatusBadRequest, "page[size]"},
		{"object", ObjectNotFound("Person: 1 not found", "id"), ErrObjectNotFound, http.StatusNotFound, "id"},
		{"related", RelatedObjectNotFound("x"), ErrRelatedObjectNotFound, http.StatusNotFound, ""},
		{"relation", RelationNotFound("x"), ErrRelationNotFound, http.StatusNotFound, ""},
		{"type", InvalidType("x", "/data"), ErrInvalidType, http.StatusConflict, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.parameter, tt.err.Source.Parameter)
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("get collection: %w", InvalidSort("PersonSchema has no attribute foo"))

	apiErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "PersonSchema has no attribute foo", apiErr.Detail)
	assert.Contains(t, wrapped.Error(), "Invalid sort querystring parameter.")

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestPointerSources(t *testing.T) {
	err := BadDocument("Relationship data must be an array", "/data")
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, Source{Pointer: "/data"}, err.Source)

	err = InvalidType("Unrecognized nested field type", "/data/attributes/address")
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Equal(t, "/data/attributes/address", err.Source.Pointer)
}
