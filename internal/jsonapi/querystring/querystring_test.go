package querystring

import (
	"net/url"
	"testing"

	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/filter"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T, config Config) (*Parser, *schema.Schema) {
	t.Helper()
	schemas := demo.Schemas(demo.Models())
	person, err := schemas.SchemaForType("person")
	require.NoError(t, err)
	return NewParser(schemas, config), person
}

func parse(t *testing.T, config Config, raw string) (*Params, error) {
	t.Helper()
	p, person := newParser(t, config)
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return p.Parse(values, person)
}

func requireAPIError(t *testing.T, err error, kind error, detail string) *apierr.Error {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, detail, apiErr.Detail)
	return apiErr
}

func TestFilters(t *testing.T) {
	t.Run("json and flat filters are combined", func(t *testing.T) {
		params, err := parse(t, DefaultConfig(),
			`filter=`+url.QueryEscape(`[{"name":"age","op":"gt","val":1}]`)+`&filter[name]=Jane,Bob&filter[age]=20`)
		require.NoError(t, err)
		require.Len(t, params.Filters, 3)

		assert.Equal(t, "age", params.Filters[0].(*filter.Leaf).Name)
		assert.Equal(t, &filter.Leaf{Name: "age", Op: "eq", Value: "20", HasValue: true}, params.Filters[1])
		assert.Equal(t, &filter.Leaf{Name: "name", Op: "in", Value: []interface{}{"Jane", "Bob"}, HasValue: true}, params.Filters[2])
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := parse(t, DefaultConfig(), `filter={"name":`)
		apiErr := requireAPIError(t, err, apierr.ErrBadRequest, "Parse error")
		assert.Equal(t, "filter", apiErr.Source.Parameter)
	})

	t.Run("malformed tree", func(t *testing.T) {
		_, err := parse(t, DefaultConfig(), `filter=`+url.QueryEscape(`{"and":[],"not":{}}`))
		assert.ErrorIs(t, err, apierr.ErrInvalidFilters)
	})
}

func TestPagination(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		params, err := parse(t, DefaultConfig(), ``)
		require.NoError(t, err)
		assert.Equal(t, Page{Number: 1, Size: 30}, params.Page)
		assert.Equal(t, 0, params.Page.Offset())
	})

	t.Run("number and size", func(t *testing.T) {
		params, err := parse(t, DefaultConfig(), `page[number]=3&page[size]=10`)
		require.NoError(t, err)
		assert.Equal(t, Page{Number: 3, Size: 10}, params.Page)
		assert.Equal(t, 20, params.Page.Offset())
	})

	t.Run("size zero disables pagination", func(t *testing.T) {
		params, err := parse(t, DefaultConfig(), `page[number]=4&page[size]=0`)
		require.NoError(t, err)
		assert.True(t, params.Page.Disabled())
		assert.Equal(t, 0, params.Page.Offset())
	})

	tests := []struct {
		name      string
		config    Config
		raw       string
		detail    string
		parameter string
	}{
		{"unknown key", DefaultConfig(), `page[offset]=1`, "offset is not a valid parameter of pagination", "page"},
		{"not an integer", DefaultConfig(), `page[size]=ten`, "Parse error", "page[size]"},
		{"missing brackets", DefaultConfig(), `page=1`, "Parse error", "page"},
		{"zero number", DefaultConfig(), `page[number]=0`, "Page number must be a positive integer", "page[number]"},
		{"negative size", DefaultConfig(), `page[size]=-1`, "Page size can't be negative", "page[size]"},
		{"disable forbidden", Config{DefaultPageSize: 30}, `page[size]=0`, "You are not allowed to disable pagination", "page[size]"},
		{"over maximum", Config{DefaultPageSize: 30, MaxPageSize: 50, AllowDisablePagination: true}, `page[size]=51`, "Maximum page size is 50", "page[size]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.config, tt.raw)
			apiErr := requireAPIError(t, err, apierr.ErrBadRequest, tt.detail)
			assert.Equal(t, tt.parameter, apiErr.Source.Parameter)
		})
	}
}

func TestFields(t *testing.T) {
	params, err := parse(t, DefaultConfig(), `fields[person]=name,age&fields[computer]=`)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"person": {"name", "age"}, "computer": {}}, params.Fields)

	_, err = parse(t, DefaultConfig(), `fields[person]=name,height`)
	requireAPIError(t, err, apierr.ErrInvalidField, "PersonSchema has no attribute height")

	_, err = parse(t, DefaultConfig(), `fields[robot]=name`)
	requireAPIError(t, err, apierr.ErrInvalidField, "Couldn't find schema for type: robot")
}

func TestSort(t *testing.T) {
	params, err := parse(t, DefaultConfig(), `sort=-age,name,computers.tags.label`)
	require.NoError(t, err)
	assert.Equal(t, []SortField{
		{Field: "age", Column: "age", Desc: true},
		{Field: "name", Column: "name"},
		{Field: "computers.tags.label", Relationships: []string{"computers", "tags"}, Column: "label"},
	}, params.Sort)

	p, _ := newParser(t, DefaultConfig())
	computer, err := p.schemas.SchemaForType("computer")
	require.NoError(t, err)
	params, err = p.Parse(url.Values{"sort": {"-owner.name"}}, computer)
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Field: "owner.name", Relationships: []string{"person"}, Column: "name", Desc: true}}, params.Sort)

	tests := []struct {
		raw    string
		detail string
	}{
		{"sort=height", "PersonSchema has no attribute height"},
		{"sort=computers", "computers is a relationship field and requires an attribute to sort on"},
		{"sort=-computers.tags", "tags is a relationship field and requires an attribute to sort on"},
		{"sort=name.first", "You can't sort on name because it is not a relationship field"},
		{"sort=computers.brand", "ComputerSchema has no attribute brand"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := parse(t, DefaultConfig(), tt.raw)
			requireAPIError(t, err, apierr.ErrInvalidSort, tt.detail)
		})
	}
}

func TestInclude(t *testing.T) {
	params, err := parse(t, DefaultConfig(), `include=computers,computers.tags`)
	require.NoError(t, err)
	assert.Equal(t, []string{"computers", "computers.tags"}, params.Include)

	// segments are validated when the query is compiled
	params, err = parse(t, DefaultConfig(), `include=unknown`)
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown"}, params.Include)

	_, err = parse(t, Config{DefaultPageSize: 10, AllowDisablePagination: true, MaxIncludeDepth: 1}, `include=computers.tags`)
	requireAPIError(t, err, apierr.ErrInvalidInclude, "You can't use include through more than 1 relationships")
}
