// Package querystring parses JSON:API query parameters into filter trees, sort
// keys, sparse fieldsets, include paths and pagination.
package querystring

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/filter"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
)

// relationshipSeparator separates the hops of sort and include paths
const relationshipSeparator = "."

// Config holds the server-wide limits applied while parsing
type Config struct {
	// DefaultPageSize applies when page[size] is absent
	DefaultPageSize int
	// MaxPageSize caps page[size]; 0 means no cap
	MaxPageSize int
	// AllowDisablePagination permits page[size]=0
	AllowDisablePagination bool
	// MaxIncludeDepth caps the number of hops of an include path; 0 means no cap
	MaxIncludeDepth int
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		DefaultPageSize:        30,
		AllowDisablePagination: true,
	}
}

// SortField is one sort key
type SortField struct {
	// Field is the requested dotted schema path without the direction prefix
	Field string
	// Relationships are the storage names of the relationship hops before the column
	Relationships []string
	// Column is the storage column sorted on
	Column string
	Desc   bool
}

// Page is the requested page
type Page struct {
	Number int
	// Size is the page size; 0 disables pagination
	Size int
}

// Disabled reports whether every matching row is requested
func (p Page) Disabled() bool {
	return p.Size == 0
}

// Offset returns the number of rows before the page
func (p Page) Offset() int {
	if p.Disabled() || p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Params is the parsed query of one request
type Params struct {
	Filters []filter.Node
	Sort    []SortField
	// Fields maps resource types to the requested field names
	Fields  map[string][]string
	Include []string
	Page    Page
}

// Parser parses query parameters against the schemas of a registry
type Parser struct {
	schemas *schema.Registry
	config  Config
}

// NewParser creates a parser
func NewParser(schemas *schema.Registry, config Config) *Parser {
	return &Parser{schemas: schemas, config: config}
}

// Config returns the parser limits
func (p *Parser) Config() Config {
	return p.config
}

// Parse parses the query parameters of a request on resources of schema s.
// Only the first value of a repeated parameter is used.
func (p *Parser) Parse(values url.Values, s *schema.Schema) (*Params, error) {
	var (
		params = &Params{}
		err    error
	)
	if params.Filters, err = p.filters(values); err != nil {
		return nil, err
	}
	if params.Page, err = p.pagination(values); err != nil {
		return nil, err
	}
	if params.Fields, err = p.fields(values); err != nil {
		return nil, err
	}
	if params.Sort, err = p.sorting(values, s); err != nil {
		return nil, err
	}
	if params.Include, err = p.include(values); err != nil {
		return nil, err
	}
	return params, nil
}

// bracketed collects the parameters named prefix[key], keyed by key, in key order
func bracketed(values url.Values, prefix string) ([]string, map[string]string, error) {
	out := make(map[string]string)
	for key := range values {
		if !strings.HasPrefix(key, prefix) || key == "filter" {
			continue
		}
		start := strings.IndexByte(key, '[')
		end := strings.IndexByte(key, ']')
		if start != len(prefix) || end < start || end != len(key)-1 {
			return nil, nil, apierr.BadRequest("Parse error", key)
		}
		out[key[start+1:end]] = values.Get(key)
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, out, nil
}

func (p *Parser) filters(values url.Values) ([]filter.Node, error) {
	var nodes []filter.Node

	if raw, ok := values["filter"]; ok && len(raw) > 0 {
		parsed, err := filter.Parse([]byte(raw[0]))
		if errors.Is(err, filter.ErrSyntax) {
			return nil, apierr.BadRequest("Parse error", "filter")
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, parsed...)
	}

	keys, flat, err := bracketed(values, "filter")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		value := flat[key]
		if strings.Contains(value, ",") {
			nodes = append(nodes, &filter.Leaf{Name: key, Op: "in", Value: toInterfaces(strings.Split(value, ",")), HasValue: true})
			continue
		}
		nodes = append(nodes, &filter.Leaf{Name: key, Op: "eq", Value: value, HasValue: true})
	}
	return nodes, nil
}

func (p *Parser) pagination(values url.Values) (Page, error) {
	page := Page{Number: 1, Size: p.config.DefaultPageSize}

	keys, raw, err := bracketed(values, "page")
	if err != nil {
		return Page{}, err
	}
	for _, key := range keys {
		if key != "number" && key != "size" {
			return Page{}, apierr.BadRequest(fmt.Sprintf("%s is not a valid parameter of pagination", key), "page")
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw[key]))
		if err != nil {
			return Page{}, apierr.BadRequest("Parse error", "page["+key+"]")
		}
		if key == "number" {
			if n < 1 {
				return Page{}, apierr.BadRequest("Page number must be a positive integer", "page[number]")
			}
			page.Number = n
			continue
		}
		if n < 0 {
			return Page{}, apierr.BadRequest("Page size can't be negative", "page[size]")
		}
		page.Size = n
	}

	if _, requested := raw["size"]; requested {
		if page.Size == 0 && !p.config.AllowDisablePagination {
			return Page{}, apierr.BadRequest("You are not allowed to disable pagination", "page[size]")
		}
		if p.config.MaxPageSize > 0 && page.Size > p.config.MaxPageSize {
			return Page{}, apierr.BadRequest(fmt.Sprintf("Maximum page size is %d", p.config.MaxPageSize), "page[size]")
		}
	}
	return page, nil
}

func (p *Parser) fields(values url.Values) (map[string][]string, error) {
	keys, raw, err := bracketed(values, "fields")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(keys))
	for _, typ := range keys {
		s, err := p.schemas.SchemaForType(typ)
		if err != nil {
			return nil, apierr.InvalidField(fmt.Sprintf("Couldn't find schema for type: %s", typ))
		}
		names := []string{}
		if raw[typ] != "" {
			names = strings.Split(raw[typ], ",")
		}
		for _, name := range names {
			if !s.Has(name) {
				return nil, apierr.InvalidField(fmt.Sprintf("%s has no attribute %s", s.Name, name))
			}
		}
		out[typ] = names
	}
	return out, nil
}

func (p *Parser) sorting(values url.Values, s *schema.Schema) ([]SortField, error) {
	raw := values.Get("sort")
	if raw == "" {
		return nil, nil
	}

	var out []SortField
	for _, token := range strings.Split(raw, ",") {
		desc := strings.HasPrefix(token, "-")
		path := strings.TrimLeft(token, "-")
		hops := strings.Split(path, relationshipSeparator)

		sf := SortField{Field: path, Desc: desc}
		current := s
		for i, name := range hops {
			last := i == len(hops)-1
			f, ok := current.Field(name)
			switch {
			case !ok && last:
				return nil, apierr.InvalidSort(fmt.Sprintf("%s has no attribute %s", current.Name, name))
			case !ok:
				return nil, apierr.InvalidSort(fmt.Sprintf("You can't sort on %s because it is not a relationship field", name))
			case f.Kind == schema.Relationship && last:
				return nil, apierr.InvalidSort(fmt.Sprintf("%s is a relationship field and requires an attribute to sort on", name))
			case f.Kind == schema.Relationship:
				next, err := p.schemas.SchemaForType(f.Type)
				if err != nil {
					return nil, apierr.InvalidSort(err.Error())
				}
				sf.Relationships = append(sf.Relationships, f.StorageName())
				current = next
			case !last:
				return nil, apierr.InvalidSort(fmt.Sprintf("You can't sort on %s because it is not a relationship field", name))
			default:
				sf.Column = f.StorageName()
			}
		}
		out = append(out, sf)
	}
	return out, nil
}

func (p *Parser) include(values url.Values) ([]string, error) {
	raw := values.Get("include")
	if raw == "" {
		return nil, nil
	}
	paths := strings.Split(raw, ",")
	if p.config.MaxIncludeDepth > 0 {
		for _, path := range paths {
			if len(strings.Split(path, relationshipSeparator)) > p.config.MaxIncludeDepth {
				return nil, apierr.InvalidInclude(fmt.Sprintf("You can't use include through more than %d relationships", p.config.MaxIncludeDepth))
			}
		}
	}
	return paths, nil
}

func toInterfaces(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
