// Package request decodes JSON:API request documents into data layer input.
package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
)

// JSONAPIMediaType is the only media type accepted for request documents
const JSONAPIMediaType = "application/vnd.api+json"

// ErrUnsupportedMediaType is returned when a document is not sent as JSON:API
var ErrUnsupportedMediaType = &apierr.Error{
	Title:  "Unsupported media type",
	Detail: "Content-Type must be application/vnd.api+json without media type parameters",
	Status: http.StatusUnsupportedMediaType,
	Kind:   apierr.ErrBadRequest,
}

// Parser decodes request documents
type Parser struct {
	maxBodySize int64 // Maximum size for request bodies (in bytes)
}

// NewParser creates a new request parser with default settings
func NewParser() *Parser {
	return &Parser{
		maxBodySize: 10 << 20, // 10MB default
	}
}

// NewParserWithMaxSize creates a parser with a custom max body size
func NewParserWithMaxSize(maxBytes int64) *Parser {
	return &Parser{
		maxBodySize: maxBytes,
	}
}

// resourceDocument is the body of a create or update request
type resourceDocument struct {
	Data *resourceObject `json:"data"`
}

type resourceObject struct {
	Type          string                          `json:"type"`
	ID            json.RawMessage                 `json:"id"`
	Attributes    map[string]interface{}          `json:"attributes"`
	Relationships map[string]relationshipDocument `json:"relationships"`
}

// relationshipDocument is the body of a relationship request and the value of
// one member of a resource's relationships
type relationshipDocument struct {
	Data json.RawMessage `json:"data"`
}

type identifierObject struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id"`
}

// ValidateContentType checks the request declares the JSON:API media type with no parameters
func ValidateContentType(r *http.Request) error {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != JSONAPIMediaType || len(params) > 0 {
		return ErrUnsupportedMediaType
	}
	return nil
}

// ParseResource decodes the resource document of a create or update request on
// resources of schema s. urlID is the identifier addressed by the URL, empty for
// creation; a document id must match it.
func (p *Parser) ParseResource(w http.ResponseWriter, r *http.Request, s *schema.Schema, urlID string) (datalayer.Data, error) {
	var doc resourceDocument
	if err := p.decode(w, r, &doc); err != nil {
		return nil, err
	}
	if doc.Data == nil {
		return nil, apierr.BadDocument("Object must include a data member", "/data")
	}
	obj := doc.Data

	if obj.Type == "" {
		return nil, apierr.BadDocument("Object must include a type member", "/data/type")
	}
	if obj.Type != s.Type {
		return nil, apierr.InvalidType("The type field does not match the resource type", "/data/type")
	}

	data := make(datalayer.Data)
	if len(obj.ID) > 0 && string(obj.ID) != "null" {
		id, err := identifierText(obj.ID)
		if err != nil {
			return nil, apierr.BadDocument(err.Error(), "/data/id")
		}
		if urlID != "" && id != urlID {
			return nil, apierr.BadDocument("The id of the document does not match the URL", "/data/id")
		}
		data["id"] = id
	} else if urlID != "" {
		return nil, apierr.BadDocument("Object must include an id member", "/data/id")
	}

	for name, value := range obj.Attributes {
		pointer := "/data/attributes/" + name
		f, ok := s.Field(name)
		if !ok || name == "id" {
			return nil, apierr.BadDocument(fmt.Sprintf("%s has no attribute %s", s.Name, name), pointer)
		}
		if f.Kind == schema.Relationship {
			return nil, apierr.BadDocument(fmt.Sprintf("%s is a relationship and belongs in relationships", name), pointer)
		}
		data[name] = value
	}

	for name, rel := range obj.Relationships {
		pointer := "/data/relationships/" + name
		f, ok := s.Field(name)
		if !ok || f.Kind != schema.Relationship {
			return nil, apierr.BadDocument(fmt.Sprintf("%s has no relationship %s", s.Name, name), pointer)
		}
		linkage, err := parseLinkage(rel.Data, f, pointer+"/data")
		if err != nil {
			return nil, err
		}
		if linkage.Many {
			data[name] = linkage.Data
		} else {
			data[name] = linkage.One()
		}
	}
	return data, nil
}

// ParseRelationship decodes the linkage document of a relationship request on
// the relationship field of schema s
func (p *Parser) ParseRelationship(w http.ResponseWriter, r *http.Request, s *schema.Schema, field string) (datalayer.Linkage, error) {
	f, ok := s.Field(field)
	if !ok || f.Kind != schema.Relationship {
		return datalayer.Linkage{}, apierr.RelationNotFound(fmt.Sprintf("%s has no attribute %s", s.Name, field))
	}

	var doc relationshipDocument
	if err := p.decode(w, r, &doc); err != nil {
		return datalayer.Linkage{}, err
	}
	return parseLinkage(doc.Data, f, "/data")
}

// decode reads a single JSON document. Numbers are kept as json.Number.
func (p *Parser) decode(w http.ResponseWriter, r *http.Request, target interface{}) error {
	if err := ValidateContentType(r); err != nil {
		return err
	}

	// Limit body size to prevent DoS attacks
	r.Body = http.MaxBytesReader(w, r.Body, p.maxBodySize)
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	if err := decoder.Decode(target); err != nil {
		if err == io.EOF {
			return apierr.BadDocument("request body is empty", "")
		}
		return apierr.BadDocument(fmt.Sprintf("invalid JSON: %v", err), "")
	}

	// Check if there's additional data after the JSON object
	if decoder.More() {
		return apierr.BadDocument("request body contains multiple JSON objects", "")
	}

	return nil
}

// parseLinkage decodes resource linkage for relationship field f. The shape must
// match the relationship cardinality and every type the related type.
func parseLinkage(raw json.RawMessage, f *schema.Field, pointer string) (datalayer.Linkage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return datalayer.Linkage{}, apierr.BadDocument("Relationship must include a data member", pointer)
	}

	if f.Many {
		var items []identifierObject
		if err := json.Unmarshal(raw, &items); err != nil || raw[0] != '[' {
			return datalayer.Linkage{}, apierr.BadDocument(fmt.Sprintf("%s is a to-many relationship, data must be an array", f.Name), pointer)
		}
		linkage := datalayer.ToMany()
		for i, item := range items {
			ident, err := identifier(item, f, fmt.Sprintf("%s/%d", pointer, i))
			if err != nil {
				return datalayer.Linkage{}, err
			}
			linkage.Data = append(linkage.Data, ident)
		}
		return linkage, nil
	}

	if string(raw) == "null" {
		return datalayer.ToOne(nil), nil
	}
	var item identifierObject
	if err := json.Unmarshal(raw, &item); err != nil || raw[0] != '{' {
		return datalayer.Linkage{}, apierr.BadDocument(fmt.Sprintf("%s is a to-one relationship, data must be an object or null", f.Name), pointer)
	}
	ident, err := identifier(item, f, pointer)
	if err != nil {
		return datalayer.Linkage{}, err
	}
	return datalayer.ToOne(&ident), nil
}

func identifier(item identifierObject, f *schema.Field, pointer string) (datalayer.Identifier, error) {
	if item.Type != f.Type {
		return datalayer.Identifier{}, apierr.InvalidType("The type field does not match the resource type", pointer+"/type")
	}
	id, err := identifierText(item.ID)
	if err != nil {
		return datalayer.Identifier{}, apierr.BadDocument(err.Error(), pointer+"/id")
	}
	return datalayer.Identifier{Type: item.Type, ID: id}, nil
}

// identifierText reads an id member, a string or a number
func identifierText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("id must not be empty")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string")
}
