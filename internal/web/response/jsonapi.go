package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/DataDog/jsonapi"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
)

const (
	// JSONAPIMediaType is the official JSON:API media type
	JSONAPIMediaType = "application/vnd.api+json"

	// Version is the JSON:API version reported in every document
	Version = "1.1"
)

// IsJSONAPI checks if the request accepts JSON:API format
func IsJSONAPI(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}

	// Parse media type to handle parameters like charset
	mediaType, _, err := mime.ParseMediaType(accept)
	if err != nil {
		// Fall back to simple check if parsing fails
		return strings.Contains(accept, JSONAPIMediaType)
	}

	return mediaType == JSONAPIMediaType
}

// Document is a top-level JSON:API document carrying primary data
type Document struct {
	Data     interface{}            `json:"data"`
	Included []*Resource            `json:"included,omitempty"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
	Links    *jsonapi.Link          `json:"links,omitempty"`
	JSONAPI  map[string]string      `json:"jsonapi"`
}

// NewDocument wraps primary data
func NewDocument(data interface{}) *Document {
	return &Document{Data: data, JSONAPI: map[string]string{"version": Version}}
}

// Resource is a resource object
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id"`
	Attributes    map[string]interface{}   `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         *jsonapi.Link            `json:"links,omitempty"`
}

// Relationship is a relationship object. Data is only rendered when the
// relationship was loaded.
type Relationship struct {
	Links *jsonapi.Link `json:"links,omitempty"`
	Data  *Linkage      `json:"data,omitempty"`
}

// ResourceIdentifier identifies a resource
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Linkage is resource linkage: null or an identifier for to-one relationships,
// an array of identifiers for to-many ones
type Linkage struct {
	Many bool
	Data []ResourceIdentifier
}

// MarshalJSON renders the linkage in its to-one or to-many shape
func (l *Linkage) MarshalJSON() ([]byte, error) {
	if l.Many {
		if l.Data == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(l.Data)
	}
	if len(l.Data) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(l.Data[0])
}

// LinkageFrom converts a data layer linkage
func LinkageFrom(l datalayer.Linkage) *Linkage {
	out := &Linkage{Many: l.Many}
	for _, ident := range l.Data {
		out.Data = append(out.Data, ResourceIdentifier{Type: ident.Type, ID: ident.ID})
	}
	return out
}

// RenderDocument writes doc with the JSON:API media type
func RenderDocument(w http.ResponseWriter, status int, doc interface{}) error {
	// Marshal FIRST, before touching the response
	// This avoids partial writes if marshaling fails
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	w.Header().Set("Content-Type", JSONAPIMediaType)
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// BuildPaginationLinks creates pagination links for a collection of total objects.
// Every link keeps the other query parameters of requestURL. A disabled page only
// gets a self link.
func BuildPaginationLinks(requestURL *url.URL, page querystring.Page, total int) *jsonapi.Link {
	if page.Disabled() {
		return &jsonapi.Link{Self: requestURL.String()}
	}

	number := page.Number
	if number < 1 {
		number = 1
	}
	totalPages := (total + page.Size - 1) / page.Size
	if totalPages < 1 {
		totalPages = 1
	}

	links := &jsonapi.Link{
		Self:  buildPageURL(requestURL, number, page.Size),
		First: buildPageURL(requestURL, 1, page.Size),
		Last:  buildPageURL(requestURL, totalPages, page.Size),
	}

	if number > 1 {
		links.Previous = buildPageURL(requestURL, number-1, page.Size)
	}

	if number < totalPages {
		links.Next = buildPageURL(requestURL, number+1, page.Size)
	}

	return links
}

func buildPageURL(requestURL *url.URL, number, size int) string {
	u := *requestURL
	q := u.Query()
	q.Set("page[number]", strconv.Itoa(number))
	q.Set("page[size]", strconv.Itoa(size))
	u.RawQuery = q.Encode()

	return u.String()
}
