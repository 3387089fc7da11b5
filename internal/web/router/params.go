package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/web/response"
	"github.com/go-chi/chi/v5"
)

// objectView returns the view arguments addressing the object of the URL
func objectView(req *http.Request) datalayer.ViewArgs {
	return datalayer.ViewArgs{datalayer.DefaultURLField: chi.URLParam(req, "id")}
}

func relationNotFound(s *schema.Schema, field string) error {
	return apierr.RelationNotFound(fmt.Sprintf("%s has no attribute %s", s.Name, field))
}

// linkageDocument is the document of a relationship endpoint
func linkageDocument(ep *endpoint, view datalayer.ViewArgs, field string, linkage datalayer.Linkage) *response.Document {
	doc := response.NewDocument(response.LinkageFrom(linkage))
	doc.Links = ep.builder.RelationshipLinks(ep.schema.Type, view[datalayer.DefaultURLField], field)
	return doc
}

// currentLinkage reads the linkage of a relationship of rec after a write
func currentLinkage(ctx context.Context, ep *endpoint, rec *ormschema.Record, field string) (datalayer.Linkage, error) {
	f, ok := ep.schema.Field(field)
	if !ok {
		return datalayer.Linkage{}, relationNotFound(ep.schema, field)
	}
	related, err := ep.builder.Schemas().RelatedSchema(ep.schema, field)
	if err != nil {
		return datalayer.Linkage{}, err
	}
	v, err := ep.session.Related(ctx, rec, f.StorageName())
	if err != nil {
		return datalayer.Linkage{}, err
	}

	linkage := datalayer.Linkage{Many: f.Many}
	add := func(r *ormschema.Record) {
		id := response.ResourceID(related, r)
		if f.IDField != "" {
			id = ormschema.FormatID(r.Get(f.IDField))
		}
		linkage.Data = append(linkage.Data, datalayer.Identifier{Type: related.Type, ID: id})
	}
	switch t := v.(type) {
	case *ormschema.Record:
		if t != nil {
			add(t)
		}
	case []*ormschema.Record:
		for _, r := range t {
			add(r)
		}
	}
	return linkage, nil
}

// metaDocument is a document carrying only a message
func metaDocument(message string) map[string]interface{} {
	return map[string]interface{}{
		"meta":    map[string]interface{}{"message": message},
		"jsonapi": map[string]string{"version": response.Version},
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	response.RenderJSONAPIError(w, http.StatusNotFound, "Not found",
		fmt.Sprintf("No route matches %s %s", r.Method, r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response.RenderJSONAPIError(w, http.StatusMethodNotAllowed, "Method not allowed",
		fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path))
}
