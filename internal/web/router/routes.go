package router

import (
	"context"
	"net/http"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	"github.com/conduit-lang/jsonapi/internal/web/response"
	"github.com/go-chi/chi/v5"
)

// relationshipMutation is one of the data layer relationship writes
type relationshipMutation func(d *datalayer.DataLayer, ctx context.Context, linkage datalayer.Linkage, field string, view datalayer.ViewArgs) (*ormschema.Record, bool, error)

func (r *Router) registerRoutes(mux chi.Router) {
	mux.Get("/{type}", r.getCollection)
	mux.Post("/{type}", r.createObject)
	mux.Get("/{type}/{id}", r.getObject)
	mux.Patch("/{type}/{id}", r.updateObject)
	mux.Delete("/{type}/{id}", r.deleteObject)
	mux.Get("/{type}/{id}/{field}", r.getRelated)
	mux.Get("/{type}/{id}/relationships/{field}", r.getRelationship)
	mux.Post("/{type}/{id}/relationships/{field}", r.mutateRelationship((*datalayer.DataLayer).CreateRelationship))
	mux.Patch("/{type}/{id}/relationships/{field}", r.mutateRelationship((*datalayer.DataLayer).UpdateRelationship))
	mux.Delete("/{type}/{id}/relationships/{field}", r.mutateRelationship((*datalayer.DataLayer).DeleteRelationship))
}

// endpoint is the state shared by the handlers of one request
type endpoint struct {
	schema  *schema.Schema
	session *session.Session
	layer   *datalayer.DataLayer
	builder *response.Builder
}

// open resolves the resource type of the request and opens its unit of work
func (r *Router) open(req *http.Request) (*endpoint, error) {
	s, err := r.schemas.SchemaForType(chi.URLParam(req, "type"))
	if err != nil {
		return nil, err
	}
	sess := r.newSession()
	layer, err := r.dataLayer(sess, s)
	if err != nil {
		return nil, err
	}
	return &endpoint{
		schema:  s,
		session: sess,
		layer:   layer,
		builder: response.NewBuilder(r.schemas, sess, r.prefix),
	}, nil
}

func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	response.RenderError(w, req, r.logger, err)
}

func (r *Router) render(w http.ResponseWriter, req *http.Request, status int, doc interface{}) {
	if err := response.RenderDocument(w, status, doc); err != nil {
		r.fail(w, req, err)
	}
}

func (r *Router) getCollection(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.collection(w, req, ep, datalayer.ViewArgs{})
}

// collection renders the collection of ep scoped by view
func (r *Router) collection(w http.ResponseWriter, req *http.Request, ep *endpoint, view datalayer.ViewArgs) {
	ctx := req.Context()
	params, err := r.queries.Parse(req.URL.Query(), ep.schema)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	count, records, err := ep.layer.GetCollection(ctx, params, view, nil)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	doc, err := ep.builder.Collection(ctx, ep.schema, records, params)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	doc.Meta = map[string]interface{}{"count": count}
	doc.Links = response.BuildPaginationLinks(req.URL, params.Page, count)
	r.render(w, req, http.StatusOK, doc)
}

func (r *Router) createObject(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	params, err := r.queries.Parse(req.URL.Query(), ep.schema)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	data, err := r.bodies.ParseResource(w, req, ep.schema, "")
	if err != nil {
		r.fail(w, req, err)
		return
	}

	rec, err := ep.layer.CreateObject(req.Context(), data, datalayer.ViewArgs{})
	if err != nil {
		r.fail(w, req, err)
		return
	}
	doc, err := ep.builder.Object(req.Context(), ep.schema, rec, params)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	w.Header().Set("Location", ep.builder.ResourceURL(ep.schema.Type, response.ResourceID(ep.schema, rec)))
	r.render(w, req, http.StatusCreated, doc)
}

func (r *Router) getObject(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	params, err := r.queries.Parse(req.URL.Query(), ep.schema)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	rec, err := ep.layer.GetObject(req.Context(), objectView(req), params.Include)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	doc, err := ep.builder.Object(req.Context(), ep.schema, rec, params)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.render(w, req, http.StatusOK, doc)
}

func (r *Router) updateObject(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	params, err := r.queries.Parse(req.URL.Query(), ep.schema)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	view := objectView(req)
	data, err := r.bodies.ParseResource(w, req, ep.schema, view[datalayer.DefaultURLField])
	if err != nil {
		r.fail(w, req, err)
		return
	}

	rec, err := ep.layer.UpdateObject(req.Context(), data, view)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	doc, err := ep.builder.Object(req.Context(), ep.schema, rec, params)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.render(w, req, http.StatusOK, doc)
}

func (r *Router) deleteObject(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if err := ep.layer.DeleteObject(req.Context(), objectView(req)); err != nil {
		r.fail(w, req, err)
		return
	}
	r.render(w, req, http.StatusOK, metaDocument("Object successfully deleted"))
}

// getRelated renders the objects related to the addressed object through a
// relationship field: the collection of the related type scoped to the parent
// for to-many fields, a single object or null for to-one fields
func (r *Router) getRelated(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	ctx := req.Context()
	view := objectView(req)
	field := chi.URLParam(req, "field")

	f, ok := ep.schema.Field(field)
	if !ok || f.Kind != schema.Relationship {
		r.fail(w, req, relationNotFound(ep.schema, field))
		return
	}
	related, err := r.schemas.RelatedSchema(ep.schema, field)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if _, err := ep.layer.GetObject(ctx, view, nil); err != nil {
		r.fail(w, req, err)
		return
	}

	layer, err := r.dataLayer(ep.session, related)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	scoped := &endpoint{schema: related, session: ep.session, layer: layer, builder: ep.builder}
	parent := datalayer.ViewArgs{
		datalayer.ParentType:  ep.schema.Type,
		datalayer.ParentID:    view[datalayer.DefaultURLField],
		datalayer.ParentField: field,
	}
	if f.Many {
		r.collection(w, req, scoped, parent)
		return
	}

	params, err := r.queries.Parse(req.URL.Query(), related)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	params.Page = querystring.Page{Number: 1, Size: 1}
	_, records, err := layer.GetCollection(ctx, params, parent, nil)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var rec *ormschema.Record
	if len(records) > 0 {
		rec = records[0]
	}
	doc, err := ep.builder.Object(ctx, related, rec, params)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.render(w, req, http.StatusOK, doc)
}

func (r *Router) getRelationship(w http.ResponseWriter, req *http.Request) {
	ep, err := r.open(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	view := objectView(req)
	field := chi.URLParam(req, "field")

	_, linkage, err := ep.layer.GetRelationship(req.Context(), field, view)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.render(w, req, http.StatusOK, linkageDocument(ep, view, field, linkage))
}

// mutateRelationship returns the handler of a relationship write. An unchanged
// relationship is answered with 204 and no document.
func (r *Router) mutateRelationship(mutate relationshipMutation) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ep, err := r.open(req)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		view := objectView(req)
		field := chi.URLParam(req, "field")

		linkage, err := r.bodies.ParseRelationship(w, req, ep.schema, field)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		rec, updated, err := mutate(ep.layer, req.Context(), linkage, field, view)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		if !updated {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		current, err := currentLinkage(req.Context(), ep, rec, field)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		r.render(w, req, http.StatusOK, linkageDocument(ep, view, field, current))
	}
}
