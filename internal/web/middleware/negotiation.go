package middleware

import (
	"mime"
	"net/http"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/web/response"
)

// ContentNegotiation enforces the JSON:API media type rules. A request with a body
// must be sent as application/vnd.api+json without parameters (415 otherwise), and
// an Accept header listing the JSON:API media type only with parameters is refused
// with 406.
func ContentNegotiation() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasBody(r) {
				mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != response.JSONAPIMediaType || len(params) > 0 {
					response.RenderJSONAPIError(w, http.StatusUnsupportedMediaType, "Unsupported media type",
						"Content-Type must be application/vnd.api+json without media type parameters")
					return
				}
			}

			if accept := r.Header.Get("Accept"); accept != "" && !acceptable(accept) {
				response.RenderJSONAPIError(w, http.StatusNotAcceptable, "Not acceptable",
					"Accept must include application/vnd.api+json without media type parameters")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodPut:
		return true
	case http.MethodDelete:
		return r.ContentLength > 0 || r.Header.Get("Content-Type") != ""
	default:
		return false
	}
}

// acceptable reports whether an Accept header allows a JSON:API response. Media
// ranges other than the JSON:API type are ignored; if the JSON:API type is listed,
// at least one instance must come without parameters.
func acceptable(accept string) bool {
	listed := false
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || mediaType != response.JSONAPIMediaType {
			continue
		}
		listed = true
		delete(params, "q")
		if len(params) == 0 {
			return true
		}
	}
	return !listed
}
