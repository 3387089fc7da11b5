package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DataDog/jsonapi"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/crud"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorObjects converts err into JSON:API error objects and the response status.
//
// Domain errors keep their own status and source. A missing row is a 404, a
// unique violation a 409 and the other constraint violations a 422. Anything
// else is reported as an unknown 500 error without its detail.
func ErrorObjects(err error) (int, []*jsonapi.Error) {
	status, obj := errorObject(err)
	obj.ID = uuid.NewString()
	obj.Status = &status
	obj.Code = errorCodeFromStatus(status)
	return status, []*jsonapi.Error{obj}
}

func errorObject(err error) (int, *jsonapi.Error) {
	if apiErr, ok := apierr.As(err); ok {
		obj := &jsonapi.Error{Title: apiErr.Title, Detail: apiErr.Detail}
		if apiErr.Source.Pointer != "" || apiErr.Source.Parameter != "" {
			obj.Source = &jsonapi.ErrorSource{
				Pointer:   apiErr.Source.Pointer,
				Parameter: apiErr.Source.Parameter,
			}
		}
		return apiErr.Status, obj
	}

	switch {
	case errors.Is(err, query.ErrNoResult), errors.Is(err, crud.ErrNotFound):
		return http.StatusNotFound, &jsonapi.Error{Title: "Object not found", Detail: err.Error()}
	case errors.Is(err, crud.ErrUniqueViolation):
		return http.StatusConflict, &jsonapi.Error{Title: "Conflict", Detail: err.Error()}
	case errors.Is(err, crud.ErrForeignKeyViolation),
		errors.Is(err, crud.ErrCheckViolation),
		errors.Is(err, crud.ErrNotNullViolation):
		return http.StatusUnprocessableEntity, &jsonapi.Error{Title: "Integrity error", Detail: err.Error()}
	case errors.Is(err, schema.ErrSchemaNotFound):
		return http.StatusNotFound, &jsonapi.Error{Title: "Resource type not found", Detail: err.Error()}
	case errors.Is(err, schema.ErrUnknownField):
		return http.StatusBadRequest, &jsonapi.Error{Title: "Invalid field", Detail: err.Error()}
	default:
		return http.StatusInternalServerError, &jsonapi.Error{Title: "Unknown error"}
	}
}

// RenderError renders err as a JSON:API error document. Server errors are logged.
func RenderError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, objects := ErrorObjects(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("error_id", objects[0].ID),
			zap.Error(err))
	}
	RenderJSONAPIErrors(w, status, objects)
}

// RenderJSONAPIError renders a single error with the given status
func RenderJSONAPIError(w http.ResponseWriter, statusCode int, title, detail string) {
	errors := []*jsonapi.Error{{
		ID:     uuid.NewString(),
		Status: &statusCode,
		Code:   errorCodeFromStatus(statusCode),
		Title:  title,
		Detail: detail,
	}}

	RenderJSONAPIErrors(w, statusCode, errors)
}

// RenderJSONAPIErrors renders multiple JSON:API errors
func RenderJSONAPIErrors(w http.ResponseWriter, statusCode int, errors []*jsonapi.Error) {
	// Marshal errors BEFORE writing headers
	data, err := json.Marshal(map[string]interface{}{
		"errors":  errors,
		"jsonapi": map[string]string{"version": Version},
	})
	if err != nil {
		// Fallback if marshaling fails
		w.Header().Set("Content-Type", JSONAPIMediaType)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":[{"status":"500","code":"internal_error","title":"Unknown error"}]}`))
		return
	}

	w.Header().Set("Content-Type", JSONAPIMediaType)
	w.WriteHeader(statusCode)
	w.Write(data)
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusNotAcceptable:
		return "not_acceptable"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return "error"
	}
}
