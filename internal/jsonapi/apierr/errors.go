// Package apierr defines the domain errors raised by the JSON:API core.
//
// Every error is an *Error carrying the fields of a JSON:API error object plus a
// Kind sentinel, so callers branch with errors.Is(err, apierr.ErrInvalidSort)
// and renderers read the status and source with errors.As.
package apierr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidFilters        = errors.New("invalid filters")
	ErrInvalidSort           = errors.New("invalid sort")
	ErrInvalidInclude        = errors.New("invalid include")
	ErrInvalidField          = errors.New("invalid field")
	ErrBadRequest            = errors.New("bad request")
	ErrObjectNotFound        = errors.New("object not found")
	ErrRelatedObjectNotFound = errors.New("related object not found")
	ErrRelationNotFound      = errors.New("relation not found")
	ErrInvalidType           = errors.New("invalid type")
)

// Source points at the part of the request that caused an error
type Source struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// Error is a JSON:API domain error
type Error struct {
	Title  string
	Detail string
	Status int
	Source Source
	Kind   error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Title + ": " + e.Detail
}

// Unwrap returns the Kind sentinel
func (e *Error) Unwrap() error {
	return e.Kind
}

// As returns the *Error in err's chain, if any
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// InvalidFilters reports a malformed filter tree
func InvalidFilters(detail string) *Error {
	return &Error{
		Title:  "Invalid filters querystring parameter.",
		Detail: detail,
		Status: http.StatusBadRequest,
		Source: Source{Parameter: "filters"},
		Kind:   ErrInvalidFilters,
	}
}

// InvalidSort reports an unknown or incomplete sort field
func InvalidSort(detail string) *Error {
	return &Error{
		Title:  "Invalid sort querystring parameter.",
		Detail: detail,
		Status: http.StatusBadRequest,
		Source: Source{Parameter: "sort"},
		Kind:   ErrInvalidSort,
	}
}

// InvalidInclude reports an include path that cannot be followed
func InvalidInclude(detail string) *Error {
	return &Error{
		Title:  "Invalid include querystring parameter.",
		Detail: detail,
		Status: http.StatusBadRequest,
		Source: Source{Parameter: "include"},
		Kind:   ErrInvalidInclude,
	}
}

// InvalidField reports an unknown field in a sparse fieldset
func InvalidField(detail string) *Error {
	return &Error{
		Title:  "Invalid fields querystring parameter.",
		Detail: detail,
		Status: http.StatusBadRequest,
		Source: Source{Parameter: "fields"},
		Kind:   ErrInvalidField,
	}
}

// BadRequest reports a malformed query parameter
func BadRequest(detail, parameter string) *Error {
	return &Error{
		Title:  "Bad request",
		Detail: detail,
		Status: http.StatusBadRequest,
		Source: Source{Parameter: parameter},
		Kind:   ErrBadRequest,
	}
}

// BadDocument reports a malformed part of a request document
func BadDocument(detail, pointer string) *Error {
	return &Error{
		Title:  "Bad request",
		Detail: detail,
		Status: http.StatusBadRequest,
		Source: Source{Pointer: pointer},
		Kind:   ErrBadRequest,
	}
}

// ObjectNotFound reports that the addressed object does not exist
func ObjectNotFound(detail, parameter string) *Error {
	return &Error{
		Title:  "Object not found",
		Detail: detail,
		Status: http.StatusNotFound,
		Source: Source{Parameter: parameter},
		Kind:   ErrObjectNotFound,
	}
}

// RelatedObjectNotFound reports a relationship identifier with no matching row
func RelatedObjectNotFound(detail string) *Error {
	return &Error{
		Title:  "Related object not found",
		Detail: detail,
		Status: http.StatusNotFound,
		Kind:   ErrRelatedObjectNotFound,
	}
}

// RelationNotFound reports a relationship name the resource does not declare
func RelationNotFound(detail string) *Error {
	return &Error{
		Title:  "Relation not found",
		Detail: detail,
		Status: http.StatusNotFound,
		Kind:   ErrRelationNotFound,
	}
}

// InvalidType reports a nested field that maps to neither a relationship nor a column
func InvalidType(detail, pointer string) *Error {
	return &Error{
		Title:  "Invalid type",
		Detail: detail,
		Status: http.StatusConflict,
		Source: Source{Pointer: pointer},
		Kind:   ErrInvalidType,
	}
}
