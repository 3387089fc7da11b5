package query

import "errors"

var (
	// ErrNoResult is returned by One when no row matches
	ErrNoResult = errors.New("no result found for one()")

	// ErrMultipleResults is returned by One when more than one row matches
	ErrMultipleResults = errors.New("multiple results found for one()")

	// ErrUnsupportedOperator is returned when an operator cannot apply to a column
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrInvalidValue is returned when an operator receives a value of the wrong shape
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidIdentifier is returned for identifiers that cannot be safely embedded
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnknownRelationship is returned when a join path names an undeclared relationship
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrNoLoader is returned when preloading is requested without a relationship loader
	ErrNoLoader = errors.New("no relationship loader configured")
)
