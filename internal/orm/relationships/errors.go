package relationships

import "errors"

var (
	// ErrUnknownRelationship is returned when a relationship is not found
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrMixedModels is returned when a batch contains records of different models
	ErrMixedModels = errors.New("records belong to different models")
)
