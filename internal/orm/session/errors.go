package session

import "errors"

var (
	// ErrUnknownRelationship is returned when a record's model has no relationship of the given name
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrInvalidRelated is returned when a relationship is assigned a value of the wrong shape
	ErrInvalidRelated = errors.New("invalid related value")

	// ErrDeleted is returned when a record scheduled for deletion is modified
	ErrDeleted = errors.New("record is scheduled for deletion")
)
