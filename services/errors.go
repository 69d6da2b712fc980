package services

import "errors"

var (
	// ErrInvalidInput marks caller mistakes such as an empty question.
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// ErrConflict is returned when an operation collides with in-flight work.
var ErrConflict = errors.New("conflict")
