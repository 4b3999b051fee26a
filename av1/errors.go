package av1

import (
	"errors"
	"fmt"
)

// Sentinel errors for AV1 configuration handling.
var (
	ErrSequenceHeaderNotFound = errors.New("av1: sequence header OBU not found")
	ErrMalformedOBU           = errors.New("av1: malformed OBU")
	ErrInvalidDimensions      = errors.New("av1: frame dimensions out of range")
	ErrTruncated              = errors.New("av1: sequence header truncated")
)

// ParseError records which sequence header field was being decoded when
// parsing failed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("av1: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
