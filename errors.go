package redispoco

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common conditions
var (
	// Record errors
	ErrInvalidRecord     = errors.New("invalid object")
	ErrMissingIdentifier = errors.New("identifier missing")
	ErrInvalidAttribute  = errors.New("invalid attribute value")
	ErrDeserialization   = errors.New("stored record is not valid JSON")

	// Query errors
	ErrInvalidFilter = errors.New("invalid filter")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// AttributeError reports every indexed attribute of a record whose value
// cannot be indexed. Attributes are listed in configured order.
type AttributeError struct {
	Attributes []string
	Record     string // JSON rendering of the rejected record
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%s of %s are not string/number/bool or array of those",
		strings.Join(e.Attributes, ","), e.Record)
}

func (e *AttributeError) Unwrap() error {
	return ErrInvalidAttribute
}

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsValidation reports whether err was raised before any write reached the store.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrMissingIdentifier) ||
		errors.Is(err, ErrInvalidAttribute) ||
		errors.Is(err, ErrInvalidFilter)
}

// IsCorrupt checks if an error comes from an unreadable item blob
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrDeserialization)
}
