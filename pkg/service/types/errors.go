package types

import "fmt"

// InvalidArgumentError is returned for caller input the services refuse to run.
type InvalidArgumentError struct {
	Field   string
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument '%s': %s", e.Field, e.Message)
}

func NewInvalidArgumentError(field string, message string) *InvalidArgumentError {
	return &InvalidArgumentError{Field: field, Message: message}
}
