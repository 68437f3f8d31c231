package webhook

import "errors"

// ErrNotFound is returned for unknown configs and for configs owned by
// another company.
var ErrNotFound = errors.New("herald: webhook not found")

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
