package model

import "fmt"

// DecodeError reports a malformed external payload (contract return, attestation or
// listing entry). The item is skipped; the batch continues.
type DecodeError struct {
	Source string `json:"source"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("decode %s.%s: %s", e.Source, e.Field, e.Reason)
}

// NewDecodeError builds a DecodeError with a formatted reason.
func NewDecodeError(source, field, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Source: source, Field: field, Reason: fmt.Sprintf(format, args...)}
}
