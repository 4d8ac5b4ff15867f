package schema

import "fmt"

// UnknownSourceError rejects a payload whose source discriminator has no
// registered schema. Only the single item is rejected, never the batch.
type UnknownSourceError struct {
	Source string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Source)
}

// InvalidTimestampError names the literal that failed every accepted layout.
type InvalidTimestampError struct {
	Value string
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("unable to parse timestamp %q", e.Value)
}

// MissingFieldError rejects a payload missing a field its schema requires.
type MissingFieldError struct {
	Source string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("source %q requires field %q", e.Source, e.Field)
}
