package eval

import (
	"fmt"
)

// ShapeError reports a collaborator output that does not have the expected
// structure, such as an inference result with fewer than three outputs.
type ShapeError struct {
	// Item is the dataset index being processed.
	Item int
	// Reason describes the mismatch.
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("item %d: malformed output: %s", e.Item, e.Reason)
}

func shapeErrorf(item int, format string, args ...any) error {
	return &ShapeError{Item: item, Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports an evaluation option outside its valid range.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
