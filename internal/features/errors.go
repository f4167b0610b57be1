package features

import (
	"errors"
	"fmt"
)

var ErrEmptyTable = errors.New("cannot fit on an empty table")

// SchemaError reports a column that does not match what the transformer expects.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}
