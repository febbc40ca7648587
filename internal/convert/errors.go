package convert

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for formats outside the capability set.
// It is an outcome, not a failure.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrEmptyTable is wrapped when a tabular document has no header row.
var ErrEmptyTable = errors.New("table has no header row")

// ConversionError reports a converter or engine failure for one format.
type ConversionError struct {
	Format Format
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
