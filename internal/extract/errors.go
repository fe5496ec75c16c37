package extract

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when an allow-list of extensions is
// configured and the file's extension is not on it.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ExtractionError reports that a parser could not decode a document.
type ExtractionError struct {
	Filename string
	Format   string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Filename, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
