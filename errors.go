package main

import (
	"errors"
	"fmt"
	"strings"
)

// errNotFound covers both "does not exist" and "belongs to someone else" so
// handlers cannot leak which of the two happened.
var errNotFound = errors.New("not found")

// errEmptyUpload rejects an ingestion call with zero rows. The boundary
// already requires at least one row; this is the engine's own guard.
var errEmptyUpload = errors.New("at least one transaction row is required")

// columnError reports mapped columns that are absent from the known column
// set. Raised before any write happens.
type columnError struct {
	Columns []string
}

func (e *columnError) Error() string {
	return fmt.Sprintf("mapping references unknown columns: %s", strings.Join(e.Columns, ", "))
}
