package organizer

import "fmt"

// FilingErrorKind labels why a staged file could not be filed.
type FilingErrorKind string

const (
	KindMalformedStagedName FilingErrorKind = "malformed_staged_name"
	KindFilesystemFailure   FilingErrorKind = "filesystem_failure"
)

// FilingError is a per-file organizer failure. Remaining files are still processed.
type FilingError struct {
	Kind FilingErrorKind
	Name string
	Err  error
}

func (e *FilingError) Error() string {
	return fmt.Sprintf("file %q: %s: %v", e.Name, e.Kind, e.Err)
}

func (e *FilingError) Unwrap() error {
	return e.Err
}
