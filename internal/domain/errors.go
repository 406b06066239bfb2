package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation means the source lacks required structure. No import was attempted.
	ErrValidation = errors.New("validation failed")
	// ErrConflict means the dataset already exists (or is being imported) and overwrite was not requested.
	ErrConflict = errors.New("dataset already exists")
	// ErrNotFound means a named dataset, cluster or gene does not exist.
	ErrNotFound = errors.New("not found")
	// ErrImportFailed means a write phase failed and the import was rolled back.
	ErrImportFailed = errors.New("import failed")
	// ErrRefreshFailed means the projection could not be rebuilt. The previous contents stay valid.
	ErrRefreshFailed = errors.New("projection refresh failed")
)

// ValidationError lists every missing required field of a source.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
	}
	return e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError names the dataset that blocked the import.
type ConflictError struct {
	Name    string
	Running bool
}

func (e *ConflictError) Error() string {
	if e.Running {
		return fmt.Sprintf("import of dataset %q is already running", e.Name)
	}
	return fmt.Sprintf("dataset %q already exists, use overwrite to replace it", e.Name)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError names the missing entity, e.g. Kind "dataset".
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ImportError wraps the underlying cause of a rolled back import.
type ImportError struct {
	Phase string
	Err   error
}

func (e *ImportError) Error() string {
	if e.Phase == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

func (e *ImportError) Is(target error) bool { return target == ErrImportFailed }

// RefreshError wraps a failed projection refresh.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh %s: %v", ProjectionName, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }

// IsNotFound reports whether err signals a missing dataset, cluster or gene.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}
