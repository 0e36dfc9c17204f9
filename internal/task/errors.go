package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIO            = errors.New("task store i/o failure")
	ErrCorrupt       = errors.New("task store corrupt")
	ErrDuplicateSlug = errors.New("slug already exists")
	ErrNotFound      = errors.New("task not found")

	ErrSpawnFailed = errors.New("spawn failed")
)

// StoreError is returned by every store operation.
//
// Kind is one of ErrIO, ErrCorrupt, ErrDuplicateSlug or ErrNotFound, so
// callers can use errors.Is(err, task.ErrNotFound).
type StoreError struct {
	Kind  error
	Path  string
	Slugs []string
	Err   error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	switch {
	case errors.Is(e.Kind, ErrDuplicateSlug) && len(e.Slugs) > 0:
		fmt.Fprintf(&b, "slug already exists: %s", strings.Join(e.Slugs, ", "))
	case errors.Is(e.Kind, ErrNotFound) && len(e.Slugs) > 0:
		fmt.Fprintf(&b, "task not found: %s", strings.Join(e.Slugs, ", "))
	default:
		b.WriteString(e.Kind.Error())
	}
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IOError wraps err as a StoreError of kind ErrIO.
func IOError(path string, err error) error {
	return &StoreError{Kind: ErrIO, Path: path, Err: err}
}

// CorruptError wraps err as a StoreError of kind ErrCorrupt.
func CorruptError(path string, err error) error {
	return &StoreError{Kind: ErrCorrupt, Path: path, Err: err}
}

// LaunchError records why a task's command could not be started.
// It never escapes the scheduler loop as a fatal error.
type LaunchError struct {
	Slug    string
	Program string
	Reason  string
	Err     error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("%s: task %q: %s", ErrSpawnFailed, e.Slug, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSpawnFailed}
	}
	return []error{ErrSpawnFailed, e.Err}
}
