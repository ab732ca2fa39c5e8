package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
)

// ReleaseFunc releases one acquired resource.
type ReleaseFunc func(ctx context.Context) error

type release struct {
	name string
	fn   ReleaseFunc
}

// Scope tracks acquired resources and releases them in reverse order. Every
// release runs even when an earlier one fails; a resource that is already gone
// (ErrNotFound, os.ErrNotExist) counts as released.
type Scope struct {
	mu       sync.Mutex
	releases []release
	closed   bool
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{}
}

// Defer registers fn to run when the scope is closed.
func (s *Scope) Defer(name string, fn ReleaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, release{name: name, fn: fn})
}

// RemoveFile registers the removal of a local file.
func (s *Scope) RemoveFile(path string) {
	s.Defer("remove file "+path, func(context.Context) error {
		return os.Remove(path)
	})
}

// Len returns the number of pending releases
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases)
}

// Close runs all pending releases, newest first, and returns every failure
// that does not mean "already released". Closing twice is a no-op.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	var errs error
	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]
		err := r.fn(ctx)
		if err == nil || IsNotFound(err) || errors.Is(err, os.ErrNotExist) {
			continue
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.name, err))
	}
	return errs
}
