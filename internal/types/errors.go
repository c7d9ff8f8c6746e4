package types

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both genuinely unknown ids and ids owned by another
// user. The two cases are deliberately indistinguishable so that lookups
// cannot be used to probe for existence.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DependencyError reports an unavailable collaborator (embedding provider,
// store timeout). Recall dimensions degrade on it; capture surfaces it.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// CascadeError reports a sacred-flag cascade that could not complete. The
// transaction is rolled back before this is returned, so no partial cascade
// is ever visible.
type CascadeError struct {
	EpisodeID string
	Err       error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("sacred cascade failed for episode %s: %v", e.EpisodeID, e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }
