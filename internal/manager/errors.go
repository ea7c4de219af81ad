package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotRunning is returned by Start-dependent calls before Start.
var ErrNotRunning = errors.New("supervisor not running")

// spawnError signals that a worker process could not be started, so the
// HTTP layer can return 503 instead of 500.
type spawnError struct {
	generatorID int64
	err         error
}

func (e *spawnError) Error() string {
	return fmt.Sprintf("spawn worker for generator %d: %v", e.generatorID, e.err)
}

func (e *spawnError) Unwrap() error { return e.err }

func (e *spawnError) StatusCode() int { return http.StatusServiceUnavailable }

// IsSpawnFailure reports whether err came from a failed worker spawn.
func IsSpawnFailure(err error) bool {
	var se *spawnError
	return errors.As(err, &se)
}

// dependencyUnavailableError signals a missing external dependency (e.g. the
// worker binary or render command) so the HTTP layer can return 503.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
