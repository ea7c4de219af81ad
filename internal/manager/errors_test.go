package manager

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSpawnErrorWrapsCause(t *testing.T) {
	cause := errors.New("exec format error")
	err := fmt.Errorf("start: %w", &spawnError{generatorID: 3, err: cause})
	if !IsSpawnFailure(err) {
		t.Fatalf("IsSpawnFailure=false")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable")
	}
	var se *spawnError
	errors.As(err, &se)
	if se.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", se.StatusCode())
	}
	if IsSpawnFailure(cause) {
		t.Fatalf("plain error reported as spawn failure")
	}
}

func TestDependencyUnavailable(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ErrDependencyUnavailable("render command not found"))
	if !IsDependencyUnavailable(err) {
		t.Fatalf("IsDependencyUnavailable=false")
	}
	if IsDependencyUnavailable(errors.New("x")) {
		t.Fatalf("false positive")
	}
	var sc interface{ StatusCode() int }
	if !errors.As(err, &sc) || sc.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("status code not exposed")
	}
}
