package httpapi

import (
	"bytes"
	"net/http"
	"testing"

	"imaged/pkg/types"
)

// TestMetricsMiddleware_UsesRoutePattern ensures requests are labelled by the
// chi route pattern instead of the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	svc := newMockService()
	svc.jobs[42] = types.Job{ID: 42, GeneratorID: 1, Status: types.JobWaiting}
	w := do(t, NewMux(svc, mockSupervisor{}, nil), http.MethodGet, "/v1/jobs/42", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := scrape(t)
	if !bytes.Contains(body, []byte(`path="/v1/jobs/{id}"`)) {
		preview := body
		if len(preview) > 400 {
			preview = preview[:400]
		}
		t.Fatalf("expected a /v1/jobs/{id} series; got: %q", string(preview))
	}
	if bytes.Contains(body, []byte(`path="/v1/jobs/42"`)) {
		t.Fatalf("raw path leaked into metric labels")
	}
}
