package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imaged/internal/manager"
	"imaged/internal/service"
	"imaged/pkg/types"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var er types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

func TestHealthz(t *testing.T) {
	h := NewMux(newMockService(), mockSupervisor{}, nil)
	w := do(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	w := do(t, NewMux(newMockService(), mockSupervisor{ready: true}, nil), http.MethodGet, "/readyz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	w = do(t, NewMux(newMockService(), mockSupervisor{}, nil), http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "starting") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestStatusHandler(t *testing.T) {
	sup := mockSupervisor{status: types.StatusResponse{
		Workers:         []types.WorkerStatus{{GeneratorID: 3, State: "ready"}},
		DispatchedTotal: 2,
	}}
	w := do(t, NewMux(newMockService(), sup, nil), http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Workers) != 1 || body.Workers[0].GeneratorID != 3 || body.DispatchedTotal != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInfoReportsPaths(t *testing.T) {
	svc := newMockService()
	svc.info = types.InfoResponse{DBDriver: "sqlite", DBPath: "/d/imaged.db", ImagesPath: "/d/images", ModelsPath: "/d/models"}
	w := do(t, NewMux(svc, mockSupervisor{}, nil), http.MethodGet, "/v1/info", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var got types.InfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got != svc.info {
		t.Fatalf("info = %+v", got)
	}
}

func TestGeneratorLifecycleRoutes(t *testing.T) {
	svc := newMockService()
	h := NewMux(svc, mockSupervisor{ready: true}, nil)

	w := do(t, h, http.MethodPost, "/v1/generators", `{"name":"gpu0","engine_id":1,"gpu_id":0}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var g types.Generator
	if err := json.Unmarshal(w.Body.Bytes(), &g); err != nil {
		t.Fatalf("json: %v", err)
	}
	if g.ID != 1 || g.Status != types.GeneratorClosed {
		t.Fatalf("unexpected generator %+v", g)
	}

	w = do(t, h, http.MethodPatch, "/v1/generators/1/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status=%d", w.Code)
	}
	w = do(t, h, http.MethodPatch, "/v1/generators/1/close", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("close status=%d", w.Code)
	}
	if len(svc.started) != 1 || len(svc.stopped) != 1 {
		t.Fatalf("started=%v stopped=%v", svc.started, svc.stopped)
	}
	if w := do(t, h, http.MethodPatch, "/v1/generators/9/start", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown generator status=%d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/v1/generators/1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/v1/generators", ""); w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
}

func TestInvalidPathID(t *testing.T) {
	h := NewMux(newMockService(), mockSupervisor{}, nil)
	for _, path := range []string{"/v1/jobs/abc", "/v1/engines/0", "/v1/images/-3"} {
		w := do(t, h, http.MethodGet, path, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", path, w.Code)
		}
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	svc := newMockService()
	svc.err = &service.ValidationError{Fields: []types.FieldError{
		{Field: "engine_id", Error: "engine with id 7 doesn't exist"},
		{Field: "name", Error: "name can't be empty"},
	}}
	w := do(t, NewMux(svc, mockSupervisor{}, nil), http.MethodPost, "/v1/generators", `{"engine_id":7}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	er := decodeError(t, w)
	if er.Code != 400 || len(er.Fields) != 2 || er.Fields[0].Field != "engine_id" {
		t.Fatalf("unexpected error body %+v", er)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&service.ConflictError{Msg: "job with id 1 is being processed"}, http.StatusBadRequest},
		{manager.ErrDependencyUnavailable("worker binary missing"), http.StatusServiceUnavailable},
		{mockHTTPError{msg: "gone", code: http.StatusNotFound}, http.StatusNotFound},
		{os.ErrPermission, http.StatusInternalServerError},
	}
	for _, c := range cases {
		svc := newMockService()
		svc.err = c.err
		w := do(t, NewMux(svc, mockSupervisor{}, nil), http.MethodDelete, "/v1/jobs/1", "")
		if w.Code != c.want {
			t.Fatalf("%v: status=%d want %d", c.err, w.Code, c.want)
		}
		if er := decodeError(t, w); er.Error != c.err.Error() {
			t.Fatalf("error message %q", er.Error)
		}
	}
}

func TestCreateJobDecodesBody(t *testing.T) {
	svc := newMockService()
	h := NewMux(svc, mockSupervisor{}, nil)
	body := `{"generator_id":2,"images":[{"prompt":"a lighthouse","negative_prompt":"","file_type":"jpg",
		"control_images":[{"data_base64":"aGk="}]}]}`
	w := do(t, h, http.MethodPost, "/v1/jobs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	in := svc.jobInput
	if in.GeneratorID != 2 || len(in.Images) != 1 || in.Images[0].FileType != types.FileJPG ||
		in.Images[0].ControlImages[0].DataBase64 != "aGk=" {
		t.Fatalf("unexpected input %+v", in)
	}
}

func TestJSONBodyChecks(t *testing.T) {
	h := NewMux(newMockService(), mockSupervisor{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/engines", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("content type status=%d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/v1/engines", "not-json"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}

	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	if w := do(t, h, http.MethodPost, "/v1/aimodels", `{"name":"a-long-enough-name","path":"/x"}`); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("too large status=%d", w.Code)
	}
}

func TestListJobsFilter(t *testing.T) {
	svc := newMockService()
	h := NewMux(svc, mockSupervisor{}, nil)
	if w := do(t, h, http.MethodGet, "/v1/jobs?generator_id=4&status=waiting", ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.jobFilter.GeneratorID != 4 || svc.jobFilter.Status != types.JobWaiting {
		t.Fatalf("filter %+v", svc.jobFilter)
	}
	if w := do(t, h, http.MethodGet, "/v1/jobs?status=done", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status accepted: %d", w.Code)
	}
}

func TestImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := newMockService()
	svc.jobs[1] = types.Job{ID: 1}
	svc.images[1] = types.Image{ID: 1, JobID: 1, FileType: types.FilePNG, FilePath: path, Ready: true}
	svc.images[2] = types.Image{ID: 2, JobID: 1, FileType: types.FilePNG, FilePath: path}
	h := NewMux(svc, mockSupervisor{}, nil)

	w := do(t, h, http.MethodGet, "/v1/images/1/file", "")
	if w.Code != http.StatusOK || w.Body.String() != "png-bytes" || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d ct=%q body=%q", w.Code, w.Header().Get("Content-Type"), w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/v1/images/2/file", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unready image status=%d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/v1/jobs/1/images", "")
	var imgs []types.Image
	if err := json.Unmarshal(w.Body.Bytes(), &imgs); err != nil || len(imgs) != 2 {
		t.Fatalf("images %s: %v", w.Body.String(), err)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)

	h := NewMux(newMockService(), mockSupervisor{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/aimodels", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set")
	}
}

func TestSetCORSOptionsDefaults(t *testing.T) {
	SetCORSOptions(true, nil, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	if len(corsAllowedOrigins) != 1 || corsAllowedOrigins[0] != "*" {
		t.Fatalf("origins=%v", corsAllowedOrigins)
	}
	if len(corsAllowedMethods) == 0 || len(corsAllowedHeaders) == 0 {
		t.Fatalf("methods=%v headers=%v", corsAllowedMethods, corsAllowedHeaders)
	}
}

func TestSetMaxBodyBytes(t *testing.T) {
	SetMaxBodyBytes(2048)
	if maxBodyBytes != 2048 {
		t.Fatalf("maxBodyBytes=%d", maxBodyBytes)
	}
	SetMaxBodyBytes(-1)
	if maxBodyBytes != defaultMaxBodyBytes {
		t.Fatalf("expected default, got %d", maxBodyBytes)
	}
}
