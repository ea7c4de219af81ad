package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"imaged/internal/store"
	"imaged/pkg/types"
)

// errInvalidID is returned for path ids that are not positive integers.
var errInvalidID = errors.New("invalid id")

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// withID parses the {id} path parameter before calling h.
func withID(h func(w http.ResponseWriter, r *http.Request, id int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h(w, r, id)
	}
}

// decodeJSON enforces the content type and body limit and decodes into v.
// It writes the error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// respond writes v, or the mapped error when err is set.
func respond[T any](w http.ResponseWriter, r *http.Request, status int, v T, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

// info godoc
// @Summary  Storage locations
// @Tags     info
// @Produce  json
// @Success  200  {object}  types.InfoResponse
// @Router   /v1/info [get]
func (s *server) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Info(r.Context()))
}

func (s *server) listGPUs(w http.ResponseWriter, r *http.Request) {
	gpus, err := s.svc.ListGPUs(r.Context())
	respond(w, r, http.StatusOK, gpus, err)
}

func (s *server) listAIModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.svc.ListAIModels(r.Context())
	respond(w, r, http.StatusOK, models, err)
}

func (s *server) getAIModel(w http.ResponseWriter, r *http.Request, id int64) {
	m, err := s.svc.GetAIModel(r.Context(), id)
	respond(w, r, http.StatusOK, m, err)
}

func (s *server) createAIModel(w http.ResponseWriter, r *http.Request) {
	var in types.AIModelInput
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := s.svc.CreateAIModel(r.Context(), in)
	respond(w, r, http.StatusCreated, m, err)
}

func (s *server) deleteAIModel(w http.ResponseWriter, r *http.Request, id int64) {
	writeDeleted(w, r, s.svc.DeleteAIModel(r.Context(), id))
}

func (s *server) listEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := s.svc.ListEngines(r.Context())
	respond(w, r, http.StatusOK, engines, err)
}

func (s *server) getEngine(w http.ResponseWriter, r *http.Request, id int64) {
	e, err := s.svc.GetEngine(r.Context(), id)
	respond(w, r, http.StatusOK, e, err)
}

func (s *server) createEngine(w http.ResponseWriter, r *http.Request) {
	var in types.EngineInput
	if !decodeJSON(w, r, &in) {
		return
	}
	e, err := s.svc.CreateEngine(r.Context(), in)
	respond(w, r, http.StatusCreated, e, err)
}

func (s *server) deleteEngine(w http.ResponseWriter, r *http.Request, id int64) {
	writeDeleted(w, r, s.svc.DeleteEngine(r.Context(), id))
}

func (s *server) listGenerators(w http.ResponseWriter, r *http.Request) {
	gens, err := s.svc.ListGenerators(r.Context())
	respond(w, r, http.StatusOK, gens, err)
}

func (s *server) getGenerator(w http.ResponseWriter, r *http.Request, id int64) {
	g, err := s.svc.GetGenerator(r.Context(), id)
	respond(w, r, http.StatusOK, g, err)
}

// createGenerator godoc
// @Summary  Create a generator
// @Tags     generators
// @Accept   json
// @Produce  json
// @Param    body  body      types.GeneratorInput  true  "generator"
// @Success  201   {object}  types.Generator
// @Failure  400   {object}  types.ErrorResponse
// @Router   /v1/generators [post]
func (s *server) createGenerator(w http.ResponseWriter, r *http.Request) {
	var in types.GeneratorInput
	if !decodeJSON(w, r, &in) {
		return
	}
	g, err := s.svc.CreateGenerator(r.Context(), in)
	respond(w, r, http.StatusCreated, g, err)
}

// startGenerator answers 202: the worker reports ready asynchronously.
//
// @Summary  Start a generator's worker process
// @Tags     generators
// @Produce  json
// @Param    id   path      int  true  "generator id"
// @Success  202  {object}  types.Generator
// @Failure  404  {object}  types.ErrorResponse
// @Failure  503  {object}  types.ErrorResponse
// @Router   /v1/generators/{id}/start [patch]
func (s *server) startGenerator(w http.ResponseWriter, r *http.Request, id int64) {
	g, err := s.svc.StartGenerator(r.Context(), id)
	respond(w, r, http.StatusAccepted, g, err)
}

// stopGenerator godoc
// @Summary  Ask a generator's worker to close
// @Tags     generators
// @Produce  json
// @Param    id   path      int  true  "generator id"
// @Success  202  {object}  types.Generator
// @Failure  404  {object}  types.ErrorResponse
// @Router   /v1/generators/{id}/close [patch]
func (s *server) stopGenerator(w http.ResponseWriter, r *http.Request, id int64) {
	g, err := s.svc.StopGenerator(r.Context(), id)
	respond(w, r, http.StatusAccepted, g, err)
}

func (s *server) deleteGenerator(w http.ResponseWriter, r *http.Request, id int64) {
	writeDeleted(w, r, s.svc.DeleteGenerator(r.Context(), id))
}

// listJobs godoc
// @Summary  List jobs
// @Tags     jobs
// @Produce  json
// @Param    generator_id  query     int     false  "only jobs of this generator"
// @Param    status        query     string  false  "waiting, processing, done or failed"
// @Success  200           {array}   types.Job
// @Failure  400           {object}  types.ErrorResponse
// @Router   /v1/jobs [get]
func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	var f store.JobFilter
	if v := r.URL.Query().Get("generator_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid generator_id")
			return
		}
		f.GeneratorID = id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		switch st := types.JobStatus(v); st {
		case types.JobWaiting, types.JobProcessing, types.JobFinished, types.JobFailed:
			f.Status = st
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	jobs, err := s.svc.ListJobs(r.Context(), f)
	respond(w, r, http.StatusOK, jobs, err)
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request, id int64) {
	j, err := s.svc.GetJob(r.Context(), id)
	respond(w, r, http.StatusOK, j, err)
}

// createJob godoc
// @Summary  Submit a job to a generator
// @Tags     jobs
// @Accept   json
// @Produce  json
// @Param    body  body      types.JobInput  true  "job"
// @Success  201   {object}  types.Job
// @Failure  400   {object}  types.ErrorResponse
// @Failure  413   {object}  types.ErrorResponse
// @Router   /v1/jobs [post]
func (s *server) createJob(w http.ResponseWriter, r *http.Request) {
	var in types.JobInput
	if !decodeJSON(w, r, &in) {
		return
	}
	j, err := s.svc.CreateJob(r.Context(), in)
	respond(w, r, http.StatusCreated, j, err)
}

func (s *server) deleteJob(w http.ResponseWriter, r *http.Request, id int64) {
	writeDeleted(w, r, s.svc.DeleteJob(r.Context(), id))
}

func (s *server) listImages(w http.ResponseWriter, r *http.Request, id int64) {
	imgs, err := s.svc.ListImages(r.Context(), id)
	respond(w, r, http.StatusOK, imgs, err)
}

func (s *server) getImage(w http.ResponseWriter, r *http.Request, id int64) {
	img, err := s.svc.GetImage(r.Context(), id)
	respond(w, r, http.StatusOK, img, err)
}

// getImageFile serves the rendered file once the worker reported it.
//
// @Summary  Download a rendered image
// @Tags     images
// @Produce  png,jpeg,webp
// @Param    id   path  int  true  "image id"
// @Success  200  {file}    binary
// @Failure  404  {object}  types.ErrorResponse
// @Router   /v1/images/{id}/file [get]
func (s *server) getImageFile(w http.ResponseWriter, r *http.Request, id int64) {
	img, err := s.svc.GetImage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !img.Ready {
		writeJSONError(w, http.StatusNotFound, "image is not ready")
		return
	}
	w.Header().Set("Content-Type", contentType(img.FileType))
	http.ServeFile(w, r, img.FilePath)
}

func contentType(ft types.FileImageType) string {
	switch ft {
	case types.FileJPG:
		return "image/jpeg"
	case types.FileWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

func writeDeleted(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
