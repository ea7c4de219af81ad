package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imaged/internal/manager"
	"imaged/internal/store"
	"imaged/pkg/types"
)

// Service defines the facade methods required by the HTTP API layer.
type Service interface {
	Info(ctx context.Context) types.InfoResponse
	ListGPUs(ctx context.Context) ([]types.GPU, error)

	ListAIModels(ctx context.Context) ([]types.AIModel, error)
	GetAIModel(ctx context.Context, id int64) (types.AIModel, error)
	CreateAIModel(ctx context.Context, in types.AIModelInput) (types.AIModel, error)
	DeleteAIModel(ctx context.Context, id int64) error

	ListEngines(ctx context.Context) ([]types.Engine, error)
	GetEngine(ctx context.Context, id int64) (types.Engine, error)
	CreateEngine(ctx context.Context, in types.EngineInput) (types.Engine, error)
	DeleteEngine(ctx context.Context, id int64) error

	ListGenerators(ctx context.Context) ([]types.Generator, error)
	GetGenerator(ctx context.Context, id int64) (types.Generator, error)
	CreateGenerator(ctx context.Context, in types.GeneratorInput) (types.Generator, error)
	StartGenerator(ctx context.Context, id int64) (types.Generator, error)
	StopGenerator(ctx context.Context, id int64) (types.Generator, error)
	DeleteGenerator(ctx context.Context, id int64) error

	ListJobs(ctx context.Context, f store.JobFilter) ([]types.Job, error)
	GetJob(ctx context.Context, id int64) (types.Job, error)
	CreateJob(ctx context.Context, in types.JobInput) (types.Job, error)
	DeleteJob(ctx context.Context, id int64) error

	ListImages(ctx context.Context, jobID int64) ([]types.Image, error)
	GetImage(ctx context.Context, id int64) (types.Image, error)
}

// Supervisor reports worker state for /status and /readyz.
type Supervisor interface {
	Status() types.StatusResponse
	Ready() bool
}

// EventSource streams supervisor events to /v1/events.
type EventSource interface {
	Subscribe() (<-chan manager.Event, func())
}

type server struct {
	svc    Service
	sup    Supervisor
	events EventSource
}

// NewMux builds the router. events may be nil, in which case /v1/events
// answers 503.
func NewMux(svc Service, sup Supervisor, events EventSource) http.Handler {
	s := &server{svc: svc, sup: sup, events: events}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if sup.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sup.Status())
	})
	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", s.info)
		r.Get("/gpus", s.listGPUs)
		r.Get("/events", s.streamEvents)

		r.Route("/aimodels", func(r chi.Router) {
			r.Get("/", s.listAIModels)
			r.Post("/", s.createAIModel)
			r.Get("/{id}", withID(s.getAIModel))
			r.Delete("/{id}", withID(s.deleteAIModel))
		})
		r.Route("/engines", func(r chi.Router) {
			r.Get("/", s.listEngines)
			r.Post("/", s.createEngine)
			r.Get("/{id}", withID(s.getEngine))
			r.Delete("/{id}", withID(s.deleteEngine))
		})
		r.Route("/generators", func(r chi.Router) {
			r.Get("/", s.listGenerators)
			r.Post("/", s.createGenerator)
			r.Get("/{id}", withID(s.getGenerator))
			r.Delete("/{id}", withID(s.deleteGenerator))
			r.Patch("/{id}/start", withID(s.startGenerator))
			r.Patch("/{id}/close", withID(s.stopGenerator))
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/", s.createJob)
			r.Get("/{id}", withID(s.getJob))
			r.Delete("/{id}", withID(s.deleteJob))
			r.Get("/{id}/images", withID(s.listImages))
		})
		r.Get("/images/{id}", withID(s.getImage))
		r.Get("/images/{id}/file", withID(s.getImageFile))
	})

	MountSwagger(r)
	return r
}
