package httpapi

import (
	"context"

	"imaged/internal/store"
	"imaged/pkg/types"
)

var errMissing = mockHTTPError{msg: "not found", code: 404}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

// mockService keeps entities in maps; err, when set, is returned by every call.
type mockService struct {
	err        error
	info       types.InfoResponse
	gpus       []types.GPU
	models     map[int64]types.AIModel
	engines    map[int64]types.Engine
	generators map[int64]types.Generator
	jobs       map[int64]types.Job
	images     map[int64]types.Image

	jobFilter store.JobFilter
	jobInput  types.JobInput
	started   []int64
	stopped   []int64
	deleted   []int64
}

func newMockService() *mockService {
	return &mockService{
		models:     map[int64]types.AIModel{},
		engines:    map[int64]types.Engine{},
		generators: map[int64]types.Generator{},
		jobs:       map[int64]types.Job{},
		images:     map[int64]types.Image{},
	}
}

func get[T any](m map[int64]T, id int64) (T, error) {
	v, ok := m[id]
	if !ok {
		var zero T
		return zero, errMissing
	}
	return v, nil
}

func values[T any](m map[int64]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func (m *mockService) Info(context.Context) types.InfoResponse { return m.info }

func (m *mockService) ListGPUs(context.Context) ([]types.GPU, error) { return m.gpus, m.err }

func (m *mockService) ListAIModels(context.Context) ([]types.AIModel, error) {
	return values(m.models), m.err
}

func (m *mockService) GetAIModel(_ context.Context, id int64) (types.AIModel, error) {
	if m.err != nil {
		return types.AIModel{}, m.err
	}
	return get(m.models, id)
}

func (m *mockService) CreateAIModel(_ context.Context, in types.AIModelInput) (types.AIModel, error) {
	if m.err != nil {
		return types.AIModel{}, m.err
	}
	am := types.AIModel{ID: int64(len(m.models) + 1), Name: in.Name, Path: in.Path, ModelType: in.ModelType}
	m.models[am.ID] = am
	return am, nil
}

func (m *mockService) DeleteAIModel(_ context.Context, id int64) error { return m.remove(id) }

func (m *mockService) ListEngines(context.Context) ([]types.Engine, error) {
	return values(m.engines), m.err
}

func (m *mockService) GetEngine(_ context.Context, id int64) (types.Engine, error) {
	if m.err != nil {
		return types.Engine{}, m.err
	}
	return get(m.engines, id)
}

func (m *mockService) CreateEngine(_ context.Context, in types.EngineInput) (types.Engine, error) {
	if m.err != nil {
		return types.Engine{}, m.err
	}
	e := types.Engine{ID: int64(len(m.engines) + 1), Name: in.Name, Width: in.Width, Height: in.Height, Steps: in.Steps}
	m.engines[e.ID] = e
	return e, nil
}

func (m *mockService) DeleteEngine(_ context.Context, id int64) error { return m.remove(id) }

func (m *mockService) ListGenerators(context.Context) ([]types.Generator, error) {
	return values(m.generators), m.err
}

func (m *mockService) GetGenerator(_ context.Context, id int64) (types.Generator, error) {
	if m.err != nil {
		return types.Generator{}, m.err
	}
	return get(m.generators, id)
}

func (m *mockService) CreateGenerator(_ context.Context, in types.GeneratorInput) (types.Generator, error) {
	if m.err != nil {
		return types.Generator{}, m.err
	}
	g := types.Generator{ID: int64(len(m.generators) + 1), Name: in.Name, GPUID: in.GPUID, Status: types.GeneratorClosed}
	m.generators[g.ID] = g
	return g, nil
}

func (m *mockService) StartGenerator(_ context.Context, id int64) (types.Generator, error) {
	if m.err != nil {
		return types.Generator{}, m.err
	}
	g, err := get(m.generators, id)
	if err != nil {
		return g, err
	}
	m.started = append(m.started, id)
	g.Status = types.GeneratorStarting
	m.generators[id] = g
	return g, nil
}

func (m *mockService) StopGenerator(_ context.Context, id int64) (types.Generator, error) {
	if m.err != nil {
		return types.Generator{}, m.err
	}
	g, err := get(m.generators, id)
	if err != nil {
		return g, err
	}
	m.stopped = append(m.stopped, id)
	g.Status = types.GeneratorClosing
	m.generators[id] = g
	return g, nil
}

func (m *mockService) DeleteGenerator(_ context.Context, id int64) error { return m.remove(id) }

func (m *mockService) ListJobs(_ context.Context, f store.JobFilter) ([]types.Job, error) {
	m.jobFilter = f
	return values(m.jobs), m.err
}

func (m *mockService) GetJob(_ context.Context, id int64) (types.Job, error) {
	if m.err != nil {
		return types.Job{}, m.err
	}
	return get(m.jobs, id)
}

func (m *mockService) CreateJob(_ context.Context, in types.JobInput) (types.Job, error) {
	m.jobInput = in
	if m.err != nil {
		return types.Job{}, m.err
	}
	j := types.Job{ID: int64(len(m.jobs) + 1), GeneratorID: in.GeneratorID, Status: types.JobWaiting}
	m.jobs[j.ID] = j
	return j, nil
}

func (m *mockService) DeleteJob(_ context.Context, id int64) error { return m.remove(id) }

func (m *mockService) ListImages(_ context.Context, jobID int64) ([]types.Image, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, err := get(m.jobs, jobID); err != nil {
		return nil, err
	}
	var out []types.Image
	for _, img := range m.images {
		if img.JobID == jobID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (m *mockService) GetImage(_ context.Context, id int64) (types.Image, error) {
	if m.err != nil {
		return types.Image{}, m.err
	}
	return get(m.images, id)
}

func (m *mockService) remove(id int64) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockSupervisor struct {
	ready  bool
	status types.StatusResponse
}

func (m mockSupervisor) Status() types.StatusResponse { return m.status }
func (m mockSupervisor) Ready() bool                  { return m.ready }
