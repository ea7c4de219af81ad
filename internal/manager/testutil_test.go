package manager

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"imaged/internal/protocol"
	"imaged/internal/store"
	"imaged/pkg/types"
)

// fakeProc is a scripted worker: the test reads the commands the supervisor
// sends and writes the events it wants the supervisor to see.
type fakeProc struct {
	gen  types.Generator
	cmdR *io.PipeReader
	cmdW *io.PipeWriter
	evR  *io.PipeReader
	evW  *io.PipeWriter
	cmds chan protocol.Command

	once sync.Once
	done chan struct{}
	err  error
}

func newFakeProc(gen types.Generator) *fakeProc {
	cmdR, cmdW := io.Pipe()
	evR, evW := io.Pipe()
	p := &fakeProc{
		gen: gen, cmdR: cmdR, cmdW: cmdW, evR: evR, evW: evW,
		cmds: make(chan protocol.Command, 32),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.cmds)
		for {
			var c protocol.Command
			if err := protocol.ReadFrame(p.cmdR, &c); err != nil {
				return
			}
			p.cmds <- c
		}
	}()
	return p
}

func (p *fakeProc) PID() int                 { return 4242 }
func (p *fakeProc) Commands() io.WriteCloser { return p.cmdW }
func (p *fakeProc) Events() io.Reader        { return p.evR }

func (p *fakeProc) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProc) Terminate() error {
	p.exit(errors.New("signal: terminated"))
	return nil
}

func (p *fakeProc) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

// exit ends the event stream and makes Wait return err.
func (p *fakeProc) exit(err error) {
	p.once.Do(func() {
		p.err = err
		_ = p.evW.Close()
		_ = p.cmdR.Close()
		close(p.done)
	})
}

func (p *fakeProc) origin() protocol.Origin {
	return protocol.Origin{GeneratorID: p.gen.ID, GeneratorName: p.gen.Name}
}

func (p *fakeProc) emit(t *testing.T, ev protocol.Event) {
	t.Helper()
	if err := protocol.WriteFrame(p.evW, ev); err != nil {
		t.Fatalf("emit %s: %v", ev.Kind, err)
	}
}

// next returns the next command the supervisor sent.
func (p *fakeProc) next(t *testing.T) protocol.Command {
	t.Helper()
	select {
	case c, ok := <-p.cmds:
		if !ok {
			t.Fatalf("command stream closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for command")
	}
	return protocol.Command{}
}

// expectNoCommand fails if a command arrives within a short window.
func (p *fakeProc) expectNoCommand(t *testing.T) {
	t.Helper()
	select {
	case c, ok := <-p.cmds:
		if ok {
			t.Fatalf("unexpected command %s", c.Kind)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

type fakeSpawner struct {
	mu     sync.Mutex
	err    error
	spawns int
	procs  map[int64]*fakeProc
}

func newFakeSpawner() *fakeSpawner { return &fakeSpawner{procs: make(map[int64]*fakeProc)} }

func (s *fakeSpawner) Spawn(_ context.Context, gen types.Generator) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawns++
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProc(gen)
	s.procs[gen.ID] = p
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

func (s *fakeSpawner) proc(t *testing.T, id int64) *fakeProc {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		t.Fatalf("no process spawned for generator %d", id)
	}
	return p
}

type harness struct {
	st  *store.Store
	sp  *fakeSpawner
	pub *MemoryPublisher
	m   *Manager
	ctx context.Context
}

func newHarness(t *testing.T, opts ...func(*ManagerConfig)) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "imaged.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	h := &harness{st: st, sp: newFakeSpawner(), pub: NewMemoryPublisher()}
	cfg := ManagerConfig{
		Generators:      st.Generators,
		Jobs:            st.Jobs,
		Images:          st.Images,
		Spawner:         h.sp,
		Publisher:       h.pub,
		StoreTimeout:    2 * time.Second,
		ShutdownTimeout: 200 * time.Millisecond,
		KillGrace:       100 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	h.m = New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	t.Cleanup(func() {
		if h.m.Ready() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = h.m.Shutdown(sctx)
			scancel()
		}
		cancel()
		h.m.Wait()
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.m.Start(h.ctx); err != nil {
		t.Fatalf("start supervisor: %v", err)
	}
}

// seedGenerator creates a checkpoint model, an engine and a closed generator.
func (h *harness) seedGenerator(t *testing.T, name string) types.Generator {
	t.Helper()
	ctx := context.Background()
	ckpt := types.AIModel{Name: name + "-ckpt", Path: "/models/checkpoint/" + name + ".safetensors", ModelType: types.AIModelCheckpoint}
	if err := h.st.AIModels.Create(ctx, &ckpt); err != nil {
		t.Fatalf("create model: %v", err)
	}
	e := types.Engine{Name: name + "-engine", CheckpointModel: ckpt, Scheduler: "euler_a", GuidanceScale: 7, Width: 64, Height: 64, Steps: 4}
	if err := h.st.Engines.Create(ctx, &e); err != nil {
		t.Fatalf("create engine: %v", err)
	}
	g := types.Generator{Name: name, GPUID: 0, Engine: e}
	if err := h.st.Generators.Create(ctx, &g); err != nil {
		t.Fatalf("create generator: %v", err)
	}
	return g
}

func (h *harness) createJob(t *testing.T, genID int64, images int) types.Job {
	t.Helper()
	j := types.Job{GeneratorID: genID}
	for i := 0; i < images; i++ {
		j.Images = append(j.Images, types.Image{Prompt: "a lighthouse", FileType: types.FilePNG, FilePath: filepath.Join(t.TempDir(), "out.png")})
	}
	if err := h.st.Jobs.Create(context.Background(), &j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func (h *harness) generatorStatus(t *testing.T, id int64) types.GeneratorStatus {
	t.Helper()
	st, err := h.st.Generators.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("generator status: %v", err)
	}
	return st
}

func (h *harness) jobStatus(t *testing.T, id int64) types.JobStatus {
	t.Helper()
	j, err := h.st.Jobs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j.Status
}

func (h *harness) waitGenerator(t *testing.T, id int64, want types.GeneratorStatus) {
	t.Helper()
	eventually(t, func() bool { return h.generatorStatus(t, id) == want }, "generator %d status %s", id, want)
}

func (h *harness) waitJob(t *testing.T, id int64, want types.JobStatus) {
	t.Helper()
	eventually(t, func() bool { return h.jobStatus(t, id) == want }, "job %d status %s", id, want)
}

// startReady starts gen, consumes its init command and delivers ready.
func (h *harness) startReady(t *testing.T, gen types.Generator) *fakeProc {
	t.Helper()
	before := h.pub.Count(string(protocol.EvReady), gen.ID)
	if err := h.m.StartGenerator(context.Background(), gen); err != nil {
		t.Fatalf("start generator: %v", err)
	}
	p := h.sp.proc(t, gen.ID)
	if c := p.next(t); c.Kind != protocol.CmdInit {
		t.Fatalf("expected init, got %s", c.Kind)
	}
	p.emit(t, protocol.Ready(p.origin()))
	// published after the pending-job lookup, so jobs created later are only
	// delivered through signals
	eventually(t, func() bool { return h.pub.Count(string(protocol.EvReady), gen.ID) > before }, "ready of generator %d", gen.ID)
	h.waitGenerator(t, gen.ID, types.GeneratorReady)
	return p
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for "+format, args...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
