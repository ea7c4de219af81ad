package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"imaged/internal/protocol"
	"imaged/internal/queue"
	"imaged/pkg/types"
)

// envelope is an event tagged with the worker incarnation that produced it,
// so events from a previous process of the same generator are ignored.
type envelope struct {
	ev         protocol.Event
	instanceID string
	at         time.Time
}

// Manager is the supervisor: it owns the process registry, starts and stops
// worker processes and applies worker events to the registry and the store.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger
	reg *Registry

	events  *queue.Unbounded[envelope]
	signals *queue.Unbounded[int64]

	// spawning guards against concurrent spawns for the same generator while
	// the (slow) spawn runs outside the registry lock.
	spawnMu  sync.Mutex
	spawning map[int64]struct{}

	// statusMu orders generator status writes made by StopGenerator and
	// Shutdown against the event loop.
	statusMu sync.Mutex

	running   atomic.Bool
	wg        sync.WaitGroup
	readers   sync.WaitGroup
	startTime time.Time

	eventsTotal     atomic.Uint64
	dispatchedTotal atomic.Uint64
	droppedTotal    atomic.Uint64
}

// New constructs a Manager. Call Start before use.
func New(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "supervisor").Logger(),
		reg:       NewRegistry(),
		events:    queue.New[envelope](),
		signals:   queue.New[int64](),
		spawning:  make(map[int64]struct{}),
		startTime: time.Now(),
	}
}

// Registry exposes the process registry (read-only use).
func (m *Manager) Registry() *Registry { return m.reg }

// Ready reports whether the listeners are running.
func (m *Manager) Ready() bool { return m.running.Load() }

// Start reconciles persisted state with the empty registry and launches the
// event and signal listeners. The listeners stop when ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}
	if err := m.reconcile(ctx); err != nil {
		m.running.Store(false)
		return err
	}
	m.wg.Add(2)
	go m.eventLoop(ctx)
	go m.signalLoop(ctx)
	m.log.Info().Msg("supervisor started")
	return nil
}

// Wait blocks until both listeners have returned.
func (m *Manager) Wait() { m.wg.Wait() }

// StartGenerator spawns a worker for gen unless one is registered already.
// The spawn runs on its own goroutine; its error is returned to the caller.
func (m *Manager) StartGenerator(ctx context.Context, gen types.Generator) error {
	if !m.running.Load() {
		return ErrNotRunning
	}
	if m.reg.Has(gen.ID) {
		m.log.Debug().Int64("generator_id", gen.ID).Msg("start ignored, worker already registered")
		return nil
	}
	m.spawnMu.Lock()
	if _, busy := m.spawning[gen.ID]; busy {
		m.spawnMu.Unlock()
		return nil
	}
	m.spawning[gen.ID] = struct{}{}
	m.spawnMu.Unlock()
	defer func() {
		m.spawnMu.Lock()
		delete(m.spawning, gen.ID)
		m.spawnMu.Unlock()
	}()
	// registered while we waited for the spawn lock
	if m.reg.Has(gen.ID) {
		return nil
	}

	type result struct {
		proc Process
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		p, err := m.cfg.Spawner.Spawn(ctx, gen)
		resCh <- result{p, err}
	}()
	var res result
	select {
	case res = <-resCh:
	case <-ctx.Done():
		go func() {
			if r := <-resCh; r.err == nil {
				_ = r.proc.Kill()
				_ = r.proc.Wait()
			}
		}()
		return ctx.Err()
	}
	if res.err != nil {
		metricSpawnFailures.Inc()
		m.log.Error().Err(res.err).Int64("generator_id", gen.ID).Msg("spawn failed")
		m.publish("spawn_failed", gen.ID, map[string]any{"error": res.err.Error()})
		if IsDependencyUnavailable(res.err) {
			return res.err
		}
		return &spawnError{generatorID: gen.ID, err: res.err}
	}

	w := &workerEntry{
		generatorID:   gen.ID,
		generatorName: gen.Name,
		gpuID:         gen.GPUID,
		instanceID:    ulid.Make().String(),
		proc:          res.proc,
		cmds:          queue.New[protocol.Command](),
		startedAt:     time.Now(),
		state:         types.GeneratorStarting,
	}
	if !m.reg.register(w) {
		_ = res.proc.Kill()
		go func() { _ = res.proc.Wait() }()
		return nil
	}
	m.log.Info().Int64("generator_id", gen.ID).Str("generator", gen.Name).Int("pid", res.proc.PID()).
		Str("instance", w.instanceID).Msg("worker spawned")
	m.publish("spawned", gen.ID, map[string]any{"pid": res.proc.PID(), "instance": w.instanceID})

	// persisted before init is sent so a fast ready event cannot be overwritten
	perr := m.cfg.Generators.UpdateStatus(ctx, gen.ID, types.GeneratorStarting)
	w.cmds.Push(protocol.InitCommand(protocol.InitPayload{
		GeneratorID:   gen.ID,
		GeneratorName: gen.Name,
		GPUID:         gen.GPUID,
		Engine:        gen.Engine,
	}))
	m.readers.Add(2)
	go m.writeCommands(w)
	go m.readEvents(w)
	if perr != nil {
		return fmt.Errorf("persist starting status: %w", perr)
	}
	return nil
}

// StopGenerator asks the generator's worker to close. It does not wait.
func (m *Manager) StopGenerator(ctx context.Context, id int64) error {
	v, ok := m.reg.get(id)
	if !ok {
		return nil
	}
	if changed, _ := m.reg.updateState(id, v.InstanceID, types.GeneratorClosing, types.GeneratorClosing); !changed {
		return nil
	}
	m.persistClosing(ctx, id, v.InstanceID)
	v.Cmds.Push(protocol.CloseCommand())
	m.log.Info().Int64("generator_id", id).Msg("close requested")
	m.publish("close_requested", id, nil)
	return nil
}

// persistClosing writes closing unless the worker instance has already been
// removed by its closed or exited event, whose status must stand.
func (m *Manager) persistClosing(ctx context.Context, id int64, instanceID string) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if v, ok := m.reg.get(id); !ok || v.InstanceID != instanceID || v.State != types.GeneratorClosing {
		return
	}
	m.persistGenerator(ctx, id, types.GeneratorClosing)
}

// SendNewJobSignal queues a job for delivery by the signal listener.
func (m *Manager) SendNewJobSignal(jobID int64) {
	m.signals.Push(jobID)
}

// IsAlive reports whether the generator has a registered worker.
func (m *Manager) IsAlive(id int64) bool { return m.reg.Has(id) }

// IsJobClaimed reports whether the job was sent to a worker that is still on it.
func (m *Manager) IsJobClaimed(jobID int64) bool { return m.reg.hasJob(jobID) }

// writeCommands drains a worker's command queue into its command stream.
func (m *Manager) writeCommands(w *workerEntry) {
	defer m.readers.Done()
	defer w.proc.Commands().Close()
	for {
		cmd, err := w.cmds.Pop(context.Background())
		if err != nil {
			return
		}
		if err := protocol.WriteFrame(w.proc.Commands(), cmd); err != nil {
			m.log.Warn().Err(err).Int64("generator_id", w.generatorID).Str("command", string(cmd.Kind)).Msg("command write failed")
			return
		}
		if cmd.Kind == protocol.CmdClose {
			return
		}
	}
}

// readEvents forwards a worker's events to the global event queue. When the
// stream ends without a closed event it reaps the process and synthesizes an
// exited event.
func (m *Manager) readEvents(w *workerEntry) {
	defer m.readers.Done()
	origin := protocol.Origin{GeneratorID: w.generatorID, GeneratorName: w.generatorName}
	sawClosed := false
	var readErr error
	for {
		var ev protocol.Event
		if err := protocol.ReadFrame(w.proc.Events(), &ev); err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				m.log.Warn().Err(err).Int64("generator_id", w.generatorID).Msg("malformed event")
				continue
			}
			readErr = err
			break
		}
		// the supervisor knows which process it reads from
		ev.GeneratorID, ev.GeneratorName = origin.GeneratorID, origin.GeneratorName
		if ev.Kind == protocol.EvExited {
			continue
		}
		if ev.Kind == protocol.EvClosed {
			sawClosed = true
		}
		m.events.Push(envelope{ev: ev, instanceID: w.instanceID, at: time.Now()})
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		// nobody drains the stream any more
		_ = w.proc.Kill()
	}
	waitErr := w.proc.Wait()
	w.cmds.Close()
	if sawClosed {
		return
	}
	msg := "worker exited without closing"
	switch {
	case waitErr != nil:
		msg = fmt.Sprintf("worker exited: %v", waitErr)
	case readErr != nil && !errors.Is(readErr, io.EOF):
		msg = fmt.Sprintf("worker event stream failed: %v", readErr)
	}
	m.events.Push(envelope{ev: protocol.Exited(origin, msg), instanceID: w.instanceID, at: time.Now()})
}

func (m *Manager) publish(name string, generatorID int64, fields map[string]any) {
	m.cfg.Publisher.Publish(Event{Name: name, GeneratorID: generatorID, Fields: fields, Time: time.Now()})
}
