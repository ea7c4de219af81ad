package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"imaged/internal/common/fsutil"
	"imaged/internal/worker"
	"imaged/pkg/types"
)

// Process is a running worker. Commands is its command stream, Events its
// event stream. Wait must only be called after Events has been drained.
type Process interface {
	PID() int
	Commands() io.WriteCloser
	Events() io.Reader
	Wait() error
	Terminate() error
	Kill() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, gen types.Generator) (Process, error)
}

// stderrTailBytes bounds the stderr kept for exit diagnostics.
const stderrTailBytes = 4096

// ExecSpawner re-executes a binary (by default the running one) with the
// "worker" subcommand. The worker's stderr is forwarded to Stderr and its
// tail is attached to the exit error.
type ExecSpawner struct {
	Bin    string
	Args   []string
	Env    []string
	Stderr io.Writer
}

func (s *ExecSpawner) Spawn(_ context.Context, gen types.Generator) (Process, error) {
	bin := s.Bin
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, ErrDependencyUnavailable("resolve worker binary: " + err.Error())
		}
		bin = self
	}
	if !fsutil.PathExists(bin) {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, ErrDependencyUnavailable(fmt.Sprintf("worker binary %q not found", bin))
		}
	}
	args := append([]string{"worker"}, s.Args...)
	// not CommandContext: the worker outlives the request that started it
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	fwd := s.Stderr
	if fwd == nil {
		fwd = os.Stderr
	}
	tail := &tailWriter{max: stderrTailBytes, next: fwd}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: tail}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailWriter
}

func (p *execProcess) PID() int                 { return p.cmd.Process.Pid }
func (p *execProcess) Commands() io.WriteCloser { return p.stdin }
func (p *execProcess) Events() io.Reader        { return p.stdout }

func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		if tail := p.stderr.String(); tail != "" {
			return fmt.Errorf("%w; stderr tail: %s", err, tail)
		}
		return err
	}
	return nil
}

func (p *execProcess) Terminate() error { return p.cmd.Process.Signal(syscall.SIGTERM) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

// tailWriter forwards writes and keeps the last max bytes.
type tailWriter struct {
	mu   sync.Mutex
	max  int
	buf  []byte
	next io.Writer
}

func (t *tailWriter) Write(b []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, b...)
	if len(t.buf) > t.max {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.max:]...)
	}
	t.mu.Unlock()
	if t.next != nil {
		_, _ = t.next.Write(b)
	}
	return len(b), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// PipeSpawner runs the worker loop on goroutines connected through pipes.
// It shares the supervisor's address space and is meant for development
// and tests only.
type PipeSpawner struct {
	NewRenderer func() worker.Renderer
	Logger      zerolog.Logger
}

var errKilled = errors.New("worker killed")

func (s *PipeSpawner) Spawn(_ context.Context, gen types.Generator) (Process, error) {
	if s.NewRenderer == nil {
		return nil, ErrDependencyUnavailable("pipe spawner has no renderer")
	}
	cmdR, cmdW := io.Pipe()
	evR, evW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeProcess{cmdW: cmdW, evR: evR, cancel: cancel, done: make(chan struct{})}
	w := worker.New(s.NewRenderer(), s.Logger.With().Str("worker", gen.Name).Logger())
	go func() {
		defer close(p.done)
		p.err = w.Run(ctx, cmdR, evW)
		_ = evW.Close()
		_ = cmdR.Close()
	}()
	return p, nil
}

type pipeProcess struct {
	cmdW   *io.PipeWriter
	evR    *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *pipeProcess) PID() int                 { return 0 }
func (p *pipeProcess) Commands() io.WriteCloser { return p.cmdW }
func (p *pipeProcess) Events() io.Reader        { return p.evR }

func (p *pipeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *pipeProcess) Terminate() error {
	return p.cmdW.Close()
}

func (p *pipeProcess) Kill() error {
	p.cancel()
	_ = p.cmdW.CloseWithError(errKilled)
	_ = p.evR.CloseWithError(errKilled)
	return nil
}
