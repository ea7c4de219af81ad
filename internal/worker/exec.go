package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"imaged/internal/common/fsutil"
	"imaged/pkg/types"
)

// ExecRenderer runs an external program once per image. The program reads
// the JSON encoded Request on stdin and must write params.file_path.
type ExecRenderer struct {
	command string
	args    []string
	log     zerolog.Logger
	gpuID   int
}

func NewExecRenderer(command string, args []string, log zerolog.Logger) *ExecRenderer {
	return &ExecRenderer{command: command, args: append([]string(nil), args...), log: log}
}

func (r *ExecRenderer) Load(_ context.Context, engine types.Engine, gpuID int) error {
	path, err := exec.LookPath(r.command)
	if err != nil {
		return fmt.Errorf("render command %q: %w", r.command, err)
	}
	r.command = path
	r.gpuID = gpuID
	r.log.Info().Str("engine", engine.Name).Int("gpu_id", gpuID).Str("command", path).Msg("exec renderer ready")
	return nil
}

func (r *ExecRenderer) Render(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = append(os.Environ(), "CUDA_VISIBLE_DEVICES="+strconv.Itoa(r.gpuID))
	// stdout of the worker is the event stream; never let the child write to it
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return fmt.Errorf("render command failed: %v; output tail: %s", err, tail)
	}
	if !fsutil.PathExists(req.Params.FilePath) {
		return fmt.Errorf("render command did not produce %s", req.Params.FilePath)
	}
	return nil
}

func (r *ExecRenderer) Close() error { return nil }
