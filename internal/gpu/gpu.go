// Package gpu discovers the GPUs generators can be bound to.
package gpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"imaged/pkg/types"
)

// ErrUnavailable means neither NVML nor nvidia-smi can be used.
var ErrUnavailable = errors.New("gpu discovery unavailable")

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, name)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Lister lists GPUs through NVML and falls back to nvidia-smi when the NVML
// library cannot be loaded.
type Lister struct {
	// NVML queries the driver library directly. Skipped when nil.
	NVML func() ([]types.GPU, error)
	Run  Runner
}

func NewLister() *Lister { return &Lister{NVML: queryNVML, Run: execRunner} }

// List returns the visible GPUs ordered by index.
func (l *Lister) List(ctx context.Context) ([]types.GPU, error) {
	if l.NVML != nil {
		gpus, err := l.NVML()
		if err == nil {
			return gpus, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
	}
	run := l.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, "nvidia-smi", "--query-gpu=index,name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}
	return Parse(out)
}

// Parse reads nvidia-smi csv output (index, name, memory.total in MiB).
func Parse(out []byte) ([]types.GPU, error) {
	var gpus []types.GPU
	for i, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", i+1, len(parts))
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: index: %w", i+1, err)
		}
		// names may contain commas; memory is always last
		name := strings.TrimSpace(strings.Join(parts[1:len(parts)-1], ","))
		mib, err := strconv.ParseFloat(strings.TrimSpace(parts[len(parts)-1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: memory: %w", i+1, err)
		}
		gpus = append(gpus, types.GPU{ID: idx, Name: name, TotalVRAMGB: roundGB(mib / 1024)})
	}
	return gpus, nil
}

func roundGB(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
