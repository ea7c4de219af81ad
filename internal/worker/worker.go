// Package worker implements the generator process: it loads one pipeline,
// then executes job commands read from its command stream and reports
// progress on its event stream until told to close.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"imaged/internal/protocol"
	"imaged/pkg/types"
)

// ErrNoInit is returned when the first command is not an init command.
var ErrNoInit = errors.New("first command must be init")

// Worker executes commands for one generator.
type Worker struct {
	renderer Renderer
	log      zerolog.Logger

	origin protocol.Origin
	engine types.Engine
	gpuID  int
	out    io.Writer
}

func New(r Renderer, log zerolog.Logger) *Worker {
	return &Worker{renderer: r, log: log}
}

// jobState is carried across the images of one job.
type jobState struct {
	// first image rendered in this job; fixed as the ip-adapter reference
	// for every later image once set
	reference string
	rendered  int
}

// Run reads commands from in and writes events to out until a close command
// (returns nil), the end of in (returns nil, no events) or a render failure
// (returns the error after reporting it as an error event).
func (w *Worker) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w.out = out
	var first protocol.Command
	if err := protocol.ReadFrame(in, &first); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read init: %w", err)
	}
	if first.Kind != protocol.CmdInit || first.Init == nil {
		return ErrNoInit
	}
	w.origin = protocol.Origin{GeneratorID: first.Init.GeneratorID, GeneratorName: first.Init.GeneratorName}
	w.engine = first.Init.Engine
	w.gpuID = first.Init.GPUID
	w.log = w.log.With().Int64("generator_id", w.origin.GeneratorID).Str("generator", w.origin.GeneratorName).Logger()

	if err := w.renderer.Load(ctx, w.engine, w.gpuID); err != nil {
		_ = w.emit(protocol.Error(w.origin, 0, "load pipeline: "+err.Error()))
		return fmt.Errorf("load pipeline: %w", err)
	}
	defer w.renderer.Close()
	if err := w.emit(protocol.Ready(w.origin)); err != nil {
		return err
	}
	w.log.Info().Str("engine", w.engine.Name).Int("gpu_id", w.gpuID).Msg("worker ready")

	for {
		var cmd protocol.Command
		err := protocol.ReadFrame(in, &cmd)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrDecode):
			w.log.Warn().Err(err).Msg("malformed command")
			if err := w.emit(protocol.Error(w.origin, 0, err.Error())); err != nil {
				return err
			}
			continue
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			w.log.Info().Msg("command stream closed")
			return nil
		default:
			return fmt.Errorf("read command: %w", err)
		}

		switch cmd.Kind {
		case protocol.CmdJob:
			if cmd.Job == nil {
				w.log.Warn().Msg("job command without payload")
				if err := w.emit(protocol.Error(w.origin, 0, "job command carried no job")); err != nil {
					return err
				}
				continue
			}
			if err := w.runJob(ctx, *cmd.Job); err != nil {
				w.log.Error().Err(err).Int64("job_id", cmd.Job.ID).Msg("job failed")
				_ = w.emit(protocol.Error(w.origin, cmd.Job.ID, err.Error()))
				return err
			}
		case protocol.CmdClose:
			w.log.Info().Msg("closing")
			return w.emit(protocol.Closed(w.origin))
		default:
			w.log.Warn().Str("kind", string(cmd.Kind)).Msg("unexpected command")
			if err := w.emit(protocol.Error(w.origin, 0, fmt.Sprintf("unexpected command %q", cmd.Kind))); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job types.Job) error {
	if err := w.emit(protocol.JobStarting(w.origin, job.ID)); err != nil {
		return err
	}
	var st jobState
	for _, img := range job.Images {
		req := Request{
			GPUID:         w.gpuID,
			Engine:        w.engine,
			JobID:         job.ID,
			ImageID:       img.ID,
			Params:        Resolve(w.engine, img),
			ControlImages: img.ControlImages,
		}
		if job.IPAdapterConfig != nil && st.reference != "" {
			req.IPAdapterImage = st.reference
			req.IPAdapterConfig = job.IPAdapterConfig
		}
		if err := w.renderer.Render(ctx, req); err != nil {
			return fmt.Errorf("render image %d: %w", img.ID, err)
		}
		if st.reference == "" && job.IPAdapterConfig != nil {
			st.reference = req.Params.FilePath
			w.log.Debug().Int64("job_id", job.ID).Str("reference", st.reference).Msg("ip adapter reference set")
		}
		st.rendered++
		if err := w.emit(protocol.ImageFinished(w.origin, job.ID, img.ID)); err != nil {
			return err
		}
	}
	w.log.Info().Int64("job_id", job.ID).Int("images", st.rendered).Msg("job finished")
	return w.emit(protocol.JobFinished(w.origin, job.ID))
}

func (w *Worker) emit(ev protocol.Event) error {
	if err := protocol.WriteFrame(w.out, ev); err != nil {
		return fmt.Errorf("emit %s: %w", ev.Kind, err)
	}
	return nil
}
