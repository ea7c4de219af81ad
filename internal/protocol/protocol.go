// Package protocol defines the messages exchanged between the supervisor and
// worker processes and the framing used to carry them over pipes.
//
// Commands flow supervisor -> worker on the worker's stdin, events flow
// worker -> supervisor on its stdout. Both are tagged unions discriminated by
// Kind; construct them only through the helpers in this package.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"imaged/pkg/types"
)

// MaxFrameSize is the maximum accepted payload of a single frame (16 MiB).
const MaxFrameSize = 16 << 20

var (
	// ErrFrameTooLarge is returned when a frame header announces more than MaxFrameSize bytes.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrDecode wraps payloads that were read completely but are not valid
	// JSON for the target type. The stream stays aligned after it.
	ErrDecode = errors.New("decode frame")
)

// CommandKind discriminates Command.
type CommandKind string

const (
	CmdInit  CommandKind = "init"
	CmdJob   CommandKind = "job"
	CmdClose CommandKind = "close"
)

// InitPayload is the first command a worker receives. It carries everything
// needed to build the pipeline once.
type InitPayload struct {
	GeneratorID   int64        `json:"generator_id"`
	GeneratorName string       `json:"generator_name"`
	GPUID         int          `json:"gpu_id"`
	Engine        types.Engine `json:"engine"`
}

// Command is a supervisor -> worker message.
type Command struct {
	Kind CommandKind  `json:"kind"`
	Init *InitPayload `json:"init,omitempty"`
	Job  *types.Job   `json:"job,omitempty"`
}

func InitCommand(p InitPayload) Command { return Command{Kind: CmdInit, Init: &p} }

func JobCommand(job types.Job) Command { return Command{Kind: CmdJob, Job: &job} }

func CloseCommand() Command { return Command{Kind: CmdClose} }

// EventKind discriminates Event.
type EventKind string

const (
	EvReady         EventKind = "ready"
	EvJobStarting   EventKind = "job_starting"
	EvImageFinished EventKind = "image_finished"
	EvJobFinished   EventKind = "job_finished"
	EvClosed        EventKind = "closed"
	EvError         EventKind = "error"
	// EvExited never crosses the wire: the supervisor synthesizes it when a
	// worker's event stream ends without a closed event.
	EvExited EventKind = "exited"
)

// Origin identifies the generator a worker serves.
type Origin struct {
	GeneratorID   int64
	GeneratorName string
}

// Event is a worker -> supervisor message.
type Event struct {
	Kind          EventKind `json:"kind"`
	GeneratorID   int64     `json:"generator_id"`
	GeneratorName string    `json:"generator_name"`
	JobID         int64     `json:"job_id,omitempty"`
	ImageID       int64     `json:"image_id,omitempty"`
	Message       string    `json:"message,omitempty"`
}

func newEvent(kind EventKind, o Origin) Event {
	return Event{Kind: kind, GeneratorID: o.GeneratorID, GeneratorName: o.GeneratorName}
}

func Ready(o Origin) Event { return newEvent(EvReady, o) }

func JobStarting(o Origin, jobID int64) Event {
	e := newEvent(EvJobStarting, o)
	e.JobID = jobID
	return e
}

func ImageFinished(o Origin, jobID, imageID int64) Event {
	e := newEvent(EvImageFinished, o)
	e.JobID = jobID
	e.ImageID = imageID
	return e
}

func JobFinished(o Origin, jobID int64) Event {
	e := newEvent(EvJobFinished, o)
	e.JobID = jobID
	return e
}

func Closed(o Origin) Event { return newEvent(EvClosed, o) }

// Error reports a worker-side failure. jobID is zero when the failure is not
// tied to a job (e.g. a malformed command).
func Error(o Origin, jobID int64, msg string) Event {
	e := newEvent(EvError, o)
	e.JobID = jobID
	e.Message = msg
	return e
}

func Exited(o Origin, msg string) Event {
	e := newEvent(EvExited, o)
	e.Message = msg
	return e
}

// WriteFrame writes v as a length-prefixed JSON frame: a 4-byte big-endian
// length followed by the JSON payload.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and decodes it into v. A stream that ends
// cleanly between frames yields an error matching io.EOF.
func ReadFrame(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
