package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"imaged/pkg/types"
)

func TestFramesPreserveOrderOnOneStream(t *testing.T) {
	o := Origin{GeneratorID: 7, GeneratorName: "g7"}
	want := []Event{Ready(o), JobStarting(o, 3), ImageFinished(o, 3, 11), ImageFinished(o, 3, 12), JobFinished(o, 3), Closed(o)}
	var buf bytes.Buffer
	for _, ev := range want {
		if err := WriteFrame(&buf, ev); err != nil { t.Fatalf("write: %v", err) }
	}
	for i, w := range want {
		var got Event
		if err := ReadFrame(&buf, &got); err != nil { t.Fatalf("read %d: %v", i, err) }
		if got != w { t.Fatalf("frame %d: got %+v want %+v", i, got, w) }
	}
	var extra Event
	if err := ReadFrame(&buf, &extra); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestJobCommandCarriesPayload(t *testing.T) {
	job := types.Job{ID: 4, GeneratorID: 1, Images: []types.Image{{ID: 9, Prompt: "p"}}}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, JobCommand(job)); err != nil { t.Fatalf("write: %v", err) }
	var cmd Command
	if err := ReadFrame(&buf, &cmd); err != nil { t.Fatalf("read: %v", err) }
	if cmd.Kind != CmdJob || cmd.Job == nil { t.Fatalf("unexpected command: %+v", cmd) }
	if cmd.Job.ID != 4 || len(cmd.Job.Images) != 1 || cmd.Job.Images[0].ID != 9 {
		t.Fatalf("payload mismatch: %+v", cmd.Job)
	}
	if c := CloseCommand(); c.Job != nil || c.Init != nil { t.Fatalf("close must carry no payload: %+v", c) }
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1))
	var ev Event
	if err := ReadFrame(&buf, &ev); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("{}")
	var ev Event
	err := ReadFrame(&buf, &ev)
	if err == nil || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestReadFrameDecodeErrorKeepsStreamAligned(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(3))
	buf.WriteString("{x}")
	o := Origin{GeneratorID: 1, GeneratorName: "g"}
	if err := WriteFrame(&buf, Closed(o)); err != nil { t.Fatalf("write: %v", err) }
	var ev Event
	if err := ReadFrame(&buf, &ev); !errors.Is(err, ErrDecode) { t.Fatalf("expected ErrDecode, got %v", err) }
	if err := ReadFrame(&buf, &ev); err != nil || ev.Kind != EvClosed { t.Fatalf("next frame: %+v %v", ev, err) }
}
