package gpu

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"imaged/pkg/types"
)

func TestParse(t *testing.T) {
	out := []byte("0, NVIDIA GeForce RTX 4090, 24564\n1, NVIDIA A100-SXM4-80GB, 81920\n\n")
	gpus, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(gpus) != 2 {
		t.Fatalf("gpus=%d", len(gpus))
	}
	if gpus[0].ID != 0 || gpus[0].Name != "NVIDIA GeForce RTX 4090" || gpus[0].TotalVRAMGB != 23.99 {
		t.Fatalf("gpu0=%+v", gpus[0])
	}
	if gpus[1].ID != 1 || gpus[1].TotalVRAMGB != 80 {
		t.Fatalf("gpu1=%+v", gpus[1])
	}
}

func TestParseNameWithComma(t *testing.T) {
	gpus, err := Parse([]byte("3, Tesla T4, rev b, 15360\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if gpus[0].Name != "Tesla T4, rev b" || gpus[0].TotalVRAMGB != 15 {
		t.Fatalf("gpu=%+v", gpus[0])
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"x, name, 10", "0, name, lots", "0 name 10"} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestListUsesRunner(t *testing.T) {
	var gotName string
	l := &Lister{Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		return []byte("0, Fake GPU, 8192\n"), nil
	}}
	gpus, err := l.List(context.Background())
	if err != nil || len(gpus) != 1 || gotName != "nvidia-smi" {
		t.Fatalf("gpus=%+v err=%v name=%s", gpus, err, gotName)
	}
	l.Run = func(context.Context, string, ...string) ([]byte, error) { return nil, ErrUnavailable }
	if _, err := l.List(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestListPrefersNVML(t *testing.T) {
	ran := false
	l := &Lister{
		NVML: func() ([]types.GPU, error) { return []types.GPU{{ID: 0, Name: "NVML GPU", TotalVRAMGB: 24}}, nil },
		Run: func(context.Context, string, ...string) ([]byte, error) {
			ran = true
			return nil, nil
		},
	}
	gpus, err := l.List(context.Background())
	if err != nil || len(gpus) != 1 || gpus[0].Name != "NVML GPU" {
		t.Fatalf("gpus=%+v err=%v", gpus, err)
	}
	if ran {
		t.Fatalf("nvidia-smi run although NVML answered")
	}
}

func TestListFallsBackToNvidiaSMI(t *testing.T) {
	l := &Lister{
		NVML: func() ([]types.GPU, error) { return nil, fmt.Errorf("%w: library not found", ErrUnavailable) },
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("0, Fake GPU, 8192\n"), nil
		},
	}
	gpus, err := l.List(context.Background())
	if err != nil || len(gpus) != 1 || gpus[0].TotalVRAMGB != 8 {
		t.Fatalf("gpus=%+v err=%v", gpus, err)
	}

	l.NVML = func() ([]types.GPU, error) { return nil, errors.New("nvml device 0: GPU is lost") }
	if _, err := l.List(context.Background()); err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("driver error must not fall back, got %v", err)
	}
}
