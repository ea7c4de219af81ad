package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"imaged/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultStoreTimeout    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultKillGrace       = 2 * time.Second
)

// GeneratorStore is the slice of the generator repository the supervisor writes.
type GeneratorStore interface {
	UpdateStatus(ctx context.Context, id int64, status types.GeneratorStatus) error
	SetFailed(ctx context.Context, id int64, msg string) error
	NotClosed(ctx context.Context) ([]int64, error)
}

// JobStore is the slice of the job repository the supervisor reads and writes.
type JobStore interface {
	Get(ctx context.Context, id int64) (types.Job, error)
	UpdateStatus(ctx context.Context, id int64, status types.JobStatus) error
	OldestWaiting(ctx context.Context, generatorID int64) (types.Job, error)
	FailProcessing(ctx context.Context, generatorID int64) (int64, error)
}

// ImageStore flips the ready flag of finished images.
type ImageStore interface {
	SetReady(ctx context.Context, id int64) error
}

// ImageSink is notified after an image has been marked ready.
type ImageSink interface {
	ImageReady(ctx context.Context, imageID int64)
}

// ManagerConfig encapsulates all tunables and collaborators for Manager construction.
type ManagerConfig struct {
	Generators GeneratorStore
	Jobs       JobStore
	Images     ImageStore
	Spawner    Spawner

	// Optional.
	Publisher EventPublisher
	Sink      ImageSink
	Logger    *zerolog.Logger

	// Per-event bound on repository calls made by the listeners.
	StoreTimeout time.Duration
	// Bound on Shutdown waiting for workers to acknowledge close.
	ShutdownTimeout time.Duration
	// Time between SIGTERM and SIGKILL for stragglers.
	KillGrace time.Duration
	// Look up waiting jobs whenever a generator becomes ready. Without it a
	// job signalled while its generator was not ready stays waiting.
	DisablePendingPickup bool
}

func (c *ManagerConfig) applyDefaults() {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Logger == nil {
		l := zerolog.Nop()
		c.Logger = &l
	}
}
