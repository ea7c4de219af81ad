package manager

import (
	"context"
	"sync"
	"time"

	"imaged/internal/protocol"
	"imaged/pkg/types"
)

// Shutdown asks every worker to close and waits up to ShutdownTimeout for
// them to exit. Workers still running after that get SIGTERM, then SIGKILL
// after KillGrace. The listeners drain the remaining events and stop.
// StartGenerator fails with ErrNotRunning afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	views := m.reg.snapshot()
	m.log.Info().Int("workers", len(views)).Msg("supervisor shutting down")
	for _, v := range views {
		if changed, _ := m.reg.updateState(v.GeneratorID, v.InstanceID, types.GeneratorClosing, types.GeneratorClosing); changed {
			sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
			m.persistClosing(sctx, v.GeneratorID, v.InstanceID)
			cancel()
		}
		v.Cmds.Push(protocol.CloseCommand())
	}

	if !waitGroupTimeout(ctx, &m.readers, m.cfg.ShutdownTimeout) {
		left := m.reg.snapshot()
		m.log.Warn().Int("workers", len(left)).Msg("workers did not close in time, terminating")
		for _, v := range left {
			_ = v.Proc.Terminate()
		}
		if !waitGroupTimeout(ctx, &m.readers, m.cfg.KillGrace) {
			for _, v := range m.reg.snapshot() {
				m.log.Warn().Int64("generator_id", v.GeneratorID).Int("pid", v.Proc.PID()).Msg("killing worker")
				_ = v.Proc.Kill()
			}
			waitGroupTimeout(ctx, &m.readers, m.cfg.KillGrace)
		}
	}

	m.events.Close()
	m.signals.Close()
	if !waitGroupTimeout(ctx, &m.wg, m.cfg.ShutdownTimeout) {
		m.log.Warn().Msg("listeners did not stop in time")
		return context.DeadlineExceeded
	}
	m.log.Info().Msg("supervisor stopped")
	return ctx.Err()
}

// waitGroupTimeout reports whether wg finished within d and before ctx ended.
func waitGroupTimeout(ctx context.Context, wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
