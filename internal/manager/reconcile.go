package manager

import (
	"context"
	"fmt"

	"imaged/pkg/types"
)

// reconcile forces every persisted generator that is not closed back to
// closed. No worker survives a supervisor restart, so any other status is
// stale. Jobs left processing by those workers are failed.
func (m *Manager) reconcile(ctx context.Context) error {
	ids, err := m.cfg.Generators.NotClosed(ctx)
	if err != nil {
		return fmt.Errorf("list live generators: %w", err)
	}
	for _, id := range ids {
		if m.reg.Has(id) {
			continue
		}
		if err := m.cfg.Generators.UpdateStatus(ctx, id, types.GeneratorClosed); err != nil {
			return fmt.Errorf("reconcile generator %d: %w", id, err)
		}
		n, err := m.cfg.Jobs.FailProcessing(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile jobs of generator %d: %w", id, err)
		}
		m.log.Info().Int64("generator_id", id).Int64("failed_jobs", n).Msg("generator reconciled to closed")
		m.publish("reconciled", id, map[string]any{"failed_jobs": n})
	}
	if len(ids) > 0 {
		m.log.Info().Int("count", len(ids)).Msg("reconciliation done")
	}
	return nil
}
