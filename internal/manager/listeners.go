package manager

import (
	"context"
	"errors"

	"imaged/internal/protocol"
	"imaged/internal/store"
	"imaged/pkg/types"
)

// eventLoop applies worker events in arrival order until ctx is done.
func (m *Manager) eventLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		env, err := m.events.Pop(ctx)
		if err != nil {
			m.log.Debug().Err(err).Msg("event listener stopped")
			return
		}
		m.handleEvent(ctx, env)
	}
}

// signalLoop forwards signalled jobs to ready generators until ctx is done.
func (m *Manager) signalLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		jobID, err := m.signals.Pop(ctx)
		if err != nil {
			m.log.Debug().Err(err).Msg("signal listener stopped")
			return
		}
		m.handleSignal(ctx, jobID)
	}
}

func (m *Manager) handleSignal(parent context.Context, jobID int64) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.StoreTimeout)
	defer cancel()
	job, err := m.cfg.Jobs.Get(ctx, jobID)
	if err != nil {
		m.log.Warn().Err(err).Int64("job_id", jobID).Msg("signal for unknown job dropped")
		m.drop(0, jobID, "job lookup failed")
		return
	}
	if job.Status != types.JobWaiting {
		m.drop(job.GeneratorID, jobID, "job not waiting")
		return
	}
	if ok, reason := m.dispatch(ctx, job); !ok {
		m.drop(job.GeneratorID, jobID, reason)
	}
}

// dispatch claims the job's generator and sends the job command. The job is
// read again after the claim, since it may have run to completion on the
// same generator since it was looked up; the claim is released in that case.
func (m *Manager) dispatch(ctx context.Context, job types.Job) (bool, string) {
	v, ok := m.reg.claimReady(job.GeneratorID, job.ID)
	if !ok {
		return false, "generator not ready"
	}
	cur, err := m.cfg.Jobs.Get(ctx, job.ID)
	if err != nil || cur.Status != types.JobWaiting {
		if m.reg.unclaim(job.GeneratorID, v.InstanceID, job.ID) {
			m.pickup(ctx, job.GeneratorID)
		}
		return false, "job not waiting"
	}
	v.Cmds.Push(protocol.JobCommand(cur))
	m.dispatchedTotal.Add(1)
	metricDispatched.Inc()
	m.log.Info().Int64("generator_id", cur.GeneratorID).Int64("job_id", cur.ID).Int("images", len(cur.Images)).Msg("job dispatched")
	m.publish("job_dispatched", cur.GeneratorID, map[string]any{"job_id": cur.ID})
	return true, ""
}

func (m *Manager) drop(generatorID, jobID int64, reason string) {
	m.droppedTotal.Add(1)
	metricDroppedSignals.WithLabelValues(reason).Inc()
	m.log.Info().Int64("generator_id", generatorID).Int64("job_id", jobID).Str("reason", reason).Msg("job signal dropped")
	m.publish("signal_dropped", generatorID, map[string]any{"job_id": jobID, "reason": reason})
}

// pickup dispatches the oldest waiting job of a generator that just became ready.
func (m *Manager) pickup(ctx context.Context, generatorID int64) {
	if m.cfg.DisablePendingPickup {
		return
	}
	job, err := m.cfg.Jobs.OldestWaiting(ctx, generatorID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warn().Err(err).Int64("generator_id", generatorID).Msg("pending job lookup failed")
		}
		return
	}
	m.dispatch(ctx, job)
}

func (m *Manager) handleEvent(parent context.Context, env envelope) {
	ev := env.ev
	id := ev.GeneratorID
	ctx, cancel := context.WithTimeout(parent, m.cfg.StoreTimeout)
	defer cancel()
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	m.eventsTotal.Add(1)
	metricEvents.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind != protocol.EvExited && !m.reg.touch(id, env.instanceID, env.at) {
		m.log.Debug().Int64("generator_id", id).Str("event", string(ev.Kind)).Msg("event from stale worker ignored")
		return
	}
	log := m.log.With().Int64("generator_id", id).Str("generator", ev.GeneratorName).Str("event", string(ev.Kind)).Logger()

	switch ev.Kind {
	case protocol.EvReady:
		changed, _ := m.reg.updateState(id, env.instanceID, types.GeneratorReady, types.GeneratorClosing, types.GeneratorFailed)
		if changed {
			m.persistGenerator(ctx, id, types.GeneratorReady)
			m.pickup(ctx, id)
		}
		log.Info().Msg("worker ready")

	case protocol.EvJobStarting:
		// usually already claimed at dispatch; persisted here either way
		m.reg.updateState(id, env.instanceID, types.GeneratorBusy, types.GeneratorClosing, types.GeneratorFailed)
		m.reg.setJob(id, env.instanceID, ev.JobID)
		if st, _ := m.reg.State(id); st == types.GeneratorBusy {
			m.persistGenerator(ctx, id, types.GeneratorBusy)
		}
		if err := m.cfg.Jobs.UpdateStatus(ctx, ev.JobID, types.JobProcessing); err != nil {
			log.Error().Err(err).Int64("job_id", ev.JobID).Msg("persist job processing")
		}
		log.Info().Int64("job_id", ev.JobID).Msg("job starting")

	case protocol.EvImageFinished:
		if err := m.cfg.Images.SetReady(ctx, ev.ImageID); err != nil {
			log.Error().Err(err).Int64("image_id", ev.ImageID).Msg("persist image ready")
		} else if m.cfg.Sink != nil {
			m.cfg.Sink.ImageReady(ctx, ev.ImageID)
		}
		log.Debug().Int64("job_id", ev.JobID).Int64("image_id", ev.ImageID).Msg("image finished")

	case protocol.EvJobFinished:
		if err := m.cfg.Jobs.UpdateStatus(ctx, ev.JobID, types.JobFinished); err != nil {
			log.Error().Err(err).Int64("job_id", ev.JobID).Msg("persist job finished")
		}
		changed, _ := m.reg.updateState(id, env.instanceID, types.GeneratorReady, types.GeneratorClosing, types.GeneratorFailed)
		if changed {
			m.persistGenerator(ctx, id, types.GeneratorReady)
			m.pickup(ctx, id)
		}
		log.Info().Int64("job_id", ev.JobID).Msg("job finished")

	case protocol.EvClosed:
		if _, ok := m.reg.remove(id, env.instanceID); ok {
			m.persistGenerator(ctx, id, types.GeneratorClosed)
		}
		log.Info().Msg("worker closed")

	case protocol.EvError:
		m.reg.updateState(id, env.instanceID, types.GeneratorFailed)
		if err := m.cfg.Generators.SetFailed(ctx, id, ev.Message); err != nil {
			log.Error().Err(err).Msg("persist generator failed")
		}
		if ev.JobID != 0 {
			if err := m.cfg.Jobs.UpdateStatus(ctx, ev.JobID, types.JobFailed); err != nil {
				log.Error().Err(err).Int64("job_id", ev.JobID).Msg("persist job failed")
			}
		}
		log.Error().Int64("job_id", ev.JobID).Str("message", ev.Message).Msg("worker reported error")

	case protocol.EvExited:
		v, ok := m.reg.remove(id, env.instanceID)
		if !ok {
			return
		}
		if v.State != types.GeneratorFailed {
			if err := m.cfg.Generators.SetFailed(ctx, id, ev.Message); err != nil {
				log.Error().Err(err).Msg("persist generator failed")
			}
		}
		if n, err := m.cfg.Jobs.FailProcessing(ctx, id); err != nil {
			log.Error().Err(err).Msg("fail processing jobs")
		} else if n > 0 {
			log.Warn().Int64("jobs", n).Msg("processing jobs marked failed")
		}
		log.Error().Str("message", ev.Message).Msg("worker exited unexpectedly")

	default:
		log.Warn().Msg("unknown event kind")
	}

	fields := map[string]any{}
	if ev.JobID != 0 {
		fields["job_id"] = ev.JobID
	}
	if ev.ImageID != 0 {
		fields["image_id"] = ev.ImageID
	}
	if ev.Message != "" {
		fields["message"] = ev.Message
	}
	m.publish(string(ev.Kind), id, fields)
	m.updateStateGauge()
}

func (m *Manager) persistGenerator(ctx context.Context, id int64, status types.GeneratorStatus) {
	if err := m.cfg.Generators.UpdateStatus(ctx, id, status); err != nil {
		m.log.Error().Err(err).Int64("generator_id", id).Str("status", string(status)).Msg("persist generator status")
	}
}
