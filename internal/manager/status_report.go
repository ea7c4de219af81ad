package manager

import (
	"sort"
	"time"

	"imaged/pkg/types"
)

// Status builds the /status payload from the registry and counters.
func (m *Manager) Status() types.StatusResponse {
	now := time.Now()
	views := m.reg.snapshot()
	sort.Slice(views, func(i, j int) bool { return views[i].GeneratorID < views[j].GeneratorID })
	resp := types.StatusResponse{
		Workers:             make([]types.WorkerStatus, 0, len(views)),
		UptimeSeconds:       int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:      now.Unix(),
		EventsTotal:         m.eventsTotal.Load(),
		DispatchedTotal:     m.dispatchedTotal.Load(),
		DroppedSignalsTotal: m.droppedTotal.Load(),
	}
	for _, v := range views {
		ws := types.WorkerStatus{
			GeneratorID: v.GeneratorID,
			Name:        v.GeneratorName,
			State:       string(v.State),
			PID:         v.Proc.PID(),
			InstanceID:  v.InstanceID,
			GPUID:       v.GPUID,
			JobID:       v.JobID,
			StartedAt:   v.StartedAt.Unix(),
			EventsSeen:  v.EventsSeen,
		}
		if !v.LastEventAt.IsZero() {
			ws.LastEventAt = v.LastEventAt.Unix()
		}
		resp.Workers = append(resp.Workers, ws)
	}
	return resp
}
