package gateway

import (
	"time"

	"inferd/pkg/types"
)

// Health reports the overall gateway condition: ready when every session can
// take work, degraded when only some can, unhealthy when none can.
func (g *Gateway) Health() string {
	sessions := g.pool.snapshot()
	usable := 0
	for _, s := range sessions {
		if s.State == string(SessReady) || s.State == string(SessBusy) {
			usable++
		}
	}
	switch {
	case usable == len(sessions) && usable > 0:
		return "ready"
	case usable > 0:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Status builds a detailed status response for GET /status.
func (g *Gateway) Status() types.StatusResponse {
	now := time.Now()
	return types.StatusResponse{
		State:          g.Health(),
		Sessions:       g.pool.snapshot(),
		QueueDepth:     g.queue.depth(),
		MaxOutstanding: g.cfg.MaxOutstanding,
		Outstanding:    int(g.outstanding.Load()),
		UptimeSeconds:  int64(now.Sub(g.startTime) / time.Second),
		ServerTimeUnix: now.Unix(),
		RestartsTotal:  g.pool.restartsTotal.Load(),
		EvictionsTotal: g.pool.evictionsTotal.Load(),
	}
}

// Models lists the catalog with load states for GET /models.
func (g *Gateway) Models() []types.ModelStatus { return g.reg.List() }
