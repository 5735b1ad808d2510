package rpc

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opalhq/opal/internal/agent"
)

// IdleSweeper periodically evicts in-memory session state for sessions
// that have gone idle, freeing the tool registries and sub-agent
// supervisors a connected client never reclaims on its own. Persisted
// history is untouched: a client that later reuses the session id simply
// rebuilds the in-memory sessionState from cfg on the next session/start.
type IdleSweeper struct {
	cron *cron.Cron
	ttl  time.Duration
}

// StartIdleSweep registers a cron job on spec (standard 5-field cron
// syntax or a descriptor such as "@every 5m") that sweeps sessions idle
// longer than ttl.
// The returned IdleSweeper must be stopped by the caller on shutdown.
func (s *Server) StartIdleSweep(spec string, ttl time.Duration) (*IdleSweeper, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.sweepIdleSessions(ttl) }); err != nil {
		return nil, err
	}
	c.Start()
	return &IdleSweeper{cron: c, ttl: ttl}, nil
}

// Stop halts the sweep cron, waiting for any in-flight run to finish.
func (w *IdleSweeper) Stop() {
	if w == nil || w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
}

// sweepIdleSessions evicts every in-memory sessionState whose agent is
// Idle and whose last persisted activity predates the cutoff. A session
// actively streaming or mid-tool-execution is never evicted regardless
// of its age.
func (s *Server) sweepIdleSessions(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	s.sessMu.Lock()
	candidates := make([]string, 0, len(s.sessions))
	for id, st := range s.sessions {
		if st.agent.State() == agent.Idle {
			candidates = append(candidates, id)
		}
	}
	s.sessMu.Unlock()

	for _, id := range candidates {
		sess, err := s.store.Get(context.Background(), id)
		if err != nil || sess.UpdatedAt.After(cutoff) {
			continue
		}
		s.removeSession(id)
		s.logger.Info("rpc: evicted idle session", "session_id", id, "idle_since", sess.UpdatedAt)
	}
}
