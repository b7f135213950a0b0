package camera

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepResult counts the sessions removed by one Sweep.
type SweepResult struct {
	Expired int
	Crashed int
}

// Sweep destroys sessions idle for longer than the session timeout, then
// sessions whose transcoder has exited. A failure on one session does not
// stop the sweep.
func (r *Registry) Sweep(now time.Time) SweepResult {
	var res SweepResult

	for _, id := range r.expiredIDs(now) {
		if r.reap(id, ReasonExpired) {
			res.Expired++
		}
	}
	if res.Expired > 0 {
		r.log.Info("cleaned up expired sessions", slog.Int("count", res.Expired))
	}

	for _, id := range r.sessionIDs() {
		if r.sup.IsAlive(string(id)) {
			continue
		}
		r.log.Warn("transcoder process died", slog.String("session_id", string(id)))
		if r.reap(id, ReasonCrashed) {
			res.Crashed++
		}
	}
	if res.Crashed > 0 {
		r.log.Info("cleaned up crashed sessions", slog.Int("count", res.Crashed))
	}

	r.rec.SweepCompleted(res.Expired, res.Crashed)
	return res
}

// expiredIDs returns sessions whose last activity is strictly older than
// the session timeout at now.
func (r *Registry) expiredIDs(now time.Time) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []SessionID
	for _, id := range r.store.ListSessionIDs() {
		sess, ok := r.store.GetSession(id)
		if ok && now.Sub(sess.LastActivity) > r.opts.SessionTimeout {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) reap(id SessionID, reason string) (destroyed bool) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("failed to destroy session",
				slog.String("session_id", string(id)),
				slog.String("reason", reason),
				slog.String("error", fmt.Sprint(v)))
			destroyed = false
		}
	}()
	return r.destroy(id, reason)
}

// Run sweeps on every SweepInterval tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	r.log.Info("session reaper started",
		slog.Duration("interval", r.opts.SweepInterval),
		slog.Duration("session_timeout", r.opts.SessionTimeout))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("session reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(r.opts.Now())
		}
	}
}
