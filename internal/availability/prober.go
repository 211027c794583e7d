// Package availability answers the question every write-path decision
// depends on: is a given store currently reachable? Answers are cached with
// a short TTL so record writes do not pay a network round trip each time.
package availability

import (
	"context"
	"sync"
	"time"

	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/metrics"
)

// Target is a logical store whose reachability can be probed.
type Target string

const (
	// TargetBackend is the authoritative backend HTTP API.
	TargetBackend Target = "backend"
	// TargetCloud is the cloud identity/document platform.
	TargetCloud Target = "cloud"
)

// ProbeFunc performs one lightweight reachability check. It must honor ctx
// cancellation and report false rather than returning an error.
type ProbeFunc func(ctx context.Context) bool

type state struct {
	reachable bool
	checkedAt time.Time
}

// Prober caches per-target reachability with a TTL. It is the only shared
// mutable state in the sync core; concurrent use is safe. When the cached
// answer expires, the caller that notices re-probes; a racing caller may
// probe too and last-write-wins, which is acceptable because both observed
// the same network.
type Prober struct {
	mu     sync.Mutex
	probes map[Target]ProbeFunc
	states map[Target]state

	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  logging.Logger
}

// New returns a Prober with the given cache TTL and per-probe timeout.
func New(ttl, timeout time.Duration, logger logging.Logger) *Prober {
	return &Prober{
		probes:  make(map[Target]ProbeFunc),
		states:  make(map[Target]state),
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Register binds a probe function to a target. Targets without a registered
// probe always report unreachable.
func (p *Prober) Register(target Target, fn ProbeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[target] = fn
}

// WithNow replaces the clock, for deterministic TTL tests.
func (p *Prober) WithNow(now func() time.Time) *Prober {
	p.now = now
	return p
}

// IsReachable reports whether target responded successfully within the last
// probe window. A cached answer younger than the TTL is returned as-is;
// otherwise one probe runs with a bounded timeout and its boolean result is
// cached. Probe failure is false, never an error.
func (p *Prober) IsReachable(ctx context.Context, target Target) bool {
	p.mu.Lock()
	st, cached := p.states[target]
	fn, registered := p.probes[target]
	now := p.now()
	if cached && now.Sub(st.checkedAt) < p.ttl {
		p.mu.Unlock()
		return st.reachable
	}
	p.mu.Unlock()

	if !registered {
		return false
	}

	// Probe outside the lock so a slow network does not block readers of
	// other targets.
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	reachable := fn(probeCtx)

	metrics.ProbesTotal.WithLabelValues(string(target), result(reachable)).Inc()
	p.logger.Debug(ctx, "probed target", "target", target, "reachable", reachable)

	p.mu.Lock()
	p.states[target] = state{reachable: reachable, checkedAt: p.now()}
	p.mu.Unlock()

	return reachable
}

// Invalidate drops the cached state for target so the next IsReachable call
// re-probes.
func (p *Prober) Invalidate(target Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, target)
}

func result(reachable bool) string {
	if reachable {
		return "up"
	}
	return "down"
}
