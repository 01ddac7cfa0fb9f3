// Package gate decides, per feed, whether delivery is driven by push
// notifications or by polling, and runs the polling timers.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Mode is the current delivery mode of one feed.
type Mode int

// Delivery modes.
const (
	// ModeIdle is the cold-start state before the first evaluation.
	ModeIdle Mode = iota
	// ModePush trusts webhooks; no polling runs.
	ModePush
	// ModeContinuous polls forever on a fixed interval because the push
	// channel is unavailable or unconfigured.
	ModeContinuous
	// ModeTemporary polls frequently for a bounded window after an
	// observed fault, then re-evaluates.
	ModeTemporary
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModeContinuous:
		return "continuous-poll"
	case ModeTemporary:
		return "temporary-poll"
	default:
		return "idle"
	}
}

// PollFunc runs one reconciliation pass and returns the number of newly
// processed entities.
type PollFunc func(ctx context.Context) (int, error)

// Options configures a Gate.
type Options struct {
	// PollInterval is the continuous polling cadence.
	PollInterval time.Duration
	// TemporaryInterval is the temporary polling cadence.
	TemporaryInterval time.Duration
	// TemporaryMax bounds the duration of one temporary window.
	TemporaryMax time.Duration
	// EmptyPollLimit ends a temporary window after this many consecutive
	// polls that processed nothing.
	EmptyPollLimit int
	// RecheckInterval is the cadence of periodic policy evaluation.
	RecheckInterval time.Duration
}

// Gate is the per-feed delivery-mode state machine. One instance exists
// per feed, owned by the process startup routine.
type Gate struct {
	policy Policy
	poll   PollFunc
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	baseCtx      context.Context
	mode         Mode
	inFlight     bool
	emptyPolls   int
	tempDeadline time.Time
	lastPush     time.Time
	stopCont     context.CancelFunc
	stopTemp     context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Gate driving poll according to policy.
func New(policy Policy, poll PollFunc, opts Options, log *slog.Logger) *Gate {
	if opts.EmptyPollLimit <= 0 {
		opts.EmptyPollLimit = 3
	}
	return &Gate{
		policy:  policy,
		poll:    poll,
		opts:    opts,
		log:     log,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// SetNow overrides the clock, for tests.
func (g *Gate) SetNow(now func() time.Time) {
	g.now = now
}

// Mode returns the current delivery mode.
func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Start evaluates the policy once and then re-evaluates on the recheck
// interval until ctx is cancelled.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	g.baseCtx = ctx
	g.lastPush = g.now()
	g.mu.Unlock()

	g.Evaluate(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.opts.RecheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Evaluate(ctx)
			}
		}
	}()
}

// Stop cancels any running poll loops and waits for them to exit.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.stopContinuousLocked()
	g.stopTemporaryLocked()
	g.mu.Unlock()
	g.wg.Wait()
}

// Evaluate runs the policy and applies the decided stable state. While
// a temporary window is open it does nothing: the window ends only
// through its own poll loop, by the empty-poll limit or the safety
// deadline. A push arriving via NotePush still closes it directly.
func (g *Gate) Evaluate(ctx context.Context) {
	g.mu.Lock()
	if g.stopTemp != nil {
		g.mu.Unlock()
		return
	}
	silence := g.now().Sub(g.lastPush)
	g.mu.Unlock()

	switch d := g.policy.Decide(ctx, silence); d {
	case DecidePush:
		g.enterPush()
	case DecideContinuous:
		g.enterContinuous()
	case DecideTemporary:
		g.enterTemporary()
	}
}

// NotePush records a received push notification. Push regains authority:
// any active polling stops immediately.
func (g *Gate) NotePush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPush = g.now()
	if g.mode == ModeContinuous || g.mode == ModeTemporary {
		g.stopContinuousLocked()
		g.stopTemporaryLocked()
		g.setModeLocked(ModePush)
	}
}

// ReportFailure is called on a transient processing fault. It enters
// temporary polling without waiting for the next scheduled evaluation.
func (g *Gate) ReportFailure() {
	g.enterTemporary()
}

func (g *Gate) enterPush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopContinuousLocked()
	g.stopTemporaryLocked()
	g.setModeLocked(ModePush)
}

func (g *Gate) enterContinuous() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopCont != nil {
		return
	}
	g.stopTemporaryLocked()
	g.setModeLocked(ModeContinuous)

	loopCtx, cancel := context.WithCancel(g.baseCtx)
	g.stopCont = cancel
	g.wg.Add(1)
	go g.pollLoop(loopCtx, g.opts.PollInterval, false)
}

func (g *Gate) enterTemporary() {
	g.mu.Lock()
	defer g.mu.Unlock()
	// Continuous polling is a superset of temporary polling.
	if g.stopCont != nil {
		return
	}
	// The safety window re-arms on repeated requests instead of stacking.
	g.tempDeadline = g.now().Add(g.opts.TemporaryMax)
	g.emptyPolls = 0
	if g.stopTemp != nil {
		return
	}
	g.setModeLocked(ModeTemporary)

	loopCtx, cancel := context.WithCancel(g.baseCtx)
	g.stopTemp = cancel
	g.wg.Add(1)
	go g.pollLoop(loopCtx, g.opts.TemporaryInterval, true)
}

func (g *Gate) pollLoop(ctx context.Context, interval time.Duration, temporary bool) {
	defer g.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := g.runPoll(ctx, temporary); done {
				// The temporary window closed; decide the next stable state.
				g.mu.Lock()
				base := g.baseCtx
				g.mu.Unlock()
				g.Evaluate(base)
				return
			}
		}
	}
}

// runPoll executes one poll invocation, guarding against overlap with an
// in-flight flag. For a temporary window it reports whether the window's
// termination condition was reached.
func (g *Gate) runPoll(ctx context.Context, temporary bool) (windowDone bool) {
	g.mu.Lock()
	if g.inFlight {
		g.mu.Unlock()
		return false
	}
	g.inFlight = true
	g.mu.Unlock()

	count, err := g.poll(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false

	if err != nil {
		g.log.Error("poll failed", "mode", g.mode.String(), "error", err)
	}
	if !temporary {
		return false
	}

	if err == nil && count == 0 {
		g.emptyPolls++
	} else if count > 0 {
		g.emptyPolls = 0
	}

	if g.emptyPolls >= g.opts.EmptyPollLimit || !g.now().Before(g.tempDeadline) {
		g.stopTemporaryLocked()
		g.setModeLocked(ModeIdle)
		return true
	}
	return false
}

func (g *Gate) stopContinuousLocked() {
	if g.stopCont != nil {
		g.stopCont()
		g.stopCont = nil
	}
}

func (g *Gate) stopTemporaryLocked() {
	if g.stopTemp != nil {
		g.stopTemp()
		g.stopTemp = nil
	}
}

func (g *Gate) setModeLocked(m Mode) {
	if g.mode != m {
		g.log.Info("delivery mode changed", "from", g.mode.String(), "to", m.String())
		g.mode = m
	}
}
