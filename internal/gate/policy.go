package gate

import (
	"context"
	"time"
)

// Decision is a policy's verdict on the next stable delivery state.
type Decision int

// Policy decisions.
const (
	DecidePush Decision = iota
	DecideContinuous
	DecideTemporary
)

// Policy decides the stable delivery state for one feed. The two feeds
// differ only in policy; the gate machinery is shared.
type Policy interface {
	// Decide is called on startup, on the periodic recheck, and when a
	// temporary polling window closes. sinceLastPush is the time since
	// the last received push notification.
	Decide(ctx context.Context, sinceLastPush time.Duration) Decision
}

// ProbeFunc checks whether the push integration is installed. A nil id
// means not installed; an error means the probe itself failed.
type ProbeFunc func(ctx context.Context) (*int64, error)

// ProbePolicy trusts push only while an installation probe confirms the
// push integration exists. A failing probe is treated conservatively as
// "push may be unreliable".
type ProbePolicy struct {
	Probe ProbeFunc
}

// Decide implements Policy.
func (p *ProbePolicy) Decide(ctx context.Context, _ time.Duration) Decision {
	id, err := p.Probe(ctx)
	if err != nil {
		return DecideTemporary
	}
	if id == nil {
		return DecideContinuous
	}
	return DecidePush
}

// SilencePolicy trusts push until the feed has been silent for longer
// than a threshold. The threshold is long (an hour by default) so feeds
// that are naturally quiet do not trigger false fallbacks.
type SilencePolicy struct {
	Threshold time.Duration
}

// Decide implements Policy.
func (p *SilencePolicy) Decide(_ context.Context, sinceLastPush time.Duration) Decision {
	if sinceLastPush > p.Threshold {
		return DecideContinuous
	}
	return DecidePush
}
