package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jun/drivebot/internal/model"
)

// State is a device-flow poller state. Pending and Slowed are transient;
// the rest are terminal.
type State int

const (
	StatePending State = iota
	StateSlowed
	StateSucceeded
	StateExpired
	StateDenied
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSlowed:
		return "slowed"
	case StateSucceeded:
		return "succeeded"
	case StateExpired:
		return "expired"
	case StateDenied:
		return "denied"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// slowDownStep is added to the poll interval on a slow_down response.
const slowDownStep = 5 * time.Second

// maxTransientPolls is how many consecutive provider-unavailable results a
// poller rides out before giving up.
const maxTransientPolls = 3

// TokenPoller is the slice of Provider used by the poller.
type TokenPoller interface {
	PollToken(ctx context.Context, deviceCode string) (*model.Credential, error)
}

// FlowStore is the slice of session.Manager the device-flow machinery
// writes through. All stored-state transitions for a flow go through it.
type FlowStore interface {
	SetDeviceFlow(ctx context.Context, userID int64, flow *model.DeviceFlowState) error
	ClearDeviceFlow(ctx context.Context, userID int64, flowID string) error
	CompleteDeviceFlow(ctx context.Context, userID int64, cred *model.Credential) error
	DeviceFlow(ctx context.Context, userID int64) (*model.DeviceFlowState, error)
}

// Poller drives a single in-flight device authorization: it waits the poll
// interval, asks the provider whether the user has approved, and applies
// the resulting stored-state transition exactly once.
//
// Before acting on any poll result it re-checks that its flow is still the
// one on record for the user. Cancellation or a superseding flow changes
// the stored state, and the poller observes the mismatch and stops. The
// context handle passed to Run is the active cancellation path; the stored
// FlowID check is the restart-safe backstop.
type Poller struct {
	provider TokenPoller
	sessions FlowStore
	logger   *slog.Logger

	userID int64
	flow   model.DeviceFlowState

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// NewPoller creates a poller for one persisted DeviceFlowState. The flow
// value is copied; only its FlowID, DeviceCode, PollInterval and ExpiresAt
// are consulted.
func NewPoller(provider TokenPoller, sessions FlowStore, userID int64, flow model.DeviceFlowState, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		provider: provider,
		sessions: sessions,
		logger:   logger.With("user_id", userID, "flow_id", flow.FlowID),
		userID:   userID,
		flow:     flow,
		state:    StatePending,
		done:     make(chan struct{}),
	}
}

// State returns the poller's current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when the poller reaches a terminal state.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Run polls until a terminal transition or cancellation. It is meant to run
// in its own goroutine; the passed context cancels it between polls.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	interval := time.Duration(p.flow.PollInterval) * time.Second
	if interval < time.Second {
		interval = time.Second
	}
	transientPolls := 0

	for {
		if p.flow.Expired() {
			p.expire(ctx)
			return
		}

		// Never sleep past the wall-clock deadline.
		wait := interval
		if until := time.Until(p.flow.ExpiresAt); until < wait {
			wait = until
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.setState(StateStopped)
			return
		case <-timer.C:
		}

		if p.flow.Expired() {
			p.expire(ctx)
			return
		}

		if !p.stillCurrent(ctx) {
			p.setState(StateStopped)
			return
		}

		cred, err := p.provider.PollToken(ctx, p.flow.DeviceCode)
		switch {
		case err == nil:
			// The premise may have changed while the poll was in flight:
			// a success result for a superseded flow must not be applied.
			if !p.stillCurrent(ctx) {
				p.setState(StateStopped)
				return
			}
			if err := p.sessions.CompleteDeviceFlow(ctx, p.userID, cred); err != nil {
				p.logger.Error("failed to persist completed device flow", "error", err)
				p.setState(StateStopped)
				return
			}
			p.logger.Info("device authorization succeeded")
			p.setState(StateSucceeded)
			return

		case errors.Is(err, ErrAuthorizationPending):
			transientPolls = 0
			p.setState(StatePending)

		case errors.Is(err, ErrSlowDown):
			transientPolls = 0
			interval += slowDownStep
			p.logger.Info("provider requested slower polling", "interval", interval)
			p.setState(StateSlowed)

		case errors.Is(err, ErrDeviceFlowExpired):
			p.expire(ctx)
			return

		case errors.Is(err, ErrDeviceFlowDenied):
			p.logger.Info("device authorization denied by user")
			if err := p.sessions.ClearDeviceFlow(ctx, p.userID, p.flow.FlowID); err != nil {
				p.logger.Error("failed to clear denied device flow", "error", err)
			}
			p.setState(StateDenied)
			return

		case errors.Is(err, ErrProviderUnavailable):
			// An outage on the provider side is not a verdict on the flow;
			// keep polling unless the outage outlasts the tolerance.
			transientPolls++
			if transientPolls >= maxTransientPolls {
				p.logger.Error("provider unavailable, giving up", "consecutive_failures", transientPolls)
				p.setState(StateStopped)
				return
			}
			p.logger.Warn("provider unavailable, retrying", "consecutive_failures", transientPolls)

		default:
			// Unexpected provider errors stop polling without touching the
			// stored flow, so the user can still retry by hand.
			p.logger.Error("device flow polling stopped", "error", err)
			p.setState(StateStopped)
			return
		}
	}
}

// stillCurrent reports whether this poller's flow is still the one stored
// for the user. A read failure counts as current: transient store trouble
// must not kill an otherwise healthy flow.
func (p *Poller) stillCurrent(ctx context.Context) bool {
	cur, err := p.sessions.DeviceFlow(ctx, p.userID)
	if err != nil {
		p.logger.Warn("could not verify current device flow", "error", err)
		return true
	}
	return cur != nil && cur.FlowID == p.flow.FlowID
}

func (p *Poller) expire(ctx context.Context) {
	p.logger.Info("device authorization expired")
	if err := p.sessions.ClearDeviceFlow(ctx, p.userID, p.flow.FlowID); err != nil {
		p.logger.Error("failed to clear expired device flow", "error", err)
	}
	p.setState(StateExpired)
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
