package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jun/drivebot/internal/model"
)

// DeviceProvider is the slice of Provider used by the Authorizer.
type DeviceProvider interface {
	TokenPoller
	RequestDeviceCode(ctx context.Context) (*DeviceCodeGrant, error)
}

// OutcomeFunc observes a poller reaching a terminal state. The stored-state
// transition has already been applied when it is called.
type OutcomeFunc func(userID int64, flow model.DeviceFlowState, state State)

// Authorizer starts and cancels device authorization flows. At most one
// flow is active per user; beginning a new one cancels and replaces any
// prior flow for that user.
type Authorizer struct {
	provider DeviceProvider
	sessions FlowStore
	logger   *slog.Logger

	// OnOutcome, when set, is invoked each time a poller terminates in
	// Succeeded, Expired or Denied. Set it before the first Begin call.
	OnOutcome OutcomeFunc

	mu     sync.Mutex
	active map[int64]*activeFlow
	wg     sync.WaitGroup
}

type activeFlow struct {
	flowID string
	cancel context.CancelFunc
	poller *Poller
}

func NewAuthorizer(provider DeviceProvider, sessions FlowStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		provider: provider,
		sessions: sessions,
		logger:   logger,
		active:   make(map[int64]*activeFlow),
	}
}

// Begin requests a device code for the user, persists the resulting flow
// state (replacing any prior flow) and schedules a poller for it.
func (a *Authorizer) Begin(ctx context.Context, userID int64) (*model.DeviceFlowState, error) {
	grant, err := a.provider.RequestDeviceCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("device code request: %w", err)
	}

	flow := &model.DeviceFlowState{
		FlowID:          uuid.NewString(),
		DeviceCode:      grant.DeviceCode,
		UserCode:        grant.UserCode,
		VerificationURL: grant.VerificationURL,
		ExpiresAt:       time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
		PollInterval:    grant.Interval,
	}

	if err := a.sessions.SetDeviceFlow(ctx, userID, flow); err != nil {
		return nil, fmt.Errorf("persist device flow: %w", err)
	}

	a.startPoller(userID, *flow)
	return flow, nil
}

// Resume schedules a poller for a flow that was already persisted, e.g.
// one that survived a process restart. Expired flows are cleaned up
// instead of resumed.
func (a *Authorizer) Resume(ctx context.Context, userID int64, flow model.DeviceFlowState) {
	if flow.Expired() {
		if err := a.sessions.ClearDeviceFlow(ctx, userID, flow.FlowID); err != nil {
			a.logger.Error("failed to clear stale device flow", "user_id", userID, "error", err)
		}
		return
	}
	a.logger.Info("resuming device flow", "user_id", userID, "flow_id", flow.FlowID)
	a.startPoller(userID, flow)
}

// Cancel stops any active poller for the user and clears the stored flow.
// A poller mid-poll will observe the cleared state and become a no-op.
func (a *Authorizer) Cancel(ctx context.Context, userID int64) error {
	a.mu.Lock()
	if af, ok := a.active[userID]; ok {
		af.cancel()
		delete(a.active, userID)
	}
	a.mu.Unlock()

	if err := a.sessions.ClearDeviceFlow(ctx, userID, ""); err != nil {
		return fmt.Errorf("clear device flow: %w", err)
	}
	return nil
}

// ActivePoller returns the poller currently scheduled for the user, if any.
func (a *Authorizer) ActivePoller(userID int64) *Poller {
	a.mu.Lock()
	defer a.mu.Unlock()
	if af, ok := a.active[userID]; ok {
		return af.poller
	}
	return nil
}

// Shutdown cancels all active pollers and waits for them to stop.
func (a *Authorizer) Shutdown() {
	a.mu.Lock()
	for userID, af := range a.active {
		af.cancel()
		delete(a.active, userID)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Authorizer) startPoller(userID int64, flow model.DeviceFlowState) {
	// Pollers outlive the chat turn that started them, so they get their
	// own context rather than the request's.
	pctx, cancel := context.WithCancel(context.Background())
	poller := NewPoller(a.provider, a.sessions, userID, flow, a.logger)

	a.mu.Lock()
	if prev, ok := a.active[userID]; ok {
		prev.cancel()
	}
	a.active[userID] = &activeFlow{flowID: flow.FlowID, cancel: cancel, poller: poller}
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		poller.Run(pctx)
		cancel()

		a.mu.Lock()
		if af, ok := a.active[userID]; ok && af.flowID == flow.FlowID {
			delete(a.active, userID)
		}
		a.mu.Unlock()

		state := poller.State()
		if a.OnOutcome != nil {
			switch state {
			case StateSucceeded, StateExpired, StateDenied:
				a.OnOutcome(userID, flow, state)
			}
		}
	}()
}
