package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jun/drivebot/internal/model"
)

// scriptedPoller returns its results in order; the last one repeats.
// onSuccess, when set, runs just before a successful result is returned,
// so tests can change the stored flow mid-poll.
type scriptedPoller struct {
	mu        sync.Mutex
	results   []error
	calls     int
	times     []time.Time
	onSuccess func()
}

func (s *scriptedPoller) PollToken(ctx context.Context, deviceCode string) (*model.Credential, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	s.times = append(s.times, time.Now())
	err := s.results[i]
	hook := s.onSuccess
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook()
	}
	return &model.Credential{AccessToken: "at-1", RefreshToken: "rt-1"}, nil
}

func (s *scriptedPoller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedPoller) pollTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// memFlowStore is an in-memory FlowStore with the same FlowID clearing
// semantics as the session manager.
type memFlowStore struct {
	mu        sync.Mutex
	flow      *model.DeviceFlowState
	completed []*model.Credential
}

func (m *memFlowStore) SetDeviceFlow(_ context.Context, _ int64, flow *model.DeviceFlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flow = flow
	return nil
}

func (m *memFlowStore) ClearDeviceFlow(_ context.Context, _ int64, flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flow == nil {
		return nil
	}
	if flowID != "" && m.flow.FlowID != flowID {
		return nil
	}
	m.flow = nil
	return nil
}

func (m *memFlowStore) CompleteDeviceFlow(_ context.Context, _ int64, cred *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, cred)
	m.flow = nil
	return nil
}

func (m *memFlowStore) DeviceFlow(_ context.Context, _ int64) (*model.DeviceFlowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flow == nil {
		return nil, nil
	}
	cp := *m.flow
	return &cp, nil
}

func (m *memFlowStore) storedFlow() *model.DeviceFlowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flow
}

func (m *memFlowStore) completedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

func testFlow(ttl time.Duration) model.DeviceFlowState {
	return model.DeviceFlowState{
		FlowID:       "flow-1",
		DeviceCode:   "dc-1",
		UserCode:     "ABCD-EFGH",
		ExpiresAt:    time.Now().Add(ttl),
		PollInterval: 1,
	}
}

func runPoller(t *testing.T, p *Poller, ctx context.Context) {
	t.Helper()
	go p.Run(ctx)
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("poller did not terminate")
	}
}

func TestPoller_PendingThenSucceeded(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrAuthorizationPending, nil}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateSucceeded {
		t.Fatalf("expected StateSucceeded, got %v", p.State())
	}
	if store.completedCount() != 1 {
		t.Errorf("expected exactly one completed credential, got %d", store.completedCount())
	}
	if store.storedFlow() != nil {
		t.Error("expected flow to be cleared after success")
	}
}

func TestPoller_Denied(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrDeviceFlowDenied}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateDenied {
		t.Fatalf("expected StateDenied, got %v", p.State())
	}
	if store.completedCount() != 0 {
		t.Error("denied flow must not install a credential")
	}
	if store.storedFlow() != nil {
		t.Error("expected flow to be cleared after denial")
	}
}

func TestPoller_ExpiredToken(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrDeviceFlowExpired}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateExpired {
		t.Fatalf("expected StateExpired, got %v", p.State())
	}
	if store.storedFlow() != nil {
		t.Error("expected flow to be cleared after expiry")
	}
}

func TestPoller_DeadlinePassed(t *testing.T) {
	flow := testFlow(200 * time.Millisecond)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrAuthorizationPending}}

	start := time.Now()
	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateExpired {
		t.Fatalf("expected StateExpired, got %v", p.State())
	}
	// The poller must not sleep a full interval past the deadline.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("poller overslept the deadline: %v", elapsed)
	}
	if store.storedFlow() != nil {
		t.Error("expected flow to be cleared after deadline")
	}
}

func TestPoller_ContextCancel(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrAuthorizationPending}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, ctx)

	if p.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", p.State())
	}
	if provider.callCount() != 0 {
		t.Errorf("cancelled poller should not have polled, got %d calls", provider.callCount())
	}
	if store.storedFlow() == nil {
		t.Error("cancelled poller must not clear the stored flow itself")
	}
}

func TestPoller_SupersededFlowStops(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	// The stored flow belongs to a newer authorization attempt.
	newer := testFlow(time.Minute)
	newer.FlowID = "flow-2"
	store.SetDeviceFlow(context.Background(), 1, &newer)
	provider := &scriptedPoller{results: []error{nil}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", p.State())
	}
	if provider.callCount() != 0 {
		t.Error("superseded poller should not reach the provider")
	}
	if store.completedCount() != 0 {
		t.Error("superseded poller must not install a credential")
	}
	if got := store.storedFlow(); got == nil || got.FlowID != "flow-2" {
		t.Error("superseded poller must not disturb the newer flow")
	}
}

func TestPoller_StaleSuccessIsDiscarded(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)

	// The flow is superseded while the winning poll is in flight.
	provider := &scriptedPoller{results: []error{nil}}
	provider.onSuccess = func() {
		newer := testFlow(time.Minute)
		newer.FlowID = "flow-2"
		store.SetDeviceFlow(context.Background(), 1, &newer)
	}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", p.State())
	}
	if store.completedCount() != 0 {
		t.Error("stale success must not install a credential")
	}
	if got := store.storedFlow(); got == nil || got.FlowID != "flow-2" {
		t.Error("stale success must leave the newer flow in place")
	}
}

func TestPoller_UnexpectedErrorStopsWithoutClearing(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{errors.New("connection reset")}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", p.State())
	}
	if store.storedFlow() == nil {
		t.Error("unexpected errors must leave the stored flow for manual retry")
	}
}

func TestPoller_TransientOutageIsRetried(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrProviderUnavailable, ErrProviderUnavailable, nil}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateSucceeded {
		t.Fatalf("expected StateSucceeded, got %v", p.State())
	}
	if provider.callCount() != 3 {
		t.Errorf("expected 3 polls, got %d", provider.callCount())
	}
	if store.completedCount() != 1 {
		t.Errorf("expected exactly one completed credential, got %d", store.completedCount())
	}
}

func TestPoller_PersistentOutageStopsWithoutClearing(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrProviderUnavailable}}

	p := NewPoller(provider, store, 1, flow, nil)
	runPoller(t, p, context.Background())

	if p.State() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", p.State())
	}
	if provider.callCount() != maxTransientPolls {
		t.Errorf("expected %d polls before giving up, got %d", maxTransientPolls, provider.callCount())
	}
	if store.storedFlow() == nil {
		t.Error("a provider outage must leave the stored flow for manual retry")
	}
	if store.completedCount() != 0 {
		t.Error("no credential must be installed during an outage")
	}
}

func TestPoller_SlowDownWidensInterval(t *testing.T) {
	flow := testFlow(time.Minute)
	store := &memFlowStore{}
	store.SetDeviceFlow(context.Background(), 1, &flow)
	provider := &scriptedPoller{results: []error{ErrSlowDown, ErrAuthorizationPending}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPoller(provider, store, 1, flow, nil)
	go p.Run(ctx)

	// Wait until the slow_down response has been observed.
	deadline := time.After(5 * time.Second)
	for p.State() != StateSlowed {
		select {
		case <-deadline:
			t.Fatal("poller never reached StateSlowed")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// The next poll must wait the widened interval (1s base + 5s step).
	deadline = time.After(10 * time.Second)
	for provider.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("poller never polled again after slow_down")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	<-p.Done()

	times := provider.pollTimes()
	if gap := times[1].Sub(times[0]); gap < 5500*time.Millisecond {
		t.Errorf("expected the interval widened by the slow-down step, got %v between polls", gap)
	}

	if p.State() != StateStopped {
		t.Fatalf("expected StateStopped after cancel, got %v", p.State())
	}
}
