package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jun/drivebot/internal/model"
)

// scriptedProvider hands out device codes and delegates polling to a
// scriptedPoller.
type scriptedProvider struct {
	*scriptedPoller
	grant *DeviceCodeGrant
}

func (s *scriptedProvider) RequestDeviceCode(ctx context.Context) (*DeviceCodeGrant, error) {
	g := *s.grant
	return &g, nil
}

func newScriptedProvider(results ...error) *scriptedProvider {
	return &scriptedProvider{
		scriptedPoller: &scriptedPoller{results: results},
		grant: &DeviceCodeGrant{
			DeviceCode:      "dc-1",
			UserCode:        "ABCD-EFGH",
			VerificationURL: "https://www.google.com/device",
			ExpiresIn:       60,
			Interval:        1,
		},
	}
}

func waitForPoller(t *testing.T, p *Poller) {
	t.Helper()
	if p == nil {
		t.Fatal("expected an active poller")
	}
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("poller did not terminate")
	}
}

func TestAuthorizer_BeginPersistsFlow(t *testing.T) {
	store := &memFlowStore{}
	provider := newScriptedProvider(ErrAuthorizationPending)
	a := NewAuthorizer(provider, store, nil)
	defer a.Shutdown()

	flow, err := a.Begin(context.Background(), 1)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if flow.FlowID == "" {
		t.Error("expected a generated FlowID")
	}
	if flow.UserCode != "ABCD-EFGH" {
		t.Errorf("unexpected user code %q", flow.UserCode)
	}
	if flow.ExpiresAt.Before(time.Now().Add(30 * time.Second)) {
		t.Error("expected expiry derived from ExpiresIn")
	}

	stored := store.storedFlow()
	if stored == nil || stored.FlowID != flow.FlowID {
		t.Error("expected the flow to be persisted")
	}
	if a.ActivePoller(1) == nil {
		t.Error("expected an active poller after Begin")
	}
}

func TestAuthorizer_BeginThenCancel(t *testing.T) {
	store := &memFlowStore{}
	provider := newScriptedProvider(ErrAuthorizationPending)
	a := NewAuthorizer(provider, store, nil)
	defer a.Shutdown()

	_, err := a.Begin(context.Background(), 1)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	poller := a.ActivePoller(1)

	if err := a.Cancel(context.Background(), 1); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForPoller(t, poller)

	if poller.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", poller.State())
	}
	if store.storedFlow() != nil {
		t.Error("expected the stored flow to be cleared")
	}
	if store.completedCount() != 0 {
		t.Error("cancelled flow must not install a credential")
	}
	if a.ActivePoller(1) != nil {
		t.Error("expected no active poller after Cancel")
	}
}

func TestAuthorizer_SecondBeginSupersedesFirst(t *testing.T) {
	store := &memFlowStore{}
	provider := newScriptedProvider(ErrAuthorizationPending)
	a := NewAuthorizer(provider, store, nil)
	defer a.Shutdown()

	first, err := a.Begin(context.Background(), 1)
	if err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	firstPoller := a.ActivePoller(1)

	second, err := a.Begin(context.Background(), 1)
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if first.FlowID == second.FlowID {
		t.Fatal("expected a fresh FlowID for the second flow")
	}

	waitForPoller(t, firstPoller)
	if firstPoller.State() != StateStopped {
		t.Errorf("expected first poller stopped, got %v", firstPoller.State())
	}

	stored := store.storedFlow()
	if stored == nil || stored.FlowID != second.FlowID {
		t.Error("expected the second flow to be the stored one")
	}
}

func TestAuthorizer_SuccessInvokesOutcome(t *testing.T) {
	store := &memFlowStore{}
	provider := newScriptedProvider(nil) // immediate success
	a := NewAuthorizer(provider, store, nil)
	defer a.Shutdown()

	var mu sync.Mutex
	var gotState State
	outcome := make(chan struct{})
	a.OnOutcome = func(userID int64, flow model.DeviceFlowState, state State) {
		mu.Lock()
		gotState = state
		mu.Unlock()
		close(outcome)
	}

	if _, err := a.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	select {
	case <-outcome:
	case <-time.After(10 * time.Second):
		t.Fatal("outcome hook never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotState != StateSucceeded {
		t.Errorf("expected StateSucceeded, got %v", gotState)
	}
	if store.completedCount() != 1 {
		t.Errorf("expected one completed credential, got %d", store.completedCount())
	}
}

func TestAuthorizer_ResumeSkipsExpiredFlow(t *testing.T) {
	store := &memFlowStore{}
	expired := testFlow(-time.Minute)
	store.SetDeviceFlow(context.Background(), 1, &expired)

	provider := newScriptedProvider(ErrAuthorizationPending)
	a := NewAuthorizer(provider, store, nil)
	defer a.Shutdown()

	a.Resume(context.Background(), 1, expired)

	if a.ActivePoller(1) != nil {
		t.Error("expected no poller for an expired flow")
	}
	if store.storedFlow() != nil {
		t.Error("expected the expired flow to be cleaned up")
	}
}

func TestAuthorizer_ResumeStartsPoller(t *testing.T) {
	store := &memFlowStore{}
	flow := testFlow(time.Minute)
	store.SetDeviceFlow(context.Background(), 1, &flow)

	provider := newScriptedProvider(ErrAuthorizationPending)
	a := NewAuthorizer(provider, store, nil)
	defer a.Shutdown()

	a.Resume(context.Background(), 1, flow)

	if a.ActivePoller(1) == nil {
		t.Error("expected a poller for a resumed flow")
	}
}

func TestAuthorizer_ShutdownStopsPollers(t *testing.T) {
	store := &memFlowStore{}
	provider := newScriptedProvider(ErrAuthorizationPending)
	a := NewAuthorizer(provider, store, nil)

	if _, err := a.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := a.Begin(context.Background(), 2); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
