package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock provisioner ---

type mockProvisioner struct {
	provisionFunc func(ctx context.Context, request Request) (Receipt, error)

	mu       sync.Mutex
	requests []Request
}

func (p *mockProvisioner) Provision(ctx context.Context, request Request) (Receipt, error) {
	p.mu.Lock()
	p.requests = append(p.requests, request)
	p.mu.Unlock()

	if p.provisionFunc != nil {
		return p.provisionFunc(ctx, request)
	}
	return Receipt{Message: "ok"}, nil
}

// failUntil returns a provision func that fails every flavor except the
// one given, with a per-flavor diagnostic.
func failUntil(winner string) func(ctx context.Context, request Request) (Receipt, error) {
	return func(_ context.Context, request Request) (Receipt, error) {
		if request.Flavor == winner {
			return Receipt{Message: "ok"}, nil
		}
		return Receipt{}, fmt.Errorf("no capacity for flavor '%s'", request.Flavor)
	}
}

// --- Helpers ---

func newTestSpec() Spec {
	return Spec{
		Pool:        "workers",
		Count:       3,
		MinCount:    1,
		MaxCount:    5,
		ImageFamily: "ubuntu-lts",
	}
}

func mustCandidates(t *testing.T, primary string, fallbacks ...string) []Candidate {
	t.Helper()
	candidates, err := Candidates(primary, fallbacks...)
	require.NoError(t, err)
	return candidates
}

// --- Run ---

func TestRun_PrimarySucceeds(t *testing.T) {
	prov := &mockProvisioner{}
	e := New(prov, Config{})

	result, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large", "m1.medium", "m1.small"))
	require.NoError(t, err)

	assert.True(t, result.Provisioned)
	assert.Equal(t, "m1.large", result.Candidate.Flavor)
	assert.Equal(t, 1, result.Candidate.Rank)
	require.Len(t, result.Attempts, 1, "fallbacks must not be attempted after a success")
	assert.True(t, result.Attempts[0].Success)
	require.Len(t, prov.requests, 1)
}

func TestRun_FallbackToSecondary(t *testing.T) {
	prov := &mockProvisioner{provisionFunc: failUntil("m1.medium")}
	e := New(prov, Config{})

	result, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large", "m1.medium", "m1.small"))
	require.NoError(t, err)

	assert.True(t, result.Provisioned)
	assert.Equal(t, "m1.medium", result.Candidate.Flavor)
	assert.Equal(t, 2, result.Candidate.Rank)

	require.Len(t, result.Attempts, 2)
	assert.False(t, result.Attempts[0].Success)
	assert.Equal(t, "no capacity for flavor 'm1.large'", result.Attempts[0].Diagnostic)
	assert.True(t, result.Attempts[1].Success)

	require.Len(t, prov.requests, 2, "the tertiary flavor must never be invoked")
}

func TestRun_Exhausted(t *testing.T) {
	prov := &mockProvisioner{provisionFunc: failUntil("none-of-them")}
	e := New(prov, Config{})

	result, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large", "m1.medium", "m1.small"))

	var exhErr ExhaustionError
	require.ErrorAs(t, err, &exhErr)
	assert.False(t, result.Provisioned)

	require.Len(t, result.Attempts, 3)
	assert.Equal(t, result.Attempts, exhErr.Attempts)
	for i, flavor := range []string{"m1.large", "m1.medium", "m1.small"} {
		assert.Equal(t, flavor, result.Attempts[i].Candidate.Flavor)
		assert.Equal(t, i+1, result.Attempts[i].Candidate.Rank)
		assert.False(t, result.Attempts[i].Success)
		assert.Equal(t, fmt.Sprintf("no capacity for flavor '%s'", flavor), result.Attempts[i].Diagnostic, "diagnostics must be preserved verbatim")
	}
}

func TestRun_SingleCandidate(t *testing.T) {
	prov := &mockProvisioner{provisionFunc: failUntil("nope")}
	e := New(prov, Config{})

	result, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large"))

	var exhErr ExhaustionError
	require.ErrorAs(t, err, &exhErr)
	require.Len(t, result.Attempts, 1)
}

func TestRun_EachCandidateAttemptedExactlyOnce(t *testing.T) {
	prov := &mockProvisioner{provisionFunc: failUntil("nope")}
	e := New(prov, Config{})

	_, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large", "m1.medium"))
	require.Error(t, err)

	flavors := lo.Map(prov.requests, func(r Request, _ int) string { return r.Flavor })
	assert.Equal(t, []string{"m1.large", "m1.medium"}, flavors)
}

func TestRun_RequestMergesSpecAndCandidate(t *testing.T) {
	prov := &mockProvisioner{}
	e := New(prov, Config{})

	spec := newTestSpec()
	spec.Zones = []string{"zone-a", "zone-b"}
	spec.Labels = map[string]string{"team": "ci"}
	spec.Taints = []string{"dedicated=ci:NoSchedule"}
	spec.Spot = true
	spec.ImageVersion = "24.04"
	spec.CredentialsRef = "pool-identity"

	_, err := e.Run(context.Background(), spec, mustCandidates(t, "m1.large"))
	require.NoError(t, err)

	require.Len(t, prov.requests, 1)
	request := prov.requests[0]
	assert.Equal(t, "workers", request.Pool)
	assert.Equal(t, "m1.large", request.Flavor)
	assert.Equal(t, 1, request.Rank)
	assert.Equal(t, spec.Zones, request.Zones)
	assert.Equal(t, spec.Labels, request.Labels)
	assert.Equal(t, spec.Taints, request.Taints)
	assert.True(t, request.Spot)
	assert.Equal(t, "ubuntu-lts", request.ImageFamily)
	assert.Equal(t, "24.04", request.ImageVersion)
	assert.Equal(t, "pool-identity", request.CredentialsRef)
}

func TestRun_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		prov := &mockProvisioner{provisionFunc: failUntil("m1.small")}
		e := New(prov, Config{})

		result, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large", "m1.medium", "m1.small"))
		require.NoError(t, err)
		assert.Equal(t, "m1.small", result.Candidate.Flavor)
		require.Len(t, result.Attempts, 3)
	}
}

func TestRun_ReceiptCarriedThrough(t *testing.T) {
	receipt := Receipt{Message: "3 servers online", Details: map[string]string{"workers-0": "id-0"}}
	prov := &mockProvisioner{provisionFunc: func(context.Context, Request) (Receipt, error) {
		return receipt, nil
	}}
	e := New(prov, Config{})

	result, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large"))
	require.NoError(t, err)
	assert.Equal(t, receipt, result.Receipt)
	assert.Equal(t, receipt, result.Attempts[0].Receipt)
}

func TestRun_CancelledContextIsRecordedAsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prov := &mockProvisioner{provisionFunc: func(ctx context.Context, _ Request) (Receipt, error) {
		return Receipt{}, ctx.Err()
	}}
	e := New(prov, Config{})

	result, err := e.Run(ctx, newTestSpec(), mustCandidates(t, "m1.large", "m1.medium"))

	var exhErr ExhaustionError
	require.ErrorAs(t, err, &exhErr)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, context.Canceled.Error(), result.Attempts[0].Diagnostic)
}

// --- Configuration errors ---

func TestRun_InvalidSpec(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"empty pool", func(s *Spec) { s.Pool = "" }},
		{"empty image family", func(s *Spec) { s.ImageFamily = "" }},
		{"zero count", func(s *Spec) { s.Count = 0 }},
		{"count below min", func(s *Spec) { s.MinCount = 4 }},
		{"count above max", func(s *Spec) { s.MaxCount = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := &mockProvisioner{}
			e := New(prov, Config{})

			spec := newTestSpec()
			tt.mutate(&spec)

			result, err := e.Run(context.Background(), spec, mustCandidates(t, "m1.large"))

			var confErr ConfigurationError
			require.ErrorAs(t, err, &confErr)
			assert.Empty(t, result.Attempts, "no attempt may be made on invalid configuration")
			assert.Empty(t, prov.requests, "the provisioner must never be invoked")
		})
	}
}

func TestRun_NoCandidates(t *testing.T) {
	prov := &mockProvisioner{}
	e := New(prov, Config{})

	_, err := e.Run(context.Background(), newTestSpec(), nil)

	var confErr ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Empty(t, prov.requests)
}

// --- Errors ---

func TestExhaustionError_MessageListsEveryDiagnostic(t *testing.T) {
	err := ExhaustionError{Attempts: []Attempt{
		{Candidate: Candidate{Flavor: "m1.large", Rank: 1}, Diagnostic: "no capacity"},
		{Candidate: Candidate{Flavor: "m1.small", Rank: 2}, Diagnostic: "quota exceeded"},
	}}
	assert.Equal(t, "all 2 flavors failed: m1.large: no capacity; m1.small: quota exceeded", err.Error())
}

func TestConfigurationError_Message(t *testing.T) {
	_, err := Candidates("")
	require.Error(t, err)
	assert.Equal(t, "invalid configuration: primary flavor must not be empty", err.Error())

	var exhErr ExhaustionError
	assert.False(t, errors.As(err, &exhErr))
}

// --- Events ---

func collect(events <-chan Event, n int) []Event {
	collected := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		collected = append(collected, <-events)
	}
	return collected
}

func TestSubscribe_FallbackRun(t *testing.T) {
	prov := &mockProvisioner{provisionFunc: failUntil("m1.medium")}
	e := New(prov, Config{})

	events, unsub := e.Subscribe()
	defer unsub()

	_, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large", "m1.medium"))
	require.NoError(t, err)

	got := collect(events, 4)
	assert.Equal(t, EventAttemptStarted{Pool: "workers", Flavor: "m1.large", Rank: 1, Total: 2}, got[0])
	assert.Equal(t, EventAttemptFailed{Pool: "workers", Flavor: "m1.large", Rank: 1, Diagnostic: "no capacity for flavor 'm1.large'"}, got[1])
	assert.Equal(t, EventAttemptStarted{Pool: "workers", Flavor: "m1.medium", Rank: 2, Total: 2}, got[2])
	assert.Equal(t, EventAttemptSucceeded{Pool: "workers", Flavor: "m1.medium", Rank: 2, Message: "ok"}, got[3])
}

func TestSubscribe_ExhaustedRun(t *testing.T) {
	prov := &mockProvisioner{provisionFunc: failUntil("nope")}
	e := New(prov, Config{})

	events, unsub := e.Subscribe()
	defer unsub()

	_, err := e.Run(context.Background(), newTestSpec(), mustCandidates(t, "m1.large"))
	require.Error(t, err)

	got := collect(events, 3)
	assert.IsType(t, EventAttemptStarted{}, got[0])
	assert.IsType(t, EventAttemptFailed{}, got[1])
	assert.Equal(t, EventExhausted{Pool: "workers", Attempts: 1}, got[2])
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	e := New(&mockProvisioner{}, Config{})

	events, unsub := e.Subscribe()
	unsub()

	_, open := <-events
	assert.False(t, open)
}
