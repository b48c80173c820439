package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"goa.design/pulse/rmap"

	"github.com/strandworks/strand/runtime/agent/model"
)

type stubModelClient struct {
	err   error
	calls int
}

func (c *stubModelClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	c.calls++
	if c.err != nil {
		return model.Response{}, c.err
	}
	return model.Response{Message: model.AssistantMessage("ok")}, nil
}

func rateLimitedErr() error {
	return model.NewProviderError("anthropic", "messages.new", 429, model.ProviderErrorKindRateLimited, "", "throttled", true, nil)
}

func (l *AdaptiveRateLimiter) tpm() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func TestBackoffHalvesBudget(t *testing.T) {
	l := newLocalLimiter(60000, 120000)

	l.backoff()
	if got := l.tpm(); got != 30000 {
		t.Fatalf("tpm = %v, want 30000", got)
	}

	// Bounded below at 10% of the initial budget.
	for i := 0; i < 10; i++ {
		l.backoff()
	}
	if got := l.tpm(); got != 6000 {
		t.Fatalf("tpm = %v, want floor 6000", got)
	}
}

func TestProbeRecoversBudget(t *testing.T) {
	l := newLocalLimiter(60000, 63000)
	l.backoff()

	l.probe()
	if got := l.tpm(); got != 33000 {
		t.Fatalf("tpm = %v, want 33000", got)
	}

	// Bounded above at maxTPM.
	for i := 0; i < 20; i++ {
		l.probe()
	}
	if got := l.tpm(); got != 63000 {
		t.Fatalf("tpm = %v, want ceiling 63000", got)
	}
}

func TestReplaceTPMClamps(t *testing.T) {
	l := newLocalLimiter(60000, 120000)

	l.replaceTPM(1)
	if got := l.tpm(); got != 6000 {
		t.Fatalf("tpm = %v, want clamp to 6000", got)
	}
	l.replaceTPM(1e9)
	if got := l.tpm(); got != 120000 {
		t.Fatalf("tpm = %v, want clamp to 120000", got)
	}
	l.replaceTPM(45000)
	if got := l.tpm(); got != 45000 {
		t.Fatalf("tpm = %v, want 45000", got)
	}
}

func TestMiddlewareAdjustsOnOutcome(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), nil, "", 600000, 1200000)
	stub := &stubModelClient{err: rateLimitedErr()}
	client := l.Middleware()(stub)

	req := model.Request{Messages: []model.Message{model.UserMessage("hi")}}
	if _, err := client.Complete(context.Background(), req); err == nil {
		t.Fatal("expected rate limit error")
	}
	if got := l.tpm(); got != 300000 {
		t.Fatalf("tpm = %v, want halved 300000", got)
	}

	stub.err = nil
	if _, err := client.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := l.tpm(); got != 330000 {
		t.Fatalf("tpm = %v, want probed 330000", got)
	}
	if stub.calls != 2 {
		t.Fatalf("calls = %d, want 2", stub.calls)
	}
}

func TestMiddlewareIgnoresOtherErrors(t *testing.T) {
	l := NewAdaptiveRateLimiter(context.Background(), nil, "", 600000, 1200000)
	stub := &stubModelClient{err: model.NewProviderError("anthropic", "messages.new", 401, model.ProviderErrorKindAuth, "", "bad key", false, nil)}
	client := l.Middleware()(stub)

	req := model.Request{Messages: []model.Message{model.UserMessage("hi")}}
	if _, err := client.Complete(context.Background(), req); err == nil {
		t.Fatal("expected auth error")
	}
	if got := l.tpm(); got != 600000 {
		t.Fatalf("tpm = %v, want unchanged 600000", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(model.Request{}); got != 500 {
		t.Fatalf("empty request estimate = %d, want 500", got)
	}
	req := model.Request{Messages: []model.Message{
		model.UserMessage("aaaaaaaaa"), // 9 chars
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{Arguments: "bbbbbb"}}}, // 6 chars
	}}
	if got := estimateTokens(req); got != 505 {
		t.Fatalf("estimate = %d, want 505", got)
	}
}

type fakeBudgetMap struct {
	mu     sync.Mutex
	values map[string]string
	events chan rmap.EventKind
}

func newFakeBudgetMap() *fakeBudgetMap {
	return &fakeBudgetMap{
		values: make(map[string]string),
		events: make(chan rmap.EventKind, 8),
	}
}

func (f *fakeBudgetMap) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeBudgetMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeBudgetMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.values[key]
	if prev == test {
		f.values[key] = value
	}
	return prev, nil
}

func (f *fakeBudgetMap) Subscribe() <-chan rmap.EventKind { return f.events }

func (f *fakeBudgetMap) set(key, value string) {
	f.mu.Lock()
	f.values[key] = value
	f.mu.Unlock()
	f.events <- rmap.EventChange
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestClusterLimiterSharesBudget(t *testing.T) {
	m := newFakeBudgetMap()
	l := newClusterLimiter(context.Background(), m, "anthropic_tpm", 60000, 120000)

	// The shared budget is seeded from the initial TPM.
	if v, ok := m.Get("anthropic_tpm"); !ok || v != "60000" {
		t.Fatalf("seeded budget = %q, %v", v, ok)
	}

	// A local backoff propagates to the shared map.
	l.backoff()
	waitFor(t, func() bool {
		v, _ := m.Get("anthropic_tpm")
		return v == "30000"
	})

	// An external update reconciles the local limiter.
	m.set("anthropic_tpm", "45000")
	waitFor(t, func() bool { return l.tpm() == 45000 })
}

func TestClusterLimiterJoinsExistingBudget(t *testing.T) {
	m := newFakeBudgetMap()
	m.mu.Lock()
	m.values["anthropic_tpm"] = "12000"
	m.mu.Unlock()

	l := newClusterLimiter(context.Background(), m, "anthropic_tpm", 60000, 120000)
	if got := l.tpm(); got != 12000 {
		t.Fatalf("tpm = %v, want shared 12000", got)
	}
}
