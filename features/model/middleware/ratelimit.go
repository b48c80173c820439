// Package middleware provides reusable model.Client middlewares such as
// adaptive rate limiting.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/strandworks/strand/runtime/agent/model"
)

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket on top
	// of a model.Client. It estimates the token cost of each request, blocks
	// callers until capacity is available, and adjusts its effective
	// tokens-per-minute budget in response to rate limiting signals from the
	// provider.
	//
	// The limiter is process-local by default. When constructed with a Pulse
	// replicated map it shares the budget across processes: a backoff or
	// probe in one process adjusts the shared budget, and every process
	// reconciles its local limiter on change notifications.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64
		recovery   float64

		onBackoff func(tpm float64)
		onProbe   func(tpm float64)
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}

	// budgetMap is the subset of rmap.Map used for cluster coordination.
	budgetMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapBudget struct {
		m *rmap.Map
	}
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// tokens-per-minute budget. When m and key are set it coordinates capacity
// across processes through the replicated map; otherwise it is
// process-local.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	var bm budgetMap
	if m != nil {
		bm = &rmapBudget{m: m}
	}
	return newClusterLimiter(ctx, bm, key, initialTPM, maxTPM)
}

// Middleware returns a model.Client middleware enforcing the limiter.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// Complete blocks until capacity is available, delegates, and feeds the
// outcome back into the limiter.
func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func newLocalLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recovery := initialTPM * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &AdaptiveRateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM: initialTPM,
		minTPM:     minTPM,
		maxTPM:     maxTPM,
		recovery:   recovery,
	}
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, model.ErrRateLimited) {
		l.backoff()
	}
}

// backoff halves the budget (multiplicative decrease), bounded below.
func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	if next == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.apply(next)
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// probe raises the budget by the recovery step (additive increase), bounded
// above.
func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	next := l.currentTPM + l.recovery
	if next > l.maxTPM {
		next = l.maxTPM
	}
	if next == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.apply(next)
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// apply must be called with the mutex held.
func (l *AdaptiveRateLimiter) apply(tpm float64) {
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// replaceTPM reconciles the local limiter with an externally updated budget,
// clamped to the configured range.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm != l.currentTPM {
		l.apply(tpm)
	}
}

// estimateTokens computes a cheap heuristic for the token cost of a request:
// roughly one token per three characters of message content plus a fixed
// buffer for system prompts and provider framing.
func estimateTokens(req model.Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
		for _, call := range m.ToolCalls {
			chars += len(call.Arguments)
		}
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

func newClusterLimiter(ctx context.Context, m budgetMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if key == "" || m == nil {
		return newLocalLimiter(initialTPM, maxTPM)
	}

	// Seed the shared budget when absent; a concurrent writer may win, the
	// refresh below reconciles.
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			return newLocalLimiter(initialTPM, maxTPM)
		}
	}
	shared := initialTPM
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			shared = v
		}
	}

	l := newLocalLimiter(shared, maxTPM)

	floor, ceiling, step := l.minTPM, l.maxTPM, l.recovery
	l.mu.Lock()
	l.onBackoff = func(float64) { go sharedBackoff(context.Background(), m, key, floor) }
	l.onProbe = func(float64) { go sharedProbe(context.Background(), m, key, step, ceiling) }
	l.mu.Unlock()

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				l.replaceTPM(v)
			}
		}
	}()

	return l
}

func sharedBackoff(ctx context.Context, m budgetMap, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

func sharedProbe(ctx context.Context, m budgetMap, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 || cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

func (b *rmapBudget) Get(key string) (string, bool) { return b.m.Get(key) }

func (b *rmapBudget) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return b.m.SetIfNotExists(ctx, key, value)
}

func (b *rmapBudget) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return b.m.TestAndSet(ctx, key, test, value)
}

func (b *rmapBudget) Subscribe() <-chan rmap.EventKind { return b.m.Subscribe() }
