// Package ratelimit provides a token bucket limiter with concurrency slots for remote calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/utils"
)

// BufferFactor scales the bucket capacity below the nominal per-minute rate to absorb
// token estimation error.
const BufferFactor = 0.9

const (
	refillInterval = 6 * time.Second // 10 refills per minute
	pollInterval   = 100 * time.Millisecond
)

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire atomically acquires tokens and a concurrency slot, blocking until both
	// are available or ctx is done. The returned release function returns the slot.
	Acquire(ctx context.Context, tokens int, caller string) (release func(), err error)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// Config defines rate limiting for one dependency.
type Config struct {
	TokensPerMinute int           `json:"tokens_per_minute"`
	MaxConcurrency  int           `json:"max_concurrency"`
	MaxWait         time.Duration `json:"max_wait"` // Give up acquiring after this long; 0 = 2 minutes
}

// DefaultTokenEstimator counts prompt tokens with the tiktoken encoding closest to a model.
type DefaultTokenEstimator struct {
	counter *utils.TokenCounter
}

// NewDefaultTokenEstimator estimates with the cl100k encoding.
func NewDefaultTokenEstimator() TokenEstimator {
	return NewTokenEstimatorForModel("")
}

// NewTokenEstimatorForModel estimates with model's encoding. A counter that fails to
// load degrades to the 4-chars-per-token estimate.
func NewTokenEstimatorForModel(model string) TokenEstimator {
	return &DefaultTokenEstimator{counter: utils.ForModel(model)}
}

// EstimatePrompt counts message content, tool call arguments and tool results, plus
// chat framing. An empty request costs nothing.
//
//nolint:gocritic // request passed by value to match the LLMClient signature
func (e *DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	if len(req.Messages) == 0 {
		return 0
	}
	contents := make([]string, 0, len(req.Messages))
	for i := range req.Messages {
		msg := &req.Messages[i]
		contents = append(contents, msg.Content)
		for j := range msg.ToolCalls {
			contents = append(contents, msg.ToolCalls[j].Name+fmt.Sprint(msg.ToolCalls[j].Parameters))
		}
		for j := range msg.ToolResults {
			contents = append(contents, msg.ToolResults[j].Content)
		}
	}
	return e.counter.CountMessages(contents...)
}

// acquisition tracks a single concurrency slot acquisition for cleanup purposes.
type acquisition struct {
	timestamp time.Time
	caller    string
}

// TokenBucketLimiter implements rate limiting using a token bucket algorithm
// combined with concurrency limiting.
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type TokenBucketLimiter struct {
	mu     sync.Mutex
	name   string
	logger *logx.Logger

	availableTokens int // Current tokens available
	tokensPerRefill int // tokens_per_minute / 10
	maxCapacity     int // tokens_per_minute * BufferFactor

	activeRequests int
	maxConcurrency int
	acquisitions   []*acquisition
	releaseTimeout time.Duration // Slots held longer than this are force-released
	maxWait        time.Duration

	tokenLimitHits  int64
	concurrencyHits int64
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Name                string `json:"name"`
	AvailableTokens     int    `json:"available_tokens"`
	MaxCapacity         int    `json:"max_capacity"`
	ActiveRequests      int    `json:"active_requests"`
	MaxConcurrency      int    `json:"max_concurrency"`
	TokenLimitHits      int64  `json:"token_limit_hits"`
	ConcurrencyHits     int64  `json:"concurrency_hits"`
	TrackedAcquisitions int    `json:"tracked_acquisitions"`
}

// NewTokenBucketLimiter creates a limiter with a full bucket. requestTimeout bounds how
// long a slot may be held before it is considered leaked (2x requestTimeout).
func NewTokenBucketLimiter(name string, cfg Config, requestTimeout time.Duration) *TokenBucketLimiter {
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Minute
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	maxCapacity := int(float64(cfg.TokensPerMinute) * BufferFactor)

	return &TokenBucketLimiter{
		name:            name,
		logger:          logx.NewLogger("ratelimit"),
		availableTokens: maxCapacity,
		tokensPerRefill: cfg.TokensPerMinute / 10,
		maxCapacity:     maxCapacity,
		maxConcurrency:  maxConcurrency,
		acquisitions:    make([]*acquisition, 0),
		releaseTimeout:  requestTimeout * 2,
		maxWait:         maxWait,
	}
}

// Acquire atomically acquires both tokens and a concurrency slot.
// The returned release function must be called and is safe to call more than once.
// Requests larger than the bucket can never be served and fail immediately.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int, caller string) (func(), error) {
	if tokens > l.maxCapacity {
		return nil, fmt.Errorf("request of %d tokens exceeds %s bucket capacity %d", tokens, l.name, l.maxCapacity)
	}

	firstAttempt := true
	startTime := time.Now()

	for {
		l.mu.Lock()

		if l.activeRequests >= l.maxConcurrency {
			l.cleanStaleAcquisitions()
		}

		hasTokens := l.availableTokens >= tokens
		hasSlot := l.activeRequests < l.maxConcurrency

		if hasTokens && hasSlot {
			l.availableTokens -= tokens
			l.activeRequests++

			acq := &acquisition{timestamp: time.Now(), caller: caller}
			l.acquisitions = append(l.acquisitions, acq)
			l.mu.Unlock()

			var once sync.Once
			return func() { once.Do(func() { l.release(acq) }) }, nil
		}

		if elapsed := time.Since(startTime); elapsed > l.maxWait {
			l.mu.Unlock()
			return nil, fmt.Errorf("rate limit acquisition timeout after %v (requested %d tokens, max capacity %d, limiter: %s, caller: %s)",
				elapsed.Round(time.Second), tokens, l.maxCapacity, l.name, caller)
		}

		// Only the first miss is counted and logged.
		if firstAttempt {
			if !hasTokens {
				l.tokenLimitHits++
				l.logger.Info("⏳ %s token limit hit, waiting for refill (need %d, have %d, caller: %s)",
					l.name, tokens, l.availableTokens, caller)
			}
			if !hasSlot {
				l.concurrencyHits++
				l.logger.Info("⏳ %s concurrency limit hit, waiting for slot (active: %d/%d, caller: %s)",
					l.name, l.activeRequests, l.maxConcurrency, caller)
			}
			firstAttempt = false
		}

		l.mu.Unlock()

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case <-timer.C:
		}
	}
}

// release returns a concurrency slot. Tokens are consumed and not refunded.
func (l *TokenBucketLimiter) release(acq *acquisition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.acquisitions {
		if a == acq {
			l.acquisitions = append(l.acquisitions[:i], l.acquisitions[i+1:]...)
			l.activeRequests--
			return
		}
	}
	// Already force-released as stale.
}

// cleanStaleAcquisitions force-releases slots held past releaseTimeout. Called under lock.
func (l *TokenBucketLimiter) cleanStaleAcquisitions() {
	now := time.Now()
	cleaned := 0

	valid := make([]*acquisition, 0, len(l.acquisitions))
	for _, acq := range l.acquisitions {
		if now.Sub(acq.timestamp) > l.releaseTimeout {
			cleaned++
			l.activeRequests--
			l.logger.Error("Force-released stale concurrency slot after %v (limiter: %s, caller: %s)",
				l.releaseTimeout, l.name, acq.caller)
		} else {
			valid = append(valid, acq)
		}
	}
	l.acquisitions = valid

	if cleaned > 0 {
		l.logger.Warn("Cleaned %d stale concurrency slots for %s", cleaned, l.name)
	}
}

// Start refills the bucket every 6 seconds until ctx is done.
func (l *TokenBucketLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

// refill adds tokens to the bucket up to max capacity.
func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldTokens := l.availableTokens
	l.availableTokens += l.tokensPerRefill
	if l.availableTokens > l.maxCapacity {
		l.availableTokens = l.maxCapacity
	}
	if l.availableTokens != oldTokens {
		logx.Debug(context.Background(), "ratelimit", "%s bucket refilled: %d -> %d tokens (max: %d)",
			l.name, oldTokens, l.availableTokens, l.maxCapacity)
	}
}

// GetStats returns current limiter statistics.
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		Name:                l.name,
		AvailableTokens:     l.availableTokens,
		MaxCapacity:         l.maxCapacity,
		ActiveRequests:      l.activeRequests,
		MaxConcurrency:      l.maxConcurrency,
		TokenLimitHits:      l.tokenLimitHits,
		ConcurrencyHits:     l.concurrencyHits,
		TrackedAcquisitions: len(l.acquisitions),
	}
}
