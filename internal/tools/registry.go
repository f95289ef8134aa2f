package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	recerrors "github.com/BetterCallFirewall/Hackerecon/internal/errors"
)

// Registry holds one resilience-wrapped Provider per tool name.
// The start of each per-tool invocation is throttled by a rate limiter
// token bucket (spec.md §5 "Tool invocations are rate-limited per
// tool"); invocations are not serialized, so calls to the same tool can
// run concurrently. Each tool is also
// protected by a circuit breaker so a wedged tool cannot starve a
// whole phase.
type Registry struct {
	mu        sync.RWMutex
	providers map[Name]Provider
	limiters  map[Name]*rate.Limiter
	breakers  map[Name]*gobreaker.CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Name]Provider),
		limiters:  make(map[Name]*rate.Limiter),
		breakers:  make(map[Name]*gobreaker.CircuitBreaker),
	}
}

// Register installs a provider for a tool with a requests-per-second
// rate limit (burst of 1 rps-worth).
func (r *Registry) Register(name Name, p Provider, rps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	if rps <= 0 {
		rps = 5
	}
	r.limiters[name] = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	r.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(name),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Invoke calls the named tool, applying rate limiting, a circuit
// breaker, and retry (spec.md §7 "Retries": up to 2 retries, 250ms
// then 1s backoff) before surfacing a typed ReconError on failure.
// Only retryable ReconErrors are retried: a ReconError the provider
// returns itself (such as a network-family error) is passed through
// unchanged, and any other provider error becomes a non-retryable E202.
func (r *Registry) Invoke(ctx context.Context, stage string, name Name, args any) (json.RawMessage, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	limiter := r.limiters[name]
	cb := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, recerrors.Tool(recerrors.EToolNotFound, stage, fmt.Sprintf("tool %q not registered", name), nil)
	}

	if err := limiter.Wait(ctx); err != nil {
		return nil, recerrors.Network(recerrors.ENetworkTimeout, stage, "rate limiter wait cancelled", err)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, recerrors.Internal(recerrors.EInternalSerialization, stage, "failed to marshal tool args", err)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMultiplier(4),
		backoff.WithRandomizationFactor(0),
	), 2)

	var result json.RawMessage
	op := func() error {
		out, cbErr := cb.Execute(func() (any, error) {
			return p.Invoke(ctx, payload)
		})
		if cbErr != nil {
			if cbErr == gobreaker.ErrOpenState || cbErr == gobreaker.ErrTooManyRequests {
				return recerrors.Service(recerrors.EServiceUnavailable, stage, fmt.Sprintf("tool %q circuit open", name), cbErr)
			}
			var typed *recerrors.ReconError
			if recerrors.As(cbErr, &typed) {
				return cbErr
			}
			return recerrors.Tool(recerrors.EToolExecFailed, stage, fmt.Sprintf("tool %q invocation failed", name), cbErr)
		}
		result = out.(json.RawMessage)
		return nil
	}

	if err := backoff.Retry(retryableOnly(op), bo); err != nil {
		return nil, err
	}
	return result, nil
}

// retryableOnly wraps op so backoff only retries errors the taxonomy
// marks retryable; anything else is returned as a backoff.Permanent
// error so it surfaces immediately.
func retryableOnly(op backoff.Operation) backoff.Operation {
	return func() error {
		err := op()
		if err == nil {
			return nil
		}
		var re *recerrors.ReconError
		if recerrors.As(err, &re) && re.Retryable {
			return err
		}
		return backoff.Permanent(err)
	}
}
