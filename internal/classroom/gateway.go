// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package classroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
)

// GatewayConfig controls the shared outbound request gate.
type GatewayConfig struct {
	// RequestsPerSecond is the throttle ceiling for calls to the
	// learning platform. Default: 10.
	RequestsPerSecond float64

	// Burst is the token-bucket burst size. Default: 1, which keeps
	// dispatch strictly paced instead of allowing bursts that trip the
	// platform's per-second limit.
	Burst int

	// QueueSize bounds the number of callers waiting for dispatch.
	// Default: 256.
	QueueSize int
}

// ErrGatewayClosed is returned for submissions after Stop.
var ErrGatewayClosed = errors.New("classroom: gateway is closed")

// ErrQueueFull is returned when the dispatch queue is at capacity.
var ErrQueueFull = errors.New("classroom: gateway queue is full")

// Gateway is the single serialized gate for every outbound call to the
// learning platform. All callers enqueue closures; one dispatcher
// goroutine executes them in order under a token-bucket throttle, and
// retries transient failures according to the classified retry policy.
//
// The platform enforces a small per-second burst limit alongside a
// per-minute quota. One shared gate for the whole process keeps
// concurrent course syncs, webhook fetches, and token refreshes from
// fanning out in parallel and cascading into rate-limit retries.
type Gateway struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	queue   chan *gatewayCall

	// wait blocks for a backoff delay; replaced in tests to avoid
	// real sleeps.
	wait func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// gatewayCall carries one enqueued closure and its completion channel.
type gatewayCall struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// NewGateway creates a stopped Gateway. Call Start before submitting.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	return &Gateway{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: newAPIBreaker("classroom-api"),
		queue:   make(chan *gatewayCall, cfg.QueueSize),
		wait:    waitFor,
	}
}

// Start launches the dispatcher goroutine. Safe to call once per Stop.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return errors.New("classroom: gateway already started")
	}

	g.stopCh = make(chan struct{})
	g.running = true
	g.wg.Add(1)
	go g.dispatch(g.stopCh)

	logging.Info().Msg("Classroom gateway started")
	return nil
}

// Stop halts the dispatcher. Queued calls that have not been dispatched
// fail with ErrGatewayClosed; the in-flight call runs to completion.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.stopCh)
	g.mu.Unlock()

	g.wg.Wait()
	logging.Info().Msg("Classroom gateway stopped")
}

// Submit enqueues fn and blocks until it has been dispatched, retried as
// its failures allow, and completed. The returned error is always a
// *ClassifiedError (or a context/lifecycle error).
func (g *Gateway) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return ErrGatewayClosed
	}
	stopCh := g.stopCh
	g.mu.Unlock()

	call := &gatewayCall{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case g.queue <- call:
		metrics.GatewayQueueDepth.Set(float64(len(g.queue)))
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrGatewayClosed
	default:
		metrics.GatewayRequests.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	}

	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		// The dispatcher will still run or abandon the call; the caller
		// stops waiting.
		return ctx.Err()
	}
}

// dispatch is the single consumer of the queue.
func (g *Gateway) dispatch(stopCh chan struct{}) {
	defer g.wg.Done()

	for {
		select {
		case <-stopCh:
			g.drain()
			return
		case call := <-g.queue:
			metrics.GatewayQueueDepth.Set(float64(len(g.queue)))

			if call.ctx.Err() != nil {
				call.done <- call.ctx.Err()
				continue
			}

			if err := g.limiter.Wait(call.ctx); err != nil {
				call.done <- err
				continue
			}

			call.done <- g.executeWithRetry(call.ctx, call.fn)
		}
	}
}

// drain fails all queued-but-undispatched calls on shutdown.
func (g *Gateway) drain() {
	for {
		select {
		case call := <-g.queue:
			call.done <- ErrGatewayClosed
		default:
			return
		}
	}
}

// executeWithRetry runs fn through the circuit breaker, consulting the
// error classifier on failure. Retryable failures are re-invoked after
// the classified backoff delay, up to MaxRetries re-invocations beyond
// the initial attempt. Each re-invocation re-acquires a rate token so
// retries stay inside the throttle ceiling.
func (g *Gateway) executeWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var classified *ClassifiedError

	for attempt := 0; ; attempt++ {
		_, err := g.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			metrics.GatewayRequests.WithLabelValues("success").Inc()
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GatewayRequests.WithLabelValues("rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
			return NewError(CodeUnavailable, err)
		}

		classified = Classify(err)

		if !classified.Retryable() || attempt >= classified.Retry.MaxRetries {
			metrics.GatewayRequests.WithLabelValues("failure").Inc()
			return classified
		}

		delay := BackoffDelay(classified.Retry, attempt)
		metrics.GatewayRetries.WithLabelValues(string(classified.Code)).Inc()
		logging.Warn().
			Str("code", string(classified.Code)).
			Int("attempt", attempt+1).
			Int("max_retries", classified.Retry.MaxRetries).
			Dur("delay", delay).
			Msg("Gateway retrying transient failure")

		if err := g.wait(ctx, delay); err != nil {
			return err
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
}

// waitFor is a cancellable sleep.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	}
}
