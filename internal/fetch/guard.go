// Package fetch implements the request-token guard shared by the data
// controllers.
//
// Every parameter change mints a new token. A response is applied only when
// its token still matches the guard's current token; anything older is
// dropped silently. Nothing is ever cancelled on the transport side.
// Failures never clear the last good result.
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"raicat/internal/errs"
)

// Token identifies one request issued through a Guard. Zero means "none".
type Token uint64

// Outcome is what happened to a settled request.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
	OutcomeStale   Outcome = "stale"
)

// Request describes a fetch for observers.
type Request struct {
	Guard      string // unique per guard instance
	Controller string // "snapshot" or "series"
	Metric     string
	Key        string // query key, e.g. "dns/snapshot?date=2024-03-01"
	Token      Token
}

// Settlement is reported once per request when its response arrives.
type Settlement struct {
	Request
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Observer receives fetch lifecycle notifications. Implementations must not
// call back into the guard.
type Observer interface {
	FetchStarted(req Request)
	FetchSettled(s Settlement)
}

// State is a copy of a guard's fetch state.
type State[T any] struct {
	Token     Token
	Loading   bool
	Result    T
	HasResult bool
	Err       error
	Disposed  bool
}

// ErrorText returns the last error message, or "".
func (s State[T]) ErrorText() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Guard owns one controller's FetchState. It is safe for concurrent use.
type Guard[T any] struct {
	id       string
	name     string
	metric   string
	observer Observer
	logger   *slog.Logger
	onChange func()

	mu       sync.Mutex
	token    Token
	loading  bool
	last     T
	hasLast  bool
	lastErr  error
	disposed bool
	inflight sync.WaitGroup
}

// Options configures a Guard.
type Options struct {
	Controller string
	Metric     string
	Observer   Observer     // optional
	Logger     *slog.Logger // optional
	OnChange   func()       // optional, called after every applied or failed response
}

// NewGuard creates an idle guard with no result.
func NewGuard[T any](opts Options) *Guard[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard[T]{
		id:       uuid.NewString(),
		name:     opts.Controller,
		metric:   opts.Metric,
		observer: opts.Observer,
		logger:   logger,
		onChange: opts.OnChange,
	}
}

// Begin mints a new current token and marks the guard loading. Any response
// for an older token will be dropped. Returns 0 once disposed.
func (g *Guard[T]) Begin() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return 0
	}
	g.token++
	g.loading = true
	return g.token
}

// Resolve applies a response for tok. Results for a token that is no longer
// current are discarded; errors keep the previous result visible.
func (g *Guard[T]) Resolve(tok Token, v T, err error) Outcome {
	g.mu.Lock()
	if tok == 0 || tok != g.token || g.disposed {
		g.mu.Unlock()
		return OutcomeStale
	}
	g.loading = false
	outcome := OutcomeApplied
	if err != nil {
		g.lastErr = err
		outcome = OutcomeFailed
	} else {
		g.last = v
		g.hasLast = true
		g.lastErr = nil
	}
	onChange := g.onChange
	g.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return outcome
}

// Run begins a new request and performs fn on its own goroutine. key labels
// the request for observers and logs. It returns the minted token, or 0 when
// the guard has been disposed (fn is then not called).
func (g *Guard[T]) Run(ctx context.Context, key string, fn func(context.Context) (T, error)) Token {
	tok := g.Begin()
	if tok == 0 {
		return 0
	}
	req := Request{Guard: g.id, Controller: g.name, Metric: g.metric, Key: key, Token: tok}
	if g.observer != nil {
		g.observer.FetchStarted(req)
	}

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		start := time.Now()
		v, err := fn(ctx)
		outcome := g.Resolve(tok, v, err)
		elapsed := time.Since(start)

		switch outcome {
		case OutcomeStale:
			g.logger.Debug("stale response dropped", "controller", g.name, "metric", g.metric, "token", uint64(tok), "key", key)
		case OutcomeFailed:
			g.logger.Warn("fetch failed", "controller", g.name, "metric", g.metric, "token", uint64(tok), "key", key, "class", errs.Class(err), "err", err)
		default:
			g.logger.Debug("fetch applied", "controller", g.name, "metric", g.metric, "token", uint64(tok), "key", key, "elapsed", elapsed)
		}

		if g.observer != nil {
			s := Settlement{Request: req, Outcome: outcome, Elapsed: elapsed}
			if outcome == OutcomeFailed {
				s.Err = err
			}
			g.observer.FetchSettled(s)
		}
	}()
	return tok
}

// State returns a snapshot of the guard.
func (g *Guard[T]) State() State[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State[T]{
		Token:     g.token,
		Loading:   g.loading,
		Result:    g.last,
		HasResult: g.hasLast,
		Err:       g.lastErr,
		Disposed:  g.disposed,
	}
}

// Current returns the token a response must carry to be applied.
func (g *Guard[T]) Current() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// Dispose invalidates the current token so any in-flight response is
// dropped on arrival, and refuses further requests.
func (g *Guard[T]) Dispose() {
	g.mu.Lock()
	g.disposed = true
	g.token++
	g.loading = false
	g.mu.Unlock()
}

// Wait blocks until every goroutine started by Run has settled.
func (g *Guard[T]) Wait() {
	g.inflight.Wait()
}
