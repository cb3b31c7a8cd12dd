package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-station-feed/internal/feed"
	"github.com/i474232898/weather-station-feed/internal/station"
)

const (
	DefaultInitialDelay = 1 * time.Minute
	DefaultSuccessDelay = 10 * time.Minute
	DefaultFailureDelay = 2 * time.Minute
)

// Fetcher retrieves the raw feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) feed.Result
}

// Extractor turns a payload into a snapshot.
type Extractor func(payload []byte) (station.Snapshot, error)

// Scheduler runs fn once after d.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Observer is a host-owned projection of the current snapshot.
type Observer interface {
	// LoadData updates the observer from snap and reports whether it
	// should be refreshed.
	LoadData(snap station.Snapshot) bool
	// Refresh propagates the observer's value to the host.
	Refresh(ctx context.Context) error
}

// Timing holds the rescheduling delays.
type Timing struct {
	Initial time.Duration
	Success time.Duration
	Failure time.Duration
}

// DefaultTiming returns 1m initial, 10m after success, 2m after failure.
func DefaultTiming() Timing {
	return Timing{
		Initial: DefaultInitialDelay,
		Success: DefaultSuccessDelay,
		Failure: DefaultFailureDelay,
	}
}

// Status is the engine's cycle bookkeeping.
type Status struct {
	Cycles              int       `json:"cycles"`
	LastAttempt         time.Time `json:"lastAttempt,omitzero"`
	LastSuccess         time.Time `json:"lastSuccess,omitzero"`
	LastError           string    `json:"lastError,omitzero"`
	LastStatusCode      int       `json:"lastStatusCode,omitzero"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	NextRun             time.Time `json:"nextRun,omitzero"`
}

// Engine owns the fetch, extract, publish, reschedule cycle for one feed.
//
// A cycle is only armed from Start or from the end of the previous cycle,
// so at most one is ever in flight or pending.
type Engine struct {
	url       string
	fetcher   Fetcher
	extract   Extractor
	scheduler Scheduler
	observers []Observer
	timing    Timing
	logger    *slog.Logger
	now       func() time.Time

	ctx     context.Context
	current atomic.Pointer[station.Snapshot]

	mu     sync.RWMutex
	status Status
}

// Option customizes an Engine.
type Option func(*Engine)

// WithExtractor replaces station.Extract.
func WithExtractor(x Extractor) Option {
	return func(e *Engine) { e.extract = x }
}

// WithClock replaces time.Now for stamping snapshots and status.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine polling url.
func New(url string, fetcher Fetcher, scheduler Scheduler, observers []Observer, timing Timing, opts ...Option) *Engine {
	e := &Engine{
		url:       url,
		fetcher:   fetcher,
		extract:   station.Extract,
		scheduler: scheduler,
		observers: observers,
		timing:    timing,
		logger:    slog.Default(),
		now:       time.Now,
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start arms the first cycle after the initial delay. Cycles stop being
// scheduled once ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.ctx = ctx
	e.logger.Debug("initializing station feed", "url", e.url, "sensors", len(e.observers))
	e.schedule(e.timing.Initial)
}

// Snapshot returns the current snapshot and whether a cycle has succeeded yet.
func (e *Engine) Snapshot() (station.Snapshot, bool) {
	snap := e.current.Load()
	if snap == nil {
		return station.Snapshot{}, false
	}
	return *snap, true
}

// Status returns a copy of the cycle bookkeeping.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// RunOnce performs a single fetch, extract and publish without scheduling
// another cycle. On failure the current snapshot is left untouched and no
// observer is refreshed.
func (e *Engine) RunOnce(ctx context.Context) error {
	logger := e.logger.With("cycle", uuid.NewString())
	started := e.now()

	e.mu.Lock()
	e.status.Cycles++
	e.status.LastAttempt = started
	e.mu.Unlock()

	logger.Debug("calling url", "url", e.url)
	res := e.fetcher.Fetch(ctx, e.url)
	if !res.OK() {
		logger.Warn("unable to retrieve data from station feed",
			"msg", res.Err.Error(),
			"status", res.StatusCode,
			"latency", res.Latency,
		)
		e.recordFailure(res.Err, res.StatusCode)
		return res.Err
	}

	snap, err := e.extract(res.Body)
	if err != nil {
		logger.Warn("unable to parse station feed", "msg", err.Error(), "status", res.StatusCode)
		e.recordFailure(err, res.StatusCode)
		return err
	}

	snap = snap.At(started)
	e.current.Store(&snap)
	e.updateObservers(ctx, logger, snap)

	e.mu.Lock()
	e.status.LastSuccess = started
	e.status.LastError = ""
	e.status.LastStatusCode = res.StatusCode
	e.status.ConsecutiveFailures = 0
	e.mu.Unlock()

	logger.Debug("station feed updated", "metrics", snap.Len(), "latency", res.Latency)
	return nil
}

func (e *Engine) update() {
	if err := e.ctx.Err(); err != nil {
		e.logger.Debug("engine stopped, not running scheduled update", "reason", err)
		return
	}

	if err := e.RunOnce(e.ctx); err != nil {
		e.schedule(e.timing.Failure)
		return
	}
	e.schedule(e.timing.Success)
}

func (e *Engine) schedule(d time.Duration) {
	next := e.now().Add(d)

	e.mu.Lock()
	e.status.NextRun = next
	e.mu.Unlock()

	e.logger.Debug("scheduling next update", "in", d, "at", next)
	e.scheduler.After(d, e.update)
}

// updateObservers refreshes every observer concurrently and returns once
// all of them are done.
func (e *Engine) updateObservers(ctx context.Context, logger *slog.Logger, snap station.Snapshot) {
	var wg sync.WaitGroup
	for i, obs := range e.observers {
		i, obs := i, obs
		if !obs.LoadData(snap) {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("observer refresh panicked",
						"observer", i,
						"panic", fmt.Sprint(r),
						"stack", string(debug.Stack()),
					)
				}
			}()

			if err := obs.Refresh(ctx); err != nil {
				logger.Warn("observer refresh failed", "observer", i, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) recordFailure(err error, statusCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.LastError = err.Error()
	e.status.LastStatusCode = statusCode
	e.status.ConsecutiveFailures++
}
