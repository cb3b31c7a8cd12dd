package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-station-feed/internal/feed"
	"github.com/i474232898/weather-station-feed/internal/sensor"
	"github.com/i474232898/weather-station-feed/internal/station"
)

const testURL = "https://station.test/feed.xml"

var testTiming = Timing{Initial: time.Minute, Success: 10 * time.Minute, Failure: 2 * time.Minute}

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeScheduler is a virtual clock: callbacks only run when the test fires them.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *fakeScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, fn)
}

// fire runs the single pending callback.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.pending) != 1 {
		s.mu.Unlock()
		t.Fatalf("expected exactly one pending schedule, got %d", len(s.pending))
	}
	fn := s.pending[0]
	s.pending = nil
	s.mu.Unlock()

	fn()
}

func (s *fakeScheduler) lastDelay(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delays) == 0 {
		t.Fatal("nothing was scheduled")
	}
	return s.delays[len(s.delays)-1]
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type scriptedFetcher struct {
	results []feed.Result
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) feed.Result {
	if url != testURL {
		return feed.Result{Err: fmt.Errorf("unexpected url %s", url)}
	}
	if f.calls >= len(f.results) {
		return feed.Result{Err: errors.New("script exhausted")}
	}
	r := f.results[f.calls]
	f.calls++
	return r
}

func okResult(body string) feed.Result {
	return feed.Result{Body: []byte(body), StatusCode: http.StatusOK}
}

func statusResult(code int) feed.Result {
	return feed.Result{
		StatusCode: code,
		Err:        fmt.Errorf("%w: got http status code %d", feed.ErrUnexpectedStatus, code),
	}
}

func humidityFeed(v string) string {
	return `<response><current_weather><humidity value="` + v + `"/></current_weather></response>`
}

// countingWriter records every state written, keyed by metric.
type countingWriter struct {
	mu     sync.Mutex
	writes map[station.Metric]int
}

func (w *countingWriter) WriteState(_ context.Context, st sensor.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writes == nil {
		w.writes = make(map[station.Metric]int)
	}
	w.writes[st.Metric]++
	return nil
}

func (w *countingWriter) count(m station.Metric) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[m]
}

type fixture struct {
	engine  *Engine
	sched   *fakeScheduler
	fetcher *scriptedFetcher
	writer  *countingWriter
	sensors map[station.Metric]*sensor.Sensor
}

func newFixture(results ...feed.Result) *fixture {
	f := &fixture{
		sched:   &fakeScheduler{},
		fetcher: &scriptedFetcher{results: results},
		writer:  &countingWriter{},
		sensors: make(map[station.Metric]*sensor.Sensor),
	}

	var observers []Observer
	for _, d := range station.Descriptors() {
		s := sensor.New(testURL, "lt", d, f.writer)
		f.sensors[d.Metric] = s
		observers = append(observers, s)
	}

	clock := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	f.engine = New(testURL, f.fetcher, f.sched, observers, testTiming,
		WithLogger(testLogger()),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	f.engine.Start(context.Background())
	return f
}

func TestStartSchedulesInitialDelay(t *testing.T) {
	f := newFixture()

	if got := f.sched.lastDelay(t); got != testTiming.Initial {
		t.Fatalf("expected initial delay %v, got %v", testTiming.Initial, got)
	}
	if f.fetcher.calls != 0 {
		t.Fatal("feed fetched before the first schedule fired")
	}
	if _, ok := f.engine.Snapshot(); ok {
		t.Fatal("expected no snapshot before the first cycle")
	}
}

func TestSuccessfulCyclePublishesSnapshot(t *testing.T) {
	f := newFixture(okResult(humidityFeed("55")))
	f.sched.fire(t)

	snap, ok := f.engine.Snapshot()
	if !ok {
		t.Fatal("expected a snapshot after a successful cycle")
	}
	if v, _ := snap.Value(station.Humidity); v != "55" {
		t.Fatalf("expected humidity 55, got %q", v)
	}
	if snap.FetchedAt().IsZero() {
		t.Error("expected snapshot to be stamped")
	}

	for metric, s := range f.sensors {
		st := s.State()
		if metric == station.Humidity {
			if st.Value == nil || *st.Value != "55" {
				t.Errorf("humidity sensor: expected 55, got %v", st.Value)
			}
		} else if st.Value != nil {
			t.Errorf("%s: expected no value, got %q", metric, *st.Value)
		}
		if got := f.writer.count(metric); got != 1 {
			t.Errorf("%s: expected one refresh, got %d", metric, got)
		}
	}

	if got := f.sched.lastDelay(t); got != testTiming.Success {
		t.Fatalf("expected success delay %v, got %v", testTiming.Success, got)
	}
	if f.sched.pendingCount() != 1 {
		t.Fatalf("expected exactly one pending schedule, got %d", f.sched.pendingCount())
	}
}

func TestFetchFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(okResult(humidityFeed("55")), statusResult(http.StatusServiceUnavailable))
	f.sched.fire(t)
	before, _ := f.engine.Snapshot()

	f.sched.fire(t)

	if got := f.sched.lastDelay(t); got != testTiming.Failure {
		t.Fatalf("expected failure delay %v, got %v", testTiming.Failure, got)
	}
	after, ok := f.engine.Snapshot()
	if !ok {
		t.Fatal("snapshot lost after failure")
	}
	if !after.FetchedAt().Equal(before.FetchedAt()) {
		t.Fatal("snapshot replaced by a failed cycle")
	}
	if v, _ := after.Value(station.Humidity); v != "55" {
		t.Fatalf("expected humidity to stay 55, got %q", v)
	}
	for metric := range f.sensors {
		if got := f.writer.count(metric); got != 1 {
			t.Errorf("%s: expected no refresh on failure, got %d total", metric, got)
		}
	}

	st := f.engine.Status()
	if st.LastStatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status code 503 recorded, got %d", st.LastStatusCode)
	}
	if st.ConsecutiveFailures != 1 {
		t.Errorf("expected one consecutive failure, got %d", st.ConsecutiveFailures)
	}
}

func TestExtractionFailureUsesFailureDelay(t *testing.T) {
	f := newFixture(okResult("<html><body>maintenance"))
	f.sched.fire(t)

	if got := f.sched.lastDelay(t); got != testTiming.Failure {
		t.Fatalf("expected failure delay %v, got %v", testTiming.Failure, got)
	}
	if _, ok := f.engine.Snapshot(); ok {
		t.Fatal("expected no snapshot after an unparseable payload")
	}
	for metric := range f.sensors {
		if got := f.writer.count(metric); got != 0 {
			t.Errorf("%s: expected no refresh, got %d", metric, got)
		}
	}
	if got := f.engine.Status().LastError; !strings.Contains(got, "extraction failed") {
		t.Errorf("expected extraction failure recorded, got %q", got)
	}
}

func TestLatestValueWins(t *testing.T) {
	f := newFixture(okResult(humidityFeed("55")), okResult(humidityFeed("61")))
	f.sched.fire(t)
	f.sched.fire(t)

	st := f.sensors[station.Humidity].State()
	if st.Value == nil || *st.Value != "61" {
		t.Fatalf("expected humidity 61, got %v", st.Value)
	}
	snap, _ := f.engine.Snapshot()
	if v, _ := snap.Value(station.Humidity); v != "61" {
		t.Fatalf("expected snapshot humidity 61, got %q", v)
	}
	if got := f.writer.count(station.Humidity); got != 2 {
		t.Fatalf("expected two refreshes, got %d", got)
	}
}

func TestFailuresRetryForever(t *testing.T) {
	results := make([]feed.Result, 20)
	for i := range results {
		results[i] = feed.Result{Err: errors.New("connection refused")}
	}
	f := newFixture(results...)

	for i := 0; i < len(results); i++ {
		f.sched.fire(t)
		if got := f.sched.lastDelay(t); got != testTiming.Failure {
			t.Fatalf("attempt %d: expected failure delay, got %v", i, got)
		}
	}
	if got := f.engine.Status().ConsecutiveFailures; got != len(results) {
		t.Fatalf("expected %d consecutive failures, got %d", len(results), got)
	}
}

func TestRecoveryResetsFailures(t *testing.T) {
	f := newFixture(statusResult(http.StatusBadGateway), okResult(humidityFeed("40")))
	f.sched.fire(t)
	f.sched.fire(t)

	st := f.engine.Status()
	if st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Fatalf("expected clean status after recovery, got %+v", st)
	}
	if st.Cycles != 2 {
		t.Fatalf("expected 2 cycles, got %d", st.Cycles)
	}
	if f.sched.lastDelay(t) != testTiming.Success {
		t.Fatalf("expected success delay after recovery")
	}
}

func TestStoppedEngineDoesNotReschedule(t *testing.T) {
	sched := &fakeScheduler{}
	fetcher := &scriptedFetcher{results: []feed.Result{okResult(humidityFeed("55"))}}
	e := New(testURL, fetcher, sched, nil, testTiming, WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()
	sched.fire(t)

	if fetcher.calls != 0 {
		t.Fatal("expected no fetch after the engine was stopped")
	}
	if sched.pendingCount() != 0 {
		t.Fatal("expected nothing to be scheduled after the engine was stopped")
	}
}

// barrierObserver blocks in Refresh until every observer in its group has
// entered Refresh, so the test only passes if refreshes run concurrently.
type barrierObserver struct {
	group   *sync.WaitGroup
	release chan struct{}
}

func (o *barrierObserver) LoadData(station.Snapshot) bool { return true }

func (o *barrierObserver) Refresh(context.Context) error {
	o.group.Done()
	select {
	case <-o.release:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("refresh was not concurrent")
	}
}

func TestObserversRefreshConcurrently(t *testing.T) {
	const n = 5
	var entered sync.WaitGroup
	entered.Add(n)
	release := make(chan struct{})

	observers := make([]Observer, n)
	for i := range observers {
		observers[i] = &barrierObserver{group: &entered, release: release}
	}
	go func() {
		entered.Wait()
		close(release)
	}()

	e := New(testURL, &scriptedFetcher{results: []feed.Result{okResult(humidityFeed("55"))}},
		&fakeScheduler{}, observers, testTiming, WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- e.RunOnce(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("refreshes did not run concurrently")
	}
}

type funcObserver struct {
	load    func(station.Snapshot) bool
	refresh func(context.Context) error
}

func (o funcObserver) LoadData(s station.Snapshot) bool { return o.load(s) }
func (o funcObserver) Refresh(ctx context.Context) error { return o.refresh(ctx) }

func TestObserverFailuresDoNotBreakCycle(t *testing.T) {
	var (
		mu        sync.Mutex
		refreshed int
	)
	ok := funcObserver{
		load: func(station.Snapshot) bool { return true },
		refresh: func(context.Context) error {
			mu.Lock()
			refreshed++
			mu.Unlock()
			return nil
		},
	}
	panicky := funcObserver{
		load:    func(station.Snapshot) bool { return true },
		refresh: func(context.Context) error { panic("boom") },
	}
	failing := funcObserver{
		load:    func(station.Snapshot) bool { return true },
		refresh: func(context.Context) error { return errors.New("host unavailable") },
	}
	skipped := funcObserver{
		load: func(station.Snapshot) bool { return false },
		refresh: func(context.Context) error {
			t.Error("refresh called although LoadData declined")
			return nil
		},
	}

	sched := &fakeScheduler{}
	e := New(testURL, &scriptedFetcher{results: []feed.Result{okResult(humidityFeed("55"))}},
		sched, []Observer{panicky, ok, failing, skipped, ok}, testTiming, WithLogger(testLogger()))
	e.Start(context.Background())
	sched.fire(t)

	if refreshed != 2 {
		t.Fatalf("expected healthy observers to refresh twice, got %d", refreshed)
	}
	if got := sched.lastDelay(t); got != testTiming.Success {
		t.Fatalf("expected success delay, got %v", got)
	}
}

func TestWithExtractor(t *testing.T) {
	called := false
	extract := func(payload []byte) (station.Snapshot, error) {
		called = true
		return station.NewSnapshot(map[station.Metric]string{station.UV: string(payload)}, time.Time{}), nil
	}

	e := New(testURL, &scriptedFetcher{results: []feed.Result{okResult("7")}},
		&fakeScheduler{}, nil, testTiming, WithLogger(testLogger()), WithExtractor(extract))
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("custom extractor not used")
	}
	snap, _ := e.Snapshot()
	if v, _ := snap.Value(station.UV); v != "7" {
		t.Fatalf("expected UV 7, got %q", v)
	}
}

func TestDefaultTiming(t *testing.T) {
	got := DefaultTiming()
	if got.Initial != time.Minute || got.Success != 10*time.Minute || got.Failure != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", got)
	}
}
