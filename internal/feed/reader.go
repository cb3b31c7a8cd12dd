package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxBodySize = 1 << 20 // 1MB
)

var (
	// ErrUnexpectedStatus wraps every non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrCircuitOpen is returned without contacting the feed while the
	// breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Result is the outcome of a single fetch. Err is nil only for a 200
// response whose body was read completely.
type Result struct {
	Body []byte

	// StatusCode is zero when no response was received.
	StatusCode int

	Latency time.Duration
	Err     error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Options configures a Reader. Zero values select the defaults.
type Options struct {
	Client      *http.Client
	Timeout     time.Duration
	MaxBodySize int64

	// BreakerThreshold is the number of consecutive failures that opens the
	// circuit breaker. Zero disables the breaker.
	BreakerThreshold uint32
	// BreakerTimeout is how long the breaker stays open before letting a
	// probe request through.
	BreakerTimeout time.Duration
}

// Reader performs bounded HTTP GETs of the station feed. It never retries;
// retry timing belongs to the caller.
type Reader struct {
	client      *http.Client
	timeout     time.Duration
	maxBodySize int64
	circuit     *gobreaker.CircuitBreaker
}

// NewReader creates a Reader.
func NewReader(opts Options) *Reader {
	r := &Reader{
		client:      opts.Client,
		timeout:     opts.Timeout,
		maxBodySize: opts.MaxBodySize,
	}
	if r.client == nil {
		// no client timeout, the per-request context bounds each fetch
		r.client = &http.Client{}
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxBodySize <= 0 {
		r.maxBodySize = DefaultMaxBodySize
	}

	if opts.BreakerThreshold > 0 {
		threshold := opts.BreakerThreshold
		r.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "station-feed",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
	}
	return r
}

// Fetch GETs url and returns its body on a 200 response.
//
// Any other status yields a failure carrying the status code. Timeouts and
// transport errors yield a failure without one. The response body is closed
// on every path.
func (r *Reader) Fetch(ctx context.Context, url string) Result {
	start := time.Now()

	var res Result
	attempt := func() (interface{}, error) {
		res = r.do(ctx, url)
		return nil, res.Err
	}

	if r.circuit == nil {
		_, _ = attempt()
	} else if _, err := r.circuit.Execute(attempt); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			res = Result{Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
		}
	}

	res.Latency = time.Since(start)
	return res
}

func (r *Reader) do(ctx context.Context, url string) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBodySize))
	if err != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{
			Body:       body,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: got http status code %d", ErrUnexpectedStatus, resp.StatusCode),
		}
	}

	return Result{Body: body, StatusCode: resp.StatusCode}
}
