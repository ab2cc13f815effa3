package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/forecast-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher. Zero values take defaults.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryBackoff is the wait after the first failed attempt.
	RetryBackoff time.Duration
	// RequestsPerSec is the starting request rate for each host.
	RequestsPerSec float64
	Burst          int
}

// throttle paces requests to one host. A 429 halves the rate, down to a
// quarter of the starting rate; each success raises it by a fifth, up to
// twice the starting rate.
type throttle struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	floor   rate.Limit
	ceiling rate.Limit
}

func newThrottle(r rate.Limit, burst int) *throttle {
	return &throttle{lim: rate.NewLimiter(r, burst), floor: r / 4, ceiling: r * 2}
}

func (t *throttle) wait(ctx context.Context) error { return t.lim.Wait(ctx) }

func (t *throttle) speedUp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lim.SetLimit(min(t.lim.Limit()*1.2, t.ceiling))
}

func (t *throttle) slowDown(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := max(t.lim.Limit()/2, t.floor)
	t.lim.SetLimit(next)
	zap.L().Warn("fetcher: throttled, lowering request rate",
		zap.String("host", host),
		zap.Float64("requests_per_sec", float64(next)),
	)
}

func (t *throttle) limit() rate.Limit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lim.Limit()
}

// HTTPFetcher implements Fetcher over net/http with per-host pacing and
// retries.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu    sync.Mutex
	hosts map[string]*throttle
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "forecast-cli/1.0"
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = max(int(opts.RequestsPerSec), 1)
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:  opts,
		hosts: make(map[string]*throttle),
	}
}

func (f *HTTPFetcher) throttleFor(host string) *throttle {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.hosts[host]
	if !ok {
		t = newThrottle(rate.Limit(f.opts.RequestsPerSec), f.opts.Burst)
		f.hosts[host] = t
	}
	return t
}

// Download fetches rawURL and returns the body of a 200 response. Throttling,
// request timeouts, 5xx responses and network failures are retried; any other
// status fails at once with a *StatusError.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("download: invalid url %q", rawURL)
	}
	th := f.throttleFor(u.Host)

	policy := resilience.DefaultPolicy().Tries(f.opts.MaxRetries).Logged("fetcher", "download", zap.String("url", rawURL))
	if f.opts.RetryBackoff > 0 {
		policy.Base = f.opts.RetryBackoff
	}

	resp, err := resilience.Value(ctx, policy, func(ctx context.Context) (*http.Response, error) {
		return f.get(ctx, u, th)
	})
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, u *url.URL, th *throttle) (*http.Response, error) {
	if err := th.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		th.speedUp()
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	statusErr := &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		th.slowDown(u.Host)
	}
	if !resilience.RetryableStatus(resp.StatusCode) {
		return nil, statusErr
	}
	re := resilience.Retryable(statusErr, resp.StatusCode)
	re.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return nil, re
}
