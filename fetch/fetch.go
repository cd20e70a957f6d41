// Package fetch implements the rate-limited, cache-backed fetch
// orchestrator that executes every network request of a harvesting run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/semaphore"

	"github.com/aluiziolira/go-scrape-specs/cache"
	"github.com/aluiziolira/go-scrape-specs/config"
	"github.com/aluiziolira/go-scrape-specs/models"
)

const captureKey = "capture"

// responseCapture carries one request's outcome from the collector
// callbacks back to the worker that issued it.
type responseCapture struct {
	body       []byte
	status     int
	retryAfter time.Duration
	err        error
}

// Fetcher executes FetchTasks with bounded concurrency, a shared host
// throttle, cache-before-network lookups, and per-task retry with
// exponential backoff.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	cache     *cache.Store
	throttle  *Throttle
	metrics   *Metrics
	inflight  *semaphore.Weighted
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a fetcher from cfg, consulting store before any network call.
func New(cfg *config.Config, store *cache.Store, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.AllowURLRevisit = true
	// Politeness is enforced by the shared throttle, not robots.txt.
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		cache:     store,
		throttle:  NewThrottle(cfg.MinRequestInterval, cfg.MaxRequestInterval),
		metrics:   metrics,
		inflight:  semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		sleep:     sleepContext,
	}
	f.configureHandlers()
	f.metrics.SetThrottleInterval(cfg.MinRequestInterval)
	return f, nil
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnResponse(func(r *colly.Response) {
		capture, ok := r.Ctx.GetAny(captureKey).(*responseCapture)
		if !ok {
			return
		}
		capture.status = r.StatusCode
		capture.body = append([]byte(nil), r.Body...)
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		var capture *responseCapture
		if r != nil && r.Request != nil {
			capture, _ = r.Request.Ctx.GetAny(captureKey).(*responseCapture)
		}
		if capture == nil {
			return
		}
		capture.err = err
		if r != nil {
			capture.status = r.StatusCode
			if r.Headers != nil {
				if seconds, parseErr := strconv.Atoi(r.Headers.Get("Retry-After")); parseErr == nil && seconds > 0 {
					capture.retryAfter = time.Duration(seconds) * time.Second
				}
			}
		}
	})
}

// Throttle exposes the shared politeness state, mainly for tests and for
// run status reporting.
func (f *Fetcher) Throttle() *Throttle {
	return f.throttle
}

// Do executes one fetch task. It returns the page payload on success, or a
// *FetchError once the task has failed permanently. Cache hits return with
// no network I/O and do not count as attempts.
func (f *Fetcher) Do(ctx context.Context, task *models.FetchTask) ([]byte, error) {
	if payload, ok := f.cache.Get(task.URL); ok {
		f.metrics.IncCache("hit")
		task.State = models.TaskSucceeded
		return payload, nil
	}
	f.metrics.IncCache("miss")

	if err := f.inflight.Acquire(ctx, 1); err != nil {
		task.State = models.TaskFailed
		return nil, err
	}
	defer f.inflight.Release(1)

	for {
		task.State = models.TaskInFlight
		task.Attempts++

		if err := f.throttle.Wait(ctx); err != nil {
			task.State = models.TaskFailed
			return nil, err
		}

		start := time.Now()
		body, status, retryAfter, err := f.request(task.URL)
		f.metrics.ObserveDuration(time.Since(start))

		classified := classifyError(err, status)
		if classified == nil {
			f.cache.Put(task.URL, body, f.cfg.CacheTTL)
			f.metrics.IncRequest("success")
			task.State = models.TaskSucceeded
			return body, nil
		}

		f.metrics.IncRequest("error")
		f.metrics.IncError(errorTypeLabel(classified))

		var rateLimited ErrRateLimited
		if errors.As(classified, &rateLimited) {
			interval := f.throttle.Escalate()
			f.throttle.Suspend(retryAfter)
			f.metrics.SetThrottleInterval(interval)
			slog.Warn("rate limited by source, escalating shared throttle",
				slog.String("url", task.URL),
				slog.Duration("interval", interval),
				slog.Duration("retry_after", retryAfter),
			)
		} else if !transient(classified) {
			task.State = models.TaskFailed
			return nil, &FetchError{URL: task.URL, Cause: classified, Attempts: task.Attempts}
		}

		if task.Attempts > f.cfg.RetryLimit {
			task.State = models.TaskFailed
			return nil, &FetchError{URL: task.URL, Cause: classified, Attempts: task.Attempts}
		}

		task.State = models.TaskRetrying
		f.metrics.IncRetries()
		slog.Debug("retrying fetch",
			slog.String("url", task.URL),
			slog.Int("attempt", task.Attempts),
			slog.String("category", errorTypeLabel(classified)),
		)
		if err := f.sleep(ctx, f.backoff(task.Attempts)); err != nil {
			task.State = models.TaskFailed
			return nil, err
		}
	}
}

// request issues one synchronous GET through the collector and returns
// whatever the response callbacks captured.
func (f *Fetcher) request(target string) ([]byte, int, time.Duration, error) {
	capture := &responseCapture{}
	cctx := colly.NewContext()
	cctx.Put(captureKey, capture)

	reqErr := f.collector.Request(http.MethodGet, target, nil, cctx, nil)
	if capture.status != 0 || capture.body != nil || capture.err != nil {
		return capture.body, capture.status, capture.retryAfter, capture.err
	}
	return nil, 0, 0, reqErr
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// SetTransport swaps the underlying HTTP round tripper. Tests inject a
// mock transport here.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
