package workers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"studenthome_ingest/config"
	"studenthome_ingest/logging"
	"studenthome_ingest/models"
)

// Per-request HEAD timeout bounds
const (
	minCheckTimeout     = 2 * time.Second
	maxCheckTimeout     = 5 * time.Second
	defaultCheckTimeout = 4 * time.Second
)

// LivenessChecker probes image URLs with HEAD requests. Unreachable is an
// ordinary answer, so nothing here returns an error.
type LivenessChecker struct {
	client      *http.Client
	userAgent   string
	timeout     time.Duration
	batchSize   int
	batchDelay  time.Duration
	concurrency int
	limiter     *rate.Limiter
	logFunc     LogFunc
}

func NewLivenessChecker(client *http.Client, cfg config.LivenessConfig, userAgent string) *LivenessChecker {
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	w := &LivenessChecker{
		client:      client,
		userAgent:   userAgent,
		timeout:     cfg.Timeout,
		batchSize:   max(cfg.BatchSize, 1),
		batchDelay:  cfg.BatchDelay,
		concurrency: max(cfg.Concurrency, 1),
		logFunc:     NoOpLogger,
	}
	switch {
	case w.timeout <= 0:
		w.timeout = defaultCheckTimeout
	case w.timeout < minCheckTimeout:
		w.timeout = minCheckTimeout
	case w.timeout > maxCheckTimeout:
		w.timeout = maxCheckTimeout
	}
	if cfg.RequestsPerSec > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), w.concurrency)
	}
	return w
}

func (w *LivenessChecker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// CheckResult is the outcome of one probe
type CheckResult struct {
	URL        string
	Reachable  bool
	StatusCode int
	Error      error
}

// Check reports whether url answers a HEAD request with a 2xx status
func (w *LivenessChecker) Check(ctx context.Context, url string) bool {
	return w.Probe(ctx, url).Reachable
}

// Probe does a single HEAD request with its own timeout, no retries
func (w *LivenessChecker) Probe(ctx context.Context, url string) CheckResult {
	result := CheckResult{URL: url}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			result.Error = err
			return result
		}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		result.Error = err
		return result
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := w.client.Do(req)
	if err != nil {
		result.Error = err
		logging.Debugf("Liveness: %s unreachable: %v", url, err)
		return result
	}
	resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Reachable = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Reachable {
		logging.Debugf("Liveness: %s returned %d", url, resp.StatusCode)
	}
	return result
}

// CheckAll probes urls in batches of batchSize, at most concurrency at a
// time, sleeping batchDelay between batches. Duplicate URLs are probed once.
func (w *LivenessChecker) CheckAll(ctx context.Context, urls []string) map[string]bool {
	results := make(map[string]bool, len(urls))
	var unique []string
	for _, u := range urls {
		if _, ok := results[u]; ok {
			continue
		}
		results[u] = false
		unique = append(unique, u)
	}

	var mu sync.Mutex
	reachable := 0
	for start := 0; start < len(unique); start += w.batchSize {
		if start > 0 && w.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(w.batchDelay):
			}
		}

		end := min(start+w.batchSize, len(unique))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for _, u := range unique[start:end] {
			g.Go(func() error {
				ok := w.Check(gctx, u)
				mu.Lock()
				results[u] = ok
				if ok {
					reachable++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end%(w.batchSize*10) == 0 || end == len(unique) {
			log.Printf("Liveness: %d/%d probed, %d reachable", end, len(unique), reachable)
		}
	}

	if len(unique) > 0 {
		w.logFunc(models.LogLevelInfo, "liveness",
			fmt.Sprintf("Probed %d image URLs, %d reachable", len(unique), reachable))
	}
	return results
}
