// Package verify polls a provisioned endpoint until it answers with the
// expected content or a deadline passes.
package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout      = 120 * time.Second
	DefaultInterval     = 3 * time.Second
	DefaultExpectStatus = http.StatusOK

	maxBody = 64 << 10
)

type Outcome int

const (
	Success Outcome = iota
	Timeout
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "timeout"
}

type Result struct {
	Outcome    Outcome
	URL        string
	StatusCode int
	Attempts   int
	Elapsed    time.Duration
	LastError  error
}

// AttemptFunc observes every attempt, successful or not.
type AttemptFunc func(attempt int, status int, err error)

type Poller struct {
	Client         *http.Client
	ExpectStatus   int
	ExpectBody     string
	AttemptTimeout time.Duration
	Logger         zerolog.Logger
	OnAttempt      AttemptFunc
}

func NewPoller(expectStatus int, expectBody string, attemptTimeout time.Duration, logger zerolog.Logger) *Poller {
	if expectStatus == 0 {
		expectStatus = DefaultExpectStatus
	}
	return &Poller{
		Client:         &http.Client{},
		ExpectStatus:   expectStatus,
		ExpectBody:     expectBody,
		AttemptTimeout: attemptTimeout,
		Logger:         logger,
	}
}

// attemptTimeout is always strictly shorter than interval so a hung
// attempt cannot stretch the polling cadence.
func (p *Poller) attemptTimeout(interval time.Duration) time.Duration {
	limit := interval * 8 / 10
	if p.AttemptTimeout > 0 && p.AttemptTimeout < interval {
		limit = p.AttemptTimeout
	}
	return max(limit, time.Millisecond)
}

// Verify probes endpoint every interval until it passes or timeout elapses.
// The returned error is non-nil only when ctx ends first.
func (p *Poller) Verify(ctx context.Context, endpoint string, timeout, interval time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	url := NormalizeURL(endpoint)
	log := p.Logger.With().Str("url", url).Logger()
	res := Result{Outcome: Timeout, URL: url}

	start := time.Now()
	deadline := start.Add(timeout)
	perAttempt := p.attemptTimeout(interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res.Attempts++
		status, err := p.probe(ctx, url, min(perAttempt, max(time.Until(deadline), time.Millisecond)))
		res.StatusCode = status
		res.LastError = err
		res.Elapsed = time.Since(start)
		if p.OnAttempt != nil {
			p.OnAttempt(res.Attempts, status, err)
		}
		if err == nil {
			res.Outcome = Success
			log.Debug().Int("attempts", res.Attempts).Dur("elapsed", res.Elapsed).Msg("endpoint verified")
			return res, nil
		}
		log.Debug().Err(err).Int("attempt", res.Attempts).Msg("verification attempt failed")
		if ctx.Err() != nil {
			return res, context.Cause(ctx)
		}
		if !time.Now().Add(interval).Before(deadline) {
			res.Elapsed = time.Since(start)
			return res, nil
		}
		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

func (p *Poller) probe(ctx context.Context, url string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != p.ExpectStatus {
		return resp.StatusCode, fmt.Errorf("unexpected status %d, want %d", resp.StatusCode, p.ExpectStatus)
	}
	if p.ExpectBody == "" {
		return resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if !strings.Contains(string(body), p.ExpectBody) {
		return resp.StatusCode, fmt.Errorf("body does not contain %q", p.ExpectBody)
	}
	return resp.StatusCode, nil
}

// NormalizeURL adds an http scheme to bare host outputs such as an IP.
func NormalizeURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "http://" + endpoint
}
