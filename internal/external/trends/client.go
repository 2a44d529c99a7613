package trends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/httputil"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

// SourceName keys the shared cool-down entry of this source
const SourceName = "google_health_trends"

const timelinePath = "/timelinesForHealth"

var errUpstream = errors.New("trend source upstream error")

// BlockStore shares the cool-down deadline with other processes
type BlockStore interface {
	SetBlockedUntil(ctx context.Context, source string, until time.Time) error
	BlockedUntil(ctx context.Context, source string) (time.Time, error)
}

// Client talks to the Google Health Trends timelinesForHealth endpoint
// ⭐ SSOT: trend API calls, pacing and quota cool-down live here only
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	cfg        config.TrendsConfig
	metrics    *metrics.Manager
	blocks     BlockStore

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// callMu serializes calls together with their pacing delay
	callMu sync.Mutex

	mu           sync.Mutex
	blockedUntil time.Time
	probed       map[string]bool // end dates confirmed authoritative
}

// Option configures a Client
type Option func(*Client)

// WithMetrics records call outcomes and quota blocks
func WithMetrics(m *metrics.Manager) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBlockStore mirrors the cool-down deadline to a shared store
func WithBlockStore(store BlockStore) Option {
	return func(c *Client) { c.blocks = store }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the pacing sleep
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a new trend API client
func NewClient(cfg config.TrendsConfig, httpClient *httputil.Client, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     log.WithField("module", "trends"),
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepContext,
		probed:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAcceptingCalls reports false while a quota cool-down is active
func (c *Client) IsAcceptingCalls() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptingLocked()
}

// BlockedUntil returns the cool-down deadline, zero when not blocked
func (c *Client) BlockedUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acceptingLocked() {
		return time.Time{}
	}
	return c.blockedUntil
}

func (c *Client) acceptingLocked() bool {
	if c.blockedUntil.IsZero() {
		return true
	}
	if c.now().Before(c.blockedUntil) {
		return false
	}
	c.blockedUntil = time.Time{}
	c.metrics.SetBlockedUntil(time.Time{})
	return true
}

// checkAccepting fails fast while blocked, adopting a deadline set by another process
func (c *Client) checkAccepting(ctx context.Context) error {
	if c.blocks != nil {
		until, err := c.blocks.BlockedUntil(ctx, SourceName)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to read shared cool-down")
		} else if until.After(c.now()) {
			c.mu.Lock()
			if until.After(c.blockedUntil) {
				c.blockedUntil = until
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acceptingLocked() {
		return nil
	}
	return &contracts.QuotaExceededError{Reason: "cool-down active", ResumeAt: c.blockedUntil}
}

// Probe reports whether the source is authoritative for end: the reference
// term must have a non-zero value on end in the window [end-1, end].
// Positive answers are cached per end date.
func (c *Client) Probe(ctx context.Context, end time.Time) (bool, error) {
	end = contracts.Day(end)
	key := end.Format(contracts.DateLayout)

	if err := c.checkAccepting(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	cached := c.probed[key]
	c.mu.Unlock()
	if cached {
		return true, nil
	}

	series, err := c.call(ctx, "probe", []string{c.cfg.ProbeTerm}, contracts.AddDays(end, -1), end)
	if err != nil {
		if errors.Is(err, contracts.ErrQuotaExceeded) || ctx.Err() != nil {
			return false, err
		}
		c.logger.WithError(err).WithField("end", key).Warn("Probe failed, treating end date as not available")
		return false, nil
	}

	value, found := valueOn(series, c.cfg.ProbeTerm, end)
	if !found || value == 0 {
		c.logger.WithFields(map[string]interface{}{
			"end":   key,
			"term":  c.cfg.ProbeTerm,
			"value": value,
		}).Info("Trend data not yet available for end date")
		return false, nil
	}

	c.mu.Lock()
	c.probed[key] = true
	c.mu.Unlock()
	return true, nil
}

// Fetch returns one series per term over [start, end]. An empty result means
// the data is not available yet or the upstream call failed.
func (c *Client) Fetch(ctx context.Context, terms []string, start, end time.Time) ([]contracts.TermSeries, error) {
	if len(terms) == 0 {
		return []contracts.TermSeries{}, nil
	}
	if err := contracts.NewDateRange(start, end).Validate(); err != nil {
		return nil, err
	}

	ok, err := c.Probe(ctx, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []contracts.TermSeries{}, nil
	}

	series, err := c.call(ctx, "fetch", terms, start, end)
	if err != nil {
		if errors.Is(err, contracts.ErrQuotaExceeded) || ctx.Err() != nil {
			return nil, err
		}
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"terms": len(terms),
			"start": start.Format(contracts.DateLayout),
			"end":   end.Format(contracts.DateLayout),
		}).Error("Trend fetch failed")
		return []contracts.TermSeries{}, nil
	}
	return series, nil
}

// call performs one request and, on success, the pacing delay
func (c *Client) call(ctx context.Context, kind string, terms []string, start, end time.Time) ([]contracts.TermSeries, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	// a concurrent caller may have hit the quota while we waited
	if err := c.checkAccepting(ctx); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Get(ctx, c.requestURL(terms, start, end))
	if err != nil {
		c.metrics.RecordTrendCall(kind, metrics.ResultError)
		return nil, fmt.Errorf("%w: %v", errUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordTrendCall(kind, metrics.ResultError)
		return nil, fmt.Errorf("%w: read body: %v", errUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleError(ctx, kind, resp.StatusCode, body)
	}

	var decoded timelineResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.metrics.RecordTrendCall(kind, metrics.ResultError)
		return nil, fmt.Errorf("%w: decode body: %v", errUpstream, err)
	}
	series, err := decoded.toSeries()
	if err != nil {
		c.metrics.RecordTrendCall(kind, metrics.ResultError)
		return nil, fmt.Errorf("%w: %v", errUpstream, err)
	}

	c.metrics.RecordTrendCall(kind, metrics.ResultOK)

	if c.cfg.Pacing > 0 {
		if err := c.sleep(ctx, c.cfg.Pacing); err != nil {
			return nil, err
		}
	}
	return series, nil
}

func (c *Client) handleError(ctx context.Context, kind string, status int, body []byte) error {
	var decoded errorResponse
	_ = json.Unmarshal(body, &decoded)

	if reason, quota := decoded.quotaReason(); quota && (status == http.StatusForbidden || status == http.StatusTooManyRequests) {
		c.metrics.RecordTrendCall(kind, metrics.ResultBlocked)
		until := c.block(ctx)
		c.logger.WithFields(map[string]interface{}{
			"reason":    reason,
			"resume_at": until.Format(time.RFC3339),
		}).Warn("Trend API quota exhausted, blocking calls until next UTC midnight")
		return &contracts.QuotaExceededError{Reason: reason, ResumeAt: until}
	}

	c.metrics.RecordTrendCall(kind, metrics.ResultError)
	return fmt.Errorf("%w: status %d: %s", errUpstream, status, decoded.Error.Message)
}

// block starts a cool-down lasting until the next UTC midnight
func (c *Client) block(ctx context.Context) time.Time {
	until := contracts.AddDays(contracts.Day(c.now().UTC()), 1)

	c.mu.Lock()
	c.blockedUntil = until
	c.mu.Unlock()

	c.metrics.SetBlockedUntil(until)
	if c.blocks != nil {
		if err := c.blocks.SetBlockedUntil(ctx, SourceName, until); err != nil {
			c.logger.WithError(err).Warn("Failed to share cool-down")
		}
	}
	return until
}

func (c *Client) requestURL(terms []string, start, end time.Time) string {
	q := url.Values{}
	for _, term := range terms {
		q.Add("terms", term)
	}
	q.Set("geoRestriction.region", c.cfg.Region)
	q.Set("time.startDate", start.Format(contracts.DateLayout))
	q.Set("time.endDate", end.Format(contracts.DateLayout))
	q.Set("timelineResolution", "day")
	q.Set("key", c.cfg.APIKey)
	return c.cfg.BaseURL + timelinePath + "?" + q.Encode()
}

func valueOn(series []contracts.TermSeries, term string, day time.Time) (float64, bool) {
	for _, s := range series {
		if s.Term != term {
			continue
		}
		for _, p := range s.Points {
			if p.Date.Equal(day) {
				return p.Value, true
			}
		}
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ contracts.TrendSource = (*Client)(nil)
