package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/httputil"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

// fakeAPI serves timelinesForHealth with a constant value per term and day
type fakeAPI struct {
	calls      atomic.Int32
	probeValue float64
	status     int
	errorBody  string
	lastQuery  map[string][]string
	mu         sync.Mutex
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastQuery = r.URL.Query()
	f.mu.Unlock()

	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		fmt.Fprint(w, f.errorBody)
		return
	}

	q := r.URL.Query()
	start, _ := time.Parse(contracts.DateLayout, q.Get("time.startDate"))
	end, _ := time.Parse(contracts.DateLayout, q.Get("time.endDate"))

	resp := timelineResponse{}
	for _, term := range q["terms"] {
		line := timelineLine{Term: term}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			value := 1.5
			if term == "temperature" {
				value = f.probeValue
			}
			line.Points = append(line.Points, timelinePoint{Date: d.Format(PointDateLayout), Value: value})
		}
		resp.Lines = append(resp.Lines, line)
	}
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeAPI) query() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type memBlockStore struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func (s *memBlockStore) SetBlockedUntil(_ context.Context, source string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.until == nil {
		s.until = make(map[string]time.Time)
	}
	s.until[source] = until
	return nil
}

func (s *memBlockStore) BlockedUntil(_ context.Context, source string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.until[source], nil
}

type harness struct {
	api     *fakeAPI
	client  *Client
	clock   *fakeClock
	sleeps  []time.Duration
	metrics *metrics.Manager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		api:     &fakeAPI{probeValue: 42},
		clock:   &fakeClock{now: time.Date(2018, time.July, 1, 14, 0, 0, 0, time.UTC)},
		metrics: metrics.NewManager(),
	}
	server := httptest.NewServer(h.api)
	t.Cleanup(server.Close)

	cfg := config.TrendsConfig{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Region:    "GB-ENG",
		ProbeTerm: "temperature",
		Pacing:    time.Second,
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
		WithMetrics(h.metrics),
	}
	hc := httputil.New(logger.NewNop()).DisableRetry()
	h.client = NewClient(cfg, hc, logger.NewNop(), append(base, opts...)...)
	return h
}

func TestFetch_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := contracts.DateOf(2018, time.June, 1)
	end := contracts.DateOf(2018, time.June, 3)

	series, err := h.client.Fetch(ctx, []string{"a flu", "flu season"}, start, end)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "a flu", series[0].Term)
	require.Len(t, series[0].Points, 3)
	assert.Equal(t, start, series[0].Points[0].Date)
	assert.Equal(t, 1.5, series[0].Points[0].Value)

	q := h.api.query()
	assert.Equal(t, []string{"a flu", "flu season"}, q["terms"])
	assert.Equal(t, []string{"GB-ENG"}, q["geoRestriction.region"])
	assert.Equal(t, []string{"2018-06-01"}, q["time.startDate"])
	assert.Equal(t, []string{"2018-06-03"}, q["time.endDate"])
	assert.Equal(t, []string{"day"}, q["timelineResolution"])
	assert.Equal(t, []string{"test-key"}, q["key"])

	// probe + fetch, each followed by the pacing delay
	assert.Equal(t, int32(2), h.api.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sleeps)
}

func TestProbe_CachesPositive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	end := contracts.DateOf(2018, time.June, 3)

	for i := 0; i < 3; i++ {
		ok, err := h.client.Probe(ctx, end)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), h.api.calls.Load())

	q := h.api.query()
	assert.Equal(t, []string{"temperature"}, q["terms"])
	assert.Equal(t, []string{"2018-06-02"}, q["time.startDate"])
	assert.Equal(t, []string{"2018-06-03"}, q["time.endDate"])
}

func TestFetch_ProbeZeroIsNotAvailable(t *testing.T) {
	h := newHarness(t)
	h.api.probeValue = 0
	ctx := context.Background()
	end := contracts.DateOf(2018, time.June, 30)

	series, err := h.client.Fetch(ctx, []string{"a flu"}, contracts.DateOf(2018, time.June, 1), end)
	require.NoError(t, err)
	assert.Empty(t, series)
	assert.Equal(t, int32(1), h.api.calls.Load(), "no fetch after a negative probe")

	// negative answers are not cached
	ok, err := h.client.Probe(ctx, end)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), h.api.calls.Load())
}

func TestFetch_UpstreamErrorIsEmpty(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"bad term","errors":[{"reason":"badRequest"}]}}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"forbidden without quota reason", http.StatusForbidden, `{"error":{"code":403,"message":"key invalid","errors":[{"reason":"keyInvalid"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			end := contracts.DateOf(2018, time.June, 3)

			// warm the probe cache, then fail every call
			ok, err := h.client.Probe(ctx, end)
			require.NoError(t, err)
			require.True(t, ok)
			h.api.status = tt.status
			h.api.errorBody = tt.body

			series, err := h.client.Fetch(ctx, []string{"a flu"}, contracts.DateOf(2018, time.June, 1), end)
			require.NoError(t, err)
			assert.Empty(t, series)
			assert.True(t, h.client.IsAcceptingCalls())
			assert.Len(t, h.sleeps, 1, "failed calls are not paced")
		})
	}
}

func TestFetch_UndecodableBodyIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("terms") == "temperature" {
			fmt.Fprint(w, `{"lines":[{"term":"temperature","points":[{"date":"Jun 03 2018","value":3}]}]}`)
			return
		}
		fmt.Fprint(w, `{"lines":[{"term":"a flu","points":[{"date":"2018-06-03","value":3}]}]}`)
	}))
	defer server.Close()

	client := NewClient(config.TrendsConfig{BaseURL: server.URL, ProbeTerm: "temperature"},
		httputil.New(logger.NewNop()).DisableRetry(), logger.NewNop())

	end := contracts.DateOf(2018, time.June, 3)
	series, err := client.Fetch(context.Background(), []string{"a flu"}, end, end)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestQuota_BlocksUntilNextUTCMidnight(t *testing.T) {
	store := &memBlockStore{}
	h := newHarness(t, WithBlockStore(store))
	ctx := context.Background()
	end := contracts.DateOf(2018, time.June, 30)

	h.api.status = http.StatusForbidden
	h.api.errorBody = `{"error":{"code":403,"message":"Daily Limit Exceeded","errors":[{"domain":"usageLimits","reason":"dailyLimitExceeded"}]}}`

	// 14:00 on D
	_, err := h.client.Fetch(ctx, []string{"a flu"}, end, end)
	require.ErrorIs(t, err, contracts.ErrQuotaExceeded)
	var quota *contracts.QuotaExceededError
	require.ErrorAs(t, err, &quota)
	midnight := time.Date(2018, time.July, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight, quota.ResumeAt)
	assert.Equal(t, ReasonDailyLimitExceeded, quota.Reason)
	assert.False(t, h.client.IsAcceptingCalls())
	assert.Equal(t, midnight, h.client.BlockedUntil())

	shared, _ := store.BlockedUntil(ctx, SourceName)
	assert.Equal(t, midnight, shared)

	calls := h.api.calls.Load()

	// 23:59 on D: fails without any transport call
	h.clock.Set(time.Date(2018, time.July, 1, 23, 59, 0, 0, time.UTC))
	_, err = h.client.Fetch(ctx, []string{"a flu"}, end, end)
	assert.ErrorIs(t, err, contracts.ErrQuotaExceeded)
	_, err = h.client.Probe(ctx, end)
	assert.ErrorIs(t, err, contracts.ErrQuotaExceeded)
	assert.Equal(t, calls, h.api.calls.Load())

	// 00:00 on D+1: accepting again
	h.clock.Set(midnight)
	assert.True(t, h.client.IsAcceptingCalls())
	assert.True(t, h.client.BlockedUntil().IsZero())
}

func TestQuota_Reasons(t *testing.T) {
	for _, reason := range []string{ReasonDailyLimitExceeded, ReasonRateLimitExceeded, ReasonQuotaExceeded} {
		t.Run(reason, func(t *testing.T) {
			h := newHarness(t)
			h.api.status = http.StatusForbidden
			h.api.errorBody = fmt.Sprintf(`{"error":{"code":403,"errors":[{"reason":%q}]}}`, reason)

			_, err := h.client.Probe(context.Background(), contracts.DateOf(2018, time.June, 30))
			assert.ErrorIs(t, err, contracts.ErrQuotaExceeded)
			assert.False(t, h.client.IsAcceptingCalls())
		})
	}
}

func TestQuota_SharedDeadlineAdopted(t *testing.T) {
	store := &memBlockStore{}
	h := newHarness(t, WithBlockStore(store))
	ctx := context.Background()

	until := time.Date(2018, time.July, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetBlockedUntil(ctx, SourceName, until))

	_, err := h.client.Probe(ctx, contracts.DateOf(2018, time.June, 30))
	assert.ErrorIs(t, err, contracts.ErrQuotaExceeded)
	assert.Zero(t, h.api.calls.Load())
	assert.False(t, h.client.IsAcceptingCalls())
}

func TestFetch_InvalidRange(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Fetch(context.Background(), []string{"a flu"},
		contracts.DateOf(2018, time.June, 3), contracts.DateOf(2018, time.June, 1))
	assert.ErrorIs(t, err, contracts.ErrInvalidRange)
	assert.Zero(t, h.api.calls.Load())
}

func TestFetch_ContextCancelledDuringPacing(t *testing.T) {
	h := newHarness(t, WithSleep(sleepContext))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.client.Fetch(ctx, []string{"a flu"}, contracts.DateOf(2018, time.June, 1), contracts.DateOf(2018, time.June, 1))
	assert.Error(t, err)
}
