package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProber struct {
	mu      sync.Mutex
	latency time.Duration
	err     error
	calls   int
}

func (p *scriptedProber) set(latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency, p.err = latency, err
}

func (p *scriptedProber) Probe(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.latency, p.err
}

func newTestMonitor(p Prober, linkUp bool) *Monitor {
	return New(p, Options{Interval: time.Hour, Timeout: time.Second, SlowThreshold: 2000 * time.Millisecond, AssumeLinkUp: linkUp})
}

func TestColdStartIsOfflineUntilProbed(t *testing.T) {
	p := &scriptedProber{latency: 20 * time.Millisecond}
	m := newTestMonitor(p, true)
	assert.Equal(t, Offline, m.State())

	m.Start(context.Background())
	defer m.Stop()

	assert.Equal(t, Online, m.State())
	assert.Equal(t, 1, p.calls)
}

func TestProbeClassifiesLatency(t *testing.T) {
	p := &scriptedProber{latency: 50 * time.Millisecond}
	m := newTestMonitor(p, true)
	ctx := context.Background()

	assert.Equal(t, Online, m.ProbeNow(ctx))

	p.set(2500*time.Millisecond, nil)
	assert.Equal(t, Slow, m.ProbeNow(ctx))
	assert.Equal(t, 2500*time.Millisecond, m.LastLatency())

	p.set(100*time.Millisecond, nil)
	assert.Equal(t, Online, m.ProbeNow(ctx))

	p.set(0, errors.New("connection refused"))
	assert.Equal(t, Offline, m.ProbeNow(ctx))
}

func TestSetReachableDrivesOfflineImmediately(t *testing.T) {
	p := &scriptedProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(p, true)
	ctx := context.Background()
	m.ProbeNow(ctx)

	ch, cancel := m.Subscribe()
	defer cancel()

	m.SetReachable(false)
	assert.Equal(t, Offline, m.State())

	calls := p.calls
	assert.Equal(t, Offline, m.ProbeNow(ctx))
	assert.Equal(t, calls, p.calls, "no probe while the link is down")

	m.SetReachable(true)
	assert.Equal(t, Online, m.State())

	first := <-ch
	assert.Equal(t, Online, first.From)
	assert.Equal(t, Offline, first.To)
	second := <-ch
	assert.Equal(t, Offline, second.From)
	assert.Equal(t, Online, second.To)
}

func TestNoTransitionWhenStateUnchanged(t *testing.T) {
	p := &scriptedProber{latency: 10 * time.Millisecond}
	m := newTestMonitor(p, true)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.ProbeNow(context.Background())
	m.ProbeNow(context.Background())

	require.Len(t, ch, 1)
	cancel()
	m.SetReachable(false)
	assert.Len(t, ch, 1)
}

func TestLinkDownDuringProbeWins(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := ProberFunc(func(ctx context.Context) (time.Duration, error) {
		close(started)
		<-release
		return 10 * time.Millisecond, nil
	})
	m := newTestMonitor(p, true)
	ch, cancel := m.Subscribe()
	defer cancel()

	done := make(chan State, 1)
	go func() { done <- m.ProbeNow(context.Background()) }()

	<-started
	m.SetReachable(false)
	require.Equal(t, Offline, m.State())
	close(release)

	select {
	case got := <-done:
		assert.Equal(t, Offline, got)
	case <-time.After(time.Second):
		t.Fatal("probe did not return")
	}
	assert.Equal(t, Offline, m.State())
	assert.Len(t, ch, 0)
}

func TestHTTPProber(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &HTTPProber{URL: srv.URL}
	latency, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, method)
	assert.Greater(t, latency, time.Duration(0))
}

func TestHTTPProberServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := (&HTTPProber{URL: srv.URL}).Probe(context.Background())
	assert.Error(t, err)
}

func TestMySQLProberUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := (&MySQLProber{Addr: "127.0.0.1:1", User: "root"}).Probe(ctx)
	assert.Error(t, err)
}
