// Package monitor classifies the link to the remote store as online, slow or
// offline and publishes every change of classification.
//
// Platform reachability events (SetReachable) move the monitor in and out of
// offline immediately. While the link is reported up, a periodic probe
// measures round-trip time: slower than the threshold is slow, faster is
// online, a failed probe is offline. Nothing is persisted; a fresh monitor
// is offline until its first probe completes.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

type State string

const (
	Online  State = "online"
	Slow    State = "slow"
	Offline State = "offline"
)

// Prober performs one lightweight round trip to the remote side.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

type Transition struct {
	From    State         `json:"from"`
	To      State         `json:"to"`
	At      time.Time     `json:"at"`
	Latency time.Duration `json:"latency_ns"`
	Reason  string        `json:"reason,omitempty"`
}

type Options struct {
	Interval      time.Duration
	Timeout       time.Duration
	SlowThreshold time.Duration
	AssumeLinkUp  bool
}

type Monitor struct {
	prober        Prober
	interval      time.Duration
	timeout       time.Duration
	slowThreshold time.Duration

	mu          sync.RWMutex
	state       State
	reachable   bool
	linkGen     uint64
	lastLatency time.Duration
	subs        map[int]chan Transition
	nextSub     int

	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func New(prober Prober, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = 2000 * time.Millisecond
	}
	return &Monitor{
		prober:        prober,
		interval:      opts.Interval,
		timeout:       opts.Timeout,
		slowThreshold: opts.SlowThreshold,
		state:         Offline,
		reachable:     opts.AssumeLinkUp,
		subs:          make(map[int]chan Transition),
		wake:          make(chan struct{}, 1),
	}
}

// Start probes once before returning, so the first sync pass never runs on
// a guessed state, then keeps probing in the background.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.ProbeNow(ctx)

	m.wg.Add(1)
	go m.loop(ctx)

	logger.Log.Info("Connection monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("slow_threshold", m.slowThreshold),
		zap.String("state", string(m.State())),
	)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logger.Log.Info("Connection monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.ProbeNow(ctx)
		case <-m.wake:
			m.ProbeNow(ctx)
		}
	}
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) LastLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLatency
}

// SetReachable feeds a platform connectivity event. Losing the link is
// offline at once; regaining it is online at once and a probe follows to
// refine that to slow if needed.
func (m *Monitor) SetReachable(up bool) {
	m.mu.Lock()
	m.reachable = up
	m.linkGen++
	m.mu.Unlock()

	if !up {
		m.transition(Offline, 0, "link down")
		return
	}
	if m.State() == Offline {
		m.transition(Online, 0, "link up")
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ProbeNow runs a single probe and applies the result. It does nothing
// while the platform reports no link.
func (m *Monitor) ProbeNow(ctx context.Context) State {
	m.mu.RLock()
	up := m.reachable
	gen := m.linkGen
	m.mu.RUnlock()
	if !up {
		return m.transition(Offline, 0, "link down")
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	latency, err := m.prober.Probe(probeCtx)

	// A platform event that arrived while the probe was out wins over its result.
	current := func() bool { return m.linkGen == gen }
	if err != nil {
		logger.Log.Debug("Probe failed", zap.Error(err))
		return m.transitionIf(current, Offline, 0, err.Error())
	}
	if latency > m.slowThreshold {
		return m.transitionIf(current, Slow, latency, "")
	}
	return m.transitionIf(current, Online, latency, "")
}

func (m *Monitor) transition(to State, latency time.Duration, reason string) State {
	return m.transitionIf(nil, to, latency, reason)
}

// transitionIf applies the transition when valid returns true. valid runs
// under m.mu. The result is the state in effect afterwards.
func (m *Monitor) transitionIf(valid func() bool, to State, latency time.Duration, reason string) State {
	m.mu.Lock()
	if valid != nil {
		if !valid() {
			cur := m.state
			m.mu.Unlock()
			logger.Log.Debug("Discarding stale probe result", zap.String("state", string(cur)))
			return cur
		}
		if latency > 0 {
			m.lastLatency = latency
		}
	}
	from := m.state
	if from == to {
		m.mu.Unlock()
		return to
	}
	m.state = to
	t := Transition{From: from, To: to, At: time.Now().UTC(), Latency: latency, Reason: reason}
	subs := make([]chan Transition, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	logger.Log.Info("Connection state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Duration("latency", latency),
		zap.String("reason", reason),
	)

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
			logger.Log.Warn("Dropping connection transition for slow subscriber")
		}
	}
	return to
}

// Subscribe returns a channel of transitions and a function that detaches it.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 16)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
