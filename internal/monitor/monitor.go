// Package monitor samples network signals and derives a coarse
// connection-quality verdict.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/metrics"
)

// Callback receives a fresh ConnectionState on every sample.
type Callback func(domain.ConnectionState)

// Config holds monitor settings.
type Config struct {
	// ProbeURL is the endpoint probed for reachability and round-trip time.
	// Empty disables active probing: the monitor then reports a permanent
	// optimistic online/fast state.
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	// SlowRoundTrip is the RTT above which the link counts as slow.
	SlowRoundTrip time.Duration `yaml:"slow_round_trip"`
}

// Stats holds monitoring statistics.
type Stats struct {
	Probes           int
	Failures         int
	AverageRoundTrip time.Duration
	State            domain.ConnectionState
}

// constrainedClasses are declared bandwidth classes that indicate a
// constrained link.
var constrainedClasses = []string{"slow-2g", "2g", "3g"}

// Monitor derives ConnectionState from an active probe plus caller-fed
// signals (bandwidth class, save-data preference, explicit transitions).
type Monitor struct {
	cfg    Config
	client *http.Client

	mu         sync.RWMutex
	state      domain.ConnectionState
	subs       map[int]Callback
	nextSub    int
	running    bool
	stopCh     chan struct{}
	probeCount int
	failCount  int
	recentRTTs []time.Duration
	rttWindow  int
}

// New creates a monitor. Call Start to begin probing.
func New(cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.SlowRoundTrip <= 0 {
		cfg.SlowRoundTrip = 300 * time.Millisecond
	}

	m := &Monitor{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.ProbeTimeout},
		subs:      make(map[int]Callback),
		stopCh:    make(chan struct{}),
		rttWindow: 50,
		state: domain.ConnectionState{
			IsOnline:  true,
			Quality:   domain.QualityFast,
			SampledAt: time.Now(),
		},
	}
	return m
}

// Start begins the probe loop. Without a probe URL the monitor stays at the
// optimistic default rather than failing to start.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	if m.cfg.ProbeURL == "" {
		slog.Info("Connection monitor started without probe endpoint, assuming online")
		return
	}

	go m.probeLoop(ctx)
	slog.Info("Connection monitor started",
		"probe_url", m.cfg.ProbeURL,
		"interval", m.cfg.ProbeInterval,
	)
}

// Stop halts probing and unregisters all subscribers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	m.stopCh = make(chan struct{})
	m.subs = make(map[int]Callback)
}

// Subscribe registers a callback and returns its disposer. The disposer is
// idempotent and safe to call after Stop.
func (m *Monitor) Subscribe(cb Callback) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Current returns the last-known state without blocking.
func (m *Monitor) Current() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetOnline records an explicit online/offline transition reported by the
// caller (e.g. a platform connectivity event) and notifies subscribers.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	st := m.state
	st.IsOnline = online
	if online {
		// A fresh transition carries no RTT sample yet.
		st.RoundTrip = 0
	}
	st.Quality = deriveQuality(st, m.cfg.SlowRoundTrip)
	st.SampledAt = time.Now()
	m.state = st
	m.mu.Unlock()

	m.notify(st)
}

// SetNetworkHints records the declared bandwidth class and save-data
// preference and re-derives quality.
func (m *Monitor) SetNetworkHints(bandwidthClass string, saveData bool) {
	m.mu.Lock()
	st := m.state
	st.BandwidthClass = bandwidthClass
	st.SaveData = saveData
	st.Quality = deriveQuality(st, m.cfg.SlowRoundTrip)
	st.SampledAt = time.Now()
	m.state = st
	m.mu.Unlock()

	m.notify(st)
}

// Stats returns probe statistics and the current state.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avg time.Duration
	if len(m.recentRTTs) > 0 {
		var total time.Duration
		for _, rtt := range m.recentRTTs {
			total += rtt
		}
		avg = total / time.Duration(len(m.recentRTTs))
	}

	return Stats{
		Probes:           m.probeCount,
		Failures:         m.failCount,
		AverageRoundTrip: avg,
		State:            m.state,
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()

	// Probe once immediately so Current is meaningful before the first tick.
	m.probe(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe measures reachability and RTT against the configured endpoint.
func (m *Monitor) probe(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		m.recordSample(false, 0)
		return
	}

	resp, err := m.client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		m.recordSample(false, rtt)
		return
	}
	resp.Body.Close()

	m.recordSample(true, rtt)
}

func (m *Monitor) recordSample(reachable bool, rtt time.Duration) {
	m.mu.Lock()
	m.probeCount++
	if !reachable {
		m.failCount++
	}

	st := m.state
	st.IsOnline = reachable
	st.RoundTrip = rtt
	st.Quality = deriveQuality(st, m.cfg.SlowRoundTrip)
	st.SampledAt = time.Now()
	m.state = st

	if reachable {
		m.recentRTTs = append(m.recentRTTs, rtt)
		if len(m.recentRTTs) > m.rttWindow {
			m.recentRTTs = m.recentRTTs[1:]
		}
	}
	m.mu.Unlock()

	metrics.ProbeRoundTrip.Set(rtt.Seconds())
	metrics.ConnectionQuality.Set(qualityGauge(st.Quality))

	m.notify(st)
}

func (m *Monitor) notify(st domain.ConnectionState) {
	m.mu.RLock()
	cbs := make([]Callback, 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.mu.RUnlock()

	for _, cb := range cbs {
		cb(st)
	}
}

// deriveQuality applies the three-way classification: offline when
// unreachable, slow when the RTT exceeds the threshold or the declared link
// is constrained or save-data is requested, fast otherwise.
func deriveQuality(st domain.ConnectionState, slowRTT time.Duration) domain.Quality {
	if !st.IsOnline {
		return domain.QualityOffline
	}
	if st.RoundTrip > slowRTT || constrained(st.BandwidthClass) || st.SaveData {
		return domain.QualitySlow
	}
	return domain.QualityFast
}

func constrained(class string) bool {
	c := strings.ToLower(strings.TrimSpace(class))
	for _, known := range constrainedClasses {
		if c == known {
			return true
		}
	}
	return false
}

func qualityGauge(q domain.Quality) float64 {
	switch q {
	case domain.QualityFast:
		return 2
	case domain.QualitySlow:
		return 1
	default:
		return 0
	}
}
