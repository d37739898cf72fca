// Package connectivity tracks whether the chat backend is reachable.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"loyalty-app/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Listener receives the new state on every transition
type Listener = func(online bool)

// Doer is the part of *http.Client the probe needs
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Monitor
type Config struct {
	HealthURL     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Client        Doer
	// InitiallyOnline is the state before the first probe or event
	InitiallyOnline bool
}

type subscription struct {
	id uint64
	fn Listener
}

// Monitor is a two-state Online/Offline machine driven by platform events and health probes
type Monitor struct {
	cfg Config

	mu        sync.Mutex
	online    bool
	nextID    uint64
	listeners []subscription
}

// NewMonitor creates a Monitor
func NewMonitor(cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Monitor{cfg: cfg, online: cfg.InitiallyOnline}
}

// IsOnline returns the current state
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn and returns a function that removes it
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.listeners {
				if s.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// SetOnline records a platform connectivity event. Listeners run only when the state changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, len(m.listeners))
	for i, s := range m.listeners {
		listeners[i] = s.fn
	}
	m.mu.Unlock()

	logger.Log.WithField("online", online).Info("Connectivity changed")

	// listeners run outside the lock so they may call back into the monitor
	for _, fn := range listeners {
		fn(online)
	}
}

// Probe checks the health endpoint once and updates the state. It returns the probe error, if any.
func (m *Monitor) Probe(ctx context.Context) error {
	err := m.probe(ctx)
	if err != nil {
		logger.Log.WithError(err).WithField("url", m.cfg.HealthURL).Debug("Health probe failed")
	}
	m.SetOnline(err == nil)
	return err
}

func (m *Monitor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Run probes immediately and then every ProbeInterval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	logger.Log.WithFields(logrus.Fields{
		"url":      m.cfg.HealthURL,
		"interval": m.cfg.ProbeInterval,
	}).Debug("Starting connectivity probe")

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
