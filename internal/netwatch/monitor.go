// Package netwatch reports online/offline transitions by probing the
// reachability of a host.
package netwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"
)

// ProbeFunc reports whether the network is usable.
type ProbeFunc func(ctx context.Context) bool

// TCPProbe returns a probe that dials addr ("host:port").
func TCPProbe(addr string, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// HostPort extracts a dialable "host:port" from a base URL, filling in the
// scheme's default port.
func HostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parsing %q: missing host", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https", "wss":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	default:
		return net.JoinHostPort(u.Hostname(), "80"), nil
	}
}

// Monitor probes on an interval and invokes OnChange only when the
// observed state flips. The first probe result is always reported.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	onChange func(online bool)
	logger   *slog.Logger

	known  bool
	online bool
}

// NewMonitor creates a monitor. onChange is called from the monitor's
// goroutine.
func NewMonitor(probe ProbeFunc, interval time.Duration, onChange func(online bool), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	online := m.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	if m.known && online == m.online {
		return
	}
	m.known = true
	m.online = online
	m.logger.Info("connectivity changed", "online", online)
	if m.onChange != nil {
		m.onChange(online)
	}
}
