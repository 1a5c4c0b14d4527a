// Package expiry periodically drops screen-share requests the room creator
// never answered.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Expirer drops pending requests older than ttl and reports how many.
type Expirer interface {
	ExpireRequests(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

type Manager struct {
	target   Expirer
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(target Expirer, ttl, interval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		target:   target,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop. A zero ttl or interval disables it.
func (m *Manager) Start() {
	if m.ttl <= 0 || m.interval <= 0 {
		m.logger.Debug("request expiry disabled")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	n, err := m.target.ExpireRequests(ctx, m.now(), m.ttl)
	if err != nil {
		m.logger.Warn("request sweep failed", "err", err)
		return
	}
	if n > 0 {
		m.logger.Info("expired screen share requests", "count", n)
	}
}
