package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MaintenanceResult reports what one maintenance pass removed.
type MaintenanceResult struct {
	Expired int64
	Evicted int64
}

// Maintainer periodically sweeps expired entries and trims the cache to a
// maximum size on a cron schedule.
type Maintainer struct {
	cache      *Cache
	schedule   string
	maxEntries int
	logger     zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	done    chan struct{}
	running bool
}

// NewMaintainer creates a Maintainer. A maxEntries of 0 disables size trimming.
func NewMaintainer(c *Cache, schedule string, maxEntries int, logger zerolog.Logger) *Maintainer {
	return &Maintainer{
		cache:      c,
		schedule:   schedule,
		maxEntries: maxEntries,
		logger:     logger.With().Str("component", "cache.maintainer").Logger(),
		cron:       cron.New(),
	}
}

// RunOnce clears expired entries, then evicts down to maxEntries.
func (m *Maintainer) RunOnce(ctx context.Context) (MaintenanceResult, error) {
	var res MaintenanceResult
	var err error

	res.Expired, err = m.cache.ClearExpired(ctx)
	if err != nil {
		return res, err
	}
	if m.maxEntries > 0 {
		res.Evicted, err = m.cache.CleanupBySize(ctx, m.maxEntries)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// Start schedules RunOnce. An empty schedule does nothing and a second call
// while running is a no-op. The scheduler stops when ctx is cancelled or
// Stop is called.
func (m *Maintainer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.schedule == "" {
		m.logger.Info().Msg("maintenance schedule not configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(m.schedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", m.schedule, err)
	}

	c := cron.New()
	if _, err := c.AddFunc(m.schedule, func() { m.run(ctx) }); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	c.Start()

	done := make(chan struct{})
	m.cron = c
	m.done = done
	m.running = true
	m.logger.Info().Str("schedule", m.schedule).Int("max_entries", m.maxEntries).Msg("cache maintenance started")

	go func() {
		select {
		case <-ctx.Done():
			m.stop(done)
		case <-done:
		}
	}()
	return nil
}

func (m *Maintainer) run(ctx context.Context) {
	res, err := m.RunOnce(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("cache maintenance failed")
		return
	}
	m.logger.Info().Int64("expired", res.Expired).Int64("evicted", res.Evicted).Msg("cache maintenance completed")
}

// Stop halts the scheduler and waits for a running pass to finish.
func (m *Maintainer) Stop() {
	m.stop(nil)
}

// stop halts the scheduler started with done, or the current one when done
// is nil.
func (m *Maintainer) stop(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || (done != nil && done != m.done) {
		return
	}
	<-m.cron.Stop().Done()
	close(m.done)
	m.running = false
	m.logger.Info().Msg("cache maintenance stopped")
}

// NextRun returns the next scheduled pass, or nil when not running.
func (m *Maintainer) NextRun() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	entries := m.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
