package events

import (
	"context"
	"errors"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/models"
)

// beatState tracks one device's last heartbeat and how many sweeps in a row
// have found it stale.
type beatState struct {
	lastSeen time.Time
	misses   int
}

// HeartbeatMonitor keeps a per-device last-activity table and sweeps it on a
// fixed tick. A device whose last heartbeat is older than the timeout gets a
// device_timeout event on that sweep and on every following sweep until it
// heartbeats again.
//
// When evictAfter is greater than zero, a device that stays silent for that
// many consecutive sweeps is dropped from the table after one final
// device_evicted event, so a permanently offline device does not emit
// forever. Zero keeps the table entry (and the repeating timeout events)
// for the life of the process.
type HeartbeatMonitor struct {
	bus        *Bus
	timeout    time.Duration
	interval   time.Duration
	evictAfter int
	logger     zerolog.Logger

	beats cmap.ConcurrentMap[string, beatState]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHeartbeatMonitor wires a monitor to bus. interval is the sweep tick,
// timeout the staleness threshold, evictAfter the consecutive-miss eviction
// count (0 disables eviction).
func NewHeartbeatMonitor(bus *Bus, timeout, interval time.Duration, evictAfter int, logger zerolog.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		bus:        bus,
		timeout:    timeout,
		interval:   interval,
		evictAfter: evictAfter,
		logger:     logger,
		beats:      cmap.New[beatState](),
	}
}

// RegisterHeartbeat records activity for deviceID and clears its miss count.
// Safe to call from any goroutine.
func (m *HeartbeatMonitor) RegisterHeartbeat(deviceID string) {
	m.beats.Set(deviceID, beatState{lastSeen: time.Now()})
}

// Tracked reports whether deviceID currently has a heartbeat table entry.
func (m *HeartbeatMonitor) Tracked(deviceID string) bool {
	return m.beats.Has(deviceID)
}

// Start launches the sweep loop.
func (m *HeartbeatMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		m.logger.Warn().Msg("Heartbeat monitor is already running")
		return errors.New("heartbeat monitor is already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSweepLoop()
	}()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Dur("interval", m.interval).
		Msg("Heartbeat monitor started")
	return nil
}

// Stop halts the sweep loop.
func (m *HeartbeatMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		m.logger.Warn().Msg("Heartbeat monitor is not running")
		return errors.New("heartbeat monitor is not running")
	}

	m.cancel()
	m.wg.Wait()

	m.ctx = nil
	m.cancel = nil

	m.logger.Info().Msg("Heartbeat monitor stopped")
	return nil
}

func (m *HeartbeatMonitor) runSweepLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.ctx.Done():
			return
		}
	}
}

// sweep emits device_timeout for every stale device and applies the
// eviction policy.
func (m *HeartbeatMonitor) sweep(now time.Time) {
	for deviceID, state := range m.beats.Items() {
		if now.Sub(state.lastSeen) <= m.timeout {
			continue
		}

		state.misses++
		m.bus.EmitNowait(models.NewDeviceEvent(models.EventDeviceTimeout, deviceID, map[string]any{
			"last_seen": state.lastSeen,
			"misses":    state.misses,
		}))

		if m.evictAfter > 0 && state.misses >= m.evictAfter {
			m.beats.Remove(deviceID)
			m.bus.EmitNowait(models.NewDeviceEvent(models.EventDeviceEvicted, deviceID, map[string]any{
				"last_seen": state.lastSeen,
			}))
			m.logger.Info().Str("device_id", deviceID).Msg("Device evicted from heartbeat table")
			continue
		}

		// Keep the incremented miss count unless the device heartbeated
		// between the snapshot and now.
		m.beats.Upsert(deviceID, state, func(exists bool, current, incoming beatState) beatState {
			if exists && current.lastSeen.After(incoming.lastSeen) {
				return current
			}
			return incoming
		})
	}
}
