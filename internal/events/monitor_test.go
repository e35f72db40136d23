package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palmlab/telemetry-hub/internal/models"
)

func TestHeartbeatMonitor_EmitsTimeoutForSilentDevice(t *testing.T) {
	bus := NewBus(64, zerolog.Nop())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	timeouts := &collector{}
	bus.Subscribe(models.EventDeviceTimeout, NewHandler("timeouts", timeouts.record))

	monitor := NewHeartbeatMonitor(bus, 50*time.Millisecond, 20*time.Millisecond, 0, zerolog.Nop())
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	monitor.RegisterHeartbeat("DEV1")

	// The device goes silent; a timeout must appear within one sweep of
	// crossing the threshold, and keep repeating on later sweeps.
	assert.Eventually(t, func() bool {
		return timeouts.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	events := timeouts.all()
	assert.Equal(t, "DEV1", events[0].DeviceID)
	assert.Equal(t, models.EventDeviceTimeout, events[0].Type)
}

func TestHeartbeatMonitor_HeartbeatSuppressesTimeout(t *testing.T) {
	bus := NewBus(64, zerolog.Nop())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	timeouts := &collector{}
	bus.Subscribe(models.EventDeviceTimeout, NewHandler("timeouts", timeouts.record))

	monitor := NewHeartbeatMonitor(bus, 200*time.Millisecond, 20*time.Millisecond, 0, zerolog.Nop())
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	// Keep the device alive across several sweeps.
	for i := 0; i < 5; i++ {
		monitor.RegisterHeartbeat("DEV1")
		time.Sleep(30 * time.Millisecond)
	}

	assert.Zero(t, timeouts.count())
}

func TestHeartbeatMonitor_EvictsAfterConsecutiveMisses(t *testing.T) {
	bus := NewBus(64, zerolog.Nop())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	timeouts := &collector{}
	evictions := &collector{}
	bus.Subscribe(models.EventDeviceTimeout, NewHandler("timeouts", timeouts.record))
	bus.Subscribe(models.EventDeviceEvicted, NewHandler("evictions", evictions.record))

	monitor := NewHeartbeatMonitor(bus, 30*time.Millisecond, 15*time.Millisecond, 3, zerolog.Nop())
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	monitor.RegisterHeartbeat("DEV1")

	assert.Eventually(t, func() bool {
		return evictions.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Once evicted, the device must stop producing timeout events.
	assert.False(t, monitor.Tracked("DEV1"))
	settled := timeouts.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, timeouts.count())
	assert.Equal(t, 3, settled)
}

func TestHeartbeatMonitor_TrackedReflectsTable(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())
	monitor := NewHeartbeatMonitor(bus, time.Second, time.Second, 0, zerolog.Nop())

	assert.False(t, monitor.Tracked("DEV1"))
	monitor.RegisterHeartbeat("DEV1")
	assert.True(t, monitor.Tracked("DEV1"))
}

func TestHeartbeatMonitor_StartStopLifecycle(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())
	monitor := NewHeartbeatMonitor(bus, time.Second, time.Second, 0, zerolog.Nop())

	require.NoError(t, monitor.Start())
	err := monitor.Start()
	require.Error(t, err)
	assert.Equal(t, "heartbeat monitor is already running", err.Error())

	require.NoError(t, monitor.Stop())
	err = monitor.Stop()
	require.Error(t, err)
	assert.Equal(t, "heartbeat monitor is not running", err.Error())
}
