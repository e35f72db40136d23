package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palmlab/telemetry-hub/internal/models"
)

// collector is a test subscriber that records every delivered event.
type collector struct {
	mu     sync.Mutex
	events []models.DeviceEvent
}

func (c *collector) record(event models.DeviceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) all() []models.DeviceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.DeviceEvent(nil), c.events...)
}

func TestBus_TypedAndWildcardDelivery(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())

	typed := &collector{}
	all := &collector{}
	bus.Subscribe(models.EventDataReceived, NewHandler("typed", typed.record))
	bus.Subscribe(Wildcard, NewHandler("all", all.record))

	bus.Emit(models.NewDeviceEvent(models.EventDataReceived, "S1", nil))
	bus.Emit(models.NewDeviceEvent(models.EventDeviceTimeout, "S1", nil))

	assert.Equal(t, 1, typed.count())
	assert.Equal(t, 2, all.count())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())

	c := &collector{}
	unsubscribe := bus.Subscribe(models.EventDataReceived, NewHandler("c", c.record))

	bus.Emit(models.NewDeviceEvent(models.EventDataReceived, "S1", nil))
	unsubscribe()
	bus.Emit(models.NewDeviceEvent(models.EventDataReceived, "S1", nil))

	assert.Equal(t, 1, c.count())
}

func TestBus_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())

	bus.Subscribe(models.EventDataReceived, NewHandler("bad", func(models.DeviceEvent) {
		panic("subscriber bug")
	}))
	c := &collector{}
	bus.Subscribe(models.EventDataReceived, NewHandler("good", c.record))

	assert.NotPanics(t, func() {
		bus.Emit(models.NewDeviceEvent(models.EventDataReceived, "S1", nil))
	})
	assert.Equal(t, 1, c.count())
}

func TestBus_EmitNowaitFromManyGoroutines(t *testing.T) {
	bus := NewBus(256, zerolog.Nop())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	c := &collector{}
	bus.Subscribe(Wildcard, NewHandler("c", c.record))

	const emitters = 10
	const perEmitter = 20
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				bus.EmitNowait(models.NewDeviceEvent(models.EventDataReceived, "S1", nil))
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return c.count() == emitters*perEmitter
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_PooledSubscriberSeesEmissionOrder(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())

	c := &collector{}
	pooled := NewPooledHandler("ordered", c.record)
	bus.Subscribe(models.EventTransferProgress, pooled)

	for i := 0; i < 50; i++ {
		bus.Emit(models.DeviceEvent{
			Type:      models.EventTransferProgress,
			Timestamp: time.Now(),
			DeviceID:  "S1",
			Data:      map[string]any{"seq": i},
		})
	}
	pooled.Shutdown()

	events := c.all()
	require.Len(t, events, 50)
	for i, event := range events {
		assert.Equal(t, i, event.Data["seq"])
	}
}

func TestBus_StartStopLifecycle(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())

	require.NoError(t, bus.Start())
	err := bus.Start()
	require.Error(t, err)
	assert.Equal(t, "event bus is already running", err.Error())

	require.NoError(t, bus.Stop())
	err = bus.Stop()
	require.Error(t, err)
	assert.Equal(t, "event bus is not running", err.Error())
}

func TestBus_EmitNowaitBeforeStartDropsWithoutPanic(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())

	assert.NotPanics(t, func() {
		bus.EmitNowait(models.NewDeviceEvent(models.EventDataReceived, "S1", nil))
	})
}
