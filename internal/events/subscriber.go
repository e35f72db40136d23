package events

import (
	"github.com/palmlab/telemetry-hub/internal/models"
	"github.com/palmlab/telemetry-hub/internal/utils"
)

// Subscriber receives events from the bus. The bus calls Deliver for every
// matching event; how the work runs (inline or on a worker) is the
// subscriber's own concern, so dispatch code never needs to know which kind
// it is talking to.
type Subscriber interface {
	Name() string
	Deliver(event models.DeviceEvent)
}

// handler runs its function immediately on the dispatching goroutine. Use it
// for cheap, non-blocking callbacks only.
type handler struct {
	name string
	fn   func(models.DeviceEvent)
}

// NewHandler wraps fn as an immediate-call subscriber.
func NewHandler(name string, fn func(models.DeviceEvent)) Subscriber {
	return &handler{name: name, fn: fn}
}

func (h *handler) Name() string { return h.name }

func (h *handler) Deliver(event models.DeviceEvent) { h.fn(event) }

// PooledHandler hands each event to its own single-worker pool, keeping
// blocking callbacks off the bus's dispatch path. One worker means the
// subscriber still observes events in emission order.
type PooledHandler struct {
	name string
	fn   func(models.DeviceEvent)
	pool *utils.WorkerPool
}

// NewPooledHandler wraps fn as a worker-backed subscriber. Call Shutdown
// when the subscriber is no longer needed.
func NewPooledHandler(name string, fn func(models.DeviceEvent)) *PooledHandler {
	return &PooledHandler{
		name: name,
		fn:   fn,
		pool: utils.NewWorkerPoolWithQueue(1, 64),
	}
}

func (p *PooledHandler) Name() string { return p.name }

func (p *PooledHandler) Deliver(event models.DeviceEvent) {
	p.pool.Submit(func() { p.fn(event) })
}

// Shutdown drains the pending queue and stops the worker.
func (p *PooledHandler) Shutdown() { p.pool.Shutdown() }
