// Package hub owns the set of live real-time connections and fans messages
// out to all of them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/chatgate/internal/log"
)

var (
	// ErrHandleClosed is returned when delivering to a handle that is not open.
	ErrHandleClosed = errors.New("handle closed")
	// ErrSendBufferFull is returned when a handle cannot accept more output.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handle is the hub's view of one connection.
//
// Open and Close are the only transitions into and out of the Open state and
// are invoked by the hub alone, under its write lock. Deliver is invoked under
// the hub's read lock and must not block.
type Handle interface {
	ID() string
	Open() bool
	Deliver(payload []byte) error
	Close()
}

// Report summarises one Broadcast.
type Report struct {
	// Targets is the size of the snapshot taken when Broadcast was called.
	Targets int
	// Delivered counts handles that accepted the payload.
	Delivered int
	// Failed lists handles that rejected the payload and were deregistered.
	Failed []string
}

// Hub manages all connection handles. Every mutation of the handle set and
// every broadcast snapshot goes through one RWMutex.
type Hub struct {
	mu       sync.RWMutex
	handles  map[string]Handle
	stopping bool
	wg       sync.WaitGroup

	// afterSnapshot runs between taking the delivery snapshot and delivering.
	afterSnapshot func()
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		handles: make(map[string]Handle),
	}
}

// Register adds handle to the live set and opens it. It reports whether the
// handle was added; registering an id that is already present is a no-op.
func (h *Hub) Register(handle Handle) bool {
	return h.register(handle, 0)
}

// register inserts handle and counts workers goroutines against Shutdown in
// the same critical section that checks stopping.
func (h *Hub) register(handle Handle, workers int) bool {
	if handle == nil {
		l := log.L()
		l.Warn().Msg("received nil handle registration; skipping")
		return false
	}

	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		return false
	}
	if _, exists := h.handles[handle.ID()]; exists {
		h.mu.Unlock()
		return false
	}
	if !handle.Open() {
		h.mu.Unlock()
		return false
	}
	h.handles[handle.ID()] = handle
	h.wg.Add(workers)
	count := len(h.handles)
	h.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldConnID, handle.ID()).Int(log.FieldClients, count).Msg("handle registered")
	return true
}

// Deregister removes handle and closes it. It reports whether the handle was
// present; removing an absent handle is a no-op.
func (h *Hub) Deregister(handle Handle) bool {
	if handle == nil {
		return false
	}

	h.mu.Lock()
	current, ok := h.handles[handle.ID()]
	if !ok || current != handle {
		h.mu.Unlock()
		return false
	}
	delete(h.handles, handle.ID())
	handle.Close()
	count := len(h.handles)
	h.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldConnID, handle.ID()).Int(log.FieldClients, count).Msg("handle deregistered")
	return true
}

// Count returns the number of registered handles.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

// Broadcast delivers payload to every handle registered when it is called.
// Handles that reject the payload are deregistered; delivery to the rest
// continues. Handles deregistered after the snapshot are skipped.
func (h *Hub) Broadcast(payload []byte) Report {
	handles := h.snapshot()
	if h.afterSnapshot != nil {
		h.afterSnapshot()
	}

	report := Report{Targets: len(handles)}
	var failed []Handle

	for _, handle := range handles {
		delivered, err := h.deliver(handle, payload)
		if err != nil {
			failed = append(failed, handle)
			continue
		}
		if delivered {
			report.Delivered++
		}
	}

	for _, handle := range failed {
		if h.Deregister(handle) {
			report.Failed = append(report.Failed, handle.ID())
			l := log.L()
			l.Warn().Str(log.FieldConnID, handle.ID()).Msg("handle removed after failed delivery")
		}
	}

	l := log.L()
	l.Debug().
		Int("targets", report.Targets).
		Int("delivered", report.Delivered).
		Int("failed", len(report.Failed)).
		Msg("broadcast completed")
	return report
}

// snapshot returns a thread-safe snapshot of all current handles.
func (h *Hub) snapshot() []Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handles := make([]Handle, 0, len(h.handles))
	for _, handle := range h.handles {
		handles = append(handles, handle)
	}
	return handles
}

// deliver hands payload to one handle while holding the read lock, so the
// handle cannot be closed mid-delivery. A handle that is no longer registered
// is skipped without error.
func (h *Hub) deliver(handle Handle, payload []byte) (delivered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panicked: %v", r)
		}
	}()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if current, ok := h.handles[handle.ID()]; !ok || current != handle {
		return false, nil
	}
	if err := handle.Deliver(payload); err != nil {
		return false, err
	}
	return true, nil
}

// Send delivers payload to a single registered handle. A handle that rejects
// the payload is deregistered.
func (h *Hub) Send(handle Handle, payload []byte) error {
	if handle == nil {
		return ErrHandleClosed
	}
	delivered, err := h.deliver(handle, payload)
	if err != nil {
		h.Deregister(handle)
		return err
	}
	if !delivered {
		return ErrHandleClosed
	}
	return nil
}

// Serve registers c and runs its pumps until the connection ends.
func (h *Hub) Serve(c *Client) bool {
	if !h.register(c, 2) {
		c.closeConn()
		return false
	}

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return true
}

// Shutdown stops accepting handles, closes every registered handle, and waits
// for connection goroutines to finish or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	l := log.L()
	l.Info().Msg("initiating hub shutdown")

	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()

	handles := h.snapshot()
	for _, handle := range handles {
		h.Deregister(handle)
	}
	l.Info().Int(log.FieldClients, len(handles)).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.Info().Msg("hub shutdown completed successfully")
		return nil
	case <-ctx.Done():
		l.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}
}

// ShutdownTimeout is Shutdown with a deadline of timeout from now.
func (h *Hub) ShutdownTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Shutdown(ctx)
}
