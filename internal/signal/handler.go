// Package signal turns SIGINT and SIGTERM into context cancellation for the
// long-running formic commands.
//
// The first signal cancels the handler's context so `formic serve` can stop
// admitting work and wind down in-flight workflows. A second signal closes
// Forced, telling the caller to stop waiting and kill what is left.
//
// Import rules:
//   - CAN import: std lib only
//   - MUST NOT import: internal packages (to avoid circular dependencies)
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler manages graceful shutdown by listening for interrupt signals.
type Handler struct {
	ctx         context.Context //nolint:containedctx // intentional: handler manages context lifecycle
	cancel      context.CancelFunc
	interrupted chan struct{}
	forced      chan struct{}
	done        chan struct{} // signals listen() to exit cleanly
	sigChan     chan os.Signal

	mu       sync.Mutex
	received []os.Signal
	stopOnce sync.Once
}

// NewHandler creates a signal handler that listens for SIGINT and SIGTERM.
//
// Usage:
//
//	h := signal.NewHandler(ctx)
//	defer h.Stop()
//
//	<-h.Context().Done()
//	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
//	go func() { <-h.Forced(); cancel() }()
func NewHandler(parent context.Context) *Handler {
	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		ctx:         ctx,
		cancel:      cancel,
		interrupted: make(chan struct{}),
		forced:      make(chan struct{}),
		done:        make(chan struct{}),
		// Buffer of 2 so a quick double Ctrl+C is not dropped while the first is handled.
		sigChan: make(chan os.Signal, 2),
	}

	signal.Notify(h.sigChan, syscall.SIGINT, syscall.SIGTERM)
	go h.listen()

	return h
}

// Context returns the context canceled by the first signal.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted closes when the first signal arrives.
func (h *Handler) Interrupted() <-chan struct{} {
	return h.interrupted
}

// Forced closes when a second signal arrives.
func (h *Handler) Forced() <-chan struct{} {
	return h.forced
}

// Received returns the first signal caught, or nil.
func (h *Handler) Received() os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.received) == 0 {
		return nil
	}
	return h.received[0]
}

// Stop stops listening for signals and cancels the context.
// Always call this when done to prevent resource leaks.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}

// handleSignal records sig. The first call cancels the context, the second
// closes Forced, and later calls are ignored.
func (h *Handler) handleSignal(sig os.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.received = append(h.received, sig)
	switch len(h.received) {
	case 1:
		h.cancel()
		close(h.interrupted)
	case 2:
		close(h.forced)
	}
}

// listen keeps draining the signal channel until Stop is called; a canceled
// context must not end it or a second signal would never be seen.
func (h *Handler) listen() {
	for {
		select {
		case <-h.done:
			return
		case sig := <-h.sigChan:
			h.handleSignal(sig)
		}
	}
}
