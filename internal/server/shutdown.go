// Package server coordinates graceful shutdown of the pipeline: stages stop
// on signal, then resources close in reverse order of registration so stores
// outlive the stages writing to them.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager owns the shutdown sequence. Stages watch Done(); closers
// registered by the application run LIFO once shutdown begins.
type ShutdownManager struct {
	timeout time.Duration

	done    chan struct{}
	once    sync.Once
	closers []io.Closer
	mu      sync.Mutex
	onBegin []func(reason string)
}

// NewShutdownManager creates a shutdown manager. timeout bounds the whole
// close sequence; zero means 30 seconds.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close on shutdown. Closers run in
// reverse order of registration.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// OnShutdownBegin registers a callback invoked when shutdown starts, before
// any closer runs.
func (sm *ShutdownManager) OnShutdownBegin(fn func(reason string)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onBegin = append(sm.onBegin, fn)
}

// Done returns a channel closed when shutdown begins.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// ListenForSignals blocks until SIGTERM/SIGINT arrives or the context is
// canceled, then runs the shutdown sequence.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(fmt.Sprintf("received signal %v", sig))
	case <-ctx.Done():
		return sm.Shutdown("context canceled")
	case <-sm.done:
		return nil
	}
}

// Shutdown runs the shutdown sequence once: begin callbacks, then closers in
// LIFO order. Subsequent calls return immediately.
func (sm *ShutdownManager) Shutdown(reason string) error {
	var shutdownErr error
	sm.once.Do(func() {
		close(sm.done)

		sm.mu.Lock()
		begin := sm.onBegin
		closers := sm.closers
		sm.mu.Unlock()

		for _, fn := range begin {
			fn(reason)
		}

		deadline := time.After(sm.timeout)
		finished := make(chan error, 1)
		go func() {
			var firstErr error
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i].Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			finished <- firstErr
		}()

		select {
		case shutdownErr = <-finished:
		case <-deadline:
			shutdownErr = fmt.Errorf("shutdown timed out after %s", sm.timeout)
		}
	})
	return shutdownErr
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}

// ServeHTTP runs srv until the shutdown manager fires, then drains it
// gracefully. Returns the listen error, if any.
func (sm *ShutdownManager) ServeHTTP(srv *http.Server) error {
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sm.done:
		return <-errCh
	}
}
