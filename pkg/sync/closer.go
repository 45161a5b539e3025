package sync

import "sync"

// Closer is an idempotent shutdown signal. Close may be called any number of
// times from any goroutine; Done is closed exactly once.
type Closer struct {
	once sync.Once
	done chan struct{}
}

// NewCloser returns an open Closer.
func NewCloser() *Closer {
	return &Closer{done: make(chan struct{})}
}

// Done returns the channel closed by the first Close call.
func (c *Closer) Done() <-chan struct{} {
	return c.done
}

// Close signals shutdown.
func (c *Closer) Close() {
	c.once.Do(func() { close(c.done) })
}

// IsClosed reports whether Close has been called.
func (c *Closer) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
