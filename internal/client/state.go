package client

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Connectivity State
// =============================================================================

// Connectivity is the last known reachability of the server.
type Connectivity int32

const (
	// ConnectivityUnknown means the next health check must re-validate
	// the server, its product info and the credentials.
	ConnectivityUnknown Connectivity = iota
	ConnectivityConnected
	ConnectivityDisconnected
)

// String returns the human-readable name of the state.
func (c Connectivity) String() string {
	switch c {
	case ConnectivityUnknown:
		return "unknown"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("invalid(%d)", int32(c))
	}
}

// connState is shared by every task using a client. Readers may observe a
// stale value but never a torn one.
type connState struct {
	state atomic.Int32

	// verify runs the full connection check once per connected period.
	verify resettableOnce

	// onChange, if set, is called after every transition.
	onChange func(Connectivity)
}

func (s *connState) get() Connectivity {
	return Connectivity(s.state.Load())
}

func (s *connState) set(c Connectivity) {
	if Connectivity(s.state.Swap(int32(c))) == c {
		return
	}
	if c != ConnectivityConnected {
		s.verify.Reset()
	}
	if s.onChange != nil {
		s.onChange(c)
	}
}

// invalidate forces re-validation on the next health check.
func (s *connState) invalidate() {
	s.set(ConnectivityUnknown)
}

// =============================================================================
// Resettable Once
// =============================================================================

// resettableOnce is like sync.Once but can be reset after a disconnect.
// A failed attempt leaves it unset so the next call retries.
type resettableOnce struct {
	done atomic.Uint32
	m    sync.Mutex
}

// DoWithError calls f unless a previous call since the last Reset
// succeeded. Concurrent callers block until the running call returns.
func (o *resettableOnce) DoWithError(f func() error) error {
	if o.done.Load() == 1 {
		return nil
	}

	o.m.Lock()
	defer o.m.Unlock()

	if o.done.Load() == 0 {
		if err := f(); err != nil {
			return err
		}
		o.done.Store(1)
	}
	return nil
}

// Reset allows the next DoWithError to run again. It waits for a running
// call to finish.
func (o *resettableOnce) Reset() {
	o.m.Lock()
	defer o.m.Unlock()
	o.done.Store(0)
}

// Done reports whether a call succeeded since the last Reset.
func (o *resettableOnce) Done() bool {
	return o.done.Load() == 1
}
