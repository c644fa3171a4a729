package scheduler

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gaborage/alioli/worker"
)

// DrainFunc is the work run by the retry job. Implementations should respect
// ctx cancellation so Shutdown can interrupt a long pass.
type DrainFunc func(ctx context.Context) (worker.Result, error)

// NetworkCheck reports whether the network precondition is met. When it
// returns false the run is postponed by the current backoff and does not
// count as an attempt.
type NetworkCheck func(ctx context.Context) bool

// TCPProbe returns a NetworkCheck that succeeds when address accepts a TCP
// connection within timeout.
func TCPProbe(address string, timeout time.Duration) NetworkCheck {
	return func(ctx context.Context) bool {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// runDrain executes drain with panic recovery. A panic is reported as Retry
// with an error so the records are not abandoned.
func runDrain(ctx context.Context, drain DrainFunc) (result worker.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = worker.Retry
			err = fmt.Errorf("scheduler: drain pass panicked: %v", r)
		}
	}()
	return drain(ctx)
}
