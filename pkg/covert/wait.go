//go:build linux

package covert

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// sleepFor pauses for d on clk, returning early with ctx.Err() if ctx is
// cancelled first. With a background context this degenerates to a plain
// sleep. The timer is stopped on the cancel path so nothing dangles.
func sleepFor(ctx context.Context, clk clockwork.Clock, d time.Duration) error {
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
