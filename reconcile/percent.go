// ABOUTME: Progress math shown to clients: clamped percent complete and time remaining.
// ABOUTME: Both tolerate zero or missing totals and non-positive throughput without NaN.
package reconcile

import (
	"math"
	"time"

	"github.com/2389-research/mdsession/session/core"
)

// Percent returns step/total as a percentage in [0, 100]. A finished run is
// always 100; an unknown total is 0.
func Percent(step, total int64, status core.RunStatus) float64 {
	if status == core.StatusFinished {
		return 100
	}
	if total <= 0 || step <= 0 {
		return 0
	}
	pct := float64(step) / float64(total) * 100
	if math.IsNaN(pct) {
		return 0
	}
	return math.Min(pct, 100)
}

// ETA estimates the wall time left from the remaining steps, the timestep
// dt in ps and the throughput in ns/day. ok is false when throughput or dt
// is not positive, or the total is unknown.
func ETA(step, total int64, dtPs, nsPerDay float64) (time.Duration, bool) {
	if total <= 0 || !(nsPerDay > 0) || !(dtPs > 0) || math.IsInf(nsPerDay, 0) || math.IsInf(dtPs, 0) {
		return 0, false
	}
	remaining := total - max(step, 0)
	if remaining <= 0 {
		return 0, true
	}
	days := float64(remaining) * dtPs / 1000 / nsPerDay
	secs := days * 24 * 60 * 60
	if secs > float64(math.MaxInt64/int64(time.Second)) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Second), true
}
