package transfer

import "time"

// newThrottledProgress wraps fn so it fires at most once per
// progressThrottle, always passing the sum of bytes accumulated since
// its last firing. A nil fn is always safe to call.
func newThrottledProgress(fn ProgressFunc) func(n int64) {
	if fn == nil {
		return func(int64) {}
	}

	var (
		pending int64
		last    time.Time
	)

	return func(n int64) {
		pending += n

		now := time.Now()
		if now.Sub(last) < progressThrottle {
			return
		}

		last = now
		fn(pending)
		pending = 0
	}
}
