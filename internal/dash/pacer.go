package dash

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/risevideo/risecast/pkg/rise"
)

// runPacer keeps the aggregate interleave data rate above minRate
// (kbit/s) by injecting discard control chunks when the real payload
// falls short over a window of windowMs. CDNs with rate-triggered
// buffering then keep forwarding the live stream instead of batching
// it.
//
// A token bucket accrues budget at the minimum rate; real output
// drains it. Whatever budget is left at the end of a window is the
// deficit to pad.
func (r *Resources) runPacer(ctx context.Context, il *Interleave, minRate, windowMs uint) {
	defer r.wg.Done()

	bytesPerSecond := float64(minRate) * 1000 / 8
	window := time.Duration(windowMs) * time.Millisecond
	burst := int(bytesPerSecond * window.Seconds() * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	// Start with an empty bucket so the first window accrues from now.
	limiter.AllowN(time.Now(), burst)

	lastTotal := il.TotalBytes()
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if il.Terminal() {
				return
			}

			// Drain the bucket by what the interleave really emitted.
			total := il.TotalBytes()
			emitted := int(total - lastTotal)
			lastTotal = total
			limiter.AllowN(now, emitted)

			// Whatever budget remains is the shortfall for this window.
			deficit := int(limiter.TokensAt(now))
			if deficit <= 0 {
				continue
			}
			limiter.AllowN(now, deficit)
			il.AddControlChunk(rise.ControlDiscard, make([]byte, deficit))
			lastTotal = il.TotalBytes()
		}
	}
}
