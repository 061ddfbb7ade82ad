package tcp

import (
	"math/rand"
	"time"
)

// baseRetransmitInterval is the first retry delay (§4.8); each
// subsequent attempt multiplies the previous delay by 1+random(0,0.6),
// a compounding series rather than a fixed power of the base.
const baseRetransmitInterval = 3000 * time.Millisecond

// backoff returns the next jittered delay for seg, compounding off its
// own last delay: attempt 1 is baseRetransmitInterval; every later
// attempt is seg.lastDelay * (1 + random(0, 0.6)). The result is stored
// back on seg so the next call compounds off it in turn.
func backoff(seg *scheduledSegment) time.Duration {
	if seg.lastDelay == 0 {
		seg.lastDelay = baseRetransmitInterval
		return seg.lastDelay
	}
	ratio := 1 + rand.Float64()*0.6
	seg.lastDelay = time.Duration(float64(seg.lastDelay) * ratio)
	return seg.lastDelay
}

// RealScheduler arms retransmission timers with time.AfterFunc, wiring
// Socket.Tick onto the ambient clock. Stack installs this on every
// socket it creates; tests that want deterministic timing leave
// Socket.ScheduleRetransmit nil and call Tick directly instead.
func RealScheduler(s *Socket, seg *scheduledSegment, attempt int) {
	delay := backoff(seg)
	seg.timer = time.AfterFunc(delay, func() {
		s.Tick(seg, attempt)
	})
}
