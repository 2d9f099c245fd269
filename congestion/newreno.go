package congestion

import "time"

// state names the NewReno recovery mode from spec §3's control-block data
// model ("recovery mode (slow-start / congestion-avoidance / fast-recovery)").
type state int

const (
	stateSlowStart state = iota
	stateCongestionAvoidance
	stateFastRecovery
)

// NewReno implements RFC 5681 slow start / congestion avoidance plus RFC
// 5681 fast retransmit / fast recovery, per spec §4.5, §4.6.
type NewReno struct {
	mss int

	cwnd     int
	ssthresh int
	state    state
}

// NewNewReno constructs a NewReno controller starting in slow start with
// cwnd = mss (RFC 5681's conservative initial window) and an
// effectively-unbounded ssthresh until the first loss event.
func NewNewReno(mss int) *NewReno {
	if mss <= 0 {
		mss = 1
	}
	return &NewReno{
		mss:      mss,
		cwnd:     mss,
		ssthresh: 1 << 30,
		state:    stateSlowStart,
	}
}

// OnAck implements Controller.
func (c *NewReno) OnAck(ackedBytes int, rtt time.Duration, hasRTT bool) {
	if ackedBytes <= 0 {
		return
	}

	if c.state == stateFastRecovery {
		// First new ACK after a fast retransmit: deflate and exit
		// recovery (spec §4.5).
		c.cwnd = c.ssthresh
		c.state = stateCongestionAvoidance
		return
	}

	if c.cwnd < c.ssthresh {
		// Slow start: one MSS of growth per ACKed segment.
		c.cwnd += ackedBytes
		if c.cwnd >= c.ssthresh {
			c.state = stateCongestionAvoidance
		}
		return
	}

	// Congestion avoidance: additive increase of MSS*MSS/cwnd per ACK
	// (spec §4.6).
	c.state = stateCongestionAvoidance
	increase := (c.mss * c.mss) / c.cwnd
	if increase == 0 {
		increase = 1
	}
	c.cwnd += increase
}

// OnDuplicateAck implements Controller. NewReno inflates cwnd by one MSS
// per duplicate ACK while in fast recovery (spec §4.5); outside recovery
// the sender is responsible for counting to three and calling
// OnFastRetransmit.
func (c *NewReno) OnDuplicateAck() {
	if c.state == stateFastRecovery {
		c.cwnd += c.mss
	}
}

// OnTimeout implements Controller: RTO expiry forces a slow-start restart
// (spec §4.5).
func (c *NewReno) OnTimeout() {
	c.ssthresh = max(c.cwnd/2, 2*c.mss)
	c.cwnd = c.mss
	c.state = stateSlowStart
}

// OnFastRetransmit implements Controller (spec §4.5).
func (c *NewReno) OnFastRetransmit() {
	c.ssthresh = max(c.cwnd/2, 2*c.mss)
	c.cwnd = c.ssthresh + 3*c.mss
	c.state = stateFastRecovery
}

// CWND implements Controller.
func (c *NewReno) CWND() int { return c.cwnd }

// Ssthresh implements Controller.
func (c *NewReno) Ssthresh() int { return c.ssthresh }
