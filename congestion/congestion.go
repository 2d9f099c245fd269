// Package congestion implements the pluggable congestion-control surface
// from spec §4.6. The TCP core interacts with a Controller only through
// this interface — never by reaching into cwnd/ssthresh bookkeeping
// directly — mirroring `original_source/.../established/congestion_ctrl`
// (referenced from `passive_open.rs` as `cc::CongestionControl`, `cc::None`).
package congestion

import "time"

// Controller is the pluggable congestion-control surface spec §4.6
// requires. Implementations are not expected to be safe for concurrent
// use; the TCP control block calls into a Controller only from its own
// single-goroutine send path.
type Controller interface {
	// OnAck is called when new data is acknowledged: ackedBytes is the
	// number of newly-acknowledged bytes, and rtt is the RTT sample for
	// the acknowledging segment if one could be taken (Karn's algorithm
	// may mean there isn't one — callers pass 0 in that case and
	// implementations must not treat 0 as a real sample).
	OnAck(ackedBytes int, rtt time.Duration, hasRTT bool)

	// OnDuplicateAck is called for each duplicate ACK after the third
	// (spec §4.4 step 3): the sender counts the first three itself,
	// calls OnFastRetransmit on the third, and reports only the later
	// ones here.
	OnDuplicateAck()

	// OnTimeout is called when the retransmit timer fires (spec §4.5).
	OnTimeout()

	// OnFastRetransmit is called exactly once, when the third duplicate
	// ACK triggers a fast retransmit (spec §4.5).
	OnFastRetransmit()

	// CWND returns the current congestion window, in bytes.
	CWND() int

	// Ssthresh returns the current slow-start threshold, in bytes.
	Ssthresh() int
}
