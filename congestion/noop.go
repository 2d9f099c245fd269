package congestion

import "time"

// Noop is the no-op plug-in spec §4.6 permits for testing: an
// unboundedly-open window, so the send path is never gated by congestion
// control. Grounded on `original_source`'s `cc::None`, referenced from
// `passive_open.rs` as the controller constructor passed into
// `ControlBlock::new`.
type Noop struct{}

// NewNoop constructs a Noop controller.
func NewNoop() *Noop { return &Noop{} }

// OnAck implements Controller.
func (*Noop) OnAck(int, time.Duration, bool) {}

// OnDuplicateAck implements Controller.
func (*Noop) OnDuplicateAck() {}

// OnTimeout implements Controller.
func (*Noop) OnTimeout() {}

// OnFastRetransmit implements Controller.
func (*Noop) OnFastRetransmit() {}

// CWND implements Controller, returning a sentinel "infinite" window.
func (*Noop) CWND() int { return 1 << 30 }

// Ssthresh implements Controller.
func (*Noop) Ssthresh() int { return 1 << 30 }
