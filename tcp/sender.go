package tcp

import (
	"time"

	"github.com/coolheart77/netstack/congestion"
	"github.com/coolheart77/netstack/internal/scheduler"
	"github.com/coolheart77/netstack/seqnum"
)

// outstandingSegment is one previously-transmitted segment still
// awaiting acknowledgment, kept so it can be retransmitted on RTO or
// fast retransmit without re-deriving its sequence range.
type outstandingSegment struct {
	seq       seqnum.Value
	data      []byte
	flags     uint8
	xmitTime  time.Time
	xmitCount int
}

// sender holds the send-side state of a TCP control block: the send
// window, the retransmit queue, and the plugged-in congestion
// controller, per spec §4.5/§4.6/§4.7.
type sender struct {
	ep *endpoint

	sndUna      seqnum.Value
	sndNxt      seqnum.Value
	sndWnd      seqnum.Size
	sndWndScale int
	mss         uint16

	iss seqnum.Value

	writeQueue [][]byte
	closed     bool
	finQueued  bool

	outstanding []outstandingSegment
	dupAckCount int

	cc  congestion.Controller
	rto *rtoEstimator

	resendWaker scheduler.Waker
	resendTimer *time.Timer

	maxSentAck seqnum.Value

	// userTimeoutDeadline bounds total time spent retransmitting one
	// outstanding segment before giving up, per spec §7's user timeout.
	// Zero means "not armed".
	userTimeoutDeadline time.Time
}

func newSender(ep *endpoint, iss, irs seqnum.Value, sndWnd seqnum.Size, mss uint16, sndWndScale int) *sender {
	s := &sender{
		ep:          ep,
		sndUna:      iss + 1,
		sndNxt:      iss + 1,
		sndWnd:      sndWnd,
		sndWndScale: sndWndScale,
		mss:         mss,
		iss:         iss,
		cc:          congestion.NewNewReno(int(mss)),
		rto:         newRTOEstimator(),
	}
	s.resendTimer = time.AfterFunc(s.rto.get(), func() { s.resendWaker.Assert() })
	s.resendTimer.Stop()
	return s
}

// write queues an application payload for transmission.
func (s *sender) write(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.writeQueue = append(s.writeQueue, cp)
}

// close marks the send side closed: once the write queue drains, a FIN
// is queued and consumes one sequence number, per RFC 793.
func (s *sender) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.finQueued = true
}

// sendData segments the pending write queue into MSS-sized (or smaller)
// segments and transmits as many as the congestion/receive window and
// Nagle's algorithm allow.
func (s *sender) sendData() {
	for {
		avail := s.availableWindow()
		if avail <= 0 {
			if s.sndWnd == 0 && len(s.outstanding) == 0 {
				s.armZeroWindowProbe()
			}
			return
		}

		payload := s.nextPayload(avail)
		if payload == nil {
			if s.finQueued && len(s.writeQueue) == 0 && !s.finSent() {
				s.transmit(nil, flagAck|flagFin)
				s.finQueued = false
			}
			return
		}

		if !s.nagleAllows(payload) {
			s.writeQueue = append([][]byte{payload}, s.writeQueue...)
			return
		}

		s.transmit(payload, flagAck)
	}
}

// finSent reports whether a FIN has already been placed in the
// outstanding (sent-but-unacked) queue.
func (s *sender) finSent() bool {
	for _, o := range s.outstanding {
		if o.flags&flagFin != 0 {
			return true
		}
	}
	return false
}

// availableWindow is how many new bytes we may put on the wire: bounded
// by the peer's advertised window and by the congestion window, net of
// data already in flight.
func (s *sender) availableWindow() int {
	inFlight := int(s.sndUna.Size(s.sndNxt))
	peerWindow := int(s.sndWnd)
	cwnd := s.cc.CWND()
	limit := peerWindow
	if cwnd < limit {
		limit = cwnd
	}
	avail := limit - inFlight
	if avail < 0 {
		avail = 0
	}
	return avail
}

// nextPayload pops up to n bytes (bounded by MSS) off the front of the
// write queue, reinserting any remainder.
func (s *sender) nextPayload(n int) []byte {
	if len(s.writeQueue) == 0 {
		return nil
	}
	if n > int(s.mss) {
		n = int(s.mss)
	}
	head := s.writeQueue[0]
	if len(head) <= n {
		s.writeQueue = s.writeQueue[1:]
		return head
	}
	s.writeQueue[0] = head[n:]
	return head[:n]
}

// nagleAllows implements Nagle's algorithm (spec §4.8): a full-MSS
// segment always goes out; a smaller one goes out only when nothing is
// outstanding, and is otherwise held back until the outstanding data is
// acknowledged.
func (s *sender) nagleAllows(payload []byte) bool {
	if len(payload) >= int(s.mss) {
		return true
	}
	if len(s.outstanding) == 0 {
		return true
	}
	return false
}

// armZeroWindowProbe re-arms the resend timer once the peer's window has
// collapsed to zero with nothing outstanding. No probe byte is sent: when
// that timer fires with an empty outstanding queue, retransmitTimerExpired
// transmits nothing, and sending resumes only when a segment from the
// peer reopens the window.
func (s *sender) armZeroWindowProbe() {
	s.resendTimer.Stop()
	s.resendTimer.Reset(s.rto.get())
}

func (s *sender) transmit(payload []byte, flags uint8) {
	seq := s.sndNxt
	timerIdle := !s.resendTimerRunning()
	if timerIdle {
		s.userTimeoutDeadline = nowFunc().Add(s.ep.cfg.TCP.UserTimeout)
	}
	o := outstandingSegment{seq: seq, data: payload, flags: flags, xmitTime: nowFunc(), xmitCount: 1}
	s.outstanding = append(s.outstanding, o)

	adv := seqnum.Size(len(payload))
	if flags&flagFin != 0 {
		adv++
	}
	s.sndNxt = s.sndNxt.Add(adv)
	s.maxSentAck = s.ep.rcv.rcvNxt

	s.ep.sendRaw(payload, flags, seq, s.ep.rcv.rcvNxt, s.ep.rcv.window())

	if timerIdle {
		s.resendTimer.Reset(s.rto.get())
	}
}

func (s *sender) resendTimerRunning() bool {
	return len(s.outstanding) > 0
}

// sendAck transmits a pure ACK (no payload), used when the delayed-ACK
// deadline fires (ackWaker), when the receiver rejects an unacceptable
// segment, and when the receive window reopens (nonZeroWindow).
func (s *sender) sendAck() {
	s.maxSentAck = s.ep.rcv.rcvNxt
	s.ep.sendRaw(nil, flagAck, s.sndNxt, s.ep.rcv.rcvNxt, s.ep.rcv.window())
}

// handleRcvdSegment processes the ACK-related fields of an inbound
// segment: new-data ACKs advance sndUna, retire outstanding segments,
// feed an RTT sample to the estimator (Karn's algorithm — only for
// segments sent exactly once), and drive the congestion controller;
// repeated ACKs of the same sndUna count toward fast retransmit.
func (s *sender) handleRcvdSegment(seg *segment) {
	ack := seg.ackNumber

	if ack == s.sndUna {
		if len(s.outstanding) > 0 && int(seg.window) > 0 {
			s.dupAckCount++
			if s.dupAckCount == 3 {
				s.fastRetransmit()
			} else if s.dupAckCount > 3 {
				s.cc.OnDuplicateAck()
			}
		}
	} else if ack.LessThanEq(s.sndNxt) && s.sndUna.LessThan(ack) {
		ackedBytes := int(s.sndUna.Size(ack))
		s.dupAckCount = 0
		rtt, hasRTT := s.sampleRTT(ack)
		s.retireAcked(ack)
		s.sndUna = ack

		if hasRTT {
			s.rto.update(rtt)
		}
		s.cc.OnAck(ackedBytes, rtt, hasRTT)

		if len(s.outstanding) == 0 {
			s.resendTimer.Stop()
			s.userTimeoutDeadline = time.Time{}
		} else {
			s.resendTimer.Reset(s.rto.get())
		}
	}

	// seg.window has already been left-shifted by the caller
	// (handleSegments) using sndWndScale, so it's directly comparable
	// to sndWnd.
	s.sndWnd = seg.window

	s.ep.notifyWritable()
}

// retireAcked drops outstanding segments fully covered by the new ack.
func (s *sender) retireAcked(ack seqnum.Value) {
	i := 0
	for ; i < len(s.outstanding); i++ {
		o := s.outstanding[i]
		end := o.seq.Add(seqnum.Size(len(o.data)))
		if o.flags&flagFin != 0 {
			end++
		}
		if ack.LessThan(end) {
			break
		}
	}
	s.outstanding = s.outstanding[i:]
}

// sampleRTT returns an RTT sample from the outstanding segment whose
// range ack ends in (the last segment it acknowledges), if that segment
// qualifies under Karn's algorithm (never retransmitted). It must run
// before retireAcked drops the acknowledged segments.
func (s *sender) sampleRTT(ack seqnum.Value) (time.Duration, bool) {
	for _, o := range s.outstanding {
		end := o.seq.Add(seqnum.Size(len(o.data)))
		if ack.LessThanEq(o.seq) {
			break
		}
		if ack.LessThanEq(end) {
			if o.xmitCount > 1 {
				return 0, false
			}
			return nowFunc().Sub(o.xmitTime), true
		}
	}
	return 0, false
}

// fastRetransmit implements RFC 5681 fast retransmit/fast recovery: on
// the third duplicate ACK, retransmit the oldest unacked segment and
// enter recovery immediately instead of waiting for the RTO.
func (s *sender) fastRetransmit() {
	s.cc.OnFastRetransmit()
	if len(s.outstanding) == 0 {
		return
	}
	o := &s.outstanding[0]
	o.xmitCount++
	o.xmitTime = nowFunc()
	s.ep.sendRaw(o.data, o.flags|flagAck, o.seq, s.ep.rcv.rcvNxt, s.ep.rcv.window())
}

// retransmitTimerExpired fires when the resend waker wakes the protocol
// loop: it reports whether the connection should keep retrying (true) or
// give up with a timeout (false, once the configured user timeout has
// elapsed since data was first sent with nothing else outstanding).
func (s *sender) retransmitTimerExpired() bool {
	if len(s.outstanding) == 0 {
		return true
	}
	if !s.userTimeoutDeadline.IsZero() && nowFunc().After(s.userTimeoutDeadline) {
		return false
	}

	rto := s.rto.backoff()
	o := &s.outstanding[0]
	o.xmitCount++
	o.xmitTime = nowFunc()
	s.cc.OnTimeout()
	s.ep.sendRaw(o.data, o.flags|flagAck, o.seq, s.ep.rcv.rcvNxt, s.ep.rcv.window())
	s.resendTimer.Reset(rto)
	return true
}

// nowFunc is a seam so tests can fake RTT timing; production code always
// uses time.Now.
var nowFunc = time.Now
