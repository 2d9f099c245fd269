package tcp

import (
	"github.com/google/btree"

	"github.com/coolheart77/netstack/seqnum"
)

// outOfOrderSegment is a btree.Item keyed by starting sequence number,
// holding payload bytes that arrived ahead of rcvNxt and are waiting for
// the gap before them to fill in. google/btree gives the reassembly
// store ordered iteration (to coalesce contiguous runs as they complete)
// without hand-rolling a balanced tree, the same role it plays for the
// out-of-order indices in the rest of the corpus.
type outOfOrderSegment struct {
	seq  seqnum.Value
	data []byte
}

func (a outOfOrderSegment) Less(than btree.Item) bool {
	b := than.(outOfOrderSegment)
	return a.seq.LessThan(b.seq)
}

// receiver holds the receive-side state of a TCP control block: rcvNxt,
// the advertised window, and the out-of-order reassembly store, per spec
// §4.4.
type receiver struct {
	ep *endpoint

	rcvNxt      seqnum.Value
	rcvWnd      seqnum.Size
	rcvWndScale uint8

	closed bool
	finSeq seqnum.Value
	finSet bool

	pendingBufSize seqnum.Size

	outOfOrder *btree.BTree

	deliverable [][]byte
}

func newReceiver(ep *endpoint, irs seqnum.Value, rcvWnd seqnum.Size, rcvWndScale uint8) *receiver {
	return &receiver{
		ep:             ep,
		rcvNxt:         irs + 1,
		rcvWnd:         rcvWnd,
		rcvWndScale:    rcvWndScale,
		pendingBufSize: rcvWnd,
		outOfOrder:     btree.New(8),
	}
}

// window returns the currently advertised (unscaled, 16-bit-capped)
// receive window.
func (r *receiver) window() seqnum.Size {
	return r.pendingBufSize.WindowSize(r.rcvWndScale)
}

// acceptable implements the RFC 793 page 25 segment acceptability test
// for a segment of the given length starting at seq.
func (r *receiver) acceptable(seq seqnum.Value, length seqnum.Size) bool {
	if r.rcvWnd == 0 {
		return length == 0 && seq == r.rcvNxt
	}
	if length == 0 {
		return seq.InWindow(r.rcvNxt, r.rcvWnd)
	}
	end := seq.Add(length - 1)
	return seq.InWindow(r.rcvNxt, r.rcvWnd) || end.InWindow(r.rcvNxt, r.rcvWnd)
}

// handleRcvdSegment processes one ESTABLISHED-state inbound segment:
// acceptability, in-order delivery or out-of-order buffering, and FIN
// handling, per spec §4.4.
func (r *receiver) handleRcvdSegment(s *segment) {
	length := s.logicalLen()
	if !r.acceptable(s.sequenceNumber, length) {
		if !s.flagIsSet(flagRst) {
			r.ep.snd.sendAck()
		}
		return
	}

	payload := s.data.ToView()
	seq := s.sequenceNumber

	if seq != r.rcvNxt {
		// Out of order: stash it if it's new, ignoring it (but still
		// ACK-worthy) if we've already buffered that range.
		if seq.LessThan(r.rcvNxt) {
			trim := int(seq.Size(r.rcvNxt))
			if trim < len(payload) {
				payload = payload[trim:]
				seq = r.rcvNxt
			} else {
				payload = nil
			}
		}
		if len(payload) > 0 {
			r.outOfOrder.ReplaceOrInsert(outOfOrderSegment{seq: seq, data: payload})
		}
		if s.flagIsSet(flagFin) {
			r.finSeq = s.sequenceNumber.Add(seqnum.Size(len(s.data.ToView())))
			r.finSet = true
		}
		return
	}

	if len(payload) > 0 {
		r.deliverable = append(r.deliverable, payload)
		r.rcvNxt = r.rcvNxt.Add(seqnum.Size(len(payload)))
	}

	r.drainOutOfOrder()

	if s.flagIsSet(flagFin) && s.sequenceNumber.Add(seqnum.Size(len(s.data.ToView()))) == r.rcvNxt {
		r.rcvNxt++
		r.closed = true
	}
}

// drainOutOfOrder pulls any buffered segments that have become
// contiguous with rcvNxt into the deliverable queue, repeatedly, so a
// late-arriving gap-filler can cascade a whole run of reassembly at once.
func (r *receiver) drainOutOfOrder() {
	for {
		item := r.outOfOrder.Min()
		if item == nil {
			return
		}
		oos := item.(outOfOrderSegment)
		if oos.seq.LessThan(r.rcvNxt) {
			r.outOfOrder.DeleteMin()
			continue
		}
		if oos.seq != r.rcvNxt {
			return
		}
		r.outOfOrder.DeleteMin()
		r.deliverable = append(r.deliverable, oos.data)
		r.rcvNxt = r.rcvNxt.Add(seqnum.Size(len(oos.data)))
	}
}

// nonZeroWindow is invoked when the application has freed up receive
// buffer space after having advertised a zero window, per spec §4.8; it
// re-triggers an ACK carrying the new, nonzero window so a peer parked
// in zero-window-probe mode can resume sending.
func (r *receiver) nonZeroWindow() {
	r.ep.snd.sendAck()
}
