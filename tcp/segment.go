package tcp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coolheart77/netstack/buffer"
	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/stack"
)

// TCP flag bits, mirrored from header.Flag* so the rest of the package
// can write flagSyn instead of header.FlagSyn, matching the teacher's
// connect.go usage (flagSyn, flagAck, ...).
const (
	flagFin = header.FlagFin
	flagSyn = header.FlagSyn
	flagRst = header.FlagRst
	flagPsh = header.FlagPsh
	flagAck = header.FlagAck
	flagUrg = header.FlagUrg
)

// segment is one inbound TCP segment, queued for delivery. It is
// reference-counted and returned to the pool when decRef drops the count
// to zero — the same lifetime discipline the teacher's connect.go assumes
// with its decRef calls. The out-of-order reassembly store and the
// retransmit queue keep their own copies of payload bytes, not segments.
type segment struct {
	refCnt int32

	id    stack.TransportEndpointID
	route *stack.Route

	sequenceNumber seqnum.Value
	ackNumber      seqnum.Value
	flags          uint8
	window         seqnum.Size
	options        []byte

	data buffer.VectorisedView

	// xmitTime and xmitCount are not set anywhere in this package: send
	// times and transmit counts for RTT sampling (Karn's algorithm) are
	// kept on outstandingSegment in sender.go.
	xmitTime  time.Time
	xmitCount int
}

var segmentPool = sync.Pool{New: func() interface{} { return &segment{} }}

func newSegment() *segment {
	s := segmentPool.Get().(*segment)
	*s = segment{refCnt: 1}
	return s
}

func (s *segment) flagIsSet(flag uint8) bool {
	return s.flags&flag != 0
}

// logicalLen is the sequence-number span this segment occupies: payload
// bytes plus one each for a present SYN or FIN (RFC 793's convention
// that control flags consume a sequence number).
func (s *segment) logicalLen() seqnum.Size {
	l := seqnum.Size(s.data.Size())
	if s.flagIsSet(flagSyn) {
		l++
	}
	if s.flagIsSet(flagFin) {
		l++
	}
	return l
}

func (s *segment) clone() *segment {
	c := newSegment()
	c.id = s.id
	c.route = s.route
	c.sequenceNumber = s.sequenceNumber
	c.ackNumber = s.ackNumber
	c.flags = s.flags
	c.window = s.window
	c.options = s.options
	c.data = s.data
	return c
}

func (s *segment) incRef() *segment {
	atomic.AddInt32(&s.refCnt, 1)
	return s
}

func (s *segment) decRef() {
	if atomic.AddInt32(&s.refCnt, -1) == 0 {
		segmentPool.Put(s)
	}
}

// segmentQueue is a FIFO queue of inbound segments shared between the
// demux goroutine (producer) and the endpoint's protocol loop
// (consumer). Callers assert the endpoint's newSegmentWaker after a
// segment is enqueued, so the protocol loop's Sleeper wakes up.
type segmentQueue struct {
	mu    sync.Mutex
	list  []*segment
	limit int
}

func newSegmentQueue(limit int) *segmentQueue {
	return &segmentQueue{limit: limit}
}

// enqueue appends s to the queue, dropping it (and reporting false) if
// the queue is at capacity — the same backpressure a bounded channel
// would apply, without blocking the demux goroutine.
func (q *segmentQueue) enqueue(s *segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.list) >= q.limit {
		return false
	}
	q.list = append(q.list, s)
	return true
}

func (q *segmentQueue) dequeue() *segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.list) == 0 {
		return nil
	}
	s := q.list[0]
	q.list = q.list[1:]
	return s
}

func (q *segmentQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list) == 0
}
