package tcp

import (
	"sync"

	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/stack"
	"github.com/coolheart77/netstack/tcpip"
	"github.com/coolheart77/netstack/tcpip/config"
)

// inflightAccept is one passive-open handshake in progress: a SYN has
// been seen and a SYN-ACK sent, but the final ACK completing the 3-way
// handshake hasn't arrived yet. Kept separate from a completed endpoint
// so the backlog accounting (spec §4.3) only ever counts entries that
// are still consuming a backlog slot.
//
// Grounded on original_source's passive_open.rs SYN_RCVD bookkeeping.
type inflightAccept struct {
	id *handshake
	ep *endpoint
}

// Listener implements passive open, per spec §4.3: a bounded backlog of
// in-progress handshakes, plus a queue of fully-established connections
// waiting to be handed to Accept.
type Listener struct {
	local stack.TransportEndpointID
	cfg   config.Config
	isn   *ISNGenerator

	newRoute func(remote stack.TransportEndpointID) *stack.Route

	// onAccept registers a freshly-handshaked endpoint with the owning
	// Protocol's dispatch table, so later segments for its 4-tuple reach
	// it instead of falling through to HandleSegment's SYN-only path.
	onAccept func(ep *endpoint)

	mu        sync.Mutex
	backlog   int
	inflight  map[uint64]*inflightAccept
	ready     []*endpoint
	readyCond chan struct{}
	closed    bool
}

// NewListener constructs a Listener bound to local, with the given
// backlog (spec §4.3's max_backlog, clamped to at least 1). newRoute
// builds a Route to a given remote peer — the stack's job of wiring
// ARP/driver access into outbound segments for a freshly-accepted
// connection. onAccept is called once per completed handshake, before
// the endpoint is queued for Accept, so a caller can register it for
// ingress dispatch; it may be nil.
func NewListener(local stack.TransportEndpointID, backlog int, cfg config.Config, isn *ISNGenerator, newRoute func(stack.TransportEndpointID) *stack.Route, onAccept func(ep *endpoint)) *Listener {
	if backlog <= 0 {
		backlog = cfg.TCP.MaxBacklog
	}
	if backlog <= 0 {
		backlog = 1
	}
	return &Listener{
		local:     local,
		cfg:       cfg,
		isn:       isn,
		newRoute:  newRoute,
		onAccept:  onAccept,
		backlog:   backlog,
		inflight:  make(map[uint64]*inflightAccept),
		readyCond: make(chan struct{}),
	}
}

func fourTupleKey(id stack.TransportEndpointID) uint64 {
	var k uint64
	k |= uint64(id.RemoteAddress[0])<<56 | uint64(id.RemoteAddress[1])<<48 |
		uint64(id.RemoteAddress[2])<<40 | uint64(id.RemoteAddress[3])<<32
	k |= uint64(id.RemotePort) << 16
	k |= uint64(id.LocalPort)
	return k
}

// HandleSegment processes one inbound segment addressed to the
// listening port: a fresh SYN starts a new inflight handshake (subject
// to backlog limits), a RST/ACK is routed to the matching inflight
// handshake's segment queue.
func (l *Listener) HandleSegment(id stack.TransportEndpointID, s *segment) {
	key := fourTupleKey(id)

	l.mu.Lock()
	ia, ok := l.inflight[key]
	if !ok {
		if s.flagIsSet(flagRst) || !s.flagIsSet(flagSyn) {
			l.mu.Unlock()
			s.decRef()
			return
		}
		// Spec §4.7 step 1 / invariant #5: inflight handshakes plus
		// already-accepted-but-unconsumed connections together must stay
		// under the backlog cap, or a slow Accept caller lets the ready
		// queue grow without bound.
		if len(l.inflight)+len(l.ready) >= l.backlog {
			l.mu.Unlock()
			s.decRef()
			return
		}

		route := l.newRoute(id)
		ep := newEndpoint(id, route, l.cfg)
		h := newHandshake(ep, seqnum.SizeFromLen(int(l.cfg.TCP.ReceiveWindowSize)), l.isn)

		mss, sws, optOK := parseSynOptions(s)
		if !optOK {
			l.mu.Unlock()
			s.decRef()
			return
		}
		h.resetToSynRcvd(h.iss, s.sequenceNumber, mss, sws)

		ia = &inflightAccept{id: h, ep: ep}
		l.inflight[key] = ia
		l.mu.Unlock()

		go l.driveHandshake(key, ia, s)
		return
	}
	l.mu.Unlock()

	ia.ep.segmentQueue.enqueue(s)
	ia.ep.newSegmentWaker.Assert()
}

// driveHandshake runs an in-progress passive handshake to completion
// (promoting the endpoint to the ready queue) or failure (dropping it
// from the backlog). It reuses handshake.execute's own Sleeper-based
// wait loop, the same one the active-open path uses.
func (l *Listener) driveHandshake(key uint64, ia *inflightAccept, first *segment) {
	ia.ep.segmentQueue.enqueue(first)
	ia.ep.newSegmentWaker.Assert()

	if err := ia.id.execute(); err != nil {
		l.mu.Lock()
		delete(l.inflight, key)
		l.mu.Unlock()
		return
	}

	h := ia.id
	ep := ia.ep
	ep.snd = newSender(ep, h.iss, h.ackNum-1, h.sndWnd, h.mss, h.sndWndScale)
	ep.rcv = newReceiver(ep, h.ackNum-1, h.rcvWnd, h.effectiveRcvWndScale())

	// Register the endpoint for ingress dispatch before it's removed from
	// inflight, so there is no window where a segment for this 4-tuple
	// matches neither the inflight map nor the dispatch table and gets
	// silently dropped.
	if l.onAccept != nil {
		l.onAccept(ep)
	}

	l.mu.Lock()
	delete(l.inflight, key)
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.ready = append(l.ready, ep)
	cond := l.readyCond
	l.readyCond = make(chan struct{})
	l.mu.Unlock()
	close(cond)

	go func() {
		ep.protocolMainLoop(true, l.isn)
	}()
}

// Accept blocks (respecting ctxDone if non-nil) until a connection has
// completed its handshake, returning it ready for use.
func (l *Listener) Accept(ctxDone <-chan struct{}) (*endpoint, error) {
	for {
		l.mu.Lock()
		if len(l.ready) > 0 {
			ep := l.ready[0]
			l.ready = l.ready[1:]
			l.mu.Unlock()
			return ep, nil
		}
		cond := l.readyCond
		l.mu.Unlock()

		select {
		case <-cond:
		case <-ctxDone:
			return nil, tcpip.ErrWouldBlock
		}
	}
}

// Close stops accepting new connections; handshakes already in the
// backlog run to completion but are discarded rather than queued.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
