package tcp

import (
	"sync"

	"github.com/coolheart77/netstack/buffer"
	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/stack"
	"github.com/coolheart77/netstack/tcpip"
	"github.com/coolheart77/netstack/tcpip/config"
)

// Protocol is the stack-facing glue for TCP: it demultiplexes inbound
// IPv4 payloads carrying protocol number ProtocolNumber to the matching
// connection or listener, and lets callers open new connections (active
// or passive). One Protocol instance corresponds to one stack instance
// binding a single local IPv4 address.
//
// This plays the role spec §2 assigns to the network layer handing a
// transport protocol its segments; the teacher's equivalent lives split
// across stack.Stack/stack.TransportProtocol, which this workspace
// doesn't retrieve in full, so the dispatch table here is a minimal,
// TCP-only stand-in grounded on the same registration shape
// (stack.Demux.RegisterProtocol in stack/stack.go), which NewProtocol
// calls into directly so HandlePacket is always reachable from a real
// Demux rather than merely documented.
type Protocol struct {
	cfg      config.Config
	isn      *ISNGenerator
	newRoute func(remote stack.TransportEndpointID) *stack.Route

	mu        sync.Mutex
	conns     map[uint64]*endpoint
	listeners map[uint16]*Listener
}

// NewProtocol constructs a Protocol and registers it with demux for
// ProtocolNumber, so inbound IPv4 TCP payloads the demux sees reach
// HandlePacket. newRoute builds a Route to a given remote peer (wiring
// in ARP resolution and the link driver); nonce seeds the ISN generator
// (spec §4.2).
func NewProtocol(cfg config.Config, nonce uint32, newRoute func(stack.TransportEndpointID) *stack.Route, demux *stack.Demux) *Protocol {
	p := &Protocol{
		cfg:       cfg,
		isn:       NewISNGenerator(nonce),
		newRoute:  newRoute,
		conns:     make(map[uint64]*endpoint),
		listeners: make(map[uint16]*Listener),
	}
	if demux != nil {
		demux.RegisterProtocol(ProtocolNumber, p.HandlePacket)
	}
	return p
}

// registerConn adds ep to the dispatch table keyed by its 4-tuple, so
// later inbound segments for that connection reach deliverSegment
// instead of falling through to a listener or a RST. Used both by
// Connect (immediately) and by a Listener's onAccept hook (once a
// passive handshake completes).
func (p *Protocol) registerConn(ep *endpoint) {
	p.mu.Lock()
	p.conns[fourTupleKey(ep.id)] = ep
	p.mu.Unlock()
}

// Listen registers a passive-open listener on localPort.
func (p *Protocol) Listen(localAddr header.IPv4Address, localPort uint16, backlog int) (*Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.listeners[localPort]; exists {
		return nil, tcpip.ErrAddressInUse
	}
	l := NewListener(stack.TransportEndpointID{LocalAddress: localAddr, LocalPort: localPort}, backlog, p.cfg, p.isn, p.newRoute, p.registerConn)
	p.listeners[localPort] = l
	return l, nil
}

// Connect actively opens a connection to remote, running the 3-way
// handshake synchronously and, on success, starting the connection's
// protocol loop in the background.
func (p *Protocol) Connect(localAddr header.IPv4Address, localPort uint16, remoteAddr header.IPv4Address, remotePort uint16) (*endpoint, error) {
	id := stack.TransportEndpointID{
		LocalAddress:  localAddr,
		LocalPort:     localPort,
		RemoteAddress: remoteAddr,
		RemotePort:    remotePort,
	}
	route := p.newRoute(id)
	ep := newEndpoint(id, route, p.cfg)
	p.registerConn(ep)

	go func() {
		ep.protocolMainLoop(false, p.isn)
	}()

	<-ep.awaitReady()
	if err := ep.errorIfAny(); err != nil {
		p.mu.Lock()
		delete(p.conns, fourTupleKey(id))
		p.mu.Unlock()
		return nil, err
	}
	return ep, nil
}

// HandlePacket is registered with stack.Demux for ProtocolNumber: it
// parses the TCP header, verifies the checksum (unless offloaded),
// and routes the segment to a matching connection or listener, sending
// a RST if nothing claims it (RFC 793's rule for segments addressed to
// a closed port).
func (p *Protocol) HandlePacket(src, dst header.IPv4Address, payload []byte) {
	if len(payload) < header.TCPMinimumSize {
		return
	}
	tcpHdr := header.TCP(payload)
	dataOffset := int(tcpHdr.DataOffset())
	if dataOffset < header.TCPMinimumSize || dataOffset > len(payload) {
		return
	}

	if !p.cfg.TCP.RxChecksumOffload {
		xsum := header.PseudoHeaderChecksum(ProtocolNumber, src, dst)
		xsum = header.Checksum(payload[dataOffset:], xsum)
		if tcpHdr.CalculateChecksum(xsum, uint16(len(payload))) != 0xffff {
			return
		}
	}

	id := stack.TransportEndpointID{
		LocalAddress:  dst,
		LocalPort:     tcpHdr.DestinationPort(),
		RemoteAddress: src,
		RemotePort:    tcpHdr.SourcePort(),
	}

	s := newSegment()
	s.id = id
	s.sequenceNumber = seqnum.Value(tcpHdr.SequenceNumber())
	s.ackNumber = seqnum.Value(tcpHdr.AckNumber())
	s.flags = tcpHdr.Flags()
	s.window = seqnum.Size(tcpHdr.WindowSize())
	s.options = append([]byte(nil), tcpHdr.Options()...)
	s.data = buffer.NewViewFromBytes(payload[dataOffset:]).ToVectorisedView()

	p.mu.Lock()
	ep, connFound := p.conns[fourTupleKey(id)]
	l, listenFound := p.listeners[id.LocalPort]
	p.mu.Unlock()

	switch {
	case connFound:
		ep.deliverSegment(s)
	case listenFound:
		l.HandleSegment(id, s)
	default:
		p.sendRST(id, s)
		s.decRef()
	}
}

// sendRST replies to a segment addressed to nothing we own, per RFC 793
// page 65's rule for segments that don't match a listening or
// established socket.
func (p *Protocol) sendRST(id stack.TransportEndpointID, s *segment) {
	if s.flagIsSet(flagRst) {
		return
	}
	route := p.newRoute(id)
	if s.flagIsSet(flagAck) {
		sendTCP(route, id, nil, flagRst, s.ackNumber, 0, 0)
		return
	}
	ack := s.sequenceNumber.Add(s.logicalLen())
	sendTCP(route, id, nil, flagRst|flagAck, 0, ack, 0)
}
