// Package stack glues the network layer (IPv4/ARP) to a transport
// protocol (TCP): it demultiplexes inbound frames by EtherType and
// protocol number, and gives transport endpoints a Route to send back
// out, resolving the next-hop MAC lazily through the ARP resolver.
//
// Grounded on the teacher's stack.Route/stack.TransportEndpointID, whose
// shape is visible through their use in tcpip/transport/tcp/connect.go
// (r.MTU(), r.MaxHeaderLength(), r.PseudoHeaderChecksum, r.WritePacket).
package stack

import (
	"context"
	"sync"
	"time"

	"github.com/coolheart77/netstack/arp"
	"github.com/coolheart77/netstack/buffer"
	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/tcpip"
)

// arpResolveTimeout bounds how long a packet send waits on an ARP
// resolution before giving up.
const arpResolveTimeout = 2 * time.Second

// LinkWriter is the external driver collaborator (spec §1): something
// that can put a fully-framed Ethernet frame on the wire.
type LinkWriter interface {
	WriteFrame(frame []byte) error
}

// TransportEndpointID names one TCP connection's 4-tuple, in the layout
// the send path consumes most often (local/remote port first).
type TransportEndpointID struct {
	LocalPort    uint16
	LocalAddress header.IPv4Address
	RemotePort   uint16
	RemoteAddress header.IPv4Address
}

// defaultMTU is the Ethernet payload MTU assumed absent path MTU
// discovery (out of scope; spec Non-goals).
const defaultMTU = 1500

// Route carries everything a transport endpoint needs to address and
// transmit one outbound segment: the addresses, the driver, and the ARP
// resolver used to learn the next-hop MAC.
type Route struct {
	LocalAddr  header.IPv4Address
	RemoteAddr header.IPv4Address
	LocalMAC   header.EthernetAddress

	link     LinkWriter
	resolver *arp.Resolver
}

// NewRoute constructs a Route bound to one local/remote IPv4 pair.
func NewRoute(local, remote header.IPv4Address, localMAC header.EthernetAddress, link LinkWriter, resolver *arp.Resolver) *Route {
	return &Route{LocalAddr: local, RemoteAddr: remote, LocalMAC: localMAC, link: link, resolver: resolver}
}

// MTU returns the link MTU available to transport payloads.
func (r *Route) MTU() int { return defaultMTU }

// MaxHeaderLength returns the space this route's underlying layers (IPv4
// + Ethernet) need ahead of the transport header.
func (r *Route) MaxHeaderLength() int {
	return header.EthernetMinimumSize + header.IPv4MinimumSize
}

// PseudoHeaderChecksum returns the IPv4 pseudo-header checksum seed for
// protocol, per spec §4.1/§6.1.
func (r *Route) PseudoHeaderChecksum(protocol uint8) uint16 {
	return header.PseudoHeaderChecksum(protocol, r.LocalAddr, r.RemoteAddr)
}

// WritePacket resolves the next hop and transmits hdr+data as one IPv4
// datagram of the given protocol.
func (r *Route) WritePacket(hdr *buffer.Prependable, data buffer.View, protocol uint8) error {
	ipHdr := hdr.Prepend(header.IPv4MinimumSize)
	payloadLen := hdr.UsedLength() - header.IPv4MinimumSize + len(data)
	header.EncodeIPv4(ipHdr, &header.IPv4Fields{
		PayloadLength: uint16(payloadLen),
		Protocol:      protocol,
		SrcAddr:       r.LocalAddr,
		DstAddr:       r.RemoteAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), arpResolveTimeout)
	defer cancel()
	destMAC, err := r.resolver.Query(ctx, r.RemoteAddr)
	if err != nil {
		return err
	}

	ethHdr := hdr.Prepend(header.EthernetMinimumSize)
	header.Ethernet(ethHdr).Encode(&header.EthernetFields{
		SrcAddr: r.LocalMAC,
		DstAddr: destMAC,
		Type:    header.EtherTypeIPv4,
	})

	frame := append([]byte(nil), hdr.View()...)
	if len(data) > 0 {
		frame = append(frame, data...)
	}
	return r.link.WriteFrame(frame)
}

// Demux dispatches inbound Ethernet frames to the IPv4/ARP handlers
// registered with it. One Demux serves one stack instance.
type Demux struct {
	resolver *arp.Resolver

	mu        sync.RWMutex
	protocols map[uint8]func(src, dst header.IPv4Address, payload []byte)
}

// NewDemux constructs a Demux that hands ARP frames to resolver and lets
// transport protocols register for IPv4 protocol numbers.
func NewDemux(resolver *arp.Resolver) *Demux {
	return &Demux{resolver: resolver, protocols: make(map[uint8]func(src, dst header.IPv4Address, payload []byte))}
}

// RegisterProtocol installs handler for IPv4 protocol number proto (e.g.
// header.IPv4ProtocolTCP).
func (d *Demux) RegisterProtocol(proto uint8, handler func(src, dst header.IPv4Address, payload []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protocols[proto] = handler
}

// HandleFrame demultiplexes one inbound Ethernet frame.
func (d *Demux) HandleFrame(frame []byte) error {
	if len(frame) < header.EthernetMinimumSize {
		return tcpip.ErrBadMessage
	}
	eth := header.Ethernet(frame)
	payload := frame[header.EthernetMinimumSize:]

	switch eth.Type() {
	case header.EtherTypeARP:
		if len(payload) < header.ARPSize {
			return tcpip.ErrBadMessage
		}
		return d.resolver.HandleARP(header.ARP(payload))

	case header.EtherTypeIPv4:
		ip, transportPayload, err := header.ParseIPv4(payload, false)
		if err != nil {
			return err
		}
		d.mu.RLock()
		handler := d.protocols[ip.Protocol()]
		d.mu.RUnlock()
		if handler == nil {
			return tcpip.ErrNotSupported
		}
		handler(ip.SourceAddress(), ip.DestinationAddress(), transportPayload)
		return nil
	}
	return tcpip.ErrNotSupported
}
