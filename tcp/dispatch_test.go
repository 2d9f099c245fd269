package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coolheart77/netstack/arp"
	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/stack"
	"github.com/coolheart77/netstack/tcpip/config"
)

// discardLink is a no-op stack.LinkWriter/arp.FrameSender: outbound
// SYN-ACKs/ACKs the handshake sends never need to actually hit a wire.
type discardLink struct{}

func (discardLink) WriteFrame(frame []byte) error { return nil }
func (discardLink) SendARP(frame []byte) error    { return nil }

// buildSegment encodes one raw TCP segment (fixed header plus optional MSS
// option) addressed from client to server, the same byte layout
// HandlePacket expects as a protocol payload.
func buildSegment(t *testing.T, clientIP, serverIP header.IPv4Address, clientPort, serverPort uint16, flags uint8, seq, ack seqnum.Value, payload []byte) []byte {
	t.Helper()

	var opts []byte
	if flags&flagSyn != 0 {
		opts = header.EncodeMSSOption(1460, opts)
	}

	total := header.TCPMinimumSize + len(opts) + len(payload)
	buf := make([]byte, total)
	tcpHdr := header.TCP(buf)
	tcpHdr.Encode(&header.TCPFields{
		SrcPort:    clientPort,
		DstPort:    serverPort,
		SeqNum:     uint32(seq),
		AckNum:     uint32(ack),
		DataOffset: uint8(header.TCPMinimumSize + len(opts)),
		Flags:      flags,
		WindowSize: 65535,
	})
	copy(buf[header.TCPMinimumSize:], opts)
	copy(buf[header.TCPMinimumSize+len(opts):], payload)

	xsum := header.PseudoHeaderChecksum(ProtocolNumber, clientIP, serverIP)
	if len(payload) > 0 {
		xsum = header.Checksum(payload, xsum)
	}
	tcpHdr.SetChecksum(^tcpHdr.CalculateChecksum(xsum, uint16(total)))
	return buf
}

// buildFrame wraps a TCP segment in an IPv4-over-Ethernet frame, the way a
// real NIC driver would hand it to Demux.HandleFrame.
func buildFrame(srcMAC, dstMAC header.EthernetAddress, srcIP, dstIP header.IPv4Address, tcpSegment []byte) []byte {
	frame := make([]byte, header.EthernetMinimumSize+header.IPv4MinimumSize+len(tcpSegment))
	header.Ethernet(frame).Encode(&header.EthernetFields{
		SrcAddr: srcMAC,
		DstAddr: dstMAC,
		Type:    header.EtherTypeIPv4,
	})
	header.EncodeIPv4(frame[header.EthernetMinimumSize:], &header.IPv4Fields{
		PayloadLength: uint16(len(tcpSegment)),
		Protocol:      header.IPv4ProtocolTCP,
		SrcAddr:       srcIP,
		DstAddr:       dstIP,
	})
	copy(frame[header.EthernetMinimumSize+header.IPv4MinimumSize:], tcpSegment)
	return frame
}

// TestPassiveAcceptReceivesDataAfterHandshake drives a full passive-open
// ingress path through Protocol.HandlePacket: SYN, the handshake-completing
// ACK, and a post-accept data segment, verifying that once a connection has
// been accepted, later segments for its 4-tuple are no longer silently
// dropped (they must reach the registered endpoint's receiver, not fall
// through to the listener's inflight-only lookup).
func TestPassiveAcceptReceivesDataAfterHandshake(t *testing.T) {
	serverIP := header.IPv4Address{10, 0, 0, 1}
	serverMAC := header.EthernetAddress{0x02, 0, 0, 0, 0, 1}
	clientIP := header.IPv4Address{10, 0, 0, 2}
	clientMAC := header.EthernetAddress{0x02, 0, 0, 0, 0, 2}
	const clientPort = 51000
	const serverPort = 9000

	cfg := config.Default()
	cfg.ARP.InitialTable = map[[4]byte][6]byte{
		{clientIP[0], clientIP[1], clientIP[2], clientIP[3]}: {clientMAC[0], clientMAC[1], clientMAC[2], clientMAC[3], clientMAC[4], clientMAC[5]},
	}

	resolver := arp.NewResolver(serverIP, serverMAC, cfg.ARP, discardLink{})
	demux := stack.NewDemux(resolver)
	newRoute := func(id stack.TransportEndpointID) *stack.Route {
		return stack.NewRoute(id.LocalAddress, id.RemoteAddress, serverMAC, discardLink{}, resolver)
	}

	proto := NewProtocol(cfg, 1, newRoute, demux)

	listener, err := proto.Listen(serverIP, serverPort, 4)
	require.NoError(t, err)

	clientISN := seqnum.Value(1000)
	syn := buildSegment(t, clientIP, serverIP, clientPort, serverPort, flagSyn, clientISN, 0, nil)

	// Drive the SYN through the real Demux, proving NewProtocol's call to
	// demux.RegisterProtocol actually wires HandlePacket in, rather than
	// leaving it reachable only by calling HandlePacket directly.
	frame := buildFrame(clientMAC, serverMAC, clientIP, serverIP, syn)
	require.NoError(t, demux.HandleFrame(frame))

	id := stack.TransportEndpointID{
		LocalAddress:  serverIP,
		LocalPort:     serverPort,
		RemoteAddress: clientIP,
		RemotePort:    clientPort,
	}
	key := fourTupleKey(id)

	var serverISN seqnum.Value
	require.Eventually(t, func() bool {
		listener.mu.Lock()
		ia, ok := listener.inflight[key]
		listener.mu.Unlock()
		if !ok {
			return false
		}
		serverISN = ia.id.iss
		return true
	}, time.Second, time.Millisecond, "listener never recorded the inflight SYN_RCVD handshake")

	finalAck := buildSegment(t, clientIP, serverIP, clientPort, serverPort, flagAck, clientISN+1, serverISN+1, nil)
	proto.HandlePacket(clientIP, serverIP, finalAck)

	ep, err := listener.Accept(nil)
	require.NoError(t, err)
	require.NotNil(t, ep)

	// The bug under test: once accepted, the endpoint must be reachable
	// from Protocol.conns, not just momentarily from the listener.
	proto.mu.Lock()
	registered, ok := proto.conns[key]
	proto.mu.Unlock()
	require.True(t, ok, "accepted connection was never registered in Protocol.conns")
	require.Same(t, ep, registered)

	ep.condMu.Lock()
	readable := ep.readableCond
	ep.condMu.Unlock()

	payload := []byte("hello")
	data := buildSegment(t, clientIP, serverIP, clientPort, serverPort, flagAck|flagPsh, clientISN+1, serverISN+1, payload)
	proto.HandlePacket(clientIP, serverIP, data)

	select {
	case <-readable:
	case <-time.After(time.Second):
		t.Fatal("post-accept data segment was dropped instead of reaching the registered endpoint")
	}

	// notifyReadable's close happens-after handleSegments appended to
	// rcv.deliverable, so this read is safe once readable has fired.
	got := string(ep.rcv.deliverable[0])
	require.Equal(t, string(payload), got)

	ep.Abort()
}
