package tcp

import (
	"time"

	"github.com/coolheart77/netstack/buffer"
	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/internal/scheduler"
	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/stack"
	"github.com/coolheart77/netstack/tcpip"
)

// ProtocolNumber is the IPv4 protocol number TCP segments carry, per
// spec §6.1.
const ProtocolNumber = header.IPv4ProtocolTCP

type handshakeState int

// The states of a 3-way handshake, per RFC 793 page 23 and spec §4.2.
const (
	handshakeSynSent handshakeState = iota
	handshakeSynRcvd
	handshakeCompleted
)

const (
	wakerForNotification = iota
	wakerForNewSegment
	wakerForResend
)

// maxWndScale is the largest window scale RFC 1323 §2.3 allows.
const maxWndScale = 14

// handshake drives one connection's 3-way handshake, active or passive,
// per spec §4.2. Grounded closely on the teacher's handshake type in
// connect.go; generalized to pull the ISN from an ISNGenerator instead
// of crypto/rand, since spec §4.2 requires the hashed-ISN scheme rather
// than a pure random one.
type handshake struct {
	ep     *endpoint
	state  handshakeState
	active bool
	flags  uint8
	ackNum seqnum.Value

	iss seqnum.Value

	rcvWnd seqnum.Size
	sndWnd seqnum.Size

	mss uint16

	sndWndScale int
	rcvWndScale int

	isn *ISNGenerator
}

func newHandshake(ep *endpoint, rcvWnd seqnum.Size, isn *ISNGenerator) *handshake {
	h := &handshake{
		ep:          ep,
		active:      true,
		rcvWnd:      rcvWnd,
		rcvWndScale: findWndScale(rcvWnd),
		isn:         isn,
	}
	h.resetState()
	return h
}

func findWndScale(wnd seqnum.Size) int {
	if wnd < 0x10000 {
		return 0
	}
	max := seqnum.Size(0xffff)
	s := 0
	for wnd > max && s < maxWndScale {
		s++
		max <<= 1
	}
	return s
}

func (h *handshake) resetState() {
	h.state = handshakeSynSent
	h.flags = flagSyn
	h.ackNum = 0
	h.mss = 0
	h.iss = h.isn.Generate(h.ep.id)
}

func (h *handshake) effectiveRcvWndScale() uint8 {
	if h.sndWndScale < 0 {
		return 0
	}
	return uint8(h.rcvWndScale)
}

// resetToSynRcvd seeds the handshake for the passive-open path: a SYN
// has already been seen (by the listener, spec §4.3's backlog) and we're
// about to send our SYN-ACK.
func (h *handshake) resetToSynRcvd(iss, irs seqnum.Value, mss uint16, sndWndScale int) {
	h.active = false
	h.state = handshakeSynRcvd
	h.flags = flagSyn | flagAck
	h.iss = iss
	h.ackNum = irs + 1
	h.mss = mss
	h.sndWndScale = sndWndScale
}

func (h *handshake) checkAck(s *segment) bool {
	if s.flagIsSet(flagAck) && s.ackNumber != h.iss+1 {
		ack := s.sequenceNumber.Add(s.logicalLen())
		h.ep.sendRaw(nil, flagRst|flagAck, s.ackNumber, ack, 0)
		return false
	}
	return true
}

func (h *handshake) synSentState(s *segment) error {
	if s.flagIsSet(flagRst) {
		if s.flagIsSet(flagAck) && s.ackNumber == h.iss+1 {
			return tcpip.ErrConnectionRefused
		}
		return nil
	}

	if !h.checkAck(s) {
		return nil
	}

	if !s.flagIsSet(flagSyn) {
		return nil
	}

	mss, sws, ok := parseSynOptions(s)
	if !ok {
		return nil
	}

	h.ackNum = s.sequenceNumber + 1
	h.flags |= flagAck
	h.mss = mss
	h.sndWndScale = sws

	if s.flagIsSet(flagAck) {
		h.state = handshakeCompleted
		h.ep.sendRaw(nil, flagAck, h.iss+1, h.ackNum, h.rcvWnd.WindowSize(h.effectiveRcvWndScale()))
		return nil
	}

	h.state = handshakeSynRcvd
	sendSynTCP(h.ep.route, h.ep.id, h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)
	return nil
}

func (h *handshake) synRcvdState(s *segment) error {
	if s.flagIsSet(flagRst) {
		if s.sequenceNumber.InWindow(h.ackNum, h.rcvWnd) {
			return tcpip.ErrConnectionRefused
		}
		return nil
	}

	if !h.checkAck(s) {
		return nil
	}

	if s.flagIsSet(flagSyn) && s.sequenceNumber != h.ackNum-1 {
		ack := s.sequenceNumber.Add(s.logicalLen())
		seq := seqnum.Value(0)
		if s.flagIsSet(flagAck) {
			seq = s.ackNumber
		}
		h.ep.sendRaw(nil, flagRst|flagAck, seq, ack, 0)

		if !h.active {
			return tcpip.ErrInvalidEndpointState
		}

		h.resetState()
		sendSynTCP(h.ep.route, h.ep.id, h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)
		return nil
	}

	if s.flagIsSet(flagAck) {
		h.state = handshakeCompleted
		return nil
	}

	return nil
}

func (h *handshake) processSegments() error {
	for i := 0; i < maxSegmentsPerWake; i++ {
		s := h.ep.segmentQueue.dequeue()
		if s == nil {
			return nil
		}

		h.sndWnd = s.window
		if !s.flagIsSet(flagSyn) && h.sndWndScale > 0 {
			h.sndWnd <<= uint8(h.sndWndScale)
		}

		var err error
		switch h.state {
		case handshakeSynRcvd:
			err = h.synRcvdState(s)
		case handshakeSynSent:
			err = h.synSentState(s)
		}
		s.decRef()
		if err != nil {
			return err
		}

		if h.state == handshakeCompleted {
			break
		}
	}

	if !h.ep.segmentQueue.empty() {
		h.ep.newSegmentWaker.Assert()
	}
	return nil
}

// maxSegmentsPerWake bounds how many queued segments one wake-up
// processes before yielding back to the scheduler, so a burst of traffic
// on one connection can't starve its own timers or another connection
// entirely (spec §5).
const maxSegmentsPerWake = 100

// execute runs the 3-way handshake to completion, retrying the SYN (or
// SYN-ACK) with exponential backoff up to cfg.TCP.HandshakeRetries times
// before giving up with tcpip.ErrTimeout, per spec §4.7/§4.2.
func (h *handshake) execute() error {
	resendWaker := scheduler.Waker{}
	timeout := h.ep.cfg.TCP.HandshakeTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	retries := h.ep.cfg.TCP.HandshakeRetries
	attempt := 0

	rt := time.AfterFunc(timeout, func() { resendWaker.Assert() })
	defer rt.Stop()

	s := scheduler.Sleeper{}
	s.AddWaker(&resendWaker, wakerForResend)
	s.AddWaker(&h.ep.notificationWaker, wakerForNotification)
	s.AddWaker(&h.ep.newSegmentWaker, wakerForNewSegment)
	defer s.Done()

	sendSynTCP(h.ep.route, h.ep.id, h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)
	for h.state != handshakeCompleted {
		switch index, _ := s.Fetch(true); index {
		case wakerForResend:
			attempt++
			if retries > 0 && attempt > retries {
				return tcpip.ErrTimeout
			}
			timeout *= 2
			if timeout > 60*time.Second {
				timeout = 60 * time.Second
			}
			rt.Reset(timeout)
			sendSynTCP(h.ep.route, h.ep.id, h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)

		case wakerForNotification:
			n := h.ep.fetchNotifications()
			if n&notifyClose != 0 {
				return tcpip.ErrAborted
			}

		case wakerForNewSegment:
			if err := h.processSegments(); err != nil {
				return err
			}
		}
	}

	return nil
}

// parseSynOptions extracts the MSS and window-scale options from a SYN
// segment. If no window-scale option is present, ws is -1, signaling
// that window scaling must be disabled on both sides (RFC 1323 §2.2).
func parseSynOptions(s *segment) (mss uint16, ws int, ok bool) {
	mss = 536
	ws = -1
	malformed := false
	err := header.ForEachOption(s.options, func(kind byte, value []byte) error {
		switch kind {
		case header.TCPOptionMSS:
			m := uint16(value[0])<<8 | uint16(value[1])
			if m == 0 {
				malformed = true
				return tcpip.ErrBadMessage
			}
			mss = m
		case header.TCPOptionWS:
			w := int(value[0])
			if w > maxWndScale {
				w = maxWndScale
			}
			ws = w
		}
		return nil
	})
	if err != nil || malformed {
		return 0, -1, false
	}
	return mss, ws, true
}

func sendSynTCP(r *stack.Route, id stack.TransportEndpointID, flags byte, seq, ack seqnum.Value, rcvWnd seqnum.Size, rcvWndScale int) error {
	mss := uint16(r.MTU() - header.TCPMinimumSize)
	var options []byte
	options = header.EncodeMSSOption(mss, options)
	if rcvWndScale >= 0 {
		options = header.EncodeWSOption(uint8(rcvWndScale), options)
	}
	return sendTCPWithOptions(r, id, nil, flags, seq, ack, rcvWnd, options)
}

func sendTCPWithOptions(r *stack.Route, id stack.TransportEndpointID, data buffer.View, flags byte, seq, ack seqnum.Value, rcvWnd seqnum.Size, opts []byte) error {
	hdr := buffer.NewPrependable(header.TCPMinimumSize + r.MaxHeaderLength() + len(opts))

	wnd := rcvWnd
	if wnd > 0xffff {
		wnd = 0xffff
	}

	tcpHdr := header.TCP(hdr.Prepend(header.TCPMinimumSize + len(opts)))
	tcpHdr.Encode(&header.TCPFields{
		SrcPort:    id.LocalPort,
		DstPort:    id.RemotePort,
		SeqNum:     uint32(seq),
		AckNum:     uint32(ack),
		DataOffset: uint8(header.TCPMinimumSize + len(opts)),
		Flags:      flags,
		WindowSize: uint16(wnd),
	})
	copy(tcpHdr[header.TCPMinimumSize:], opts)

	length := uint16(hdr.UsedLength())
	xsum := r.PseudoHeaderChecksum(ProtocolNumber)
	if data != nil {
		length += uint16(len(data))
		xsum = header.Checksum(data, xsum)
	}
	tcpHdr.SetChecksum(^tcpHdr.CalculateChecksum(xsum, length))

	return r.WritePacket(&hdr, data, ProtocolNumber)
}

func sendTCP(r *stack.Route, id stack.TransportEndpointID, data buffer.View, flags byte, seq, ack seqnum.Value, rcvWnd seqnum.Size) error {
	return sendTCPWithOptions(r, id, data, flags, seq, ack, rcvWnd, nil)
}
