// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import "encoding/binary"

const (
	// TCPMinimumSize is the minimum size of a valid TCP packet, with no
	// options.
	TCPMinimumSize = 20

	// TCPMaximumHeaderSize is the largest header the 4-bit data offset
	// field can describe (15 32-bit words). The options this package
	// emits (MSS + WindowScale + NOP padding) take only 28 of those bytes.
	TCPMaximumHeaderSize = 60

	tcpSrcPortOffset    = 0
	tcpDstPortOffset    = 2
	tcpSeqNumOffset     = 4
	tcpAckNumOffset     = 8
	tcpDataOffOffset    = 12
	tcpFlagsOffset      = 13
	tcpWinSizeOffset    = 14
	tcpChecksumOffset   = 16
	tcpUrgentPtrOffset  = 18
)

// Flags that may appear in the TCP flags byte.
const (
	FlagFin = 1 << iota
	FlagSyn
	FlagRst
	FlagPsh
	FlagAck
	FlagUrg
)

// Recognized TCP options, per spec §6.1.
const (
	TCPOptionEOL = 0
	TCPOptionNOP = 1
	TCPOptionMSS = 2
	TCPOptionWS  = 3
)

// TCPFields holds the parsed (or to-be-serialized) fields of a TCP segment
// header.
type TCPFields struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8 // total header length in bytes, including options
	Flags      uint8
	WindowSize uint16
}

// TCP is a view of a TCP segment header (fixed part plus options), directly
// over the wire bytes.
type TCP []byte

// SourcePort returns the source port field.
func (b TCP) SourcePort() uint16 { return binary.BigEndian.Uint16(b[tcpSrcPortOffset:]) }

// DestinationPort returns the destination port field.
func (b TCP) DestinationPort() uint16 { return binary.BigEndian.Uint16(b[tcpDstPortOffset:]) }

// SequenceNumber returns the sequence number field.
func (b TCP) SequenceNumber() uint32 { return binary.BigEndian.Uint32(b[tcpSeqNumOffset:]) }

// AckNumber returns the acknowledgement number field.
func (b TCP) AckNumber() uint32 { return binary.BigEndian.Uint32(b[tcpAckNumOffset:]) }

// DataOffset returns the total header length in bytes, as encoded in the
// data offset field.
func (b TCP) DataOffset() uint8 { return (b[tcpDataOffOffset] >> 4) * 4 }

// Flags returns the flags byte.
func (b TCP) Flags() uint8 { return b[tcpFlagsOffset] }

// WindowSize returns the (unscaled) advertised window field.
func (b TCP) WindowSize() uint16 { return binary.BigEndian.Uint16(b[tcpWinSizeOffset:]) }

// Checksum returns the checksum field.
func (b TCP) Checksum() uint16 { return binary.BigEndian.Uint16(b[tcpChecksumOffset:]) }

// Options returns the options portion of the header, i.e. everything past
// the fixed 20 bytes and up to DataOffset().
func (b TCP) Options() []byte { return b[TCPMinimumSize:b.DataOffset()] }

// Payload returns everything past the full header (fixed part + options).
func (b TCP) Payload() []byte { return b[b.DataOffset():] }

// SetChecksum sets the checksum field.
func (b TCP) SetChecksum(checksum uint16) {
	binary.BigEndian.PutUint16(b[tcpChecksumOffset:], checksum)
}

// Encode writes f into the fixed portion of the TCP header. b must be at
// least int(f.DataOffset) bytes; any options must already have been copied
// into b[TCPMinimumSize:] by the caller.
func (b TCP) Encode(f *TCPFields) {
	binary.BigEndian.PutUint16(b[tcpSrcPortOffset:], f.SrcPort)
	binary.BigEndian.PutUint16(b[tcpDstPortOffset:], f.DstPort)
	binary.BigEndian.PutUint32(b[tcpSeqNumOffset:], f.SeqNum)
	binary.BigEndian.PutUint32(b[tcpAckNumOffset:], f.AckNum)
	b[tcpDataOffOffset] = (f.DataOffset / 4) << 4
	b[tcpFlagsOffset] = f.Flags
	binary.BigEndian.PutUint16(b[tcpWinSizeOffset:], f.WindowSize)
	binary.BigEndian.PutUint16(b[tcpChecksumOffset:], 0)
	binary.BigEndian.PutUint16(b[tcpUrgentPtrOffset:], 0)
}

// CalculateChecksum calculates the checksum of the TCP segment, given the
// checksum of the pseudo-header (partialChecksum) and the total segment
// length (header+payload, totalLen).
func (b TCP) CalculateChecksum(partialChecksum uint16, totalLen uint16) uint16 {
	// Calculate the TCP header pseudo-header length checksum.
	tmp := make([]byte, 2)
	binary.BigEndian.PutUint16(tmp, totalLen)
	xsum := Checksum(tmp, partialChecksum)

	return Checksum(b[:b.DataOffset()], xsum)
}

// ParsedTCPOption is a single parsed TCP option.
type ParsedTCPOption struct {
	Kind  byte
	Value []byte // empty for EOL/NOP
}

// ForEachOption walks the options bytes, invoking fn for each recognized or
// skippable option, per spec §6.1: unknown options are skipped by their
// length byte. It stops (returning an error) if an option's declared length
// would run past the end of opts, or if an MSS/WS option has an unexpected
// length.
func ForEachOption(opts []byte, fn func(kind byte, value []byte) error) error {
	i := 0
	limit := len(opts)
	for i < limit {
		switch opts[i] {
		case TCPOptionEOL:
			return nil
		case TCPOptionNOP:
			i++
			continue
		case TCPOptionMSS:
			if i+4 > limit || opts[i+1] != 4 {
				return ErrTCPOptionMalformed
			}
			if err := fn(TCPOptionMSS, opts[i+2:i+4]); err != nil {
				return err
			}
			i += 4
		case TCPOptionWS:
			if i+3 > limit || opts[i+1] != 3 {
				return ErrTCPOptionMalformed
			}
			if err := fn(TCPOptionWS, opts[i+2:i+3]); err != nil {
				return err
			}
			i += 3
		default:
			if i+2 > limit {
				return ErrTCPOptionMalformed
			}
			l := int(opts[i+1])
			if l < 2 || i+l > limit {
				return ErrTCPOptionMalformed
			}
			i += l
		}
	}
	return nil
}

// EncodeMSSOption appends an MSS option (kind 2, length 4) to b.
func EncodeMSSOption(mss uint16, b []byte) []byte {
	return append(b, TCPOptionMSS, 4, byte(mss>>8), byte(mss))
}

// EncodeWSOption appends a window-scale option (kind 3, length 3) followed
// by a single NOP pad byte, so the option block stays 4-byte aligned when
// combined with an MSS option ahead of it.
func EncodeWSOption(shift uint8, b []byte) []byte {
	return append(b, TCPOptionWS, 3, shift, TCPOptionNOP)
}
