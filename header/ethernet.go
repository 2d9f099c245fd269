// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import "encoding/binary"

const (
	// EthernetAddressSize is the size, in bytes, of an ethernet address.
	EthernetAddressSize = 6

	// EthernetMinimumSize is the minimum size of a valid ethernet frame.
	EthernetMinimumSize = 14

	dstMACOffset  = 0
	srcMACOffset  = 6
	ethTypeOffset = 12
)

// EthernetAddress is an ethernet (MAC) address.
type EthernetAddress [EthernetAddressSize]byte

// String returns the human-readable representation of an ethernet address.
func (a EthernetAddress) String() string {
	const hexDigits = "0123456789abcdef"
	var b [17]byte
	for i, c := range a {
		b[i*3] = hexDigits[c>>4]
		b[i*3+1] = hexDigits[c&0xf]
		if i != len(a)-1 {
			b[i*3+2] = ':'
		}
	}
	return string(b[:])
}

// EtherType is the EtherType field in an ethernet frame header, identifying
// the protocol carried in the payload.
type EtherType uint16

const (
	// EtherTypeIPv4 is the EtherType for IPv4 frames.
	EtherTypeIPv4 EtherType = 0x0800

	// EtherTypeARP is the EtherType for ARP frames.
	EtherTypeARP EtherType = 0x0806
)

// EthernetFields holds the parsed fields of an ethernet header.
type EthernetFields struct {
	SrcAddr EthernetAddress
	DstAddr EthernetAddress
	Type    EtherType
}

// Ethernet represents an ethernet frame header, as described in spec §6.1;
// it is a view directly over the wire bytes.
type Ethernet []byte

// SourceAddress returns the source MAC address.
func (b Ethernet) SourceAddress() EthernetAddress {
	var addr EthernetAddress
	copy(addr[:], b[srcMACOffset:])
	return addr
}

// DestinationAddress returns the destination MAC address.
func (b Ethernet) DestinationAddress() EthernetAddress {
	var addr EthernetAddress
	copy(addr[:], b[dstMACOffset:])
	return addr
}

// Type returns the EtherType field.
func (b Ethernet) Type() EtherType {
	return EtherType(binary.BigEndian.Uint16(b[ethTypeOffset:]))
}

// Encode writes f into the ethernet header bytes. b must be at least
// EthernetMinimumSize bytes.
func (b Ethernet) Encode(f *EthernetFields) {
	copy(b[dstMACOffset:], f.DstAddr[:])
	copy(b[srcMACOffset:], f.SrcAddr[:])
	binary.BigEndian.PutUint16(b[ethTypeOffset:], uint16(f.Type))
}
