// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import "encoding/binary"

const (
	// ARPSize is the size, in bytes, of a standard Ethernet/IPv4 ARP
	// packet, per spec §6.1.
	ARPSize = 28

	arpHardwareType  = 1 // Ethernet
	arpProtocolType  = uint16(EtherTypeIPv4)
	arpHardwareSize  = EthernetAddressSize
	arpProtocolSize  = IPv4AddressSize

	// ARPRequest and ARPReply are the ARP operation codes.
	ARPRequest = 1
	ARPReply   = 2

	arpHTypeOffset  = 0
	arpPTypeOffset  = 2
	arpHLenOffset   = 4
	arpPLenOffset   = 5
	arpOperOffset   = 6
	arpSHAOffset    = 8
	arpSPAOffset    = 14
	arpTHAOffset    = 18
	arpTPAOffset    = 24
)

// ARP is a view of an ARP packet, directly over the wire bytes.
type ARP []byte

// IsValid reports whether the ARP packet is well-formed enough to process:
// right size, Ethernet hardware type, IPv4 protocol type, and correct
// address sizes for that pairing.
func (a ARP) IsValid() bool {
	if len(a) < ARPSize {
		return false
	}
	return a.hardwareType() == arpHardwareType &&
		a.protocolType() == arpProtocolType &&
		a.hardwareSize() == arpHardwareSize &&
		a.protocolSize() == arpProtocolSize
}

func (a ARP) hardwareType() uint16 { return binary.BigEndian.Uint16(a[arpHTypeOffset:]) }
func (a ARP) protocolType() uint16 { return binary.BigEndian.Uint16(a[arpPTypeOffset:]) }
func (a ARP) hardwareSize() uint8  { return a[arpHLenOffset] }
func (a ARP) protocolSize() uint8  { return a[arpPLenOffset] }

// Op returns the operation code (ARPRequest or ARPReply).
func (a ARP) Op() uint16 { return binary.BigEndian.Uint16(a[arpOperOffset:]) }

// HardwareAddressSender returns the sender's MAC address.
func (a ARP) HardwareAddressSender() EthernetAddress {
	var addr EthernetAddress
	copy(addr[:], a[arpSHAOffset:])
	return addr
}

// ProtocolAddressSender returns the sender's IPv4 address.
func (a ARP) ProtocolAddressSender() IPv4Address {
	var addr IPv4Address
	copy(addr[:], a[arpSPAOffset:])
	return addr
}

// HardwareAddressTarget returns the target's MAC address.
func (a ARP) HardwareAddressTarget() EthernetAddress {
	var addr EthernetAddress
	copy(addr[:], a[arpTHAOffset:])
	return addr
}

// ProtocolAddressTarget returns the target's IPv4 address.
func (a ARP) ProtocolAddressTarget() IPv4Address {
	var addr IPv4Address
	copy(addr[:], a[arpTPAOffset:])
	return addr
}

// SetIsRequest encodes the fixed hardware/protocol type fields and marks the
// packet as an ARP request.
func (a ARP) SetIsRequest() {
	a.encodeFixed()
	binary.BigEndian.PutUint16(a[arpOperOffset:], ARPRequest)
}

// SetIsReply encodes the fixed hardware/protocol type fields and marks the
// packet as an ARP reply.
func (a ARP) SetIsReply() {
	a.encodeFixed()
	binary.BigEndian.PutUint16(a[arpOperOffset:], ARPReply)
}

func (a ARP) encodeFixed() {
	binary.BigEndian.PutUint16(a[arpHTypeOffset:], arpHardwareType)
	binary.BigEndian.PutUint16(a[arpPTypeOffset:], arpProtocolType)
	a[arpHLenOffset] = arpHardwareSize
	a[arpPLenOffset] = arpProtocolSize
}

// SetHardwareAddressSender sets the sender MAC address field.
func (a ARP) SetHardwareAddressSender(addr EthernetAddress) { copy(a[arpSHAOffset:], addr[:]) }

// SetProtocolAddressSender sets the sender IPv4 address field.
func (a ARP) SetProtocolAddressSender(addr IPv4Address) { copy(a[arpSPAOffset:], addr[:]) }

// SetHardwareAddressTarget sets the target MAC address field.
func (a ARP) SetHardwareAddressTarget(addr EthernetAddress) { copy(a[arpTHAOffset:], addr[:]) }

// SetProtocolAddressTarget sets the target IPv4 address field.
func (a ARP) SetProtocolAddressTarget(addr IPv4Address) { copy(a[arpTPAOffset:], addr[:]) }
