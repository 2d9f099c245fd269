package tcp

import (
	"hash/crc32"

	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/stack"
)

// ISNGenerator produces initial sequence numbers per spec §4.2 / RFC
// 6528: a hash of the connection's 4-tuple plus a per-stack-instance
// secret nonce, incremented by a counter so that two connections opened
// back-to-back against the same peer never reuse a sequence number,
// while an off-path attacker who doesn't know the nonce still can't
// predict the next ISN from having seen a previous one.
//
// Grounded on original_source's IsnGenerator (CRC32 digest over the
// 4-tuple and a nonce, plus a wrapping counter); crc32 here is the
// standard library's hash/crc32, which is what that digest is.
type ISNGenerator struct {
	nonce   uint32
	counter uint32
}

// NewISNGenerator constructs a generator seeded with nonce. Callers
// should use a fresh random nonce per stack instance; deterministic
// nonces (e.g. 0) are useful in tests that want reproducible ISNs.
func NewISNGenerator(nonce uint32) *ISNGenerator {
	return &ISNGenerator{nonce: nonce}
}

// Generate returns the next ISN for the connection identified by id.
func (g *ISNGenerator) Generate(id stack.TransportEndpointID) seqnum.Value {
	h := crc32.NewIEEE()
	writeUint32(h, addrToUint32(id.RemoteAddress))
	writeUint16(h, id.RemotePort)
	writeUint32(h, addrToUint32(id.LocalAddress))
	writeUint16(h, id.LocalPort)
	writeUint32(h, g.nonce)

	isn := h.Sum32() + g.counter
	g.counter++
	return seqnum.Value(isn)
}

func addrToUint32(a header.IPv4Address) uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

func writeUint32(h interface{ Write([]byte) (int, error) }, v uint32) {
	h.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func writeUint16(h interface{ Write([]byte) (int, error) }, v uint16) {
	h.Write([]byte{byte(v >> 8), byte(v)})
}
