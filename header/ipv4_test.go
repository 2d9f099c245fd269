package header_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coolheart77/netstack/header"
)

func TestIPv4RoundTrip(t *testing.T) {
	payload := []byte("hello, world")
	buf := make([]byte, header.IPv4MinimumSize+len(payload))
	h := header.EncodeIPv4(buf, &header.IPv4Fields{
		PayloadLength: uint16(len(payload)),
		Protocol:      header.IPv4ProtocolTCP,
		SrcAddr:       header.IPv4Address{192, 168, 1, 1},
		DstAddr:       header.IPv4Address{192, 168, 1, 2},
	})
	copy(buf[header.IPv4MinimumSize:], payload)

	parsed, gotPayload, err := header.ParseIPv4(buf, false)
	require.NoError(t, err)
	require.Equal(t, h.SourceAddress(), parsed.SourceAddress())
	require.Equal(t, h.DestinationAddress(), parsed.DestinationAddress())
	require.Equal(t, h.Protocol(), parsed.Protocol())
	require.Equal(t, uint8(255), parsed.TTL())
	require.Equal(t, payload, []byte(gotPayload))
}

func TestIPv4ChecksumDetectsBitFlips(t *testing.T) {
	buf := make([]byte, header.IPv4MinimumSize)
	header.EncodeIPv4(buf, &header.IPv4Fields{
		Protocol: header.IPv4ProtocolTCP,
		SrcAddr:  header.IPv4Address{10, 0, 0, 1},
		DstAddr:  header.IPv4Address{10, 0, 0, 2},
		TTL:      64,
	})

	_, _, err := header.ParseIPv4(buf, false)
	require.NoError(t, err)

	for byteIdx := 0; byteIdx < header.IPv4MinimumSize; byteIdx++ {
		if byteIdx == 10 || byteIdx == 11 {
			// Flipping a checksum byte itself isn't guaranteed to be
			// detected by definition (it's the value being checked).
			continue
		}
		for bit := 0; bit < 8; bit++ {
			corrupt := make([]byte, len(buf))
			copy(corrupt, buf)
			corrupt[byteIdx] ^= 1 << bit
			_, _, err := header.ParseIPv4(corrupt, false)
			if err == nil {
				t.Fatalf("flipping byte %d bit %d went undetected", byteIdx, bit)
			}
		}
	}
}

func TestIPv4TooSmall(t *testing.T) {
	_, _, err := header.ParseIPv4(make([]byte, 10), false)
	require.ErrorIs(t, err, header.ErrIPv4TooSmall)
}

func TestIPv4RejectsOptions(t *testing.T) {
	buf := make([]byte, header.IPv4MinimumSize)
	header.EncodeIPv4(buf, &header.IPv4Fields{Protocol: header.IPv4ProtocolTCP})
	buf[0] = (header.IPv4Version << 4) | 6 // IHL=6 (24 bytes), but buffer stays 20.
	_, _, err := header.ParseIPv4(buf, false)
	require.Error(t, err)
}

func TestIPv4RejectsDSCPUnlessAllowed(t *testing.T) {
	buf := make([]byte, header.IPv4MinimumSize)
	header.EncodeIPv4(buf, &header.IPv4Fields{Protocol: header.IPv4ProtocolTCP})
	buf[1] = 0x2e // set a non-zero DSCP
	// Recompute checksum since we hand-edited a header byte.
	header.EncodeIPv4(buf, &header.IPv4Fields{TOS: 0x2e, Protocol: header.IPv4ProtocolTCP})

	_, _, err := header.ParseIPv4(buf, false)
	require.ErrorIs(t, err, header.ErrIPv4DSCPUnsupported)

	_, _, err = header.ParseIPv4(buf, true)
	require.NoError(t, err)
}

func TestIPv4RejectsFragments(t *testing.T) {
	buf := make([]byte, header.IPv4MinimumSize)
	header.EncodeIPv4(buf, &header.IPv4Fields{Protocol: header.IPv4ProtocolTCP})
	buf[6] = 0x20 // MF bit
	// EncodeIPv4 always writes zero flags, so the MF bit is set after the
	// fact and the checksum is left stale; ParseIPv4 checks fragmentation
	// before it verifies the checksum, so either way the parse fails.
	_, _, err := header.ParseIPv4(buf, false)
	require.Error(t, err)
}

func TestIPv4RejectsAllOnesChecksum(t *testing.T) {
	buf := make([]byte, header.IPv4MinimumSize)
	header.EncodeIPv4(buf, &header.IPv4Fields{Protocol: header.IPv4ProtocolTCP})
	buf[10], buf[11] = 0xff, 0xff
	_, _, err := header.ParseIPv4(buf, false)
	require.ErrorIs(t, err, header.ErrIPv4InvalidChecksum)
}
