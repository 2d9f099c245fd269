package header_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coolheart77/netstack/header"
)

func TestTCPRoundTrip(t *testing.T) {
	buf := make([]byte, header.TCPMinimumSize)
	h := header.TCP(buf)
	h.Encode(&header.TCPFields{
		SrcPort:    1234,
		DstPort:    80,
		SeqNum:     0x11223344,
		AckNum:     0x55667788,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.FlagSyn | header.FlagAck,
		WindowSize: 65535,
	})

	require.Equal(t, uint16(1234), h.SourcePort())
	require.Equal(t, uint16(80), h.DestinationPort())
	require.Equal(t, uint32(0x11223344), h.SequenceNumber())
	require.Equal(t, uint32(0x55667788), h.AckNumber())
	require.Equal(t, uint8(header.TCPMinimumSize), h.DataOffset())
	require.Equal(t, uint8(header.FlagSyn|header.FlagAck), h.Flags())
	require.Equal(t, uint16(65535), h.WindowSize())
}

func TestTCPChecksumRoundTrip(t *testing.T) {
	data := []byte("payload-bytes")
	buf := make([]byte, header.TCPMinimumSize)
	h := header.TCP(buf)
	h.Encode(&header.TCPFields{
		SrcPort:    1000,
		DstPort:    2000,
		SeqNum:     1,
		AckNum:     2,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.FlagAck,
		WindowSize: 1000,
	})

	pseudo := header.PseudoHeaderChecksum(header.IPv4ProtocolTCP,
		[4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	totalLen := uint16(len(buf) + len(data))
	xsum := header.Checksum(data, pseudo)
	h.SetChecksum(^h.CalculateChecksum(xsum, totalLen))

	// Verifying: recompute over the pseudo-header (including the TCP
	// length) plus header+payload with the checksum field included; the
	// sum should fold to 0xffff (zero once complemented).
	full := append(append([]byte{}, buf...), data...)
	lenBytes := []byte{byte(totalLen >> 8), byte(totalLen)}
	got := header.Checksum(full, header.Checksum(lenBytes, pseudo))
	require.Equal(t, uint16(0xffff), got)
}

func TestForEachOptionSkipsUnknown(t *testing.T) {
	opts := []byte{
		header.TCPOptionMSS, 4, 0x05, 0xb4, // MSS=1460
		9, 4, 0xaa, 0xbb, // unknown option, length 4, skipped
		header.TCPOptionWS, 3, 7, header.TCPOptionNOP,
	}

	var kinds []byte
	err := header.ForEachOption(opts, func(kind byte, value []byte) error {
		kinds = append(kinds, kind)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{header.TCPOptionMSS, header.TCPOptionWS}, kinds)
}

func TestForEachOptionRejectsTruncated(t *testing.T) {
	opts := []byte{header.TCPOptionMSS, 4, 0x05}
	err := header.ForEachOption(opts, func(kind byte, value []byte) error { return nil })
	require.ErrorIs(t, err, header.ErrTCPOptionMalformed)
}
