// Package config enumerates the stack's configuration surface, per spec
// §6.3. There is deliberately no flag/env binding here: configuration
// parsing is an external collaborator (spec §1), so this package only
// defines the knobs and their defaults.
package config

import "time"

// TCP holds the TCP-specific configuration surface from spec §6.3.
type TCP struct {
	// AdvertisedMSS is not read by the tcp package: SYN and SYN-ACK
	// segments advertise the route MTU minus the 20-byte TCP header.
	AdvertisedMSS uint16

	// WindowScale is not read by the tcp package: the advertised
	// window-scale shift is derived from ReceiveWindowSize.
	WindowScale uint8

	// ReceiveWindowSize is the size, in bytes, of the per-connection
	// receive buffer (and thus the unscaled receive window ceiling).
	ReceiveWindowSize uint32

	// AckDelayTimeout is the maximum delayed-ACK hold-back, spec §4.4
	// ("≤ 500ms per RFC 1122").
	AckDelayTimeout time.Duration

	// HandshakeRetries is the number of SYN/SYN-ACK retransmissions
	// before giving up with a timeout error (spec §4.7, §4.8).
	HandshakeRetries int

	// HandshakeTimeout is the per-attempt handshake retransmit interval.
	HandshakeTimeout time.Duration

	// RxChecksumOffload, when true, skips TCP checksum verification on
	// receive (the driver/NIC is assumed to have verified it).
	RxChecksumOffload bool

	// TxChecksumOffload is not read by the tcp package: the TCP checksum
	// is always computed on transmit.
	TxChecksumOffload bool

	// MaxBacklog is the default passive-socket backlog if the caller
	// doesn't override it via `listen`.
	MaxBacklog int

	// MSL is one Maximum Segment Lifetime; TIME_WAIT lasts 2*MSL.
	MSL time.Duration

	// TimeWaitTimeout is an explicit override for the TIME_WAIT
	// duration; if zero, 2*MSL is used.
	TimeWaitTimeout time.Duration

	// UserTimeout bounds total RTO-retransmission elapsed time (spec
	// §7's "default 2 minutes") before the connection is reset.
	UserTimeout time.Duration
}

// ARP holds the ARP resolver's configuration surface from spec §4.3.
type ARP struct {
	// CacheTTL is how long a resolved entry stays fresh.
	CacheTTL time.Duration

	// RequestTimeout is the per-attempt wait for a reply.
	RequestTimeout time.Duration

	// RetryCount is the maximum number of retransmitted requests per
	// query, after the first.
	RetryCount int

	// InitialTable seeds the cache (for tests); keys are stored as
	// [4]byte to avoid importing header into config for a map key type.
	InitialTable map[[4]byte][6]byte

	// DisableARP, when true, consults only InitialTable; cache misses
	// fail immediately rather than querying the wire.
	DisableARP bool
}

// UDP is a placeholder per spec §6.3: UDP itself is out of scope, but its
// checksum toggles are still part of the enumerated configuration surface
// since other stack instances may share a Config value.
type UDP struct {
	RxChecksumOffload bool
	TxChecksumOffload bool
}

// Config is the full configuration surface for one stack instance.
type Config struct {
	TCP TCP
	ARP ARP
	UDP UDP
}

// Default returns a Config populated with the defaults named throughout
// spec §4 and §6.3.
func Default() Config {
	return Config{
		TCP: TCP{
			AdvertisedMSS:     1460,
			WindowScale:       0,
			ReceiveWindowSize: 65535,
			AckDelayTimeout:   200 * time.Millisecond,
			HandshakeRetries:  5,
			HandshakeTimeout:  time.Second,
			MaxBacklog:        16,
			MSL:               30 * time.Second,
			UserTimeout:       2 * time.Minute,
		},
		ARP: ARP{
			CacheTTL:       600 * time.Second,
			RequestTimeout: time.Second,
			RetryCount:     2,
		},
	}
}

// TimeWait returns the configured TIME_WAIT duration: TimeWaitTimeout if
// set, else 2*MSL (spec §4.9, GLOSSARY).
func (c TCP) TimeWait() time.Duration {
	if c.TimeWaitTimeout != 0 {
		return c.TimeWaitTimeout
	}
	return 2 * c.MSL
}
