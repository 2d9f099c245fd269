package tcpip

import (
	"fmt"

	"github.com/coolheart77/netstack/header"
)

// QD is a queue descriptor: the opaque integer the outer façade (§6.2, out
// of scope here) uses to name a socket. The core only ever treats it as an
// opaque map key.
type QD int

// FullAddress is an IPv4 endpoint: a (32-bit address, 16-bit port) pair,
// per spec §3 — equality-comparable and hashable (a plain comparable Go
// struct gets both for free, so it can key a map directly).
type FullAddress struct {
	Addr header.IPv4Address
	Port uint16
}

// String renders the endpoint as "a.b.c.d:port".
func (f FullAddress) String() string {
	a := f.Addr
	return fmt.Sprintf("%d.%d.%d.%d:%d", a[0], a[1], a[2], a[3], f.Port)
}

// FourTuple is the connection identifier from spec §3 GLOSSARY: (local IP,
// local port, remote IP, remote port).
type FourTuple struct {
	Local  FullAddress
	Remote FullAddress
}
