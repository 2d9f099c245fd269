package tcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/stack"
	"github.com/coolheart77/netstack/tcp"
)

func TestISNGeneratorIsDeterministicForSameNonce(t *testing.T) {
	id := stack.TransportEndpointID{
		LocalAddress:  header.IPv4Address{10, 0, 0, 1},
		LocalPort:     1234,
		RemoteAddress: header.IPv4Address{10, 0, 0, 2},
		RemotePort:    80,
	}
	a := tcp.NewISNGenerator(42).Generate(id)
	b := tcp.NewISNGenerator(42).Generate(id)
	assert.Equal(t, a, b)
}

func TestISNGeneratorCounterAdvancesPerCall(t *testing.T) {
	id := stack.TransportEndpointID{
		LocalAddress:  header.IPv4Address{10, 0, 0, 1},
		LocalPort:     1234,
		RemoteAddress: header.IPv4Address{10, 0, 0, 2},
		RemotePort:    80,
	}
	g := tcp.NewISNGenerator(7)
	first := g.Generate(id)
	second := g.Generate(id)
	assert.Equal(t, first+1, second)
}

func TestISNGeneratorDiffersByNonce(t *testing.T) {
	id := stack.TransportEndpointID{
		LocalAddress:  header.IPv4Address{10, 0, 0, 1},
		LocalPort:     1234,
		RemoteAddress: header.IPv4Address{10, 0, 0, 2},
		RemotePort:    80,
	}
	a := tcp.NewISNGenerator(1).Generate(id)
	b := tcp.NewISNGenerator(2).Generate(id)
	assert.NotEqual(t, a, b)
}
