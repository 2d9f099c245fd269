package arp_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolheart77/netstack/arp"
	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/tcpip/config"
)

var (
	localIP  = header.IPv4Address{10, 0, 0, 1}
	localMAC = header.EthernetAddress{0x02, 0, 0, 0, 0, 1}
	peerIP   = header.IPv4Address{10, 0, 0, 2}
	peerMAC  = header.EthernetAddress{0x02, 0, 0, 0, 0, 2}
)

// fakeSender counts transmitted requests and optionally synthesizes a
// reply after the first transmission, mimicking a peer that answers.
type fakeSender struct {
	mu       sync.Mutex
	sent     int32
	resolver *arp.Resolver
	autoReplyFromAttempt int32
}

func (f *fakeSender) SendARP(frame []byte) error {
	n := atomic.AddInt32(&f.sent, 1)
	if f.autoReplyFromAttempt != 0 && n >= f.autoReplyFromAttempt {
		reply := make([]byte, header.ARPSize)
		a := header.ARP(reply)
		a.SetIsReply()
		a.SetHardwareAddressSender(peerMAC)
		a.SetProtocolAddressSender(peerIP)
		a.SetHardwareAddressTarget(localMAC)
		a.SetProtocolAddressTarget(localIP)
		go f.resolver.HandleARP(a)
	}
	return nil
}

func newTestResolver(cfg config.ARP) (*arp.Resolver, *fakeSender) {
	sender := &fakeSender{}
	r := arp.NewResolver(localIP, localMAC, cfg, sender)
	sender.resolver = r
	return r, sender
}

func TestQueryResolvesFromSeedTable(t *testing.T) {
	cfg := config.ARP{
		RequestTimeout: 50 * time.Millisecond,
		RetryCount:     1,
		InitialTable: map[[4]byte][6]byte{
			{10, 0, 0, 2}: {0x02, 0, 0, 0, 0, 2},
		},
	}
	r, sender := newTestResolver(cfg)

	mac, err := r.Query(context.Background(), peerIP)
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
	assert.Zero(t, sender.sent, "a seed-table hit must not transmit a request")
}

func TestQueryResolvesOnReply(t *testing.T) {
	cfg := config.ARP{
		RequestTimeout: 200 * time.Millisecond,
		RetryCount:     2,
	}
	r, sender := newTestResolver(cfg)
	sender.autoReplyFromAttempt = 1

	mac, err := r.Query(context.Background(), peerIP)
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
}

func TestQueryRetriesThenTimesOut(t *testing.T) {
	cfg := config.ARP{
		RequestTimeout: 20 * time.Millisecond,
		RetryCount:     2,
	}
	r, sender := newTestResolver(cfg)

	_, err := r.Query(context.Background(), peerIP)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&sender.sent), "first attempt plus RetryCount retries")
}

func TestConcurrentQueriesCoalesce(t *testing.T) {
	cfg := config.ARP{
		RequestTimeout: 200 * time.Millisecond,
		RetryCount:     2,
	}
	r, sender := newTestResolver(cfg)
	sender.autoReplyFromAttempt = 1

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]header.EthernetAddress, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Query(context.Background(), peerIP)
		}(i)
	}
	wg.Wait()

	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, peerMAC, results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&sender.sent), "coalesced queries issue exactly one request")
}

func TestDisableARPFailsFastOnMiss(t *testing.T) {
	cfg := config.ARP{DisableARP: true}
	r, sender := newTestResolver(cfg)

	_, err := r.Query(context.Background(), peerIP)
	assert.Error(t, err)
	assert.Zero(t, sender.sent)
}

func TestHandleARPLearnsFromRequest(t *testing.T) {
	cfg := config.ARP{RequestTimeout: time.Second, RetryCount: 0}
	r, _ := newTestResolver(cfg)

	req := make([]byte, header.ARPSize)
	a := header.ARP(req)
	a.SetIsRequest()
	a.SetHardwareAddressSender(peerMAC)
	a.SetProtocolAddressSender(peerIP)
	a.SetProtocolAddressTarget(localIP)
	require.NoError(t, r.HandleARP(a))

	mac, err := r.Query(context.Background(), peerIP)
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
}

func TestQueryContextCancellation(t *testing.T) {
	cfg := config.ARP{RequestTimeout: time.Hour, RetryCount: 0}
	r, _ := newTestResolver(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Query(ctx, peerIP)
	assert.Error(t, err)
}
