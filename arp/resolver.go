// Package arp implements the L3-to-L2 address resolver TCP's send path
// depends on (spec §4.3). It is a dependency of the TCP send path, not a
// protocol peer the rest of the stack waits on indefinitely: lookups
// suspend the caller only until a reply, a seed-table hit, or the
// configured retry budget is exhausted.
package arp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coolheart77/netstack/header"
	"github.com/coolheart77/netstack/tcpip"
	"github.com/coolheart77/netstack/tcpip/config"
)

// FrameSender is the minimal driver contract the resolver needs: transmit
// a fully-formed Ethernet+ARP frame. Framing and the NIC driver itself are
// external collaborators (spec §1); this is the whole of that boundary as
// far as ARP is concerned.
type FrameSender interface {
	SendARP(frame []byte) error
}

// pendingQuery tracks the waiters coalesced onto a single in-flight
// request, per spec §4.3's coalescing guarantee.
type pendingQuery struct {
	done chan struct{}
	addr header.EthernetAddress
	err  error
}

// Resolver implements the ARP resolver from spec §4.3.
type Resolver struct {
	localIP  header.IPv4Address
	localMAC header.EthernetAddress
	cfg      config.ARP
	sender   FrameSender
	now      func() time.Time

	cache *cache

	// limiter paces outgoing ARP requests for the stack instance, so a
	// burst of misses (e.g. at startup) doesn't flood the wire; it does
	// not gate cache hits or seed-table lookups.
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[header.IPv4Address]*pendingQuery
}

// NewResolver constructs a Resolver for one stack instance. sender is used
// to transmit ARP request frames; it may be nil only if cfg.DisableARP is
// true.
func NewResolver(localIP header.IPv4Address, localMAC header.EthernetAddress, cfg config.ARP, sender FrameSender) *Resolver {
	r := &Resolver{
		localIP:  localIP,
		localMAC: localMAC,
		cfg:      cfg,
		sender:   sender,
		now:      time.Now,
		cache:    newCache(cfg.CacheTTL, nil),
		limiter:  rate.NewLimiter(rate.Limit(50), 10),
		pending:  make(map[header.IPv4Address]*pendingQuery),
	}
	for ip, mac := range cfg.InitialTable {
		r.cache.learn(header.IPv4Address(ip), header.EthernetAddress(mac))
	}
	return r
}

// Query resolves ip to a MAC address, per spec §4.3's full state machine:
// cache hit resolves immediately; otherwise a request is broadcast and the
// caller suspends until a reply is cached or the retry budget
// (cfg.RetryCount retries beyond the first attempt, each bounded by
// cfg.RequestTimeout) is exhausted, in which case it fails with
// tcpip.ErrTimeout. Concurrent queries for the same ip coalesce onto one
// in-flight request.
func (r *Resolver) Query(ctx context.Context, ip header.IPv4Address) (header.EthernetAddress, error) {
	if mac, ok := r.cache.lookup(ip); ok {
		return mac, nil
	}

	if r.cfg.DisableARP {
		return header.EthernetAddress{}, tcpip.ErrTimeout
	}

	q, isLeader := r.joinOrStartQuery(ip)
	if isLeader {
		go r.drive(ip, q)
	}

	select {
	case <-q.done:
		return q.addr, q.err
	case <-ctx.Done():
		return header.EthernetAddress{}, tcpip.ErrAborted
	}
}

// joinOrStartQuery returns the pendingQuery for ip, creating (and becoming
// the leader for) one if none is in flight.
func (r *Resolver) joinOrStartQuery(ip header.IPv4Address) (*pendingQuery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.pending[ip]; ok {
		return q, false
	}
	q := &pendingQuery{done: make(chan struct{})}
	r.pending[ip] = q
	return q, true
}

// drive runs the retry loop for one coalesced query; only the leader
// goroutine (the first caller to observe no in-flight request) runs this.
func (r *Resolver) drive(ip header.IPv4Address, q *pendingQuery) {
	attempts := 1 + r.cfg.RetryCount
	for attempt := 0; attempt < attempts; attempt++ {
		if mac, ok := r.cache.lookup(ip); ok {
			r.resolve(ip, q, mac, nil)
			return
		}

		r.limiter.Wait(context.Background())
		if err := r.transmitRequest(ip); err != nil {
			// A send failure isn't itself fatal to the query;
			// keep retrying on the same schedule.
			_ = err
		}

		timer := time.NewTimer(r.cfg.RequestTimeout)
		select {
		case <-q.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if mac, ok := r.cache.lookup(ip); ok {
		r.resolve(ip, q, mac, nil)
		return
	}
	r.resolve(ip, q, header.EthernetAddress{}, tcpip.ErrTimeout)
}

// resolve completes the coalesced query with a result and wakes every
// waiter blocked in Query.
func (r *Resolver) resolve(ip header.IPv4Address, q *pendingQuery, mac header.EthernetAddress, err error) {
	r.mu.Lock()
	if r.pending[ip] == q {
		delete(r.pending, ip)
	}
	r.mu.Unlock()

	q.addr = mac
	q.err = err
	close(q.done)
}

func (r *Resolver) transmitRequest(ip header.IPv4Address) error {
	frame := make([]byte, header.EthernetMinimumSize+header.ARPSize)
	header.Ethernet(frame).Encode(&header.EthernetFields{
		SrcAddr: r.localMAC,
		DstAddr: header.EthernetAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Type:    header.EtherTypeARP,
	})
	a := header.ARP(frame[header.EthernetMinimumSize:])
	a.SetIsRequest()
	a.SetHardwareAddressSender(r.localMAC)
	a.SetProtocolAddressSender(r.localIP)
	a.SetProtocolAddressTarget(ip)
	return r.sender.SendARP(frame)
}

// HandleARP processes an inbound ARP packet (request or reply): it learns
// the sender's mapping opportunistically (spec §4.3), resolves any
// coalesced query waiting on it, and — for requests targeting our own
// address — transmits a reply.
func (r *Resolver) HandleARP(a header.ARP) error {
	if !a.IsValid() {
		return tcpip.ErrBadMessage
	}

	senderIP := a.ProtocolAddressSender()
	senderMAC := a.HardwareAddressSender()
	r.cache.learn(senderIP, senderMAC)

	r.mu.Lock()
	q, ok := r.pending[senderIP]
	r.mu.Unlock()
	if ok {
		r.resolve(senderIP, q, senderMAC, nil)
	}

	if a.Op() == header.ARPRequest && a.ProtocolAddressTarget() == r.localIP {
		return r.reply(senderIP, senderMAC)
	}
	return nil
}

func (r *Resolver) reply(targetIP header.IPv4Address, targetMAC header.EthernetAddress) error {
	frame := make([]byte, header.EthernetMinimumSize+header.ARPSize)
	header.Ethernet(frame).Encode(&header.EthernetFields{
		SrcAddr: r.localMAC,
		DstAddr: targetMAC,
		Type:    header.EtherTypeARP,
	})
	a := header.ARP(frame[header.EthernetMinimumSize:])
	a.SetIsReply()
	a.SetHardwareAddressSender(r.localMAC)
	a.SetProtocolAddressSender(r.localIP)
	a.SetHardwareAddressTarget(targetMAC)
	a.SetProtocolAddressTarget(targetIP)
	return r.sender.SendARP(frame)
}
