package arp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/netsentinel/netsentinel/l2"
)

// ErrNoMAC is returned by Resolve when no ARP reply arrived within the
// attempt budget, matching add_target's `no_mac` error contract.
var ErrNoMAC = errors.New("arp: no mac resolution for address")

// resolver dispatches incoming ARP replies to whichever goroutine is
// waiting on the matching IP, so Resolve can be called concurrently from
// add_target and the device scanner's sweep.
type resolver struct {
	mu      sync.Mutex
	pending map[string]chan net.HardwareAddr
}

func newResolver() *resolver {
	return &resolver{pending: make(map[string]chan net.HardwareAddr)}
}

// observe delivers a reply to a pending waiter, if any.
func (r *resolver) observe(srcIP net.IP, srcMAC net.HardwareAddr) {
	r.mu.Lock()
	ch, ok := r.pending[srcIP.String()]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- srcMAC:
		default:
		}
	}
}

func (r *resolver) register(ip net.IP) chan net.HardwareAddr {
	ch := make(chan net.HardwareAddr, 1)
	r.mu.Lock()
	r.pending[ip.String()] = ch
	r.mu.Unlock()
	return ch
}

func (r *resolver) unregister(ip net.IP) {
	r.mu.Lock()
	delete(r.pending, ip.String())
	r.mu.Unlock()
}

// Resolve sends a broadcast ARP request for ip and waits up to timeout
// for a reply, retrying attempts times. Matches the add_target contract:
// 3 s timeout, 3 attempts.
func (r *resolver) Resolve(ctx context.Context, w l2.PacketWriter, srcMAC net.HardwareAddr, srcIP, targetIP net.IP, attempts int, timeout time.Duration) (net.HardwareAddr, error) {
	replyCh := r.register(targetIP)
	defer r.unregister(targetIP)

	for attempt := 0; attempt < attempts; attempt++ {
		if err := l2.Send(w, layers.ARPRequest, srcMAC, l2.BroadcastMAC, srcIP, targetIP); err != nil {
			return nil, fmt.Errorf("arp: send request for %s: %w", targetIP, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case mac := <-replyCh:
			return mac, nil
		case <-time.After(timeout):
			// retry
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMAC, targetIP)
}
