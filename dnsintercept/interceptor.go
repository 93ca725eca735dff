// Package dnsintercept observes UDP/53 traffic on the monitor interface,
// classifies queries against the policy engine, enforces DNS-level
// blocking, and records every query/response pair (§4.2).
package dnsintercept

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/hostops"
	"github.com/netsentinel/netsentinel/internal/concurrency"
	"github.com/netsentinel/netsentinel/policy"
)

// Mode is the action taken for a blocked query.
type Mode string

const (
	ModeNXDomain Mode = "nxdomain"
	ModeRedirect Mode = "redirect"
	ModeDrop     Mode = "drop"
)

// QueryObserver is notified of every observed query, for persistence into
// the event store. It returns the store's row id for the inserted query so
// a later matched response can be merged into the same row, or 0 if the
// query wasn't persisted.
type QueryObserver func(rec Record) int64

// ResponseObserver is notified when a response is matched to a
// previously-observed query by transaction id and 5-tuple (§4.2), carrying
// the query's store row id plus the resolved addresses and TTL.
type ResponseObserver func(id int64, addrs []string, ttl uint32)

// Record is one observed DNS query. ResponseIPs is set synchronously only
// for the synthesized-reply path (a blocked query's redirect address);
// allowed queries get their ResponseIPs/TTL later via ResponseObserver once
// the real upstream response is matched.
type Record struct {
	Timestamp   time.Time
	SourceIP    net.IP
	QueryName   string
	QType       string
	Blocked     bool
	Reason      string
	Category    string
	ResponseIPs string
}

// pendingQuery tracks a not-yet-answered query so its eventual response can
// be linked back to the same store row, keyed by transaction id + querier
// address (§4.2: "linked to their query by transaction id and 5-tuple").
type pendingQuery struct {
	id        int64
	expiresAt time.Time
}

// pendingTTL bounds how long an unanswered query is tracked. A response
// arriving after this, or one that matches no tracked query, is not
// recorded.
const pendingTTL = 10 * time.Second

// MACResolver returns the hardware address known for ip, or nil if
// unknown. The daemon wires this to the ARP engine's Resolve, which sends
// a broadcast ARP request for ip.
type MACResolver func(ip net.IP) net.HardwareAddr

// Interceptor is the §4.2 DNS Interceptor.
type Interceptor struct {
	iface      string
	redirect   net.IP
	store      *policy.Store
	hostOps    hostops.HostOps
	log        *zap.Logger
	onQuery    QueryObserver
	onResponse ResponseObserver
	localIP    net.IP
	localMAC   net.HardwareAddr
	resolveMAC MACResolver

	pending *concurrency.LockMap[pendingQuery]

	mu       sync.RWMutex
	mode     Mode
	blocking map[string]func() error // targetIP -> remove func, for drop-mode nftables rules

	handle *pcap.Handle
}

// New returns an Interceptor bound to iface, evaluating queries against
// store and taking blocked-query action according to the initial mode.
// localIP/localMAC are the monitor's own interface addresses, used as the
// source of synthesized replies; resolveMAC looks up the destination MAC
// for a synthesized reply (typically the ARP engine's Resolve).
// onResponse may be nil, in which case matched responses are observed but
// not persisted.
func New(iface string, store *policy.Store, hostOps hostops.HostOps, log *zap.Logger, localIP net.IP, localMAC net.HardwareAddr, resolveMAC MACResolver, redirectTo net.IP, mode Mode, onQuery QueryObserver, onResponse ResponseObserver) *Interceptor {
	return &Interceptor{
		iface:      iface,
		redirect:   redirectTo,
		store:      store,
		hostOps:    hostOps,
		log:        log,
		onQuery:    onQuery,
		onResponse: onResponse,
		localIP:    localIP,
		localMAC:   localMAC,
		resolveMAC: resolveMAC,
		mode:       mode,
		blocking:   make(map[string]func() error),
		pending:    concurrency.NewLockMap[pendingQuery](),
	}
}

// pendingKey identifies a query/response pair by DNS transaction id plus
// the querier's address, the 5-tuple proxy §4.2 calls for (port 53 and the
// protocol are fixed, so id+address is the variable part).
func pendingKey(txID uint16, addr net.IP) string {
	return fmt.Sprintf("%d|%s", txID, addr.String())
}

// destMACFor returns the MAC a synthesized reply to srcIP should be sent
// to, falling back to the Ethernet broadcast address when unknown (the
// switch will still flood it to the right port on most small LANs).
func (i *Interceptor) destMACFor(srcIP net.IP) net.HardwareAddr {
	if i.resolveMAC != nil {
		if mac := i.resolveMAC(srcIP); mac != nil {
			return mac
		}
	}
	return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// Start opens a live capture on iface filtered to UDP/53 and processes
// packets until ctx is canceled.
func (i *Interceptor) Start(ctx context.Context) error {
	handle, err := pcap.OpenLive(i.iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("dnsintercept: open live capture: %w", err)
	}
	if err := handle.SetBPFFilter("udp port 53"); err != nil {
		handle.Close()
		return fmt.Errorf("dnsintercept: set bpf filter: %w", err)
	}
	i.handle = handle

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()

	go func() {
		<-ctx.Done()
		handle.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return i.Stop()
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			i.handlePacket(ctx, pkt)
		}
	}
}

// Stop releases the capture handle and removes any installed drop rules.
func (i *Interceptor) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, remove := range i.blocking {
		if err := remove(); err != nil {
			i.log.Warn("failed to remove dns block rule", zap.String("ip", ip), zap.Error(err))
		}
		delete(i.blocking, ip)
	}
	if i.handle != nil {
		i.handle.Close()
	}
	return nil
}

// SetMode changes the blocked-query action taken from now on.
func (i *Interceptor) SetMode(mode Mode) {
	i.mu.Lock()
	i.mode = mode
	i.mu.Unlock()
}

func (i *Interceptor) handlePacket(ctx context.Context, pkt gopacket.Packet) {
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp, _ := udpLayer.(*layers.UDP)

	msg := new(dns.Msg)
	if err := msg.Unpack(udp.Payload); err != nil {
		// Malformed packets are discarded without error propagation (§4.2).
		return
	}
	if len(msg.Question) == 0 {
		return
	}

	var srcIP, dstIP net.IP
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		v4 := ip4.(*layers.IPv4)
		srcIP, dstIP = v4.SrcIP, v4.DstIP
	}

	if msg.Response {
		i.handleResponse(msg, dstIP)
		return
	}

	q := msg.Question[0]
	name := trimDot(q.Name)
	qtype := dns.TypeToString[q.Qtype]

	decision := i.store.Check(name, "", "")

	rec := Record{
		Timestamp: time.Now(),
		SourceIP:  srcIP,
		QueryName: name,
		QType:     qtype,
		Blocked:   decision.Blocked,
		Reason:    decision.Reason,
		Category:  string(decision.Category),
	}

	if decision.Blocked {
		i.mu.RLock()
		mode := i.mode
		i.mu.RUnlock()

		switch mode {
		case ModeNXDomain:
			i.replyNXDomain(udp, srcIP, msg)
		case ModeRedirect:
			rec.ResponseIPs = i.redirect.String()
			i.replyRedirect(udp, srcIP, msg)
		case ModeDrop:
			i.ensureDropped(ctx, srcIP)
		}

		if i.onQuery != nil {
			i.onQuery(rec)
		}
		return
	}

	var id int64
	if i.onQuery != nil {
		id = i.onQuery(rec)
	}
	if id != 0 {
		i.pending.Set(pendingKey(msg.Id, srcIP), pendingQuery{id: id, expiresAt: time.Now().Add(pendingTTL)})
	}
}

// handleResponse matches a response packet to the pending query it answers
// by transaction id and querier address (§4.2's transaction-id/5-tuple
// link), extracts the answer addresses and lowest TTL, and merges them
// into the query's stored row via onResponse. Responses with no matching
// pending entry (restarted monitor, expired entry, unsolicited reply) are
// dropped silently.
func (i *Interceptor) handleResponse(msg *dns.Msg, clientIP net.IP) {
	key := pendingKey(msg.Id, clientIP)
	pq, ok := i.pending.Get(key)
	if !ok || time.Now().After(pq.expiresAt) {
		i.pending.Delete(key)
		return
	}
	i.pending.Delete(key)

	var addrs []string
	var ttl uint32
	first := true
	for _, rr := range msg.Answer {
		var addr string
		switch v := rr.(type) {
		case *dns.A:
			addr = v.A.String()
		case *dns.AAAA:
			addr = v.AAAA.String()
		default:
			continue
		}
		addrs = append(addrs, addr)
		if first || rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
			first = false
		}
	}

	if i.onResponse != nil {
		i.onResponse(pq.id, addrs, ttl)
	}
}

func trimDot(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		return name[:len(name)-1]
	}
	return name
}

// ensureDropped installs a BlockDNS nftables rule for srcIP the first time
// a blocked query from that source is seen in drop mode; subsequent
// queries from the same source reuse the rule.
func (i *Interceptor) ensureDropped(ctx context.Context, srcIP net.IP) {
	key := srcIP.String()

	i.mu.RLock()
	_, exists := i.blocking[key]
	i.mu.RUnlock()
	if exists {
		return
	}

	remove, err := i.hostOps.BlockDNS(ctx, srcIP)
	if err != nil {
		i.log.Warn("failed to install dns block rule", zap.String("ip", key), zap.Error(err))
		return
	}

	i.mu.Lock()
	i.blocking[key] = remove
	i.mu.Unlock()
}
