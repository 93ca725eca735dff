package arp

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/l2"
)

// DefaultSweepInterval is how often the scanner walks the /24.
const DefaultSweepInterval = 60 * time.Second

// Scanner periodically resolves every host address on the interface's
// /24, reporting whichever ones answer via onSeen — independent of
// whether that address is an active ARPTarget, so devices that are
// merely observed (not targeted) still appear in the event store.
type Scanner struct {
	iface    l2.Interface
	engine   *Engine
	log      *zap.Logger
	interval time.Duration
}

// NewScanner builds a Scanner bound to engine, which supplies both the
// interface and the resolve primitive.
func NewScanner(iface l2.Interface, engine *Engine, log *zap.Logger) *Scanner {
	return &Scanner{iface: iface, engine: engine, log: log, interval: DefaultSweepInterval}
}

// Run sweeps the /24 every s.interval until ctx is done. Each address is
// resolved with a single short attempt; a sweep's job is coverage, not
// reliability, so it doesn't retry the way add_target does.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scanner) sweepOnce(ctx context.Context) {
	addrs := s.iface.HostAddrs()
	for _, addr := range addrs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.probe(ctx, addr)
	}
}

func (s *Scanner) probe(ctx context.Context, ip net.IP) {
	rctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	if _, err := s.engine.Resolve(rctx, ip); err != nil {
		// Silent: most /24 addresses are unassigned; the scanner's
		// onSeen callback (wired through the engine) is what records
		// hits, not this loop.
		return
	}
}
