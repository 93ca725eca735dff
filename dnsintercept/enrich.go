package dnsintercept

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/concurrency"
)

// PtrResolvedFunc is called when a reverse lookup for ip succeeds.
type PtrResolvedFunc func(ip net.IP, hostname string)

// Enricher performs best-effort reverse-DNS lookups for newly seen
// devices, retried with jittered backoff, per §4.2.1.
type Enricher struct {
	resolver   *net.Resolver
	log        *zap.Logger
	onResolved PtrResolvedFunc

	attempted *concurrency.LockMap[struct{}]
}

// NewEnricher returns an Enricher that makes up to ptrMaxAttempts PTR
// lookup attempts per address, with jittered backoff between them.
func NewEnricher(log *zap.Logger, onResolved PtrResolvedFunc) *Enricher {
	return &Enricher{
		resolver:   &net.Resolver{},
		log:        log,
		onResolved: onResolved,
		attempted:  concurrency.NewLockMap[struct{}](),
	}
}

const ptrMaxAttempts = 4

// Resolve schedules a best-effort PTR lookup for ip. Safe to call
// repeatedly for the same ip; only the first call actually performs work.
func (e *Enricher) Resolve(ctx context.Context, ip net.IP) {
	key := ip.String()
	if _, exists := e.attempted.Get(key); exists {
		return
	}
	e.attempted.Set(key, struct{}{})

	go e.resolveLoop(ctx, ip)
}

func (e *Enricher) resolveLoop(ctx context.Context, ip net.IP) {
	sleeper := concurrency.NewSleeper(1, 2, 30)
	for attempt := 0; attempt < ptrMaxAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		names, err := e.resolver.LookupAddr(lookupCtx, ip.String())
		cancel()

		if err == nil && len(names) > 0 {
			e.onResolved(ip, trimDot(names[0]))
			return
		}

		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return
		}

		if err := sleeper.Next(ctx); err != nil {
			return
		}
	}
	e.log.Debug("ptr resolution exhausted retries", zap.String("ip", ip.String()))
}
