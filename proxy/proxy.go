// Package proxy implements the transparent TLS-intercepting proxy: it
// accepts redirected 80/443 connections, recovers the original
// destination, terminates TLS with a minted leaf certificate, forwards
// to the real upstream, and records every HTTP(S) flow observed (§4.3).
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/crt"
	"github.com/netsentinel/netsentinel/events"
	"github.com/netsentinel/netsentinel/hostops"
	"github.com/netsentinel/netsentinel/policy"
	"github.com/netsentinel/netsentinel/store"
)

// idleTimeout is the inactivity deadline for both legs of a proxied
// connection, per §4.3.
const idleTimeout = 60 * time.Second

// maxBufferedBody is the streaming threshold past which a request/response
// body is no longer held in memory before recording (§4.3 step 6).
const maxBufferedBody = 5 * 1024 * 1024

// DeviceResolver returns identifying information for a client ip,
// best-effort, so flows can be attributed to a device row. The daemon
// backs it with the ARP engine's Resolve.
type DeviceResolver func(ip net.IP) (mac, hostname, vendor string)

// Server is the §4.3 transparent proxy.
type Server struct {
	hostOps     hostops.HostOps
	leaves      *crt.LeafFactory
	policy      *policy.Store
	events      *store.Store
	emit        func(events.Event)
	log         *zap.Logger
	resolveDev  DeviceResolver
	sslInsecure bool
}

// NewServer returns a proxy Server. sslInsecure controls upstream
// certificate validation (default true per §4.3). When true, the upstream
// certificate is not verified at all and every flow on an intercepted TLS
// connection is marked upstream_insecure, whether or not the certificate
// would have passed; there is no verify-first-then-retry step. When false,
// a certificate that fails validation aborts the connection. emit publishes
// request/response/blocked flow events to the external event plane (§6);
// it may be nil, in which case flows are still persisted but not emitted.
func NewServer(hostOps hostops.HostOps, leaves *crt.LeafFactory, policyStore *policy.Store, eventStore *store.Store, log *zap.Logger, resolveDev DeviceResolver, sslInsecure bool, emit func(events.Event)) *Server {
	return &Server{
		hostOps:     hostOps,
		leaves:      leaves,
		policy:      policyStore,
		events:      eventStore,
		emit:        emit,
		log:         log,
		resolveDev:  resolveDev,
		sslInsecure: sslInsecure,
	}
}

// Serve accepts connections on l until ctx is canceled, handling each in
// its own goroutine. Grounded on tcpserver.Serve's accept-loop shape.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	context.AfterFunc(ctx, func() {
		if err := l.Close(); err != nil {
			s.log.Error("failed to close proxy listener", zap.Error(err))
		}
	})

	for {
		conn, err := l.Accept()
		if errors.Is(err, net.ErrClosed) {
			s.log.Info("proxy listener closed")
			return nil
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.log.Error("proxy accept failed", zap.Error(err))
			continue
		}

		go s.handleConn(ctx, conn)
	}
}

// peekConn lets the handler fingerprint the first bytes of a connection
// (plaintext HTTP vs. a TLS ClientHello) without consuming them, mirroring
// tcpserver.peekConn.
type peekConn struct {
	net.Conn
	b *bufio.Reader
}

func (c *peekConn) Peek(n int) ([]byte, error) { return c.b.Peek(n) }
func (c *peekConn) Read(b []byte) (int, error) { return c.b.Read(b) }

func isClientHello(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == 0x16 && buf[1] == 0x03
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	origDst, err := s.hostOps.OriginalDestination(conn)
	if err != nil {
		s.log.Warn("failed to recover original destination", zap.Error(err))
		return
	}

	pc := &peekConn{Conn: conn, b: bufio.NewReader(conn)}

	if origDst.Port != 443 {
		s.servePlaintext(ctx, pc, origDst)
		return
	}

	peek, err := pc.Peek(3)
	if err != nil || !isClientHello(peek) {
		// Not a TLS ClientHello on the port the OS said was 443; forward
		// opaquely rather than guessing at a protocol (§4.3 step 8).
		s.opaqueForward(ctx, pc, origDst)
		return
	}

	s.serveTLS(ctx, pc, origDst)
}

func deadline() time.Time { return time.Now().Add(idleTimeout) }
