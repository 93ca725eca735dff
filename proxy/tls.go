package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"go.uber.org/zap"

	"golang.org/x/net/http2"
)

// serveTLS terminates TLS with a minted leaf certificate, dials the real
// upstream, and dispatches to the HTTP/1.1 or HTTP/2 handler depending on
// negotiated ALPN (§4.3 steps 2-5, §4.3.1).
func (s *Server) serveTLS(ctx context.Context, conn net.Conn, origDst *net.TCPAddr) {
	var sni string

	clientTLS := tls.Server(conn, &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			sni = hello.ServerName
			if sni == "" {
				sni = s.fallbackSNI(origDst)
			}
			leaf, err := s.leaves.Leaf(sni)
			if err != nil {
				return nil, fmt.Errorf("proxy: mint leaf for %s: %w", sni, err)
			}
			return &tls.Config{
				Certificates: []tls.Certificate{*leaf},
				NextProtos:   []string{"h2", "http/1.1"},
			}, nil
		},
	})

	conn.SetDeadline(deadline())
	if err := clientTLS.Handshake(); err != nil {
		s.log.Debug("client tls handshake failed", zap.String("sni", sni), zap.Error(err))
		return
	}

	wantH2 := clientTLS.ConnectionState().NegotiatedProtocol == "h2"

	upstreamTLSCfg := &tls.Config{
		ServerName:         sni,
		InsecureSkipVerify: s.sslInsecure,
	}
	if wantH2 {
		upstreamTLSCfg.NextProtos = []string{"h2", "http/1.1"}
	}

	if wantH2 {
		s.serveH2(ctx, clientTLS, origDst, sni, upstreamTLSCfg)
		return
	}

	upstream, err := s.dialUpstream(origDst, upstreamTLSCfg)
	if err != nil {
		s.log.Debug("upstream tls dial failed", zap.String("sni", sni), zap.Error(err))
		return
	}
	defer upstream.Close()

	s.serveHTTP1(ctx, clientTLS, upstream, origDst, sni, s.sslInsecure)
}

// fallbackSNI is used when the ClientHello carries no server name: the
// original destination's reverse-DNS name, or failing that its bare IP,
// per §4.3 step 2.
func (s *Server) fallbackSNI(origDst *net.TCPAddr) string {
	if names, err := net.LookupAddr(origDst.IP.String()); err == nil && len(names) > 0 {
		return trimTrailingDot(names[0])
	}
	return origDst.IP.String()
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// dialUpstream opens a TCP+TLS connection to origDst, offering sni via the
// supplied config's ServerName (already set by the caller).
func (s *Server) dialUpstream(origDst *net.TCPAddr, cfg *tls.Config) (*tls.Conn, error) {
	raw, err := net.DialTimeout("tcp", origDst.String(), idleTimeout)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(raw, cfg)
	tlsConn.SetDeadline(deadline())
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		return nil, err
	}
	return tlsConn, nil
}

// h2Transport builds an http2.Transport that dials origDst directly rather
// than resolving by hostname, since the upstream address was already
// recovered via conntrack.
func h2Transport(origDst *net.TCPAddr, tlsCfg *tls.Config) *http2.Transport {
	return &http2.Transport{
		TLSClientConfig: tlsCfg,
		DialTLSContext: func(_ context.Context, network, _ string, cfg *tls.Config) (net.Conn, error) {
			raw, err := net.DialTimeout(network, origDst.String(), idleTimeout)
			if err != nil {
				return nil, err
			}
			tlsConn := tls.Client(raw, cfg)
			if err := tlsConn.Handshake(); err != nil {
				raw.Close()
				return nil, err
			}
			return tlsConn, nil
		},
	}
}
