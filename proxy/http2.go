package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// serveH2 terminates HTTP/2 on the client leg (via http2.Server) and
// originates HTTP/2 on the upstream leg (via http2.Transport), demuxing
// concurrent streams into independent flow records (§4.3.1). http2.Server
// already dispatches each stream's Handler call on its own goroutine,
// which satisfies the per-stream ordering/independence requirement.
func (s *Server) serveH2(ctx context.Context, clientConn *tls.Conn, origDst *net.TCPAddr, sni string, upstreamTLSCfg *tls.Config) {
	transport := h2Transport(origDst, upstreamTLSCfg)
	defer transport.CloseIdleConnections()

	h2srv := &http2.Server{IdleTimeout: idleTimeout}
	h2srv.ServeConn(clientConn, &http2.ServeConnOpts{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.handleH2Stream(ctx, w, r, transport, sni)
		}),
	})
}

func (s *Server) handleH2Stream(ctx context.Context, w http.ResponseWriter, r *http.Request, transport *http2.Transport, sni string) {
	start := time.Now()
	host := r.Host
	if host == "" {
		host = sni
	}
	urlStr := host + r.URL.RequestURI()

	reqBody, _ := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
	r.Body.Close()

	decision := s.policy.Check(host, urlStr, string(reqBody))
	if decision.Blocked {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "blocked by policy\n")
		s.recordFlowWithResponse(ctx, &net.TCPAddr{IP: clientIPFrom(r)}, r.Method, urlStr, host, r.URL.Path, http.StatusForbidden, reqBody, nil, "", "", time.Since(start), decision, s.sslInsecure)
		return
	}

	upstreamReq := r.Clone(ctx)
	upstreamReq.URL.Scheme = "https"
	upstreamReq.URL.Host = host
	upstreamReq.RequestURI = ""
	upstreamReq.Body = io.NopCloser(strings.NewReader(string(reqBody)))
	upstreamReq.ContentLength = int64(len(reqBody))

	resp, err := transport.RoundTrip(upstreamReq)
	if err != nil {
		s.log.Debug("h2 upstream roundtrip failed", zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	s.recordFlowWithResponse(ctx, &net.TCPAddr{IP: clientIPFrom(r)}, r.Method, urlStr, host, r.URL.Path, resp.StatusCode, reqBody, respBody, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"), time.Since(start), decision, s.sslInsecure)
}

// clientIPFrom extracts the originating IP from an http2-terminated
// request's RemoteAddr, for device attribution.
func clientIPFrom(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}
