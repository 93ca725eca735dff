package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/decode"
	"github.com/netsentinel/netsentinel/events"
	"github.com/netsentinel/netsentinel/policy"
	"github.com/netsentinel/netsentinel/store"
)

// servePlaintext handles a redirected port-80 connection directly as
// HTTP/1.1 (§4.3 step 2).
func (s *Server) servePlaintext(ctx context.Context, conn net.Conn, origDst *net.TCPAddr) {
	upstream, err := net.DialTimeout("tcp", origDst.String(), idleTimeout)
	if err != nil {
		s.log.Debug("upstream plaintext dial failed", zap.Error(err))
		return
	}
	defer upstream.Close()

	s.serveHTTP1(ctx, conn, upstream, origDst, origDst.IP.String(), false)
}

// opaqueForward blindly relays bytes in both directions for a port-443
// connection that does not start with a TLS ClientHello, per §4.3 step 8.
// A plaintext connection that fails to parse as HTTP is closed, not relayed.
func (s *Server) opaqueForward(ctx context.Context, conn net.Conn, origDst *net.TCPAddr) {
	upstream, err := net.DialTimeout("tcp", origDst.String(), idleTimeout)
	if err != nil {
		s.log.Debug("upstream opaque dial failed", zap.Error(err))
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// serveHTTP1 parses one or more HTTP/1.1 request/response exchanges on
// conn, evaluating policy, forwarding to upstream, and recording every
// flow, until the connection closes or idles out (§4.3 steps 6-8).
func (s *Server) serveHTTP1(ctx context.Context, conn net.Conn, upstream net.Conn, origDst *net.TCPAddr, sni string, insecure bool) {
	clientR := bufio.NewReader(conn)
	upstreamR := bufio.NewReader(upstream)

	client := &net.TCPAddr{}
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		client = a
	}

	for {
		conn.SetReadDeadline(deadline())
		req, err := http.ReadRequest(clientR)
		if err != nil {
			return
		}

		start := time.Now()
		host := req.Host
		if host == "" {
			host = sni
		}
		url := host + req.URL.RequestURI()

		reqBody, _ := io.ReadAll(io.LimitReader(req.Body, maxBufferedBody))
		req.Body.Close()

		decision := s.policy.Check(host, url, string(reqBody))
		if decision.Blocked {
			s.writeBlocked(conn, req)
			s.recordFlow(ctx, client, req.Method, url, host, req.URL.Path, 403, reqBody, nil, time.Since(start), decision, insecure)
			continue
		}

		req.RequestURI = ""
		req.Body = io.NopCloser(strings.NewReader(string(reqBody)))
		req.ContentLength = int64(len(reqBody))

		conn.SetWriteDeadline(deadline())
		if err := req.Write(upstream); err != nil {
			s.log.Debug("failed to forward request upstream", zap.Error(err))
			return
		}

		upstream.SetReadDeadline(deadline())
		resp, err := http.ReadResponse(upstreamR, req)
		if err != nil {
			s.log.Debug("failed to read upstream response", zap.Error(err))
			return
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
		resp.Body.Close()
		resp.Body = io.NopCloser(strings.NewReader(string(respBody)))
		resp.ContentLength = int64(len(respBody))

		conn.SetWriteDeadline(deadline())
		if err := resp.Write(conn); err != nil {
			s.log.Debug("failed to forward response to client", zap.Error(err))
			return
		}

		s.recordFlowWithResponse(ctx, client, req.Method, url, host, req.URL.Path, resp.StatusCode, reqBody, respBody, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"), time.Since(start), decision, insecure)

		if req.Close || resp.Close || !isKeepAlive(req) {
			return
		}
	}
}

func isKeepAlive(req *http.Request) bool {
	if req.ProtoAtLeast(1, 1) {
		return !strings.EqualFold(req.Header.Get("Connection"), "close")
	}
	return strings.EqualFold(req.Header.Get("Connection"), "keep-alive")
}

// writeBlocked synthesizes a local 403 response instead of opening an
// upstream connection, per §4.4's blocking contract.
func (s *Server) writeBlocked(conn net.Conn, req *http.Request) {
	resp := &http.Response{
		StatusCode: http.StatusForbidden,
		Status:     "403 Forbidden",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("blocked by policy\n")),
		Request:    req,
	}
	resp.Write(conn)
}

func (s *Server) recordFlow(ctx context.Context, client *net.TCPAddr, method, url, host, path string, status int, reqBody, respBody []byte, dur time.Duration, decision policy.BlockDecision, insecure bool) {
	s.recordFlowWithResponse(ctx, client, method, url, host, path, status, reqBody, respBody, "", "", dur, decision, insecure)
}

// recordFlowWithResponse decodes the request/response bodies, tags
// sensitivity, and persists the completed flow (§4.3 step 7, §4.5, §4.5.1).
func (s *Server) recordFlowWithResponse(ctx context.Context, client *net.TCPAddr, method, url, host, path string, status int, reqBody, respBody []byte, respContentType, respContentEncoding string, dur time.Duration, decision policy.BlockDecision, insecure bool) {
	if s.events == nil {
		return
	}

	respDecoded := decode.Decode(respBody, respContentType, respContentEncoding, "")

	sensitivity := decode.TagSensitivity(url+" "+string(reqBody), decode.SensitivityPublic)
	sensitivity = decode.TagSensitivity(respDecoded.Text, sensitivity)

	var mac, hostname, vendor string
	if s.resolveDev != nil {
		mac, hostname, vendor = s.resolveDev(client.IP)
	}
	device, err := s.events.GetOrCreateDevice(ctx, mac, client.IP.String(), hostname, vendor)
	if err != nil {
		s.log.Warn("failed to resolve device for flow", zap.Error(err))
	}

	var deviceID *int64
	if device.ID != 0 {
		deviceID = &device.ID
	}

	flow := store.HTTPFlow{
		Timestamp:    time.Now(),
		DeviceID:     deviceID,
		Method:       method,
		URL:          url,
		Host:         host,
		Path:         path,
		StatusCode:   status,
		RequestBody:  string(reqBody),
		ResponseBody: string(respBody),
		DurationMS:   dur.Milliseconds(),
		Category:     string(decision.Category),
		Sensitivity:  string(sensitivity),
		Blocked:      decision.Blocked,
		Reason:       decision.Reason,
	}
	if insecure {
		flow.Reason = strings.TrimSpace(flow.Reason + " upstream_insecure")
	}

	if _, err := s.events.InsertHTTPFlow(ctx, flow); err != nil {
		s.log.Warn("failed to persist http flow", zap.Error(err))
	}

	s.emitFlow(flow)
}

// emitFlow publishes a finalized flow to the external event plane in the
// §6 event shapes. A blocked flow emits a single blocked event; any other
// flow emits a request event, a response event and a summary traffic
// event, in that order from this single call, which gives the §5/§8
// request-before-response ordering guarantee.
func (s *Server) emitFlow(flow store.HTTPFlow) {
	if s.emit == nil {
		return
	}

	if flow.Blocked {
		s.emit(events.Event{
			Type:          events.TypeFlowEvent,
			FlowEventType: events.FlowEventBlocked,
			URL:           flow.URL,
			Host:          flow.Host,
			Method:        flow.Method,
			Category:      flow.Category,
			Reason:        flow.Reason,
			Blocked:       true,
		})
		return
	}

	s.emit(events.Event{
		Type:          events.TypeFlowEvent,
		FlowEventType: events.FlowEventRequest,
		URL:           flow.URL,
		Host:          flow.Host,
		Method:        flow.Method,
	})
	s.emit(events.Event{
		Type:          events.TypeFlowEvent,
		FlowEventType: events.FlowEventResponse,
		URL:           flow.URL,
		Host:          flow.Host,
		Method:        flow.Method,
		StatusCode:    flow.StatusCode,
		DurationMS:    flow.DurationMS,
		Category:      flow.Category,
		Sensitivity:   flow.Sensitivity,
	})
	s.emit(events.Event{
		Type:        events.TypeTraffic,
		URL:         flow.URL,
		Host:        flow.Host,
		Method:      flow.Method,
		StatusCode:  flow.StatusCode,
		DurationMS:  flow.DurationMS,
		Category:    flow.Category,
		Sensitivity: flow.Sensitivity,
	})
}
