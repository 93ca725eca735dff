//go:build linux

package hostops

import (
	"fmt"
	"net"

	conntrack "github.com/florianl/go-conntrack"
)

// lookupConntrackOrigDst asks the kernel conntrack table for the
// pre-DNAT destination of an accepted connection. After InstallRedirect
// rewrites the destination to the proxy's port, the "original" tuple the
// kernel remembers still carries the site the client actually dialed;
// the reply tuple is how we find the right conntrack entry, since its
// Src/Dst and Proto.SrcPort/DstPort equal this connection's local and
// remote endpoints as observed here.
func lookupConntrackOrigDst(c net.Conn) (*net.TCPAddr, error) {
	local, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("hostops: conn has no TCP local address")
	}
	remote, ok := c.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("hostops: conn has no TCP remote address")
	}

	nfct, err := conntrack.Open(&conntrack.Config{})
	if err != nil {
		return nil, fmt.Errorf("hostops: open conntrack: %w", err)
	}
	defer nfct.Close()

	sessions, err := nfct.Dump(conntrack.Conntrack, conntrack.IPv4)
	if err != nil {
		return nil, fmt.Errorf("hostops: dump conntrack table: %w", err)
	}

	for _, s := range sessions {
		if s.Reply == nil || s.Reply.Proto == nil || s.Reply.Src == nil || s.Reply.Dst == nil {
			continue
		}
		if s.Reply.Proto.SrcPort == nil || s.Reply.Proto.DstPort == nil {
			continue
		}
		if !s.Reply.Src.Equal(local.IP) || !s.Reply.Dst.Equal(remote.IP) {
			continue
		}
		if int(*s.Reply.Proto.SrcPort) != local.Port || int(*s.Reply.Proto.DstPort) != remote.Port {
			continue
		}
		if s.Origin == nil || s.Origin.Dst == nil || s.Origin.Proto == nil || s.Origin.Proto.DstPort == nil {
			continue
		}
		return &net.TCPAddr{IP: s.Origin.Dst, Port: int(*s.Origin.Proto.DstPort)}, nil
	}

	return nil, fmt.Errorf("hostops: no conntrack entry found for %s->%s", remote, local)
}
