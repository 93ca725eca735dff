// Package l2 provides interface enumeration, gateway discovery, and
// ARP frame construction and sending: the link-layer primitives every other
// subsystem (ARP engine, device scanner, DNS interceptor) builds on.
package l2

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
)

// Interface describes the network interface the monitor operates on.
type Interface struct {
	Name       string
	HardwareAddr net.HardwareAddr
	IPv4       net.IP
	Netmask    net.IPMask
	Gateway    net.IP
}

// CIDR returns the interface's IPv4 network in CIDR notation, e.g. 192.168.1.0/24.
func (i Interface) CIDR() *net.IPNet {
	return &net.IPNet{IP: i.IPv4.Mask(i.Netmask), Mask: i.Netmask}
}

// Discover resolves an Interface by OS name, reading its IPv4 address,
// netmask, and hardware address from the OS network stack. If gateway is
// nil, the default gateway is discovered at start by reading the kernel
// route table (DiscoverGateway); pass a non-nil gateway to override
// auto-discovery, e.g. on a multi-gateway network.
func Discover(name string, gateway net.IP) (Interface, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return Interface{}, fmt.Errorf("lookup interface %s: %w", name, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return Interface{}, fmt.Errorf("list addrs on %s: %w", name, err)
	}

	var ipNet *net.IPNet
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil {
			ipNet = n
			break
		}
	}
	if ipNet == nil {
		return Interface{}, fmt.Errorf("interface %s has no IPv4 address", name)
	}

	if gateway == nil {
		gw, err := DiscoverGateway(name)
		if err != nil {
			return Interface{}, fmt.Errorf("discover default gateway for %s: %w", name, err)
		}
		gateway = gw
	}

	return Interface{
		Name:         ifi.Name,
		HardwareAddr: ifi.HardwareAddr,
		IPv4:         ipNet.IP.To4(),
		Netmask:      ipNet.Mask,
		Gateway:      gateway,
	}, nil
}

// DiscoverGateway reads /proc/net/route for the default route (destination
// 0.0.0.0) associated with iface and returns its gateway address. This is
// the Linux-native equivalent of the original monitor's get_gateway_ip.
// If iface has no default route it returns an error; it does not guess a
// gateway address.
func DiscoverGateway(iface string) (net.IP, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return nil, fmt.Errorf("open /proc/net/route: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		ifName, dest, gw := fields[0], fields[1], fields[2]
		if ifName != iface || dest != "00000000" {
			continue
		}
		ip, err := parseHexLittleEndianIP(gw)
		if err != nil {
			return nil, fmt.Errorf("parse gateway field %q: %w", gw, err)
		}
		return ip, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read /proc/net/route: %w", err)
	}
	return nil, fmt.Errorf("no default route found for %s in /proc/net/route", iface)
}

// parseHexLittleEndianIP decodes a /proc/net/route address field: 8 hex
// digits, byte order reversed relative to standard dotted-quad notation.
func parseHexLittleEndianIP(field string) (net.IP, error) {
	b, err := hex.DecodeString(field)
	if err != nil || len(b) != 4 {
		return nil, fmt.Errorf("malformed route address %q", field)
	}
	return net.IPv4(b[3], b[2], b[1], b[0]), nil
}

// HostAddrs enumerates every usable host address in the interface's
// network (skipping the network and broadcast addresses), for use by the
// device scanner's periodic ARP sweep.
func (i Interface) HostAddrs() []net.IP {
	ipNet := i.CIDR()
	var out []net.IP
	ip := ipNet.IP.Mask(ipNet.Mask)
	for cur := cloneIP(ip); ipNet.Contains(cur); incIP(cur) {
		if !cur.Equal(ip) && !cur.Equal(broadcastAddr(ipNet)) {
			out = append(out, cloneIP(cur))
		}
	}
	return out
}

func cloneIP(ip net.IP) net.IP {
	c := make(net.IP, len(ip))
	copy(c, ip)
	return c
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

func broadcastAddr(n *net.IPNet) net.IP {
	ip := make(net.IP, len(n.IP))
	for i := range n.IP {
		ip[i] = n.IP[i] | ^n.Mask[i]
	}
	return ip
}
