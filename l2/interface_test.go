package l2

import (
	"net"
	"testing"
)

func TestInterfaceCIDR(t *testing.T) {
	iface := Interface{
		IPv4:    net.IPv4(192, 168, 1, 42).To4(),
		Netmask: net.CIDRMask(24, 32),
	}
	got := iface.CIDR()
	if got.String() != "192.168.1.0/24" {
		t.Errorf("CIDR() = %v, want 192.168.1.0/24", got)
	}
}

func TestParseHexLittleEndianIP(t *testing.T) {
	// 192.168.1.1 little-endian hex-encoded, as /proc/net/route stores it.
	ip, err := parseHexLittleEndianIP("0101A8C0")
	if err != nil {
		t.Fatalf("parseHexLittleEndianIP() error = %v", err)
	}
	if ip.String() != "192.168.1.1" {
		t.Errorf("parseHexLittleEndianIP() = %v, want 192.168.1.1", ip)
	}

	if _, err := parseHexLittleEndianIP("not-hex"); err == nil {
		t.Error("parseHexLittleEndianIP() on malformed input, want error")
	}
}

func TestInterfaceHostAddrs(t *testing.T) {
	iface := Interface{
		IPv4:    net.IPv4(192, 168, 1, 1).To4(),
		Netmask: net.CIDRMask(30, 32),
	}
	addrs := iface.HostAddrs()

	// A /30 has 4 addresses total; network and broadcast are excluded,
	// leaving exactly 2 usable host addresses.
	if len(addrs) != 2 {
		t.Fatalf("HostAddrs() returned %d addresses, want 2: %v", len(addrs), addrs)
	}
	want := map[string]bool{"192.168.1.1": true, "192.168.1.2": true}
	for _, a := range addrs {
		if !want[a.String()] {
			t.Errorf("HostAddrs() returned unexpected address %v", a)
		}
	}
}
