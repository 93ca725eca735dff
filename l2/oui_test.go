package l2

import (
	"net"
	"testing"
)

func TestVendorFor(t *testing.T) {
	tests := []struct {
		name string
		mac  string
		want string
	}{
		{name: "known raspberry pi prefix", mac: "b8:27:eb:11:22:33", want: "Raspberry Pi Foundation"},
		{name: "known vmware prefix", mac: "00:50:56:aa:bb:cc", want: "VMware"},
		{name: "unknown prefix", mac: "ff:ff:ff:00:00:00", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mac, err := net.ParseMAC(tt.mac)
			if err != nil {
				t.Fatalf("ParseMAC(%q) error = %v", tt.mac, err)
			}
			if got := VendorFor(mac); got != tt.want {
				t.Errorf("VendorFor(%s) = %q, want %q", tt.mac, got, tt.want)
			}
		})
	}
}

func TestVendorForShortAddress(t *testing.T) {
	if got := VendorFor(net.HardwareAddr{0x01, 0x02}); got != "" {
		t.Errorf("VendorFor(short) = %q, want empty string", got)
	}
}
