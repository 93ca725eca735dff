package l2

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type fakeWriter struct {
	frames [][]byte
}

func (f *fakeWriter) WritePacketData(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func TestBuildARPFrameRequest(t *testing.T) {
	srcMAC, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	srcIP := net.IPv4(192, 168, 1, 1)
	dstIP := net.IPv4(192, 168, 1, 50)

	frame, err := BuildARPFrame(layers.ARPRequest, srcMAC, BroadcastMAC, srcIP, dstIP)
	if err != nil {
		t.Fatalf("BuildARPFrame() error = %v", err)
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		t.Fatal("parsed frame has no ARP layer")
	}
	arp := arpLayer.(*layers.ARP)
	if arp.Operation != layers.ARPRequest {
		t.Errorf("Operation = %v, want ARPRequest", arp.Operation)
	}
	if !net.IP(arp.DstProtAddress).Equal(dstIP.To4()) {
		t.Errorf("DstProtAddress = %v, want %v", net.IP(arp.DstProtAddress), dstIP)
	}
}

func TestBuildARPFrameRejectsNonIPv4(t *testing.T) {
	srcMAC, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	_, err := BuildARPFrame(layers.ARPRequest, srcMAC, BroadcastMAC, net.ParseIP("::1"), net.IPv4(1, 2, 3, 4))
	if err == nil {
		t.Fatal("BuildARPFrame() expected an error for a non-IPv4 address")
	}
}

func TestSendWritesOneFrame(t *testing.T) {
	w := &fakeWriter{}
	srcMAC, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	err := Send(w, layers.ARPReply, srcMAC, BroadcastMAC, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(w.frames) != 1 {
		t.Fatalf("Send() wrote %d frames, want 1", len(w.frames))
	}
}
