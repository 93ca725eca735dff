package l2

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketWriter is satisfied by *pcap.Handle; isolating it as an interface
// lets the ARP engine and device scanner be exercised in tests against a
// fake that records the frames it was asked to send.
type PacketWriter interface {
	WritePacketData(data []byte) error
}

// BuildARPFrame serializes an Ethernet+ARP frame. op is layers.ARPRequest
// or layers.ARPReply. For a request, dstMAC should be the broadcast
// address and dstIP the address being queried; the ARP target hardware
// address (taken from dstMAC) is ignored by the protocol for requests but
// gopacket still requires a value.
func BuildARPFrame(op uint16, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP) ([]byte, error) {
	srcIPv4 := srcIP.To4()
	dstIPv4 := dstIP.To4()
	if srcIPv4 == nil || dstIPv4 == nil {
		return nil, fmt.Errorf("l2: ARP frame requires IPv4 addresses, got src=%s dst=%s", srcIP, dstIP)
	}

	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIPv4,
		DstHwAddress:      dstMAC,
		DstProtAddress:    dstIPv4,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("serialize arp frame: %w", err)
	}
	return buf.Bytes(), nil
}

// BroadcastMAC is the Ethernet broadcast address used for ARP requests.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Send writes an ARP frame built by BuildARPFrame to w.
func Send(w PacketWriter, op uint16, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP) error {
	frame, err := BuildARPFrame(op, srcMAC, dstMAC, srcIP, dstIP)
	if err != nil {
		return err
	}
	return w.WritePacketData(frame)
}
