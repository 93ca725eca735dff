// Package arp implements the ARP redirection engine: bidirectional L2
// poisoning of a target/gateway pair, restoration on removal or shutdown,
// broadcast-ARP resolution, and the periodic device-discovery sweep.
package arp

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

// Handler processes one captured ARP packet.
type Handler func(pkt gopacket.Packet, arp *layers.ARP)

// Capture opens a live pcap handle on iface filtered to ARP traffic and
// dispatches every packet to handler until ctx is done. It returns once
// the handle is closed, either by ctx cancellation or a read error.
//
// SOURCE: gopacket's arpscan example, matching the capture-loop shape
// this codebase already uses for its own ARP sniffer.
func Capture(ctx context.Context, iface string, log *zap.Logger, handler Handler) error {
	handle, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("arp: open pcap on %s: %w", iface, err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("arp"); err != nil {
		return fmt.Errorf("arp: set bpf filter: %w", err)
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				return fmt.Errorf("arp: capture source closed on %s", iface)
			}
			arpLayer, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
			if !ok {
				continue
			}
			handler(pkt, arpLayer)
		}
	}
}

// OpenWriter opens a live pcap handle suitable for sending crafted
// frames; used by the engine and scanner to get an l2.PacketWriter.
func OpenWriter(iface string) (*pcap.Handle, error) {
	handle, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("arp: open pcap writer on %s: %w", iface, err)
	}
	return handle, nil
}
