package dnsintercept

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

const redirectTTL = 300

// replyNXDomain synthesizes and sends a reply with opcode copied from the
// query, QR=1, AA=1, RCODE=NXDOMAIN, echoing the question (§4.2).
func (i *Interceptor) replyNXDomain(reqUDP *layers.UDP, srcIP net.IP, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeNameError)
	resp.Authoritative = true
	i.sendReply(reqUDP, srcIP, resp)
}

// replyRedirect synthesizes a reply with RCODE=0 and a single A record
// pointing at i.redirect, TTL 300 (§4.2).
func (i *Interceptor) replyRedirect(reqUDP *layers.UDP, srcIP net.IP, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	if len(req.Question) > 0 && req.Question[0].Qtype == dns.TypeA && i.redirect != nil {
		rr := &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: redirectTTL},
			A:   i.redirect,
		}
		resp.Answer = append(resp.Answer, rr)
	}

	i.sendReply(reqUDP, srcIP, resp)
}

// sendReply writes resp back out the capture handle as a full Ethernet/IP/
// UDP frame addressed to srcIP:reqUDP.SrcPort, since the reply must reach
// the querying host directly rather than via the kernel's own UDP stack
// (this process never bound the socket the query arrived on).
func (i *Interceptor) sendReply(reqUDP *layers.UDP, srcIP net.IP, resp *dns.Msg) {
	payload, err := resp.Pack()
	if err != nil {
		i.log.Warn("failed to pack dns reply")
		return
	}

	udp := &layers.UDP{SrcPort: reqUDP.DstPort, DstPort: reqUDP.SrcPort}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    i.localIP,
		DstIP:    srcIP,
	}
	eth := &layers.Ethernet{
		SrcMAC:       i.localMAC,
		DstMAC:       i.destMACFor(srcIP),
		EthernetType: layers.EthernetTypeIPv4,
	}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		i.log.Warn("failed to serialize dns reply")
		return
	}
	if err := i.handle.WritePacketData(buf.Bytes()); err != nil {
		i.log.Warn("failed to write dns reply")
	}
}
