package arp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/l2"
)

func testInterface() l2.Interface {
	selfMAC, _ := net.ParseMAC("aa:aa:aa:aa:aa:aa")
	return l2.Interface{
		Name:         "eth-test",
		HardwareAddr: selfMAC,
		IPv4:         net.IPv4(192, 168, 1, 10).To4(),
		Netmask:      net.CIDRMask(24, 32),
		Gateway:      net.IPv4(192, 168, 1, 1).To4(),
	}
}

func newTestEngine(onSeen DeviceSeenFunc) (*Engine, *fakeWriter) {
	w := &fakeWriter{}
	e := New(testInterface(), w, zap.NewNop(), nil, onSeen)
	return e, w
}

func TestEngineAddTargetResolvesAndActivates(t *testing.T) {
	e, _ := newTestEngine(nil)
	target := net.IPv4(192, 168, 1, 50)
	targetMAC, _ := net.ParseMAC("11:22:33:44:55:66")

	go func() {
		time.Sleep(10 * time.Millisecond)
		e.handlePacket(nil, &layers.ARP{
			Operation:         layers.ARPReply,
			SourceHwAddress:   targetMAC,
			SourceProtAddress: target.To4(),
		})
	}()

	if err := e.AddTarget(context.Background(), target); err != nil {
		t.Fatalf("AddTarget() error = %v", err)
	}

	tgt, ok := e.targets.Get(target.String())
	if !ok {
		t.Fatal("AddTarget() did not record the target")
	}
	if tgt.MAC.String() != targetMAC.String() {
		t.Errorf("target MAC = %v, want %v", tgt.MAC, targetMAC)
	}
}

func TestEngineRemoveTargetIsNoOpForUnknownIP(t *testing.T) {
	e, _ := newTestEngine(nil)
	if err := e.RemoveTarget(net.IPv4(10, 0, 0, 5)); err != nil {
		t.Errorf("RemoveTarget() error = %v, want nil for an unknown target", err)
	}
}

func TestEngineHandlePacketFiresOnSeen(t *testing.T) {
	var seenMAC net.HardwareAddr
	var seenIP net.IP
	e, _ := newTestEngine(func(mac net.HardwareAddr, ip net.IP) {
		seenMAC, seenIP = mac, ip
	})

	srcMAC, _ := net.ParseMAC("77:88:99:aa:bb:cc")
	srcIP := net.IPv4(192, 168, 1, 77).To4()
	e.handlePacket(gopacket.NewPacket(nil, layers.LayerTypeEthernet, gopacket.Default), &layers.ARP{
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP,
	})

	if seenMAC.String() != srcMAC.String() {
		t.Errorf("onSeen mac = %v, want %v", seenMAC, srcMAC)
	}
	if !seenIP.Equal(net.IP(srcIP)) {
		t.Errorf("onSeen ip = %v, want %v", seenIP, srcIP)
	}
}

func TestEngineSetStealthTogglesInterval(t *testing.T) {
	e, _ := newTestEngine(nil)
	e.SetStealth(true, 5)
	if got := time.Duration(e.interval.Load()); got != 5*time.Second {
		t.Errorf("interval = %v, want 5s", got)
	}
	e.SetStealth(false, 0)
	if got := time.Duration(e.interval.Load()); got != AggressiveInterval {
		t.Errorf("interval = %v, want %v", got, AggressiveInterval)
	}
}
