//go:build linux

package hostops

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// tablePrefix names every nftables table this process owns, so a
	// stale table from a crashed prior run is recognizable on startup.
	tablePrefix     = "netsentinel_"
	redirectTable   = tablePrefix + "redirect"
	redirectPortSet = "redirect_ports"
	preroutingChain = "prerouting"

	dnsBlockTable = tablePrefix + "dns_block"
	dnsBlockChain = "prerouting"
)

// LinuxHostOps is the Linux HostOps implementation: nftables for
// redirection, /proc/sys for forwarding, conntrack for original-
// destination recovery.
type LinuxHostOps struct {
	log  *zap.Logger
	conn *nftables.Conn
}

// NewLinuxHostOps opens an nftables netlink connection and warns about any
// table left behind by a previous, uncleanly-terminated run.
func NewLinuxHostOps(log *zap.Logger) (*LinuxHostOps, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("hostops: open nftables connection: %w", err)
	}
	h := &LinuxHostOps{log: log, conn: conn}
	if tables, err := conn.ListTables(); err == nil {
		for _, t := range tables {
			if strings.HasPrefix(t.Name, tablePrefix) {
				log.Warn("stale nftables table from a previous run", zap.String("table", t.Name))
			}
		}
	}
	return h, nil
}

// InstallRedirect creates an nftables table with a prerouting NAT chain
// that DNATs inbound TCP on spec.Ports to spec.ProxyAddr.
func (l *LinuxHostOps) InstallRedirect(ctx context.Context, spec RedirectSpec) (func() error, error) {
	tbl := &nftables.Table{Name: redirectTable, Family: nftables.TableFamilyIPv4}
	l.conn.CreateTable(tbl)
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: create nft table: %w", err)
	}
	tbl, err := l.conn.ListTable(tbl.Name)
	if err != nil {
		return nil, fmt.Errorf("hostops: reload nft table: %w", err)
	}

	portSet := &nftables.Set{Table: tbl, Name: redirectPortSet, Interval: true, KeyType: nftables.TypeInetService}
	var elems []nftables.SetElement
	for _, p := range spec.Ports {
		elems = append(elems, nftables.SetElement{Key: binaryutil.BigEndian.PutUint16(uint16(p))})
	}
	if err := l.conn.AddSet(portSet, elems); err != nil {
		return nil, fmt.Errorf("hostops: add port set: %w", err)
	}
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: flush port set: %w", err)
	}

	pri := nftables.ChainPriority(-100)
	pol := nftables.ChainPolicyAccept
	chain := l.conn.AddChain(&nftables.Chain{
		Name:     preroutingChain,
		Table:    tbl,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: &pri,
		Type:     nftables.ChainTypeNAT,
		Policy:   &pol,
	})
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: add prerouting chain: %w", err)
	}

	proxyIP := spec.ProxyAddr.IP.To4()
	proxyPort := binaryutil.BigEndian.PutUint16(uint16(spec.ProxyAddr.Port))

	l.conn.AddRule(&nftables.Rule{
		Table: tbl,
		Chain: chain,
		Exprs: []expr.Any{
			// l4proto == tcp
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
			// tcp dest port in redirect_ports
			&expr.Payload{
				OperationType: expr.PayloadLoad,
				DestRegister:  1,
				Base:          expr.PayloadBaseTransportHeader,
				Offset:        2,
				Len:           2,
			},
			&expr.Lookup{SourceRegister: 1, SetID: portSet.ID, SetName: portSet.Name},
			&expr.Counter{},
			&expr.Immediate{Register: 1, Data: proxyIP},
			&expr.Immediate{Register: 2, Data: proxyPort},
			&expr.NAT{
				Type:        expr.NATTypeDestNAT,
				Family:      unix.NFPROTO_IPV4,
				RegAddrMin:  1,
				RegAddrMax:  1,
				RegProtoMin: 2,
				RegProtoMax: 2,
				Specified:   true,
			},
		},
	})
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: add dnat rule: %w", err)
	}

	return func() error {
		l.conn.DelTable(tbl)
		return l.conn.Flush()
	}, nil
}

// OriginalDestination is implemented in conntrack_linux.go, which queries
// the kernel conntrack table for the pre-DNAT destination tuple.
func (l *LinuxHostOps) OriginalDestination(conn net.Conn) (*net.TCPAddr, error) {
	return lookupConntrackOrigDst(conn)
}

// ChangeMAC is not implemented for this deployment target: the monitor
// runs as a dedicated host on the segment rather than impersonating
// another device's link-layer address, so no component calls it.
func (l *LinuxHostOps) ChangeMAC(iface string, mac net.HardwareAddr) (func() error, error) {
	return nil, ErrUnsupported
}

// BlockDNS installs a per-target "udp dport 53 && ip saddr == targetIP
// drop" rule in its own table, so the DNS interceptor's "drop" mode
// actually stops the kernel from forwarding queries this process chose
// not to answer (§4.2, §9 resolved Open Question).
func (l *LinuxHostOps) BlockDNS(ctx context.Context, targetIP net.IP) (func() error, error) {
	ip4 := targetIP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("hostops: BlockDNS requires an IPv4 address, got %s", targetIP)
	}

	tbl := &nftables.Table{Name: dnsBlockTable, Family: nftables.TableFamilyIPv4}
	l.conn.CreateTable(tbl)
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: create dns-block table: %w", err)
	}
	tbl, err := l.conn.ListTable(tbl.Name)
	if err != nil {
		return nil, fmt.Errorf("hostops: reload dns-block table: %w", err)
	}

	pri := nftables.ChainPriority(-50)
	pol := nftables.ChainPolicyAccept
	chain := l.conn.AddChain(&nftables.Chain{
		Name:     dnsBlockChain,
		Table:    tbl,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: &pri,
		Type:     nftables.ChainTypeFilter,
		Policy:   &pol,
	})
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: add dns-block chain: %w", err)
	}

	rule := l.conn.AddRule(&nftables.Rule{
		Table: tbl,
		Chain: chain,
		Exprs: []expr.Any{
			// ip saddr == targetIP
			&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 12, Len: 4},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ip4},
			// l4proto == udp
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 2, Data: []byte{unix.IPPROTO_UDP}},
			// udp dport == 53
			&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 3, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 3, Data: binaryutil.BigEndian.PutUint16(53)},
			&expr.Counter{},
			&expr.Verdict{Kind: expr.VerdictDrop},
		},
	})
	if err := l.conn.Flush(); err != nil {
		return nil, fmt.Errorf("hostops: add dns-block rule: %w", err)
	}

	return func() error {
		l.conn.DelRule(rule)
		return l.conn.Flush()
	}, nil
}
