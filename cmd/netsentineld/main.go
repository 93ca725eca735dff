// Command netsentineld is the monitor daemon: it brings up ARP
// redirection, DNS interception, and the TLS-intercepting proxy on one
// interface, streams events to stdout, and accepts commands on stdin
// (§2.1/§6/§8).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/arp"
	"github.com/netsentinel/netsentinel/crt"
	"github.com/netsentinel/netsentinel/dnsintercept"
	"github.com/netsentinel/netsentinel/events"
	"github.com/netsentinel/netsentinel/hostops"
	"github.com/netsentinel/netsentinel/internal/logging"
	"github.com/netsentinel/netsentinel/l2"
	"github.com/netsentinel/netsentinel/policy"
	"github.com/netsentinel/netsentinel/proxy"
	"github.com/netsentinel/netsentinel/store"
)

const startExample = "netsentineld -i eth0 -g 192.168.1.1"

var (
	ifaceName   string
	gatewayIP   string
	dbFile      string
	policyFile  string
	logLevel    string
	caDir       string
	caProfile   string
	dnsMode     string
	sslInsecure bool

	rootCmd = &cobra.Command{
		Use:     "netsentineld",
		Short:   "Transparent LAN traffic monitor and content-inspecting proxy",
		Example: startExample,
		RunE:    runDaemon,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&ifaceName, "interface", "i", "", "Network interface to monitor")
	rootCmd.Flags().StringVarP(&gatewayIP, "gateway", "g", "", "LAN gateway IPv4 address (auto-discovered from the route table if omitted)")
	rootCmd.Flags().StringVarP(&dbFile, "db", "d", "netsentinel.db", "Event store database file")
	rootCmd.Flags().StringVarP(&policyFile, "policy", "p", "", "Policy document (JSON); empty starts with built-in defaults only")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "v", "info", "Logging level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&caDir, "ca-dir", "netsentinel-ca", "Directory holding the interception CA")
	rootCmd.Flags().StringVar(&caProfile, "ca-profile", "generic", "CA subject disguise profile: corporate_it, home_router, school_network, generic")
	rootCmd.Flags().StringVar(&dnsMode, "dns-mode", "nxdomain", "Action for blocked DNS queries: nxdomain, redirect, drop")
	rootCmd.Flags().BoolVar(&sslInsecure, "ssl-insecure", true, "Tolerate upstream certificate validation failures")

	if err := rootCmd.MarkFlagRequired("interface"); err != nil {
		fmt.Fprintln(os.Stderr, "interface is required")
		os.Exit(2)
	}
}

// exitError carries the §6 process exit code (1 startup failure, 2 fatal
// runtime error) through cobra's plain-error RunE contract.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := events.NewDispatcher(log)
	go dispatcher.Run(ctx, os.Stdout)

	emit := func(e events.Event) { dispatcher.Emit(e) }
	// fatal reports a startup failure (before the daemon reaches steady
	// state): exit code 1 per §6.
	fatal := func(format string, a ...any) error {
		msg := fmt.Sprintf(format, a...)
		emit(events.Event{Type: events.TypeError, Message: msg})
		emit(events.Event{Type: events.TypeStopped, Code: 1})
		return &exitError{code: 1, err: errors.New(msg)}
	}

	var runtimeExitCode atomic.Int32
	// runtimeFatal reports a fatal error discovered once the daemon is
	// already running (e.g. the monitored interface disappearing): exit
	// code 2 per §6. It triggers the same orderly shutdown path as a
	// signal or a "stop" command, just with a non-zero final code.
	runtimeFatal := func(format string, a ...any) {
		msg := fmt.Sprintf(format, a...)
		emit(events.Event{Type: events.TypeError, Message: msg})
		runtimeExitCode.Store(2)
		stop()
	}

	// A non-empty --gateway overrides auto-discovery; otherwise l2.Discover
	// reads the default route for ifaceName from the kernel route table.
	var gw net.IP
	if gatewayIP != "" {
		gw = net.ParseIP(gatewayIP)
		if gw == nil {
			return fatal("invalid gateway address %q", gatewayIP)
		}
	}
	iface, err := l2.Discover(ifaceName, gw)
	if err != nil {
		return fatal("discover interface: %v", err)
	}

	if err := hostops.CheckPermissions(); err != nil {
		return fatal("insufficient permissions: %v", err)
	}

	evStore, err := store.Open(dbFile)
	if err != nil {
		return fatal("open event store: %v", err)
	}
	defer evStore.Close()

	policyStore := policy.NewStore()
	if policyFile != "" {
		raw, err := os.ReadFile(policyFile)
		if err != nil {
			return fatal("read policy file: %v", err)
		}
		var doc policy.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fatal("parse policy file: %v", err)
		}
		if errs := policyStore.Load(doc); len(errs) > 0 {
			for _, e := range errs {
				log.Warn("policy load warning", zap.Error(e))
			}
		}
	}

	ca, err := crt.LoadOrGenerateCA(caDir, crt.DisguiseProfile(caProfile))
	if err != nil {
		return fatal("load or generate CA: %v", err)
	}
	leaves, err := crt.NewLeafFactory(ca)
	if err != nil {
		return fatal("init leaf factory: %v", err)
	}

	hostOps, err := hostops.NewLinuxHostOps(log)
	if err != nil {
		return fatal("init host ops: %v", err)
	}

	restoreForwarding, err := hostOps.EnableForwarding(ctx)
	if err != nil {
		return fatal("enable forwarding: %v", err)
	}
	defer restoreForwarding()

	const proxyPort = 8443
	removeRedirect, err := hostOps.InstallRedirect(ctx, hostops.RedirectSpec{
		Ports:     []int{80, 443},
		ProxyAddr: net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: proxyPort},
	})
	if err != nil {
		return fatal("install redirect: %v", err)
	}
	defer removeRedirect()

	pcapWriter, err := arp.OpenWriter(iface.Name)
	if err != nil {
		return fatal("open packet writer: %v", err)
	}

	onSpoofErr := func(target net.IP, err error) {
		emit(events.Event{Type: events.TypeError, Message: fmt.Sprintf("spoof failed for %s: %v", target, err)})
	}
	onSeen := func(mac net.HardwareAddr, ip net.IP) {
		dev, err := evStore.GetOrCreateDevice(ctx, mac.String(), ip.String(), "", "")
		if err != nil {
			log.Warn("record device sighting", zap.Error(err))
			return
		}
		emit(events.Event{Type: events.TypeDevice, DeviceIP: dev.IP, DeviceMAC: dev.MAC, Hostname: dev.Hostname})
	}

	engine := arp.New(iface, pcapWriter, log, onSpoofErr, onSeen)
	if err := engine.Start(ctx); err != nil {
		return fatal("start arp engine: %v", err)
	}
	defer engine.Stop()

	scanner := arp.NewScanner(iface, engine, log)
	go scanner.Run(ctx)

	go func() {
		select {
		case err := <-engine.Failed():
			runtimeFatal("arp engine lost interface %s: %v", iface.Name, err)
		case <-ctx.Done():
		}
	}()

	resolveMAC := func(ip net.IP) net.HardwareAddr {
		mac, err := engine.Resolve(ctx, ip)
		if err != nil {
			return nil
		}
		return mac
	}

	onQuery := func(rec dnsintercept.Record) int64 {
		id, err := evStore.InsertDNSQuery(ctx, store.DNSQuery{
			Timestamp:   time.Now(),
			QueryName:   rec.QueryName,
			Type:        rec.QType,
			ResponseIPs: rec.ResponseIPs,
			Blocked:     rec.Blocked,
			Reason:      rec.Reason,
			Category:    rec.Category,
		})
		if err != nil {
			log.Warn("record dns query", zap.Error(err))
		}
		emit(events.Event{
			Type:        events.TypeDNS,
			QueryName:   rec.QueryName,
			QueryType:   rec.QType,
			ResponseIPs: rec.ResponseIPs,
			Category:    rec.Category,
			Blocked:     rec.Blocked,
		})
		return id
	}

	onResponse := func(id int64, addrs []string, ttl uint32) {
		joined := strings.Join(addrs, ",")
		if err := evStore.UpdateDNSQueryResponse(ctx, id, joined, ttl); err != nil {
			log.Warn("record dns response", zap.Error(err))
			return
		}
		emit(events.Event{
			Type:        events.TypeDNS,
			ResponseIPs: joined,
			TTL:         ttl,
		})
	}

	interceptor := dnsintercept.New(iface.Name, policyStore, hostOps, log, iface.IPv4, iface.HardwareAddr,
		resolveMAC, iface.IPv4, dnsintercept.Mode(dnsMode), onQuery, onResponse)
	go func() {
		if err := interceptor.Start(ctx); err != nil {
			emit(events.Event{Type: events.TypeError, Message: fmt.Sprintf("dns interceptor: %v", err)})
		}
	}()
	defer interceptor.Stop()

	resolveDevice := func(ip net.IP) (mac, hostname, vendor string) {
		if m, err := engine.Resolve(ctx, ip); err == nil {
			mac = m.String()
		}
		return mac, "", ""
	}

	proxySrv := proxy.NewServer(hostOps, leaves, policyStore, evStore, log, resolveDevice, sslInsecure, emit)
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", proxyPort))
	if err != nil {
		return fatal("listen on proxy port: %v", err)
	}
	go func() {
		if err := proxySrv.Serve(ctx, listener); err != nil {
			emit(events.Event{Type: events.TypeError, Message: fmt.Sprintf("proxy server: %v", err)})
		}
	}()

	emit(events.Event{Type: events.TypeStarted, Message: fmt.Sprintf("monitoring %s", iface.Name)})

	handleCommand := func(_ context.Context, cmd events.Command) error {
		switch cmd.Action {
		case events.ActionStop:
			stop()
			return nil
		case events.ActionAddTarget:
			ip := net.ParseIP(cmd.IP)
			if ip == nil {
				return fmt.Errorf("invalid ip %q", cmd.IP)
			}
			return engine.AddTarget(ctx, ip)
		case events.ActionRemoveTarget:
			ip := net.ParseIP(cmd.IP)
			if ip == nil {
				return fmt.Errorf("invalid ip %q", cmd.IP)
			}
			return engine.RemoveTarget(ip)
		case events.ActionSetQuiet:
			engine.SetStealth(cmd.Enabled, cmd.Interval)
			return nil
		case events.ActionDNSMode:
			interceptor.SetMode(dnsintercept.Mode(cmd.Mode))
			return nil
		case events.ActionBlockCategory, events.ActionUnblockCategory,
			events.ActionAddBlock, events.ActionRemoveBlock,
			events.ActionAddKeyword, events.ActionRemoveKeyword:
			// Policy hot-reload takes a full document; per-field mutation
			// of the live Store isn't exposed, so these reload from disk.
			return reloadPolicy(policyStore, log)
		default:
			return fmt.Errorf("unknown action %q", cmd.Action)
		}
	}

	go events.ReadCommands(ctx, os.Stdin, log, dispatcher, handleCommand)

	<-ctx.Done()
	code := int(runtimeExitCode.Load())
	emit(events.Event{Type: events.TypeStopped, Code: code})
	if code != 0 {
		return &exitError{code: code, err: fmt.Errorf("fatal runtime error")}
	}
	return nil
}

func reloadPolicy(policyStore *policy.Store, log *zap.Logger) error {
	if policyFile == "" {
		return fmt.Errorf("no policy file configured")
	}
	raw, err := os.ReadFile(policyFile)
	if err != nil {
		return err
	}
	var doc policy.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if errs := policyStore.Load(doc); len(errs) > 0 {
		for _, e := range errs {
			log.Warn("policy reload warning", zap.Error(e))
		}
	}
	return nil
}
