//go:build linux

package hostops

import (
	"context"
	"fmt"
	"os"
)

const ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

// EnableForwarding implements HostOps on Linux by toggling
// /proc/sys/net/ipv4/ip_forward, recording whatever value was present so
// it can be restored on shutdown.
func (l *LinuxHostOps) EnableForwarding(ctx context.Context) (func() error, error) {
	prior, err := os.ReadFile(ipForwardPath)
	if err != nil {
		return nil, fmt.Errorf("hostops: read %s: %w", ipForwardPath, err)
	}
	priorVal := "0\n"
	if len(prior) > 0 && prior[0] == '1' {
		priorVal = "1\n"
	}

	if err := os.WriteFile(ipForwardPath, []byte("1\n"), 0o644); err != nil {
		return nil, fmt.Errorf("hostops: enable ip forwarding: %w", err)
	}

	return func() error {
		return os.WriteFile(ipForwardPath, []byte(priorVal), 0o644)
	}, nil
}

// IsForwardingEnabled reports the live kernel forwarding state.
func IsForwardingEnabled() (bool, error) {
	data, err := os.ReadFile(ipForwardPath)
	if err != nil {
		return false, fmt.Errorf("hostops: read %s: %w", ipForwardPath, err)
	}
	return len(data) > 0 && data[0] == '1', nil
}
