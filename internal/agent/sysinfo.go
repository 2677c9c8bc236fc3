// ABOUTME: Environment snapshot collection for the first check-in.
// ABOUTME: Every field degrades to a placeholder rather than failing.

package agent

import (
	"net"
	"os"
	"os/user"
	"runtime"

	"github.com/ghostwire/ghostwire/internal/protocol"
)

// CollectSystemInfo captures the host environment snapshot sent with the
// initial check-in. Lookups that fail leave "unknown" in place; the snapshot
// is informational and must never block startup.
func CollectSystemInfo(id string) *protocol.SystemInfo {
	info := &protocol.SystemInfo{
		Hostname:   "unknown",
		Username:   "unknown",
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		PID:        os.Getpid(),
		WorkingDir: "unknown",
		NumCPU:     runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}
	info.Addresses = localAddresses()

	return info
}

// localAddresses lists the non-loopback unicast addresses of all interfaces.
func localAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var out []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		out = append(out, ipNet.IP.String())
	}
	return out
}
