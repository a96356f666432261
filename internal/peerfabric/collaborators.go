package peerfabric

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"time"
)

// localIP best-effort discovers this host's outbound IPv4 address,
// degrading to 127.0.0.1 on any failure (§6 Host-provided collaborators).
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// hostname degrades to "unknown" on failure.
func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// macAddress returns the first non-loopback interface's hardware
// address, degrading to a zeroed address on failure.
func macAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "00:00:00:00:00:00"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return "00:00:00:00:00:00"
}

// generatePeerID derives the first 16 hex chars of SHA-256 over
// MAC+time (§3 Peer.peer_id).
func generatePeerID() string {
	sum := sha256.Sum256([]byte(macAddress() + time.Now().String()))
	return hex.EncodeToString(sum[:])[:16]
}

// broadcastAddresses derives the /24 broadcast address for every
// local IPv4 interface, plus 255.255.255.255 as fallback (§4.G).
func broadcastAddresses() []string {
	addrs := map[string]struct{}{"255.255.255.255": {}}

	ifaces, err := net.Interfaces()
	if err != nil {
		return keys(addrs)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifaceAddrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := net.CIDRMask(24, 32)
			broadcast := make(net.IP, len(ip4))
			for i := range ip4 {
				broadcast[i] = ip4[i] | ^mask[i]
			}
			addrs[broadcast.String()] = struct{}{}
		}
	}
	return keys(addrs)
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func timestampRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
