package utils

import (
	"net"
	"strings"
)

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true if calls should go through TURN.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	var candidates []iface
	for _, i := range interfaces {
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			addrs = nil
		}
		candidates = append(candidates, iface{name: i.Name, addrs: addrs})
	}
	return relayHeuristic(candidates)
}

type iface struct {
	name  string
	addrs []net.Addr
}

// Cloudflare WARP, Tailscale and carrier-grade NATs hand out addresses here.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func relayHeuristic(interfaces []iface) bool {
	for _, i := range interfaces {
		name := strings.ToLower(i.name)
		if strings.Contains(name, "tun") ||
			strings.Contains(name, "tap") ||
			strings.Contains(name, "wg") ||
			strings.Contains(name, "ppp") ||
			strings.Contains(name, "warp") {
			return true
		}

		for _, addr := range i.addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}
