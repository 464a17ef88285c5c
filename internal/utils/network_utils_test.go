package utils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelayHeuristic(t *testing.T) {
	lan := &net.IPNet{IP: net.IPv4(192, 168, 1, 20), Mask: net.CIDRMask(24, 32)}
	cgnat := &net.IPNet{IP: net.IPv4(100, 100, 3, 4), Mask: net.CIDRMask(10, 32)}

	assert.False(t, relayHeuristic([]iface{{name: "eth0", addrs: []net.Addr{lan}}}))
	assert.True(t, relayHeuristic([]iface{{name: "wg0"}}))
	assert.True(t, relayHeuristic([]iface{{name: "en0", addrs: []net.Addr{cgnat}}}))
}
