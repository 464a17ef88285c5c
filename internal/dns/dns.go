package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are servers to be queried if a local lookup fails
var publicDNS = []string{
	"1.0.0.1",                // Cloudflare
	"1.1.1.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.4.4",                // Google
	"8.8.8.8",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.220.220",         // Cisco OpenDNS
	"208.67.222.222",         // Cisco OpenDNS
}

var ErrNoAddress = errors.New("no IP addresses found")

// Resolver resolves hostnames with the system resolver first and races
// public DNS servers when that fails. Both the signaling dialer and the
// HTTP client dial through it.
type Resolver struct {
	servers      []string
	localTimeout time.Duration
	raceTimeout  time.Duration
	lookupLocal  func(ctx context.Context, host string) ([]string, error)
	lookupVia    func(ctx context.Context, host, server string) ([]string, error)
	dialer       net.Dialer
}

// NewResolver returns a resolver backed by the system and public DNS.
func NewResolver() *Resolver {
	return &Resolver{
		servers:      publicDNS,
		localTimeout: time.Second,
		raceTimeout:  2 * time.Second,
		lookupLocal: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
		lookupVia: lookupViaServer,
	}
}

// Default is shared by dialers that have no reason to configure their own.
var Default = NewResolver()

// Lookup resolves a hostname to a single IP address, preferring IPv4.
// IP literals are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.localTimeout)
	ips, err := r.lookupLocal(localCtx, host)
	cancel()
	if err == nil && len(ips) > 0 {
		return preferIPv4(ips), nil
	}

	return r.race(ctx, host)
}

// DialContext resolves addr through Lookup and dials the resulting IP.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	return r.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// race queries every public server concurrently and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.raceTimeout)
	defer cancel()

	results := make(chan result, len(r.servers))
	for _, server := range r.servers {
		go func(server string) {
			ips, err := r.lookupVia(ctx, host, server)
			if err == nil && len(ips) == 0 {
				err = ErrNoAddress
			}
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{ip: preferIPv4(ips)}
		}(server)
	}

	failures := 0
	for range r.servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup for %s timed out during public DNS race", host)
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

func lookupViaServer(ctx context.Context, host, server string) ([]string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return r.LookupHost(ctx, host)
}

func preferIPv4(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}
