package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service a LAN cross-copy server advertises.
	DefaultService = "_crosscopy._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

// ErrNoServer indicates a scan window ended without finding a server.
var ErrNoServer = errors.New("discovery: no cross-copy server found")

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls mDNS server lookup.
type Config struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration

	browseFn browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	return out
}
