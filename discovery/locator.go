package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Server is a cross-copy server found on the local network.
type Server struct {
	Instance  string
	HostName  string
	Port      int
	Addresses []string
	Scheme    string
	Path      string
	Version   int
}

// URL returns the base URL clients use for API requests. A discovered
// address is preferred over the advertised host name.
func (s Server) URL() string {
	host := strings.TrimSuffix(s.HostName, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	scheme := s.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + s.Path
}

// Locator browses mDNS for cross-copy servers.
type Locator struct {
	cfg    Config
	browse browseFunc
}

// NewLocator creates a locator with config defaults applied.
func NewLocator(config Config) (*Locator, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	return &Locator{cfg: cfg, browse: browse}, nil
}

// Find returns the first server seen during one scan window.
func (l *Locator) Find(ctx context.Context) (Server, error) {
	servers, err := l.Scan(ctx)
	if err != nil {
		return Server{}, err
	}
	if len(servers) == 0 {
		return Server{}, ErrNoServer
	}
	return servers[0], nil
}

// Scan browses for one scan window and returns every server seen, sorted by
// instance name.
func (l *Locator) Scan(ctx context.Context) ([]Server, error) {
	scanCtx, cancel := context.WithTimeout(ctx, l.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Server)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		var in <-chan *zeroconf.ServiceEntry = entries
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-in:
				if !ok {
					// The resolver closes the channel when browsing ends.
					in = nil
					continue
				}
				if entry == nil {
					continue
				}
				server, ok := parseEntry(entry)
				if !ok {
					continue
				}
				collectedMu.Lock()
				collected[server.Instance] = server
				collectedMu.Unlock()
			}
		}
	}()

	if err := l.browse(scanCtx, l.cfg.Service, l.cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", l.cfg.Service, err)
	}

	<-scanCtx.Done()
	<-collectorDone

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A deadline just means the scan window ended.
	if err := scanCtx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	collectedMu.Lock()
	defer collectedMu.Unlock()
	out := make([]Server, 0, len(collected))
	for _, server := range collected {
		out = append(out, server)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance < out[j].Instance
	})
	return out, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Server, bool) {
	if entry.Port <= 0 {
		return Server{}, false
	}
	txt := txtToMap(entry.Text)

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}

	hostName := strings.TrimSpace(entry.HostName)
	if len(addresses) == 0 && hostName == "" {
		return Server{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = hostName
	}

	path := strings.TrimRight(txt["path"], "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	scheme := strings.ToLower(txt["scheme"])
	if scheme != "https" {
		scheme = "http"
	}

	return Server{
		Instance:  name,
		HostName:  hostName,
		Port:      entry.Port,
		Addresses: addresses,
		Scheme:    scheme,
		Path:      path,
		Version:   version,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
