package ldap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// srvLookupFunc matches (*net.Resolver).LookupSRV.
type srvLookupFunc func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)

// srvService is a DNS SRV prefix queried for domain controllers.
type srvService struct {
	prefix string
	useTLS bool
}

// srvServices are queried in order. An LDAPS answer ends the search.
var srvServices = []srvService{
	{"_ldaps._tcp.", true},
	{"_ldap._tcp.", false},
	{"_gc._tcp.", false},
}

// SRVDiscovery locates domain controllers through DNS SRV records.
type SRVDiscovery struct {
	lookup srvLookupFunc
}

func NewSRVDiscovery() *SRVDiscovery {
	return &SRVDiscovery{lookup: net.DefaultResolver.LookupSRV}
}

// DiscoverServers returns the directory servers of domain, best first. With
// no SRV answers it falls back to the domain name on 636 and then 389.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	start := time.Now()
	var servers []*ServerInfo
	for _, svc := range srvServices {
		name := svc.prefix + domain
		found, err := d.resolve(ctx, name, svc.useTLS)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			tflog.SubsystemTrace(ctx, SubsystemLDAP, "No SRV answer", map[string]any{"service": name, "error": err.Error()})
			continue
		}
		servers = append(servers, found...)
		if svc.useTLS {
			break
		}
	}

	if len(servers) == 0 {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "No SRV records, using domain name", map[string]any{"domain": domain})
		return domainServers(domain), nil
	}

	sortServers(servers)

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Discovered directory servers", map[string]any{
		"domain":       domain,
		"server_count": len(servers),
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	return servers, nil
}

func (d *SRVDiscovery) resolve(ctx context.Context, name string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.lookup(ctx, "", "", name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records for %s", name)
	}

	servers := make([]*ServerInfo, len(records))
	for i, srv := range records {
		servers[i] = &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   SourceSRV,
		}
	}
	return servers, nil
}

func domainServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Weight: 100, Source: SourceFallback},
		{Host: domain, Port: 389, Priority: 1, Weight: 100, Source: SourceFallback},
	}
}

// sortServers orders by ascending priority, heavier weight first within a
// priority (RFC 2782). Ties keep their DNS order.
func sortServers(servers []*ServerInfo) {
	slices.SortStableFunc(servers, func(a, b *ServerInfo) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(b.Weight, a.Weight))
	})
}

// Validate checks that s names a dialable host and port.
func (s *ServerInfo) Validate() error {
	switch {
	case s == nil:
		return errors.New("server info cannot be nil")
	case s.Host == "":
		return errors.New("server host cannot be empty")
	case s.Port <= 0 || s.Port > 65535:
		return fmt.Errorf("invalid port number: %d", s.Port)
	case s.Priority < 0 || s.Weight < 0:
		return fmt.Errorf("priority and weight cannot be negative: %d/%d", s.Priority, s.Weight)
	}
	return nil
}

// URL formats s as an ldap:// or ldaps:// URL.
func (s *ServerInfo) URL() string {
	u := url.URL{Scheme: "ldap", Host: net.JoinHostPort(s.Host, strconv.Itoa(s.Port))}
	if s.UseTLS {
		u.Scheme = "ldaps"
	}
	return u.String()
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL, defaulting the port from
// the scheme.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, errors.New("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	server := &ServerInfo{Host: u.Hostname(), Weight: 100, Source: SourceConfig}
	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS, server.Port = true, 636
	case "ldap":
		server.Port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap or ldaps", u.Scheme)
	}

	if p := u.Port(); p != "" {
		if server.Port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
	}

	if err := server.Validate(); err != nil {
		return nil, err
	}
	return server, nil
}
