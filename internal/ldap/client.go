package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"net"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ErrPageLimitExceeded ends a paged search that ran past MaxPages. Entries
// already yielded are kept; the rest of the result set is not read.
var ErrPageLimitExceeded = errors.New("paged search exceeded maximum page limit")

// searcher is the part of *ldap.Conn used once a connection is bound.
type searcher interface {
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Client is a directory connection that serves paged searches as lazy
// sequences. A single bound connection is shared; go-ldap multiplexes
// concurrent requests over it.
type Client struct {
	config    *ConnectionConfig
	discovery *SRVDiscovery

	mu     sync.RWMutex
	conn   searcher
	server *ServerInfo
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *ConnectionConfig) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	return &Client{
		config:    config,
		discovery: NewSRVDiscovery(),
	}, nil
}

// Connect dials the first reachable server and binds with the configured credentials.
func (c *Client) Connect(ctx context.Context) error {
	fields := map[string]any{
		"domain":      c.config.Domain,
		"auth_method": c.config.GetAuthMethod().String(),
		"use_tls":     c.config.UseTLS,
	}

	return timed(ctx, "connect", fields, func() error {
		servers, err := c.servers(ctx)
		if err != nil {
			return err
		}

		var lastErr error
		for _, server := range servers {
			url := server.URL()
			conn, err := c.dial(ctx, server)
			if err != nil {
				lastErr = err
				logConnectionEvent(ctx, EventDialFailed, map[string]any{"server": url, "error": err.Error()})
				continue
			}
			logConnectionEvent(ctx, EventConnected, map[string]any{"server": url, "source": server.Source})

			if err := c.authenticate(ctx, conn, server); err != nil {
				_ = conn.Close()
				logConnectionEvent(ctx, EventBindFailed, map[string]any{
					"server":   url,
					"username": c.config.Username,
					"error":    err.Error(),
				})
				return WrapError("bind", err)
			}

			c.mu.Lock()
			c.conn, c.server = conn, server
			c.mu.Unlock()

			logConnectionEvent(ctx, EventBound, map[string]any{"server": url, "username": c.config.Username})
			return nil
		}

		return WrapError("connect", fmt.Errorf("no directory server reachable: %w", lastErr))
	})
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Server returns the server the client is bound to, or nil.
func (c *Client) Server() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

func (c *Client) servers(ctx context.Context) ([]*ServerInfo, error) {
	if len(c.config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(c.config.LDAPURLs))
		for _, u := range c.config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return nil, fmt.Errorf("invalid ldap url %q: %w", u, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	servers, err := c.discovery.DiscoverServers(ctx, c.config.Domain)
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	if c.config.SkipTLS {
		plain := servers[:0]
		for _, s := range servers {
			if !s.UseTLS {
				plain = append(plain, s)
			}
		}
		servers = plain
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no usable directory servers for %s", c.config.Domain)
	}
	return servers, nil
}

func (c *Client) tlsConfig(server *ServerInfo) *tls.Config {
	if c.config.TLSConfig != nil {
		return c.config.TLSConfig
	}
	return &tls.Config{
		ServerName:         server.Host,
		InsecureSkipVerify: c.config.Insecure, //nolint:gosec // explicit opt-in
		MinVersion:         tls.VersionTLS12,
	}
}

func (c *Client) dial(ctx context.Context, server *ServerInfo) (*ldap.Conn, error) {
	url := server.URL()
	dialer := ldap.DialWithDialer(&net.Dialer{Timeout: c.config.Timeout})

	logConnectionEvent(ctx, EventDialing, map[string]any{"server": url})

	var conn *ldap.Conn
	var err error
	if server.UseTLS {
		conn, err = ldap.DialURL(url, dialer, ldap.DialWithTLSConfig(c.tlsConfig(server)))
	} else {
		conn, err = ldap.DialURL(url, dialer)
		if err == nil && c.config.UseTLS && !c.config.SkipTLS {
			if tlsErr := conn.StartTLS(c.tlsConfig(server)); tlsErr != nil {
				_ = conn.Close()
				err = tlsErr
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(c.config.Timeout)
	return conn, nil
}

func (c *Client) authenticate(ctx context.Context, conn *ldap.Conn, server *ServerInfo) error {
	switch c.config.GetAuthMethod() {
	case AuthMethodKerberos:
		return performKerberosAuth(ctx, conn, c.config, server)
	default:
		if c.config.Username == "" {
			return conn.UnauthenticatedBind("")
		}
		return conn.Bind(c.config.Username, c.config.Password)
	}
}

// searchBase picks the base DN for a request: the root DSE, an explicit
// base, the request domain, the configured base DN, then the configured domain.
func (c *Client) searchBase(req *SearchRequest) (string, error) {
	switch {
	case req.RootDSE:
		return "", nil
	case req.BaseDN != "":
		return req.BaseDN, nil
	case req.DomainName != "":
		return DomainNameToDN(req.DomainName), nil
	case c.config.BaseDN != "":
		return c.config.BaseDN, nil
	case c.config.Domain != "":
		return DomainNameToDN(c.config.Domain), nil
	}
	return "", fmt.Errorf("search request has no base DN or domain")
}

// Query runs a paged search and yields entries as pages arrive. The sequence
// is single-pass; an error is yielded once and ends it. Pages are fetched
// only while the consumer keeps pulling.
func (c *Client) Query(ctx context.Context, req *SearchRequest) iter.Seq2[*ldap.Entry, error] {
	return func(yield func(*ldap.Entry, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("search request cannot be nil"))
			return
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			yield(nil, fmt.Errorf("client is not connected"))
			return
		}

		base, err := c.searchBase(req)
		if err != nil {
			yield(nil, err)
			return
		}

		scope := req.Scope.goLDAPScope()
		if req.RootDSE {
			scope = ldap.ScopeBaseObject
		}

		fields := map[string]any{
			"base_dn": base,
			"filter":  req.Filter,
			"scope":   scope,
		}
		start := time.Now()
		paging := ldap.NewControlPaging(c.config.PageSize)
		total := 0

		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if c.config.MaxPages > 0 && page > c.config.MaxPages {
				fields["entries"] = total
				tflog.SubsystemWarn(ctx, SubsystemLDAP, "Paged search exceeded maximum page limit, stopping", fields)
				ldapErr := NewLDAPError("search", fmt.Errorf("%w: %d pages", ErrPageLimitExceeded, c.config.MaxPages))
				ldapErr.BaseDN = base
				yield(nil, ldapErr)
				return
			}

			ldapReq := ldap.NewSearchRequest(
				base,
				scope,
				ldap.NeverDerefAliases,
				0,
				int(c.config.Timeout.Seconds()),
				false,
				req.Filter,
				req.Attributes,
				[]ldap.Control{paging},
			)

			var result *ldap.SearchResult
			err := c.withRetry(ctx, func() error {
				var searchErr error
				result, searchErr = conn.Search(ldapReq)
				return searchErr
			})
			if err != nil {
				if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
					tflog.SubsystemDebug(ctx, SubsystemLDAP, "Search base does not exist", fields)
					return
				}
				logSearchError(ctx, err, fields)
				ldapErr := NewLDAPError("search", err)
				ldapErr.BaseDN = base
				yield(nil, ldapErr)
				return
			}

			tflog.SubsystemTrace(ctx, SubsystemLDAP, "Received search page", map[string]any{
				"page":    page,
				"entries": len(result.Entries),
			})

			for _, entry := range result.Entries {
				total++
				if !yield(entry, nil) {
					return
				}
			}

			control, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
			if !ok || len(control.Cookie) == 0 {
				break
			}
			paging.SetCookie(control.Cookie)
		}

		fields["entries"] = total
		fields["duration_ms"] = time.Since(start).Milliseconds()
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Paged search completed", fields)
	}
}

// withRetry retries retryable failures with exponential backoff.
func (c *Client) withRetry(ctx context.Context, operation func() error) error {
	backoff := c.config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			tflog.SubsystemDebug(ctx, SubsystemLDAP, "Retrying operation", map[string]any{
				"attempt":    attempt,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff = min(backoff*2, c.config.MaxBackoff)
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) || errors.Is(err, context.Canceled) {
			return err
		}
	}

	return lastErr
}
