package ldap

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for the directory connection used by collection.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        `yaml:"domain"`                     // Domain for SRV discovery and default search base
	LDAPURLs []string      `yaml:"ldap_urls"`                  // Direct LDAP URLs (overrides discovery)
	BaseDN   string        `yaml:"base_dn"`                    // Base DN when no domain is given per query
	Timeout  time.Duration `yaml:"timeout" default:"30s"`      // Dial and request timeout
	PageSize uint32        `yaml:"page_size" default:"500"`    // Paged search size
	UseTLS   bool          `yaml:"use_tls" default:"true"`     // Prefer LDAPS servers
	SkipTLS  bool          `yaml:"skip_tls"`                   // Plain LDAP only (not recommended)
	Insecure bool          `yaml:"insecure_skip_verify"`       // Disable certificate verification
	MaxPages int           `yaml:"max_pages" default:"100000"` // Runaway guard for paged searches

	// Retry settings for transient server errors
	MaxRetries     int           `yaml:"max_retries" default:"2"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"10s"`

	// Authentication settings
	Username       string `yaml:"username"`        // DN, UPN, or SAM format
	Password       string `yaml:"password"`        // Simple bind or Kerberos password
	KerberosRealm  string `yaml:"kerberos_realm"`  // Realm for GSSAPI authentication
	KerberosKeytab string `yaml:"kerberos_keytab"` // Keytab path
	KerberosCCache string `yaml:"kerberos_ccache"` // Credential cache path
	KerberosConfig string `yaml:"kerberos_config"` // krb5.conf path
	KerberosSPN    string `yaml:"kerberos_spn"`    // Explicit service principal override

	TLSConfig *tls.Config `yaml:"-"`
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	cfg := &ConnectionConfig{}
	// defaults.Set only fails on malformed tags, which are static here.
	_ = defaults.Set(cfg)
	return cfg
}

// Validate checks the configuration for obvious mistakes before dialing.
func (c *ConnectionConfig) Validate() error {
	if c.Domain == "" && len(c.LDAPURLs) == 0 {
		return fmt.Errorf("either domain or ldap_urls must be set")
	}
	if c.PageSize == 0 {
		return fmt.Errorf("page_size must be greater than zero")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	for _, u := range c.LDAPURLs {
		if _, err := ParseLDAPURL(u); err != nil {
			return fmt.Errorf("invalid ldap url %q: %w", u, err)
		}
	}
	return nil
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   ServerSource
}

// ServerSource records how a server was found.
type ServerSource string

const (
	SourceSRV      ServerSource = "srv"
	SourceConfig   ServerSource = "config"
	SourceFallback ServerSource = "fallback"
)

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// goLDAPScope maps the scope onto the go-ldap constant.
func (s SearchScope) goLDAPScope() int {
	switch s {
	case ScopeBaseObject:
		return ldap.ScopeBaseObject
	case ScopeSingleLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// SearchRequest describes one directory query. When BaseDN is empty the
// search base is derived from DomainName. RootDSE reads the server's root
// entry and ignores BaseDN, DomainName and Scope.
type SearchRequest struct {
	DomainName string
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	RootDSE    bool
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Username/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != "") {
		return AuthMethodKerberos
	}
	return AuthMethodSimpleBind
}
