package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosCredentials is the resolved view of the Kerberos settings in a
// ConnectionConfig. The config itself is never mutated.
type kerberosCredentials struct {
	Principal  string
	Realm      string
	Password   string
	Keytab     string
	CCache     string
	Krb5Config string
}

// performKerberosAuth binds conn with GSSAPI using the configured credentials.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	creds, err := resolveKerberosCredentials(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, server)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	tflog.SubsystemDebug(ctx, SubsystemKerberos, "Performing GSSAPI bind", map[string]any{
		"principal": creds.Principal,
		"realm":     creds.Realm,
		"spn":       spn,
	})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: explicit ccache, default ccache, explicit keytab, default keytab, password.
func createGSSAPIClient(ctx context.Context, creds *kerberosCredentials) (*gssapi.Client, error) {
	if !fileExists(creds.Krb5Config) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s; "+
			"create it or set kerberos_config, for example:\n%s",
			creds.Krb5Config, exampleKrb5Conf(creds.Realm))
	}

	fast := krb5client.DisablePAFXFAST(true)

	if creds.CCache != "" && fileExists(creds.CCache) {
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Using credential cache", map[string]any{"ccache": creds.CCache})
		return gssapi.NewClientFromCCache(creds.CCache, creds.Krb5Config, fast)
	}

	if ccache := getDefaultCCachePath(); fileExists(ccache) {
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Using default credential cache", map[string]any{"ccache": ccache})
		return gssapi.NewClientFromCCache(ccache, creds.Krb5Config, fast)
	}

	if creds.Keytab != "" && fileExists(creds.Keytab) {
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Using keytab", map[string]any{"keytab": creds.Keytab})
		return gssapi.NewClientWithKeytab(creds.Principal, creds.Realm, creds.Keytab, creds.Krb5Config, fast)
	}

	if keytab := getDefaultKeytabPath(); creds.Principal != "" && fileExists(keytab) {
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Using default keytab", map[string]any{"keytab": keytab})
		return gssapi.NewClientWithKeytab(creds.Principal, creds.Realm, keytab, creds.Krb5Config, fast)
	}

	if creds.Principal != "" && creds.Password != "" {
		return gssapi.NewClientWithPassword(creds.Principal, creds.Realm, creds.Password, creds.Krb5Config, fast)
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal returns the LDAP SPN for server, or cfg.KerberosSPN when set.
func buildServicePrincipal(cfg *ConnectionConfig, server *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if server == nil || server.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	host := server.Host
	if i := strings.Index(host, ":"); i != -1 {
		host = host[:i]
	}

	return "ldap/" + host, nil
}

// resolveKerberosCredentials validates the Kerberos settings and splits a
// principal@REALM username when no realm is configured.
func resolveKerberosCredentials(cfg *ConnectionConfig) (*kerberosCredentials, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	creds := &kerberosCredentials{
		Principal:  cfg.Username,
		Realm:      cfg.KerberosRealm,
		Password:   cfg.Password,
		Keytab:     cfg.KerberosKeytab,
		CCache:     cfg.KerberosCCache,
		Krb5Config: cfg.KerberosConfig,
	}
	if creds.Krb5Config == "" {
		creds.Krb5Config = defaultKrb5Conf
	}

	if creds.Realm == "" {
		if principal, realm, ok := strings.Cut(creds.Principal, "@"); ok && !strings.Contains(realm, "@") {
			creds.Principal, creds.Realm = principal, strings.ToUpper(realm)
		}
	}

	if creds.Realm == "" {
		return nil, fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in username)")
	}

	if creds.Principal == "" {
		return nil, fmt.Errorf("username (principal) is required for Kerberos authentication")
	}

	hasCredentials := (creds.CCache != "" && fileExists(creds.CCache)) ||
		fileExists(getDefaultCCachePath()) ||
		(creds.Keytab != "" && fileExists(creds.Keytab)) ||
		fileExists(getDefaultKeytabPath()) ||
		creds.Password != ""
	if !hasCredentials {
		return nil, fmt.Errorf("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab, password, or ensure default credential cache/keytab exists")
	}

	return creds, nil
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// exampleKrb5Conf renders a minimal krb5.conf for error messages.
func exampleKrb5Conf(realm string) string {
	if realm == "" {
		realm = "YOUR.REALM.COM"
	}
	domain := strings.ToLower(realm)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s`, realm, domain)
}
