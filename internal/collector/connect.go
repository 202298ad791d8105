package collector

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// DirectoryConnection is a bound directory session.
type DirectoryConnection interface {
	DirectoryQuerier
	Connect(ctx context.Context) error
	Close() error
}

var _ DirectoryConnection = (*ldapclient.Client)(nil)

// newDirectoryConnection builds the client for a connection config. Tests
// replace it.
var newDirectoryConnection = func(cfg *ldapclient.ConnectionConfig) (DirectoryConnection, error) {
	client, err := ldapclient.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ConnectDirectory binds to the directory described by cfg.Connection and
// returns the session with the directory-backed dependencies around it. The
// caller closes the session.
func ConnectDirectory(ctx context.Context, cfg *Config) (DirectoryConnection, Dependencies, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	conn, err := newDirectoryConnection(&cfg.Connection)
	if err != nil {
		return nil, Dependencies{}, fmt.Errorf("invalid directory connection: %w", err)
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, Dependencies{}, fmt.Errorf("failed to connect to directory: %w", err)
	}

	deps, err := DirectoryDependencies(conn)
	if err != nil {
		_ = conn.Close()
		return nil, Dependencies{}, err
	}

	tflog.SubsystemDebug(ctx, subsystem, "Directory dependencies ready", map[string]any{
		"domain": cfg.Connection.Domain,
	})
	return conn, deps, nil
}
