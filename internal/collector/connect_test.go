package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

type fakeConnection struct {
	MockDirectoryQuerier
	connectErr error
	connected  bool
	closed     bool
}

func (f *fakeConnection) Connect(context.Context) error {
	f.connected = f.connectErr == nil
	return f.connectErr
}

func (f *fakeConnection) Close() error {
	f.closed = true
	return nil
}

// useConnection makes ConnectDirectory hand out conn and returns the
// connection configs it was asked for.
func useConnection(t *testing.T, conn *fakeConnection) *[]*ldapclient.ConnectionConfig {
	t.Helper()
	var requested []*ldapclient.ConnectionConfig
	original := newDirectoryConnection
	newDirectoryConnection = func(cfg *ldapclient.ConnectionConfig) (DirectoryConnection, error) {
		requested = append(requested, cfg)
		return conn, nil
	}
	t.Cleanup(func() { newDirectoryConnection = original })
	return &requested
}

func TestConnectDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("bound session backs the dependencies", func(t *testing.T) {
		conn := &fakeConnection{}
		conn.On("Query", ctx, baseObject("OU=Servers,DC=corp,DC=local")).Return([]*ldap.Entry{
			newEntry("OU=Servers,DC=corp,DC=local", map[string][]string{
				"objectClass": {"organizationalUnit"},
				"objectGUID":  {guidValue(3)},
			}),
		}, nil)
		requested := useConnection(t, conn)

		cfg := DefaultConfig()
		cfg.Connection.Domain = "corp.local"

		session, deps, err := ConnectDirectory(ctx, cfg)
		require.NoError(t, err)
		require.Len(t, *requested, 1)
		assert.Same(t, &cfg.Connection, (*requested)[0])
		assert.Same(t, conn, session)
		assert.True(t, conn.connected)
		assert.Same(t, conn, deps.Directory)

		principal, ok := deps.Names.(*DirectoryNameResolver).ResolveDistinguishedName(ctx, "OU=Servers,DC=corp,DC=local")
		require.True(t, ok)
		assert.Equal(t, LabelOU, principal.ObjectType)
		conn.AssertCalled(t, "Query", ctx, mock.Anything)
	})

	t.Run("connect failure", func(t *testing.T) {
		conn := &fakeConnection{connectErr: errors.New("no directory server reachable")}
		useConnection(t, conn)

		session, _, err := ConnectDirectory(ctx, DefaultConfig())
		require.Error(t, err)
		assert.ErrorIs(t, err, conn.connectErr)
		assert.Nil(t, session)
	})
}

func TestConnectDirectory_Client(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid connection config", func(t *testing.T) {
		cfg := DefaultConfig()

		_, _, err := ConnectDirectory(ctx, cfg)
		assert.ErrorContains(t, err, "invalid directory connection")
	})

	t.Run("unreachable server", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Connection.LDAPURLs = []string{"ldap://127.0.0.1:1"}
		cfg.Connection.Timeout = time.Second

		_, _, err := ConnectDirectory(ctx, cfg)
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed to connect to directory")

		var ldapErr *ldapclient.LDAPError
		assert.ErrorAs(t, err, &ldapErr)
	})
}
