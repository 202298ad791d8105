package ldap

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSRV(records map[string][]*net.SRV) srvLookupFunc {
	return func(_ context.Context, _, _, name string) (string, []*net.SRV, error) {
		if srv, ok := records[name]; ok {
			return "", srv, nil
		}
		return "", nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
}

func TestSRVDiscovery_DiscoverServers(t *testing.T) {
	ctx := context.Background()

	t.Run("ldaps records stop the search", func(t *testing.T) {
		d := &SRVDiscovery{lookup: fakeSRV(map[string][]*net.SRV{
			"_ldaps._tcp.corp.local": {
				{Target: "dc02.corp.local.", Port: 636, Priority: 10, Weight: 50},
				{Target: "dc01.corp.local.", Port: 636, Priority: 0, Weight: 100},
			},
			"_ldap._tcp.corp.local": {
				{Target: "dc03.corp.local.", Port: 389},
			},
		})}

		servers, err := d.DiscoverServers(ctx, "corp.local")
		require.NoError(t, err)
		require.Len(t, servers, 2)
		assert.Equal(t, "dc01.corp.local", servers[0].Host)
		assert.Equal(t, "dc02.corp.local", servers[1].Host)
		assert.True(t, servers[0].UseTLS)
		assert.Equal(t, SourceSRV, servers[0].Source)
	})

	t.Run("plain ldap and global catalog are combined", func(t *testing.T) {
		d := &SRVDiscovery{lookup: fakeSRV(map[string][]*net.SRV{
			"_ldap._tcp.corp.local": {{Target: "dc01.corp.local.", Port: 389, Priority: 0, Weight: 10}},
			"_gc._tcp.corp.local":   {{Target: "gc01.corp.local.", Port: 3268, Priority: 0, Weight: 90}},
		})}

		servers, err := d.DiscoverServers(ctx, "corp.local")
		require.NoError(t, err)
		require.Len(t, servers, 2)
		assert.Equal(t, "gc01.corp.local", servers[0].Host, "higher weight first")
		assert.Equal(t, 3268, servers[0].Port)
		assert.False(t, servers[1].UseTLS)
	})

	t.Run("fallback to domain name", func(t *testing.T) {
		d := &SRVDiscovery{lookup: fakeSRV(nil)}

		servers, err := d.DiscoverServers(ctx, "corp.local")
		require.NoError(t, err)
		require.Len(t, servers, 2)
		assert.Equal(t, "ldaps://corp.local:636", servers[0].URL())
		assert.Equal(t, "ldap://corp.local:389", servers[1].URL())
		assert.Equal(t, SourceFallback, servers[1].Source)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		d := &SRVDiscovery{lookup: func(ctx context.Context, _, _, _ string) (string, []*net.SRV, error) {
			return "", nil, ctx.Err()
		}}

		_, err := d.DiscoverServers(cancelled, "corp.local")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty domain", func(t *testing.T) {
		_, err := NewSRVDiscovery().DiscoverServers(ctx, "")
		assert.Error(t, err)
	})
}

func TestSortServers(t *testing.T) {
	servers := []*ServerInfo{
		{Host: "c", Priority: 1, Weight: 100},
		{Host: "b", Priority: 0, Weight: 10},
		{Host: "a", Priority: 0, Weight: 50},
		{Host: "d", Priority: 0, Weight: 10},
	}

	sortServers(servers)

	var hosts []string
	for _, s := range servers {
		hosts = append(hosts, s.Host)
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, hosts)
}

func TestParseLDAPURL(t *testing.T) {
	tests := []struct {
		url     string
		want    *ServerInfo
		wantErr bool
	}{
		{
			url:  "ldaps://dc01.corp.local",
			want: &ServerInfo{Host: "dc01.corp.local", Port: 636, UseTLS: true, Weight: 100, Source: SourceConfig},
		},
		{
			url:  "LDAP://dc01.corp.local:3268",
			want: &ServerInfo{Host: "dc01.corp.local", Port: 3268, Weight: 100, Source: SourceConfig},
		},
		{
			url:  "ldap://[2001:db8::1]",
			want: &ServerInfo{Host: "2001:db8::1", Port: 389, Weight: 100, Source: SourceConfig},
		},
		{url: "", wantErr: true},
		{url: "https://dc01.corp.local", wantErr: true},
		{url: "ldap://:389", wantErr: true},
		{url: "ldap://dc01:0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ParseLDAPURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerInfo_URL(t *testing.T) {
	assert.Equal(t, "ldaps://dc01.corp.local:636", (&ServerInfo{Host: "dc01.corp.local", Port: 636, UseTLS: true}).URL())
	assert.Equal(t, "ldap://[2001:db8::1]:389", (&ServerInfo{Host: "2001:db8::1", Port: 389}).URL())
}

func TestServerInfo_Validate(t *testing.T) {
	tests := []struct {
		name    string
		server  *ServerInfo
		wantErr string
	}{
		{"valid", &ServerInfo{Host: "dc01", Port: 389}, ""},
		{"nil", nil, "nil"},
		{"no host", &ServerInfo{Port: 389}, "host"},
		{"port out of range", &ServerInfo{Host: "dc01", Port: 70000}, "port"},
		{"negative weight", &ServerInfo{Host: "dc01", Port: 389, Weight: -1}, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.server.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
