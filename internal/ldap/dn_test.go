package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDNCase(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "lower case types",
			input: "cn=john,ou=users,dc=example,dc=com",
			want:  "CN=john,OU=users,DC=example,DC=com",
		},
		{
			name:  "multi-valued rdn",
			input: "cn=a+uid=b,dc=example,dc=com",
			want:  "CN=a+UID=b,DC=example,DC=com",
		},
		{
			name:  "blank",
			input: "   ",
			want:  "",
		},
		{
			name:    "malformed",
			input:   "not a dn",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDNCase(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRDNValue(t *testing.T) {
	dn := "CN=John Doe,OU=Sales,OU=Users,DC=example,DC=com"

	value, err := ExtractRDNValue(dn, "cn")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", value)

	value, err = ExtractRDNValue(dn, "OU")
	require.NoError(t, err)
	assert.Equal(t, "Sales", value, "first match wins")

	_, err = ExtractRDNValue(dn, "O")
	assert.ErrorContains(t, err, "not found")

	_, err = ExtractRDNValue("", "CN")
	assert.ErrorIs(t, err, ErrEmptyDN)
}

func TestGetDNParent(t *testing.T) {
	parent, err := GetDNParent("cn=John,ou=Users,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, "OU=Users,DC=example,DC=com", parent)

	_, err = GetDNParent("DC=com")
	assert.ErrorIs(t, err, ErrNoParent)
	assert.ErrorContains(t, err, "DC=com")

	_, err = GetDNParent("")
	assert.ErrorIs(t, err, ErrEmptyDN)
}

func TestDomainNameFromDN(t *testing.T) {
	tests := []struct {
		dn      string
		want    string
		wantErr bool
	}{
		{dn: "CN=WS01,CN=Computers,DC=corp,DC=example,DC=com", want: "CORP.EXAMPLE.COM"},
		{dn: "dc=child,dc=corp,dc=local", want: "CHILD.CORP.LOCAL"},
		{dn: "CN=Configuration", wantErr: true},
		{dn: "not a dn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dn, func(t *testing.T) {
			got, err := DomainNameFromDN(tt.dn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainNameToDN(t *testing.T) {
	assert.Equal(t, "DC=corp,DC=example,DC=com", DomainNameToDN("corp.example.com"))
	assert.Equal(t, "DC=CORP,DC=LOCAL", DomainNameToDN(" CORP.LOCAL. "))
	assert.Equal(t, "", DomainNameToDN(""))
}
