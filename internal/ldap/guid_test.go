package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequentialGUID is 0x01..0x10 in wire order.
var sequentialGUID = []byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
}

func TestGUIDHandler_GUIDBytesToString(t *testing.T) {
	handler := NewGUIDHandler()

	t.Run("mixed endian", func(t *testing.T) {
		got, err := handler.GUIDBytesToString(sequentialGUID)
		require.NoError(t, err)
		assert.Equal(t, "04030201-0605-0807-090A-0B0C0D0E0F10", got)
	})

	t.Run("input is not modified", func(t *testing.T) {
		input := append([]byte(nil), sequentialGUID...)
		_, err := handler.GUIDBytesToString(input)
		require.NoError(t, err)
		assert.Equal(t, sequentialGUID, input)
	})

	for _, n := range []int{0, 15, 17} {
		_, err := handler.GUIDBytesToString(make([]byte, n))
		assert.ErrorContains(t, err, "invalid GUID byte length", "length %d", n)
	}
}

func TestGUIDHandler_NormalizeGUID(t *testing.T) {
	handler := NewGUIDHandler()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "hyphenated lower case",
			input: "0b7c8b2a-1111-2222-3333-444455556666",
			want:  "0B7C8B2A-1111-2222-3333-444455556666",
		},
		{
			name:  "braced",
			input: "{0B7C8B2A-1111-2222-3333-444455556666}",
			want:  "0B7C8B2A-1111-2222-3333-444455556666",
		},
		{
			name:  "compact with whitespace",
			input: " 0b7c8b2a111122223333444455556666 ",
			want:  "0B7C8B2A-1111-2222-3333-444455556666",
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: true,
		},
		{
			name:    "non-hex",
			input:   "0b7c8b2a-1111-2222-3333-44445555666g",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := handler.NormalizeGUID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGUIDHandler_ExtractGUID(t *testing.T) {
	handler := NewGUIDHandler()

	entry := ldap.NewEntry("OU=Servers,DC=corp,DC=local", map[string][]string{
		"objectGUID": {string(sequentialGUID)},
	})
	got, err := handler.ExtractGUID(entry)
	require.NoError(t, err)
	assert.Equal(t, "04030201-0605-0807-090A-0B0C0D0E0F10", got)

	_, err = handler.ExtractGUID(ldap.NewEntry("OU=Empty,DC=corp,DC=local", nil))
	assert.ErrorIs(t, err, ErrNoObjectGUID)

	_, err = handler.ExtractGUID(nil)
	assert.Error(t, err)
}
