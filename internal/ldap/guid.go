package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

var ErrNoObjectGUID = errors.New("objectGUID attribute not found in entry")

// GUIDHandler converts objectGUID values to object identifiers: upper-case
// hyphenated GUIDs.
type GUIDHandler struct{}

func NewGUIDHandler() *GUIDHandler {
	return &GUIDHandler{}
}

// GUIDBytesToString formats a wire-order objectGUID. The first three fields
// are little-endian on the wire and are reversed into RFC 4122 order.
func (g *GUIDHandler) GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	var id uuid.UUID
	copy(id[:], guidBytes)
	for _, field := range [][2]int{{0, 4}, {4, 6}, {6, 8}} {
		reverse(id[field[0]:field[1]])
	}

	return formatGUID(id), nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func formatGUID(id uuid.UUID) string {
	return strings.ToUpper(id.String())
}

// NormalizeGUID accepts braced, compact or hyphenated GUIDs in any case.
func (g *GUIDHandler) NormalizeGUID(guidString string) (string, error) {
	trimmed := strings.TrimSpace(guidString)
	if trimmed == "" {
		return "", errors.New("GUID string cannot be empty")
	}

	id, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid GUID %q: %w", guidString, err)
	}
	return formatGUID(id), nil
}

// ExtractGUID reads and formats the objectGUID of entry.
func (g *GUIDHandler) ExtractGUID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", errors.New("LDAP entry cannot be nil")
	}

	raw := entry.GetEqualFoldRawAttributeValue(AttrObjectGUID)
	if len(raw) == 0 {
		return "", ErrNoObjectGUID
	}
	return g.GUIDBytesToString(raw)
}
