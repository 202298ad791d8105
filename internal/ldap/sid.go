package ldap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// SIDPrefix is the common prefix of every textual SID.
const SIDPrefix = "S-1-"

// SIDHandler provides SID operations for Active Directory.
// Active Directory stores SIDs in binary format that needs to be converted to human-readable strings.
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// ConvertBinarySIDToString converts a binary SID to its string representation.
// The layout is checked before decoding: one revision byte, one sub-authority
// count, six authority bytes and four bytes per sub-authority.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}
	if len(binarySID) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}
	if binarySID[0] != 1 {
		return "", fmt.Errorf("unsupported SID revision %d", binarySID[0])
	}

	count := int(binarySID[1])
	if want := 8 + 4*count; len(binarySID) != want {
		return "", fmt.Errorf("binary SID length mismatch: expected %d bytes for %d sub-authorities, got %d", want, count, len(binarySID))
	}

	sid := objectsid.Decode(binarySID)
	return sid.String(), nil
}

// ExtractSID decodes a binary SID attribute (objectSid, securityIdentifier) from an entry.
func (s *SIDHandler) ExtractSID(entry *ldap.Entry, attribute string) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("LDAP entry cannot be nil")
	}

	raw := entry.GetEqualFoldRawAttributeValue(attribute)
	if len(raw) == 0 {
		return "", fmt.Errorf("%s attribute not found in entry", attribute)
	}

	return s.ConvertBinarySIDToString(raw)
}

// ExtractSIDs decodes every value of a multi-valued SID attribute such as
// sIDHistory. Values that fail to decode are dropped.
func (s *SIDHandler) ExtractSIDs(entry *ldap.Entry, attribute string) []string {
	if entry == nil {
		return nil
	}

	var sids []string
	for _, raw := range entry.GetEqualFoldRawAttributeValues(attribute) {
		sid, err := s.ConvertBinarySIDToString(raw)
		if err != nil {
			continue
		}
		sids = append(sids, sid)
	}
	return sids
}

// ValidateSIDString validates that a string is a properly formatted SID.
func (s *SIDHandler) ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if !strings.HasPrefix(strings.ToUpper(sidString), SIDPrefix) {
		return fmt.Errorf("invalid SID format: must start with '%s'", SIDPrefix)
	}

	for _, part := range strings.Split(sidString, "-")[1:] {
		if _, err := strconv.ParseUint(part, 10, 64); err != nil {
			return fmt.Errorf("invalid SID component %q", part)
		}
	}

	return nil
}

// HasSIDPrefix reports whether the value looks like a textual SID.
func HasSIDPrefix(value string) bool {
	return strings.HasPrefix(strings.ToUpper(value), SIDPrefix)
}

// DomainSIDFromSID strips the relative identifier from an account SID.
func DomainSIDFromSID(sid string) (string, error) {
	if !HasSIDPrefix(sid) {
		return "", fmt.Errorf("invalid SID %q", sid)
	}

	idx := strings.LastIndex(sid, "-")
	// S-1-5-21-a-b-c-RID needs at least the authority and one sub-authority left.
	if strings.Count(sid, "-") < 4 {
		return "", fmt.Errorf("SID %q has no account domain component", sid)
	}

	return sid[:idx], nil
}

// PrimaryGroupSID builds the primary group SID by replacing the final RID of
// objectSID with primaryGroupID. It reports false when either input is unusable.
func PrimaryGroupSID(primaryGroupID, objectSID string) (string, bool) {
	if primaryGroupID == "" || objectSID == "" {
		return "", false
	}

	rid, err := strconv.ParseUint(primaryGroupID, 10, 32)
	if err != nil {
		return "", false
	}

	domainSID, err := DomainSIDFromSID(objectSID)
	if err != nil {
		return "", false
	}

	return fmt.Sprintf("%s-%d", domainSID, rid), true
}
