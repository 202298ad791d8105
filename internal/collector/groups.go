package collector

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// PrimaryGroupSID replaces the RID of objectSID with the entry's primaryGroupID.
// It returns "" when either value is missing or malformed.
func PrimaryGroupSID(entry *ldap.Entry, objectSID string) string {
	sid, ok := ldapclient.PrimaryGroupSID(entry.GetEqualFoldAttributeValue(ldapclient.AttrPrimaryGroupID), objectSID)
	if !ok {
		return ""
	}
	return sid
}

// collectGroupData sets the primary group of accounts and the members of groups.
func (p *ObjectProcessor) collectGroupData(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, record Record) error {
	if !p.methods.Has(MethodGroup) {
		return nil
	}

	switch r := record.(type) {
	case *User:
		r.PrimaryGroupSID = PrimaryGroupSID(entry, resolved.ObjectID)
	case *Computer:
		r.PrimaryGroupSID = PrimaryGroupSID(entry, resolved.ObjectID)
	case *Group:
		members, err := p.deps.Members.ReadGroupMembers(ctx, entry, resolved)
		if err != nil {
			return fmt.Errorf("read group members: %w", err)
		}
		if members == nil {
			members = []TypedPrincipal{}
		}
		r.Members = members
	}

	return nil
}
