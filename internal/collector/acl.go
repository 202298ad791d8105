package collector

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// collectACL fills the ACE list, protection flag and inheritance hashes.
func (p *ObjectProcessor) collectACL(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, record Record) error {
	if !p.methods.CollectsACL() {
		return nil
	}

	acls := p.deps.ACLs
	b := record.base()

	aces, err := acls.ProcessACL(ctx, entry, resolved)
	if err != nil {
		return fmt.Errorf("process ACL: %w", err)
	}

	if _, ok := record.(*User); ok {
		readers, err := acls.ProcessGMSAReaders(ctx, entry, resolved)
		if err != nil {
			return fmt.Errorf("process gMSA readers: %w", err)
		}
		aces = append(aces, readers...)
	}

	if aces == nil {
		aces = []ACE{}
	}
	b.Aces = aces
	b.IsACLProtected = acls.IsACLProtected(entry)
	b.Properties["isaclprotected"] = b.IsACLProtected

	switch r := record.(type) {
	case *Container:
		r.InheritanceHashes = acls.InheritanceHashes(entry)
	case *Domain:
		r.InheritanceHashes = acls.InheritanceHashes(entry)
	case *OU:
		r.InheritanceHashes = acls.InheritanceHashes(entry)
	}

	return nil
}
