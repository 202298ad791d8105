package collector

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// gpOptionsBlockInheritance is the gPOptions bit that blocks policy inheritance.
const gpOptionsBlockInheritance = 1

// BlocksInheritance reports whether gPOptions blocks inherited policy.
func BlocksInheritance(entry *ldap.Entry) bool {
	opts, ok := ldapclient.IntAttribute(entry, ldapclient.AttrGPOptions)
	return ok && opts&gpOptionsBlockInheritance == gpOptionsBlockInheritance
}

// collectContainerData resolves the parent object and, for domains and OUs,
// the linked group policies.
func (p *ObjectProcessor) collectContainerData(ctx context.Context, entry *ldap.Entry, record Record) error {
	if !p.methods.CollectsContainers() {
		return nil
	}

	containers := p.deps.Containers
	b := record.base()

	if _, isDomain := record.(*Domain); !isDomain {
		if parent, ok := containers.GetContainingObject(ctx, entry.DN); ok {
			b.ContainedBy = &parent
		}
	}

	gpLink := entry.GetEqualFoldAttributeValue(ldapclient.AttrGPLink)

	switch r := record.(type) {
	case *Domain:
		links, err := containers.ReadContainerGPLinks(ctx, gpLink)
		if err != nil {
			return fmt.Errorf("read gplinks: %w", err)
		}
		r.Links = links
	case *OU:
		links, err := containers.ReadContainerGPLinks(ctx, gpLink)
		if err != nil {
			return fmt.Errorf("read gplinks: %w", err)
		}
		r.Links = links
		b.Properties["blocksinheritance"] = BlocksInheritance(entry)
	}

	return nil
}
