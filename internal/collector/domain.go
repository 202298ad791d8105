package collector

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

func (p *ObjectProcessor) processDomain(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	domain := &Domain{Base: newBase(resolved.ObjectID)}

	if err := p.collectSkeleton(ctx, entry, resolved, domain); err != nil {
		return nil, err
	}

	domain.ForestRootIdentifier = p.forestRootSID(ctx, resolved.Domain)

	if p.methods.Has(MethodTrusts) {
		trusts, err := p.enumerateDomainTrusts(ctx, resolved.Domain)
		if err != nil {
			return nil, err
		}
		domain.Trusts = trusts
	}

	if p.methods.Has(MethodGPOLocalGroup) {
		changes, err := p.readGPOChanges(ctx, entry)
		if err != nil {
			return nil, err
		}
		domain.GPOChanges = changes
	}

	return domain, nil
}

// forestRootSID resolves the SID of the forest root domain, or "" when
// either lookup fails.
func (p *ObjectProcessor) forestRootSID(ctx context.Context, domain string) string {
	forest, ok := p.deps.Names.GetForest(ctx, domain)
	if !ok || forest == "" {
		tflog.SubsystemTrace(ctx, subsystem, "Unable to resolve forest", map[string]any{"domain": domain})
		return ""
	}

	sid, ok := p.deps.Names.GetDomainSIDFromDomainName(ctx, forest)
	if !ok {
		tflog.SubsystemTrace(ctx, subsystem, "Unable to resolve forest root SID", map[string]any{"forest": forest})
		return ""
	}
	return sid
}
