package collector

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// collectProperties writes the common properties and, when enabled, the
// output of the variant's property extractor.
func (p *ObjectProcessor) collectProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, record Record) error {
	props := record.base().Properties

	props["domain"] = resolved.Domain
	props["name"] = resolved.DisplayName
	props["distinguishedname"] = strings.ToUpper(entry.DN)
	if resolved.DomainSID != "" {
		props["domainsid"] = resolved.DomainSID
	}
	if sam := entry.GetEqualFoldAttributeValue(ldapclient.AttrSAMAccountName); sam != "" {
		props["samaccountname"] = sam
	}

	if !p.methods.CollectsProperties() {
		return nil
	}

	extractor := p.deps.Properties

	switch r := record.(type) {
	case *User:
		up, err := extractor.ReadUserProperties(ctx, entry, resolved)
		if err != nil {
			return fmt.Errorf("user properties: %w", err)
		}
		maps.Copy(props, up.Props)
		r.AllowedToDelegate = up.AllowedToDelegate
		r.HasSIDHistory = up.SIDHistory
		r.UnconstrainedDelegation = up.UnconstrainedDelegation
	case *Computer:
		cp, err := extractor.ReadComputerProperties(ctx, entry, resolved)
		if err != nil {
			return fmt.Errorf("computer properties: %w", err)
		}
		maps.Copy(props, cp.Props)
		r.AllowedToDelegate = cp.AllowedToDelegate
		r.AllowedToAct = cp.AllowedToAct
		r.HasSIDHistory = cp.SIDHistory
		r.DumpSMSAPassword = cp.DumpSMSAPassword
		r.UnconstrainedDelegation = cp.UnconstrainedDelegation
	case *EnterpriseCA:
		maps.Copy(props, extractor.ReadEnterpriseCAProperties(entry))
	case *IssuancePolicy:
		ip, err := extractor.ReadIssuancePolicyProperties(ctx, entry, resolved)
		if err != nil {
			return fmt.Errorf("issuance policy properties: %w", err)
		}
		maps.Copy(props, ip.Props)
		r.GroupLink = ip.GroupLink
	default:
		maps.Copy(props, extractor.ReadProperties(record.Label(), entry))
	}

	if p.cfg.CollectAllProperties {
		for k, v := range extractor.ParseAllProperties(entry) {
			if _, exists := props[k]; !exists {
				props[k] = v
			}
		}
	}

	return nil
}
