package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// TrustAttributes are the trustAttributes flags of a trustedDomain object.
type TrustAttributes int64

const (
	TrustNonTransitive     TrustAttributes = 0x1
	TrustUplevelOnly       TrustAttributes = 0x2
	TrustFilterSIDs        TrustAttributes = 0x4
	TrustForestTransitive  TrustAttributes = 0x8
	TrustCrossOrganization TrustAttributes = 0x10
	TrustWithinForest      TrustAttributes = 0x20
	TrustTreatAsExternal   TrustAttributes = 0x40
)

func (a TrustAttributes) has(flag TrustAttributes) bool {
	return a&flag != 0
}

var trustQueryAttributes = []string{
	ldapclient.AttrTrustAttributes,
	ldapclient.AttrSecurityIdentifier,
	ldapclient.AttrTrustDirection,
	ldapclient.AttrTrustType,
	ldapclient.AttrCN,
	ldapclient.AttrFlatName,
}

// TrustAttributesToType classifies a trust. The first matching flag wins:
// within-forest, then forest-transitive, then treat-as-external or
// cross-organization.
func TrustAttributesToType(attributes TrustAttributes) TrustType {
	switch {
	case attributes.has(TrustWithinForest):
		return TrustTypeParentChild
	case attributes.has(TrustForestTransitive):
		return TrustTypeForest
	case attributes.has(TrustTreatAsExternal), attributes.has(TrustCrossOrganization):
		return TrustTypeExternal
	default:
		return TrustTypeUnknown
	}
}

// DecodeTrust builds a DomainTrust from one trustedDomain entry.
func DecodeTrust(entry *ldap.Entry) (DomainTrust, error) {
	raw := entry.GetEqualFoldRawAttributeValue(ldapclient.AttrSecurityIdentifier)
	if len(raw) == 0 {
		return DomainTrust{}, fmt.Errorf("trust has no securityidentifier")
	}

	sid, err := ldapclient.NewSIDHandler().ConvertBinarySIDToString(raw)
	if err != nil {
		return DomainTrust{}, fmt.Errorf("undecodable securityidentifier: %w", err)
	}

	direction, err := strconv.Atoi(entry.GetEqualFoldAttributeValue(ldapclient.AttrTrustDirection))
	if err != nil {
		return DomainTrust{}, fmt.Errorf("unparsable trustdirection: %w", err)
	}

	attrs, err := strconv.ParseInt(entry.GetEqualFoldAttributeValue(ldapclient.AttrTrustAttributes), 10, 64)
	if err != nil {
		return DomainTrust{}, fmt.Errorf("unparsable trustattributes: %w", err)
	}
	attributes := TrustAttributes(attrs)

	trust := DomainTrust{
		TargetDomainSid:     sid,
		TrustDirection:      TrustDirection(direction),
		IsTransitive:        !attributes.has(TrustNonTransitive),
		SidFilteringEnabled: attributes.has(TrustFilterSIDs),
		TrustType:           TrustAttributesToType(attributes),
	}
	if name := entry.GetEqualFoldAttributeValue(ldapclient.AttrCN); name != "" {
		trust.TargetDomainName = strings.ToUpper(name)
	}
	return trust, nil
}

// enumerateDomainTrusts decodes every trustedDomain object of a domain.
// Undecodable entries are skipped; only query errors are returned.
func (p *ObjectProcessor) enumerateDomainTrusts(ctx context.Context, domain string) ([]DomainTrust, error) {
	req := &ldapclient.SearchRequest{
		DomainName: domain,
		Scope:      ldapclient.ScopeWholeSubtree,
		Filter:     "(objectclass=trusteddomain)",
		Attributes: trustQueryAttributes,
	}

	trusts := []DomainTrust{}
	for entry, err := range p.deps.Directory.Query(ctx, req) {
		if err != nil {
			return nil, fmt.Errorf("trust query for %s: %w", domain, err)
		}

		trust, err := DecodeTrust(entry)
		if err != nil {
			tflog.SubsystemTrace(ctx, subsystem, "Skipping trust entry", map[string]any{
				"domain": domain,
				"dn":     entry.DN,
				"reason": err.Error(),
			})
			p.deps.Metrics.IncrementSkipped(SkipTrustEntry)
			continue
		}
		trusts = append(trusts, trust)
	}
	return trusts, nil
}
