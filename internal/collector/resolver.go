package collector

import (
	"context"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// objectClassLabels maps objectClass values onto labels. Entries are checked
// in order, so more specific classes come first. Managed service accounts
// also carry the computer class.
var objectClassLabels = []struct {
	class string
	label Label
}{
	{"msds-groupmanagedserviceaccount", LabelUser},
	{"msds-managedserviceaccount", LabelUser},
	{"computer", LabelComputer},
	{"user", LabelUser},
	{"group", LabelGroup},
	{"grouppolicycontainer", LabelGPO},
	{"domaindns", LabelDomain},
	{"organizationalunit", LabelOU},
	{"configuration", LabelConfiguration},
	{"pkicertificatetemplate", LabelCertTemplate},
	{"mspki-enterprise-oid", LabelIssuancePolicy},
	{"pkienrollmentservice", LabelEnterpriseCA},
	{"container", LabelContainer},
}

// accountDomainPrefix starts every SID issued by a domain. Builtin and well
// known SIDs carry no domain.
const accountDomainPrefix = "S-1-5-21-"

// DomainSIDResolver looks up the SID of a domain by its DNS name.
type DomainSIDResolver interface {
	GetDomainSIDFromDomainName(ctx context.Context, domain string) (string, bool)
}

// DirectoryEntryResolver establishes identity from an entry's own attributes.
// Entries without an account-domain SID take their domain SID from domains.
type DirectoryEntryResolver struct {
	sids    *ldapclient.SIDHandler
	guids   *ldapclient.GUIDHandler
	domains DomainSIDResolver
}

// NewDirectoryEntryResolver returns a resolver that asks domains for the SID of
// entries identified by GUID. With nil domains those entries have no domain SID.
func NewDirectoryEntryResolver(domains DomainSIDResolver) *DirectoryEntryResolver {
	return &DirectoryEntryResolver{
		sids:    ldapclient.NewSIDHandler(),
		guids:   ldapclient.NewGUIDHandler(),
		domains: domains,
	}
}

// ResolveEntry reports false when the entry has neither a SID nor a GUID or
// lies outside any domain.
func (r *DirectoryEntryResolver) ResolveEntry(ctx context.Context, entry *ldap.Entry) (ResolvedEntry, bool) {
	if entry == nil || entry.DN == "" {
		return ResolvedEntry{}, false
	}

	domain, err := ldapclient.DomainNameFromDN(entry.DN)
	if err != nil {
		tflog.SubsystemTrace(ctx, subsystem, "Entry has no domain", map[string]any{"dn": entry.DN})
		return ResolvedEntry{}, false
	}

	label := LabelForEntry(entry)

	resolved := ResolvedEntry{
		ObjectType: label,
		Domain:     domain,
	}

	if sid, err := r.sids.ExtractSID(entry, ldapclient.AttrObjectSID); err == nil {
		resolved.ObjectID = sid
		switch {
		case label == LabelDomain:
			resolved.DomainSID = sid
		case strings.HasPrefix(sid, accountDomainPrefix):
			resolved.DomainSID, _ = ldapclient.DomainSIDFromSID(sid)
		}
	} else {
		guid, err := r.guids.ExtractGUID(entry)
		if err != nil {
			return ResolvedEntry{}, false
		}
		resolved.ObjectID = guid
	}

	if resolved.DomainSID == "" && r.domains != nil {
		if sid, ok := r.domains.GetDomainSIDFromDomainName(ctx, domain); ok {
			resolved.DomainSID = sid
		}
	}

	resolved.DisplayName = displayName(entry, label, domain)

	if label == LabelComputer {
		if flags, ok := ldapclient.EntryAccountFlags(entry); ok {
			resolved.IsDomainController = flags.ServerTrust
		}
	}

	return resolved, true
}

// LabelForEntry classifies an entry from its objectClass and location.
func LabelForEntry(entry *ldap.Entry) Label {
	lowerDN := strings.ToLower(entry.DN)

	if ldapclient.HasObjectClass(entry, "certificationauthority") {
		switch {
		case strings.Contains(lowerDN, "cn=ntauthcertificates,"):
			return LabelNTAuthStore
		case strings.Contains(lowerDN, "cn=certification authorities,"):
			return LabelRootCA
		case strings.Contains(lowerDN, "cn=aia,"):
			return LabelAIACA
		}
		return LabelBase
	}

	for _, m := range objectClassLabels {
		if ldapclient.HasObjectClass(entry, m.class) {
			return m.label
		}
	}
	return LabelBase
}

// displayName builds NAME@DOMAIN for principals and the upper-case domain for
// domain heads. Computers use their DNS host name when set.
func displayName(entry *ldap.Entry, label Label, domain string) string {
	switch label {
	case LabelDomain:
		return domain
	case LabelComputer:
		if host := entry.GetEqualFoldAttributeValue(ldapclient.AttrDNSHostName); host != "" {
			return strings.ToUpper(host)
		}
		name := strings.TrimSuffix(entry.GetEqualFoldAttributeValue(ldapclient.AttrSAMAccountName), "$")
		if name == "" {
			name = entry.GetEqualFoldAttributeValue(ldapclient.AttrCN)
		}
		return strings.ToUpper(name + "." + domain)
	case LabelUser, LabelGroup:
		if sam := entry.GetEqualFoldAttributeValue(ldapclient.AttrSAMAccountName); sam != "" {
			return strings.ToUpper(sam + "@" + domain)
		}
	case LabelGPO:
		if name := entry.GetEqualFoldAttributeValue(ldapclient.AttrDisplayName); name != "" {
			return strings.ToUpper(name + "@" + domain)
		}
	}

	name := entry.GetEqualFoldAttributeValue(ldapclient.AttrName)
	if name == "" {
		name = entry.GetEqualFoldAttributeValue(ldapclient.AttrCN)
	}
	if name == "" {
		name, _ = ldapclient.ExtractRDNValue(entry.DN, "OU")
	}
	return strings.ToUpper(name + "@" + domain)
}
