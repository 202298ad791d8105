package collector

import (
	"context"
	"crypto/sha1" //nolint:gosec // certificate thumbprints are SHA-1 by definition
	"crypto/x509"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// PrincipalResolver maps a distinguished name onto a directory object.
type PrincipalResolver interface {
	ResolveDistinguishedName(ctx context.Context, distinguishedName string) (TypedPrincipal, bool)
}

// functionalLevels names the values of msDS-Behavior-Version.
var functionalLevels = map[int64]string{
	0:  "2000 Mixed/Native",
	1:  "2003 Interim",
	2:  "2003",
	3:  "2008",
	4:  "2008 R2",
	5:  "2012",
	6:  "2012 R2",
	7:  "2016",
	10: "2025",
}

// binaryAttributes are never copied by ParseAllProperties.
var binaryAttributes = []string{
	ldapclient.AttrObjectSID,
	ldapclient.AttrObjectGUID,
	ldapclient.AttrSIDHistory,
	ldapclient.AttrSecurityIdentifier,
	ldapclient.AttrCACertificate,
	ldapclient.AttrAllowedToActOnBehalf,
	ldapclient.AttrGroupMSAMembership,
	"ntsecuritydescriptor",
	"usercertificate",
	"logonhours",
	"msexchmailboxguid",
	"msexchmailboxsecuritydescriptor",
	"pkiexpirationperiod",
	"pkioverlapperiod",
	"pkikusage",
	"pkicriticalextensions",
	"pkidefaultcsps",
	"replpropertymetadata",
	"dsasignature",
	"thumbnailphoto",
	"msds-generationid",
}

// AttributePropertyExtractor is the default PropertyExtractor. It reads only
// the entry's own attributes; delegation targets and linked objects are
// resolved through the optional Names and Principals collaborators and are
// left empty without them.
type AttributePropertyExtractor struct {
	Names      NameResolver
	Principals PrincipalResolver

	sids *ldapclient.SIDHandler
}

// NewAttributePropertyExtractor returns an extractor using the given
// resolvers. Either may be nil.
func NewAttributePropertyExtractor(names NameResolver, principals PrincipalResolver) *AttributePropertyExtractor {
	return &AttributePropertyExtractor{
		Names:      names,
		Principals: principals,
		sids:       ldapclient.NewSIDHandler(),
	}
}

func (e *AttributePropertyExtractor) ReadUserProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (UserProperties, error) {
	props := commonProperties(entry)
	flags, ok := ldapclient.EntryAccountFlags(entry)
	if ok {
		props["enabled"] = flags.Enabled
		props["pwdneverexpires"] = flags.PasswordNeverExpires
		props["passwordnotreqd"] = flags.PasswordNotRequired
		props["dontreqpreauth"] = flags.DontRequirePreauth
		props["sensitive"] = flags.Sensitive
		props["unconstraineddelegation"] = flags.UnconstrainedDelegation
		props["trustedtoauth"] = flags.TrustedToAuth
		props["smartcardrequired"] = flags.SmartcardRequired
		props["usedeskeyonly"] = flags.UseDESKeyOnly
		props["encryptedtextpwdallowed"] = flags.EncryptedTextPwdAllowed
	}

	props["lastlogon"] = ldapclient.ADTimestampToUnix(entry, ldapclient.AttrLastLogon)
	props["lastlogontimestamp"] = ldapclient.ADTimestampToUnix(entry, ldapclient.AttrLastLogonTimestamp)
	props["pwdlastset"] = ldapclient.ADTimestampToUnix(entry, ldapclient.AttrPwdLastSet)
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrDisplayName); v != "" {
		props["displayname"] = v
	}
	props["admincount"] = entry.GetEqualFoldAttributeValue(ldapclient.AttrAdminCount) == "1"

	spns := entry.GetEqualFoldAttributeValues(ldapclient.AttrServicePrincipalName)
	props["serviceprincipalnames"] = nonNil(spns)
	props["hasspn"] = len(spns) > 0
	setEncryptionTypes(props, entry)

	delegates := entry.GetEqualFoldAttributeValues(ldapclient.AttrAllowedToDelegateTo)
	props["allowedtodelegate"] = nonNil(delegates)

	history := e.sidHistory(entry)
	props["sidhistory"] = principalIDs(history)

	return UserProperties{
		Props:                   props,
		AllowedToDelegate:       e.resolveDelegationTargets(ctx, delegates, resolved.Domain),
		SIDHistory:              history,
		UnconstrainedDelegation: ok && flags.UnconstrainedDelegation,
	}, nil
}

func (e *AttributePropertyExtractor) ReadComputerProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (ComputerProperties, error) {
	props := commonProperties(entry)
	flags, ok := ldapclient.EntryAccountFlags(entry)
	if ok {
		props["enabled"] = flags.Enabled
		props["unconstraineddelegation"] = flags.UnconstrainedDelegation
		props["trustedtoauth"] = flags.TrustedToAuth
		props["isdc"] = flags.ServerTrust
	}

	if os := entry.GetEqualFoldAttributeValue(ldapclient.AttrOperatingSystem); os != "" {
		if sp := entry.GetEqualFoldAttributeValue(ldapclient.AttrOperatingSystemSP); sp != "" {
			os += " " + sp
		}
		props["operatingsystem"] = os
	}

	props["lastlogon"] = ldapclient.ADTimestampToUnix(entry, ldapclient.AttrLastLogon)
	props["lastlogontimestamp"] = ldapclient.ADTimestampToUnix(entry, ldapclient.AttrLastLogonTimestamp)
	props["pwdlastset"] = ldapclient.ADTimestampToUnix(entry, ldapclient.AttrPwdLastSet)
	props["serviceprincipalnames"] = nonNil(entry.GetEqualFoldAttributeValues(ldapclient.AttrServicePrincipalName))
	setEncryptionTypes(props, entry)

	delegates := entry.GetEqualFoldAttributeValues(ldapclient.AttrAllowedToDelegateTo)
	props["allowedtodelegate"] = nonNil(delegates)

	history := e.sidHistory(entry)
	props["sidhistory"] = principalIDs(history)

	return ComputerProperties{
		Props:                   props,
		AllowedToDelegate:       e.resolveDelegationTargets(ctx, delegates, resolved.Domain),
		AllowedToAct:            []TypedPrincipal{},
		SIDHistory:              history,
		DumpSMSAPassword:        e.resolveDNs(ctx, entry.GetEqualFoldAttributeValues(ldapclient.AttrHostServiceAccount)),
		UnconstrainedDelegation: ok && flags.UnconstrainedDelegation,
	}, nil
}

func (e *AttributePropertyExtractor) ReadEnterpriseCAProperties(entry *ldap.Entry) map[string]any {
	props := commonProperties(entry)
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrName); v != "" {
		props["caname"] = v
	}
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrDNSHostName); v != "" {
		props["dnshostname"] = v
	}
	if flags, ok := ldapclient.IntAttribute(entry, ldapclient.AttrCAFlags); ok {
		props["flags"] = flags
	}
	return props
}

func (e *AttributePropertyExtractor) ReadIssuancePolicyProperties(ctx context.Context, entry *ldap.Entry, _ ResolvedEntry) (IssuancePolicyProperties, error) {
	props := commonProperties(entry)
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrDisplayName); v != "" {
		props["displayname"] = v
	}
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrCertTemplateOID); v != "" {
		props["certtemplateoid"] = v
	}

	result := IssuancePolicyProperties{Props: props}
	if link := entry.GetEqualFoldAttributeValue(ldapclient.AttrOIDGroupLink); link != "" {
		props["oidgrouplink"] = strings.ToUpper(link)
		if e.Principals != nil {
			if group, ok := e.Principals.ResolveDistinguishedName(ctx, link); ok {
				result.GroupLink = &group
			}
		}
	}
	return result, nil
}

func (e *AttributePropertyExtractor) ReadProperties(label Label, entry *ldap.Entry) map[string]any {
	props := commonProperties(entry)

	switch label {
	case LabelGroup:
		props["admincount"] = entry.GetEqualFoldAttributeValue(ldapclient.AttrAdminCount) == "1"
		if gt, ok := ldapclient.IntAttribute(entry, ldapclient.AttrGroupType); ok {
			scope, category := ldapclient.ParseGroupType(int32(gt))
			props["groupscope"] = string(scope)
			props["groupcategory"] = string(category)
		}
	case LabelGPO:
		if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrGPCFileSysPath); v != "" {
			props["gpcpath"] = strings.ToUpper(v)
		}
	case LabelDomain:
		level := "Unknown"
		if v, ok := ldapclient.IntAttribute(entry, ldapclient.AttrDomainFunctionality); ok {
			if name, known := functionalLevels[v]; known {
				level = name
			}
		}
		props["functionallevel"] = level
	case LabelCertTemplate:
		readCertTemplateProperties(props, entry)
	case LabelRootCA, LabelAIACA, LabelNTAuthStore:
		maps.Copy(props, e.ReadCertificateProperties(entry))
	}

	return props
}

// ReadCertificateProperties describes the certificates in cACertificate.
// Undecodable certificates are skipped.
func (e *AttributePropertyExtractor) ReadCertificateProperties(entry *ldap.Entry) map[string]any {
	props := map[string]any{}
	raw := entry.GetEqualFoldRawAttributeValues(ldapclient.AttrCACertificate)
	if len(raw) == 0 {
		return props
	}

	thumbprints := make([]string, 0, len(raw))
	var first *x509.Certificate
	for _, der := range raw {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		sum := sha1.Sum(der) //nolint:gosec
		thumbprints = append(thumbprints, strings.ToUpper(hex.EncodeToString(sum[:])))
		if first == nil {
			first = cert
		}
	}

	props["certthumbprints"] = thumbprints
	if first == nil {
		return props
	}

	props["certthumbprint"] = thumbprints[0]
	props["certname"] = first.Subject.CommonName
	props["hasbasicconstraints"] = first.BasicConstraintsValid
	pathLength := 0
	if first.BasicConstraintsValid && (first.MaxPathLen > 0 || first.MaxPathLenZero) {
		pathLength = first.MaxPathLen
	}
	props["basicconstraintpathlength"] = pathLength
	return props
}

// ParseAllProperties copies every textual attribute. Multi-valued attributes
// become string slices.
func (e *AttributePropertyExtractor) ParseAllProperties(entry *ldap.Entry) map[string]any {
	props := map[string]any{}
	for _, attr := range entry.Attributes {
		name := strings.ToLower(attr.Name)
		if slices.Contains(binaryAttributes, name) || len(attr.Values) == 0 {
			continue
		}

		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			if utf8.ValidString(v) {
				values = append(values, v)
			}
		}
		switch len(values) {
		case 0:
			continue
		case 1:
			props[name] = values[0]
		default:
			props[name] = values
		}
	}
	return props
}

func commonProperties(entry *ldap.Entry) map[string]any {
	props := map[string]any{}
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrDescription); v != "" {
		props["description"] = v
	}
	props["whencreated"] = ldapclient.GeneralizedTimeToUnix(entry, ldapclient.AttrWhenCreated)
	return props
}

func readCertTemplateProperties(props map[string]any, entry *ldap.Entry) {
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrDisplayName); v != "" {
		props["displayname"] = v
	}
	if v := entry.GetEqualFoldAttributeValue(ldapclient.AttrCertTemplateOID); v != "" {
		props["oid"] = v
	}
	for key, attr := range map[string]string{
		"schemaversion":        ldapclient.AttrTemplateSchemaVersion,
		"certificatenameflag":  ldapclient.AttrCertificateNameFlag,
		"enrollmentflag":       ldapclient.AttrEnrollmentFlag,
		"authorizedsignatures": ldapclient.AttrRASignature,
	} {
		if v, ok := ldapclient.IntAttribute(entry, attr); ok {
			props[key] = v
		}
	}
	props["ekus"] = nonNil(entry.GetEqualFoldAttributeValues(ldapclient.AttrExtendedKeyUsage))
	props["certificateapplicationpolicy"] = nonNil(entry.GetEqualFoldAttributeValues(ldapclient.AttrCertificateApplication))
}

func setEncryptionTypes(props map[string]any, entry *ldap.Entry) {
	if v, ok := ldapclient.IntAttribute(entry, ldapclient.AttrSupportedEncryptionType); ok {
		props["supportedencryptiontypes"] = v
	}
}

func (e *AttributePropertyExtractor) sidHistory(entry *ldap.Entry) []TypedPrincipal {
	sids := e.sids.ExtractSIDs(entry, ldapclient.AttrSIDHistory)
	history := make([]TypedPrincipal, 0, len(sids))
	for _, sid := range sids {
		history = append(history, TypedPrincipal{ObjectIdentifier: sid, ObjectType: LabelBase})
	}
	return history
}

// resolveDelegationTargets maps "service/host[:port][/name]" SPNs onto computer SIDs.
func (e *AttributePropertyExtractor) resolveDelegationTargets(ctx context.Context, spns []string, domain string) []TypedPrincipal {
	targets := []TypedPrincipal{}
	if e.Names == nil {
		return targets
	}

	seen := map[string]bool{}
	for _, spn := range spns {
		host := SPNHost(spn)
		if host == "" {
			continue
		}
		sid, ok := e.Names.ResolveHostToSID(ctx, host, domain)
		if !ok || !ldapclient.HasSIDPrefix(sid) || seen[sid] {
			continue
		}
		seen[sid] = true
		targets = append(targets, TypedPrincipal{ObjectIdentifier: sid, ObjectType: LabelComputer})
	}
	return targets
}

func (e *AttributePropertyExtractor) resolveDNs(ctx context.Context, dns []string) []TypedPrincipal {
	principals := []TypedPrincipal{}
	if e.Principals == nil {
		return principals
	}
	for _, dn := range dns {
		if p, ok := e.Principals.ResolveDistinguishedName(ctx, dn); ok {
			principals = append(principals, p)
		}
	}
	return principals
}

// SPNHost returns the host part of a service principal name, or "".
func SPNHost(spn string) string {
	_, rest, found := strings.Cut(spn, "/")
	if !found || rest == "" {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	if h, port, ok := strings.Cut(host, ":"); ok {
		if _, err := strconv.Atoi(port); err == nil {
			host = h
		}
	}
	return host
}

func principalIDs(principals []TypedPrincipal) []string {
	ids := make([]string, 0, len(principals))
	for _, p := range principals {
		ids = append(ids, p.ObjectIdentifier)
	}
	return ids
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
