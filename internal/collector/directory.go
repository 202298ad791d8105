package collector

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

const certTemplatesContainer = "CN=Certificate Templates,CN=Public Key Services,CN=Services,"

// principalAttributes are read when a DN is resolved to a principal.
var principalAttributes = []string{
	ldapclient.AttrObjectClass,
	ldapclient.AttrObjectSID,
	ldapclient.AttrObjectGUID,
	ldapclient.AttrSAMAccountName,
	ldapclient.AttrDNSHostName,
	ldapclient.AttrUserAccountControl,
	ldapclient.AttrDisplayName,
	ldapclient.AttrName,
	ldapclient.AttrCN,
}

// DirectoryNameResolver answers name, principal, container and template
// lookups with directory searches. Lookups that fail or find nothing report false; search
// errors are logged, not returned. Wrap it in a CachingNameResolver to avoid
// repeating searches.
type DirectoryNameResolver struct {
	dir     DirectoryQuerier
	entries EntryResolver
	sids    *ldapclient.SIDHandler
	guids   *ldapclient.GUIDHandler
}

// NewDirectoryNameResolver returns a resolver searching dir. Found entries are
// identified with entries, or a DirectoryEntryResolver when nil.
func NewDirectoryNameResolver(dir DirectoryQuerier, entries EntryResolver) (*DirectoryNameResolver, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory querier cannot be nil")
	}
	if entries == nil {
		entries = NewDirectoryEntryResolver(nil)
	}
	return &DirectoryNameResolver{
		dir:     dir,
		entries: entries,
		sids:    ldapclient.NewSIDHandler(),
		guids:   ldapclient.NewGUIDHandler(),
	}, nil
}

// ResolveHostToSID finds the computer account whose DNS host name or SAM
// account name matches host.
func (r *DirectoryNameResolver) ResolveHostToSID(ctx context.Context, host, domain string) (string, bool) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", false
	}
	if ldapclient.HasSIDPrefix(host) {
		return strings.ToUpper(host), true
	}

	short, _, _ := strings.Cut(host, ".")
	filter := fmt.Sprintf("(&(samaccounttype=%d)(|(dnshostname=%s)(samaccountname=%s$)))",
		ldapclient.SAMAccountTypeMachine, ldap.EscapeFilter(host), ldap.EscapeFilter(short))

	entry, ok := r.first(ctx, &ldapclient.SearchRequest{
		DomainName: domain,
		Scope:      ldapclient.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{ldapclient.AttrObjectSID},
	})
	if !ok {
		return "", false
	}

	sid, err := r.sids.ExtractSID(entry, ldapclient.AttrObjectSID)
	if err != nil {
		return "", false
	}
	return sid, true
}

// GetForest returns the forest root domain when domain has a partition in
// the connected forest.
func (r *DirectoryNameResolver) GetForest(ctx context.Context, domain string) (string, bool) {
	rootDSE, ok := r.rootDSE(ctx)
	if !ok {
		return "", false
	}

	configNC := rootDSE.GetEqualFoldAttributeValue(ldapclient.AttrConfigurationNamingContext)
	rootNC := rootDSE.GetEqualFoldAttributeValue(ldapclient.AttrRootDomainNamingContext)
	if configNC == "" || rootNC == "" {
		return "", false
	}

	_, found := r.first(ctx, &ldapclient.SearchRequest{
		BaseDN:     "CN=Partitions," + configNC,
		Scope:      ldapclient.ScopeSingleLevel,
		Filter:     fmt.Sprintf("(&(objectclass=crossref)(dnsroot=%s)(netbiosname=*))", ldap.EscapeFilter(domain)),
		Attributes: []string{ldapclient.AttrDNSRoot},
	})
	if !found {
		return "", false
	}

	forest, err := ldapclient.DomainNameFromDN(rootNC)
	if err != nil {
		return "", false
	}
	return forest, true
}

// GetDomainSIDFromDomainName reads objectSid from the domain head.
func (r *DirectoryNameResolver) GetDomainSIDFromDomainName(ctx context.Context, domain string) (string, bool) {
	if domain == "" {
		return "", false
	}

	entry, ok := r.first(ctx, &ldapclient.SearchRequest{
		BaseDN:     ldapclient.DomainNameToDN(domain),
		Scope:      ldapclient.ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: []string{ldapclient.AttrObjectSID},
	})
	if !ok {
		return "", false
	}

	sid, err := r.sids.ExtractSID(entry, ldapclient.AttrObjectSID)
	if err != nil {
		return "", false
	}
	return sid, true
}

// ResolveDistinguishedName reads the object at distinguishedName and returns
// its identifier and label.
func (r *DirectoryNameResolver) ResolveDistinguishedName(ctx context.Context, distinguishedName string) (TypedPrincipal, bool) {
	if distinguishedName == "" {
		return TypedPrincipal{}, false
	}

	entry, ok := r.first(ctx, &ldapclient.SearchRequest{
		BaseDN:     distinguishedName,
		Scope:      ldapclient.ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: principalAttributes,
	})
	if !ok {
		return TypedPrincipal{}, false
	}

	resolved, ok := r.entries.ResolveEntry(ctx, entry)
	if !ok {
		return TypedPrincipal{}, false
	}
	return TypedPrincipal{ObjectIdentifier: resolved.ObjectID, ObjectType: resolved.ObjectType}, true
}

// ResolveCertTemplates looks up published template names in the forest's
// certificate template container. Names without a matching template are
// returned as unresolved, in input order.
func (r *DirectoryNameResolver) ResolveCertTemplates(ctx context.Context, names []string, domain string) ([]TypedPrincipal, []string) {
	if len(names) == 0 {
		return []TypedPrincipal{}, []string{}
	}

	rootDSE, ok := r.rootDSE(ctx)
	configNC := ""
	if ok {
		configNC = rootDSE.GetEqualFoldAttributeValue(ldapclient.AttrConfigurationNamingContext)
	}
	if configNC == "" {
		tflog.SubsystemDebug(ctx, subsystem, "No configuration partition, published templates left unresolved", map[string]any{
			"domain": domain,
		})
		return []TypedPrincipal{}, slices.Clone(names)
	}

	var filter strings.Builder
	filter.WriteString("(&(objectclass=pkicertificatetemplate)(|")
	for _, name := range names {
		fmt.Fprintf(&filter, "(name=%s)", ldap.EscapeFilter(name))
	}
	filter.WriteString("))")

	found := map[string]TypedPrincipal{}
	for entry, err := range r.dir.Query(ctx, &ldapclient.SearchRequest{
		BaseDN:     certTemplatesContainer + configNC,
		Scope:      ldapclient.ScopeSingleLevel,
		Filter:     filter.String(),
		Attributes: principalAttributes,
	}) {
		if err != nil {
			tflog.SubsystemDebug(ctx, subsystem, "Certificate template search failed", map[string]any{
				"domain": domain,
				"error":  err.Error(),
			})
			break
		}
		resolved, ok := r.entries.ResolveEntry(ctx, entry)
		if !ok {
			continue
		}
		name := entry.GetEqualFoldAttributeValue(ldapclient.AttrName)
		if name == "" {
			name = entry.GetEqualFoldAttributeValue(ldapclient.AttrCN)
		}
		found[strings.ToLower(name)] = TypedPrincipal{ObjectIdentifier: resolved.ObjectID, ObjectType: LabelCertTemplate}
	}

	templates := []TypedPrincipal{}
	unresolved := []string{}
	for _, name := range names {
		if t, ok := found[strings.ToLower(name)]; ok {
			templates = append(templates, t)
		} else {
			unresolved = append(unresolved, name)
		}
	}
	return templates, unresolved
}

// GetContainingObject resolves the parent of distinguishedName. Objects in
// the Builtin container belong to the domain itself.
func (r *DirectoryNameResolver) GetContainingObject(ctx context.Context, distinguishedName string) (TypedPrincipal, bool) {
	parent, err := ldapclient.GetDNParent(distinguishedName)
	if err != nil {
		return TypedPrincipal{}, false
	}

	if strings.HasPrefix(strings.ToUpper(parent), "CN=BUILTIN,") {
		domain, err := ldapclient.DomainNameFromDN(parent)
		if err != nil {
			return TypedPrincipal{}, false
		}
		sid, ok := r.GetDomainSIDFromDomainName(ctx, domain)
		if !ok {
			return TypedPrincipal{}, false
		}
		return TypedPrincipal{ObjectIdentifier: sid, ObjectType: LabelDomain}, true
	}

	return r.ResolveDistinguishedName(ctx, parent)
}

// gpLinkDisabled is the gPLink status bit of a disabled link.
const gpLinkDisabled = 1

// gpLinkEnforced is the gPLink status of an enabled, enforced link.
const gpLinkEnforced = 2

// ReadContainerGPLinks parses a gPLink value of the form
// "[LDAP://<gpo dn>;<status>]..." and resolves each enabled link to its
// policy GUID. Disabled, malformed and unresolvable links are skipped.
func (r *DirectoryNameResolver) ReadContainerGPLinks(ctx context.Context, gpLink string) ([]GPLink, error) {
	links := []GPLink{}

	for _, raw := range strings.Split(gpLink, "]") {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "[")
		if raw == "" {
			continue
		}

		path, statusText, ok := cutLast(raw, ";")
		if !ok {
			tflog.SubsystemTrace(ctx, subsystem, "Skipping malformed gPLink", map[string]any{"link": raw})
			continue
		}
		status, err := strconv.Atoi(statusText)
		if err != nil || status&gpLinkDisabled != 0 {
			continue
		}

		if len(path) >= len("LDAP://") && strings.EqualFold(path[:len("LDAP://")], "LDAP://") {
			path = path[len("LDAP://"):]
		}
		dn, err := ldapclient.NormalizeDNCase(path)
		if err != nil || dn == "" {
			tflog.SubsystemTrace(ctx, subsystem, "Skipping gPLink with invalid DN", map[string]any{"link": raw})
			continue
		}

		gpo, ok := r.ResolveDistinguishedName(ctx, dn)
		if !ok {
			continue
		}
		guid, err := r.guids.NormalizeGUID(gpo.ObjectIdentifier)
		if err != nil {
			continue
		}

		links = append(links, GPLink{GUID: guid, IsEnforced: status == gpLinkEnforced})
	}

	return links, nil
}

// cutLast slices s around the last instance of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func (r *DirectoryNameResolver) rootDSE(ctx context.Context) (*ldap.Entry, bool) {
	return r.first(ctx, &ldapclient.SearchRequest{
		RootDSE: true,
		Filter:  "(objectclass=*)",
		Attributes: []string{
			ldapclient.AttrRootDomainNamingContext,
			ldapclient.AttrConfigurationNamingContext,
		},
	})
}

// first returns the first entry of a search and stops the sequence.
func (r *DirectoryNameResolver) first(ctx context.Context, req *ldapclient.SearchRequest) (*ldap.Entry, bool) {
	for entry, err := range r.dir.Query(ctx, req) {
		if err != nil {
			fields := map[string]any{
				"base_dn": req.BaseDN,
				"filter":  req.Filter,
				"error":   err.Error(),
			}
			if ldapclient.IsNotFoundError(err) {
				tflog.SubsystemTrace(ctx, subsystem, "Directory object not found", fields)
			} else {
				tflog.SubsystemDebug(ctx, subsystem, "Directory lookup failed", fields)
			}
			return nil, false
		}
		return entry, true
	}
	return nil, false
}

// domainSIDCacheSize bounds the domain SIDs remembered by the default entry
// resolver.
const domainSIDCacheSize = 64

// LoggingContext registers the collector and directory client log
// subsystems on ctx.
func LoggingContext(ctx context.Context) context.Context {
	return ldapclient.NewSubsystemContext(ctx, subsystem, ldapclient.SubsystemLDAP, ldapclient.SubsystemKerberos)
}

// DirectoryDependencies wires the directory-backed collaborators around dir:
// entry resolution, name, principal and container lookups, template
// resolution and the attribute property extractor. Collaborators that need
// remote computer or security descriptor access are left for the caller.
func DirectoryDependencies(dir DirectoryQuerier) (Dependencies, error) {
	names, err := NewDirectoryNameResolver(dir, nil)
	if err != nil {
		return Dependencies{}, err
	}
	domains, err := NewCachingNameResolver(names, domainSIDCacheSize)
	if err != nil {
		return Dependencies{}, err
	}
	entries := NewDirectoryEntryResolver(domains)

	return Dependencies{
		Resolver:      entries,
		Directory:     dir,
		Names:         names,
		CertTemplates: names,
		Containers:    names,
		Properties:    NewAttributePropertyExtractor(names, names),
	}, nil
}
