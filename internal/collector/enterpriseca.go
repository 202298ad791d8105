package collector

import (
	"context"
	"fmt"
	"maps"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

func (p *ObjectProcessor) processEnterpriseCA(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	ca := &EnterpriseCA{Base: newBase(resolved.ObjectID)}

	if err := p.collectSkeleton(ctx, entry, resolved, ca); err != nil {
		return nil, err
	}

	if p.methods.Has(MethodCertServices) {
		p.collectPublishedTemplates(ctx, entry, resolved, ca)
	}

	if p.methods.Has(MethodCARegistry) {
		if err := p.collectCARegistry(ctx, entry, resolved, ca); err != nil {
			return nil, err
		}
	}

	return ca, nil
}

func (p *ObjectProcessor) collectPublishedTemplates(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, ca *EnterpriseCA) {
	names := entry.GetEqualFoldAttributeValues(ldapclient.AttrCertificateTemplates)
	resolvedTemplates, unresolved := p.deps.CertTemplates.ResolveCertTemplates(ctx, names, resolved.Domain)
	if resolvedTemplates == nil {
		resolvedTemplates = []TypedPrincipal{}
	}
	if unresolved == nil {
		unresolved = []string{}
	}
	ca.EnabledCertTemplates = resolvedTemplates
	ca.Properties["unresolvedpublishedtemplates"] = unresolved
}

func (p *ObjectProcessor) collectCARegistry(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, ca *EnterpriseCA) error {
	props := ca.Properties
	maps.Copy(props, p.deps.Properties.ReadCertificateProperties(entry))

	host := entry.GetEqualFoldAttributeValue(ldapclient.AttrDNSHostName)
	caName := entry.GetEqualFoldAttributeValue(ldapclient.AttrName)
	if caName == "" {
		caName = entry.GetEqualFoldAttributeValue(ldapclient.AttrCN)
	}

	if host != "" {
		if sid, ok := p.deps.Names.ResolveHostToSID(ctx, host, resolved.Domain); ok && ldapclient.HasSIDPrefix(sid) {
			ca.HostingComputer = sid
		} else {
			tflog.SubsystemWarn(ctx, subsystem, "Unable to resolve hosting computer for enterprise CA", map[string]any{
				"ca":   caName,
				"host": host,
				"sid":  sid,
			})
		}
	}

	props["casecuritycollected"] = false
	props["enrollmentagentrestrictionscollected"] = false
	props["isuserspecifiessanenabledcollected"] = false
	props["roleseparationenabledcollected"] = false

	if caName == "" || host == "" {
		return nil
	}

	registry := p.deps.CARegistry
	data := &CARegistryData{}

	san, err := registry.IsUserSpecifiesSanEnabled(ctx, host, caName)
	if err != nil {
		return fmt.Errorf("read SAN flag: %w", err)
	}
	data.IsUserSpecifiesSanEnabled = san

	agents, err := registry.ProcessEAPermissions(ctx, caName, resolved.Domain, host, ca.HostingComputer)
	if err != nil {
		return fmt.Errorf("read enrollment agent restrictions: %w", err)
	}
	data.EnrollmentAgentRestrictions = agents

	separation, err := registry.IsRoleSeparationEnabled(ctx, host, caName)
	if err != nil {
		return fmt.Errorf("read role separation: %w", err)
	}
	data.RoleSeparationEnabled = separation

	security, err := registry.ProcessRegistryEnrollmentPermissions(ctx, caName, resolved.Domain, host, ca.HostingComputer)
	if err != nil {
		return fmt.Errorf("read CA security: %w", err)
	}
	data.CASecurity = security

	ca.CARegistryData = data
	props["casecuritycollected"] = security.Collected
	props["enrollmentagentrestrictionscollected"] = agents.Collected
	props["isuserspecifiessanenabledcollected"] = san.Collected
	props["roleseparationenabledcollected"] = separation.Collected

	return nil
}
