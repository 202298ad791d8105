package collector

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

const (
	classManagedServiceAccount      = "msds-managedserviceaccount"
	classGroupManagedServiceAccount = "msds-groupmanagedserviceaccount"
)

// collectSkeleton runs the shared collectors in their fixed order.
func (p *ObjectProcessor) collectSkeleton(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, record Record) error {
	if err := p.collectProperties(ctx, entry, resolved, record); err != nil {
		return err
	}
	if err := p.collectACL(ctx, entry, resolved, record); err != nil {
		return err
	}
	switch record.(type) {
	case *User, *Computer, *Group:
		if err := p.collectGroupData(ctx, entry, resolved, record); err != nil {
			return err
		}
	}
	return p.collectContainerData(ctx, entry, record)
}

func (p *ObjectProcessor) processUser(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	user := &User{
		Base:      newBase(resolved.ObjectID),
		DomainSID: resolved.DomainSID,
	}
	user.Properties["msa"] = ldapclient.HasObjectClass(entry, classManagedServiceAccount)
	user.Properties["gmsa"] = ldapclient.HasObjectClass(entry, classGroupManagedServiceAccount)

	if err := p.collectSkeleton(ctx, entry, resolved, user); err != nil {
		return nil, err
	}

	if p.methods.Has(MethodSPNTargets) {
		spns := entry.GetEqualFoldAttributeValues(ldapclient.AttrServicePrincipalName)
		targets := []SPNPrivilege{}
		for target, err := range p.deps.SPNTargets.ReadSPNTargets(ctx, spns, entry.DN) {
			if err != nil {
				return nil, fmt.Errorf("read SPN targets: %w", err)
			}
			targets = append(targets, target)
		}
		user.SPNTargets = targets
	}

	return user, nil
}

func (p *ObjectProcessor) processGroup(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	group := &Group{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (p *ObjectProcessor) processGPO(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	gpo := &GPO{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, gpo); err != nil {
		return nil, err
	}
	return gpo, nil
}

func (p *ObjectProcessor) processOU(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	ou := &OU{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, ou); err != nil {
		return nil, err
	}

	if p.methods.Has(MethodGPOLocalGroup) {
		changes, err := p.readGPOChanges(ctx, entry)
		if err != nil {
			return nil, err
		}
		ou.GPOChanges = changes
	}

	return ou, nil
}

func (p *ObjectProcessor) processContainer(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	container := &Container{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, container); err != nil {
		return nil, err
	}
	return container, nil
}

func (p *ObjectProcessor) processCertTemplate(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	template := &CertTemplate{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, template); err != nil {
		return nil, err
	}
	return template, nil
}

func (p *ObjectProcessor) processRootCA(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	ca := &RootCA{
		Base:      newBase(resolved.ObjectID),
		DomainSID: resolved.DomainSID,
	}
	if err := p.collectSkeleton(ctx, entry, resolved, ca); err != nil {
		return nil, err
	}
	return ca, nil
}

func (p *ObjectProcessor) processAIACA(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	ca := &AIACA{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, ca); err != nil {
		return nil, err
	}
	return ca, nil
}

func (p *ObjectProcessor) processNTAuthStore(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	store := &NTAuthStore{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, store); err != nil {
		return nil, err
	}
	return store, nil
}

func (p *ObjectProcessor) processIssuancePolicy(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	policy := &IssuancePolicy{Base: newBase(resolved.ObjectID)}
	if err := p.collectSkeleton(ctx, entry, resolved, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// readGPOChanges reads the local group changes applied through the entry's gPLink.
func (p *ObjectProcessor) readGPOChanges(ctx context.Context, entry *ldap.Entry) (*ResultingGPOChanges, error) {
	gpLink := entry.GetEqualFoldAttributeValue(ldapclient.AttrGPLink)
	changes, err := p.deps.GPOLocalGroups.ReadGPOLocalGroups(ctx, gpLink, entry.DN)
	if err != nil {
		return nil, fmt.Errorf("read GPO local groups: %w", err)
	}
	return changes, nil
}
