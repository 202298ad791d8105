package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// Status sink task names.
const (
	TaskAvailability       = "ComputerAvailability"
	TaskDCRegistry         = "DCRegistry"
	TaskSessions           = "NetSessionEnum"
	TaskPrivilegedSessions = "NetWkstaUserEnum"
	TaskRegistrySessions   = "RegistrySessions"
	TaskUserRights         = "LSAEnumerateAccountsWithUserRight"
	TaskLocalGroups        = "SAMLocalGroups"
)

const statusSuccess = "Success"

// APIHostName returns the name used for remote calls to a computer. With a
// configured DNS suffix it is the upper-cased account name (or cn) joined to
// that suffix; otherwise it is the resolved display name.
func APIHostName(entry *ldap.Entry, resolved ResolvedEntry, realDNSName string) string {
	if realDNSName == "" {
		return resolved.DisplayName
	}

	name := strings.TrimSuffix(entry.GetEqualFoldAttributeValue(ldapclient.AttrSAMAccountName), "$")
	if name == "" {
		name = entry.GetEqualFoldAttributeValue(ldapclient.AttrCN)
	}
	return strings.ToUpper(name + "." + realDNSName)
}

func (p *ObjectProcessor) processComputer(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	computer := &Computer{
		Base:      newBase(resolved.ObjectID),
		IsDC:      resolved.IsDomainController,
		DomainSID: resolved.DomainSID,
	}
	computer.Properties["haslaps"] = ldapclient.HasLAPS(entry)

	if err := p.collectSkeleton(ctx, entry, resolved, computer); err != nil {
		return nil, err
	}

	if !p.methods.IsComputerCollectionSet() {
		return computer, nil
	}

	host := APIHostName(entry, resolved, p.cfg.RealDNSName)

	status, err := p.deps.Prober.Probe(ctx, host, entry)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", host, err)
	}
	computer.Status = &status
	p.deps.Metrics.IncrementProbe(status.Connectable)

	if !status.Connectable {
		tflog.SubsystemDebug(ctx, subsystem, "Computer not available", map[string]any{
			"host":  host,
			"error": status.Error,
		})
		p.reportStatus(ctx, resolved.DisplayName, TaskAvailability, status.Error)
		return computer, nil
	}
	p.reportStatus(ctx, resolved.DisplayName, TaskAvailability, statusSuccess)

	if err := p.collectComputerAPIData(ctx, entry, resolved, host, computer); err != nil {
		return nil, err
	}

	return computer, nil
}

// collectComputerAPIData runs the remote reads in their fixed order, each
// after a pacing delay.
func (p *ObjectProcessor) collectComputerAPIData(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry, host string, computer *Computer) error {
	name := resolved.DisplayName
	sid := resolved.ObjectID

	if p.methods.Has(MethodDCRegistry) && computer.IsDC {
		if err := p.deps.Waiter.Wait(ctx); err != nil {
			return err
		}
		mapping, err := p.deps.DCRegistry.GetCertificateMappingMethods(ctx, host)
		if err != nil {
			return fmt.Errorf("read certificate mapping methods: %w", err)
		}
		binding, err := p.deps.DCRegistry.GetStrongCertificateBindingEnforcement(ctx, host)
		if err != nil {
			return fmt.Errorf("read strong certificate binding enforcement: %w", err)
		}
		computer.DCRegistryData = &DCRegistryData{
			CertificateMappingMethods:           &mapping,
			StrongCertificateBindingEnforcement: &binding,
		}
		p.reportAPIResult(ctx, name, TaskDCRegistry, mapping.APIResult)
		p.reportAPIResult(ctx, name, TaskDCRegistry, binding.APIResult)
	}

	if p.methods.Has(MethodSession) {
		if err := p.deps.Waiter.Wait(ctx); err != nil {
			return err
		}
		sessions, err := p.deps.Sessions.ReadUserSessions(ctx, host, sid, resolved.Domain)
		if err != nil {
			return fmt.Errorf("read sessions: %w", err)
		}
		computer.Sessions = &sessions
		p.reportAPIResult(ctx, name, TaskSessions, sessions.APIResult)
	}

	if p.methods.Has(MethodLoggedOn) {
		if err := p.deps.Waiter.Wait(ctx); err != nil {
			return err
		}
		sam := strings.TrimSuffix(entry.GetEqualFoldAttributeValue(ldapclient.AttrSAMAccountName), "$")
		privileged, err := p.deps.Sessions.ReadPrivilegedSessions(ctx, name, sam, sid)
		if err != nil {
			return fmt.Errorf("read privileged sessions: %w", err)
		}
		computer.PrivilegedSessions = &privileged
		p.reportAPIResult(ctx, name, TaskPrivilegedSessions, privileged.APIResult)

		if !p.cfg.SkipRegistryLoggedOn {
			if err := p.deps.Waiter.Wait(ctx); err != nil {
				return err
			}
			registry, err := p.deps.Sessions.ReadRegistrySessions(ctx, host, resolved.Domain, sid)
			if err != nil {
				return fmt.Errorf("read registry sessions: %w", err)
			}
			computer.RegistrySessions = &registry
			p.reportAPIResult(ctx, name, TaskRegistrySessions, registry.APIResult)
		}
	}

	if p.methods.Has(MethodUserRights) {
		if err := p.deps.Waiter.Wait(ctx); err != nil {
			return err
		}
		rights, err := p.deps.UserRights.ReadUserRights(ctx, name, sid, resolved.Domain, computer.IsDC)
		if err != nil {
			return fmt.Errorf("read user rights: %w", err)
		}
		if rights == nil {
			rights = []UserRightsAssignmentAPIResult{}
		}
		computer.UserRights = rights
		for _, r := range rights {
			p.reportAPIResult(ctx, name, TaskUserRights, r.APIResult)
		}
	}

	if p.methods.IsLocalGroupCollectionSet() {
		if err := p.deps.Waiter.Wait(ctx); err != nil {
			return err
		}
		groups, err := p.deps.LocalGroups.ReadLocalGroups(ctx, name, sid, resolved.Domain, computer.IsDC)
		if err != nil {
			return fmt.Errorf("read local groups: %w", err)
		}
		if groups == nil {
			groups = []LocalGroupAPIResult{}
		}
		computer.LocalGroups = groups
		for _, g := range groups {
			p.reportAPIResult(ctx, name, TaskLocalGroups, g.APIResult)
		}
	}

	return nil
}

func (p *ObjectProcessor) reportAPIResult(ctx context.Context, computerName, task string, result APIResult) {
	if result.Collected {
		return
	}
	p.reportStatus(ctx, computerName, task, result.FailureReason)
}

func (p *ObjectProcessor) reportStatus(ctx context.Context, computerName, task, status string) {
	if p.deps.Status == nil {
		return
	}
	p.deps.Status.ComputerStatus(ctx, ComputerStatusEvent{
		ComputerName: computerName,
		Task:         task,
		Status:       status,
	})
}
