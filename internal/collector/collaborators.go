package collector

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// EntryResolver establishes the identity and label of a raw entry.
type EntryResolver interface {
	ResolveEntry(ctx context.Context, entry *ldap.Entry) (ResolvedEntry, bool)
}

// DirectoryQuerier runs directory searches. The returned sequence is single-pass.
type DirectoryQuerier interface {
	Query(ctx context.Context, req *ldapclient.SearchRequest) iter.Seq2[*ldap.Entry, error]
}

// NameResolver maps host and domain names onto security identifiers.
type NameResolver interface {
	ResolveHostToSID(ctx context.Context, host, domain string) (string, bool)
	GetForest(ctx context.Context, domain string) (string, bool)
	GetDomainSIDFromDomainName(ctx context.Context, domain string) (string, bool)
}

// AvailabilityProber decides whether a computer answers remote calls.
type AvailabilityProber interface {
	Probe(ctx context.Context, host string, entry *ldap.Entry) (ComputerStatus, error)
}

// SessionReader enumerates sessions on a computer. Per-host failures are
// reported through the result's Collected flag; a returned error is fatal.
type SessionReader interface {
	ReadUserSessions(ctx context.Context, host, computerSID, domain string) (SessionAPIResult, error)
	ReadPrivilegedSessions(ctx context.Context, host, samAccountName, computerSID string) (SessionAPIResult, error)
	ReadRegistrySessions(ctx context.Context, host, domain, computerSID string) (SessionAPIResult, error)
}

// LocalGroupReader enumerates local group membership on a computer.
type LocalGroupReader interface {
	ReadLocalGroups(ctx context.Context, host, computerSID, domain string, isDC bool) ([]LocalGroupAPIResult, error)
}

// UserRightsReader enumerates local privilege assignments on a computer.
type UserRightsReader interface {
	ReadUserRights(ctx context.Context, host, computerSID, domain string, isDC bool) ([]UserRightsAssignmentAPIResult, error)
}

// DCRegistryReader reads certificate binding settings from a domain controller.
type DCRegistryReader interface {
	GetCertificateMappingMethods(ctx context.Context, host string) (IntRegistryAPIResult, error)
	GetStrongCertificateBindingEnforcement(ctx context.Context, host string) (IntRegistryAPIResult, error)
}

// CARegistryReader reads configuration from an enterprise CA server.
type CARegistryReader interface {
	IsUserSpecifiesSanEnabled(ctx context.Context, host, caName string) (BoolRegistryAPIResult, error)
	ProcessEAPermissions(ctx context.Context, caName, domain, host, hostingComputerSID string) (EnrollmentAgentRegistryAPIResult, error)
	IsRoleSeparationEnabled(ctx context.Context, host, caName string) (BoolRegistryAPIResult, error)
	ProcessRegistryEnrollmentPermissions(ctx context.Context, caName, domain, host, hostingComputerSID string) (ACLRegistryAPIResult, error)
}

// GPOLocalGroupReader computes local group changes applied by linked GPOs.
type GPOLocalGroupReader interface {
	ReadGPOLocalGroups(ctx context.Context, gpLink, distinguishedName string) (*ResultingGPOChanges, error)
}

// SPNTargetReader resolves service principal names to reachable services.
// Implementations skip an SPN whose host or port cannot be resolved and never
// yield that failure as an error. A yielded error means the read as a whole
// failed, such as a cancelled context, and discards the user record.
type SPNTargetReader interface {
	ReadSPNTargets(ctx context.Context, spns []string, distinguishedName string) iter.Seq2[SPNPrivilege, error]
}

// CertTemplateResolver maps template names published by a CA onto objects.
type CertTemplateResolver interface {
	ResolveCertTemplates(ctx context.Context, names []string, domain string) (resolved []TypedPrincipal, unresolved []string)
}

// ACLProcessor extracts permissions from an entry's security descriptor.
type ACLProcessor interface {
	ProcessACL(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) ([]ACE, error)
	ProcessGMSAReaders(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) ([]ACE, error)
	IsACLProtected(entry *ldap.Entry) bool
	InheritanceHashes(entry *ldap.Entry) []string
}

// GroupMemberResolver resolves the members of a group.
type GroupMemberResolver interface {
	ReadGroupMembers(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) ([]TypedPrincipal, error)
}

// ContainerResolver resolves containment and GPO links.
type ContainerResolver interface {
	GetContainingObject(ctx context.Context, distinguishedName string) (TypedPrincipal, bool)
	ReadContainerGPLinks(ctx context.Context, gpLink string) ([]GPLink, error)
}

// UserProperties is the output of user property extraction.
type UserProperties struct {
	Props                   map[string]any
	AllowedToDelegate       []TypedPrincipal
	SIDHistory              []TypedPrincipal
	UnconstrainedDelegation bool
}

// ComputerProperties is the output of computer property extraction.
type ComputerProperties struct {
	Props                   map[string]any
	AllowedToDelegate       []TypedPrincipal
	AllowedToAct            []TypedPrincipal
	SIDHistory              []TypedPrincipal
	DumpSMSAPassword        []TypedPrincipal
	UnconstrainedDelegation bool
}

// IssuancePolicyProperties is the output of issuance policy extraction.
type IssuancePolicyProperties struct {
	Props     map[string]any
	GroupLink *TypedPrincipal
}

// PropertyExtractor turns raw attributes into record properties.
type PropertyExtractor interface {
	ReadUserProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (UserProperties, error)
	ReadComputerProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (ComputerProperties, error)
	ReadEnterpriseCAProperties(entry *ldap.Entry) map[string]any
	ReadIssuancePolicyProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (IssuancePolicyProperties, error)
	ReadProperties(label Label, entry *ldap.Entry) map[string]any
	ReadCertificateProperties(entry *ldap.Entry) map[string]any
	ParseAllProperties(entry *ldap.Entry) map[string]any
}

// StatusSink receives availability and remote read outcomes for computers.
type StatusSink interface {
	ComputerStatus(ctx context.Context, event ComputerStatusEvent)
}

// ComputerStatusEvent records one probe or remote read outcome.
type ComputerStatusEvent struct {
	ComputerName string
	Task         string
	Status       string
}

// Dependencies are the collaborators of an ObjectProcessor.
type Dependencies struct {
	Resolver       EntryResolver
	Directory      DirectoryQuerier
	Names          NameResolver
	Prober         AvailabilityProber
	Sessions       SessionReader
	LocalGroups    LocalGroupReader
	UserRights     UserRightsReader
	DCRegistry     DCRegistryReader
	CARegistry     CARegistryReader
	GPOLocalGroups GPOLocalGroupReader
	SPNTargets     SPNTargetReader
	CertTemplates  CertTemplateResolver
	ACLs           ACLProcessor
	Members        GroupMemberResolver
	Containers     ContainerResolver
	Properties     PropertyExtractor

	// Optional.
	Waiter  Waiter
	Status  StatusSink
	Metrics *Metrics
}

// Validate checks that every collaborator needed by methods is present.
func (d *Dependencies) Validate(methods CollectionMethod) error {
	var errs []error
	require := func(ok bool, name string, reason string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s is required %s", name, reason))
		}
	}

	require(d.Resolver != nil, "entry resolver", "to classify entries")
	require(d.Names != nil, "name resolver", "to resolve forest roots and hosts")

	require(d.Properties != nil || !(methods.CollectsProperties() || methods.Has(MethodCARegistry)),
		"property extractor", "when property or CA registry collection is enabled")
	require(d.ACLs != nil || !methods.CollectsACL(), "ACL processor", "when ACL collection is enabled")
	require(d.Members != nil || !methods.Has(MethodGroup), "group member resolver", "when group collection is enabled")
	require(d.Containers != nil || !methods.CollectsContainers(), "container resolver", "when container collection is enabled")
	require(d.Directory != nil || !methods.Has(MethodTrusts), "directory querier", "when trust collection is enabled")
	require(d.SPNTargets != nil || !methods.Has(MethodSPNTargets), "SPN target reader", "when SPN target collection is enabled")
	require(d.GPOLocalGroups != nil || !methods.Has(MethodGPOLocalGroup), "GPO local group reader", "when GPO local group collection is enabled")
	require(d.CARegistry != nil || !methods.Has(MethodCARegistry), "CA registry reader", "when CA registry collection is enabled")
	require(d.CertTemplates != nil || !methods.Has(MethodCertServices), "cert template resolver", "when cert services collection is enabled")
	require(d.Prober != nil || !methods.IsComputerCollectionSet(), "availability prober", "when computer collection is enabled")
	require(d.Sessions != nil || !methods.Any(MethodSession|MethodLoggedOn), "session reader", "when session collection is enabled")
	require(d.UserRights != nil || !methods.Has(MethodUserRights), "user rights reader", "when user rights collection is enabled")
	require(d.LocalGroups != nil || !methods.IsLocalGroupCollectionSet(), "local group reader", "when local group collection is enabled")
	require(d.DCRegistry != nil || !methods.Has(MethodDCRegistry), "DC registry reader", "when DC registry collection is enabled")

	return errors.Join(errs...)
}
