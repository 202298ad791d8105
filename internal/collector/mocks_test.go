package collector

import (
	"context"
	"encoding/binary"
	"iter"
	"sync"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// MockEntryResolver implements EntryResolver for testing.
type MockEntryResolver struct {
	mock.Mock
}

func (m *MockEntryResolver) ResolveEntry(ctx context.Context, entry *ldap.Entry) (ResolvedEntry, bool) {
	args := m.Called(ctx, entry)
	return args.Get(0).(ResolvedEntry), args.Bool(1)
}

// MockDirectoryQuerier yields the configured entries followed by the configured error.
type MockDirectoryQuerier struct {
	mock.Mock
}

func (m *MockDirectoryQuerier) Query(ctx context.Context, req *ldapclient.SearchRequest) iter.Seq2[*ldap.Entry, error] {
	args := m.Called(ctx, req)
	entries, _ := args.Get(0).([]*ldap.Entry)
	err := args.Error(1)
	return func(yield func(*ldap.Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

type MockNameResolver struct {
	mock.Mock
}

func (m *MockNameResolver) ResolveHostToSID(ctx context.Context, host, domain string) (string, bool) {
	args := m.Called(ctx, host, domain)
	return args.String(0), args.Bool(1)
}

func (m *MockNameResolver) GetForest(ctx context.Context, domain string) (string, bool) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Bool(1)
}

func (m *MockNameResolver) GetDomainSIDFromDomainName(ctx context.Context, domain string) (string, bool) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Bool(1)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, host string, entry *ldap.Entry) (ComputerStatus, error) {
	args := m.Called(ctx, host, entry)
	return args.Get(0).(ComputerStatus), args.Error(1)
}

type MockSessionReader struct {
	mock.Mock
}

func (m *MockSessionReader) ReadUserSessions(ctx context.Context, host, computerSID, domain string) (SessionAPIResult, error) {
	args := m.Called(ctx, host, computerSID, domain)
	return args.Get(0).(SessionAPIResult), args.Error(1)
}

func (m *MockSessionReader) ReadPrivilegedSessions(ctx context.Context, host, samAccountName, computerSID string) (SessionAPIResult, error) {
	args := m.Called(ctx, host, samAccountName, computerSID)
	return args.Get(0).(SessionAPIResult), args.Error(1)
}

func (m *MockSessionReader) ReadRegistrySessions(ctx context.Context, host, domain, computerSID string) (SessionAPIResult, error) {
	args := m.Called(ctx, host, domain, computerSID)
	return args.Get(0).(SessionAPIResult), args.Error(1)
}

type MockLocalGroupReader struct {
	mock.Mock
}

func (m *MockLocalGroupReader) ReadLocalGroups(ctx context.Context, host, computerSID, domain string, isDC bool) ([]LocalGroupAPIResult, error) {
	args := m.Called(ctx, host, computerSID, domain, isDC)
	groups, _ := args.Get(0).([]LocalGroupAPIResult)
	return groups, args.Error(1)
}

type MockUserRightsReader struct {
	mock.Mock
}

func (m *MockUserRightsReader) ReadUserRights(ctx context.Context, host, computerSID, domain string, isDC bool) ([]UserRightsAssignmentAPIResult, error) {
	args := m.Called(ctx, host, computerSID, domain, isDC)
	rights, _ := args.Get(0).([]UserRightsAssignmentAPIResult)
	return rights, args.Error(1)
}

type MockDCRegistryReader struct {
	mock.Mock
}

func (m *MockDCRegistryReader) GetCertificateMappingMethods(ctx context.Context, host string) (IntRegistryAPIResult, error) {
	args := m.Called(ctx, host)
	return args.Get(0).(IntRegistryAPIResult), args.Error(1)
}

func (m *MockDCRegistryReader) GetStrongCertificateBindingEnforcement(ctx context.Context, host string) (IntRegistryAPIResult, error) {
	args := m.Called(ctx, host)
	return args.Get(0).(IntRegistryAPIResult), args.Error(1)
}

type MockCARegistryReader struct {
	mock.Mock
}

func (m *MockCARegistryReader) IsUserSpecifiesSanEnabled(ctx context.Context, host, caName string) (BoolRegistryAPIResult, error) {
	args := m.Called(ctx, host, caName)
	return args.Get(0).(BoolRegistryAPIResult), args.Error(1)
}

func (m *MockCARegistryReader) ProcessEAPermissions(ctx context.Context, caName, domain, host, hostingComputerSID string) (EnrollmentAgentRegistryAPIResult, error) {
	args := m.Called(ctx, caName, domain, host, hostingComputerSID)
	return args.Get(0).(EnrollmentAgentRegistryAPIResult), args.Error(1)
}

func (m *MockCARegistryReader) IsRoleSeparationEnabled(ctx context.Context, host, caName string) (BoolRegistryAPIResult, error) {
	args := m.Called(ctx, host, caName)
	return args.Get(0).(BoolRegistryAPIResult), args.Error(1)
}

func (m *MockCARegistryReader) ProcessRegistryEnrollmentPermissions(ctx context.Context, caName, domain, host, hostingComputerSID string) (ACLRegistryAPIResult, error) {
	args := m.Called(ctx, caName, domain, host, hostingComputerSID)
	return args.Get(0).(ACLRegistryAPIResult), args.Error(1)
}

type MockGPOLocalGroupReader struct {
	mock.Mock
}

func (m *MockGPOLocalGroupReader) ReadGPOLocalGroups(ctx context.Context, gpLink, distinguishedName string) (*ResultingGPOChanges, error) {
	args := m.Called(ctx, gpLink, distinguishedName)
	changes, _ := args.Get(0).(*ResultingGPOChanges)
	return changes, args.Error(1)
}

type MockSPNTargetReader struct {
	mock.Mock
}

func (m *MockSPNTargetReader) ReadSPNTargets(ctx context.Context, spns []string, distinguishedName string) iter.Seq2[SPNPrivilege, error] {
	args := m.Called(ctx, spns, distinguishedName)
	targets, _ := args.Get(0).([]SPNPrivilege)
	err := args.Error(1)
	return func(yield func(SPNPrivilege, error) bool) {
		for _, t := range targets {
			if !yield(t, nil) {
				return
			}
		}
		if err != nil {
			yield(SPNPrivilege{}, err)
		}
	}
}

type MockCertTemplateResolver struct {
	mock.Mock
}

func (m *MockCertTemplateResolver) ResolveCertTemplates(ctx context.Context, names []string, domain string) ([]TypedPrincipal, []string) {
	args := m.Called(ctx, names, domain)
	resolved, _ := args.Get(0).([]TypedPrincipal)
	unresolved, _ := args.Get(1).([]string)
	return resolved, unresolved
}

type MockACLProcessor struct {
	mock.Mock
}

func (m *MockACLProcessor) ProcessACL(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) ([]ACE, error) {
	args := m.Called(ctx, entry, resolved)
	aces, _ := args.Get(0).([]ACE)
	return aces, args.Error(1)
}

func (m *MockACLProcessor) ProcessGMSAReaders(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) ([]ACE, error) {
	args := m.Called(ctx, entry, resolved)
	aces, _ := args.Get(0).([]ACE)
	return aces, args.Error(1)
}

func (m *MockACLProcessor) IsACLProtected(entry *ldap.Entry) bool {
	args := m.Called(entry)
	return args.Bool(0)
}

func (m *MockACLProcessor) InheritanceHashes(entry *ldap.Entry) []string {
	args := m.Called(entry)
	hashes, _ := args.Get(0).([]string)
	return hashes
}

type MockGroupMemberResolver struct {
	mock.Mock
}

func (m *MockGroupMemberResolver) ReadGroupMembers(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) ([]TypedPrincipal, error) {
	args := m.Called(ctx, entry, resolved)
	members, _ := args.Get(0).([]TypedPrincipal)
	return members, args.Error(1)
}

type MockContainerResolver struct {
	mock.Mock
}

func (m *MockContainerResolver) GetContainingObject(ctx context.Context, distinguishedName string) (TypedPrincipal, bool) {
	args := m.Called(ctx, distinguishedName)
	return args.Get(0).(TypedPrincipal), args.Bool(1)
}

func (m *MockContainerResolver) ReadContainerGPLinks(ctx context.Context, gpLink string) ([]GPLink, error) {
	args := m.Called(ctx, gpLink)
	links, _ := args.Get(0).([]GPLink)
	return links, args.Error(1)
}

type MockPropertyExtractor struct {
	mock.Mock
}

func (m *MockPropertyExtractor) ReadUserProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (UserProperties, error) {
	args := m.Called(ctx, entry, resolved)
	return args.Get(0).(UserProperties), args.Error(1)
}

func (m *MockPropertyExtractor) ReadComputerProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (ComputerProperties, error) {
	args := m.Called(ctx, entry, resolved)
	return args.Get(0).(ComputerProperties), args.Error(1)
}

func (m *MockPropertyExtractor) ReadEnterpriseCAProperties(entry *ldap.Entry) map[string]any {
	args := m.Called(entry)
	return args.Get(0).(map[string]any)
}

func (m *MockPropertyExtractor) ReadIssuancePolicyProperties(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (IssuancePolicyProperties, error) {
	args := m.Called(ctx, entry, resolved)
	return args.Get(0).(IssuancePolicyProperties), args.Error(1)
}

func (m *MockPropertyExtractor) ReadProperties(label Label, entry *ldap.Entry) map[string]any {
	args := m.Called(label, entry)
	return args.Get(0).(map[string]any)
}

func (m *MockPropertyExtractor) ReadCertificateProperties(entry *ldap.Entry) map[string]any {
	args := m.Called(entry)
	return args.Get(0).(map[string]any)
}

func (m *MockPropertyExtractor) ParseAllProperties(entry *ldap.Entry) map[string]any {
	args := m.Called(entry)
	return args.Get(0).(map[string]any)
}

type MockStatusSink struct {
	mock.Mock
}

func (m *MockStatusSink) ComputerStatus(ctx context.Context, event ComputerStatusEvent) {
	m.Called(ctx, event)
}

// callLog records collaborator calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) record(name string) func(mock.Arguments) {
	return func(mock.Arguments) { l.add(name) }
}

func (l *callLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// recordingWaiter logs each wait and returns err.
type recordingWaiter struct {
	log *callLog
	err error
}

func (w *recordingWaiter) Wait(ctx context.Context) error {
	if w.log != nil {
		w.log.add("wait")
	}
	if w.err != nil {
		return w.err
	}
	return ctx.Err()
}

// newEntry builds an entry from string attributes. Binary values are passed
// as strings and end up in ByteValues unchanged.
func newEntry(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

// sidBytes encodes an NT-authority SID with the given sub-authorities.
func sidBytes(subAuthorities ...uint32) []byte {
	b := make([]byte, 8+4*len(subAuthorities))
	b[0] = 1
	b[1] = byte(len(subAuthorities))
	b[7] = 5
	for i, sa := range subAuthorities {
		binary.LittleEndian.PutUint32(b[8+4*i:], sa)
	}
	return b
}

// testProcessor builds a processor with the given methods and no name cache.
func testProcessor(t *testing.T, methods []string, deps Dependencies, configure ...func(*Config)) *ObjectProcessor {
	t.Helper()

	cfg := DefaultConfig()
	cfg.CollectionMethods = methods
	cfg.NameCacheSize = 0
	for _, c := range configure {
		c(cfg)
	}
	if deps.Waiter == nil {
		deps.Waiter = NoDelay{}
	}

	p, err := NewObjectProcessor(cfg, deps)
	require.NoError(t, err)
	return p
}
