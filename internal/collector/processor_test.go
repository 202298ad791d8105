package collector

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testDomain    = "CORP.LOCAL"
	testDomainSID = "S-1-5-21-1-2-3"
)

func TestClassify_SkipsEntries(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		entry    *ldap.Entry
		resolved ResolvedEntry
		ok       bool
		resolves bool
		reason   string
	}{
		{
			name:   "nil entry",
			entry:  nil,
			reason: SkipInvalidDN,
		},
		{
			name:   "empty distinguished name",
			entry:  newEntry("", nil),
			reason: SkipInvalidDN,
		},
		{
			name:   "domain updates container",
			entry:  newEntry("CN=Operations,CN=DomainUpdates,CN=System,DC=corp,DC=local", nil),
			reason: SkipInvalidDN,
		},
		{
			name:   "policy user delta",
			entry:  newEntry("CN=User,CN={31B2F340-016D-11D2-945F-00C04FB984F9},CN=Policies,CN=System,DC=corp,DC=local", nil),
			reason: SkipInvalidDN,
		},
		{
			name:     "resolution failure",
			entry:    newEntry("CN=Ghost,CN=Users,DC=corp,DC=local", nil),
			resolves: true,
			ok:       false,
			reason:   SkipUnresolved,
		},
		{
			name:     "base label",
			entry:    newEntry("CN=Thing,CN=Users,DC=corp,DC=local", nil),
			resolved: ResolvedEntry{ObjectID: "S-1-5-21-1-2-3-9999", ObjectType: LabelBase},
			resolves: true,
			ok:       true,
			reason:   SkipBaseLabel,
		},
		{
			name:     "label outside the dispatch table",
			entry:    newEntry("CN=Thing,CN=Users,DC=corp,DC=local", nil),
			resolved: ResolvedEntry{ObjectID: "S-1-5-21-1-2-3-9999", ObjectType: Label("Printer")},
			resolves: true,
			ok:       true,
			reason:   SkipBaseLabel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &MockEntryResolver{}
			if tt.resolves {
				resolver.On("ResolveEntry", ctx, tt.entry).Return(tt.resolved, tt.ok)
			}

			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)
			p := testProcessor(t, []string{"All"}, fullDependencies(resolver, metrics))

			record, err := p.Classify(ctx, tt.entry)
			require.NoError(t, err)
			assert.Nil(t, record)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SkippedEntries.WithLabelValues(tt.reason)))

			if !tt.resolves {
				resolver.AssertNotCalled(t, "ResolveEntry", mock.Anything, mock.Anything)
			}
			resolver.AssertExpectations(t)
		})
	}
}

// fullDependencies returns a dependency set that satisfies every method.
// Only the resolver is expected to be called.
func fullDependencies(resolver EntryResolver, metrics *Metrics) Dependencies {
	return Dependencies{
		Resolver:       resolver,
		Directory:      &MockDirectoryQuerier{},
		Names:          &MockNameResolver{},
		Prober:         &MockProber{},
		Sessions:       &MockSessionReader{},
		LocalGroups:    &MockLocalGroupReader{},
		UserRights:     &MockUserRightsReader{},
		DCRegistry:     &MockDCRegistryReader{},
		CARegistry:     &MockCARegistryReader{},
		GPOLocalGroups: &MockGPOLocalGroupReader{},
		SPNTargets:     &MockSPNTargetReader{},
		CertTemplates:  &MockCertTemplateResolver{},
		ACLs:           &MockACLProcessor{},
		Members:        &MockGroupMemberResolver{},
		Containers:     &MockContainerResolver{},
		Properties:     &MockPropertyExtractor{},
		Metrics:        metrics,
	}
}

type userFixture struct {
	entry    *ldap.Entry
	resolved ResolvedEntry
	resolver *MockEntryResolver
	props    *MockPropertyExtractor
	acls     *MockACLProcessor
}

func newUserFixture(ctx context.Context) *userFixture {
	f := &userFixture{
		entry: newEntry("CN=Alice,CN=Users,DC=corp,DC=local", map[string][]string{
			"samaccountname": {"alice"},
			"objectclass":    {"top", "person", "user"},
		}),
		resolved: ResolvedEntry{
			ObjectID:    "S-1-5-21-1-2-3-1105",
			ObjectType:  LabelUser,
			DomainSID:   testDomainSID,
			Domain:      testDomain,
			DisplayName: "ALICE@CORP.LOCAL",
		},
		resolver: &MockEntryResolver{},
		props:    &MockPropertyExtractor{},
		acls:     &MockACLProcessor{},
	}

	f.resolver.On("ResolveEntry", ctx, f.entry).Return(f.resolved, true)
	f.props.On("ReadUserProperties", ctx, f.entry, f.resolved).Return(UserProperties{
		Props: map[string]any{"samaccountname": "alice", "enabled": true},
		AllowedToDelegate: []TypedPrincipal{
			{ObjectIdentifier: "S-1-5-21-1-2-3-2001", ObjectType: LabelComputer},
		},
		SIDHistory: []TypedPrincipal{
			{ObjectIdentifier: "S-1-5-21-9-9-9-1500", ObjectType: LabelBase},
		},
		UnconstrainedDelegation: true,
	}, nil)
	f.acls.On("ProcessACL", ctx, f.entry, f.resolved).Return([]ACE{
		{PrincipalSID: "S-1-5-21-1-2-3-512", PrincipalType: LabelGroup, RightName: "GenericAll"},
		{PrincipalSID: "S-1-5-21-1-2-3-519", PrincipalType: LabelGroup, RightName: "WriteDacl", IsInherited: true},
	}, nil)
	f.acls.On("ProcessGMSAReaders", ctx, f.entry, f.resolved).Return(nil, nil)
	f.acls.On("IsACLProtected", f.entry).Return(false)

	return f
}

func (f *userFixture) dependencies() Dependencies {
	return Dependencies{
		Resolver:   f.resolver,
		Names:      &MockNameResolver{},
		Properties: f.props,
		ACLs:       f.acls,
	}
}

func TestClassify_UserScenario(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(ctx)
	p := testProcessor(t, []string{"ObjectProps", "ACL"}, f.dependencies())

	record, err := p.Classify(ctx, f.entry)
	require.NoError(t, err)

	user, ok := record.(*User)
	require.True(t, ok, "expected *User, got %T", record)

	assert.Equal(t, "S-1-5-21-1-2-3-1105", user.ObjectIdentifier)
	assert.Equal(t, testDomain, user.Properties["domain"])
	assert.Equal(t, "ALICE@CORP.LOCAL", user.Properties["name"])
	assert.Equal(t, "CN=ALICE,CN=USERS,DC=CORP,DC=LOCAL", user.Properties["distinguishedname"])
	assert.Equal(t, testDomainSID, user.Properties["domainsid"])
	assert.Equal(t, "alice", user.Properties["samaccountname"])
	assert.Equal(t, false, user.Properties["msa"])
	assert.Equal(t, false, user.Properties["gmsa"])
	assert.Equal(t, false, user.Properties["isaclprotected"])

	assert.Len(t, user.Aces, 2)
	assert.Equal(t, []TypedPrincipal{{ObjectIdentifier: "S-1-5-21-1-2-3-2001", ObjectType: LabelComputer}}, user.AllowedToDelegate)
	assert.Equal(t, []TypedPrincipal{{ObjectIdentifier: "S-1-5-21-9-9-9-1500", ObjectType: LabelBase}}, user.HasSIDHistory)
	assert.True(t, user.UnconstrainedDelegation)
	assert.Equal(t, testDomainSID, user.DomainSID)

	// Group, container and SPN collection are disabled.
	assert.Empty(t, user.PrimaryGroupSID)
	assert.Nil(t, user.ContainedBy)
	assert.Nil(t, user.SPNTargets)

	f.resolver.AssertExpectations(t)
	f.props.AssertExpectations(t)
	f.acls.AssertExpectations(t)
}

func TestClassify_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(ctx)
	p := testProcessor(t, []string{"ObjectProps", "ACL"}, f.dependencies())

	first, err := p.Classify(ctx, f.entry)
	require.NoError(t, err)
	second, err := p.Classify(ctx, f.entry)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.NotSame(t, first, second)
}

func TestClassify_CollaboratorErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(ctx)

	acls := &MockACLProcessor{}
	acls.On("ProcessACL", ctx, f.entry, f.resolved).Return(nil, errors.New("descriptor unavailable"))
	f.acls = acls

	p := testProcessor(t, []string{"ObjectProps", "ACL"}, f.dependencies())

	record, err := p.Classify(ctx, f.entry)
	assert.Nil(t, record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "descriptor unavailable")
}

func TestClassify_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newUserFixture(ctx)
	p := testProcessor(t, []string{"ObjectProps", "ACL"}, f.dependencies())

	cancel()

	record, err := p.Classify(ctx, f.entry)
	assert.Nil(t, record)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(ctx)

	deps := f.dependencies()
	deps.Metrics = NewMetrics(prometheus.NewRegistry())
	p := testProcessor(t, []string{"ObjectProps", "ACL"}, deps)

	_, err := p.Classify(ctx, f.entry)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.ObjectsTotal.WithLabelValues("User")))
}

func TestNewObjectProcessor(t *testing.T) {
	t.Run("rejects missing collaborators", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CollectionMethods = []string{"ACL", "Group"}

		_, err := NewObjectProcessor(cfg, Dependencies{
			Resolver: &MockEntryResolver{},
			Names:    &MockNameResolver{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ACL processor")
		assert.Contains(t, err.Error(), "group member resolver")
	})

	t.Run("rejects unknown method", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CollectionMethods = []string{"Telepathy"}

		_, err := NewObjectProcessor(cfg, Dependencies{
			Resolver: &MockEntryResolver{},
			Names:    &MockNameResolver{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Telepathy")
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		_, err := NewObjectProcessor(nil, Dependencies{
			Resolver: &MockEntryResolver{},
			Names:    &MockNameResolver{},
		})
		require.Error(t, err, "default methods need more than a resolver")
	})

	t.Run("wraps name resolver in cache", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CollectionMethods = []string{"None"}

		p, err := NewObjectProcessor(cfg, Dependencies{
			Resolver: &MockEntryResolver{},
			Names:    &MockNameResolver{},
		})
		require.NoError(t, err)
		assert.IsType(t, &CachingNameResolver{}, p.deps.Names)
		assert.IsType(t, NoDelay{}, p.deps.Waiter)
		assert.Equal(t, MethodNone, p.Methods())
	})

	t.Run("throttle selects delay waiter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CollectionMethods = []string{"None"}
		cfg.Throttle = 1500 * time.Millisecond
		cfg.Jitter = 10

		p, err := NewObjectProcessor(cfg, Dependencies{
			Resolver: &MockEntryResolver{},
			Names:    &MockNameResolver{},
		})
		require.NoError(t, err)
		assert.IsType(t, &DelayWaiter{}, p.deps.Waiter)
	})
}

func groupEntries(n int) []*ldap.Entry {
	entries := make([]*ldap.Entry, 0, n)
	for i := range n {
		entries = append(entries, newEntry("CN=Group"+string(rune('A'+i))+",CN=Users,DC=corp,DC=local", nil))
	}
	return entries
}

func groupResolver(entries []*ldap.Entry) *MockEntryResolver {
	resolver := &MockEntryResolver{}
	for i, e := range entries {
		resolver.On("ResolveEntry", mock.Anything, e).Return(ResolvedEntry{
			ObjectID:    "S-1-5-21-1-2-3-" + string(rune('1'+i)),
			ObjectType:  LabelGroup,
			Domain:      testDomain,
			DisplayName: e.DN,
		}, true)
	}
	return resolver
}

func entrySeq(entries []*ldap.Entry, tail error) iter.Seq2[*ldap.Entry, error] {
	return func(yield func(*ldap.Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
		if tail != nil {
			yield(nil, tail)
		}
	}
}

func TestClassifyAll(t *testing.T) {
	ctx := context.Background()

	t.Run("emits every record", func(t *testing.T) {
		entries := groupEntries(5)
		p := testProcessor(t, []string{"None"}, Dependencies{
			Resolver: groupResolver(entries),
			Names:    &MockNameResolver{},
		}, func(c *Config) { c.Concurrency = 3 })

		var ids []string
		err := p.ClassifyAll(ctx, entrySeq(entries, nil), func(r Record) error {
			ids = append(ids, Common(r).ObjectIdentifier)
			return nil
		})
		require.NoError(t, err)

		slices.Sort(ids)
		assert.Equal(t, []string{
			"S-1-5-21-1-2-3-1", "S-1-5-21-1-2-3-2", "S-1-5-21-1-2-3-3",
			"S-1-5-21-1-2-3-4", "S-1-5-21-1-2-3-5",
		}, ids)
	})

	t.Run("sequence error is fatal", func(t *testing.T) {
		entries := groupEntries(2)
		p := testProcessor(t, []string{"None"}, Dependencies{
			Resolver: groupResolver(entries),
			Names:    &MockNameResolver{},
		})

		queryErr := errors.New("paging cookie rejected")
		err := p.ClassifyAll(ctx, entrySeq(entries, queryErr), func(Record) error { return nil })
		assert.ErrorIs(t, err, queryErr)
	})

	t.Run("emit error is returned", func(t *testing.T) {
		entries := groupEntries(3)
		p := testProcessor(t, []string{"None"}, Dependencies{
			Resolver: groupResolver(entries),
			Names:    &MockNameResolver{},
		}, func(c *Config) { c.Concurrency = 1 })

		sinkErr := errors.New("sink full")
		err := p.ClassifyAll(ctx, entrySeq(entries, nil), func(Record) error { return sinkErr })
		assert.ErrorIs(t, err, sinkErr)
	})

	t.Run("skipped entries are not emitted", func(t *testing.T) {
		entries := []*ldap.Entry{
			newEntry("CN=Operations,CN=DomainUpdates,CN=System,DC=corp,DC=local", nil),
		}
		p := testProcessor(t, []string{"None"}, Dependencies{
			Resolver: &MockEntryResolver{},
			Names:    &MockNameResolver{},
		})

		emitted := 0
		err := p.ClassifyAll(ctx, entrySeq(entries, nil), func(Record) error {
			emitted++
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, emitted)
	})
}
