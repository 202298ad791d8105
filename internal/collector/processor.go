package collector

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"
)

// subsystem is the tflog subsystem used by the collector.
const subsystem = "collector"

// ObjectProcessor classifies directory entries and assembles records. It
// keeps no state between calls and is safe for concurrent use when its
// collaborators are.
type ObjectProcessor struct {
	cfg     Config
	methods CollectionMethod
	deps    Dependencies
}

// NewObjectProcessor validates cfg and deps against the enabled collection methods.
func NewObjectProcessor(cfg *Config, deps Dependencies) (*ObjectProcessor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}

	methods, err := cfg.Methods()
	if err != nil {
		return nil, err
	}

	if err := deps.Validate(methods); err != nil {
		return nil, fmt.Errorf("missing collaborators for %s: %w", methods, err)
	}

	if deps.Waiter == nil {
		deps.Waiter = NewWaiter(cfg.Throttle, cfg.Jitter)
	}

	if cfg.NameCacheSize > 0 {
		if _, cached := deps.Names.(*CachingNameResolver); !cached {
			names, err := NewCachingNameResolver(deps.Names, cfg.NameCacheSize)
			if err != nil {
				return nil, err
			}
			deps.Names = names
		}
	}

	return &ObjectProcessor{
		cfg:     *cfg,
		methods: methods,
		deps:    deps,
	}, nil
}

// Methods returns the enabled collection methods.
func (p *ObjectProcessor) Methods() CollectionMethod {
	return p.methods
}

// Classify resolves entry and assembles its record. It returns (nil, nil)
// for entries that are filtered, unresolvable or of an unknown label. An
// error means a collaborator failed fatally or ctx ended; no record is
// returned with it.
func (p *ObjectProcessor) Classify(ctx context.Context, entry *ldap.Entry) (Record, error) {
	if entry == nil || entry.DN == "" {
		p.deps.Metrics.IncrementSkipped(SkipInvalidDN)
		return nil, nil
	}

	if !IsValidEntryDN(entry.DN) {
		p.deps.Metrics.IncrementSkipped(SkipInvalidDN)
		return nil, nil
	}

	resolved, ok := p.deps.Resolver.ResolveEntry(ctx, entry)
	if !ok {
		tflog.SubsystemTrace(ctx, subsystem, "Unable to resolve entry", map[string]any{"dn": entry.DN})
		p.deps.Metrics.IncrementSkipped(SkipUnresolved)
		return nil, nil
	}
	if resolved.ObjectType == LabelBase {
		tflog.SubsystemTrace(ctx, subsystem, "Skipping entry with unknown type", map[string]any{"dn": entry.DN})
		p.deps.Metrics.IncrementSkipped(SkipBaseLabel)
		return nil, nil
	}

	start := time.Now()
	record, err := p.dispatch(ctx, entry, resolved)
	if err != nil {
		return nil, err
	}
	if record == nil {
		p.deps.Metrics.IncrementSkipped(SkipBaseLabel)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.deps.Metrics.ObserveRecord(record.Label(), start)
	return record, nil
}

func (p *ObjectProcessor) dispatch(ctx context.Context, entry *ldap.Entry, resolved ResolvedEntry) (Record, error) {
	switch resolved.ObjectType {
	case LabelUser:
		return p.processUser(ctx, entry, resolved)
	case LabelComputer:
		return p.processComputer(ctx, entry, resolved)
	case LabelGroup:
		return p.processGroup(ctx, entry, resolved)
	case LabelGPO:
		return p.processGPO(ctx, entry, resolved)
	case LabelDomain:
		return p.processDomain(ctx, entry, resolved)
	case LabelOU:
		return p.processOU(ctx, entry, resolved)
	case LabelContainer, LabelConfiguration:
		return p.processContainer(ctx, entry, resolved)
	case LabelCertTemplate:
		return p.processCertTemplate(ctx, entry, resolved)
	case LabelRootCA:
		return p.processRootCA(ctx, entry, resolved)
	case LabelAIACA:
		return p.processAIACA(ctx, entry, resolved)
	case LabelEnterpriseCA:
		return p.processEnterpriseCA(ctx, entry, resolved)
	case LabelNTAuthStore:
		return p.processNTAuthStore(ctx, entry, resolved)
	case LabelIssuancePolicy:
		return p.processIssuancePolicy(ctx, entry, resolved)
	default:
		return nil, nil
	}
}

// ClassifyAll classifies entries with up to Concurrency workers. emit is
// never called concurrently. The first error from the sequence, a worker or
// emit cancels the remaining work and is returned.
func (p *ObjectProcessor) ClassifyAll(ctx context.Context, entries iter.Seq2[*ldap.Entry, error], emit func(Record) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var mu sync.Mutex

	for entry, err := range entries {
		if err != nil {
			g.Go(func() error { return fmt.Errorf("reading entries: %w", err) })
			break
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			record, err := p.Classify(gctx, entry)
			if err != nil {
				return fmt.Errorf("classify %s: %w", entry.DN, err)
			}
			if record == nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			return emit(record)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
