package pipeline

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/trace"
)

// Sender ships a batch of entries to one remote site. Implementations wrap
// the actual transport (conduit, out of scope here).
type Sender interface {
	Send(ctx context.Context, siteID uint64, entries []Entry) error
}

// Config configures one replication pipeline instance: the set of sites to
// fan entries out to, the default throttle applied to sites with no
// explicit config, and the journal GC policy RunJournalGC applies.
// ReplicateBatch does not run journal GC.
type Config struct {
	Sites           []uint64
	DefaultThrottle ThrottleConfig
	GcPolicy        GcPolicy
}

func DefaultConfig(sites []uint64) Config {
	return Config{Sites: sites, DefaultThrottle: DefaultThrottleConfig(), GcPolicy: GcPolicy{Kind: RetainByAck}}
}

// Pipeline drives cross-site replication: tailing a shard journal,
// throttling per-site sends, and garbage-collecting acknowledged entries.
type Pipeline struct {
	cfg       Config
	sender    Sender
	throttles *ThrottleManager
	gc        *GcScheduler
	gcState   *GcState
}

func New(cfg Config, sender Sender) *Pipeline {
	throttles := NewThrottleManager(cfg.DefaultThrottle)
	for _, site := range cfg.Sites {
		throttles.RegisterSiteDefault(site)
	}
	return &Pipeline{
		cfg:       cfg,
		sender:    sender,
		throttles: throttles,
		gc:        NewGcScheduler(cfg.GcPolicy, cfg.Sites),
		gcState:   NewGcState(cfg.GcPolicy),
	}
}

// ReplicateBatch drains entries ready at tailer's current position and
// fans them out to every configured site concurrently, respecting each
// site's throttle. A site whose throttle rejects the send at this instant
// is skipped for this batch rather than blocking the others: one slow
// site must not stall replication to the rest.
func (p *Pipeline) ReplicateBatch(ctx context.Context, tailer *Tailer, maxEntries int, nowUS uint64) error {
	var batch []Entry
	for i := 0; i < maxEntries; i++ {
		e, ok := tailer.Next()
		if !ok {
			break
		}
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return nil
	}

	var byteCount uint64
	for _, e := range batch {
		byteCount += uint64(len(e.Payload))
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, site := range p.cfg.Sites {
		site := site
		if !p.throttles.TrySend(site, byteCount, uint64(len(batch)), nowUS) {
			continue
		}
		eg.Go(func() error {
			ev := trace.Event("replicate-site-"+strconv.FormatUint(site, 10), 0)
			defer ev.Done()
			if err := p.sender.Send(egCtx, site, batch); err != nil {
				return errs.Wrap("pipeline.ReplicateBatch", errs.ConnectionReset, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Ack records that site has acknowledged through seq, for journal GC
// eligibility.
func (p *Pipeline) Ack(site, seq, nowUS uint64) {
	p.gcState.RecordAck(site, seq, nowUS)
	p.gc.RecordAck(AckRecord{SiteID: site, AckedThroughSeq: seq, AckedAtUS: nowUS})
}

// RunJournalGC evaluates candidates against the pipeline's configured
// retention policy, honoring RetainByAck via the tracked acknowledgment
// state when that policy is selected.
func (p *Pipeline) RunJournalGC(candidates []GcCandidate, nowUS uint64) []GcCandidate {
	if p.cfg.GcPolicy.Kind != RetainByAck {
		return p.gc.RunGC(candidates, nowUS)
	}

	var eligible []GcCandidate
	for _, c := range candidates {
		if p.gcState.AllSitesAcked(c.Seq, p.cfg.Sites) {
			eligible = append(eligible, c)
		}
	}
	return eligible
}

// GcStats returns the statistics accumulated by the pipeline's
// GcScheduler. Under RetainByAck, RunJournalGC does not go through the
// scheduler, so those evaluations are not counted.
func (p *Pipeline) GcStats() GcStats { return p.gc.Stats() }
