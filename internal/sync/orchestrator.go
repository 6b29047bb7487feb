// Package sync replays the baseline history of a requirements project onto
// a model server project: every baseline in lineage order becomes a delta
// on the target ref followed by a tag, and the live head is synced last.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/openmbee/dngsync/internal/delta"
	"github.com/openmbee/dngsync/internal/lineage"
	"github.com/openmbee/dngsync/internal/mms"
	"github.com/openmbee/dngsync/internal/translate"
)

// DefaultRef is the target branch baselines are replayed onto.
const DefaultRef = "master"

// headSnapshotPrefix starts the cache id of every live head snapshot.
const headSnapshotPrefix = "head."

// Target is the model server side of a sync. Implemented by *mms.Client;
// tests use an in-memory fake.
type Target interface {
	Project() string
	Create(ctx context.Context, name string, reset bool) (bool, error)
	Refs(ctx context.Context) (map[string]mms.Ref, error)
	Upload(ctx context.Context, p mms.Payload, ref string) error
	ApplyDeltas(ctx context.Context, d delta.Delta, ref string) (mms.Applied, error)
	TagHeadAsBaseline(ctx context.Context, b lineage.Baseline, ref string) (string, error)
	Load(ctx context.Context, ref string) (delta.Snapshot, error)
}

// RunOpts controls a single sync run.
type RunOpts struct {
	Ref      string // defaults to DefaultRef
	Reset    bool   // delete and recreate the target project first
	SkipHead bool   // stop after the last baseline
}

// Report summarizes a run. It is returned even when the run fails, holding
// whatever was applied before the failure.
type Report struct {
	RunID    string
	Created  bool
	Fallback bool

	Baselines int      // baselines in the reconstructed lineage
	Applied   []string // baseline ids applied by this run, in order
	Skipped   int      // baselines already tagged on the target
	Added     int
	Deleted   int

	HeadSynced  bool
	HeadAdded   int
	HeadDeleted int

	Elapsed time.Duration
}

// Orchestrator runs syncs. Baselines are applied strictly one after the
// other: each delta assumes the target ref holds the previous snapshot.
type Orchestrator struct {
	source  Source
	target  Target
	cache   *SnapshotCache
	ledger  *Ledger
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewOrchestrator wires a source and target with the snapshot cache and
// ledger of the target project.
func NewOrchestrator(source Source, target Target, cache *SnapshotCache, ledger *Ledger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		source:  source,
		target:  target,
		cache:   cache,
		ledger:  ledger,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Run performs one sync and records it in the ledger.
func (o *Orchestrator) Run(ctx context.Context, opts RunOpts) (rep *Report, err error) {
	if opts.Ref == "" {
		opts.Ref = DefaultRef
	}

	start := o.nowFunc()

	runID, err := o.ledger.StartRun(ctx, o.target.Project(), opts.Ref)
	if err != nil {
		return nil, err
	}

	rep = &Report{RunID: runID}

	o.logger.Info("sync starting",
		slog.String("run_id", runID),
		slog.String("project", o.target.Project()),
		slog.String("ref", opts.Ref),
		slog.Bool("reset", opts.Reset),
	)

	defer func() {
		rep.Elapsed = o.nowFunc().Sub(start)

		// The run is recorded even when ctx was canceled.
		if ferr := o.ledger.FinishRun(context.WithoutCancel(ctx), runID, rep, err); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	if err := o.run(ctx, runID, opts, rep); err != nil {
		return rep, err
	}

	o.logger.Info("sync complete",
		slog.String("run_id", runID),
		slog.Int("applied", len(rep.Applied)),
		slog.Int("skipped", rep.Skipped),
		slog.Int("head_added", rep.HeadAdded),
		slog.Int("head_deleted", rep.HeadDeleted),
	)

	return rep, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, opts RunOpts, rep *Report) error {
	created, err := o.target.Create(ctx, o.source.ProjectName(), opts.Reset)
	if err != nil {
		return err
	}

	rep.Created = created

	refs, err := o.target.Refs(ctx)
	if err != nil {
		return err
	}

	cfgs, err := o.source.Configurations(ctx)
	if err != nil {
		return err
	}

	if err := o.ledger.RecordConfigurations(ctx, runID, cfgs.Baselines, cfgs.Streams); err != nil {
		return err
	}

	lin, err := lineage.Reconstruct(cfgs.Baselines, cfgs.Streams, o.logger)
	if err != nil {
		return fmt.Errorf("sync: reconstructing lineage: %w", err)
	}

	rep.Fallback = lin.Fallback

	streams := make([]string, 0, len(lin.Histories))
	for stream := range lin.Histories {
		streams = append(streams, stream)
	}

	sort.Strings(streams)

	for _, stream := range streams {
		if err := o.applyHistory(ctx, runID, opts.Ref, lin.Histories[stream], cfgs.Baselines, refs, rep); err != nil {
			return err
		}
	}

	if opts.SkipHead {
		o.logger.Info("skipping head sync")
		return nil
	}

	return o.syncHead(ctx, opts.Ref, rep)
}

// applyHistory replays chain onto ref. Each baseline is diffed against the
// one before it in chain, which is what the ref holds at that point.
func (o *Orchestrator) applyHistory(
	ctx context.Context, runID, ref string, chain []string,
	baselines map[string]lineage.Baseline, refs map[string]mms.Ref, rep *Report,
) error {
	var (
		prevID   string
		prevSnap delta.Snapshot
	)

	for i, uri := range chain {
		b, ok := baselines[uri]
		if !ok {
			return fmt.Errorf("sync: lineage names unknown baseline <%s>", uri)
		}

		rep.Baselines++

		if _, done := refs[mms.TagID(b.ID)]; done {
			o.logger.Info("baseline already applied", slog.String("baseline", b.ID), slog.String("title", b.Title))
			rep.Skipped++
			prevID, prevSnap = b.ID, nil

			continue
		}

		cur, err := o.snapshot(ctx, b.ID, b.URI)
		if err != nil {
			return err
		}

		var (
			applied  mms.Applied
			parentID string
		)

		if i == 0 {
			o.logger.Info("uploading root baseline", slog.String("baseline", b.ID), slog.Int("elements", len(cur)))

			if err := o.target.Upload(ctx, mms.SnapshotFile{Path: o.cache.Path(b.ID)}, ref); err != nil {
				return fmt.Errorf("sync: uploading baseline %s: %w", b.ID, err)
			}

			applied.Added = len(cur)
		} else {
			parent := baselines[chain[i-1]]
			parentID = parent.ID

			old := prevSnap
			if prevID != parent.ID || old == nil {
				if old, err = o.snapshot(ctx, parent.ID, parent.URI); err != nil {
					return err
				}
			}

			d, err := delta.Diff(old, cur, translate.RootID(o.target.Project()))
			if err != nil {
				return fmt.Errorf("sync: diffing %s against %s: %w", b.ID, parent.ID, err)
			}

			if applied, err = o.target.ApplyDeltas(ctx, d, ref); err != nil {
				return fmt.Errorf("sync: applying baseline %s: %w", b.ID, err)
			}
		}

		tagID, err := o.target.TagHeadAsBaseline(ctx, b, ref)
		if err != nil {
			return err
		}

		if err := o.ledger.RecordBaseline(ctx, AppliedBaseline{
			BaselineID:  b.ID,
			BaselineURI: b.URI,
			Title:       b.Title,
			TagID:       tagID,
			ParentID:    parentID,
			Added:       applied.Added,
			Deleted:     applied.Deleted,
			RunID:       runID,
		}); err != nil {
			return err
		}

		rep.Applied = append(rep.Applied, b.ID)
		rep.Added += applied.Added
		rep.Deleted += applied.Deleted

		o.logger.Info("baseline applied",
			slog.String("baseline", b.ID),
			slog.String("title", b.Title),
			slog.String("tag", tagID),
			slog.Int("added", applied.Added),
			slog.Int("deleted", applied.Deleted),
		)

		prevID, prevSnap = b.ID, cur
	}

	return nil
}

// syncHead brings ref up to the live source head.
func (o *Orchestrator) syncHead(ctx context.Context, ref string, rep *Report) error {
	current, err := o.target.Load(ctx, ref)
	if err != nil {
		return err
	}

	head, err := o.source.Snapshot(ctx, "")
	if err != nil {
		return err
	}

	id := headSnapshotPrefix + o.nowFunc().UTC().Format("20060102T150405Z")
	if err := o.cache.Store(id, head); err != nil {
		return err
	}

	f, err := os.Open(o.cache.Path(id))
	if err != nil {
		return fmt.Errorf("sync: reopening head snapshot: %w", err)
	}
	defer f.Close()

	d, err := delta.StreamDiff(ctx, current, delta.NewJSONRecordSource(f), translate.RootID(o.target.Project()))
	if err != nil {
		return fmt.Errorf("sync: diffing head: %w", err)
	}

	applied, err := o.target.ApplyDeltas(ctx, d, ref)
	if err != nil {
		return fmt.Errorf("sync: applying head: %w", err)
	}

	rep.HeadSynced = true
	rep.HeadAdded = applied.Added
	rep.HeadDeleted = applied.Deleted

	// Only the latest head snapshot is kept.
	if n, err := o.cache.Prune(headSnapshotPrefix, id); err != nil {
		o.logger.Warn("pruning head snapshots", slog.String("error", err.Error()))
	} else if n > 0 {
		o.logger.Debug("pruned head snapshots", slog.Int("removed", n))
	}

	return nil
}

// snapshot returns the cached snapshot of a baseline, crawling and caching
// it on a miss.
func (o *Orchestrator) snapshot(ctx context.Context, id, uri string) (delta.Snapshot, error) {
	snap, ok, err := o.cache.Load(id)
	if err != nil {
		return nil, err
	}

	if ok {
		o.logger.Debug("snapshot cache hit", slog.String("baseline", id))
		return snap, nil
	}

	snap, err = o.source.Snapshot(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("sync: building snapshot of %s: %w", id, err)
	}

	if err := o.cache.Store(id, snap); err != nil {
		return nil, err
	}

	return snap, nil
}
