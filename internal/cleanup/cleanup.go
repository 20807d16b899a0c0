// Package cleanup implements the age-based reclamation sweep that keeps a
// TileStore from growing without bound: media none of whose files has been
// written or read in longer than a configured age is deleted wholesale. The sweep
// shape (list candidates, filter by a predicate, act, report counts) follows
// the teacher's internal/cache/eviction.go sweep over its persistent cache
// directory, generalized from LRU-position eviction to wall-clock age since
// this store has no single process keeping an in-memory access order for
// media that was never loaded this run.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"tilepyramid/internal/tilestore"
)

// Options configures one sweep.
type Options struct {
	// MaxAge is the threshold past which a media's tiles are reclaimed,
	// measured from the most recent write or read among its files, as
	// reported by tilestore.ListMediaInfo.
	MaxAge time.Duration

	// DryRun reports what would be deleted without touching disk.
	DryRun bool

	// CollectStats includes a full Store.Stat() snapshot before and after
	// the sweep in the Report; skipped by default since it walks the
	// entire store a second time.
	CollectStats bool
}

// Report summarizes one sweep.
type Report struct {
	DeletedMediaCount int
	KeptMediaCount    int
	FreedBytes        int64
	DryRun            bool

	Before *tilestore.Stats
	After  *tilestore.Stats
}

// Sweep deletes every media in store whose files were last written or
// read more than opts.MaxAge ago. A single media's delete failure does not
// abort the sweep: that media is counted as kept and reclamation of
// everything else goes on, and the first such error is returned alongside
// the otherwise-complete Report.
func Sweep(ctx context.Context, store *tilestore.Store, opts Options) (Report, error) {
	var report Report
	report.DryRun = opts.DryRun

	if opts.CollectStats {
		before, err := store.Stat()
		if err != nil {
			return report, fmt.Errorf("cleanup: stat before sweep: %w", err)
		}
		report.Before = &before
	}

	infos, err := store.ListMediaInfo()
	if err != nil {
		return report, fmt.Errorf("cleanup: list media: %w", err)
	}

	cutoff := time.Now().Add(-opts.MaxAge)
	stale, fresh := lo.FilterReject(infos, func(info tilestore.MediaInfo, _ int) bool {
		return info.ModTime.Before(cutoff)
	})
	report.KeptMediaCount = len(fresh)

	var firstErr error
	for _, info := range stale {
		if ctx.Err() != nil {
			firstErr = ctx.Err()
			break
		}
		if opts.DryRun {
			report.DeletedMediaCount++
			report.FreedBytes += info.Bytes
			continue
		}
		if err := store.DeleteMedia(info.MediaID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			report.KeptMediaCount++
			continue
		}
		report.DeletedMediaCount++
		report.FreedBytes += info.Bytes
	}

	if opts.CollectStats && !opts.DryRun {
		after, err := store.Stat()
		if err != nil {
			return report, fmt.Errorf("cleanup: stat after sweep: %w", err)
		}
		report.After = &after
	} else if opts.CollectStats {
		report.After = report.Before
	}

	return report, firstErr
}
