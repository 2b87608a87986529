package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/lock"
	"github.com/prn-tf/tagsoup/internal/metrics"
	"github.com/prn-tf/tagsoup/internal/repository"
	"github.com/prn-tf/tagsoup/internal/storage"
)

// GarbageCollector removes blobs and thumbnails that have no index row.
// Such orphans appear when a registration fails after the blob was
// published, or when object deletion could not remove the files.
type GarbageCollector struct {
	objectRepo repository.ObjectRepository
	stores     []sweptStore
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     GCConfig

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

type sweptStore struct {
	name    string
	backend storage.Backend
}

// GCConfig contains garbage collection configuration.
type GCConfig struct {
	// Enabled determines if GC runs automatically.
	Enabled bool

	// Interval is how often to run garbage collection.
	Interval time.Duration

	// GracePeriod is how old a blob must be before it may be removed.
	// It keeps the sweep away from uploads that are still registering.
	GracePeriod time.Duration

	// BatchSize is the maximum number of blobs to delete per run.
	BatchSize int

	// DryRun logs what would be deleted without actually deleting.
	DryRun bool
}

// DefaultGCConfig returns sensible defaults.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		Enabled:     true,
		Interval:    1 * time.Hour,
		GracePeriod: 24 * time.Hour,
		BatchSize:   1000,
		DryRun:      false,
	}
}

// NewGarbageCollector creates a new garbage collector sweeping the original
// and thumbnail stores.
func NewGarbageCollector(
	objectRepo repository.ObjectRepository,
	originals storage.Backend,
	thumbnails storage.Backend,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config GCConfig,
) *GarbageCollector {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultGCConfig().BatchSize
	}

	return &GarbageCollector{
		objectRepo: objectRepo,
		stores: []sweptStore{
			{name: "originals", backend: originals},
			{name: "thumbnails", backend: thumbnails},
		},
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "gc").Logger(),
		config:   config,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the garbage collection scheduler.
func (gc *GarbageCollector) Start() {
	gc.mu.Lock()
	if gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = true
	gc.mu.Unlock()

	gc.logger.Info().
		Dur("interval", gc.config.Interval).
		Dur("grace_period", gc.config.GracePeriod).
		Int("batch_size", gc.config.BatchSize).
		Bool("dry_run", gc.config.DryRun).
		Msg("starting garbage collector")

	go gc.runLoop()
}

// Stop stops the garbage collection scheduler and waits for a running
// sweep to finish.
func (gc *GarbageCollector) Stop() {
	gc.mu.Lock()
	if !gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = false
	gc.mu.Unlock()

	close(gc.stopChan)
	<-gc.doneChan

	gc.logger.Info().Msg("garbage collector stopped")
}

func (gc *GarbageCollector) runLoop() {
	defer close(gc.doneChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-gc.stopChan
		cancel()
	}()

	gc.RunOnce(ctx)

	ticker := time.NewTicker(gc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gc.RunOnce(ctx)
		case <-gc.stopChan:
			return
		}
	}
}

// GCResult contains the result of a garbage collection run.
type GCResult struct {
	// Skipped is set when another holder owned the sweep lock.
	Skipped bool

	// BlobsDeleted is the number of blobs deleted, or that would be in a
	// dry run.
	BlobsDeleted int

	// BytesFreed is the total bytes freed.
	BytesFreed int64

	// StagingPurged is the number of abandoned staging files removed.
	StagingPurged int

	// Errors is the number of errors encountered.
	Errors int

	// Duration is how long the run took.
	Duration time.Duration

	// OrphanBlobsRemaining counts eligible orphans left for the next run.
	OrphanBlobsRemaining int
}

// RunOnce executes a single sweep. It can be called manually or by the
// scheduler.
func (gc *GarbageCollector) RunOnce(ctx context.Context) GCResult {
	start := time.Now()
	result := GCResult{}

	sweepLock := lock.NewLock(gc.locker, lock.Keys.OrphanSweep())
	lockTTL := gc.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	acquired, err := sweepLock.Acquire(ctx, lockTTL)
	if err != nil {
		gc.logger.Error().Err(err).Msg("failed to acquire gc lock")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		gc.logger.Debug().Msg("gc lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if err := sweepLock.Release(context.Background()); err != nil {
			gc.logger.Error().Err(err).Msg("failed to release gc lock")
		}
	}()

	budget := gc.config.BatchSize
	for _, st := range gc.stores {
		gc.sweep(ctx, st, &budget, &result)
	}

	result.Duration = time.Since(start)
	gc.metrics.RecordGCRun(result.Duration, result.BlobsDeleted, result.BytesFreed, result.OrphanBlobsRemaining)

	gc.logger.Info().
		Int("blobs_deleted", result.BlobsDeleted).
		Int64("bytes_freed", result.BytesFreed).
		Int("staging_purged", result.StagingPurged).
		Int("remaining", result.OrphanBlobsRemaining).
		Int("errors", result.Errors).
		Bool("dry_run", gc.config.DryRun).
		Dur("duration", result.Duration).
		Msg("garbage collection run completed")

	return result
}

// sweep removes orphans from one store while budget lasts; orphans past the
// budget are counted as remaining.
func (gc *GarbageCollector) sweep(ctx context.Context, st sweptStore, budget *int, result *GCResult) {
	log := gc.logger.With().Str("store", st.name).Logger()

	if !gc.config.DryRun {
		purged, err := st.backend.PurgeStaging(ctx, gc.config.GracePeriod)
		if err != nil {
			log.Error().Err(err).Msg("failed to purge staging files")
			result.Errors++
		}
		result.StagingPurged += purged
	}

	orphans, err := gc.listOrphans(ctx, st.backend)
	if err != nil {
		log.Error().Err(err).Msg("failed to list orphan blobs")
		result.Errors++
		return
	}

	for _, blob := range orphans {
		if *budget <= 0 {
			result.OrphanBlobsRemaining++
			continue
		}
		*budget--

		if gc.config.DryRun {
			log.Info().
				Str("id", blob.ID).
				Int64("size", blob.Size).
				Msg("[DRY RUN] would delete orphan blob")
			result.BlobsDeleted++
			result.BytesFreed += blob.Size
			continue
		}

		removed, err := st.backend.Reclaim(ctx, blob.ID, gc.stillOrphaned(ctx))
		if err != nil {
			if !storage.IsNotFound(err) {
				log.Error().Err(err).Str("id", blob.ID).Msg("failed to delete orphan blob")
				result.Errors++
			}
			continue
		}
		if !removed {
			log.Debug().Str("id", blob.ID).Msg("orphan was claimed during the sweep, kept")
			continue
		}

		log.Debug().Str("id", blob.ID).Int64("size", blob.Size).Msg("deleted orphan blob")
		result.BlobsDeleted++
		result.BytesFreed += blob.Size
	}
}

// stillOrphaned re-checks a listed orphan once it is out of the tree. An
// upload of the same bytes in the meantime either refreshed its ModTime or
// registered a row; both keep the blob.
func (gc *GarbageCollector) stillOrphaned(ctx context.Context) func(storage.BlobInfo) (bool, error) {
	return func(blob storage.BlobInfo) (bool, error) {
		if blob.ModTime.After(time.Now().Add(-gc.config.GracePeriod)) {
			return true, nil
		}
		return gc.objectRepo.Exists(ctx, blob.ID)
	}
}

// listOrphans returns blobs older than the grace period with no index row.
func (gc *GarbageCollector) listOrphans(ctx context.Context, backend storage.Backend) ([]storage.BlobInfo, error) {
	blobs, err := backend.List(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-gc.config.GracePeriod)
	var orphans []storage.BlobInfo
	for _, blob := range blobs {
		if blob.ModTime.After(cutoff) {
			continue
		}
		exists, err := gc.objectRepo.Exists(ctx, blob.ID)
		if err != nil {
			return nil, err
		}
		if !exists {
			orphans = append(orphans, blob)
		}
	}
	return orphans, nil
}

// GetStats reports orphans eligible for deletion without removing anything.
func (gc *GarbageCollector) GetStats(ctx context.Context) (*GCStats, error) {
	stats := &GCStats{
		GracePeriod: gc.config.GracePeriod,
		NextRunIn:   gc.config.Interval,
	}
	for _, st := range gc.stores {
		orphans, err := gc.listOrphans(ctx, st.backend)
		if err != nil {
			return nil, err
		}
		for _, blob := range orphans {
			stats.OrphanBlobCount++
			stats.OrphanBlobSize += blob.Size
		}
	}
	stats.HasMoreOrphans = stats.OrphanBlobCount > gc.config.BatchSize
	return stats, nil
}

// GCStats contains garbage collection statistics.
type GCStats struct {
	OrphanBlobCount int
	OrphanBlobSize  int64
	HasMoreOrphans  bool
	GracePeriod     time.Duration
	NextRunIn       time.Duration
}
