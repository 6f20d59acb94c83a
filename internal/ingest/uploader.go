package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/metrics"
	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
)

// Store is everything an upload touches.
type Store interface {
	roster.Transactor
	HistoryStore
}

// UploadResult is returned for every successfully reconciled upload.
// Warning is set when the batch committed but its history entry could not be
// written.
type UploadResult struct {
	Stats
	History *store.HistoryEntry `json:"history,omitempty"`
	Warning string              `json:"warning,omitempty"`
}

// batchLookup is implemented by stores that can tell whether a batch token
// was already used, possibly by another process.
type batchLookup interface {
	BatchUsed(ctx context.Context, batch string) (bool, error)
}

// Uploader runs one upload at a time: parse, reconcile, record history.
type Uploader struct {
	mu    sync.Mutex
	store Store
	loc   *time.Location
	now   func() time.Time

	lastBase string
	seq      int
}

// NewUploader returns an Uploader stamping batches in loc.
func NewUploader(s Store, loc *time.Location) *Uploader {
	if loc == nil {
		loc = time.UTC
	}
	return &Uploader{store: s, loc: loc, now: time.Now}
}

// Upload ingests one roster export. It fails with apperr.ErrEmptyInput, a
// *apperr.DecodeError or a *apperr.StorageError; in each case nothing has
// been written.
func (u *Uploader) Upload(ctx context.Context, data []byte) (*UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	start := time.Now()
	defer func() { metrics.UploadDuration.Observe(time.Since(start).Seconds()) }()

	now := u.now().In(u.loc)
	batch := u.nextBatch(ctx, now)

	rows, err := roster.Parse(data, batch)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(outcomeFor(err)).Inc()
		log.Warn().Err(err).Str("batch", batch).Int("bytes", len(data)).Msg("Rejected roster upload")
		return nil, err
	}

	stats, err := Reconcile(ctx, u.store, rows, batch, now)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(outcomeFor(err)).Inc()
		log.Error().Err(err).Str("batch", batch).Int("rows", len(rows)).Msg("Roster reconciliation rolled back")
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.ReconciledMembers.WithLabelValues("new").Add(float64(stats.New))
	metrics.ReconciledMembers.WithLabelValues("updated").Add(float64(stats.Updated))
	metrics.ReconciledMembers.WithLabelValues("churned").Add(float64(stats.Churned))
	metrics.ReconciledMembers.WithLabelValues("reactivated").Add(float64(stats.Reactivated))
	metrics.ReconciledMembers.WithLabelValues("purged").Add(float64(stats.Purged))

	log.Info().
		Str("batch", stats.Batch).
		Int("imported", stats.Imported).
		Int("new", stats.New).
		Int("updated", stats.Updated).
		Int("churned", stats.Churned).
		Int("reactivated", stats.Reactivated).
		Int("placeholders", stats.Placeholders).
		Int("duplicates", stats.Duplicates).
		Msg("Roster upload reconciled")

	result := &UploadResult{Stats: stats}
	entry, err := RecordHistory(ctx, u.store, stats, now)
	if err != nil {
		metrics.HistoryRecordFailures.Inc()
		log.Warn().Err(err).Str("batch", stats.Batch).Msg("Upload committed but history entry was not recorded")
		result.Warning = "upload applied but not recorded in history: " + err.Error()
		return result, nil
	}
	metrics.ActiveMembers.Set(float64(entry.ActiveMembers))
	result.History = entry
	return result, nil
}

// nextBatch returns a batch token unique to this upload. Uploads within the
// same second get a sequence suffix: 20240301_080000, 20240301_080000_2.
func (u *Uploader) nextBatch(ctx context.Context, now time.Time) string {
	base := roster.BatchToken(now)
	if base == u.lastBase {
		u.seq++
	} else {
		u.lastBase, u.seq = base, 1
	}

	lookup, ok := u.store.(batchLookup)
	for ok {
		used, err := lookup.BatchUsed(ctx, sequencedBatch(base, u.seq))
		if err != nil {
			log.Warn().Err(err).Str("batch", base).Msg("Could not check batch token reuse")
			break
		}
		if !used {
			break
		}
		u.seq++
	}
	return sequencedBatch(base, u.seq)
}

func sequencedBatch(base string, seq int) string {
	if seq <= 1 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, seq)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, apperr.ErrEmptyInput):
		return metrics.OutcomeEmpty
	case apperr.IsDecode(err):
		return metrics.OutcomeDecode
	default:
		return metrics.OutcomeStorage
	}
}
