package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// archiveBatchLimit bounds how many fills one export object holds.
const archiveBatchLimit = 5000

// FillArchiveStore reads and prunes aged fill events.
type FillArchiveStore interface {
	FillsBefore(ctx context.Context, before time.Time, limit int) ([]domain.FillEvent, error)
	DeleteFillsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveWriter uploads one export object.
type ArchiveWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports fill events older than the retention window to cold
// storage as NDJSON, then deletes them from Postgres. Export happens fully
// before deletion, so a crash mid-run leaves duplicates in the archive
// rather than holes.
type Archiver struct {
	fills     FillArchiveStore
	writer    ArchiveWriter
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver keeping retention worth of fills hot.
func NewArchiver(fills FillArchiveStore, writer ArchiveWriter, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		fills:     fills,
		writer:    writer,
		retention: retention,
		logger:    logger.With("component", "archiver"),
	}
}

// RunLoop archives on the given interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archive pass failed", "error", err.Error())
			}
		}
	}
}

// RunOnce exports and prunes everything older than the retention cutoff.
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)

	var exported int
	for {
		fills, err := a.fills.FillsBefore(ctx, cutoff, archiveBatchLimit)
		if err != nil {
			return fmt.Errorf("pipeline: load fills for archive: %w", err)
		}
		if len(fills) == 0 {
			break
		}

		path := archivePath(cutoff, fills)
		if err := a.export(ctx, path, fills); err != nil {
			return err
		}
		exported += len(fills)

		// Prune what was just exported so the next page advances. A full
		// page deletes up to (not including) its newest timestamp, which
		// may re-export a few rows on the next page; the final partial
		// page covers everything up to the cutoff.
		prune := cutoff
		if len(fills) == archiveBatchLimit {
			prune = fillCutoff(fills)
		}
		if _, err := a.fills.DeleteFillsBefore(ctx, prune); err != nil {
			return fmt.Errorf("pipeline: prune archived fills: %w", err)
		}

		if len(fills) < archiveBatchLimit {
			break
		}
	}

	if exported > 0 {
		a.logger.Info("archived fills",
			"count", exported,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}

func (a *Archiver) export(ctx context.Context, path string, fills []domain.FillEvent) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range fills {
		if err := enc.Encode(&fills[i]); err != nil {
			return fmt.Errorf("pipeline: encode fill for archive: %w", err)
		}
	}
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("pipeline: upload archive %s: %w", path, err)
	}
	return nil
}

// archivePath keys the export by cutoff date and the block span it covers.
func archivePath(cutoff time.Time, fills []domain.FillEvent) string {
	first := fills[0].Base.Block
	last := fills[len(fills)-1].Base.Block
	return fmt.Sprintf("fills/%s/%d-%d.ndjson", cutoff.Format("2006-01-02"), first, last)
}

// fillCutoff bounds pruning of a full page. Deleting strictly before the
// newest timestamp keeps rows the page may have split, at the cost of
// re-exporting them; when the whole page shares one timestamp it steps past
// it to guarantee progress.
func fillCutoff(fills []domain.FillEvent) time.Time {
	newest := fills[len(fills)-1].Base.Timestamp
	oldest := fills[0].Base.Timestamp
	if newest == oldest {
		return time.Unix(newest+1, 0).UTC()
	}
	return time.Unix(newest, 0).UTC()
}
