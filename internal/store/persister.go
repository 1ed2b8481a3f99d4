package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"weatherpipe/internal/ingest"
)

// ChunkDay bundles everything persisted for one date: the raw per-day
// payload and its normalized row.
type ChunkDay struct {
	Date string
	Raw  map[string]any
	Row  *ingest.Row
}

// Persister writes a chunk's days to durable storage: raw artifact,
// processed artifact, then the relational upsert, all days of the chunk
// inside one transaction.
type Persister struct {
	DB        *DB
	Artifacts *ArtifactStore
	Clock     func() time.Time
	Log       *slog.Logger
}

// NewPersister wires a Persister over the given database and artifact tree.
func NewPersister(db *DB, artifacts *ArtifactStore, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{DB: db, Artifacts: artifacts, Clock: time.Now, Log: log}
}

// PersistChunk persists every day of one chunk. Any failure rolls back the
// chunk's table writes; previously committed chunks are unaffected.
func (p *Persister) PersistChunk(ctx context.Context, days []ChunkDay) error {
	tx, err := p.DB.BeginChunk(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := p.Clock()
	for _, day := range days {
		if err := p.Artifacts.WriteRaw(day.Date, day.Raw); err != nil {
			return err
		}

		row, err := NewDayRow(day.Row, now)
		if err != nil {
			return fmt.Errorf("normalizing %s: %w", day.Date, err)
		}
		if err := p.Artifacts.WriteProcessed(row.Date, row); err != nil {
			return err
		}
		if err := p.DB.UpsertDay(ctx, tx, row); err != nil {
			return err
		}
		p.Log.Debug("day persisted", "date", row.Date)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk of %d days: %w", len(days), err)
	}
	return nil
}
