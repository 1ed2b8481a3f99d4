// Package pipeline orchestrates the ingestion run: chunk sequencing, day
// splitting, field transformation, persistence, and the follow-up reports.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"weatherpipe/internal/archive"
	"weatherpipe/internal/config"
	"weatherpipe/internal/ingest"
	"weatherpipe/internal/report"
	"weatherpipe/internal/store"
)

// Pipeline runs the configured ingestion and reporting stages.
type Pipeline struct {
	cfg *config.Config
	log *slog.Logger
}

// New wires a pipeline over a validated configuration.
func New(cfg *config.Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: log}
}

// dsn resolves the connection string for the configured backend.
func dsn(s config.Storage) string {
	if s.Backend == "postgres" {
		return s.PostgresDSN
	}
	return s.SQLitePath
}

// Ingest fetches the configured date range chunk by chunk and persists every
// day: raw artifact, processed artifact, and an idempotent upsert keyed by
// date. Each chunk commits in its own transaction, so a failure mid-run
// keeps all previously completed chunks.
func (p *Pipeline) Ingest(ctx context.Context) error {
	cfg := p.cfg

	client, err := archive.NewClient(
		time.Duration(cfg.Archive.TimeoutSec)*time.Second,
		cfg.Archive.MaxAttempts,
		p.log,
	)
	if err != nil {
		return err
	}

	seq, err := archive.NewChunkSequence(client, cfg.Archive.BaseURL, archive.Request{
		Latitude:  cfg.Location.Latitude,
		Longitude: cfg.Location.Longitude,
		Timezone:  cfg.Location.Timezone,
		StartDate: cfg.Range.StartDate,
		EndDate:   cfg.Range.EndDate,
		ChunkDays: cfg.Range.ChunkDays,
		DailyVars: cfg.Archive.DailyVariables,
	}, p.log)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Backend, dsn(cfg.Storage), p.log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	persister := store.NewPersister(db, store.NewArtifactStore(cfg.Storage.DataDir), p.log)

	totalDays := 0
	for {
		chunk, ok, err := seq.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		days, padded, err := ingest.SplitDays(chunk)
		if err != nil {
			return err
		}
		if padded > 0 {
			p.log.Warn("misaligned daily arrays padded with nulls",
				"chunk_start", chunk.Span.Start, "chunk_end", chunk.Span.End, "cells", padded)
		}

		chunkDays := make([]store.ChunkDay, 0, len(days))
		for _, day := range days {
			chunkDays = append(chunkDays, store.ChunkDay{
				Date: day.Date,
				Raw:  day.Body,
				Row:  ingest.TransformDay(day, ingest.ClampNull),
			})
		}
		if err := persister.PersistChunk(ctx, chunkDays); err != nil {
			return fmt.Errorf("persisting chunk %s..%s: %w", chunk.Span.Start, chunk.Span.End, err)
		}

		totalDays += len(days)
		p.log.Info("chunk persisted",
			"chunk_start", chunk.Span.Start, "chunk_end", chunk.Span.End, "days", len(days))
	}

	if dropped := seq.DroppedVars(); len(dropped) > 0 {
		p.log.Warn("archive rejected daily variables for this run", "dropped", dropped)
	}
	if totalDays == 0 {
		return archive.ErrNoData
	}

	p.log.Info("ingestion complete", "days", totalDays)
	return nil
}

// RunReports executes the configured metric queries and materializes the
// report artifacts. It returns the report directory.
func (p *Pipeline) RunReports(ctx context.Context) (string, error) {
	cfg := p.cfg

	db, err := store.Open(cfg.Storage.Backend, dsn(cfg.Storage), p.log)
	if err != nil {
		return "", err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return "", err
	}

	runner := report.NewRunner(db, cfg.Reports.SQLDir, cfg.Storage.DataDir, cfg.Reports.Files, p.log)
	dir, err := runner.Run(ctx)
	if err != nil {
		return "", err
	}
	p.log.Info("reports written", "dir", dir)
	return dir, nil
}

// DumpTable exports the weather_daily table to a timestamped CSV under a
// per-backend directory. backend overrides the configured storage backend
// when non-empty; outputRoot defaults to <data>/db. It returns the written
// file path.
func (p *Pipeline) DumpTable(ctx context.Context, backend, outputRoot string) (string, error) {
	storage := p.cfg.Storage
	if backend != "" {
		switch backend {
		case "sqlite", "postgres":
			storage.Backend = backend
		default:
			return "", fmt.Errorf("unsupported backend for dump: %q", backend)
		}
	}
	if outputRoot == "" {
		outputRoot = filepath.Join(storage.DataDir, "db")
	}

	db, err := store.Open(storage.Backend, dsn(storage), p.log)
	if err != nil {
		return "", err
	}
	defer db.Close()

	// No schema bootstrap here: exporting from a database that was never
	// ingested into is an error the caller should see.
	return report.NewDumper(db, outputRoot, p.log).Dump(ctx)
}

// Run performs a full pipeline pass: ingestion followed by reports.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Ingest(ctx); err != nil {
		return err
	}
	_, err := p.RunReports(ctx)
	return err
}
