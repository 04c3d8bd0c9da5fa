package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// trafficAccumulator coalesces many small progress updates into infrequent
// writes, since a write per chunk (every few hundred KiB at gigabit
// speeds) would otherwise dominate the checkpoint database's I/O.
type trafficAccumulator struct {
	mu                sync.Mutex
	pendingUploaded   int64
	pendingDownloaded int64
}

// RecordTrafficBytes accumulates uploaded/downloaded byte counts and
// flushes them to the database once the pending total crosses
// trafficCoalesceBytes.
func (s *Store) RecordTrafficBytes(ctx context.Context, uploaded, downloaded int64) error {
	s.traffic.mu.Lock()
	s.traffic.pendingUploaded += uploaded
	s.traffic.pendingDownloaded += downloaded

	flushUploaded := s.traffic.pendingUploaded
	flushDownloaded := s.traffic.pendingDownloaded
	shouldFlush := flushUploaded+flushDownloaded >= trafficCoalesceBytes

	if shouldFlush {
		s.traffic.pendingUploaded = 0
		s.traffic.pendingDownloaded = 0
	}

	s.traffic.mu.Unlock()

	if !shouldFlush {
		return nil
	}

	return s.flushTraffic(ctx, flushUploaded, flushDownloaded)
}

// FlushTraffic forces any pending accumulated traffic to the database,
// for callers that need the total accurate immediately (e.g. reporting
// final transfer status).
func (s *Store) FlushTraffic(ctx context.Context) error {
	s.traffic.mu.Lock()
	uploaded := s.traffic.pendingUploaded
	downloaded := s.traffic.pendingDownloaded
	s.traffic.pendingUploaded = 0
	s.traffic.pendingDownloaded = 0
	s.traffic.mu.Unlock()

	if uploaded == 0 && downloaded == 0 {
		return nil
	}

	return s.flushTraffic(ctx, uploaded, downloaded)
}

func (s *Store) flushTraffic(ctx context.Context, uploaded, downloaded int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE traffic_stats SET bytes_uploaded = bytes_uploaded + ?, bytes_downloaded = bytes_downloaded + ?, updated_at = ? WHERE id = 1`,
		uploaded, downloaded, nowUnixNano(),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: flushing traffic stats: %w", err)
	}

	return nil
}

// TrafficStats is the cumulative lifetime byte counters.
type TrafficStats struct {
	BytesUploaded   int64
	BytesDownloaded int64
}

// ReadTrafficStats returns the cumulative lifetime traffic counters. It
// does not include unflushed bytes still pending in the accumulator.
func (s *Store) ReadTrafficStats(ctx context.Context) (*TrafficStats, error) {
	stats := &TrafficStats{}

	err := s.db.QueryRowContext(ctx, `SELECT bytes_uploaded, bytes_downloaded FROM traffic_stats WHERE id = 1`).
		Scan(&stats.BytesUploaded, &stats.BytesDownloaded)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading traffic stats: %w", err)
	}

	return stats, nil
}
