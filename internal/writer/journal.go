package writer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/rickgao/matchbridge/internal/bidstore"
	"github.com/rickgao/matchbridge/internal/bridge"
	"github.com/rickgao/matchbridge/internal/model"
)

// Journal row kinds.
const (
	KindBidSent        = "bid_sent"
	KindTransmitFailed = "transmit_failed"
	KindPriceMatched   = "price_matched"
	KindPriceUnmatched = "price_unmatched"
	KindClusterInfo    = "cluster_info"
	KindSessionClosed  = "session_closed"
	KindBidsExpired    = "bids_expired"
)

const initialQueueCap = 64

// DB is the subset of pgxpool.Pool the journal uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// JournalConfig holds batching settings.
type JournalConfig struct {
	AgentID       string
	BatchSize     int           // Rows per INSERT batch; reaching it triggers a flush
	FlushInterval time.Duration // Flush at least this often
	BufferSize    int           // Max queued rows before the oldest are dropped
}

// DefaultJournalConfig returns sensible defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    1024,
	}
}

// JournalStats contains journal counters.
type JournalStats struct {
	Queued  int
	Written int64
	Dropped int64
	Flushes int64
	Errors  int64
}

// entry is one bridge_journal row.
type entry struct {
	Kind       string
	OccurredAt time.Time
	SessionID  pgtype.UUID
	Seq        pgtype.Int8
	Price      decimal.NullDecimal
	LatencyUs  pgtype.Int8
	Detail     string
}

// Journal records bridge events. It implements bridge.Observer.
type Journal struct {
	bridge.NopObserver

	cfg    JournalConfig
	db     DB
	logger *slog.Logger
	queue  *queue[entry]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushMu sync.Mutex

	// Metrics
	statsMu sync.Mutex
	written int64
	flushes int64
	errors  int64
}

// NewJournal creates a Journal writing to db.
func NewJournal(cfg JournalConfig, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultJournalConfig().BatchSize
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultJournalConfig().BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultJournalConfig().FlushInterval
	}

	initial := initialQueueCap
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}

	return &Journal{
		cfg:    cfg,
		db:     db,
		logger: logger,
		queue:  newQueue[entry](initial, cfg.BufferSize, cfg.BatchSize),
	}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := j.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Start begins the flush loop.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
		"buffer_size", j.cfg.BufferSize,
	)
	return nil
}

// Stop halts the flush loop and writes whatever is still queued.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	j.queue.Close()
	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
		return ctx.Err()
	}

	// Final flush
	err := j.flushAll(ctx)
	j.logger.Info("journal stopped", "written", j.Stats().Written)
	return err
}

// Stats returns current counters.
func (j *Journal) Stats() JournalStats {
	qs := j.queue.Stats()

	j.statsMu.Lock()
	defer j.statsMu.Unlock()
	return JournalStats{
		Queued:  qs.Len,
		Written: j.written,
		Dropped: qs.Dropped,
		Flushes: j.flushes,
		Errors:  j.errors,
	}
}

func (j *Journal) BidSent(update model.BidUpdate, sessionID uuid.UUID, sentAt time.Time) {
	j.push(entry{
		Kind:       KindBidSent,
		OccurredAt: sentAt,
		SessionID:  sessionUUID(sessionID),
		Seq:        pgtype.Int8{Int64: update.Seq, Valid: true},
		Detail:     "agents=" + strconv.Itoa(len(update.Bid.AgentBids)),
	})
}

func (j *Journal) TransmitFailed(seq int64, err error) {
	j.push(entry{
		Kind:       KindTransmitFailed,
		OccurredAt: time.Now(),
		Seq:        pgtype.Int8{Int64: seq, Valid: true},
		Detail:     errString(err),
	})
}

func (j *Journal) PriceMatched(update model.PriceUpdate, rec bidstore.Record, receivedAt time.Time) {
	j.push(entry{
		Kind:       KindPriceMatched,
		OccurredAt: receivedAt,
		Seq:        pgtype.Int8{Int64: update.Seq, Valid: true},
		Price:      decimal.NewNullDecimal(update.Price.Value),
		LatencyUs:  pgtype.Int8{Int64: receivedAt.Sub(rec.SentAt).Microseconds(), Valid: true},
	})
}

func (j *Journal) PriceUnmatched(seq int64) {
	j.push(entry{
		Kind:       KindPriceUnmatched,
		OccurredAt: time.Now(),
		Seq:        pgtype.Int8{Int64: seq, Valid: true},
	})
}

func (j *Journal) ClusterInfoApplied(info model.ClusterInfo) {
	j.push(entry{
		Kind:       KindClusterInfo,
		OccurredAt: time.Now(),
		Detail:     info.ClusterID,
	})
}

func (j *Journal) SessionClosed(sessionID uuid.UUID, err error) {
	j.push(entry{
		Kind:       KindSessionClosed,
		OccurredAt: time.Now(),
		SessionID:  sessionUUID(sessionID),
		Detail:     errString(err),
	})
}

func (j *Journal) BidsExpired(n int) {
	j.push(entry{
		Kind:       KindBidsExpired,
		OccurredAt: time.Now(),
		Detail:     "count=" + strconv.Itoa(n),
	})
}

func (j *Journal) push(e entry) {
	if !j.queue.Push(e) {
		j.logger.Debug("journal closed, dropping row", "kind", e.Kind)
	}
}

// flushLoop writes a batch when enough rows are queued or the interval elapses.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.queue.Ready():
			j.flushAll(j.ctx)
		case <-ticker.C:
			j.flushAll(j.ctx)
		}
	}
}

// flushAll writes queued rows in BatchSize chunks until the queue is empty
// or a write fails.
func (j *Journal) flushAll(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	for {
		rows := j.queue.Drain(j.cfg.BatchSize)
		if len(rows) == 0 {
			return nil
		}
		if err := j.flush(ctx, rows); err != nil {
			return err
		}
		if len(rows) < j.cfg.BatchSize {
			return nil
		}
	}
}

// flush writes one batch. Failed rows are dropped and counted.
func (j *Journal) flush(ctx context.Context, rows []entry) error {
	start := time.Now()

	if err := j.batchInsert(ctx, rows); err != nil {
		j.logger.Error("journal batch insert failed", "error", err, "count", len(rows))
		j.statsMu.Lock()
		j.errors++
		j.statsMu.Unlock()
		return err
	}

	j.statsMu.Lock()
	j.written += int64(len(rows))
	j.flushes++
	j.statsMu.Unlock()

	j.logger.Debug("flushed journal",
		"count", len(rows),
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch.
func (j *Journal) batchInsert(ctx context.Context, rows []entry) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEntry,
			j.cfg.AgentID, r.Kind, r.OccurredAt, r.SessionID, r.Seq, r.Price, r.LatencyUs, r.Detail,
		)
	}

	results := j.db.SendBatch(ctx, batch)

	var errs []error
	for range rows {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, err)
			break
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sessionUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
