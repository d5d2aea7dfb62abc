package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/rickgao/matchbridge/internal/bidstore"
	"github.com/rickgao/matchbridge/internal/bridge"
	"github.com/rickgao/matchbridge/internal/model"
)

var _ bridge.Observer = (*Journal)(nil)

func testJournalConfig() JournalConfig {
	return JournalConfig{
		AgentID:       "bridge-1",
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
		BufferSize:    100,
	}
}

func waitForRows(t *testing.T, db *fakeDB, n int) []*pgx.QueuedQuery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rows := db.rows(); len(rows) >= n {
			return rows
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d rows, have %d", n, len(db.rows()))
	return nil
}

func TestJournal_BidSentRow(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(testJournalConfig(), db, nil)

	sessionID := uuid.New()
	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	update := model.BidUpdate{
		Seq: 7,
		Bid: model.AggregatedBid{AgentBids: map[string]int64{"a": 1, "b": 2}},
	}
	j.BidSent(update, sessionID, sentAt)

	rows := j.queue.Drain(0)
	if len(rows) != 1 {
		t.Fatalf("queued %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.Kind != KindBidSent {
		t.Errorf("Kind = %q, want %q", row.Kind, KindBidSent)
	}
	if !row.OccurredAt.Equal(sentAt) {
		t.Errorf("OccurredAt = %v, want %v", row.OccurredAt, sentAt)
	}
	if !row.SessionID.Valid || uuid.UUID(row.SessionID.Bytes) != sessionID {
		t.Errorf("SessionID = %v, want %v", row.SessionID, sessionID)
	}
	if row.Seq != (pgtype.Int8{Int64: 7, Valid: true}) {
		t.Errorf("Seq = %v, want 7", row.Seq)
	}
	if row.Detail != "agents=2" {
		t.Errorf("Detail = %q, want agents=2", row.Detail)
	}
}

func TestJournal_PriceMatchedRow(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(testJournalConfig(), db, nil)

	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	receivedAt := sentAt.Add(1500 * time.Microsecond)
	update := model.PriceUpdate{
		Seq:   7,
		Price: model.Price{Value: decimal.RequireFromString("0.42")},
	}
	j.PriceMatched(update, bidstore.Record{Seq: 7, SentAt: sentAt}, receivedAt)

	row := j.queue.Drain(0)[0]
	if row.Kind != KindPriceMatched {
		t.Errorf("Kind = %q, want %q", row.Kind, KindPriceMatched)
	}
	if !row.Price.Valid || !row.Price.Decimal.Equal(decimal.RequireFromString("0.42")) {
		t.Errorf("Price = %v, want 0.42", row.Price)
	}
	if row.LatencyUs.Int64 != 1500 {
		t.Errorf("LatencyUs = %d, want 1500", row.LatencyUs.Int64)
	}
	if row.SessionID.Valid {
		t.Error("SessionID should be NULL for price rows")
	}
}

func TestJournal_EventRows(t *testing.T) {
	j := NewJournal(testJournalConfig(), &fakeDB{}, nil)

	j.TransmitFailed(3, errors.New("broken pipe"))
	j.PriceUnmatched(99)
	j.ClusterInfoApplied(model.ClusterInfo{ClusterID: "cluster-1"})
	j.SessionClosed(uuid.Nil, nil)
	j.BidsExpired(4)
	j.DecodeFailed(errors.New("ignored"))

	rows := j.queue.Drain(0)
	want := []struct {
		kind   string
		detail string
	}{
		{KindTransmitFailed, "broken pipe"},
		{KindPriceUnmatched, ""},
		{KindClusterInfo, "cluster-1"},
		{KindSessionClosed, ""},
		{KindBidsExpired, "count=4"},
	}
	if len(rows) != len(want) {
		t.Fatalf("queued %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if rows[i].Kind != w.kind || rows[i].Detail != w.detail {
			t.Errorf("row %d = (%q, %q), want (%q, %q)", i, rows[i].Kind, rows[i].Detail, w.kind, w.detail)
		}
	}
	if rows[3].SessionID.Valid {
		t.Error("nil session id should be stored as NULL")
	}
}

func TestJournal_FlushesOnInterval(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(testJournalConfig(), db, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	j.PriceUnmatched(1)
	j.PriceUnmatched(2)

	rows := waitForRows(t, db, 2)
	if rows[0].Arguments[0] != "bridge-1" {
		t.Errorf("agent_id arg = %v, want bridge-1", rows[0].Arguments[0])
	}
	if rows[0].Arguments[1] != KindPriceUnmatched {
		t.Errorf("kind arg = %v, want %s", rows[0].Arguments[1], KindPriceUnmatched)
	}
	if len(rows[0].Arguments) != 8 {
		t.Errorf("got %d args, want 8", len(rows[0].Arguments))
	}
}

func TestJournal_FlushesFullBatch(t *testing.T) {
	db := &fakeDB{}
	cfg := testJournalConfig()
	cfg.FlushInterval = time.Hour
	j := NewJournal(cfg, db, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	for i := 0; i < cfg.BatchSize; i++ {
		j.PriceUnmatched(int64(i))
	}

	waitForRows(t, db, cfg.BatchSize)
}

func TestJournal_StopFlushesRemaining(t *testing.T) {
	db := &fakeDB{}
	cfg := testJournalConfig()
	cfg.FlushInterval = time.Hour
	j := NewJournal(cfg, db, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 25; i++ {
		j.PriceUnmatched(int64(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(db.rows()); got != 25 {
		t.Errorf("wrote %d rows, want 25", got)
	}
	stats := j.Stats()
	if stats.Written != 25 {
		t.Errorf("Written = %d, want 25", stats.Written)
	}
	if stats.Queued != 0 {
		t.Errorf("Queued = %d, want 0", stats.Queued)
	}

	// Rows after Stop are rejected
	j.PriceUnmatched(100)
	if j.queue.Len() != 0 {
		t.Error("row accepted after Stop")
	}
}

func TestJournal_InsertErrorCounted(t *testing.T) {
	db := &fakeDB{}
	db.setFailing(true)
	j := NewJournal(testJournalConfig(), db, nil)

	j.PriceUnmatched(1)
	if err := j.flushAll(context.Background()); !errors.Is(err, errInsert) {
		t.Fatalf("flushAll error = %v, want errInsert", err)
	}

	stats := j.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Written != 0 {
		t.Errorf("Written = %d, want 0", stats.Written)
	}
}

func TestJournal_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(testJournalConfig(), db, nil)

	if err := j.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if len(db.execs) != len(schema) {
		t.Errorf("executed %d statements, want %d", len(db.execs), len(schema))
	}
}

func TestDefaultJournalConfig(t *testing.T) {
	j := NewJournal(JournalConfig{}, &fakeDB{}, nil)
	def := DefaultJournalConfig()

	if j.cfg.BatchSize != def.BatchSize {
		t.Errorf("BatchSize = %d, want %d", j.cfg.BatchSize, def.BatchSize)
	}
	if j.cfg.BufferSize != def.BufferSize {
		t.Errorf("BufferSize = %d, want %d", j.cfg.BufferSize, def.BufferSize)
	}
	if j.cfg.FlushInterval != def.FlushInterval {
		t.Errorf("FlushInterval = %v, want %v", j.cfg.FlushInterval, def.FlushInterval)
	}
}
