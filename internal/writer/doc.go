// Package writer journals bridge events to PostgreSQL.
//
// The Journal observes the bridge and appends one row per event to the
// bridge_journal table: bids sent, prices matched or unmatched, cluster
// announcements, session closures and expired bids. Rows are queued without
// blocking the bridge and written in batches with pgx.Batch.
//
// The journal is append-only. Losing rows never affects matching: when the
// queue is full the oldest rows are dropped and counted.
package writer
