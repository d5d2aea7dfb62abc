package writer

// schema creates the journal table. Statements run one at a time.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bridge_journal (
		id          BIGSERIAL   PRIMARY KEY,
		agent_id    TEXT        NOT NULL,
		kind        TEXT        NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		session_id  UUID,
		seq         BIGINT,
		price       NUMERIC,
		latency_us  BIGINT,
		detail      TEXT        NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS bridge_journal_agent_seq_idx
		ON bridge_journal (agent_id, seq)`,
	`CREATE INDEX IF NOT EXISTS bridge_journal_occurred_at_idx
		ON bridge_journal (occurred_at)`,
}

const insertEntry = `
	INSERT INTO bridge_journal (agent_id, kind, occurred_at, session_id, seq, price, latency_us, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
