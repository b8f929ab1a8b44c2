package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/basisdesk/engine/internal/types"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	t              TEXT NOT NULL,
	order_within_t INTEGER NOT NULL,
	event_type     TEXT NOT NULL,
	venue          TEXT,
	token          TEXT,
	amount         TEXT,
	status         TEXT,
	purpose        TEXT,
	wallet_snap    TEXT,
	cex_snap       TEXT,
	aave_snap      TEXT,
	parent_event   INTEGER,
	iteration      INTEGER,
	tx_hash        TEXT,
	block_number   INTEGER,
	PRIMARY KEY (t, order_within_t)
);
`

// SQLiteSink durably appends events to a WAL-mode SQLite file, one row per
// event, in the order Write is called. Grounded on the pack's
// modernc.org/sqlite PRAGMA conventions (WAL, synchronous=FULL for an
// append-only audit trail — this is the ledger profile, not the cache
// profile).
type SQLiteSink struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// NewSQLiteSink opens (creating if absent) the sqlite file at path and
// prepares the events table.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening event log sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating events schema: %w", err)
	}
	stmt, err := db.Prepare(`INSERT INTO events
		(t, order_within_t, event_type, venue, token, amount, status, purpose,
		 wallet_snap, cex_snap, aave_snap, parent_event, iteration, tx_hash, block_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing event insert: %w", err)
	}
	return &SQLiteSink{db: db, stmt: stmt}, nil
}

func (s *SQLiteSink) Write(ev types.Event) error {
	wallet, err := json.Marshal(ev.WalletSnap)
	if err != nil {
		return err
	}
	cex, err := json.Marshal(ev.CEXSnap)
	if err != nil {
		return err
	}
	aave, err := json.Marshal(ev.AaveSnap)
	if err != nil {
		return err
	}

	_, err = s.stmt.Exec(
		ev.T.Format("2006-01-02T15:04:05.000000000Z07:00"),
		ev.OrderWithinT,
		string(ev.EventType),
		ev.Venue,
		ev.Token,
		ev.Amount.String(),
		ev.Status,
		ev.Purpose,
		string(wallet),
		string(cex),
		string(aave),
		ev.ParentEvent,
		ev.Iteration,
		ev.TxHash,
		ev.BlockNumber,
	)
	return err
}

func (s *SQLiteSink) Close() error {
	if err := s.stmt.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
