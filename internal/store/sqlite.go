package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/joshsymonds/mailfold/internal/rules"
)

// driverName registers fold(), the case-folding function filter clauses are
// rendered against. SQLite's LOWER folds ASCII only; routing both the stored
// column and the in-memory comparison through strings.ToLower keeps the two
// filter derivations in agreement on non-ASCII text.
const driverName = "sqlite3_mailfold"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", strings.ToLower, true)
		},
	})
}

const messagesSchema = `
	CREATE TABLE IF NOT EXISTS messages (
		id        TEXT PRIMARY KEY,
		sender    TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		subject   TEXT NOT NULL DEFAULT '',
		snippet   TEXT NOT NULL DEFAULT '',
		received  INTEGER NOT NULL DEFAULT 0,
		is_read   BOOLEAN NOT NULL DEFAULT 0,
		labels    TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_messages_received ON messages (received);
`

// Only the mutable fields are touched on conflict; sender, subject and the
// received timestamp keep their first-seen values.
const upsertStmt = `
	INSERT INTO messages (id, sender, recipient, subject, snippet, received, is_read, labels)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		is_read = excluded.is_read,
		labels  = excluded.labels
`

const selectColumns = "id, sender, recipient, subject, snippet, received, is_read, labels"

// SQLite is the Store implementation over a local SQLite file.
type SQLite struct {
	db        *sql.DB
	setRead   *sql.Stmt
	setLabels *sql.Stmt
	getByID   *sql.Stmt
	countAll  *sql.Stmt
}

// Open opens (creating if needed) the message database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, storeErr("open", err)
	}
	// A single connection serializes writes and keeps concurrent reads safe,
	// including for in-memory databases.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(messagesSchema); err != nil {
		_ = db.Close()
		return nil, storeErr("migrate", err)
	}
	s := &SQLite{db: db}
	for _, p := range []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.setRead, "UPDATE messages SET is_read = ? WHERE id = ?"},
		{&s.setLabels, "UPDATE messages SET labels = ? WHERE id = ?"},
		{&s.getByID, "SELECT " + selectColumns + " FROM messages WHERE id = ?"},
		{&s.countAll, "SELECT COUNT(*) FROM messages"},
	} {
		stmt, prepErr := db.Prepare(p.sql)
		if prepErr != nil {
			_ = db.Close()
			return nil, storeErr("prepare", prepErr)
		}
		*p.dst = stmt
	}
	return s, nil
}

func (s *SQLite) Close() error {
	for _, stmt := range []*sql.Stmt{s.setRead, s.setLabels, s.getByID, s.countAll} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *SQLite) UpsertBatch(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin batch", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertStmt)
	if err != nil {
		_ = tx.Rollback()
		return 0, storeErr("prepare batch", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, rec := range records {
		_, execErr := stmt.ExecContext(ctx,
			rec.ID, rec.Sender, rec.Recipient, rec.Subject, rec.Snippet,
			rec.Received, rec.Read, JoinLabels(rec.Labels),
		)
		if execErr != nil {
			_ = tx.Rollback()
			return 0, storeErr(fmt.Sprintf("upsert %s", rec.ID), execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit batch", err)
	}
	return len(records), nil
}

func (s *SQLite) QueryFilter(ctx context.Context, expr rules.Expr, now time.Time) ([]Record, error) {
	clause, args := expr.SQL(now)
	query := "SELECT " + selectColumns + " FROM messages WHERE " + clause + " ORDER BY received, id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query filter", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *SQLite) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM messages ORDER BY received, id")
	if err != nil {
		return nil, storeErr("query all", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *SQLite) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.getByID.QueryRowContext(ctx, id))
	if err != nil {
		return Record{}, storeErr(fmt.Sprintf("get %s", id), err)
	}
	return rec, nil
}

func (s *SQLite) SetRead(ctx context.Context, id string, read bool) error {
	_, err := s.setRead.ExecContext(ctx, read, id)
	return storeErr(fmt.Sprintf("set read %s", id), err)
}

func (s *SQLite) SetLabels(ctx context.Context, id string, labels []string) error {
	_, err := s.setLabels.ExecContext(ctx, JoinLabels(labels), id)
	return storeErr(fmt.Sprintf("set labels %s", id), err)
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.countAll.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var labels string
	err := row.Scan(&rec.ID, &rec.Sender, &rec.Recipient, &rec.Subject,
		&rec.Snippet, &rec.Received, &rec.Read, &labels)
	if err != nil {
		return Record{}, err
	}
	rec.Labels = SplitLabels(labels)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rows", err)
	}
	return out, nil
}

var _ Store = (*SQLite)(nil)
