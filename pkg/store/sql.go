package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dialect holds what differs between the SQL backends.
type dialect struct {
	name      string
	schema    string
	rebind    func(query string) string
	timestamp func(t time.Time) any
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	layout_data TEXT,
	graph_data TEXT,
	processed_json TEXT,
	error_message TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
`,
	rebind: func(q string) string { return q },
	timestamp: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	layout_data TEXT,
	graph_data TEXT,
	processed_json TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
`,
	rebind:    dollarPlaceholders,
	timestamp: func(t time.Time) any { return t.UTC() },
}

// dollarPlaceholders rewrites ? placeholders as $1, $2, ...
func dollarPlaceholders(q string) string {
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SQL is a Store on database/sql, used for SQLite and PostgreSQL.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" a single database and serializes writes
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}
	return newSQL(ctx, db, sqliteDialect)
}

// OpenPostgres connects through the pgx driver.
func OpenPostgres(ctx context.Context, url string) (*SQL, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return newSQL(ctx, db, postgresDialect)
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	for _, stmt := range strings.Split(d.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQL) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = NewID()
	}
	ts := now()
	doc.Status = StatusPending
	doc.CreatedAt, doc.UpdatedAt = ts, ts

	_, err := s.exec(ctx, `
		INSERT INTO documents (id, filename, file_type, file_path, file_size, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.FileType, doc.FilePath, doc.FileSize, string(doc.Status),
		s.dialect.timestamp(ts), s.dialect.timestamp(ts),
	)
	return errors.Wrapf(err, "failed to create document %s", doc.ID)
}

const selectDocument = `
	SELECT id, filename, file_type, file_path, file_size, status,
	       layout_data, graph_data, processed_json, error_message,
	       created_at, updated_at, processed_at
	FROM documents`

func (s *SQL) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectDocument+" WHERE id = ?"), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQL) List(ctx context.Context, opts ListOptions) ([]*Document, error) {
	query := selectDocument
	var args []any
	if opts.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		if s.dialect.name == "sqlite" {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQL) update(ctx context.Context, id, set string, args ...any) error {
	args = append(args, s.dialect.timestamp(now()), id)
	res, err := s.exec(ctx, "UPDATE documents SET "+set+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, id, "status = ?", string(StatusProcessing))
}

func (s *SQL) MarkFailed(ctx context.Context, id string, message string) error {
	return s.update(ctx, id, "status = ?, error_message = ?", string(StatusFailed), message)
}

func (s *SQL) MarkCompleted(ctx context.Context, id string, results Results) error {
	layout, err := nullJSON(results.LayoutData)
	if err != nil {
		return err
	}
	graphData, err := nullJSON(results.GraphData)
	if err != nil {
		return err
	}
	processed, err := nullJSON(results.ProcessedJSON)
	if err != nil {
		return err
	}

	return s.update(ctx, id,
		"status = ?, layout_data = ?, graph_data = ?, processed_json = ?, error_message = NULL, processed_at = ?",
		string(StatusCompleted), layout, graphData, processed, s.dialect.timestamp(now()),
	)
}

func (s *SQL) Delete(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var (
		doc                          Document
		status                       string
		layout, graphData, processed sql.NullString
		errMsg                       sql.NullString
		created, updated, processedT sqlTime
	)
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.FileType, &doc.FilePath, &doc.FileSize, &status,
		&layout, &graphData, &processed, &errMsg,
		&created, &updated, &processedT,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = Status(status)
	doc.ErrorMessage = errMsg.String
	doc.CreatedAt = created.Time
	doc.UpdatedAt = updated.Time
	if processedT.Valid {
		t := processedT.Time
		doc.ProcessedAt = &t
	}

	if layout.Valid {
		if err := json.Unmarshal([]byte(layout.String), &doc.LayoutData); err != nil {
			return nil, errors.Wrap(err, "decode layout_data")
		}
	}
	if graphData.Valid {
		if err := json.Unmarshal([]byte(graphData.String), &doc.GraphData); err != nil {
			return nil, errors.Wrap(err, "decode graph_data")
		}
	}
	if processed.Valid {
		if err := json.Unmarshal([]byte(processed.String), &doc.ProcessedJSON); err != nil {
			return nil, errors.Wrap(err, "decode processed_json")
		}
	}
	return &doc, nil
}

func nullJSON(v any) (sql.NullString, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encode results")
	}
	if string(raw) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// sqlTime scans timestamps stored either natively or as RFC 3339 text.
type sqlTime struct {
	Time  time.Time
	Valid bool
}

func (t *sqlTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = x.UTC(), true
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
