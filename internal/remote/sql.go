package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQL is a remote backed by a database/sql connection holding one
// documents table. OpenLibSQL points it at a libSQL server; OpenSQLite at a
// shared SQLite file.
type SQL struct {
	conn   *sql.DB
	now    func() time.Time
	logger *log.Logger
}

var _ Store = (*SQL)(nil)

// NewSQL wraps an open connection and creates the documents table.
func NewSQL(ctx context.Context, conn *sql.DB, logger *log.Logger) (*SQL, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	s := &SQL{conn: conn, now: time.Now, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens a remote backed by the SQLite file at path.
func OpenSQLite(ctx context.Context, path string, logger *log.Logger) (*SQL, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s, err := NewSQL(ctx, conn, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		user_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON object
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_coll ON documents(user_id, collection);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return classify(fmt.Errorf("failed to initialize remote schema: %w", err))
	}
	return nil
}

// classify marks database errors as transient unless they carry a more
// specific sentinel already.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func (s *SQL) Set(ctx context.Context, userID, coll, id string, doc map[string]any) (string, error) {
	now := s.now()
	data, err := normalize(doc, now)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	delete(data, "id")
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO documents (user_id, collection, id, data, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, collection, id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at`,
		userID, coll, id, string(raw), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", classify(fmt.Errorf("failed to set %s/%s: %w", coll, id, err))
	}
	return id, nil
}

func (s *SQL) Update(ctx context.Context, userID, coll, id string, fields map[string]any) error {
	now := s.now()
	resolved, err := normalize(fields, now)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE user_id = ? AND collection = ? AND id = ?`,
		userID, coll, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	if err != nil {
		return classify(fmt.Errorf("failed to read %s/%s: %w", coll, id, err))
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("corrupt document %s/%s: %w", coll, id, err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	applyFields(data, resolved)
	delete(data, "id")

	out, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE user_id = ? AND collection = ? AND id = ?`,
		string(out), now.UTC().Format(time.RFC3339Nano), userID, coll, id)
	if err != nil {
		return classify(fmt.Errorf("failed to update %s/%s: %w", coll, id, err))
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, userID, coll, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND collection = ? AND id = ?`,
		userID, coll, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete %s/%s: %w", coll, id, err))
	}
	return nil
}

// Query loads the collection and filters it in process; collections are
// per-user and small.
func (s *SQL) Query(ctx context.Context, userID, coll string, q Query) ([]Document, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE user_id = ? AND collection = ?`,
		userID, coll)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query %s: %w", coll, err))
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, classify(fmt.Errorf("failed to scan document: %w", err))
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			s.logger.Printf("Warning: skipping corrupt document %s/%s: %v", coll, id, err)
			continue
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating documents: %w", err))
	}
	return selectDocuments(docs, q), nil
}

func (s *SQL) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close remote database: %w", err)
	}
	s.conn = nil
	return nil
}
