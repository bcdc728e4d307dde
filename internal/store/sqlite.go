package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/smarttodo/tasksync/internal/schema"
)

// SQLite is the durable Store, an embedded SQLite database in WAL mode.
type SQLite struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

var _ Store = (*SQLite)(nil)

// Open creates or opens the database at path and initializes its schema.
//
// Any failure along the way is wrapped in ErrStorageUnavailable.
//
// The caller MUST call Close() when done.
func Open(path string) (*SQLite, error) {
	return OpenContext(context.Background(), path, nil)
}

// OpenContext is Open with a context and logger.
func OpenContext(ctx context.Context, path string, logger *log.Logger) (*SQLite, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrStorageUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{conn: conn, path: path, logger: logger}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA synchronous=NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: failed to %s: %v", ErrStorageUnavailable, p.what, err)
		}
	}

	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// RawDB returns the underlying sql.DB connection.
func (s *SQLite) RawDB() *sql.DB { return s.conn }

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist. It is
// idempotent.
func (s *SQLite) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *SQLite) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		due_date TEXT,
		category TEXT NOT NULL DEFAULT '',
		important INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		user_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		action TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON payload
		timestamp TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
	CREATE INDEX IF NOT EXISTS idx_categories_user ON categories(user_id);
	CREATE INDEX IF NOT EXISTS idx_queue_type ON sync_queue(type);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, timestamp, id);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertTaskSQL = `
	INSERT INTO tasks (
		id, title, description, status, priority, due_date, category,
		important, created_at, updated_at, completed_at, user_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		due_date = excluded.due_date,
		category = excluded.category,
		important = excluded.important,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		completed_at = excluded.completed_at,
		user_id = excluded.user_id
	`

func upsertTask(ctx context.Context, ex execer, t *schema.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	_, err := ex.ExecContext(ctx, upsertTaskSQL,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		timeToNullString(t.DueDate), t.Category, boolToInt(t.Important),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		timeToNullString(t.CompletedAt), t.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// PutTask inserts or replaces a task.
func (s *SQLite) PutTask(ctx context.Context, t *schema.Task) error {
	return upsertTask(ctx, s.conn, t)
}

const selectTaskSQL = `
	SELECT id, title, description, status, priority, due_date, category,
	       important, created_at, updated_at, completed_at, user_id
	FROM tasks`

// GetTask returns the task with the given id, or ErrNotFound.
func (s *SQLite) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	rows, err := s.conn.QueryContext(ctx, selectTaskSQL+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return tasks[0], nil
}

// ListTasks returns tasks matching q ordered by creation time.
func (s *SQLite) ListTasks(ctx context.Context, q TaskQuery) ([]*schema.Task, error) {
	var conditions []string
	var args []any

	if q.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.DueBefore != nil {
		conditions = append(conditions, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, formatTime(*q.DueBefore))
	}

	query := selectTaskSQL
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DeleteTask removes a task. Deleting a missing task is not an error.
func (s *SQLite) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// ReplaceTasks swaps the task collection in one transaction.
func (s *SQLite) ReplaceTasks(ctx context.Context, tasks []*schema.Task) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	for _, t := range tasks {
		if err := upsertTask(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const upsertCategorySQL = `
	INSERT INTO categories (id, name, color, user_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		user_id = excluded.user_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`

func upsertCategory(ctx context.Context, ex execer, c *schema.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}
	var updated sql.NullString
	if !c.UpdatedAt.IsZero() {
		updated = timeToNullString(&c.UpdatedAt)
	}
	_, err := ex.ExecContext(ctx, upsertCategorySQL,
		c.ID, c.Name, c.Color, c.UserID, formatTime(c.CreatedAt), updated)
	if err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", c.ID, err)
	}
	return nil
}

// PutCategory inserts or replaces a category.
func (s *SQLite) PutCategory(ctx context.Context, c *schema.Category) error {
	return upsertCategory(ctx, s.conn, c)
}

const selectCategorySQL = `SELECT id, name, color, user_id, created_at, updated_at FROM categories`

// GetCategory returns the category with the given id, or ErrNotFound.
func (s *SQLite) GetCategory(ctx context.Context, id string) (*schema.Category, error) {
	rows, err := s.conn.QueryContext(ctx, selectCategorySQL+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", id, err)
	}
	defer rows.Close()

	cats, err := scanCategories(rows)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return cats[0], nil
}

// ListCategories returns categories owned by userID (all when empty),
// ordered by name.
func (s *SQLite) ListCategories(ctx context.Context, userID string) ([]*schema.Category, error) {
	query := selectCategorySQL
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()
	return scanCategories(rows)
}

// DeleteCategory removes a category. Deleting a missing category is not an
// error.
func (s *SQLite) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete category %s: %w", id, err)
	}
	return nil
}

// ReplaceCategories swaps the category collection in one transaction.
func (s *SQLite) ReplaceCategories(ctx context.Context, cats []*schema.Category) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories`); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}
	for _, c := range cats {
		if err := upsertCategory(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AppendEntry stores e with a fresh id. e.ID is ignored.
func (s *SQLite) AppendEntry(ctx context.Context, e *schema.QueueEntry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue entry: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (type, action, data, timestamp, status, retry_count, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), string(e.Action), string(e.Payload), formatTime(e.Timestamp),
		string(entryStatus(e.Status)), e.RetryCount, e.LastError,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue entry id: %w", err)
	}
	return id, nil
}

// PutEntry inserts or replaces the entry with e.ID.
func (s *SQLite) PutEntry(ctx context.Context, e *schema.QueueEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}
	if e.ID <= 0 {
		return fmt.Errorf("queue entry id must be positive (got %d)", e.ID)
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (id, type, action, data, timestamp, status, retry_count, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		action = excluded.action,
		data = excluded.data,
		timestamp = excluded.timestamp,
		status = excluded.status,
		retry_count = excluded.retry_count,
		last_error = excluded.last_error`,
		e.ID, string(e.Type), string(e.Action), string(e.Payload), formatTime(e.Timestamp),
		string(entryStatus(e.Status)), e.RetryCount, e.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to put queue entry %d: %w", e.ID, err)
	}
	return nil
}

const selectEntrySQL = `SELECT id, type, action, data, timestamp, status, retry_count, last_error FROM sync_queue`

// GetEntry returns the queue entry with the given id, or ErrNotFound.
func (s *SQLite) GetEntry(ctx context.Context, id int64) (*schema.QueueEntry, error) {
	rows, err := s.conn.QueryContext(ctx, selectEntrySQL+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry %d: %w", id, err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("queue entry %d: %w", id, ErrNotFound)
	}
	return entries[0], nil
}

// ListEntries returns queue entries matching q in FIFO order.
func (s *SQLite) ListEntries(ctx context.Context, q EntryQuery) ([]*schema.QueueEntry, error) {
	var conditions []string
	var args []any
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(q.Type))
	}

	query := selectEntrySQL
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DeleteEntry removes a queue entry. Deleting a missing entry is not an
// error.
func (s *SQLite) DeleteEntry(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	return nil
}

var tableNames = map[Collection]string{
	Tasks:      "tasks",
	Categories: "categories",
	SyncQueue:  "sync_queue",
}

// Clear empties the named collections in one transaction.
func (s *SQLite) Clear(ctx context.Context, colls ...Collection) error {
	colls, err := resolveCollections(colls)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range colls {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableNames[c]); err != nil {
			return fmt.Errorf("failed to clear %s: %w", c, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of records in coll.
func (s *SQLite) Count(ctx context.Context, coll Collection) (int, error) {
	table, ok := tableNames[coll]
	if !ok {
		return 0, fmt.Errorf("unknown collection %q", coll)
	}
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", coll, err)
	}
	return count, nil
}

// Size returns the database size as page_count * page_size.
func (s *SQLite) Size(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := s.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := s.conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to read page size: %w", err)
	}
	return pages * pageSize, nil
}

func scanTasks(rows *sql.Rows) ([]*schema.Task, error) {
	var tasks []*schema.Task

	for rows.Next() {
		var t schema.Task
		var status, priority, createdAt, updatedAt string
		var dueDate, completedAt sql.NullString
		var important int

		err := rows.Scan(
			&t.ID,
			&t.Title,
			&t.Description,
			&status,
			&priority,
			&dueDate,
			&t.Category,
			&important,
			&createdAt,
			&updatedAt,
			&completedAt,
			&t.UserID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		t.Status = schema.Status(status)
		t.Priority = schema.Priority(priority)
		t.Important = important != 0
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		t.DueDate = nullStringToTime(dueDate)
		t.CompletedAt = nullStringToTime(completedAt)

		tasks = append(tasks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanCategories(rows *sql.Rows) ([]*schema.Category, error) {
	var cats []*schema.Category

	for rows.Next() {
		var c schema.Category
		var createdAt string
		var updatedAt sql.NullString

		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.UserID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		if u := nullStringToTime(updatedAt); u != nil {
			c.UpdatedAt = *u
		}
		cats = append(cats, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return cats, nil
}

func scanEntries(rows *sql.Rows) ([]*schema.QueueEntry, error) {
	var entries []*schema.QueueEntry

	for rows.Next() {
		var e schema.QueueEntry
		var typ, action, data, ts, status string

		err := rows.Scan(&e.ID, &typ, &action, &data, &ts, &status, &e.RetryCount, &e.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("queue entry %d has a corrupt payload", e.ID)
		}
		e.Type = schema.EntryType(typ)
		e.Action = schema.Action(action)
		e.Payload = json.RawMessage(data)
		e.Timestamp = parseTime(ts)
		e.Status = schema.EntryStatus(status)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

func entryStatus(s schema.EntryStatus) schema.EntryStatus {
	if s == "" {
		return schema.EntryPending
	}
	return s
}

// Timestamps are stored as fixed-width UTC RFC 3339 strings so that text
// ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsUnavailable reports whether err stems from durable storage being
// unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
