package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withPragmas sets connection parameters on every pooled connection, not
// just the first one: foreign keys, a busy timeout, and BEGIN IMMEDIATE so
// writers queue on the busy handler instead of failing a read-to-write
// lock upgrade. File databases also use WAL so readers never block writers.
func withPragmas(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk=") {
		params = append(params, "_foreign_keys=1")
	}
	if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if !strings.Contains(dsn, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if !isMemoryDSN(dsn) && !strings.Contains(dsn, "_journal") {
		params = append(params, "_journal_mode=WAL")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			payload TEXT NOT NULL,
			ts INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, ts, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}

	// Transcripts copied from older deployments have no kind column; their
	// rows stay untagged and are classified when history is rebuilt.
	if err := s.ensureColumn("messages", "kind", "ALTER TABLE messages ADD COLUMN kind TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session. Returns domain.ErrConflict if the id is taken.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if session.SessionID == "" {
		return fmt.Errorf("session id is required: %w", domain.ErrInvalidInput)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.CreatedAt = session.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, metadata) VALUES (?, ?, ?, ?)`,
		session.SessionID, nullString(session.UserID), session.CreatedAt, nullJSON(session.Metadata))
	if isConstraintError(err) {
		return fmt.Errorf("session %s: %w", session.SessionID, domain.ErrConflict)
	}
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, metadata FROM sessions WHERE session_id = ?`,
		sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns sessions newest first, optionally filtered by owner.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `SELECT session_id, user_id, created_at, metadata FROM sessions`
	var args []interface{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSessionMetadata merges patch into the session's metadata object.
// Top-level keys in patch replace existing ones.
func (s *SQLiteStore) UpdateSessionMetadata(ctx context.Context, sessionID string, patch json.RawMessage) (*domain.Session, error) {
	var updates map[string]json.RawMessage
	if err := json.Unmarshal(patch, &updates); err != nil || updates == nil {
		return nil, fmt.Errorf("metadata patch must be a JSON object: %w", domain.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, metadata FROM sessions WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	merged := map[string]json.RawMessage{}
	if len(session.Metadata) > 0 {
		// Non-object metadata is replaced wholesale.
		_ = json.Unmarshal(session.Metadata, &merged)
		if merged == nil {
			merged = map[string]json.RawMessage{}
		}
	}
	for k, v := range updates {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET metadata = ? WHERE session_id = ?`, string(data), sessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.Metadata = json.RawMessage(data)
	return session, nil
}

// DeleteSession removes a session and all of its messages in one transaction.
// It reports whether the session existed.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AppendMessage stores a message at the end of a session transcript.
// The timestamp is assigned here and is strictly greater than every earlier
// timestamp in the session, even when the clock has not advanced.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, sender domain.Sender, payload domain.Payload) (*domain.Message, error) {
	if !sender.Valid() {
		return nil, fmt.Errorf("sender %q: %w", sender, domain.ErrInvalidInput)
	}
	body, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		MessageID: "msg_" + uuid.New().String(),
		SessionID: sessionID,
		Sender:    sender,
		Kind:      payload.Kind,
		Payload:   body,
	}

	// The next timestamp is computed inside the INSERT so that two writers
	// can never observe the same MAX(ts).
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, sender, kind, payload, ts)
		 SELECT ?, ?, ?, ?, ?, MAX(?, COALESCE((SELECT MAX(ts) + 1 FROM messages WHERE session_id = ?), 0))`,
		msg.MessageID, sessionID, string(sender), string(payload.Kind), body, s.now().UnixMicro(), sessionID)
	if err != nil {
		return nil, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	var ts int64
	if err := tx.QueryRowContext(ctx, `SELECT ts FROM messages WHERE seq = ?`, seq).Scan(&ts); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	msg.Seq = seq
	msg.CreatedAt = time.UnixMicro(ts).UTC()
	return msg, nil
}

// ListMessages returns a page of a session transcript ordered by timestamp.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, opts domain.ListOptions) ([]domain.Message, error) {
	order := "ASC"
	if opts.Order == domain.SortDescending {
		order = "DESC"
	}
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	offset := 0
	if opts.Offset > 0 {
		offset = opts.Offset
	}

	query := fmt.Sprintf(`SELECT seq, message_id, session_id, sender, kind, payload, ts FROM messages
		WHERE session_id = ? ORDER BY ts %s, seq %s LIMIT ? OFFSET ?`, order, order)
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var sender, kind string
		var ts int64
		if err := rows.Scan(&msg.Seq, &msg.MessageID, &msg.SessionID, &sender, &kind, &msg.Payload, &ts); err != nil {
			return nil, err
		}
		msg.Sender = domain.Sender(sender)
		msg.Kind = domain.PayloadKind(kind)
		msg.CreatedAt = time.UnixMicro(ts).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of messages stored for a session.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var userID, metadata sql.NullString
	if err := row.Scan(&session.SessionID, &userID, &session.CreatedAt, &metadata); err != nil {
		return nil, err
	}
	if userID.Valid {
		session.UserID = userID.String
	}
	if metadata.Valid && metadata.String != "" {
		session.Metadata = json.RawMessage(metadata.String)
	}
	return &session, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
