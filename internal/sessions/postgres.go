package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/arborhq/arbor/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens the database, verifies connectivity, and ensures
// the schema exists.
func NewPostgresStore(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// DB exposes the underlying connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS editing_sessions (
			session_id       TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			user_name        TEXT NOT NULL DEFAULT '',
			user_email       TEXT NOT NULL DEFAULT '',
			canvas_id        TEXT NOT NULL,
			conversation_id  TEXT NOT NULL DEFAULT '',
			node_id          TEXT NOT NULL DEFAULT '',
			editing_type     TEXT NOT NULL,
			editing_target   TEXT NOT NULL,
			started_at       TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			has_lock         BOOLEAN NOT NULL DEFAULT FALSE,
			lock_expiry      TIMESTAMPTZ,
			version          BIGINT NOT NULL DEFAULT 1,
			UNIQUE (user_id, editing_target)
		);
		CREATE INDEX IF NOT EXISTS idx_editing_sessions_canvas
			ON editing_sessions (canvas_id, is_active);
		CREATE INDEX IF NOT EXISTS idx_editing_sessions_activity
			ON editing_sessions (last_activity_at);
		CREATE INDEX IF NOT EXISTS idx_editing_sessions_target_lock
			ON editing_sessions (editing_target) WHERE has_lock;
	`)
	return err
}

const sessionColumns = `session_id, user_id, user_name, user_email, canvas_id,
	conversation_id, node_id, editing_type, editing_target, started_at,
	last_activity_at, is_active, has_lock, lock_expiry, version`

func (s *PostgresStore) Upsert(ctx context.Context, session *models.EditingSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO editing_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		ON CONFLICT (user_id, editing_target) DO UPDATE
		SET session_id = EXCLUDED.session_id,
			last_activity_at = EXCLUDED.last_activity_at,
			is_active = TRUE,
			version = editing_sessions.version + 1
	`,
		session.SessionID, session.UserID, session.User.Name, session.User.Email,
		session.CanvasID, session.ConversationID, session.NodeID,
		string(session.EditingType), session.EditingTarget,
		session.StartedAt, session.LastActivityAt,
		session.IsActive, session.HasLock, session.LockExpiry,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*models.EditingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM editing_sessions WHERE session_id = $1
	`, sessionID)
	return scanSession(row)
}

func (s *PostgresStore) End(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE editing_sessions
		SET is_active = FALSE, has_lock = FALSE, lock_expiry = NULL,
			version = version + 1
		WHERE session_id = $1
	`, sessionID)
	return err
}

func (s *PostgresStore) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE editing_sessions
		SET last_activity_at = NOW(), version = version + 1
		WHERE session_id = $1
	`, sessionID)
	return err
}

func (s *PostgresStore) FindLockConflict(ctx context.Context, editingTarget, excludeUserID string, now time.Time) (*models.EditingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM editing_sessions
		WHERE editing_target = $1 AND user_id <> $2
			AND is_active AND has_lock AND lock_expiry > $3
		LIMIT 1
	`, editingTarget, excludeUserID, now)
	session, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return session, err
}

func (s *PostgresStore) AcquireLock(ctx context.Context, sessionID string, expiry time.Time) (*models.EditingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE editing_sessions
		SET has_lock = TRUE, lock_expiry = $2, last_activity_at = NOW(),
			version = version + 1
		WHERE session_id = $1 AND is_active
		RETURNING `+sessionColumns+`
	`, sessionID, expiry)
	return scanSession(row)
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE editing_sessions
		SET has_lock = FALSE, lock_expiry = NULL, last_activity_at = NOW(),
			version = version + 1
		WHERE session_id = $1
	`, sessionID)
	return err
}

func (s *PostgresStore) ListByCanvas(ctx context.Context, canvasID string, activeOnly bool) ([]*models.EditingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM editing_sessions WHERE canvas_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY last_activity_at DESC`

	rows, err := s.db.QueryContext(ctx, query, canvasID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EditingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ActiveCanvases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT canvas_id FROM editing_sessions WHERE is_active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeactivateStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE editing_sessions
		SET is_active = FALSE, has_lock = FALSE, lock_expiry = NULL,
			version = version + 1
		WHERE is_active
			AND (last_activity_at < $1 OR (has_lock AND lock_expiry < $2))
	`, cutoff, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *PostgresStore) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE editing_sessions
		SET has_lock = FALSE, lock_expiry = NULL, version = version + 1
		WHERE has_lock AND lock_expiry < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM editing_sessions WHERE last_activity_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.EditingSession, error) {
	var session models.EditingSession
	var conversationID, nodeID, editingType string
	var lockExpiry sql.NullTime
	err := row.Scan(
		&session.SessionID, &session.UserID, &session.User.Name, &session.User.Email,
		&session.CanvasID, &conversationID, &nodeID, &editingType,
		&session.EditingTarget, &session.StartedAt, &session.LastActivityAt,
		&session.IsActive, &session.HasLock, &lockExpiry, &session.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.User.ID = session.UserID
	session.ConversationID = conversationID
	session.NodeID = nodeID
	session.EditingType = models.EditingType(editingType)
	if lockExpiry.Valid {
		t := lockExpiry.Time
		session.LockExpiry = &t
	}
	return &session, nil
}
