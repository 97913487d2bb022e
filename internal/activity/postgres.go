package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// PostgresStore implements Store on PostgreSQL. It shares the connection
// pool with the session store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore ensures the schema and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure activity schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activities (
			id              TEXT PRIMARY KEY,
			canvas_id       TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			node_id         TEXT NOT NULL DEFAULT '',
			user_id         TEXT NOT NULL,
			user_name       TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL,
			priority        TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			metadata        JSONB,
			batch_id        TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activities_canvas_time
			ON activities (canvas_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_activities_created
			ON activities (created_at);
	`)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, activity *models.Activity) error {
	var metadata []byte
	if activity.Metadata != nil {
		raw, err := json.Marshal(activity.Metadata)
		if err != nil {
			return fmt.Errorf("marshal activity metadata: %w", err)
		}
		metadata = raw
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, canvas_id, conversation_id, node_id,
			user_id, user_name, type, priority, description, metadata,
			batch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		activity.ID, activity.CanvasID, activity.ConversationID, activity.NodeID,
		activity.UserID, activity.UserName, string(activity.Type),
		string(activity.Priority), activity.Description, metadata,
		activity.BatchID, activity.Timestamp,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*models.Activity, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CanvasID != "" {
		where = append(where, "canvas_id = "+arg(filter.CanvasID))
	}
	if filter.ConversationID != "" {
		where = append(where, "conversation_id = "+arg(filter.ConversationID))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = "+arg(filter.UserID))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = arg(string(t))
		}
		where = append(where, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at < "+arg(filter.Until))
	}

	query := `SELECT id, canvas_id, conversation_id, node_id, user_id,
		user_name, type, priority, description, metadata, batch_id, created_at
		FROM activities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		var activity models.Activity
		var activityType, priority string
		var metadata []byte
		err := rows.Scan(
			&activity.ID, &activity.CanvasID, &activity.ConversationID,
			&activity.NodeID, &activity.UserID, &activity.UserName,
			&activityType, &priority, &activity.Description, &metadata,
			&activity.BatchID, &activity.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		activity.Type = models.ActivityType(activityType)
		activity.Priority = models.ActivityPriority(priority)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &activity.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal activity metadata: %w", err)
			}
		}
		out = append(out, &activity)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Summary(ctx context.Context, canvasID string, since time.Time) (*models.ActivitySummary, error) {
	summary := &models.ActivitySummary{
		CanvasID:    canvasID,
		ByType:      make(map[models.ActivityType]models.ActivityTypeBreakdown),
		TopUsers:    []models.ActivityUserCount{},
		GeneratedAt: time.Now().UTC(),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*), COUNT(DISTINCT user_id), MAX(created_at)
		FROM activities
		WHERE canvas_id = $1 AND created_at >= $2
		GROUP BY type
	`, canvasID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var activityType string
		var breakdown models.ActivityTypeBreakdown
		if err := rows.Scan(&activityType, &breakdown.Count, &breakdown.UserCount, &breakdown.LatestActivity); err != nil {
			return nil, err
		}
		summary.ByType[models.ActivityType(activityType)] = breakdown
		summary.TotalCount += breakdown.Count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	userRows, err := s.db.QueryContext(ctx, `
		SELECT user_id, user_name, COUNT(*)
		FROM activities
		WHERE canvas_id = $1 AND created_at >= $2
		GROUP BY user_id, user_name
		ORDER BY COUNT(*) DESC
		LIMIT 10
	`, canvasID, since)
	if err != nil {
		return nil, err
	}
	defer userRows.Close()
	for userRows.Next() {
		var user models.ActivityUserCount
		if err := userRows.Scan(&user.UserID, &user.UserName, &user.Count); err != nil {
			return nil, err
		}
		summary.TopUsers = append(summary.TopUsers, user)
	}
	return summary, userRows.Err()
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM activities WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close is a no-op; the pool belongs to the session store.
func (s *PostgresStore) Close() error { return nil }
