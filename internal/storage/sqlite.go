package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"statusrelay/internal/model"
	"statusrelay/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSubscription inserts a new subscription and populates its ID and
// CreatedAt. Violating the (guild, channel, kind) uniqueness constraint
// returns ErrDuplicate.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (guild_id, channel_id, kind, auto_crosspost, crosspost_chat_id, last_comment_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.GuildID, sub.ChannelID, string(sub.Kind), boolToInt(sub.AutoCrosspost), sub.CrosspostChatID, sub.LastCommentID, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSubscription returns a single subscription with its tracked entities.
func (s *SQLite) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, channel_id, kind, auto_crosspost, crosspost_chat_id, last_comment_id, created_at
		 FROM subscriptions WHERE id = ?`, id,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.loadTracked(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions of the given kind,
// each populated with its tracked entities.
func (s *SQLite) ListSubscriptions(ctx context.Context, kind model.FeedKind) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, channel_id, kind, auto_crosspost, crosspost_chat_id, last_comment_id, created_at
		 FROM subscriptions WHERE kind = ? ORDER BY id`, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range subs {
		if err := s.loadTracked(ctx, &subs[i]); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// UpdateSubscription persists changes to an existing subscription's mutable
// fields. Tracked entities are persisted separately via ReplaceTracked.
func (s *SQLite) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET channel_id = ?, auto_crosspost = ?, crosspost_chat_id = ?, last_comment_id = ?
		 WHERE id = ?`,
		sub.ChannelID, boolToInt(sub.AutoCrosspost), sub.CrosspostChatID, sub.LastCommentID, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription and its tracked entities.
func (s *SQLite) DeleteSubscription(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_entities WHERE subscription_id = ?`, id); err != nil {
		return fmt.Errorf("delete tracked_entities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return tx.Commit()
}

// ReplaceTracked atomically replaces a subscription's tracked-entity set.
func (s *SQLite) ReplaceTracked(ctx context.Context, subID int64, tracked []model.TrackedEntity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_entities WHERE subscription_id = ?`, subID); err != nil {
		return fmt.Errorf("clear tracked_entities: %w", err)
	}
	for _, t := range tracked {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tracked_entities (subscription_id, entity_id, message_id, last_update_id, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			subID, t.EntityID, t.MessageID, t.LastUpdateID, t.UpdatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert tracked entity: %w", err)
		}
	}
	return tx.Commit()
}

// Checkpoint returns the stored cursor for the feed.
func (s *SQLite) Checkpoint(ctx context.Context, feed model.FeedKind) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM checkpoints WHERE feed = ?`, string(feed),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query checkpoint: %w", err)
	}
	return value, nil
}

// AdvanceCheckpoint raises the stored cursor to value only if greater.
// The comparison happens inside the database so concurrent advancement
// from the push and poll paths cannot regress the cursor.
func (s *SQLite) AdvanceCheckpoint(ctx context.Context, feed model.FeedKind, value int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (feed, value) VALUES (?, ?)
		 ON CONFLICT(feed) DO UPDATE SET value = excluded.value
		 WHERE excluded.value > checkpoints.value`,
		string(feed), value,
	)
	if err != nil {
		return false, fmt.Errorf("advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// InitCheckpoint creates the cursor row during bootstrap. An existing row
// means another writer already initialized it, which counts as success.
func (s *SQLite) InitCheckpoint(ctx context.Context, feed model.FeedKind, value int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO checkpoints (feed, value) VALUES (?, ?)`,
		string(feed), value,
	)
	if err != nil {
		return fmt.Errorf("init checkpoint: %w", err)
	}
	return nil
}

func (s *SQLite) loadTracked(ctx context.Context, sub *model.Subscription) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, message_id, last_update_id, updated_at
		 FROM tracked_entities WHERE subscription_id = ? ORDER BY entity_id`, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("query tracked_entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sub.Tracked = nil
	for rows.Next() {
		var t model.TrackedEntity
		var updated string
		if err := rows.Scan(&t.EntityID, &t.MessageID, &t.LastUpdateID, &updated); err != nil {
			return fmt.Errorf("scan tracked entity: %w", err)
		}
		t.UpdatedAt, _ = time.Parse(timeLayout, updated)
		sub.Tracked = append(sub.Tracked, t)
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var sub model.Subscription
	var kind string
	var auto int
	var crosspost sql.NullInt64
	var created sql.NullString
	err := row.Scan(&sub.ID, &sub.GuildID, &sub.ChannelID, &kind, &auto, &crosspost, &sub.LastCommentID, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Kind = model.FeedKind(kind)
	sub.AutoCrosspost = auto == 1
	if crosspost.Valid {
		v := crosspost.Int64
		sub.CrosspostChatID = &v
	}
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &sub, nil
}
