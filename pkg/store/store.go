package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wakb/wakb/pkg/kb"
)

// Store handles all database operations for group, message, and topic
// persistence. It implements the pkg/kb store interfaces.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance and initializes the database
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the database schema and runs migrations
func (s *Store) init() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		return err
	}

	return nil
}

func (s *Store) runMigrations() error {
	currentVersion, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Statements {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.Exec(stmt); err != nil && !isIgnorableMigrationError(err) {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.Version, err)
			}
		}

		now := time.Now().UnixMilli()
		if _, err := tx.Exec(`
			INSERT INTO sync_metadata (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, "schema_version", strconv.Itoa(m.Version), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema_version for migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		currentVersion = m.Version
	}

	return nil
}

func (s *Store) getSchemaVersion() (int, error) {
	value, err := s.GetSyncMetadata("schema_version")
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema_version %q: %w", value, err)
	}
	return v, nil
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists")
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SetSyncMetadata stores a metadata key/value pair
func (s *Store) SetSyncMetadata(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO sync_metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

// GetSyncMetadata retrieves a metadata value, empty string when absent
func (s *Store) GetSyncMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// UpsertGroup inserts or updates a group and replaces its community keys
func (s *Store) UpsertGroup(ctx context.Context, g kb.Group) error {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO groups (jid, name, managed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), groups.name),
			managed = excluded.managed,
			updated_at = excluded.updated_at
	`, g.GroupJID, g.Name, g.Managed, now, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_communities WHERE group_jid = ?`, g.GroupJID); err != nil {
		return err
	}
	for _, key := range g.CommunityKeys {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_communities (group_jid, community_key) VALUES (?, ?)
		`, g.GroupJID, key); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// EnsureGroupExists creates a minimal unmanaged group record if it doesn't
// exist. The managed flag of an existing row is left untouched.
func (s *Store) EnsureGroupExists(ctx context.Context, groupJID, name string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (jid, name, managed, created_at, updated_at)
		VALUES (?, ?, FALSE, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), groups.name),
			updated_at = excluded.updated_at
	`, groupJID, name, now, now)
	return err
}

// GetGroup returns the group for a JID, or nil when unknown
func (s *Store) GetGroup(ctx context.Context, groupJID string) (*kb.Group, error) {
	var g kb.Group
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT jid, name, managed FROM groups WHERE jid = ?
	`, groupJID).Scan(&g.GroupJID, &name, &g.Managed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Name = name.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT community_key FROM group_communities WHERE group_jid = ? ORDER BY community_key
	`, groupJID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		g.CommunityKeys = append(g.CommunityKeys, key)
	}
	return &g, rows.Err()
}

// GetCommunityGroups returns groups sharing a community key with the given
// group, excluding the group itself
func (s *Store) GetCommunityGroups(ctx context.Context, groupJID string) ([]kb.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT g.jid, g.name, g.managed
		FROM groups g
		JOIN group_communities gc ON gc.group_jid = g.jid
		WHERE gc.community_key IN (
			SELECT community_key FROM group_communities WHERE group_jid = ?
		) AND g.jid != ?
		ORDER BY g.jid
	`, groupJID, groupJID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []kb.Group
	for rows.Next() {
		var g kb.Group
		var name sql.NullString
		if err := rows.Scan(&g.GroupJID, &name, &g.Managed); err != nil {
			return nil, err
		}
		g.Name = name.String
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// EnsureSenderExists creates a minimal sender record if it doesn't exist,
// filling in the push name when one is known
func (s *Store) EnsureSenderExists(ctx context.Context, senderJID, pushName string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO senders (jid, push_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			push_name = COALESCE(NULLIF(excluded.push_name, ''), senders.push_name),
			updated_at = excluded.updated_at
	`, senderJID, pushName, now, now)
	return err
}

// UpsertMessage inserts or updates a message
func (s *Store) UpsertMessage(ctx context.Context, m kb.Message) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_jid, group_jid, sender_jid, text, timestamp_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, chat_jid) DO UPDATE SET
			text = excluded.text,
			timestamp_ms = excluded.timestamp_ms
	`, m.MessageID, m.ChatJID, m.GroupJID, m.SenderJID, m.Text, m.Timestamp.UnixMilli(), now)
	return err
}

// UpsertReaction records a reaction to a message, replacing any previous
// reaction by the same sender
func (s *Store) UpsertReaction(ctx context.Context, chatJID, messageID, senderJID, emoji string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reactions (chat_jid, message_id, sender_jid, emoji, timestamp_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_jid, message_id, sender_jid) DO UPDATE SET
			emoji = excluded.emoji,
			timestamp_ms = excluded.timestamp_ms
	`, chatJID, messageID, senderJID, emoji, now)
	return err
}

// RemoveReaction deletes a sender's reaction to a message
func (s *Store) RemoveReaction(ctx context.Context, chatJID, messageID, senderJID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE chat_jid = ? AND message_id = ? AND sender_jid = ?
	`, chatJID, messageID, senderJID)
	return err
}

// RecentHistory returns the most recent messages in a chat in chronological
// order, excluding one sender (the bot's own messages)
func (s *Store) RecentHistory(ctx context.Context, chatJID, excludeSenderJID string, limit int) ([]kb.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_jid, COALESCE(group_jid, ''), sender_jid, COALESCE(text, ''), timestamp_ms
		FROM messages
		WHERE chat_jid = ? AND sender_jid != ? AND text IS NOT NULL AND text != ''
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`, chatJID, excludeSenderJID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query returns newest first; prompts want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// TodayHistory returns today's messages in a chat in chronological order,
// excluding one sender
func (s *Store) TodayHistory(ctx context.Context, chatJID, excludeSenderJID string, limit int) ([]kb.Message, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_jid, COALESCE(group_jid, ''), sender_jid, COALESCE(text, ''), timestamp_ms
		FROM messages
		WHERE chat_jid = ? AND sender_jid != ? AND timestamp_ms >= ? AND text IS NOT NULL AND text != ''
		ORDER BY timestamp_ms ASC
		LIMIT ?
	`, chatJID, excludeSenderJID, midnight.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]kb.Message, error) {
	var messages []kb.Message
	for rows.Next() {
		var m kb.Message
		var timestampMs int64
		if err := rows.Scan(&m.MessageID, &m.ChatJID, &m.GroupJID, &m.SenderJID, &m.Text, &timestampMs); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(timestampMs)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpsertTopic inserts or updates a knowledge-base topic
func (s *Store) UpsertTopic(ctx context.Context, t kb.Topic) error {
	now := time.Now().UnixMilli()
	// milvus_synced resets on every write so the indexer re-embeds changes.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kbtopics (id, group_jid, subject, summary, milvus_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_jid = excluded.group_jid,
			subject = excluded.subject,
			summary = excluded.summary,
			milvus_synced = 0,
			updated_at = excluded.updated_at
	`, t.ID, t.GroupJID, t.Subject, t.Summary, now, now)
	return err
}

// SearchTopicsKeyword finds topics whose subject or summary contains any of
// the keywords, restricted to the given group scope. Matching is
// case-insensitive substring.
func (s *Store) SearchTopicsKeyword(ctx context.Context, keywords, groupJIDs []string, limit int) ([]kb.Topic, error) {
	if len(groupJIDs) == 0 {
		return nil, kb.ErrScopeRequired
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(groupJIDs)+2*len(keywords)+1)

	sb.WriteString(`
		SELECT id, COALESCE(group_jid, ''), subject, summary
		FROM kbtopics
		WHERE group_jid IS NOT NULL AND group_jid != '' AND group_jid IN (`)
	for i, jid := range groupJIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
		args = append(args, jid)
	}
	sb.WriteString(") AND (")
	for i, kw := range keywords {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString(`lower(subject) LIKE ? ESCAPE '\' OR lower(summary) LIKE ? ESCAPE '\'`)
		pattern := "%" + escapeLike(strings.ToLower(kw)) + "%"
		args = append(args, pattern, pattern)
	}
	sb.WriteString(`) ORDER BY updated_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []kb.Topic
	for rows.Next() {
		var t kb.Topic
		if err := rows.Scan(&t.ID, &t.GroupJID, &t.Subject, &t.Summary); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// escapeLike escapes LIKE wildcards in user-derived keywords, paired with an
// ESCAPE '\' clause in the query.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// CountEligibleTopics counts topics attached to a group
func (s *Store) CountEligibleTopics(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kbtopics WHERE group_jid IS NOT NULL AND group_jid != ''
	`).Scan(&n)
	return n, err
}

// CountManagedGroups counts groups with the knowledge base enabled
func (s *Store) CountManagedGroups(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups WHERE managed`).Scan(&n)
	return n, err
}

// ListManagedGroups returns the groups with the knowledge base enabled
func (s *Store) ListManagedGroups(ctx context.Context) ([]kb.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jid, name FROM groups WHERE managed ORDER BY jid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []kb.Group
	for rows.Next() {
		var g kb.Group
		var name sql.NullString
		if err := rows.Scan(&g.GroupJID, &name); err != nil {
			return nil, err
		}
		g.Name = name.String
		g.Managed = true
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Stats holds knowledge-base statistics for the status endpoint
type Stats struct {
	TotalGroups    int64 `json:"total_groups"`
	ManagedGroups  int64 `json:"managed_groups"`
	TotalTopics    int64 `json:"total_topics"`
	EligibleTopics int64 `json:"eligible_topics"`
	OrphanTopics   int64 `json:"orphan_topics"`
}

// TopicStats returns aggregate counts over groups and topics
func (s *Store) TopicStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups`).Scan(&stats.TotalGroups); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups WHERE managed`).Scan(&stats.ManagedGroups); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kbtopics`).Scan(&stats.TotalTopics); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kbtopics
		WHERE group_jid IS NOT NULL AND group_jid != ''
		  AND group_jid IN (SELECT jid FROM groups)
	`).Scan(&stats.EligibleTopics); err != nil {
		return stats, err
	}
	stats.OrphanTopics = stats.TotalTopics - stats.EligibleTopics
	return stats, nil
}
