package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatfeed/internal/constants"
	"chatfeed/internal/models"
)

var (
	// ErrForbidden is returned when a user changes a message they did not write.
	ErrForbidden = errors.New("forbidden")

	// ErrCursorNotFound means a history cursor names no message, live or
	// deleted, in the channel.
	ErrCursorNotFound = errors.New("cursor not found")
)

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// HistoryPage is one page of a channel's history, newest first.
type HistoryPage struct {
	Messages   []*models.Message
	HasMore    bool
	NextCursor string
}

const selectMessage = `SELECT m.id, m.channel_id, m.author_id, COALESCE(u.username, ''), m.content, m.created_at, m.edited_at
		FROM messages m
		LEFT JOIN users u ON m.author_id = u.id`

func (r *MessageRepository) Create(channelID, authorID, content string, attachments []models.Attachment) (*models.Message, error) {
	id, err := GenerateID("msg")
	if err != nil {
		return nil, fmt.Errorf("generating message ID: %w", err)
	}
	now := time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, channel_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, channelID, authorID, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	for i, a := range attachments {
		attID, err := GenerateID("att")
		if err != nil {
			return nil, fmt.Errorf("generating attachment ID: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO attachments (id, message_id, name, mime_type, size, position) VALUES (?, ?, ?, ?, ?, ?)`,
			attID, id, a.Name, a.MimeType, a.Size, i,
		)
		if err != nil {
			return nil, fmt.Errorf("creating attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	return r.FindByID(id, authorID)
}

// ListHistory returns up to limit messages of a channel older than beforeID,
// newest first. A cursor pointing at a deleted message still pages from its
// old position; one that never existed in the channel is ErrCursorNotFound.
func (r *MessageRepository) ListHistory(channelID, beforeID, viewerID string, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = constants.MessageHistoryDefaultLimit
	}
	limit = min(limit, constants.MessageHistoryMaxLimit)

	query := selectMessage + ` WHERE m.channel_id = ?`
	args := []any{channelID}

	if beforeID != "" {
		seq, err := r.cursorSeq(channelID, beforeID)
		if err != nil {
			return nil, err
		}
		query += ` AND m.seq < ?`
		args = append(args, seq)
	}
	query += ` ORDER BY m.seq DESC LIMIT ?`
	args = append(args, limit+1)

	messages, err := r.query(query, args...)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{}
	if len(messages) > limit {
		page.HasMore = true
		messages = messages[:limit]
	}
	if err := r.loadDetails(messages, viewerID); err != nil {
		return nil, err
	}
	page.Messages = messages
	if page.HasMore {
		page.NextCursor = messages[len(messages)-1].ID
	}

	return page, nil
}

func (r *MessageRepository) FindByID(id, viewerID string) (*models.Message, error) {
	m, err := scanMessage(r.db.QueryRow(selectMessage+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	if err := r.loadDetails([]*models.Message{m}, viewerID); err != nil {
		return nil, err
	}
	return m, nil
}

// Update replaces the content of a message written by authorID.
func (r *MessageRepository) Update(id, authorID, content string) (*models.Message, error) {
	if err := r.checkAuthor(id, authorID); err != nil {
		return nil, err
	}

	result, err := r.db.Exec(
		`UPDATE messages SET content = ?, edited_at = ? WHERE id = ?`,
		content, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}

	return r.FindByID(id, authorID)
}

// Delete removes a message written by authorID and returns its channel.
func (r *MessageRepository) Delete(id, authorID string) (string, error) {
	m, err := r.FindByID(id, authorID)
	if err != nil {
		return "", err
	}
	if m.AuthorID != authorID {
		return "", ErrForbidden
	}

	tx, err := r.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO message_tombstones (id, channel_id, seq, deleted_at)
		 SELECT id, channel_id, seq, ? FROM messages WHERE id = ?`,
		time.Now().UTC(), id,
	); err != nil {
		return "", fmt.Errorf("recording tombstone: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return "", fmt.Errorf("deleting message: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing delete: %w", err)
	}
	return m.ChannelID, nil
}

// cursorSeq resolves a history cursor to its position, falling back to the
// tombstone of a deleted message.
func (r *MessageRepository) cursorSeq(channelID, id string) (int64, error) {
	var seq int64
	err := r.db.QueryRow(
		`SELECT seq FROM messages WHERE id = ? AND channel_id = ?
		 UNION ALL
		 SELECT seq FROM message_tombstones WHERE id = ? AND channel_id = ?
		 LIMIT 1`,
		id, channelID, id, channelID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCursorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolving cursor: %w", err)
	}
	return seq, nil
}

func (r *MessageRepository) AddReaction(messageID, userID, emoji string) (*models.Message, error) {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
		messageID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("adding reaction: %w", err)
	}
	return r.FindByID(messageID, userID)
}

func (r *MessageRepository) RemoveReaction(messageID, userID, emoji string) (*models.Message, error) {
	_, err := r.db.Exec(
		`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji,
	)
	if err != nil {
		return nil, fmt.Errorf("removing reaction: %w", err)
	}
	return r.FindByID(messageID, userID)
}

// DeleteOlderThan removes every message created before cutoff, leaving
// tombstones behind, and prunes tombstones recorded before cutoff.
func (r *MessageRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM message_tombstones WHERE deleted_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("pruning tombstones: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO message_tombstones (id, channel_id, seq, deleted_at)
		 SELECT id, channel_id, seq, ? FROM messages WHERE created_at < ?`,
		time.Now().UTC(), cutoff,
	); err != nil {
		return 0, fmt.Errorf("recording tombstones: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing cleanup: %w", err)
	}
	return deleted, nil
}

func (r *MessageRepository) checkAuthor(id, authorID string) error {
	var owner string
	err := r.db.QueryRow(`SELECT author_id FROM messages WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying message author: %w", err)
	}
	if owner != authorID {
		return ErrForbidden
	}
	return nil
}

func (r *MessageRepository) query(query string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// loadDetails fills attachments and reactions for messages in two queries.
func (r *MessageRepository) loadDetails(messages []*models.Message, viewerID string) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[string]*models.Message, len(messages))
	ids := make([]any, len(messages))
	for i, m := range messages {
		byID[m.ID] = m
		ids[i] = m.ID
	}
	in := placeholders(len(ids))

	rows, err := r.db.Query(
		`SELECT id, message_id, name, mime_type, size FROM attachments
		WHERE message_id IN (`+in+`) ORDER BY message_id, position`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("querying attachments: %w", err)
	}
	for rows.Next() {
		var a models.Attachment
		var messageID string
		if err := rows.Scan(&a.ID, &messageID, &a.Name, &a.MimeType, &a.Size); err != nil {
			rows.Close()
			return fmt.Errorf("scanning attachment: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating attachments: %w", err)
	}

	args := append([]any{viewerID}, ids...)
	rows, err = r.db.Query(
		`SELECT message_id, emoji, COUNT(*), MAX(user_id = ?) FROM reactions
		WHERE message_id IN (`+in+`)
		GROUP BY message_id, emoji ORDER BY message_id, MIN(created_at)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var re models.Reaction
		var messageID string
		if err := rows.Scan(&messageID, &re.Emoji, &re.Count, &re.Me); err != nil {
			return fmt.Errorf("scanning reaction: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Reactions = append(m.Reactions, re)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating reactions: %w", err)
	}

	return nil
}

// scanMessage reads the columns selected by selectMessage.
func scanMessage(s rowScanner) (*models.Message, error) {
	var (
		m        models.Message
		editedAt nullableTime
	)
	if err := s.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.AuthorName, &m.Content, &m.CreatedAt, &editedAt); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	m.EditedAt = editedAt.ptr()
	return &m, nil
}
