package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kindlyrobotics/iplchat/internal/models"
)

// CreateChannelIfAbsent inserts a channel with the given uuid/name if none
// exists yet; a pre-existing row is left untouched. Used both for the
// registration-time direct-message channel and explicit channel creation.
func (e *Engine) CreateChannelIfAbsent(channelUUID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(
		`INSERT INTO channels (uuid, name) VALUES (?, ?)
		 ON CONFLICT(uuid) DO NOTHING`,
		channelUUID, name,
	)
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	e.cache.invalidate(channelUUID)
	return nil
}

// JoinChannel subscribes userUUID to channelUUID. Idempotent: a duplicate
// (channel, user) row is never inserted (spec §3 invariant). Only the
// (channel, user) direction is stored; the reverse direction the source
// additionally wrote is dropped as a redundant, suspicious duplication
// (spec §9 design note) — queries join from either side as needed.
func (e *Engine) JoinChannel(userUUID, channelUUID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var exists string
	err := e.db.QueryRow(`SELECT uuid FROM channels WHERE uuid = ?`, channelUUID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrChannelNotFound
	}
	if err != nil {
		return fmt.Errorf("store: join channel lookup: %w", err)
	}

	_, err = e.db.Exec(
		`INSERT INTO channels_users (channel, user) VALUES (?, ?)
		 ON CONFLICT(channel, user) DO NOTHING`,
		channelUUID, userUUID,
	)
	if err != nil {
		return fmt.Errorf("store: join channel insert: %w", err)
	}

	now := time.Now().UTC()
	if _, err := e.db.Exec(
		`UPDATE channels SET request_count = request_count + 1, last_request = ? WHERE uuid = ?`,
		now, channelUUID,
	); err != nil {
		return fmt.Errorf("store: join channel bump relevance: %w", err)
	}

	e.cache.invalidate(channelUUID)
	return nil
}

// readChannel loads uuid's full record, including its subscriber set,
// directly from durable storage (the "direct read" path get_channel falls
// back to when buffering is disabled or the cache misses).
func (e *Engine) readChannel(channelUUID string) (*models.Channel, error) {
	ch := &models.Channel{UUID: channelUUID, Subscribers: make(map[string]struct{})}
	var description sql.NullString
	var lastRequest sql.NullTime

	err := e.db.QueryRow(
		`SELECT name, description, created, request_count, last_request FROM channels WHERE uuid = ?`,
		channelUUID,
	).Scan(&ch.Name, &description, &ch.CreatedAt, &ch.RequestCount, &lastRequest)
	if err == sql.ErrNoRows {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read channel: %w", err)
	}
	ch.Description = description.String
	if lastRequest.Valid {
		ch.LastRequestTime = lastRequest.Time
	}

	rows, err := e.db.Query(`SELECT user FROM channels_users WHERE channel = ?`, channelUUID)
	if err != nil {
		return nil, fmt.Errorf("store: read channel subscribers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userUUID string
		if err := rows.Scan(&userUUID); err != nil {
			return nil, fmt.Errorf("store: scan subscriber: %w", err)
		}
		ch.Subscribers[userUUID] = struct{}{}
	}
	return ch, rows.Err()
}

// GetChannel resolves uuid, consulting the cache first when the engine's
// databaseBufferedAccess setting is enabled (spec §4.5).
func (e *Engine) GetChannel(channelUUID string) (*models.Channel, error) {
	if e.dbBuffered {
		if ch, ok := e.cache.get(channelUUID); ok {
			return ch, nil
		}
	}

	ch, err := e.readChannel(channelUUID)
	if err != nil {
		return nil, err
	}

	if e.dbBuffered {
		e.cache.put(ch, time.Now().UTC())
	}
	return ch, nil
}

// SubscribedChannels returns every channel userUUID is a member of.
func (e *Engine) SubscribedChannels(userUUID string) ([]*models.Channel, error) {
	rows, err := e.db.Query(
		`SELECT channel FROM channels_users WHERE user = ?`, userUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: subscribed channels: %w", err)
	}
	defer rows.Close()

	var channelUUIDs []string
	for rows.Next() {
		var channelUUID string
		if err := rows.Scan(&channelUUID); err != nil {
			return nil, fmt.Errorf("store: scan subscribed channel: %w", err)
		}
		channelUUIDs = append(channelUUIDs, channelUUID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	channels := make([]*models.Channel, 0, len(channelUUIDs))
	for _, channelUUID := range channelUUIDs {
		ch, err := e.GetChannel(channelUUID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// defaultSearchDepth caps search_users results when the caller doesn't
// specify one explicitly (spec §4.5's depth=3 default).
const defaultSearchDepth = 3

// SearchUsers returns up to depth users whose username contains pattern
// as a substring, excluding requesterName, ordered ascending by username.
// depth <= 0 applies defaultSearchDepth.
func (e *Engine) SearchUsers(requesterName, pattern string, depth int) ([]models.UserRef, error) {
	if depth <= 0 {
		depth = defaultSearchDepth
	}

	rows, err := e.db.Query(
		`SELECT uuid, username FROM users
		 WHERE username LIKE ? ESCAPE '\' AND username != ?
		 ORDER BY username ASC
		 LIMIT ?`,
		"%"+escapeLike(pattern)+"%", requesterName, depth,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search users: %w", err)
	}
	defer rows.Close()

	var refs []models.UserRef
	for rows.Next() {
		var userUUID, username string
		if err := rows.Scan(&userUUID, &username); err != nil {
			return nil, fmt.Errorf("store: scan search result: %w", err)
		}
		refs = append(refs, models.UserRef{Name: username, UUID: userUUID})
	}
	return refs, rows.Err()
}

// escapeLike escapes sqlite LIKE metacharacters so pattern is matched
// literally rather than as a wildcard expression.
func escapeLike(pattern string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(pattern)
}
