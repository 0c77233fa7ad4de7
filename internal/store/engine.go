package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/logging"
)

const passwordSaltSize = 16

// Engine is the persistence engine (spec §4.5, §4.6): durable catalogue
// access, the channel cache, the message write queue, and the snapshot
// ring. All writes serialize behind mu; reads may run concurrently
// against the sqlite handle (spec §5).
type Engine struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger

	cfg        *config.Config
	dbPath     string
	dbBuffered bool

	cache *channelCache
	queue *writeQueue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open opens (creating if absent) the engine's sqlite database per cfg
// and starts its background flush timer. No snapshot timer is started;
// snapshots are taken only when SaveSnapshot is called.
func Open(cfg *config.Config) (*Engine, error) {
	dbPath := databaseFilePath(cfg.DatabasePath, cfg.DatabaseName)
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		db:         db,
		log:        logging.New("Store"),
		cfg:        cfg,
		dbPath:     dbPath,
		dbBuffered: cfg.DatabaseBufferedAccess,
		cache:      newChannelCache(channelCacheCapacity),
		queue:      newWriteQueue(cfg.DatabaseQueueSize),
		stopCh:     make(chan struct{}),
	}

	e.wg.Add(1)
	go e.flushTimerLoop()

	return e, nil
}

// Close stops background timers, flushes any pending writes, and closes
// the database handle.
func (e *Engine) Close() error {
	close(e.stopCh)
	e.wg.Wait()

	if err := e.Flush(); err != nil {
		e.log.Errorf("final flush failed: %v", err)
	}
	return e.db.Close()
}

func (e *Engine) flushTimerLoop() {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.DatabaseFlushMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Flush(); err != nil {
				e.log.Errorf("periodic flush failed: %v", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

// RegisterClient creates a new user and returns the fresh uuid. It
// returns ErrUserExists if the username is taken. On success, the broker
// additionally creates a same-named, same-uuid direct-message channel
// (spec §4.6); RegisterClient itself only touches the users table.
func (e *Engine) RegisterClient(username, password string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var existing string
	err := e.db.QueryRow(`SELECT uuid FROM users WHERE username = ?`, username).Scan(&existing)
	if err == nil {
		return "", ErrUserExists
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("store: register lookup: %w", err)
	}

	salt, err := crypto.RandomBytes(passwordSaltSize)
	if err != nil {
		return "", fmt.Errorf("store: register salt: %w", err)
	}
	hash := crypto.DeriveKeyFromPassword(password, salt)
	userUUID := uuid.New().String()

	_, err = e.db.Exec(
		`INSERT INTO users (uuid, username, password, salt) VALUES (?, ?, ?, ?)`,
		userUUID, username, hash, salt,
	)
	if err != nil {
		return "", fmt.Errorf("store: register insert: %w", err)
	}
	return userUUID, nil
}

// Login verifies (username, password) and, on success, marks the user
// authenticated and returns their uuid. Returns ErrUserNotFound or
// ErrInvalidPassword on failure; the broker maps both to a single
// generic LOGIN_ERROR so as not to disclose which precondition failed.
func (e *Engine) Login(username, password string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var userUUID string
	var storedHash, salt []byte
	err := e.db.QueryRow(
		`SELECT uuid, password, salt FROM users WHERE username = ?`, username,
	).Scan(&userUUID, &storedHash, &salt)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: login lookup: %w", err)
	}

	candidate := crypto.DeriveKeyFromPassword(password, salt)
	if !crypto.ConstantTimeEqual(candidate, storedHash) {
		return "", ErrInvalidPassword
	}

	_, err = e.db.Exec(
		`UPDATE users SET is_authenticated = 1, last_auth = ? WHERE uuid = ?`,
		time.Now().UTC(), userUUID,
	)
	if err != nil {
		return "", fmt.Errorf("store: login update: %w", err)
	}
	return userUUID, nil
}

// Deauthenticate clears a user's authenticated flag, on disconnect or
// LOGOUT_REQUEST.
func (e *Engine) Deauthenticate(userUUID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(`UPDATE users SET is_authenticated = 0 WHERE uuid = ?`, userUUID)
	if err != nil {
		return fmt.Errorf("store: deauthenticate: %w", err)
	}
	return nil
}

// GetUserUUID resolves a username to its uuid.
func (e *Engine) GetUserUUID(username string) (string, error) {
	var userUUID string
	err := e.db.QueryRow(`SELECT uuid FROM users WHERE username = ?`, username).Scan(&userUUID)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get user uuid: %w", err)
	}
	return userUUID, nil
}

// GetUsername resolves a uuid to its username.
func (e *Engine) GetUsername(userUUID string) (string, error) {
	var username string
	err := e.db.QueryRow(`SELECT username FROM users WHERE uuid = ?`, userUUID).Scan(&username)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get username: %w", err)
	}
	return username, nil
}
