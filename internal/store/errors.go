package store

import "errors"

// Sentinel errors for the persistence engine's auth and catalogue
// operations, in the style of the broker's other per-concern sentinels
// (internal/broker's auth-error mapping, C7 §4.6).
var (
	ErrUserExists          = errors.New("store: user already exists")
	ErrUserNotFound        = errors.New("store: user not found")
	ErrInvalidPassword     = errors.New("store: invalid password")
	ErrChannelNotFound     = errors.New("store: channel not found")
	ErrSnapshotNotFound    = errors.New("store: snapshot not found")
	ErrNoPriorSnapshotLoad = errors.New("store: no prior snapshot load to revert")
)
