// Package store persists small console hints (wallet session, debug
// flags) in a local sqlite file. Writes are best-effort: a failed write
// is logged and forgotten, never fatal.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Keys are namespaced so a shared sqlite file cannot collide with
// another tool's rows.
const (
	KeyWalletSessionHint = "snipectl:wallet_session_hint"
	KeySessionID         = "snipectl:session_id"
	KeyDebugWebsocket    = "snipectl:debug_websocket"
)

// KVEntry is one persisted key-value row.
type KVEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// Store is the local hint store. A zero-path store is disabled and
// silently drops writes.
type Store struct {
	db      *gorm.DB
	enabled bool
}

// Open opens (and migrates) the sqlite hint store at path. An empty path
// yields a disabled store.
func Open(path string) (*Store, error) {
	if path == "" {
		log.Warn().Msg("DATABASE_PATH not set, session hints will not persist")
		return &Store{enabled: false}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open hint store: %w", err)
	}

	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("migrate hint store: %w", err)
	}

	log.Info().Str("path", path).Msg("💾 Hint store opened")
	return &Store{db: db, enabled: true}, nil
}

// Set writes a value under key. Best-effort.
func (s *Store) Set(key, value string) {
	if !s.enabled {
		return
	}
	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	if err := s.db.Save(&entry).Error; err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Hint write failed")
	}
}

// Get reads the value under key; ok is false when absent or disabled.
func (s *Store) Get(key string) (string, bool) {
	if !s.enabled {
		return "", false
	}
	var entry KVEntry
	err := s.db.First(&entry, "key = ?", key).Error
	if err != nil {
		return "", false
	}
	return entry.Value, true
}

// Delete removes key. Best-effort.
func (s *Store) Delete(key string) {
	if !s.enabled {
		return
	}
	if err := s.db.Delete(&KVEntry{}, "key = ?", key).Error; err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Hint delete failed")
	}
}

// SetJSON marshals v and stores it under key. Best-effort.
func (s *Store) SetJSON(key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Hint marshal failed")
		return
	}
	s.Set(key, string(b))
}

// GetJSON loads the value under key into v.
func (s *Store) GetJSON(key string, v any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Hint unmarshal failed")
		return false
	}
	return true
}
