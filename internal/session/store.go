package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoSession is returned when no session has been persisted locally.
var ErrNoSession = errors.New("no stored session")

// Exactly two keys are ever written: the serialized token and the serialized
// user identity.
const (
	keySession  = "session"
	keyIdentity = "identity"
)

type storedSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type storedIdentity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Store persists session data in a local sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local session store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, string(raw),
	)
	return err
}

func (s *Store) get(key string, out any) error {
	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNoSession
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// SaveSession writes the serialized token and expiry.
func (s *Store) SaveSession(token string, expiresAt time.Time) error {
	return s.put(keySession, storedSession{Token: token, ExpiresAt: expiresAt})
}

// LoadSession reads the stored token and expiry, or ErrNoSession.
func (s *Store) LoadSession() (string, time.Time, error) {
	var stored storedSession
	if err := s.get(keySession, &stored); err != nil {
		return "", time.Time{}, err
	}
	return stored.Token, stored.ExpiresAt, nil
}

// SaveIdentity writes the serialized user identity.
func (s *Store) SaveIdentity(userID, email string) error {
	return s.put(keyIdentity, storedIdentity{UserID: userID, Email: email})
}

// LoadIdentity reads the stored user identity, or ErrNoSession.
func (s *Store) LoadIdentity() (string, string, error) {
	var stored storedIdentity
	if err := s.get(keyIdentity, &stored); err != nil {
		return "", "", err
	}
	return stored.UserID, stored.Email, nil
}

// Clear removes everything, used on sign-out and expiry detection.
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM kv")
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
