// Package session persists the local state of a chat client between runs:
// a stable session ULID, the resolved sender identity and when the session
// was started and last active. State lives in a single bbolt file inside the
// data directory, one record per process id.
package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

const dbFile = "session.db"

var bucketSessions = []byte("sessions")

// ErrNotFound is returned by Load when no state exists for a process.
var ErrNotFound = errors.New("session: not found")

// AuthMethod records where the wallet address of a session came from.
type AuthMethod string

const (
	AuthNone      AuthMethod = ""
	AuthConfig    AuthMethod = "config"    // set explicitly by the operator
	AuthPersisted AuthMethod = "persisted" // restored from a previous run
	AuthRemote    AuthMethod = "remote"    // learned from a node response
)

// State is the persisted record for one process.
type State struct {
	SessionID     string     `json:"session_id"`
	ProcessID     string     `json:"process_id"`
	Username      string     `json:"username"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	AuthMethod    AuthMethod `json:"auth_method,omitempty"`
	StartedAt     int64      `json:"started_at"`   // UTC ms
	LastSeenAt    int64      `json:"last_seen_at"` // UTC ms
}

// Store is a bbolt-backed session store. It is safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) dataDir/session.db.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("session: dataDir must not be empty")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("session: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, dbFile)
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the state for processID, or ErrNotFound.
func (s *Store) Load(processID string) (State, error) {
	var st State
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSessions).Get([]byte(processID))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &st)
	})
	return st, err
}

// Save upserts st under st.ProcessID.
func (s *Store) Save(st State) error {
	if st.ProcessID == "" {
		return errors.New("session: state has no process id")
	}
	val, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(st.ProcessID), val)
	})
}

// Touch updates LastSeenAt for processID. Missing state is not an error.
func (s *Store) Touch(processID string, now time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		val := b.Get([]byte(processID))
		if val == nil {
			return nil
		}
		var st State
		if err := json.Unmarshal(val, &st); err != nil {
			return err
		}
		st.LastSeenAt = now.UnixMilli()
		out, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put([]byte(processID), out)
	})
}

// Delete forgets the state for processID.
func (s *Store) Delete(processID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(processID))
	})
}

// List returns every stored state ordered by process id.
func (s *Store) List() ([]State, error) {
	var out []State
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var st State
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			out = append(out, st)
			return nil
		})
	})
	return out, err
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── identity resolution ──────────────────────────────────────────────────────

// Resolve returns the session state for processID at startup. Configured
// values take precedence over persisted ones; a fresh session id is minted
// when nothing is stored. The resolved state is saved before returning.
func (s *Store) Resolve(processID, username, wallet string, now time.Time) (State, error) {
	st, err := s.Load(processID)
	switch {
	case errors.Is(err, ErrNotFound):
		id, err := NewID()
		if err != nil {
			return State{}, fmt.Errorf("session: generate id: %w", err)
		}
		st = State{SessionID: id, ProcessID: processID, StartedAt: now.UnixMilli()}
	case err != nil:
		return State{}, fmt.Errorf("session: load: %w", err)
	case st.WalletAddress != "":
		st.AuthMethod = AuthPersisted
	}

	if username != "" {
		st.Username = username
	}
	if wallet != "" {
		st.WalletAddress = wallet
		st.AuthMethod = AuthConfig
	}
	st.LastSeenAt = now.UnixMilli()

	if err := s.Save(st); err != nil {
		return State{}, err
	}
	return st, nil
}

// AdoptWallet records a wallet address learned from the node. It never
// overrides an operator-configured wallet.
func (s *Store) AdoptWallet(processID, wallet string) error {
	st, err := s.Load(processID)
	if err != nil {
		return err
	}
	if st.AuthMethod == AuthConfig || st.WalletAddress == wallet {
		return nil
	}
	st.WalletAddress = wallet
	st.AuthMethod = AuthRemote
	return s.Save(st)
}

// ─── ids ──────────────────────────────────────────────────────────────────────

// monoEntropy keeps ULIDs ordered even when minted within one millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a time-ordered ULID. Used for session ids and websocket
// connection ids.
func NewID() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is like NewID but panics on error.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("session.MustNewID: %v", err))
	}
	return id
}

// ValidID reports whether s is a well-formed ULID.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
