// Package state persists dashboard state between runs in a bbolt
// database: which listing was open and where each paginator stood.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/spotify-term/internal/models"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket     = []byte("app")
	cursorsBucket = []byte("cursors")

	lastEndpointKey = []byte("last_endpoint")
	lastFlowKey     = []byte("last_flow")
)

// State wraps a bbolt database for all persistent dashboard state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at <dir>/state.db, creating it if it does
// not exist. Buckets are created on open.
func Load(dir string) (*State, error) {
	path := filepath.Join(dir, "state.db")

	if err := os.MkdirAll(dir, stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(cursorsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// LastEndpoint returns the endpoint key of the listing that was open when
// the dashboard last exited, or empty string.
func (s *State) LastEndpoint() string {
	var endpoint string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastEndpointKey)
		if v != nil {
			endpoint = string(v)
		}

		return nil
	})

	return endpoint
}

// SetLastEndpoint records the currently open listing.
func (s *State) SetLastEndpoint(endpoint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastEndpointKey, []byte(endpoint))
	})
}

// LastFlow returns the grant flow id used on the previous run, or empty
// string. Lets the dashboard notice a grant switch and log it.
func (s *State) LastFlow() string {
	var flow string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastFlowKey)
		if v != nil {
			flow = string(v)
		}

		return nil
	})

	return flow
}

// SetLastFlow records the grant flow id in use.
func (s *State) SetLastFlow(flow string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastFlowKey, []byte(flow))
	})
}

// Cursor returns the persisted paginator snapshot for an endpoint. The
// second return is false when none is stored.
func (s *State) Cursor(endpoint string) (models.PageCursor, bool) {
	var (
		cursor models.PageCursor
		found  bool
	)

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cursorsBucket).Get([]byte(endpoint))
		if v == nil {
			return nil
		}

		if err := json.Unmarshal(v, &cursor); err != nil {
			// A corrupt snapshot is treated as absent; the listing just
			// starts from page one.
			return nil
		}

		found = true

		return nil
	})

	return cursor, found
}

// SetCursor persists a paginator snapshot for its endpoint.
func (s *State) SetCursor(cursor models.PageCursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encoding cursor: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cursorsBucket).Put([]byte(cursor.Endpoint), raw)
	})
}
