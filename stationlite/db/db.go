// Package db implements the routing store of the stationlite service: a
// bolt backed inventory of network, station and channel epochs together with
// their endpoint routes and virtual network memberships. The store is written
// exclusively by the harvester and resolved into dispatchable routes at query
// time.
package db

import (
	"os"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("prefix", "stationlitedb")

// StoreDirName is the name of the directory containing the routing store
// inside the data directory.
const StoreDirName = "stationlitedata"

// DatabaseFileName is the name of the routing store file inside the store
// directory.
const DatabaseFileName = "stationlite.db"

const vnetCacheSize = 1000

// Store defines an implementation of the routing store using bolt as the
// underlying persistent kv-store.
type Store struct {
	mu           sync.RWMutex // guards db across reloads
	db           *bolt.DB
	databasePath string
	vnetCache    *lru.ARCCache
	fileInfo     os.FileInfo
}

// NewStore initializes a new bolt key-value store at the directory path
// specified, creates the kv-buckets based on the schema, and stores an open
// connection db object as a property of the Store struct.
func NewStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, DatabaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	cache, err := lru.NewARC(vnetCacheSize)
	if err != nil {
		return nil, err
	}

	kv := &Store{db: boltDB, databasePath: dirPath, vnetCache: cache}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			networksBucket,
			stationsBucket,
			channelsBucket,
			vnetsBucket,
			metaBucket,
		)
	}); err != nil {
		return nil, err
	}
	if err := kv.recordFileStat(); err != nil {
		return nil, err
	}
	return kv, nil
}

// Reload reopens the store when the database file on disk was replaced, as
// the harvester does when renaming a freshly built store over the served one.
// It reports whether a new file was picked up. In-place writes to the served
// file never trigger a reload; only a new inode under the database path does.
func (s *Store) Reload() (bool, error) {
	datafile := path.Join(s.databasePath, DatabaseFileName)
	info, err := os.Stat(datafile)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	same := os.SameFile(s.fileInfo, info)
	s.mu.RUnlock()
	if same {
		return false, nil
	}

	fresh, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return false, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return false, err
	}

	s.mu.Lock()
	old := s.db
	s.db = fresh
	s.fileInfo = info
	s.vnetCache.Purge()
	s.mu.Unlock()

	log.WithField("path", datafile).Info("Reloaded routing store")
	return true, old.Close()
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	datafile := path.Join(s.databasePath, DatabaseFileName)
	if _, err := os.Stat(datafile); os.IsNotExist(err) {
		return nil
	}
	s.vnetCache.Purge()
	return os.Remove(datafile)
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(fn)
}

func (s *Store) batch(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Batch(fn)
}

func (s *Store) recordFileStat() error {
	info, err := os.Stat(path.Join(s.databasePath, DatabaseFileName))
	if err != nil {
		return err
	}
	s.fileInfo = info
	return nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}
