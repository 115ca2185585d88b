// Package kv defines a persistent backend for the coordinator service using
// bbolt as the underlying key-value store.
package kv

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	prombolt "github.com/prysmaticlabs/prombbolt"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/enclavecode/swarm/shared/fileutil"
	"github.com/enclavecode/swarm/shared/params"
)

var log = logrus.WithField("prefix", "db")

// DatabaseFileName is the name of the coordinator database file.
const DatabaseFileName = "swarm.db"

// blockSize is the mmap page granularity bolt allocates at.
const blockSize = 65536

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines an implementation of the coordinator Database interface
// using bbolt as the underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore initializes a new bbolt key-value store at the directory
// path specified and creates the kv-buckets based on the schema.
func NewKVStore(ctx context.Context, dirPath string) (*Store, error) {
	hasDir, err := fileutil.HasDir(dirPath)
	if err != nil {
		return nil, err
	}
	if !hasDir {
		if err := fileutil.MkdirAll(dirPath); err != nil {
			return nil, err
		}
	}
	datafile := filepath.Join(dirPath, DatabaseFileName)
	boltDB, err := bolt.Open(
		datafile,
		params.SwarmIoConfig().ReadWritePermissions,
		&bolt.Options{
			Timeout:         params.SwarmIoConfig().BoltTimeout,
			InitialMmapSize: 10e6,
		},
	)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	boltDB.AllocSize = blockSize

	kv := &Store{db: boltDB, databasePath: dirPath}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			agentsBucket,
			peersBucket,
			tasksBucket,
			subtasksBucket,
			taskSubtasksBucket,
			fingerprintsBucket,
			ledgerBucket,
			ledgerMetaBucket,
			checkpointsBucket,
			blacklistVersionBucket,
			blacklistAgentBucket,
			blacklistMetaBucket,
			blacklistAuditBucket,
			blacklistAuditMetaBucket,
			accountsBucket,
			intentsBucket,
			treasuryBucket,
			rolloutsBucket,
			nonceTailBucket,
			securityEventsBucket,
			securityMetaBucket,
		)
	}); err != nil {
		return nil, err
	}

	if err := prometheus.Register(prombolt.New("coordinatorDB", kv.db)); err != nil {
		log.WithError(err).Debug("Could not register database metrics collector")
	}
	return kv, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	if err := s.Close(); err != nil {
		return errors.Wrap(err, "failed to close db prior to clearing")
	}
	datafile := filepath.Join(s.databasePath, DatabaseFileName)
	if !fileutil.FileExists(datafile) {
		return nil
	}
	return os.Remove(datafile)
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	return s.db.Update(fn)
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	return s.db.View(fn)
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}
