package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/shared/fileutil"
	"github.com/enclavecode/swarm/shared/params"
)

const backupsDirectoryName = "backups"

// Backup the database to the datadir backup directory.
// Example: $DATADIR/backups/swarm_coordinatordb_1029019.backup
func (s *Store) Backup(ctx context.Context, outputDir string) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Backup")
	defer span.End()

	var backupsDir string
	var err error
	if outputDir != "" {
		backupsDir, err = fileutil.ExpandPath(outputDir)
		if err != nil {
			return err
		}
	} else {
		backupsDir = filepath.Join(s.databasePath, backupsDirectoryName)
	}
	if err := fileutil.MkdirAll(backupsDir); err != nil {
		return err
	}
	backupPath := filepath.Join(backupsDir, fmt.Sprintf("swarm_coordinatordb_%d.backup", time.Now().Unix()))
	log.WithField("backup", backupPath).Info("Writing backup database")

	copyDB, err := bolt.Open(
		backupPath,
		params.SwarmIoConfig().ReadWritePermissions,
		&bolt.Options{Timeout: params.SwarmIoConfig().BoltTimeout},
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := copyDB.Close(); err != nil {
			log.WithError(err).Error("Failed to close backup database")
		}
	}()

	return s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bkt *bolt.Bucket) error {
			log.WithField("bucket", string(name)).Debug("Copying bucket")
			return copyDB.Update(func(tx2 *bolt.Tx) error {
				b2, err := tx2.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return bkt.ForEach(b2.Put)
			})
		})
	})
}
