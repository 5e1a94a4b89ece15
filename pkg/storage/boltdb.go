package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// snapshots kept on disk
const retainSnapshots = 3

// BoltDBStorage wraps Raft's BoltDB storage components
// logstore : stores the Raft log entries (every Set/Remove on the shared store)
// stablestore : stores stable Raft metadata [stable = survives restarts]
// snapshotstore : stores snapshots of the key-value state
type BoltDBStorage struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore

	db *raftboltdb.BoltStore
}

func NewBoltDBStorage(dataDir string, logger hclog.Logger) (*BoltDBStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	dbPath := filepath.Join(dataDir, "raft.db")

	//boltDB is used for both log and stable storage
	boltDB, err := raftboltdb.New(raftboltdb.Options{
		Path: dbPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	//snapshot store (file-based)
	snapshotDir := filepath.Join(dataDir, "snapshots")
	snapShotStore, err := raft.NewFileSnapshotStoreWithLogger(snapshotDir, retainSnapshots, logger.Named("snapshots"))
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &BoltDBStorage{
		LogStore:      boltDB,
		StableStore:   boltDB,
		SnapshotStore: snapShotStore,
		db:            boltDB,
	}, nil
}

func (b *BoltDBStorage) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
