package database

import (
	"bytes"
	"os"
	"path"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionTooHigh  = errors.New("store version is newer than this node supports")
	ErrMigration       = errors.New("store migration failed")
	ErrReadOnlyTxn     = errors.New("write attempted in a read transaction")
	ErrStoreNotStarted = errors.New("store not started")
)

type Database struct {
	Config *Config
	Badger *badger.DB

	// Badger resolves concurrent update transactions optimistically. Ledger
	// writes must never conflict so they are serialized here instead.
	WriteMutex sync.Mutex

	tracker *txnTracker
	logger  *logrus.Entry
}

func New(cfg *Config, logger *logrus.Entry) *Database {
	return &Database{
		Config:  cfg,
		tracker: newTxnTracker(cfg.WriteTxnWarnThreshold, logger),
		logger:  logger,
	}
}

func (db *Database) ValidateAndStart() error {
	if len(db.Config.DataDir) == 0 && !db.Config.InMemory {
		return errors.New("Invalid DataDir provided")
	}

	var options badger.Options
	if db.Config.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := path.Join(db.Config.DataDir, "Badger")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "creating data dir")
		}

		db.logger.Infof("Loading Badger store from %s", dir)
		options = badger.DefaultOptions(dir)
	}

	options = options.WithLogger(db.logger).WithLoggingLevel(badger.WARNING)

	handle, err := badger.Open(options)
	if err != nil {
		return errors.Wrap(err, "opening badger")
	}

	db.Badger = handle

	if err := db.upgrade(); err != nil {
		handle.Close()
		db.Badger = nil

		return err
	}

	return nil
}

func (db *Database) Cleanup() error {
	if db.Badger == nil {
		return nil
	}

	return db.Badger.Close()
}

func (db *Database) LoadOrCreateNodeIdentity() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if db.Config.InMemory {
		return ed25519.GenerateKey(nil)
	}

	path := path.Join(db.Config.DataDir, "node_id.dat")
	db.logger.Infof("Loading Node Identity from %s", path)

	stat, err := os.Stat(path)
	if err != nil && os.IsNotExist(err) {
		node_public_key, node_private_key, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, "generating node_id key pair")
		}

		// The file holds the 32 byte seed, the key pair is re-derived from it.
		err = os.WriteFile(path, node_private_key.Seed(), 0600)
		if err != nil {
			db.logger.Warnf("Error saving node_id.dat to disk: %s", err)
		}

		return node_public_key, node_private_key, nil
	}

	if err != nil {
		return nil, nil, err
	}

	if stat.IsDir() {
		return nil, nil, errors.New("node_id.dat cannot be a directory")
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	if len(contents) != ed25519.SeedSize {
		return nil, nil, errors.Errorf("node_id.dat must hold a %d byte seed", ed25519.SeedSize)
	}

	publicKey, privateKey, err := ed25519.GenerateKey(bytes.NewReader(contents))
	if err != nil {
		return nil, nil, err
	}

	return publicKey, privateKey, nil
}
