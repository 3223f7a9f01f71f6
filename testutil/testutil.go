// Package testutil builds test network fixtures: a seeded in-memory store,
// keys, and signed blocks carrying valid work.
package testutil

import (
	"testing"

	"github.com/dgraph-io/badger/v3"

	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
	"github.com/tundak/nano-node-sub003/work"
)

func Params() *params.NetworkParams {
	network := params.New(params.NETWORK_TEST)
	return &network
}

func GenesisKey() *types.KeyPair {
	keys, err := types.KeyPairFromHex(params.TestGenesisPrivateKey)
	if err != nil {
		panic(err)
	}

	return keys
}

// Key derives a deterministic key pair from a single byte.
func Key(seed byte) *types.KeyPair {
	var private [32]byte
	private[0] = seed
	private[31] = 0x5a

	keys, err := types.KeyPairFromSeed(private)
	if err != nil {
		panic(err)
	}

	return keys
}

// NewDatabase opens an in-memory store seeded with the test genesis.
func NewDatabase(t testing.TB) *database.Database {
	t.Helper()

	db := database.New(&database.Config{InMemory: true}, utils.NewLogger("Database", false))
	if err := db.ValidateAndStart(); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { db.Cleanup() })

	if err := db.Initialize(Params().Genesis); err != nil {
		t.Fatal(err)
	}

	return db
}

// Solve finds the first nonce meeting the test network threshold.
func Solve(root types.Hash) types.Work {
	threshold := Params().PublishThreshold
	for nonce := types.Work(0); ; nonce++ {
		if work.Difficulty(root, nonce) >= threshold {
			return nonce
		}
	}
}

func finish(block *types.Block, keys *types.KeyPair) *types.Block {
	block.Work = Solve(block.Root())
	block.Sign(keys.PrivateKey)

	return block
}

func Send(keys *types.KeyPair, previous types.Hash, destination types.Address, balance types.Amount) *types.Block {
	return finish(&types.Block{
		Type:     types.BLOCK_TYPE_SEND,
		Previous: previous,
		Link:     types.Link(destination),
		Balance:  balance,
	}, keys)
}

func Receive(keys *types.KeyPair, previous types.Hash, source types.Hash) *types.Block {
	return finish(&types.Block{
		Type:     types.BLOCK_TYPE_RECEIVE,
		Previous: previous,
		Link:     types.Link(source),
	}, keys)
}

func Open(keys *types.KeyPair, source types.Hash, representative types.Address) *types.Block {
	return finish(&types.Block{
		Type:           types.BLOCK_TYPE_OPEN,
		Account:        keys.Address,
		Representative: representative,
		Link:           types.Link(source),
	}, keys)
}

func Change(keys *types.KeyPair, previous types.Hash, representative types.Address) *types.Block {
	return finish(&types.Block{
		Type:           types.BLOCK_TYPE_CHANGE,
		Previous:       previous,
		Representative: representative,
	}, keys)
}

func State(keys *types.KeyPair, previous types.Hash, representative types.Address, balance types.Amount, link types.Link) *types.Block {
	return finish(&types.Block{
		Type:           types.BLOCK_TYPE_STATE,
		Account:        keys.Address,
		Previous:       previous,
		Representative: representative,
		Balance:        balance,
		Link:           link,
	}, keys)
}

// Epoch builds an epoch block for account, signed by the genesis key which is
// the test network's epoch signer.
func Epoch(account types.Address, previous types.Hash, representative types.Address, balance types.Amount) *types.Block {
	return finish(&types.Block{
		Type:           types.BLOCK_TYPE_STATE,
		Account:        account,
		Previous:       previous,
		Representative: representative,
		Balance:        balance,
		Link:           Params().EpochLink,
	}, GenesisKey())
}

// Snapshot dumps every row of the store, for byte level comparisons.
func Snapshot(t testing.TB, db *database.Database) map[string]string {
	t.Helper()

	rows := make(map[string]string)
	err := db.Badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			rows[string(it.Item().KeyCopy(nil))] = string(value)
		}

		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	return rows
}
