package blockprocessor

import (
	"testing"

	"github.com/dgraph-io/badger/v3"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

// failingStore fails the ledger write of one block after it has been applied
// to the transaction, the way an oversized badger transaction does.
func failingStore(l *ledger.Ledger, failOn types.Hash, times int) (processFunc, *int) {
	failures := 0

	return func(txn *database.Transaction, block *types.Block, verified types.SignatureVerification) (ledger.ProcessReturn, error) {
		result, err := l.ProcessWithVerification(txn, block, verified)
		if err == nil && block.Hash() == failOn && failures < times {
			failures++
			return result, badger.ErrTxnTooBig
		}

		return result, err
	}, &failures
}

func TestStoreErrorDiscardsBatch(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		head      int
		unchecked uint64
	}{
		// The failed block is retried alone and goes through.
		{"transient", 1, 2, 0},
		// The failed block is dropped, the one after it waits on it.
		{"persistent", 1000, 0, 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := testutil.Params()
			db := testutil.NewDatabase(t)
			s := stats.New()
			l := ledger.New(db, p, s, utils.NewLogger("Ledger", false))

			cfg := DefaultConfig()
			cfg.UncheckedCleanupInterval = 0
			processor := New(&cfg, l, NewSignatureChecker(1), utils.NewLogger("BlockProcessor", false))

			genesis := testutil.GenesisKey()
			destination := testutil.Key(1).Address

			send1 := testutil.Send(genesis, p.Genesis.Hash, destination, types.MaxAmount.Sub(types.AmountFromUint64(10)))
			send2 := testutil.Send(genesis, send1.Hash(), destination, types.MaxAmount.Sub(types.AmountFromUint64(30)))
			send3 := testutil.Send(genesis, send2.Hash(), destination, types.MaxAmount.Sub(types.AmountFromUint64(60)))
			sends := []*types.Block{send1, send2, send3}

			process, failures := failingStore(l, send2.Hash(), test.failures)
			processor.process = process

			// Queued before the processing goroutine runs so they share a batch.
			for _, send := range sends {
				if !processor.Add(send, ORIGIN_BOOTSTRAP, nil) {
					t.Fatalf("%s not queued", send.Hash())
				}
			}

			processor.Start()
			t.Cleanup(processor.Stop)
			processor.Flush()

			if *failures == 0 || s.Count("blockprocessor", "store_error") != uint64(*failures) {
				t.Fatalf("%d failures, %d store errors counted", *failures, s.Count("blockprocessor", "store_error"))
			}

			txn := db.TxBeginRead()
			defer txn.Discard()

			info, err := txn.GetAccountInfo(genesis.Address)
			if err != nil {
				t.Fatal(err)
			}

			head := sends[test.head]
			if info.Head != head.Hash() || info.Balance != head.Balance {
				t.Fatalf("genesis head %s balance %s, want %s", info.Head, info.Balance, head.Hash())
			}

			// The discarded batch left no weight or pending entry behind.
			weight, err := txn.GetRepresentation(genesis.Address)
			if err != nil {
				t.Fatal(err)
			}

			if weight != info.Balance {
				t.Fatalf("genesis weight %s, balance %s", weight, info.Balance)
			}

			pending := 0
			err = txn.IteratePending(destination, func(key types.PendingKey, _ types.PendingInfo) bool {
				pending++
				return true
			})
			if err != nil {
				t.Fatal(err)
			}

			if pending != test.head+1 {
				t.Fatalf("%d pending entries for %d applied sends", pending, test.head+1)
			}

			if count, _ := txn.UncheckedCount(); count != test.unchecked {
				t.Fatalf("%d unchecked blocks", count)
			}
		})
	}
}
