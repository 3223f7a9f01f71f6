package confirmation_test

import (
	"testing"

	"github.com/tundak/nano-node-sub003/confirmation"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

type chains struct {
	db     *database.Database
	ledger *ledger.Ledger

	genesis, a, b *types.KeyPair
	receive       types.Hash
}

// newChains builds genesis -> A and genesis -> B, then A -> B received by B.
func newChains(t *testing.T) *chains {
	db := testutil.NewDatabase(t)
	params := testutil.Params()
	c := &chains{
		db:      db,
		ledger:  ledger.New(db, params, stats.New(), utils.NewLogger("Ledger", false)),
		genesis: testutil.GenesisKey(),
		a:       testutil.Key(1),
		b:       testutil.Key(2),
	}

	sendA := testutil.Send(c.genesis, params.Genesis.Hash, c.a.Address, types.MaxAmount.Sub(types.AmountFromUint64(100)))
	sendB := testutil.Send(c.genesis, sendA.Hash(), c.b.Address, types.MaxAmount.Sub(types.AmountFromUint64(200)))
	openA := testutil.Open(c.a, sendA.Hash(), c.a.Address)
	sendAB := testutil.Send(c.a, openA.Hash(), c.b.Address, types.AmountFromUint64(40))
	openB := testutil.Open(c.b, sendB.Hash(), c.b.Address)
	receiveB := testutil.Receive(c.b, openB.Hash(), sendAB.Hash())
	c.receive = receiveB.Hash()

	txn := db.TxBeginWrite()
	defer txn.Discard()

	for _, block := range []*types.Block{sendA, sendB, openA, sendAB, openB, receiveB} {
		result, err := c.ledger.Process(txn, block)
		if err != nil {
			t.Fatal(err)
		}

		if result.Code != ledger.PROGRESS {
			t.Fatalf("%s: %s", block.Hash(), result.Code)
		}
	}

	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	return c
}

func (c *chains) height(t *testing.T, account types.Address) uint64 {
	t.Helper()

	txn := c.db.TxBeginRead()
	defer txn.Discard()

	info, err := txn.GetAccountInfo(account)
	if err != nil {
		t.Fatal(err)
	}

	return info.ConfirmationHeight
}

func TestTransitiveConfirmation(t *testing.T) {
	for _, batch := range []int{1, 4096} {
		c := newChains(t)

		cfg := confirmation.DefaultConfig()
		cfg.BatchWriteSize = batch
		cfg.BatchReadSize = 2
		processor := confirmation.New(&cfg, c.ledger, utils.NewLogger("ConfirmationHeight", false))

		var cemented []types.Hash
		processor.AddObserver(func(block *types.Block) {
			cemented = append(cemented, block.Hash())
		})

		if err := processor.Process(c.receive); err != nil {
			t.Fatal(err)
		}

		if got := c.height(t, c.genesis.Address); got != 3 {
			t.Fatalf("batch %d: genesis height %d", batch, got)
		}

		if got := c.height(t, c.a.Address); got != 2 {
			t.Fatalf("batch %d: A height %d", batch, got)
		}

		if got := c.height(t, c.b.Address); got != 2 {
			t.Fatalf("batch %d: B height %d", batch, got)
		}

		if len(cemented) != 6 || cemented[len(cemented)-1] != c.receive {
			t.Fatalf("batch %d: cemented %v", batch, cemented)
		}

		if count := c.ledger.Stats.Count("confirmation_height", "blocks_confirmed"); count != 6 {
			t.Fatalf("batch %d: counted %d", batch, count)
		}

		// Nothing left to do the second time.
		if err := processor.Process(c.receive); err != nil {
			t.Fatal(err)
		}

		if len(cemented) != 6 {
			t.Fatalf("batch %d: cemented twice", batch)
		}
	}
}

func TestCementedBlocksCannotRollBack(t *testing.T) {
	c := newChains(t)

	cfg := confirmation.DefaultConfig()
	processor := confirmation.New(&cfg, c.ledger, utils.NewLogger("ConfirmationHeight", false))
	processor.Start()
	t.Cleanup(processor.Stop)

	processor.Add(c.receive)
	processor.Flush()

	if processor.Size() != 0 || processor.IsProcessing(c.receive) {
		t.Fatal("hash still pending after flush")
	}

	txn := c.db.TxBeginWrite()
	defer txn.Discard()

	if _, err := c.ledger.Rollback(txn, c.receive); err == nil {
		t.Fatal("rolled back a cemented block")
	}

	confirmed, err := c.ledger.BlockConfirmed(txn, c.receive)
	if err != nil || !confirmed {
		t.Fatalf("confirmed %v err %v", confirmed, err)
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	c := newChains(t)

	cfg := confirmation.DefaultConfig()
	processor := confirmation.New(&cfg, c.ledger, utils.NewLogger("ConfirmationHeight", false))

	processor.Add(c.receive)
	processor.Add(c.receive)

	if processor.Size() != 1 || !processor.IsProcessing(c.receive) {
		t.Fatalf("%d pending", processor.Size())
	}

	processor.Start()
	t.Cleanup(processor.Stop)
	processor.Flush()

	if got := c.height(t, c.b.Address); got != 2 {
		t.Fatalf("B height %d", got)
	}
}
