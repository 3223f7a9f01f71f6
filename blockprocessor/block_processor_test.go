package blockprocessor_test

import (
	"sync"
	"testing"
	"time"

	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/gapcache"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

type fakeElections struct {
	started   []types.Hash
	published []types.Hash
	erased    []types.Hash
	mutex     sync.Mutex
}

func (elections *fakeElections) StartElection(block *types.Block, _ func(*types.Block)) bool {
	elections.mutex.Lock()
	defer elections.mutex.Unlock()

	elections.started = append(elections.started, block.Hash())
	return true
}

func (elections *fakeElections) Publish(block *types.Block) bool {
	elections.mutex.Lock()
	defer elections.mutex.Unlock()

	elections.published = append(elections.published, block.Hash())
	return false
}

func (elections *fakeElections) Erase(block *types.Block) {
	elections.mutex.Lock()
	defer elections.mutex.Unlock()

	elections.erased = append(elections.erased, block.Hash())
}

func (elections *fakeElections) UpdateDifficulty(*types.Block) {}

type fakeNetwork struct {
	flooded []types.Hash
	mutex   sync.Mutex
}

func (network *fakeNetwork) FloodBlock(block *types.Block) {
	network.mutex.Lock()
	defer network.mutex.Unlock()

	network.flooded = append(network.flooded, block.Hash())
}

type fakeChannel struct {
	sent []types.Hash
}

func (channel *fakeChannel) SendBlock(block *types.Block) error {
	channel.sent = append(channel.sent, block.Hash())
	return nil
}

func (channel *fakeChannel) SendVote(*types.Vote) error { return nil }
func (channel *fakeChannel) String() string             { return "fake" }

type noOnline struct{}

func (noOnline) OnlineStake() types.Amount { return types.Amount{} }

type noBootstrap struct{}

func (noBootstrap) BootstrapLazy(types.Hash) {}
func (noBootstrap) Bootstrap()               {}

type env struct {
	db        *database.Database
	ledger    *ledger.Ledger
	processor *blockprocessor.BlockProcessor
	gaps      *gapcache.GapCache
	elections *fakeElections
	network   *fakeNetwork
	genesis   *types.KeyPair
}

func newEnv(t *testing.T) *env {
	params := testutil.Params()
	db := testutil.NewDatabase(t)
	l := ledger.New(db, params, stats.New(), utils.NewLogger("Ledger", false))

	cfg := blockprocessor.DefaultConfig()
	cfg.UncheckedCleanupInterval = 0

	e := &env{
		db:        db,
		ledger:    l,
		processor: blockprocessor.New(&cfg, l, blockprocessor.NewSignatureChecker(2), utils.NewLogger("BlockProcessor", false)),
		gaps:      gapcache.New(&gapcache.Config{MaxSize: 256}, params.OnlineWeightMinimum, params.GapCacheBootstrapDelay, l, noOnline{}, noBootstrap{}, utils.NewLogger("GapCache", false)),
		elections: &fakeElections{},
		network:   &fakeNetwork{},
		genesis:   testutil.GenesisKey(),
	}

	e.processor.SetCollaborators(blockprocessor.Collaborators{
		Elections: e.elections,
		GapCache:  e.gaps,
		Network:   e.network,
	})
	e.processor.Start()
	t.Cleanup(func() {
		e.processor.Stop()
		e.gaps.Stop()
	})

	return e
}

func (e *env) submit(block *types.Block) {
	e.processor.Add(block, blockprocessor.ORIGIN_NETWORK, nil)
	e.processor.Flush()
}

func TestGapResolution(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send1 := testutil.Send(e.genesis, testutil.Params().Genesis.Hash, key.Address, types.AmountFromUint64(1))
	send2 := testutil.Send(e.genesis, send1.Hash(), key.Address, types.Amount{})
	open := testutil.Open(key, send1.Hash(), key.Address)

	e.submit(send2)
	if e.gaps.Size() != 1 {
		t.Fatalf("gap cache size %d after send2", e.gaps.Size())
	}

	e.submit(open)
	if e.gaps.Size() != 2 {
		t.Fatalf("gap cache size %d after open", e.gaps.Size())
	}

	e.submit(send1)
	if e.gaps.Size() != 0 {
		t.Fatalf("gap cache size %d after send1", e.gaps.Size())
	}

	for _, block := range []*types.Block{send1, send2, open} {
		if !e.ledger.BlockExists(block.Hash()) {
			t.Fatalf("%s missing from the ledger", block.Hash())
		}
	}

	txn := e.db.TxBeginRead()
	defer txn.Discard()

	if count, _ := txn.UncheckedCount(); count != 0 {
		t.Fatalf("%d unchecked blocks left behind", count)
	}
}

func TestLiveBlockStartsElection(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.State(e.genesis, testutil.Params().Genesis.Hash, e.genesis.Address, types.MaxAmount.Sub(types.AmountFromUint64(10)), types.Link(key.Address))
	e.submit(send)

	if len(e.elections.started) != 1 || e.elections.started[0] != send.Hash() {
		t.Fatalf("elections started: %v", e.elections.started)
	}

	if len(e.network.flooded) != 1 {
		t.Fatalf("flooded %d blocks", len(e.network.flooded))
	}
}

func TestBootstrapBlockDoesNotStartElection(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.Send(e.genesis, testutil.Params().Genesis.Hash, key.Address, types.AmountFromUint64(10))
	e.processor.Add(send, blockprocessor.ORIGIN_BOOTSTRAP, nil)
	e.processor.Flush()

	if !e.ledger.BlockExists(send.Hash()) {
		t.Fatal("bootstrapped block was not applied")
	}

	if len(e.elections.started) != 0 {
		t.Fatalf("elections started for bootstrapped block: %v", e.elections.started)
	}
}

func TestInvalidStateSignatureDropped(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.State(e.genesis, testutil.Params().Genesis.Hash, e.genesis.Address, types.AmountFromUint64(10), types.Link(key.Address))
	send.Signature[10] ^= 1

	e.submit(send)

	if e.ledger.BlockExists(send.Hash()) {
		t.Fatal("block with a bad signature was applied")
	}

	if count := e.ledger.Stats.Count("blockprocessor", "invalid_signature"); count != 1 {
		t.Fatalf("invalid_signature counted %d times", count)
	}
}

func TestForkRepliesWithLedgerBlock(t *testing.T) {
	e := newEnv(t)
	genesis_hash := testutil.Params().Genesis.Hash

	ours := testutil.Send(e.genesis, genesis_hash, testutil.Key(1).Address, types.AmountFromUint64(10))
	theirs := testutil.Send(e.genesis, genesis_hash, testutil.Key(2).Address, types.AmountFromUint64(10))

	e.processor.Add(ours, blockprocessor.ORIGIN_BOOTSTRAP, nil)
	e.processor.Flush()

	channel := &fakeChannel{}
	e.processor.Add(theirs, blockprocessor.ORIGIN_NETWORK, channel)
	e.processor.Flush()

	if len(e.elections.started) != 1 || e.elections.started[0] != ours.Hash() {
		t.Fatalf("expected an election on our block, got %v", e.elections.started)
	}

	if len(e.elections.published) != 1 || e.elections.published[0] != theirs.Hash() {
		t.Fatalf("expected the fork to be published, got %v", e.elections.published)
	}

	if len(channel.sent) != 1 || channel.sent[0] != ours.Hash() {
		t.Fatalf("sender got %v", channel.sent)
	}
}

func TestForceReplacesSuccessor(t *testing.T) {
	e := newEnv(t)
	genesis_hash := testutil.Params().Genesis.Hash
	key := testutil.Key(1)

	loser := testutil.Send(e.genesis, genesis_hash, key.Address, types.AmountFromUint64(10))
	loser_child := testutil.Send(e.genesis, loser.Hash(), key.Address, types.AmountFromUint64(5))
	winner := testutil.Send(e.genesis, genesis_hash, testutil.Key(2).Address, types.AmountFromUint64(20))

	e.processor.Add(loser, blockprocessor.ORIGIN_BOOTSTRAP, nil)
	e.processor.Add(loser_child, blockprocessor.ORIGIN_BOOTSTRAP, nil)
	e.processor.Flush()

	e.processor.Force(winner)
	e.processor.Flush()

	if e.ledger.BlockExists(loser.Hash()) || e.ledger.BlockExists(loser_child.Hash()) {
		t.Fatal("losing chain survived the forced block")
	}

	txn := e.db.TxBeginRead()
	head, err := e.ledger.Latest(txn, e.genesis.Address)
	txn.Discard()
	if err != nil {
		t.Fatal(err)
	}

	if head != winner.Hash() {
		t.Fatalf("head is %s, want %s", head, winner.Hash())
	}

	// The first rolled back block belongs to the election that forced the
	// winner, only its descendants get erased.
	if len(e.elections.erased) != 1 || e.elections.erased[0] != loser_child.Hash() {
		t.Fatalf("erased elections %v", e.elections.erased)
	}

	if e.processor.Add(loser, blockprocessor.ORIGIN_NETWORK, nil) {
		t.Fatal("recently rolled back block was queued again")
	}
}

func TestCleanupUnchecked(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	missing := types.Hash{1, 2, 3}
	orphan := testutil.Receive(key, missing, types.Hash{4})

	txn := e.db.TxBeginWrite()
	old := &types.UncheckedInfo{Block: orphan, Modified: uint64(time.Now().Add(-5 * time.Hour).Unix())}
	if err := txn.PutUnchecked(missing, old); err != nil {
		t.Fatal(err)
	}

	fresh := testutil.Receive(key, missing, types.Hash{5})
	if err := txn.PutUnchecked(missing, &types.UncheckedInfo{Block: fresh, Modified: uint64(time.Now().Unix())}); err != nil {
		t.Fatal(err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	removed, err := e.processor.CleanupUnchecked(time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if removed != 1 {
		t.Fatalf("removed %d", removed)
	}

	read := e.db.TxBeginRead()
	defer read.Discard()

	if exists, _ := read.UncheckedExists(missing, fresh.Hash()); !exists {
		t.Fatal("fresh unchecked block was removed")
	}
}
