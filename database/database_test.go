package database

import (
	"testing"

	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

func newTestDatabase(t *testing.T, cfg *Config) *Database {
	t.Helper()

	db := New(cfg, utils.NewLogger("Database", false))
	if err := db.ValidateAndStart(); err != nil {
		t.Fatal(err)
	}

	return db
}

func newMemoryDatabase(t *testing.T) *Database {
	t.Helper()

	db := newTestDatabase(t, &Config{InMemory: true})
	t.Cleanup(func() { db.Cleanup() })

	if err := db.Initialize(params.New(params.NETWORK_TEST).Genesis); err != nil {
		t.Fatal(err)
	}

	return db
}

func TestInitializeSeedsGenesis(t *testing.T) {
	db := newMemoryDatabase(t)
	genesis := params.New(params.NETWORK_TEST).Genesis

	txn := db.TxBeginRead()
	defer txn.Discard()

	block, err := txn.GetBlock(genesis.Hash)
	if err != nil {
		t.Fatal(err)
	}

	if block.Sideband.Height != 1 || block.Sideband.Account != genesis.Account {
		t.Fatalf("unexpected genesis sideband %+v", block.Sideband)
	}

	info, err := txn.GetAccountInfo(genesis.Account)
	if err != nil {
		t.Fatal(err)
	}

	if info.Head != genesis.Hash || info.BlockCount != 1 || info.ConfirmationHeight != 1 {
		t.Fatalf("unexpected genesis account %+v", info)
	}

	weight, err := txn.GetRepresentation(genesis.Account)
	if err != nil {
		t.Fatal(err)
	}

	if weight != genesis.Amount {
		t.Fatalf("genesis weight %s", weight)
	}

	version, err := txn.GetVersion()
	if err != nil || version != STORE_VERSION_CURRENT {
		t.Fatalf("version %d, err %v", version, err)
	}

	// Seeding twice is a no-op.
	if err := db.Initialize(genesis); err != nil {
		t.Fatal(err)
	}
}

func TestAccountLivesInOneEpochTable(t *testing.T) {
	db := newMemoryDatabase(t)
	account := types.Address{1}

	txn := db.TxBeginWrite()
	defer txn.Discard()

	info := &types.AccountInfo{Head: types.Hash{2}, BlockCount: 3, Epoch: types.EPOCH_0}
	if err := txn.PutAccountInfo(account, info); err != nil {
		t.Fatal(err)
	}

	info.Epoch = types.EPOCH_1
	if err := txn.PutAccountInfo(account, info); err != nil {
		t.Fatal(err)
	}

	if exists, _ := txn.exists(TABLE_ACCOUNTS_V0, account[:]); exists {
		t.Fatal("account still present in accounts_v0 after epoch upgrade")
	}

	stored, err := txn.GetAccountInfo(account)
	if err != nil {
		t.Fatal(err)
	}

	if stored.Epoch != types.EPOCH_1 || stored.BlockCount != 3 {
		t.Fatalf("unexpected account %+v", stored)
	}
}

func TestRepresentationDropsZeroRows(t *testing.T) {
	db := newMemoryDatabase(t)
	rep := types.Address{9}

	txn := db.TxBeginWrite()
	defer txn.Discard()

	if err := txn.AddRepresentation(rep, types.AmountFromUint64(50)); err != nil {
		t.Fatal(err)
	}

	if err := txn.SubRepresentation(rep, types.AmountFromUint64(50)); err != nil {
		t.Fatal(err)
	}

	if exists, _ := txn.exists(TABLE_REPRESENTATION, rep[:]); exists {
		t.Fatal("zero weight row left behind")
	}
}

func TestUncheckedByDependency(t *testing.T) {
	db := newMemoryDatabase(t)
	dependency := types.Hash{7}

	block := &types.Block{Type: types.BLOCK_TYPE_SEND, Previous: dependency, Balance: types.AmountFromUint64(1)}
	other := &types.Block{Type: types.BLOCK_TYPE_RECEIVE, Previous: dependency, Link: types.Link{3}}

	txn := db.TxBeginWrite()
	defer txn.Discard()

	for _, b := range []*types.Block{block, other} {
		err := txn.PutUnchecked(dependency, &types.UncheckedInfo{Block: b, Modified: 10, Verified: types.SIGNATURE_VALID})
		if err != nil {
			t.Fatal(err)
		}
	}

	infos, err := txn.GetUnchecked(dependency)
	if err != nil {
		t.Fatal(err)
	}

	if len(infos) != 2 {
		t.Fatalf("expected 2 unchecked blocks, got %d", len(infos))
	}

	for _, info := range infos {
		if info.Verified != types.SIGNATURE_VALID || info.Modified != 10 {
			t.Fatalf("unexpected unchecked info %+v", info)
		}
	}

	if err := txn.DeleteUnchecked(dependency, block.Hash()); err != nil {
		t.Fatal(err)
	}

	if count, _ := txn.UncheckedCount(); count != 1 {
		t.Fatalf("expected 1 unchecked block left, got %d", count)
	}
}

func TestVoteGenerateIncrementsSequence(t *testing.T) {
	db := newMemoryDatabase(t)
	keys, err := types.KeyPairFromHex(params.TestGenesisPrivateKey)
	if err != nil {
		t.Fatal(err)
	}

	hashes := []types.Hash{{1}, {2}}

	for want := uint64(1); want <= 3; want++ {
		txn := db.TxBeginWrite()
		vote, err := txn.VoteGenerate(keys, hashes)
		if err != nil {
			t.Fatal(err)
		}

		if err := txn.Commit(); err != nil {
			t.Fatal(err)
		}

		if vote.Sequence != want {
			t.Fatalf("sequence %d, want %d", vote.Sequence, want)
		}

		if !vote.Validate() {
			t.Fatal("generated vote does not validate")
		}
	}
}

func TestOnlineWeightOrdered(t *testing.T) {
	db := newMemoryDatabase(t)

	txn := db.TxBeginWrite()
	defer txn.Discard()

	for _, ts := range []uint64{300, 100, 200} {
		if err := txn.PutOnlineWeight(ts, types.AmountFromUint64(ts)); err != nil {
			t.Fatal(err)
		}
	}

	var seen []uint64
	txn.IterateOnlineWeight(func(timestamp uint64, weight types.Amount) bool {
		if weight != types.AmountFromUint64(timestamp) {
			t.Errorf("sample %d has weight %s", timestamp, weight)
		}
		seen = append(seen, timestamp)
		return true
	})

	if len(seen) != 3 || seen[0] != 100 || seen[2] != 300 {
		t.Fatalf("samples out of order: %v", seen)
	}
}

func TestPeers(t *testing.T) {
	db := newMemoryDatabase(t)

	if err := db.AddNodeIPs([]string{"[::1]:44000", "[::ffff:127.0.0.1]:44001"}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteNodeIP("[::1]:44000"); err != nil {
		t.Fatal(err)
	}

	nodes, err := db.GetNodeIPs()
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := nodes["[::ffff:127.0.0.1]:44001"]; !ok || len(nodes) != 1 {
		t.Fatalf("unexpected peers %v", nodes)
	}
}

func TestReadTransactionRejectsWrites(t *testing.T) {
	db := newMemoryDatabase(t)

	txn := db.TxBeginRead()
	defer txn.Discard()

	if err := txn.PutVersion(1); err != ErrReadOnlyTxn {
		t.Fatalf("expected ErrReadOnlyTxn, got %v", err)
	}
}
