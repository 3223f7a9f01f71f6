package ledger_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
	"github.com/tundak/nano-node-sub003/work"
)

type env struct {
	db      *database.Database
	ledger  *ledger.Ledger
	params  *params.NetworkParams
	genesis *types.KeyPair
	now     uint64
}

func newEnv(t *testing.T) *env {
	e := &env{
		db:      testutil.NewDatabase(t),
		params:  testutil.Params(),
		genesis: testutil.GenesisKey(),
		now:     1_000_000,
	}

	e.ledger = ledger.New(e.db, e.params, stats.New(), utils.NewLogger("Ledger", false))
	// Every block gets its own timestamp so rollbacks have something to restore.
	e.ledger.Now = func() uint64 {
		e.now++
		return e.now
	}

	return e
}

func (e *env) genesisHash() types.Hash {
	return e.params.Genesis.Hash
}

func (e *env) process(t *testing.T, block *types.Block) ledger.ProcessReturn {
	t.Helper()

	txn := e.db.TxBeginWrite()
	defer txn.Discard()

	result, err := e.ledger.Process(txn, block)
	if err != nil {
		t.Fatal(err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	return result
}

func (e *env) mustProcess(t *testing.T, blocks ...*types.Block) {
	t.Helper()

	for _, block := range blocks {
		if result := e.process(t, block); result.Code != ledger.PROGRESS {
			t.Fatalf("%s: %s", block, result.Code)
		}
	}
}

func (e *env) rollback(t *testing.T, hash types.Hash) []*types.Block {
	t.Helper()

	txn := e.db.TxBeginWrite()
	defer txn.Discard()

	list, err := e.ledger.Rollback(txn, hash)
	if err != nil {
		t.Fatal(err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	return list
}

func (e *env) read(t *testing.T) *database.Transaction {
	txn := e.db.TxBeginRead()
	t.Cleanup(txn.Discard)

	return txn
}

func (e *env) weight(t *testing.T, rep types.Address) types.Amount {
	t.Helper()

	weight, err := e.ledger.Weight(e.read(t), rep)
	if err != nil {
		t.Fatal(err)
	}

	return weight
}

func (e *env) account(t *testing.T, account types.Address) *types.AccountInfo {
	t.Helper()

	info, err := e.read(t).GetAccountInfo(account)
	if err != nil {
		t.Fatalf("account %s: %s", account, err)
	}

	return info
}

// checkSupply asserts no raw was created or destroyed.
func (e *env) checkSupply(t *testing.T) {
	t.Helper()

	supply, err := e.ledger.Supply(e.read(t))
	if err != nil {
		t.Fatal(err)
	}

	if supply != e.params.Genesis.Amount {
		t.Fatalf("supply is %s, want %s", supply, e.params.Genesis.Amount)
	}
}

// checkWeights asserts the weights of all representatives add up to the
// balances of all accounts. Pending amounts count towards neither.
func (e *env) checkWeights(t *testing.T) {
	t.Helper()

	txn := e.read(t)

	var balances, weights types.Amount
	err := txn.IterateAccounts(func(_ types.Address, info *types.AccountInfo) bool {
		balances = balances.Add(info.Balance)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}

	err = txn.IterateRepresentation(func(_ types.Address, weight types.Amount) bool {
		weights = weights.Add(weight)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}

	if balances != weights {
		t.Fatalf("weights %s != balances %s", weights, balances)
	}
}

func amount(value uint64) types.Amount {
	return types.AmountFromUint64(value)
}

func TestLegacyChain(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)
	rep := testutil.Key(2).Address

	remaining := types.MaxAmount.Sub(amount(100))
	send := testutil.Send(e.genesis, e.genesisHash(), key.Address, remaining)

	result := e.process(t, send)
	if result.Code != ledger.PROGRESS {
		t.Fatalf("send: %s", result.Code)
	}

	if result.Amount != amount(100) || result.PendingAccount != key.Address || result.Account != e.genesis.Address {
		t.Fatalf("unexpected send result %+v", result)
	}

	if e.weight(t, e.genesis.Address) != remaining {
		t.Fatal("send did not reduce the sender's representative weight")
	}

	e.checkSupply(t)
	e.checkWeights(t)

	open := testutil.Open(key, send.Hash(), rep)
	e.mustProcess(t, open)

	info := e.account(t, key.Address)
	if info.Head != open.Hash() || info.OpenBlock != open.Hash() || info.Balance != amount(100) || info.BlockCount != 1 {
		t.Fatalf("unexpected opened account %+v", info)
	}

	if e.weight(t, rep) != amount(100) {
		t.Fatalf("rep weight %s", e.weight(t, rep))
	}

	change := testutil.Change(key, open.Hash(), e.genesis.Address)
	e.mustProcess(t, change)

	if !e.weight(t, rep).IsZero() || e.weight(t, e.genesis.Address) != types.MaxAmount {
		t.Fatal("change did not move the weight back to genesis")
	}

	send2 := testutil.Send(key, change.Hash(), e.genesis.Address, amount(40))
	receive := testutil.Receive(e.genesis, send.Hash(), send2.Hash())
	e.mustProcess(t, send2, receive)

	if got := e.account(t, e.genesis.Address).Balance; got != remaining.Add(amount(60)) {
		t.Fatalf("genesis balance %s", got)
	}

	e.checkSupply(t)
	e.checkWeights(t)
}

func TestStateChain(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	remaining := types.MaxAmount.Sub(amount(1000))
	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, remaining, types.Link(key.Address))

	result := e.process(t, send)
	if result.Code != ledger.PROGRESS || result.Subtype != ledger.SUBTYPE_SEND {
		t.Fatalf("send: %s %s", result.Code, result.Subtype)
	}

	open := testutil.State(key, types.Hash{}, key.Address, amount(1000), types.Link(send.Hash()))
	result = e.process(t, open)
	if result.Code != ledger.PROGRESS || result.Subtype != ledger.SUBTYPE_OPEN || result.Amount != amount(1000) {
		t.Fatalf("open: %+v", result)
	}

	change := testutil.State(key, open.Hash(), e.genesis.Address, amount(1000), types.Link{})
	result = e.process(t, change)
	if result.Code != ledger.PROGRESS || result.Subtype != ledger.SUBTYPE_CHANGE {
		t.Fatalf("change: %+v", result)
	}

	if !e.weight(t, key.Address).IsZero() {
		t.Fatal("old representative kept weight after change")
	}

	send2 := testutil.State(key, change.Hash(), e.genesis.Address, amount(400), types.Link(e.genesis.Address))
	receive := testutil.State(e.genesis, send.Hash(), e.genesis.Address, remaining.Add(amount(600)), types.Link(send2.Hash()))
	e.mustProcess(t, send2, receive)

	if e.weight(t, e.genesis.Address) != types.MaxAmount {
		t.Fatalf("genesis weight %s", e.weight(t, e.genesis.Address))
	}

	e.checkSupply(t)
	e.checkWeights(t)

	// Walking previous links from every head ends at an open block.
	txn := e.read(t)
	txn.IterateAccounts(func(account types.Address, info *types.AccountInfo) bool {
		current := info.Head
		for {
			block, err := txn.GetBlock(current)
			if err != nil {
				t.Fatalf("broken chain for %s at %s: %s", account, current, err)
			}

			if block.IsOpenBlock() {
				if current != info.OpenBlock {
					t.Fatalf("chain of %s ends at %s, open block is %s", account, current, info.OpenBlock)
				}
				return true
			}

			current = block.Previous
		}
	})
}

func TestBadSignature(t *testing.T) {
	e := newEnv(t)
	before := testutil.Snapshot(t, e.db)

	send := testutil.Send(e.genesis, e.genesisHash(), testutil.Key(1).Address, amount(0))
	send.Signature[32] ^= 1

	result := e.process(t, send)
	if result.Code != ledger.BAD_SIGNATURE || result.Verified != types.SIGNATURE_INVALID {
		t.Fatalf("expected bad_signature, got %s", result.Code)
	}

	after := testutil.Snapshot(t, e.db)
	if len(before) != len(after) {
		t.Fatal("rejected block changed the store")
	}

	for key, value := range before {
		if after[key] != value {
			t.Fatal("rejected block changed the store")
		}
	}
}

func TestRejections(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(10)), types.Link(key.Address))
	e.mustProcess(t, send)

	tests := []struct {
		name  string
		block *types.Block
		want  ledger.ProcessResult
	}{
		{"old", send, ledger.OLD},
		{"fork", testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(20)), types.Link(key.Address)), ledger.FORK},
		{"gap previous", testutil.State(e.genesis, types.Hash{1}, e.genesis.Address, amount(1), types.Link{}), ledger.GAP_PREVIOUS},
		{"gap source", testutil.State(key, types.Hash{}, key.Address, amount(10), types.Link{9, 9}), ledger.GAP_SOURCE},
		{"open without link", testutil.State(key, types.Hash{}, key.Address, amount(0), types.Link{}), ledger.GAP_SOURCE},
		{"balance mismatch", testutil.State(key, types.Hash{}, key.Address, amount(11), types.Link(send.Hash())), ledger.BALANCE_MISMATCH},
		{"unreceivable", testutil.State(testutil.Key(3), types.Hash{}, key.Address, amount(10), types.Link(send.Hash())), ledger.UNRECEIVABLE},
		{"legacy after state", testutil.Send(e.genesis, send.Hash(), key.Address, amount(0)), ledger.BLOCK_POSITION},
		{"change with balance", testutil.State(e.genesis, send.Hash(), key.Address, types.MaxAmount, types.Link{}), ledger.BALANCE_MISMATCH},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.process(t, tt.block).Code; got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}

	e.checkSupply(t)
	e.checkWeights(t)
}

func TestNegativeSpend(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.Send(e.genesis, e.genesisHash(), key.Address, amount(5))
	e.mustProcess(t, send)

	open := testutil.Open(key, send.Hash(), key.Address)
	e.mustProcess(t, open)

	overspend := testutil.Send(key, open.Hash(), e.genesis.Address, amount(0))
	overspend.Balance = types.MaxAmount
	overspend.Work = testutil.Solve(overspend.Root())
	overspend.Sign(key.PrivateKey)

	if got := e.process(t, overspend).Code; got != ledger.NEGATIVE_SPEND {
		t.Fatalf("expected negative_spend, got %s", got)
	}
}

func TestInsufficientWork(t *testing.T) {
	e := newEnv(t)

	send := testutil.Send(e.genesis, e.genesisHash(), testutil.Key(1).Address, amount(0))
	for nonce := types.Work(0); ; nonce++ {
		if work.Difficulty(send.Root(), nonce) < e.params.PublishThreshold {
			send.Work = nonce
			break
		}
	}
	send.Sign(e.genesis.PrivateKey)

	if got := e.process(t, send).Code; got != ledger.INSUFFICIENT_WORK {
		t.Fatalf("expected insufficient_work, got %s", got)
	}
}

func TestOpenedBurnAccount(t *testing.T) {
	e := newEnv(t)

	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(1)), types.Link{})
	e.mustProcess(t, send)

	burn := &types.Block{
		Type:    types.BLOCK_TYPE_STATE,
		Balance: amount(1),
		Link:    types.Link(send.Hash()),
	}
	burn.Work = testutil.Solve(burn.Root())

	txn := e.db.TxBeginWrite()
	defer txn.Discard()

	result, err := e.ledger.ProcessWithVerification(txn, burn, types.SIGNATURE_VALID)
	if err != nil {
		t.Fatal(err)
	}

	if result.Code != ledger.OPENED_BURN_ACCOUNT {
		t.Fatalf("expected opened_burn_account, got %s", result.Code)
	}
}

func TestEpochBlocks(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(50)), types.Link(key.Address))
	e.mustProcess(t, send)

	wrongRep := testutil.Epoch(e.genesis.Address, send.Hash(), key.Address, send.Balance)
	if got := e.process(t, wrongRep).Code; got != ledger.REPRESENTATIVE_MISMATCH {
		t.Fatalf("expected representative_mismatch, got %s", got)
	}

	epoch := testutil.Epoch(e.genesis.Address, send.Hash(), e.genesis.Address, send.Balance)
	result := e.process(t, epoch)
	if result.Code != ledger.PROGRESS || result.Subtype != ledger.SUBTYPE_EPOCH || result.Verified != types.SIGNATURE_VALID_EPOCH {
		t.Fatalf("epoch: %+v", result)
	}

	if info := e.account(t, e.genesis.Address); info.Epoch != types.EPOCH_1 {
		t.Fatalf("genesis account still at %s", info.Epoch)
	}

	again := testutil.Epoch(e.genesis.Address, epoch.Hash(), e.genesis.Address, send.Balance)
	if got := e.process(t, again).Code; got != ledger.BLOCK_POSITION {
		t.Fatalf("second epoch: expected block_position, got %s", got)
	}

	legacy := testutil.Send(e.genesis, epoch.Hash(), key.Address, amount(0))
	if got := e.process(t, legacy).Code; got != ledger.BLOCK_POSITION {
		t.Fatalf("legacy on upgraded account: expected block_position, got %s", got)
	}

	// Sends from an upgraded account carry the epoch to the pending row, a
	// legacy open can't receive them.
	send2 := testutil.State(e.genesis, epoch.Hash(), e.genesis.Address, send.Balance.Sub(amount(5)), types.Link(key.Address))
	e.mustProcess(t, send2)

	legacyOpen := testutil.Open(key, send2.Hash(), key.Address)
	if got := e.process(t, legacyOpen).Code; got != ledger.UNRECEIVABLE {
		t.Fatalf("legacy open of epoch send: expected unreceivable, got %s", got)
	}

	// The receiver is opened at epoch 1 by an epoch block since it has pending.
	epochOpen := testutil.Epoch(key.Address, types.Hash{}, types.Address{}, amount(0))
	e.mustProcess(t, epochOpen)

	receive := testutil.State(key, epochOpen.Hash(), key.Address, amount(5), types.Link(send2.Hash()))
	e.mustProcess(t, receive)

	if info := e.account(t, key.Address); info.Epoch != types.EPOCH_1 || info.BlockCount != 2 {
		t.Fatalf("unexpected receiver %+v", info)
	}

	lonely := testutil.Epoch(testutil.Key(7).Address, types.Hash{}, types.Address{}, amount(0))
	if got := e.process(t, lonely).Code; got != ledger.BLOCK_POSITION {
		t.Fatalf("epoch open without pending: expected block_position, got %s", got)
	}

	e.checkSupply(t)
	e.checkWeights(t)
}

func TestRollbackIsExactInverse(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)
	other := testutil.Key(2)

	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(100)), types.Link(key.Address))
	legacySend := testutil.Send(e.genesis, e.genesisHash(), other.Address, types.MaxAmount.Sub(amount(100)))

	steps := []struct {
		name  string
		setup []*types.Block
		block func() *types.Block
	}{
		{"state send", nil, func() *types.Block { return send }},
		{"legacy send", nil, func() *types.Block { return legacySend }},
		{"state open", []*types.Block{send}, func() *types.Block {
			return testutil.State(key, types.Hash{}, other.Address, amount(100), types.Link(send.Hash()))
		}},
		{"legacy open", []*types.Block{legacySend}, func() *types.Block {
			return testutil.Open(other, legacySend.Hash(), key.Address)
		}},
		{"state change", nil, func() *types.Block {
			return testutil.State(e.genesis, e.genesisHash(), key.Address, types.MaxAmount, types.Link{})
		}},
		{"legacy change", nil, func() *types.Block {
			return testutil.Change(e.genesis, e.genesisHash(), key.Address)
		}},
		{"epoch", nil, func() *types.Block {
			return testutil.Epoch(e.genesis.Address, e.genesisHash(), e.genesis.Address, types.MaxAmount)
		}},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			e := newEnv(t)
			e.mustProcess(t, step.setup...)

			before := testutil.Snapshot(t, e.db)
			block := step.block()
			e.mustProcess(t, block)
			e.checkSupply(t)
			e.checkWeights(t)

			list := e.rollback(t, block.Hash())
			if len(list) != 1 || list[0].Hash() != block.Hash() {
				t.Fatalf("unexpected rollback list of %d blocks", len(list))
			}

			after := testutil.Snapshot(t, e.db)
			if len(before) != len(after) {
				t.Fatalf("store has %d rows after rollback, %d before", len(after), len(before))
			}

			for k, v := range before {
				if after[k] != v {
					t.Fatalf("row %x differs after rollback", k)
				}
			}
		})
	}
}

func TestRollbackReceivedSend(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(100)), types.Link(key.Address))
	open := testutil.State(key, types.Hash{}, key.Address, amount(100), types.Link(send.Hash()))
	send2 := testutil.State(key, open.Hash(), key.Address, amount(40), types.Link(e.genesis.Address))
	e.mustProcess(t, send, open, send2)

	list := e.rollback(t, send.Hash())
	if len(list) != 3 {
		t.Fatalf("expected 3 rolled back blocks, got %d", len(list))
	}

	// Newest first, the receiving chain before the send it received.
	if list[0].Hash() != send2.Hash() || list[1].Hash() != open.Hash() || list[2].Hash() != send.Hash() {
		t.Fatal("rollback order is not newest first")
	}

	txn := e.read(t)
	for _, block := range []*types.Block{send, open, send2} {
		if exists, _ := txn.BlockExists(block.Hash()); exists {
			t.Fatalf("%s still stored", block)
		}
	}

	if _, err := txn.GetAccountInfo(key.Address); err != database.ErrNotFound {
		t.Fatalf("receiving account should be gone, got %v", err)
	}

	if info := e.account(t, e.genesis.Address); info.Head != e.genesisHash() || info.Balance != types.MaxAmount {
		t.Fatalf("genesis not restored: %+v", info)
	}

	e.checkSupply(t)
	e.checkWeights(t)
}

func TestRollbackRefusesConfirmed(t *testing.T) {
	e := newEnv(t)

	txn := e.db.TxBeginWrite()
	defer txn.Discard()

	_, err := e.ledger.Rollback(txn, e.genesisHash())
	if errors.Cause(err) != ledger.ErrRollbackConfirmed {
		t.Fatalf("expected ErrRollbackConfirmed, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	e := newEnv(t)
	key := testutil.Key(1)

	send := testutil.State(e.genesis, e.genesisHash(), e.genesis.Address, types.MaxAmount.Sub(amount(7)), types.Link(key.Address))
	open := testutil.Open(key, send.Hash(), e.genesis.Address)
	e.mustProcess(t, send)

	txn := e.read(t)

	successor, err := e.ledger.Successor(txn, send.QualifiedRoot())
	if err != nil || successor == nil || successor.Hash() != send.Hash() {
		t.Fatalf("successor of genesis root: %v %v", successor, err)
	}

	successor, err = e.ledger.Successor(txn, e.params.Genesis.Block.QualifiedRoot())
	if err != nil || successor == nil || successor.Hash() != e.genesisHash() {
		t.Fatalf("successor of genesis account root: %v %v", successor, err)
	}

	if sent, _ := e.ledger.Amount(txn, send.Hash()); sent != amount(7) {
		t.Fatalf("amount %s", sent)
	}

	if is_send, _ := e.ledger.IsSend(txn, send); !is_send {
		t.Fatal("state send not recognised")
	}

	if source, _ := e.ledger.BlockSource(txn, open); source != send.Hash() {
		t.Fatalf("source %s", source)
	}

	if fits, _ := e.ledger.CouldFit(txn, open); !fits {
		t.Fatal("open should fit")
	}

	if fits, _ := e.ledger.CouldFit(txn, testutil.Receive(key, types.Hash{1}, send.Hash())); fits {
		t.Fatal("receive on a missing previous should not fit")
	}

	if root, _ := e.ledger.LatestRoot(txn, key.Address); root != types.Hash(key.Address) {
		t.Fatalf("latest root of unopened account %s", root)
	}

	if confirmed, _ := e.ledger.BlockConfirmed(txn, e.genesisHash()); !confirmed {
		t.Fatal("genesis should be confirmed")
	}

	if confirmed, _ := e.ledger.BlockConfirmed(txn, send.Hash()); confirmed {
		t.Fatal("send should not be confirmed")
	}

	if rep, _ := e.ledger.Representative(txn, send.Hash()); rep != e.genesis.Address {
		t.Fatalf("representative %s", rep)
	}
}
