package database

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
)

func TestUpgradeFromV1(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	genesis := params.New(params.NETWORK_TEST).Genesis

	db := newTestDatabase(t, cfg)
	if err := db.Initialize(genesis); err != nil {
		t.Fatal(err)
	}

	v1 := &types.AccountInfoV1{
		Head:     genesis.Hash,
		RepBlock: genesis.Hash,
		Balance:  genesis.Amount,
		Modified: 1234,
	}

	txn := db.TxBeginWrite()
	if err := txn.put(TABLE_ACCOUNTS_V0, genesis.Account[:], v1.Serialize()); err != nil {
		t.Fatal(err)
	}
	if err := txn.PutVersion(STORE_VERSION_V1); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := db.Cleanup(); err != nil {
		t.Fatal(err)
	}

	db = newTestDatabase(t, cfg)
	defer db.Cleanup()

	read := db.TxBeginRead()
	defer read.Discard()

	info, err := read.GetAccountInfo(genesis.Account)
	if err != nil {
		t.Fatal(err)
	}

	want := &types.AccountInfo{
		Head:               genesis.Hash,
		OpenBlock:          genesis.Hash,
		Representative:     genesis.Account,
		Balance:            genesis.Amount,
		Modified:           1234,
		BlockCount:         1,
		ConfirmationHeight: 0,
		Epoch:              types.EPOCH_0,
	}

	if *info != *want {
		t.Fatalf("upgraded account\n got %+v\nwant %+v", info, want)
	}

	version, err := read.GetVersion()
	if err != nil || version != STORE_VERSION_CURRENT {
		t.Fatalf("version %d, err %v", version, err)
	}
}

func TestUpgradeFromV13KeepsEpochTables(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	genesis := params.New(params.NETWORK_TEST).Genesis

	db := newTestDatabase(t, cfg)
	if err := db.Initialize(genesis); err != nil {
		t.Fatal(err)
	}

	other := types.Address{7}
	v13 := &types.AccountInfoV13{
		Head:       genesis.Hash,
		RepBlock:   genesis.Hash,
		OpenBlock:  genesis.Hash,
		Balance:    genesis.Amount,
		Modified:   99,
		BlockCount: 1,
	}

	txn := db.TxBeginWrite()
	if err := txn.del(TABLE_ACCOUNTS_V0, genesis.Account[:]); err != nil {
		t.Fatal(err)
	}
	if err := txn.put(TABLE_ACCOUNTS_V1, genesis.Account[:], v13.Serialize()); err != nil {
		t.Fatal(err)
	}
	if err := txn.put(TABLE_ACCOUNTS_V0, other[:], v13.Serialize()); err != nil {
		t.Fatal(err)
	}
	if err := txn.PutVersion(STORE_VERSION_V13); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := db.Cleanup(); err != nil {
		t.Fatal(err)
	}

	db = newTestDatabase(t, cfg)
	defer db.Cleanup()

	read := db.TxBeginRead()
	defer read.Discard()

	tests := []struct {
		account types.Address
		epoch   types.Epoch
	}{
		{genesis.Account, types.EPOCH_1},
		{other, types.EPOCH_0},
	}

	for _, test := range tests {
		info, err := read.GetAccountInfo(test.account)
		if err != nil {
			t.Fatalf("account %s: %s", test.account.ToHexString(), err)
		}

		if info.Epoch != test.epoch || info.Modified != 99 || info.Representative != genesis.Account {
			t.Fatalf("account %s upgraded to %+v", test.account.ToHexString(), info)
		}
	}

	if exists, _ := read.exists(TABLE_ACCOUNTS_V0, genesis.Account[:]); exists {
		t.Fatal("epoch 1 account moved to the epoch 0 table")
	}

	version, err := read.GetVersion()
	if err != nil || version != STORE_VERSION_CURRENT {
		t.Fatalf("version %d, err %v", version, err)
	}
}

func TestVersionTooHigh(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}

	db := newTestDatabase(t, cfg)
	txn := db.TxBeginWrite()
	txn.PutVersion(STORE_VERSION_CURRENT + 1)
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	db.Cleanup()

	db = New(cfg, db.logger)
	err := db.ValidateAndStart()
	if errors.Cause(err) != ErrVersionTooHigh {
		t.Fatalf("expected ErrVersionTooHigh, got %v", err)
	}
}
