package node_test

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/node"
	"github.com/tundak/nano-node-sub003/p2p"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
)

func testConfig() *node.Config {
	cfg := node.DefaultConfig(params.NETWORK_TEST)
	cfg.Database = database.Config{InMemory: true}
	cfg.Nano.P2P.ListenAddr = "127.0.0.1:0"
	cfg.Nano.P2P.MaxBootstrapPeers = 0
	cfg.Nano.Logs = p2p.LogsConfig{}
	cfg.HTTP.ListenAddr = "127.0.0.1:0"
	cfg.Logs = node.LogsConfig{}
	cfg.Node.Work.Threads = 1
	cfg.Node.RepresentativeKeys = []string{params.TestGenesisPrivateKey}

	return &cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	for _, network := range []params.Network{params.NETWORK_LIVE, params.NETWORK_BETA, params.NETWORK_TEST} {
		cfg := node.DefaultConfig(network)
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: %s", network, err)
		}

		if cfg.Version != node.ConfigVersion {
			t.Fatalf("%s: version %d", network, cfg.Version)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *node.Config)
	}{
		{"unknown network", func(cfg *node.Config) { cfg.Node.Network = "moon" }},
		{"short representative key", func(cfg *node.Config) { cfg.Node.RepresentativeKeys = []string{"abcd"} }},
		{"no data dir", func(cfg *node.Config) { cfg.Database = database.Config{} }},
		{"no listen address", func(cfg *node.Config) { cfg.HTTP.ListenAddr = "" }},
		{"no batch time", func(cfg *node.Config) { cfg.Node.BlockProcessor.BatchMaxTime = 0 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := node.DefaultConfig(params.NETWORK_LIVE)
			test.modify(&cfg)

			if err := cfg.Validate(); errors.Cause(err) != node.ErrInvalidConfig {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestConfigUpgrade(t *testing.T) {
	defaults := node.DefaultConfig(params.NETWORK_LIVE)

	// A version 1 file knows nothing about workers, rollbacks or the websocket
	// buffer.
	cfg := node.DefaultConfig(params.NETWORK_LIVE)
	cfg.Version = 0
	cfg.Node.Network = ""
	cfg.Nano.P2P.ConfirmReqWorkers = 0
	cfg.Nano.P2P.KeepaliveInterval = 0
	cfg.Node.BlockProcessor.RolledBackMax = 0
	cfg.Node.BlockProcessor.RolledBackTTL = 0
	cfg.WS.SubscriberBuffer = 0

	upgraded, err := cfg.Upgrade()
	if err != nil {
		t.Fatal(err)
	}

	if !upgraded || cfg.Version != node.ConfigVersion {
		t.Fatalf("upgraded %t to version %d", upgraded, cfg.Version)
	}

	if cfg.Nano.P2P.ConfirmReqWorkers != defaults.Nano.P2P.ConfirmReqWorkers || cfg.Nano.P2P.KeepaliveInterval != defaults.Nano.P2P.KeepaliveInterval {
		t.Fatalf("version 1 fixes not applied: %+v", cfg.Nano.P2P)
	}

	if cfg.Node.BlockProcessor.RolledBackMax != defaults.Node.BlockProcessor.RolledBackMax || cfg.WS.SubscriberBuffer != defaults.WS.SubscriberBuffer {
		t.Fatal("version 2 fixes not applied")
	}

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	upgraded, err = cfg.Upgrade()
	if err != nil || upgraded {
		t.Fatalf("current config upgraded again: %t %v", upgraded, err)
	}

	// Version 2 only gets the later fixes.
	cfg = node.DefaultConfig(params.NETWORK_LIVE)
	cfg.Version = 2
	cfg.Nano.P2P.ConfirmReqWorkers = 7
	cfg.WS.SubscriberBuffer = 0
	if _, err := cfg.Upgrade(); err != nil {
		t.Fatal(err)
	}

	if cfg.Nano.P2P.ConfirmReqWorkers != 7 || cfg.WS.SubscriberBuffer != defaults.WS.SubscriberBuffer {
		t.Fatalf("version 2 upgrade %+v %+v", cfg.Nano.P2P, cfg.WS)
	}

	cfg.Version = node.ConfigVersion + 1
	if _, err := cfg.Upgrade(); errors.Cause(err) != node.ErrConfigVersionAhead {
		t.Fatalf("newer config got %v", err)
	}
}

func TestLoadConfigWritesUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := node.DefaultConfig(params.NETWORK_BETA)
	cfg.Version = 2
	cfg.WS.SubscriberBuffer = 0

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := node.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Version != node.ConfigVersion || loaded.Node.Network != "beta" || loaded.WS.SubscriberBuffer == 0 {
		t.Fatalf("loaded %+v", loaded)
	}

	reloaded, err := node.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if reloaded.Version != node.ConfigVersion || reloaded.Node.BlockProcessor.BatchMaxTime != cfg.Node.BlockProcessor.BatchMaxTime {
		t.Fatalf("file was not rewritten: %+v", reloaded)
	}
}

func postAction(t *testing.T, n *node.Node, request map[string]string) map[string]interface{} {
	t.Helper()

	body, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}

	response, err := http.Post("http://"+n.HTTP.ListenAddr().String()+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}

	return decoded
}

func TestNodeConfirmsLocalBlock(t *testing.T) {
	n, err := node.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(n.Stop)

	if err := n.Start(); err != nil {
		t.Fatal(err)
	}

	genesis := n.Params.Genesis
	send := testutil.Send(testutil.GenesisKey(), genesis.Hash, testutil.Key(1).Address, types.MaxAmount.Sub(types.AmountFromUint64(100)))
	if !n.BlockProcessor.Add(send, blockprocessor.ORIGIN_LOCAL, nil) {
		t.Fatal("block was not queued")
	}

	// The node votes with the genesis key, which holds every raw, so its own
	// vote is a quorum.
	deadline := time.Now().Add(10 * time.Second)
	for {
		txn := n.Database.TxBeginRead()
		info, err := n.Ledger.AccountInfo(txn, genesis.Account)
		txn.Discard()
		if err != nil {
			t.Fatal(err)
		}

		if info.ConfirmationHeight == 2 {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("confirmation height stuck at %d", info.ConfirmationHeight)
		}

		time.Sleep(10 * time.Millisecond)
	}

	if !n.Active.Confirmed(send.Hash()) {
		t.Fatal("election not marked confirmed")
	}

	count := postAction(t, n, map[string]string{"action": "block_count"})
	if count["count"] != "2" || count["cemented"] != "2" {
		t.Fatalf("block_count %v", count)
	}

	if len(n.VotesCache.Find(send.Hash())) == 0 {
		t.Fatal("our vote was not cached")
	}
}

func TestStopWithoutStart(t *testing.T) {
	n, err := node.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	n.Stop()
	n.Stop()
}
