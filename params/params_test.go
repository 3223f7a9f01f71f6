package params

import (
	"testing"

	"github.com/tundak/nano-node-sub003/types"
)

func TestGenesisBlocks(t *testing.T) {
	for _, network := range []Network{NETWORK_LIVE, NETWORK_BETA, NETWORK_TEST} {
		t.Run(network.String(), func(t *testing.T) {
			genesis := New(network).Genesis

			if got := genesis.Block.Hash(); got != genesis.Hash {
				t.Fatalf("genesis hash mismatch: got %s, want %s", got, genesis.Hash)
			}

			if !genesis.Block.VerifySignature(genesis.Account) {
				t.Fatalf("genesis signature does not verify for %s", genesis.Account)
			}

			if genesis.Amount != types.MaxAmount {
				t.Fatalf("genesis amount should be 2^128-1, got %s", genesis.Amount)
			}
		})
	}
}

func TestTestGenesisPrivateKey(t *testing.T) {
	keys, err := types.KeyPairFromHex(TestGenesisPrivateKey)
	if err != nil {
		t.Fatal(err)
	}

	if keys.Address != New(NETWORK_TEST).Genesis.Account {
		t.Fatalf("test genesis key expands to %s", keys.Address.ToHexString())
	}
}

func TestNetworkHeaders(t *testing.T) {
	tests := []struct {
		network Network
		id      byte
		port    uint16
		rpc     uint16
	}{
		{NETWORK_LIVE, 'A', 9075, 9077},
		{NETWORK_BETA, 'B', 34000, 36000},
		{NETWORK_TEST, 'C', 44000, 46000},
	}

	for _, tt := range tests {
		p := New(tt.network)
		if p.HeaderNetworkID != [2]byte{'R', tt.id} {
			t.Errorf("%s: header id %q", tt.network, p.HeaderNetworkID)
		}
		if p.DefaultNodePort != tt.port || p.DefaultRPCPort != tt.rpc {
			t.Errorf("%s: ports %d/%d", tt.network, p.DefaultNodePort, p.DefaultRPCPort)
		}
	}
}
