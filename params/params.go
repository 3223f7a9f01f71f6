// Package params holds the constants that differ between the live, beta and
// test networks. A NetworkParams value is built once at startup and passed to
// every subsystem; nothing reads a global network selector.
package params

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/types"
)

type Network byte

const (
	NETWORK_LIVE Network = iota
	NETWORK_BETA
	NETWORK_TEST
)

func (network Network) String() string {
	switch network {
	case NETWORK_BETA:
		return "beta"
	case NETWORK_TEST:
		return "test"
	}

	return "live"
}

func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(name) {
	case "live":
		return NETWORK_LIVE, nil
	case "beta":
		return NETWORK_BETA, nil
	case "test":
		return NETWORK_TEST, nil
	}

	return NETWORK_LIVE, errors.Errorf("unknown network %q", name)
}

const (
	PROTOCOL_VERSION     byte = 18
	PROTOCOL_VERSION_MIN byte = 17

	VERSION_MAJOR byte = 18
	VERSION_MINOR byte = 0

	HEADER_MAGIC byte = 'R'
)

// 10^30 raw
var MxrbRatio = types.MustAmount("1000000000000000000000000000000")

type Genesis struct {
	Block   *types.Block
	Hash    types.Hash
	Account types.Address
	Amount  types.Amount
}

type NetworkParams struct {
	Network Network

	HeaderNetworkID [2]byte

	DefaultNodePort uint16
	DefaultRPCPort  uint16

	Genesis     Genesis
	BurnAccount types.Address

	EpochLink   types.Link
	EpochSigner types.Address

	PublishThreshold uint64

	OnlineWeightMinimum types.Amount
	QuorumPercent       uint64

	RequestInterval        time.Duration
	GapCacheBootstrapDelay time.Duration
	VoteGeneratorDelay     time.Duration
	OnlineWeightPeriod     time.Duration
}

func New(network Network) NetworkParams {
	genesis := genesisFor(network)

	params := NetworkParams{
		Network:         network,
		HeaderNetworkID: [2]byte{HEADER_MAGIC, 'A'},

		DefaultNodePort: 9075,
		DefaultRPCPort:  9077,

		Genesis: genesis,

		EpochLink:   types.LinkFromText("epoch v1 block"),
		EpochSigner: genesis.Account,

		PublishThreshold: 0xffffffc000000000,

		OnlineWeightMinimum: MxrbRatio.MulDiv(60_000_000, 1),
		QuorumPercent:       50,

		RequestInterval:        500 * time.Millisecond,
		GapCacheBootstrapDelay: 5 * time.Second,
		VoteGeneratorDelay:     50 * time.Millisecond,
		OnlineWeightPeriod:     5 * time.Minute,
	}

	switch network {
	case NETWORK_BETA:
		params.HeaderNetworkID[1] = 'B'
		params.DefaultNodePort = 34000
		params.DefaultRPCPort = 36000
		params.PublishThreshold = 0xfffff00000000000
	case NETWORK_TEST:
		params.HeaderNetworkID[1] = 'C'
		params.DefaultNodePort = 44000
		params.DefaultRPCPort = 46000
		params.PublishThreshold = 0xff00000000000000
		params.RequestInterval = 20 * time.Millisecond
		params.GapCacheBootstrapDelay = 5 * time.Millisecond
		params.VoteGeneratorDelay = 2 * time.Millisecond
		params.OnlineWeightPeriod = time.Second
	}

	return params
}

func (params *NetworkParams) IsTestNetwork() bool {
	return params.Network == NETWORK_TEST
}
