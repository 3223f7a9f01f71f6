// Package node builds every subsystem from a Config, connects them and runs
// them behind a single Start/Stop pair.
package node

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/active"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/confirmation"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/gapcache"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/p2p"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/rpc"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
	"github.com/tundak/nano-node-sub003/voting"
	"github.com/tundak/nano-node-sub003/work"
)

type Node struct {
	Config *Config
	Params *params.NetworkParams
	Stats  *stats.Stats

	Database *database.Database
	Ledger   *ledger.Ledger

	SignatureChecker   *blockprocessor.SignatureChecker
	BlockProcessor     *blockprocessor.BlockProcessor
	GapCache           *gapcache.GapCache
	OnlineReps         *active.OnlineReps
	Active             *active.ActiveTransactions
	VotesCache         *voting.VotesCache
	VoteProcessor      *voting.VoteProcessor
	VoteGenerator      *voting.VoteGenerator
	ConfirmationHeight *confirmation.HeightProcessor
	WorkPool           *work.Pool

	P2P  *p2p.P2P
	HTTP *rpc.HTTPRPCServer

	representatives []types.Address

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *logrus.Entry
}

func representativeKeys(cfg *NodeConfig) ([]*types.KeyPair, error) {
	if !cfg.EnableVoting {
		return nil, nil
	}

	keys := make([]*types.KeyPair, 0, len(cfg.RepresentativeKeys))
	for i, private_key := range cfg.RepresentativeKeys {
		pair, err := types.KeyPairFromHex(private_key)
		if err != nil {
			return nil, errors.Wrapf(err, "representative key %d", i)
		}

		keys = append(keys, pair)
	}

	return keys, nil
}

// New builds the node without touching the disk or the network.
func New(cfg *Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	network, err := params.ParseNetwork(cfg.Node.Network)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	keys, err := representativeKeys(&cfg.Node)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	networkParams := params.New(network)
	logs := &cfg.Logs

	cfg.Database.WriteTxnWarnThreshold = cfg.WriteTxnWarnThreshold()

	node := &Node{
		Config: cfg,
		Params: &networkParams,
		Stats:  stats.New(),
		stop:   make(chan struct{}),
		logger: utils.NewLogger("Node", true),
	}

	for _, pair := range keys {
		node.representatives = append(node.representatives, pair.Address)
	}

	node.Database = database.New(&cfg.Database, utils.NewLogger("Database", logs.Database))
	node.Ledger = ledger.New(node.Database, node.Params, node.Stats, utils.NewLogger("Ledger", logs.Ledger))

	node.SignatureChecker = blockprocessor.NewSignatureChecker(cfg.Node.BlockProcessor.SignatureCheckThreads)
	node.BlockProcessor = blockprocessor.New(&cfg.Node.BlockProcessor, node.Ledger, node.SignatureChecker, utils.NewLogger("BlockProcessor", logs.BlockProcessor))

	node.OnlineReps = active.NewOnlineReps(node.Ledger, cfg.Node.Active.MaxWeightSamples, utils.NewLogger("OnlineReps", logs.Active))
	node.Active = active.New(&cfg.Node.Active, node.Ledger, node.OnlineReps, utils.NewLogger("Active", logs.Active))

	node.ConfirmationHeight = confirmation.New(&cfg.Node.Confirmation, node.Ledger, utils.NewLogger("ConfirmationHeight", logs.ConfirmationHeight))
	node.WorkPool = work.NewPool(&cfg.Node.Work, nil, utils.NewLogger("Work", logs.Work))

	node.P2P = p2p.New(&cfg.Nano, node.Ledger, utils.NewLogger("P2P", true))

	node.GapCache = gapcache.New(
		&cfg.Node.GapCache,
		node.Params.OnlineWeightMinimum,
		node.Params.GapCacheBootstrapDelay,
		node.Ledger,
		node.OnlineReps,
		node.P2P,
		utils.NewLogger("GapCache", logs.GapCache),
	)

	node.VotesCache = voting.NewVotesCache(cfg.Node.VotesCacheSize)
	node.VoteProcessor = voting.NewVoteProcessor(node.Ledger, node.SignatureChecker, node.Active, node.OnlineReps, node.VotesCache, utils.NewLogger("VoteProcessor", logs.Voting))
	if len(keys) > 0 {
		node.VoteGenerator = voting.NewVoteGenerator(node.Database, keys, node.Params.VoteGeneratorDelay, node.VotesCache, node.VoteProcessor, node.P2P, utils.NewLogger("VoteGenerator", logs.Voting))
	}

	if cfg.HTTP.Enabled {
		node.HTTP = rpc.NewHTTPRPCServer(&cfg.HTTP, &cfg.WS, node.Ledger, utils.NewLogger("RPC", logs.RPC))
	}

	node.wire()

	return node, nil
}

// wire connects the subsystems. Optional collaborators are only set when
// they exist so no interface holds a nil pointer.
func (node *Node) wire() {
	node.BlockProcessor.SetCollaborators(blockprocessor.Collaborators{
		Elections:          node.Active,
		GapCache:           node.GapCache,
		Network:            node.P2P,
		VotesCache:         node.VotesCache,
		ConfirmationHeight: node.ConfirmationHeight,
	})

	activeCollaborators := active.Collaborators{
		BlockForcer:        node.BlockProcessor,
		Network:            node.P2P,
		ConfirmationHeight: node.ConfirmationHeight,
	}
	p2pCollaborators := p2p.Collaborators{
		BlockProcessor: node.BlockProcessor,
		VoteProcessor:  node.VoteProcessor,
		VotesCache:     node.VotesCache,
		Difficulty:     node.Active,
	}
	if node.VoteGenerator != nil {
		activeCollaborators.VoteGenerator = node.VoteGenerator
		p2pCollaborators.VoteGenerator = node.VoteGenerator
	}

	node.Active.SetCollaborators(activeCollaborators)
	node.P2P.SetCollaborators(p2pCollaborators)

	node.VoteProcessor.AddObserver(node.observeVote)
	node.ConfirmationHeight.AddObserver(node.Active.BlockCemented)

	if node.HTTP != nil {
		node.HTTP.SetCollaborators(rpc.Collaborators{
			BlockProcessor: node.BlockProcessor,
			Elections:      node.Active,
			WorkPool:       node.WorkPool,
			Peers:          node.P2P.PeersManager,
			Bootstrapper:   node.P2P,
		})

		if node.HTTP.WS != nil {
			node.Active.AddObserver(node.HTTP.WS.ObserveElection)
		}
	}
}

// observeVote sees every vote that wasn't a replay.
func (node *Node) observeVote(vote *types.Vote, channel types.Channel, code active.VoteCode) {
	node.OnlineReps.Observe(vote.Account)
	node.GapCache.Vote(vote)

	peer, ok := channel.(*networking.PeerNode)
	if !ok || peer == nil {
		return
	}

	if !node.Ledger.RepresentativeWeight(vote.Account).IsZero() {
		node.P2P.PeersManager.RecordRepresentative(vote.Account, peer)
	}
}

// Start opens the store, seeds it with the genesis block when empty and
// starts every subsystem. Stop must be called even when Start fails.
func (node *Node) Start() error {
	if err := node.Database.ValidateAndStart(); err != nil {
		return errors.Wrap(err, "starting store")
	}

	if err := node.Database.Initialize(node.Params.Genesis); err != nil {
		return errors.Wrap(err, "initializing store")
	}

	node.logStartup()

	node.WorkPool.Start()
	node.ConfirmationHeight.Start()
	node.BlockProcessor.Start()
	node.Active.Start()
	node.VoteProcessor.Start()
	if node.VoteGenerator != nil {
		node.VoteGenerator.Start()
	}

	node.wg.Add(1)
	go func() {
		defer node.wg.Done()
		node.OnlineReps.Run(node.Params.OnlineWeightPeriod, node.stop)
	}()

	if err := node.P2P.ValidateAndStart(); err != nil {
		return errors.Wrap(err, "starting p2p server")
	}

	if node.HTTP != nil {
		if err := node.HTTP.ValidateAndStart(); err != nil {
			return errors.Wrap(err, "starting HTTP server")
		}
	}

	return nil
}

func (node *Node) logStartup() {
	txn := node.Database.TxBeginRead()
	defer txn.Discard()

	blocks, err := txn.BlockCount()
	if err != nil {
		node.logger.Warnf("Error counting blocks: %s", err)
		return
	}

	unchecked, err := txn.UncheckedCount()
	if err != nil {
		node.logger.Warnf("Error counting unchecked blocks: %s", err)
		return
	}

	node.logger.Infof("Starting %s node with %s blocks and %s unchecked", node.Params.Network, humanize.Comma(int64(blocks)), humanize.Comma(int64(unchecked)))

	for _, representative := range node.representatives {
		node.logger.Infof("Voting as %s", representative.ToNanoAddress())
	}
}

// Stop shuts everything down, outer surfaces first, and waits for every
// goroutine to exit before closing the store.
func (node *Node) Stop() {
	node.stopOnce.Do(func() {
		close(node.stop)

		if node.HTTP != nil {
			node.HTTP.Stop()
		}

		node.P2P.Stop()
		node.GapCache.Stop()

		if node.VoteGenerator != nil {
			node.VoteGenerator.Stop()
		}
		node.VoteProcessor.Stop()
		node.Active.Stop()
		node.BlockProcessor.Stop()
		node.ConfirmationHeight.Stop()
		node.WorkPool.Stop()

		node.wg.Wait()

		if err := node.Database.Cleanup(); err != nil {
			node.logger.Errorf("Error closing store: %s", err)
		}
	})
}
