// Package active runs elections on contested roots until representatives
// holding a quorum of online weight agree on a winner.
package active

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/work"
)

// Confirmed blocks the ledger doesn't have yet are retried this many times.
const confirmedRetries = 20

type VoteCode byte

const (
	VOTE_INVALID VoteCode = iota
	VOTE_REPLAY
	VOTE_VOTE
	// None of the hashes are in an election.
	VOTE_INDETERMINATE
)

func (code VoteCode) String() string {
	switch code {
	case VOTE_INVALID:
		return "invalid"
	case VOTE_REPLAY:
		return "replay"
	case VOTE_VOTE:
		return "vote"
	}

	return "indeterminate"
}

type BlockForcer interface {
	Force(block *types.Block)
}

type Network interface {
	FloodBlock(block *types.Block)
	FloodVote(vote *types.Vote)
	SendConfirmReq(blocks []*types.Block)
}

type ConfirmationHeight interface {
	Add(hash types.Hash)
}

type VoteGenerator interface {
	Add(hash types.Hash)
}

// Collaborators may be left nil.
type Collaborators struct {
	BlockForcer        BlockForcer
	Network            Network
	ConfirmationHeight ConfirmationHeight
	VoteGenerator      VoteGenerator
}

type conflictInfo struct {
	root               types.QualifiedRoot
	difficulty         uint64
	adjustedDifficulty uint64
	election           *Election
}

type ActiveTransactions struct {
	Config *Config

	ledger *ledger.Ledger
	params *params.NetworkParams
	online *OnlineReps
	stats  *stats.Stats

	collaborators Collaborators

	roots  map[types.QualifiedRoot]*conflictInfo
	blocks map[types.Hash]*Election

	recentlyConfirmedRoots  *simplelru.LRU
	recentlyConfirmedHashes *simplelru.LRU
	recentConfirmations     []ElectionStatus
	confirmationTimes       []time.Time

	multipliers      []float64
	multipliersNext  int
	activeDifficulty uint64

	observers []func(ElectionStatus)

	electionsMutex sync.Mutex

	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup

	logger *logrus.Entry
}

func New(cfg *Config, ledger *ledger.Ledger, online *OnlineReps, logger *logrus.Entry) *ActiveTransactions {
	roots, err := simplelru.NewLRU(cfg.RecentlyConfirmedSize, nil)
	if err != nil {
		panic(err)
	}

	hashes, err := simplelru.NewLRU(cfg.RecentlyConfirmedSize, nil)
	if err != nil {
		panic(err)
	}

	multipliers := make([]float64, cfg.TrendedSamples)
	for i := range multipliers {
		multipliers[i] = 1
	}

	return &ActiveTransactions{
		Config:                  cfg,
		ledger:                  ledger,
		params:                  ledger.Params,
		online:                  online,
		stats:                   ledger.Stats,
		roots:                   make(map[types.QualifiedRoot]*conflictInfo),
		blocks:                  make(map[types.Hash]*Election),
		recentlyConfirmedRoots:  roots,
		recentlyConfirmedHashes: hashes,
		multipliers:             multipliers,
		activeDifficulty:        ledger.Params.PublishThreshold,
		stop:                    make(chan struct{}),
		logger:                  logger,
	}
}

func (active *ActiveTransactions) SetCollaborators(collaborators Collaborators) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	active.collaborators = collaborators
}

// AddObserver registers fn to be called, outside of any lock, for every
// confirmed election.
func (active *ActiveTransactions) AddObserver(fn func(ElectionStatus)) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	active.observers = append(active.observers, fn)
}

func (active *ActiveTransactions) Start() {
	active.wg.Add(1)
	go active.requestLoop()
}

func (active *ActiveTransactions) Stop() {
	active.electionsMutex.Lock()
	if active.stopped {
		active.electionsMutex.Unlock()
		return
	}

	active.stopped = true
	for _, info := range active.roots {
		info.election.stop()
	}
	active.roots = make(map[types.QualifiedRoot]*conflictInfo)
	active.blocks = make(map[types.Hash]*Election)
	active.electionsMutex.Unlock()

	close(active.stop)
	active.wg.Wait()
}

// StartElection opens an election for block's root. It returns false if the
// root already has one, was recently confirmed, or the node is stopping.
func (active *ActiveTransactions) StartElection(block *types.Block, confirmed func(*types.Block)) bool {
	account, err := active.signerOf(block)
	if err != nil {
		active.logger.Errorf("Error resolving account of %s: %s", block.Hash(), err)
		return false
	}

	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	if active.stopped {
		return false
	}

	root := block.QualifiedRoot()
	if _, exists := active.roots[root]; exists || active.recentlyConfirmedRoots.Contains(root) {
		return false
	}

	hash := block.Hash()
	difficulty := work.BlockDifficulty(block)
	election := newElection(active, block, account, confirmed)

	active.roots[root] = &conflictInfo{
		root:               root,
		difficulty:         difficulty,
		adjustedDifficulty: difficulty,
		election:           election,
	}
	active.blocks[hash] = election

	active.updateDependent(election)
	active.adjustDifficulty(hash)

	active.stats.Inc("election", "start")
	active.logger.Debugf("Started election for %s", hash)

	return true
}

// signerOf returns the account a block belongs to. Legacy blocks other than
// open don't name it, the ledger does.
func (active *ActiveTransactions) signerOf(block *types.Block) (types.Address, error) {
	if block.Type == types.BLOCK_TYPE_STATE || block.Type == types.BLOCK_TYPE_OPEN {
		return block.Account, nil
	}

	txn := active.ledger.Store.TxBeginRead()
	defer txn.Discard()

	return active.ledger.Account(txn, block.Previous)
}

// Publish offers a competing block to the election on its root. It returns
// true if the block joined an election.
func (active *ActiveTransactions) Publish(block *types.Block) bool {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	info, exists := active.roots[block.QualifiedRoot()]
	if !exists {
		return false
	}

	if !info.election.Publish(block) {
		return false
	}

	active.blocks[block.Hash()] = info.election

	return true
}

// Vote applies vote to every election one of its hashes belongs to.
func (active *ActiveTransactions) Vote(vote *types.Vote) VoteCode {
	replay, processed, found := false, false, false

	active.electionsMutex.Lock()
	for _, hash := range vote.Hashes {
		election, exists := active.blocks[hash]
		if !exists {
			continue
		}

		found = true
		result := election.Vote(vote.Account, vote.Sequence, hash)
		replay = replay || result.Replay
		processed = processed || result.Processed
	}
	network := active.collaborators.Network
	active.electionsMutex.Unlock()

	if processed && network != nil {
		network.FloodVote(vote)
	}

	switch {
	case replay:
		return VOTE_REPLAY
	case found:
		return VOTE_VOTE
	}

	return VOTE_INDETERMINATE
}

func (active *ActiveTransactions) Active(root types.QualifiedRoot) bool {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	_, exists := active.roots[root]

	return exists
}

func (active *ActiveTransactions) ActiveBlock(hash types.Hash) bool {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	_, exists := active.blocks[hash]

	return exists
}

// Election returns a snapshot of the winner and tally of the election on root.
func (active *ActiveTransactions) Election(root types.QualifiedRoot) (ElectionStatus, bool) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	info, exists := active.roots[root]
	if !exists {
		return ElectionStatus{}, false
	}

	return info.election.status, true
}

// Erase stops the election on block's root.
func (active *ActiveTransactions) Erase(block *types.Block) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	root := block.QualifiedRoot()
	info, exists := active.roots[root]
	if !exists {
		return
	}

	active.eraseLocked(info)
	active.logger.Debugf("Election erased for block %s root %s", block.Hash(), root)
}

func (active *ActiveTransactions) eraseLocked(info *conflictInfo) {
	info.election.stop()
	for hash := range info.election.blocks {
		if active.blocks[hash] == info.election {
			delete(active.blocks, hash)
		}
	}

	delete(active.roots, info.root)
}

// Confirmed reports whether hash recently won an election.
func (active *ActiveTransactions) Confirmed(hash types.Hash) bool {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	return active.recentlyConfirmedHashes.Contains(hash)
}

func (active *ActiveTransactions) Size() int {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	return len(active.roots)
}

// ListRecentlyConfirmed returns the latest confirmed elections, oldest first.
func (active *ActiveTransactions) ListRecentlyConfirmed() []ElectionStatus {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	return slices.Clone(active.recentConfirmations)
}

// QuorumThreshold is the weight a candidate needs to be confirmed.
func (active *ActiveTransactions) QuorumThreshold() types.Amount {
	return active.online.Delta().Max(active.params.OnlineWeightMinimum)
}

func (active *ActiveTransactions) forceWinner(block *types.Block) {
	if forcer := active.collaborators.BlockForcer; forcer != nil {
		forcer.Force(block)
	}
}

// confirmed records a finished election. Called with electionsMutex held.
func (active *ActiveTransactions) confirmed(election *Election, status ElectionStatus) {
	winner := status.Winner
	hash := winner.Hash()

	active.recentlyConfirmedRoots.Add(election.Root, hash)
	active.recentlyConfirmedHashes.Add(hash, election.Root)

	active.recentConfirmations = append(active.recentConfirmations, status)
	if overflow := len(active.recentConfirmations) - active.Config.RecentConfirmationsSize; overflow > 0 {
		active.recentConfirmations = slices.Delete(active.recentConfirmations, 0, overflow)
	}

	active.confirmationTimes = append(active.confirmationTimes, status.ElectionEnd)
	active.addTrendedSample(work.ToMultiplier(work.BlockDifficulty(winner), active.params.PublishThreshold))

	active.stats.Inc("election", "confirmed")
	active.logger.Debugf("Election for %s confirmed %s with tally %s", election.Root, hash, status.Tally)

	collaborators := active.collaborators
	observers := slices.Clone(active.observers)
	action := election.confirmationAction

	active.wg.Add(1)
	go func() {
		defer active.wg.Done()

		if collaborators.Network != nil {
			collaborators.Network.FloodBlock(winner)
		}

		active.processConfirmed(winner, collaborators.ConfirmationHeight, 0)

		for _, observer := range observers {
			observer(status)
		}

		if action != nil {
			action(winner)
		}
	}()
}

// BlockCemented settles the election of a block that was cemented as a
// dependency of another confirmation. A block cemented without an election is
// reported to observers as an inactive confirmation.
func (active *ActiveTransactions) BlockCemented(block *types.Block) {
	hash := block.Hash()

	active.electionsMutex.Lock()
	if active.stopped || active.recentlyConfirmedHashes.Contains(hash) {
		active.electionsMutex.Unlock()
		return
	}

	if election, found := active.blocks[hash]; found && !election.confirmed {
		election.status.Winner = election.blocks[hash]
		election.ConfirmOnce(STATUS_ACTIVE_CONFIRMATION_HEIGHT)
		active.electionsMutex.Unlock()
		return
	}

	active.recentlyConfirmedHashes.Add(hash, block.QualifiedRoot())
	observers := slices.Clone(active.observers)
	active.electionsMutex.Unlock()

	active.stats.Inc("election", "inactive_confirmed")

	status := ElectionStatus{
		Winner:      block,
		ElectionEnd: time.Now(),
		BlockCount:  1,
		Type:        STATUS_INACTIVE_CONFIRMATION_HEIGHT,
	}
	for _, observer := range observers {
		observer(status)
	}
}

// processConfirmed hands the winner to confirmation height once the ledger
// has it. A forced winner may still be queued in the block processor.
func (active *ActiveTransactions) processConfirmed(winner *types.Block, confirmation ConfirmationHeight, iteration int) {
	if confirmation == nil {
		return
	}

	hash := winner.Hash()
	if active.ledger.BlockExists(hash) {
		confirmation.Add(hash)
		return
	}

	if iteration >= confirmedRetries {
		active.logger.Warnf("Confirmed block %s never reached the ledger", hash)
		return
	}

	select {
	case <-active.stop:
	case <-time.After(active.params.RequestInterval):
		active.processConfirmed(winner, confirmation, iteration+1)
	}
}
