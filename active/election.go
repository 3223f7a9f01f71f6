package active

import (
	"slices"
	"time"

	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/work"
)

// Too many candidates in one election; further ones need a tenth of online
// stake behind them to get in.
const maxElectionBlocks = 10

type StatusType byte

const (
	STATUS_ONGOING StatusType = iota
	STATUS_ACTIVE_CONFIRMED_QUORUM
	STATUS_ACTIVE_CONFIRMATION_HEIGHT
	STATUS_INACTIVE_CONFIRMATION_HEIGHT
	STATUS_STOPPED
)

func (status StatusType) String() string {
	switch status {
	case STATUS_ACTIVE_CONFIRMED_QUORUM:
		return "active_quorum"
	case STATUS_ACTIVE_CONFIRMATION_HEIGHT:
		return "active_confirmation_height"
	case STATUS_INACTIVE_CONFIRMATION_HEIGHT:
		return "inactive"
	case STATUS_STOPPED:
		return "stopped"
	}

	return "ongoing"
}

type ElectionStatus struct {
	Winner                   *types.Block
	Tally                    types.Amount
	ElectionEnd              time.Time
	ElectionDuration         time.Duration
	ConfirmationRequestCount uint
	BlockCount               int
	VoterCount               int
	Type                     StatusType
}

type VoteResult struct {
	Replay    bool
	Processed bool
}

type voteInfo struct {
	time     time.Time
	sequence uint64
	hash     types.Hash
}

type TallyEntry struct {
	Weight types.Amount
	Block  *types.Block
}

// Election is the contest for one qualified root. Every method must be called
// with the owning ActiveTransactions' electionsMutex held.
type Election struct {
	Root types.QualifiedRoot

	// Account whose key signs every legitimate candidate.
	account types.Address

	blocks    map[types.Hash]*types.Block
	lastVotes map[types.Address]voteInfo
	lastTally map[types.Hash]types.Amount

	status        ElectionStatus
	started       time.Time
	announcements uint

	// Elections of blocks that build on this one's candidates.
	dependentBlocks map[types.Hash]struct{}

	confirmed bool
	stopped   bool

	confirmationAction func(*types.Block)

	active *ActiveTransactions
}

func newElection(active *ActiveTransactions, block *types.Block, account types.Address, action func(*types.Block)) *Election {
	hash := block.Hash()

	return &Election{
		Root:               block.QualifiedRoot(),
		account:            account,
		blocks:             map[types.Hash]*types.Block{hash: block},
		lastVotes:          make(map[types.Address]voteInfo),
		lastTally:          make(map[types.Hash]types.Amount),
		status:             ElectionStatus{Winner: block, Type: STATUS_ONGOING},
		started:            time.Now(),
		dependentBlocks:    make(map[types.Hash]struct{}),
		confirmationAction: action,
		active:             active,
	}
}

func (election *Election) Winner() *types.Block {
	return election.status.Winner
}

func (election *Election) Confirmed() bool {
	return election.confirmed
}

func (election *Election) Announcements() uint {
	return election.announcements
}

func (election *Election) Blocks() []*types.Block {
	blocks := make([]*types.Block, 0, len(election.blocks))
	for _, block := range election.blocks {
		blocks = append(blocks, block)
	}

	return blocks
}

// Vote counts representative's vote for hash. Only a higher sequence, or the
// same sequence for a higher hash, replaces an earlier vote, and small
// representatives must wait longer between changes.
func (election *Election) Vote(representative types.Address, sequence uint64, hash types.Hash) VoteResult {
	online_stake := election.active.online.OnlineStake()
	weight := election.active.ledger.RepresentativeWeight(representative)

	if !election.active.params.IsTestNetwork() && weight.Cmp(online_stake.MulDiv(1, 1000)) <= 0 {
		return VoteResult{}
	}

	cooldown := time.Second
	if weight.Cmp(online_stake.MulDiv(1, 100)) < 0 {
		cooldown = 15 * time.Second
	} else if weight.Cmp(online_stake.MulDiv(1, 20)) < 0 {
		cooldown = 5 * time.Second
	}

	if last, voted := election.lastVotes[representative]; voted {
		if !(last.sequence < sequence || (last.sequence == sequence && last.hash.Cmp(hash) < 0)) {
			return VoteResult{Replay: true}
		}

		if time.Since(last.time) < cooldown {
			return VoteResult{}
		}
	}

	election.active.stats.Inc("election", "vote_new")
	election.lastVotes[representative] = voteInfo{time: time.Now(), sequence: sequence, hash: hash}
	if !election.confirmed {
		election.ConfirmIfQuorum()
	}

	return VoteResult{Processed: true}
}

// Tally sums the weight behind each candidate, heaviest first. Votes for
// blocks the election doesn't hold are left out.
func (election *Election) Tally() []TallyEntry {
	weights := make(map[types.Hash]types.Amount)
	for representative, info := range election.lastVotes {
		weights[info.hash] = weights[info.hash].Add(election.active.ledger.RepresentativeWeight(representative))
	}

	election.lastTally = weights

	tally := make([]TallyEntry, 0, len(weights))
	for hash, weight := range weights {
		if block, found := election.blocks[hash]; found {
			tally = append(tally, TallyEntry{Weight: weight, Block: block})
		}
	}

	slices.SortFunc(tally, func(a, b TallyEntry) int {
		return b.Weight.Cmp(a.Weight)
	})

	return tally
}

// HaveQuorum reports whether the leading candidate has enough weight to be
// confirmed.
func (election *Election) HaveQuorum(tally []TallyEntry) bool {
	if len(tally) == 0 {
		return false
	}

	return tally[0].Weight.Cmp(election.active.QuorumThreshold()) >= 0
}

// ConfirmIfQuorum switches the winner when enough weight stands behind another
// candidate, and confirms once the winner reaches quorum.
func (election *Election) ConfirmIfQuorum() {
	tally := election.Tally()
	if len(tally) == 0 {
		return
	}

	leader := tally[0]
	election.status.Tally = leader.Weight

	var sum types.Amount
	for _, entry := range tally {
		sum = sum.Add(entry.Weight)
	}

	leader_hash := leader.Block.Hash()
	if sum.Cmp(election.active.params.OnlineWeightMinimum) >= 0 && leader_hash != election.status.Winner.Hash() {
		election.active.logger.Infof("Election for %s switching winner from %s to %s", election.Root, election.status.Winner.Hash(), leader_hash)
		election.status.Winner = leader.Block
		election.active.forceWinner(leader.Block)
	}

	if election.HaveQuorum(tally) {
		if len(election.blocks) > 1 {
			election.logVotes(tally)
		}

		election.ConfirmOnce(STATUS_ACTIVE_CONFIRMED_QUORUM)
	}
}

func (election *Election) logVotes(tally []TallyEntry) {
	election.active.logger.Infof("Vote tally for root %s", election.Root)
	for _, entry := range tally {
		election.active.logger.Infof("Block %s weight %s", entry.Block.Hash(), entry.Weight)
	}

	for representative, info := range election.lastVotes {
		election.active.logger.Debugf("%s %s", representative.ToNanoAddress(), info.hash)
	}
}

// ConfirmOnce marks the election confirmed and hands the result to the rest
// of the node. Later calls do nothing.
func (election *Election) ConfirmOnce(statusType StatusType) {
	if election.confirmed {
		return
	}

	election.confirmed = true
	election.status.ElectionEnd = time.Now()
	election.status.ElectionDuration = time.Since(election.started)
	election.status.ConfirmationRequestCount = election.announcements
	election.status.BlockCount = len(election.blocks)
	election.status.VoterCount = len(election.lastVotes)
	election.status.Type = statusType

	election.active.confirmed(election, election.status)
}

// Publish adds a competing candidate. It returns false when the block is
// rejected or already known.
func (election *Election) Publish(block *types.Block) bool {
	hash := block.Hash()

	if existing, found := election.blocks[hash]; found {
		// Same block, possibly with better work.
		if work.BlockDifficulty(block) > work.BlockDifficulty(existing) {
			election.blocks[hash] = block
			if election.status.Winner.Hash() == hash {
				election.status.Winner = block
			}
		}

		return false
	}

	if len(election.blocks) >= maxElectionBlocks {
		online_stake := election.active.online.OnlineStake()
		if election.lastTally[hash].Cmp(online_stake.MulDiv(1, 10)) < 0 {
			return false
		}
	}

	signer := election.account
	if election.active.ledger.IsEpochLink(block.Link) && block.Type == types.BLOCK_TYPE_STATE {
		signer = election.active.params.EpochSigner
	}

	if !block.VerifySignature(signer) && !block.VerifySignature(election.account) {
		election.active.logger.Debugf("Rejecting fork %s with a bad signature", hash)
		return false
	}

	election.blocks[hash] = block
	if !election.confirmed {
		election.ConfirmIfQuorum()
	}

	return true
}

func (election *Election) stop() {
	if !election.confirmed {
		election.stopped = true
		election.status.Type = STATUS_STOPPED
	}
}
