// Package voting produces our own votes and routes everyone's votes into the
// elections they belong to.
package voting

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/active"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
)

// Our newest vote is sent back to representatives replaying something this
// far behind it.
const replayResponseGap = 10000

type Elections interface {
	Vote(vote *types.Vote) active.VoteCode
}

type OnlineWeight interface {
	OnlineStake() types.Amount
	List() []types.Address
}

// VoteObserver sees every vote that was not a replay, whether or not it
// belonged to an election.
type VoteObserver func(vote *types.Vote, channel types.Channel, code active.VoteCode)

type queuedVote struct {
	vote    *types.Vote
	channel types.Channel
}

type VoteProcessor struct {
	ledger    *ledger.Ledger
	params    *params.NetworkParams
	checker   *blockprocessor.SignatureChecker
	elections Elections
	online    OnlineWeight
	cache     *VotesCache
	stats     *stats.Stats

	observers []VoteObserver

	votes      []queuedVote
	processing bool
	stopped    bool
	votesMutex sync.Mutex
	condition  *sync.Cond

	// Representatives by weight band, used to shed load when the queue is long.
	representatives1 map[types.Address]struct{}
	representatives2 map[types.Address]struct{}
	representatives3 map[types.Address]struct{}

	stop chan struct{}
	wg   sync.WaitGroup

	logger *logrus.Entry
}

func NewVoteProcessor(ledger *ledger.Ledger, checker *blockprocessor.SignatureChecker, elections Elections, online OnlineWeight, cache *VotesCache, logger *logrus.Entry) *VoteProcessor {
	processor := &VoteProcessor{
		ledger:           ledger,
		params:           ledger.Params,
		checker:          checker,
		elections:        elections,
		online:           online,
		cache:            cache,
		stats:            ledger.Stats,
		representatives1: make(map[types.Address]struct{}),
		representatives2: make(map[types.Address]struct{}),
		representatives3: make(map[types.Address]struct{}),
		stop:             make(chan struct{}),
		logger:           logger,
	}
	processor.condition = sync.NewCond(&processor.votesMutex)

	return processor
}

// AddObserver must be called before Start.
func (processor *VoteProcessor) AddObserver(observer VoteObserver) {
	processor.observers = append(processor.observers, observer)
}

func (processor *VoteProcessor) Start() {
	processor.wg.Add(2)
	go func() {
		defer processor.wg.Done()
		processor.processLoop()
	}()
	go processor.weightsLoop()
}

func (processor *VoteProcessor) Stop() {
	processor.votesMutex.Lock()
	if processor.stopped {
		processor.votesMutex.Unlock()
		return
	}

	processor.stopped = true
	processor.votesMutex.Unlock()

	processor.condition.Broadcast()
	close(processor.stop)
	processor.wg.Wait()
}

// Vote queues vote for processing. Under load only votes from heavier
// representatives are kept; it returns false when vote was dropped.
func (processor *VoteProcessor) Vote(vote *types.Vote, channel types.Channel) bool {
	processor.votesMutex.Lock()
	if processor.stopped {
		processor.votesMutex.Unlock()
		return false
	}

	queued := len(processor.votes)
	keep := true
	if !processor.params.IsTestNetwork() {
		switch {
		case queued < 6*1024:
		case queued < 12*1024:
			_, keep = processor.representatives1[vote.Account]
		case queued < 24*1024:
			_, keep = processor.representatives2[vote.Account]
		case queued < 96*1024:
			_, keep = processor.representatives3[vote.Account]
		default:
			keep = false
		}
	}

	if keep {
		processor.votes = append(processor.votes, queuedVote{vote, channel})
	}
	processor.votesMutex.Unlock()

	if !keep {
		processor.stats.Inc("vote", "vote_overflow")
		return false
	}

	processor.condition.Broadcast()

	return true
}

// Flush blocks until every queued vote has been processed.
func (processor *VoteProcessor) Flush() {
	processor.votesMutex.Lock()
	defer processor.votesMutex.Unlock()

	for !processor.stopped && (len(processor.votes) > 0 || processor.processing) {
		processor.condition.Wait()
	}
}

func (processor *VoteProcessor) Size() int {
	processor.votesMutex.Lock()
	defer processor.votesMutex.Unlock()

	return len(processor.votes)
}

func (processor *VoteProcessor) processLoop() {
	processor.votesMutex.Lock()
	defer processor.votesMutex.Unlock()

	for !processor.stopped {
		if len(processor.votes) == 0 {
			processor.condition.Broadcast()
			processor.condition.Wait()
			continue
		}

		batch := processor.votes
		processor.votes = nil
		processor.processing = true
		processor.votesMutex.Unlock()

		started := time.Now()
		processor.processBatch(batch)
		if len(batch) > 50 {
			processor.logger.Debugf("Processed %d votes in %s", len(batch), time.Since(started))
		}

		processor.votesMutex.Lock()
		processor.processing = false
	}
}

func (processor *VoteProcessor) processBatch(batch []queuedVote) {
	verified := processor.verifyVotes(batch)
	codes := make([]active.VoteCode, len(verified))
	for i, item := range verified {
		codes[i] = processor.elections.Vote(item.vote)
	}

	processor.recordMax(verified, codes)

	for i, item := range verified {
		processor.stats.Inc("vote", codes[i].String())

		if codes[i] == active.VOTE_REPLAY {
			continue
		}

		if codes[i] == active.VOTE_VOTE && processor.cache != nil {
			processor.cache.Add(item.vote)
		}

		for _, observer := range processor.observers {
			observer(item.vote, item.channel, codes[i])
		}
	}
}

func (processor *VoteProcessor) verifyVotes(batch []queuedVote) []queuedVote {
	set := blockprocessor.NewSignatureCheckSet(len(batch))
	for _, item := range batch {
		hash := item.vote.Hash()
		set.Append(hash[:], item.vote.Account, item.vote.Signature)
	}

	processor.checker.Verify(set)

	verified := batch[:0]
	for i, item := range batch {
		if set.Verifications[i] {
			verified = append(verified, item)
		} else {
			processor.stats.Inc("vote", active.VOTE_INVALID.String())
		}
	}

	return verified
}

// recordMax persists the highest sequence seen from each representative and
// answers replays that are far behind it with the newest vote we know of.
func (processor *VoteProcessor) recordMax(batch []queuedVote, codes []active.VoteCode) {
	if len(batch) == 0 {
		return
	}

	txn := processor.ledger.Store.TxBeginWrite()
	defer txn.Discard()

	type reply struct {
		channel types.Channel
		vote    *types.Vote
	}
	var replies []reply

	for i, item := range batch {
		newest, err := txn.VoteMax(item.vote)
		if err != nil {
			processor.logger.Errorf("Error recording vote from %s: %s", item.vote.Account, err)
			return
		}

		if codes[i] == active.VOTE_REPLAY && item.channel != nil && newest.Sequence > item.vote.Sequence+replayResponseGap {
			replies = append(replies, reply{item.channel, newest})
		}
	}

	if err := txn.Commit(); err != nil {
		processor.logger.Errorf("Error committing votes: %s", err)
		return
	}

	for _, reply := range replies {
		if err := reply.channel.SendVote(reply.vote); err != nil {
			processor.logger.Debugf("Error replaying vote to %s: %s", reply.channel, err)
		}
	}
}

func (processor *VoteProcessor) weightsLoop() {
	defer processor.wg.Done()

	ticker := time.NewTicker(processor.params.OnlineWeightPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-processor.stop:
			return
		case <-ticker.C:
			processor.CalculateWeights()
		}
	}
}

// CalculateWeights sorts online representatives into the bands used to shed
// load: above 0.1%, above 1% and above 5% of online stake.
func (processor *VoteProcessor) CalculateWeights() {
	supply := processor.online.OnlineStake()
	band1, band2, band3 := supply.MulDiv(1, 1000), supply.MulDiv(1, 100), supply.MulDiv(5, 100)

	representatives1 := make(map[types.Address]struct{})
	representatives2 := make(map[types.Address]struct{})
	representatives3 := make(map[types.Address]struct{})
	for _, representative := range processor.online.List() {
		weight := processor.ledger.RepresentativeWeight(representative)
		if weight.Cmp(band1) > 0 {
			representatives1[representative] = struct{}{}
		}

		if weight.Cmp(band2) > 0 {
			representatives2[representative] = struct{}{}
		}

		if weight.Cmp(band3) > 0 {
			representatives3[representative] = struct{}{}
		}
	}

	processor.votesMutex.Lock()
	processor.representatives1 = representatives1
	processor.representatives2 = representatives2
	processor.representatives3 = representatives3
	processor.votesMutex.Unlock()
}
