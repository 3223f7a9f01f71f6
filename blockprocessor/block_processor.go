// Package blockprocessor feeds blocks from the network, bootstrap and local
// clients into the ledger from a single goroutine.
package blockprocessor

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/work"
	"golang.org/x/time/rate"
)

// Blocks older than this aren't treated as live even if they came from a peer.
const liveCutoff = 300 * time.Second

type Origin byte

const (
	ORIGIN_LOCAL Origin = iota
	ORIGIN_NETWORK
	ORIGIN_BOOTSTRAP
)

type Elections interface {
	StartElection(block *types.Block, confirmed func(*types.Block)) bool
	Publish(block *types.Block) bool
	Erase(block *types.Block)
	UpdateDifficulty(block *types.Block)
}

type GapCache interface {
	Add(hash types.Hash, arrival time.Time)
	Erase(hash types.Hash)
}

type Network interface {
	FloodBlock(block *types.Block)
}

type VotesCache interface {
	Remove(hash types.Hash)
}

type ConfirmationHeight interface {
	IsProcessing(hash types.Hash) bool
}

// Collaborators are filled in by the node once every subsystem exists. Any of
// them may be left nil.
type Collaborators struct {
	Elections          Elections
	GapCache           GapCache
	Network            Network
	VotesCache         VotesCache
	ConfirmationHeight ConfirmationHeight
}

type queuedBlock struct {
	info    types.UncheckedInfo
	channel types.Channel
	forced  bool
}

type processFunc func(txn *database.Transaction, block *types.Block, verified types.SignatureVerification) (ledger.ProcessReturn, error)

type BlockProcessor struct {
	Config *Config

	ledger  *ledger.Ledger
	process processFunc
	store   *database.Database
	params  *params.NetworkParams
	checker *SignatureChecker
	stats   *stats.Stats

	collaborators Collaborators

	stateBlocks  []queuedBlock
	blocks       []queuedBlock
	forced       []*types.Block
	blocksHashes map[types.Hash]struct{}
	rolledBack   *simplelru.LRU
	queueMutex   sync.Mutex
	condition    *sync.Cond

	// Set while a batch is being written, Flush waits for it.
	processing bool
	// Caps the next batch after a store error so it ends before the block
	// that failed, which then runs first in the batch after. Zero means no
	// cap. Only touched by the processing goroutine.
	retryLimit int
	stopped    bool

	arrival  *blockArrival
	queueLog rate.Sometimes

	stop chan struct{}
	wg   sync.WaitGroup

	logger *logrus.Entry
}

func New(cfg *Config, ledger *ledger.Ledger, checker *SignatureChecker, logger *logrus.Entry) *BlockProcessor {
	rolledBack, err := simplelru.NewLRU(cfg.RolledBackMax, nil)
	if err != nil {
		panic(err)
	}

	processor := &BlockProcessor{
		Config:       cfg,
		ledger:       ledger,
		process:      ledger.ProcessWithVerification,
		store:        ledger.Store,
		params:       ledger.Params,
		checker:      checker,
		stats:        ledger.Stats,
		blocksHashes: make(map[types.Hash]struct{}),
		rolledBack:   rolledBack,
		arrival:      newBlockArrival(),
		queueLog:     rate.Sometimes{Interval: cfg.LogInterval},
		stop:         make(chan struct{}),
		logger:       logger,
	}
	processor.condition = sync.NewCond(&processor.queueMutex)

	return processor
}

func (processor *BlockProcessor) SetCollaborators(collaborators Collaborators) {
	processor.queueMutex.Lock()
	defer processor.queueMutex.Unlock()

	processor.collaborators = collaborators
}

func (processor *BlockProcessor) Start() {
	processor.wg.Add(1)
	go func() {
		defer processor.wg.Done()
		processor.ProcessBlocks()
	}()

	if processor.Config.UncheckedCleanupInterval > 0 {
		processor.wg.Add(1)
		go processor.cleanupLoop()
	}
}

func (processor *BlockProcessor) Stop() {
	processor.queueMutex.Lock()
	if processor.stopped {
		processor.queueMutex.Unlock()
		return
	}

	processor.stopped = true
	processor.queueMutex.Unlock()

	processor.condition.Broadcast()
	close(processor.stop)
	processor.wg.Wait()
}

// Add queues a block that arrived from a peer (channel may be nil) or from
// bootstrap. It returns false when the block is dropped before queuing.
func (processor *BlockProcessor) Add(block *types.Block, origin Origin, channel types.Channel) bool {
	hash := block.Hash()
	if origin != ORIGIN_BOOTSTRAP {
		processor.arrival.add(hash)
	}

	return processor.AddInfo(types.UncheckedInfo{
		Block:    block,
		Modified: uint64(time.Now().Unix()),
		Verified: types.SIGNATURE_UNKNOWN,
	}, channel)
}

func (processor *BlockProcessor) AddInfo(info types.UncheckedInfo, channel types.Channel) bool {
	if work.BlockDifficulty(info.Block) < processor.params.PublishThreshold {
		processor.logger.Warnf("Dropping block %s with insufficient work %s", info.Block.Hash(), info.Block.Work.ToHexString())
		processor.stats.Inc("blockprocessor", "insufficient_work")
		return false
	}

	hash := info.Block.Hash()

	processor.queueMutex.Lock()
	if _, queued := processor.blocksHashes[hash]; queued || processor.recentlyRolledBack(hash) {
		processor.queueMutex.Unlock()
		return false
	}

	item := queuedBlock{info: info, channel: channel}
	if info.Verified == types.SIGNATURE_UNKNOWN && info.Block.Type == types.BLOCK_TYPE_STATE {
		processor.stateBlocks = append(processor.stateBlocks, item)
	} else {
		processor.blocks = append(processor.blocks, item)
	}
	processor.blocksHashes[hash] = struct{}{}
	processor.queueMutex.Unlock()

	processor.condition.Broadcast()

	return true
}

func (processor *BlockProcessor) recentlyRolledBack(hash types.Hash) bool {
	rolled, found := processor.rolledBack.Peek(hash)
	if !found {
		return false
	}

	if time.Since(rolled.(time.Time)) > processor.Config.RolledBackTTL {
		processor.rolledBack.Remove(hash)
		return false
	}

	return true
}

// Force queues block ahead of everything else. Whatever currently occupies
// its slot in the account chain gets rolled back.
func (processor *BlockProcessor) Force(block *types.Block) {
	processor.queueMutex.Lock()
	processor.forced = append(processor.forced, block)
	processor.queueMutex.Unlock()

	processor.condition.Broadcast()
}

// Flush blocks until every queued block has been processed.
func (processor *BlockProcessor) Flush() {
	processor.queueMutex.Lock()
	defer processor.queueMutex.Unlock()

	for !processor.stopped && (processor.haveBlocks() || processor.processing) {
		processor.condition.Wait()
	}
}

func (processor *BlockProcessor) haveBlocks() bool {
	return len(processor.blocks) > 0 || len(processor.stateBlocks) > 0 || len(processor.forced) > 0
}

func (processor *BlockProcessor) Size() int {
	processor.queueMutex.Lock()
	defer processor.queueMutex.Unlock()

	return len(processor.blocks) + len(processor.stateBlocks) + len(processor.forced)
}

func (processor *BlockProcessor) Full() bool {
	return processor.Size() >= processor.Config.FullSize
}

func (processor *BlockProcessor) HalfFull() bool {
	return processor.Size() >= processor.Config.FullSize/2
}

func (processor *BlockProcessor) ProcessBlocks() {
	processor.queueMutex.Lock()
	defer processor.queueMutex.Unlock()

	for !processor.stopped {
		if processor.haveBlocks() {
			processor.processing = true
			processor.queueMutex.Unlock()

			processor.processBatch()

			processor.queueMutex.Lock()
			processor.processing = false
		} else {
			processor.condition.Broadcast()
			processor.condition.Wait()
		}
	}
}

// verifyStateBlocks checks up to max queued state block signatures in one
// batch. Called with queueMutex held, releases it while verifying.
func (processor *BlockProcessor) verifyStateBlocks(max int) {
	count := min(max, len(processor.stateBlocks))
	items := processor.stateBlocks[:count:count]
	processor.stateBlocks = processor.stateBlocks[count:]
	processor.queueMutex.Unlock()

	set := NewSignatureCheckSet(len(items))
	hashes := make([]types.Hash, len(items))
	for i, item := range items {
		block := item.info.Block
		hashes[i] = block.Hash()

		signer := block.Account
		if processor.ledger.IsEpochLink(block.Link) {
			signer = processor.params.EpochSigner
		} else if !item.info.Account.IsZero() {
			signer = item.info.Account
		}

		set.Append(hashes[i][:], signer, block.Signature)
	}

	processor.checker.Verify(set)

	processor.queueMutex.Lock()
	for i, item := range items {
		switch {
		case processor.ledger.IsEpochLink(item.info.Block.Link):
			// A failed check may still be a send to the epoch link, the
			// ledger sorts that out.
			if set.Verifications[i] {
				item.info.Verified = types.SIGNATURE_VALID_EPOCH
			} else {
				item.info.Verified = types.SIGNATURE_UNKNOWN
			}
			processor.blocks = append(processor.blocks, item)
		case set.Verifications[i]:
			item.info.Verified = types.SIGNATURE_VALID
			processor.blocks = append(processor.blocks, item)
		default:
			delete(processor.blocksHashes, hashes[i])
			processor.stats.Inc("blockprocessor", "invalid_signature")
			processor.logger.Debugf("Dropping block %s with invalid signature", hashes[i])
		}
	}
}

type postEvents []func()

func (processor *BlockProcessor) processBatch() {
	processor.queueMutex.Lock()
	verification_started := time.Now()
	for len(processor.stateBlocks) > 0 && time.Since(verification_started) < 2*time.Second {
		processor.verifyStateBlocks(2048)
	}
	processor.queueMutex.Unlock()

	var events postEvents
	var taken []queuedBlock

	txn := processor.store.TxBeginWrite()
	defer txn.Discard()

	started := time.Now()
	processed, forced := 0, 0

	batch_size := processor.Config.BatchSize
	if processor.retryLimit > 0 {
		batch_size = processor.retryLimit
	}

	var failure error

	processor.queueMutex.Lock()
	for (len(processor.blocks) > 0 || len(processor.forced) > 0) && time.Since(started) < processor.Config.BatchMaxTime && processed < batch_size {
		if queued := len(processor.blocks) + len(processor.stateBlocks) + len(processor.forced); queued > 64 {
			processor.queueLog.Do(func() {
				processor.logger.Infof("%s blocks (+ %d state blocks) (+ %d forced) in processing queue", humanize.Comma(int64(len(processor.blocks))), len(processor.stateBlocks), len(processor.forced))
			})
		}

		var item queuedBlock
		if len(processor.forced) == 0 {
			item = processor.blocks[0]
			processor.blocks[0] = queuedBlock{}
			processor.blocks = processor.blocks[1:]
			delete(processor.blocksHashes, item.info.Block.Hash())
		} else {
			last := len(processor.forced) - 1
			item = queuedBlock{
				info: types.UncheckedInfo{
					Block:    processor.forced[last],
					Modified: uint64(time.Now().Unix()),
				},
				forced: true,
			}
			processor.forced = processor.forced[:last]
			forced++
		}
		processor.queueMutex.Unlock()

		var err error
		if item.forced {
			err = processor.rollbackCompetitor(txn, item.info.Block, &events)
		}

		if err == nil {
			err = processor.processOne(txn, item, &events)
		}

		processed++

		processor.queueMutex.Lock()
		if err != nil {
			failure = err
			if len(taken) > 0 {
				processor.requeue(append(taken, item))
			}
			break
		}

		taken = append(taken, item)

		if len(processor.blocks) == 0 && len(processor.stateBlocks) > 0 {
			processor.verifyStateBlocks(signatureCheckBatch * (processor.checker.threads + 1))
		}
	}
	processor.queueMutex.Unlock()

	if failure != nil {
		txn.Discard()
		processor.stats.Inc("blockprocessor", "store_error")

		// A block that fails on its own can't be helped by retrying.
		if len(taken) == 0 {
			processor.logger.Errorf("Dropping block after store error: %s", failure)
			processor.retryLimit = 0
		} else {
			processor.logger.Warnf("Discarding batch of %d blocks after store error, retrying the failed block on its own: %s", processed, failure)
			processor.retryLimit = len(taken)
		}

		return
	}

	if err := txn.Commit(); err != nil {
		processor.logger.Errorf("Error committing block batch: %s", err)
		processor.stats.Inc("blockprocessor", "store_error")

		processor.queueMutex.Lock()
		processor.requeue(taken)
		processor.queueMutex.Unlock()

		return
	}

	processor.retryLimit = 0

	for _, event := range events {
		event()
	}

	if processed > 0 && time.Since(started) > 100*time.Millisecond {
		processor.logger.Debugf("Processed %s blocks (%d blocks were forced) in %s", humanize.Comma(int64(processed)), forced, time.Since(started))
	}
}

// requeue puts the blocks of a discarded batch back at the front of the
// queue in their original order. Called with queueMutex held.
func (processor *BlockProcessor) requeue(items []queuedBlock) {
	var blocks []queuedBlock
	for _, item := range items {
		if item.forced {
			processor.forced = append(processor.forced, item.info.Block)
			continue
		}

		hash := item.info.Block.Hash()
		if _, queued := processor.blocksHashes[hash]; queued {
			continue
		}

		processor.blocksHashes[hash] = struct{}{}
		blocks = append(blocks, item)
	}

	processor.blocks = append(blocks, processor.blocks...)
}

// rollbackCompetitor removes whatever occupies block's qualified root so the
// forced block can take its place.
func (processor *BlockProcessor) rollbackCompetitor(txn *database.Transaction, block *types.Block, events *postEvents) error {
	successor, err := processor.ledger.Successor(txn, block.QualifiedRoot())
	if err != nil {
		return errors.Wrapf(err, "looking up successor of %s", block.QualifiedRoot())
	}

	hash := block.Hash()
	if successor == nil || successor.Hash() == hash {
		return nil
	}

	successor_hash := successor.Hash()
	processor.logger.Infof("Rolling back %s and replacing with %s", successor_hash, hash)

	rolled_back, err := processor.ledger.Rollback(txn, successor_hash)
	if err != nil {
		return errors.Wrapf(err, "rolling back %s", successor_hash)
	}

	processor.logger.Infof("%d blocks rolled back", len(rolled_back))
	processor.stats.Add("rollback", "blocks", uint64(len(rolled_back)))

	collaborators := processor.collaborators
	*events = append(*events, func() {
		processor.queueMutex.Lock()
		for _, rolled := range rolled_back {
			processor.rolledBack.Add(rolled.Hash(), time.Now())
		}
		processor.queueMutex.Unlock()

		for _, rolled := range rolled_back {
			rolled_hash := rolled.Hash()
			if collaborators.VotesCache != nil {
				collaborators.VotesCache.Remove(rolled_hash)
			}

			// The election of the initial block is the one that forced this.
			if collaborators.Elections != nil && rolled_hash != successor_hash {
				collaborators.Elections.Erase(rolled)
			}
		}
	})

	return nil
}

// processOne applies a single block. An error means txn may hold part of the
// block's writes and must not be committed.
func (processor *BlockProcessor) processOne(txn *database.Transaction, item queuedBlock, events *postEvents) error {
	info := item.info
	block := info.Block
	hash := block.Hash()

	result, err := processor.process(txn, block, info.Verified)
	if err != nil {
		return errors.Wrapf(err, "processing block %s", hash)
	}

	collaborators := processor.collaborators

	switch result.Code {
	case ledger.PROGRESS:
		processor.logger.Debugf("Processing block %s: %s", hash, result.Code)

		if info.Modified+uint64(liveCutoff.Seconds()) > uint64(time.Now().Unix()) && processor.arrival.recent(hash) {
			*events = append(*events, func() {
				processor.processLive(block)
			})
		}

		return processor.queueUnchecked(txn, hash, events)

	case ledger.GAP_PREVIOUS, ledger.GAP_SOURCE:
		dependency := block.Previous
		if result.Code == ledger.GAP_SOURCE {
			dependency, err = processor.ledger.BlockSource(txn, block)
			if err != nil {
				return errors.Wrapf(err, "resolving source of %s", hash)
			}
		}

		processor.logger.Debugf("%s for %s, waiting on %s", result.Code, hash, dependency)

		info.Verified = result.Verified
		if info.Modified == 0 {
			info.Modified = uint64(time.Now().Unix())
		}

		if err := txn.PutUnchecked(dependency, &info); err != nil {
			return errors.Wrapf(err, "storing unchecked block %s", hash)
		}

		if collaborators.GapCache != nil {
			collaborators.GapCache.Add(hash, time.Now())
		}

	case ledger.OLD:
		processor.logger.Tracef("Old block %s", hash)

		if collaborators.Elections != nil {
			*events = append(*events, func() {
				collaborators.Elections.UpdateDifficulty(block)
			})
		}

		return processor.queueUnchecked(txn, hash, events)

	case ledger.FORK:
		return processor.processFork(txn, block, item.channel, events)

	case ledger.OPENED_BURN_ACCOUNT:
		processor.logger.Errorf("*** Rejecting open block for burn account ***: %s", hash)

	default:
		processor.logger.Debugf("%s for block %s", result.Code, hash)
	}

	return nil
}

func (processor *BlockProcessor) processLive(block *types.Block) {
	collaborators := processor.collaborators

	if collaborators.Elections != nil {
		collaborators.Elections.StartElection(block, nil)
	}

	if collaborators.Network != nil {
		collaborators.Network.FloodBlock(block)
	}
}

// processFork starts an election between the block we have and the one that
// just arrived, and shows the sender what we have.
func (processor *BlockProcessor) processFork(txn *database.Transaction, block *types.Block, channel types.Channel, events *postEvents) error {
	ledger_block, err := processor.ledger.Successor(txn, block.QualifiedRoot())
	if err != nil {
		return errors.Wrapf(err, "looking up forked block for %s", block.Hash())
	}

	if ledger_block == nil {
		return nil
	}

	ledger_hash := ledger_block.Hash()
	confirmed, err := processor.ledger.BlockConfirmed(txn, ledger_hash)
	if err != nil {
		return errors.Wrapf(err, "reading confirmation of %s", ledger_hash)
	}

	collaborators := processor.collaborators
	if collaborators.ConfirmationHeight != nil && collaborators.ConfirmationHeight.IsProcessing(ledger_hash) {
		confirmed = true
	}

	*events = append(*events, func() {
		if collaborators.Elections != nil {
			if !confirmed && collaborators.Elections.StartElection(ledger_block, nil) {
				processor.logger.Infof("Resolving fork between our block: %s and block %s both with root %s", ledger_hash, block.Hash(), block.QualifiedRoot())
			}

			collaborators.Elections.Publish(block)
		}

		if channel != nil {
			if err := channel.SendBlock(ledger_block); err != nil {
				processor.logger.Debugf("Error sending our fork winner to %s: %s", channel, err)
			}
		}
	})

	return nil
}

// queueUnchecked moves every block that was waiting on hash back into the
// processing queue once the batch is committed.
func (processor *BlockProcessor) queueUnchecked(txn *database.Transaction, hash types.Hash, events *postEvents) error {
	dependents, err := txn.GetUnchecked(hash)
	if err != nil {
		return errors.Wrapf(err, "reading unchecked blocks for %s", hash)
	}

	for _, dependent := range dependents {
		if err := txn.DeleteUnchecked(hash, dependent.Block.Hash()); err != nil {
			return errors.Wrapf(err, "deleting unchecked block %s", dependent.Block.Hash())
		}
	}

	gap_cache := processor.collaborators.GapCache
	if len(dependents) == 0 && gap_cache == nil {
		return nil
	}

	*events = append(*events, func() {
		for _, dependent := range dependents {
			processor.AddInfo(*dependent, nil)
		}

		if gap_cache != nil {
			gap_cache.Erase(hash)
		}
	})

	return nil
}
