// Package confirmation advances account confirmation heights once elections
// confirm blocks, walking back through every receive so the sends they depend
// on are cemented as well.
package confirmation

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
)

type CementedObserver func(block *types.Block)

type HeightProcessor struct {
	ledger *ledger.Ledger
	store  *database.Database
	stats  *stats.Stats
	config *Config

	observers []CementedObserver

	// Every hash queued or being walked, duplicates are rejected.
	pending      map[types.Hash]struct{}
	queue        []types.Hash
	processing   bool
	stopped      bool
	pendingMutex sync.Mutex
	condition    *sync.Cond

	wg sync.WaitGroup

	logger *logrus.Entry
}

func New(cfg *Config, ledger *ledger.Ledger, logger *logrus.Entry) *HeightProcessor {
	processor := &HeightProcessor{
		ledger:  ledger,
		store:   ledger.Store,
		stats:   ledger.Stats,
		config:  cfg,
		pending: make(map[types.Hash]struct{}),
		logger:  logger,
	}
	processor.condition = sync.NewCond(&processor.pendingMutex)

	return processor
}

// AddObserver is called with every block whose height was written, oldest
// first per account. It must be called before Start.
func (processor *HeightProcessor) AddObserver(observer CementedObserver) {
	processor.observers = append(processor.observers, observer)
}

func (processor *HeightProcessor) Start() {
	processor.wg.Add(1)
	go processor.run()
}

func (processor *HeightProcessor) Stop() {
	processor.pendingMutex.Lock()
	processor.stopped = true
	processor.pendingMutex.Unlock()

	processor.condition.Broadcast()
	processor.wg.Wait()
}

// Add queues a confirmed hash. Hashes already queued are ignored.
func (processor *HeightProcessor) Add(hash types.Hash) {
	processor.pendingMutex.Lock()
	defer processor.pendingMutex.Unlock()

	if processor.stopped {
		return
	}

	if _, found := processor.pending[hash]; found {
		return
	}

	processor.pending[hash] = struct{}{}
	processor.queue = append(processor.queue, hash)
	processor.condition.Broadcast()
}

func (processor *HeightProcessor) IsProcessing(hash types.Hash) bool {
	processor.pendingMutex.Lock()
	defer processor.pendingMutex.Unlock()

	_, found := processor.pending[hash]

	return found
}

func (processor *HeightProcessor) Size() int {
	processor.pendingMutex.Lock()
	defer processor.pendingMutex.Unlock()

	return len(processor.pending)
}

// Flush waits until every queued hash has been written.
func (processor *HeightProcessor) Flush() {
	processor.pendingMutex.Lock()
	defer processor.pendingMutex.Unlock()

	for !processor.stopped && (len(processor.queue) > 0 || processor.processing) {
		processor.condition.Wait()
	}
}

func (processor *HeightProcessor) run() {
	defer processor.wg.Done()

	processor.pendingMutex.Lock()
	defer processor.pendingMutex.Unlock()

	for !processor.stopped {
		if len(processor.queue) == 0 {
			processor.condition.Broadcast()
			processor.condition.Wait()
			continue
		}

		hash := processor.queue[0]
		processor.queue = processor.queue[1:]
		processor.processing = true
		processor.pendingMutex.Unlock()

		if err := processor.Process(hash); err != nil {
			processor.logger.Errorf("Error cementing %s: %s", hash, err)
		}

		processor.pendingMutex.Lock()
		delete(processor.pending, hash)
		processor.processing = false
	}
}

type heightWrite struct {
	account types.Address
	height  uint64
	// Blocks above the previous height, oldest first.
	blocks []*types.Block
}

type walkState struct {
	txn    *database.Transaction
	reads  int
	writes map[types.Address]*heightWrite
	order  []types.Address
}

// Process cements hash and, transitively, every send received below it.
func (processor *HeightProcessor) Process(hash types.Hash) error {
	state := &walkState{
		txn:    processor.store.TxBeginRead(),
		writes: make(map[types.Address]*heightWrite),
	}
	defer func() {
		state.txn.Discard()
	}()

	stack := []types.Hash{hash}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		block, err := processor.read(state, top)
		if err == database.ErrNotFound {
			processor.logger.Warnf("Confirmed block %s is no longer in the ledger", top)
			stack = stack[:len(stack)-1]
			continue
		}

		if err != nil {
			return err
		}

		account := block.Sideband.Account
		confirmed, err := processor.confirmedHeight(state, account)
		if err != nil {
			return err
		}

		if block.Sideband.Height <= confirmed {
			stack = stack[:len(stack)-1]
			continue
		}

		chain, sources, err := processor.collect(state, block, confirmed)
		if err != nil {
			return err
		}

		if len(sources) > 0 {
			stack = append(stack, sources...)
			continue
		}

		stack = stack[:len(stack)-1]
		processor.stage(state, account, block.Sideband.Height, chain)

		if len(state.order) >= processor.config.BatchWriteSize {
			if err := processor.write(state); err != nil {
				return err
			}
		}
	}

	return processor.write(state)
}

func (processor *HeightProcessor) read(state *walkState, hash types.Hash) (*types.Block, error) {
	state.reads++
	if state.reads%processor.config.BatchReadSize == 0 {
		state.txn.Renew()
	}

	return state.txn.GetBlock(hash)
}

// confirmedHeight includes heights staged but not written yet.
func (processor *HeightProcessor) confirmedHeight(state *walkState, account types.Address) (uint64, error) {
	if staged, found := state.writes[account]; found {
		return staged.height, nil
	}

	info, err := state.txn.GetAccountInfo(account)
	if err != nil {
		return 0, errors.Wrapf(err, "reading account %s", account.ToNanoAddress())
	}

	return info.ConfirmationHeight, nil
}

// collect walks from block down to just above confirmed. It returns the walked
// chain oldest first and the receive sources on other accounts that are not
// cemented yet.
func (processor *HeightProcessor) collect(state *walkState, block *types.Block, confirmed uint64) ([]*types.Block, []types.Hash, error) {
	account := block.Sideband.Account
	chain := make([]*types.Block, 0, block.Sideband.Height-confirmed)
	var sources []types.Hash

	current := block
	for {
		chain = append(chain, current)

		source, err := processor.ledger.BlockSource(state.txn, current)
		if err != nil {
			return nil, nil, err
		}

		if !source.IsZero() {
			unconfirmed, err := processor.sourceUnconfirmed(state, account, source)
			if err != nil {
				return nil, nil, err
			}

			if unconfirmed {
				sources = append(sources, source)
			}
		}

		if current.Sideband.Height <= confirmed+1 {
			break
		}

		current, err = processor.read(state, current.Previous)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "walking back from %s", block.Hash())
		}
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, sources, nil
}

func (processor *HeightProcessor) sourceUnconfirmed(state *walkState, account types.Address, source types.Hash) (bool, error) {
	send, err := processor.read(state, source)
	if err == database.ErrNotFound {
		// Pruned or rolled back, nothing to cement.
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if send.Sideband.Account == account {
		return false, nil
	}

	confirmed, err := processor.confirmedHeight(state, send.Sideband.Account)
	if err != nil {
		return false, err
	}

	return send.Sideband.Height > confirmed, nil
}

func (processor *HeightProcessor) stage(state *walkState, account types.Address, height uint64, chain []*types.Block) {
	staged, found := state.writes[account]
	if !found {
		staged = &heightWrite{account: account}
		state.writes[account] = staged
		state.order = append(state.order, account)
	}

	staged.height = height
	staged.blocks = append(staged.blocks, chain...)
}

// write persists every staged height in one transaction, then tells observers.
func (processor *HeightProcessor) write(state *walkState) error {
	if len(state.order) == 0 {
		return nil
	}

	started := time.Now()

	txn := processor.store.TxBeginWrite()
	defer txn.Discard()

	var cemented []*types.Block
	for _, account := range state.order {
		staged := state.writes[account]

		info, err := txn.GetAccountInfo(account)
		if err != nil {
			return errors.Wrapf(err, "reading account %s", account.ToNanoAddress())
		}

		if staged.height > info.BlockCount {
			return errors.Errorf("confirmation height %d above block count %d for %s", staged.height, info.BlockCount, account.ToNanoAddress())
		}

		if staged.height <= info.ConfirmationHeight {
			continue
		}

		for _, block := range staged.blocks {
			if block.Sideband.Height > info.ConfirmationHeight {
				cemented = append(cemented, block)
			}
		}

		info.ConfirmationHeight = staged.height
		if err := txn.PutAccountInfo(account, info); err != nil {
			return err
		}
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	processor.stats.Add("confirmation_height", "blocks_confirmed", uint64(len(cemented)))
	processor.logger.Debugf("Cemented %d blocks on %d accounts in %s", len(cemented), len(state.order), time.Since(started))

	state.writes = make(map[types.Address]*heightWrite)
	state.order = nil
	state.txn.Renew()

	for _, block := range cemented {
		for _, observer := range processor.observers {
			observer(block)
		}
	}

	return nil
}
