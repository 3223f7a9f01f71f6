package voting

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/types"
)

type VoteSink interface {
	Vote(vote *types.Vote, channel types.Channel) bool
}

type VoteFlooder interface {
	FloodVote(vote *types.Vote)
}

// VoteGenerator batches hashes we want to vote for and signs them with every
// representative key the node holds.
type VoteGenerator struct {
	store *database.Database
	keys  []*types.KeyPair
	delay time.Duration

	cache     *VotesCache
	processor VoteSink
	network   VoteFlooder

	hashes      []types.Hash
	hashesMutex sync.Mutex
	wake        chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup

	logger *logrus.Entry
}

func NewVoteGenerator(store *database.Database, keys []*types.KeyPair, delay time.Duration, cache *VotesCache, processor VoteSink, network VoteFlooder, logger *logrus.Entry) *VoteGenerator {
	return &VoteGenerator{
		store:     store,
		keys:      keys,
		delay:     delay,
		cache:     cache,
		processor: processor,
		network:   network,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		logger:    logger,
	}
}

func (generator *VoteGenerator) Start() {
	generator.wg.Add(1)
	go generator.run()
}

func (generator *VoteGenerator) Stop() {
	select {
	case <-generator.stop:
		return
	default:
	}

	close(generator.stop)
	generator.wg.Wait()
}

// Add queues hash for the next vote. A full vote goes out right away, a
// partial one after the generator delay.
func (generator *VoteGenerator) Add(hash types.Hash) {
	if len(generator.keys) == 0 {
		return
	}

	generator.hashesMutex.Lock()
	generator.hashes = append(generator.hashes, hash)
	full := len(generator.hashes) >= types.MaxVoteHashes
	generator.hashesMutex.Unlock()

	if full {
		select {
		case generator.wake <- struct{}{}:
		default:
		}
	}
}

func (generator *VoteGenerator) Size() int {
	generator.hashesMutex.Lock()
	defer generator.hashesMutex.Unlock()

	return len(generator.hashes)
}

func (generator *VoteGenerator) run() {
	defer generator.wg.Done()

	timer := time.NewTimer(generator.delay)
	defer timer.Stop()

	for {
		select {
		case <-generator.stop:
			return
		case <-generator.wake:
		case <-timer.C:
		}

		generator.Flush()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(generator.delay)
	}
}

// Flush sends every queued hash, twelve per vote.
func (generator *VoteGenerator) Flush() {
	for {
		generator.hashesMutex.Lock()
		count := min(len(generator.hashes), types.MaxVoteHashes)
		batch := append([]types.Hash(nil), generator.hashes[:count]...)
		generator.hashes = generator.hashes[count:]
		generator.hashesMutex.Unlock()

		if count == 0 {
			return
		}

		if err := generator.send(batch); err != nil {
			generator.logger.Errorf("Error generating votes: %s", err)
		}
	}
}

func (generator *VoteGenerator) send(hashes []types.Hash) error {
	txn := generator.store.TxBeginWrite()
	defer txn.Discard()

	votes := make([]*types.Vote, 0, len(generator.keys))
	for _, keys := range generator.keys {
		vote, err := txn.VoteGenerate(keys, hashes)
		if err != nil {
			return err
		}

		votes = append(votes, vote)
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	for _, vote := range votes {
		generator.logger.Debugf("Generated vote %d from %s for %d blocks", vote.Sequence, vote.Account.ToNanoAddress(), len(vote.Hashes))

		if generator.cache != nil {
			generator.cache.Add(vote)
		}

		if generator.network != nil {
			generator.network.FloodVote(vote)
		}

		if generator.processor != nil {
			generator.processor.Vote(vote, nil)
		}
	}

	return nil
}
