// Package gapcache remembers blocks we heard about but could not process yet
// because a dependency is missing, and starts a lazy bootstrap for the ones
// enough representatives vote for.
package gapcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/types"
)

type Ledger interface {
	RepresentativeWeight(representative types.Address) types.Amount
	BlockExists(hash types.Hash) bool
}

type OnlineWeight interface {
	OnlineStake() types.Amount
}

type Bootstrapper interface {
	BootstrapLazy(hash types.Hash)
	Bootstrap()
}

type Config struct {
	MaxSize int `validate:"min=1"`
	// Share of online stake, in 1/256ths, a gap needs before a legacy bootstrap.
	BootstrapFractionNumerator uint64
	DisableLazyBootstrap       bool
}

func DefaultConfig() Config {
	return Config{
		MaxSize:                    256,
		BootstrapFractionNumerator: 1,
	}
}

type gapInformation struct {
	arrival   time.Time
	voters    []types.Address
	confirmed bool
}

type GapCache struct {
	// Keyed by hash, ordered by arrival. Re-adding a hash refreshes it.
	blocks      *simplelru.LRU
	blocksMutex sync.Mutex

	ledger       Ledger
	online       OnlineWeight
	bootstrapper Bootstrapper

	minimum types.Amount
	delay   time.Duration
	config  *Config

	stopped atomic.Bool
	logger  *logrus.Entry
}

func New(cfg *Config, onlineWeightMinimum types.Amount, bootstrapDelay time.Duration, ledger Ledger, online OnlineWeight, bootstrapper Bootstrapper, logger *logrus.Entry) *GapCache {
	blocks, err := simplelru.NewLRU(cfg.MaxSize, nil)
	if err != nil {
		panic(err)
	}

	return &GapCache{
		blocks:       blocks,
		ledger:       ledger,
		online:       online,
		bootstrapper: bootstrapper,
		minimum:      onlineWeightMinimum,
		delay:        bootstrapDelay,
		config:       cfg,
		logger:       logger,
	}
}

// Add records hash as missing. At capacity the oldest arrival is dropped.
func (cache *GapCache) Add(hash types.Hash, arrival time.Time) {
	cache.blocksMutex.Lock()
	defer cache.blocksMutex.Unlock()

	if existing, found := cache.blocks.Peek(hash); found {
		info := existing.(*gapInformation)
		info.arrival = arrival
		cache.blocks.Get(hash)
		return
	}

	cache.blocks.Add(hash, &gapInformation{arrival: arrival})
}

func (cache *GapCache) Erase(hash types.Hash) {
	cache.blocksMutex.Lock()
	defer cache.blocksMutex.Unlock()

	cache.blocks.Remove(hash)
}

// Vote counts the voter towards every gap the vote mentions.
func (cache *GapCache) Vote(vote *types.Vote) {
	cache.blocksMutex.Lock()
	defer cache.blocksMutex.Unlock()

	for _, hash := range vote.Hashes {
		existing, found := cache.blocks.Peek(hash)
		if !found {
			continue
		}

		info := existing.(*gapInformation)
		if info.confirmed || containsVoter(info.voters, vote.Account) {
			continue
		}

		info.voters = append(info.voters, vote.Account)
		if cache.BootstrapCheck(info.voters, hash) {
			info.confirmed = true
		}
	}
}

func containsVoter(voters []types.Address, account types.Address) bool {
	for _, voter := range voters {
		if voter == account {
			return true
		}
	}

	return false
}

// BootstrapCheck tallies voters and, past the threshold, schedules a bootstrap
// of hash if it is still missing once the delay runs out.
func (cache *GapCache) BootstrapCheck(voters []types.Address, hash types.Hash) bool {
	var tally types.Amount
	for _, voter := range voters {
		tally = tally.Add(cache.ledger.RepresentativeWeight(voter))
	}

	start := false
	if !cache.config.DisableLazyBootstrap {
		start = tally.Cmp(cache.minimum) >= 0
	} else {
		start = tally.Cmp(cache.BootstrapThreshold()) > 0
	}

	if !start {
		return false
	}

	time.AfterFunc(cache.delay, func() {
		if cache.stopped.Load() || cache.ledger.BlockExists(hash) {
			return
		}

		cache.logger.Infof("Missing block %s which has enough votes to warrant lazy bootstrapping it", hash)
		if cache.config.DisableLazyBootstrap {
			cache.bootstrapper.Bootstrap()
		} else {
			cache.bootstrapper.BootstrapLazy(hash)
		}
	})

	return true
}

func (cache *GapCache) BootstrapThreshold() types.Amount {
	return cache.online.OnlineStake().MulDiv(cache.config.BootstrapFractionNumerator, 256)
}

func (cache *GapCache) Size() int {
	cache.blocksMutex.Lock()
	defer cache.blocksMutex.Unlock()

	return cache.blocks.Len()
}

func (cache *GapCache) Contains(hash types.Hash) bool {
	cache.blocksMutex.Lock()
	defer cache.blocksMutex.Unlock()

	return cache.blocks.Contains(hash)
}

// Arrival returns when hash was last added.
func (cache *GapCache) Arrival(hash types.Hash) (time.Time, bool) {
	cache.blocksMutex.Lock()
	defer cache.blocksMutex.Unlock()

	existing, found := cache.blocks.Peek(hash)
	if !found {
		return time.Time{}, false
	}

	return existing.(*gapInformation).arrival, true
}

// Stop cancels bootstraps that haven't fired yet.
func (cache *GapCache) Stop() {
	cache.stopped.Store(true)
}
