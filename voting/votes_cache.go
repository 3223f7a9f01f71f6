package voting

import (
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/tundak/nano-node-sub003/types"
)

type cachedVotes struct {
	votes []*types.Vote
}

// VotesCache keeps the latest votes seen for each block hash so a peer asking
// for confirmation can be answered without generating a new vote.
type VotesCache struct {
	cache      *simplelru.LRU
	cacheMutex sync.Mutex
}

func NewVotesCache(size int) *VotesCache {
	cache, err := simplelru.NewLRU(size, nil)
	if err != nil {
		panic(err)
	}

	return &VotesCache{cache: cache}
}

// Add files vote under every hash it covers, replacing an older vote from the
// same representative. The oldest hash is evicted at capacity.
func (cache *VotesCache) Add(vote *types.Vote) {
	cache.cacheMutex.Lock()
	defer cache.cacheMutex.Unlock()

	for _, hash := range vote.Hashes {
		existing, found := cache.cache.Peek(hash)
		if !found {
			cache.cache.Add(hash, &cachedVotes{votes: []*types.Vote{vote}})
			continue
		}

		entry := existing.(*cachedVotes)
		replaced := false
		for i, cached := range entry.votes {
			if cached.Account == vote.Account {
				if cached.Sequence < vote.Sequence {
					entry.votes[i] = vote
				}

				replaced = true
				break
			}
		}

		if !replaced {
			entry.votes = append(entry.votes, vote)
		}
	}
}

func (cache *VotesCache) Find(hash types.Hash) []*types.Vote {
	cache.cacheMutex.Lock()
	defer cache.cacheMutex.Unlock()

	existing, found := cache.cache.Peek(hash)
	if !found {
		return nil
	}

	votes := existing.(*cachedVotes).votes

	return append([]*types.Vote(nil), votes...)
}

func (cache *VotesCache) Remove(hash types.Hash) {
	cache.cacheMutex.Lock()
	defer cache.cacheMutex.Unlock()

	cache.cache.Remove(hash)
}

func (cache *VotesCache) Size() int {
	cache.cacheMutex.Lock()
	defer cache.cacheMutex.Unlock()

	return cache.cache.Len()
}
