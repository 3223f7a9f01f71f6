package blockprocessor

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/tundak/nano-node-sub003/types"
)

const (
	arrivalSizeMin = 8192
	arrivalTimeMin = 300 * time.Second
)

// blockArrival remembers which blocks came in live from the network, only
// those start elections once they are applied.
type blockArrival struct {
	arrivals      *simplelru.LRU
	arrivalsMutex sync.Mutex
}

func newBlockArrival() *blockArrival {
	arrivals, err := simplelru.NewLRU(arrivalSizeMin, nil)
	if err != nil {
		panic(err)
	}

	return &blockArrival{arrivals: arrivals}
}

// add returns true if hash was already known.
func (arrival *blockArrival) add(hash types.Hash) bool {
	arrival.arrivalsMutex.Lock()
	defer arrival.arrivalsMutex.Unlock()

	if arrival.arrivals.Contains(hash) {
		return true
	}

	arrival.arrivals.Add(hash, time.Now())

	return false
}

func (arrival *blockArrival) recent(hash types.Hash) bool {
	arrival.arrivalsMutex.Lock()
	defer arrival.arrivalsMutex.Unlock()

	arrived, found := arrival.arrivals.Peek(hash)
	if !found {
		return false
	}

	return time.Since(arrived.(time.Time)) < arrivalTimeMin
}
