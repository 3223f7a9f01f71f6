package gapcache

import (
	"sync"
	"testing"
	"time"

	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

type fakeLedger struct {
	weights map[types.Address]types.Amount
	blocks  map[types.Hash]bool
	mutex   sync.Mutex
}

func (ledger *fakeLedger) RepresentativeWeight(representative types.Address) types.Amount {
	return ledger.weights[representative]
}

func (ledger *fakeLedger) BlockExists(hash types.Hash) bool {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()

	return ledger.blocks[hash]
}

type fakeOnline struct{ stake types.Amount }

func (online fakeOnline) OnlineStake() types.Amount { return online.stake }

type fakeBootstrapper struct {
	lazy chan types.Hash
}

func (bootstrapper *fakeBootstrapper) BootstrapLazy(hash types.Hash) { bootstrapper.lazy <- hash }
func (bootstrapper *fakeBootstrapper) Bootstrap()                    {}

func newTestCache(max int, ledger *fakeLedger) (*GapCache, *fakeBootstrapper) {
	bootstrapper := &fakeBootstrapper{lazy: make(chan types.Hash, 4)}
	cache := New(&Config{MaxSize: max, BootstrapFractionNumerator: 16}, types.AmountFromUint64(100), time.Millisecond, ledger, fakeOnline{types.AmountFromUint64(1000)}, bootstrapper, utils.NewLogger("GapCache", false))

	return cache, bootstrapper
}

func TestCapEvictsOldest(t *testing.T) {
	cache, _ := newTestCache(3, &fakeLedger{})

	now := time.Now()
	for i := byte(0); i < 10; i++ {
		cache.Add(types.Hash{i}, now.Add(time.Duration(i)*time.Second))
		if cache.Size() > 3 {
			t.Fatalf("size %d over cap after %d adds", cache.Size(), i+1)
		}
	}

	for i := byte(0); i < 7; i++ {
		if cache.Contains(types.Hash{i}) {
			t.Fatalf("hash %d should have been evicted", i)
		}
	}

	for i := byte(7); i < 10; i++ {
		if !cache.Contains(types.Hash{i}) {
			t.Fatalf("hash %d should still be cached", i)
		}
	}
}

func TestReAddRefreshesArrival(t *testing.T) {
	cache, _ := newTestCache(2, &fakeLedger{})

	start := time.Now()
	cache.Add(types.Hash{1}, start)
	cache.Add(types.Hash{2}, start.Add(time.Second))
	cache.Add(types.Hash{1}, start.Add(2*time.Second))

	if arrival, _ := cache.Arrival(types.Hash{1}); !arrival.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("arrival not refreshed: %s", arrival)
	}

	// {2} is now the oldest.
	cache.Add(types.Hash{3}, start.Add(3*time.Second))
	if cache.Contains(types.Hash{2}) || !cache.Contains(types.Hash{1}) {
		t.Fatal("re-added hash was evicted instead of the oldest one")
	}

	cache.Erase(types.Hash{1})
	if cache.Size() != 1 {
		t.Fatalf("size %d after erase", cache.Size())
	}
}

func TestVotesTriggerLazyBootstrap(t *testing.T) {
	rep1, rep2 := types.Address{1}, types.Address{2}
	ledger := &fakeLedger{
		weights: map[types.Address]types.Amount{
			rep1: types.AmountFromUint64(60),
			rep2: types.AmountFromUint64(50),
		},
		blocks: map[types.Hash]bool{},
	}

	cache, bootstrapper := newTestCache(10, ledger)
	hash := types.Hash{42}
	cache.Add(hash, time.Now())

	cache.Vote(&types.Vote{Account: rep1, Hashes: []types.Hash{hash}})
	// Same voter twice doesn't count twice.
	cache.Vote(&types.Vote{Account: rep1, Hashes: []types.Hash{hash}})

	select {
	case <-bootstrapper.lazy:
		t.Fatal("bootstrap started below the threshold")
	case <-time.After(20 * time.Millisecond):
	}

	cache.Vote(&types.Vote{Account: rep2, Hashes: []types.Hash{hash}})

	select {
	case got := <-bootstrapper.lazy:
		if got != hash {
			t.Fatalf("bootstrapped %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("lazy bootstrap was not started")
	}
}

func TestNoBootstrapWhenBlockArrived(t *testing.T) {
	rep := types.Address{1}
	hash := types.Hash{42}
	ledger := &fakeLedger{
		weights: map[types.Address]types.Amount{rep: types.AmountFromUint64(500)},
		blocks:  map[types.Hash]bool{hash: true},
	}

	cache, bootstrapper := newTestCache(10, ledger)
	cache.Add(hash, time.Now())
	cache.Vote(&types.Vote{Account: rep, Hashes: []types.Hash{hash}})

	select {
	case <-bootstrapper.lazy:
		t.Fatal("bootstrapped a block that is already stored")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBootstrapThreshold(t *testing.T) {
	cache, _ := newTestCache(1, &fakeLedger{})

	if got := cache.BootstrapThreshold(); got != types.AmountFromUint64(1000*16/256) {
		t.Fatalf("threshold %s", got)
	}
}
