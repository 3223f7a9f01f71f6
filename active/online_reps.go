package active

import (
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/types"
)

// OnlineReps tracks which representatives voted recently and, from periodic
// samples of their combined weight, how much stake is online.
type OnlineReps struct {
	ledger     *ledger.Ledger
	minimum    types.Amount
	percent    uint64
	maxSamples uint64

	reps      map[types.Address]struct{}
	online    types.Amount
	repsMutex sync.Mutex

	logger *logrus.Entry
}

func NewOnlineReps(ledger *ledger.Ledger, maxSamples uint64, logger *logrus.Entry) *OnlineReps {
	return &OnlineReps{
		ledger:     ledger,
		minimum:    ledger.Params.OnlineWeightMinimum,
		percent:    ledger.Params.QuorumPercent,
		maxSamples: maxSamples,
		reps:       make(map[types.Address]struct{}),
		logger:     logger,
	}
}

// Observe records that representative voted. Accounts without weight are
// ignored.
func (reps *OnlineReps) Observe(representative types.Address) {
	if reps.ledger.RepresentativeWeight(representative).IsZero() {
		return
	}

	reps.repsMutex.Lock()
	reps.reps[representative] = struct{}{}
	reps.repsMutex.Unlock()
}

// Sample stores the weight of every representative seen since the last sample
// and recomputes the trend from the stored samples.
func (reps *OnlineReps) Sample(now time.Time) error {
	reps.repsMutex.Lock()
	observed := reps.reps
	reps.reps = make(map[types.Address]struct{})
	reps.repsMutex.Unlock()

	txn := reps.ledger.Store.TxBeginWrite()
	defer txn.Discard()

	count, err := txn.OnlineWeightCount()
	if err != nil {
		return err
	}

	var oldest []uint64
	if count >= reps.maxSamples {
		err = txn.IterateOnlineWeight(func(timestamp uint64, _ types.Amount) bool {
			oldest = append(oldest, timestamp)
			return uint64(len(oldest)) <= count-reps.maxSamples
		})
		if err != nil {
			return err
		}
	}

	for _, timestamp := range oldest {
		if err := txn.DeleteOnlineWeight(timestamp); err != nil {
			return err
		}
	}

	var current types.Amount
	for representative := range observed {
		weight, err := reps.ledger.Weight(txn, representative)
		if err != nil {
			return err
		}

		current = current.Add(weight)
	}

	if err := txn.PutOnlineWeight(uint64(now.UnixNano()), current); err != nil {
		return err
	}

	trend, err := reps.trend(txn)
	if err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	reps.repsMutex.Lock()
	reps.online = trend
	reps.repsMutex.Unlock()

	reps.logger.Debugf("Online weight sample %s, trend %s", current, trend)

	return nil
}

// trend is the median of the stored samples with the configured minimum
// counted as one more sample.
func (reps *OnlineReps) trend(txn *database.Transaction) (types.Amount, error) {
	items := []types.Amount{reps.minimum}
	err := txn.IterateOnlineWeight(func(_ uint64, weight types.Amount) bool {
		items = append(items, weight)
		return true
	})
	if err != nil {
		return types.Amount{}, err
	}

	slices.SortFunc(items, types.Amount.Cmp)

	return items[len(items)/2], nil
}

// OnlineStake is the trended online weight, never below the minimum.
func (reps *OnlineReps) OnlineStake() types.Amount {
	reps.repsMutex.Lock()
	defer reps.repsMutex.Unlock()

	return reps.online.Max(reps.minimum)
}

// Delta is the share of online stake a block needs to be confirmed.
func (reps *OnlineReps) Delta() types.Amount {
	return reps.OnlineStake().MulDiv(reps.percent, 100)
}

func (reps *OnlineReps) List() []types.Address {
	reps.repsMutex.Lock()
	defer reps.repsMutex.Unlock()

	list := make([]types.Address, 0, len(reps.reps))
	for representative := range reps.reps {
		list = append(list, representative)
	}

	return list
}

// Run samples every period until stop is closed.
func (reps *OnlineReps) Run(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if err := reps.Sample(now); err != nil {
				reps.logger.Errorf("Error sampling online weight: %s", err)
			}
		}
	}
}
