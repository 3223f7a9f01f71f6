package active

import (
	"math"
	"slices"
	"time"

	"github.com/holiman/uint256"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/work"
)

// Window over which the confirmation rate is measured.
const confirmationRateWindow = 10 * time.Second

type dependency struct {
	hash  types.Hash
	level int64
}

// updateDependent registers election with the elections of the blocks its
// winner builds on.
func (active *ActiveTransactions) updateDependent(election *Election) {
	winner := election.status.Winner
	hash := winner.Hash()

	for _, parent := range active.parents(winner) {
		if existing, found := active.blocks[parent]; found && !existing.confirmed {
			existing.dependentBlocks[hash] = struct{}{}
		}
	}
}

func (active *ActiveTransactions) parents(block *types.Block) []types.Hash {
	var parents []types.Hash
	if !block.Previous.IsZero() {
		parents = append(parents, block.Previous)
	}

	switch block.Type {
	case types.BLOCK_TYPE_RECEIVE, types.BLOCK_TYPE_OPEN:
		parents = append(parents, block.Source())
	case types.BLOCK_TYPE_STATE:
		if !block.Link.IsZero() && !active.ledger.IsEpochLink(block.Link) && block.Link.AsHash() != block.Previous {
			parents = append(parents, block.Link.AsHash())
		}
	}

	return parents
}

// adjustDifficulty spreads the average difficulty of every unconfirmed
// election chained to hash across that chain, ancestors ranking above their
// descendants. Called with electionsMutex held.
func (active *ActiveTransactions) adjustDifficulty(hash types.Hash) {
	remaining := []dependency{{hash: hash}}
	processed := make(map[types.Hash]struct{})

	type leveledRoot struct {
		info  *conflictInfo
		level int64
	}

	var chain []leveledRoot
	sum := new(uint256.Int)
	var highest, lowest int64

	for len(remaining) > 0 {
		item := remaining[0]
		remaining = remaining[1:]

		if _, seen := processed[item.hash]; seen {
			continue
		}

		election, found := active.blocks[item.hash]
		if !found || election.confirmed || election.status.Winner.Hash() != item.hash {
			continue
		}

		processed[item.hash] = struct{}{}

		for _, parent := range active.parents(election.status.Winner) {
			remaining = append(remaining, dependency{parent, item.level + 1})
		}

		for dependent := range election.dependentBlocks {
			remaining = append(remaining, dependency{dependent, item.level - 1})
		}

		info, found := active.roots[election.Root]
		if !found {
			continue
		}

		sum.Add(sum, uint256.NewInt(info.difficulty))
		chain = append(chain, leveledRoot{info, item.level})
		highest = max(highest, item.level)
		lowest = min(lowest, item.level)
	}

	if len(chain) == 0 {
		return
	}

	average := sum.Div(sum, uint256.NewInt(uint64(len(chain)))).Uint64()

	// Keep average+level inside uint64 at both ends of the chain.
	var limiter int64
	if math.MaxUint64-average < uint64(highest) {
		limiter = highest - int64(math.MaxUint64-average)
	} else if average < uint64(-lowest) {
		limiter = lowest + int64(average)
	}

	for _, item := range chain {
		item.info.adjustedDifficulty = uint64(int64(average) + item.level - limiter)
	}
}

// UpdateDifficulty raises the recorded difficulty of block's election when a
// copy with more work arrives.
func (active *ActiveTransactions) UpdateDifficulty(block *types.Block) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	info, exists := active.roots[block.QualifiedRoot()]
	if !exists {
		return
	}

	difficulty := work.BlockDifficulty(block)
	if difficulty <= info.difficulty {
		return
	}

	active.logger.Debugf("Block %s was updated from difficulty %016x to %016x", block.Hash(), info.difficulty, difficulty)
	info.difficulty = difficulty
	if _, candidate := info.election.blocks[block.Hash()]; candidate {
		info.election.Publish(block)
	}
	active.adjustDifficulty(block.Hash())
}

func (active *ActiveTransactions) AdjustDifficulty(hash types.Hash) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	active.adjustDifficulty(hash)
}

// AdjustedDifficulty returns the priority of the election on root.
func (active *ActiveTransactions) AdjustedDifficulty(root types.QualifiedRoot) (uint64, bool) {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	info, exists := active.roots[root]
	if !exists {
		return 0, false
	}

	return info.adjustedDifficulty, true
}

// addTrendedSample records a confirmed winner's multiplier and recomputes the
// trended active difficulty. Called with electionsMutex held.
func (active *ActiveTransactions) addTrendedSample(multiplier float64) {
	multiplier = max(multiplier, 1)
	active.multipliers[active.multipliersNext] = multiplier
	active.multipliersNext = (active.multipliersNext + 1) % len(active.multipliers)

	var sum float64
	for _, sample := range active.multipliers {
		sum += sample
	}

	active.activeDifficulty = work.FromMultiplier(sum/float64(len(active.multipliers)), active.params.PublishThreshold)
}

// ActiveDifficulty is the trended difficulty new work should meet to be
// prioritized.
func (active *ActiveTransactions) ActiveDifficulty() uint64 {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	return active.activeDifficulty
}

// confirmationRate is confirmations per second over the recent window.
// Called with electionsMutex held.
func (active *ActiveTransactions) confirmationRate(now time.Time) int {
	cutoff := now.Add(-confirmationRateWindow)
	expired := 0
	for expired < len(active.confirmationTimes) && active.confirmationTimes[expired].Before(cutoff) {
		expired++
	}
	active.confirmationTimes = active.confirmationTimes[expired:]

	return len(active.confirmationTimes) / int(confirmationRateWindow/time.Second)
}

// sortedRoots orders elections by fewest announcements, then highest
// adjusted difficulty.
func (active *ActiveTransactions) sortedRoots() []*conflictInfo {
	sorted := make([]*conflictInfo, 0, len(active.roots))
	for _, info := range active.roots {
		sorted = append(sorted, info)
	}

	slices.SortFunc(sorted, func(a, b *conflictInfo) int {
		if a.election.announcements != b.election.announcements {
			if a.election.announcements < b.election.announcements {
				return -1
			}

			return 1
		}

		if a.adjustedDifficulty != b.adjustedDifficulty {
			if a.adjustedDifficulty > b.adjustedDifficulty {
				return -1
			}

			return 1
		}

		return a.root.Root().Cmp(b.root.Root())
	})

	return sorted
}

// FlushLowest drops the two unconfirmed elections with the lowest adjusted
// difficulty once there are more than the node can get through.
func (active *ActiveTransactions) FlushLowest() int {
	active.electionsMutex.Lock()
	defer active.electionsMutex.Unlock()

	return active.flushLowest(time.Now())
}

func (active *ActiveTransactions) flushLowest(now time.Time) int {
	limit := max(active.Config.ActiveElectionsMinimum, active.confirmationRate(now)*10)
	if len(active.roots) <= limit {
		return 0
	}

	candidates := make([]*conflictInfo, 0, len(active.roots))
	for _, info := range active.roots {
		if !info.election.confirmed {
			candidates = append(candidates, info)
		}
	}

	slices.SortFunc(candidates, func(a, b *conflictInfo) int {
		switch {
		case a.adjustedDifficulty < b.adjustedDifficulty:
			return -1
		case a.adjustedDifficulty > b.adjustedDifficulty:
			return 1
		}

		return a.root.Root().Cmp(b.root.Root())
	})

	flushed := 0
	for _, info := range candidates[:min(2, len(candidates))] {
		active.eraseLocked(info)
		flushed++
	}

	active.stats.Add("election", "flushed", uint64(flushed))

	return flushed
}
