package active

import (
	"time"

	"github.com/tundak/nano-node-sub003/types"
)

func (active *ActiveTransactions) requestLoop() {
	defer active.wg.Done()

	ticker := time.NewTicker(active.params.RequestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-active.stop:
			return
		case <-ticker.C:
			active.RequestConfirm()
		}
	}
}

// RequestConfirm runs one announcement round: confirmed elections are retired,
// the backlog is trimmed, and the highest priority elections get their winner
// rebroadcast along with a request for votes.
func (active *ActiveTransactions) RequestConfirm() {
	now := time.Now()

	active.electionsMutex.Lock()
	for _, info := range active.roots {
		if info.election.confirmed {
			active.eraseLocked(info)
		}
	}

	active.flushLowest(now)

	var announce []*types.Block
	var fresh []types.Hash
	for _, info := range active.sortedRoots() {
		if len(announce) >= active.Config.AnnouncementsPerInterval {
			break
		}

		election := info.election
		winner := election.status.Winner
		if election.announcements == 0 {
			fresh = append(fresh, winner.Hash())
		}

		if election.announcements > 0 && election.announcements%active.Config.AnnouncementLong == 0 {
			active.logger.Infof("Election for %s has been running for %d announcements (%s), %d candidates, %d voters, tally %s",
				election.Root, election.announcements, now.Sub(election.started).Round(time.Millisecond), len(election.blocks), len(election.lastVotes), election.status.Tally)
			active.stats.Inc("election", "long")
		}

		election.announcements++
		announce = append(announce, winner)
	}

	collaborators := active.collaborators
	active.electionsMutex.Unlock()

	if collaborators.VoteGenerator != nil {
		for _, hash := range fresh {
			collaborators.VoteGenerator.Add(hash)
		}
	}

	if collaborators.Network != nil && len(announce) > 0 {
		for _, block := range announce {
			collaborators.Network.FloodBlock(block)
		}

		collaborators.Network.SendConfirmReq(announce)
	}
}
