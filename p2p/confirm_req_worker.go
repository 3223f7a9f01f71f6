package p2p

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/types"
)

const confirmReqQueueSize = 65536

type confirmReq struct {
	peer  *networking.PeerNode
	pairs []types.HashPair
}

// ConfirmReqWorker answers confirm_req messages from the votes cache, or asks
// the vote generator for a fresh vote when we hold the block.
type ConfirmReqWorker struct {
	Logger    *logrus.Entry
	P2PServer *P2P

	IncomingConfirmReqQueue chan confirmReq

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewConfirmReqWorker(srv *P2P, logger *logrus.Entry) *ConfirmReqWorker {
	return &ConfirmReqWorker{
		Logger:                  logger,
		P2PServer:               srv,
		IncomingConfirmReqQueue: make(chan confirmReq, confirmReqQueueSize),
		stop:                    make(chan struct{}),
	}
}

func (worker *ConfirmReqWorker) HandleHashPairRequest(peer *networking.PeerNode, hashPairs []types.HashPair) {
	collaborators := worker.P2PServer.collaborators
	worker.Logger.Debugf("Processing %d hashpair requests from %s", len(hashPairs), peer.Alias)

	sent := make(map[types.Hash]bool)
	unknown := 0
	for _, hashPair := range hashPairs {
		var cached []*types.Vote
		if collaborators.VotesCache != nil {
			cached = collaborators.VotesCache.Find(hashPair.Hash)
		}

		if len(cached) > 0 {
			for _, vote := range cached {
				// A vote covering several requested hashes goes out once.
				full_hash := vote.FullHash()
				if sent[full_hash] {
					continue
				}

				sent[full_hash] = true
				if err := peer.SendVote(vote); err != nil {
					worker.Logger.Debugf("Error sending cached vote to %s: %s", peer.Alias, err)
					return
				}
			}

			continue
		}

		if !worker.P2PServer.Ledger.BlockExists(hashPair.Hash) {
			unknown++
			continue
		}

		if collaborators.VoteGenerator != nil {
			collaborators.VoteGenerator.Add(hashPair.Hash)
		}
	}

	if unknown > 0 {
		worker.P2PServer.Stats.Add("confirm_req", "unknown_hash", uint64(unknown))
	}
}

func (worker *ConfirmReqWorker) StartQueueProcessor() {
	defer worker.wg.Done()

	for {
		select {
		case <-worker.stop:
			return
		case request := <-worker.IncomingConfirmReqQueue:
			worker.HandleHashPairRequest(request.peer, request.pairs)
		}
	}
}

func (worker *ConfirmReqWorker) Start(workers int) {
	for i := 0; i < workers; i++ {
		worker.wg.Add(1)
		go worker.StartQueueProcessor()
	}
}

func (worker *ConfirmReqWorker) Stop() {
	close(worker.stop)
	worker.wg.Wait()
}

// AddConfirmReqHashPairsToQueue drops the request when the queue is full.
func (worker *ConfirmReqWorker) AddConfirmReqHashPairsToQueue(peer *networking.PeerNode, pairs []types.HashPair) {
	select {
	case worker.IncomingConfirmReqQueue <- confirmReq{peer, pairs}:
	default:
		worker.P2PServer.Stats.Inc("drop", "confirm_req")
	}
}
