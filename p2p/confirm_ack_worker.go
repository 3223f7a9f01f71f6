package p2p

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/types"
)

const confirmAckQueueSize = 65536

type confirmAck struct {
	peer *networking.PeerNode
	vote *types.Vote
}

// ConfirmAckWorker moves votes off the connection goroutines and into the
// vote processor, whose queue applies its own load shedding.
type ConfirmAckWorker struct {
	Logger    *logrus.Entry
	P2PServer *P2P

	ConfirmAckQueue chan confirmAck

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewConfirmAckWorker(srv *P2P, logger *logrus.Entry) *ConfirmAckWorker {
	return &ConfirmAckWorker{
		Logger:          logger,
		P2PServer:       srv,
		ConfirmAckQueue: make(chan confirmAck, confirmAckQueueSize),
		stop:            make(chan struct{}),
	}
}

func (worker *ConfirmAckWorker) HandleConfirmAck(peer *networking.PeerNode, vote *types.Vote) {
	processor := worker.P2PServer.collaborators.VoteProcessor
	if processor == nil {
		return
	}

	if !processor.Vote(vote, peer) {
		worker.Logger.Tracef("Vote processor dropped a vote from %s via %s", vote.Account.ToNanoAddress(), peer.Alias)
	}
}

func (worker *ConfirmAckWorker) StartQueueProcessor() {
	defer worker.wg.Done()

	for {
		select {
		case <-worker.stop:
			return
		case ack := <-worker.ConfirmAckQueue:
			worker.HandleConfirmAck(ack.peer, ack.vote)
		}
	}
}

func (worker *ConfirmAckWorker) Start(workers int) {
	for i := 0; i < workers; i++ {
		worker.wg.Add(1)
		go worker.StartQueueProcessor()
	}
}

func (worker *ConfirmAckWorker) Stop() {
	close(worker.stop)
	worker.wg.Wait()
}

func (worker *ConfirmAckWorker) AddConfirmAckToQueue(peer *networking.PeerNode, ack *types.Vote) {
	select {
	case worker.ConfirmAckQueue <- confirmAck{peer, ack}:
	default:
		worker.P2PServer.Stats.Inc("drop", "confirm_ack")
	}
}
