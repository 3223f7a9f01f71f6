package p2p

import "github.com/tundak/nano-node-sub003/utils"

type WorkersManager struct {
	P2PServer  *P2P
	ConfirmReq *ConfirmReqWorker
	ConfirmAck *ConfirmAckWorker

	started bool
}

func NewWorkerManager(srv *P2P) *WorkersManager {
	return &WorkersManager{
		P2PServer:  srv,
		ConfirmReq: NewConfirmReqWorker(srv, utils.NewLogger("ConfirmReq", srv.Config.Logs.ConfirmReqWorker)),
		ConfirmAck: NewConfirmAckWorker(srv, utils.NewLogger("ConfirmAck", srv.Config.Logs.ConfirmAckWorker)),
	}
}

func (manager *WorkersManager) StartWorkers() {
	manager.started = true
	manager.ConfirmReq.Start(manager.P2PServer.Config.P2P.ConfirmReqWorkers)
	manager.ConfirmAck.Start(manager.P2PServer.Config.P2P.ConfirmAckWorkers)
}

func (manager *WorkersManager) Stop() {
	if !manager.started {
		return
	}

	manager.ConfirmReq.Stop()
	manager.ConfirmAck.Stop()
}
