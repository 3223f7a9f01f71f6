package p2p

import (
	"net"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

const (
	// Targets already pulled are not pulled again until they fall out.
	pulledCacheSize = 65536
	fullPollDelay   = 100 * time.Millisecond
)

type pullKind byte

const (
	// The start may be a block hash or an account, the server resolves it.
	PULL_CHAIN pullKind = iota
	// Pull an account's chain, then its pending entries.
	PULL_ACCOUNT
)

// BootstrapDataManager holds what bootstrap connections should pull next.
// Bootstrap connections are dialed by the peers manager while HasWork is true.
type BootstrapDataManager struct {
	P2PServer *P2P
	Logger    *logrus.Entry

	NeedBlockBody      map[types.Hash]pullKind
	pulled             *simplelru.LRU
	NeedBlockBodyMutex sync.Mutex

	stop chan struct{}
}

func NewBootstrapDataManager(srv *P2P, logger *logrus.Entry) *BootstrapDataManager {
	pulled, err := simplelru.NewLRU(pulledCacheSize, nil)
	if err != nil {
		panic(err)
	}

	return &BootstrapDataManager{
		P2PServer:     srv,
		Logger:        logger,
		NeedBlockBody: make(map[types.Hash]pullKind),
		pulled:        pulled,
		stop:          make(chan struct{}),
	}
}

// Start queues a pull of the genesis account when the ledger holds nothing
// else.
func (manager *BootstrapDataManager) Start() {
	txn := manager.P2PServer.Database.TxBeginRead()
	count, err := txn.BlockCount()
	txn.Discard()

	if err != nil {
		manager.Logger.Errorf("Error counting blocks: %s", err)
		return
	}

	if count <= 1 {
		manager.P2PServer.Bootstrap()
	}
}

func (manager *BootstrapDataManager) Stop() {
	close(manager.stop)
}

func (manager *BootstrapDataManager) HasWork() bool {
	manager.NeedBlockBodyMutex.Lock()
	defer manager.NeedBlockBodyMutex.Unlock()

	return len(manager.NeedBlockBody) > 0
}

func (manager *BootstrapDataManager) add(hash types.Hash, kind pullKind) {
	manager.NeedBlockBodyMutex.Lock()
	defer manager.NeedBlockBodyMutex.Unlock()

	if manager.pulled.Contains(hash) {
		return
	}

	if current, found := manager.NeedBlockBody[hash]; !found || kind > current {
		manager.NeedBlockBody[hash] = kind
	}
}

func (manager *BootstrapDataManager) AddUnknownBlockHash(hash types.Hash) {
	manager.add(hash, PULL_CHAIN)
}

func (manager *BootstrapDataManager) AddAccount(account types.Address) {
	manager.add(types.Hash(account), PULL_ACCOUNT)
}

// GetMissingBlock hands out one target and marks it pulled. A pull that
// fails puts it back with Retry.
func (manager *BootstrapDataManager) GetMissingBlock() (types.Hash, pullKind, bool) {
	manager.NeedBlockBodyMutex.Lock()
	defer manager.NeedBlockBodyMutex.Unlock()

	for hash, kind := range manager.NeedBlockBody {
		delete(manager.NeedBlockBody, hash)
		manager.pulled.Add(hash, struct{}{})

		return hash, kind, true
	}

	return types.Hash{}, PULL_CHAIN, false
}

func (manager *BootstrapDataManager) Retry(hash types.Hash, kind pullKind) {
	manager.NeedBlockBodyMutex.Lock()
	defer manager.NeedBlockBodyMutex.Unlock()

	manager.pulled.Remove(hash)
	if _, found := manager.NeedBlockBody[hash]; !found {
		manager.NeedBlockBody[hash] = kind
	}
}

func (manager *BootstrapDataManager) stopped() bool {
	select {
	case <-manager.stop:
		return true
	default:
		return false
	}
}

// BootstrapLazy pulls the chain ending in hash from bootstrap peers.
func (srv *P2P) BootstrapLazy(hash types.Hash) {
	if srv.Ledger.BlockExists(hash) {
		return
	}

	srv.BootstrapDataManager.AddUnknownBlockHash(hash)
}

// Bootstrap pulls the genesis account and, transitively, every account its
// sends reach.
func (srv *P2P) Bootstrap() {
	srv.BootstrapDataManager.AddAccount(srv.Params.Genesis.Account)
}

func (srv *P2P) HandleBootstrapConnection(conn net.Conn, reader *packets.PacketReader) {
	peer := networking.NewPeerNode(conn, nil, true, srv.Params.HeaderNetworkID)

	if !srv.RegisterPeer(peer) {
		return
	}
	defer srv.UnregisterPeer(peer)

	if err := srv.StartBootstrapping(reader, peer); err != nil {
		srv.BootstrapDataManager.Logger.Debug(srv.FormatConnReadError(err, peer))
		srv.PeersManager.Failed(conn.RemoteAddr().String())
	}
}

// StartBootstrapping pulls queued targets over one connection until the
// queue is empty.
func (srv *P2P) StartBootstrapping(reader *packets.PacketReader, peer *networking.PeerNode) error {
	manager := srv.BootstrapDataManager
	for !manager.stopped() {
		target, kind, found := manager.GetMissingBlock()
		if !found {
			return nil
		}

		manager.Logger.Debugf("Requesting bulk_pull for %s from %s", target, peer.Alias)
		if err := srv.pullChain(reader, peer, target); err != nil {
			manager.Retry(target, kind)
			return err
		}

		if kind == PULL_ACCOUNT {
			if err := srv.pullPending(reader, peer, types.Address(target)); err != nil {
				manager.Retry(target, kind)
				return err
			}
		}
	}

	return nil
}

func (srv *P2P) pullChain(reader *packets.PacketReader, peer *networking.PeerNode, start types.Hash) error {
	if err := srv.SendBulkPull(peer, start, types.Hash{}); err != nil {
		return err
	}

	blocks, err := srv.HandleBulkPullResponse(reader, peer, start)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		srv.queueBootstrapBlock(block, peer)
		srv.followLinks(block)
	}

	return nil
}

func (srv *P2P) pullPending(reader *packets.PacketReader, peer *networking.PeerNode, account types.Address) error {
	if err := srv.SendBulkPullAccount(peer, account, types.Amount{}, BULK_PULL_ACCOUNT_HASH_AND_AMOUNT); err != nil {
		return err
	}

	response, err := srv.HandleBulkPullAccountResponse(reader, BULK_PULL_ACCOUNT_HASH_AND_AMOUNT)
	if err != nil {
		return err
	}

	for _, entry := range response.Entries {
		srv.BootstrapLazy(entry.Hash)
	}

	return nil
}

// followLinks queues the chains a pulled block depends on or reaches.
func (srv *P2P) followLinks(block *types.Block) {
	switch block.Type {
	case types.BLOCK_TYPE_SEND:
		srv.BootstrapDataManager.AddAccount(block.Destination())
	case types.BLOCK_TYPE_RECEIVE, types.BLOCK_TYPE_OPEN:
		srv.BootstrapLazy(block.Source())
	case types.BLOCK_TYPE_STATE:
		// A state link is either a source hash or a destination account, the
		// server resolves both.
		if !block.Link.IsZero() && !srv.Ledger.IsEpochLink(block.Link) {
			srv.BootstrapLazy(block.Link.AsHash())
		}
	}
}

func (srv *P2P) queueBootstrapBlock(block *types.Block, peer *networking.PeerNode) {
	processor := srv.collaborators.BlockProcessor
	if processor == nil {
		return
	}

	for processor.Full() && !srv.BootstrapDataManager.stopped() {
		time.Sleep(fullPollDelay)
	}

	processor.Add(block, blockprocessor.ORIGIN_BOOTSTRAP, peer)
}

// ServeBootstrapConnection answers bulk_pull and bulk_pull_account requests
// until the client hangs up.
func (srv *P2P) ServeBootstrapConnection(conn net.Conn, reader *packets.PacketReader, header packets.Header) {
	peer := networking.NewPeerNode(conn, nil, true, srv.Params.HeaderNetworkID)

	for {
		var err error
		switch header.MessageType {
		case packets.PACKET_TYPE_BULK_PULL:
			err = srv.HandleBulkPull(reader, peer)
		case packets.PACKET_TYPE_BULK_PULL_ACCOUNT:
			err = srv.HandleBulkPullAccount(reader, peer)
		default:
			srv.BootstrapDataManager.Logger.Debugf("Unexpected %s on bootstrap connection from %s", header.MessageType, peer.Alias)
			return
		}

		if err != nil {
			srv.BootstrapDataManager.Logger.Debug(srv.FormatConnReadError(err, peer))
			return
		}

		header, err = srv.ReadHeader(reader)
		if err != nil {
			srv.BootstrapDataManager.Logger.Debug(srv.FormatConnReadError(err, peer))
			return
		}
	}
}
