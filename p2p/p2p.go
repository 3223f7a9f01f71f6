// Package p2p is the node's TCP transport: realtime message handling,
// bootstrap pulls and serving, and peer management.
package p2p

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

var ErrPeerOnAnotherNetwork = errors.New("peer is on another network")

type BlockProcessor interface {
	Add(block *types.Block, origin blockprocessor.Origin, channel types.Channel) bool
	Full() bool
}

type VoteProcessor interface {
	Vote(vote *types.Vote, channel types.Channel) bool
}

type VotesCache interface {
	Find(hash types.Hash) []*types.Vote
}

type VoteGenerator interface {
	Add(hash types.Hash)
}

type DifficultySource interface {
	ActiveDifficulty() uint64
}

type Collaborators struct {
	BlockProcessor BlockProcessor
	VoteProcessor  VoteProcessor
	VotesCache     VotesCache
	VoteGenerator  VoteGenerator
	Difficulty     DifficultySource
}

type P2P struct {
	Config   *Config
	Params   *params.NetworkParams
	Ledger   *ledger.Ledger
	Database *database.Database
	Stats    *stats.Stats

	collaborators Collaborators

	PeersManager         *PeersManager
	Workers              *WorkersManager
	BootstrapDataManager *BootstrapDataManager

	NodeKeyPair        NodeKeyPair
	NodeStartTimestamp time.Time

	listener net.Listener
	// Every open connection, closed on Stop.
	conns      map[net.Conn]struct{}
	connsMutex sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *logrus.Entry
}

func New(cfg *Config, ledger *ledger.Ledger, logger *logrus.Entry) *P2P {
	srv := &P2P{
		Config:             cfg,
		Params:             ledger.Params,
		Ledger:             ledger,
		Database:           ledger.Store,
		Stats:              ledger.Stats,
		NodeStartTimestamp: time.Now(),
		conns:              make(map[net.Conn]struct{}),
		stop:               make(chan struct{}),
		logger:             logger,
	}

	srv.BootstrapDataManager = NewBootstrapDataManager(srv, utils.NewLogger("Bootstrap", cfg.Logs.Bootstrap))
	srv.Workers = NewWorkerManager(srv)
	srv.PeersManager = NewPeersManager(srv, utils.NewLogger("PeersManager", cfg.Logs.PeersManager))

	return srv
}

// SetCollaborators must be called before ValidateAndStart.
func (srv *P2P) SetCollaborators(collaborators Collaborators) {
	srv.collaborators = collaborators
}

func (srv *P2P) stopped() bool {
	select {
	case <-srv.stop:
		return true
	default:
		return false
	}
}

func (srv *P2P) ValidateIncomingConnection(conn net.Conn) error {
	peer_count := srv.PeersManager.GetLivePeersCount()
	if peer_count >= srv.Config.P2P.MaxLivePeers {
		conn.Close()
		return fmt.Errorf("dropping connection with %s as we have reached the max limit of %d live peers", conn.RemoteAddr(), srv.Config.P2P.MaxLivePeers)
	}

	return nil
}

func (srv *P2P) ReadHeader(reader *packets.PacketReader) (packets.Header, error) {
	header, err := reader.ReadHeader()
	if err != nil {
		return packets.Header{}, err
	}

	if header.NetworkID != srv.Params.HeaderNetworkID {
		return packets.Header{}, errors.Wrapf(ErrPeerOnAnotherNetwork, "%q", header.NetworkID[:])
	}

	if header.ProtocolVersion.Using < params.PROTOCOL_VERSION_MIN {
		return packets.Header{}, errors.Wrapf(packets.ErrInvalidHeader, "protocol version %d is too old", header.ProtocolVersion.Using)
	}

	return header, nil
}

func (srv *P2P) HandleMessage(reader *packets.PacketReader, header packets.Header, peer *networking.PeerNode) error {
	srv.PeersManager.LogPacket(peer, header, true)
	srv.Stats.Inc("message", header.MessageType.String())

	switch header.MessageType {
	case packets.PACKET_TYPE_KEEPALIVE:
		return srv.HandleKeepAlive(reader, &header, peer)
	case packets.PACKET_TYPE_PUBLISH:
		return srv.HandlePublish(reader, &header, peer)
	case packets.PACKET_TYPE_CONFIRM_REQ:
		return srv.HandleConfirmReq(reader, &header, peer)
	case packets.PACKET_TYPE_CONFIRM_ACK:
		return srv.HandleConfirmAck(reader, &header, peer)
	case packets.PACKET_TYPE_TELEMETRY_REQ:
		return srv.HandleTelemetryReq(reader, &header, peer)
	case packets.PACKET_TYPE_TELEMETRY_ACK:
		return srv.HandleTelemetryAck(reader, &header, peer)
	case packets.PACKET_TYPE_NODE_ID_HANDSHAKE:
		// Repeated handshakes are ignored.
		return srv.skipPayload(reader, &header)
	}

	return errors.Wrapf(packets.ErrInvalidHeader, "unsupported packet type %s", header.MessageType)
}

func (srv *P2P) skipPayload(reader *packets.PacketReader, header *packets.Header) error {
	size, err := header.PayloadSize()
	if err != nil {
		return err
	}

	_, err = io.CopyN(io.Discard, reader, int64(size))

	return err
}

func (srv *P2P) HandlePublish(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	block, err := reader.ReadBlock(header.Extension.BlockType())
	if err != nil {
		return err
	}

	processor := srv.collaborators.BlockProcessor
	if processor == nil {
		return nil
	}

	if processor.Full() {
		srv.Stats.Inc("drop", "publish")
		return nil
	}

	processor.Add(block, blockprocessor.ORIGIN_NETWORK, peer)

	return nil
}

func (srv *P2P) RegisterPeer(peer *networking.PeerNode) bool {
	return srv.PeersManager.RegisterPeer(peer)
}

func (srv *P2P) UnregisterPeer(peer *networking.PeerNode) {
	srv.PeersManager.UnregisterPeer(peer)
}

func (srv *P2P) FormatConnReadError(err error, peer *networking.PeerNode) string {
	nodeId := "BOOTSTRAP_CONNECTION"
	if !peer.BootstrapConnection && peer.NodeID != nil {
		nodeId = peer.NodeID.ToNodeAddress()
	}

	if errors.Is(err, io.EOF) {
		return fmt.Sprintf("Peer %s %s closed the connection.", nodeId, peer.Conn.RemoteAddr())
	} else if errors.Is(err, syscall.ECONNRESET) {
		return fmt.Sprintf("Peer %s %s force closed the connection.", nodeId, peer.Conn.RemoteAddr())
	}

	return fmt.Sprintf("Error reading from peer %s %s: %s, disconnecting...", nodeId, peer.Conn.RemoteAddr(), err)
}

func (srv *P2P) HandleRegularConnection(conn net.Conn, reader *packets.PacketReader, incoming bool, first *packets.Header) {
	remoteIP := conn.RemoteAddr().String()
	peer, err := srv.makeHandshake(conn, reader, incoming, first)
	if err != nil {
		srv.logger.Debugf("Error making initial handshake with %s: %s", remoteIP, err)
		srv.PeersManager.Failed(remoteIP)
		return
	}

	if !srv.RegisterPeer(peer) {
		return
	}
	defer srv.UnregisterPeer(peer)

	srv.PeersManager.Succeeded(remoteIP)
	if !incoming {
		if err := srv.Database.AddNodeIPs([]string{remoteIP}); err != nil {
			srv.logger.Warnf("Error saving peer %s: %s", remoteIP, err)
		}
	}

	srv.logger.Infof("Successfully finished handshake with %s", peer.Alias)

	// Request telemetry from peer right after connecting
	if err := srv.SendTelemetryReq(peer); err != nil {
		srv.logger.Debug(srv.FormatConnReadError(err, peer))
		return
	}

	if err := srv.SendKeepAlive(peer); err != nil {
		srv.logger.Debug(srv.FormatConnReadError(err, peer))
		return
	}

	for {
		header, err := srv.ReadHeader(reader)
		if err != nil {
			srv.logger.Debug(srv.FormatConnReadError(err, peer))
			break
		}

		peer.Touch()

		if err := srv.HandleMessage(reader, header, peer); err != nil {
			srv.logger.Infof("Disconnecting. Error handling message from peer %s: %s", peer.Alias, err)
			break
		}
	}
}

func (srv *P2P) trackConn(conn net.Conn) bool {
	srv.connsMutex.Lock()
	defer srv.connsMutex.Unlock()

	if srv.stopped() {
		return false
	}

	srv.conns[conn] = struct{}{}

	return true
}

func (srv *P2P) untrackConn(conn net.Conn) {
	srv.connsMutex.Lock()
	delete(srv.conns, conn)
	srv.connsMutex.Unlock()
}

func (srv *P2P) HandleConnection(conn net.Conn, incoming bool, bootstrap_connection bool) {
	defer conn.Close()

	if !srv.trackConn(conn) {
		return
	}
	defer srv.untrackConn(conn)

	if incoming {
		if err := srv.ValidateIncomingConnection(conn); err != nil {
			srv.logger.Debugf("Connection validation failed: %s", err)
			return
		}
	}

	reader := &packets.PacketReader{Buffer: bufio.NewReader(conn)}

	if bootstrap_connection {
		srv.HandleBootstrapConnection(conn, reader)
		return
	}

	if !incoming {
		srv.HandleRegularConnection(conn, reader, false, nil)
		return
	}

	// The first message tells realtime peers from bootstrap clients.
	header, err := srv.ReadHeader(reader)
	if err != nil {
		srv.logger.Debugf("Error reading first header from %s: %s", conn.RemoteAddr(), err)
		return
	}

	switch header.MessageType {
	case packets.PACKET_TYPE_NODE_ID_HANDSHAKE:
		srv.HandleRegularConnection(conn, reader, true, &header)
	case packets.PACKET_TYPE_BULK_PULL, packets.PACKET_TYPE_BULK_PULL_ACCOUNT:
		srv.ServeBootstrapConnection(conn, reader, header)
	default:
		srv.logger.Debugf("Unexpected first message %s from %s", header.MessageType, conn.RemoteAddr())
	}
}

func (srv *P2P) StartListening() error {
	listener, err := net.Listen("tcp", srv.Config.P2P.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", srv.Config.P2P.ListenAddr)
	}

	srv.listener = listener
	srv.logger.Infof("Listening for peers on %s", listener.Addr())

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()

		for {
			conn, err := listener.Accept()
			if err != nil {
				if srv.stopped() {
					return
				}

				srv.logger.Warnf("Error accepting TCP Connection: %s", err)
				continue
			}

			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				srv.HandleConnection(conn, true, false)
			}()
		}
	}()

	return nil
}

// ListenAddr is the bound address, useful when listening on port 0.
func (srv *P2P) ListenAddr() net.Addr {
	if srv.listener == nil {
		return nil
	}

	return srv.listener.Addr()
}

func (srv *P2P) keepaliveLoop() {
	defer srv.wg.Done()

	ticker := time.NewTicker(srv.Config.P2P.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-srv.stop:
			return
		case <-ticker.C:
			for _, peer := range srv.PeersManager.GetLivePeers() {
				if err := srv.SendKeepAlive(peer); err != nil {
					srv.logger.Debugf("Error sending keepalive to %s: %s", peer.Alias, err)
				}
			}
		}
	}
}

func (srv *P2P) LoadOrCreateNodeIdentity() error {
	node_public_key, node_private_key, err := srv.Database.LoadOrCreateNodeIdentity()
	if err != nil {
		return err
	}

	srv.NodeKeyPair = NodeKeyPair{
		PrivateKey: node_private_key,
		PublicKey:  node_public_key,
	}

	return nil
}

func (srv *P2P) ValidateAndStart() error {
	if srv.Config.P2P.MaxLivePeers == 0 {
		return errors.New("MaxLivePeers cannot be 0")
	}

	if err := srv.LoadOrCreateNodeIdentity(); err != nil {
		return err
	}

	srv.logger.Infof("Node ID: %s", srv.NodeKeyPair.NodeID().ToNodeAddress())

	if err := srv.StartListening(); err != nil {
		return err
	}

	srv.Workers.StartWorkers()
	srv.PeersManager.Start()
	srv.BootstrapDataManager.Start()

	srv.wg.Add(1)
	go srv.keepaliveLoop()

	return nil
}

func (srv *P2P) Stop() {
	srv.stopOnce.Do(func() {
		srv.connsMutex.Lock()
		close(srv.stop)
		for conn := range srv.conns {
			conn.Close()
		}
		srv.connsMutex.Unlock()

		if srv.listener != nil {
			srv.listener.Close()
		}

		srv.BootstrapDataManager.Stop()
		srv.Workers.Stop()
		srv.wg.Wait()
	})
}
