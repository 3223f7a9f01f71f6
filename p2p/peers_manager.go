package p2p

import (
	"math"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

const (
	reconnectBackoffMin = time.Second
	reconnectBackoffMax = time.Minute
	maintainInterval    = 3 * time.Second
	dialTimeout         = 3 * time.Second
)

type backoff struct {
	next  time.Time
	delay time.Duration
}

type PeersManager struct {
	P2PServer *P2P

	Logger         *logrus.Entry
	BootstrapPeers map[string]*networking.PeerNode
	LivePeers      map[string]*networking.PeerNode
	// Endpoints we are dialing, so a slow dial isn't started twice.
	Dialing map[string]bool
	// Peers a representative's votes arrived through.
	Representatives map[types.Address]*networking.PeerNode
	Telemetry       map[string]*TelemetryData
	PeersMutex      sync.RWMutex

	backoffs      map[string]*backoff
	backoffsMutex sync.Mutex
}

func NewPeersManager(srv *P2P, logger *logrus.Entry) *PeersManager {
	return &PeersManager{
		Logger:          logger,
		LivePeers:       make(map[string]*networking.PeerNode),
		BootstrapPeers:  make(map[string]*networking.PeerNode),
		Dialing:         make(map[string]bool),
		Representatives: make(map[types.Address]*networking.PeerNode),
		Telemetry:       make(map[string]*TelemetryData),
		P2PServer:       srv,
		backoffs:        make(map[string]*backoff),
	}
}

func (manager *PeersManager) GetSavedPeers() (map[string]uint, error) {
	return manager.P2PServer.Database.GetNodeIPs()
}

// candidates returns saved and trusted endpoints we are neither connected
// to nor backing off from.
func (manager *PeersManager) candidates(bootstrap_connection bool) []string {
	saved_peers, err := manager.GetSavedPeers()
	if err != nil {
		manager.Logger.Errorf("Error loading saved peers: %s", err)
	}

	seen := make(map[string]bool)
	var ips []string
	for _, ip := range manager.P2PServer.Config.P2P.TrustedNodes {
		seen[ip] = true
		ips = append(ips, ip)
	}

	for ip := range saved_peers {
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}

	rand.Shuffle(len(ips), func(i, j int) { ips[i], ips[j] = ips[j], ips[i] })

	now := time.Now()
	candidates := ips[:0]
	for _, ip := range ips {
		if manager.isPeered(ip, bootstrap_connection) || !manager.readyToDial(ip, now) {
			continue
		}

		candidates = append(candidates, ip)
	}

	return candidates
}

func (manager *PeersManager) isPeered(ip string, bootstrap_connection bool) bool {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	if bootstrap_connection {
		_, found := manager.BootstrapPeers[ip]
		return found
	}

	_, found := manager.LivePeers[ip]

	return found || manager.Dialing[ip]
}

func (manager *PeersManager) readyToDial(ip string, now time.Time) bool {
	manager.backoffsMutex.Lock()
	defer manager.backoffsMutex.Unlock()

	state, found := manager.backoffs[ip]

	return !found || now.After(state.next)
}

// Failed doubles the delay before ip is dialed again.
func (manager *PeersManager) Failed(ip string) {
	manager.backoffsMutex.Lock()
	defer manager.backoffsMutex.Unlock()

	state, found := manager.backoffs[ip]
	if !found {
		state = &backoff{delay: reconnectBackoffMin}
		manager.backoffs[ip] = state
	} else {
		state.delay = min(state.delay*2, reconnectBackoffMax)
	}

	state.next = time.Now().Add(state.delay)
}

func (manager *PeersManager) Succeeded(ip string) {
	manager.backoffsMutex.Lock()
	delete(manager.backoffs, ip)
	manager.backoffsMutex.Unlock()
}

// Backoff returns the current reconnect delay for ip, zero when none.
func (manager *PeersManager) Backoff(ip string) time.Duration {
	manager.backoffsMutex.Lock()
	defer manager.backoffsMutex.Unlock()

	if state, found := manager.backoffs[ip]; found {
		return state.delay
	}

	return 0
}

func (manager *PeersManager) MaintainLivePeersCount(peer_count uint) {
	if peer_count >= manager.P2PServer.Config.P2P.MaxLivePeers {
		return
	}

	remaining_slots := manager.P2PServer.Config.P2P.MaxLivePeers - peer_count
	for _, ip := range manager.candidates(false) {
		if remaining_slots == 0 {
			break
		}

		if err := manager.ConnectToNode(ip, false); err != nil {
			continue
		}

		remaining_slots--
	}
}

// MaintainBootstrapPeersCount only dials while there is something to pull.
func (manager *PeersManager) MaintainBootstrapPeersCount(peer_count uint) {
	if peer_count >= manager.P2PServer.Config.P2P.MaxBootstrapPeers || !manager.P2PServer.BootstrapDataManager.HasWork() {
		return
	}

	remaining_slots := manager.P2PServer.Config.P2P.MaxBootstrapPeers - peer_count
	for _, ip := range manager.candidates(true) {
		if remaining_slots == 0 {
			break
		}

		if err := manager.ConnectToNode(ip, true); err != nil {
			continue
		}

		remaining_slots--
	}
}

func (manager *PeersManager) MaintainPeersCount() {
	defer manager.P2PServer.wg.Done()

	ticker := time.NewTicker(maintainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-manager.P2PServer.stop:
			return
		case <-ticker.C:
		}

		live_peers_count, bootstrap_peers_count := manager.GetPeersCount()
		manager.Logger.Debugf("Connected to %s live peers and %s bootstrap peers", humanize.Comma(int64(live_peers_count)), humanize.Comma(int64(bootstrap_peers_count)))

		manager.DropIdlePeers()
		manager.MaintainLivePeersCount(live_peers_count)
		manager.MaintainBootstrapPeersCount(bootstrap_peers_count)
	}
}

func (manager *PeersManager) DropIdlePeers() {
	cutoff := time.Now().Add(-manager.P2PServer.Config.P2P.IdleTimeout)
	for _, peer := range manager.GetLivePeers() {
		if peer.LastSeen().Before(cutoff) {
			manager.Logger.Infof("Dropping idle peer %s", peer.Alias)
			peer.Conn.Close()
		}
	}
}

// ConnectToNode dials ip and hands the connection to the p2p server. It does
// nothing when we are already peered with ip.
func (manager *PeersManager) ConnectToNode(ip string, bootstrap_connection bool) error {
	if manager.P2PServer.stopped() {
		return errors.New("p2p server is stopped")
	}

	if manager.isPeered(ip, bootstrap_connection) {
		return nil
	}

	if !bootstrap_connection {
		manager.PeersMutex.Lock()
		manager.Dialing[ip] = true
		manager.PeersMutex.Unlock()
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.Dial("tcp", ip)

	if !bootstrap_connection {
		manager.PeersMutex.Lock()
		delete(manager.Dialing, ip)
		manager.PeersMutex.Unlock()
	}

	if err != nil {
		manager.Logger.Debugf("Couldn't initiate connection with %s: %s", ip, err)
		manager.Failed(ip)

		return err
	}

	manager.P2PServer.wg.Add(1)
	go func() {
		defer manager.P2PServer.wg.Done()
		manager.P2PServer.HandleConnection(conn, false, bootstrap_connection)
	}()

	return nil
}

func (manager *PeersManager) Start() {
	for _, ip := range manager.P2PServer.Config.P2P.TrustedNodes {
		manager.ConnectToNode(ip, false)
	}

	manager.P2PServer.wg.Add(1)
	go manager.MaintainPeersCount()
}

// RegisterPeer returns false when a connection to the same endpoint exists.
func (manager *PeersManager) RegisterPeer(peer *networking.PeerNode) bool {
	remoteIP := peer.Conn.RemoteAddr().String()
	manager.Logger.Debugf("Registering peer %s bootstrap_connection: %t", peer.Alias, peer.BootstrapConnection)

	manager.PeersMutex.Lock()
	defer manager.PeersMutex.Unlock()

	peers := manager.LivePeers
	if peer.BootstrapConnection {
		peers = manager.BootstrapPeers
	}

	if _, found := peers[remoteIP]; found {
		manager.Logger.Debugf("Tried to register a peer that was already registered: %s", peer.Alias)
		return false
	}

	peers[remoteIP] = peer

	return true
}

func (manager *PeersManager) UnregisterPeer(peer *networking.PeerNode) {
	remoteIP := peer.Conn.RemoteAddr().String()
	manager.Logger.Debugf("Unregister peer %s bootstrap_connection: %t", peer.Alias, peer.BootstrapConnection)

	manager.PeersMutex.Lock()
	defer manager.PeersMutex.Unlock()

	if peer.BootstrapConnection {
		if manager.BootstrapPeers[remoteIP] == peer {
			delete(manager.BootstrapPeers, remoteIP)
		}

		return
	}

	if manager.LivePeers[remoteIP] == peer {
		delete(manager.LivePeers, remoteIP)
		delete(manager.Telemetry, remoteIP)
	}

	for account, channel := range manager.Representatives {
		if channel == peer {
			delete(manager.Representatives, account)
		}
	}
}

func (manager *PeersManager) GetLivePeersCount() uint {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	return uint(len(manager.LivePeers))
}

func (manager *PeersManager) GetBootstrapPeersCount() uint {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	return uint(len(manager.BootstrapPeers))
}

func (manager *PeersManager) GetPeersCount() (uint, uint) {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	return uint(len(manager.LivePeers)), uint(len(manager.BootstrapPeers))
}

func (manager *PeersManager) GetLivePeers() []*networking.PeerNode {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	peers := make([]*networking.PeerNode, 0, len(manager.LivePeers))
	for _, peer := range manager.LivePeers {
		peers = append(peers, peer)
	}

	return peers
}

func (manager *PeersManager) GetSubsetOfLivePeers() int {
	return int(math.Ceil(math.Sqrt(float64(manager.GetLivePeersCount()))))
}

// Fanout picks a random square-root sized subset of live peers.
func (manager *PeersManager) Fanout() []*networking.PeerNode {
	peers := manager.GetLivePeers()
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	return peers[:min(len(peers), manager.GetSubsetOfLivePeers())]
}

// KeepalivePeers returns up to eight random live endpoints to advertise.
func (manager *PeersManager) KeepalivePeers() []netip.AddrPort {
	var endpoints []netip.AddrPort
	for _, peer := range manager.Fanout() {
		endpoint, err := netip.ParseAddrPort(peer.Conn.RemoteAddr().String())
		if err == nil {
			endpoints = append(endpoints, endpoint)
		}
	}

	if len(endpoints) > packets.KeepalivePeers {
		endpoints = endpoints[:packets.KeepalivePeers]
	}

	return endpoints
}

func (manager *PeersManager) RecordRepresentative(account types.Address, peer *networking.PeerNode) {
	manager.PeersMutex.Lock()
	defer manager.PeersMutex.Unlock()

	if _, found := manager.LivePeers[peer.Conn.RemoteAddr().String()]; found {
		manager.Representatives[account] = peer
	}
}

func (manager *PeersManager) GetRepresentatives() []*networking.PeerNode {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	seen := make(map[*networking.PeerNode]bool)
	peers := make([]*networking.PeerNode, 0, len(manager.Representatives))
	for _, peer := range manager.Representatives {
		if !seen[peer] {
			seen[peer] = true
			peers = append(peers, peer)
		}
	}

	return peers
}

func (manager *PeersManager) SetTelemetry(peer *networking.PeerNode, telemetry *TelemetryData) {
	manager.PeersMutex.Lock()
	defer manager.PeersMutex.Unlock()

	manager.Telemetry[peer.Conn.RemoteAddr().String()] = telemetry
}

func (manager *PeersManager) GetTelemetry(ip string) (*TelemetryData, bool) {
	manager.PeersMutex.RLock()
	defer manager.PeersMutex.RUnlock()

	telemetry, found := manager.Telemetry[ip]

	return telemetry, found
}

func (manager *PeersManager) LogPacket(peer *networking.PeerNode, header packets.Header, incoming bool) {
	direction := "OUT"
	if incoming {
		direction = "IN"
	}

	manager.Logger.Tracef("[%s] %s %s %+v", direction, peer.Alias, header.MessageType, header)
}
