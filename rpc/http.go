// Package rpc serves the node's JSON action API over HTTP and pushes
// confirmations to websocket subscribers.
package rpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/active"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/types"
)

const maxRequestSize = 1 << 20

var ErrUnknownAction = errors.New("Unknown command")

type BlockProcessor interface {
	Add(block *types.Block, origin blockprocessor.Origin, channel types.Channel) bool
	Flush()
}

type Elections interface {
	ListRecentlyConfirmed() []active.ElectionStatus
	ActiveDifficulty() uint64
}

type WorkPool interface {
	GenerateContext(ctx context.Context, root types.Hash, difficulty uint64) (types.Work, error)
	Cancel(root types.Hash)
}

type Peers interface {
	GetLivePeers() []*networking.PeerNode
}

type Bootstrapper interface {
	BootstrapLazy(hash types.Hash)
}

// Collaborators may be left nil, actions needing a missing one fail.
type Collaborators struct {
	BlockProcessor BlockProcessor
	Elections      Elections
	WorkPool       WorkPool
	Peers          Peers
	Bootstrapper   Bootstrapper
}

type actionHandler func(ctx context.Context, body []byte) (interface{}, error)

type HTTPRPCServer struct {
	Config   *HTTPConfig
	WSConfig *WSConfig
	Server   *http.Server
	Ledger   *ledger.Ledger

	collaborators Collaborators
	actions       map[string]actionHandler

	WS *WSServer

	listener net.Listener
	wg       sync.WaitGroup
	logger   *logrus.Entry
}

func NewHTTPRPCServer(cfg *HTTPConfig, wsCfg *WSConfig, ledger *ledger.Ledger, logger *logrus.Entry) *HTTPRPCServer {
	server := &HTTPRPCServer{
		Config:   cfg,
		WSConfig: wsCfg,
		Ledger:   ledger,
		logger:   logger,
	}
	server.registerActions()

	router := mux.NewRouter()
	router.HandleFunc("/", server.Handle).Methods(http.MethodPost, http.MethodOptions)

	if wsCfg.Enabled {
		server.WS = NewWSServer(wsCfg, ledger, logger)
		router.HandleFunc("/ws", server.WS.Handle)
	}

	server.Server = &http.Server{
		Handler: router,
		Addr:    cfg.ListenAddr,

		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	return server
}

// SetCollaborators must be called before ValidateAndStart.
func (srv *HTTPRPCServer) SetCollaborators(collaborators Collaborators) {
	srv.collaborators = collaborators
}

type errorResponse struct {
	Error string `json:"error"`
}

func (srv *HTTPRPCServer) writeJSON(w http.ResponseWriter, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		srv.logger.Errorf("Error encoding response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Write(data)
}

func (srv *HTTPRPCServer) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	var request struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	handler, found := srv.actions[request.Action]
	if !found {
		srv.writeJSON(w, errorResponse{ErrUnknownAction.Error()})
		return
	}

	response, err := handler(r.Context(), body)
	if err != nil {
		srv.logger.Debugf("Action %s failed: %s", request.Action, err)
		srv.writeJSON(w, errorResponse{err.Error()})

		return
	}

	srv.writeJSON(w, response)
}

func (srv *HTTPRPCServer) ValidateAndStart() error {
	listener, err := net.Listen("tcp", srv.Config.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", srv.Config.ListenAddr)
	}

	srv.listener = listener
	srv.logger.Infof("Starting HTTP RPC Server on %s", listener.Addr())

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()

		if err := srv.Server.Serve(listener); err != http.ErrServerClosed {
			srv.logger.Errorf("Error serving HTTP Server: %s", err)
		}
	}()

	return nil
}

// ListenAddr is the bound address, useful when listening on port 0.
func (srv *HTTPRPCServer) ListenAddr() net.Addr {
	if srv.listener == nil {
		return nil
	}

	return srv.listener.Addr()
}

func (srv *HTTPRPCServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Hijacked websocket connections are not closed by Shutdown.
	if err := srv.Server.Shutdown(ctx); err != nil {
		srv.logger.Warnf("Error shutting down HTTP Server: %s", err)
	}

	if srv.WS != nil {
		srv.WS.Shutdown()
	}

	srv.wg.Wait()
}
