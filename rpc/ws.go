package rpc

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/active"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/types"
)

const (
	TOPIC_CONFIRMATION = "confirmation"

	pingPeriod   = 30 * time.Second
	writeTimeout = 10 * time.Second
)

type subscriber struct {
	id       string
	conn     *websocket.Conn
	messages chan []byte

	confirmations atomic.Bool
}

// WSServer pushes confirmed elections to websocket clients that subscribed
// to the confirmation topic.
type WSServer struct {
	Config   *WSConfig
	Ledger   *ledger.Ledger
	Upgrader websocket.Upgrader

	subscribers      map[string]*subscriber
	subscribersMutex sync.RWMutex

	wg     sync.WaitGroup
	logger *logrus.Entry
}

func NewWSServer(cfg *WSConfig, ledger *ledger.Ledger, logger *logrus.Entry) *WSServer {
	return &WSServer{
		Config: cfg,
		Ledger: ledger,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]*subscriber),
		logger:      logger,
	}
}

type wsRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Ack    bool   `json:"ack"`
}

type wsMessage struct {
	Topic   string      `json:"topic,omitempty"`
	Ack     string      `json:"ack,omitempty"`
	Time    string      `json:"time"`
	Message interface{} `json:"message,omitempty"`
}

func now() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func (server *WSServer) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := server.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		server.logger.Debugf("Websocket upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{
		id:       uuid.New().String(),
		conn:     conn,
		messages: make(chan []byte, server.Config.SubscriberBuffer),
	}

	server.subscribersMutex.Lock()
	server.subscribers[sub.id] = sub
	server.subscribersMutex.Unlock()

	server.logger.Debugf("Websocket subscriber %s connected from %s", sub.id, r.RemoteAddr)

	server.wg.Add(1)
	go server.readLoop(sub)

	server.writeLoop(sub)
}

func (server *WSServer) release(id string) {
	server.subscribersMutex.Lock()
	defer server.subscribersMutex.Unlock()

	if sub, found := server.subscribers[id]; found {
		delete(server.subscribers, id)
		close(sub.messages)
	}
}

func (server *WSServer) readLoop(sub *subscriber) {
	defer server.wg.Done()
	defer server.release(sub.id)

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var request wsRequest
		if err := json.Unmarshal(data, &request); err != nil {
			server.logger.Debugf("Bad websocket request from %s: %s", sub.id, err)
			continue
		}

		if request.Topic != TOPIC_CONFIRMATION {
			continue
		}

		switch request.Action {
		case "subscribe":
			sub.confirmations.Store(true)
		case "unsubscribe":
			sub.confirmations.Store(false)
		default:
			continue
		}

		if request.Ack {
			ack, _ := json.Marshal(wsMessage{Ack: request.Action, Time: now()})
			server.send(sub, ack)
		}
	}
}

func (server *WSServer) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-sub.messages:
			if !ok {
				return
			}

			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				sub.conn.Close()
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.conn.Close()
				return
			}
		}
	}
}

// send drops the message when the subscriber is not keeping up.
func (server *WSServer) send(sub *subscriber, message []byte) {
	server.subscribersMutex.RLock()
	defer server.subscribersMutex.RUnlock()

	if _, found := server.subscribers[sub.id]; !found {
		return
	}

	select {
	case sub.messages <- message:
	default:
		server.logger.Tracef("Dropping websocket message for slow subscriber %s", sub.id)
	}
}

func (server *WSServer) confirmationSubscribers() []*subscriber {
	server.subscribersMutex.RLock()
	defer server.subscribersMutex.RUnlock()

	var subs []*subscriber
	for _, sub := range server.subscribers {
		if sub.confirmations.Load() {
			subs = append(subs, sub)
		}
	}

	return subs
}

type confirmationMessage struct {
	Account          string       `json:"account"`
	Amount           string       `json:"amount"`
	Hash             string       `json:"hash"`
	ConfirmationType string       `json:"confirmation_type"`
	Block            *types.Block `json:"block"`
}

// ObserveElection is registered as an election observer.
func (server *WSServer) ObserveElection(status active.ElectionStatus) {
	subs := server.confirmationSubscribers()
	if len(subs) == 0 {
		return
	}

	hash := status.Winner.Hash()
	txn := server.Ledger.Store.TxBeginRead()
	account, err := server.Ledger.Account(txn, hash)
	if err != nil {
		txn.Discard()
		server.logger.Debugf("Error loading account of confirmed block %s: %s", hash, err)
		return
	}

	amount, err := server.Ledger.Amount(txn, hash)
	txn.Discard()
	if err != nil {
		server.logger.Debugf("Error loading amount of confirmed block %s: %s", hash, err)
		return
	}

	message, err := json.Marshal(wsMessage{
		Topic: TOPIC_CONFIRMATION,
		Time:  now(),
		Message: confirmationMessage{
			Account:          account.ToNanoAddress(),
			Amount:           amount.String(),
			Hash:             hash.String(),
			ConfirmationType: status.Type.String(),
			Block:            status.Winner,
		},
	})
	if err != nil {
		server.logger.Errorf("Error encoding confirmation: %s", err)
		return
	}

	for _, sub := range subs {
		server.send(sub, message)
	}
}

func (server *WSServer) SubscriberCount() int {
	server.subscribersMutex.RLock()
	defer server.subscribersMutex.RUnlock()

	return len(server.subscribers)
}

// Shutdown disconnects every subscriber and waits for their readers.
func (server *WSServer) Shutdown() {
	server.subscribersMutex.RLock()
	for _, sub := range server.subscribers {
		sub.conn.Close()
	}
	server.subscribersMutex.RUnlock()

	server.wg.Wait()
}
