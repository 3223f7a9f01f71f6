package rpc_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"github.com/tundak/nano-node-sub003/active"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/ledger"
	"github.com/tundak/nano-node-sub003/rpc"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
	"github.com/tundak/nano-node-sub003/work"
)

// ledgerProcessor applies blocks straight to the ledger.
type ledgerProcessor struct {
	ledger *ledger.Ledger
}

func (processor *ledgerProcessor) Add(block *types.Block, origin blockprocessor.Origin, channel types.Channel) bool {
	txn := processor.ledger.Store.TxBeginWrite()
	defer txn.Discard()

	if _, err := processor.ledger.Process(txn, block); err != nil {
		return false
	}

	return txn.Commit() == nil
}

func (processor *ledgerProcessor) Flush() {}

type fixedPool struct {
	work      types.Work
	cancelled []types.Hash
}

func (pool *fixedPool) GenerateContext(ctx context.Context, root types.Hash, difficulty uint64) (types.Work, error) {
	return pool.work, nil
}

func (pool *fixedPool) Cancel(root types.Hash) {
	pool.cancelled = append(pool.cancelled, root)
}

type fakeElections struct {
	statuses []active.ElectionStatus
}

func (elections *fakeElections) ListRecentlyConfirmed() []active.ElectionStatus {
	return elections.statuses
}

func (elections *fakeElections) ActiveDifficulty() uint64 {
	return testutil.Params().PublishThreshold
}

func newServer(t *testing.T, control bool) (*rpc.HTTPRPCServer, *ledger.Ledger) {
	l := ledger.New(testutil.NewDatabase(t), testutil.Params(), stats.New(), utils.NewLogger("Ledger", false))

	cfg := rpc.DefaultHTTPConfig("127.0.0.1:0")
	cfg.EnableControl = control
	wsCfg := rpc.DefaultWSConfig()

	server := rpc.NewHTTPRPCServer(&cfg, &wsCfg, l, utils.NewLogger("RPC", false))

	return server, l
}

func call(t *testing.T, server *rpc.HTTPRPCServer, request interface{}) map[string]interface{} {
	t.Helper()

	body, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}

	recorder := httptest.NewRecorder()
	server.Handle(recorder, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status %d: %s", recorder.Code, recorder.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}

	return response
}

func TestBlockCountAndAccountInfo(t *testing.T) {
	server, l := newServer(t, false)

	count := call(t, server, map[string]string{"action": "block_count"})
	if count["count"] != "1" || count["cemented"] != "1" || count["unchecked"] != "0" {
		t.Fatalf("block_count %v", count)
	}

	info := call(t, server, map[string]string{"action": "account_info", "account": l.Params.Genesis.Account.ToNanoAddress()})
	if info["frontier"] != l.Params.Genesis.Hash.String() || info["balance"] != types.MaxAmount.String() || info["confirmation_height"] != "1" {
		t.Fatalf("account_info %v", info)
	}

	missing := call(t, server, map[string]string{"action": "account_info", "account": testutil.Key(1).Address.ToNanoAddress()})
	if missing["error"] != rpc.ErrAccountNotFound.Error() {
		t.Fatalf("account_info of an unopened account %v", missing)
	}

	unknown := call(t, server, map[string]string{"action": "no_such_action"})
	if unknown["error"] != rpc.ErrUnknownAction.Error() {
		t.Fatalf("unknown action %v", unknown)
	}
}

func TestProcessThenBlockInfo(t *testing.T) {
	server, l := newServer(t, false)
	server.SetCollaborators(rpc.Collaborators{BlockProcessor: &ledgerProcessor{ledger: l}})

	destination := testutil.Key(1)
	send := testutil.Send(testutil.GenesisKey(), l.Params.Genesis.Hash, destination.Address, types.MaxAmount.Sub(types.AmountFromUint64(10)))

	processed := call(t, server, map[string]interface{}{"action": "process", "block": send})
	if processed["hash"] != send.Hash().String() {
		t.Fatalf("process %v", processed)
	}

	info := call(t, server, map[string]interface{}{"action": "block_info", "hash": send.Hash()})
	if info["amount"] != "10" || info["height"] != "2" || info["confirmed"] != "false" {
		t.Fatalf("block_info %v", info)
	}

	balance := call(t, server, map[string]string{"action": "account_balance", "account": destination.Address.ToNanoAddress()})
	if balance["balance"] != "0" || balance["pending"] != "10" {
		t.Fatalf("account_balance %v", balance)
	}

	// Work below the threshold is refused before reaching the processor.
	lazy := *send
	lazy.Work = 0
	for work.BlockDifficulty(&lazy) >= testutil.Params().PublishThreshold {
		lazy.Work++
	}

	rejected := call(t, server, map[string]interface{}{"action": "process", "block": &lazy})
	if rejected["error"] != rpc.ErrBadWork.Error() {
		t.Fatalf("process with bad work %v", rejected)
	}
}

func TestWorkActionsNeedControl(t *testing.T) {
	server, _ := newServer(t, false)
	server.SetCollaborators(rpc.Collaborators{WorkPool: &fixedPool{}})

	response := call(t, server, map[string]string{"action": "work_generate", "hash": types.Hash{1}.String()})
	if response["error"] != rpc.ErrUnavailable.Error() {
		t.Fatalf("work_generate without control %v", response)
	}

	server, _ = newServer(t, true)
	pool := &fixedPool{work: 0x2a}
	server.SetCollaborators(rpc.Collaborators{WorkPool: pool})

	response = call(t, server, map[string]string{"action": "work_generate", "hash": types.Hash{1}.String()})
	if response["work"] != types.Work(0x2a).ToHexString() {
		t.Fatalf("work_generate %v", response)
	}

	call(t, server, map[string]string{"action": "work_cancel", "hash": types.Hash{1}.String()})
	if len(pool.cancelled) != 1 || pool.cancelled[0] != (types.Hash{1}) {
		t.Fatalf("cancelled %v", pool.cancelled)
	}
}

func TestConfirmationHistory(t *testing.T) {
	server, l := newServer(t, false)
	server.SetCollaborators(rpc.Collaborators{Elections: &fakeElections{statuses: []active.ElectionStatus{{
		Winner:           l.Params.Genesis.Block,
		Tally:            types.MaxAmount,
		ElectionDuration: 1500 * time.Millisecond,
		ElectionEnd:      time.Now(),
		BlockCount:       1,
		VoterCount:       1,
		Type:             active.STATUS_ACTIVE_CONFIRMED_QUORUM,
	}}}})

	response := call(t, server, map[string]string{"action": "confirmation_history"})
	confirmations, ok := response["confirmations"].([]interface{})
	if !ok || len(confirmations) != 1 {
		t.Fatalf("confirmation_history %v", response)
	}

	entry := confirmations[0].(map[string]interface{})
	if entry["hash"] != l.Params.Genesis.Hash.String() || entry["duration"] != "1500" || entry["confirmation_type"] != "active_quorum" {
		t.Fatalf("confirmation entry %v", entry)
	}

	difficulty := call(t, server, map[string]string{"action": "active_difficulty"})
	if difficulty["multiplier"] != "1" {
		t.Fatalf("active_difficulty %v", difficulty)
	}
}

func TestWebsocketConfirmations(t *testing.T) {
	server, l := newServer(t, false)
	if err := server.ValidateAndStart(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(server.Stop)

	url := "ws://" + server.ListenAddr().String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","topic":"confirmation","ack":true}`)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(ack), `"ack":"subscribe"`) {
		t.Fatalf("ack %s", ack)
	}

	server.WS.ObserveElection(active.ElectionStatus{Winner: l.Params.Genesis.Block, Type: active.STATUS_ACTIVE_CONFIRMED_QUORUM})

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}

	var message struct {
		Topic   string `json:"topic"`
		Message struct {
			Account string `json:"account"`
			Hash    string `json:"hash"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &message); err != nil {
		t.Fatal(err)
	}

	if message.Topic != rpc.TOPIC_CONFIRMATION || message.Message.Hash != l.Params.Genesis.Hash.String() || message.Message.Account != l.Params.Genesis.Account.ToNanoAddress() {
		t.Fatalf("confirmation message %s", data)
	}
}
