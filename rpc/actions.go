package rpc

import (
	"context"
	"strconv"

	json "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/work"
)

var (
	ErrAccountNotFound  = errors.New("Account not found")
	ErrBlockNotFound    = errors.New("Block not found")
	ErrBlockNotAccepted = errors.New("Block was not added to the ledger")
	ErrBadWork          = errors.New("Block work is less than threshold")
	ErrUnavailable      = errors.New("RPC control is disabled")
)

const defaultUncheckedCount = 1000

func (srv *HTTPRPCServer) registerActions() {
	srv.actions = map[string]actionHandler{
		"version":              srv.handleVersion,
		"block_count":          srv.handleBlockCount,
		"account_info":         srv.handleAccountInfo,
		"account_balance":      srv.handleAccountBalance,
		"block_info":           srv.handleBlockInfo,
		"process":              srv.handleProcess,
		"confirmation_history": srv.handleConfirmationHistory,
		"active_difficulty":    srv.handleActiveDifficulty,
		"work_generate":        srv.handleWorkGenerate,
		"work_cancel":          srv.handleWorkCancel,
		"peers":                srv.handlePeers,
		"unchecked":            srv.handleUnchecked,
		"bootstrap_lazy":       srv.handleBootstrapLazy,
	}
}

func decode(body []byte, request interface{}) error {
	return errors.Wrap(json.Unmarshal(body, request), "decoding request")
}

func uintString(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func (srv *HTTPRPCServer) handleVersion(ctx context.Context, body []byte) (interface{}, error) {
	txn := srv.Ledger.Store.TxBeginRead()
	defer txn.Discard()

	store_version, err := txn.GetVersion()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"rpc_version":      "1",
		"store_version":    uintString(uint64(store_version)),
		"protocol_version": uintString(uint64(params.PROTOCOL_VERSION)),
		"node_vendor":      "gnano " + uintString(uint64(params.VERSION_MAJOR)) + "." + uintString(uint64(params.VERSION_MINOR)),
		"network":          srv.Ledger.Params.Network.String(),
	}, nil
}

func (srv *HTTPRPCServer) handleBlockCount(ctx context.Context, body []byte) (interface{}, error) {
	txn := srv.Ledger.Store.TxBeginRead()
	defer txn.Discard()

	count, err := txn.BlockCount()
	if err != nil {
		return nil, err
	}

	unchecked, err := txn.UncheckedCount()
	if err != nil {
		return nil, err
	}

	var cemented uint64
	err = txn.IterateAccounts(func(account types.Address, info *types.AccountInfo) bool {
		cemented += info.ConfirmationHeight
		return true
	})
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"count":     uintString(count),
		"unchecked": uintString(unchecked),
		"cemented":  uintString(cemented),
	}, nil
}

type accountRequest struct {
	Account string `json:"account"`
}

func (request accountRequest) address() (types.Address, error) {
	address, err := types.DecodeNanoAddress(request.Account)
	if err != nil {
		return types.Address{}, errors.Wrap(err, "Bad account number")
	}

	return *address, nil
}

func (srv *HTTPRPCServer) handleAccountInfo(ctx context.Context, body []byte) (interface{}, error) {
	var request accountRequest
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	account, err := request.address()
	if err != nil {
		return nil, err
	}

	txn := srv.Ledger.Store.TxBeginRead()
	defer txn.Discard()

	info, err := txn.GetAccountInfo(account)
	if err == database.ErrNotFound {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, err
	}

	return map[string]string{
		"frontier":            info.Head.String(),
		"open_block":          info.OpenBlock.String(),
		"representative":      info.Representative.ToNanoAddress(),
		"balance":             info.Balance.String(),
		"modified_timestamp":  uintString(info.Modified),
		"block_count":         uintString(info.BlockCount),
		"confirmation_height": uintString(info.ConfirmationHeight),
		"account_version":     uintString(uint64(info.Epoch)),
	}, nil
}

func (srv *HTTPRPCServer) handleAccountBalance(ctx context.Context, body []byte) (interface{}, error) {
	var request accountRequest
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	account, err := request.address()
	if err != nil {
		return nil, err
	}

	txn := srv.Ledger.Store.TxBeginRead()
	defer txn.Discard()

	var balance types.Amount
	info, err := txn.GetAccountInfo(account)
	switch {
	case err == nil:
		balance = info.Balance
	case err != database.ErrNotFound:
		return nil, err
	}

	var pending types.Amount
	err = txn.IteratePending(account, func(key types.PendingKey, entry types.PendingInfo) bool {
		pending = pending.Add(entry.Amount)
		return true
	})
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"balance": balance.String(),
		"pending": pending.String(),
	}, nil
}

type hashRequest struct {
	Hash types.Hash `json:"hash"`
}

type blockInfoResponse struct {
	BlockAccount   string       `json:"block_account"`
	Amount         string       `json:"amount"`
	Balance        string       `json:"balance"`
	Height         string       `json:"height"`
	LocalTimestamp string       `json:"local_timestamp"`
	Confirmed      string       `json:"confirmed"`
	Contents       *types.Block `json:"contents"`
}

func (srv *HTTPRPCServer) handleBlockInfo(ctx context.Context, body []byte) (interface{}, error) {
	var request hashRequest
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	txn := srv.Ledger.Store.TxBeginRead()
	defer txn.Discard()

	block, err := txn.GetBlock(request.Hash)
	if err == database.ErrNotFound {
		return nil, ErrBlockNotFound
	}

	if err != nil {
		return nil, err
	}

	amount, err := srv.Ledger.Amount(txn, request.Hash)
	if err != nil {
		return nil, err
	}

	confirmed, err := srv.Ledger.BlockConfirmed(txn, request.Hash)
	if err != nil {
		return nil, err
	}

	return blockInfoResponse{
		BlockAccount:   block.Sideband.Account.ToNanoAddress(),
		Amount:         amount.String(),
		Balance:        block.Sideband.Balance.String(),
		Height:         uintString(block.Sideband.Height),
		LocalTimestamp: uintString(block.Sideband.Timestamp),
		Confirmed:      strconv.FormatBool(confirmed),
		Contents:       block,
	}, nil
}

// handleProcess queues the block and waits for the processor to drain, then
// reports whether it made it into the ledger.
func (srv *HTTPRPCServer) handleProcess(ctx context.Context, body []byte) (interface{}, error) {
	var request struct {
		Block *types.Block `json:"block"`
	}
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	processor := srv.collaborators.BlockProcessor
	if processor == nil || request.Block == nil {
		return nil, ErrBlockNotAccepted
	}

	block := request.Block
	if work.BlockDifficulty(block) < srv.Ledger.Params.PublishThreshold {
		return nil, ErrBadWork
	}

	processor.Add(block, blockprocessor.ORIGIN_LOCAL, nil)
	processor.Flush()

	if !srv.Ledger.BlockExists(block.Hash()) {
		return nil, ErrBlockNotAccepted
	}

	return map[string]string{"hash": block.Hash().String()}, nil
}

type confirmationEntry struct {
	Hash         string `json:"hash"`
	Duration     string `json:"duration"`
	Time         string `json:"time"`
	Tally        string `json:"tally"`
	Blocks       string `json:"blocks"`
	Voters       string `json:"voters"`
	RequestCount string `json:"request_count"`
	Type         string `json:"confirmation_type"`
}

func (srv *HTTPRPCServer) handleConfirmationHistory(ctx context.Context, body []byte) (interface{}, error) {
	var request struct {
		Hash *types.Hash `json:"hash"`
	}
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	elections := srv.collaborators.Elections
	if elections == nil {
		return nil, ErrUnavailable
	}

	confirmations := make([]confirmationEntry, 0)
	for _, status := range elections.ListRecentlyConfirmed() {
		hash := status.Winner.Hash()
		if request.Hash != nil && *request.Hash != hash {
			continue
		}

		confirmations = append(confirmations, confirmationEntry{
			Hash:         hash.String(),
			Duration:     uintString(uint64(status.ElectionDuration.Milliseconds())),
			Time:         uintString(uint64(status.ElectionEnd.UnixMilli())),
			Tally:        status.Tally.String(),
			Blocks:       strconv.Itoa(status.BlockCount),
			Voters:       strconv.Itoa(status.VoterCount),
			RequestCount: uintString(uint64(status.ConfirmationRequestCount)),
			Type:         status.Type.String(),
		})
	}

	return map[string]interface{}{"confirmations": confirmations}, nil
}

func (srv *HTTPRPCServer) handleActiveDifficulty(ctx context.Context, body []byte) (interface{}, error) {
	minimum := srv.Ledger.Params.PublishThreshold
	current := minimum
	if elections := srv.collaborators.Elections; elections != nil {
		current = elections.ActiveDifficulty()
	}

	return map[string]string{
		"network_minimum": types.Work(minimum).ToHexString(),
		"network_current": types.Work(current).ToHexString(),
		"multiplier":      strconv.FormatFloat(work.ToMultiplier(current, minimum), 'f', -1, 64),
	}, nil
}

type difficultyRequest struct {
	Hash       types.Hash `json:"hash"`
	Difficulty string     `json:"difficulty"`
}

func (request difficultyRequest) difficulty(minimum uint64) (uint64, error) {
	if request.Difficulty == "" {
		return minimum, nil
	}

	difficulty, err := strconv.ParseUint(request.Difficulty, 16, 64)
	if err != nil {
		return 0, errors.Wrap(err, "Bad difficulty")
	}

	return max(difficulty, minimum), nil
}

func (srv *HTTPRPCServer) handleWorkGenerate(ctx context.Context, body []byte) (interface{}, error) {
	pool := srv.collaborators.WorkPool
	if !srv.Config.EnableControl || pool == nil {
		return nil, ErrUnavailable
	}

	var request difficultyRequest
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	minimum := srv.Ledger.Params.PublishThreshold
	difficulty, err := request.difficulty(minimum)
	if err != nil {
		return nil, err
	}

	nonce, err := pool.GenerateContext(ctx, request.Hash, difficulty)
	if err != nil {
		return nil, err
	}

	achieved := work.Difficulty(request.Hash, nonce)

	return map[string]string{
		"hash":       request.Hash.String(),
		"work":       nonce.ToHexString(),
		"difficulty": types.Work(achieved).ToHexString(),
		"multiplier": strconv.FormatFloat(work.ToMultiplier(achieved, minimum), 'f', -1, 64),
	}, nil
}

func (srv *HTTPRPCServer) handleWorkCancel(ctx context.Context, body []byte) (interface{}, error) {
	pool := srv.collaborators.WorkPool
	if !srv.Config.EnableControl || pool == nil {
		return nil, ErrUnavailable
	}

	var request hashRequest
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	pool.Cancel(request.Hash)

	return map[string]string{"success": ""}, nil
}

func (srv *HTTPRPCServer) handlePeers(ctx context.Context, body []byte) (interface{}, error) {
	peers := make(map[string]string)
	if srv.collaborators.Peers != nil {
		for _, peer := range srv.collaborators.Peers.GetLivePeers() {
			node_id := ""
			if peer.NodeID != nil {
				node_id = peer.NodeID.ToNodeAddress()
			}

			peers[peer.Conn.RemoteAddr().String()] = node_id
		}
	}

	return map[string]interface{}{"peers": peers}, nil
}

func (srv *HTTPRPCServer) handleUnchecked(ctx context.Context, body []byte) (interface{}, error) {
	var request struct {
		Count string `json:"count"`
	}
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	count := uint64(defaultUncheckedCount)
	if request.Count != "" {
		parsed, err := strconv.ParseUint(request.Count, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "Bad count")
		}

		count = parsed
	}

	txn := srv.Ledger.Store.TxBeginRead()
	defer txn.Discard()

	blocks := make(map[string]*types.Block)
	err := txn.IterateUnchecked(func(dependency types.Hash, info *types.UncheckedInfo) bool {
		if uint64(len(blocks)) >= count {
			return false
		}

		blocks[info.Block.Hash().String()] = info.Block

		return true
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"blocks": blocks}, nil
}

func (srv *HTTPRPCServer) handleBootstrapLazy(ctx context.Context, body []byte) (interface{}, error) {
	bootstrapper := srv.collaborators.Bootstrapper
	if bootstrapper == nil {
		return nil, ErrUnavailable
	}

	var request hashRequest
	if err := decode(body, &request); err != nil {
		return nil, err
	}

	bootstrapper.BootstrapLazy(request.Hash)

	return map[string]string{"started": "1"}, nil
}
