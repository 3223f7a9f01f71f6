package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/stats"
	"github.com/tundak/nano-node-sub003/types"
)

var ErrRollbackConfirmed = errors.New("refusing to roll back a confirmed block")

type ProcessResult byte

const (
	PROGRESS ProcessResult = iota
	BAD_SIGNATURE
	OLD
	NEGATIVE_SPEND
	FORK
	UNRECEIVABLE
	GAP_PREVIOUS
	GAP_SOURCE
	OPENED_BURN_ACCOUNT
	BALANCE_MISMATCH
	REPRESENTATIVE_MISMATCH
	BLOCK_POSITION
	INSUFFICIENT_WORK
)

var processResultNames = [...]string{
	PROGRESS:                "progress",
	BAD_SIGNATURE:           "bad_signature",
	OLD:                     "old",
	NEGATIVE_SPEND:          "negative_spend",
	FORK:                    "fork",
	UNRECEIVABLE:            "unreceivable",
	GAP_PREVIOUS:            "gap_previous",
	GAP_SOURCE:              "gap_source",
	OPENED_BURN_ACCOUNT:     "opened_burn_account",
	BALANCE_MISMATCH:        "balance_mismatch",
	REPRESENTATIVE_MISMATCH: "representative_mismatch",
	BLOCK_POSITION:          "block_position",
	INSUFFICIENT_WORK:       "insufficient_work",
}

func (result ProcessResult) String() string {
	if int(result) < len(processResultNames) {
		return processResultNames[result]
	}

	return "unknown"
}

// Subtype is what a block does to its account, state blocks included.
type Subtype byte

const (
	SUBTYPE_UNKNOWN Subtype = iota
	SUBTYPE_SEND
	SUBTYPE_RECEIVE
	SUBTYPE_OPEN
	SUBTYPE_CHANGE
	SUBTYPE_EPOCH
)

func (subtype Subtype) String() string {
	switch subtype {
	case SUBTYPE_SEND:
		return "send"
	case SUBTYPE_RECEIVE:
		return "receive"
	case SUBTYPE_OPEN:
		return "open"
	case SUBTYPE_CHANGE:
		return "change"
	case SUBTYPE_EPOCH:
		return "epoch"
	}

	return "unknown"
}

type ProcessReturn struct {
	Code            ProcessResult
	Account         types.Address
	Amount          types.Amount
	PendingAccount  types.Address
	PreviousBalance types.Amount
	Verified        types.SignatureVerification
	Subtype         Subtype
}

// Ledger applies and undoes blocks. It keeps no state of its own, every call
// works inside the transaction it is handed.
type Ledger struct {
	Store  *database.Database
	Params *params.NetworkParams
	Stats  *stats.Stats

	// Seconds since the epoch, stamped into sidebands and account info.
	Now func() uint64

	// Skip proof of work checks, for bulk imports of already validated blocks.
	SkipWorkValidation bool

	logger *logrus.Entry
}

func New(store *database.Database, network *params.NetworkParams, stats *stats.Stats, logger *logrus.Entry) *Ledger {
	return &Ledger{
		Store:  store,
		Params: network,
		Stats:  stats,
		Now:    func() uint64 { return uint64(time.Now().Unix()) },
		logger: logger,
	}
}

// RepresentativeWeight is Weight in a fresh read transaction. Store errors
// are logged and read as zero weight.
func (ledger *Ledger) RepresentativeWeight(representative types.Address) types.Amount {
	txn := ledger.Store.TxBeginRead()
	defer txn.Discard()

	weight, err := ledger.Weight(txn, representative)
	if err != nil {
		ledger.logger.Errorf("Error reading weight of %s: %s", representative, err)
	}

	return weight
}

// BlockExists checks for hash in a fresh read transaction.
func (ledger *Ledger) BlockExists(hash types.Hash) bool {
	txn := ledger.Store.TxBeginRead()
	defer txn.Discard()

	exists, err := txn.BlockExists(hash)
	if err != nil {
		ledger.logger.Errorf("Error looking up block %s: %s", hash, err)
	}

	return exists
}

func (ledger *Ledger) IsEpochLink(link types.Link) bool {
	return link == ledger.Params.EpochLink
}

// Weight is the total balance delegated to representative.
func (ledger *Ledger) Weight(txn *database.Transaction, representative types.Address) (types.Amount, error) {
	return txn.GetRepresentation(representative)
}

func (ledger *Ledger) Balance(txn *database.Transaction, hash types.Hash) (types.Amount, error) {
	if hash.IsZero() {
		return types.Amount{}, nil
	}

	block, err := txn.GetBlock(hash)
	if err != nil {
		return types.Amount{}, err
	}

	return block.Sideband.Balance, nil
}

// Amount is how much a block moved: sent, received or opened with.
func (ledger *Ledger) Amount(txn *database.Transaction, hash types.Hash) (types.Amount, error) {
	if hash == ledger.Params.Genesis.Hash {
		return ledger.Params.Genesis.Amount, nil
	}

	block, err := txn.GetBlock(hash)
	if err != nil {
		return types.Amount{}, err
	}

	previous, err := ledger.Balance(txn, block.Previous)
	if err != nil {
		return types.Amount{}, err
	}

	if block.Sideband.Balance.Cmp(previous) < 0 {
		return previous.Sub(block.Sideband.Balance), nil
	}

	return block.Sideband.Balance.Sub(previous), nil
}

// Account returns the owner of a stored block.
func (ledger *Ledger) Account(txn *database.Transaction, hash types.Hash) (types.Address, error) {
	block, err := txn.GetBlock(hash)
	if err != nil {
		return types.Address{}, err
	}

	return block.Sideband.Account, nil
}

func (ledger *Ledger) AccountInfo(txn *database.Transaction, account types.Address) (*types.AccountInfo, error) {
	return txn.GetAccountInfo(account)
}

// Representative returns who the account was delegating to as of hash, by
// walking back to the closest block that names a representative.
func (ledger *Ledger) Representative(txn *database.Transaction, hash types.Hash) (types.Address, error) {
	current := hash
	for !current.IsZero() {
		block, err := txn.GetBlock(current)
		if err != nil {
			return types.Address{}, err
		}

		if block.HasRepresentative() {
			return block.Representative, nil
		}

		current = block.Previous
	}

	return types.Address{}, nil
}

// Latest is the head of account, zero if the account isn't open.
func (ledger *Ledger) Latest(txn *database.Transaction, account types.Address) (types.Hash, error) {
	info, err := txn.GetAccountInfo(account)
	if err == database.ErrNotFound {
		return types.Hash{}, nil
	}

	if err != nil {
		return types.Hash{}, err
	}

	return info.Head, nil
}

// LatestRoot is the root the next block on account must reference.
func (ledger *Ledger) LatestRoot(txn *database.Transaction, account types.Address) (types.Hash, error) {
	head, err := ledger.Latest(txn, account)
	if err != nil || !head.IsZero() {
		return head, err
	}

	return types.Hash(account), nil
}

func (ledger *Ledger) IsSend(txn *database.Transaction, block *types.Block) (bool, error) {
	switch block.Type {
	case types.BLOCK_TYPE_SEND:
		return true, nil
	case types.BLOCK_TYPE_STATE:
	default:
		return false, nil
	}

	if block.Previous.IsZero() {
		return false, nil
	}

	previous, err := ledger.Balance(txn, block.Previous)
	if err != nil {
		return false, err
	}

	return block.Balance.Cmp(previous) < 0, nil
}

// BlockSource returns the send a block receives, zero when it receives nothing.
func (ledger *Ledger) BlockSource(txn *database.Transaction, block *types.Block) (types.Hash, error) {
	if block.IsLegacy() {
		return block.Source(), nil
	}

	if block.Link.IsZero() || ledger.IsEpochLink(block.Link) {
		return types.Hash{}, nil
	}

	send, err := ledger.IsSend(txn, block)
	if err != nil || send {
		return types.Hash{}, err
	}

	return block.Link.AsHash(), nil
}

func (ledger *Ledger) BlockConfirmed(txn *database.Transaction, hash types.Hash) (bool, error) {
	block, err := txn.GetBlock(hash)
	if err == database.ErrNotFound {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	info, err := txn.GetAccountInfo(block.Sideband.Account)
	if err != nil {
		return false, err
	}

	return block.Sideband.Height <= info.ConfirmationHeight, nil
}

// CouldFit reports whether every block the given one depends on is stored.
func (ledger *Ledger) CouldFit(txn *database.Transaction, block *types.Block) (bool, error) {
	if !block.Previous.IsZero() {
		exists, err := txn.BlockExists(block.Previous)
		if err != nil || !exists {
			return false, err
		}
	}

	source := block.Source()
	if block.Type == types.BLOCK_TYPE_STATE {
		var err error
		source, err = ledger.BlockSource(txn, block)
		if err != nil {
			return false, err
		}
	}

	if source.IsZero() {
		return true, nil
	}

	return txn.BlockExists(source)
}

// Successor returns the block occupying a qualified root: the open block of
// the account for a zero previous, otherwise whatever follows previous.
func (ledger *Ledger) Successor(txn *database.Transaction, root types.QualifiedRoot) (*types.Block, error) {
	var successor types.Hash

	if root.Previous().IsZero() {
		info, err := txn.GetAccountInfo(types.Address(root.Root()))
		if err == database.ErrNotFound {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		successor = info.OpenBlock
	} else {
		next, err := txn.GetSuccessor(root.Previous())
		if err == database.ErrNotFound {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		successor = next
	}

	if successor.IsZero() {
		return nil, nil
	}

	return txn.GetBlock(successor)
}

// Supply is everything held in balances plus everything in flight.
func (ledger *Ledger) Supply(txn *database.Transaction) (types.Amount, error) {
	var total types.Amount

	err := txn.IterateAccounts(func(_ types.Address, info *types.AccountInfo) bool {
		total = total.Add(info.Balance)
		return true
	})
	if err != nil {
		return types.Amount{}, err
	}

	err = txn.IterateUnreceived(func(_ types.PendingKey, info types.PendingInfo) bool {
		total = total.Add(info.Amount)
		return true
	})

	return total, err
}
