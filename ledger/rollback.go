package ledger

import (
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/types"
)

// Rollback removes hash and every block above it on its account chain, newest
// first. Receives of a rolled back send are rolled back first on the
// receiving chain. The removed blocks are returned in removal order.
func (ledger *Ledger) Rollback(txn *database.Transaction, hash types.Hash) ([]*types.Block, error) {
	var list []*types.Block
	err := ledger.rollback(txn, hash, &list)

	return list, err
}

func (ledger *Ledger) rollback(txn *database.Transaction, hash types.Hash, list *[]*types.Block) error {
	target, err := txn.GetBlock(hash)
	if err != nil {
		return errors.Wrapf(err, "rollback target %s", hash)
	}

	account := target.Sideband.Account
	height := target.Sideband.Height

	for {
		exists, err := txn.BlockExists(hash)
		if err != nil {
			return err
		}

		if !exists {
			return nil
		}

		info, err := txn.GetAccountInfo(account)
		if err != nil {
			return errors.Wrapf(err, "account %s", account)
		}

		if info.ConfirmationHeight >= height {
			return errors.Wrapf(ErrRollbackConfirmed, "%s at height %d, confirmed up to %d", hash, height, info.ConfirmationHeight)
		}

		head, err := txn.GetBlock(info.Head)
		if err != nil {
			return errors.Wrapf(err, "head %s", info.Head)
		}

		if err := ledger.undo(txn, head, info, list); err != nil {
			return err
		}

		*list = append(*list, head)

		ledger.Stats.Inc("rollback", head.Type.String())
	}
}

// undo reverts a single account head.
func (ledger *Ledger) undo(txn *database.Transaction, block *types.Block, info *types.AccountInfo, list *[]*types.Block) error {
	hash := block.Hash()
	account := block.Sideband.Account

	var previous *types.Block
	var previous_balance types.Amount
	var previous_rep types.Address

	if !block.Previous.IsZero() {
		var err error
		previous, err = txn.GetBlock(block.Previous)
		if err != nil {
			return errors.Wrapf(err, "previous %s", block.Previous)
		}

		previous_balance = previous.Sideband.Balance

		previous_rep, err = ledger.Representative(txn, block.Previous)
		if err != nil {
			return err
		}
	}

	balance := block.Sideband.Balance

	switch block.Type {
	case types.BLOCK_TYPE_SEND:
		if err := ledger.unsend(txn, block.Link.AsAddress(), hash, list); err != nil {
			return err
		}

		if err := txn.AddRepresentation(info.Representative, previous_balance.Sub(balance)); err != nil {
			return err
		}
	case types.BLOCK_TYPE_RECEIVE, types.BLOCK_TYPE_OPEN:
		amount := balance.Sub(previous_balance)
		if err := ledger.restorePending(txn, account, block.Source(), amount); err != nil {
			return err
		}

		if err := txn.SubRepresentation(info.Representative, amount); err != nil {
			return err
		}
	case types.BLOCK_TYPE_CHANGE:
		if err := txn.SubRepresentation(block.Representative, balance); err != nil {
			return err
		}

		if err := txn.AddRepresentation(previous_rep, previous_balance); err != nil {
			return err
		}
	case types.BLOCK_TYPE_STATE:
		if err := txn.SubRepresentation(block.Representative, balance); err != nil {
			return err
		}

		if previous != nil {
			if err := txn.AddRepresentation(previous_rep, previous_balance); err != nil {
				return err
			}
		}

		switch {
		case balance.Cmp(previous_balance) < 0:
			if err := ledger.unsend(txn, block.Link.AsAddress(), hash, list); err != nil {
				return err
			}
		case !block.Link.IsZero() && !ledger.IsEpochLink(block.Link):
			if err := ledger.restorePending(txn, account, block.Link.AsHash(), balance.Sub(previous_balance)); err != nil {
				return err
			}
		}
	}

	if previous == nil {
		if err := txn.DeleteAccountInfo(account); err != nil {
			return err
		}
	} else {
		restored := &types.AccountInfo{
			Head:               block.Previous,
			OpenBlock:          info.OpenBlock,
			Representative:     previous_rep,
			Balance:            previous_balance,
			Modified:           previous.Sideband.Timestamp,
			BlockCount:         info.BlockCount - 1,
			ConfirmationHeight: info.ConfirmationHeight,
			Epoch:              previous.Sideband.Epoch,
		}

		if err := txn.PutAccountInfo(account, restored); err != nil {
			return err
		}

		if err := txn.ClearSuccessor(block.Previous); err != nil {
			return err
		}
	}

	return txn.DeleteBlock(hash)
}

// unsend removes the pending row of a send, rolling back the destination
// chain until the send is unreceived again.
func (ledger *Ledger) unsend(txn *database.Transaction, destination types.Address, hash types.Hash, list *[]*types.Block) error {
	key := types.PendingKey{Account: destination, Hash: hash}

	for {
		exists, err := txn.PendingExists(key)
		if err != nil {
			return err
		}

		if exists {
			return txn.DeletePending(key)
		}

		latest, err := ledger.Latest(txn, destination)
		if err != nil {
			return err
		}

		if latest.IsZero() {
			return errors.Errorf("send %s is neither pending nor received by %s", hash, destination)
		}

		if err := ledger.rollback(txn, latest, list); err != nil {
			return err
		}
	}
}

func (ledger *Ledger) restorePending(txn *database.Transaction, account types.Address, source types.Hash, amount types.Amount) error {
	send, err := txn.GetBlock(source)
	if err != nil {
		return errors.Wrapf(err, "source %s", source)
	}

	pending := types.PendingInfo{
		Source: send.Sideband.Account,
		Amount: amount,
		Epoch:  send.Sideband.Epoch,
	}

	return txn.PutPending(types.PendingKey{Account: account, Hash: source}, pending)
}
