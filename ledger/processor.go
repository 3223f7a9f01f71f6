package ledger

import (
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/work"
)

type processor struct {
	ledger *Ledger
	txn    *database.Transaction
	block  *types.Block
	hash   types.Hash
	now    uint64

	result ProcessReturn
}

func (ledger *Ledger) Process(txn *database.Transaction, block *types.Block) (ProcessReturn, error) {
	return ledger.ProcessWithVerification(txn, block, types.SIGNATURE_UNKNOWN)
}

// ProcessWithVerification validates block and, when the result is PROGRESS,
// writes it. verified lets callers that already checked the signature skip
// the check. The returned error only reports store failures; rejections are
// in the result code.
func (ledger *Ledger) ProcessWithVerification(txn *database.Transaction, block *types.Block, verified types.SignatureVerification) (ProcessReturn, error) {
	if !txn.IsWrite() {
		return ProcessReturn{}, database.ErrReadOnlyTxn
	}

	p := &processor{
		ledger: ledger,
		txn:    txn,
		block:  block,
		hash:   block.Hash(),
		now:    ledger.Now(),
		result: ProcessReturn{Verified: verified},
	}

	var err error
	switch block.Type {
	case types.BLOCK_TYPE_SEND:
		err = p.send()
	case types.BLOCK_TYPE_RECEIVE:
		err = p.receive()
	case types.BLOCK_TYPE_OPEN:
		err = p.open()
	case types.BLOCK_TYPE_CHANGE:
		err = p.change()
	case types.BLOCK_TYPE_STATE:
		err = p.state()
	default:
		return ProcessReturn{}, errors.Wrapf(types.ErrInvalidBlockType, "processing %d", block.Type)
	}

	if err != nil {
		return p.result, err
	}

	ledger.Stats.Inc("ledger", p.result.Code.String())
	if p.result.Code == PROGRESS {
		ledger.Stats.Inc("ledger_block", p.result.Subtype.String())
	}

	return p.result, nil
}

func (p *processor) reject(code ProcessResult) error {
	p.result.Code = code
	return nil
}

// precheck rejects blocks we already have and blocks with too little work.
func (p *processor) precheck() (bool, error) {
	exists, err := p.txn.BlockExists(p.hash)
	if err != nil {
		return false, err
	}

	if exists {
		p.result.Code = OLD
		return false, nil
	}

	if !p.ledger.SkipWorkValidation && work.BlockDifficulty(p.block) < p.ledger.Params.PublishThreshold {
		p.result.Code = INSUFFICIENT_WORK
		return false, nil
	}

	return true, nil
}

func (p *processor) checkSignature(signer types.Address, valid types.SignatureVerification) bool {
	if p.result.Verified != valid && !p.block.VerifySignature(signer) {
		p.result.Code = BAD_SIGNATURE
		p.result.Verified = types.SIGNATURE_INVALID
		return false
	}

	p.result.Verified = valid

	return true
}

func (p *processor) getBlock(hash types.Hash) (*types.Block, error) {
	block, err := p.txn.GetBlock(hash)
	if err == database.ErrNotFound {
		return nil, nil
	}

	return block, err
}

func (p *processor) getAccount(account types.Address) (*types.AccountInfo, error) {
	info, err := p.txn.GetAccountInfo(account)
	if err == database.ErrNotFound {
		return nil, nil
	}

	return info, err
}

// legacyPrevious loads the head a legacy block builds on. A nil account info
// means the result code has already been set.
func (p *processor) legacyPrevious() (*types.AccountInfo, error) {
	previous, err := p.getBlock(p.block.Previous)
	if err != nil {
		return nil, err
	}

	if previous == nil {
		return nil, p.reject(GAP_PREVIOUS)
	}

	if !previous.IsLegacy() {
		return nil, p.reject(BLOCK_POSITION)
	}

	info, err := p.getAccount(previous.Sideband.Account)
	if err != nil {
		return nil, err
	}

	if info == nil {
		return nil, errors.Errorf("block %s has no account %s", p.block.Previous, previous.Sideband.Account)
	}

	if info.Head != p.block.Previous {
		return nil, p.reject(FORK)
	}

	if info.Epoch != types.EPOCH_0 {
		return nil, p.reject(BLOCK_POSITION)
	}

	p.result.Account = previous.Sideband.Account
	p.result.PreviousBalance = info.Balance

	return info, nil
}

// store writes the block with its sideband and links it from its previous.
func (p *processor) store(account types.Address, balance types.Amount, height uint64, epoch types.Epoch) error {
	p.block.Sideband = &types.Sideband{
		Account:   account,
		Balance:   balance,
		Height:    height,
		Timestamp: p.now,
		Epoch:     epoch,
	}

	if err := p.txn.PutBlock(p.block); err != nil {
		return err
	}

	if p.block.Previous.IsZero() {
		return nil
	}

	return p.txn.SetSuccessor(p.block.Previous, p.hash)
}

// updateAccount moves the account head to the processed block. previous is
// nil when the block opens the account.
func (p *processor) updateAccount(account types.Address, previous *types.AccountInfo, representative types.Address, balance types.Amount, epoch types.Epoch) error {
	info := &types.AccountInfo{
		Head:           p.hash,
		OpenBlock:      p.hash,
		Representative: representative,
		Balance:        balance,
		Modified:       p.now,
		BlockCount:     1,
		Epoch:          epoch,
	}

	if previous != nil {
		info.OpenBlock = previous.OpenBlock
		info.BlockCount = previous.BlockCount + 1
		info.ConfirmationHeight = previous.ConfirmationHeight
	}

	return p.txn.PutAccountInfo(account, info)
}

func (p *processor) send() error {
	if ok, err := p.precheck(); !ok {
		return err
	}

	info, err := p.legacyPrevious()
	if info == nil {
		return err
	}

	account := p.result.Account
	if !p.checkSignature(account, types.SIGNATURE_VALID) {
		return nil
	}

	if info.Balance.Cmp(p.block.Balance) < 0 {
		return p.reject(NEGATIVE_SPEND)
	}

	amount := info.Balance.Sub(p.block.Balance)
	destination := p.block.Destination()

	if err := p.txn.SubRepresentation(info.Representative, amount); err != nil {
		return err
	}

	if err := p.store(account, p.block.Balance, info.BlockCount+1, types.EPOCH_0); err != nil {
		return err
	}

	if err := p.updateAccount(account, info, info.Representative, p.block.Balance, types.EPOCH_0); err != nil {
		return err
	}

	pending := types.PendingInfo{Source: account, Amount: amount, Epoch: types.EPOCH_0}
	if err := p.txn.PutPending(types.PendingKey{Account: destination, Hash: p.hash}, pending); err != nil {
		return err
	}

	p.result.Amount = amount
	p.result.PendingAccount = destination
	p.result.Subtype = SUBTYPE_SEND

	return p.reject(PROGRESS)
}

func (p *processor) receive() error {
	if ok, err := p.precheck(); !ok {
		return err
	}

	info, err := p.legacyPrevious()
	if info == nil {
		return err
	}

	account := p.result.Account
	if !p.checkSignature(account, types.SIGNATURE_VALID) {
		return nil
	}

	source := p.block.Source()
	exists, err := p.txn.BlockExists(source)
	if err != nil {
		return err
	}

	if !exists {
		return p.reject(GAP_SOURCE)
	}

	key := types.PendingKey{Account: account, Hash: source}
	pending, err := p.txn.GetPending(key)
	if err == database.ErrNotFound {
		return p.reject(UNRECEIVABLE)
	}

	if err != nil {
		return err
	}

	// Sends from upgraded accounts can only be received by state blocks.
	if pending.Epoch != types.EPOCH_0 {
		return p.reject(UNRECEIVABLE)
	}

	balance := info.Balance.Add(pending.Amount)

	if err := p.txn.DeletePending(key); err != nil {
		return err
	}

	if err := p.store(account, balance, info.BlockCount+1, types.EPOCH_0); err != nil {
		return err
	}

	if err := p.updateAccount(account, info, info.Representative, balance, types.EPOCH_0); err != nil {
		return err
	}

	if err := p.txn.AddRepresentation(info.Representative, pending.Amount); err != nil {
		return err
	}

	p.result.Amount = pending.Amount
	p.result.Subtype = SUBTYPE_RECEIVE

	return p.reject(PROGRESS)
}

func (p *processor) open() error {
	if ok, err := p.precheck(); !ok {
		return err
	}

	account := p.block.Account
	if !p.checkSignature(account, types.SIGNATURE_VALID) {
		return nil
	}

	source := p.block.Source()
	exists, err := p.txn.BlockExists(source)
	if err != nil {
		return err
	}

	if !exists {
		return p.reject(GAP_SOURCE)
	}

	existing, err := p.getAccount(account)
	if err != nil {
		return err
	}

	if existing != nil {
		return p.reject(FORK)
	}

	key := types.PendingKey{Account: account, Hash: source}
	pending, err := p.txn.GetPending(key)
	if err == database.ErrNotFound {
		return p.reject(UNRECEIVABLE)
	}

	if err != nil {
		return err
	}

	if account == p.ledger.Params.BurnAccount {
		return p.reject(OPENED_BURN_ACCOUNT)
	}

	if pending.Epoch != types.EPOCH_0 {
		return p.reject(UNRECEIVABLE)
	}

	if err := p.txn.DeletePending(key); err != nil {
		return err
	}

	if err := p.store(account, pending.Amount, 1, types.EPOCH_0); err != nil {
		return err
	}

	if err := p.updateAccount(account, nil, p.block.Representative, pending.Amount, types.EPOCH_0); err != nil {
		return err
	}

	if err := p.txn.AddRepresentation(p.block.Representative, pending.Amount); err != nil {
		return err
	}

	p.result.Account = account
	p.result.Amount = pending.Amount
	p.result.Subtype = SUBTYPE_OPEN

	return p.reject(PROGRESS)
}

func (p *processor) change() error {
	if ok, err := p.precheck(); !ok {
		return err
	}

	info, err := p.legacyPrevious()
	if info == nil {
		return err
	}

	account := p.result.Account
	if !p.checkSignature(account, types.SIGNATURE_VALID) {
		return nil
	}

	if err := p.store(account, info.Balance, info.BlockCount+1, types.EPOCH_0); err != nil {
		return err
	}

	if err := p.txn.SubRepresentation(info.Representative, info.Balance); err != nil {
		return err
	}

	if err := p.txn.AddRepresentation(p.block.Representative, info.Balance); err != nil {
		return err
	}

	if err := p.updateAccount(account, info, p.block.Representative, info.Balance, types.EPOCH_0); err != nil {
		return err
	}

	p.result.Subtype = SUBTYPE_CHANGE

	return p.reject(PROGRESS)
}

// state sorts out whether a state block carrying the epoch link is really an
// epoch block. A send whose destination happens to be the epoch link changes
// the balance, an epoch block never does.
func (p *processor) state() error {
	if !p.ledger.IsEpochLink(p.block.Link) {
		return p.stateImpl()
	}

	var previous_balance types.Amount
	if !p.block.Previous.IsZero() {
		previous, err := p.getBlock(p.block.Previous)
		if err != nil {
			return err
		}

		if previous == nil {
			if p.result.Verified != types.SIGNATURE_VALID && p.result.Verified != types.SIGNATURE_VALID_EPOCH {
				switch {
				case p.block.VerifySignature(p.block.Account):
					p.result.Verified = types.SIGNATURE_VALID
				case p.block.VerifySignature(p.ledger.Params.EpochSigner):
					p.result.Verified = types.SIGNATURE_VALID_EPOCH
				default:
					p.result.Verified = types.SIGNATURE_INVALID
					return p.reject(BAD_SIGNATURE)
				}
			}

			return p.reject(GAP_PREVIOUS)
		}

		previous_balance = previous.Sideband.Balance
	}

	if p.block.Balance == previous_balance {
		return p.epochImpl()
	}

	return p.stateImpl()
}

func (p *processor) stateImpl() error {
	if ok, err := p.precheck(); !ok {
		return err
	}

	account := p.block.Account
	if !p.checkSignature(account, types.SIGNATURE_VALID) {
		return nil
	}

	if account == p.ledger.Params.BurnAccount {
		return p.reject(OPENED_BURN_ACCOUNT)
	}

	epoch := types.EPOCH_0
	amount := p.block.Balance
	is_send := false

	info, err := p.getAccount(account)
	if err != nil {
		return err
	}

	if info != nil {
		epoch = info.Epoch

		if p.block.Previous.IsZero() {
			return p.reject(FORK)
		}

		exists, err := p.txn.BlockExists(p.block.Previous)
		if err != nil {
			return err
		}

		if !exists {
			return p.reject(GAP_PREVIOUS)
		}

		is_send = p.block.Balance.Cmp(info.Balance) < 0
		if is_send {
			amount = info.Balance.Sub(p.block.Balance)
		} else {
			amount = p.block.Balance.Sub(info.Balance)
		}

		if p.block.Previous != info.Head {
			return p.reject(FORK)
		}

		p.result.PreviousBalance = info.Balance
	} else {
		if !p.block.Previous.IsZero() {
			return p.reject(GAP_PREVIOUS)
		}

		// An account can only be opened by receiving.
		if p.block.Link.IsZero() {
			return p.reject(GAP_SOURCE)
		}
	}

	switch {
	case is_send:
		p.result.Subtype = SUBTYPE_SEND
	case p.block.Link.IsZero():
		if !amount.IsZero() {
			return p.reject(BALANCE_MISMATCH)
		}
		p.result.Subtype = SUBTYPE_CHANGE
	default:
		source := p.block.Link.AsHash()
		exists, err := p.txn.BlockExists(source)
		if err != nil {
			return err
		}

		if !exists {
			return p.reject(GAP_SOURCE)
		}

		pending, err := p.txn.GetPending(types.PendingKey{Account: account, Hash: source})
		if err == database.ErrNotFound {
			return p.reject(UNRECEIVABLE)
		}

		if err != nil {
			return err
		}

		if amount != pending.Amount {
			return p.reject(BALANCE_MISMATCH)
		}

		if pending.Epoch > epoch {
			epoch = pending.Epoch
		}

		p.result.Subtype = SUBTYPE_RECEIVE
		if info == nil {
			p.result.Subtype = SUBTYPE_OPEN
		}
	}

	height := uint64(1)
	if info != nil {
		height = info.BlockCount + 1
	}

	if err := p.store(account, p.block.Balance, height, epoch); err != nil {
		return err
	}

	if info != nil {
		if err := p.txn.SubRepresentation(info.Representative, info.Balance); err != nil {
			return err
		}
	}

	if err := p.txn.AddRepresentation(p.block.Representative, p.block.Balance); err != nil {
		return err
	}

	switch p.result.Subtype {
	case SUBTYPE_SEND:
		destination := p.block.Link.AsAddress()
		pending := types.PendingInfo{Source: account, Amount: amount, Epoch: epoch}
		if err := p.txn.PutPending(types.PendingKey{Account: destination, Hash: p.hash}, pending); err != nil {
			return err
		}

		p.result.PendingAccount = destination
	case SUBTYPE_RECEIVE, SUBTYPE_OPEN:
		if err := p.txn.DeletePending(types.PendingKey{Account: account, Hash: p.block.Link.AsHash()}); err != nil {
			return err
		}
	}

	if err := p.updateAccount(account, info, p.block.Representative, p.block.Balance, epoch); err != nil {
		return err
	}

	p.result.Account = account
	p.result.Amount = amount

	return p.reject(PROGRESS)
}

func (p *processor) epochImpl() error {
	if ok, err := p.precheck(); !ok {
		return err
	}

	if !p.checkSignature(p.ledger.Params.EpochSigner, types.SIGNATURE_VALID_EPOCH) {
		return nil
	}

	account := p.block.Account
	if account == p.ledger.Params.BurnAccount {
		return p.reject(OPENED_BURN_ACCOUNT)
	}

	info, err := p.getAccount(account)
	if err != nil {
		return err
	}

	var balance types.Amount
	height := uint64(1)

	if info != nil {
		if p.block.Previous.IsZero() {
			return p.reject(FORK)
		}

		exists, err := p.txn.BlockExists(p.block.Previous)
		if err != nil {
			return err
		}

		if !exists {
			return p.reject(GAP_PREVIOUS)
		}

		if p.block.Previous != info.Head {
			return p.reject(FORK)
		}

		if p.block.Representative != info.Representative {
			return p.reject(REPRESENTATIVE_MISMATCH)
		}

		if info.Epoch != types.EPOCH_0 {
			return p.reject(BLOCK_POSITION)
		}

		balance = info.Balance
		height = info.BlockCount + 1
		p.result.PreviousBalance = info.Balance
	} else {
		if !p.block.Previous.IsZero() {
			return p.reject(GAP_PREVIOUS)
		}

		if !p.block.Representative.IsZero() {
			return p.reject(REPRESENTATIVE_MISMATCH)
		}

		// Opening an account with an epoch block only makes sense when
		// something is waiting to be received by it.
		pending, err := p.txn.AnyPending(account)
		if err != nil {
			return err
		}

		if !pending {
			return p.reject(BLOCK_POSITION)
		}
	}

	if p.block.Balance != balance {
		return p.reject(BALANCE_MISMATCH)
	}

	if err := p.store(account, balance, height, types.EPOCH_1); err != nil {
		return err
	}

	if err := p.updateAccount(account, info, p.block.Representative, balance, types.EPOCH_1); err != nil {
		return err
	}

	p.result.Account = account
	p.result.Amount = types.Amount{}
	p.result.Subtype = SUBTYPE_EPOCH

	return p.reject(PROGRESS)
}
