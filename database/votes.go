package database

import (
	"github.com/tundak/nano-node-sub003/types"
)

// GetVote returns the last vote generated by representative.
func (txn *Transaction) GetVote(representative types.Address) (*types.Vote, error) {
	value, err := txn.get(TABLE_VOTE, representative[:])
	if err != nil {
		return nil, err
	}

	return types.DeserializeVote(value)
}

func (txn *Transaction) PutVote(vote *types.Vote) error {
	return txn.put(TABLE_VOTE, vote.Account[:], vote.Serialize())
}

// VoteGenerate signs hashes with the next sequence number for keys and
// persists the vote, so sequences keep increasing across restarts.
func (txn *Transaction) VoteGenerate(keys *types.KeyPair, hashes []types.Hash) (*types.Vote, error) {
	var sequence uint64

	last, err := txn.GetVote(keys.Address)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	if last != nil {
		sequence = last.Sequence
	}

	vote := types.NewVote(keys, sequence+1, hashes)
	if err := txn.PutVote(vote); err != nil {
		return nil, err
	}

	return vote, nil
}

// VoteMax keeps whichever of the stored and given vote has the higher
// sequence and returns it.
func (txn *Transaction) VoteMax(vote *types.Vote) (*types.Vote, error) {
	last, err := txn.GetVote(vote.Account)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	if last != nil && last.Sequence >= vote.Sequence {
		return last, nil
	}

	return vote, txn.PutVote(vote)
}
