package types

// Channel is the peer connection a block or vote arrived on, kept so the node
// can answer on it.
type Channel interface {
	SendBlock(block *Block) error
	SendVote(vote *Vote) error
	String() string
}
