package database

type Table byte

const (
	TABLE_ACCOUNTS_V0 Table = iota + 1
	TABLE_ACCOUNTS_V1
	TABLE_PENDING_V0
	TABLE_PENDING_V1
	TABLE_BLOCKS_SEND
	TABLE_BLOCKS_RECEIVE
	TABLE_BLOCKS_OPEN
	TABLE_BLOCKS_CHANGE
	TABLE_BLOCKS_STATE_V0
	TABLE_BLOCKS_STATE_V1
	TABLE_UNCHECKED
	TABLE_REPRESENTATION
	TABLE_VOTE
	TABLE_ONLINE_WEIGHT
	TABLE_META
	TABLE_PEERS
)

var tableNames = map[Table]string{
	TABLE_ACCOUNTS_V0:     "accounts_v0",
	TABLE_ACCOUNTS_V1:     "accounts_v1",
	TABLE_PENDING_V0:      "pending_v0",
	TABLE_PENDING_V1:      "pending_v1",
	TABLE_BLOCKS_SEND:     "blocks_send",
	TABLE_BLOCKS_RECEIVE:  "blocks_receive",
	TABLE_BLOCKS_OPEN:     "blocks_open",
	TABLE_BLOCKS_CHANGE:   "blocks_change",
	TABLE_BLOCKS_STATE_V0: "blocks_state_v0",
	TABLE_BLOCKS_STATE_V1: "blocks_state_v1",
	TABLE_UNCHECKED:       "unchecked",
	TABLE_REPRESENTATION:  "representation",
	TABLE_VOTE:            "vote",
	TABLE_ONLINE_WEIGHT:   "online_weight",
	TABLE_META:            "meta",
	TABLE_PEERS:           "peers",
}

var blockTables = []Table{
	TABLE_BLOCKS_SEND,
	TABLE_BLOCKS_RECEIVE,
	TABLE_BLOCKS_OPEN,
	TABLE_BLOCKS_CHANGE,
	TABLE_BLOCKS_STATE_V0,
	TABLE_BLOCKS_STATE_V1,
}

func (table Table) String() string {
	if name, ok := tableNames[table]; ok {
		return name
	}

	return "unknown"
}

// Key prefixes key with the table byte.
func (table Table) Key(key []byte) []byte {
	return append([]byte{byte(table)}, key...)
}
