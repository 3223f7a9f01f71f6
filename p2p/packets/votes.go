package packets

import "github.com/tundak/nano-node-sub003/types"

// MaxConfirmReqPairs is what fits in the 4 bit count of the header extension.
const MaxConfirmReqPairs = 15

func SerializeHashPairs(pairs []types.HashPair) []byte {
	data := make([]byte, 0, 64*len(pairs))
	for _, pair := range pairs {
		data = append(data, pair.ToSlice()...)
	}

	return data
}

func ConfirmReqExtension(count int) HeaderExtension {
	var extension HeaderExtension
	extension.SetBlockType(types.BLOCK_TYPE_NOT_A_BLOCK)
	extension.SetCount(uint(count))

	return extension
}

func ConfirmAckExtension(vote *types.Vote) HeaderExtension {
	var extension HeaderExtension
	extension.SetBlockType(types.BLOCK_TYPE_NOT_A_BLOCK)
	extension.SetCount(uint(len(vote.Hashes)))

	return extension
}

func PublishExtension(block *types.Block) HeaderExtension {
	var extension HeaderExtension
	extension.SetBlockType(block.Type)

	return extension
}
