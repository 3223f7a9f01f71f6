package params

import "github.com/tundak/nano-node-sub003/types"

const (
	liveGenesisAccount   = "E89208DD038FBB269987689621D52292AE9C35941A7484756ECCED92A65093BA"
	liveGenesisSignature = "9F0C933C8ADE004D808EA1985FA746A7E95BA2A38F867640F53EC8F180BDFE9E2C1268DEAD7C2664F356E37ABA362BC58E46DBA03E523A7B5A19E4B6EB12BB02"
	liveGenesisWork      = 0x62f05417dd3fb691
	liveGenesisHash      = "991CF190094C00F0B68E2E5F75F6BEE95A2E0BD93CEAA4A6734DB9F19B728948"

	betaGenesisAccount   = "DD6D7B764B97C64A15302CD1D60344DB58271BFC8592B631CBF2022AA89AB52B"
	betaGenesisSignature = "18227D53CE91488D20CFAB7E43428FE0F8163C9B73AB7B7189742AB8F7DD7DB91AE7F0153B7C8B54814BE31FFB9C824541CBD4E8FBDB7B81C4ACA16B98D55609"
	betaGenesisWork      = 0x0000000000097946
	betaGenesisHash      = "32B983E8232EEA66EFAC24330423B9A126BDE541B9CE8987B9DD6A11D4AF5E9B"

	testGenesisAccount   = "B0311EA55708D6A53C75CDBF88300259C6D018522FE3D4D0A242E431F9E8B6D0"
	testGenesisSignature = "ECDA914373A2F0CA1296475BAEE40500A7F0A7AD72A5A80C81D7FAB7F6C802B2CC7DB50F5DD0FB25B2EF11761FA7344A158DD5A700B21BD47DE5BD0F63153A02"
	testGenesisWork      = 0x9680625b39d3363d
	testGenesisHash      = "04270D7F11C4B2B472F2854C5A59F2A7E84226CE9ED799DE75744BD7D85FC9D9"
)

// Private key of the test network genesis account. Only meaningful on the
// test network, where it is used to build fixtures and as a local voter.
const TestGenesisPrivateKey = "34F0A37AAD20F4A260F0A5B3CB3D7FB50673212263E58A380BC10474BB039CE4"

func genesisFor(network Network) Genesis {
	account, signature, work, hash := liveGenesisAccount, liveGenesisSignature, uint64(liveGenesisWork), liveGenesisHash

	switch network {
	case NETWORK_BETA:
		account, signature, work, hash = betaGenesisAccount, betaGenesisSignature, betaGenesisWork, betaGenesisHash
	case NETWORK_TEST:
		account, signature, work, hash = testGenesisAccount, testGenesisSignature, testGenesisWork, testGenesisHash
	}

	address := types.MustAddress(account)
	block := &types.Block{
		Type:           types.BLOCK_TYPE_OPEN,
		Account:        address,
		Representative: address,
		Link:           types.Link(address),
		Signature:      types.MustSignature(signature),
		Work:           types.Work(work),
	}

	return Genesis{
		Block:   block,
		Hash:    types.MustHash(hash),
		Account: address,
		Amount:  types.MaxAmount,
	}
}
