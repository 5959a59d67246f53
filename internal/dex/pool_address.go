package dex

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputePoolAddress derives a pool address deterministically via CREATE2:
// keccak256(0xff ++ factory ++ keccak256(abi.encode(token0, token1, fee)) ++
// initCodeHash), with the token pair sorted the way the factory sorts it.
func ComputePoolAddress(factory common.Address, tokenA, tokenB common.Address, fee uint32, initCodeHash common.Hash) common.Address {
	token0, token1 := tokenA, tokenB
	if bigFromAddress(token0).Cmp(bigFromAddress(token1)) > 0 {
		token0, token1 = token1, token0
	}

	salt := crypto.Keccak256(
		common.LeftPadBytes(token0.Bytes(), 32),
		common.LeftPadBytes(token1.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(uint64(fee)).Bytes(), 32),
	)

	digest := crypto.Keccak256(
		[]byte{0xff},
		factory.Bytes(),
		salt,
		initCodeHash.Bytes(),
	)

	return common.BytesToAddress(digest[12:])
}

func bigFromAddress(address common.Address) *big.Int {
	return new(big.Int).SetBytes(address.Bytes())
}
