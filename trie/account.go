package trie

import (
	"fmt"
	"math/big"

	"github.com/eth2030/triesync/core/types"
	"github.com/eth2030/triesync/rlp"
)

// rlpAccount mirrors the RLP shape an account is stored under in a state
// trie leaf: the 4-element list [nonce, balance, storageRoot, codeHash].
type rlpAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     []byte
	CodeHash []byte
}

// DecodeAccount decodes the RLP-encoded value carried by a state-trie leaf
// into an Account record. It returns ErrNotAccountLeafNode (wrapped) on any
// structural mismatch, matching the data model's requirement that a
// malformed leaf value is a critical error.
func DecodeAccount(data []byte) (types.Account, error) {
	var raw rlpAccount
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return types.Account{}, fmt.Errorf("%w: %v", ErrNotAccountLeafNode, err)
	}
	if len(raw.Root) != types.HashLength {
		return types.Account{}, fmt.Errorf("%w: storage root is %d bytes, want %d", ErrNotAccountLeafNode, len(raw.Root), types.HashLength)
	}
	balance := raw.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	return types.Account{
		Nonce:    raw.Nonce,
		Balance:  balance,
		Root:     types.BytesToHash(raw.Root),
		CodeHash: raw.CodeHash,
	}, nil
}
