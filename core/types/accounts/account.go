package accounts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Account is the Ethereum consensus representation of accounts.
// The storage root is not part of it: it lives in the trie tables and is
// only joined with the account when the account trie leaf is hashed.
type Account struct {
	Nonce    uint64
	Balance  uint256.Int
	CodeHash common.Hash
}

var (
	EmptyCodeHash = crypto.Keccak256Hash(nil)
	// EmptyRoot is the root of a trie without leaves: keccak256(rlp(""))
	EmptyRoot = common.HexToHash("56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")
)

var ErrDecode = errors.New("account decode")

func NewAccount() Account {
	return Account{CodeHash: EmptyCodeHash}
}

func (a *Account) IsEmptyCodeHash() bool {
	return a.CodeHash == EmptyCodeHash || a.CodeHash == (common.Hash{})
}

// IsEmpty - EIP-161 empty account
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && a.IsEmptyCodeHash()
}

func (a *Account) Equals(acc *Account) bool {
	return a.Nonce == acc.Nonce &&
		a.Balance.Eq(&acc.Balance) &&
		(a.CodeHash == acc.CodeHash || (a.IsEmptyCodeHash() && acc.IsEmptyCodeHash()))
}

// EncodeForStorage - RLP list [nonce, balance, codeHash]. Empty code hash is omitted,
// most of accounts are EOA.
func (a *Account) EncodeForStorage() []byte {
	w := rlp.NewEncoderBuffer(nil)
	l := w.List()
	w.WriteUint64(a.Nonce)
	w.WriteUint256(&a.Balance)
	if !a.IsEmptyCodeHash() {
		w.WriteBytes(a.CodeHash[:])
	}
	w.ListEnd(l)
	return w.ToBytes()
}

func (a *Account) DecodeForStorage(enc []byte) error {
	if len(enc) == 0 {
		return fmt.Errorf("%w: empty input", ErrDecode)
	}
	s := rlp.NewStream(bytes.NewReader(enc), uint64(len(enc)))
	if _, err := s.List(); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	nonce, err := s.Uint64()
	if err != nil {
		return fmt.Errorf("%w: nonce: %w", ErrDecode, err)
	}
	var balance uint256.Int
	if err := s.ReadUint256(&balance); err != nil {
		return fmt.Errorf("%w: balance: %w", ErrDecode, err)
	}
	codeHash := EmptyCodeHash
	b, err := s.Bytes()
	switch {
	case errors.Is(err, rlp.EOL):
	case err != nil:
		return fmt.Errorf("%w: code hash: %w", ErrDecode, err)
	case len(b) != len(codeHash):
		return fmt.Errorf("%w: code hash length %d", ErrDecode, len(b))
	default:
		copy(codeHash[:], b)
		if err := s.ListEnd(); err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}
	a.Nonce = nonce
	a.Balance = balance
	a.CodeHash = codeHash
	return nil
}

// EncodeForHashing - value of the account trie leaf: RLP list [nonce, balance, storageRoot, codeHash]
func (a *Account) EncodeForHashing(storageRoot common.Hash) []byte {
	codeHash := a.CodeHash
	if a.IsEmptyCodeHash() {
		codeHash = EmptyCodeHash
	}
	w := rlp.NewEncoderBuffer(nil)
	l := w.List()
	w.WriteUint64(a.Nonce)
	w.WriteUint256(&a.Balance)
	w.WriteBytes(storageRoot[:])
	w.WriteBytes(codeHash[:])
	w.ListEnd(l)
	return w.ToBytes()
}

// DecodeForHashing - reverse of EncodeForHashing, used by proof verification.
func DecodeForHashing(enc []byte) (acc Account, storageRoot common.Hash, err error) {
	s := rlp.NewStream(bytes.NewReader(enc), uint64(len(enc)))
	if _, err = s.List(); err != nil {
		return acc, storageRoot, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if acc.Nonce, err = s.Uint64(); err != nil {
		return acc, storageRoot, fmt.Errorf("%w: nonce: %w", ErrDecode, err)
	}
	if err = s.ReadUint256(&acc.Balance); err != nil {
		return acc, storageRoot, fmt.Errorf("%w: balance: %w", ErrDecode, err)
	}
	for _, dst := range []*common.Hash{&storageRoot, &acc.CodeHash} {
		b, err := s.Bytes()
		if err != nil {
			return acc, storageRoot, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if len(b) != len(dst) {
			return acc, storageRoot, fmt.Errorf("%w: hash length %d", ErrDecode, len(b))
		}
		copy(dst[:], b)
	}
	if err = s.ListEnd(); err != nil {
		return acc, storageRoot, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return acc, storageRoot, nil
}
