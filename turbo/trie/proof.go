package trie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/erigontech/stateroot/common/nibbles"
	"github.com/erigontech/stateroot/core/types/accounts"
)

// AccountProof - inclusion (or exclusion) proof of one account and some of its storage slots,
// in the shape of eth_getProof response. Keys are hashed.
type AccountProof struct {
	StateRoot    common.Hash     `json:"stateRoot"`
	AddrHash     common.Hash     `json:"addressHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	StorageHash  common.Hash     `json:"storageHash"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	StorageProof []StorageProof  `json:"storageProof"`
	Exists       bool            `json:"exists"`
}

type StorageProof struct {
	Key   common.Hash     `json:"key"`
	Value hexutil.Bytes   `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// GenerateProof - nodes of the account trie on the path to key, from root to leaf. Only the path is
// re-hashed: everything else is taken from stored branch nodes.
func GenerateProof(ctx context.Context, factory CursorFactory, key common.Hash) (common.Hash, [][]byte, error) {
	defer mxProofDuration.UpdateDuration(time.Now())
	target := nibbles.Unpack(key[:])
	hb := NewHashBuilder(false).WithProofRetainer(target)
	reader := &storageRootReader{factory: factory}
	root, _, err := accountPass(ctx, factory, NewPrefixSetFromKeys(key), hb, reader, false, nil)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return root, hb.ProofNodes(target), nil
}

// GenerateStorageProof - nodes of the storage trie of addrHash on paths to slots
func GenerateStorageProof(ctx context.Context, factory CursorFactory, addrHash common.Hash, slots ...common.Hash) (common.Hash, [][][]byte, error) {
	targets := make([]nibbles.Nibbles, len(slots))
	for i, slot := range slots {
		targets[i] = nibbles.Unpack(slot[:])
	}
	hb := NewHashBuilder(false).WithProofRetainer(targets...)
	root, _, err := NewStorageRoot(factory, addrHash, NewPrefixSetFromKeys(slots...)).withHashBuilder(hb).calculate(ctx, false)
	if err != nil {
		return common.Hash{}, nil, err
	}
	proofs := make([][][]byte, len(targets))
	if root == accounts.EmptyRoot {
		// empty trie is proven by the root itself
		return root, proofs, nil
	}
	for i, target := range targets {
		proofs[i] = hb.ProofNodes(target)
	}
	return root, proofs, nil
}

// GenerateAccountProof - proof of the account and given storage slots of it
func GenerateAccountProof(ctx context.Context, factory CursorFactory, addrHash common.Hash, slots ...common.Hash) (*AccountProof, error) {
	stateRoot, accProof, err := GenerateProof(ctx, factory, addrHash)
	if err != nil {
		return nil, err
	}
	res := &AccountProof{
		StateRoot:    stateRoot,
		AddrHash:     addrHash,
		Balance:      (*hexutil.Big)(common.Big0),
		AccountProof: toHexBytes(accProof),
		StorageProof: make([]StorageProof, 0, len(slots)),
	}

	c, err := factory.HashedAccountCursor()
	if err != nil {
		return nil, err
	}
	k, v, err := c.Seek(addrHash)
	c.Close()
	if err != nil {
		return nil, err
	}
	if k != nil && bytes.Equal(k, addrHash[:]) {
		var acc accounts.Account
		if err := acc.DecodeForStorage(v); err != nil {
			return nil, fmt.Errorf("%w: account %x: %w", ErrStructuralInconsistency, addrHash, err)
		}
		res.Exists = true
		res.Nonce = hexutil.Uint64(acc.Nonce)
		res.Balance = (*hexutil.Big)(acc.Balance.ToBig())
		res.CodeHash = acc.CodeHash
	}

	storageRoot, storageProofs, err := GenerateStorageProof(ctx, factory, addrHash, slots...)
	if err != nil {
		return nil, err
	}
	if res.Exists {
		res.StorageHash = storageRoot
	}

	sc, err := factory.HashedStorageCursor(addrHash)
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	for i, slot := range slots {
		sp := StorageProof{Key: slot, Proof: toHexBytes(storageProofs[i])}
		k, v, err := sc.Seek(slot)
		if err != nil {
			return nil, err
		}
		if k != nil && bytes.Equal(k, slot[:]) {
			sp.Value = common.CopyBytes(v)
		}
		res.StorageProof = append(res.StorageProof, sp)
	}
	return res, nil
}

func toHexBytes(proof [][]byte) []hexutil.Bytes {
	res := make([]hexutil.Bytes, len(proof))
	for i, p := range proof {
		res[i] = p
	}
	return res
}

func fromHexBytes(proof []hexutil.Bytes) [][]byte {
	res := make([][]byte, len(proof))
	for i, p := range proof {
		res[i] = p
	}
	return res
}

var errInvalidProof = errors.New("invalid proof")

// VerifyProof - checks that proof leads from root to key. Returns leaf value, nil value proves
// that key is absent. Proof of a key in the empty trie is empty.
func VerifyProof(root common.Hash, key common.Hash, proof [][]byte) ([]byte, error) {
	if root == accounts.EmptyRoot {
		if len(proof) > 0 {
			return nil, fmt.Errorf("%w: empty root should not have proof nodes", errInvalidProof)
		}
		return nil, nil
	}
	value, err := walkProof(root, nibbles.Unpack(key[:]), proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidProof, err)
	}
	return value, nil
}

// walkProof - follows path from the root node. Element i must hash to the reference found in
// element i-1, nodes shorter than a hash are embedded into their parent and have no element.
func walkProof(root common.Hash, path nibbles.Nibbles, proof [][]byte) ([]byte, error) {
	sha := newKeccak()
	want := root
	for i, enc := range proof {
		if h := keccak(sha, enc); h != want {
			return nil, fmt.Errorf("element %d hashes to %x, expected %x", i, h, want)
		}
		node := enc
		for node != nil {
			step, err := descend(node, path)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if step.leaf {
				if unused := len(proof) - 1 - i; unused > 0 {
					return nil, fmt.Errorf("%d proof elements after the leaf", unused)
				}
				return step.value, nil
			}
			if step.child == nil {
				return nil, nil
			}
			path = step.path

			kind, ref, _, err := rlp.Split(step.child)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			switch {
			case kind == rlp.List:
				if len(step.child) >= common.HashLength {
					return nil, fmt.Errorf("element %d: embedded node of %d bytes", i, len(step.child))
				}
				node = step.child
			case len(ref) == 0:
				return nil, nil
			case len(ref) == common.HashLength:
				want, node = common.BytesToHash(ref), nil
			default:
				return nil, fmt.Errorf("element %d: reference of %d bytes", i, len(ref))
			}
		}
	}
	return nil, fmt.Errorf("no element for node %x", want)
}

// proofStep - result of one node on the path: the leaf value, or RLP item of the child
// to descend into with the rest of the path. Neither of them means that path is absent.
type proofStep struct {
	leaf  bool
	value []byte
	child []byte
	path  nibbles.Nibbles
}

func descend(enc []byte, path nibbles.Nibbles) (proofStep, error) {
	elems, _, err := rlp.SplitList(enc)
	if err != nil {
		return proofStep{}, err
	}
	switch c, _ := rlp.CountValues(elems); c {
	case 17:
		if len(path) == 0 {
			return proofStep{}, fmt.Errorf("path ends at branch node")
		}
		for i := byte(0); i < path[0]; i++ {
			if _, _, elems, err = rlp.Split(elems); err != nil {
				return proofStep{}, err
			}
		}
		_, _, rest, err := rlp.Split(elems)
		if err != nil {
			return proofStep{}, err
		}
		return proofStep{child: elems[:len(elems)-len(rest)], path: path[1:]}, nil
	case 2:
		compact, rest, err := rlp.SplitString(elems)
		if err != nil {
			return proofStep{}, err
		}
		key, isLeaf, err := nibbles.DecodeCompact(compact)
		if err != nil {
			return proofStep{}, err
		}
		if len(key) > len(path) {
			return proofStep{}, fmt.Errorf("node key %x is longer than the rest of path %x", key, path)
		}
		if !path.HasPrefix(key) {
			return proofStep{}, nil
		}
		if isLeaf {
			if len(key) != len(path) {
				return proofStep{}, fmt.Errorf("leaf ends before path, %x left", path[len(key):])
			}
			value, _, err := rlp.SplitString(rest)
			if err != nil {
				return proofStep{}, err
			}
			return proofStep{leaf: true, value: value}, nil
		}
		_, _, tail, err := rlp.Split(rest)
		if err != nil {
			return proofStep{}, err
		}
		return proofStep{child: rest[:len(rest)-len(tail)], path: path[len(key):]}, nil
	default:
		return proofStep{}, fmt.Errorf("node with %d list elements", c)
	}
}

// VerifyAccountProof - checks account and storage proofs against stateRoot
func VerifyAccountProof(stateRoot common.Hash, proof *AccountProof) error {
	value, err := VerifyProof(stateRoot, proof.AddrHash, fromHexBytes(proof.AccountProof))
	if err != nil {
		return fmt.Errorf("could not verify proof: %w", err)
	}

	if value == nil {
		// A nil value proves the account does not exist.
		switch {
		case proof.Exists:
			return fmt.Errorf("account is not in state, but proof claims it exists")
		case proof.Nonce != 0:
			return fmt.Errorf("account is not in state, but has non-zero nonce")
		case proof.Balance != nil && proof.Balance.ToInt().Sign() != 0:
			return fmt.Errorf("account is not in state, but has balance")
		case proof.StorageHash != common.Hash{}:
			return fmt.Errorf("account is not in state, but has non-empty storage hash")
		case proof.CodeHash != common.Hash{}:
			return fmt.Errorf("account is not in state, but has non-empty code hash")
		}
	} else {
		acc, storageRoot, err := accounts.DecodeForHashing(value)
		if err != nil {
			return err
		}
		expected := accounts.NewAccount()
		expected.Nonce = uint64(proof.Nonce)
		if proof.Balance != nil {
			expected.Balance.SetFromBig(proof.Balance.ToInt())
		}
		expected.CodeHash = proof.CodeHash
		if !acc.Equals(&expected) || storageRoot != proof.StorageHash {
			return fmt.Errorf("account bytes from proof (%x) do not match expected (%x)", value, expected.EncodeForHashing(proof.StorageHash))
		}
	}

	storageRoot := proof.StorageHash
	if !proof.Exists {
		storageRoot = accounts.EmptyRoot
	}
	for _, sp := range proof.StorageProof {
		if err := VerifyStorageProof(storageRoot, sp); err != nil {
			return fmt.Errorf("slot %x: %w", sp.Key, err)
		}
	}
	return nil
}

// VerifyStorageProof - checks slot value against the storage root of an account
func VerifyStorageProof(storageRoot common.Hash, proof StorageProof) error {
	if storageRoot == accounts.EmptyRoot || storageRoot == (common.Hash{}) {
		if len(bytes.TrimLeft(proof.Value, "\x00")) != 0 {
			return fmt.Errorf("empty storage root cannot have non-zero values")
		}
		// Empty trie has no nodes, so there is nothing to prove: the proof must be empty.
		if len(proof.Proof) > 0 {
			return fmt.Errorf("empty storage root should not have proof nodes")
		}
		return nil
	}
	value, err := VerifyProof(storageRoot, proof.Key, fromHexBytes(proof.Proof))
	if err != nil {
		return fmt.Errorf("could not verify proof: %w", err)
	}

	var expected []byte
	if len(proof.Value) > 0 {
		// A non-nil value proves the storage does exist.
		expected = storageValueRLP(proof.Value)
	}

	if !bytes.Equal(expected, value) {
		return fmt.Errorf("storage value from proof (%x) does not match expected (%x)", value, expected)
	}

	return nil
}
