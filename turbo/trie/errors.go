package trie

import "errors"

var (
	// ErrStructuralInconsistency - stored trie node is malformed or doesn't fit its position,
	// or hash builder received keys out of order. The pass is aborted, nothing must be persisted.
	ErrStructuralInconsistency = errors.New("trie structural inconsistency")

	// ErrStorageUnavailable - cursor or database failure. No retries at this layer.
	ErrStorageUnavailable = errors.New("trie storage unavailable")

	// ErrPrefixSetMisuse - contract violation by the caller of PrefixSet.
	ErrPrefixSetMisuse = errors.New("prefix set misuse")
)
