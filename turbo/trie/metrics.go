package trie

import "github.com/VictoriaMetrics/metrics"

var (
	mxBranchesReused       = metrics.GetOrCreateCounter(`trie_branches_reused`)
	mxLeavesHashed         = metrics.GetOrCreateCounter(`trie_leaves_hashed{trie="account"}`)
	mxStorageLeavesHashed  = metrics.GetOrCreateCounter(`trie_leaves_hashed{trie="storage"}`)
	mxStorageRootsComputed = metrics.GetOrCreateCounter(`trie_storage_roots{source="computed"}`)
	mxStorageRootsReused   = metrics.GetOrCreateCounter(`trie_storage_roots{source="record"}`)
	mxStorageRootsMissing  = metrics.GetOrCreateCounter(`trie_storage_roots{source="fallback"}`)
	mxStateRootDuration    = metrics.GetOrCreateSummary(`trie_state_root_duration`)
	mxProofDuration        = metrics.GetOrCreateSummary(`trie_proof_duration`)
)
