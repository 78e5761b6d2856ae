package kv

// Dictionary:
// "Hashed State" - state where account keys are keccak256(address) and storage keys are keccak256(slot).
// It's the only state representation the trie calculation reads.
// "Nibble path" - trie path with 1 nibble per byte, so bytewise order of keys equals trie order.

/*
HashedAccounts
key - address hash
value - account encoded for storage (see accounts.Account.EncodeForStorage), storage root is not included
*/
const HashedAccounts = "HashedAccount"

/*
HashedStorage
key - address hash + storage key hash
value - storage value with leading zero bytes trimmed, never empty
*/
const HashedStorage = "HashedStorage"

/*
TrieOfAccounts and TrieOfStorage
hasState,groups - mark prefixes existing in hashed_account table
hasTree - mark prefixes existing in trie_account table (not related with branchNodes)
hasHash - mark prefixes which hashes are saved in current trie_account record (actually only hashes of branchNodes can be saved)
@see UnmarshalTrieNode
@see integrity.Trie

+-----------------------------------------------------------------------------------------------------+
| DB record: 0x0B, hasState: 0b1011, hasTree: 0b1001, hasHash: 0b1001, hashes: [x,x]                  |
+-----------------------------------+-----------------------------------------------------------------+
                                    |                                                                 |
                                    v                                                                 |
+---------------------------------------------+                                                       |
| DB record: 0x0B00, hasState: 0b10001,       |                                                       |
| hasTree: 0, hasHash: 0b10000, hashes: [x]   |                                                       |
+---------------------------------------------+                                                       |
                                                                                                      v
                                                                        +--------------------------------------------------+
                                                                        | DB record: 0x0B03, hasState: 0b1001, hasTree: 0, |
                                                                        | hasHash: 0b1001, hashes: [x,x]                   |
                                                                        +--------------------------------------------------+

TrieOfAccounts key - nibble path of the branch node (empty path is the root)
TrieOfStorage key - address hash + nibble path of the branch node
value - see trie.BranchNodeCompact.Marshal
Only the root record (empty path) carries the root hash of the whole trie.
*/
const (
	TrieOfAccounts = "TrieAccount"
	TrieOfStorage  = "TrieStorage"
)

/*
StorageRoots
key - address hash
value - root of the account's storage trie, as of the last computed state root.
Missing record means the storage root was never computed (or the storage is empty).
*/
const StorageRoots = "StorageRoot"

/*
AccountChangeSet keeps original values of accounts changed by a block
key - block number (8 bytes big endian) + address hash
value - account encoded for storage before the block, empty if the account didn't exist

StorageChangeSet
key - block number + address hash + storage key hash
value - storage value before the block, empty if the slot was empty
*/
const (
	AccountChangeSet = "AccountChangeSet"
	StorageChangeSet = "StorageChangeSet"
)

// SyncStageProgress - block number up to which the stage is done
// key - stage name
// value - block number (8 bytes big endian)
const SyncStageProgress = "SyncStage"

// ChaindataTables - list of all tables, the order is part of the on-disk format of kv/ldb
var ChaindataTables = []string{
	HashedAccounts,
	HashedStorage,
	TrieOfAccounts,
	TrieOfStorage,
	StorageRoots,
	AccountChangeSet,
	StorageChangeSet,
	SyncStageProgress,
}

var tableIDs = func() map[string]byte {
	ids := make(map[string]byte, len(ChaindataTables))
	for i, name := range ChaindataTables {
		ids[name] = byte(i + 1)
	}
	return ids
}()

// TableID - 1-byte identifier of the table, stable across restarts.
func TableID(table string) (byte, bool) {
	id, ok := tableIDs[table]
	return id, ok
}
