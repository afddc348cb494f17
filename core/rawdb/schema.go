package rawdb

// Key prefixes for the database schema.
// Following go-ethereum's prefix-based approach to avoid key collisions.
var (
	// Contract code
	codePrefix = []byte("C") // C + code hash -> contract bytecode

	// State trie nodes
	trieNodePrefix = []byte("t") // t + node hash -> blockNumber(8 bytes BE) + trie node data
)

// codeKey = codePrefix + codeHash
func codeKey(codeHash [32]byte) []byte {
	return append(codePrefix, codeHash[:]...)
}

// trieNodeKey = trieNodePrefix + nodeHash
func trieNodeKey(nodeHash [32]byte) []byte {
	return append(trieNodePrefix, nodeHash[:]...)
}

// CodeKey and TrieNodeKey are exported for callers outside this package
// (package storage) that need to address the same rows, e.g. to build a
// prefix iterator for a pruning sweep.
func CodeKey(codeHash [32]byte) []byte  { return codeKey(codeHash) }
func TrieNodeKey(nodeHash [32]byte) []byte { return trieNodeKey(nodeHash) }
