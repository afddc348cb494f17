package trie

// Store is the storage-adapter seam the scheduler calls into: existence
// probes and durable writes for trie nodes and code blobs. Implementations
// live in package storage; this package only depends on the interface so
// the scheduler core stays decoupled from any concrete KV engine.
type Store interface {
	// GetMptNode returns a trie node's bytes and whether it was found.
	GetMptNode(hash NodeHash) (data []byte, ok bool, err error)
	// GetCode returns a code blob's bytes and whether it was found.
	GetCode(hash NodeHash) (data []byte, ok bool, err error)
	// PutMptNode durably writes a trie node, tagged with the block number
	// the sync is running at (used by the store for pruning/TTL purposes).
	PutMptNode(hash NodeHash, data []byte, blockNumber uint64) error
	// PutCode durably writes a code blob.
	PutCode(hash NodeHash, data []byte) error
	// Flush commits any writes the implementation has buffered internally.
	// Called once per Flush() call on the scheduler state (see scheduler.go),
	// after every PutMptNode/PutCode in that round has been issued, so an
	// implementation that batches writes for throughput gets a natural
	// atomic-commit point instead of flushing after every single node.
	Flush() error
}
