package trie

import "errors"

// RequestKind distinguishes the three kinds of content a PendingRequest can
// be waiting on. The distinction matters because only StateNode leaves fan
// out into Code and StorageNode requests, and because Code and StorageNode
// have their own persistence paths.
type RequestKind int

const (
	// StateNode is a node belonging to the account trie (root trie).
	StateNode RequestKind = iota
	// StorageNode is a node belonging to a per-account storage trie.
	StorageNode
	// Code is a contract bytecode blob, not a trie node.
	Code
)

func (k RequestKind) String() string {
	switch k {
	case StateNode:
		return "state-node"
	case StorageNode:
		return "storage-node"
	case Code:
		return "code"
	default:
		return "unknown"
	}
}

// Critical errors indicate malformed data: a buggy peer, a hash-collision
// attack attempt, or a protocol change. The driver is expected to discard
// the scheduler state and restart sync against a different peer.
var (
	ErrCannotDecodeMptNode = errors.New("trie: cannot decode mpt node")
	ErrNotAccountLeafNode  = errors.New("trie: leaf value is not a valid account")
)

// Non-critical errors are protocol noise that a well-behaved driver should
// never trigger, but which must be absorbed defensively rather than
// propagated: they never alter scheduler state.
var (
	ErrNotRequested     = errors.New("trie: response hash is not in active set")
	ErrAlreadyProcessed = errors.New("trie: response hash already has data")
)

// IsCritical reports whether err is one of the critical error variants that
// must abort a processResponses fold.
func IsCritical(err error) bool {
	return errors.Is(err, ErrCannotDecodeMptNode) || errors.Is(err, ErrNotAccountLeafNode)
}
