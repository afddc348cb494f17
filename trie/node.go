package trie

import "github.com/eth2030/triesync/core/types"

// NodeKind tags the variant of a decoded MPT node, per the five shapes a
// trie response can take.
type NodeKind int

const (
	KindEmpty NodeKind = iota
	KindLeaf
	KindExtension
	KindBranch
	KindHashRef
)

func (k NodeKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindLeaf:
		return "leaf"
	case KindExtension:
		return "extension"
	case KindBranch:
		return "branch"
	case KindHashRef:
		return "hashref"
	default:
		return "unknown"
	}
}

// Node is a decoded MPT node. Only the fields relevant to Kind are
// meaningful; this mirrors the tagged-union shape in the data model rather
// than a Go interface hierarchy, since the scheduler only ever needs to
// switch on Kind once per response.
//
// Children of Branch and Extension nodes are themselves *Node values: a
// HashRef child carries just Hash, an inline (embedded) child carries a
// fully decoded sub-node, and an absent child is nil.
type Node struct {
	Kind NodeKind

	// Leaf
	Key   []byte // hex-nibble key with the terminator stripped
	Value []byte // leaf value (an RLP-encoded Account for state leaves)

	// Extension
	SharedKey []byte // hex-nibble shared key segment, terminator stripped
	Next      *Node  // nil means Empty continuation

	// Branch
	Children    [16]*Node
	BranchValue []byte // value at the branch's 17th slot, if any

	// HashRef
	Hash types.Hash
}

// IsHashRef reports whether n refers to a child by content hash rather than
// embedding it inline.
func (n *Node) IsHashRef() bool {
	return n != nil && n.Kind == KindHashRef
}
