package trie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/eth2030/triesync/core/types"
	"github.com/eth2030/triesync/rlp"
)

// errDecodeInvalid is wrapped into more specific messages by DecodeNode; it
// is never returned bare so callers can always fmt.Errorf-match on it.
var errDecodeInvalid = errors.New("trie: invalid encoded node")

// DecodeNode decodes an RLP-encoded MPT node into the tagged Node shape the
// scheduler consumes. Top-level responses are expected to be a Leaf,
// Extension, or Branch; a bare hash reference or empty string at the top
// level decodes to KindHashRef / KindEmpty respectively and carries no
// children, matching the data model's "any other decoded shape" case.
func DecodeNode(data []byte) (*Node, error) {
	if len(data) == 0 {
		return &Node{Kind: KindEmpty}, nil
	}

	top := rlp.NewStream(bytes.NewReader(data))
	if kind, _, err := top.Kind(); err == nil && kind != rlp.List {
		str, err := top.Bytes()
		if err != nil || top.More() {
			return nil, fmt.Errorf("%w: malformed top-level string", errDecodeInvalid)
		}
		switch len(str) {
		case 0:
			return &Node{Kind: KindEmpty}, nil
		case types.HashLength:
			return &Node{Kind: KindHashRef, Hash: types.BytesToHash(str)}, nil
		}
		return nil, fmt.Errorf("%w: top-level string of %d bytes", errDecodeInvalid, len(str))
	}

	elems, err := decodeRLPList(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDecodeInvalid, err)
	}

	switch len(elems) {
	case 2:
		return decodeShort(elems)
	case 17:
		return decodeFull(elems)
	default:
		return nil, fmt.Errorf("%w: expected 2 or 17 elements, got %d", errDecodeInvalid, len(elems))
	}
}

// decodeShort decodes a 2-element RLP list into a Leaf or Extension node.
func decodeShort(elems [][]byte) (*Node, error) {
	key := compactToHex(elems[0])

	if hasTerm(key) {
		return &Node{
			Kind:  KindLeaf,
			Key:   key[:len(key)-1],
			Value: elems[1],
		}, nil
	}

	next, err := decodeRef(elems[1])
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind:      KindExtension,
		SharedKey: key,
		Next:      next,
	}, nil
}

// decodeFull decodes a 17-element RLP list into a Branch node.
func decodeFull(elems [][]byte) (*Node, error) {
	n := &Node{Kind: KindBranch}
	for i := 0; i < 16; i++ {
		if len(elems[i]) == 0 {
			continue
		}
		child, err := decodeRef(elems[i])
		if err != nil {
			return nil, err
		}
		n.Children[i] = child
	}
	if len(elems[16]) > 0 {
		n.BranchValue = elems[16]
	}
	return n, nil
}

// decodeRef decodes a child reference slot: a 32-byte string is a hash
// reference, an empty string is absent (represented as a nil *Node by the
// caller), and anything else is an inline-embedded sub-node decoded
// recursively.
func decodeRef(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) == types.HashLength {
		return &Node{Kind: KindHashRef, Hash: types.BytesToHash(data)}, nil
	}
	return DecodeNode(data)
}

// decodeRLPList decodes a top-level RLP list into its element byte slices,
// using the rlp package's Stream rather than re-parsing headers by hand.
// String/byte elements come back stripped of their length header; a
// list-shaped element (an inline-embedded sub-node) comes back whole, header
// included, so decodeRef can feed it straight back into DecodeNode.
func decodeRLPList(data []byte) ([][]byte, error) {
	s := rlp.NewStream(bytes.NewReader(data))
	if _, err := s.List(); err != nil {
		if err == rlp.ErrExpectedList {
			return nil, fmt.Errorf("%w: expected list", errDecodeInvalid)
		}
		return nil, fmt.Errorf("%w: %v", errDecodeInvalid, err)
	}

	var elems [][]byte
	for s.More() {
		elem, err := s.Element()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errDecodeInvalid, err)
		}
		elems = append(elems, elem)
	}
	if err := s.ListEnd(); err != nil {
		return nil, fmt.Errorf("%w: %v", errDecodeInvalid, err)
	}
	return elems, nil
}
