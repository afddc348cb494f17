package trie

import (
	"bytes"
	"testing"

	"github.com/eth2030/triesync/core/types"
	"github.com/eth2030/triesync/rlp"
)

func mustEncode(t *testing.T, val any) []byte {
	t.Helper()
	b, err := rlp.EncodeToBytes(val)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestDecodeNodeEmpty(t *testing.T) {
	n, err := DecodeNode(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Kind != KindEmpty {
		t.Fatalf("got kind %v, want empty", n.Kind)
	}
}

func TestDecodeNodeLeaf(t *testing.T) {
	key := hexToCompact([]byte{1, 2, 3, terminatorByte})
	data := mustEncode(t, [][]byte{key, []byte("leaf-value")})

	n, err := DecodeNode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Kind != KindLeaf {
		t.Fatalf("got kind %v, want leaf", n.Kind)
	}
	if !bytes.Equal(n.Key, []byte{1, 2, 3}) {
		t.Fatalf("key = %v, want [1 2 3]", n.Key)
	}
	if string(n.Value) != "leaf-value" {
		t.Fatalf("value = %q", n.Value)
	}
}

func TestDecodeNodeExtensionToHashRef(t *testing.T) {
	key := hexToCompact([]byte{0xa, 0xb})
	child := bytes.Repeat([]byte{0x42}, types.HashLength)
	data := mustEncode(t, [][]byte{key, child})

	n, err := DecodeNode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Kind != KindExtension {
		t.Fatalf("got kind %v, want extension", n.Kind)
	}
	if len(n.SharedKey) != 2 {
		t.Fatalf("sharedKey len = %d, want 2", len(n.SharedKey))
	}
	if !n.Next.IsHashRef() {
		t.Fatalf("expected hashref continuation")
	}
	if n.Next.Hash != types.BytesToHash(child) {
		t.Fatalf("hash mismatch")
	}
}

func TestDecodeNodeExtensionToEmpty(t *testing.T) {
	key := hexToCompact([]byte{0x1})
	data := mustEncode(t, [][]byte{key, []byte{}})

	n, err := DecodeNode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Next != nil {
		t.Fatalf("expected nil (empty) continuation, got %v", n.Next)
	}
}

func TestDecodeNodeBranch(t *testing.T) {
	elems := make([][]byte, 17)
	for i := range elems {
		elems[i] = []byte{}
	}
	child5 := bytes.Repeat([]byte{0x09}, types.HashLength)
	elems[5] = child5
	elems[16] = []byte("branch-value")

	data := mustEncode(t, elems)
	n, err := DecodeNode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Kind != KindBranch {
		t.Fatalf("got kind %v, want branch", n.Kind)
	}
	for i, c := range n.Children {
		if i == 5 {
			if !c.IsHashRef() || c.Hash != types.BytesToHash(child5) {
				t.Fatalf("slot 5 = %v, want hashref %x", c, child5)
			}
			continue
		}
		if c != nil {
			t.Fatalf("slot %d = %v, want nil", i, c)
		}
	}
	if string(n.BranchValue) != "branch-value" {
		t.Fatalf("branch value = %q", n.BranchValue)
	}
}

func TestDecodeNodeBranchWithInlineChild(t *testing.T) {
	inlineLeafKey := hexToCompact([]byte{0x3, terminatorByte})
	inlineLeaf := mustEncode(t, [][]byte{inlineLeafKey, []byte("tiny")})

	elems := make([][]byte, 17)
	for i := range elems {
		elems[i] = []byte{}
	}
	elems[0] = inlineLeaf

	data := mustEncode(t, elems)
	n, err := DecodeNode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	child := n.Children[0]
	if child == nil || child.Kind != KindLeaf {
		t.Fatalf("slot 0 = %v, want an inline leaf", child)
	}
	if string(child.Value) != "tiny" {
		t.Fatalf("inline leaf value = %q", child.Value)
	}
}

func TestDecodeNodeRejectsWrongArity(t *testing.T) {
	data := mustEncode(t, [][]byte{{1}, {2}, {3}})
	if _, err := DecodeNode(data); err == nil {
		t.Fatal("expected error for a 3-element list")
	}
}
