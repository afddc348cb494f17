package sync

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/eth2030/triesync/core/rawdb"
	"github.com/eth2030/triesync/crypto"
	"github.com/eth2030/triesync/rlp"
	"github.com/eth2030/triesync/storage"
	"github.com/eth2030/triesync/trie"
)

// fakeFetcher serves hashes out of in-memory maps, with optional scripted
// behavior (fail N times, answer only a subset) for exercising the driver's
// retry and partial-response paths.
type fakeFetcher struct {
	mu         sync.Mutex
	nodes      map[trie.NodeHash][]byte
	code       map[trie.NodeHash][]byte
	failNodesN int // FetchNodes errors out this many times before succeeding
	limitNodes int // if > 0, FetchNodes answers at most this many hashes per call
	calls      int
}

func (f *fakeFetcher) FetchNodes(ctx context.Context, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNodesN > 0 {
		f.failNodesN--
		return nil, errors.New("fake: simulated transient fetch failure")
	}
	out := make(map[trie.NodeHash][]byte)
	for i, h := range hashes {
		if f.limitNodes > 0 && i >= f.limitNodes {
			break
		}
		if data, ok := f.nodes[h]; ok {
			out[h] = data
		}
	}
	return out, nil
}

func (f *fakeFetcher) FetchCode(ctx context.Context, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[trie.NodeHash][]byte)
	for _, h := range hashes {
		if data, ok := f.code[h]; ok {
			out[h] = data
		}
	}
	return out, nil
}

func newTestStore() *storage.Store {
	return storage.New(rawdb.NewMemoryDB(), 1<<20)
}

func encodeTestLeaf(t *testing.T, keyNibbles []byte, value []byte) []byte {
	t.Helper()
	key := append(append([]byte{}, keyNibbles...), 16) // terminatorByte
	compact := hexToCompactForTest(key)
	b, err := rlp.EncodeToBytes([][]byte{compact, value})
	if err != nil {
		t.Fatalf("encode leaf: %v", err)
	}
	return b
}

// hexToCompactForTest re-implements just enough of the hex-prefix encoding
// to build test fixtures without exporting trie package internals.
func hexToCompactForTest(hex []byte) []byte {
	terminator := byte(0)
	if len(hex) > 0 && hex[len(hex)-1] == 16 {
		terminator = 1
		hex = hex[:len(hex)-1]
	}
	buf := make([]byte, len(hex)/2+1)
	buf[0] = terminator << 5
	if len(hex)&1 == 1 {
		buf[0] |= 1 << 4
		buf[0] |= hex[0]
		hex = hex[1:]
	}
	for bi, ni := 0, 0; ni < len(hex); bi, ni = bi+1, ni+2 {
		buf[1+bi] = hex[ni]<<4 | hex[ni+1]
	}
	return buf
}

func encodeTestAccount(t *testing.T, nonce uint64, root, codeHash trie.NodeHash) []byte {
	t.Helper()
	acc := struct {
		Nonce    uint64
		Balance  *big.Int
		Root     []byte
		CodeHash []byte
	}{Nonce: nonce, Balance: big.NewInt(1), Root: root.Bytes(), CodeHash: codeHash.Bytes()}
	b, err := rlp.EncodeToBytes(acc)
	if err != nil {
		t.Fatalf("encode account: %v", err)
	}
	return b
}

func TestDriverRunSingleLeaf(t *testing.T) {
	leaf := encodeTestLeaf(t, []byte{1, 2}, encodeTestAccount(t, 1, trie.EmptyTrieRoot, trie.EmptyCodeHash))
	root := crypto.Keccak256Hash(leaf)

	store := newTestStore()
	fetcher := &fakeFetcher{nodes: map[trie.NodeHash][]byte{root: leaf}, code: map[trie.NodeHash][]byte{}}
	driver := NewDriver(store, fetcher, WithBatchSize(10), WithFlushEvery(1))

	if err := driver.Run(context.Background(), root, 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, ok, err := store.GetMptNode(root)
	if err != nil || !ok {
		t.Fatalf("root not persisted: %v %v %v", data, ok, err)
	}

	snap := driver.Progress()
	if snap.Stage != StageComplete {
		t.Fatalf("stage = %v, want complete", snap.Stage)
	}
	if snap.NodesCommitted != 1 {
		t.Fatalf("nodes committed = %d, want 1", snap.NodesCommitted)
	}
}

func TestDriverRunNothingToSync(t *testing.T) {
	store := newTestStore()
	fetcher := &fakeFetcher{nodes: map[trie.NodeHash][]byte{}, code: map[trie.NodeHash][]byte{}}
	driver := NewDriver(store, fetcher)

	if err := driver.Run(context.Background(), trie.EmptyTrieRoot, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetcher should never be called for the empty root")
	}
}

func TestDriverRetriesOnFetchError(t *testing.T) {
	leaf := encodeTestLeaf(t, []byte{3}, encodeTestAccount(t, 0, trie.EmptyTrieRoot, trie.EmptyCodeHash))
	root := crypto.Keccak256Hash(leaf)

	store := newTestStore()
	fetcher := &fakeFetcher{nodes: map[trie.NodeHash][]byte{root: leaf}, failNodesN: 2}
	driver := NewDriver(store, fetcher, WithRetryBackoff(time.Millisecond))

	if err := driver.Run(context.Background(), root, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("fetcher calls = %d, want 3 (2 failures + 1 success)", fetcher.calls)
	}
	if _, ok, _ := store.GetMptNode(root); !ok {
		t.Fatal("root should eventually be persisted")
	}
}

func TestDriverRequeuesPartialResponses(t *testing.T) {
	leafA := encodeTestLeaf(t, []byte{1}, encodeTestAccount(t, 0, trie.EmptyTrieRoot, trie.EmptyCodeHash))
	leafB := encodeTestLeaf(t, []byte{2}, encodeTestAccount(t, 0, trie.EmptyTrieRoot, trie.EmptyCodeHash))
	hashA := crypto.Keccak256Hash(leafA)
	hashB := crypto.Keccak256Hash(leafB)

	branchElems := make([][]byte, 17)
	for i := range branchElems {
		branchElems[i] = []byte{}
	}
	branchElems[1] = hashA.Bytes()
	branchElems[2] = hashB.Bytes()
	branch, err := rlp.EncodeToBytes(branchElems)
	if err != nil {
		t.Fatalf("encode branch: %v", err)
	}
	root := crypto.Keccak256Hash(branch)

	store := newTestStore()
	fetcher := &fakeFetcher{
		nodes:      map[trie.NodeHash][]byte{root: branch, hashA: leafA, hashB: leafB},
		limitNodes: 1, // only answers one hash per round, forcing requeues
	}
	driver := NewDriver(store, fetcher, WithBatchSize(10), WithRetryBackoff(time.Millisecond))

	if err := driver.Run(context.Background(), root, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, h := range []trie.NodeHash{root, hashA, hashB} {
		if _, ok, _ := store.GetMptNode(h); !ok {
			t.Fatalf("hash %v not persisted", h)
		}
	}
}

func TestDriverPropagatesCriticalError(t *testing.T) {
	bogus := []byte{0xff, 0xff, 0xff}
	root := crypto.Keccak256Hash(bogus)

	store := newTestStore()
	fetcher := &fakeFetcher{nodes: map[trie.NodeHash][]byte{root: bogus}}
	driver := NewDriver(store, fetcher)

	err := driver.Run(context.Background(), root, 1)
	if err == nil {
		t.Fatal("expected an error for an undecodable root response")
	}
	if driver.Progress().Stage != StageFailed {
		t.Fatalf("stage = %v, want failed", driver.Progress().Stage)
	}
}

func TestDriverRespectsContextCancellation(t *testing.T) {
	leaf := encodeTestLeaf(t, []byte{9}, encodeTestAccount(t, 0, trie.EmptyTrieRoot, trie.EmptyCodeHash))
	root := crypto.Keccak256Hash(leaf)

	store := newTestStore()
	fetcher := &fakeFetcher{nodes: map[trie.NodeHash][]byte{}} // never answers
	driver := NewDriver(store, fetcher, WithRetryBackoff(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := driver.Run(ctx, root, 1)
	if err == nil {
		t.Fatal("expected context cancellation to surface as an error")
	}
}
