// Package trie implements the state-sync scheduling engine: given a target
// state-root hash, it tracks every trie node and code blob transitively
// reachable from that root, drains missing hashes for a driver to fetch,
// accepts responses in arbitrary order, and commits nodes to a write batch
// only once every one of their children is already durable.
package trie

import (
	"bytes"
	"container/heap"
	"fmt"

	"github.com/eth2030/triesync/core/types"
)

// EmptyTrieRoot is the canonical root hash of an empty MPT:
// Keccak-256(RLP(empty byte string)).
var EmptyTrieRoot = types.EmptyRootHash

// EmptyCodeHash is Keccak-256 of the empty byte string, the codeHash an EOA
// (or any account with no code) carries.
var EmptyCodeHash = types.EmptyCodeHash

// Response is a single piece of data delivered by the driver in answer to a
// previously dispatched request.
type Response struct {
	Hash NodeHash
	Data []byte
}

// Init seeds a fresh SchedulerState for targetRoot. It returns a nil state
// (and no error) when there is nothing to do: targetRoot is the empty-trie
// root, or the store already holds a node under that hash.
func Init(store Store, targetRoot NodeHash) (*SchedulerState, error) {
	if targetRoot == EmptyTrieRoot {
		return nil, nil
	}
	_, ok, err := store.GetMptNode(targetRoot)
	if err != nil {
		return nil, fmt.Errorf("trie: init: %w", err)
	}
	if ok {
		return nil, nil
	}

	state := newSchedulerState()
	root := &PendingRequest{Hash: targetRoot, Kind: StateNode, Depth: 0}
	state.active[root.Hash] = root
	heap.Push(&state.queue, root)
	return state, nil
}

// schedule inserts req into active and the queue, or, if req.Hash is
// already active, appends req.Parents onto the existing entry's parent
// list. Parents are never deduplicated: two branch slots referencing the
// same child hash must each decrement deps independently on commit.
func schedule(state *SchedulerState, req *PendingRequest) {
	if existing, ok := state.active[req.Hash]; ok {
		existing.Parents = append(existing.Parents, req.Parents...)
		return
	}
	req.heapIndex = -1
	state.active[req.Hash] = req
	heap.Push(&state.queue, req)
}

// TakeMissing pops up to max entries from the queue in descending-depth
// order and returns their hashes. The entries remain in active, awaiting a
// response.
func TakeMissing(state *SchedulerState, max int) []NodeHash {
	n := max
	if n > len(state.queue) {
		n = len(state.queue)
	}
	if n <= 0 {
		return nil
	}
	out := make([]NodeHash, 0, n)
	for i := 0; i < n; i++ {
		req := heap.Pop(&state.queue).(*PendingRequest)
		out = append(out, req.Hash)
	}
	return out
}

// TakeAllMissing drains the entire queue.
func TakeAllMissing(state *SchedulerState) []NodeHash {
	return TakeMissing(state, len(state.queue))
}

// Requeue pushes hashes previously taken by TakeMissing back onto the
// queue, for a driver that failed to fetch them and wants to retry on its
// next pass. Hashes no longer active (e.g. a concurrent fetch of the same
// hash already committed them) are silently skipped.
func Requeue(state *SchedulerState, hashes []NodeHash) {
	for _, h := range hashes {
		if req, ok := state.active[h]; ok && req.heapIndex < 0 {
			heap.Push(&state.queue, req)
		}
	}
}

// ProcessResponses folds ProcessResponse over responses in order. A
// critical error aborts the fold immediately and is returned; a
// non-critical error is passed to onNonCritical (if non-nil, e.g. to bump a
// metric) and the fold continues with the same state.
func ProcessResponses(state *SchedulerState, store Store, responses []Response, onNonCritical func(error)) error {
	for _, resp := range responses {
		if err := ProcessResponse(state, store, resp); err != nil {
			if IsCritical(err) {
				return err
			}
			if onNonCritical != nil {
				onNonCritical(err)
			}
		}
	}
	return nil
}

// ProcessResponse applies a single response to state. It returns
// ErrNotRequested or ErrAlreadyProcessed (non-critical) for responses that
// cannot apply, or ErrCannotDecodeMptNode / ErrNotAccountLeafNode
// (critical) for structurally invalid payloads.
func ProcessResponse(state *SchedulerState, store Store, resp Response) error {
	req, ok := state.active[resp.Hash]
	if !ok {
		return ErrNotRequested
	}
	if req.HasData() {
		return ErrAlreadyProcessed
	}

	data := resp.Data
	if data == nil {
		data = []byte{}
	}

	if req.Kind == Code {
		req.Data = data
		req.Dependencies = 0
		commit(state, req)
		return nil
	}

	node, err := DecodeNode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCannotDecodeMptNode, err)
	}

	children, err := computeChildren(state, store, node, req)
	if err != nil {
		return err
	}

	req.Data = data
	if len(children) == 0 && req.Dependencies == 0 {
		commit(state, req)
		return nil
	}
	req.Dependencies = len(children)
	for _, child := range children {
		schedule(state, child)
	}
	return nil
}

// computeChildren derives the new child requests a decoded node fans out
// into, filtering out any whose hash is already known (in the write batch
// or already durable in the store). Children already tracked in active are
// deliberately NOT filtered out here: they still count as an unresolved
// dependency of req, and schedule() merges req's hash onto their parent
// list when called below.
func computeChildren(state *SchedulerState, store Store, node *Node, req *PendingRequest) ([]*PendingRequest, error) {
	switch node.Kind {
	case KindLeaf:
		if req.Kind != StateNode {
			return nil, nil
		}
		return accountFanout(state, store, node, req)

	case KindBranch:
		var children []*PendingRequest
		for _, child := range node.Children {
			if !child.IsHashRef() {
				continue
			}
			known, err := isAlreadyKnown(state, store, child.Hash, req.Kind)
			if err != nil {
				return nil, fmt.Errorf("trie: check known child: %w", err)
			}
			if known {
				continue
			}
			children = append(children, &PendingRequest{
				Hash:    child.Hash,
				Kind:    req.Kind,
				Parents: []NodeHash{req.Hash},
				Depth:   req.Depth + 1,
			})
		}
		return children, nil

	case KindExtension:
		if !node.Next.IsHashRef() {
			return nil, nil
		}
		known, err := isAlreadyKnown(state, store, node.Next.Hash, req.Kind)
		if err != nil {
			return nil, fmt.Errorf("trie: check known child: %w", err)
		}
		if known {
			return nil, nil
		}
		return []*PendingRequest{{
			Hash:    node.Next.Hash,
			Kind:    req.Kind,
			Parents: []NodeHash{req.Hash},
			Depth:   req.Depth + len(node.SharedKey),
		}}, nil

	default:
		// Bare HashRef or Empty at the top level of a response: no children.
		return nil, nil
	}
}

// accountFanout decodes the account carried by a state-trie leaf and
// schedules the Code and StorageNode requests it implies, if any.
func accountFanout(state *SchedulerState, store Store, leaf *Node, req *PendingRequest) ([]*PendingRequest, error) {
	account, err := DecodeAccount(leaf.Value)
	if err != nil {
		return nil, err
	}

	var children []*PendingRequest

	if !bytes.Equal(account.CodeHash, EmptyCodeHash.Bytes()) {
		codeHash := types.BytesToHash(account.CodeHash)
		known, err := isAlreadyKnown(state, store, codeHash, Code)
		if err != nil {
			return nil, fmt.Errorf("trie: check known code: %w", err)
		}
		if !known {
			children = append(children, &PendingRequest{
				Hash:    codeHash,
				Kind:    Code,
				Parents: []NodeHash{req.Hash},
				Depth:   maxMptTrieDepth,
			})
		}
	}

	if account.Root != EmptyTrieRoot {
		known, err := isAlreadyKnown(state, store, account.Root, StorageNode)
		if err != nil {
			return nil, fmt.Errorf("trie: check known storage root: %w", err)
		}
		if !known {
			children = append(children, &PendingRequest{
				Hash:    account.Root,
				Kind:    StorageNode,
				Parents: []NodeHash{req.Hash},
				Depth:   maxMptTrieDepth,
			})
		}
	}

	return children, nil
}

// isAlreadyKnown implements §4.2: a candidate is already known if it sits
// in the unflushed batch or is already durable in the store. The active
// map is deliberately not consulted; schedule()'s merge path is what
// handles hashes already in flight.
func isAlreadyKnown(state *SchedulerState, store Store, hash NodeHash, kind RequestKind) (bool, error) {
	if _, ok := state.batch[hash]; ok {
		return true, nil
	}
	if kind == Code {
		_, ok, err := store.GetCode(hash)
		return ok, err
	}
	_, ok, err := store.GetMptNode(hash)
	return ok, err
}

// commit moves req from active into the write batch, then cascades the
// dependency decrement to each of req's parents, committing any that reach
// zero outstanding dependencies in turn.
//
// Preconditions: req.Hash is in active, req.Data is set, req.Dependencies
// is zero. A parent hash missing from active at cascade time is a
// programming error, not a runtime condition callers can trigger, and is
// treated as unrecoverable per §7.
func commit(state *SchedulerState, req *PendingRequest) {
	delete(state.active, req.Hash)
	state.batch[req.Hash] = batchEntry{Data: req.Data, Kind: req.Kind}

	for _, parentHash := range req.Parents {
		parent, ok := state.active[parentHash]
		if !ok {
			panic(fmt.Sprintf("trie: commit cascade: parent %s of %s missing from active", parentHash, req.Hash))
		}
		parent.Dependencies--
		if parent.Dependencies == 0 && parent.HasData() {
			commit(state, parent)
		}
	}
}

// Flush drains the write batch into store, tagging trie nodes with
// blockNumber, and resets the batch to empty. The per-item Puts are issued
// first, then store.Flush() commits them as one unit — letting a store
// implementation that buffers writes internally (see storage.Store) turn an
// entire round's worth of commits into a single batched write instead of
// one round-trip per node.
func Flush(state *SchedulerState, store Store, blockNumber uint64) error {
	for hash, entry := range state.batch {
		var err error
		if entry.Kind == Code {
			err = store.PutCode(hash, entry.Data)
		} else {
			err = store.PutMptNode(hash, entry.Data, blockNumber)
		}
		if err != nil {
			return fmt.Errorf("trie: flush %s: %w", hash, err)
		}
	}
	if err := store.Flush(); err != nil {
		return fmt.Errorf("trie: flush: commit batch: %w", err)
	}
	state.batch = make(map[NodeHash]batchEntry)
	return nil
}
