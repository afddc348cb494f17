package trie

import "github.com/eth2030/triesync/core/types"

// NodeHash is the content address of a trie node or code blob: the
// Keccak-256 hash of its encoded bytes.
type NodeHash = types.Hash

// maxMptTrieDepth bounds the depth the priority heap needs to distinguish;
// it is also the depth assigned to Code and StorageNode fan-out requests so
// they are drained ahead of any node still being discovered.
const maxMptTrieDepth = 64

// PendingRequest is the bookkeeping record for a hash that is known to be
// needed but not yet flushed to storage.
//
// Parents is intentionally a slice, not a set: distinct branch slots that
// reference the same child hash must each appear once, so that commit
// decrements the right number of dependency counters.
type PendingRequest struct {
	Hash         NodeHash
	Data         []byte // nil until a response has been accepted
	Kind         RequestKind
	Parents      []NodeHash
	Depth        int
	Dependencies int

	heapIndex int // maintained by container/heap; -1 when not in the queue
}

// HasData reports whether a response has already been accepted for this
// request.
func (r *PendingRequest) HasData() bool { return r.Data != nil }

// batchEntry is a committed-but-not-yet-flushed write.
type batchEntry struct {
	Data []byte
	Kind RequestKind
}

// SchedulerState holds the three pieces of bookkeeping the scheduler engine
// operates on: active requests, the priority queue of not-yet-dispatched
// hashes, and the write batch awaiting flush.
//
// The data model describes these mutations as producing a new state value.
// This implementation has a single logical owner at a time (the driver
// serializes every call per §5), so the engine mutates the maps and heap in
// place rather than copying them; no caller ever observes a state value
// that is being concurrently mutated by another owner, which is the
// property the "pure value" framing is protecting.
type SchedulerState struct {
	active map[NodeHash]*PendingRequest
	queue  requestHeap
	batch  map[NodeHash]batchEntry
}

// newSchedulerState returns an empty state.
func newSchedulerState() *SchedulerState {
	return &SchedulerState{
		active: make(map[NodeHash]*PendingRequest),
		batch:  make(map[NodeHash]batchEntry),
	}
}

// PendingCount returns the number of requests tracked in active, whether or
// not they have been dispatched yet.
func (s *SchedulerState) PendingCount() int {
	return len(s.active)
}

// MissingCount returns the number of hashes still sitting in the priority
// queue, i.e. scheduled but not yet handed to the driver via TakeMissing.
func (s *SchedulerState) MissingCount() int {
	return len(s.queue)
}

// BatchSize returns the number of committed-but-unflushed entries.
func (s *SchedulerState) BatchSize() int {
	return len(s.batch)
}

// KindOf reports the RequestKind a still-active hash was scheduled under.
// Callers (the driver) use this to split a batch of hashes taken from
// TakeMissing into separate node and code fetches.
func (s *SchedulerState) KindOf(hash NodeHash) (RequestKind, bool) {
	req, ok := s.active[hash]
	if !ok {
		return 0, false
	}
	return req.Kind, true
}

// requestHeap is a container/heap.Interface ordering PendingRequests by
// descending depth: deeper nodes pop first, per §3's stated purpose of
// draining deep subtrees early to bound the size of `active`.
type requestHeap []*PendingRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool { return h[i].Depth > h[j].Depth }

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *requestHeap) Push(x any) {
	req := x.(*PendingRequest)
	req.heapIndex = len(*h)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.heapIndex = -1
	*h = old[:n-1]
	return req
}
