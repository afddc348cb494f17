// Package storage adapts the generic key-value layer in core/rawdb into
// the trie.Store seam the scheduler calls into: content-addressed reads
// and writes for trie nodes and contract code, fronted by an in-memory
// cache so a hot hash (shared by many parents, per a trie's structural
// sharing) does not round-trip to disk on every probe.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/eth2030/triesync/core/rawdb"
	"github.com/eth2030/triesync/trie"
)

// Store implements trie.Store over a rawdb.Database, with a read-through
// fastcache in front of both node and code lookups.
//
// Trie-node rows are stored as blockNumber(8 bytes BE) || data, so a
// pruning sweep (not implemented here, but a natural extension) can tell
// how recently a node was last written without a second index.
type Store struct {
	db    rawdb.Database
	batch *rawdb.BatchWriter
	nodes *fastcache.Cache
	code  *fastcache.Cache
}

// New wraps db with read-through caches sized cacheSizeBytes each for
// trie nodes and code. Writes are buffered through a rawdb.BatchWriter and
// committed on Flush, so a round's worth of trie-node/code puts becomes one
// atomic batch write instead of one round-trip per node.
func New(db rawdb.Database, cacheSizeBytes int) *Store {
	return &Store{
		db:    db,
		batch: rawdb.NewBatchWriter(db),
		nodes: fastcache.New(cacheSizeBytes),
		code:  fastcache.New(cacheSizeBytes),
	}
}

var _ trie.Store = (*Store)(nil)

func (s *Store) GetMptNode(hash trie.NodeHash) ([]byte, bool, error) {
	key := rawdb.TrieNodeKey(hash)
	if cached, ok := s.nodes.HasGet(nil, key); ok {
		return stripBlockNumber(cached), true, nil
	}
	raw, err := s.db.Get(key)
	if err == rawdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get mpt node %s: %w", hash, err)
	}
	s.nodes.Set(key, raw)
	return stripBlockNumber(raw), true, nil
}

func (s *Store) GetCode(hash trie.NodeHash) ([]byte, bool, error) {
	key := rawdb.CodeKey(hash)
	if cached, ok := s.code.HasGet(nil, key); ok {
		return cached, true, nil
	}
	raw, err := s.db.Get(key)
	if err == rawdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get code %s: %w", hash, err)
	}
	s.code.Set(key, raw)
	return raw, true, nil
}

func (s *Store) PutMptNode(hash trie.NodeHash, data []byte, blockNumber uint64) error {
	key := rawdb.TrieNodeKey(hash)
	val := prependBlockNumber(blockNumber, data)
	if err := s.batch.Put(key, val); err != nil {
		return fmt.Errorf("storage: put mpt node %s: %w", hash, err)
	}
	s.nodes.Set(key, val)
	return nil
}

func (s *Store) PutCode(hash trie.NodeHash, data []byte) error {
	key := rawdb.CodeKey(hash)
	if err := s.batch.Put(key, data); err != nil {
		return fmt.Errorf("storage: put code %s: %w", hash, err)
	}
	s.code.Set(key, data)
	return nil
}

// Flush commits every node/code write buffered since the last Flush as one
// batch. The cache was already updated eagerly in PutMptNode/PutCode, so a
// reader never observes a gap between "written" and "flushed" — only the
// backing store does.
func (s *Store) Flush() error {
	if err := s.batch.Flush(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	return nil
}

// Has reports whether the given hash is already present as either a trie
// node or a code blob, without distinguishing which.
func (s *Store) Has(hash trie.NodeHash) (bool, error) {
	if _, ok, err := s.GetMptNode(hash); ok || err != nil {
		return ok, err
	}
	_, ok, err := s.GetCode(hash)
	return ok, err
}

func (s *Store) Close() error {
	if err := s.batch.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	return s.db.Close()
}

func prependBlockNumber(blockNumber uint64, data []byte) []byte {
	out := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(out, blockNumber)
	copy(out[8:], data)
	return out
}

func stripBlockNumber(val []byte) []byte {
	if len(val) < 8 {
		return nil
	}
	return val[8:]
}
