package rawdb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a Database backed by a goleveldb instance on disk. It is the
// durable store a running node points at; MemoryDB remains the store tests
// and ephemeral tooling use.
type LevelDB struct {
	db *leveldb.DB
}

const miB = 1024 * 1024

// OpenLevelDB opens (creating if absent) a goleveldb database at path, with
// cacheSizeMB split as half for the block cache and a quarter for the
// write buffer.
func OpenLevelDB(path string, cacheSizeMB, handles int) (*LevelDB, error) {
	opts := &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cacheSizeMB / 2 * miB,
		WriteBuffer:            cacheSizeMB / 4 * miB,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

// NewBatch returns a Batch that accumulates writes and commits them
// atomically to the leveldb instance on Write.
func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

// NewIterator returns an Iterator over all keys sharing prefix, in
// ascending key order.
func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return &levelIterator{it: l.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

type levelBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *levelBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) ValueSize() int { return b.size }

func (b *levelBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *levelBatch) Reset() {
	b.b.Reset()
	b.size = 0
}

type levelIterator struct {
	it iterator.Iterator
}

func (it *levelIterator) Next() bool    { return it.it.Next() }
func (it *levelIterator) Key() []byte   { return it.it.Key() }
func (it *levelIterator) Value() []byte { return it.it.Value() }
func (it *levelIterator) Release()      { it.it.Release() }
