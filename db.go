// Package yakv is a single-file, durable, ordered key-value store
// backed by an on-disk B-tree. See storage for the page codec, page
// cache and tree engine this package is a thin facade over.
package yakv

import (
	"yakv/storage"
)

// ErrNotFound, ErrEntryTooLarge, BadFormat, IoError and Corrupt are
// re-exported from storage so callers never need to import it
// directly to use errors.Is/errors.As against facade calls.
var (
	ErrNotFound      = storage.ErrNotFound
	ErrEntryTooLarge = storage.ErrEntryTooLarge
)

type (
	BadFormat = storage.BadFormat
	IoError   = storage.IoError
	Corrupt   = storage.Corrupt
)

// Stats reports tree shape: entry count, height, the number of pages
// reachable from the root and free-list length. An addition beyond the
// minimal facade spec, useful for the CLI's STATS command and bench
// reporting.
type Stats = storage.Stats

// Db is a single open database file. It is not safe for concurrent
// use: the concurrency model is single-writer, synchronous, one
// logical caller at a time (see storage.Engine).
type Db struct {
	file   *storage.File
	pool   *storage.Pool
	engine *storage.Engine
	opts   Options
}

// Create initializes a new database file at path with the given
// options and returns it open. The file must not already exist.
func Create(path string, opts Options) (*Db, error) {
	if opts.PageSize == 0 {
		opts = DefaultOptions()
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}
	if opts.UnderflowRatio <= 0 || opts.UnderflowRatio > 0.5 {
		opts.UnderflowRatio = DefaultUnderflowRatio
	}

	file, err := storage.CreateFile(path, opts.PageSize)
	if err != nil {
		return nil, err
	}
	pool := storage.NewPool(file, opts.CacheCapacity)
	engine := storage.NewEngine(pool, opts.PageSize, opts.UnderflowRatio, opts.FlushOnMutate)
	return &Db{file: file, pool: pool, engine: engine, opts: opts}, nil
}

// Open opens an existing database file at path, reading its
// configuration from the file header. CacheCapacity, UnderflowRatio
// and FlushOnMutate are not persisted, so callers wanting non-default
// values for those pass them via opts; PageSize in opts is ignored in
// favor of the value recorded in the file.
func Open(path string, opts Options) (*Db, error) {
	file, err := storage.OpenFile(path)
	if err != nil {
		return nil, err
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}
	if opts.UnderflowRatio <= 0 || opts.UnderflowRatio > 0.5 {
		opts.UnderflowRatio = DefaultUnderflowRatio
	}
	opts.PageSize = file.PageSize()

	pool := storage.NewPool(file, opts.CacheCapacity)
	engine := storage.NewEngine(pool, opts.PageSize, opts.UnderflowRatio, opts.FlushOnMutate)
	return &Db{file: file, pool: pool, engine: engine, opts: opts}, nil
}

// Lookup returns the value stored for key, or ErrNotFound.
func (db *Db) Lookup(key []byte) ([]byte, error) {
	return db.engine.Lookup(key)
}

// Insert stores value under key, overwriting any existing value for
// key. Returns ErrEntryTooLarge if (key, value) cannot fit in an empty
// page. A successful return implies the mutation is durable when
// FlushOnMutate is set (the default).
func (db *Db) Insert(key, value []byte) error {
	return db.engine.Insert(key, value)
}

// Remove deletes key if present; it is not an error for key to be
// absent.
func (db *Db) Remove(key []byte) error {
	return db.engine.Remove(key)
}

// Min returns the smallest key in the tree and its value, or
// ErrNotFound if the tree is empty.
func (db *Db) Min() (key, value []byte, err error) {
	return db.engine.Min()
}

// Max returns the largest key in the tree and its value, or
// ErrNotFound if the tree is empty.
func (db *Db) Max() (key, value []byte, err error) {
	return db.engine.Max()
}

// Above returns the smallest key strictly greater than key and its
// value, or ErrNotFound if no such key exists.
func (db *Db) Above(key []byte) (nextKey, value []byte, err error) {
	return db.engine.Above(key)
}

// Below returns the largest key strictly less than key and its value,
// or ErrNotFound if no such key exists.
func (db *Db) Below(key []byte) (prevKey, value []byte, err error) {
	return db.engine.Below(key)
}

// Flush writes back every dirty resident page and fsyncs the file.
// Calling it twice in a row without an intervening mutation is
// equivalent to calling it once (L5): the second call finds nothing
// dirty and still fsyncs, which is a no-op on stable storage.
func (db *Db) Flush() error {
	return db.engine.Flush()
}

// Close flushes and releases the underlying file handle. The Db must
// not be used afterward.
func (db *Db) Close() error {
	return db.pool.Close()
}

// Verify walks the whole tree and free list, checking invariants V1
// through V6 (equal leaf depth, sorted/unique pages, byte-occupancy
// lower bound, parent pointers, separator bracketing, and that the
// free list and reachable set partition the file's pages). It returns
// the first violation found as a *Corrupt, or nil.
func (db *Db) Verify() error {
	return db.engine.Verify()
}

// Count returns the number of entries currently stored.
func (db *Db) Count() (int, error) {
	return db.engine.Count()
}

// Height returns the number of levels from root to leaf, inclusive.
func (db *Db) Height() (int, error) {
	return db.engine.Height()
}

// Stats reports overall tree shape in one call.
func (db *Db) Stats() (Stats, error) {
	return db.engine.Stats()
}

// GetAllKeys returns every key in ascending order. Intended for tests
// and tooling, not for production iteration over large trees.
func (db *Db) GetAllKeys() ([][]byte, error) {
	return db.engine.GetAllKeys()
}

// PageSize reports the page size this database was created with.
func (db *Db) PageSize() uint32 {
	return db.file.PageSize()
}
