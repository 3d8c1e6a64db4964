package storage

import (
	"container/list"
	"errors"
	"sort"
)

// errCacheExhausted is returned when every resident page is pinned by
// an in-flight traversal and no room can be made for a new one. A
// traversal keeps every page it pins until the facade call returns:
// a lookup or insert holds its descent path (plus, on a split, the
// children it reparents), while whole-tree walks such as Count, Stats
// and Verify hold every page they visit, so those need a capacity at
// least the tree's page count.
var errCacheExhausted = errors.New("yakv: page cache exhausted, all resident pages pinned")

// DefaultCacheCapacity is chosen so cache_capacity * page_size lands
// in the low single-digit MiB range at the default 4096-byte page
// size (spec: "a few MiB").
const DefaultCacheCapacity = 1024

type cacheEntry struct {
	pg     *page
	pinned int
	elem   *list.Element // element in lru, Value is this entry's id
}

// Pool is the fixed-capacity resident set the tree engine reads and
// writes pages through. It loads on miss, tracks dirty pages, and
// evicts least-recently-used entries when full — never one that is
// currently pinned by an in-flight traversal.
type Pool struct {
	file     *File
	capacity int
	entries  map[uint32]*cacheEntry
	lru      *list.List // front = most recently used
}

func NewPool(file *File, capacity int) *Pool {
	if capacity < 1 {
		capacity = DefaultCacheCapacity
	}
	return &Pool{
		file:     file,
		capacity: capacity,
		entries:  make(map[uint32]*cacheEntry),
		lru:      list.New(),
	}
}

func (p *Pool) touch(e *cacheEntry) {
	p.lru.MoveToFront(e.elem)
}

// Pin borrows the page at id for the duration of a traversal step,
// loading it from disk on miss. The caller must call Unpin exactly
// once when done. The returned page must not be mutated unless the
// caller also calls MarkDirty.
func (p *Pool) Pin(id uint32) (*page, error) {
	if e, ok := p.entries[id]; ok {
		e.pinned++
		p.touch(e)
		return e.pg, nil
	}
	if err := p.ensureRoom(); err != nil {
		return nil, err
	}
	pg, err := p.file.ReadPage(id)
	if err != nil {
		return nil, err
	}
	e := &cacheEntry{pg: pg, pinned: 1}
	e.elem = p.lru.PushFront(id)
	p.entries[id] = e
	return pg, nil
}

// Unpin releases a borrow taken by Pin or Allocate.
func (p *Pool) Unpin(id uint32) {
	if e, ok := p.entries[id]; ok && e.pinned > 0 {
		e.pinned--
	}
}

// MarkDirty marks the resident page at id for write-back at the next
// Flush.
func (p *Pool) MarkDirty(id uint32) {
	if e, ok := p.entries[id]; ok {
		e.pg.dirty = true
	}
}

// Allocate returns a fresh, pinned, dirty page: popped from the
// on-disk free list if one exists, otherwise grown at the end of the
// file.
func (p *Pool) Allocate(leaf bool) (*page, error) {
	if err := p.ensureRoom(); err != nil {
		return nil, err
	}

	var id uint32
	if p.file.FreeHead() != noFreePage {
		var err error
		id, err = p.popFreeList()
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		id, err = p.file.Grow()
		if err != nil {
			return nil, err
		}
	}

	pg := newPage(id, p.file.PageSize(), leaf)
	e := &cacheEntry{pg: pg, pinned: 1}
	e.elem = p.lru.PushFront(id)
	p.entries[id] = e
	return pg, nil
}

// popFreeList reads the page at the free-list head and follows its
// next link (stored in parentID while free). The new free_head is
// staged, not written immediately: it only becomes durable once the
// page that consumed this id is itself flushed.
func (p *Pool) popFreeList() (uint32, error) {
	id := p.file.FreeHead()
	marker, err := p.readForInternalUse(id)
	if err != nil {
		return 0, err
	}
	p.file.StageFreeHead(marker.parentID)
	return id, nil
}

// readForInternalUse loads a page bypassing pin bookkeeping, used only
// for free-list marker pages the caller does not hold onto.
func (p *Pool) readForInternalUse(id uint32) (*page, error) {
	if e, ok := p.entries[id]; ok {
		return e.pg, nil
	}
	return p.file.ReadPage(id)
}

// Free pushes id onto the free list and drops it from the cache; its
// contents are replaced with a free-list marker pointing at the
// previous head. The new free_head is staged; see StageFreeHead.
func (p *Pool) Free(id uint32) error {
	prevHead := p.file.FreeHead()
	marker := newFreePage(id, p.file.PageSize(), prevHead)

	if e, ok := p.entries[id]; ok {
		p.lru.Remove(e.elem)
		delete(p.entries, id)
	}
	if err := p.file.WritePage(marker); err != nil {
		return err
	}
	p.file.StageFreeHead(id)
	return nil
}

// ensureRoom evicts entries until the cache has room for one more,
// or returns an error if every resident page is pinned.
func (p *Pool) ensureRoom() error {
	if len(p.entries) < p.capacity {
		return nil
	}
	if p.evictClean() {
		return nil
	}
	evicted, err := p.evictDirty()
	if err != nil {
		return err
	}
	if evicted {
		return nil
	}
	return ioErrNoPage("cache evict", errCacheExhausted)
}

// evictClean removes the least-recently-used unpinned clean page, if
// any, returning whether it found one.
func (p *Pool) evictClean() bool {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		id := el.Value.(uint32)
		e := p.entries[id]
		if e.pinned == 0 && !e.pg.dirty {
			p.lru.Remove(el)
			delete(p.entries, id)
			return true
		}
	}
	return false
}

// evictDirty forces a write-back of the least-recently-used unpinned
// page (which, since evictClean already failed, must be dirty), then
// evicts it. A write failure aborts the current operation rather than
// being skipped, since silently trying the next-oldest page could
// mask a systemic I/O problem.
func (p *Pool) evictDirty() (bool, error) {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		id := el.Value.(uint32)
		e := p.entries[id]
		if e.pinned == 0 {
			if err := p.file.WritePage(e.pg); err != nil {
				return false, err
			}
			e.pg.dirty = false
			p.lru.Remove(el)
			delete(p.entries, id)
			return true, nil
		}
	}
	return false, nil
}

// Flush writes back every dirty resident page in ascending id order,
// then the header if a root or free-list change is staged, then fsyncs
// the file. The header is written last so a root/free_head update is
// never made durable ahead of the pages it depends on.
func (p *Pool) Flush() error {
	ids := make([]uint32, 0, len(p.entries))
	for id, e := range p.entries {
		if e.pg.dirty {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := p.entries[id]
		if err := p.file.WritePage(e.pg); err != nil {
			return err
		}
		e.pg.dirty = false
	}
	if err := p.file.FlushHeader(); err != nil {
		return err
	}
	return p.file.Sync()
}

func (p *Pool) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	return p.file.Close()
}
