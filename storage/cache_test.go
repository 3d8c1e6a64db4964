package storage

import (
	"path/filepath"
	"testing"
)

func newTestPool(t *testing.T, pageSize uint32, capacity int) (*Pool, *File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yakv")
	f, err := CreateFile(path, pageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return NewPool(f, capacity), f
}

func TestPoolPinLoadsFromDisk(t *testing.T) {
	pool, _ := newTestPool(t, 512, 8)
	pg, err := pool.Pin(1)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if pg.id != 1 || !pg.leaf {
		t.Fatalf("pinned page = %+v, want empty leaf root", pg)
	}
	pool.Unpin(1)
}

func TestPoolAllocateGrowsAndPins(t *testing.T) {
	pool, file := newTestPool(t, 512, 8)
	pg, err := pool.Allocate(true)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if pg.id != 2 {
		t.Fatalf("allocated id = %d, want 2 (root already occupies 1)", pg.id)
	}
	if file.FreeHead() != noFreePage {
		t.Fatalf("FreeHead should still be empty after a grow-allocation")
	}
	pool.Unpin(pg.id)
}

func TestPoolFreeAndReallocate(t *testing.T) {
	pool, file := newTestPool(t, 512, 8)
	pg, err := pool.Allocate(true)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	id := pg.id
	pool.Unpin(id)
	if err := pool.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if file.FreeHead() != id {
		t.Fatalf("FreeHead = %d, want %d", file.FreeHead(), id)
	}

	reused, err := pool.Allocate(true)
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if reused.id != id {
		t.Fatalf("reallocated id = %d, want %d (reuse from free list)", reused.id, id)
	}
	pool.Unpin(reused.id)
}

func TestPoolEvictsLeastRecentlyUsedClean(t *testing.T) {
	pool, file := newTestPool(t, 512, 2)

	ids := make([]uint32, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := file.Grow()
		if err != nil {
			t.Fatalf("Grow: %v", err)
		}
		if err := file.WritePage(newPage(id, 512, true)); err != nil {
			t.Fatalf("seed page %d: %v", id, err)
		}
		ids = append(ids, id)
	}

	// Pin and release ids[0], then ids[1]: ids[0] is now the least
	// recently used resident page.
	for _, id := range ids[:2] {
		if _, err := pool.Pin(id); err != nil {
			t.Fatalf("Pin(%d): %v", id, err)
		}
		pool.Unpin(id)
	}

	// Capacity is 2 and both slots are full (clean, unpinned); pinning
	// a third page must evict ids[0] rather than error out.
	if _, err := pool.Pin(ids[2]); err != nil {
		t.Fatalf("Pin(%d) should evict LRU clean page: %v", ids[2], err)
	}
	pool.Unpin(ids[2])

	if _, ok := pool.entries[ids[0]]; ok {
		t.Fatalf("page %d should have been evicted", ids[0])
	}
	if _, ok := pool.entries[ids[1]]; !ok {
		t.Fatalf("page %d should still be resident", ids[1])
	}
}

func TestPoolNeverEvictsPinnedPage(t *testing.T) {
	pool, file := newTestPool(t, 512, 1)
	id, err := file.Grow()
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := file.WritePage(newPage(id, 512, true)); err != nil {
		t.Fatalf("seed page: %v", err)
	}

	pinned, err := pool.Pin(id)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	_ = pinned

	other, err := file.Grow()
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := file.WritePage(newPage(other, 512, true)); err != nil {
		t.Fatalf("seed other page: %v", err)
	}

	if _, err := pool.Pin(other); err == nil {
		t.Fatalf("expected cache-exhausted error, every slot pinned")
	}
	pool.Unpin(id)
}

func TestPoolFlushWritesDirtyPages(t *testing.T) {
	pool, file := newTestPool(t, 512, 8)
	pg, err := pool.Pin(1)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := pg.put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	pool.MarkDirty(1)
	pool.Unpin(1)

	if err := pool.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	onDisk, err := file.ReadPage(1)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if onDisk.count() != 1 {
		t.Fatalf("flushed page count = %d, want 1", onDisk.count())
	}
}
