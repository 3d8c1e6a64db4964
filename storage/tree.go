package storage

import (
	"bytes"
	"fmt"
)

// frame is one step of a descent: the page visited and, for internal
// pages, the child slot index that was followed to get to the next
// frame. The last frame in a path always names a leaf.
type frame struct {
	id    uint32
	index int
}

// traversal accumulates every page pinned during one facade call so
// they can all be released together, regardless of how deep descent
// or split/merge propagation went.
type traversal struct {
	pool *Pool
	pins []uint32
}

func (tr *traversal) pin(id uint32) (*page, error) {
	pg, err := tr.pool.Pin(id)
	if err != nil {
		return nil, err
	}
	tr.pins = append(tr.pins, id)
	return pg, nil
}

func (tr *traversal) allocate(leaf bool) (*page, error) {
	pg, err := tr.pool.Allocate(leaf)
	if err != nil {
		return nil, err
	}
	tr.pins = append(tr.pins, pg.id)
	return pg, nil
}

func (tr *traversal) done() {
	for _, id := range tr.pins {
		tr.pool.Unpin(id)
	}
}

// reparentChildren pins each of parent's children and corrects its
// stored parentID to parent.id, a no-op for children that already
// have it right. Used whenever a split, merge, redistribution or root
// change moves a child (or its separator slot) to a new parent page,
// keeping V4 (parent pointers correct) true after every mutation.
func (e *Engine) reparentChildren(tr *traversal, parent *page) error {
	if parent.leaf {
		return nil
	}
	for _, s := range parent.slots {
		child, err := tr.pin(parent.childID(s))
		if err != nil {
			return err
		}
		if child.parentID != parent.id {
			child.parentID = parent.id
			e.pool.MarkDirty(child.id)
		}
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Engine is the B-tree: root maintenance, descent, split/merge
// balancing and stateless min/max/above/below navigation, all driven
// through a Pool.
type Engine struct {
	pool           *Pool
	pageSize       uint32
	underflowRatio float64
	flushOnMutate  bool
}

func NewEngine(pool *Pool, pageSize uint32, underflowRatio float64, flushOnMutate bool) *Engine {
	return &Engine{pool: pool, pageSize: pageSize, underflowRatio: underflowRatio, flushOnMutate: flushOnMutate}
}

func (e *Engine) maybeFlush() error {
	if !e.flushOnMutate {
		return nil
	}
	return e.pool.Flush()
}

func (e *Engine) Flush() error {
	return e.pool.Flush()
}

// fitsEmptyPage reports whether a single (key, value) entry, plus its
// slot overhead, could ever be stored in a freshly allocated page of
// this engine's page size.
func fitsEmptyPage(pageSize uint32, keyLen, valLen int) bool {
	return slotSize+keyLen+valLen <= pageDataSize(pageSize)
}

// descend walks from the root to the leaf that would hold key,
// recording the path taken. Every page visited is pinned through tr.
func (e *Engine) descend(tr *traversal, key []byte) ([]frame, *page, error) {
	var path []frame
	id := e.pool.file.RootID()
	for {
		pg, err := tr.pin(id)
		if err != nil {
			return nil, nil, err
		}
		if pg.leaf {
			path = append(path, frame{id: id, index: -1})
			return path, pg, nil
		}
		idx := pg.childIndex(key)
		path = append(path, frame{id: id, index: idx})
		id = pg.childID(pg.slots[idx])
	}
}

// Lookup returns a copy of the value stored for key, or ErrNotFound.
func (e *Engine) Lookup(key []byte) ([]byte, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	_, leaf, err := e.descend(tr, key)
	if err != nil {
		return nil, err
	}
	idx, found := leaf.find(key)
	if !found {
		return nil, ErrNotFound
	}
	_, v := leaf.get(idx)
	return clone(v), nil
}

func (e *Engine) leftmost(tr *traversal, id uint32) ([]byte, []byte, error) {
	for {
		pg, err := tr.pin(id)
		if err != nil {
			return nil, nil, err
		}
		if pg.leaf {
			k, v, ok := pg.min()
			if !ok {
				return nil, nil, ErrNotFound
			}
			return clone(k), clone(v), nil
		}
		id = pg.childID(pg.slots[0])
	}
}

func (e *Engine) rightmost(tr *traversal, id uint32) ([]byte, []byte, error) {
	for {
		pg, err := tr.pin(id)
		if err != nil {
			return nil, nil, err
		}
		if pg.leaf {
			k, v, ok := pg.max()
			if !ok {
				return nil, nil, ErrNotFound
			}
			return clone(k), clone(v), nil
		}
		id = pg.childID(pg.slots[pg.count()-1])
	}
}

// Min descends leftmost to the smallest key in the tree.
func (e *Engine) Min() ([]byte, []byte, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	return e.leftmost(tr, e.pool.file.RootID())
}

// Max descends rightmost to the largest key in the tree.
func (e *Engine) Max() ([]byte, []byte, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	return e.rightmost(tr, e.pool.file.RootID())
}

// Above returns the smallest key strictly greater than key.
func (e *Engine) Above(key []byte) ([]byte, []byte, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	path, leaf, err := e.descend(tr, key)
	if err != nil {
		return nil, nil, err
	}
	idx, found := leaf.find(key)
	next := idx
	if found {
		next++
	}
	if next < leaf.count() {
		k, v := leaf.get(next)
		return clone(k), clone(v), nil
	}
	for i := len(path) - 2; i >= 0; i-- {
		parent, err := tr.pin(path[i].id)
		if err != nil {
			return nil, nil, err
		}
		childIdx := path[i].index
		if childIdx+1 < parent.count() {
			childID := parent.childID(parent.slots[childIdx+1])
			return e.leftmost(tr, childID)
		}
	}
	return nil, nil, ErrNotFound
}

// Below returns the largest key strictly less than key.
func (e *Engine) Below(key []byte) ([]byte, []byte, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	path, leaf, err := e.descend(tr, key)
	if err != nil {
		return nil, nil, err
	}
	idx, _ := leaf.find(key)
	prev := idx - 1
	if prev >= 0 {
		k, v := leaf.get(prev)
		return clone(k), clone(v), nil
	}
	for i := len(path) - 2; i >= 0; i-- {
		parent, err := tr.pin(path[i].id)
		if err != nil {
			return nil, nil, err
		}
		childIdx := path[i].index
		if childIdx-1 >= 0 {
			childID := parent.childID(parent.slots[childIdx-1])
			return e.rightmost(tr, childID)
		}
	}
	return nil, nil, ErrNotFound
}

// Insert stores value under key, overwriting any existing value,
// splitting pages up to the root as needed.
func (e *Engine) Insert(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("yakv: key must not be empty")
	}
	if !fitsEmptyPage(e.pageSize, len(key), len(value)) {
		return ErrEntryTooLarge
	}
	tr := &traversal{pool: e.pool}
	defer tr.done()

	path, _, err := e.descend(tr, key)
	if err != nil {
		return err
	}
	// A key below slot 0's key of an internal page on the path becomes
	// that slot's new key, so slot i keeps naming child i's smallest key.
	// A page without room for the new key keeps its old slot-0 key.
	for _, f := range path[:len(path)-1] {
		pg, err := tr.pin(f.id)
		if err != nil {
			return err
		}
		if f.index != 0 || bytes.Compare(key, pg.key(pg.slots[0])) >= 0 || pg.occupiedBytes()+len(key) > len(pg.data) {
			continue
		}
		child := pg.childID(pg.slots[0])
		pg.delete(0)
		if err := pg.putChild(clone(key), child); err != nil {
			return err
		}
		e.pool.MarkDirty(pg.id)
	}
	if err := e.insertAlong(tr, path, key, value); err != nil {
		return err
	}
	return e.maybeFlush()
}

// insertAlong inserts (pendingKey, pendingVal) into the leaf named by
// the end of path, splitting and propagating a new separator upward
// one frame at a time until some ancestor absorbs it without
// overflowing, or the root itself splits and grows a new root.
func (e *Engine) insertAlong(tr *traversal, path []frame, pendingKey, pendingVal []byte) error {
	for i := len(path) - 1; i >= 0; i-- {
		node, err := tr.pin(path[i].id)
		if err != nil {
			return err
		}

		perr := node.put(pendingKey, pendingVal)
		if perr == nil {
			e.pool.MarkDirty(node.id)
			return nil
		}
		if perr != errPageFull {
			return perr
		}

		right, sep, err := e.overflowSplit(tr, node, pendingKey, pendingVal)
		if err != nil {
			return err
		}
		e.pool.MarkDirty(node.id)
		e.pool.MarkDirty(right.id)

		if i == 0 {
			newRoot, err := tr.allocate(false)
			if err != nil {
				return err
			}
			leftMin, _, ok := node.min()
			if !ok {
				return corrupt(node.id, "left half of root split is empty")
			}
			if err := newRoot.putChild(clone(leftMin), node.id); err != nil {
				return err
			}
			if err := newRoot.putChild(clone(sep), right.id); err != nil {
				return err
			}
			e.pool.MarkDirty(newRoot.id)
			node.parentID = newRoot.id
			right.parentID = newRoot.id
			e.pool.file.StageRootID(newRoot.id)
			return nil
		}

		right.parentID = path[i-1].id

		pendingKey = clone(sep)
		pendingVal = encodeChildID(right.id)
	}
	return nil
}

// overflowSplit merges node's existing entries with the pending entry
// (replacing in place if pendingKey already exists), splits the
// combined, sorted set at a byte-balanced midpoint (ties keep the
// tying entry on the left), rewrites node with the left half and a
// freshly allocated sibling with the right half, and returns the
// sibling plus its separator key (its smallest key).
func (e *Engine) overflowSplit(tr *traversal, node *page, pendingKey, pendingVal []byte) (right *page, sep []byte, err error) {
	keys, vals := node.entries()
	insAt, found := node.find(pendingKey)

	combinedKeys := make([][]byte, 0, len(keys)+1)
	combinedVals := make([][]byte, 0, len(keys)+1)
	if found {
		combinedKeys = append(combinedKeys, keys...)
		combinedVals = append(combinedVals, vals...)
		combinedVals[insAt] = pendingVal
	} else {
		combinedKeys = append(combinedKeys, keys[:insAt]...)
		combinedKeys = append(combinedKeys, pendingKey)
		combinedKeys = append(combinedKeys, keys[insAt:]...)
		combinedVals = append(combinedVals, vals[:insAt]...)
		combinedVals = append(combinedVals, pendingVal)
		combinedVals = append(combinedVals, vals[insAt:]...)
	}

	mid := splitPoint(combinedKeys, combinedVals)

	node.reset()
	for i := 0; i < mid; i++ {
		if err := node.put(combinedKeys[i], combinedVals[i]); err != nil {
			return nil, nil, err
		}
	}
	rightPg, err := tr.allocate(node.leaf)
	if err != nil {
		return nil, nil, err
	}
	for i := mid; i < len(combinedKeys); i++ {
		if err := rightPg.put(combinedKeys[i], combinedVals[i]); err != nil {
			return nil, nil, err
		}
	}
	if err := e.reparentChildren(tr, rightPg); err != nil {
		return nil, nil, err
	}
	return rightPg, combinedKeys[mid], nil
}

// splitPoint finds the smallest index whose cumulative byte size
// reaches half the total, keeping both halves non-empty. Ties (the
// cumulative sum landing exactly on half) keep the deciding entry on
// the left.
func splitPoint(keys, vals [][]byte) int {
	total := 0
	for i := range keys {
		total += len(keys[i]) + len(vals[i])
	}
	cum := 0
	mid := len(keys) - 1
	for i := range keys {
		cum += len(keys[i]) + len(vals[i])
		if 2*cum >= total {
			mid = i + 1
			break
		}
	}
	if mid < 1 {
		mid = 1
	}
	if mid > len(keys)-1 {
		mid = len(keys) - 1
	}
	return mid
}

// Remove deletes key if present; otherwise it is a no-op.
func (e *Engine) Remove(key []byte) error {
	tr := &traversal{pool: e.pool}
	defer tr.done()

	path, leaf, err := e.descend(tr, key)
	if err != nil {
		return err
	}
	idx, found := leaf.find(key)
	if !found {
		return nil
	}
	leaf.delete(idx)
	e.pool.MarkDirty(leaf.id)

	if err := e.fixUnderflow(tr, path, len(path)-1); err != nil {
		return err
	}
	return e.maybeFlush()
}

func canSpare(sib *page, ratio float64) bool {
	return float64(sib.occupiedBytes()) > ratio*float64(len(sib.data))
}

// fixUnderflow inspects path[i] and, if it is underflowing (and not
// the root), either redistributes entries with an immediate sibling
// or merges with one, recursing upward as needed. At the root it
// instead checks for collapse.
func (e *Engine) fixUnderflow(tr *traversal, path []frame, i int) error {
	node, err := tr.pin(path[i].id)
	if err != nil {
		return err
	}

	if i == 0 {
		return e.fixRoot(tr, node)
	}
	if !node.underflows(e.underflowRatio) {
		return nil
	}

	parent, err := tr.pin(path[i-1].id)
	if err != nil {
		return err
	}
	childIdx := path[i-1].index

	var leftSib, rightSib *page
	hasLeft := childIdx > 0
	hasRight := childIdx < parent.count()-1
	if hasLeft {
		leftSib, err = tr.pin(parent.childID(parent.slots[childIdx-1]))
		if err != nil {
			return err
		}
	}
	if hasRight {
		rightSib, err = tr.pin(parent.childID(parent.slots[childIdx+1]))
		if err != nil {
			return err
		}
	}

	if hasLeft && canSpare(leftSib, e.underflowRatio) {
		if err := e.redistributeFromLeft(tr, leftSib, node, parent, childIdx); err != nil {
			return err
		}
		e.pool.MarkDirty(leftSib.id)
		e.pool.MarkDirty(node.id)
		e.pool.MarkDirty(parent.id)
		if !node.underflows(e.underflowRatio) && !leftSib.underflows(e.underflowRatio) {
			return nil
		}
		// The loop inside redistributeFromLeft stops once left itself
		// reaches the threshold. With variable-length values left's
		// surplus bytes can be smaller than node's deficit, leaving
		// node still underflowing, and the last entry moved can take
		// left below the threshold. Either way, fall back to a full
		// merge rather than report a success that leaves V3 violated.
		if err := e.mergeInto(tr, leftSib, node); err != nil {
			return err
		}
		if err := e.pool.Free(node.id); err != nil {
			return err
		}
		parent.delete(childIdx)
		e.pool.MarkDirty(leftSib.id)
		e.pool.MarkDirty(parent.id)
		return e.fixUnderflow(tr, path, i-1)
	}
	if hasRight && canSpare(rightSib, e.underflowRatio) {
		if err := e.redistributeFromRight(tr, node, rightSib, parent, childIdx); err != nil {
			return err
		}
		e.pool.MarkDirty(node.id)
		e.pool.MarkDirty(rightSib.id)
		e.pool.MarkDirty(parent.id)
		if !node.underflows(e.underflowRatio) && !rightSib.underflows(e.underflowRatio) {
			return nil
		}
		if err := e.mergeInto(tr, node, rightSib); err != nil {
			return err
		}
		if err := e.pool.Free(rightSib.id); err != nil {
			return err
		}
		parent.delete(childIdx + 1)
		e.pool.MarkDirty(node.id)
		e.pool.MarkDirty(parent.id)
		return e.fixUnderflow(tr, path, i-1)
	}

	if hasLeft {
		if err := e.mergeInto(tr, leftSib, node); err != nil {
			return err
		}
		if err := e.pool.Free(node.id); err != nil {
			return err
		}
		parent.delete(childIdx)
		e.pool.MarkDirty(leftSib.id)
		e.pool.MarkDirty(parent.id)
		return e.fixUnderflow(tr, path, i-1)
	}
	if hasRight {
		if err := e.mergeInto(tr, node, rightSib); err != nil {
			return err
		}
		if err := e.pool.Free(rightSib.id); err != nil {
			return err
		}
		parent.delete(childIdx + 1)
		e.pool.MarkDirty(node.id)
		e.pool.MarkDirty(parent.id)
		return e.fixUnderflow(tr, path, i-1)
	}
	return nil
}

// redistributeFromLeft moves entries from the tail (largest keys) of
// left to the front of node until node clears the underflow
// threshold or the last move has brought left to or below it (so left
// itself may end up underflowing; fixUnderflow checks both), then
// fixes up node's separator in parent.
func (e *Engine) redistributeFromLeft(tr *traversal, left, node, parent *page, childIdx int) error {
	thresholdBytes := e.underflowRatio * float64(len(node.data))
	for left.count() > 0 && float64(node.occupiedBytes()) < thresholdBytes {
		k, v := left.get(left.count() - 1)
		k, v = clone(k), clone(v)
		if err := node.put(k, v); err != nil {
			return err
		}
		left.delete(left.count() - 1)
		if float64(left.occupiedBytes()) <= thresholdBytes {
			break
		}
	}
	if err := e.reparentChildren(tr, node); err != nil {
		return err
	}
	newMin, _, ok := node.min()
	if !ok {
		return corrupt(node.id, "redistribution left node empty")
	}
	childID := parent.childID(parent.slots[childIdx])
	parent.delete(childIdx)
	return parent.putChild(clone(newMin), childID)
}

// redistributeFromRight is the mirror of redistributeFromLeft, moving
// entries from right's head into node's tail.
func (e *Engine) redistributeFromRight(tr *traversal, node, right, parent *page, childIdx int) error {
	thresholdBytes := e.underflowRatio * float64(len(node.data))
	for right.count() > 0 && float64(node.occupiedBytes()) < thresholdBytes {
		k, v := right.get(0)
		k, v = clone(k), clone(v)
		if err := node.put(k, v); err != nil {
			return err
		}
		right.delete(0)
		if float64(right.occupiedBytes()) <= thresholdBytes {
			break
		}
	}
	if err := e.reparentChildren(tr, node); err != nil {
		return err
	}
	newMin, _, ok := right.min()
	if !ok {
		return corrupt(right.id, "redistribution right sibling empty")
	}
	childID := parent.childID(parent.slots[childIdx+1])
	parent.delete(childIdx + 1)
	return parent.putChild(clone(newMin), childID)
}

// mergeInto appends right's entries onto left. Both sides are, by the
// time this is called, at or below the underflow threshold, so the
// combined set is guaranteed to fit in one page as long as
// underflow_ratio <= 0.5. If left is internal, the children that used
// to belong to right are reparented onto left.
func (e *Engine) mergeInto(tr *traversal, left, right *page) error {
	keys, vals := right.entries()
	for i := range keys {
		if err := left.put(keys[i], vals[i]); err != nil {
			return err
		}
	}
	return e.reparentChildren(tr, left)
}

// fixRoot collapses an internal root down to its sole child once
// every other child has been merged away. A leaf root may be
// arbitrarily empty and is never collapsed further.
func (e *Engine) fixRoot(tr *traversal, root *page) error {
	if root.leaf {
		return nil
	}
	if root.count() == 1 {
		childID := root.childID(root.slots[0])
		child, err := tr.pin(childID)
		if err != nil {
			return err
		}
		e.pool.file.StageRootID(childID)
		child.parentID = noParent
		e.pool.MarkDirty(child.id)
		return e.pool.Free(root.id)
	}
	return nil
}

// Count returns the number of entries in the tree.
func (e *Engine) Count() (int, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	return e.countSubtree(tr, e.pool.file.RootID())
}

func (e *Engine) countSubtree(tr *traversal, id uint32) (int, error) {
	pg, err := tr.pin(id)
	if err != nil {
		return 0, err
	}
	if pg.leaf {
		return pg.count(), nil
	}
	total := 0
	for _, s := range pg.slots {
		n, err := e.countSubtree(tr, pg.childID(s))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Height returns the number of levels from root to leaf, inclusive
// (a single-leaf tree has height 1).
func (e *Engine) Height() (int, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	id := e.pool.file.RootID()
	h := 0
	for {
		pg, err := tr.pin(id)
		if err != nil {
			return 0, err
		}
		h++
		if pg.leaf {
			return h, nil
		}
		id = pg.childID(pg.slots[0])
	}
}

// Stats summarizes tree shape, used by the facade's supplemented
// introspection surface and by tests asserting structural properties
// without a full Verify walk.
type Stats struct {
	EntryCount int
	Height     int
	PageCount  int
	FreeCount  int
}

// Stats walks the tree (twice: once for entry count and height, once
// for page count) and the free list, and reports their sizes.
func (e *Engine) Stats() (Stats, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()

	var s Stats
	n, h, err := e.statsSubtree(tr, e.pool.file.RootID(), 1)
	if err != nil {
		return Stats{}, err
	}
	s.EntryCount = n
	s.Height = h
	s.PageCount, err = e.reachableCount(tr, e.pool.file.RootID())
	if err != nil {
		return Stats{}, err
	}
	s.FreeCount, err = e.freeListLength(tr)
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (e *Engine) statsSubtree(tr *traversal, id uint32, depth int) (count, height int, err error) {
	pg, err := tr.pin(id)
	if err != nil {
		return 0, 0, err
	}
	if pg.leaf {
		return pg.count(), depth, nil
	}
	total, maxDepth := 0, depth
	for _, s := range pg.slots {
		n, h, err := e.statsSubtree(tr, pg.childID(s), depth+1)
		if err != nil {
			return 0, 0, err
		}
		total += n
		if h > maxDepth {
			maxDepth = h
		}
	}
	return total, maxDepth, nil
}

func (e *Engine) reachableCount(tr *traversal, id uint32) (int, error) {
	pg, err := tr.pin(id)
	if err != nil {
		return 0, err
	}
	total := 1
	if !pg.leaf {
		for _, s := range pg.slots {
			n, err := e.reachableCount(tr, pg.childID(s))
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func (e *Engine) freeListLength(tr *traversal) (int, error) {
	n := 0
	id := e.pool.file.FreeHead()
	for id != noFreePage {
		pg, err := tr.pin(id)
		if err != nil {
			return 0, err
		}
		n++
		id = pg.parentID
	}
	return n, nil
}

// Verify walks the whole tree and free list, checking V1 (equal leaf
// depth), V2 (sorted, key-unique pages), V3 (byte-occupancy lower
// bound on non-root pages), V4 (parent pointers), V5 (separator
// bracketing) and V6 (free list and reachable set partition the
// non-header page ids). It returns the first violation found, wrapped
// as *Corrupt.
func (e *Engine) Verify() error {
	tr := &traversal{pool: e.pool}
	defer tr.done()

	rootID := e.pool.file.RootID()
	leafDepth := -1
	visited := make(map[uint32]bool)
	if err := e.verifyNode(tr, rootID, noParent, nil, nil, 0, &leafDepth, visited); err != nil {
		return err
	}

	freeIDs := make(map[uint32]bool)
	id := e.pool.file.FreeHead()
	for id != noFreePage {
		if freeIDs[id] {
			return corrupt(id, "free list cycle")
		}
		freeIDs[id] = true
		pg, err := tr.pin(id)
		if err != nil {
			return err
		}
		id = pg.parentID
	}
	for id := range freeIDs {
		if visited[id] {
			return corrupt(id, "page on free list is also reachable from root")
		}
	}
	highest, err := e.highestPageID()
	if err != nil {
		return err
	}
	for id := uint32(1); id <= highest; id++ {
		if !visited[id] && !freeIDs[id] {
			return corrupt(id, "page neither reachable nor on free list")
		}
	}
	return nil
}

func (e *Engine) highestPageID() (uint32, error) {
	sz, err := e.pool.file.f.Stat()
	if err != nil {
		return 0, ioErrNoPage("stat", err)
	}
	total := uint32(sz.Size() / int64(e.pool.file.pageSize))
	if total == 0 {
		return 0, nil
	}
	return total - 1, nil
}

// verifyNode checks page id (a child of parentID reached via
// separator lo, bounded above by hi if non-nil) and recurses into its
// children, threading leafDepth through so every leaf's depth is
// compared against the first one seen.
func (e *Engine) verifyNode(tr *traversal, id, parentID uint32, lo, hi []byte, depth int, leafDepth *int, visited map[uint32]bool) error {
	if visited[id] {
		return corrupt(id, "page reachable via more than one path")
	}
	visited[id] = true

	pg, err := tr.pin(id)
	if err != nil {
		return err
	}
	if pg.parentID != parentID {
		return corrupt(id, "parent pointer %d, want %d", pg.parentID, parentID)
	}

	keys, _ := pg.entries()
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			return corrupt(id, "slots out of order or duplicate at index %d", i)
		}
	}
	if lo != nil && len(keys) > 0 && bytes.Compare(keys[0], lo) < 0 {
		return corrupt(id, "smallest key precedes separator bound")
	}
	if hi != nil && len(keys) > 0 && bytes.Compare(keys[len(keys)-1], hi) >= 0 {
		return corrupt(id, "largest key reaches or exceeds next separator bound")
	}

	if id != e.pool.file.RootID() && pg.underflows(e.underflowRatio) {
		return corrupt(id, "byte occupancy below underflow ratio")
	}

	if pg.leaf {
		if *leafDepth == -1 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			return corrupt(id, "leaf depth %d, want %d", depth, *leafDepth)
		}
		return nil
	}

	for i, s := range pg.slots {
		var childLo, childHi []byte
		childLo = keys[i]
		if i+1 < len(keys) {
			childHi = keys[i+1]
		} else {
			childHi = hi
		}
		if err := e.verifyNode(tr, pg.childID(s), id, childLo, childHi, depth+1, leafDepth, visited); err != nil {
			return err
		}
	}
	return nil
}

// GetAllKeys returns every key in ascending order. It is a test/tooling
// convenience, not part of the facade's core contract.
func (e *Engine) GetAllKeys() ([][]byte, error) {
	tr := &traversal{pool: e.pool}
	defer tr.done()
	var out [][]byte
	k, _, err := e.leftmost(tr, e.pool.file.RootID())
	if err == ErrNotFound {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out = append(out, k)
	for {
		next, _, err := e.Above(k)
		if err == ErrNotFound {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		k = next
		out = append(out, k)
	}
}
