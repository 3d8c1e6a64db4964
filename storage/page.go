package storage

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Page header layout (little-endian), fixed at headerSize bytes:
//
//	page_id    u32
//	parent_id  u32   (noParent sentinel for root; repurposed as the
//	                   next-free-list link while the page sits on the
//	                   free list)
//	flags      u16   (bit 0 = leaf, bit 1 = free)
//	count      u16
//	checksum   u32   (of everything from headerSize onward)
//
// Past the header comes a region of pageDataSize bytes holding, in
// order: the slot directory (count entries of offset/keyLen/valLen,
// slotSize bytes each, kept sorted ascending by key) and, growing
// downward from the end of the region, the key||value payloads it
// indexes.
const (
	headerSize   = 16
	slotSize     = 6
	flagLeaf     = uint16(1) << 0
	flagFree     = uint16(1) << 1
	noParent     = ^uint32(0)
	noFreePage   = ^uint32(0)
	childIDWidth = 4 // internal "value" is a u32 child page id
)

// pageDataSize returns the slot-directory-plus-payload region size for
// the given full page size.
func pageDataSize(pageSize uint32) int {
	return int(pageSize) - headerSize
}

type slot struct {
	offset uint16
	keyLen uint16
	valLen uint16
}

// page is the in-memory, decoded form of one on-disk B-tree node (or a
// free-list marker page, distinguished by flagFree). Keys and children
// live nowhere but inside data; slots indexes them in ascending key
// order.
type page struct {
	id       uint32
	parentID uint32
	leaf     bool
	free     bool
	slots    []slot
	data     []byte // length pageDataSize(pageSize)
	pageSize uint32
	dirty    bool
}

func newPage(id uint32, pageSize uint32, leaf bool) *page {
	return &page{
		id:       id,
		parentID: noParent,
		leaf:     leaf,
		slots:    nil,
		data:     make([]byte, pageDataSize(pageSize)),
		pageSize: pageSize,
		dirty:    true,
	}
}

func newFreePage(id uint32, pageSize uint32, next uint32) *page {
	p := newPage(id, pageSize, false)
	p.free = true
	p.parentID = next
	return p
}

// marshalPage serializes p into a freshly allocated pageSize buffer.
func marshalPage(p *page) []byte {
	buf := make([]byte, p.pageSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.id)
	binary.LittleEndian.PutUint32(buf[4:8], p.parentID)
	var flags uint16
	if p.leaf {
		flags |= flagLeaf
	}
	if p.free {
		flags |= flagFree
	}
	binary.LittleEndian.PutUint16(buf[8:10], flags)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(p.slots)))
	// checksum filled in below, at [12:16)

	region := buf[headerSize:]
	for i, s := range p.slots {
		off := i * slotSize
		binary.LittleEndian.PutUint16(region[off:], s.offset)
		binary.LittleEndian.PutUint16(region[off+2:], s.keyLen)
		binary.LittleEndian.PutUint16(region[off+4:], s.valLen)
	}
	copy(region[len(p.slots)*slotSize:], p.data[len(p.slots)*slotSize:])

	binary.LittleEndian.PutUint32(buf[12:16], pageChecksum(region))
	return buf
}

// unmarshalPage decodes a pageSize buffer produced by marshalPage.
func unmarshalPage(buf []byte, pageSize uint32) (*page, error) {
	if uint32(len(buf)) != pageSize {
		return nil, corrupt(0, "page buffer has %d bytes, want %d", len(buf), pageSize)
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	parentID := binary.LittleEndian.Uint32(buf[4:8])
	flags := binary.LittleEndian.Uint16(buf[8:10])
	count := binary.LittleEndian.Uint16(buf[10:12])
	wantSum := binary.LittleEndian.Uint32(buf[12:16])

	region := buf[headerSize:]
	gotSum := pageChecksum(region)
	if gotSum != wantSum {
		return nil, corrupt(id, "checksum mismatch: got %x want %x", gotSum, wantSum)
	}

	maxSlots := len(region) / slotSize
	if int(count) > maxSlots {
		return nil, corrupt(id, "slot count %d exceeds capacity %d", count, maxSlots)
	}

	p := &page{
		id:       id,
		parentID: parentID,
		leaf:     flags&flagLeaf != 0,
		free:     flags&flagFree != 0,
		pageSize: pageSize,
		data:     make([]byte, len(region)),
	}
	copy(p.data, region)

	p.slots = make([]slot, count)
	for i := range p.slots {
		off := i * slotSize
		s := slot{
			offset: binary.LittleEndian.Uint16(region[off:]),
			keyLen: binary.LittleEndian.Uint16(region[off+2:]),
			valLen: binary.LittleEndian.Uint16(region[off+4:]),
		}
		if int(s.offset)+int(s.keyLen)+int(s.valLen) > len(region) {
			return nil, corrupt(id, "slot %d payload [%d,+%d+%d) out of range", i, s.offset, s.keyLen, s.valLen)
		}
		p.slots[i] = s
	}
	return p, nil
}

func pageChecksum(region []byte) uint32 {
	var sum uint32 = 2166136261
	for _, b := range region {
		sum ^= uint32(b)
		sum *= 16777619
	}
	return sum
}

func (p *page) key(s slot) []byte {
	return p.data[s.offset : s.offset+s.keyLen]
}

func (p *page) val(s slot) []byte {
	return p.data[s.offset+s.keyLen : s.offset+s.keyLen+s.valLen]
}

// childID decodes the value half of an internal-page slot as a page id.
func (p *page) childID(s slot) uint32 {
	v := p.val(s)
	return binary.LittleEndian.Uint32(v)
}

func encodeChildID(id uint32) []byte {
	b := make([]byte, childIDWidth)
	binary.LittleEndian.PutUint32(b, id)
	return b
}

// find performs a binary search over the ordered slot directory,
// returning the index of an exact match (found=true) or the index at
// which key would be inserted to keep slots ascending (found=false).
func (p *page) find(key []byte) (index int, found bool) {
	i := sort.Search(len(p.slots), func(i int) bool {
		return bytes.Compare(p.key(p.slots[i]), key) >= 0
	})
	if i < len(p.slots) && bytes.Equal(p.key(p.slots[i]), key) {
		return i, true
	}
	return i, false
}

// get returns borrowed key/value views for the slot at index.
func (p *page) get(index int) (key, value []byte) {
	s := p.slots[index]
	return p.key(s), p.val(s)
}

func (p *page) count() int { return len(p.slots) }

// payloadBytes is the sum of key+value bytes currently visible
// (deleted slots do not contribute), used for byte-occupancy
// decisions. It does not include slot-directory overhead.
func (p *page) payloadBytes() int {
	n := 0
	for _, s := range p.slots {
		n += int(s.keyLen) + int(s.valLen)
	}
	return n
}

// occupiedBytes additionally counts slot-directory overhead, used as
// the numerator for the underflow-ratio test against pageDataSize.
func (p *page) occupiedBytes() int {
	return len(p.slots)*slotSize + p.payloadBytes()
}

func (p *page) underflows(ratio float64) bool {
	return float64(p.occupiedBytes()) < ratio*float64(len(p.data))
}

// floor returns the lowest offset any live payload currently starts
// at (or len(data) if the page holds no entries): the boundary past
// which new payloads may not encroach without overwriting a sibling.
func (p *page) floor() int {
	f := len(p.data)
	for _, s := range p.slots {
		if int(s.offset) < f {
			f = int(s.offset)
		}
	}
	return f
}

// fits reports whether a record of recordLen bytes can be written
// without disturbing existing slots, given extraSlot additional slot
// directory entries will be needed (0 for an overwrite, 1 for a new
// key).
func (p *page) fits(recordLen, extraSlot int) bool {
	slotDirEnd := (len(p.slots) + extraSlot) * slotSize
	return slotDirEnd+recordLen <= p.floor()
}

// compact rewrites the payload region so every live slot's bytes sit
// contiguously against the end of data, in key order, reclaiming space
// left by deletes and overwrites.
func (p *page) compact() {
	fresh := make([]byte, len(p.data))
	off := len(fresh)
	for i, s := range p.slots {
		off -= int(s.keyLen) + int(s.valLen)
		copy(fresh[off:], p.key(s))
		copy(fresh[off+int(s.keyLen):], p.val(s))
		p.slots[i].offset = uint16(off)
	}
	p.data = fresh
}

// put inserts or overwrites (key, value). On success the slot
// directory remains sorted by key and p.dirty is set. errPageFull is
// returned, without mutating p, when the entry cannot be made to fit
// even after compaction.
func (p *page) put(key, value []byte) error {
	idx, found := p.find(key)
	recordLen := len(key) + len(value)
	extraSlot := 0
	if !found {
		extraSlot = 1
	}

	if !p.fits(recordLen, extraSlot) {
		p.compact()
		if !p.fits(recordLen, extraSlot) {
			return errPageFull
		}
	}

	off := p.floor() - recordLen
	copy(p.data[off:], key)
	copy(p.data[off+len(key):], value)
	newSlot := slot{offset: uint16(off), keyLen: uint16(len(key)), valLen: uint16(len(value))}

	if found {
		p.slots[idx] = newSlot
	} else {
		p.slots = append(p.slots, slot{})
		copy(p.slots[idx+1:], p.slots[idx:])
		p.slots[idx] = newSlot
	}
	p.dirty = true
	return nil
}

// putChild is the internal-page convenience form of put, encoding a
// child page id as the value.
func (p *page) putChild(key []byte, child uint32) error {
	return p.put(key, encodeChildID(child))
}

// delete removes the slot at index. Payload bytes are left in place;
// only the directory entry disappears, matching the "slot directory
// governs visibility" rule.
func (p *page) delete(index int) {
	p.slots = append(p.slots[:index], p.slots[index+1:]...)
	p.dirty = true
}

func (p *page) min() (key, value []byte, ok bool) {
	if len(p.slots) == 0 {
		return nil, nil, false
	}
	k, v := p.get(0)
	return k, v, true
}

func (p *page) max() (key, value []byte, ok bool) {
	if len(p.slots) == 0 {
		return nil, nil, false
	}
	k, v := p.get(len(p.slots) - 1)
	return k, v, true
}

// childIndex returns the index of the child to descend to for target,
// under the convention that slot i's key is the smallest key in child
// i: the greatest index i with key[i] <= target, or 0 if target is
// less than every separator.
func (p *page) childIndex(target []byte) int {
	i := sort.Search(len(p.slots), func(i int) bool {
		return bytes.Compare(p.key(p.slots[i]), target) > 0
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// entries returns copies of every (key, value) pair in ascending
// order, used when redistributing or splitting a page.
func (p *page) entries() (keys, values [][]byte) {
	keys = make([][]byte, len(p.slots))
	values = make([][]byte, len(p.slots))
	for i, s := range p.slots {
		keys[i] = append([]byte(nil), p.key(s)...)
		values[i] = append([]byte(nil), p.val(s)...)
	}
	return keys, values
}

// reset clears every slot from p so it can be refilled via put, used
// when redistributing entries between siblings.
func (p *page) reset() {
	p.slots = nil
	p.data = make([]byte, len(p.data))
	p.dirty = true
}
