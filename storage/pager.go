package storage

import (
	"encoding/binary"
	"fmt"
	"os"
)

// File header layout (page 0), little-endian, zero-padded to
// page_size:
//
//	magic      u32 = 0x59414B56 ("YAKV")
//	version    u16 = 1
//	page_size  u32
//	root_id    u32
//	free_head  u32 (noFreePage sentinel = empty)
const (
	magicNumber   uint32 = 0x59414B56
	formatVersion uint16 = 1
	fileHeaderLen        = 18
)

// MinPageSize and MaxPageSize bound the page_size configuration knob
// (spec: power of two in [512, 65536]).
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

type fileHeader struct {
	magic    uint32
	version  uint16
	pageSize uint32
	rootID   uint32
	freeHead uint32
}

func (h *fileHeader) marshal() []byte {
	buf := make([]byte, fileHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.version)
	binary.LittleEndian.PutUint32(buf[6:10], h.pageSize)
	binary.LittleEndian.PutUint32(buf[10:14], h.rootID)
	binary.LittleEndian.PutUint32(buf[14:18], h.freeHead)
	return buf
}

func unmarshalFileHeader(buf []byte) *fileHeader {
	return &fileHeader{
		magic:    binary.LittleEndian.Uint32(buf[0:4]),
		version:  binary.LittleEndian.Uint16(buf[4:6]),
		pageSize: binary.LittleEndian.Uint32(buf[6:10]),
		rootID:   binary.LittleEndian.Uint32(buf[10:14]),
		freeHead: binary.LittleEndian.Uint32(buf[14:18]),
	}
}

// File owns the on-disk layout: the header page, positioned page
// reads/writes, file growth and fsync. It has no notion of B-tree
// structure or caching; Pool sits on top of it.
type File struct {
	f           *os.File
	path        string
	header      *fileHeader
	pageSize    uint32
	headerDirty bool
}

const headerPageID uint32 = 0

// CreateFile initializes a new database file: header page plus an
// empty root leaf at page 1.
func CreateFile(path string, pageSize uint32) (*File, error) {
	if pageSize < MinPageSize || pageSize > MaxPageSize || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("yakv: page_size %d must be a power of two in [%d, %d]", pageSize, MinPageSize, MaxPageSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ioErrNoPage("create", err)
	}
	file := &File{f: f, path: path, pageSize: pageSize, header: &fileHeader{
		magic:    magicNumber,
		version:  formatVersion,
		pageSize: pageSize,
		rootID:   1,
		freeHead: noFreePage,
	}}
	if err := file.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	root := newPage(1, pageSize, true)
	if err := file.WritePage(root); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return file, nil
}

// OpenFile opens an existing database file, validating the header.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, ioErrNoPage("open", err)
	}
	file := &File{f: f, path: path}
	if err := file.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	file.pageSize = file.header.pageSize
	return file, nil
}

func (file *File) writeHeader() error {
	buf := make([]byte, file.pageSize)
	copy(buf, file.header.marshal())
	if _, err := file.f.WriteAt(buf, 0); err != nil {
		return ioErr("write header", headerPageID, err)
	}
	return nil
}

func (file *File) readHeader() error {
	// The header page size is not yet known, so read the minimum
	// possible page worth of bytes first.
	buf := make([]byte, MinPageSize)
	if _, err := file.f.ReadAt(buf, 0); err != nil {
		return ioErr("read header", headerPageID, err)
	}
	h := unmarshalFileHeader(buf)
	if h.magic != magicNumber {
		return &BadFormat{Path: file.path, Detail: fmt.Sprintf("bad magic %x", h.magic)}
	}
	if h.version != formatVersion {
		return &BadFormat{Path: file.path, Detail: fmt.Sprintf("unsupported version %d", h.version)}
	}
	if h.pageSize < MinPageSize || h.pageSize > MaxPageSize || h.pageSize&(h.pageSize-1) != 0 {
		return &BadFormat{Path: file.path, Detail: fmt.Sprintf("invalid page_size %d", h.pageSize)}
	}
	file.header = h
	return nil
}

func (file *File) pageOffset(id uint32) int64 {
	return int64(id) * int64(file.pageSize)
}

// ReadPage reads and decodes the page at id.
func (file *File) ReadPage(id uint32) (*page, error) {
	if err := failpointHit("file.ReadPage"); err != nil {
		return nil, ioErr("read", id, err)
	}
	buf := make([]byte, file.pageSize)
	if _, err := file.f.ReadAt(buf, file.pageOffset(id)); err != nil {
		return nil, ioErr("read", id, err)
	}
	p, err := unmarshalPage(buf, file.pageSize)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WritePage encodes and writes p at its own id. It does not fsync;
// callers batch fsync at flush boundaries.
func (file *File) WritePage(p *page) error {
	if err := failpointHit("file.WritePage"); err != nil {
		return ioErr("write", p.id, err)
	}
	buf := marshalPage(p)
	if _, err := file.f.WriteAt(buf, file.pageOffset(p.id)); err != nil {
		return ioErr("write", p.id, err)
	}
	return nil
}

// Grow extends the file by one page and returns its id, one past the
// current highest page id.
func (file *File) Grow() (uint32, error) {
	info, err := file.f.Stat()
	if err != nil {
		return 0, ioErrNoPage("stat", err)
	}
	id := uint32(info.Size() / int64(file.pageSize))
	if err := file.f.Truncate(int64(id+1) * int64(file.pageSize)); err != nil {
		return 0, ioErr("grow", id, err)
	}
	return id, nil
}

// Sync flushes OS buffers to stable storage.
func (file *File) Sync() error {
	if err := failpointHit("file.Sync"); err != nil {
		return ioErrNoPage("sync", err)
	}
	if err := file.f.Sync(); err != nil {
		return ioErrNoPage("sync", err)
	}
	return nil
}

func (file *File) Close() error {
	if err := file.f.Close(); err != nil {
		return ioErrNoPage("close", err)
	}
	return nil
}

func (file *File) RootID() uint32   { return file.header.rootID }
func (file *File) FreeHead() uint32 { return file.header.freeHead }
func (file *File) PageSize() uint32 { return file.pageSize }

// StageRootID updates the in-memory root id immediately, so the rest of
// the current operation sees the new root, but does not write it to
// disk. The write is deferred to FlushHeader so it never lands before
// the pages that make the new root valid; a crash before that flush
// leaves the header pointing at the old, still-intact root.
func (file *File) StageRootID(id uint32) {
	file.header.rootID = id
	file.headerDirty = true
}

// StageFreeHead is StageRootID's counterpart for the free-list head.
func (file *File) StageFreeHead(id uint32) {
	file.header.freeHead = id
	file.headerDirty = true
}

// FlushHeader writes the header page if StageRootID/StageFreeHead have
// staged changes since the last flush. Callers must write out the
// pages those changes depend on first, and fsync after, so the header
// update is never durable ahead of the data it points to.
func (file *File) FlushHeader() error {
	if !file.headerDirty {
		return nil
	}
	if err := file.writeHeader(); err != nil {
		return err
	}
	file.headerDirty = false
	return nil
}
