package storage

import (
	"bytes"
	"fmt"
	"testing"
)

func TestPagePutGetFind(t *testing.T) {
	p := newPage(1, 256, true)
	if err := p.put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if err := p.put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := p.put([]byte("c"), []byte("3")); err != nil {
		t.Fatalf("put c: %v", err)
	}

	idx, found := p.find([]byte("b"))
	if !found || idx != 1 {
		t.Fatalf("find b: got (%d, %v), want (1, true)", idx, found)
	}
	k, v := p.get(idx)
	if !bytes.Equal(k, []byte("b")) || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("get(1) = (%q, %q)", k, v)
	}

	if _, found := p.find([]byte("z")); found {
		t.Fatalf("find z: unexpectedly found")
	}
}

func TestPageOverwrite(t *testing.T) {
	p := newPage(1, 256, true)
	if err := p.put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := p.put([]byte("a"), []byte("99")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if p.count() != 1 {
		t.Fatalf("count = %d, want 1", p.count())
	}
	_, v := p.get(0)
	if !bytes.Equal(v, []byte("99")) {
		t.Fatalf("value = %q, want 99", v)
	}
}

func TestPageDelete(t *testing.T) {
	p := newPage(1, 256, true)
	for _, k := range []string{"a", "b", "c"} {
		if err := p.put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	idx, _ := p.find([]byte("b"))
	p.delete(idx)
	if p.count() != 2 {
		t.Fatalf("count after delete = %d, want 2", p.count())
	}
	if _, found := p.find([]byte("b")); found {
		t.Fatalf("b still visible after delete")
	}
}

func TestPageMinMax(t *testing.T) {
	p := newPage(1, 256, true)
	if _, _, ok := p.min(); ok {
		t.Fatalf("min on empty page should not be ok")
	}
	for _, k := range []string{"m", "a", "z"} {
		if err := p.put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	k, _, ok := p.min()
	if !ok || !bytes.Equal(k, []byte("a")) {
		t.Fatalf("min = %q, ok=%v", k, ok)
	}
	k, _, ok = p.max()
	if !ok || !bytes.Equal(k, []byte("z")) {
		t.Fatalf("max = %q, ok=%v", k, ok)
	}
}

func TestPageFullTriggersErrPageFull(t *testing.T) {
	p := newPage(1, 64, true)
	var err error
	i := 0
	for ; i < 100; i++ {
		err = p.put([]byte(fmt.Sprintf("k%02d", i)), bytes.Repeat([]byte("x"), 20))
		if err != nil {
			break
		}
	}
	if err != errPageFull {
		t.Fatalf("expected errPageFull eventually, got %v", err)
	}
	if p.count() != i {
		t.Fatalf("page mutated on failed put: count=%d, want %d", p.count(), i)
	}
}

func TestPageOverwritePreservedOnFailure(t *testing.T) {
	p := newPage(1, 64, true)
	if err := p.put([]byte("a"), bytes.Repeat([]byte("x"), 10)); err != nil {
		t.Fatalf("put: %v", err)
	}
	huge := bytes.Repeat([]byte("y"), 100)
	if err := p.put([]byte("a"), huge); err != errPageFull {
		t.Fatalf("expected errPageFull, got %v", err)
	}
	_, v := p.get(0)
	if bytes.Equal(v, huge) {
		t.Fatalf("value overwritten despite errPageFull")
	}
}

func TestPageCompactReclaimsSpace(t *testing.T) {
	// Insert 4 entries (payloads land at strictly decreasing offsets),
	// then delete the three inserted BEFORE the survivor. Their
	// payload bytes, which sit at offsets above the survivor's, are
	// dead but not yet reclaimed: floor() alone reports only the
	// small gap below the survivor. A put that needs more than that
	// gap, but no more than gap-plus-dead-bytes, must force compact.
	p := newPage(1, 128, true)
	for i := 0; i < 4; i++ {
		if err := p.put([]byte(fmt.Sprintf("k%d", i)), bytes.Repeat([]byte("v"), 10)); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		idx, _ := p.find([]byte(fmt.Sprintf("k%d", i)))
		p.delete(idx)
	}

	preCompactFloor := p.floor()
	key := []byte("k9")
	slotDirEnd := (p.count() + 1) * slotSize
	recordLen := (preCompactFloor - slotDirEnd) + 4 // exceeds the naive gap, forcing compact()
	value := bytes.Repeat([]byte("v"), recordLen-len(key))
	if err := p.put(key, value); err != nil {
		t.Fatalf("put requiring compaction should succeed: %v", err)
	}
	if _, found := p.find([]byte("k9")); !found {
		t.Fatalf("k9 not visible after put")
	}
}

func TestPageMarshalRoundTrip(t *testing.T) {
	p := newPage(7, 256, false)
	p.parentID = 3
	if err := p.putChild([]byte("m"), 42); err != nil {
		t.Fatalf("putChild: %v", err)
	}
	if err := p.putChild([]byte("z"), 43); err != nil {
		t.Fatalf("putChild: %v", err)
	}

	buf := marshalPage(p)
	got, err := unmarshalPage(buf, 256)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.id != 7 || got.parentID != 3 || got.leaf {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.childID(got.slots[0]) != 42 || got.childID(got.slots[1]) != 43 {
		t.Fatalf("child ids mismatch")
	}
}

func TestPageMarshalDetectsCorruption(t *testing.T) {
	p := newPage(1, 256, true)
	if err := p.put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	buf := marshalPage(p)
	buf[headerSize] ^= 0xFF // corrupt a byte inside the checksummed region

	if _, err := unmarshalPage(buf, 256); err == nil {
		t.Fatalf("expected checksum mismatch to be detected")
	} else if _, ok := err.(*Corrupt); !ok {
		t.Fatalf("expected *Corrupt, got %T: %v", err, err)
	}
}

func TestChildIndexDescentRule(t *testing.T) {
	p := newPage(1, 256, false)
	for i, k := range []string{"b", "d", "f"} {
		if err := p.putChild([]byte(k), uint32(i)); err != nil {
			t.Fatalf("putChild: %v", err)
		}
	}
	cases := []struct {
		target string
		want   int
	}{
		{"a", 0},
		{"b", 0},
		{"c", 0},
		{"d", 1},
		{"e", 1},
		{"f", 2},
		{"z", 2},
	}
	for _, c := range cases {
		got := p.childIndex([]byte(c.target))
		if got != c.want {
			t.Errorf("childIndex(%q) = %d, want %d", c.target, got, c.want)
		}
	}
}
