package handle

import (
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/pablorey0/vertexmem/arrayformat"
	"github.com/pablorey0/vertexmem/codec"
	"github.com/pablorey0/vertexmem/cycled"
	"github.com/pablorey0/vertexmem/savefile"
	"github.com/pablorey0/vertexmem/tier"
	"github.com/pablorey0/vertexmem/vbuffer"
)

func newTestBuffer(t *testing.T, numStages int) *vbuffer.Buffer {
	t.Helper()

	c, err := codec.New(1)
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	sf, err := savefile.Open(t.TempDir(), "handle-test-", savefile.Unlimited, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("savefile.Open: %v", err)
	}
	t.Cleanup(func() { sf.Close() })

	r := arrayformat.NewRegistry()
	format := r.Register(&arrayformat.Format{
		Columns: []arrayformat.Column{{Offset: 0, Components: 1, ComponentSize: 4}},
		Stride:  4,
	})

	coll := vbuffer.Collaborators{
		RAMTier:         tier.New("ram", tier.Unlimited),
		CompressedTier:  tier.New("compressed", tier.Unlimited),
		DiskTier:        tier.New("disk", tier.Unlimited),
		Save:            sf,
		Codec:           c,
		MinCompressSize: 64,
		Stamps:          new(uint64),
		Logger:          log.New(io.Discard, "", 0),
	}
	return vbuffer.New(coll, format, cycled.Static, numStages)
}

func TestSetNumRowsZeroInitializesNewBytes(t *testing.T) {
	buf := newTestBuffer(t, 2)
	h := Open(buf, 0, true)
	defer h.Close()

	if !h.SetNumRows(3) {
		t.Fatalf("expected size change from 0 to 3 rows")
	}
	if len(h.Bytes()) != 12 {
		t.Fatalf("len(Bytes()) = %d, want 12", len(h.Bytes()))
	}
	for i, b := range h.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}

	if h.SetNumRows(3) {
		t.Fatalf("resizing to the same row count should report no change")
	}
}

func TestUncleanSetNumRowsShrinkAndGrow(t *testing.T) {
	buf := newTestBuffer(t, 2)
	h := Open(buf, 0, true)
	defer h.Close()

	h.SetNumRows(4)
	for i := range h.Bytes() {
		h.Bytes()[i] = 0xFF
	}

	if !h.UncleanSetNumRows(2) {
		t.Fatalf("expected shrink to report a size change")
	}
	if len(h.Bytes()) != 8 {
		t.Fatalf("len(Bytes()) after shrink = %d, want 8", len(h.Bytes()))
	}
	for _, b := range h.Bytes() {
		if b != 0xFF {
			t.Fatalf("shrink should preserve surviving bytes unchanged")
		}
	}

	if !h.UncleanSetNumRows(5) {
		t.Fatalf("expected grow to report a size change")
	}
	if len(h.Bytes()) != 20 {
		t.Fatalf("len(Bytes()) after grow = %d, want 20", len(h.Bytes()))
	}
}

func TestCopyDataFromReplacesWholesale(t *testing.T) {
	src := newTestBuffer(t, 2)
	sh := Open(src, 0, true)
	sh.SetNumRows(2)
	copy(sh.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	sh.Close()

	dst := newTestBuffer(t, 2)
	dh := Open(dst, 0, true)
	defer dh.Close()
	dh.SetNumRows(5)

	dh.CopyDataFrom(src)
	if !bytes.Equal(dh.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("CopyDataFrom did not replace destination bytes, got %v", dh.Bytes())
	}
}

func TestCopySubdataFromGrowsDestinationRegion(t *testing.T) {
	src := newTestBuffer(t, 2)
	sh := Open(src, 0, true)
	sh.SetNumRows(3)
	copy(sh.Bytes(), []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9})
	sh.Close()

	dst := newTestBuffer(t, 2)
	dh := Open(dst, 0, true)
	defer dh.Close()
	dh.SetNumRows(2) // 8 bytes: {0,0,0,0,0,0,0,0}

	// Replace a 4-byte region at offset 2 with 8 bytes from src: grows dst.
	dh.CopySubdataFrom(2, 4, src, 0, 8)

	want := []byte{0, 0, 9, 9, 9, 9, 9, 9, 9, 9, 0, 0}
	if !bytes.Equal(dh.Bytes(), want) {
		t.Fatalf("CopySubdataFrom grow: got %v, want %v", dh.Bytes(), want)
	}
}

func TestOpenForcesResidentBeforeReading(t *testing.T) {
	buf := newTestBuffer(t, 2)
	h := Open(buf, 0, true)
	h.SetNumRows(2)
	h.Close()

	if err := buf.MakeDisk(); err != nil {
		t.Fatalf("MakeDisk: %v", err)
	}
	if buf.Residency() != vbuffer.Disk {
		t.Fatalf("Residency() = %v, want Disk", buf.Residency())
	}

	rh := Open(buf, 0, false)
	defer rh.Close()
	if buf.Residency() != vbuffer.Resident {
		t.Fatalf("opening a handle should force the buffer Resident, got %v", buf.Residency())
	}
	if len(rh.Bytes()) != 8 {
		t.Fatalf("len(Bytes()) after restore = %d, want 8", len(rh.Bytes()))
	}
}

func TestWritableHandlePinsAgainstEviction(t *testing.T) {
	buf := newTestBuffer(t, 2)
	h := Open(buf, 0, true)
	h.SetNumRows(1)

	if v := buf.Evict(); v != tier.Refuse {
		t.Fatalf("Evict() on a buffer with an open writable handle = %v, want Refuse", v)
	}

	h.Close()
}

func TestMutationAtNonzeroStageDoesNotResizeTier(t *testing.T) {
	buf := newTestBuffer(t, 2)
	h0 := Open(buf, 0, true)
	h0.SetNumRows(2)
	h0.Close()

	before := buf.CurrentSize()

	h1 := Open(buf, 1, true)
	h1.SetNumRows(10)
	h1.Close()

	if buf.CurrentSize() != before {
		t.Fatalf("a mutation at stage 1 must not change the tier-visible size: before=%d after=%d", before, buf.CurrentSize())
	}
}
