package savefile

import (
	"bytes"
	"io"
	"log"
	"os"
	"testing"
)

func newTestFile(t *testing.T, maxSize int64) *SaveFile {
	t.Helper()
	sf, err := Open(t.TempDir(), "test-", maxSize, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sf.Close() })
	return sf
}

func TestWriteReadRoundTrip(t *testing.T) {
	sf := newTestFile(t, Unlimited)

	data := bytes.Repeat([]byte{0x42}, 256)
	block, err := sf.WriteData(data)
	if err != nil {
		t.Fatalf("WriteData: %v", err)
	}

	dest := make([]byte, block.Length)
	if err := sf.ReadData(dest, block); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(dest, data) {
		t.Fatalf("round-tripped bytes do not match")
	}
}

func TestFreeAndReuse(t *testing.T) {
	sf := newTestFile(t, Unlimited)

	a, err := sf.WriteData(bytes.Repeat([]byte{1}, 100))
	if err != nil {
		t.Fatalf("WriteData a: %v", err)
	}
	sf.Free(a)

	b, err := sf.WriteData(bytes.Repeat([]byte{2}, 100))
	if err != nil {
		t.Fatalf("WriteData b: %v", err)
	}

	if b.Offset != a.Offset {
		t.Fatalf("expected the freed run to be reused by first-fit: got offset %d, want %d", b.Offset, a.Offset)
	}
	if sf.Size() != 100 {
		t.Fatalf("Size() = %d, want 100 (no growth expected when reusing a free run)", sf.Size())
	}
}

func TestFreeCoalescesAdjacentRuns(t *testing.T) {
	sf := newTestFile(t, Unlimited)

	a, _ := sf.WriteData(bytes.Repeat([]byte{1}, 50))
	b, _ := sf.WriteData(bytes.Repeat([]byte{2}, 50))
	sf.Free(a)
	sf.Free(b)

	// A single 100-byte write should now fit in the coalesced 100-byte run.
	c, err := sf.WriteData(bytes.Repeat([]byte{3}, 100))
	if err != nil {
		t.Fatalf("WriteData c: %v", err)
	}
	if c.Offset != a.Offset {
		t.Fatalf("expected coalesced free runs to satisfy a 100-byte request at offset %d, got %d", a.Offset, c.Offset)
	}
	if sf.Size() != 100 {
		t.Fatalf("Size() = %d, want 100", sf.Size())
	}
}

func TestWriteDataRefusesOverMaxSize(t *testing.T) {
	sf := newTestFile(t, 100)

	if _, err := sf.WriteData(make([]byte, 100)); err != nil {
		t.Fatalf("WriteData at exactly the max size: %v", err)
	}

	_, err := sf.WriteData(make([]byte, 1))
	if err != ErrFull {
		t.Fatalf("WriteData beyond max size: got %v, want ErrFull", err)
	}
}

func TestReadDataWrongLengthDest(t *testing.T) {
	sf := newTestFile(t, Unlimited)
	block, _ := sf.WriteData([]byte("hello"))

	err := sf.ReadData(make([]byte, 4), block)
	if err == nil {
		t.Fatalf("expected an error when dest length does not match block length")
	}
}

func TestOpenRemovesStaleScratchFiles(t *testing.T) {
	dir := t.TempDir()
	stalePath := dir + "/leftover-abc123.vmem"
	if err := os.WriteFile(stalePath, []byte("orphaned"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sf, err := Open(dir, "leftover-", Unlimited, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sf.Close()

	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale scratch file to be removed, stat err = %v", err)
	}
}
