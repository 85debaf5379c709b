package codec

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	original := bytes.Repeat([]byte{0x7A}, 10000)
	compressed := c.Compress(original)
	if len(compressed) >= len(original) {
		t.Fatalf("compressed size %d should be smaller than original %d for a repeating byte", len(compressed), len(original))
	}

	decompressed, err := c.Decompress(compressed, int64(len(original)))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Fatalf("decompressed bytes do not match original")
	}
}

func TestBucketLevelCoversFullRange(t *testing.T) {
	for level := 1; level <= 9; level++ {
		if _, err := New(level); err != nil {
			t.Fatalf("New(%d): %v", level, err)
		}
	}
}
