// Package handle implements BufferHandle: a scoped accessor that forces
// residency before exposing a vertex buffer's bytes at one pipeline
// stage, and on release updates modification stamps and LRU accounting.
package handle

import (
	"fmt"

	"github.com/pablorey0/vertexmem/cycled"
	"github.com/pablorey0/vertexmem/vbuffer"
)

// Handle is a scoped, typed view over one pipeline stage of a buffer's
// bytes. Always obtain one before reading or writing; always Close it
// when done -- Close is idempotent and safe to defer.
type Handle struct {
	buf      *vbuffer.Buffer
	stage    int
	writable bool

	snap    *cycled.Snapshot
	release func()
	closed  bool
}

// Open constructs a Handle over buf at the given pipeline stage. It
// first forces the buffer Resident, since bytes are only physically
// present outside the Disk/CompressedDisk classes. A writable handle
// additionally pins residency for its lifetime, refusing any eviction
// attempt until Close.
func Open(buf *vbuffer.Buffer, stage int, writable bool) *Handle {
	buf.MakeResident()
	if writable {
		buf.PinWrite()
	}

	var snap *cycled.Snapshot
	var release func()
	if writable {
		snap, release = buf.Data().Write(stage, false)
	} else {
		snap, release = buf.Data().Read(stage)
	}

	return &Handle{buf: buf, stage: stage, writable: writable, snap: snap, release: release}
}

// Close releases the handle: it drops the stage lock and, for a writable
// handle, draws a fresh modification stamp and -- only when the handle
// was opened at stage 0 -- resizes the owning tier's accounting to match
// the final byte length. It is a no-op on a second call.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true

	finalLen := int64(len(h.snap.Bytes))
	h.release()

	if !h.writable {
		return
	}
	if h.stage == 0 {
		h.buf.Resize(finalLen)
	} else {
		h.buf.BumpStamp()
	}
	h.buf.UnpinWrite()
}

// Bytes returns the handle's current view of the stage's bytes. For a
// read-only handle the caller must not mutate the returned slice.
func (h *Handle) Bytes() []byte {
	return h.snap.Bytes
}

func (h *Handle) mustBeWritable(op string) {
	if !h.writable {
		panic(fmt.Sprintf("handle: %s called on a read-only handle", op))
	}
}

// SetNumRows resizes the buffer to n rows (n * format stride bytes),
// zero-initializing any newly added bytes. It reports whether the size
// changed.
func (h *Handle) SetNumRows(n int) bool {
	h.mustBeWritable("SetNumRows")
	newLen := n * h.buf.Format().Stride
	if newLen == len(h.snap.Bytes) {
		return false
	}
	grown := make([]byte, newLen)
	copy(grown, h.snap.Bytes)
	h.snap.Bytes = grown
	h.snap.DataFullSize = newLen
	return true
}

// UncleanSetNumRows resizes the buffer to n rows, like SetNumRows, but
// is the entry point to use when the caller is about to overwrite the
// new region immediately -- Go always zero-initializes newly allocated
// memory, so this differs from SetNumRows only in signaling that intent,
// not in the bytes actually produced.
func (h *Handle) UncleanSetNumRows(n int) bool {
	h.mustBeWritable("UncleanSetNumRows")
	newLen := n * h.buf.Format().Stride
	old := len(h.snap.Bytes)
	if newLen == old {
		return false
	}
	if newLen < old {
		h.snap.Bytes = h.snap.Bytes[:newLen]
	} else {
		grown := make([]byte, newLen)
		copy(grown, h.snap.Bytes)
		h.snap.Bytes = grown
	}
	h.snap.DataFullSize = newLen
	return true
}

// CopyDataFrom replaces this handle's bytes wholesale with other's
// stage-0 bytes. other is forced Resident first.
func (h *Handle) CopyDataFrom(other *vbuffer.Buffer) {
	h.mustBeWritable("CopyDataFrom")
	other.MakeResident()

	osnap, orelease := other.Data().Read(0)
	data := append([]byte(nil), osnap.Bytes...)
	fullSize := osnap.DataFullSize
	orelease()

	h.snap.Bytes = data
	h.snap.DataFullSize = fullSize
}

// CopySubdataFrom copies srcLen bytes starting at srcStart of other's
// stage-0 bytes into this handle's bytes starting at dstStart. If
// srcLen != dstLen, the destination is grown or shrunk around dstStart
// so the copied region fits exactly. Both the source and destination
// ranges are clamped to the buffers' actual sizes.
func (h *Handle) CopySubdataFrom(dstStart, dstLen int, other *vbuffer.Buffer, srcStart, srcLen int) {
	h.mustBeWritable("CopySubdataFrom")
	other.MakeResident()

	osnap, orelease := other.Data().Read(0)
	src := osnap.Bytes
	orelease()

	srcStart = clamp(srcStart, 0, len(src))
	srcLen = clamp(srcLen, 0, len(src)-srcStart)

	dst := h.snap.Bytes
	dstStart = clamp(dstStart, 0, len(dst))
	dstLen = clamp(dstLen, 0, len(dst)-dstStart)

	if srcLen != dstLen {
		delta := srcLen - dstLen
		grown := make([]byte, len(dst)+delta)
		copy(grown, dst[:dstStart])
		tailStart := dstStart + dstLen
		copy(grown[dstStart+srcLen:], dst[tailStart:])
		dst = grown
	}

	copy(dst[dstStart:dstStart+srcLen], src[srcStart:srcStart+srcLen])
	h.snap.Bytes = dst
	h.snap.DataFullSize = len(dst)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
