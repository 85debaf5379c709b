// Package vbuffer implements the four-state residency engine for a
// vertex buffer: Resident, Compressed, Disk, and CompressedDisk, with
// promotion and demotion transitions that compose a tier, a save file,
// and a codec into one state machine.
package vbuffer

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pablorey0/vertexmem/arrayformat"
	"github.com/pablorey0/vertexmem/codec"
	"github.com/pablorey0/vertexmem/cycled"
	"github.com/pablorey0/vertexmem/savefile"
	"github.com/pablorey0/vertexmem/tier"
	"github.com/pablorey0/vertexmem/verr"
)

// Residency is one of the four storage classes a Buffer occupies.
type Residency int

const (
	Resident Residency = iota
	Compressed
	Disk
	CompressedDisk
)

func (r Residency) String() string {
	switch r {
	case Resident:
		return "Resident"
	case Compressed:
		return "Compressed"
	case Disk:
		return "Disk"
	case CompressedDisk:
		return "CompressedDisk"
	default:
		return "Unknown"
	}
}

// DeviceContext is an opaque handle returned by a device collaborator
// when a buffer is prepared on that device. If it implements Releasable,
// Release calls it back when the entry is dropped from the table.
type DeviceContext interface{}

// Releasable is an optional interface a DeviceContext may implement so
// that Release/ReleaseAll can notify the device side.
type Releasable interface {
	Release()
}

// Collaborators are the process-wide pieces a Buffer is composed over.
// A Registry constructs Buffers by supplying its own tiers, save file,
// codec and shared state counter -- Buffer holds no ambient singletons,
// per the "model as a single Registry value" guidance.
type Collaborators struct {
	RAMTier         *tier.Tier
	CompressedTier  *tier.Tier
	DiskTier        *tier.Tier
	Save            *savefile.SaveFile
	Codec           *codec.Codec
	MinCompressSize int64
	Stamps          *uint64 // process-wide monotonic counter, shared across buffers
	Logger          verr.Logger
}

// Buffer is a vertex array buffer: identity stable across residency
// changes, composing a CycledData ring, an optional on-disk SaveBlock,
// and a device-context table.
type Buffer struct {
	coll Collaborators

	id        uuid.UUID
	mu        sync.Mutex
	format    *arrayformat.Format
	usage     cycled.UsageHint
	residency Residency
	data      *cycled.Cycled
	block     savefile.Block
	hasBlock  bool
	modified  uint64
	writePins int
	devices   map[interface{}]DeviceContext
}

// New constructs a Buffer in the Resident state with numStages pipeline
// stages, backed by the given Collaborators. format must already be
// interned through an arrayformat.Registry.
func New(coll Collaborators, format *arrayformat.Format, usage cycled.UsageHint, numStages int) *Buffer {
	if format == nil || format.ID == uuid.Nil {
		panic(&verr.Error{Code: verr.FormatUnregistered, Text: "vbuffer: construction with an unregistered array format"})
	}

	b := &Buffer{
		coll:      coll,
		id:        uuid.New(),
		format:    format,
		usage:     usage,
		residency: Resident,
		data:      cycled.New(numStages),
		devices:   make(map[interface{}]DeviceContext),
	}
	b.coll.RAMTier.Enroll(b, 0)
	return b
}

// ID returns the buffer's stable identity, assigned once at construction
// and carried through the durable serialization format.
func (b *Buffer) ID() uuid.UUID { return b.id }

// SetID overrides the buffer's identity. Called by the registry package
// immediately after New when reconstructing a buffer read from a stream,
// so its identity matches the one it was serialized under.
func (b *Buffer) SetID(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = id
}

// Format returns the buffer's array format.
func (b *Buffer) Format() *arrayformat.Format { return b.format }

// Residency returns the buffer's current residency class.
func (b *Buffer) Residency() Residency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.residency
}

// Modified returns the buffer's last-write stamp.
func (b *Buffer) Modified() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modified
}

// Data returns the buffer's per-stage snapshot ring, for use by the
// handle and registry packages.
func (b *Buffer) Data() *cycled.Cycled { return b.data }

// Usage returns the buffer's usage hint.
func (b *Buffer) Usage() cycled.UsageHint { return b.usage }

func (b *Buffer) bumpStampLocked() {
	b.modified = atomic.AddUint64(b.coll.Stamps, 1)
}

func (b *Buffer) tierForLocked() *tier.Tier {
	switch b.residency {
	case Resident:
		return b.coll.RAMTier
	case Compressed:
		return b.coll.CompressedTier
	default:
		return b.coll.DiskTier
	}
}

// PinWrite marks the buffer as held by a writable handle, refusing
// eviction for the duration. UnpinWrite releases the pin. Both are
// called by the handle package.
func (b *Buffer) PinWrite() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writePins++
}

func (b *Buffer) UnpinWrite() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writePins > 0 {
		b.writePins--
	}
}

// Touch marks the buffer as recently used in its current tier, without
// changing residency. The handle package does not call it; opening a
// handle touches the RAM tier through MakeResident instead.
func (b *Buffer) Touch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tierForLocked().Touch(b)
}

// Resize updates the buffer's byte accounting in its current tier and
// draws a fresh modification stamp, called by the handle package after a
// stage-0 mutation changes length.
func (b *Buffer) Resize(newSize int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tierForLocked().Resize(b, newSize)
	b.bumpStampLocked()
}

// BumpStamp draws a fresh modification stamp without touching tier
// accounting, called by the handle package after a mutation at a stage
// other than 0 (which is local to that stage and does not resize the
// LRU entry).
func (b *Buffer) BumpStamp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bumpStampLocked()
}

// CurrentSize implements tier.Page: it reports the buffer's present
// contribution to whichever tier it is enrolled in.
func (b *Buffer) CurrentSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasBlock {
		return b.block.Length
	}
	snap, release := b.data.Read(0)
	defer release()
	return int64(len(snap.Bytes))
}

// Evict implements tier.Page. It is invoked by the owning tier when over
// budget and this buffer is the chosen LRU candidate.
func (b *Buffer) Evict() tier.Verdict {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writePins > 0 {
		return tier.Refuse
	}

	switch b.residency {
	case Resident:
		if b.coll.CompressedTier.Budget() != 0 {
			b.demoteToCompressedLocked()
			return tier.Comply
		}
		if b.demoteToDiskLocked() {
			return tier.Comply
		}
		return tier.Requeue
	case Compressed:
		if b.demoteToDiskLocked() {
			return tier.Comply
		}
		return tier.Requeue
	default: // Disk, CompressedDisk
		if b.coll.Logger != nil {
			b.coll.Logger.Printf("vbuffer: refusing eviction of disk-resident buffer")
		}
		return tier.Refuse
	}
}

// MakeResident promotes the buffer to the Resident class, restoring from
// disk and/or decompressing as needed. It is a no-op if already Resident.
func (b *Buffer) MakeResident() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.residency == Resident {
		b.coll.RAMTier.Touch(b)
		return
	}
	if b.residency == Disk || b.residency == CompressedDisk {
		b.restoreFromDiskLocked()
	}
	if b.residency == Compressed {
		b.decompressLocked()
	}
}

// MakeCompressed brings the buffer to the Compressed class. It is a no-op
// (apart from touching the compressed tier) if already Compressed. From
// Resident the bytes are compressed; from CompressedDisk they are restored
// up to Compressed; from Disk they are restored and then compressed.
func (b *Buffer) MakeCompressed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.residency {
	case Compressed:
		b.coll.CompressedTier.Touch(b)
		return
	case Disk, CompressedDisk:
		b.restoreFromDiskLocked()
	}

	if b.residency == Resident {
		b.demoteToCompressedLocked()
	} else {
		b.coll.CompressedTier.Touch(b)
	}
}

// MakeDisk demotes the buffer to Disk (from Resident) or CompressedDisk
// (from Compressed), writing its bytes to the save file. It is a no-op
// if already on disk. If the save file refuses the write, the buffer is
// left in its current tier, marked as recently used, and a SaveFileFull
// error is returned.
func (b *Buffer) MakeDisk() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.residency == Disk || b.residency == CompressedDisk {
		return nil
	}

	if b.demoteToDiskLocked() {
		return nil
	}

	b.tierForLocked().Touch(b)
	return &verr.Error{Code: verr.SaveFileFull, Text: "vbuffer: save file write refused, buffer remains in current tier"}
}

// demoteToCompressedLocked compresses stage-0 bytes in place, relabeling
// Resident -> Compressed. If the codec output is not smaller than the
// input, the uncompressed bytes are kept (still labeled Compressed),
// per the spec's documented policy for a non-shrinking compression
// result.
func (b *Buffer) demoteToCompressedLocked() {
	snap, release := b.data.Write(0, true)
	full := len(snap.Bytes)
	out := snap.Bytes
	if int64(full) > b.coll.MinCompressSize {
		compressed := b.coll.Codec.Compress(snap.Bytes)
		if len(compressed) < full {
			out = compressed
		}
	}
	snap.Bytes = out
	snap.DataFullSize = full
	size := len(out)
	release()

	b.coll.RAMTier.Withdraw(b)
	b.residency = Compressed
	b.coll.CompressedTier.Enroll(b, int64(size))
	b.bumpStampLocked()
}

// decompressLocked restores stage-0 bytes to their uncompressed form,
// relabeling Compressed -> Resident. It is a no-op on the bytes
// themselves when the stored length already equals DataFullSize (the
// buffer was below the compress threshold, or the codec did not shrink
// it, so raw bytes were kept to begin with).
func (b *Buffer) decompressLocked() {
	snap, release := b.data.Write(0, true)
	if snap.DataFullSize > len(snap.Bytes) {
		out, err := b.coll.Codec.Decompress(snap.Bytes, int64(snap.DataFullSize))
		if err != nil {
			release()
			panic(&verr.Error{Code: verr.CodecError, Text: "vbuffer: decompress failed restoring a resident buffer"})
		}
		snap.Bytes = out
	}
	size := len(snap.Bytes)
	release()

	b.coll.CompressedTier.Withdraw(b)
	b.residency = Resident
	b.coll.RAMTier.Enroll(b, int64(size))
	b.bumpStampLocked()
}

// restoreFromDiskLocked reads the buffer's SaveBlock back into memory and
// frees it, relabeling Disk -> Resident or CompressedDisk -> Compressed.
func (b *Buffer) restoreFromDiskLocked() {
	if !b.hasBlock {
		panic(&verr.Error{Code: verr.SaveFileReadError, Text: "vbuffer: restore_from_disk called without a SaveBlock"})
	}

	dest := make([]byte, b.block.Length)
	if err := b.coll.Save.ReadData(dest, b.block); err != nil {
		panic(&verr.Error{Code: verr.SaveFileReadError, Text: "vbuffer: save file read failed, buffer contents lost"})
	}

	oldBlock := b.block
	b.hasBlock = false
	b.block = savefile.Block{}
	b.coll.Save.Free(oldBlock)

	snap, release := b.data.Write(0, true)
	snap.Bytes = dest
	release()

	wasCompressedDisk := b.residency == CompressedDisk
	b.coll.DiskTier.Withdraw(b)
	if wasCompressedDisk {
		b.residency = Compressed
		b.coll.CompressedTier.Enroll(b, int64(len(dest)))
	} else {
		b.residency = Resident
		b.coll.RAMTier.Enroll(b, int64(len(dest)))
	}
	b.bumpStampLocked()
}

// demoteToDiskLocked writes stage-0 bytes to the save file and, on
// success, frees the in-memory bytes and relabels Resident -> Disk or
// Compressed -> CompressedDisk. It reports whether the write succeeded;
// on failure the buffer is left entirely unchanged.
func (b *Buffer) demoteToDiskLocked() bool {
	snap, release := b.data.Read(0)
	data := snap.Bytes
	release()

	block, err := b.coll.Save.WriteData(data)
	if err != nil {
		return false
	}

	wsnap, wrelease := b.data.Write(0, true)
	wsnap.Bytes = nil
	wrelease()

	wasCompressed := b.residency == Compressed
	b.tierForLocked().Withdraw(b)
	b.block = block
	b.hasBlock = true
	if wasCompressed {
		b.residency = CompressedDisk
	} else {
		b.residency = Disk
	}
	b.coll.DiskTier.Enroll(b, block.Length)
	b.bumpStampLocked()
	return true
}

// Prepare registers an already-obtained device context for device,
// replacing any prior entry. Used when a collaborator has performed its
// own upload and hands the core an opaque handle to track.
func (b *Buffer) Prepare(device interface{}, ctx DeviceContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[device] = ctx
}

// IsPrepared reports whether device has a registered context.
func (b *Buffer) IsPrepared(device interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.devices[device]
	return ok
}

// PrepareNow returns device's existing context, or calls create to
// produce one, register it, and return it. Calling PrepareNow twice for
// the same device returns the same context both times.
func (b *Buffer) PrepareNow(device interface{}, create func() DeviceContext) DeviceContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx, ok := b.devices[device]; ok {
		return ctx
	}
	ctx := create()
	b.devices[device] = ctx
	return ctx
}

// Release drops device's registered context, calling its Release method
// if it implements Releasable. It panics with UnknownDeviceContext if
// device has no entry -- a collaborator bug.
func (b *Buffer) Release(device interface{}) {
	b.mu.Lock()
	ctx, ok := b.devices[device]
	if !ok {
		b.mu.Unlock()
		panic(&verr.Error{Code: verr.UnknownDeviceContext, Text: "vbuffer: clear_prepared for a device not in the table"})
	}
	delete(b.devices, device)
	b.mu.Unlock()

	if r, ok := ctx.(Releasable); ok {
		r.Release()
	}
}

// ReleaseAll drops every registered device context, leaving the table
// empty. It iterates a snapshot, since a device's Release callback may
// itself mutate the table.
func (b *Buffer) ReleaseAll() {
	b.mu.Lock()
	snapshot := make(map[interface{}]DeviceContext, len(b.devices))
	for k, v := range b.devices {
		snapshot[k] = v
	}
	b.devices = make(map[interface{}]DeviceContext)
	b.mu.Unlock()

	for _, ctx := range snapshot {
		if r, ok := ctx.(Releasable); ok {
			r.Release()
		}
	}
}
