// Package registry composes the tiers, save file, codec and array-format
// table into one process-wide value: the entry point an embedding host
// uses to create vertex buffers, drive LRU epochs, and serialize buffers
// to and from a stream.
package registry

import (
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pablorey0/vertexmem/arrayformat"
	"github.com/pablorey0/vertexmem/codec"
	"github.com/pablorey0/vertexmem/cycled"
	"github.com/pablorey0/vertexmem/savefile"
	"github.com/pablorey0/vertexmem/serialize"
	"github.com/pablorey0/vertexmem/tier"
	"github.com/pablorey0/vertexmem/vbuffer"
	"github.com/pablorey0/vertexmem/verr"
)

// Config is the set of tunables a Registry is built from, matching the
// configuration record an embedding host loads from YAML or CLI flags.
type Config struct {
	MaxRAMBytes        int64
	MaxCompressedBytes int64
	CompressionLevel   int
	MaxDiskBytes       int64
	MinCompressSize    int64
	SaveFileDir        string
	SaveFilePrefix     string
}

// Registry is the process-wide collaborator set for a vertex memory
// manager: three LRU tiers, one save file, one codec, one array-format
// table, and the monotonic modification-stamp counter shared by every
// buffer it creates.
type Registry struct {
	ram        *tier.Tier
	compressed *tier.Tier
	disk       *tier.Tier
	save       *savefile.SaveFile
	codec      *codec.Codec
	formats    *arrayformat.Registry
	stamps     *uint64
	logger     verr.Logger

	minCompressSize int64
}

// New builds a Registry from cfg. logger is threaded into every
// collaborator that logs (the save file's stale-scratch-file cleanup,
// eviction refusals of disk-resident buffers); it may be nil.
func New(cfg Config, logger verr.Logger) (*Registry, error) {
	c, err := codec.New(cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	sf, err := savefile.Open(cfg.SaveFileDir, cfg.SaveFilePrefix, cfg.MaxDiskBytes, logger)
	if err != nil {
		return nil, err
	}

	return &Registry{
		ram:        tier.New("ram", cfg.MaxRAMBytes),
		compressed: tier.New("compressed", cfg.MaxCompressedBytes),
		disk:       tier.New("disk", tier.Unlimited),
		save:       sf,
		codec:      c,
		formats:    arrayformat.NewRegistry(),
		stamps:     new(uint64),
		logger:     logger,

		minCompressSize: cfg.MinCompressSize,
	}, nil
}

// RegisterMetrics registers every collaborator's Prometheus collectors.
func (r *Registry) RegisterMetrics(reg prometheus.Registerer) {
	r.ram.RegisterMetrics(reg)
	r.compressed.RegisterMetrics(reg)
	r.disk.RegisterMetrics(reg)
	r.save.RegisterMetrics(reg)
}

// Close releases the save file's backing scratch file.
func (r *Registry) Close() error {
	return r.save.Close()
}

// RegisterFormat interns f, returning the canonical Format for its column
// layout -- see arrayformat.Registry.Register.
func (r *Registry) RegisterFormat(f *arrayformat.Format) *arrayformat.Format {
	return r.formats.Register(f)
}

// ResolveFormat looks up a previously interned Format by its pointer-id.
func (r *Registry) ResolveFormat(id uuid.UUID) (*arrayformat.Format, bool) {
	return r.formats.Resolve(id)
}

// Create constructs a new vertex buffer in the Resident state with
// numStages pipeline stages, backed by this registry's tiers, save file
// and codec. format must already be interned via RegisterFormat.
func (r *Registry) Create(format *arrayformat.Format, usage cycled.UsageHint, numStages int) *vbuffer.Buffer {
	return vbuffer.New(r.collaborators(), format, usage, numStages)
}

func (r *Registry) collaborators() vbuffer.Collaborators {
	return vbuffer.Collaborators{
		RAMTier:         r.ram,
		CompressedTier:  r.compressed,
		DiskTier:        r.disk,
		Save:            r.save,
		Codec:           r.codec,
		MinCompressSize: r.minCompressSize,
		Stamps:          r.stamps,
		Logger:          r.logger,
	}
}

// LruEpoch runs one eviction pass over the RAM and compressed tiers, in
// that order. The disk tier is never driven by an epoch: nothing above it
// in the residency chain demotes further, so it has no tier of its own to
// spill into, and its only budget is the save file's own maximum size.
func (r *Registry) LruEpoch() {
	r.ram.BeginEpoch()
	r.compressed.BeginEpoch()
}

// WriteBuffer serializes buf's current contents to w in the given byte
// order, forcing it Resident first so there are bytes to write.
func (r *Registry) WriteBuffer(w io.Writer, order binary.ByteOrder, buf *vbuffer.Buffer) error {
	buf.MakeResident()
	snap, release := buf.Data().Read(0)
	data := append([]byte(nil), snap.Bytes...)
	release()
	return serialize.Write(w, order, buf.ID(), buf.Format(), buf.Usage(), data)
}

// ReadBufferHeader decodes one buffer record's header and bytes from rd,
// without requiring its array format to be resolvable yet. If the format
// has not been registered on this Registry by the time the record's
// endianness needs flipping, the returned Decoded carries its bytes still
// in foreign endianness -- the caller must register the format (e.g. once
// a later part of the stream defines it) and pass the Decoded to
// FinalizeBuffer to complete construction.
func (r *Registry) ReadBufferHeader(rd io.Reader, order binary.ByteOrder) (serialize.Decoded, error) {
	return serialize.Read(rd, order, r.formats.Resolve)
}

// FinalizeBuffer completes construction of a Buffer from a Decoded header
// once its array format is resolvable through this registry's table,
// applying any flip that ReadBufferHeader had to defer.
func (r *Registry) FinalizeBuffer(d serialize.Decoded, numStages int) (*vbuffer.Buffer, error) {
	format, ok := r.formats.Resolve(d.FormatID)
	if !ok {
		return nil, &verr.Error{Code: verr.FormatUnregistered, Text: "registry: read buffer references an unregistered array format"}
	}

	data := d.Bytes
	if d.DeferredFlip {
		data = serialize.ResolveDeferredFlip(d, format)
	}

	buf := vbuffer.New(r.collaborators(), format, d.Usage, numStages)
	buf.SetID(d.ID)

	snap, release := buf.Data().Write(0, true)
	snap.Bytes = data
	snap.DataFullSize = len(data)
	release()
	buf.Resize(int64(len(data)))

	return buf, nil
}

// ReadBuffer is the common case of ReadBufferHeader immediately followed
// by FinalizeBuffer, for a record whose format is already registered.
func (r *Registry) ReadBuffer(rd io.Reader, order binary.ByteOrder, numStages int) (*vbuffer.Buffer, error) {
	d, err := r.ReadBufferHeader(rd, order)
	if err != nil {
		return nil, err
	}
	return r.FinalizeBuffer(d, numStages)
}
