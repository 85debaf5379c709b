// Package arrayformat describes the schema of one row of a vertex buffer:
// an ordered list of columns, each with a component count and per-component
// byte width, and the row's total stride. A Format must be interned through
// a Registry before any buffer referencing it becomes usable.
package arrayformat

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Column describes one column of a row: its byte offset within the row,
// how many numeric components it has, and the byte width of each
// component (used by the serializer to reverse individual components
// rather than whole columns when flipping endianness).
type Column struct {
	Offset        int
	Components    int
	ComponentSize int
}

// Size returns the column's total byte width.
func (c Column) Size() int { return c.Components * c.ComponentSize }

// Format is the schema of one row of a vertex buffer.
type Format struct {
	// ID is a stable identifier assigned on registration, used as the
	// pointer-id in the durable serialization format.
	ID uuid.UUID

	Columns []Column
	Stride  int
}

// key returns a structural fingerprint of the format's column layout,
// independent of registration order, so that two independently
// constructed Formats describing the same layout intern to one canonical
// value.
func (f *Format) key() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(f.Stride))
	h.Write(buf[:])
	for _, c := range f.Columns {
		binary.LittleEndian.PutUint64(buf[:], uint64(c.Offset))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(c.Components))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(c.ComponentSize))
		h.Write(buf[:])
	}
	return string(h.Sum(nil))
}

// ErrUnregistered is returned when an operation references a Format that
// has not been interned through a Registry.
var ErrUnregistered = fmt.Errorf("arrayformat: format not registered")

// Registry interns Formats so that structurally identical layouts
// constructed independently (e.g. deserialized from two different
// streams) collapse to one canonical value, addressable by a stable ID.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*Format
	byID  map[uuid.UUID]*Format
}

// NewRegistry returns an empty format registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]*Format),
		byID:  make(map[uuid.UUID]*Format),
	}
}

// Register interns f, returning the canonical Format for its layout. If an
// equivalent layout was already registered, the existing Format is
// returned and f is discarded; callers that held a pointer table keyed on
// f's prior ID must remap to the canonical ID.
func (r *Registry) Register(f *Format) *Format {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := f.key()
	if existing, ok := r.byKey[key]; ok {
		return existing
	}

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	r.byKey[key] = f
	r.byID[f.ID] = f
	return f
}

// Resolve looks up a previously registered Format by its ID.
func (r *Registry) Resolve(id uuid.UUID) (*Format, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byID[id]
	return f, ok
}

// MustResolve is like Resolve, but returns ErrUnregistered instead of ok=false.
func (r *Registry) MustResolve(id uuid.UUID) (*Format, error) {
	f, ok := r.Resolve(id)
	if !ok {
		return nil, ErrUnregistered
	}
	return f, nil
}
