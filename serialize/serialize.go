// Package serialize implements the durable, endian-aware wire format for a
// vertex buffer: identity, array-format pointer, usage hint, byte count and
// raw bytes. Component-wise byte flips are applied when the stream's
// endianness differs from the running process's, following the array
// format's column layout rather than flipping whole rows blindly.
package serialize

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/pablorey0/vertexmem/arrayformat"
	"github.com/pablorey0/vertexmem/cycled"
	"github.com/pablorey0/vertexmem/verr"
)

// CurrentVersion is written at the head of every record produced by Write.
const CurrentVersion = 2

// MinSupportedVersion is the oldest record version Read will still accept.
// Anything older is reported as verr.StaleVersion.
const MinSupportedVersion = 1

// nativeIsLittleEndian is resolved once using encoding/binary's Go 1.21
// native-order helper, so Write/Read can tell whether a caller-supplied
// stream order requires a component-wise flip.
var nativeIsLittleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

func isNative(order binary.ByteOrder) bool {
	if nativeIsLittleEndian {
		return order == binary.LittleEndian
	}
	return order == binary.BigEndian
}

// Decoded is one buffer record read off a stream. FormatID is the pointer
// into the array-format table; the caller resolves it (possibly after the
// rest of the stream has registered it) before constructing a live buffer.
// If DeferredFlip is true, Bytes is still in the stream's foreign
// endianness and must be flipped once the format becomes resolvable --
// mirroring the case where a stream introduces a buffer before the array
// format record it points at.
type Decoded struct {
	ID           uuid.UUID
	FormatID     uuid.UUID
	Usage        cycled.UsageHint
	Bytes        []byte
	DeferredFlip bool
}

// Write encodes one buffer record to w in the given byte order. format must
// already be interned (format.ID != uuid.Nil). data is the buffer's native
// in-memory bytes; Write does not mutate it -- when a flip is required, a
// copy is flipped and written, leaving the caller's bytes untouched.
func Write(w io.Writer, order binary.ByteOrder, id uuid.UUID, format *arrayformat.Format, usage cycled.UsageHint, data []byte) error {
	if format == nil || format.ID == uuid.Nil {
		return &verr.Error{Code: verr.FormatUnregistered, Text: "serialize: write with an unregistered array format"}
	}

	out := data
	if !isNative(order) {
		out = flip(data, format)
	}

	if err := writeByte(w, CurrentVersion); err != nil {
		return err
	}
	if _, err := w.Write(id[:]); err != nil {
		return err
	}
	if _, err := w.Write(format.ID[:]); err != nil {
		return err
	}
	if err := writeByte(w, byte(usage)); err != nil {
		return err
	}
	if err := binary.Write(w, order, uint32(len(out))); err != nil {
		return err
	}
	_, err := w.Write(out)
	return err
}

// Read decodes one buffer record from r. resolve looks up an array format
// by its pointer-id; it may report ok=false if the format has not been
// registered yet in this read session (e.g. its defining record appears
// later in the stream), in which case the returned Decoded carries
// DeferredFlip=true and still-foreign-endian bytes that ResolveDeferredFlip
// must flip once the format becomes available.
func Read(r io.Reader, order binary.ByteOrder, resolve func(uuid.UUID) (*arrayformat.Format, bool)) (Decoded, error) {
	version, err := readByte(r)
	if err != nil {
		return Decoded{}, err
	}
	if version < MinSupportedVersion {
		return Decoded{}, &verr.Error{Code: verr.StaleVersion, Text: fmt.Sprintf("serialize: record version %d is older than the minimum supported version %d", version, MinSupportedVersion)}
	}

	var id, formatID uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return Decoded{}, err
	}
	if _, err := io.ReadFull(r, formatID[:]); err != nil {
		return Decoded{}, err
	}

	usageByte, err := readByte(r)
	if err != nil {
		return Decoded{}, err
	}

	byteCount, err := readByteCount(r, order, version)
	if err != nil {
		return Decoded{}, err
	}

	data := make([]byte, byteCount)
	if _, err := io.ReadFull(r, data); err != nil {
		return Decoded{}, err
	}

	d := Decoded{ID: id, FormatID: formatID, Usage: cycled.UsageHint(usageByte), Bytes: data}
	if isNative(order) {
		return d, nil
	}

	format, ok := resolve(formatID)
	if !ok {
		d.DeferredFlip = true
		return d, nil
	}
	d.Bytes = flip(data, format)
	return d, nil
}

// ResolveDeferredFlip returns a copy of d.Bytes flipped against format's
// column layout, now in native endianness; d.Bytes itself is left
// unchanged. Called once a record's array format becomes resolvable after
// having been deferred by Read.
func ResolveDeferredFlip(d Decoded, format *arrayformat.Format) []byte {
	return flip(d.Bytes, format)
}

// readByteCount reads the record's byte-count field. Version 1 records
// always wrote this field little-endian regardless of the record's nominal
// stream order -- a quirk of the legacy writer preserved here for
// compatibility, not repeated by Write.
func readByteCount(r io.Reader, order binary.ByteOrder, version byte) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	if version < CurrentVersion {
		return binary.LittleEndian.Uint32(buf[:]), nil
	}
	return order.Uint32(buf[:]), nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// flip returns a copy of data with every multi-byte component of every
// column, in every row, byte-reversed. Component boundaries come from
// format so that e.g. a column of four float32s is flipped four bytes at a
// time, not as one sixteen-byte span.
func flip(data []byte, format *arrayformat.Format) []byte {
	out := append([]byte(nil), data...)
	stride := format.Stride
	if stride <= 0 {
		return out
	}
	for rowStart := 0; rowStart+stride <= len(out); rowStart += stride {
		for _, col := range format.Columns {
			if col.ComponentSize <= 1 {
				continue
			}
			base := rowStart + col.Offset
			for c := 0; c < col.Components; c++ {
				start := base + c*col.ComponentSize
				end := start + col.ComponentSize
				if end > len(out) {
					continue
				}
				reverse(out[start:end])
			}
		}
	}
	return out
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
