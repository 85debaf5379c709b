// Package codec wraps the zstd implementation used to compress vertex
// buffer bytes when a buffer is demoted into the Compressed residency
// class. It is the core's sole "opaque compress/decompress" collaborator
// referenced by the design (deflate-style codecs are treated as an
// external concern; this package is the boundary).
package codec

import "github.com/klauspost/compress/zstd"

// Codec compresses and decompresses vertex buffer bytes at a configured
// level. A Codec's Compress and Decompress methods are safe for concurrent
// use: the underlying zstd encoder/decoder support concurrent EncodeAll/
// DecodeAll calls on a shared instance, so no per-call pool is needed for
// this one-shot, whole-buffer usage (as opposed to streaming).
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New returns a Codec using the given compression level, 1-9, where 1 is
// fastest and 9 is smallest. Levels are bucketed onto zstd's four
// predefined encoder levels, since zstd does not expose a 1:1 numeric
// level knob.
func New(level int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(bucketLevel(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func bucketLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 4:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress returns the zstd-compressed form of data. The caller decides,
// per the min-compress-size threshold, whether it is worth calling this at
// all; Compress itself has no size opinion.
func (c *Codec) Compress(data []byte) []byte {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)))
}

// Decompress returns the decompressed form of data. expectedSize, if
// non-negative, is used as a hint to preallocate the output buffer; it is
// not validated against the actual decompressed length.
func (c *Codec) Decompress(data []byte, expectedSize int64) ([]byte, error) {
	var dst []byte
	if expectedSize >= 0 {
		dst = make([]byte, 0, expectedSize)
	}
	return c.dec.DecodeAll(data, dst)
}
