// Package savefile implements the on-disk scratch arena shared by all
// disk-tier vertex buffers: a single file managed by a first-fit,
// coalescing free-list allocator. The file is scratch -- it need not
// survive process restarts and carries no fsync requirement.
package savefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/djherbis/atime"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pablorey0/vertexmem/verr"
)

// ErrFull is returned by WriteData when writing would grow the file
// beyond its configured maximum size. The caller keeps the data in a
// higher tier; this is not a fatal condition.
var ErrFull = &verr.Error{Code: verr.SaveFileFull, Text: "write would exceed the configured maximum size"}

// ErrCorrupt is returned by ReadData when fewer bytes than expected could
// be read back. This is an assertion-class failure: the scratch file is
// corrupt and the referenced buffer's contents are lost.
var ErrCorrupt = &verr.Error{Code: verr.SaveFileReadError, Text: "read returned fewer bytes than expected"}

// Unlimited disables the file's maximum size check.
const Unlimited int64 = -1

// Block is an allocator-assigned (offset, length) range within the
// SaveFile, returned by WriteData and consumed by ReadData/Free.
type Block struct {
	Offset int64
	Length int64
}

// run is a free byte range, used internally by the allocator.
type run struct {
	offset int64
	length int64
}

// SaveFile is a single on-disk arena shared by all disk-tier buffers. It
// is safe for concurrent use; the allocator is protected by a single
// lock, matching the teacher's single-lock disk cache.
type SaveFile struct {
	mu      sync.Mutex
	file    *os.File
	maxSize int64

	// fileSize is the file's high-water mark: the offset one past the
	// last byte ever allocated. It only grows.
	fileSize int64

	// free is a sorted (by offset), coalesced list of reclaimed ranges
	// available for first-fit allocation.
	free []run

	gaugeAllocated prometheus.Gauge
	gaugeFree      prometheus.Gauge
	refusals       prometheus.Counter

	logger verr.Logger
}

// Open creates a new scratch file in dir with the given filename prefix,
// capped at maxSize bytes (Unlimited for no cap). Before creating its own
// file, Open makes a best-effort pass over dir for scratch files left
// behind by a previous, uncleanly terminated process (same prefix, same
// ".vmem" suffix) and removes them, logging each one's last-access time
// oldest first -- the scratch arena is not meant to survive a restart, so
// this is cleanup, not a free-list warm start. When logger is nil the
// cleanup pass is skipped and stale files are left in place.
func Open(dir, prefix string, maxSize int64, logger verr.Logger) (*SaveFile, error) {
	if logger != nil {
		cleanStaleFiles(dir, prefix, logger)
	}

	f, err := os.CreateTemp(dir, prefix+"*.vmem")
	if err != nil {
		return nil, fmt.Errorf("savefile: failed to create scratch file: %w", err)
	}

	return &SaveFile{
		file:    f,
		maxSize: maxSize,
		logger:  logger,

		gaugeAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vertexmem_savefile_allocated_bytes",
			Help: "Number of bytes currently allocated to live SaveBlocks.",
		}),
		gaugeFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vertexmem_savefile_free_bytes",
			Help: "Number of bytes reclaimed and available for reuse.",
		}),
		refusals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vertexmem_savefile_write_refusals_total",
			Help: "Number of WriteData calls refused due to the configured maximum size.",
		}),
	}, nil
}

// cleanStaleFiles removes leftover scratch files from dir matching
// prefix+"*.vmem", oldest-accessed first, grounded on the teacher's
// load.go pattern of sorting cache files by atime before acting on them.
func cleanStaleFiles(dir, prefix string, logger verr.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type candidate struct {
		path string
		info os.FileInfo
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".vmem") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, name), info: info})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return atime.Get(candidates[i].info).Before(atime.Get(candidates[j].info))
	})

	for _, c := range candidates {
		logger.Printf("savefile: removing stale scratch file %s (last accessed %s)", c.path, atime.Get(c.info))
		os.Remove(c.path)
	}
}

// RegisterMetrics registers this SaveFile's Prometheus collectors.
func (sf *SaveFile) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(sf.gaugeAllocated, sf.gaugeFree, sf.refusals)
}

// Close closes and removes the scratch file.
func (sf *SaveFile) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	name := sf.file.Name()
	err := sf.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}

// WriteData allocates space for, and writes, data. It returns ErrFull
// (and writes nothing) if doing so would grow the file beyond the
// configured maximum size.
func (sf *SaveFile) WriteData(data []byte) (Block, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	length := int64(len(data))

	offset, ok := sf.allocateLocked(length)
	if !ok {
		sf.refusals.Inc()
		if sf.logger != nil {
			sf.logger.Printf("savefile: refusing %d-byte write, would exceed max size %d", length, sf.maxSize)
		}
		return Block{}, ErrFull
	}

	if length > 0 {
		if _, err := sf.file.WriteAt(data, offset); err != nil {
			return Block{}, fmt.Errorf("savefile: write failed: %w", err)
		}
	}

	sf.gaugeAllocated.Add(float64(length))
	return Block{Offset: offset, Length: length}, nil
}

// allocateLocked finds or creates space for length bytes, one-byte
// aligned, using first-fit over the free list before growing the file.
// The caller must hold sf.mu.
func (sf *SaveFile) allocateLocked(length int64) (offset int64, ok bool) {
	if length == 0 {
		return sf.fileSize, true
	}

	for i, r := range sf.free {
		if r.length >= length {
			offset = r.offset
			sf.consumeFreeRun(i, length)
			return offset, true
		}
	}

	newSize := sf.fileSize + length
	if sf.maxSize != Unlimited && newSize > sf.maxSize {
		return 0, false
	}
	offset = sf.fileSize
	sf.fileSize = newSize
	return offset, true
}

// consumeFreeRun removes length bytes from the front of free[i], deleting
// the run entirely if it is fully consumed. The caller must hold sf.mu.
func (sf *SaveFile) consumeFreeRun(i int, length int64) {
	r := sf.free[i]
	sf.gaugeFree.Add(-float64(length))
	if r.length == length {
		sf.free = append(sf.free[:i], sf.free[i+1:]...)
		return
	}
	sf.free[i] = run{offset: r.offset + length, length: r.length - length}
}

// ReadData copies block's bytes into dest, which must be exactly
// block.Length bytes long.
func (sf *SaveFile) ReadData(dest []byte, block Block) error {
	if int64(len(dest)) != block.Length {
		return fmt.Errorf("savefile: dest has length %d, want %d", len(dest), block.Length)
	}
	if block.Length == 0 {
		return nil
	}

	sf.mu.Lock()
	f := sf.file
	sf.mu.Unlock()

	n, err := f.ReadAt(dest, block.Offset)
	if err != nil || int64(n) != block.Length {
		return ErrCorrupt
	}
	return nil
}

// Free releases block back to the allocator, coalescing it with any
// adjacent free runs.
func (sf *SaveFile) Free(block Block) {
	if block.Length == 0 {
		return
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.gaugeAllocated.Add(-float64(block.Length))
	sf.gaugeFree.Add(float64(block.Length))

	i := sort.Search(len(sf.free), func(i int) bool {
		return sf.free[i].offset >= block.Offset
	})

	merged := run{offset: block.Offset, length: block.Length}

	// Merge with the following run, if adjacent.
	if i < len(sf.free) && merged.offset+merged.length == sf.free[i].offset {
		merged.length += sf.free[i].length
		sf.free = append(sf.free[:i], sf.free[i+1:]...)
	}

	// Merge with the preceding run, if adjacent.
	if i > 0 && sf.free[i-1].offset+sf.free[i-1].length == merged.offset {
		merged.offset = sf.free[i-1].offset
		merged.length += sf.free[i-1].length
		i--
		sf.free = append(sf.free[:i], sf.free[i+1:]...)
	}

	sf.free = append(sf.free, run{})
	copy(sf.free[i+1:], sf.free[i:])
	sf.free[i] = merged
}

// Size returns the file's current high-water mark in bytes.
func (sf *SaveFile) Size() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.fileSize
}
