// Package config loads the vertex memory manager's configuration record --
// seven values read once at startup, from either a YAML file or CLI flags
// -- and validates it eagerly before handing it to a registry.Registry.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/pablorey0/vertexmem/registry"
)

// Unlimited is the sentinel accepted by the *-vertex-data budget keys to
// disable that tier's (or the save file's) size cap.
const Unlimited int64 = -1

// Config is the validated configuration record. All keys are optional;
// zero-value construction via New applies the defaults from §6.
type Config struct {
	MaxRAMVertexData           int64  `yaml:"max_ram_vertex_data"`
	MaxCompressedVertexData    int64  `yaml:"max_compressed_vertex_data"`
	VertexDataCompressionLevel int    `yaml:"vertex_data_compression_level"`
	MaxDiskVertexData          int64  `yaml:"max_disk_vertex_data"`
	MinVertexDataCompressSize  int64  `yaml:"min_vertex_data_compress_size"`
	VertexSaveFileDirectory    string `yaml:"vertex_save_file_directory"`
	VertexSaveFilePrefix       string `yaml:"vertex_save_file_prefix"`

	// ErrorLogger receives diagnostic lines from the registry's
	// collaborators (stale scratch file cleanup, save file refusals,
	// disk-resident eviction refusals). Not loaded from YAML/flags.
	ErrorLogger *log.Logger `yaml:"-"`
}

func defaults() Config {
	return Config{
		MaxRAMVertexData:           Unlimited,
		MaxCompressedVertexData:    Unlimited,
		VertexDataCompressionLevel: 1,
		MaxDiskVertexData:          Unlimited,
		MinVertexDataCompressSize:  64,
		VertexSaveFileDirectory:    os.TempDir(),
		VertexSaveFilePrefix:       "vertexmem-",
	}
}

// New returns a validated Config built from explicit values, as supplied by
// CLI flags. maxRAM, maxCompressed and maxDisk are *int64 rather than int64
// because 0 is itself a meaningful budget (bypass the tier -- demote
// immediately on the next eviction attempt) distinct from Unlimited (-1);
// a nil pointer means "flag not passed, use the default", matching the
// teacher's "all values optional" contract. level, minCompressSize, saveDir
// and savePrefix have no such overloaded zero value, so they keep the plain
// zero-means-unset convention.
func New(maxRAM, maxCompressed *int64, level int, maxDisk *int64, minCompressSize int64, saveDir, savePrefix string) (*Config, error) {
	c := defaults()
	if maxRAM != nil {
		c.MaxRAMVertexData = *maxRAM
	}
	if maxCompressed != nil {
		c.MaxCompressedVertexData = *maxCompressed
	}
	if level != 0 {
		c.VertexDataCompressionLevel = level
	}
	if maxDisk != nil {
		c.MaxDiskVertexData = *maxDisk
	}
	if minCompressSize != 0 {
		c.MinVertexDataCompressSize = minCompressSize
	}
	if saveDir != "" {
		c.VertexSaveFileDirectory = saveDir
	}
	if savePrefix != "" {
		c.VertexSaveFilePrefix = savePrefix
	}

	if err := validate(&c); err != nil {
		return nil, err
	}
	c.setLogger()
	return &c, nil
}

// NewFromYamlFile reads and validates a Config from a YAML file at path.
func NewFromYamlFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
	}
	return NewFromYaml(data)
}

// NewFromYaml parses and validates a Config from raw YAML bytes.
func NewFromYaml(data []byte) (*Config, error) {
	c := defaults()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: failed to parse YAML: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	c.setLogger()
	return &c, nil
}

func validate(c *Config) error {
	if c.MaxRAMVertexData < Unlimited {
		return errors.New("config: max_ram_vertex_data must be -1 (unlimited) or >= 0")
	}
	if c.MaxCompressedVertexData < Unlimited {
		return errors.New("config: max_compressed_vertex_data must be -1 (unlimited) or >= 0")
	}
	if c.MaxDiskVertexData < Unlimited {
		return errors.New("config: max_disk_vertex_data must be -1 (unlimited) or >= 0")
	}
	if c.VertexDataCompressionLevel < 1 || c.VertexDataCompressionLevel > 9 {
		return errors.New("config: vertex_data_compression_level must be between 1 and 9")
	}
	if c.MinVertexDataCompressSize < 0 {
		return errors.New("config: min_vertex_data_compress_size must be >= 0")
	}
	if c.VertexSaveFileDirectory == "" {
		return errors.New("config: vertex_save_file_directory must not be empty")
	}
	return nil
}

// ToRegistryConfig translates the external configuration record into the
// registry package's internal Config shape.
func (c *Config) ToRegistryConfig() registry.Config {
	return registry.Config{
		MaxRAMBytes:        c.MaxRAMVertexData,
		MaxCompressedBytes: c.MaxCompressedVertexData,
		CompressionLevel:   c.VertexDataCompressionLevel,
		MaxDiskBytes:       c.MaxDiskVertexData,
		MinCompressSize:    c.MinVertexDataCompressSize,
		SaveFileDir:        c.VertexSaveFileDirectory,
		SaveFilePrefix:     c.VertexSaveFilePrefix,
	}
}

func (c *Config) setLogger() {
	c.ErrorLogger = log.New(os.Stderr, "", LogFlags)
}
