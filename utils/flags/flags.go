// Package flags declares the CLI flags for the vertexmemd demo binary,
// mirroring the configuration record in github.com/pablorey0/vertexmem/config.
package flags

import "github.com/urfave/cli/v2"

// GetCliFlags returns the flags vertexmemd accepts.
func GetCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config_file",
			Value:   "",
			Usage:   "Path to a YAML configuration file. If set, all other flags are ignored.",
			EnvVars: []string{"VERTEXMEM_CONFIG_FILE"},
		},
		&cli.Int64Flag{
			Name:    "max_ram_vertex_data",
			Value:   -1,
			Usage:   "RAM tier byte budget. -1 for unlimited.",
			EnvVars: []string{"VERTEXMEM_MAX_RAM_VERTEX_DATA"},
		},
		&cli.Int64Flag{
			Name:    "max_compressed_vertex_data",
			Value:   -1,
			Usage:   "Compressed tier byte budget. -1 for unlimited.",
			EnvVars: []string{"VERTEXMEM_MAX_COMPRESSED_VERTEX_DATA"},
		},
		&cli.IntFlag{
			Name:    "vertex_data_compression_level",
			Value:   1,
			Usage:   "Codec level, 1 (fastest) to 9 (smallest).",
			EnvVars: []string{"VERTEXMEM_VERTEX_DATA_COMPRESSION_LEVEL"},
		},
		&cli.Int64Flag{
			Name:    "max_disk_vertex_data",
			Value:   -1,
			Usage:   "SaveFile byte cap. -1 for unlimited.",
			EnvVars: []string{"VERTEXMEM_MAX_DISK_VERTEX_DATA"},
		},
		&cli.Int64Flag{
			Name:    "min_vertex_data_compress_size",
			Value:   64,
			Usage:   "Buffers at or below this size skip the codec entirely.",
			EnvVars: []string{"VERTEXMEM_MIN_VERTEX_DATA_COMPRESS_SIZE"},
		},
		&cli.StringFlag{
			Name:    "vertex_save_file_directory",
			Value:   "",
			Usage:   "Directory for the SaveFile scratch arena. Defaults to the OS temp directory.",
			EnvVars: []string{"VERTEXMEM_VERTEX_SAVE_FILE_DIRECTORY"},
		},
		&cli.StringFlag{
			Name:    "vertex_save_file_prefix",
			Value:   "vertexmem-",
			Usage:   "Filename prefix for the SaveFile scratch arena.",
			EnvVars: []string{"VERTEXMEM_VERTEX_SAVE_FILE_PREFIX"},
		},
	}
}
