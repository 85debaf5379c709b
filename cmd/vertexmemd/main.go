// Command vertexmemd is a small demo binary that constructs a registry
// from flags or a YAML config file, creates a handful of vertex buffers,
// and runs LRU epochs on a timer -- exercising the core outside of an
// embedding rendering host.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/pablorey0/vertexmem/arrayformat"
	"github.com/pablorey0/vertexmem/config"
	"github.com/pablorey0/vertexmem/cycled"
	"github.com/pablorey0/vertexmem/registry"
	"github.com/pablorey0/vertexmem/utils/flags"
	"github.com/pablorey0/vertexmem/vbuffer"
)

func main() {
	log.SetFlags(config.LogFlags)

	app := cli.NewApp()
	app.Name = "vertexmemd"
	app.Usage = "exercise a vertex memory manager registry"
	app.Flags = flags.GetCliFlags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal("vertexmemd: ", err)
	}
}

func run(ctx *cli.Context) error {
	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	reg, err := registry.New(c.ToRegistryConfig(), c.ErrorLogger)
	if err != nil {
		return fmt.Errorf("vertexmemd: failed to build registry: %w", err)
	}
	defer reg.Close()

	metrics := prometheus.NewRegistry()
	reg.RegisterMetrics(metrics)

	positionFormat := reg.RegisterFormat(&arrayformat.Format{
		Columns: []arrayformat.Column{{Offset: 0, Components: 3, ComponentSize: 4}},
		Stride:  12,
	})

	buffers := make([]*vertexBuffer, 0, 8)
	for i := 0; i < 8; i++ {
		buf := reg.Create(positionFormat, cycled.Dynamic, 3)
		buffers = append(buffers, &vertexBuffer{name: fmt.Sprintf("mesh-%d", i), buf: buf})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	c.ErrorLogger.Printf("vertexmemd: running with %d buffers, ram budget %d, compressed budget %d, disk cap %d",
		len(buffers), c.MaxRAMVertexData, c.MaxCompressedVertexData, c.MaxDiskVertexData)

	for {
		select {
		case <-ticker.C:
			reg.LruEpoch()
			for _, vb := range buffers {
				c.ErrorLogger.Printf("vertexmemd: %s residency=%s", vb.name, vb.buf.Residency())
			}
		case <-sigCh:
			c.ErrorLogger.Printf("vertexmemd: shutting down")
			return nil
		}
	}
}

type vertexBuffer struct {
	name string
	buf  *vbuffer.Buffer
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	if configFile := ctx.String("config_file"); configFile != "" {
		return config.NewFromYamlFile(configFile)
	}
	return config.New(
		int64FlagPtr(ctx, "max_ram_vertex_data"),
		int64FlagPtr(ctx, "max_compressed_vertex_data"),
		ctx.Int("vertex_data_compression_level"),
		int64FlagPtr(ctx, "max_disk_vertex_data"),
		ctx.Int64("min_vertex_data_compress_size"),
		ctx.String("vertex_save_file_directory"),
		ctx.String("vertex_save_file_prefix"),
	)
}

// int64FlagPtr returns nil if name was never explicitly set on the command
// line, distinguishing "not passed" from an explicit 0 -- config.New treats
// 0 as a meaningful tier-bypass budget for these three flags, not "unset".
func int64FlagPtr(ctx *cli.Context, name string) *int64 {
	if !ctx.IsSet(name) {
		return nil
	}
	v := ctx.Int64(name)
	return &v
}
