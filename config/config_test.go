package config

import "testing"

func ptr(v int64) *int64 { return &v }

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(nil, nil, 0, nil, 0, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.MaxRAMVertexData != Unlimited {
		t.Fatalf("MaxRAMVertexData = %d, want %d", c.MaxRAMVertexData, Unlimited)
	}
	if c.VertexDataCompressionLevel != 1 {
		t.Fatalf("VertexDataCompressionLevel = %d, want 1", c.VertexDataCompressionLevel)
	}
	if c.MinVertexDataCompressSize != 64 {
		t.Fatalf("MinVertexDataCompressSize = %d, want 64", c.MinVertexDataCompressSize)
	}
	if c.VertexSaveFileDirectory == "" {
		t.Fatalf("VertexSaveFileDirectory should default to the OS temp dir, got empty")
	}
	if c.ErrorLogger == nil {
		t.Fatalf("expected New to populate ErrorLogger")
	}
}

func TestNewRejectsBadCompressionLevel(t *testing.T) {
	if _, err := New(nil, nil, 15, nil, 0, "", ""); err == nil {
		t.Fatalf("expected an error for an out-of-range compression level")
	}
}

func TestNewAcceptsExplicitZeroBudgetAsBypass(t *testing.T) {
	// An explicit 0 for a tier budget means "bypass this tier", distinct
	// from an unset flag (which should keep the Unlimited default).
	c, err := New(nil, ptr(0), 0, nil, 0, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.MaxCompressedVertexData != 0 {
		t.Fatalf("MaxCompressedVertexData = %d, want 0 (explicit bypass, not overridden to %d)", c.MaxCompressedVertexData, Unlimited)
	}
	if c.MaxRAMVertexData != Unlimited {
		t.Fatalf("MaxRAMVertexData = %d, want %d (untouched, still defaulted)", c.MaxRAMVertexData, Unlimited)
	}
}

func TestNewFromYamlOverridesDefaults(t *testing.T) {
	yaml := []byte(`
max_ram_vertex_data: 1048576
vertex_data_compression_level: 5
vertex_save_file_prefix: mygame-
`)
	c, err := NewFromYaml(yaml)
	if err != nil {
		t.Fatalf("NewFromYaml: %v", err)
	}
	if c.MaxRAMVertexData != 1048576 {
		t.Fatalf("MaxRAMVertexData = %d, want 1048576", c.MaxRAMVertexData)
	}
	if c.VertexDataCompressionLevel != 5 {
		t.Fatalf("VertexDataCompressionLevel = %d, want 5", c.VertexDataCompressionLevel)
	}
	if c.VertexSaveFilePrefix != "mygame-" {
		t.Fatalf("VertexSaveFilePrefix = %q, want %q", c.VertexSaveFilePrefix, "mygame-")
	}
	// Untouched keys keep their defaults.
	if c.MaxDiskVertexData != Unlimited {
		t.Fatalf("MaxDiskVertexData = %d, want %d", c.MaxDiskVertexData, Unlimited)
	}
}

func TestToRegistryConfigTranslatesFields(t *testing.T) {
	c, err := New(ptr(2048), nil, 3, ptr(4096), 128, "/tmp", "pfx-")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rc := c.ToRegistryConfig()
	if rc.MaxRAMBytes != 2048 || rc.CompressionLevel != 3 || rc.MaxDiskBytes != 4096 || rc.MinCompressSize != 128 {
		t.Fatalf("ToRegistryConfig mismatch: %+v", rc)
	}
	if rc.SaveFileDir != "/tmp" || rc.SaveFilePrefix != "pfx-" {
		t.Fatalf("ToRegistryConfig save file fields mismatch: %+v", rc)
	}
}
