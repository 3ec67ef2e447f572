package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SPATIAL_RADIUS_METERS", "")

	cfg := Load()

	if cfg.DestinationDSN == "" {
		t.Errorf("DestinationDSN should have a local default")
	}
	if len(cfg.Mirrors) != 2 {
		t.Fatalf("len(Mirrors) = %d, want 2", len(cfg.Mirrors))
	}
	if cfg.SpatialRadiusMeters != 50 {
		t.Errorf("SpatialRadiusMeters = %v, want 50", cfg.SpatialRadiusMeters)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BATCH_MAX_ROWS", "250")
	t.Setenv("SPATIAL_RADIUS_METERS", "35.5")
	t.Setenv("SOURCE_B_DATABASE_URL", "postgres://mirror-b")

	cfg := Load()

	if cfg.BatchMaxRows != 250 {
		t.Errorf("BatchMaxRows = %d, want 250", cfg.BatchMaxRows)
	}
	if cfg.SpatialRadiusMeters != 35.5 {
		t.Errorf("SpatialRadiusMeters = %v, want 35.5", cfg.SpatialRadiusMeters)
	}
	if cfg.Mirrors[1].DSN != "postgres://mirror-b" {
		t.Errorf("Mirrors[1].DSN = %q", cfg.Mirrors[1].DSN)
	}
}

func TestSelectSources(t *testing.T) {
	tests := []struct {
		selection string
		want      []string
		wantErr   bool
	}{
		{selection: "", want: []string{SourceA, SourceB}},
		{selection: Both, want: []string{SourceA, SourceB}},
		{selection: SourceA, want: []string{SourceA}},
		{selection: SourceB, want: []string{SourceB}},
		{selection: "sourceC", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.selection, func(t *testing.T) {
			cfg := Load()
			err := cfg.SelectSources(tt.selection)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SelectSources(%q) expected error", tt.selection)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectSources(%q) error = %v", tt.selection, err)
			}
			if len(cfg.Mirrors) != len(tt.want) {
				t.Fatalf("got %d mirrors, want %d", len(cfg.Mirrors), len(tt.want))
			}
			for i, name := range tt.want {
				if cfg.Mirrors[i].Name != name {
					t.Errorf("Mirrors[%d] = %s, want %s", i, cfg.Mirrors[i].Name, name)
				}
			}
		})
	}
}

func TestValidateRejectsBadRadius(t *testing.T) {
	cfg := Load()
	cfg.SpatialRadiusMeters = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() should reject a zero radius")
	}
}

func TestLoadReadsDryRunFromEnv(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	if cfg := Load(); !cfg.DryRun {
		t.Errorf("Load().DryRun = false with DRY_RUN=true")
	}
	t.Setenv("DRY_RUN", "")
	if cfg := Load(); cfg.DryRun {
		t.Errorf("Load().DryRun = true with DRY_RUN unset")
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("IMPORT_FLAG", "yes")
	if !GetEnvBool("IMPORT_FLAG", false) {
		t.Errorf("GetEnvBool(yes) = false")
	}
	t.Setenv("IMPORT_FLAG", "garbage")
	if !GetEnvBool("IMPORT_FLAG", true) {
		t.Errorf("GetEnvBool(garbage) should fall back to default")
	}
}
