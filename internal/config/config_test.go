package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	AnalysisModel       string   `toml:"analysis.model" env:"ANALYSIS_MODEL"`
	AnalysisTemperature float64  `toml:"analysis.temperature" env:"ANALYSIS_TEMPERATURE"`
	AnalysisMaxInFlight int      `toml:"analysis.max_in_flight" env:"ANALYSIS_MAX_IN_FLIGHT"`
	CaptureRecording    bool     `toml:"capture.recording" env:"CAPTURE_RECORDING"`
	IngestICEServers    []string `toml:"ingest.ice_servers" env:"INGEST_ICE_SERVERS"`
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

const sampleTOML = `
[analysis]
model = "gemini-1.5-flash"
temperature = 0.2
max_in_flight = 8

[capture]
recording = true

[ingest]
ice_servers = ["stun:a", "stun:b"]
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, sampleTOML)}

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.AnalysisModel != "gemini-1.5-flash" {
		t.Errorf("Expected model gemini-1.5-flash, got %q", opts.AnalysisModel)
	}
	if opts.AnalysisTemperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %v", opts.AnalysisTemperature)
	}
	if opts.AnalysisMaxInFlight != 8 {
		t.Errorf("Expected max_in_flight 8, got %d", opts.AnalysisMaxInFlight)
	}
	if !opts.CaptureRecording {
		t.Error("Expected recording true")
	}
	if want := []string{"stun:a", "stun:b"}; !reflect.DeepEqual(opts.IngestICEServers, want) {
		t.Errorf("Expected ice servers %v, got %v", want, opts.IngestICEServers)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, sampleTOML)}
	t.Setenv(EnvPrefix+"ANALYSIS_MODEL", "gemini-2.0-flash")
	t.Setenv(EnvPrefix+"INGEST_ICE_SERVERS", " stun:x , stun:y ")

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.AnalysisModel != "gemini-2.0-flash" {
		t.Errorf("Expected env to win, got %q", opts.AnalysisModel)
	}
	if want := []string{"stun:x", "stun:y"}; !reflect.DeepEqual(opts.IngestICEServers, want) {
		t.Errorf("Expected %v, got %v", want, opts.IngestICEServers)
	}
	if opts.AnalysisMaxInFlight != 8 {
		t.Errorf("Expected TOML value to survive, got %d", opts.AnalysisMaxInFlight)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, sampleTOML)}
	t.Setenv(EnvPrefix+"ANALYSIS_MODEL", "from-env")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.AnalysisModel, "analysis-model", "default", "")
	if err := cmd.Flags().Set("analysis-model", "from-cli"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.AnalysisModel != "from-cli" {
		t.Errorf("Expected CLI flag to win, got %q", opts.AnalysisModel)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), AnalysisModel: "default"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for a missing file: %v", err)
	}
	if opts.AnalysisModel != "default" {
		t.Errorf("Expected default to be kept, got %q", opts.AnalysisModel)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, "[analysis\nmodel = ")}
	if err := LoadConfig(opts, nil); err == nil {
		t.Error("Expected an error for invalid TOML")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":              "port",
		"AnalysisModel":     "analysis-model",
		"CaptureWindowSize": "capture-window-size",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	doc := map[string]any{
		"analysis": map[string]any{
			"backend": map[string]any{"model": "m"},
			"prompt":  "p",
		},
		"port": ":8090",
	}

	tests := []struct {
		path string
		want any
	}{
		{"port", ":8090"},
		{"analysis.prompt", "p"},
		{"analysis.backend.model", "m"},
		{"missing", nil},
		{"analysis.missing", nil},
		{"port.deeper", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(doc, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeTOML(t, `
[logging]
level = "warn"
format = "json"
analysis = "debug"
ingest = "error"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("Expected warn/json, got %s/%s", cfg.Level, cfg.Format)
	}
	if cfg.Modules["analysis"] != "debug" || cfg.Modules["ingest"] != "error" {
		t.Errorf("Unexpected module levels: %v", cfg.Modules)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("Expected defaults for empty path, got %+v", def)
	}
}
