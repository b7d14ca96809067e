package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	t.Setenv("APP_VERSION", "v9.9.9")
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "hammer-trader v9.9.9" {
		t.Fatalf("version output = %q", out)
	}
}

func TestStrategiesValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    string
	}{
		{
			name: "valid",
			body: `strategies:
  - key: h1
    type: hammer
    symbols: [btcusdt]
    allocated_ratio: 0.1
    interval: 1m
  - key: h2
    type: hammer_min
    symbols: [ETHUSDT]
    allocated_ratio: "0.05"
    interval: 5m
    parameters:
      hammerRatio: 2
`,
			want: "2 strategies valid",
		},
		{
			name: "unknown type",
			body: `strategies:
  - key: x
    type: doji
    symbols: [BTCUSDT]
    allocated_ratio: 0.1
    interval: 1m
`,
			wantErr: true,
			want:    "unknown strategy type",
		},
		{
			name: "duplicate key",
			body: `strategies:
  - key: h1
    type: hammer
    symbols: [BTCUSDT]
    allocated_ratio: 0.1
    interval: 1m
  - key: h1
    type: hammer
    symbols: [ETHUSDT]
    allocated_ratio: 0.1
    interval: 1m
`,
			wantErr: true,
			want:    "duplicate key",
		},
		{
			name: "ratio out of range",
			body: `strategies:
  - key: h1
    type: hammer
    symbols: [BTCUSDT]
    allocated_ratio: 1.5
    interval: 1m
`,
			wantErr: true,
			want:    "allocated ratio",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "strategies", "validate", writeFile(t, tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestStrategiesValidateMissingFile(t *testing.T) {
	if _, err := execute(t, "strategies", "validate", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMigrate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRY_RUN", "true")
	t.Setenv("DRY_RUN_DB_PATH", filepath.Join(dir, "dry.db"))
	out, err := execute(t, "migrate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "schema up to date") {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "dry.db")); err != nil {
		t.Fatalf("database file: %v", err)
	}
}
