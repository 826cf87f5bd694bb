package devices

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestLoader(t *testing.T, dirs ...string) *DefinitionLoader {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	return NewDefinitionLoader(dirs, v)
}

func TestLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "studio.yaml", `
devices:
  - name: studio-a
    host: 10.0.0.5
    num_inputs: 8
    num_outputs: 4
    enabled: true
  - name: studio-b
    host: 10.0.0.6
    port: 2023
    password: extron
    num_inputs: 4
    num_outputs: 4
    command_timeout_ms: 1500
`)
	writeFile(t, dir, "lobby.yml", `
devices:
  - name: lobby
    host: lobby-switcher.local
    num_inputs: 2
    num_outputs: 1
`)
	writeFile(t, dir, "notes.txt", "ignored")

	defs, err := newTestLoader(t, dir).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("LoadAll() = %d devices, want 3", len(defs))
	}

	byName := make(map[string]int)
	for i, d := range defs {
		byName[d.Name] = i
	}
	b := defs[byName["studio-b"]]
	if b.Port != 2023 || b.Password != "extron" || b.CommandTimeoutMs != 1500 {
		t.Errorf("studio-b = %+v", b)
	}
	if !defs[byName["studio-a"]].Enabled {
		t.Error("studio-a not enabled")
	}
}

func TestLoaderRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "devices:\n  - name: a\n    host: h\n    num_inputs: 1\n    num_outputs: 1\n    baud: 9600\n",
			wantErr: "failed to parse",
		},
		{
			name:    "missing size",
			content: "devices:\n  - name: a\n    host: h\n",
			wantErr: "schema validation failed",
		},
		{
			name:    "not yaml",
			content: "devices: [\n",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "devices.yaml", tt.content)

			_, err := newTestLoader(t, dir).LoadAll()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadAll() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	device := "devices:\n  - name: same\n    host: h\n    num_inputs: 1\n    num_outputs: 1\n"
	writeFile(t, dir, "a.yaml", device)
	writeFile(t, dir, "b.yaml", device)

	_, err := newTestLoader(t, dir).LoadAll()
	if err == nil || !strings.Contains(err.Error(), `device "same" defined in`) {
		t.Errorf("LoadAll() error = %v, want duplicate", err)
	}
}

func TestValidatorValidateJSON(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	if err := v.ValidateJSON([]byte(`{"name":"a","host":"h","num_inputs":4,"num_outputs":2}`)); err != nil {
		t.Errorf("valid definition rejected: %v", err)
	}
	if err := v.ValidateJSON([]byte(`{"name":"a","host":"h","num_inputs":"4","num_outputs":2}`)); err == nil {
		t.Error("string num_inputs accepted")
	}
	if err := v.ValidateJSON([]byte(`{`)); err == nil {
		t.Error("broken JSON accepted")
	}
}
