package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRevision(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		key     string
		want    string
		wantErr string
	}{
		{
			name: "vcpkg manifest",
			data: `{"name": "app", "builtin-baseline": "c9c17dcea3016bc241df0422e82b8aea212dcb93", "dependencies": ["fmt"]}`,
			want: "c9c17dcea3016bc241df0422e82b8aea212dcb93",
		},
		{
			name: "comments and trailing comma",
			data: "{\n  // pinned registry\n  \"builtin-baseline\": \"abc123\",\n}\n",
			want: "abc123",
		},
		{
			name: "custom key",
			data: `{"registry-rev": " 2024.01.12 "}`,
			key:  "registry-rev",
			want: "2024.01.12",
		},
		{name: "missing key", data: `{"name": "app"}`, wantErr: "no \"builtin-baseline\" field"},
		{name: "empty value", data: `{"builtin-baseline": ""}`, wantErr: "is empty"},
		{name: "wrong type", data: `{"builtin-baseline": 42}`, wantErr: "must be a string"},
		{name: "not an object", data: `["abc"]`, wantErr: "failed to parse manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRevision([]byte(tt.data), tt.key)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseRevision() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRevision() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRevision() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vcpkg.json")
	if err := os.WriteFile(path, []byte(`{"builtin-baseline": "abc123"}`), 0644); err != nil {
		t.Fatal(err)
	}

	rev, err := ReadRevision(path, BaselineKey)
	if err != nil {
		t.Fatalf("ReadRevision() error: %v", err)
	}
	if rev != "abc123" {
		t.Errorf("ReadRevision() = %q, want abc123", rev)
	}
}

func TestReadRevision_ErrorNamesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vcpkg.json")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadRevision(path, BaselineKey)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error naming %s, got %v", path, err)
	}
}
