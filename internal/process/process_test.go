package process

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookup(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "tool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plain"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		env     []string
		want    string
		wantErr bool
	}{
		{"tool", []string{"PATH=/nonexistent:" + dir}, tool, false},
		{"plain", []string{"PATH=" + dir}, "", true},
		{"missing", []string{"PATH=" + dir}, "", true},
		{"/abs/path", nil, "/abs/path", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup(tt.name, tt.env)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Lookup = %q, want %q", got, tt.want)
			}
		})
	}
}
