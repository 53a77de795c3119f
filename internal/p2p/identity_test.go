package p2p

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateIdentity_StableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !first.Equals(second) {
		t.Error("identity changed between loads; peer ID would not survive a restart")
	}

	if _, err := os.Stat(filepath.Join(dir, identityFile)); err != nil {
		t.Errorf("identity file not persisted: %v", err)
	}
}

func TestParseIdentity_TrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	priv, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, identityFile))
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := parseIdentity("  " + string(raw) + "\n")
	if err != nil {
		t.Fatalf("parseIdentity with whitespace: %v", err)
	}
	if !priv.Equals(reparsed) {
		t.Error("whitespace-padded key parsed to a different identity")
	}
}

func TestParseIdentity_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not hex", "zz not hex zz"},
		{"truncated key", strings.Repeat("AB", 16)},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseIdentity(tt.in); err == nil {
				t.Errorf("parseIdentity(%q) accepted a bad key", tt.in)
			}
		})
	}
}
