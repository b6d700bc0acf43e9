package utils

import (
	"path/filepath"
	"testing"
)

func TestValidatePathWithinBase(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "var", "cache", "fieldcache")

	tests := []struct {
		name    string
		base    string
		path    string
		wantErr bool
	}{
		{"relative inside", base, "field_1.spill", false},
		{"absolute inside", base, filepath.Join(base, "field_1.spill"), false},
		{"base itself", base, base, false},
		{"nested inside", base, filepath.Join("a", "b", "field_2.spill"), false},
		{"relative escape", base, filepath.Join("..", "..", "etc", "passwd"), true},
		{"absolute outside", base, filepath.Join(string(filepath.Separator), "tmp", "field_1.spill"), true},
		{"sibling with shared prefix", base, base + "-old" + string(filepath.Separator) + "x", true},
		{"traversal after clean", base, filepath.Join(base, "..", "other"), true},
		{"empty base", "", "x", true},
		{"empty path", base, "", true},
		{"root base", string(filepath.Separator), filepath.Join(string(filepath.Separator), "tmp"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinBase(tt.base, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinBase(%q, %q) error = %v, wantErr %v", tt.base, tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSecureJoin(t *testing.T) {
	base := t.TempDir()

	got, err := SecureJoin(base, "grid", "field_1.spill")
	if err != nil {
		t.Fatalf("SecureJoin failed: %v", err)
	}
	if want := filepath.Join(base, "grid", "field_1.spill"); got != want {
		t.Errorf("SecureJoin = %q, want %q", got, want)
	}

	got, err = SecureJoin(base, "a", "..", "field_1.spill")
	if err != nil {
		t.Fatalf("SecureJoin with inner .. failed: %v", err)
	}
	if want := filepath.Join(base, "field_1.spill"); got != want {
		t.Errorf("SecureJoin = %q, want %q", got, want)
	}

	if _, err := SecureJoin(base, "..", "etc"); err == nil {
		t.Error("Expected error for escaping join")
	}
	if _, err := SecureJoin("", "x"); err == nil {
		t.Error("Expected error for empty base")
	}
	if got, err := SecureJoin(base); err != nil || got != filepath.Clean(base) {
		t.Errorf("SecureJoin(base) = %q, %v", got, err)
	}
}
