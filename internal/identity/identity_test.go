package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignedKeyIsDeterministic(t *testing.T) {
	a := SignedKey("alpha", "pepper")
	b := SignedKey("alpha", "pepper")
	if a != b {
		t.Error("Same inputs must derive the same key")
	}
	if len(a) != 40 {
		t.Errorf("Expected 40 hex chars, got %d", len(a))
	}
	if SignedKey("beta", "pepper") == a {
		t.Error("Different rooms must derive different keys")
	}
	if SignedKey("alpha", "salt") == a {
		t.Error("Different salts must derive different keys")
	}
}

func TestClientIDDependsOnLoginTime(t *testing.T) {
	a := ClientID("alpha", "alice", "pepper", 1000)
	b := ClientID("alpha", "alice", "pepper", 1001)
	if a == b {
		t.Error("Different login times must derive different ids")
	}
	if len(a) != 40 {
		t.Errorf("Expected 40 hex chars, got %d", len(a))
	}
}

func TestLogNameIsStable(t *testing.T) {
	if LogName("alpha") != LogName("alpha") {
		t.Error("Log name must be deterministic")
	}
	if LogName("alpha") == LogName("beta") {
		t.Error("Different rooms must map to different log names")
	}
}

func TestLoadSalt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "salt.key")
	if err := os.WriteFile(path, []byte("  secret \n"), 0600); err != nil {
		t.Fatalf("Failed to write salt: %v", err)
	}

	salt, err := LoadSalt(path)
	if err != nil {
		t.Fatalf("Failed to load salt: %v", err)
	}
	if salt != "secret" {
		t.Errorf("Expected trimmed salt, got %q", salt)
	}
}

func TestLoadSaltFailures(t *testing.T) {
	if _, err := LoadSalt(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Missing salt file must fail")
	}

	empty := filepath.Join(t.TempDir(), "salt.key")
	if err := os.WriteFile(empty, []byte("\n"), 0600); err != nil {
		t.Fatalf("Failed to write salt: %v", err)
	}
	if _, err := LoadSalt(empty); err == nil {
		t.Error("Empty salt file must fail")
	}
}
