package secrets

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeSecretsFile(t *testing.T, bucket, seed, key string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	content := `{"bucket":"` + bucket + `","seed":"` + seed + `","key":"` + key + `"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func hex32(b byte) string {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return hex.EncodeToString(buf)
}

func TestLoadValid(t *testing.T) {
	path := writeSecretsFile(t, hex32(1), hex32(2), hex32(3))
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Bucket[0] != 1 || s.Seed[0] != 2 || s.Key[0] != 3 {
		t.Fatalf("fields not decoded correctly: %+v", s)
	}
	if len(s.BucketHex()) != 64 {
		t.Fatalf("BucketHex length = %d, want 64", len(s.BucketHex()))
	}
}

func TestLoadRejectsWrongLength(t *testing.T) {
	path := writeSecretsFile(t, "abcd", hex32(2), hex32(3))
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for short bucket")
	}
}

func TestLoadRejectsBadHex(t *testing.T) {
	path := writeSecretsFile(t, "zz", hex32(2), hex32(3))
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-hex bucket")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
