// Package secrets loads the per-bucket cryptographic material a client needs
// to address and encrypt chunks. Deriving these values (from a passphrase, a
// KMS, etc.) is a key-derivation ceremony explicitly out of scope for this
// repository; Secrets only parses and validates the already-derived bytes.
package secrets

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Secrets holds the bucket identifier and its two 32-byte keys: seed (mixed
// into the chunk hash) and key (the stream-cipher key).
type Secrets struct {
	Bucket [32]byte
	Seed   [32]byte
	Key    [32]byte
}

// BucketHex returns the bucket identifier's wire form: 64 lowercase hex chars.
func (s Secrets) BucketHex() string {
	return hex.EncodeToString(s.Bucket[:])
}

// fileForm is the on-disk JSON shape: each field hex-encoded.
type fileForm struct {
	Bucket string `json:"bucket"`
	Seed   string `json:"seed"`
	Key    string `json:"key"`
}

// Load reads and validates a secrets file at path.
func Load(path string) (Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Secrets{}, fmt.Errorf("secrets: read %s: %w", path, err)
	}

	var f fileForm
	if err := json.Unmarshal(data, &f); err != nil {
		return Secrets{}, fmt.Errorf("secrets: parse %s: %w", path, err)
	}

	var s Secrets
	if s.Bucket, err = decode32(f.Bucket, "bucket"); err != nil {
		return Secrets{}, err
	}
	if s.Seed, err = decode32(f.Seed, "seed"); err != nil {
		return Secrets{}, err
	}
	if s.Key, err = decode32(f.Key, "key"); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

func decode32(s, field string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("secrets: %s is not valid hex: %w", field, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("secrets: %s must decode to 32 bytes, got %d", field, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
