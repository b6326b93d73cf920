package flash

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// MetadataStore is the external key/value inventory a successful
// flash records its hash into. It is out of scope for this package
// per spec.md §1 — flash only defines the two keys it writes.
type MetadataStore interface {
	Set(key, value string) error
}

// RecordHashes computes the SHA-512 of every flashed file and writes
// it, alongside the file's path as flashed, into store under
// interfaces.images.<type>.last_sha512 and
// interfaces.images.<type>.last_name, the Go port of
// original_source's _hash_record. Called once a group of images has
// been successfully flashed and verified.
func RecordHashes(store MetadataStore, images map[ImageType]string) error {
	for imageType, path := range images {
		sum, err := sha512File(path)
		if err != nil {
			return fmt.Errorf("hashing flashed image %q (%s): %w", imageType, path, err)
		}
		if err := store.Set(fmt.Sprintf("interfaces.images.%s.last_sha512", imageType), sum); err != nil {
			return fmt.Errorf("recording hash for %q: %w", imageType, err)
		}
		if err := store.Set(fmt.Sprintf("interfaces.images.%s.last_name", imageType), path); err != nil {
			return fmt.Errorf("recording name for %q: %w", imageType, err)
		}
	}
	return nil
}

func sha512File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
