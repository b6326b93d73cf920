// Package decompress implements the per-source-file advisory lock and
// atomic decompression step of the image request resolver: concurrent
// flash requests for the same compressed source file must not race on
// the decompressed output, and a decompression that crashes mid-way
// must never be mistaken for a complete one.
package decompress

import (
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/flashcore/flashcore/flash/flasherr"
	"github.com/flashcore/flashcore/flash/statedir"
)

// Manager resolves a (possibly compressed) source file to a plain file
// ready to be flashed, locking per source file so that two concurrent
// requests for the same compressed source don't race on the
// decompressed output.
type Manager struct {
	logger hclog.Logger
	state  *statedir.Dir
}

// New returns a Manager whose lock files live under state.
func New(logger hclog.Logger, state *statedir.Dir) *Manager {
	return &Manager{logger: logger.Named("decompress"), state: state}
}

// SourceHash derives the deterministic lock-key used to name the
// advisory lock file for a given source path.
func SourceHash(sourcePath string) string {
	sum := sha256.Sum256([]byte(sourcePath))
	return hex.EncodeToString(sum[:])[:16]
}

// Resolve inspects sourcePath under an advisory lock; if it is a
// recognized compressed form it is decompressed to a sibling path,
// which is returned. Otherwise sourcePath is returned unchanged.
//
// The lock file lives outside the source directory (which may be
// read-only) under the target's state directory.
func (m *Manager) Resolve(sourcePath string) (string, error) {
	lockPath := m.state.DecompressLockFile(SourceHash(sourcePath))
	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("locking %q for decompression of %q: %w", lockPath, sourcePath, err)
	}
	defer lock.Unlock()

	kind, err := sniff(sourcePath)
	if err != nil {
		return "", flasherr.New(flasherr.SourceUnreadable, sourcePath, err.Error(), err)
	}
	if kind == kindPlain {
		return sourcePath, nil
	}

	finalPath := sourcePath + decompressedSuffix(kind)
	if _, err := os.Stat(finalPath); err == nil {
		// Already decompressed by an earlier request; the atomic
		// rename below guarantees that presence implies completeness.
		return finalPath, nil
	}

	tmpPath := finalPath + ".tmp"
	if _, err := os.Stat(tmpPath); err == nil {
		// A previous decompression crashed mid-write: we cannot tell a
		// truncated file from a good one, so this requires manual
		// recovery rather than silently retrying over it.
		return "", flasherr.New(flasherr.DecompressionCorrupted, sourcePath,
			fmt.Sprintf("stale partial decompression at %s", tmpPath), nil)
	}

	if err := decompressTo(sourcePath, tmpPath, kind); err != nil {
		os.Remove(tmpPath)
		return "", flasherr.New(flasherr.DecompressionCorrupted, sourcePath, err.Error(), err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("finalizing decompressed %q: %w", finalPath, err)
	}
	m.logger.Info("decompressed source", "source", sourcePath, "output", finalPath)
	return finalPath, nil
}

type kind int

const (
	kindPlain kind = iota
	kindGzip
	kindBzip2
	kindZip
)

func decompressedSuffix(k kind) string {
	switch k {
	case kindGzip:
		return ".decompressed"
	case kindBzip2:
		return ".decompressed"
	case kindZip:
		return ".decompressed"
	default:
		return ""
	}
}

// sniff identifies a compressed source by magic bytes. No third-party
// multi-format archive/compression library appears anywhere in the
// retrieved example corpus, so this uses the standard library
// exclusively (see DESIGN.md).
func sniff(path string) (kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return kindPlain, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return kindPlain, err
	}
	magic = magic[:n]

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return kindGzip, nil
	case len(magic) >= 3 && bytes.Equal(magic[:3], []byte("BZh")):
		return kindBzip2, nil
	case len(magic) >= 4 && bytes.Equal(magic, []byte{0x50, 0x4b, 0x03, 0x04}):
		return kindZip, nil
	default:
		return kindPlain, nil
	}
}

func decompressTo(sourcePath, tmpPath string, k kind) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	switch k {
	case kindGzip:
		gr, err := gzip.NewReader(src)
		if err != nil {
			return err
		}
		defer gr.Close()
		_, err = io.Copy(dst, gr)
		return err
	case kindBzip2:
		_, err = io.Copy(dst, bzip2.NewReader(src))
		return err
	case kindZip:
		info, err := src.Stat()
		if err != nil {
			return err
		}
		zr, err := zip.NewReader(src, info.Size())
		if err != nil {
			return err
		}
		if len(zr.File) != 1 {
			return fmt.Errorf("zip source must contain exactly one file, got %d", len(zr.File))
		}
		rc, err := zr.File[0].Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(dst, rc)
		return err
	default:
		_, err = io.Copy(dst, src)
		return err
	}
}
