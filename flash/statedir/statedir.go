// Package statedir manages the per-target state directory: the place
// where pidfiles, log files, and decompression locks for in-flight
// flash operations live.
package statedir

import (
	"fmt"
	"os"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"
)

// Dir is the state directory for a single test target.
type Dir struct {
	logger hclog.Logger
	path   string
}

// New returns a Dir rooted at path. The directory is not created until
// Build is called.
func New(logger hclog.Logger, path string) *Dir {
	return &Dir{
		logger: logger.Named("statedir"),
		path:   path,
	}
}

// Build creates the state directory (and any missing parents) if it
// does not already exist.
func (d *Dir) Build() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("building state dir %q: %w", d.path, err)
	}
	return nil
}

// Path returns the root of the state directory.
func (d *Dir) Path() string {
	return d.path
}

// PIDFile returns the pidfile path for a flash of the given image
// types, named per the "flash-<types joined with ->.pid" convention.
func (d *Dir) PIDFile(imageTypesJoined string) string {
	return filepath.Join(d.path, fmt.Sprintf("flash-%s.pid", imageTypesJoined))
}

// LogFile returns the log file path for a driver's logName (or, if
// logName is empty, the joined image types), named per the
// "flash-<name>.log" convention.
func (d *Dir) LogFile(logName string) string {
	return filepath.Join(d.path, fmt.Sprintf("flash-%s.log", logName))
}

// DecompressLockFile returns the advisory lock path for a decompression
// keyed by a hash of the source file path, named per the
// "images.flash.decompress.<hash>.lock" convention.
func (d *Dir) DecompressLockFile(sourceHash string) string {
	return filepath.Join(d.path, fmt.Sprintf("images.flash.decompress.%s.lock", sourceHash))
}

// Destroy removes the state directory and everything under it.
func (d *Dir) Destroy() error {
	if err := os.RemoveAll(d.path); err != nil {
		d.logger.Warn("failed to remove state dir", "path", d.path, "error", err)
		return err
	}
	return nil
}
