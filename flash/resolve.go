package flash

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flashcore/flashcore/flash/decompress"
	"github.com/flashcore/flashcore/flash/flasherr"
)

// PathPolicy bounds which source paths a FlashRequest may name: either
// under StorageRoot, or an absolute path explicitly present in
// Whitelist (keyed by the path itself, valued by a human-readable
// reason, e.g. "console log capture directory").
type PathPolicy struct {
	StorageRoot string
	Whitelist   map[string]string
}

// allow reports whether path is acceptable under p, returning the
// resolved absolute path to use.
func (p PathPolicy) allow(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, ok := p.Whitelist[path]; ok {
			return path, nil
		}
		if p.StorageRoot != "" {
			rel, err := filepath.Rel(p.StorageRoot, path)
			if err == nil && !strings.HasPrefix(rel, "..") {
				return path, nil
			}
		}
		return "", flasherr.New(flasherr.PermissionDenied, path,
			"absolute path outside storage root and not whitelisted", nil)
	}
	if p.StorageRoot == "" {
		return "", flasherr.New(flasherr.PermissionDenied, path, "no storage root configured for relative paths", nil)
	}
	joined := filepath.Join(p.StorageRoot, path)
	rel, err := filepath.Rel(p.StorageRoot, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", flasherr.New(flasherr.PermissionDenied, path, "path escapes storage root", nil)
	}
	return joined, nil
}

// Resolve implements spec.md §4.2: it walks req in order, resolves
// each entry's image type through reg (following aliases, so the last
// entry targeting a given driver+type wins per FlashRequest's ordering
// guarantee), validates and decompresses the source path, and
// partitions the result into serial/parallel buckets.
func Resolve(reg *Registry, req FlashRequest, policy PathPolicy, dm *decompress.Manager) (ResolvedPlan, error) {
	type bound struct {
		driver Driver
		images map[ImageType]string
		order  []ImageType
	}

	byDriver := make(map[Driver]*bound)
	driverOrder := make([]Driver, 0, len(req))

	for _, entry := range req {
		driver, resolvedType, err := reg.Resolve(entry.ImageType)
		if err != nil {
			return ResolvedPlan{}, flasherr.New(flasherr.UnknownImageType, string(entry.ImageType), err.Error(), err)
		}

		path, err := policy.allow(entry.Path)
		if err != nil {
			return ResolvedPlan{}, err
		}
		if info, statErr := os.Stat(path); statErr != nil {
			return ResolvedPlan{}, flasherr.New(flasherr.SourceUnreadable, path, statErr.Error(), statErr)
		} else if info.IsDir() {
			return ResolvedPlan{}, flasherr.New(flasherr.SourceUnreadable, path, "source is a directory", nil)
		}

		resolvedPath := path
		if dm != nil {
			resolvedPath, err = dm.Resolve(path)
			if err != nil {
				return ResolvedPlan{}, err
			}
		}

		if err := touchMtime(resolvedPath, policy); err != nil {
			return ResolvedPlan{}, err
		}

		b, ok := byDriver[driver]
		if !ok {
			b = &bound{driver: driver, images: make(map[ImageType]string)}
			byDriver[driver] = b
			driverOrder = append(driverOrder, driver)
		}
		if _, already := b.images[resolvedType]; !already {
			b.order = append(b.order, resolvedType)
		}
		// Last entry for a given (driver, resolvedType) pair wins,
		// matching the ordering guarantee FlashRequest documents.
		b.images[resolvedType] = resolvedPath
	}

	grouped := make([]DriverImages, 0, len(driverOrder))
	for _, d := range driverOrder {
		b := byDriver[d]
		grouped = append(grouped, DriverImages{Driver: b.driver, Images: b.images, Order: b.order})
	}

	serial, parallel := Bucket(grouped)
	return ResolvedPlan{Serial: serial, Parallel: parallel}, nil
}

// touchMtime updates the resolved source's modification time, the way
// a cache would mark an entry as recently used, but only for paths
// under the storage root — whitelisted absolute paths belong to
// another subsystem and are never touched.
func touchMtime(path string, policy PathPolicy) error {
	if policy.StorageRoot == "" {
		return nil
	}
	rel, err := filepath.Rel(policy.StorageRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("touching mtime of %q: %w", path, err)
	}
	return nil
}

// Bucket splits grouped drivers into the serial bucket (OneShotDriver,
// or a SupervisedDriver whose Metadata.Parallel is false) and the
// parallel bucket (SupervisedDriver with Metadata.Parallel true), per
// spec.md §4.3.
func Bucket(grouped []DriverImages) (serial, parallel []DriverImages) {
	for _, g := range grouped {
		switch d := g.Driver.(type) {
		case SupervisedDriver:
			if d.Metadata().Parallel {
				parallel = append(parallel, g)
			} else {
				serial = append(serial, g)
			}
		default:
			serial = append(serial, g)
		}
	}
	return serial, parallel
}
