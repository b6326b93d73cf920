package flash

import (
	"context"
	"fmt"

	"github.com/flashcore/flashcore/flash/flasherr"
	"github.com/flashcore/flashcore/flash/power"
)

// GetFlashRead implements spec.md C7: resolve image's driver, confirm
// it implements Reader, and delegate the read around the driver's own
// pre/post power sequence. dest is a path under the caller's storage
// area; it is the caller's responsibility (as with FlashRequest paths)
// to keep it bounded by a PathPolicy.
func GetFlashRead(ctx context.Context, reg *Registry, rail power.Rail, target Target, image ImageType, dest string, offset, length int64) error {
	driver, resolvedType, err := reg.Resolve(image)
	if err != nil {
		return fmt.Errorf("resolving read image type %q: %w", image, err)
	}
	reader, ok := driver.(Reader)
	if !ok {
		return flasherr.New(flasherr.Unsupported, target.ID(),
			fmt.Sprintf("image type %q (driver %T) does not support reading back", resolvedType, driver), nil)
	}

	meta := driver.Metadata()
	if len(meta.PreSequence) > 0 {
		if err := rail.Sequence(ctx, target.ID(), meta.PreSequence); err != nil {
			return fmt.Errorf("pre-sequence before read: %w", err)
		}
	}

	readErr := reader.FlashRead(ctx, target, resolvedType, dest, offset, length)

	if len(meta.PostSequence) > 0 {
		if err := rail.Sequence(ctx, target.ID(), meta.PostSequence); err != nil {
			if readErr != nil {
				return fmt.Errorf("read failed (%v) and post-sequence also failed: %w", readErr, err)
			}
			return fmt.Errorf("post-sequence after read: %w", err)
		}
	}
	return readErr
}

// GetList implements spec.md C7's listing operation: every registered
// image type, plus every alias, so a client can discover both the
// concrete names and their forwards.
func GetList(reg *Registry) (types []ImageType, aliases map[ImageType]ImageType) {
	return reg.listTypesAndAliases()
}
