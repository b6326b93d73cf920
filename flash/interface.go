package flash

import (
	"context"
	"fmt"

	"github.com/flashcore/flashcore/flash/console"
	"github.com/flashcore/flashcore/flash/decompress"
	"github.com/flashcore/flashcore/flash/power"
)

// Orchestrator is the entry point a target's owner calls to flash or
// read back images, bundling the registry and the collaborators the
// core dispatches into (spec.md §6's put_flash/get_flash/get_list).
type Orchestrator struct {
	Target  Target
	Reg     *Registry
	Rail    power.Rail
	Console console.Subsystem
	Decomp  *decompress.Manager
	Policy  PathPolicy
	Store   MetadataStore
}

// PutFlash resolves req against the registry, decompresses and
// validates every source path, then runs the serial bucket followed
// by the parallel bucket. The serial bucket runs first so that any
// configuration error there (most drivers needing a power cycle
// anyway) surfaces before the parallel bucket commits to running.
func (o *Orchestrator) PutFlash(ctx context.Context, req FlashRequest) error {
	plan, err := Resolve(o.Reg, req, o.Policy, o.Decomp)
	if err != nil {
		return err
	}

	if err := RunSerial(ctx, o.Target, o.Rail, o.Console, o.Store, plan.Serial); err != nil {
		return fmt.Errorf("serial flash bucket: %w", err)
	}
	if err := RunParallel(ctx, o.Target, o.Rail, o.Console, o.Store, plan.Parallel); err != nil {
		return fmt.Errorf("parallel flash bucket: %w", err)
	}
	return nil
}

// GetFlash reads image back from the target into dest.
func (o *Orchestrator) GetFlash(ctx context.Context, image ImageType, dest string, offset, length int64) error {
	return GetFlashRead(ctx, o.Reg, o.Rail, o.Target, image, dest, offset, length)
}

// GetList returns every registered image type and alias.
func (o *Orchestrator) GetList() (types []ImageType, aliases map[ImageType]ImageType) {
	return GetList(o.Reg)
}
