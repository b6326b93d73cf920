package flash

import (
	"context"
	"fmt"

	"github.com/flashcore/flashcore/flash/console"
	"github.com/flashcore/flashcore/flash/flasherr"
	"github.com/flashcore/flashcore/flash/power"
)

// RunSerial implements spec.md §4.5: each bucketed driver is flashed
// in turn, before the next one starts. A SupervisedDriver that simply
// prefers not to run in parallel (Metadata.Parallel == false) is
// dispatched through RunParallel with a single-driver group, reusing
// its power-sequence/console/retry handling exactly as it would run
// alongside others; a OneShotDriver bypasses that machinery entirely
// and just gets its own pre/post sequence run directly around the
// blocking Flash call.
func RunSerial(ctx context.Context, target Target, rail power.Rail, consoles console.Subsystem, store MetadataStore, group []DriverImages) error {
	for _, g := range group {
		switch d := g.Driver.(type) {
		case SupervisedDriver:
			if err := RunParallel(ctx, target, rail, consoles, store, []DriverImages{g}); err != nil {
				return err
			}
		case OneShotDriver:
			if err := runOneShot(ctx, target, rail, consoles, store, d, g); err != nil {
				return err
			}
		default:
			return fmt.Errorf("flash: %T implements neither OneShotDriver nor SupervisedDriver", g.Driver)
		}
	}
	return nil
}

func runOneShot(ctx context.Context, target Target, rail power.Rail, consoles console.Subsystem, store MetadataStore, d OneShotDriver, g DriverImages) error {
	meta := d.Metadata()

	if len(meta.PreSequence) > 0 {
		if err := rail.Sequence(ctx, target.ID(), meta.PreSequence); err != nil {
			return flasherr.New(flasherr.PowerSequenceFailed, target.ID(), "pre-sequence failed: "+err.Error(), err)
		}
	}

	if consoles != nil {
		for _, name := range meta.ConsolesDisable {
			if err := consoles.Disable(ctx, target.ID(), name); err != nil {
				return fmt.Errorf("disabling console %q: %w", name, err)
			}
		}
	}

	flashErr := d.Flash(ctx, target, g.Images)

	if consoles != nil {
		for _, name := range meta.ConsolesDisable {
			if err := consoles.Enable(ctx, target.ID(), name); err != nil {
				target.Log().Warn("failed to re-enable console", "console", name, "error", err)
			}
		}
	}

	if flashErr != nil {
		// post_sequence is skipped on failure, matching the parallel
		// executor's kill path.
		return flashErr
	}

	if store != nil {
		if err := RecordHashes(store, g.Images); err != nil {
			target.Log().Warn("failed to record flash hashes", "error", err)
		}
	}

	if len(meta.PostSequence) > 0 {
		if err := rail.Sequence(ctx, target.ID(), meta.PostSequence); err != nil {
			return flasherr.New(flasherr.PowerSequenceFailed, target.ID(), "post-sequence failed: "+err.Error(), err)
		}
	}
	return nil
}
