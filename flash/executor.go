package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/flashcore/flashcore/flash/console"
	"github.com/flashcore/flashcore/flash/flasherr"
	"github.com/flashcore/flashcore/flash/power"
)

// parallelState tracks one SupervisedDriver's progress through the
// parallel executor's poll loop.
type parallelState struct {
	driver     SupervisedDriver
	images     map[ImageType]string
	rc         *Context
	retryCount int
	done       bool
	failed     bool
	failMsg    string
}

// RunParallel implements spec.md §4.4's state machine: pre-sequence,
// start every driver, then poll on a shared tick until every driver
// reports done-and-verified, one driver exhausts its retries, or the
// deadline (absolute from loop entry; retries consume the same
// budget) expires. Any terminal failure kills every still-running
// driver before returning, aggregating their kill errors.
//
// Ported from original_source's _flash_parallel/_flash_parallel_do;
// the per-driver retry counter is a plain increment with no
// backoff/jitter, a deliberate simplification (see DESIGN.md) of the
// teacher's allocrunner/taskrunner/restarts RestartTracker.
func RunParallel(ctx context.Context, target Target, rail power.Rail, consoles console.Subsystem, store MetadataStore, group []DriverImages) error {
	if len(group) == 0 {
		return nil
	}

	states := make([]*parallelState, 0, len(group))
	var estimatedDuration time.Duration
	checkPeriod := 4 * time.Second

	for _, g := range group {
		sd, ok := g.Driver.(SupervisedDriver)
		if !ok {
			return fmt.Errorf("flash: %T in parallel bucket does not implement SupervisedDriver", g.Driver)
		}
		meta := sd.Metadata()
		if meta.EstimatedDuration > estimatedDuration {
			estimatedDuration = meta.EstimatedDuration
		}
		if meta.CheckPeriod > 0 && meta.CheckPeriod < checkPeriod {
			checkPeriod = meta.CheckPeriod
		}
		states = append(states, &parallelState{driver: sd, images: g.Images, rc: &Context{}})
	}

	if err := runPreSequences(ctx, target, rail, group); err != nil {
		return err
	}

	if err := disableConsoles(ctx, target, consoles, group); err != nil {
		return err
	}

	for _, st := range states {
		st.retryCount = 1
		st.rc.RetryCount = 1
		if err := st.driver.Start(ctx, target, st.images, st.rc); err != nil {
			killAll(ctx, target, states, "start failed: "+err.Error())
			enableConsoles(ctx, target, consoles, group)
			return err
		}
	}

	deadline := time.Now().Add(estimatedDuration)
	ticker := time.NewTicker(checkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			killAll(ctx, target, states, "context cancelled")
			enableConsoles(ctx, target, consoles, group)
			return ctx.Err()
		case <-ticker.C:
		}

		for _, st := range states {
			if st.done {
				continue
			}
			doneNow, err := st.driver.CheckDone(ctx, target, st.images, st.rc)
			if err != nil {
				killAll(ctx, target, states, err.Error())
				enableConsoles(ctx, target, consoles, group)
				return err
			}
			if !doneNow {
				continue
			}

			meta := st.driver.Metadata()
			postErr := st.driver.PostCheck(ctx, target, st.images, st.rc)
			if postErr == nil {
				st.done = true
				if store != nil {
					if err := RecordHashes(store, st.images); err != nil {
						target.Log().Warn("failed to record flash hashes", "error", err)
					}
				}
				continue
			}

			if st.retryCount <= meta.Retries {
				st.retryCount++
				st.rc.RetryCount = st.retryCount
				target.Log().Warn("flashing failed, retrying", "retry", st.retryCount, "of", meta.Retries, "error", postErr)
				if err := st.driver.Start(ctx, target, st.images, st.rc); err != nil {
					killAll(ctx, target, states, err.Error())
					enableConsoles(ctx, target, consoles, group)
					return err
				}
				continue
			}

			msg := fmt.Sprintf("flashing failed %d times, aborting: %v", st.retryCount, postErr)
			killAll(ctx, target, states, msg)
			enableConsoles(ctx, target, consoles, group)
			return flasherr.New(flasherr.PostCheckFailed, target.ID(), msg, postErr)
		}

		if allDone(states) {
			enableConsoles(ctx, target, consoles, group)
			if err := runPostSequences(ctx, target, rail, group); err != nil {
				return err
			}
			return nil
		}

		if time.Now().After(deadline) {
			msg := fmt.Sprintf("flashing timed out after %s", estimatedDuration)
			killAll(ctx, target, states, msg)
			enableConsoles(ctx, target, consoles, group)
			return flasherr.New(flasherr.Timeout, target.ID(), msg, nil)
		}
	}
}

func allDone(states []*parallelState) bool {
	for _, st := range states {
		if !st.done {
			return false
		}
	}
	return true
}

// killAll aborts every still-running driver, aggregating errors.
// Post sequences are never run on this path: a killed flash may leave
// hardware in a state where a normal power-down sequence isn't safe.
func killAll(ctx context.Context, target Target, states []*parallelState, reason string) {
	var merr *multierror.Error
	for _, st := range states {
		if st.done {
			continue
		}
		if err := st.driver.Kill(ctx, target, st.images, st.rc, reason); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("killing driver: %w", err))
		}
	}
	if merr.ErrorOrNil() != nil {
		target.Log().Error("errors killing drivers after failure", "reason", reason, "error", merr)
	}
}

func runPreSequences(ctx context.Context, target Target, rail power.Rail, group []DriverImages) error {
	for _, g := range group {
		seq := g.Driver.Metadata().PreSequence
		if len(seq) == 0 {
			continue
		}
		if err := rail.Sequence(ctx, target.ID(), seq); err != nil {
			return flasherr.New(flasherr.PowerSequenceFailed, target.ID(), "pre-sequence failed: "+err.Error(), err)
		}
	}
	return nil
}

// runPostSequences runs only on the success path; a failed or killed
// flash skips post sequences entirely (spec.md Design Notes).
func runPostSequences(ctx context.Context, target Target, rail power.Rail, group []DriverImages) error {
	for _, g := range group {
		seq := g.Driver.Metadata().PostSequence
		if len(seq) == 0 {
			continue
		}
		if err := rail.Sequence(ctx, target.ID(), seq); err != nil {
			return flasherr.New(flasherr.PowerSequenceFailed, target.ID(), "post-sequence failed: "+err.Error(), err)
		}
	}
	return nil
}

func disableConsoles(ctx context.Context, target Target, consoles console.Subsystem, group []DriverImages) error {
	if consoles == nil {
		return nil
	}
	for _, g := range group {
		for _, name := range g.Driver.Metadata().ConsolesDisable {
			if err := consoles.Disable(ctx, target.ID(), name); err != nil {
				return fmt.Errorf("disabling console %q: %w", name, err)
			}
		}
	}
	return nil
}

func enableConsoles(ctx context.Context, target Target, consoles console.Subsystem, group []DriverImages) {
	if consoles == nil {
		return
	}
	for _, g := range group {
		for _, name := range g.Driver.Metadata().ConsolesDisable {
			if err := consoles.Enable(ctx, target.ID(), name); err != nil {
				target.Log().Warn("failed to re-enable console", "console", name, "error", err)
			}
		}
	}
}
