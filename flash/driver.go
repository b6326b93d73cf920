// Package flash implements the image-flashing orchestration core: image
// type resolution, driver dispatch, serial/parallel execution, and the
// collaborator contracts (power, console, decompression) it depends on.
package flash

import (
	"context"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/flashcore/flashcore/flash/power"
	"github.com/flashcore/flashcore/flash/statedir"
)

// ImageType is a short identifier for one kind of image a target
// accepts, e.g. "kernel-arm" or "bios". Unique within a target.
type ImageType string

// Target is the host-side handle a driver is given to do its work: a
// name to log and key state paths under, a logger, arbitrary
// target-specific keywords for command-line templating, and the state
// directory for pidfiles/logfiles.
type Target interface {
	ID() string
	Log() hclog.Logger
	Keywords() map[string]string
	StateDir() *statedir.Dir
}

// Metadata is immutable, driver-wide configuration: it must never be
// mutated by a running flash and is safe to read concurrently from
// many goroutines.
type Metadata struct {
	// Parallel marks a SupervisedDriver as eligible to run in the
	// parallel bucket alongside other parallel drivers. Meaningless
	// for OneShotDriver, which always runs serially.
	Parallel bool

	EstimatedDuration time.Duration
	CheckPeriod       time.Duration
	Retries           int

	// ConsolesDisable lists console subsystem names to disable before
	// flashing and re-enable afterward.
	ConsolesDisable []string

	PreSequence  power.Sequence
	PostSequence power.Sequence

	// LogName overrides the image-types-joined default used to name
	// this driver's log file under the target's state directory.
	LogName string
}

// Context is the mutable, per-execution scratch a supervised driver
// carries across its Start/CheckDone/PostCheck/Kill calls. A fresh
// Context is created for each driver execution and reused by that
// execution's retry attempts; it is never shared across drivers or
// across two flashes of the same driver.
type Context struct {
	StartedAt  time.Time
	RetryCount int
	Images     map[ImageType]string
	Cmdline    []string
	PIDFile    string
	LogFile    string

	// Scratch is driver-private storage (e.g. an *os.Process handle).
	// The core never reads or writes it.
	Scratch any
}

// OneShotDriver flashes synchronously: Flash blocks until the image is
// written or an error occurs. It always runs in the serial bucket.
type OneShotDriver interface {
	Metadata() Metadata
	Flash(ctx context.Context, target Target, images map[ImageType]string) error
}

// SupervisedDriver flashes asynchronously under the parallel executor's
// state machine: Start launches the flash, CheckDone polls it,
// PostCheck validates the result once CheckDone reports true, and Kill
// aborts on timeout or a sibling driver's failure.
type SupervisedDriver interface {
	Metadata() Metadata
	Start(ctx context.Context, target Target, images map[ImageType]string, rc *Context) error
	CheckDone(ctx context.Context, target Target, images map[ImageType]string, rc *Context) (bool, error)
	// PostCheck reports the terminal result of a completed flash.
	// A nil return means success.
	PostCheck(ctx context.Context, target Target, images map[ImageType]string, rc *Context) error
	Kill(ctx context.Context, target Target, images map[ImageType]string, rc *Context, reason string) error
}

// Reader is implemented by drivers that can read an image back off the
// target (spec.md C7); most drivers only write.
type Reader interface {
	FlashRead(ctx context.Context, target Target, image ImageType, dest string, offset, length int64) error
}

// Driver is the union type used where either kind is accepted; callers
// type-switch on OneShotDriver/SupervisedDriver to dispatch.
type Driver interface {
	Metadata() Metadata
}

// FlashEntry is one (image type, source path) pair from a caller's
// flash request.
type FlashEntry struct {
	ImageType ImageType
	Path      string
}

// FlashRequest is an ordered list of entries. Order matters: when two
// entries resolve (through aliasing) to the same driver and image
// type, the later entry wins, mirroring spec.md's map-literal
// last-write-wins semantics made explicit since Go map iteration order
// is not stable.
type FlashRequest []FlashEntry

// DriverImages groups the images bound to a single driver instance,
// preserving the request order of their image types.
type DriverImages struct {
	Driver Driver
	Images map[ImageType]string
	Order  []ImageType
}

// ResolvedPlan is the output of resolving a FlashRequest against a
// Registry: the serial bucket (OneShotDrivers, plus any
// SupervisedDriver with Metadata.Parallel == false) and the parallel
// bucket (SupervisedDrivers with Metadata.Parallel == true).
type ResolvedPlan struct {
	Serial   []DriverImages
	Parallel []DriverImages
}
