// Package console defines the collaborator interface the flashing core
// uses to suspend and resume serial console streams that might
// otherwise race with a flasher for the same wire.
package console

import "context"

// Target names the test target the console subsystem operates on.
type Target = string

// Subsystem is the collaborator interface implemented by the console
// subsystem. Both methods are idempotent: calling Disable on an
// already-disabled (or absent) console, or Enable on an already-enabled
// one, must succeed silently.
type Subsystem interface {
	Disable(ctx context.Context, target Target, name string) error
	Enable(ctx context.Context, target Target, name string) error
}
