// Package mock implements fake OneShotDriver and SupervisedDriver
// drivers used by the flash package's own tests and by driver
// authors exercising the executor harness, modeled on the teacher's
// drivers/mock test driver.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/flashcore/flashcore/flash"
)

// OneShot is a fake OneShotDriver whose behavior is entirely
// controlled by its fields, for testing the serial dispatcher.
type OneShot struct {
	Meta flash.Metadata

	// RunFor is slept before returning, simulating flash duration.
	RunFor time.Duration
	// FailWith, if non-nil, is returned by Flash.
	FailWith error

	Calls []map[flash.ImageType]string
}

func (d *OneShot) Metadata() flash.Metadata { return d.Meta }

func (d *OneShot) Flash(ctx context.Context, target flash.Target, images map[flash.ImageType]string) error {
	d.Calls = append(d.Calls, images)
	if d.RunFor > 0 {
		select {
		case <-time.After(d.RunFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.FailWith
}

// Supervised is a fake SupervisedDriver driven by a tick counter
// instead of a real subprocess, so tests can deterministically control
// how many CheckDone polls occur before completion, and how many
// attempts (Start calls) fail PostCheck before one finally succeeds.
type Supervised struct {
	Meta flash.Metadata

	// DoneAfterChecks is the number of CheckDone calls (inclusive, per
	// attempt) after which the flash reports done.
	DoneAfterChecks int
	// PostCheckErr, if non-nil, is returned by PostCheck on every
	// attempt (ignoring FailChecks). Use FailChecks instead to model a
	// driver that eventually succeeds after some failed attempts.
	PostCheckErr error
	// FailChecks is the number of attempts (Start calls) whose
	// PostCheck reports a diagnostic before a later attempt succeeds.
	// Attempt numbers are 1-based, matching Context.RetryCount.
	FailChecks int
	// KillCalled records whether Kill was invoked, and why.
	KillCalled bool
	KillReason string

	// StartCalls counts every Start invocation, so tests can assert how
	// many attempts the executor made.
	StartCalls int

	checks  int
	attempt int
}

func (d *Supervised) Metadata() flash.Metadata { return d.Meta }

func (d *Supervised) Start(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) error {
	d.checks = 0
	d.attempt++
	d.StartCalls++
	rc.StartedAt = time.Now()
	rc.Images = images
	return nil
}

func (d *Supervised) CheckDone(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) (bool, error) {
	d.checks++
	return d.checks >= d.DoneAfterChecks, nil
}

func (d *Supervised) PostCheck(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) error {
	if d.PostCheckErr != nil {
		return d.PostCheckErr
	}
	if d.attempt <= d.FailChecks {
		return fmt.Errorf("mock: attempt %d failed post-check", d.attempt)
	}
	return nil
}

func (d *Supervised) Kill(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context, reason string) error {
	d.KillCalled = true
	d.KillReason = reason
	return nil
}

// StuckSupervised never reports done, for exercising the executor's
// timeout/kill path.
type StuckSupervised struct {
	Meta       flash.Metadata
	KillCalled bool
	KillErr    error
}

func (d *StuckSupervised) Metadata() flash.Metadata { return d.Meta }

func (d *StuckSupervised) Start(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) error {
	rc.StartedAt = time.Now()
	return nil
}

func (d *StuckSupervised) CheckDone(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) (bool, error) {
	return false, nil
}

func (d *StuckSupervised) PostCheck(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) error {
	return fmt.Errorf("mock: PostCheck called on a flash that never finished")
}

func (d *StuckSupervised) Kill(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context, reason string) error {
	d.KillCalled = true
	return d.KillErr
}
