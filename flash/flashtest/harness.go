// Package flashtest provides the fake Target, power.Rail, and
// console.Subsystem doubles shared by every driver's tests and by the
// core executor's own tests, modeled on the teacher's drivers/mock
// pattern of wrapping a driver under test with a minimal host-side
// double.
package flashtest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/flashcore/flashcore/flash/internal/testlog"
	"github.com/flashcore/flashcore/flash/power"
	"github.com/flashcore/flashcore/flash/statedir"
)

// Target is a fake flash.Target for tests: a fixed ID, a t.Logf-backed
// logger, a mutable keyword map, and a real (tempdir-backed) state
// directory.
type Target struct {
	id    string
	log   hclog.Logger
	kws   map[string]string
	state *statedir.Dir
}

// NewTarget returns a Target named id with its state directory built
// under t.TempDir().
func NewTarget(t *testing.T, id string) *Target {
	t.Helper()
	sd := statedir.New(testlog.HCLogger(t), filepath.Join(t.TempDir(), "state"))
	if err := sd.Build(); err != nil {
		t.Fatalf("building state dir: %v", err)
	}
	return &Target{
		id:    id,
		log:   testlog.HCLogger(t),
		kws:   make(map[string]string),
		state: sd,
	}
}

func (f *Target) ID() string                  { return f.id }
func (f *Target) Log() hclog.Logger           { return f.log }
func (f *Target) Keywords() map[string]string { return f.kws }
func (f *Target) StateDir() *statedir.Dir     { return f.state }

// SetKeyword sets a keyword used for command-line templating.
func (f *Target) SetKeyword(k, v string) { f.kws[k] = v }

// Rail is a fake power.Rail that records every sequence it was asked
// to run, and optionally fails on command.
type Rail struct {
	mu      sync.Mutex
	Ran     []power.Sequence
	FailOn  func(seq power.Sequence, label string) error
}

func (r *Rail) Sequence(ctx context.Context, target power.Target, seq power.Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ran = append(r.Ran, seq)
	if r.FailOn != nil {
		return r.FailOn(seq, "")
	}
	return nil
}

func (r *Rail) SequenceVerify(ctx context.Context, target power.Target, seq power.Sequence, label string) error {
	if r.FailOn != nil {
		return r.FailOn(seq, label)
	}
	return nil
}

// Console is a fake console.Subsystem recording enable/disable calls.
type Console struct {
	mu       sync.Mutex
	Disabled map[string]int
	Enabled  map[string]int
}

// NewConsole returns a ready-to-use Console double.
func NewConsole() *Console {
	return &Console{Disabled: make(map[string]int), Enabled: make(map[string]int)}
}

func (c *Console) Disable(ctx context.Context, target, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disabled[name]++
	return nil
}

func (c *Console) Enable(ctx context.Context, target, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Enabled[name]++
	return nil
}

// Store is a fake flash.MetadataStore recording every key it was
// asked to set.
type Store struct {
	mu     sync.Mutex
	Values map[string]string
}

// NewStore returns a ready-to-use Store double.
func NewStore() *Store {
	return &Store{Values: make(map[string]string)}
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Values[key] = value
	return nil
}
