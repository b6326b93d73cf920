// Package shellcmd implements a generic SupervisedDriver that flashes
// by running a configured command line, the Go port of the original
// flash_shell_cmd_c: template the configured argv against the target's
// keywords and the images being flashed, launch it under a pidfile,
// poll for exit, and check its return code.
package shellcmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/flashcore/flashcore/client/executor"
	"github.com/flashcore/flashcore/flash"
	"github.com/flashcore/flashcore/flash/flasherr"
	"github.com/flashcore/flashcore/flash/template"
)

// hclConfig is the "shellcmd { ... }" block nested under an "image"
// block in the target HCL config, decoded by Factory.
type hclConfig struct {
	Cmdline          []string          `hcl:"cmdline"`
	Cwd              string            `hcl:"cwd,optional"`
	EnvAdd           map[string]string `hcl:"env_add,optional"`
	ExpectedExitCode int               `hcl:"expected_exit_code,optional"`
}

// Factory decodes a "shellcmd { ... }" block into a *Driver, for
// registration with flash/config.Load's driver factory map under the
// name "shellcmd".
func Factory(meta flash.Metadata, body hcl.Body) (flash.Driver, error) {
	outer := struct {
		Shellcmd hclConfig `hcl:"shellcmd,block"`
	}{}
	if diags := gohcl.DecodeBody(body, nil, &outer); diags.HasErrors() {
		return nil, fmt.Errorf("decoding shellcmd block: %w", diags)
	}
	return New(Config{
		Cmdline:          outer.Shellcmd.Cmdline,
		Cwd:              outer.Shellcmd.Cwd,
		EnvAdd:           outer.Shellcmd.EnvAdd,
		ExpectedExitCode: outer.Shellcmd.ExpectedExitCode,
		Meta:             meta,
	}), nil
}

// Config is the per-driver configuration, set once at registration
// time and never mutated afterward.
type Config struct {
	// Cmdline is the command template, e.g.
	// "/usr/bin/flasher -i $image.kernel -o $cwd/out.bin". Keywords
	// are substituted per buildKeywords.
	Cmdline []string

	// Cwd is the working directory the command runs from. Defaults to
	// os.TempDir() if empty.
	Cwd string

	// EnvAdd is merged on top of the current process environment.
	EnvAdd map[string]string

	// ExpectedExitCode is compared against the process's exit code in
	// PostCheck. Negative means "don't check".
	ExpectedExitCode int

	Meta flash.Metadata
}

// scratch is the driver-private state carried in flash.Context.Scratch
// between Start, CheckDone, PostCheck and Kill.
type scratch struct {
	exec     *executor.Executor
	exitCode int
	signaled int
}

// Driver implements flash.SupervisedDriver by running Config.Cmdline
// as a subprocess.
type Driver struct {
	cfg Config
}

// New returns a Driver configured per cfg.
func New(cfg Config) *Driver {
	if cfg.Cwd == "" {
		cfg.Cwd = os.TempDir()
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) Metadata() flash.Metadata { return d.cfg.Meta }

// Start templates the command line against the target's keywords plus
// derived fields (image.<type>, image.#<N>, image_types, pidfile,
// cwd, logfile_name), launches it, and records the pidfile/logfile
// paths on rc so CheckDone/PostCheck/Kill can find them again.
func (d *Driver) Start(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) error {
	imageTypes := sortedJoinedTypes(images)
	logName := d.cfg.Meta.LogName
	if logName == "" {
		logName = imageTypes
	}

	kws := buildKeywords(target.Keywords(), images, imageTypes)
	kws["cwd"] = d.cfg.Cwd

	pidFile := target.StateDir().PIDFile(imageTypes)
	logFile := target.StateDir().LogFile(logName)
	kws["pidfile"] = pidFile
	kws["logfile_name"] = logFile

	cmdline := make([]string, 0, len(d.cfg.Cmdline))
	for i, part := range d.cfg.Cmdline {
		expanded, err := template.ParseAndReplace(part, kws)
		if err != nil {
			return flasherr.New(flasherr.DriverStartFailed, target.ID(),
				fmt.Sprintf("templating command line field #%d: %v", i, err), err)
		}
		cmdline = append(cmdline, expanded...)
	}
	if len(cmdline) == 0 {
		return flasherr.New(flasherr.DriverStartFailed, target.ID(), "empty command line", nil)
	}

	env := os.Environ()
	for k, v := range d.cfg.EnvAdd {
		env = append(env, k+"="+v)
	}

	rc.StartedAt = time.Now()
	rc.Images = images
	rc.Cmdline = cmdline
	rc.PIDFile = pidFile
	rc.LogFile = logFile

	exec := executor.New(target.Log())
	_, err := exec.Launch(&executor.Command{
		Path:    cmdline[0],
		Args:    cmdline[1:],
		Env:     env,
		Cwd:     d.cfg.Cwd,
		LogFile: logFile,
		PIDFile: pidFile,
	})
	if err != nil {
		return flasherr.New(flasherr.DriverStartFailed, target.ID(),
			fmt.Sprintf("launching %q: %v", strings.Join(cmdline, " "), err), err)
	}

	rc.Scratch = &scratch{exec: exec}
	target.Log().Debug("flasher started", "image_types", imageTypes, "cmdline", cmdline)
	return nil
}

func (d *Driver) CheckDone(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) (bool, error) {
	sc := rc.Scratch.(*scratch)
	running, err := sc.exec.Running()
	if err != nil {
		return false, flasherr.New(flasherr.DriverStartFailed, target.ID(), "probing flasher process", err)
	}
	if running {
		return false, nil
	}
	state, err := sc.exec.Wait()
	if err != nil {
		return true, flasherr.New(flasherr.PostCheckFailed, target.ID(), "reaping flasher process", err)
	}
	sc.exitCode = state.ExitCode
	sc.signaled = state.Signal
	return true, nil
}

// PostCheck compares the exit code against Config.ExpectedExitCode
// (skipped when negative) and, on mismatch, attaches the tail of the
// log file the way flash_shell_cmd_c's _log_file_read does.
func (d *Driver) PostCheck(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context) error {
	sc := rc.Scratch.(*scratch)
	if d.cfg.ExpectedExitCode < 0 || sc.exitCode == d.cfg.ExpectedExitCode {
		return nil
	}
	tail := readLogTail(rc.LogFile, 2000)
	return flasherr.New(flasherr.PostCheckFailed, target.ID(),
		fmt.Sprintf("flasher exited %d, want %d: %s", sc.exitCode, d.cfg.ExpectedExitCode, tail), nil)
}

func (d *Driver) Kill(ctx context.Context, target flash.Target, images map[flash.ImageType]string, rc *flash.Context, reason string) error {
	sc, ok := rc.Scratch.(*scratch)
	if !ok || sc.exec == nil {
		return nil
	}
	target.Log().Debug("killing flasher", "reason", reason, "pidfile", rc.PIDFile)
	return sc.exec.Shutdown("SIGTERM", 3*time.Second)
}

// buildKeywords assembles the %(field)s-equivalent substitution map:
// the target's own keywords plus image.<type>, image.#<N> (numbered
// in sorted image-type order) and image_types.
func buildKeywords(base map[string]string, images map[flash.ImageType]string, imageTypes string) map[string]string {
	kws := make(map[string]string, len(base)+len(images)+1)
	for k, v := range base {
		kws[k] = v
	}
	kws["image_types"] = imageTypes

	names := make([]string, 0, len(images))
	for t := range images {
		names = append(names, string(t))
	}
	sort.Strings(names)
	for i, name := range names {
		kws["image."+name] = images[flash.ImageType(name)]
		kws[fmt.Sprintf("image.#%d", i)] = images[flash.ImageType(name)]
	}
	return kws
}

func sortedJoinedTypes(images map[flash.ImageType]string) string {
	names := make([]string, 0, len(images))
	for t := range images {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return strings.Join(names, "-")
}

func readLogTail(path string, maxBytes int64) string {
	f, err := os.Open(path)
	if err != nil {
		return "<no logs recorded>"
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil && info.Size() > maxBytes {
		f.Seek(-maxBytes, 2)
	}
	buf := make([]byte, maxBytes)
	n, _ := f.Read(buf)
	return string(buf[:n])
}
