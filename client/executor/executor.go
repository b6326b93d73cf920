//go:build !windows

// Package executor supervises a single flashing subprocess: launching
// it with a logged stdout/stderr, writing and reading its pidfile,
// polling liveness, and killing it by signal escalation. It is the
// process-supervision primitive shared by every subprocess-based
// driver, most directly drivers/shellcmd.
package executor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

// Command describes a subprocess to launch.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Cwd     string
	LogFile string
	PIDFile string
}

// ProcessState reports what happened to a launched process.
type ProcessState struct {
	Pid      int
	ExitCode int
	Signal   int
	Time     time.Time
}

// Executor launches and supervises one subprocess at a time.
type Executor struct {
	logger hclog.Logger
	cmd    *exec.Cmd
	logF   *os.File
}

// New returns an Executor that logs through logger.
func New(logger hclog.Logger) *Executor {
	return &Executor{logger: logger.Named("executor")}
}

// Launch starts command, writes its pidfile, and returns once the
// process has either started successfully or failed to start. Only a
// failure to start the process or to write the pidfile is reported as
// a launch failure; a process that exits right after starting is
// returned as launched.
func (e *Executor) Launch(c *Command) (*ProcessState, error) {
	logF, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", c.LogFile, err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Cwd
	cmd.Env = c.Env
	cmd.Stdout = logF
	cmd.Stderr = logF

	if err := cmd.Start(); err != nil {
		logF.Close()
		return nil, fmt.Errorf("starting %q: %w", c.Path, err)
	}

	if err := os.WriteFile(c.PIDFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		cmd.Process.Kill()
		logF.Close()
		return nil, fmt.Errorf("writing pidfile %q: %w", c.PIDFile, err)
	}

	e.cmd = cmd
	e.logF = logF
	e.logger.Debug("launched", "path", c.Path, "pid", cmd.Process.Pid, "pidfile", c.PIDFile)

	return &ProcessState{Pid: cmd.Process.Pid, Time: time.Now()}, nil
}

// Running reports whether the launched process is still alive,
// distinguishing a normal exit from an error probing process state.
// On Linux an exited child that Wait has not yet reaped is reported as
// not running; elsewhere such a child still counts as running.
func (e *Executor) Running() (bool, error) {
	if e.cmd == nil || e.cmd.Process == nil {
		return false, fmt.Errorf("executor: no process launched")
	}
	proc, err := ps.FindProcess(e.cmd.Process.Pid)
	if err != nil {
		return false, fmt.Errorf("probing pid %d: %w", e.cmd.Process.Pid, err)
	}
	if proc == nil {
		return false, nil
	}
	// An exited child stays in the process table as a zombie until it
	// is reaped; its /proc state field is "Z".
	if raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", e.cmd.Process.Pid)); err == nil {
		s := string(raw)
		if i := strings.LastIndexByte(s, ')'); i >= 0 {
			if f := strings.Fields(s[i+1:]); len(f) > 0 && f[0] == "Z" {
				return false, nil
			}
		}
	}
	return true, nil
}

// Wait blocks until the process exits and returns its terminal state.
// The caller must have already launched a process.
func (e *Executor) Wait() (*ProcessState, error) {
	if e.cmd == nil {
		return nil, fmt.Errorf("executor: no process launched")
	}
	err := e.cmd.Wait()
	if e.logF != nil {
		e.logF.Close()
	}

	state := &ProcessState{Pid: e.cmd.Process.Pid, Time: time.Now()}
	if err == nil {
		state.ExitCode = 0
		return state, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				state.Signal = int(ws.Signal())
			}
			state.ExitCode = ws.ExitStatus()
		}
		return state, nil
	}
	return state, err
}

// Shutdown signals the process and, if it has not exited within
// grace, escalates to SIGKILL. An empty signal defaults to SIGTERM.
func (e *Executor) Shutdown(signal string, grace time.Duration) error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	sig := syscall.SIGTERM
	if signal != "" {
		if s, ok := signalByName[strings.ToUpper(signal)]; ok {
			sig = s
		}
	}

	if err := e.cmd.Process.Signal(sig); err != nil {
		e.logger.Warn("signal failed", "signal", sig, "error", err)
	}

	done := make(chan struct{})
	go func() {
		e.cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		e.logger.Warn("grace period expired, sending SIGKILL", "pid", e.cmd.Process.Pid)
		return unix.Kill(e.cmd.Process.Pid, unix.SIGKILL)
	}
}

// Signal sends sig directly to the supervised process.
func (e *Executor) Signal(sig os.Signal) error {
	if e.cmd == nil || e.cmd.Process == nil {
		return fmt.Errorf("executor: no process launched")
	}
	return e.cmd.Process.Signal(sig)
}

var signalByName = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGINT":  syscall.SIGINT,
	"SIGHUP":  syscall.SIGHUP,
}

// ReadPIDFile reads back a pid written by Launch, for recovering a
// driver's handle to an already-running flash after a restart.
func ReadPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("pidfile %q contains invalid pid: %w", path, err)
	}
	return pid, nil
}

// KillByPIDFile terminates the process named in pidFile if, and only
// if, it is still alive, tolerating a pidfile that refers to an
// already-exited process (no error).
func KillByPIDFile(pidFile string) error {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return err
	}
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("probing pid %d: %w", pid, err)
	}
	if proc == nil {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
