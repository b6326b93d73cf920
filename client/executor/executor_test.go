//go:build !windows

package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/flashcore/flashcore/flash/internal/testlog"
)

func TestExecutor_LaunchWait(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	e := New(testlog.HCLogger(t))
	ps, err := e.Launch(&Command{
		Path:    "/bin/echo",
		Args:    []string{"hello"},
		Cwd:     tmp,
		LogFile: filepath.Join(tmp, "out.log"),
		PIDFile: filepath.Join(tmp, "out.pid"),
	})
	must.NoError(t, err)
	must.Positive(t, ps.Pid)

	raw, err := os.ReadFile(filepath.Join(tmp, "out.pid"))
	must.NoError(t, err)
	must.StrContains(t, string(raw), "")

	final, err := e.Wait()
	must.NoError(t, err)
	must.Eq(t, 0, final.ExitCode)

	out, err := os.ReadFile(filepath.Join(tmp, "out.log"))
	must.NoError(t, err)
	must.StrContains(t, string(out), "hello")
}

func TestExecutor_LaunchInvalid(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	e := New(testlog.HCLogger(t))
	_, err := e.Launch(&Command{
		Path:    "/bin/does-not-exist-anywhere",
		Cwd:     tmp,
		LogFile: filepath.Join(tmp, "out.log"),
		PIDFile: filepath.Join(tmp, "out.pid"),
	})
	must.Error(t, err)
}

func TestExecutor_ShutdownGrace(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	e := New(testlog.HCLogger(t))
	_, err := e.Launch(&Command{
		Path:    "/bin/sleep",
		Args:    []string{"5"},
		Cwd:     tmp,
		LogFile: filepath.Join(tmp, "out.log"),
		PIDFile: filepath.Join(tmp, "out.pid"),
	})
	must.NoError(t, err)

	running, err := e.Running()
	must.NoError(t, err)
	must.True(t, running)

	must.NoError(t, e.Shutdown("SIGTERM", 2*time.Second))
}

func TestReadPIDFile_RoundTrip(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "x.pid")
	must.NoError(t, os.WriteFile(path, []byte("4242"), 0o644))

	pid, err := ReadPIDFile(path)
	must.NoError(t, err)
	must.Eq(t, 4242, pid)
}
