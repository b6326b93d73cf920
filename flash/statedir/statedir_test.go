package statedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/flashcore/flashcore/flash/internal/testlog"
)

func TestDir_BuildDestroy(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "target-state")

	d := New(testlog.HCLogger(t), path)
	must.NoError(t, d.Build())

	info, err := os.Stat(path)
	must.NoError(t, err)
	must.True(t, info.IsDir())

	must.NoError(t, d.Destroy())
	_, err = os.Stat(path)
	must.True(t, os.IsNotExist(err))
}

func TestDir_FileNaming(t *testing.T) {
	t.Parallel()

	d := New(testlog.HCLogger(t), "/var/lib/flashd/targets/qemu-01")

	must.Eq(t, "/var/lib/flashd/targets/qemu-01/flash-kernel-bios.pid", d.PIDFile("kernel-bios"))
	must.Eq(t, "/var/lib/flashd/targets/qemu-01/flash-dfu0.log", d.LogFile("dfu0"))
	must.Eq(t, "/var/lib/flashd/targets/qemu-01/images.flash.decompress.abc123.lock", d.DecompressLockFile("abc123"))
}
