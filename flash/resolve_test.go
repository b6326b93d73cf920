package flash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/flashcore/flashcore/drivers/mock"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	must.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestResolve_SingleDriverMultipleImages(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	storage := filepath.Join(tmp, "storage")
	must.NoError(t, os.MkdirAll(storage, 0o755))

	kernelPath := writeTempFile(t, storage, "kernel.bin", "kernel bytes")
	bootPath := writeTempFile(t, storage, "boot.bin", "boot bytes")

	reg := NewRegistry()
	d := &mock.Supervised{Meta: Metadata{Parallel: true}, DoneAfterChecks: 1}
	reg.Register("kernel", d)
	reg.Register("bootloader", d)

	req := FlashRequest{
		{ImageType: "kernel", Path: "kernel.bin"},
		{ImageType: "bootloader", Path: "boot.bin"},
	}
	plan, err := Resolve(reg, req, PathPolicy{StorageRoot: storage}, nil)
	must.NoError(t, err)
	must.Len(t, 0, plan.Serial)
	must.Len(t, 1, plan.Parallel)
	must.Eq(t, 2, len(plan.Parallel[0].Images))
	must.Eq(t, kernelPath, plan.Parallel[0].Images["kernel"])
	must.Eq(t, bootPath, plan.Parallel[0].Images["bootloader"])
}

func TestResolve_AliasLastEntryWins(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	storage := filepath.Join(tmp, "storage")
	must.NoError(t, os.MkdirAll(storage, 0o755))
	writeTempFile(t, storage, "a.bin", "a")
	pathB := writeTempFile(t, storage, "b.bin", "b")

	reg := NewRegistry()
	d := &mock.OneShot{Meta: Metadata{}}
	reg.Register("bootloader", d)
	reg.Alias("rom", "bootloader")

	req := FlashRequest{
		{ImageType: "rom", Path: "a.bin"},
		{ImageType: "bootloader", Path: "b.bin"},
	}
	plan, err := Resolve(reg, req, PathPolicy{StorageRoot: storage}, nil)
	must.NoError(t, err)
	must.Len(t, 1, plan.Serial)
	must.Eq(t, pathB, plan.Serial[0].Images["bootloader"])
}

func TestResolve_UnknownImageType(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	reg := NewRegistry()
	req := FlashRequest{{ImageType: "nope", Path: "x.bin"}}
	_, err := Resolve(reg, req, PathPolicy{StorageRoot: tmp}, nil)
	must.Error(t, err)
}

func TestResolve_PathEscapesStorageRoot(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	storage := filepath.Join(tmp, "storage")
	must.NoError(t, os.MkdirAll(storage, 0o755))

	reg := NewRegistry()
	reg.Register("kernel", &mock.OneShot{Meta: Metadata{}})

	req := FlashRequest{{ImageType: "kernel", Path: "../../etc/passwd"}}
	_, err := Resolve(reg, req, PathPolicy{StorageRoot: storage}, nil)
	must.Error(t, err)
}

func TestResolve_WhitelistedAbsolutePath(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	abs := writeTempFile(t, tmp, "shared.bin", "shared")

	reg := NewRegistry()
	reg.Register("kernel", &mock.OneShot{Meta: Metadata{}})

	req := FlashRequest{{ImageType: "kernel", Path: abs}}
	plan, err := Resolve(reg, req, PathPolicy{Whitelist: map[string]string{abs: "shared test fixture"}}, nil)
	must.NoError(t, err)
	must.Eq(t, abs, plan.Serial[0].Images["kernel"])
}

func TestBucket_SplitsByDriverKind(t *testing.T) {
	t.Parallel()
	oneShot := DriverImages{Driver: &mock.OneShot{Meta: Metadata{}}, Images: map[ImageType]string{"a": "x"}}
	supSerial := DriverImages{Driver: &mock.Supervised{Meta: Metadata{Parallel: false}}, Images: map[ImageType]string{"b": "y"}}
	supParallel := DriverImages{Driver: &mock.Supervised{Meta: Metadata{Parallel: true}}, Images: map[ImageType]string{"c": "z"}}

	serial, parallel := Bucket([]DriverImages{oneShot, supSerial, supParallel})
	must.Len(t, 2, serial)
	must.Len(t, 1, parallel)
}
