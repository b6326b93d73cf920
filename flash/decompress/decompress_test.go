package decompress

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/flashcore/flashcore/flash/flasherr"
	"github.com/flashcore/flashcore/flash/internal/testlog"
	"github.com/flashcore/flashcore/flash/statedir"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	tmp := t.TempDir()
	sd := statedir.New(testlog.HCLogger(t), filepath.Join(tmp, "state"))
	must.NoError(t, sd.Build())
	return New(testlog.HCLogger(t), sd)
}

func writeGzip(t *testing.T, dir, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	must.NoError(t, err)
	defer f.Close()
	gw := gzip.NewWriter(f)
	_, err = gw.Write(contents)
	must.NoError(t, err)
	must.NoError(t, gw.Close())
	return path
}

func TestManager_Resolve_PlainFilePassesThrough(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	tmp := t.TempDir()
	path := filepath.Join(tmp, "plain.bin")
	must.NoError(t, os.WriteFile(path, []byte("firmware bytes"), 0o644))

	resolved, err := m.Resolve(path)
	must.NoError(t, err)
	must.Eq(t, path, resolved)
}

func TestManager_Resolve_DecompressesGzip(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	tmp := t.TempDir()
	contents := []byte("firmware bytes, uncompressed")
	path := writeGzip(t, tmp, "image.bin.gz", contents)

	resolved, err := m.Resolve(path)
	must.NoError(t, err)
	must.NotEq(t, path, resolved)

	got, err := os.ReadFile(resolved)
	must.NoError(t, err)
	must.Eq(t, contents, got)
}

func TestManager_Resolve_ConcurrentRequestsDecompressOnce(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	tmp := t.TempDir()
	contents := bytes.Repeat([]byte("x"), 4096)
	path := writeGzip(t, tmp, "image.bin.gz", contents)

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Resolve(path)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		must.NoError(t, errs[i])
		must.Eq(t, results[0], results[i])
	}
	got, err := os.ReadFile(results[0])
	must.NoError(t, err)
	must.Eq(t, contents, got)
}

func TestManager_Resolve_StalePartialIsCorrupted(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	tmp := t.TempDir()
	path := writeGzip(t, tmp, "image.bin.gz", []byte("contents"))

	must.NoError(t, os.WriteFile(path+".decompressed.tmp", []byte("partial"), 0o644))

	_, err := m.Resolve(path)
	must.Error(t, err)
	var ferr *flasherr.Error
	must.True(t, asFlasherr(err, &ferr))
	must.Eq(t, flasherr.DecompressionCorrupted, ferr.Kind)
}

func asFlasherr(err error, target **flasherr.Error) bool {
	fe, ok := err.(*flasherr.Error)
	if !ok {
		return false
	}
	*target = fe
	return true
}
