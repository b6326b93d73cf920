package flash

import (
	"crypto/sha512"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/flashcore/flashcore/flash/flashtest"
)

func TestRecordHashes(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "kernel.bin")
	contents := []byte("firmware contents")
	must.NoError(t, os.WriteFile(path, contents, 0o644))

	sum := sha512.Sum512(contents)
	want := hex.EncodeToString(sum[:])

	store := flashtest.NewStore()
	must.NoError(t, RecordHashes(store, map[ImageType]string{"kernel": path}))

	must.Eq(t, want, store.Values["interfaces.images.kernel.last_sha512"])
	must.Eq(t, path, store.Values["interfaces.images.kernel.last_name"])
}

func TestRecordHashes_MissingFile(t *testing.T) {
	t.Parallel()
	store := flashtest.NewStore()
	err := RecordHashes(store, map[ImageType]string{"kernel": "/no/such/file"})
	must.Error(t, err)
}
