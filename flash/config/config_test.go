package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/require"

	"github.com/flashcore/flashcore/flash"
)

const sampleHCL = `
target "qemu-01" {
  storage_root = "/var/lib/flashd/storage/qemu-01"

  whitelist = {
    "/opt/images/golden.bin" = "golden image readback"
  }

  image "kernel" {
    driver              = "shellcmd"
    parallel            = true
    estimated_duration  = "30s"
    check_period        = "2s"
    retries             = 2
    consoles_disable    = ["serial0"]

    shellcmd {
      cmdline             = ["/usr/bin/flasher", "-i", "$image.kernel"]
      expected_exit_code  = 0
    }
  }

  alias "rom" {
    target = "kernel"
  }
}
`

func stubFactory(meta flash.Metadata, body hcl.Body) (flash.Driver, error) {
	return &stubDriver{meta: meta}, nil
}

type stubDriver struct{ meta flash.Metadata }

func (d *stubDriver) Metadata() flash.Metadata { return d.meta }

func TestLoad_TargetsImagesAliases(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "targets.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleHCL), 0o644))

	setups, err := Load(path, map[string]DriverFactory{"shellcmd": stubFactory})
	require.NoError(t, err)
	require.Contains(t, setups, "qemu-01")

	setup := setups["qemu-01"]
	require.Equal(t, "/var/lib/flashd/storage/qemu-01", setup.StorageRoot)
	require.Equal(t, "golden image readback", setup.Whitelist["/opt/images/golden.bin"])

	driver, resolved, err := setup.Registry.Resolve("kernel")
	require.NoError(t, err)
	require.Equal(t, flash.ImageType("kernel"), resolved)
	require.True(t, driver.Metadata().Parallel)
	require.Equal(t, 2, driver.Metadata().Retries)

	_, resolvedAlias, err := setup.Registry.Resolve("rom")
	require.NoError(t, err)
	require.Equal(t, flash.ImageType("kernel"), resolvedAlias)
}

func TestLoad_UnknownDriverType(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "targets.hcl")
	hclDoc := `
target "t0" {
  image "kernel" {
    driver = "nonexistent"
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(hclDoc), 0o644))

	_, err := Load(path, map[string]DriverFactory{})
	require.Error(t, err)
}
