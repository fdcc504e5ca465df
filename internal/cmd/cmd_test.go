package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
)

// execute runs the root command with args and captures stdout. Flag values
// are restored to their defaults afterwards so invocations stay independent.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "llvmpack dev")
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Version": "dev"`)
}

func TestPackageRequiresVersionAndDest(t *testing.T) {
	_, err := execute(t, "package")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestToolchainsRejectsUnknownArch(t *testing.T) {
	_, err := execute(t, "toolchains", "--arch", "mips64")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mips64")
}

func TestToolchainsArchFlagDoesNotLeakBetweenInvocations(t *testing.T) {
	_, err := execute(t, "toolchains", "--arch", "mips64")
	require.Error(t, err)

	out, err := execute(t, "toolchains")
	require.NoError(t, err)
	assert.Contains(t, out, "arm")
	assert.Contains(t, out, "i686")
}

func TestToolchainsListsSupported(t *testing.T) {
	out, err := execute(t, "toolchains")
	require.NoError(t, err)
	assert.Contains(t, out, "aarch64")
	assert.Contains(t, out, "aarch64-linux-gnu")
	assert.Contains(t, out, "x86_64")
}

func TestVerifyCommandRoundTrip(t *testing.T) {
	installDir := t.TempDir()
	binDir := filepath.Join(installDir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "clang"), []byte("#!clang\n"), 0o755))

	a, err := artifact.NewPackager(t.TempDir(), nil).Package(installDir, "15.0.0", "aarch64", "aarch64-linux-gnu")
	require.NoError(t, err)

	out, err := execute(t, "verify", a.ArchivePath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, a.BundleName)
}

func TestVerifyCommandMissingManifest(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "clang+llvm-15.0.0-aarch64-linux-gnu.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("not really an archive"), 0o644))

	_, err := execute(t, "verify", archive)
	require.Error(t, err)
}
