package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive>",
	Short: "Verify a packaged bundle against its manifest",
	Long: `Check a clang+llvm bundle offline: the archive checksum against the
manifest, every member file's checksum, and optionally a detached SSH
signature.`,
	Example: `  llvmpack verify dist/clang+llvm-15.0.0-aarch64-linux-gnu.tar.gz
  llvmpack verify bundle.tar.gz --manifest bundle.manifest.yaml --key ~/.ssh/release.pub`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var (
	verifyManifest string
	verifyKey      string
)

func init() {
	verifyCmd.Flags().StringVar(&verifyManifest, "manifest", "", "manifest path (default: derived from the archive name)")
	verifyCmd.Flags().StringVar(&verifyKey, "key", "", "authorized_keys-format public key to verify the .sig sidecar")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	newLogger()
	archivePath := args[0]

	manifestPath := verifyManifest
	if manifestPath == "" {
		manifestPath = strings.TrimSuffix(archivePath, ".tar.gz") + ".manifest.yaml"
	}

	manifest, err := artifact.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	if err := artifact.Verify(archivePath, manifest); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok\t%s\t%d files\t%s\n",
		manifest.Bundle, len(manifest.Files), manifest.Archive)

	if verifyKey != "" {
		if err := artifact.VerifySignature(archivePath+".sig", verifyKey, manifest.ArchiveDigest()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signature\tvalid")
	}

	return nil
}
