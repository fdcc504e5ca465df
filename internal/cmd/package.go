package cmd

import (
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
	"github.com/felixgeelhaar/llvmpack/internal/build"
	"github.com/felixgeelhaar/llvmpack/internal/exec"
	"github.com/felixgeelhaar/llvmpack/internal/fetch"
	"github.com/felixgeelhaar/llvmpack/internal/log"
	"github.com/felixgeelhaar/llvmpack/internal/orchestrator"
	"github.com/felixgeelhaar/llvmpack/internal/progress"
	"github.com/felixgeelhaar/llvmpack/internal/publish"
	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Build, package and publish clang+llvm bundles",
	Long: `Build LLVM and Clang for one or more target architectures, package each
install tree into a deterministic clang+llvm tar.gz bundle, and publish the
bundles to the destination. Architectures build concurrently and
independently; an identical already-published bundle is an idempotent no-op.

The publish token is read from LLVMPACK_TOKEN (or GITHUB_TOKEN).`,
	Example: `  llvmpack package --version 15.0.0 --arch aarch64 --dest github://ycm-core
  llvmpack package --version 16.0.0rc2 --arch arm --arch x86_64 --dest ghcr.io/ycm-core/llvm`,
	RunE: runPackage,
}

var (
	packageVersion    string
	packageArchs      []string
	packageDest       string
	packageWorkDir    string
	packageCacheDir   string
	packageOutputDir  string
	packageToolchains string
	packageSourceSHA  string
	packageSignKey    string
)

func init() {
	packageCmd.Flags().StringVar(&packageVersion, "version", "", "LLVM release version, e.g. 15.0.0 or 16.0.0rc2 (required)")
	packageCmd.Flags().StringArrayVar(&packageArchs, "arch", nil, "target architecture, repeatable (default: all supported)")
	packageCmd.Flags().StringVar(&packageDest, "dest", "", "publish destination, github://org[/repo] or an OCI ref (required)")
	packageCmd.Flags().StringVar(&packageWorkDir, "work-dir", "", "build working directory (default: user cache dir)")
	packageCmd.Flags().StringVar(&packageCacheDir, "cache-dir", "", "source download cache (default: user cache dir)")
	packageCmd.Flags().StringVar(&packageOutputDir, "output-dir", "dist", "directory receiving bundles and manifests")
	packageCmd.Flags().StringVar(&packageToolchains, "toolchains", "", "YAML file with per-architecture toolchain overrides")
	packageCmd.Flags().StringVar(&packageSourceSHA, "source-sha256", "", "pin the source archive checksum instead of the published sidecar")
	packageCmd.Flags().StringVar(&packageSignKey, "sign-key", "", "SSH private key used to sign each bundle")

	_ = packageCmd.MarkFlagRequired("version")
	_ = packageCmd.MarkFlagRequired("dest")

	rootCmd.AddCommand(packageCmd)
}

func runPackage(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	archs := packageArchs
	if len(archs) == 0 {
		archs = toolchain.SupportedNames()
	}

	workDir, cacheDir, err := resolveDirs()
	if err != nil {
		return err
	}

	overrides, err := toolchain.LoadOverrides(packageToolchains)
	if err != nil {
		return err
	}

	fetcher := fetch.NewFetcher(cacheDir, logger)
	fetcher.ExpectedDigest = packageSourceSHA

	builder := build.NewExecutor(workDir, logger)
	if verbose {
		builder.Invoker = &exec.Local{
			Stream: progress.NewStreamWriter(cmd.ErrOrStderr(), "[build]"),
		}
	}

	publisher, err := publish.New(packageDest, publish.Credentials{Token: tokenFromEnv()}, logger)
	if err != nil {
		return err
	}

	indicator := progress.NewIndicator(progress.Config{
		Writer:      cmd.ErrOrStderr(),
		ShowSpinner: !verbose,
	})
	indicator.Start()
	defer indicator.Stop()

	orch := &orchestrator.Orchestrator{
		Resolver:  toolchain.NewResolver(overrides),
		Fetcher:   fetcher,
		Builder:   builder,
		Packager:  artifact.NewPackager(packageOutputDir, logger),
		Publisher: publisher,
		Logger:    logger,
		Observer: func(arch string, stage orchestrator.Stage) {
			if stage != orchestrator.StageFailed {
				indicator.Update(arch, string(stage))
			}
		},
	}

	results := orch.RunAll(cmd.Context(), packageVersion, archs)

	var errs []error
	for _, result := range results {
		if result.Err != nil {
			indicator.UpdateWithError(result.Architecture, string(orchestrator.StageFailed), result.Err)
			errs = append(errs, result.Err)
			continue
		}
		if packageSignKey != "" {
			if _, err := artifact.SignArchive(result.Artifact, packageSignKey); err != nil {
				indicator.UpdateWithError(result.Architecture, string(orchestrator.StageFailed), err)
				errs = append(errs, err)
			}
		}
	}

	indicator.Stop()
	indicator.PrintSummary()
	printResults(cmd, logger, results)

	return goerrors.Join(errs...)
}

// printResults writes the machine-readable outcome lines to stdout.
func printResults(cmd *cobra.Command, logger *log.Logger, results []*orchestrator.Result) {
	for _, result := range results {
		if result.Err != nil {
			continue
		}
		state := "published"
		if result.Publish.Skipped {
			state = "already-published"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", result.Architecture, state, result.Publish.ArtifactRef)
		logger.Info("architecture finished",
			"arch", result.Architecture,
			"state", state,
			"ref", result.Publish.ArtifactRef,
		)
	}
}

// resolveDirs fills in default work and cache directories under the user
// cache dir.
func resolveDirs() (workDir, cacheDir string, err error) {
	workDir = packageWorkDir
	cacheDir = packageCacheDir
	if workDir != "" && cacheDir != "" {
		return workDir, cacheDir, nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to determine cache directory: %w", err)
	}
	if workDir == "" {
		workDir = filepath.Join(base, "llvmpack", "build")
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(base, "llvmpack", "sources")
	}
	return workDir, cacheDir, nil
}

// tokenFromEnv reads the publish token. Credentials are environment-only so
// they never show up in process listings or shell history.
func tokenFromEnv() string {
	if token := strings.TrimSpace(os.Getenv("LLVMPACK_TOKEN")); token != "" {
		return token
	}
	return strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
}
