package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

var toolchainsCmd = &cobra.Command{
	Use:   "toolchains",
	Short: "List supported architectures and probe their cross toolchains",
	Long: `List every supported target architecture with its target triple and report
whether the cross toolchain resolves on this host. Resolution uses the same
rules as the package command, including --toolchains overrides.`,
	RunE: runToolchains,
}

var (
	toolchainsOverrides string
	toolchainsArch      string
)

func init() {
	toolchainsCmd.Flags().StringVar(&toolchainsOverrides, "toolchains", "", "YAML file with per-architecture toolchain overrides")
	toolchainsCmd.Flags().StringVar(&toolchainsArch, "arch", "", "probe a single architecture")

	rootCmd.AddCommand(toolchainsCmd)
}

func runToolchains(cmd *cobra.Command, args []string) error {
	newLogger()

	overrides, err := toolchain.LoadOverrides(toolchainsOverrides)
	if err != nil {
		return err
	}
	resolver := toolchain.NewResolver(overrides)

	archs := toolchain.Supported()
	if toolchainsArch != "" {
		arch, err := toolchain.Parse(toolchainsArch)
		if err != nil {
			return err
		}
		archs = []toolchain.Architecture{arch}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARCH\tTRIPLE\tSTATUS\tCOMPILER")

	var unresolved int
	for _, arch := range archs {
		spec, err := resolver.Resolve(arch)
		if err != nil {
			unresolved++
			fmt.Fprintf(w, "%s\t%s\tmissing\t-\n", arch, toolchain.TripleFor(arch))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\tok\t%s\n", arch, spec.Triple, spec.CCPath)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if unresolved > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d toolchains did not resolve; install the cross compilers or pass --toolchains\n",
			unresolved, len(archs))
	}
	return nil
}
