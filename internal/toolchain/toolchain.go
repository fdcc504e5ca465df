package toolchain

import (
	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

// Architecture is a supported target CPU architecture
type Architecture string

const (
	ArchARM     Architecture = "arm"
	ArchAArch64 Architecture = "aarch64"
	ArchX8664   Architecture = "x86_64"
	ArchI686    Architecture = "i686"
)

// target holds the cross-compilation defaults for one architecture.
type target struct {
	Triple string
	CC     string
	CXX    string
	// LLVMTargets is the value for -DLLVM_TARGETS_TO_BUILD.
	LLVMTargets string
}

// targets maps each supported architecture to its GNU triple and the
// conventional cross-compiler binary names.
var targets = map[Architecture]target{
	ArchARM: {
		Triple:      "arm-linux-gnueabihf",
		CC:          "arm-linux-gnueabihf-gcc",
		CXX:         "arm-linux-gnueabihf-g++",
		LLVMTargets: "ARM",
	},
	ArchAArch64: {
		Triple:      "aarch64-linux-gnu",
		CC:          "aarch64-linux-gnu-gcc",
		CXX:         "aarch64-linux-gnu-g++",
		LLVMTargets: "AArch64",
	},
	ArchX8664: {
		Triple:      "x86_64-linux-gnu",
		CC:          "x86_64-linux-gnu-gcc",
		CXX:         "x86_64-linux-gnu-g++",
		LLVMTargets: "X86",
	},
	ArchI686: {
		Triple:      "i686-linux-gnu",
		CC:          "i686-linux-gnu-gcc",
		CXX:         "i686-linux-gnu-g++",
		LLVMTargets: "X86",
	},
}

// Supported returns the supported architecture identifiers in stable order.
func Supported() []Architecture {
	return []Architecture{ArchARM, ArchAArch64, ArchX8664, ArchI686}
}

// SupportedNames returns the supported architecture identifiers as strings.
func SupportedNames() []string {
	archs := Supported()
	names := make([]string, len(archs))
	for i, a := range archs {
		names[i] = string(a)
	}
	return names
}

// TripleFor returns the GNU target triple for a supported architecture.
func TripleFor(arch Architecture) string {
	return targets[arch].Triple
}

// Parse validates an architecture identifier against the supported set.
// It performs no filesystem or network activity.
func Parse(s string) (Architecture, error) {
	arch := Architecture(s)
	if _, ok := targets[arch]; !ok {
		return "", errors.NewUnsupportedArchitectureError(s, SupportedNames())
	}
	return arch, nil
}

// Spec describes the resolved cross toolchain for one target architecture.
// It is resolved once per run and not mutated afterwards.
type Spec struct {
	Architecture Architecture
	Triple       string
	CCPath       string
	CXXPath      string
	SysrootPath  string
	LLVMTargets  string
}
