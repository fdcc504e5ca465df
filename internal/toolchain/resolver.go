package toolchain

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/exec"
)

// Override customizes the resolved toolchain for one architecture.
type Override struct {
	CC      string `yaml:"cc,omitempty"`
	CXX     string `yaml:"cxx,omitempty"`
	Sysroot string `yaml:"sysroot,omitempty"`
}

// Overrides maps architecture identifiers to their overrides, typically
// loaded from a toolchains.yaml file.
type Overrides map[string]Override

// LoadOverrides reads a YAML overrides file. A missing file is not an error;
// it yields empty overrides.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return nil, fmt.Errorf("failed to read toolchain overrides: %w", err)
	}

	var overrides Overrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse toolchain overrides %s: %w", path, err)
	}
	return overrides, nil
}

// Resolver resolves cross-compiler and sysroot paths for target
// architectures. Probing is limited to PATH lookups and stat calls.
type Resolver struct {
	Overrides Overrides

	// SysrootRoot is the directory holding per-triple sysroots
	// (defaults to /usr, the Debian multiarch convention).
	SysrootRoot string

	// LookPath resolves a binary on PATH; replaceable in tests.
	LookPath func(string) (string, error)

	// Stat probes a path; replaceable in tests.
	Stat func(string) (os.FileInfo, error)
}

// NewResolver creates a resolver with host defaults.
func NewResolver(overrides Overrides) *Resolver {
	return &Resolver{
		Overrides:   overrides,
		SysrootRoot: "/usr",
		LookPath:    exec.LookPath,
		Stat:        os.Stat,
	}
}

// Resolve produces the toolchain spec for arch, failing with
// ToolchainNotFound when the cross compiler or sysroot is absent.
func (r *Resolver) Resolve(arch Architecture) (*Spec, error) {
	tgt, ok := targets[arch]
	if !ok {
		return nil, errors.NewUnsupportedArchitectureError(string(arch), SupportedNames())
	}

	override := r.Overrides[string(arch)]

	ccName := tgt.CC
	if override.CC != "" {
		ccName = override.CC
	}
	cxxName := tgt.CXX
	if override.CXX != "" {
		cxxName = override.CXX
	}

	ccPath, err := r.LookPath(ccName)
	if err != nil {
		return nil, errors.NewToolchainNotFoundError(string(arch), ccName)
	}
	cxxPath, err := r.LookPath(cxxName)
	if err != nil {
		return nil, errors.NewToolchainNotFoundError(string(arch), cxxName)
	}

	sysroot := override.Sysroot
	if sysroot == "" {
		sysroot = filepath.Join(r.SysrootRoot, tgt.Triple)
	}
	if info, err := r.Stat(sysroot); err != nil || !info.IsDir() {
		return nil, errors.NewToolchainNotFoundError(string(arch), fmt.Sprintf("sysroot %s", sysroot))
	}

	return &Spec{
		Architecture: arch,
		Triple:       tgt.Triple,
		CCPath:       ccPath,
		CXXPath:      cxxPath,
		SysrootPath:  sysroot,
		LLVMTargets:  tgt.LLVMTargets,
	}, nil
}
