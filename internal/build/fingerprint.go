package build

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/llvmpack/internal/fetch"
	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

// Fingerprint derives a stable identifier for one build request from the
// version, source checksum, and resolved toolchain. Identical requests map
// to the same work directory; anything else gets its own.
func Fingerprint(tc *toolchain.Spec, tree *fetch.SourceTree) string {
	hasher := blake3.New()

	fields := []string{
		tree.Version.String(),
		tree.Checksum,
		string(tc.Architecture),
		tc.Triple,
		tc.CCPath,
		tc.CXXPath,
		tc.SysrootPath,
		tc.LLVMTargets,
	}
	for _, field := range fields {
		fmt.Fprintf(hasher, "%s\n", field)
	}

	sum := hasher.Sum(nil)
	return fmt.Sprintf("%s-%s-%s", tree.Version.String(), tc.Architecture, hex.EncodeToString(sum[:8]))
}
