package fetch

import (
	"fmt"
	"regexp"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

// versionRegex matches LLVM release versions with an optional release
// candidate suffix (15.0.0, 16.0.0rc2).
var versionRegex = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:rc(\d+))?$`)

// Version is a validated LLVM release version.
type Version struct {
	Raw              string
	Major            string
	Minor            string
	Patch            string
	ReleaseCandidate string // empty for final releases
}

// ParseVersion validates a version string before any retrieval is attempted.
func ParseVersion(s string) (Version, error) {
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return Version{}, errors.NewInvalidVersionError(s)
	}

	return Version{
		Raw:              s,
		Major:            m[1],
		Minor:            m[2],
		Patch:            m[3],
		ReleaseCandidate: m[4],
	}, nil
}

// IsPrerelease reports whether the version is a release candidate.
func (v Version) IsPrerelease() bool {
	return v.ReleaseCandidate != ""
}

// Tag returns the upstream source tag for this version
// (llvmorg-15.0.0, llvmorg-16.0.0-rc2).
func (v Version) Tag() string {
	if v.IsPrerelease() {
		return fmt.Sprintf("llvmorg-%s.%s.%s-rc%s", v.Major, v.Minor, v.Patch, v.ReleaseCandidate)
	}
	return fmt.Sprintf("llvmorg-%s", v.Raw)
}

// String returns the raw version string.
func (v Version) String() string {
	return v.Raw
}
