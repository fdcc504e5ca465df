package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

func TestParseVersionRelease(t *testing.T) {
	v, err := ParseVersion("15.0.0")
	require.NoError(t, err)

	assert.Equal(t, "15", v.Major)
	assert.False(t, v.IsPrerelease())
	assert.Equal(t, "llvmorg-15.0.0", v.Tag())
}

func TestParseVersionReleaseCandidate(t *testing.T) {
	v, err := ParseVersion("16.0.0rc2")
	require.NoError(t, err)

	assert.True(t, v.IsPrerelease())
	assert.Equal(t, "2", v.ReleaseCandidate)
	assert.Equal(t, "llvmorg-16.0.0-rc2", v.Tag())
}

func TestParseVersionInvalid(t *testing.T) {
	for _, bad := range []string{"", "15", "15.0", "v15.0.0", "15.0.0-rc1", "15.0.0rc", "latest", "15.0.0; rm -rf"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseVersion(bad)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidVersion))
		})
	}
}
