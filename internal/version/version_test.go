package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfoDefaults(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, "dev", info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.2.3",
		Commit:    "0123456789abcdef",
		Date:      "2026-08-25",
		GoVersion: "go1.24",
		Platform:  "linux/amd64",
	}

	s := info.String()
	assert.True(t, strings.HasPrefix(s, "llvmpack 1.2.3"))
	assert.Contains(t, s, "01234567", "commit is shortened to 8 characters")
	assert.NotContains(t, s, "0123456789abcdef")
}

func TestInfoShort(t *testing.T) {
	assert.Equal(t, "1.2.3", Info{Version: "1.2.3"}.Short())
}
