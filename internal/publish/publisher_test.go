package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name    string
		dest    string
		want    Destination
		wantErr bool
	}{
		{
			name: "github org only",
			dest: "github://ycm-core",
			want: Destination{Kind: "github", Org: "ycm-core", Repo: "llvm"},
		},
		{
			name: "github org and repo",
			dest: "github://ycm-core/toolchain",
			want: Destination{Kind: "github", Org: "ycm-core", Repo: "toolchain"},
		},
		{
			name: "oci repository",
			dest: "ghcr.io/ycm-core/llvm",
			want: Destination{Kind: "oci", Ref: "ghcr.io/ycm-core/llvm"},
		},
		{
			name:    "github missing org",
			dest:    "github://",
			wantErr: true,
		},
		{
			name:    "unknown scheme",
			dest:    "s3://bucket/llvm",
			wantErr: true,
		},
		{
			name:    "oci without repository",
			dest:    "ghcr.io",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDestination(tt.dest)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDispatchesByKind(t *testing.T) {
	gh, err := New("github://ycm-core", Credentials{Token: "t"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &GitHubPublisher{}, gh)

	oci, err := New("localhost:5000/ycm-core/llvm", Credentials{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OCIPublisher{}, oci)

	_, err = New("ftp://nope", Credentials{}, nil)
	require.Error(t, err)
}
