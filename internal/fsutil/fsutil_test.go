package fsutil

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", "a.txt", false},
		{"spaces", "my holiday photo.jpg", false},
		{"unicode", "résumé.pdf", false},
		{"no extension", "Makefile", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"hidden", ".rshare", true},
		{"parent prefix", "../secret", true},
		{"nested parent", "a/../../secret", true},
		{"slash", "a/b", true},
		{"absolute", "/etc/passwd", true},
		{"backslash", `..\secret`, true},
		{"nul", "a\x00b", true},
		{"too long", strings.Repeat("a", MaxNameLen+1), true},
		{"max length", strings.Repeat("a", MaxNameLen), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidName(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJoinWithinRoot(t *testing.T) {
	root := t.TempDir()

	got, err := JoinWithinRoot(root, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.txt"), got)

	for _, bad := range []string{"../x", "..", "", "sub/x", ".hidden"} {
		_, err := JoinWithinRoot(root, bad)
		assert.Error(t, err, "name %q", bad)
	}
}
