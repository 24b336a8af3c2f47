package scan

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrivesync/core/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFilterEngine_RejectsIllegalCharacters(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	result := fe.ShouldSync(`a:b.txt`, false, 10)
	assert.False(t, result.Included)
}

func TestFilterEngine_RejectsReservedName(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	result := fe.ShouldSync(`CON.txt`, false, 10)
	assert.False(t, result.Included)
}

func TestFilterEngine_SkipsPartialAndTmp(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	assert.False(t, fe.ShouldSync("a.txt.partial", false, 1).Included)
	assert.False(t, fe.ShouldSync("a.txt.tmp", false, 1).Included)
	assert.False(t, fe.ShouldSync("~lockfile", false, 1).Included)
}

func TestFilterEngine_SkipDotfiles(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{SkipDotfiles: true}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	assert.False(t, fe.ShouldSync(".bashrc", false, 1).Included)
	assert.True(t, fe.ShouldSync("bashrc", false, 1).Included)
}

func TestFilterEngine_MaxFileSize(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{MaxFileSize: "10MiB"}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	assert.True(t, fe.ShouldSync("small.bin", false, 5*1024*1024).Included)
	assert.False(t, fe.ShouldSync("big.bin", false, 20*1024*1024).Included)
}

func TestFilterEngine_SkipFilesPattern(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{SkipFiles: []string{"*.log"}}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	assert.False(t, fe.ShouldSync("debug.log", false, 1).Included)
	assert.True(t, fe.ShouldSync("debug.txt", false, 1).Included)
}

func TestFilterEngine_IgnoreMarkerFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", ".syncignore"), []byte("secret.txt\n"), 0o644))

	fe, err := NewFilterEngine(config.FilterConfig{IgnoreMarker: ".syncignore"}, root, discardLogger())
	require.NoError(t, err)

	assert.False(t, fe.ShouldSync("docs/secret.txt", false, 1).Included)
	assert.True(t, fe.ShouldSync("docs/public.txt", false, 1).Included)
}

func TestFilterEngine_PathTooLong(t *testing.T) {
	fe, err := NewFilterEngine(config.FilterConfig{}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	longPath := ""
	for len(longPath) <= maxPathLength {
		longPath += "a"
	}

	assert.False(t, fe.ShouldSync(longPath, false, 1).Included)
}

func TestParseSizeFilter(t *testing.T) {
	n, err := parseSizeFilter("10MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), n)

	n, err = parseSizeFilter("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
