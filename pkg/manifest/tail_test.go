package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTailLinesSmallFile(t *testing.T) {
	path := writeFile(t, "one\ntwo\nthree\n")
	lines, err := TailLines(path, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "two"}, lines)

	lines, err = TailLines(path, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "two", "one"}, lines)
}

func TestTailLinesNoTrailingNewline(t *testing.T) {
	path := writeFile(t, "one\ntwo\nthree")
	lines, err := TailLines(path, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "two"}, lines)
}

func TestTailLinesCrossesBlocks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&b, "line number %06d\n", i)
	}
	path := writeFile(t, b.String())
	lines, err := TailLines(path, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"line number 004999", "line number 004998", "line number 004997"}, lines)
}

func TestTailLinesMissingAndEmpty(t *testing.T) {
	lines, err := TailLines(filepath.Join(t.TempDir(), "no-such-file"), 5)
	require.NoError(t, err)
	require.Empty(t, lines)

	path := writeFile(t, "")
	lines, err = TailLines(path, 5)
	require.NoError(t, err)
	require.Empty(t, lines)
}
