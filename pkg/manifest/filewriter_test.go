package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileWriterAppendAndTell(t *testing.T) {
	root := t.TempDir()
	w := NewFileWriter(root, "sub", "list.yaml")

	pos, err := w.Tell()
	require.NoError(t, err)
	require.Equal(t, int64(0), pos)

	require.NoError(t, w.WriteRecord("SOURCE-END"))
	require.NoError(t, w.WriteRecord([]any{1, 2.5, "x"}))

	pos, err = w.Tell()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(root, "sub", "list.yaml"))
	require.NoError(t, err)
	require.Equal(t, "- SOURCE-END\n- [1,2.5,\"x\"]\n", string(data))
	require.Equal(t, int64(len(data)), pos)

	// appending continues after reopen
	w2 := NewFileWriter(root, "sub", "list.yaml")
	pos2, err := w2.Tell()
	require.NoError(t, err)
	require.Equal(t, pos, pos2)
	require.NoError(t, w2.Close())
}

func TestFileWriterSplitsFilename(t *testing.T) {
	w := NewFileWriter(t.TempDir(), "", "chunks/2023-01-01/000000.yaml")
	require.Equal(t, "chunks/2023-01-01", w.Dirname())
	require.Equal(t, "000000.yaml", w.Filename())
	require.Equal(t, "chunks/2023-01-01/000000.yaml", w.Path())
}

func TestFileWriterSetPathClosesOnChange(t *testing.T) {
	root := t.TempDir()
	w := NewFileWriter(root, "", "")
	w.SetPath("a/one.yaml")
	require.NoError(t, w.WriteRecord("x"))
	require.True(t, w.IsOpen())

	w.SetPath("b/two.yaml")
	require.False(t, w.IsOpen())
	require.NoError(t, w.WriteRecord("y"))
	require.NoError(t, w.Close())

	for _, p := range []string{"a/one.yaml", "b/two.yaml"} {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
		require.NoError(t, err, p)
	}
}
