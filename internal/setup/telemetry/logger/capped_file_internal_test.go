package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCappedFileKeepsWritingAfterFailedCompaction(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.log")

	file, err := OpenCappedFile(path, 2)
	require.NoError(t, err)

	file.rename = func(string, string) error { return errors.New("rename refused") }

	_, err = file.Write([]byte("a\nb\nc\nd\n"))
	require.Error(t, err)

	file.rename = os.Rename

	// The next write lands in the file and the retried compaction succeeds
	_, err = file.Write([]byte("e\n"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, strings.Split(strings.TrimSpace(string(content)), "\n"))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "temp-log-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
