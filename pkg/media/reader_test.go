package media

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemReaderReadAtBounds(t *testing.T) {
	r := NewMemReader([]byte("hello world"))
	defer r.Close()

	view, err := r.ReadAt(6, 5)
	require.NoError(t, err)
	defer view.Close()
	require.Equal(t, []byte("world"), view.Bytes())

	_, err = r.ReadAt(6, 100)
	require.Error(t, err)
}

func TestFileReaderMapsAndServesViews(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	r, err := NewFileReader(path)
	require.NoError(t, err)

	view, err := r.ReadAt(2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("2345"), view.Bytes())

	// The reader can be closed while a view clone from it is still alive;
	// the mapping is released only once every view has been closed too.
	clone := view.Clone()
	require.NoError(t, r.Close())
	require.Equal(t, []byte("2345"), clone.Bytes())

	view.Close()
	clone.Close()
}

func TestFileReaderFdDuplicatesDescriptor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fd-based construction requires the unix mmap backend")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte("abcdef"), 0o600))

	f, err := os.Open(path)
	require.NoError(t, err)

	r, err := NewFileReaderFd(int(f.Fd()))
	require.NoError(t, err)
	defer r.Close()

	// The reader duplicated the descriptor, so the caller's file can be
	// closed without affecting it.
	require.NoError(t, f.Close())

	view, err := r.ReadAt(1, 4)
	require.NoError(t, err)
	defer view.Close()
	require.Equal(t, []byte("bcde"), view.Bytes())
}
