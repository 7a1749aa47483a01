package tsdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T, pageSize int) *pageStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.bin")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	require.NoError(t, file.Truncate(int64(pageSize)))
	store, err := openPageStore(file, path, pageSize)
	require.NoError(t, err)
	return store
}

func TestPageStoreAllocateGrows(t *testing.T) {
	store := openTempStore(t, 512)

	id1, err := store.allocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(1), id1)

	id2, err := store.allocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(2), id2)

	info, err := store.file.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(3*512), info.Size())
}

func TestPageStoreFreeListReused(t *testing.T) {
	store := openTempStore(t, 512)
	id, err := store.allocatePage()
	require.NoError(t, err)

	store.freeList = append(store.freeList, id)
	reused, err := store.allocatePage()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestPageStoreWriteReadRoundTrip(t *testing.T) {
	store := openTempStore(t, 512)
	id, err := store.allocatePage()
	require.NoError(t, err)

	buf := store.newPageBuf()
	copy(buf, []byte("hello page"))
	require.NoError(t, store.writePage(id, buf))
	require.NoError(t, store.fsync())

	out := store.newPageBuf()
	require.NoError(t, store.readPage(id, out))
	require.Equal(t, buf, out)
}

func TestPageStoreReadWrongSizeBuffer(t *testing.T) {
	store := openTempStore(t, 512)
	var short [10]byte
	require.Error(t, store.readPage(0, short[:]))
	require.Error(t, store.writePage(0, short[:]))
}
