package tsdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnordmetric/gotsdb/internal/testutil"
)

// TestSeek covers SeekTo across pages after a reopen: a target between two
// records, targets equal to a record's timestamp (including the last one),
// and one past the series' last record.
func TestSeek(t *testing.T) {
	path := testutil.TempDBPath(t)
	db, err := CreateDatabase(path, WithoutLock())
	require.NoError(t, err)

	require.NoError(t, db.CreateSeries(1, TypeUint64, nil))
	const n = 50000
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, db.InsertUInt64(1, 2*i, i))
	}
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	db2, err := OpenDatabase(path, WithoutLock())
	require.NoError(t, err)
	defer db2.Close()

	cur, err := db2.GetCursor(1, TypeUint64)
	require.NoError(t, err)

	require.True(t, cur.Valid())
	require.Equal(t, uint64(2), cur.Timestamp())
	require.Equal(t, uint64(1), cur.UInt64Value())

	require.True(t, cur.Next())
	require.Equal(t, uint64(4), cur.Timestamp())
	require.Equal(t, uint64(2), cur.UInt64Value())

	require.True(t, cur.SeekTo(1337))
	require.Equal(t, uint64(1338), cur.Timestamp())
	require.Equal(t, uint64(669), cur.UInt64Value())

	require.True(t, cur.SeekTo(90000))
	require.Equal(t, uint64(90000), cur.Timestamp())
	require.Equal(t, uint64(45000), cur.UInt64Value())

	require.True(t, cur.SeekTo(100000))
	require.Equal(t, uint64(100000), cur.Timestamp())
	require.Equal(t, uint64(50000), cur.UInt64Value())

	require.False(t, cur.SeekTo(100001))
	require.False(t, cur.Valid())
}

func TestCursorEmptySeries(t *testing.T) {
	path := testutil.TempDBPath(t)
	db, err := CreateDatabase(path, WithoutLock())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.CreateSeries(1, TypeUint64, nil))
	require.NoError(t, db.Commit())

	cur, err := db.GetCursor(1, TypeUint64)
	require.NoError(t, err)
	require.False(t, cur.Valid())
	require.False(t, cur.SeekTo(0))
}
